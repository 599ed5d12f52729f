package telegram

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"hazardwatch/internal/pipeline"
)

// Update represents a Telegram update
type Update struct {
	UpdateID int64            `json:"update_id"`
	Message  *TelegramMessage `json:"message,omitempty"`
}

// TelegramMessage is the part of an incoming message the handler reads
type TelegramMessage struct {
	MessageID int64         `json:"message_id"`
	Chat      *TelegramChat `json:"chat,omitempty"`
	Date      int64         `json:"date"`
	Text      string        `json:"text,omitempty"`
}

// TelegramChat represents a Telegram chat
type TelegramChat struct {
	ID   int64  `json:"id"`
	Type string `json:"type"`
}

// GetUpdatesResponse represents the response from getUpdates
type GetUpdatesResponse struct {
	OK          bool     `json:"ok"`
	Result      []Update `json:"result,omitempty"`
	ErrorCode   int      `json:"error_code,omitempty"`
	Description string   `json:"description,omitempty"`
}

// CommandHandler answers operator commands sent to the bot from the
// authorized chat. It only reads pipeline state.
type CommandHandler struct {
	bot       *TelegramBot
	state     pipeline.StateReader
	logger    *zap.Logger
	interval  time.Duration
	startTime time.Time
	now       func() time.Time

	mu           sync.Mutex
	lastUpdateID int64
}

// NewCommandHandler creates a new command handler
func NewCommandHandler(bot *TelegramBot, state pipeline.StateReader, logger *zap.Logger) *CommandHandler {
	return &CommandHandler{
		bot:       bot,
		state:     state,
		logger:    logger.Named("telegram"),
		interval:  2 * time.Second,
		startTime: time.Now(),
		now:       time.Now,
	}
}

// StartPolling polls getUpdates until ctx is done
func (ch *CommandHandler) StartPolling(ctx context.Context) error {
	if _, _, err := ch.bot.credentials(); err != nil {
		return err
	}

	ch.logger.Info("Starting Telegram command polling")
	ticker := time.NewTicker(ch.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			ch.logger.Info("Telegram command polling stopped")
			return nil
		case <-ticker.C:
			if err := ch.pollUpdates(ctx); err != nil {
				ch.logger.Warn("Failed to poll Telegram updates", zap.Error(err))
			}
		}
	}
}

// pollUpdates fetches and processes one batch of updates
func (ch *CommandHandler) pollUpdates(ctx context.Context) error {
	token, authorizedChatID, err := ch.bot.credentials()
	if err != nil {
		return err
	}

	ch.mu.Lock()
	offset := ch.lastUpdateID + 1
	ch.mu.Unlock()

	url := fmt.Sprintf("%s?offset=%d&timeout=1", ch.bot.methodURL(token, "getUpdates"), offset)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := ch.bot.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to fetch updates: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	var updatesResp GetUpdatesResponse
	if err := json.Unmarshal(body, &updatesResp); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}
	if !updatesResp.OK {
		return fmt.Errorf("telegram API error %d: %s", updatesResp.ErrorCode, updatesResp.Description)
	}

	for _, update := range updatesResp.Result {
		ch.mu.Lock()
		if update.UpdateID > ch.lastUpdateID {
			ch.lastUpdateID = update.UpdateID
		}
		ch.mu.Unlock()

		if update.Message != nil {
			ch.handleMessage(ctx, update.Message, authorizedChatID)
		}
	}
	return nil
}

// handleMessage dispatches a command from the authorized chat
func (ch *CommandHandler) handleMessage(ctx context.Context, msg *TelegramMessage, authorizedChatID string) {
	if msg.Chat == nil {
		return
	}

	chatID := strconv.FormatInt(msg.Chat.ID, 10)
	if chatID != authorizedChatID {
		ch.logger.Warn("Ignoring message from unauthorized chat", zap.String("chat_id", chatID))
		return
	}
	if !strings.HasPrefix(msg.Text, "/") {
		return
	}

	command := strings.ToLower(strings.Fields(msg.Text)[0])
	// /status@mybot
	if at := strings.Index(command, "@"); at != -1 {
		command = command[:at]
	}
	ch.logger.Debug("Processing command", zap.String("command", command))

	var response string
	switch command {
	case "/start":
		response = "🤖 Hazardwatch bot\n\nI'll notify you when fire or a fall is confirmed.\n\nUse /help to see available commands."
	case "/help":
		response = "📋 Available commands\n\n" +
			"/status - Detection state\n" +
			"/snapshot - Latest annotated frame\n" +
			"/help - Show this help"
	case "/status":
		response = ch.statusText()
	case "/snapshot":
		ch.handleSnapshot(ctx)
		return
	default:
		response = fmt.Sprintf("Unknown command: %s\nUse /help to see available commands.", command)
	}

	if err := ch.bot.SendText(ctx, response); err != nil {
		ch.logger.Warn("Failed to send reply", zap.Error(err))
	}
}

func (ch *CommandHandler) statusText() string {
	snap := ch.state.Snapshot()
	now := ch.now()

	var b strings.Builder
	b.WriteString("📊 Status\n\n")
	fmt.Fprintf(&b, "⏱ Uptime: %s\n", formatDuration(now.Sub(ch.startTime)))
	if !snap.Published {
		b.WriteString("📹 No frame yet\n")
		return b.String()
	}
	fmt.Fprintf(&b, "📹 Frame: #%d\n", snap.Frame.Seq)
	fmt.Fprintf(&b, "🔥 Detector candidate: %s\n", yesNo(snap.PrimaryCandidate))
	fmt.Fprintf(&b, "🧍 Fall candidate: %s\n", yesNo(snap.HeuristicCandidate))
	fmt.Fprintf(&b, "🔎 Verifying: %s\n", yesNo(snap.VerificationInFlight))
	fmt.Fprintf(&b, "#️⃣ Episode: %d\n", snap.Episode)
	if now.Before(snap.CooldownUntil) {
		fmt.Fprintf(&b, "🔕 Alerts muted for %s\n", snap.CooldownUntil.Sub(now).Round(time.Second))
	}
	return b.String()
}

func (ch *CommandHandler) handleSnapshot(ctx context.Context) {
	snap := ch.state.Snapshot()
	data, err := pipeline.EncodeJPEG(snap.Frame, pipeline.DefaultJPEGQuality)
	if err != nil {
		if err := ch.bot.SendText(ctx, "⚠️ No frame available yet."); err != nil {
			ch.logger.Warn("Failed to send reply", zap.Error(err))
		}
		return
	}

	caption := fmt.Sprintf("📸 Snapshot #%d\n🕐 %s", snap.Frame.Seq, ch.now().Format("2006-01-02 15:04:05"))
	if err := ch.bot.SendPhoto(ctx, data, "snapshot.jpg", caption); err != nil {
		ch.logger.Warn("Failed to send snapshot", zap.Error(err))
	}
}

func yesNo(v bool) string {
	if v {
		return "yes"
	}
	return "no"
}

func formatDuration(d time.Duration) string {
	days := int(d.Hours()) / 24
	hours := int(d.Hours()) % 24
	minutes := int(d.Minutes()) % 60

	if days > 0 {
		return fmt.Sprintf("%dd %dh %dm", days, hours, minutes)
	}
	if hours > 0 {
		return fmt.Sprintf("%dh %dm", hours, minutes)
	}
	return fmt.Sprintf("%dm", minutes)
}
