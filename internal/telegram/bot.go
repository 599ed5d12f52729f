package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"hazardwatch/internal/pipeline"
)

// DefaultAPIURL is the Telegram Bot API base URL
const DefaultAPIURL = "https://api.telegram.org"

// ErrDisabled is returned by send operations while the bot is disabled
var ErrDisabled = errors.New("telegram bot is disabled")

// TelegramBot sends alert messages and photos to one chat
type TelegramBot struct {
	mu         sync.RWMutex
	botToken   string
	chatID     string
	apiURL     string
	enabled    bool
	httpClient *http.Client
}

// Config holds Telegram bot configuration
type Config struct {
	BotToken string        `yaml:"bot_token"`
	ChatID   string        `yaml:"chat_id"`
	Enabled  bool          `yaml:"enabled"`
	APIURL   string        `yaml:"api_url"`
	Timeout  time.Duration `yaml:"timeout"`
}

// TelegramResponse represents the response from Telegram API
type TelegramResponse struct {
	OK          bool            `json:"ok"`
	Result      json.RawMessage `json:"result,omitempty"`
	ErrorCode   int             `json:"error_code,omitempty"`
	Description string          `json:"description,omitempty"`
}

var _ pipeline.Notifier = (*TelegramBot)(nil)

// NewTelegramBot creates a new Telegram bot instance
func NewTelegramBot(config Config) *TelegramBot {
	if config.APIURL == "" {
		config.APIURL = DefaultAPIURL
	}
	if config.Timeout <= 0 {
		config.Timeout = 30 * time.Second
	}
	return &TelegramBot{
		botToken:   config.BotToken,
		chatID:     config.ChatID,
		apiURL:     strings.TrimRight(config.APIURL, "/"),
		enabled:    config.Enabled,
		httpClient: &http.Client{Timeout: config.Timeout},
	}
}

// IsEnabled returns whether the bot is enabled
func (tb *TelegramBot) IsEnabled() bool {
	tb.mu.RLock()
	defer tb.mu.RUnlock()
	return tb.enabled
}

// SetEnabled enables or disables the bot
func (tb *TelegramBot) SetEnabled(enabled bool) {
	tb.mu.Lock()
	defer tb.mu.Unlock()
	tb.enabled = enabled
}

func (tb *TelegramBot) credentials() (token, chatID string, err error) {
	tb.mu.RLock()
	defer tb.mu.RUnlock()

	if !tb.enabled {
		return "", "", ErrDisabled
	}
	if tb.botToken == "" || tb.chatID == "" {
		return "", "", fmt.Errorf("telegram bot token or chat ID not configured")
	}
	return tb.botToken, tb.chatID, nil
}

// SendText sends a plain text message
func (tb *TelegramBot) SendText(ctx context.Context, message string) error {
	token, chatID, err := tb.credentials()
	if err != nil {
		return err
	}

	payload := map[string]interface{}{
		"chat_id": chatID,
		"text":    message,
	}
	return tb.sendTelegramRequest(ctx, token, "sendMessage", payload)
}

// SendImage uploads the image at path with a caption
func (tb *TelegramBot) SendImage(ctx context.Context, path string, caption string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read alert image: %w", err)
	}
	return tb.SendPhoto(ctx, data, filepath.Base(path), caption)
}

// SendPhoto uploads an in-memory photo with a caption
func (tb *TelegramBot) SendPhoto(ctx context.Context, photoData []byte, filename, caption string) error {
	token, chatID, err := tb.credentials()
	if err != nil {
		return err
	}
	if len(photoData) == 0 {
		return fmt.Errorf("photo is empty")
	}
	return tb.sendPhoto(ctx, token, chatID, photoData, filename, caption)
}

// SendTestMessage sends a test message to verify the bot configuration
func (tb *TelegramBot) SendTestMessage(ctx context.Context) error {
	now := time.Now()
	zoneName, _ := now.Zone()
	timestamp := fmt.Sprintf("%s %s", now.Format("2 Jan 2006, 15:04:05"), zoneName)

	return tb.SendText(ctx, fmt.Sprintf("🤖 Hazardwatch test message\n\n✅ Alerts will be delivered to this chat.\n🕐 Sent at: %s", timestamp))
}

func (tb *TelegramBot) methodURL(token, method string) string {
	return fmt.Sprintf("%s/bot%s/%s", tb.apiURL, token, method)
}

// sendPhoto sends a photo using multipart form data
func (tb *TelegramBot) sendPhoto(ctx context.Context, token, chatID string, photoData []byte, filename, caption string) error {
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)

	if err := writer.WriteField("chat_id", chatID); err != nil {
		return fmt.Errorf("failed to write chat_id field: %w", err)
	}
	if caption != "" {
		if err := writer.WriteField("caption", caption); err != nil {
			return fmt.Errorf("failed to write caption field: %w", err)
		}
	}

	if filename == "" {
		filename = "alert.jpg"
	}
	part, err := writer.CreateFormFile("photo", filename)
	if err != nil {
		return fmt.Errorf("failed to create form file: %w", err)
	}
	if _, err := part.Write(photoData); err != nil {
		return fmt.Errorf("failed to write photo data: %w", err)
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("failed to close multipart writer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, tb.methodURL(token, "sendPhoto"), &body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := tb.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send photo: %w", err)
	}
	defer resp.Body.Close()

	_, err = handleResponse(resp)
	return err
}

// sendTelegramRequest sends a JSON request to a Telegram API method
func (tb *TelegramBot) sendTelegramRequest(ctx context.Context, token, method string, payload map[string]interface{}) error {
	jsonData, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, tb.methodURL(token, method), bytes.NewReader(jsonData))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := tb.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	_, err = handleResponse(resp)
	return err
}

// handleResponse processes the Telegram API response
func handleResponse(resp *http.Response) (*TelegramResponse, error) {
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	var telegramResp TelegramResponse
	if err := json.Unmarshal(body, &telegramResp); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response (status %d): %w", resp.StatusCode, err)
	}
	if !telegramResp.OK {
		return nil, fmt.Errorf("telegram API error %d: %s", telegramResp.ErrorCode, telegramResp.Description)
	}
	return &telegramResp, nil
}

// BotInfo is the subset of getMe the service reports
type BotInfo struct {
	ID        int64  `json:"id"`
	Username  string `json:"username"`
	FirstName string `json:"first_name"`
}

// GetBotInfo retrieves information about the bot
func (tb *TelegramBot) GetBotInfo(ctx context.Context) (*BotInfo, error) {
	tb.mu.RLock()
	token := tb.botToken
	tb.mu.RUnlock()
	if token == "" {
		return nil, fmt.Errorf("bot token not configured")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, tb.methodURL(token, "getMe"), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	resp, err := tb.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to get bot info: %w", err)
	}
	defer resp.Body.Close()

	telegramResp, err := handleResponse(resp)
	if err != nil {
		return nil, err
	}
	var info BotInfo
	if err := json.Unmarshal(telegramResp.Result, &info); err != nil {
		return nil, fmt.Errorf("unexpected response format: %w", err)
	}
	return &info, nil
}

// ValidateConfig validates the Telegram bot configuration
func ValidateConfig(config Config) error {
	if config.Enabled {
		if config.BotToken == "" {
			return fmt.Errorf("telegram bot token is required when enabled")
		}
		if config.ChatID == "" {
			return fmt.Errorf("telegram chat ID is required when enabled")
		}
	}
	return nil
}
