package telegram

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeTelegram struct {
	mu       sync.Mutex
	messages []map[string]any
	photos   []photoUpload
	fail     bool
}

type photoUpload struct {
	chatID   string
	caption  string
	filename string
	size     int
}

func (f *fakeTelegram) handler(t *testing.T) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/botTOKEN/sendMessage", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		f.mu.Lock()
		f.messages = append(f.messages, body)
		f.mu.Unlock()
		f.reply(w)
	})
	mux.HandleFunc("/botTOKEN/sendPhoto", func(w http.ResponseWriter, r *http.Request) {
		if !assert.NoError(t, r.ParseMultipartForm(1<<20)) {
			return
		}
		up := photoUpload{chatID: r.FormValue("chat_id"), caption: r.FormValue("caption")}
		if file, hdr, err := r.FormFile("photo"); assert.NoError(t, err) {
			data, _ := io.ReadAll(file)
			up.filename = hdr.Filename
			up.size = len(data)
		}
		f.mu.Lock()
		f.photos = append(f.photos, up)
		f.mu.Unlock()
		f.reply(w)
	})
	mux.HandleFunc("/botTOKEN/getMe", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"ok":true,"result":{"id":42,"username":"hazard_bot","first_name":"Hazard"}}`))
	})
	return mux
}

func (f *fakeTelegram) reply(w http.ResponseWriter) {
	if f.fail {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"ok":false,"error_code":400,"description":"Bad Request: chat not found"}`))
		return
	}
	w.Write([]byte(`{"ok":true,"result":{}}`))
}

func newTestBot(t *testing.T, fake *fakeTelegram, enabled bool) *TelegramBot {
	t.Helper()
	srv := httptest.NewServer(fake.handler(t))
	t.Cleanup(srv.Close)
	return NewTelegramBot(Config{BotToken: "TOKEN", ChatID: "1234", Enabled: enabled, APIURL: srv.URL})
}

func TestTelegramBot_SendText(t *testing.T) {
	fake := &fakeTelegram{}
	bot := newTestBot(t, fake, true)

	require.NoError(t, bot.SendText(context.Background(), "🚨 Hazard detected! 🚨"))

	require.Len(t, fake.messages, 1)
	assert.Equal(t, "1234", fake.messages[0]["chat_id"])
	assert.Equal(t, "🚨 Hazard detected! 🚨", fake.messages[0]["text"])
}

func TestTelegramBot_SendImage(t *testing.T) {
	fake := &fakeTelegram{}
	bot := newTestBot(t, fake, true)
	path := filepath.Join(t.TempDir(), "alert.jpg")
	require.NoError(t, os.WriteFile(path, []byte{0xFF, 0xD8, 0x00, 0xFF, 0xD9}, 0o644))

	require.NoError(t, bot.SendImage(context.Background(), path, "📷 Image of the situation"))

	require.Len(t, fake.photos, 1)
	assert.Equal(t, photoUpload{chatID: "1234", caption: "📷 Image of the situation", filename: "alert.jpg", size: 5}, fake.photos[0])
}

func TestTelegramBot_SendImageMissingFile(t *testing.T) {
	bot := newTestBot(t, &fakeTelegram{}, true)

	err := bot.SendImage(context.Background(), filepath.Join(t.TempDir(), "missing.jpg"), "")

	assert.Error(t, err)
}

func TestTelegramBot_APIError(t *testing.T) {
	bot := newTestBot(t, &fakeTelegram{fail: true}, true)

	err := bot.SendText(context.Background(), "hello")

	require.Error(t, err)
	assert.Contains(t, err.Error(), "chat not found")
}

func TestTelegramBot_Disabled(t *testing.T) {
	fake := &fakeTelegram{}
	bot := newTestBot(t, fake, false)

	assert.ErrorIs(t, bot.SendText(context.Background(), "hello"), ErrDisabled)
	assert.ErrorIs(t, bot.SendPhoto(context.Background(), []byte{1}, "a.jpg", ""), ErrDisabled)
	assert.Empty(t, fake.messages)

	bot.SetEnabled(true)
	assert.True(t, bot.IsEnabled())
	assert.NoError(t, bot.SendTestMessage(context.Background()))
}

func TestTelegramBot_GetBotInfo(t *testing.T) {
	bot := newTestBot(t, &fakeTelegram{}, true)

	info, err := bot.GetBotInfo(context.Background())

	require.NoError(t, err)
	assert.Equal(t, &BotInfo{ID: 42, Username: "hazard_bot", FirstName: "Hazard"}, info)
}

func TestValidateConfig(t *testing.T) {
	assert.NoError(t, ValidateConfig(Config{}))
	assert.Error(t, ValidateConfig(Config{Enabled: true, ChatID: "1"}))
	assert.Error(t, ValidateConfig(Config{Enabled: true, BotToken: "t"}))
	assert.NoError(t, ValidateConfig(Config{Enabled: true, BotToken: "t", ChatID: "1"}))
}
