package telegram

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Kerhoff/wishsync/internal/notify"
)

// fakeBotAPI answers getMe and records sendMessage calls
type fakeBotAPI struct {
	mu   sync.Mutex
	sent []map[string]string
}

func (f *fakeBotAPI) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	_ = r.ParseForm()
	w.Header().Set("Content-Type", "application/json")
	switch {
	case strings.HasSuffix(r.URL.Path, "/getMe"):
		_, _ = io.WriteString(w, `{"ok":true,"result":{"id":1,"is_bot":true,"first_name":"wishsync","username":"wishsync_bot"}}`)
	case strings.HasSuffix(r.URL.Path, "/sendMessage"):
		f.mu.Lock()
		f.sent = append(f.sent, map[string]string{
			"chat_id":    r.PostForm.Get("chat_id"),
			"text":       r.PostForm.Get("text"),
			"parse_mode": r.PostForm.Get("parse_mode"),
		})
		f.mu.Unlock()
		_ = json.NewEncoder(w).Encode(map[string]any{
			"ok":     true,
			"result": map[string]any{"message_id": 7, "date": 0, "chat": map[string]any{"id": 42, "type": "private"}},
		})
	default:
		http.NotFound(w, r)
	}
}

func newTestBot(t *testing.T) (*Bot, *fakeBotAPI) {
	t.Helper()
	fake := &fakeBotAPI{}
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)

	logger := logrus.New()
	logger.SetOutput(io.Discard)
	bot, err := NewBotWithEndpoint("token", srv.URL+"/bot%s/%s", 42, logger)
	require.NoError(t, err)
	return bot, fake
}

func TestBotSendsNotification(t *testing.T) {
	bot, fake := newTestBot(t)

	err := bot.Send(context.Background(), notify.Event{Kind: notify.KindWishUpdate, Title: "Wish added", Body: "Camera_X"})
	require.NoError(t, err)

	require.Len(t, fake.sent, 1)
	assert.Equal(t, "42", fake.sent[0]["chat_id"])
	assert.Equal(t, "Markdown", fake.sent[0]["parse_mode"])
	assert.Equal(t, "*Wish added*\nCamera\\_X", fake.sent[0]["text"])
}

func TestBotRequiresChat(t *testing.T) {
	_, err := NewBotWithEndpoint("token", "http://127.0.0.1:0/bot%s/%s", 0, logrus.New())
	assert.Error(t, err)
}

func TestBotHonorsCanceledContext(t *testing.T) {
	bot, fake := newTestBot(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.ErrorIs(t, bot.Send(ctx, notify.Event{Title: "x"}), context.Canceled)
	assert.Empty(t, fake.sent)
}
