package notify

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/perpbot/internal/domain"
)

func discard() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

type recordSender struct {
	name   string
	err    error
	titles []string
}

func (r *recordSender) Send(_ context.Context, title, _ string) error {
	r.titles = append(r.titles, title)
	return r.err
}

func (r *recordSender) Name() string { return r.name }

func TestNotifier_FiltersByEventType(t *testing.T) {
	s := &recordSender{name: "rec"}
	n := NewNotifier([]Sender{s}, []string{"position_opened", " kill_switch "}, discard())

	require.NoError(t, n.Notify(context.Background(), domain.Event{Type: domain.EventPositionOpened, Symbol: "BTC"}))
	require.NoError(t, n.Notify(context.Background(), domain.Event{Type: domain.EventTargetsUpdated, Symbol: "BTC"}))
	require.NoError(t, n.Notify(context.Background(), domain.Event{Type: domain.EventKillSwitch}))

	assert.Equal(t, []string{"Position opened: BTC", "Kill switch"}, s.titles)
}

func TestNotifier_OneSenderFailureDoesNotStopOthers(t *testing.T) {
	bad := &recordSender{name: "bad", err: errors.New("boom")}
	good := &recordSender{name: "good"}
	n := NewNotifier([]Sender{bad, good}, nil, discard())

	err := n.Notify(context.Background(), domain.Event{Type: domain.EventError, Message: "x"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad: boom")
	assert.Len(t, good.titles, 1)
}

func TestTelegramSender(t *testing.T) {
	var got map[string]any
	var path string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	s := NewTelegramSender("TOKEN", "42")
	s.baseURL = srv.URL
	require.NoError(t, s.Send(context.Background(), "Position closed: BTC", "pnl +12.00"))
	assert.Equal(t, "/botTOKEN/sendMessage", path)
	assert.Equal(t, "42", got["chat_id"])
	assert.Equal(t, "Position closed: BTC\npnl +12.00", got["text"])
}

func TestDiscordSender_ErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte("bad webhook"))
	}))
	defer srv.Close()

	err := NewDiscordSender(srv.URL).Send(context.Background(), "t", "m")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "discord: unexpected status 400: bad webhook")
}

func TestDiscordSender_TruncatesLongContent(t *testing.T) {
	var content string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		_ = json.NewDecoder(r.Body).Decode(&body)
		content = body["content"]
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	require.NoError(t, NewDiscordSender(srv.URL).Send(context.Background(), "t", strings.Repeat("x", 3000)))
	assert.Len(t, []rune(content), discordMaxContent)
}

type memHub struct {
	mu   sync.Mutex
	msgs [][]byte
}

func (h *memHub) Broadcast(p []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.msgs = append(h.msgs, p)
}

func (h *memHub) count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.msgs)
}

type memBus struct {
	mu       sync.Mutex
	channels []string
}

func (b *memBus) Publish(_ context.Context, channel string, _ []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.channels = append(b.channels, channel)
	return nil
}

func (b *memBus) Subscribe(context.Context, string) (<-chan []byte, error) { return nil, nil }

func (b *memBus) StreamAppend(context.Context, string, []byte) error { return nil }

func (b *memBus) StreamRead(context.Context, string, string, int) ([]domain.StreamMessage, error) {
	return nil, nil
}

func TestPublisher_FansOut(t *testing.T) {
	hub := &memHub{}
	bus := &memBus{}
	s := &recordSender{name: "rec"}
	p := NewPublisher(NewNotifier([]Sender{s}, nil, discard()), bus, hub, discard())

	p.PublishEvent(context.Background(), domain.Event{Type: domain.EventProtectionDegraded, Symbol: "ETH", Message: "trigger failed"})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()
	require.Eventually(t, func() bool { return hub.count() == 1 }, time.Second, 10*time.Millisecond)
	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)

	var ev domain.Event
	require.NoError(t, json.Unmarshal(hub.msgs[0], &ev))
	assert.Equal(t, domain.EventProtectionDegraded, ev.Type)
	assert.False(t, ev.CreatedAt.IsZero())
	assert.Equal(t, []string{EventChannel}, bus.channels)
	assert.Equal(t, []string{"Protection degraded: ETH"}, s.titles)
}

func TestPublisher_DropsWhenQueueFull(t *testing.T) {
	p := NewPublisher(nil, nil, nil, discard())
	for i := 0; i < cap(p.queue)+10; i++ {
		p.PublishEvent(context.Background(), domain.Event{Type: domain.EventError})
	}
	assert.Len(t, p.queue, cap(p.queue))
}
