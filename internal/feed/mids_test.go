package feed

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memWriter struct {
	mu      sync.Mutex
	batches []map[string]float64
}

func (m *memWriter) SetPrices(_ context.Context, prices map[string]float64, _ time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.batches = append(m.batches, prices)
	return nil
}

func (m *memWriter) last() map[string]float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.batches) == 0 {
		return nil
	}
	return m.batches[len(m.batches)-1]
}

func TestParseMids(t *testing.T) {
	raw := json.RawMessage(`{"mids":{"BTC":"50000.5","ETH":"3000","@107":"1.2","#3":"0.4","SOL":"bad","DOGE":"0"}}`)

	got, err := parseMids(raw, nil)
	require.NoError(t, err)
	assert.Equal(t, map[string]float64{"BTC": 50000.5, "ETH": 3000}, got)

	got, err = parseMids(raw, map[string]bool{"ETH": true})
	require.NoError(t, err)
	assert.Equal(t, map[string]float64{"ETH": 3000}, got)

	_, err = parseMids(json.RawMessage(`{}`), nil)
	assert.Error(t, err)
}

func TestMidsFeed_SubscribesAndWrites(t *testing.T) {
	upgrader := websocket.Upgrader{}
	subscribed := make(chan map[string]any, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		var sub map[string]any
		if err := conn.ReadJSON(&sub); err != nil {
			return
		}
		subscribed <- sub
		_ = conn.WriteJSON(map[string]any{"channel": "subscriptionResponse", "data": sub})
		_ = conn.WriteJSON(map[string]any{
			"channel": "allMids",
			"data":    map[string]any{"mids": map[string]string{"BTC": "51000", "ETH": "3100", "ARB": "1.1"}},
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	writer := &memWriter{}
	f := NewMidsFeed("ws"+strings.TrimPrefix(srv.URL, "http"), []string{"btcusdt", "ETH"}, writer,
		slog.New(slog.NewTextHandler(io.Discard, nil)))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.Run(ctx) }()

	select {
	case sub := <-subscribed:
		assert.Equal(t, "subscribe", sub["method"])
		assert.Equal(t, map[string]any{"type": "allMids"}, sub["subscription"])
	case <-time.After(5 * time.Second):
		t.Fatal("no subscription received")
	}

	require.Eventually(t, func() bool { return writer.last() != nil }, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, map[string]float64{"BTC": 51000, "ETH": 3100}, writer.last())
	assert.True(t, f.Connected())
	assert.False(t, f.LastUpdate().IsZero())

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("feed did not stop")
	}
	assert.False(t, f.Connected())
}

func TestMidsFeed_HandleIgnoresControlMessages(t *testing.T) {
	writer := &memWriter{}
	f := NewMidsFeed("ws://unused", nil, writer, slog.New(slog.NewTextHandler(io.Discard, nil)))

	require.NoError(t, f.handle(context.Background(), []byte(`{"channel":"pong"}`)))
	require.Error(t, f.handle(context.Background(), []byte(`{"channel":"error","data":"bad subscription"}`)))
	require.Error(t, f.handle(context.Background(), []byte(`not json`)))
	assert.Nil(t, writer.last())
}
