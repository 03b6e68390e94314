package ws

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/perpbot/internal/domain"
)

type staticStatus struct{}

func (staticStatus) Status(context.Context) domain.BotStatus {
	return domain.BotStatus{Mode: "full", Iteration: 7}
}

func readEnvelope(t *testing.T, conn *websocket.Conn) envelope {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	var env envelope
	require.NoError(t, json.Unmarshal(data, &env))
	return env
}

func TestHub_StatusOnConnectAndBroadcast(t *testing.T) {
	hub := NewHub(staticStatus{}, time.Hour, slog.New(slog.NewTextHandler(io.Discard, nil)))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hub.Run(ctx)

	srv := httptest.NewServer(http.HandlerFunc(hub.HandleWS))
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	defer conn.Close()

	env := readEnvelope(t, conn)
	assert.Equal(t, ChannelStatus, env.Channel)
	var st domain.BotStatus
	require.NoError(t, json.Unmarshal(env.Payload, &st))
	assert.Equal(t, int64(7), st.Iteration)

	require.Eventually(t, func() bool { return hub.ClientCount() == 1 }, 5*time.Second, 10*time.Millisecond)
	hub.Broadcast([]byte(`{"type":"kill_switch"}`))

	env = readEnvelope(t, conn)
	assert.Equal(t, ChannelEvents, env.Channel)
	assert.JSONEq(t, `{"type":"kill_switch"}`, string(env.Payload))
}

func TestClient_Subscriptions(t *testing.T) {
	c := &client{subs: map[string]bool{ChannelEvents: true, ChannelStatus: true}}
	c.handleSubscription(subscribeMsg{Action: "unsubscribe", Channels: []string{ChannelStatus}})
	assert.True(t, c.isSubscribed(ChannelEvents))
	assert.False(t, c.isSubscribed(ChannelStatus))
	c.handleSubscription(subscribeMsg{Action: "subscribe", Channels: []string{ChannelStatus}})
	assert.True(t, c.isSubscribed(ChannelStatus))
}
