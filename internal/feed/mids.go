// Package feed streams exchange mid prices into the price cache so the
// router and the risk monitor price positions without a REST call.
package feed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/alanyoungcy/perpbot/internal/domain"
)

const (
	writeWait = 10 * time.Second

	// pongWait is how long the connection may stay silent. allMids pushes
	// several times a second, so silence means a dead socket.
	pongWait = 60 * time.Second

	// pingPeriod is below the server's one-minute idle cutoff.
	pingPeriod = 50 * time.Second

	reconnectDelay    = 2 * time.Second
	maxReconnectDelay = 60 * time.Second
)

// PriceWriter receives batches of mid prices.
type PriceWriter interface {
	SetPrices(ctx context.Context, prices map[string]float64, ts time.Time) error
}

// wsMessage is the envelope of every Hyperliquid websocket push.
type wsMessage struct {
	Channel string          `json:"channel"`
	Data    json.RawMessage `json:"data"`
}

type allMids struct {
	Mids map[string]string `json:"mids"`
}

// MidsFeed subscribes to the Hyperliquid allMids channel and writes the mids
// of the configured universe to a PriceWriter. It reconnects with
// exponential backoff until its context is cancelled.
type MidsFeed struct {
	wsURL    string
	universe map[string]bool
	writer   PriceWriter
	dialer   *websocket.Dialer
	logger   *slog.Logger

	connected  atomic.Bool
	lastUpdate atomic.Int64
	writeMu    sync.Mutex
}

// NewMidsFeed creates a feed for wsURL. An empty universe keeps every mid.
func NewMidsFeed(wsURL string, universe []string, writer PriceWriter, logger *slog.Logger) *MidsFeed {
	set := make(map[string]bool, len(universe))
	for _, s := range universe {
		if b := domain.BaseSymbol(s); b != "" {
			set[b] = true
		}
	}
	return &MidsFeed{
		wsURL:    wsURL,
		universe: set,
		writer:   writer,
		dialer:   &websocket.Dialer{HandshakeTimeout: 15 * time.Second},
		logger:   logger.With(slog.String("component", "mids_feed")),
	}
}

// Connected reports whether a subscription is currently live.
func (f *MidsFeed) Connected() bool { return f.connected.Load() }

// LastUpdate returns the time of the last accepted batch.
func (f *MidsFeed) LastUpdate() time.Time {
	ns := f.lastUpdate.Load()
	if ns == 0 {
		return time.Time{}
	}
	return time.Unix(0, ns).UTC()
}

// Run connects and streams until ctx is cancelled.
func (f *MidsFeed) Run(ctx context.Context) error {
	delay := reconnectDelay
	for {
		started := time.Now()
		err := f.runConnection(ctx)
		f.connected.Store(false)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if time.Since(started) > maxReconnectDelay {
			delay = reconnectDelay
		}
		f.logger.Warn("mids feed disconnected, reconnecting",
			slog.String("error", errString(err)),
			slog.Duration("delay", delay),
		)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay = min(delay*2, maxReconnectDelay)
	}
}

func (f *MidsFeed) runConnection(ctx context.Context) error {
	conn, _, err := f.dialer.DialContext(ctx, f.wsURL, nil)
	if err != nil {
		return fmt.Errorf("feed: dial: %w", err)
	}
	defer conn.Close()

	if err := f.send(conn, map[string]any{
		"method":       "subscribe",
		"subscription": map[string]string{"type": "allMids"},
	}); err != nil {
		return fmt.Errorf("feed: subscribe: %w", err)
	}
	f.connected.Store(true)
	f.logger.Info("mids feed subscribed", slog.String("url", f.wsURL))

	connCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		ticker := time.NewTicker(pingPeriod)
		defer ticker.Stop()
		for {
			select {
			case <-connCtx.Done():
				// Unblocks ReadMessage below.
				_ = conn.Close()
				return
			case <-ticker.C:
				if err := f.send(conn, map[string]string{"method": "ping"}); err != nil {
					f.logger.Debug("ping failed", slog.String("error", err.Error()))
				}
			}
		}
	}()

	for {
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("feed: read: %w", err)
		}
		if err := f.handle(ctx, data); err != nil {
			f.logger.Debug("mids message dropped", slog.String("error", err.Error()))
		}
	}
}

func (f *MidsFeed) send(conn *websocket.Conn, v any) error {
	f.writeMu.Lock()
	defer f.writeMu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteJSON(v)
}

func (f *MidsFeed) handle(ctx context.Context, data []byte) error {
	var msg wsMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return fmt.Errorf("decode envelope: %w", err)
	}
	switch msg.Channel {
	case "allMids":
	case "error":
		return fmt.Errorf("server error: %s", strings.Trim(string(msg.Data), `"`))
	default:
		// pong, subscriptionResponse
		return nil
	}

	prices, err := parseMids(msg.Data, f.universe)
	if err != nil {
		return err
	}
	if len(prices) == 0 {
		return nil
	}
	now := time.Now().UTC()
	if err := f.writer.SetPrices(ctx, prices, now); err != nil {
		return fmt.Errorf("store prices: %w", err)
	}
	f.lastUpdate.Store(now.UnixNano())
	return nil
}

// parseMids decodes an allMids payload. Spot and index entries ("@107",
// "#12") and unparsable or non-positive values are skipped.
func parseMids(raw json.RawMessage, universe map[string]bool) (map[string]float64, error) {
	var payload allMids
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, fmt.Errorf("decode allMids: %w", err)
	}
	if payload.Mids == nil {
		return nil, errors.New("allMids without mids")
	}
	out := make(map[string]float64, len(payload.Mids))
	for coin, s := range payload.Mids {
		if strings.HasPrefix(coin, "@") || strings.HasPrefix(coin, "#") {
			continue
		}
		if len(universe) > 0 && !universe[coin] {
			continue
		}
		px, err := strconv.ParseFloat(s, 64)
		if err != nil || px <= 0 {
			continue
		}
		out[coin] = px
	}
	return out, nil
}

func errString(err error) string {
	if err == nil {
		return "connection closed"
	}
	return err.Error()
}
