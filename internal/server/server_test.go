package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/perpbot/internal/control"
	"github.com/alanyoungcy/perpbot/internal/domain"
	"github.com/alanyoungcy/perpbot/internal/server/handler"
)

func discard() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

type staticStatus struct{}

func (staticStatus) Status(context.Context) domain.BotStatus {
	return domain.BotStatus{Mode: "full", Backend: domain.BackendPaper, OpenPositions: 1}
}

type staticBook struct{}

func (staticBook) Snapshot() []domain.Position {
	return []domain.Position{{Symbol: "BTC", Side: domain.SideLong, Size: 0.1, EntryPrice: 50000}}
}

type staticPrices struct{}

func (staticPrices) CurrentPrice(_ context.Context, symbol string) (float64, bool) {
	return 51000, symbol == "BTC"
}

type recordRunner struct{ got []domain.Command }

func (r *recordRunner) Handle(_ context.Context, cmd domain.Command) domain.CommandResult {
	r.got = append(r.got, cmd)
	if cmd.Caller != "1001" {
		return domain.CommandResult{Action: control.ActionUnauthorized, Message: "not allowed"}
	}
	return domain.CommandResult{Success: true, Action: "KILL", StateChanged: true}
}

type countingLimiter struct {
	allowed int
	err     error
}

func (c *countingLimiter) Allow(context.Context, string, int, time.Duration) (bool, error) {
	if c.err != nil {
		return false, c.err
	}
	if c.allowed <= 0 {
		return false, nil
	}
	c.allowed--
	return true, nil
}

func newTestServer(t *testing.T, limiter domain.RateLimiter, runner handler.CommandRunner, checks map[string]handler.CheckFunc) http.Handler {
	t.Helper()
	s := NewServer(Config{Port: 0, APIKey: "secret", RateLimit: 10}, Handlers{
		Health:    handler.NewHealthHandler(checks, discard()),
		Status:    handler.NewStatusHandler(staticStatus{}),
		Positions: handler.NewPositionHandler(staticBook{}, staticPrices{}),
		Commands:  handler.NewCommandHandler(runner, discard()),
	}, nil, limiter, discard())
	return s.Handler()
}

func do(h http.Handler, method, path, body string, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

var authed = map[string]string{"Authorization": "Bearer secret"}

func TestHealth_NoAuthAndDependencyFailure(t *testing.T) {
	h := newTestServer(t, nil, &recordRunner{}, map[string]handler.CheckFunc{
		"postgres": func(context.Context) error { return nil },
		"redis":    func(context.Context) error { return errors.New("connection refused") },
	})
	rec := do(h, http.MethodGet, "/api/health", "", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	var body struct {
		Status       string            `json:"status"`
		Dependencies map[string]string `json:"dependencies"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "degraded", body.Status)
	assert.Equal(t, "ok", body.Dependencies["postgres"])
	assert.Equal(t, "connection refused", body.Dependencies["redis"])
}

func TestAuth(t *testing.T) {
	h := newTestServer(t, nil, &recordRunner{}, nil)

	assert.Equal(t, http.StatusUnauthorized, do(h, http.MethodGet, "/api/status", "", nil).Code)
	assert.Equal(t, http.StatusUnauthorized, do(h, http.MethodGet, "/api/status", "", map[string]string{"X-API-Key": "wrong"}).Code)
	assert.Equal(t, http.StatusOK, do(h, http.MethodGet, "/api/status", "", map[string]string{"X-API-Key": "secret"}).Code)

	rec := do(h, http.MethodGet, "/api/status", "", authed)
	require.Equal(t, http.StatusOK, rec.Code)
	var st domain.BotStatus
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &st))
	assert.Equal(t, "full", st.Mode)
}

func TestPositions_IncludeMark(t *testing.T) {
	h := newTestServer(t, nil, &recordRunner{}, nil)
	rec := do(h, http.MethodGet, "/api/positions", "", authed)
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Positions []struct {
			Symbol        string   `json:"symbol"`
			MarkPrice     *float64 `json:"mark_price"`
			UnrealizedPnL *float64 `json:"unrealized_pnl"`
		} `json:"positions"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Positions, 1)
	assert.Equal(t, "BTC", body.Positions[0].Symbol)
	require.NotNil(t, body.Positions[0].UnrealizedPnL)
	assert.InDelta(t, 100, *body.Positions[0].UnrealizedPnL, 1e-9)
}

func TestCommands(t *testing.T) {
	runner := &recordRunner{}
	h := newTestServer(t, nil, runner, nil)

	rec := do(h, http.MethodPost, "/api/commands", `{"name":"kill","args":["maintenance"],"caller":"1001"}`, authed)
	require.Equal(t, http.StatusOK, rec.Code)
	var res domain.CommandResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	assert.True(t, res.Success)
	assert.Equal(t, []string{"maintenance"}, runner.got[0].Args)

	rec = do(h, http.MethodPost, "/api/commands", `{"name":"kill","caller":"2002"}`, authed)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	assert.Equal(t, http.StatusBadRequest, do(h, http.MethodPost, "/api/commands", `{`, authed).Code)
	assert.Equal(t, http.StatusBadRequest, do(h, http.MethodPost, "/api/commands", `{"caller":"1001"}`, authed).Code)
	assert.Len(t, runner.got, 2)
}

func TestRateLimit(t *testing.T) {
	h := newTestServer(t, &countingLimiter{allowed: 1}, &recordRunner{}, nil)
	assert.Equal(t, http.StatusOK, do(h, http.MethodGet, "/api/status", "", authed).Code)
	assert.Equal(t, http.StatusTooManyRequests, do(h, http.MethodGet, "/api/status", "", authed).Code)
	assert.Equal(t, http.StatusOK, do(h, http.MethodGet, "/api/health", "", nil).Code, "health is not limited")

	h = newTestServer(t, &countingLimiter{err: errors.New("redis down")}, &recordRunner{}, nil)
	assert.Equal(t, http.StatusOK, do(h, http.MethodGet, "/api/status", "", authed).Code, "limiter errors fail open")
}

func TestCORSPreflight(t *testing.T) {
	h := newTestServer(t, nil, &recordRunner{}, nil)
	rec := do(h, http.MethodOptions, "/api/commands", "", map[string]string{"Origin": "https://dash.example"})
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "https://dash.example", rec.Header().Get("Access-Control-Allow-Origin"))
}
