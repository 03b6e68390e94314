package hyperliquid

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/perpbot/internal/crypto"
	"github.com/alanyoungcy/perpbot/internal/domain"
)

const testKey = "4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318"

func TestRESTHandle_PlaceOrderSignsAction(t *testing.T) {
	var exchangeBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		switch r.URL.Path {
		case "/info":
			_, _ = w.Write([]byte(`{"universe":[{"name":"BTC"},{"name":"ETH"}]}`))
		case "/exchange":
			assert.NoError(t, json.Unmarshal(body, &exchangeBody))
			_, _ = w.Write([]byte(`{"status":"ok","response":{"type":"order","data":{"statuses":[{"resting":{"oid":5}}]}}}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	signer, err := crypto.NewSigner(testKey, false)
	require.NoError(t, err)
	h := NewRESTHandle(RESTConfig{BaseURL: srv.URL}, signer, slog.New(slog.NewTextHandler(io.Discard, nil)))

	resp, err := h.PlaceOrder(context.Background(), OrderRequest{Coin: "ETH", IsBuy: true, Size: 0.5, LimitPx: 3000.1, TIF: "Ioc"})
	require.NoError(t, err)
	assert.True(t, resp.OK())
	require.Len(t, resp.Statuses(), 1)

	action := exchangeBody["action"].(map[string]any)
	assert.Equal(t, "order", action["type"])
	order := action["orders"].([]any)[0].(map[string]any)
	assert.Equal(t, float64(1), order["a"])
	assert.Equal(t, "3000.1", order["p"])
	assert.Equal(t, "0.5", order["s"])
	sig := exchangeBody["signature"].(map[string]any)
	assert.NotEmpty(t, sig["r"])
	assert.Nil(t, exchangeBody["vaultAddress"])
}

func TestRESTHandle_UnknownCoinAndHTTPErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte("slow down"))
	}))
	defer srv.Close()

	signer, err := crypto.NewSigner(testKey, true)
	require.NoError(t, err)
	h := NewRESTHandle(RESTConfig{BaseURL: srv.URL}, signer, slog.New(slog.NewTextHandler(io.Discard, nil)))

	_, err = h.L2Book(context.Background(), "BTC")
	assert.ErrorIs(t, err, domain.ErrRateLimited)
}

func TestRESTHandle_NonceIsMonotonic(t *testing.T) {
	signer, err := crypto.NewSigner(testKey, true)
	require.NoError(t, err)
	h := NewRESTHandle(RESTConfig{BaseURL: "http://unused"}, signer, slog.New(slog.NewTextHandler(io.Discard, nil)))

	a := h.nextNonce()
	b := h.nextNonce()
	assert.Greater(t, b, a)
}
