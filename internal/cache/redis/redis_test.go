package redis

import (
	"context"
	"crypto/tls"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/perpbot/internal/domain"
)

func TestPriceKeyUsesBaseSymbol(t *testing.T) {
	assert.Equal(t, "price:BTC", priceKey("btcusdt"))
	assert.Equal(t, "price:ETH", priceKey("ETH_USDC_PERP"))
}

func TestParsePrice(t *testing.T) {
	ts := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	fields := priceFields(50123.5, ts)

	vals := map[string]string{}
	for k, v := range fields {
		vals[k] = v.(string)
	}
	price, got, err := parsePrice(vals)
	require.NoError(t, err)
	assert.Equal(t, 50123.5, price)
	assert.True(t, ts.Equal(got))

	_, _, err = parsePrice(map[string]string{})
	assert.ErrorIs(t, err, domain.ErrNotFound)

	_, _, err = parsePrice(map[string]string{"price": "1"})
	assert.ErrorIs(t, err, domain.ErrNotFound)

	_, _, err = parsePrice(map[string]string{"price": "abc", "ts": "1"})
	assert.Error(t, err)
}

func TestStreamPayload(t *testing.T) {
	b, ok := streamPayload(map[string]any{"payload": `{"symbol":"BTC"}`})
	require.True(t, ok)
	assert.Equal(t, `{"symbol":"BTC"}`, string(b))

	b, ok = streamPayload(map[string]any{"payload": []byte("x")})
	require.True(t, ok)
	assert.Equal(t, "x", string(b))

	_, ok = streamPayload(map[string]any{"other": "x"})
	assert.False(t, ok)
}

func TestKeys(t *testing.T) {
	assert.Equal(t, "lock:trading-loop", lockKey("trading-loop"))
	assert.Equal(t, "ratelimit:api:1.2.3.4", rateLimitKey("api:1.2.3.4"))
}

func TestNew_RejectsEmptyAddr(t *testing.T) {
	_, err := New(context.Background(), ClientConfig{})
	assert.EqualError(t, err, "redis: addr is empty")
}

func TestTLSConfigServerName(t *testing.T) {
	assert.Equal(t, "cache.internal", tlsConfig("cache.internal:6380").ServerName)
	assert.Empty(t, tlsConfig("not-an-addr").ServerName)
	assert.Equal(t, uint16(tls.VersionTLS12), tlsConfig("h:1").MinVersion)
}
