package factory

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/perpbot/internal/domain"
	"github.com/alanyoungcy/perpbot/internal/exchange"
	"github.com/alanyoungcy/perpbot/internal/exchange/binance"
	"github.com/alanyoungcy/perpbot/internal/exchange/hyperliquid"
)

func discard() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

type stubBinance struct{ binance.Handle }

type stubHyperliquid struct{ hyperliquid.Handle }

func entry() exchange.EntryRequest {
	return exchange.EntryRequest{Symbol: "BTC", Side: domain.SideLong, Size: 1, EntryPrice: 100}
}

func TestNew_PaperWhenLiveFlagOff(t *testing.T) {
	for _, backend := range []domain.Backend{"", domain.BackendPaper, domain.BackendHyperliquid, domain.BackendBinanceFutures} {
		sel := New(Config{Backend: backend}, Handles{}, discard())
		assert.Equal(t, domain.BackendPaper, sel.Backend, backend)
		assert.False(t, sel.Live)
		assert.Nil(t, sel.Triggers)
		assert.NoError(t, sel.Err)

		res := sel.Client.PlaceEntry(context.Background(), entry())
		assert.True(t, res.Success)
	}
}

func TestNew_LiveWithInjectedHandles(t *testing.T) {
	sel := New(Config{
		Backend: domain.BackendBinanceFutures,
		Binance: BinanceConfig{Live: true},
	}, Handles{Binance: stubBinance{}}, discard())
	require.NoError(t, sel.Err)
	assert.True(t, sel.Live)
	assert.Equal(t, domain.BackendBinanceFutures, sel.Backend)
	require.NotNil(t, sel.Triggers)

	g, ok := sel.Client.(*exchange.Guarded)
	require.True(t, ok)
	_, ok = g.Unwrap().(*binance.Client)
	assert.True(t, ok)

	sel = New(Config{
		Backend:     "Hyperliquid",
		Hyperliquid: HyperliquidConfig{Live: true},
	}, Handles{Hyperliquid: stubHyperliquid{}}, discard())
	require.NoError(t, sel.Err)
	assert.Equal(t, domain.BackendHyperliquid, sel.Backend)
	_, ok = sel.Triggers.(*hyperliquid.Client)
	assert.True(t, ok)
}

func TestNew_MissingCredentialsDegrade(t *testing.T) {
	sel := New(Config{
		Backend: domain.BackendBinanceFutures,
		Binance: BinanceConfig{Live: true},
	}, Handles{}, discard())

	require.Error(t, sel.Err)
	assert.ErrorIs(t, sel.Err, domain.ErrBackendUnavailable)
	assert.False(t, sel.Live)
	assert.Nil(t, sel.Triggers)

	first := sel.Client.PlaceEntry(context.Background(), entry())
	assert.False(t, first.Success)
	require.Len(t, first.Errors, 1)
	assert.Contains(t, first.Errors[0], "binance_futures unavailable, running in paper mode")

	second := sel.Client.PlaceEntry(context.Background(), entry())
	assert.True(t, second.Success)
	assert.Equal(t, domain.BackendPaper, second.Backend)
}

func TestNew_BadHyperliquidKeyDegrades(t *testing.T) {
	sel := New(Config{
		Backend: domain.BackendHyperliquid,
		Hyperliquid: HyperliquidConfig{
			Live:    true,
			BaseURL: "https://api.hyperliquid-testnet.xyz",
		},
	}, Handles{}, discard())
	assert.ErrorIs(t, sel.Err, domain.ErrBackendUnavailable)
	assert.Equal(t, domain.BackendPaper, sel.Backend)
}

func TestNew_UnknownBackend(t *testing.T) {
	sel := New(Config{Backend: "okx"}, Handles{}, discard())
	require.Error(t, sel.Err)
	assert.Contains(t, sel.Err.Error(), `unknown backend "okx"`)

	res := sel.Client.ClosePosition(context.Background(), exchange.CloseRequest{Symbol: "BTC", Side: domain.SideLong})
	assert.False(t, res.Success)
}
