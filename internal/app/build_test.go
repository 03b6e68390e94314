package app

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/perpbot/internal/config"
	"github.com/alanyoungcy/perpbot/internal/domain"
	"github.com/alanyoungcy/perpbot/internal/exchange/factory"
)

func TestFactoryConfig(t *testing.T) {
	cfg := config.Defaults()
	cfg.Exchange.Backend = "hyperliquid"
	cfg.Hyperliquid.Live = true
	cfg.Hyperliquid.PrivateKey = "0xabc"
	cfg.Hyperliquid.SizeDecimals = map[string]int{"BTC": 5, "kPEPE": 0}
	cfg.Binance.QuantityDecimals = nil

	fc := factoryConfig(&cfg)
	assert.Equal(t, domain.BackendHyperliquid, fc.Backend)
	assert.Equal(t, 15*time.Second, fc.CallTimeout)
	assert.True(t, fc.Hyperliquid.Live)
	assert.Equal(t, "0xabc", fc.Hyperliquid.Key.RawPrivateKey)
	assert.Equal(t, map[string]int32{"BTC": 5, "kPEPE": 0}, fc.Hyperliquid.SizeDecimals)
	assert.Nil(t, fc.Binance.QuantityDecimals)
}

func TestRouterConfig_UsesSelectedBackendLimits(t *testing.T) {
	cfg := config.Defaults()
	cfg.Exchange.Backend = "hyperliquid"
	cfg.Trading.Universe = []string{" btc", "eth ", ""}

	live := routerConfig(&cfg, domain.BackendHyperliquid)
	assert.Equal(t, domain.RiskLimits{MaxRiskUSD: 25, MaxMarginUSD: 250, MaxLeverage: 5}, live.Limits)
	assert.Equal(t, []string{"BTC", "ETH"}, live.Universe)
	assert.Equal(t, int32(4), live.SizeDecimals)

	degraded := routerConfig(&cfg, domain.BackendPaper)
	assert.Equal(t, domain.RiskLimits{MaxRiskUSD: 50, MaxMarginUSD: 500, MaxLeverage: 10}, degraded.Limits)
}

func TestExecutorAndControlConfig(t *testing.T) {
	cfg := config.Defaults()
	cfg.Control.AdminIDs = []string{"1001"}

	ec := executorConfig(&cfg)
	assert.Equal(t, "full", ec.Mode)
	assert.Equal(t, 3*time.Minute, ec.Interval)
	assert.Equal(t, 1000.0, ec.StartingCapital)
	assert.Equal(t, 10*time.Minute, ec.DecisionMaxAge)

	cc := controlConfig(&cfg)
	assert.Equal(t, []string{"1001"}, cc.AdminIDs)
	assert.Equal(t, 5.0, cc.DefaultSLPct)
	assert.Equal(t, 10.0, cc.DefaultTPPct)
}

func TestCheckSelection_LiveBackendUnavailableIsFatal(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	cfg := config.Defaults()
	cfg.Exchange.Backend = "hyperliquid"
	cfg.Hyperliquid.Live = true
	sel := factory.New(factoryConfig(&cfg), factory.Handles{}, logger)
	require.Error(t, sel.Err)
	err := checkSelection(&cfg, sel)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrBackendUnavailable)

	cfg.Hyperliquid.Live = false
	sel = factory.New(factoryConfig(&cfg), factory.Handles{}, logger)
	assert.NoError(t, checkSelection(&cfg, sel), "live flag off runs on paper")

	paper := config.Defaults()
	sel = factory.New(factoryConfig(&paper), factory.Handles{}, logger)
	assert.NoError(t, checkSelection(&paper, sel))
}
