package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultsValidate(t *testing.T) {
	cfg := Defaults()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "paper", cfg.Exchange.Backend)
	assert.Equal(t, 3*time.Minute, cfg.Trading.Interval.Duration)
}

func TestLoad_FileAndEnvOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
mode = "trade"

[exchange]
backend = "hyperliquid"
call_timeout = "20s"

[hyperliquid]
live = true
price_step = 0.5

[hyperliquid.size_decimals]
BTC = 5

[risk.hyperliquid]
max_risk_usd = 40
max_leverage = 3

[trading]
universe = ["BTC", "ETH"]
interval = "90s"

[control]
admin_ids = ["1001"]
confirm_window = "2m"
`), 0o600))

	t.Setenv("PERPBOT_HYPERLIQUID_PRIVATE_KEY", "0xabc")
	t.Setenv("PERPBOT_TRADING_UNIVERSE", "BTC, SOL ,")
	t.Setenv("PERPBOT_TRADING_DEFAULT_SL_PCT", "3.5")
	t.Setenv("PERPBOT_LOG_LEVEL", "debug")
	t.Setenv("PERPBOT_SERVER_PORT", "not-a-number")

	cfg, err := Load(path)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "trade", cfg.Mode)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, 20*time.Second, cfg.Exchange.CallTimeout.Duration)
	assert.True(t, cfg.Hyperliquid.Live)
	assert.Equal(t, "0xabc", cfg.Hyperliquid.PrivateKey)
	assert.Equal(t, 0.5, cfg.Hyperliquid.PriceStep)
	assert.Equal(t, 5, cfg.Hyperliquid.SizeDecimals["BTC"])
	assert.Equal(t, "https://api.hyperliquid.xyz", cfg.Hyperliquid.BaseURL, "defaults survive a partial file")
	assert.Equal(t, LimitsConfig{MaxRiskUSD: 40, MaxMarginUSD: 250, MaxLeverage: 3}, cfg.Risk.LimitsFor("hyperliquid"))
	assert.Equal(t, []string{"BTC", "SOL"}, cfg.Trading.Universe)
	assert.Equal(t, 90*time.Second, cfg.Trading.Interval.Duration)
	assert.Equal(t, 3.5, cfg.Trading.DefaultSLPct)
	assert.Equal(t, []string{"1001"}, cfg.Control.AdminIDs)
	assert.Equal(t, 2*time.Minute, cfg.Control.ConfirmWindow.Duration)
	assert.Equal(t, 8000, cfg.Server.Port, "unparsable override is ignored")
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.toml"))
	assert.Error(t, err)
}

func TestValidate_CollectsEveryProblem(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = "arbitrage"
	cfg.Exchange.Backend = "kraken"
	cfg.Hyperliquid.EncryptedKeyPath = "/keys/hl.json"
	cfg.Risk.Paper.MaxLeverage = -1
	cfg.Risk.DailyLossLimitPct = 100
	cfg.Trading.Interval = duration{}
	cfg.Trading.DefaultSLPct = 0
	cfg.Control.AdminIDs = []string{"1001", " "}
	cfg.Redis.Addr = ""

	err := cfg.Validate()
	require.Error(t, err)
	for _, want := range []string{
		`unknown mode "arbitrage"`,
		`exchange: unknown backend "kraken"`,
		"hyperliquid: key_password is required",
		"risk.paper: limits must be >= 0",
		"daily_loss_limit_pct",
		"trading: interval must be > 0",
		"trading: default_sl_pct",
		"control: admin_ids",
		"redis: addr must not be empty",
	} {
		assert.Contains(t, err.Error(), want)
	}
}

func TestValidate_LiveWithoutCredentialsIsAllowed(t *testing.T) {
	cfg := Defaults()
	cfg.Exchange.Backend = "binance_futures"
	cfg.Binance.Live = true
	assert.NoError(t, cfg.Validate())
}

func TestValidate_ServerModeNeedsServer(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = "server"
	cfg.Server.Enabled = false
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "must be enabled for mode server")
}

func TestRedactedConfig(t *testing.T) {
	cfg := Defaults()
	cfg.Hyperliquid.PrivateKey = "0xsecret"
	cfg.Binance.ApiSecret = "s3cret"
	cfg.Server.ApiKey = "token"
	cfg.Postgres.DSN = "postgres://u:p@h/db"
	cfg.Control.AdminIDs = []string{"1001"}
	cfg.Hyperliquid.SizeDecimals["BTC"] = 5

	out := RedactedConfig(&cfg)
	assert.Equal(t, "***", out.Hyperliquid.PrivateKey)
	assert.Equal(t, "***", out.Binance.ApiSecret)
	assert.Equal(t, "***", out.Server.ApiKey)
	assert.Equal(t, "***", out.Postgres.DSN)
	assert.Empty(t, out.Binance.ApiKey, "empty secrets stay empty")

	out.Control.AdminIDs[0] = "x"
	out.Hyperliquid.SizeDecimals["BTC"] = 1
	assert.Equal(t, "1001", cfg.Control.AdminIDs[0])
	assert.Equal(t, 5, cfg.Hyperliquid.SizeDecimals["BTC"])
	assert.Equal(t, "0xsecret", cfg.Hyperliquid.PrivateKey)
}
