// Package config defines the top-level configuration for the perp trading bot
// and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by PERPBOT_* environment variables.
type Config struct {
	Exchange    ExchangeConfig    `toml:"exchange"`
	Hyperliquid HyperliquidConfig `toml:"hyperliquid"`
	Binance     BinanceConfig     `toml:"binance"`
	Risk        RiskConfig        `toml:"risk"`
	Trading     TradingConfig     `toml:"trading"`
	Control     ControlConfig     `toml:"control"`
	Postgres    PostgresConfig    `toml:"postgres"`
	Redis       RedisConfig       `toml:"redis"`
	S3          S3Config          `toml:"s3"`
	Server      ServerConfig      `toml:"server"`
	Notify      NotifyConfig      `toml:"notify"`
	Mode        string            `toml:"mode"`
	LogLevel    string            `toml:"log_level"`
}

// ExchangeConfig selects the execution backend.
type ExchangeConfig struct {
	// Backend is one of paper, hyperliquid, binance_futures.
	Backend     string   `toml:"backend"`
	CallTimeout duration `toml:"call_timeout"`
}

// HyperliquidConfig holds Hyperliquid endpoints and wallet credentials.
type HyperliquidConfig struct {
	Live             bool               `toml:"live"`
	BaseURL          string             `toml:"base_url"`
	WsURL            string             `toml:"ws_url"`
	Mainnet          bool               `toml:"mainnet"`
	PrivateKey       string             `toml:"private_key"`
	EncryptedKeyPath string             `toml:"encrypted_key_path"`
	KeyPassword      string             `toml:"key_password"`
	Vault            string             `toml:"vault"`
	PriceStep        float64            `toml:"price_step"`
	PriceSteps       map[string]float64 `toml:"price_steps"`
	SizeDecimals     map[string]int     `toml:"size_decimals"`
}

// BinanceConfig holds Binance USD-M futures credentials.
type BinanceConfig struct {
	Live             bool           `toml:"live"`
	BaseURL          string         `toml:"base_url"`
	ApiKey           string         `toml:"api_key"`
	ApiSecret        string         `toml:"api_secret"`
	HedgeMode        bool           `toml:"hedge_mode"`
	RecvWindow       duration       `toml:"recv_window"`
	QuantityDecimals map[string]int `toml:"quantity_decimals"`
}

// LimitsConfig bounds a single entry. Zero disables a limit.
type LimitsConfig struct {
	MaxRiskUSD   float64 `toml:"max_risk_usd"`
	MaxMarginUSD float64 `toml:"max_margin_usd"`
	MaxLeverage  float64 `toml:"max_leverage"`
}

// RiskConfig holds per-backend entry limits and the daily-loss guard.
type RiskConfig struct {
	DailyLossLimitPct float64      `toml:"daily_loss_limit_pct"`
	Paper             LimitsConfig `toml:"paper"`
	Hyperliquid       LimitsConfig `toml:"hyperliquid"`
	BinanceFutures    LimitsConfig `toml:"binance_futures"`
}

// LimitsFor returns the limits for a backend name. Unknown names get the
// paper limits.
func (r RiskConfig) LimitsFor(backend string) LimitsConfig {
	switch strings.ToLower(backend) {
	case "hyperliquid":
		return r.Hyperliquid
	case "binance_futures":
		return r.BinanceFutures
	default:
		return r.Paper
	}
}

// TradingConfig holds loop timing and sizing parameters.
type TradingConfig struct {
	Universe        []string `toml:"universe"`
	Interval        duration `toml:"interval"`
	StartingCapital float64  `toml:"starting_capital"`
	SizeDecimals    int      `toml:"size_decimals"`
	DefaultSLPct    float64  `toml:"default_sl_pct"`
	DefaultTPPct    float64  `toml:"default_tp_pct"`
	DecisionStream  string   `toml:"decision_stream"`
	DecisionMaxAge  duration `toml:"decision_max_age"`
	DedupTTL        duration `toml:"dedup_ttl"`
	PriceMaxAge     duration `toml:"price_max_age"`
	SnapshotEvery   int      `toml:"snapshot_every"`
	ArchiveEvery    int      `toml:"archive_every"`
}

// ControlConfig holds remote-control settings.
type ControlConfig struct {
	AdminIDs []string `toml:"admin_ids"`
	// ConfirmWindow requires a close_all preview this recent before a
	// confirm is honoured. Zero accepts a confirm without a preview.
	ConfirmWindow duration `toml:"confirm_window"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Addr         string   `toml:"addr"`
	Password     string   `toml:"password"`
	DB           int      `toml:"db"`
	PoolSize     int      `toml:"pool_size"`
	MaxRetries   int      `toml:"max_retries"`
	TLSEnabled   bool     `toml:"tls_enabled"`
	PriceTTL     duration `toml:"price_ttl"`
	StreamMaxLen int      `toml:"stream_max_len"`
}

// S3Config holds S3-compatible object storage parameters.
type S3Config struct {
	Enabled        bool   `toml:"enabled"`
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// duration is a wrapper around time.Duration that supports TOML string decoding
// (e.g. "5m", "30s").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "5m" or "30s".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Enabled     bool     `toml:"enabled"`
	Port        int      `toml:"port"`
	CORSOrigins []string `toml:"cors_origins"`
	ApiKey      string   `toml:"api_key"`
	// RateLimit is the number of API requests allowed per client per minute.
	RateLimit int `toml:"rate_limit"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// Defaults returns a Config populated with reasonable default values.
// These match the values in config.example.toml.
func Defaults() Config {
	return Config{
		Exchange: ExchangeConfig{
			Backend:     "paper",
			CallTimeout: duration{15 * time.Second},
		},
		Hyperliquid: HyperliquidConfig{
			BaseURL:      "https://api.hyperliquid.xyz",
			WsURL:        "wss://api.hyperliquid.xyz/ws",
			Mainnet:      true,
			PriceStep:    0.01,
			PriceSteps:   map[string]float64{},
			SizeDecimals: map[string]int{},
		},
		Binance: BinanceConfig{
			BaseURL:          "https://fapi.binance.com",
			RecvWindow:       duration{5 * time.Second},
			QuantityDecimals: map[string]int{},
		},
		Risk: RiskConfig{
			DailyLossLimitPct: 10,
			Paper:             LimitsConfig{MaxRiskUSD: 50, MaxMarginUSD: 500, MaxLeverage: 10},
			Hyperliquid:       LimitsConfig{MaxRiskUSD: 25, MaxMarginUSD: 250, MaxLeverage: 5},
			BinanceFutures:    LimitsConfig{MaxRiskUSD: 25, MaxMarginUSD: 250, MaxLeverage: 5},
		},
		Trading: TradingConfig{
			Universe:        []string{"BTC", "ETH", "SOL"},
			Interval:        duration{3 * time.Minute},
			StartingCapital: 1000,
			SizeDecimals:    4,
			DefaultSLPct:    5,
			DefaultTPPct:    10,
			DecisionStream:  "decisions",
			DecisionMaxAge:  duration{10 * time.Minute},
			DedupTTL:        duration{30 * time.Minute},
			PriceMaxAge:     duration{2 * time.Minute},
			SnapshotEvery:   10,
			ArchiveEvery:    60,
		},
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "perpbot",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Addr:         "localhost:6379",
			PoolSize:     20,
			MaxRetries:   3,
			PriceTTL:     duration{10 * time.Minute},
			StreamMaxLen: 10000,
		},
		S3: S3Config{
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "perpbot-data",
			ForcePathStyle: true,
		},
		Server: ServerConfig{
			Enabled:     true,
			Port:        8000,
			CORSOrigins: []string{"http://localhost:3000", "http://localhost:5173"},
			RateLimit:   120,
		},
		Notify: NotifyConfig{
			Events: []string{"position_opened", "position_closed", "protection_degraded", "kill_switch", "error"},
		},
		Mode:     "full",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"trade":  true,
	"server": true,
	"full":   true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// validBackends enumerates the accepted values for ExchangeConfig.Backend.
var validBackends = map[string]bool{
	"paper":           true,
	"hyperliquid":     true,
	"binance_futures": true,
}

// Validate checks Config for obviously invalid or missing values and returns a
// combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	// Mode
	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: trade, server, full)", c.Mode))
	}

	// LogLevel
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Exchange. Missing live credentials are not an error here: the
	// factory degrades to paper and reports the cause on first use.
	if !validBackends[strings.ToLower(c.Exchange.Backend)] {
		errs = append(errs, fmt.Sprintf("exchange: unknown backend %q (valid: paper, hyperliquid, binance_futures)", c.Exchange.Backend))
	}
	if c.Exchange.CallTimeout.Duration < 0 {
		errs = append(errs, "exchange: call_timeout must be >= 0")
	}
	if c.Hyperliquid.EncryptedKeyPath != "" && c.Hyperliquid.KeyPassword == "" {
		errs = append(errs, "hyperliquid: key_password is required when encrypted_key_path is set")
	}
	if c.Hyperliquid.PriceStep < 0 {
		errs = append(errs, "hyperliquid: price_step must be >= 0")
	}
	if c.Binance.RecvWindow.Duration < 0 {
		errs = append(errs, "binance: recv_window must be >= 0")
	}

	// Risk
	for _, name := range []string{"paper", "hyperliquid", "binance_futures"} {
		l := c.Risk.LimitsFor(name)
		if l.MaxRiskUSD < 0 || l.MaxMarginUSD < 0 || l.MaxLeverage < 0 {
			errs = append(errs, fmt.Sprintf("risk.%s: limits must be >= 0", name))
		}
	}
	if c.Risk.DailyLossLimitPct < 0 || c.Risk.DailyLossLimitPct >= 100 {
		errs = append(errs, fmt.Sprintf("risk: daily_loss_limit_pct must be in [0, 100), got %g", c.Risk.DailyLossLimitPct))
	}

	// Trading
	if c.Trading.Interval.Duration <= 0 {
		errs = append(errs, "trading: interval must be > 0")
	}
	if c.Trading.StartingCapital < 0 {
		errs = append(errs, "trading: starting_capital must be >= 0")
	}
	if c.Trading.SizeDecimals < 0 || c.Trading.SizeDecimals > 8 {
		errs = append(errs, fmt.Sprintf("trading: size_decimals must be 0-8, got %d", c.Trading.SizeDecimals))
	}
	if c.Trading.DefaultSLPct <= 0 || c.Trading.DefaultSLPct >= 100 {
		errs = append(errs, "trading: default_sl_pct must be in (0, 100)")
	}
	if c.Trading.DefaultTPPct <= 0 {
		errs = append(errs, "trading: default_tp_pct must be > 0")
	}
	if c.Trading.DecisionStream == "" {
		errs = append(errs, "trading: decision_stream must not be empty")
	}
	if c.Trading.SnapshotEvery < 0 || c.Trading.ArchiveEvery < 0 {
		errs = append(errs, "trading: snapshot_every and archive_every must be >= 0")
	}

	// Control
	if c.Control.ConfirmWindow.Duration < 0 {
		errs = append(errs, "control: confirm_window must be >= 0")
	}
	for _, id := range c.Control.AdminIDs {
		if strings.TrimSpace(id) == "" {
			errs = append(errs, "control: admin_ids must not contain empty entries")
			break
		}
	}

	// Postgres
	if strings.TrimSpace(c.Postgres.DSN) == "" {
		if c.Postgres.Host == "" {
			errs = append(errs, "postgres: host must not be empty (or set postgres.dsn)")
		}
		if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
			errs = append(errs, fmt.Sprintf("postgres: port must be 1-65535, got %d", c.Postgres.Port))
		}
		if c.Postgres.Database == "" {
			errs = append(errs, "postgres: database must not be empty")
		}
	}
	if c.Postgres.PoolMaxConns < 1 {
		errs = append(errs, "postgres: pool_max_conns must be >= 1")
	}
	if c.Postgres.PoolMinConns < 0 {
		errs = append(errs, "postgres: pool_min_conns must be >= 0")
	}
	if c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
		errs = append(errs, "postgres: pool_min_conns must not exceed pool_max_conns")
	}

	// Redis
	if c.Redis.Addr == "" {
		errs = append(errs, "redis: addr must not be empty")
	}
	if c.Redis.PoolSize < 1 {
		errs = append(errs, "redis: pool_size must be >= 1")
	}

	// S3
	if c.S3.Enabled && c.S3.Bucket == "" {
		errs = append(errs, "s3: bucket must not be empty when enabled")
	}

	// Server
	if c.Server.Enabled {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
		if c.Server.RateLimit < 0 {
			errs = append(errs, "server: rate_limit must be >= 0")
		}
	}
	if strings.ToLower(c.Mode) == "server" && !c.Server.Enabled {
		errs = append(errs, "server: must be enabled for mode server")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
