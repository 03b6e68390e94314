package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies PERPBOT_* environment variable overrides, and
// returns the final Config. The returned Config has NOT been validated; the
// caller should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, err
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known PERPBOT_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). This lets operators inject secrets at deploy time without touching
// the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Exchange ──
	setStr(&cfg.Exchange.Backend, "PERPBOT_EXCHANGE_BACKEND")
	setDuration(&cfg.Exchange.CallTimeout, "PERPBOT_EXCHANGE_CALL_TIMEOUT")

	// ── Hyperliquid ──
	setBool(&cfg.Hyperliquid.Live, "PERPBOT_HYPERLIQUID_LIVE")
	setStr(&cfg.Hyperliquid.BaseURL, "PERPBOT_HYPERLIQUID_BASE_URL")
	setStr(&cfg.Hyperliquid.WsURL, "PERPBOT_HYPERLIQUID_WS_URL")
	setBool(&cfg.Hyperliquid.Mainnet, "PERPBOT_HYPERLIQUID_MAINNET")
	setStr(&cfg.Hyperliquid.PrivateKey, "PERPBOT_HYPERLIQUID_PRIVATE_KEY")
	setStr(&cfg.Hyperliquid.EncryptedKeyPath, "PERPBOT_HYPERLIQUID_ENCRYPTED_KEY_PATH")
	setStr(&cfg.Hyperliquid.KeyPassword, "PERPBOT_HYPERLIQUID_KEY_PASSWORD")
	setStr(&cfg.Hyperliquid.Vault, "PERPBOT_HYPERLIQUID_VAULT")
	setFloat64(&cfg.Hyperliquid.PriceStep, "PERPBOT_HYPERLIQUID_PRICE_STEP")

	// ── Binance ──
	setBool(&cfg.Binance.Live, "PERPBOT_BINANCE_LIVE")
	setStr(&cfg.Binance.BaseURL, "PERPBOT_BINANCE_BASE_URL")
	setStr(&cfg.Binance.ApiKey, "PERPBOT_BINANCE_API_KEY")
	setStr(&cfg.Binance.ApiSecret, "PERPBOT_BINANCE_API_SECRET")
	setBool(&cfg.Binance.HedgeMode, "PERPBOT_BINANCE_HEDGE_MODE")
	setDuration(&cfg.Binance.RecvWindow, "PERPBOT_BINANCE_RECV_WINDOW")

	// ── Risk ──
	setFloat64(&cfg.Risk.DailyLossLimitPct, "PERPBOT_RISK_DAILY_LOSS_LIMIT_PCT")
	setFloat64(&cfg.Risk.Paper.MaxRiskUSD, "PERPBOT_RISK_PAPER_MAX_RISK_USD")
	setFloat64(&cfg.Risk.Paper.MaxMarginUSD, "PERPBOT_RISK_PAPER_MAX_MARGIN_USD")
	setFloat64(&cfg.Risk.Paper.MaxLeverage, "PERPBOT_RISK_PAPER_MAX_LEVERAGE")
	setFloat64(&cfg.Risk.Hyperliquid.MaxRiskUSD, "PERPBOT_RISK_HYPERLIQUID_MAX_RISK_USD")
	setFloat64(&cfg.Risk.Hyperliquid.MaxMarginUSD, "PERPBOT_RISK_HYPERLIQUID_MAX_MARGIN_USD")
	setFloat64(&cfg.Risk.Hyperliquid.MaxLeverage, "PERPBOT_RISK_HYPERLIQUID_MAX_LEVERAGE")
	setFloat64(&cfg.Risk.BinanceFutures.MaxRiskUSD, "PERPBOT_RISK_BINANCE_FUTURES_MAX_RISK_USD")
	setFloat64(&cfg.Risk.BinanceFutures.MaxMarginUSD, "PERPBOT_RISK_BINANCE_FUTURES_MAX_MARGIN_USD")
	setFloat64(&cfg.Risk.BinanceFutures.MaxLeverage, "PERPBOT_RISK_BINANCE_FUTURES_MAX_LEVERAGE")

	// ── Trading ──
	setStringSlice(&cfg.Trading.Universe, "PERPBOT_TRADING_UNIVERSE")
	setDuration(&cfg.Trading.Interval, "PERPBOT_TRADING_INTERVAL")
	setFloat64(&cfg.Trading.StartingCapital, "PERPBOT_TRADING_STARTING_CAPITAL")
	setInt(&cfg.Trading.SizeDecimals, "PERPBOT_TRADING_SIZE_DECIMALS")
	setFloat64(&cfg.Trading.DefaultSLPct, "PERPBOT_TRADING_DEFAULT_SL_PCT")
	setFloat64(&cfg.Trading.DefaultTPPct, "PERPBOT_TRADING_DEFAULT_TP_PCT")
	setStr(&cfg.Trading.DecisionStream, "PERPBOT_TRADING_DECISION_STREAM")
	setDuration(&cfg.Trading.DecisionMaxAge, "PERPBOT_TRADING_DECISION_MAX_AGE")
	setDuration(&cfg.Trading.DedupTTL, "PERPBOT_TRADING_DEDUP_TTL")
	setDuration(&cfg.Trading.PriceMaxAge, "PERPBOT_TRADING_PRICE_MAX_AGE")
	setInt(&cfg.Trading.SnapshotEvery, "PERPBOT_TRADING_SNAPSHOT_EVERY")
	setInt(&cfg.Trading.ArchiveEvery, "PERPBOT_TRADING_ARCHIVE_EVERY")

	// ── Control ──
	setStringSlice(&cfg.Control.AdminIDs, "PERPBOT_CONTROL_ADMIN_IDS")
	setDuration(&cfg.Control.ConfirmWindow, "PERPBOT_CONTROL_CONFIRM_WINDOW")

	// ── Postgres ──
	setStr(&cfg.Postgres.DSN, "DATABASE_URL") // compatibility alias
	setStr(&cfg.Postgres.DSN, "PERPBOT_POSTGRES_DSN")
	setStr(&cfg.Postgres.Host, "PERPBOT_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "PERPBOT_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "PERPBOT_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "PERPBOT_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "PERPBOT_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "PERPBOT_POSTGRES_SSL_MODE")
	setInt(&cfg.Postgres.PoolMaxConns, "PERPBOT_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "PERPBOT_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "PERPBOT_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setStr(&cfg.Redis.Addr, "PERPBOT_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "PERPBOT_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "PERPBOT_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "PERPBOT_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "PERPBOT_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "PERPBOT_REDIS_TLS_ENABLED")
	setDuration(&cfg.Redis.PriceTTL, "PERPBOT_REDIS_PRICE_TTL")
	setInt(&cfg.Redis.StreamMaxLen, "PERPBOT_REDIS_STREAM_MAX_LEN")

	// ── S3 ──
	setBool(&cfg.S3.Enabled, "PERPBOT_S3_ENABLED")
	setStr(&cfg.S3.Endpoint, "PERPBOT_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "PERPBOT_S3_REGION")
	setStr(&cfg.S3.Bucket, "PERPBOT_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "PERPBOT_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "PERPBOT_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "PERPBOT_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "PERPBOT_S3_FORCE_PATH_STYLE")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "PERPBOT_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "PERPBOT_SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "PERPBOT_SERVER_CORS_ORIGINS")
	setStr(&cfg.Server.ApiKey, "PERPBOT_SERVER_API_KEY")
	setInt(&cfg.Server.RateLimit, "PERPBOT_SERVER_RATE_LIMIT")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "PERPBOT_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "PERPBOT_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "PERPBOT_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "PERPBOT_NOTIFY_EVENTS")

	// ── Top-level ──
	setStr(&cfg.Mode, "PERPBOT_MODE")
	setStr(&cfg.LogLevel, "PERPBOT_LOG_LEVEL")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
// ---------------------------------------------------------------------------

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
