package config

// RedactedConfig returns a shallow copy of cfg with sensitive fields replaced
// by the redaction placeholder "***". Use this when logging or printing the
// active configuration so secrets are never accidentally exposed.
func RedactedConfig(cfg *Config) Config {
	out := *cfg // shallow copy of the top-level struct

	// Hyperliquid
	redact(&out.Hyperliquid.PrivateKey)
	redact(&out.Hyperliquid.KeyPassword)

	// Binance
	redact(&out.Binance.ApiKey)
	redact(&out.Binance.ApiSecret)

	// Postgres
	redact(&out.Postgres.DSN)
	redact(&out.Postgres.Password)

	// Redis
	redact(&out.Redis.Password)

	// S3
	redact(&out.S3.AccessKey)
	redact(&out.S3.SecretKey)

	// Server
	redact(&out.Server.ApiKey)

	// Notify
	redact(&out.Notify.TelegramToken)
	redact(&out.Notify.DiscordWebhookURL)

	// Copy slices so callers cannot mutate the original through the redacted
	// copy.
	out.Trading.Universe = copySlice(cfg.Trading.Universe)
	out.Control.AdminIDs = copySlice(cfg.Control.AdminIDs)
	out.Server.CORSOrigins = copySlice(cfg.Server.CORSOrigins)
	out.Notify.Events = copySlice(cfg.Notify.Events)

	// Copy maps so mutations to the redacted copy do not affect the original.
	out.Hyperliquid.PriceSteps = copyMap(cfg.Hyperliquid.PriceSteps)
	out.Hyperliquid.SizeDecimals = copyMap(cfg.Hyperliquid.SizeDecimals)
	out.Binance.QuantityDecimals = copyMap(cfg.Binance.QuantityDecimals)

	return out
}

const redacted = "***"

// redact replaces a non-empty string with the redacted placeholder.
func redact(s *string) {
	if *s != "" {
		*s = redacted
	}
}

func copySlice(in []string) []string {
	if in == nil {
		return nil
	}
	out := make([]string, len(in))
	copy(out, in)
	return out
}

func copyMap[V any](in map[string]V) map[string]V {
	if in == nil {
		return nil
	}
	out := make(map[string]V, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
