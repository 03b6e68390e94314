package domain

import "strings"

// quoteSuffixes are stripped, longest first, when reducing an exchange
// symbol to its base coin.
var quoteSuffixes = []string{"_USDC_PERP", "_USDT_PERP", "USDT", "USDC", "USD"}

// BaseSymbol reduces "btcusdt", "BTC_USDC_PERP" or "BTC" to "BTC".
func BaseSymbol(symbol string) string {
	s := strings.ToUpper(strings.TrimSpace(symbol))
	for _, suffix := range quoteSuffixes {
		if len(s) > len(suffix) && strings.HasSuffix(s, suffix) {
			s = strings.TrimSuffix(s, suffix)
			break
		}
	}
	if i := strings.Index(s, "_"); i > 0 {
		s = s[:i]
	}
	return s
}

// SameSymbol reports whether a and b name the same base coin.
func SameSymbol(a, b string) bool {
	return BaseSymbol(a) == BaseSymbol(b)
}
