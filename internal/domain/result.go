package domain

// EntryResult is the outcome of one entry attempt against a backend.
// Success means the exchange accepted the primary order; protective trigger
// failures are reported in Errors even when Success is true.
type EntryResult struct {
	Success  bool
	Backend  Backend
	Errors   []string
	EntryOID *string
	TPOID    *string
	SLOID    *string
	Raw      any
	Extra    map[string]any
}

// CloseResult is the outcome of one reduce-only close attempt.
type CloseResult struct {
	Success  bool
	Backend  Backend
	Errors   []string
	CloseOID *string
	Raw      any
	Extra    map[string]any
}

// FillPrice returns the reported fill price from Extra, or fallback.
func (r EntryResult) FillPrice(fallback float64) float64 {
	return extraFloat(r.Extra, "fill_price", fallback)
}

// FillPrice returns the reported fill price from Extra, or fallback.
func (r CloseResult) FillPrice(fallback float64) float64 {
	return extraFloat(r.Extra, "fill_price", fallback)
}

// FilledSize returns the size the exchange reported as filled, or fallback.
func (r EntryResult) FilledSize(fallback float64) float64 {
	return extraFloat(r.Extra, "filled_size", fallback)
}

// FilledSize returns the size the exchange reported as filled, or fallback.
func (r CloseResult) FilledSize(fallback float64) float64 {
	return extraFloat(r.Extra, "filled_size", fallback)
}

func extraFloat(extra map[string]any, key string, fallback float64) float64 {
	if extra == nil {
		return fallback
	}
	switch v := extra[key].(type) {
	case float64:
		if v > 0 {
			return v
		}
	case float32:
		if v > 0 {
			return float64(v)
		}
	}
	return fallback
}
