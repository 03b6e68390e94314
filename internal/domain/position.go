package domain

import (
	"strings"
	"time"
)

// Side is the direction of a perpetual futures position.
type Side string

const (
	SideLong  Side = "long"
	SideShort Side = "short"
)

// ParseSide normalises free-form side strings ("LONG", "buy", "sell") into a Side.
func ParseSide(s string) (Side, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "long", "buy":
		return SideLong, true
	case "short", "sell":
		return SideShort, true
	default:
		return "", false
	}
}

// Opposite returns the side that reduces a position of side s.
func (s Side) Opposite() Side {
	if s == SideLong {
		return SideShort
	}
	return SideLong
}

// IsBuy reports whether opening s requires a buy order.
func (s Side) IsBuy() bool { return s == SideLong }

// Backend identifies an exchange integration.
type Backend string

const (
	BackendPaper          Backend = "paper"
	BackendHyperliquid    Backend = "hyperliquid"
	BackendBinanceFutures Backend = "binance_futures"
)

// IsLive reports whether the backend places real orders.
func (b Backend) IsLive() bool { return b != "" && b != BackendPaper }

// Position is the single open exposure held for a symbol.
type Position struct {
	Symbol          string    `json:"symbol"`
	Side            Side      `json:"side"`
	Size            float64   `json:"size"`
	EntryPrice      float64   `json:"entry_price"`
	StopLossPrice   *float64  `json:"stop_loss_price,omitempty"`
	TakeProfitPrice *float64  `json:"take_profit_price,omitempty"`
	Leverage        float64   `json:"leverage"`
	RiskUSD         float64   `json:"risk_usd"`
	Confidence      float64   `json:"confidence"`
	LiveBackend     Backend   `json:"live_backend"`
	EntryOID        *string   `json:"entry_oid,omitempty"`
	TPOID           *string   `json:"tp_oid,omitempty"`
	SLOID           *string   `json:"sl_oid,omitempty"`
	CloseOID        *string   `json:"close_oid,omitempty"`
	OpenedAt        time.Time `json:"opened_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// IsLong returns true if the position is long.
func (p Position) IsLong() bool { return p.Side == SideLong }

// Notional returns the USD value of the position at its entry price.
func (p Position) Notional() float64 {
	if p.Size <= 0 || p.EntryPrice <= 0 {
		return 0
	}
	return p.Size * p.EntryPrice
}

// Margin returns the collateral committed to the position.
func (p Position) Margin() float64 {
	if p.Leverage <= 0 {
		return p.Notional()
	}
	return p.Notional() / p.Leverage
}

// UnrealizedPnL returns the mark-to-market profit at price.
func (p Position) UnrealizedPnL(price float64) float64 {
	diff := price - p.EntryPrice
	if p.Side == SideShort {
		diff = -diff
	}
	return diff * p.Size
}

// Clone returns a deep copy so callers never alias the book's pointers.
func (p Position) Clone() Position {
	out := p
	out.StopLossPrice = cloneFloat(p.StopLossPrice)
	out.TakeProfitPrice = cloneFloat(p.TakeProfitPrice)
	out.EntryOID = cloneString(p.EntryOID)
	out.TPOID = cloneString(p.TPOID)
	out.SLOID = cloneString(p.SLOID)
	out.CloseOID = cloneString(p.CloseOID)
	return out
}

func cloneFloat(v *float64) *float64 {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}

func cloneString(v *string) *string {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}

// Float returns a pointer to v.
func Float(v float64) *float64 { return &v }

// String returns a pointer to v, or nil for the empty string.
func String(v string) *string {
	if v == "" {
		return nil
	}
	return &v
}

// Deref returns the pointed-to value or the zero value.
func Deref[T any](v *T) T {
	var zero T
	if v == nil {
		return zero
	}
	return *v
}
