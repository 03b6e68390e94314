package domain

import "time"

// TradeRecord is an immutable row of trade history written on every close.
type TradeRecord struct {
	ID          string    `json:"id"`
	Symbol      string    `json:"symbol"`
	Side        Side      `json:"side"`
	Size        float64   `json:"size"`
	EntryPrice  float64   `json:"entry_price"`
	ExitPrice   float64   `json:"exit_price"`
	RealizedPnL float64   `json:"realized_pnl"`
	Leverage    float64   `json:"leverage"`
	Backend     Backend   `json:"backend"`
	EntryOID    *string   `json:"entry_oid,omitempty"`
	CloseOID    *string   `json:"close_oid,omitempty"`
	Reason      string    `json:"reason"`
	OpenedAt    time.Time `json:"opened_at"`
	ClosedAt    time.Time `json:"closed_at"`
}
