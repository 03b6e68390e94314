package domain

import "time"

// Signal is the action an upstream decision requests for a symbol.
type Signal string

const (
	SignalEntry Signal = "entry"
	SignalClose Signal = "close"
	SignalHold  Signal = "hold"
)

// Decision is one per-symbol instruction from the decision source. Every
// numeric field is untrusted and re-validated before use.
type Decision struct {
	ID            string    `json:"id"`
	Symbol        string    `json:"symbol"`
	Signal        Signal    `json:"signal"`
	Side          string    `json:"side"`
	Quantity      float64   `json:"quantity"`
	StopLoss      float64   `json:"stop_loss"`
	ProfitTarget  float64   `json:"profit_target"`
	Leverage      float64   `json:"leverage"`
	Confidence    float64   `json:"confidence"`
	RiskUSD       float64   `json:"risk_usd"`
	Liquidity     string    `json:"liquidity"`
	Justification string    `json:"justification"`
	CreatedAt     time.Time `json:"created_at"`
}
