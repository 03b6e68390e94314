// Package exchange defines the backend-neutral order-execution contract and
// the adapters that do not talk to a real venue (paper and degraded).
package exchange

import (
	"context"

	"github.com/alanyoungcy/perpbot/internal/domain"
)

// Liquidity preferences accepted by EntryRequest.Liquidity.
const (
	LiquidityTaker = "taker"
	LiquidityMaker = "maker"
)

// EntryRequest is the unified input for opening a position.
type EntryRequest struct {
	Symbol          string
	Side            domain.Side
	Size            float64
	EntryPrice      float64
	StopLossPrice   *float64
	TakeProfitPrice *float64
	Leverage        float64
	Liquidity       string
	Params          map[string]any
}

// CloseRequest is the unified input for a reduce-only close. A nil Size
// closes the whole live position. Backend is where the position was opened;
// empty means unknown.
type CloseRequest struct {
	Symbol        string
	Side          domain.Side
	Size          *float64
	FallbackPrice *float64
	Backend       domain.Backend
	Params        map[string]any
}

// Client is implemented by every backend adapter. Implementations never
// return Go errors for exchange failures: every failure mode is reduced to
// the result's Errors list.
type Client interface {
	PlaceEntry(ctx context.Context, req EntryRequest) domain.EntryResult
	ClosePosition(ctx context.Context, req CloseRequest) domain.CloseResult
}

// TriggerUpdate describes the protective orders a position should carry.
type TriggerUpdate struct {
	Symbol          string
	Side            domain.Side
	Size            float64
	StopLossPrice   *float64
	TakeProfitPrice *float64
}

// TriggerResult is the outcome of replacing native protective orders.
type TriggerResult struct {
	Success   bool
	Errors    []string
	Cancelled int
	SLOID     *string
	TPOID     *string
}

// TriggerManager is implemented by backends that hold native stop-loss and
// take-profit orders. UpdateTriggers cancels the existing protective orders
// for the symbol and places the requested ones.
type TriggerManager interface {
	UpdateTriggers(ctx context.Context, upd TriggerUpdate) TriggerResult
}
