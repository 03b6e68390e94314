package execution

import (
	"fmt"
	"math"
	"strings"

	"github.com/alanyoungcy/perpbot/internal/domain"
	"github.com/alanyoungcy/perpbot/internal/exchange"
)

// DefaultSizeDecimals is the size precision used when none is configured.
const DefaultSizeDecimals = 6

// sizeEpsilon absorbs float noise when comparing order sizes.
const sizeEpsilon = 1e-9

// EntryPlan is a bounded, validated order derived from a decision.
type EntryPlan struct {
	Symbol      string
	Side        domain.Side
	Size        float64
	Price       float64
	StopLoss    float64
	TakeProfit  *float64
	Leverage    float64
	RiskUSD     float64
	MarginUSD   float64
	Liquidity   string
	Adjustments []string
}

// Notional returns the plan's size times price.
func (p EntryPlan) Notional() float64 { return p.Size * p.Price }

// ClosePlan is the resolved size of a close.
type ClosePlan struct {
	Symbol string
	Side   domain.Side
	Size   float64
	Full   bool
}

// PlanEntry sizes a decision from its risk budget and stop distance, then
// clamps risk, leverage and margin to limits. A zero limit is unbounded.
func PlanEntry(d domain.Decision, price float64, limits domain.RiskLimits, sizeDecimals int32) (EntryPlan, error) {
	side, ok := domain.ParseSide(d.Side)
	if !ok {
		return EntryPlan{}, fmt.Errorf("execution: plan %s: %w: unknown side %q", d.Symbol, domain.ErrInvalidOrder, d.Side)
	}
	if price <= 0 {
		return EntryPlan{}, fmt.Errorf("execution: plan %s: %w: no current price", d.Symbol, domain.ErrInvalidOrder)
	}
	if d.StopLoss <= 0 {
		return EntryPlan{}, fmt.Errorf("execution: plan %s: %w: stop-loss is required", d.Symbol, domain.ErrInvalidTarget)
	}
	var tp *float64
	if d.ProfitTarget > 0 {
		tp = domain.Float(d.ProfitTarget)
	}
	if err := ValidateTargets(side, price, domain.Float(d.StopLoss), tp); err != nil {
		return EntryPlan{}, fmt.Errorf("execution: plan %s: %w", d.Symbol, err)
	}
	if sizeDecimals <= 0 {
		sizeDecimals = DefaultSizeDecimals
	}

	plan := EntryPlan{
		Symbol:     d.Symbol,
		Side:       side,
		Price:      price,
		StopLoss:   d.StopLoss,
		TakeProfit: tp,
		Liquidity:  strings.ToLower(strings.TrimSpace(d.Liquidity)),
	}
	if plan.Liquidity == "" {
		plan.Liquidity = exchange.LiquidityTaker
	}
	distance := math.Abs(price - d.StopLoss)

	risk := d.RiskUSD
	switch {
	case risk <= 0 && d.Quantity > 0:
		risk = d.Quantity * distance
	case risk <= 0:
		return EntryPlan{}, fmt.Errorf("execution: plan %s: %w: neither risk_usd nor quantity given", d.Symbol, domain.ErrInvalidOrder)
	}
	if limits.MaxRiskUSD > 0 && risk > limits.MaxRiskUSD {
		plan.Adjustments = append(plan.Adjustments, fmt.Sprintf("risk_usd %.2f clamped to %.2f", risk, limits.MaxRiskUSD))
		risk = limits.MaxRiskUSD
	}

	size := risk / distance
	if d.Quantity > 0 && d.Quantity < size {
		size = d.Quantity
	}

	lev := d.Leverage
	if lev < 1 {
		lev = 1
	}
	if limits.MaxLeverage > 0 && lev > limits.MaxLeverage {
		plan.Adjustments = append(plan.Adjustments, fmt.Sprintf("leverage %.1fx clamped to %.1fx", lev, limits.MaxLeverage))
		lev = limits.MaxLeverage
	}
	// Exchanges take whole leverage values; flooring keeps the bound.
	if whole := math.Floor(lev); whole != lev && whole >= 1 {
		plan.Adjustments = append(plan.Adjustments, fmt.Sprintf("leverage %.2fx floored to %.0fx", lev, whole))
		lev = whole
	}

	if limits.MaxMarginUSD > 0 {
		if margin := size * price / lev; margin > limits.MaxMarginUSD {
			capped := limits.MaxMarginUSD * lev / price
			plan.Adjustments = append(plan.Adjustments, fmt.Sprintf("margin %.2f clamped to %.2f", margin, limits.MaxMarginUSD))
			size = capped
		}
	}

	size = exchange.FloorToDecimals(size, sizeDecimals)
	if size <= 0 {
		return EntryPlan{}, fmt.Errorf("execution: plan %s: %w: size rounds to zero", d.Symbol, domain.ErrInvalidOrder)
	}

	plan.Size = size
	plan.Leverage = lev
	plan.RiskUSD = size * distance
	plan.MarginUSD = size * price / lev
	return plan, nil
}

// PlanClose resolves amount against the position's size at call time. A nil
// amount, or one at least the open size, is a full close.
func PlanClose(pos domain.Position, amount *float64) (ClosePlan, error) {
	plan := ClosePlan{Symbol: pos.Symbol, Side: pos.Side, Size: pos.Size, Full: true}
	if amount == nil {
		return plan, nil
	}
	if *amount <= 0 || math.IsNaN(*amount) {
		return ClosePlan{}, fmt.Errorf("execution: close %s: %w: amount must be positive", pos.Symbol, domain.ErrInvalidOrder)
	}
	if *amount < pos.Size {
		plan.Size = *amount
		plan.Full = false
	}
	return plan, nil
}

// ValidateTargets enforces stop < current < take-profit for longs and the
// inverse for shorts. Nil targets are not checked.
func ValidateTargets(side domain.Side, current float64, sl, tp *float64) error {
	if current <= 0 {
		return fmt.Errorf("%w: no reference price to validate against", domain.ErrInvalidTarget)
	}
	if sl != nil {
		if *sl <= 0 {
			return fmt.Errorf("%w: stop-loss must be positive", domain.ErrInvalidTarget)
		}
		if side == domain.SideLong && *sl >= current {
			return fmt.Errorf("%w: stop-loss %s must be below current price %s for a long", domain.ErrInvalidTarget, fmtPrice(*sl), fmtPrice(current))
		}
		if side == domain.SideShort && *sl <= current {
			return fmt.Errorf("%w: stop-loss %s must be above current price %s for a short", domain.ErrInvalidTarget, fmtPrice(*sl), fmtPrice(current))
		}
	}
	if tp != nil {
		if *tp <= 0 {
			return fmt.Errorf("%w: take-profit must be positive", domain.ErrInvalidTarget)
		}
		if side == domain.SideLong && *tp <= current {
			return fmt.Errorf("%w: take-profit %s must be above current price %s for a long", domain.ErrInvalidTarget, fmtPrice(*tp), fmtPrice(current))
		}
		if side == domain.SideShort && *tp >= current {
			return fmt.Errorf("%w: take-profit %s must be below current price %s for a short", domain.ErrInvalidTarget, fmtPrice(*tp), fmtPrice(current))
		}
	}
	return nil
}

// TargetFromPercent returns entry moved by pct percent.
func TargetFromPercent(entry, pct float64) float64 {
	return entry * (1 + pct/100)
}

// StopBreached reports which protective level, if any, price has crossed.
func StopBreached(pos domain.Position, price float64) (string, bool) {
	if price <= 0 {
		return "", false
	}
	sl, tp := pos.StopLossPrice, pos.TakeProfitPrice
	if pos.IsLong() {
		if sl != nil && price <= *sl {
			return ReasonStopLoss, true
		}
		if tp != nil && price >= *tp {
			return ReasonTakeProfit, true
		}
		return "", false
	}
	if sl != nil && price >= *sl {
		return ReasonStopLoss, true
	}
	if tp != nil && price <= *tp {
		return ReasonTakeProfit, true
	}
	return "", false
}

func fmtPrice(v float64) string {
	return exchange.FormatFixed(v, 8)
}
