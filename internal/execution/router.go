// Package execution turns decisions and operator commands into bounded
// orders, sends them through the selected exchange client and applies
// successful results to the position book.
package execution

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/alanyoungcy/perpbot/internal/domain"
	"github.com/alanyoungcy/perpbot/internal/exchange"
	"github.com/alanyoungcy/perpbot/internal/position"
)

// Close reasons recorded on trade history.
const (
	ReasonStopLoss   = "stop_loss"
	ReasonTakeProfit = "take_profit"
	ReasonSignal     = "signal"
	ReasonManual     = "manual"
	ReasonCloseAll   = "close_all"
)

const noPositionToClose = "no position size to close"

// PriceSource returns the latest price for a symbol.
type PriceSource interface {
	Price(ctx context.Context, symbol string) (float64, bool)
}

// RiskGate exposes the current risk-control state.
type RiskGate interface {
	State() domain.RiskControlState
}

// Config bounds every entry the router submits.
type Config struct {
	Limits       domain.RiskLimits
	SizeDecimals int32
	Universe     []string
}

// EntryOutcome is the result of one entry attempt.
type EntryOutcome struct {
	Plan     EntryPlan
	Result   domain.EntryResult
	Position *domain.Position
}

// CloseOutcome is the result of one close attempt.
type CloseOutcome struct {
	Plan    ClosePlan
	Result  domain.CloseResult
	Applied position.CloseOutcome
	Flat    bool // the exchange had nothing left to close
}

// TargetsOutcome is the result of a stop-loss / take-profit update.
type TargetsOutcome struct {
	Position         domain.Position
	TriggersReplaced bool
	Advisory         string
}

// Router is the single entry point for order flow.
type Router struct {
	client   exchange.Client
	triggers exchange.TriggerManager
	backend  domain.Backend
	book     *position.Book
	risk     RiskGate
	prices   PriceSource
	events   domain.EventPublisher
	cfg      Config
	logger   *slog.Logger
}

// NewRouter creates a Router. triggers and events may be nil.
func NewRouter(
	client exchange.Client,
	triggers exchange.TriggerManager,
	backend domain.Backend,
	book *position.Book,
	risk RiskGate,
	prices PriceSource,
	events domain.EventPublisher,
	cfg Config,
	logger *slog.Logger,
) *Router {
	if cfg.SizeDecimals <= 0 {
		cfg.SizeDecimals = DefaultSizeDecimals
	}
	return &Router{
		client:   client,
		triggers: triggers,
		backend:  backend,
		book:     book,
		risk:     risk,
		prices:   prices,
		events:   events,
		cfg:      cfg,
		logger:   logger.With(slog.String("component", "router")),
	}
}

// Backend returns the backend orders are routed to.
func (r *Router) Backend() domain.Backend { return r.backend }

// Book returns the position book the router mutates.
func (r *Router) Book() *position.Book { return r.book }

// Universe returns the symbols eligible for new entries.
func (r *Router) Universe() []string { return r.cfg.Universe }

// CurrentPrice returns the latest price for symbol.
func (r *Router) CurrentPrice(ctx context.Context, symbol string) (float64, bool) {
	if r.prices == nil {
		return 0, false
	}
	return r.prices.Price(ctx, domain.BaseSymbol(symbol))
}

// Enter plans and submits an entry. Exchange failures are reported in the
// outcome's Result; a non-nil error means nothing was sent.
func (r *Router) Enter(ctx context.Context, d domain.Decision) (EntryOutcome, error) {
	if st := r.risk.State(); st.EntriesBlocked() {
		reason := st.KillSwitchReason
		if reason == "" && st.DailyLossTriggered {
			reason = "daily loss limit reached"
		}
		return EntryOutcome{}, fmt.Errorf("execution: entry %s: %w: %s", d.Symbol, domain.ErrKillSwitchActive, reason)
	}
	if !r.inUniverse(d.Symbol) {
		return EntryOutcome{}, fmt.Errorf("execution: entry %s: %w: symbol not in universe", d.Symbol, domain.ErrInvalidOrder)
	}
	if r.book.Has(d.Symbol) {
		return EntryOutcome{}, fmt.Errorf("execution: entry %s: %w", d.Symbol, domain.ErrAlreadyExists)
	}

	price, _ := r.CurrentPrice(ctx, d.Symbol)
	plan, err := PlanEntry(d, price, r.cfg.Limits, r.cfg.SizeDecimals)
	if err != nil {
		return EntryOutcome{}, err
	}
	if len(plan.Adjustments) > 0 {
		r.logger.InfoContext(ctx, "entry plan clamped",
			slog.String("symbol", plan.Symbol),
			slog.String("adjustments", strings.Join(plan.Adjustments, "; ")),
			slog.Float64("size", plan.Size),
			slog.Float64("leverage", plan.Leverage),
		)
	}

	res := r.client.PlaceEntry(ctx, exchange.EntryRequest{
		Symbol:          plan.Symbol,
		Side:            plan.Side,
		Size:            plan.Size,
		EntryPrice:      plan.Price,
		StopLossPrice:   domain.Float(plan.StopLoss),
		TakeProfitPrice: plan.TakeProfit,
		Leverage:        plan.Leverage,
		Liquidity:       plan.Liquidity,
	})
	out := EntryOutcome{Plan: plan, Result: res}

	if !res.Success {
		r.logger.WarnContext(ctx, "entry failed",
			slog.String("symbol", plan.Symbol),
			slog.String("side", string(plan.Side)),
			slog.Float64("size", plan.Size),
			slog.String("backend", string(res.Backend)),
			slog.String("errors", exchange.Summary(res.Errors)),
		)
		r.emit(ctx, domain.EventEntryFailed, plan.Symbol, "entry failed: "+exchange.Summary(res.Errors), map[string]any{
			"side": plan.Side, "size": plan.Size, "backend": res.Backend,
		})
		return out, nil
	}

	pos, err := r.book.ApplyEntry(ctx, domain.Position{
		Symbol:          plan.Symbol,
		Side:            plan.Side,
		Size:            plan.Size,
		EntryPrice:      plan.Price,
		StopLossPrice:   domain.Float(plan.StopLoss),
		TakeProfitPrice: plan.TakeProfit,
		Leverage:        plan.Leverage,
		RiskUSD:         plan.RiskUSD,
		Confidence:      d.Confidence,
	}, res)
	if err != nil {
		r.logger.ErrorContext(ctx, "entry filled but position not recorded",
			slog.String("symbol", plan.Symbol),
			slog.String("entry_oid", domain.Deref(res.EntryOID)),
			slog.String("error", err.Error()),
		)
		return out, nil
	}
	out.Position = &pos

	r.logger.InfoContext(ctx, "position opened",
		slog.String("symbol", pos.Symbol),
		slog.String("side", string(pos.Side)),
		slog.Float64("size", pos.Size),
		slog.Float64("entry_price", pos.EntryPrice),
		slog.String("backend", string(pos.LiveBackend)),
		slog.String("entry_oid", domain.Deref(pos.EntryOID)),
	)
	r.emit(ctx, domain.EventPositionOpened, pos.Symbol,
		fmt.Sprintf("%s %s %s @ %s", strings.ToUpper(string(pos.Side)), exchange.FormatDecimal(pos.Size), pos.Symbol, exchange.FormatDecimal(pos.EntryPrice)),
		map[string]any{"leverage": pos.Leverage, "risk_usd": pos.RiskUSD, "backend": pos.LiveBackend},
	)

	if len(res.Errors) > 0 {
		r.logger.WarnContext(ctx, "entry filled with protection advisories",
			slog.String("symbol", pos.Symbol),
			slog.String("errors", exchange.Summary(res.Errors)),
		)
		r.emit(ctx, domain.EventProtectionDegraded, pos.Symbol,
			"entry filled but protective orders failed; stop-loss is enforced by polling: "+exchange.Summary(res.Errors), nil)
	}
	return out, nil
}

// Close closes amount of the symbol's position; nil closes all of it. The
// kill switch does not apply: closing never adds risk.
func (r *Router) Close(ctx context.Context, symbol string, amount *float64, reason string) (CloseOutcome, error) {
	pos, ok := r.book.Get(symbol)
	if !ok {
		return CloseOutcome{}, fmt.Errorf("execution: close %s: %w", symbol, domain.ErrNoPosition)
	}
	plan, err := PlanClose(pos, amount)
	if err != nil {
		return CloseOutcome{}, err
	}

	if pos.LiveBackend.IsLive() && pos.LiveBackend != r.backend {
		msg := fmt.Sprintf("close: position is held on %s but the active backend is %s", pos.LiveBackend, r.backend)
		res := domain.CloseResult{Backend: pos.LiveBackend, Errors: []string{msg}}
		r.logger.ErrorContext(ctx, "close refused, position backend not active",
			slog.String("symbol", pos.Symbol),
			slog.String("position_backend", string(pos.LiveBackend)),
			slog.String("backend", string(r.backend)),
		)
		r.emit(ctx, domain.EventCloseFailed, pos.Symbol, "close failed: "+msg, map[string]any{
			"reason": reason, "size": plan.Size, "backend": pos.LiveBackend,
		})
		return CloseOutcome{Plan: plan, Result: res}, nil
	}

	fallback := pos.EntryPrice
	if px, ok := r.CurrentPrice(ctx, pos.Symbol); ok && px > 0 {
		fallback = px
	}

	size := plan.Size
	res := r.client.ClosePosition(ctx, exchange.CloseRequest{
		Symbol:        pos.Symbol,
		Side:          pos.Side,
		Size:          &size,
		FallbackPrice: domain.Float(fallback),
		Backend:       pos.LiveBackend,
	})
	out := CloseOutcome{Plan: plan, Result: res}

	if !res.Success {
		r.logger.WarnContext(ctx, "close failed",
			slog.String("symbol", pos.Symbol),
			slog.String("side", string(pos.Side)),
			slog.Float64("size", plan.Size),
			slog.String("backend", string(res.Backend)),
			slog.String("errors", exchange.Summary(res.Errors)),
		)
		r.emit(ctx, domain.EventCloseFailed, pos.Symbol, "close failed: "+exchange.Summary(res.Errors), map[string]any{
			"reason": reason, "size": plan.Size, "backend": res.Backend,
		})
		return out, nil
	}

	if why, _ := res.Extra["reason"].(string); why == noPositionToClose {
		out.Flat = true
		r.book.Remove(ctx, pos.Symbol, "exchange reports no open size")
		r.emit(ctx, domain.EventPositionClosed, pos.Symbol, "position already flat on exchange; removed locally", nil)
		return out, nil
	}

	var closed *float64
	if !plan.Full {
		closed = domain.Float(plan.Size)
	}
	if filled := res.FilledSize(plan.Size); filled < plan.Size-sizeEpsilon {
		r.logger.WarnContext(ctx, "close partially filled",
			slog.String("symbol", pos.Symbol),
			slog.Float64("requested", plan.Size),
			slog.Float64("filled", filled),
		)
		closed = domain.Float(filled)
	}
	applied, err := r.book.ApplyClose(ctx, pos.Symbol, closed, res.FillPrice(fallback), reason, res)
	if err != nil {
		if errors.Is(err, domain.ErrNoPosition) {
			r.logger.WarnContext(ctx, "position closed concurrently", slog.String("symbol", pos.Symbol))
			return out, nil
		}
		return out, err
	}
	out.Applied = applied

	evType := domain.EventPositionReduced
	msg := fmt.Sprintf("reduced %s by %s, %s remaining", pos.Symbol, exchange.FormatDecimal(applied.Closed), exchange.FormatDecimal(applied.Remaining))
	if applied.Full {
		evType = domain.EventPositionClosed
		msg = fmt.Sprintf("closed %s %s", strings.ToUpper(string(pos.Side)), pos.Symbol)
	}
	detail := map[string]any{"reason": reason, "backend": res.Backend}
	if applied.Trade != nil {
		detail["realized_pnl"] = applied.Trade.RealizedPnL
		detail["exit_price"] = applied.Trade.ExitPrice
		msg += fmt.Sprintf(" (pnl %.2f)", applied.Trade.RealizedPnL)
	}
	r.logger.InfoContext(ctx, "position close applied",
		slog.String("symbol", pos.Symbol),
		slog.Bool("full", applied.Full),
		slog.Float64("closed", applied.Closed),
		slog.String("reason", reason),
	)
	r.emit(ctx, evType, pos.Symbol, msg, detail)
	return out, nil
}

// UpdateTargets validates and stores new stop-loss and/or take-profit values
// in one step. When the position lives on a backend with native triggers,
// those are cancelled and replaced afterwards; a failed replace is reported
// as an advisory since polling still enforces the stored values.
func (r *Router) UpdateTargets(ctx context.Context, symbol string, sl, tp *float64, current float64) (TargetsOutcome, error) {
	pos, ok := r.book.Get(symbol)
	if !ok {
		return TargetsOutcome{}, fmt.Errorf("execution: update targets %s: %w", symbol, domain.ErrNoPosition)
	}
	if sl == nil && tp == nil {
		return TargetsOutcome{}, fmt.Errorf("execution: update targets %s: %w: nothing to update", symbol, domain.ErrInvalidTarget)
	}
	if err := ValidateTargets(pos.Side, current, sl, tp); err != nil {
		return TargetsOutcome{}, fmt.Errorf("execution: update targets %s: %w", symbol, err)
	}

	updated, err := r.book.UpdateTargets(ctx, pos.Symbol, sl, tp)
	if err != nil {
		return TargetsOutcome{}, err
	}
	out := TargetsOutcome{Position: updated}
	r.emit(ctx, domain.EventTargetsUpdated, updated.Symbol, fmt.Sprintf("%s sl=%s tp=%s", updated.Symbol,
		fmtOptional(updated.StopLossPrice), fmtOptional(updated.TakeProfitPrice)), nil)

	if r.triggers == nil || !updated.LiveBackend.IsLive() || updated.LiveBackend != r.backend {
		return out, nil
	}

	tr := r.triggers.UpdateTriggers(ctx, exchange.TriggerUpdate{
		Symbol:          updated.Symbol,
		Side:            updated.Side,
		Size:            updated.Size,
		StopLossPrice:   updated.StopLossPrice,
		TakeProfitPrice: updated.TakeProfitPrice,
	})
	if !tr.Success {
		out.Advisory = "exchange trigger orders not replaced: " + exchange.Summary(tr.Errors)
		r.logger.WarnContext(ctx, "trigger replace failed",
			slog.String("symbol", updated.Symbol),
			slog.Int("cancelled", tr.Cancelled),
			slog.String("errors", exchange.Summary(tr.Errors)),
		)
		r.emit(ctx, domain.EventProtectionDegraded, updated.Symbol, out.Advisory, nil)
	} else {
		out.TriggersReplaced = true
	}
	if tr.SLOID != nil || tr.TPOID != nil {
		if err := r.book.SetTriggerOIDs(ctx, updated.Symbol, tr.SLOID, tr.TPOID); err == nil {
			if p, ok := r.book.Get(updated.Symbol); ok {
				out.Position = p
			}
		}
	}
	return out, nil
}

// CheckStops closes every position whose stop-loss or take-profit has been
// crossed by the latest price.
func (r *Router) CheckStops(ctx context.Context) []CloseOutcome {
	var out []CloseOutcome
	for _, pos := range r.book.Snapshot() {
		price, ok := r.CurrentPrice(ctx, pos.Symbol)
		if !ok {
			r.logger.DebugContext(ctx, "no price for stop check", slog.String("symbol", pos.Symbol))
			continue
		}
		reason, hit := StopBreached(pos, price)
		if !hit {
			continue
		}
		r.logger.InfoContext(ctx, "protective level crossed",
			slog.String("symbol", pos.Symbol),
			slog.String("reason", reason),
			slog.Float64("price", price),
		)
		res, err := r.Close(ctx, pos.Symbol, nil, reason)
		if err != nil {
			r.logger.WarnContext(ctx, "stop close skipped",
				slog.String("symbol", pos.Symbol),
				slog.String("error", err.Error()),
			)
			continue
		}
		out = append(out, res)
	}
	return out
}

// DecisionSummary counts what ProcessDecisions did.
type DecisionSummary struct {
	Entries  int
	Closes   int
	Holds    int
	Rejected int
	Failed   int
}

// ProcessDecisions executes decisions in order. A failure on one symbol is
// logged and never stops the rest.
func (r *Router) ProcessDecisions(ctx context.Context, decisions []domain.Decision) DecisionSummary {
	var sum DecisionSummary
	for _, d := range decisions {
		log := r.logger.With(slog.String("symbol", d.Symbol), slog.String("signal", string(d.Signal)))

		switch domain.Signal(strings.ToLower(string(d.Signal))) {
		case domain.SignalEntry:
			if r.book.Has(d.Symbol) {
				log.DebugContext(ctx, "entry ignored, position already open")
				sum.Holds++
				continue
			}
			out, err := r.Enter(ctx, d)
			if err != nil {
				sum.Rejected++
				if errors.Is(err, domain.ErrKillSwitchActive) {
					log.InfoContext(ctx, "entry blocked by kill switch", slog.String("reason", err.Error()))
				} else {
					log.WarnContext(ctx, "entry rejected", slog.String("error", err.Error()))
				}
				continue
			}
			if out.Position != nil {
				sum.Entries++
			} else {
				sum.Failed++
			}

		case domain.SignalClose:
			if !r.book.Has(d.Symbol) {
				log.DebugContext(ctx, "close ignored, no position")
				sum.Holds++
				continue
			}
			out, err := r.Close(ctx, d.Symbol, nil, ReasonSignal)
			if err != nil {
				sum.Rejected++
				log.WarnContext(ctx, "close rejected", slog.String("error", err.Error()))
				continue
			}
			if out.Result.Success {
				sum.Closes++
			} else {
				sum.Failed++
			}

		default:
			sum.Holds++
		}
	}
	return sum
}

// WarnOrphans logs open positions whose symbol left the universe. They stay
// under stop-loss management but receive no new entries.
func (r *Router) WarnOrphans(ctx context.Context) []string {
	orphans := r.book.Orphans(r.cfg.Universe)
	for _, s := range orphans {
		r.logger.WarnContext(ctx, "open position outside trading universe",
			slog.String("symbol", s),
		)
	}
	return orphans
}

func (r *Router) inUniverse(symbol string) bool {
	if len(r.cfg.Universe) == 0 {
		return true
	}
	for _, s := range r.cfg.Universe {
		if domain.SameSymbol(s, symbol) {
			return true
		}
	}
	return false
}

func (r *Router) emit(ctx context.Context, typ domain.EventType, symbol, msg string, detail map[string]any) {
	if r.events == nil {
		return
	}
	r.events.PublishEvent(ctx, domain.Event{
		Type:      typ,
		Symbol:    symbol,
		Message:   msg,
		Detail:    detail,
		CreatedAt: time.Now().UTC(),
	})
}

func fmtOptional(v *float64) string {
	if v == nil {
		return "-"
	}
	return exchange.FormatDecimal(*v)
}
