package control

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/alanyoungcy/perpbot/internal/domain"
	"github.com/alanyoungcy/perpbot/internal/exchange"
	"github.com/alanyoungcy/perpbot/internal/execution"
)

// leg is one protective level: stop-loss or take-profit.
type leg struct {
	name   string // command name and action prefix
	label  string
	action string
}

var (
	legSL = leg{name: "sl", label: "Stop-loss", action: "TELEGRAM_SL_UPDATE"}
	legTP = leg{name: "tp", label: "Take-profit", action: "TELEGRAM_TP_UPDATE"}
)

func (l leg) tag(suffix string) string { return strings.ToUpper(l.name) + "_" + suffix }

// defaultArg builds the percentage used when only a symbol is given: the
// stop sits below entry for a long and above for a short, the take-profit
// the other way round.
func (d *Dispatcher) defaultArg(l leg, side domain.Side) string {
	pct := d.cfg.DefaultSLPct
	below := side != domain.SideShort
	if l.name == "tp" {
		pct = d.cfg.DefaultTPPct
		below = !below
	}
	if below {
		pct = -pct
	}
	return strconv.FormatFloat(pct, 'f', -1, 64) + "%"
}

func (d *Dispatcher) handleSL(ctx context.Context, cmd domain.Command) domain.CommandResult {
	return d.handleTarget(ctx, cmd, legSL)
}

func (d *Dispatcher) handleTP(ctx context.Context, cmd domain.Command) domain.CommandResult {
	return d.handleTarget(ctx, cmd, legTP)
}

// referencePrice returns the price targets are validated against: the live
// price, or the entry price when none is available and pct mode is not
// involved.
func (d *Dispatcher) referencePrice(ctx context.Context, pos domain.Position) (float64, bool) {
	if px, ok := d.exec.CurrentPrice(ctx, pos.Symbol); ok && px > 0 {
		return px, true
	}
	return pos.EntryPrice, false
}

func (d *Dispatcher) handleTarget(ctx context.Context, cmd domain.Command, l leg) domain.CommandResult {
	raw := cmd.Args
	if len(raw) == 1 {
		side := domain.SideLong
		if p, ok := d.positions.Get(raw[0]); ok {
			side = p.Side
		}
		raw = []string{raw[0], d.defaultArg(l, side)}
	}
	args, err := parseTargetArgs(l.name, raw)
	if err != nil {
		return domain.CommandResult{Action: l.tag("PARSE_ERROR"), Message: err.Error()}
	}

	pos, ok := d.positions.Get(args.symbol)
	if !ok {
		return noPosition(l.tag("NO_POSITION"), args.symbol, "cannot set "+strings.ToLower(l.label))
	}
	current, live := d.referencePrice(ctx, pos)
	if args.mode == modePercent && !live {
		return domain.CommandResult{
			Action:  l.tag("NO_PRICE_FOR_PCT"),
			Message: fmt.Sprintf("No current price for %s, percentage mode unavailable. Use an absolute price, e.g. /%s %s price VALUE.", pos.Symbol, l.name, pos.Symbol),
		}
	}
	if current <= 0 {
		return domain.CommandResult{
			Action:  l.tag("NO_PRICE"),
			Message: fmt.Sprintf("No price available for %s, try again shortly.", pos.Symbol),
		}
	}

	target := args.value
	if args.mode == modePercent {
		target = execution.TargetFromPercent(pos.EntryPrice, args.value)
	}
	var sl, tp *float64
	old := pos.StopLossPrice
	if l.name == "sl" {
		sl = &target
	} else {
		tp = &target
		old = pos.TakeProfitPrice
	}

	out, err := d.exec.UpdateTargets(ctx, pos.Symbol, sl, tp, current)
	if res, done := d.targetError(ctx, err, l.tag("VALIDATION_FAILED"), l.tag("NO_POSITION"), l.tag("UPDATE_FAILED"), pos, target, current); done {
		return res
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s for %s %s set to %s (%s from current %s)\n", l.label, strings.ToUpper(string(pos.Side)), pos.Symbol,
		exchange.FormatDecimal(target), distance(target, current), exchange.FormatDecimal(current))
	fmt.Fprintf(&b, "Previous: %s", describeLevel(old, current))
	appendAdvisory(&b, out)
	return domain.CommandResult{Success: true, StateChanged: true, Action: l.action, Message: b.String()}
}

const (
	ActionTPSLParseError    = "TPSL_PARSE_ERROR"
	ActionTPSLNoPosition    = "TPSL_NO_POSITION"
	ActionTPSLNoPriceForPct = "TPSL_NO_PRICE_FOR_PCT"
	ActionTPSLNoPrice       = "TPSL_NO_PRICE"
	ActionTPSLSLValidation  = "TPSL_SL_VALIDATION_FAILED"
	ActionTPSLTPValidation  = "TPSL_TP_VALIDATION_FAILED"
	ActionTPSLUpdateFailed  = "TPSL_UPDATE_FAILED"
	ActionTPSLUpdate        = "TELEGRAM_TPSL_UPDATE"
	ActionTPSLValidation    = "TPSL_VALIDATION_FAILED"
)

func (d *Dispatcher) handleTPSL(ctx context.Context, cmd domain.Command) domain.CommandResult {
	raw := cmd.Args
	if len(raw) == 1 {
		side := domain.SideLong
		if p, ok := d.positions.Get(raw[0]); ok {
			side = p.Side
		}
		raw = []string{raw[0], d.defaultArg(legSL, side), d.defaultArg(legTP, side)}
	}
	args, err := parseTPSLArgs(raw)
	if err != nil {
		return domain.CommandResult{Action: ActionTPSLParseError, Message: err.Error()}
	}

	pos, ok := d.positions.Get(args.symbol)
	if !ok {
		return noPosition(ActionTPSLNoPosition, args.symbol, "cannot set stop-loss/take-profit")
	}
	current, live := d.referencePrice(ctx, pos)
	if args.mode == modePercent && !live {
		return domain.CommandResult{
			Action:  ActionTPSLNoPriceForPct,
			Message: fmt.Sprintf("No current price for %s, percentage mode unavailable. Use absolute prices, e.g. /tpsl %s SL TP.", pos.Symbol, pos.Symbol),
		}
	}
	if current <= 0 {
		return domain.CommandResult{
			Action:  ActionTPSLNoPrice,
			Message: fmt.Sprintf("No price available for %s, try again shortly.", pos.Symbol),
		}
	}

	sl, tp := args.sl, args.tp
	if args.mode == modePercent {
		sl = execution.TargetFromPercent(pos.EntryPrice, args.sl)
		tp = execution.TargetFromPercent(pos.EntryPrice, args.tp)
	}

	// Both legs are checked before anything is written.
	if err := execution.ValidateTargets(pos.Side, current, &sl, nil); err != nil {
		return d.validationFailed(ctx, ActionTPSLSLValidation, pos, sl, current, err)
	}
	if err := execution.ValidateTargets(pos.Side, current, nil, &tp); err != nil {
		return d.validationFailed(ctx, ActionTPSLTPValidation, pos, tp, current, err)
	}

	out, err := d.exec.UpdateTargets(ctx, pos.Symbol, &sl, &tp, current)
	if res, done := d.targetError(ctx, err, ActionTPSLValidation, ActionTPSLNoPosition, ActionTPSLUpdateFailed, pos, sl, current); done {
		return res
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Targets for %s %s updated (current %s)\n", strings.ToUpper(string(pos.Side)), pos.Symbol, exchange.FormatDecimal(current))
	fmt.Fprintf(&b, "Stop-loss: %s (%s), previous %s\n", exchange.FormatDecimal(sl), distance(sl, current), describeLevel(pos.StopLossPrice, current))
	fmt.Fprintf(&b, "Take-profit: %s (%s), previous %s", exchange.FormatDecimal(tp), distance(tp, current), describeLevel(pos.TakeProfitPrice, current))
	appendAdvisory(&b, out)
	return domain.CommandResult{Success: true, StateChanged: true, Action: ActionTPSLUpdate, Message: b.String()}
}

// targetError maps an UpdateTargets error to a result. done is false when
// err is nil.
func (d *Dispatcher) targetError(
	ctx context.Context,
	err error,
	validationAction, noPositionAction, failedAction string,
	pos domain.Position,
	target, current float64,
) (domain.CommandResult, bool) {
	switch {
	case err == nil:
		return domain.CommandResult{}, false
	case errors.Is(err, domain.ErrInvalidTarget):
		return d.validationFailed(ctx, validationAction, pos, target, current, err), true
	case errors.Is(err, domain.ErrNoPosition):
		return noPosition(noPositionAction, pos.Symbol, "nothing updated"), true
	default:
		d.logger.ErrorContext(ctx, "target update failed",
			slog.String("symbol", pos.Symbol),
			slog.String("error", err.Error()),
		)
		return domain.CommandResult{
			Action:  failedAction,
			Message: fmt.Sprintf("Could not update %s, nothing changed. Try again or check /positions.", pos.Symbol),
		}, true
	}
}

func (d *Dispatcher) validationFailed(ctx context.Context, action string, pos domain.Position, target, current float64, err error) domain.CommandResult {
	d.logger.WarnContext(ctx, "target validation failed",
		slog.String("action", action),
		slog.String("symbol", pos.Symbol),
		slog.String("side", string(pos.Side)),
		slog.Float64("current_price", current),
		slog.Float64("target", target),
		slog.String("error", err.Error()),
	)
	return domain.CommandResult{Action: action, Message: userError(err)}
}

func appendAdvisory(b *strings.Builder, out execution.TargetsOutcome) {
	if out.TriggersReplaced {
		b.WriteString("\nExchange trigger orders replaced.")
	}
	if out.Advisory != "" {
		b.WriteString("\nWarning: " + truncate(out.Advisory, 160) + ". Polling still enforces the new levels.")
	}
}

// distance renders (target-current)/current as a signed percentage.
func distance(target, current float64) string {
	if current <= 0 {
		return "n/a"
	}
	return fmt.Sprintf("%+.2f%%", (target-current)/current*100)
}

func describeLevel(v *float64, current float64) string {
	if v == nil || *v <= 0 {
		return "not set"
	}
	return fmt.Sprintf("%s (%s)", exchange.FormatDecimal(*v), distance(*v, current))
}
