package control

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/alanyoungcy/perpbot/internal/domain"
	"github.com/alanyoungcy/perpbot/internal/exchange"
	"github.com/alanyoungcy/perpbot/internal/execution"
)

const (
	ActionCloseParseError   = "CLOSE_PARSE_ERROR"
	ActionCloseNoPosition   = "CLOSE_NO_POSITION"
	ActionClose             = "TELEGRAM_CLOSE"
	ActionCloseFailed       = "CLOSE_FAILED"
	ActionCloseAllParse     = "CLOSE_ALL_PARSE_ERROR"
	ActionCloseAllPreview   = "CLOSE_ALL_PREVIEW"
	ActionCloseAllNone      = "CLOSE_ALL_NO_POSITIONS"
	ActionCloseAllNoneConf  = "CLOSE_ALL_NO_POSITIONS_CONFIRM"
	ActionCloseAllNoPreview = "CLOSE_ALL_PREVIEW_REQUIRED"
	ActionCloseAllExecuted  = "CLOSE_ALL_EXECUTED"
	ActionCloseAllFailed    = "CLOSE_ALL_FAILED"
	ActionCloseAllPartial   = "CLOSE_ALL_PARTIAL"
)

// maxListedFailures caps the per-symbol failures spelled out in a
// close_all reply; the rest are in the logs.
const maxListedFailures = 3

func (d *Dispatcher) handleClose(ctx context.Context, cmd domain.Command) domain.CommandResult {
	args, err := parseCloseArgs(cmd.Args)
	if err != nil {
		return domain.CommandResult{Action: ActionCloseParseError, Message: err.Error()}
	}
	pos, ok := d.positions.Get(args.symbol)
	if !ok {
		return noPosition(ActionCloseNoPosition, args.symbol, "nothing to close")
	}

	amount := args.amount
	if amount != nil && args.percent {
		amount = domain.Float(pos.Size * *amount / 100)
	}
	out, err := d.exec.Close(ctx, pos.Symbol, amount, execution.ReasonManual)
	switch {
	case errors.Is(err, domain.ErrNoPosition):
		return noPosition(ActionCloseNoPosition, args.symbol, "nothing to close")
	case err != nil:
		d.logger.WarnContext(ctx, "close rejected",
			slog.String("symbol", pos.Symbol),
			slog.String("error", err.Error()),
		)
		return domain.CommandResult{Action: ActionCloseFailed, Message: "Close rejected: " + userError(err)}
	}
	if !out.Result.Success {
		return domain.CommandResult{
			Action:  ActionCloseFailed,
			Message: fmt.Sprintf("Close %s failed: %s\nCheck /positions and retry.", pos.Symbol, shortErrors(out.Result.Errors)),
		}
	}
	if out.Flat {
		return domain.CommandResult{
			Success:      true,
			StateChanged: true,
			Action:       ActionClose,
			Message:      fmt.Sprintf("%s was already flat on the exchange; local position removed.", pos.Symbol),
		}
	}

	var b strings.Builder
	if out.Applied.Full {
		fmt.Fprintf(&b, "Closed %s %s, size %s", strings.ToUpper(string(pos.Side)), pos.Symbol, exchange.FormatDecimal(out.Applied.Closed))
	} else {
		fmt.Fprintf(&b, "Reduced %s %s by %s, %s remaining", strings.ToUpper(string(pos.Side)), pos.Symbol,
			exchange.FormatDecimal(out.Applied.Closed), exchange.FormatDecimal(out.Applied.Remaining))
	}
	if t := out.Applied.Trade; t != nil {
		fmt.Fprintf(&b, "\nExit %s, realized PnL %+.2f USD", exchange.FormatDecimal(t.ExitPrice), t.RealizedPnL)
	}
	return domain.CommandResult{Success: true, StateChanged: true, Action: ActionClose, Message: b.String()}
}

type closeAllItem struct {
	symbol   string
	side     domain.Side
	size     float64
	notional float64
	err      string
}

func (d *Dispatcher) handleCloseAll(ctx context.Context, cmd domain.Command) domain.CommandResult {
	args, err := parseCloseAllArgs(cmd.Args)
	if err != nil {
		return domain.CommandResult{Action: ActionCloseAllParse, Message: err.Error()}
	}

	if !args.confirm {
		targets := filterScope(d.positions.Snapshot(), args.scope)
		if len(targets) == 0 {
			return domain.CommandResult{
				Success: true,
				Action:  ActionCloseAllNone,
				Message: fmt.Sprintf("No %s positions. Use /positions to check.", scopeLabel(args.scope)),
			}
		}
		d.rememberPreview(cmd.Caller, args.scope)
		return domain.CommandResult{
			Success: true,
			Action:  ActionCloseAllPreview,
			Message: previewMessage(targets, args.scope),
		}
	}

	if !d.consumePreview(cmd.Caller, args.scope) {
		return domain.CommandResult{
			Action:  ActionCloseAllNoPreview,
			Message: fmt.Sprintf("Preview expired or missing. Run %s first, then confirm.", closeAllCommand(args.scope, false)),
		}
	}

	// Re-read the book: the preview may be stale.
	targets := filterScope(d.positions.Snapshot(), args.scope)
	if len(targets) == 0 {
		return domain.CommandResult{
			Success: true,
			Action:  ActionCloseAllNoneConf,
			Message: fmt.Sprintf("No %s positions; nothing was closed. They may have hit a stop already. Use /positions to check.", scopeLabel(args.scope)),
		}
	}

	d.logger.InfoContext(ctx, "close_all starting",
		slog.String("scope", args.scope),
		slog.Int("positions", len(targets)),
	)
	var ok, failed []closeAllItem
	for _, pos := range targets {
		item := closeAllItem{symbol: pos.Symbol, side: pos.Side, size: pos.Size, notional: pos.Notional()}
		if pos.Size <= 0 {
			d.logger.InfoContext(ctx, "close_all skipping zero size", slog.String("symbol", pos.Symbol))
			continue
		}
		out, err := d.exec.Close(ctx, pos.Symbol, nil, execution.ReasonCloseAll)
		switch {
		case errors.Is(err, domain.ErrNoPosition):
			d.logger.InfoContext(ctx, "close_all position already gone", slog.String("symbol", pos.Symbol))
			continue
		case err != nil:
			item.err = userError(err)
		case !out.Result.Success:
			item.err = shortErrors(out.Result.Errors)
		}
		if item.err != "" {
			d.logger.WarnContext(ctx, "close_all symbol failed",
				slog.String("symbol", pos.Symbol),
				slog.String("side", string(pos.Side)),
				slog.Float64("size", pos.Size),
				slog.Float64("notional", item.notional),
				slog.String("error", item.err),
			)
			failed = append(failed, item)
			continue
		}
		ok = append(ok, item)
	}

	action := ActionCloseAllExecuted
	switch {
	case len(failed) > 0 && len(ok) == 0:
		action = ActionCloseAllFailed
	case len(failed) > 0:
		action = ActionCloseAllPartial
	}
	d.logger.InfoContext(ctx, "close_all finished",
		slog.String("scope", args.scope),
		slog.Int("closed", len(ok)),
		slog.Int("failed", len(failed)),
	)
	return domain.CommandResult{
		Success:      len(failed) == 0,
		StateChanged: len(ok) > 0,
		Action:       action,
		Message:      closeAllMessage(ok, failed, args.scope),
	}
}

func (d *Dispatcher) rememberPreview(caller, scope string) {
	if d.cfg.ConfirmWindow <= 0 {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.previews[caller] = preview{scope: scope, at: d.now()}
}

// consumePreview reports whether a confirm may proceed. Without a confirm
// window every confirm proceeds.
func (d *Dispatcher) consumePreview(caller, scope string) bool {
	if d.cfg.ConfirmWindow <= 0 {
		return true
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	p, ok := d.previews[caller]
	delete(d.previews, caller)
	return ok && p.scope == scope && d.now().Sub(p.at) <= d.cfg.ConfirmWindow
}

func filterScope(positions []domain.Position, scope string) []domain.Position {
	out := make([]domain.Position, 0, len(positions))
	for _, p := range positions {
		if scope == "all" || string(p.Side) == scope {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out
}

func previewMessage(targets []domain.Position, scope string) string {
	var longN, shortN int
	var longNotional, shortNotional float64
	for _, p := range targets {
		if p.IsLong() {
			longN++
			longNotional += p.Notional()
		} else {
			shortN++
			shortNotional += p.Notional()
		}
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Close-all preview (%s): %d positions, notional $%.2f\n", scope, len(targets), longNotional+shortNotional)
	if longN > 0 {
		fmt.Fprintf(&b, "  long: %d, $%.2f\n", longN, longNotional)
	}
	if shortN > 0 {
		fmt.Fprintf(&b, "  short: %d, $%.2f\n", shortN, shortNotional)
	}
	for _, p := range targets {
		fmt.Fprintf(&b, "  - %s %s %s @ %s\n", p.Symbol, strings.ToUpper(string(p.Side)),
			exchange.FormatDecimal(p.Size), exchange.FormatDecimal(p.EntryPrice))
	}
	fmt.Fprintf(&b, "\nNothing has been closed. Send %s to execute.", closeAllCommand(scope, true))
	return b.String()
}

func closeAllMessage(ok, failed []closeAllItem, scope string) string {
	var b strings.Builder
	switch {
	case len(failed) == 0:
		fmt.Fprintf(&b, "Close-all done (%s)\n", scope)
	case len(ok) == 0:
		b.WriteString("Close-all failed\n")
	default:
		b.WriteString("Close-all partially done\n")
	}
	if len(ok) > 0 {
		var notional float64
		syms := make([]string, 0, len(ok))
		for _, it := range ok {
			notional += it.notional
			syms = append(syms, it.symbol)
		}
		fmt.Fprintf(&b, "Closed: %d positions, $%.2f (%s)\n", len(ok), notional, strings.Join(syms, ", "))
	}
	if len(failed) > 0 {
		var notional float64
		for _, it := range failed {
			notional += it.notional
		}
		fmt.Fprintf(&b, "Failed: %d positions, $%.2f\n", len(failed), notional)
		for i, it := range failed {
			if i == maxListedFailures {
				fmt.Fprintf(&b, "  ... %d more, see logs\n", len(failed)-maxListedFailures)
				break
			}
			fmt.Fprintf(&b, "  - %s: %s\n", it.symbol, truncate(it.err, 60))
		}
		b.WriteString("Use /positions to review, or /close SYMBOL to retry a single symbol.")
	}
	return strings.TrimRight(b.String(), "\n")
}

func scopeLabel(scope string) string {
	if scope == "all" {
		return "open"
	}
	return scope
}

func closeAllCommand(scope string, confirm bool) string {
	parts := []string{"/close_all"}
	if scope != "all" {
		parts = append(parts, scope)
	}
	if confirm {
		parts = append(parts, "confirm")
	}
	return strings.Join(parts, " ")
}

func noPosition(action, symbol, what string) domain.CommandResult {
	return domain.CommandResult{
		Success: true,
		Action:  action,
		Message: fmt.Sprintf("No open %s position, %s. Use /positions to see open positions.", symbol, what),
	}
}

// userError strips wrapping prefixes so users see the reason, not the
// call chain.
func userError(err error) string {
	msg := err.Error()
	for _, sentinel := range []error{domain.ErrInvalidTarget, domain.ErrInvalidOrder, domain.ErrNoPosition} {
		if errors.Is(err, sentinel) {
			if i := strings.Index(msg, sentinel.Error()); i >= 0 {
				msg = msg[i:]
			}
			break
		}
	}
	return truncate(msg, 160)
}

func shortErrors(errs []string) string {
	if len(errs) == 0 {
		return "exchange did not accept the order"
	}
	return truncate(errs[0], 120)
}

// truncate shortens s to n runes.
func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n]) + "..."
}
