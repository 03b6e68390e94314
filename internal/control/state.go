package control

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/alanyoungcy/perpbot/internal/domain"
	"github.com/alanyoungcy/perpbot/internal/exchange"
)

const (
	ActionKillActivated     = "KILL_SWITCH_ACTIVATED"
	ActionKillAlreadyActive = "KILL_SWITCH_ALREADY_ACTIVE"
	ActionKillResumed       = "KILL_SWITCH_RESUMED"
	ActionKillNotActive     = "KILL_SWITCH_NOT_ACTIVE"
	ActionPositions         = "POSITIONS_SNAPSHOT"
	ActionStatus            = "STATUS_SNAPSHOT"
)

const notPersisted = "\nWarning: state could not be saved and will not survive a restart."

func (d *Dispatcher) handleKill(ctx context.Context, cmd domain.Command) domain.CommandResult {
	reason := strings.TrimSpace(strings.Join(cmd.Args, " "))
	if reason == "" {
		reason = "manual via /kill by " + cmd.Caller
	}
	changed, st, err := d.risk.Kill(ctx, reason)
	if !changed {
		return domain.CommandResult{
			Success: true,
			Action:  ActionKillAlreadyActive,
			Message: fmt.Sprintf("Kill switch already active (%s). New entries stay blocked; use /resume to lift it.", st.KillSwitchReason),
		}
	}
	msg := fmt.Sprintf("Kill switch activated: %s\nNew entries are blocked. Close, /sl and /tp still work.", st.KillSwitchReason)
	if err != nil {
		d.logger.ErrorContext(ctx, "kill switch not persisted", slog.String("error", err.Error()))
		msg += notPersisted
	}
	return domain.CommandResult{Success: true, StateChanged: true, Action: ActionKillActivated, Message: msg}
}

func (d *Dispatcher) handleResume(ctx context.Context, _ domain.Command) domain.CommandResult {
	before := d.risk.State()
	changed, _, err := d.risk.Resume(ctx)
	if !changed {
		return domain.CommandResult{
			Success: true,
			Action:  ActionKillNotActive,
			Message: "Kill switch is not active; entries are already allowed.",
		}
	}
	msg := "Kill switch lifted, new entries allowed."
	if before.KillSwitchReason != "" {
		msg += "\nPrevious reason: " + before.KillSwitchReason
	}
	if before.DailyLossTriggered {
		msg += fmt.Sprintf("\nDaily loss was %.2f%%; the limit will trip again if losses continue.", before.DailyLossPct)
	}
	if err != nil {
		d.logger.ErrorContext(ctx, "resume not persisted", slog.String("error", err.Error()))
		msg += notPersisted
	}
	return domain.CommandResult{Success: true, StateChanged: true, Action: ActionKillResumed, Message: msg}
}

func (d *Dispatcher) handlePositions(ctx context.Context, _ domain.Command) domain.CommandResult {
	positions := d.positions.Snapshot()
	if len(positions) == 0 {
		return domain.CommandResult{Success: true, Action: ActionPositions, Message: "No open positions."}
	}
	var b strings.Builder
	var totalPnL float64
	fmt.Fprintf(&b, "Open positions: %d\n", len(positions))
	for _, p := range positions {
		fmt.Fprintf(&b, "%s %s size %s @ %s, lev %sx", p.Symbol, strings.ToUpper(string(p.Side)),
			exchange.FormatDecimal(p.Size), exchange.FormatDecimal(p.EntryPrice), exchange.FormatDecimal(p.Leverage))
		if px, ok := d.exec.CurrentPrice(ctx, p.Symbol); ok && px > 0 {
			pnl := p.UnrealizedPnL(px)
			totalPnL += pnl
			fmt.Fprintf(&b, ", mark %s, uPnL %+.2f", exchange.FormatDecimal(px), pnl)
		}
		fmt.Fprintf(&b, "\n  SL %s, TP %s\n", levelOrDash(p.StopLossPrice), levelOrDash(p.TakeProfitPrice))
	}
	fmt.Fprintf(&b, "Total uPnL %+.2f USD", totalPnL)
	return domain.CommandResult{Success: true, Action: ActionPositions, Message: b.String()}
}

func (d *Dispatcher) handleStatus(ctx context.Context, _ domain.Command) domain.CommandResult {
	var st domain.BotStatus
	if d.status != nil {
		st = d.status.Status(ctx)
	} else {
		st = domain.BotStatus{
			Backend:       d.exec.Backend(),
			Live:          d.exec.Backend().IsLive(),
			OpenPositions: len(d.positions.Snapshot()),
			Risk:          d.risk.State(),
		}
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Backend: %s (live=%t)\n", st.Backend, st.Live)
	if st.Mode != "" {
		fmt.Fprintf(&b, "Mode: %s, iteration %d, uptime %s\n", st.Mode, st.Iteration,
			(time.Duration(st.UptimeSeconds) * time.Second).String())
	}
	fmt.Fprintf(&b, "Open positions: %d\n", st.OpenPositions)
	if st.Risk.KillSwitchActive {
		fmt.Fprintf(&b, "Kill switch: ACTIVE (%s)\n", st.Risk.KillSwitchReason)
	} else {
		b.WriteString("Kill switch: off\n")
	}
	fmt.Fprintf(&b, "Daily PnL: %+.2f%%", st.Risk.DailyLossPct)
	if st.Risk.DailyLossTriggered {
		b.WriteString(" (daily loss limit hit)")
	}
	return domain.CommandResult{Success: true, Action: ActionStatus, Message: b.String()}
}

func levelOrDash(v *float64) string {
	if v == nil || *v <= 0 {
		return "-"
	}
	return exchange.FormatDecimal(*v)
}
