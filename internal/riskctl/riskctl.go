// Package riskctl holds the kill switch and the daily-loss guard. The
// state is persisted after every change so a restart keeps entries blocked.
package riskctl

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/alanyoungcy/perpbot/internal/domain"
)

const dailyLossReasonPrefix = "daily loss limit reached"

// Config tunes the daily-loss guard. A zero limit disables it.
type Config struct {
	DailyLossLimitPct float64
}

// Controller owns the RiskControlState.
type Controller struct {
	mu     sync.RWMutex
	state  domain.RiskControlState
	cfg    Config
	store  domain.RiskStateStore
	events domain.EventPublisher
	logger *slog.Logger
	now    func() time.Time
}

// New creates a Controller with an inactive kill switch. store and events
// may be nil.
func New(cfg Config, store domain.RiskStateStore, events domain.EventPublisher, logger *slog.Logger) *Controller {
	return &Controller{
		cfg:    cfg,
		store:  store,
		events: events,
		logger: logger.With(slog.String("component", "riskctl")),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Restore loads the persisted state. A missing row keeps the defaults.
func (c *Controller) Restore(ctx context.Context) error {
	if c.store == nil {
		return nil
	}
	st, err := c.store.Load(ctx)
	if err != nil {
		return fmt.Errorf("riskctl: restore: %w", err)
	}
	c.mu.Lock()
	c.state = st
	c.mu.Unlock()
	if st.KillSwitchActive {
		c.logger.WarnContext(ctx, "kill switch active after restart",
			slog.String("reason", st.KillSwitchReason),
		)
	}
	return nil
}

// State returns a copy of the current state.
func (c *Controller) State() domain.RiskControlState {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return copyState(c.state)
}

// Kill activates the kill switch. It reports false when it was already on.
func (c *Controller) Kill(ctx context.Context, reason string) (bool, domain.RiskControlState, error) {
	c.mu.Lock()
	if c.state.KillSwitchActive {
		st := copyState(c.state)
		c.mu.Unlock()
		return false, st, nil
	}
	if reason == "" {
		reason = "manual"
	}
	now := c.now()
	c.state.KillSwitchActive = true
	c.state.KillSwitchReason = reason
	c.state.KillSwitchTriggeredAt = &now
	st := copyState(c.state)
	err := c.saveLocked(ctx)
	c.mu.Unlock()

	c.logger.WarnContext(ctx, "kill switch activated", slog.String("reason", reason))
	c.emit(ctx, "kill switch activated: "+reason, map[string]any{"active": true, "reason": reason})
	return true, st, err
}

// Resume deactivates the kill switch and clears a daily-loss trigger. It
// reports false when neither was set.
func (c *Controller) Resume(ctx context.Context) (bool, domain.RiskControlState, error) {
	c.mu.Lock()
	if !c.state.KillSwitchActive && !c.state.DailyLossTriggered {
		st := copyState(c.state)
		c.mu.Unlock()
		return false, st, nil
	}
	prev := c.state.KillSwitchReason
	c.state.KillSwitchActive = false
	c.state.KillSwitchReason = ""
	c.state.KillSwitchTriggeredAt = nil
	c.state.DailyLossTriggered = false
	st := copyState(c.state)
	err := c.saveLocked(ctx)
	c.mu.Unlock()

	c.logger.InfoContext(ctx, "kill switch resumed", slog.String("previous_reason", prev))
	c.emit(ctx, "kill switch resumed, entries allowed", map[string]any{"active": false, "previous_reason": prev})
	return true, st, err
}

// ObserveEquity rolls the daily baseline over at UTC midnight, recomputes
// the daily loss and trips the kill switch once the loss exceeds the limit.
func (c *Controller) ObserveEquity(ctx context.Context, equity float64) (domain.RiskControlState, error) {
	if equity <= 0 {
		return c.State(), nil
	}
	now := c.now()
	today := now.Format(time.DateOnly)

	c.mu.Lock()
	changed := false
	if c.state.DailyStartDate != today || c.state.DailyStartEquity == nil {
		if c.state.DailyLossTriggered && isDailyLossReason(c.state.KillSwitchReason) {
			c.state.KillSwitchActive = false
			c.state.KillSwitchReason = ""
			c.state.KillSwitchTriggeredAt = nil
		}
		start := equity
		c.state.DailyStartDate = today
		c.state.DailyStartEquity = &start
		c.state.DailyLossTriggered = false
		changed = true
		c.logger.InfoContext(ctx, "daily risk baseline reset",
			slog.String("date", today),
			slog.Float64("start_equity", equity),
		)
	}

	start := *c.state.DailyStartEquity
	pct := (equity - start) / start * 100
	if pct != c.state.DailyLossPct {
		c.state.DailyLossPct = pct
		changed = true
	}

	tripped := false
	if c.cfg.DailyLossLimitPct > 0 && pct <= -c.cfg.DailyLossLimitPct && !c.state.DailyLossTriggered {
		c.state.DailyLossTriggered = true
		if !c.state.KillSwitchActive {
			c.state.KillSwitchActive = true
			c.state.KillSwitchReason = fmt.Sprintf("%s: %.2f%%", dailyLossReasonPrefix, pct)
			c.state.KillSwitchTriggeredAt = &now
		}
		tripped = true
		changed = true
	}

	st := copyState(c.state)
	var err error
	if changed {
		err = c.saveLocked(ctx)
	}
	c.mu.Unlock()

	if tripped {
		c.logger.WarnContext(ctx, "daily loss limit reached, entries blocked",
			slog.Float64("daily_loss_pct", pct),
			slog.Float64("limit_pct", c.cfg.DailyLossLimitPct),
		)
		c.emit(ctx, st.KillSwitchReason, map[string]any{"active": true, "daily_loss_pct": pct})
	}
	return st, err
}

func (c *Controller) saveLocked(ctx context.Context) error {
	if c.store == nil {
		return nil
	}
	if err := c.store.Save(ctx, c.state); err != nil {
		c.logger.ErrorContext(ctx, "persist risk state failed", slog.String("error", err.Error()))
		return fmt.Errorf("riskctl: save: %w", err)
	}
	return nil
}

func (c *Controller) emit(ctx context.Context, msg string, detail map[string]any) {
	if c.events == nil {
		return
	}
	c.events.PublishEvent(ctx, domain.Event{
		Type:      domain.EventKillSwitch,
		Message:   msg,
		Detail:    detail,
		CreatedAt: c.now(),
	})
}

func isDailyLossReason(reason string) bool {
	return len(reason) >= len(dailyLossReasonPrefix) && reason[:len(dailyLossReasonPrefix)] == dailyLossReasonPrefix
}

func copyState(s domain.RiskControlState) domain.RiskControlState {
	out := s
	if s.KillSwitchTriggeredAt != nil {
		t := *s.KillSwitchTriggeredAt
		out.KillSwitchTriggeredAt = &t
	}
	if s.DailyStartEquity != nil {
		v := *s.DailyStartEquity
		out.DailyStartEquity = &v
	}
	return out
}
