package domain

import "time"

// RiskLimits bounds every entry plan for one backend. Zero disables a limit.
type RiskLimits struct {
	MaxRiskUSD   float64
	MaxMarginUSD float64
	MaxLeverage  float64
}

// RiskControlState is the persisted kill-switch and daily-loss state.
type RiskControlState struct {
	KillSwitchActive      bool       `json:"kill_switch_active"`
	KillSwitchReason      string     `json:"kill_switch_reason"`
	KillSwitchTriggeredAt *time.Time `json:"kill_switch_triggered_at,omitempty"`
	DailyStartEquity      *float64   `json:"daily_start_equity,omitempty"`
	DailyStartDate        string     `json:"daily_start_date"`
	DailyLossPct          float64    `json:"daily_loss_pct"`
	DailyLossTriggered    bool       `json:"daily_loss_triggered"`
}

// EntriesBlocked reports whether new entries are currently refused.
func (s RiskControlState) EntriesBlocked() bool {
	return s.KillSwitchActive || s.DailyLossTriggered
}
