package domain

import (
	"context"
	"time"
)

// EventType names a bot event published on the event bus and sent to notifiers.
type EventType string

const (
	EventPositionOpened     EventType = "position_opened"
	EventPositionClosed     EventType = "position_closed"
	EventPositionReduced    EventType = "position_reduced"
	EventTargetsUpdated     EventType = "targets_updated"
	EventEntryFailed        EventType = "entry_failed"
	EventCloseFailed        EventType = "close_failed"
	EventProtectionDegraded EventType = "protection_degraded"
	EventKillSwitch         EventType = "kill_switch"
	EventError              EventType = "error"
)

// Event is a structured notification about a state change.
type Event struct {
	Type      EventType      `json:"type"`
	Symbol    string         `json:"symbol,omitempty"`
	Message   string         `json:"message"`
	Detail    map[string]any `json:"detail,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// BotStatus is a summary of the bot's current operational state.
type BotStatus struct {
	Mode          string           `json:"mode"`
	Backend       Backend          `json:"backend"`
	Live          bool             `json:"live"`
	FeedConnected bool             `json:"feed_connected"`
	UptimeSeconds int64            `json:"uptime_seconds"`
	OpenPositions int              `json:"open_positions"`
	Iteration     int64            `json:"iteration"`
	Risk          RiskControlState `json:"risk"`
}

// EventPublisher fans an Event out to notifiers, the event bus and
// websocket clients. Implementations must not block the caller for long.
type EventPublisher interface {
	PublishEvent(ctx context.Context, ev Event)
}
