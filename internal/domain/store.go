package domain

import (
	"context"
	"time"
)

// ListOpts provides pagination and filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// PositionStore persists the open position table as a whole.
type PositionStore interface {
	SaveAll(ctx context.Context, positions []Position) error
	LoadAll(ctx context.Context) ([]Position, error)
}

// TradeStore persists closed-trade history.
type TradeStore interface {
	Append(ctx context.Context, rec TradeRecord) error
	List(ctx context.Context, opts ListOpts) ([]TradeRecord, error)
}

// AuditEntry is a single audit log row.
type AuditEntry struct {
	ID        int64          `json:"id"`
	Event     string         `json:"event"`
	Detail    map[string]any `json:"detail,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// AuditStore persists an append-only audit log.
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
	List(ctx context.Context, opts ListOpts) ([]AuditEntry, error)
}

// RiskStateStore persists the single risk-control state row.
type RiskStateStore interface {
	Save(ctx context.Context, state RiskControlState) error
	Load(ctx context.Context) (RiskControlState, error)
}
