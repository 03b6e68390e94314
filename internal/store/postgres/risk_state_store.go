package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/perpbot/internal/domain"
)

// RiskStateStore implements domain.RiskStateStore on the single-row
// risk_state table.
type RiskStateStore struct {
	pool *pgxpool.Pool
}

// NewRiskStateStore creates a new RiskStateStore backed by the given connection pool.
func NewRiskStateStore(pool *pgxpool.Pool) *RiskStateStore {
	return &RiskStateStore{pool: pool}
}

// Save upserts the state row.
func (s *RiskStateStore) Save(ctx context.Context, st domain.RiskControlState) error {
	const query = `
		INSERT INTO risk_state (
			id, kill_switch_active, kill_switch_reason, kill_switch_triggered_at,
			daily_start_equity, daily_start_date, daily_loss_pct, daily_loss_triggered, updated_at
		) VALUES (1, $1, $2, $3, $4, $5, $6, $7, NOW())
		ON CONFLICT (id) DO UPDATE SET
			kill_switch_active       = EXCLUDED.kill_switch_active,
			kill_switch_reason       = EXCLUDED.kill_switch_reason,
			kill_switch_triggered_at = EXCLUDED.kill_switch_triggered_at,
			daily_start_equity       = EXCLUDED.daily_start_equity,
			daily_start_date         = EXCLUDED.daily_start_date,
			daily_loss_pct           = EXCLUDED.daily_loss_pct,
			daily_loss_triggered     = EXCLUDED.daily_loss_triggered,
			updated_at               = NOW()`

	_, err := s.pool.Exec(ctx, query,
		st.KillSwitchActive, st.KillSwitchReason, st.KillSwitchTriggeredAt,
		st.DailyStartEquity, st.DailyStartDate, st.DailyLossPct, st.DailyLossTriggered,
	)
	if err != nil {
		return fmt.Errorf("postgres: save risk state: %w", err)
	}
	return nil
}

// Load returns the stored state, or the zero state when none was saved.
func (s *RiskStateStore) Load(ctx context.Context) (domain.RiskControlState, error) {
	const query = `
		SELECT kill_switch_active, kill_switch_reason, kill_switch_triggered_at,
			daily_start_equity, daily_start_date, daily_loss_pct, daily_loss_triggered
		FROM risk_state WHERE id = 1`

	var st domain.RiskControlState
	err := s.pool.QueryRow(ctx, query).Scan(
		&st.KillSwitchActive, &st.KillSwitchReason, &st.KillSwitchTriggeredAt,
		&st.DailyStartEquity, &st.DailyStartDate, &st.DailyLossPct, &st.DailyLossTriggered,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.RiskControlState{}, nil
	}
	if err != nil {
		return domain.RiskControlState{}, fmt.Errorf("postgres: load risk state: %w", err)
	}
	return st, nil
}
