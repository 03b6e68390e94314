package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/perpbot/internal/domain"
)

// TradeStore implements domain.TradeStore using PostgreSQL.
type TradeStore struct {
	pool *pgxpool.Pool
}

// NewTradeStore creates a new TradeStore backed by the given connection pool.
func NewTradeStore(pool *pgxpool.Pool) *TradeStore {
	return &TradeStore{pool: pool}
}

const tradeSelectCols = `id, symbol, side, size, entry_price, exit_price,
	realized_pnl, leverage, backend, entry_oid, close_oid, reason,
	opened_at, closed_at`

// Append inserts one trade record. Re-appending the same ID is a no-op.
func (s *TradeStore) Append(ctx context.Context, rec domain.TradeRecord) error {
	const query = `
		INSERT INTO trade_history (` + tradeSelectCols + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		ON CONFLICT (id) DO NOTHING`

	_, err := s.pool.Exec(ctx, query,
		rec.ID, rec.Symbol, string(rec.Side), rec.Size, rec.EntryPrice, rec.ExitPrice,
		rec.RealizedPnL, rec.Leverage, string(rec.Backend), rec.EntryOID, rec.CloseOID, rec.Reason,
		rec.OpenedAt, rec.ClosedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: append trade %s: %w", rec.ID, err)
	}
	return nil
}

// List returns trade records by close time, oldest first.
func (s *TradeStore) List(ctx context.Context, opts domain.ListOpts) ([]domain.TradeRecord, error) {
	query, args := listQuery(`SELECT `+tradeSelectCols+` FROM trade_history WHERE 1=1`, "closed_at", "ASC", nil, opts)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list trades: %w", err)
	}
	defer rows.Close()

	var out []domain.TradeRecord
	for rows.Next() {
		var t domain.TradeRecord
		var side, backend string
		if err := rows.Scan(
			&t.ID, &t.Symbol, &side, &t.Size, &t.EntryPrice, &t.ExitPrice,
			&t.RealizedPnL, &t.Leverage, &backend, &t.EntryOID, &t.CloseOID, &t.Reason,
			&t.OpenedAt, &t.ClosedAt,
		); err != nil {
			return nil, fmt.Errorf("postgres: scan trade: %w", err)
		}
		t.Side = domain.Side(side)
		t.Backend = domain.Backend(backend)
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list trades rows: %w", err)
	}
	return out, nil
}
