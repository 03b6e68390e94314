package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/perpbot/internal/domain"
)

// PositionStore implements domain.PositionStore using PostgreSQL. The
// positions table mirrors the in-memory book: SaveAll replaces it in one
// transaction.
type PositionStore struct {
	pool *pgxpool.Pool
}

// NewPositionStore creates a new PositionStore backed by the given connection pool.
func NewPositionStore(pool *pgxpool.Pool) *PositionStore {
	return &PositionStore{pool: pool}
}

const positionSelectCols = `symbol, side, size, entry_price,
	stop_loss_price, take_profit_price, leverage, risk_usd, confidence,
	live_backend, entry_oid, tp_oid, sl_oid, close_oid, opened_at, updated_at`

// SaveAll replaces every stored position with positions.
func (s *PositionStore) SaveAll(ctx context.Context, positions []domain.Position) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: save positions: begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `DELETE FROM positions`); err != nil {
		return fmt.Errorf("postgres: save positions: clear: %w", err)
	}

	if len(positions) > 0 {
		const query = `
			INSERT INTO positions (` + positionSelectCols + `)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)`

		batch := &pgx.Batch{}
		for _, p := range positions {
			batch.Queue(query,
				p.Symbol, string(p.Side), p.Size, p.EntryPrice,
				p.StopLossPrice, p.TakeProfitPrice, p.Leverage, p.RiskUSD, p.Confidence,
				string(p.LiveBackend), p.EntryOID, p.TPOID, p.SLOID, p.CloseOID,
				p.OpenedAt, p.UpdatedAt,
			)
		}
		br := tx.SendBatch(ctx, batch)
		for _, p := range positions {
			if _, err := br.Exec(); err != nil {
				_ = br.Close()
				return fmt.Errorf("postgres: save position %s: %w", p.Symbol, err)
			}
		}
		if err := br.Close(); err != nil {
			return fmt.Errorf("postgres: save positions: close batch: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres: save positions: commit: %w", err)
	}
	return nil
}

// LoadAll returns every stored position ordered by symbol.
func (s *PositionStore) LoadAll(ctx context.Context) ([]domain.Position, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+positionSelectCols+` FROM positions ORDER BY symbol`)
	if err != nil {
		return nil, fmt.Errorf("postgres: load positions: %w", err)
	}
	defer rows.Close()

	var positions []domain.Position
	for rows.Next() {
		var p domain.Position
		var side, backend string
		if err := rows.Scan(
			&p.Symbol, &side, &p.Size, &p.EntryPrice,
			&p.StopLossPrice, &p.TakeProfitPrice, &p.Leverage, &p.RiskUSD, &p.Confidence,
			&backend, &p.EntryOID, &p.TPOID, &p.SLOID, &p.CloseOID,
			&p.OpenedAt, &p.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("postgres: scan position: %w", err)
		}
		p.Side = domain.Side(side)
		p.LiveBackend = domain.Backend(backend)
		positions = append(positions, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: load positions rows: %w", err)
	}
	return positions, nil
}
