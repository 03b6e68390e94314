// Package position owns the open-position table. Every mutation goes
// through Book so that state only changes after the exchange has accepted
// the corresponding order.
package position

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/alanyoungcy/perpbot/internal/domain"
)

// sizeEpsilon absorbs float noise when comparing close size with open size.
const sizeEpsilon = 1e-9

// CloseOutcome describes what ApplyClose did to the table.
type CloseOutcome struct {
	Position  domain.Position // state before the close
	Full      bool
	Closed    float64
	Remaining float64
	Trade     *domain.TradeRecord
}

// Book is the mutex-guarded position table. Keys are base symbols, so
// "BTCUSDT", "btc" and "BTC_USDC_PERP" address the same position.
type Book struct {
	mu        sync.RWMutex
	positions map[string]*domain.Position
	dirty     bool
	realized  float64

	store  domain.PositionStore
	trades domain.TradeStore
	logger *slog.Logger
	now    func() time.Time
}

// NewBook creates an empty book. store and trades may be nil, in which case
// the table lives in memory only.
func NewBook(store domain.PositionStore, trades domain.TradeStore, logger *slog.Logger) *Book {
	return &Book{
		positions: make(map[string]*domain.Position),
		store:     store,
		trades:    trades,
		logger:    logger.With(slog.String("component", "position_book")),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

func key(symbol string) string {
	return strings.ToUpper(domain.BaseSymbol(strings.TrimSpace(symbol)))
}

// Restore replaces the in-memory table with the persisted one.
func (b *Book) Restore(ctx context.Context) error {
	if b.store == nil {
		return nil
	}
	loaded, err := b.store.LoadAll(ctx)
	if err != nil {
		return fmt.Errorf("position: restore: %w", err)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.positions = make(map[string]*domain.Position, len(loaded))
	for _, p := range loaded {
		if p.Size <= 0 {
			b.logger.WarnContext(ctx, "skipping persisted position with non-positive size",
				slog.String("symbol", p.Symbol),
			)
			continue
		}
		pos := p.Clone()
		pos.Symbol = key(pos.Symbol)
		b.positions[pos.Symbol] = &pos
	}
	b.logger.InfoContext(ctx, "positions restored", slog.Int("count", len(b.positions)))
	return nil
}

// Get returns a copy of the position for symbol.
func (b *Book) Get(symbol string) (domain.Position, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	p, ok := b.positions[key(symbol)]
	if !ok {
		return domain.Position{}, false
	}
	return p.Clone(), true
}

// Has reports whether a position is open for symbol.
func (b *Book) Has(symbol string) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	_, ok := b.positions[key(symbol)]
	return ok
}

// Len returns the number of open positions.
func (b *Book) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.positions)
}

// Snapshot returns copies of all open positions ordered by symbol.
func (b *Book) Snapshot() []domain.Position {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.snapshotLocked()
}

func (b *Book) snapshotLocked() []domain.Position {
	out := make([]domain.Position, 0, len(b.positions))
	for _, p := range b.positions {
		out = append(out, p.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out
}

// ApplyEntry records a new position from a successful entry. The fill price
// and filled size reported by the exchange replace the requested ones. A
// failed result, or an existing position for the symbol, leaves the table
// untouched.
func (b *Book) ApplyEntry(ctx context.Context, pos domain.Position, res domain.EntryResult) (domain.Position, error) {
	if !res.Success {
		return domain.Position{}, fmt.Errorf("position: apply entry %s: %w: entry not successful", pos.Symbol, domain.ErrInvalidOrder)
	}
	if pos.Size <= 0 {
		return domain.Position{}, fmt.Errorf("position: apply entry %s: %w: size must be positive", pos.Symbol, domain.ErrInvalidOrder)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	k := key(pos.Symbol)
	if _, exists := b.positions[k]; exists {
		return domain.Position{}, fmt.Errorf("position: apply entry %s: %w", pos.Symbol, domain.ErrAlreadyExists)
	}

	now := b.now()
	p := pos.Clone()
	p.Symbol = k
	p.EntryPrice = res.FillPrice(pos.EntryPrice)
	p.Size = res.FilledSize(pos.Size)
	p.LiveBackend = res.Backend
	p.EntryOID = res.EntryOID
	p.SLOID = res.SLOID
	p.TPOID = res.TPOID
	p.CloseOID = nil
	if p.OpenedAt.IsZero() {
		p.OpenedAt = now
	}
	p.UpdatedAt = now
	b.positions[k] = &p

	b.persistLocked(ctx)
	return p.Clone(), nil
}

// ApplyClose applies a close result. closed is the size the close order
// covered; nil, or a value at least the open size, is a full close. A
// failed result never changes the table.
func (b *Book) ApplyClose(ctx context.Context, symbol string, closed *float64, exitPrice float64, reason string, res domain.CloseResult) (CloseOutcome, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	k := key(symbol)
	p, ok := b.positions[k]
	if !ok {
		return CloseOutcome{}, fmt.Errorf("position: apply close %s: %w", symbol, domain.ErrNoPosition)
	}
	if !res.Success {
		return CloseOutcome{Position: p.Clone(), Remaining: p.Size}, fmt.Errorf("position: apply close %s: %w: close not successful", symbol, domain.ErrInvalidOrder)
	}

	before := p.Clone()
	amount := p.Size
	if closed != nil && *closed < p.Size-sizeEpsilon {
		amount = *closed
	}
	if amount <= 0 {
		return CloseOutcome{Position: before, Remaining: p.Size}, fmt.Errorf("position: apply close %s: %w: close size must be positive", symbol, domain.ErrInvalidOrder)
	}
	if exitPrice <= 0 {
		exitPrice = res.FillPrice(p.EntryPrice)
	}

	now := b.now()
	out := CloseOutcome{Position: before, Closed: amount}
	trade := domain.TradeRecord{
		ID:          uuid.NewString(),
		Symbol:      p.Symbol,
		Side:        p.Side,
		Size:        amount,
		EntryPrice:  p.EntryPrice,
		ExitPrice:   exitPrice,
		RealizedPnL: realizedPnL(p.Side, p.EntryPrice, exitPrice, amount),
		Leverage:    p.Leverage,
		Backend:     p.LiveBackend,
		EntryOID:    p.EntryOID,
		CloseOID:    res.CloseOID,
		Reason:      reason,
		OpenedAt:    p.OpenedAt,
		ClosedAt:    now,
	}
	out.Trade = &trade
	b.realized += trade.RealizedPnL

	if amount >= p.Size-sizeEpsilon {
		delete(b.positions, k)
		out.Full = true
	} else {
		p.Size = roundSize(p.Size - amount)
		p.CloseOID = res.CloseOID
		p.UpdatedAt = now
		out.Remaining = p.Size
	}

	b.persistLocked(ctx)
	if b.trades != nil {
		if err := b.trades.Append(ctx, trade); err != nil {
			b.logger.ErrorContext(ctx, "append trade history failed",
				slog.String("symbol", trade.Symbol),
				slog.String("trade_id", trade.ID),
				slog.String("error", err.Error()),
			)
		}
	}
	return out, nil
}

// RealizedPnL returns the profit booked by closes since the book was created.
func (b *Book) RealizedPnL() float64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.realized
}

// UpdateTargets overwrites stop-loss and/or take-profit in one step. A nil
// argument keeps the stored value.
func (b *Book) UpdateTargets(ctx context.Context, symbol string, sl, tp *float64) (domain.Position, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	p, ok := b.positions[key(symbol)]
	if !ok {
		return domain.Position{}, fmt.Errorf("position: update targets %s: %w", symbol, domain.ErrNoPosition)
	}
	if sl != nil {
		v := *sl
		p.StopLossPrice = &v
	}
	if tp != nil {
		v := *tp
		p.TakeProfitPrice = &v
	}
	p.UpdatedAt = b.now()

	b.persistLocked(ctx)
	return p.Clone(), nil
}

// SetTriggerOIDs records the order ids of replaced native triggers. A nil
// id keeps the stored one.
func (b *Book) SetTriggerOIDs(ctx context.Context, symbol string, slOID, tpOID *string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	p, ok := b.positions[key(symbol)]
	if !ok {
		return fmt.Errorf("position: set trigger ids %s: %w", symbol, domain.ErrNoPosition)
	}
	if slOID != nil {
		p.SLOID = slOID
	}
	if tpOID != nil {
		p.TPOID = tpOID
	}
	p.UpdatedAt = b.now()
	b.persistLocked(ctx)
	return nil
}

// Remove drops a position the exchange reports as flat. No trade record is
// written because no close order was sent.
func (b *Book) Remove(ctx context.Context, symbol, reason string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	k := key(symbol)
	if _, ok := b.positions[k]; !ok {
		return false
	}
	delete(b.positions, k)
	b.logger.WarnContext(ctx, "position removed by reconciliation",
		slog.String("symbol", k),
		slog.String("reason", reason),
	)
	b.persistLocked(ctx)
	return true
}

// Orphans returns open symbols that are no longer in universe. An empty
// universe means every symbol is eligible.
func (b *Book) Orphans(universe []string) []string {
	if len(universe) == 0 {
		return nil
	}
	allowed := make(map[string]struct{}, len(universe))
	for _, s := range universe {
		allowed[key(s)] = struct{}{}
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	var out []string
	for k := range b.positions {
		if _, ok := allowed[k]; !ok {
			out = append(out, k)
		}
	}
	sort.Strings(out)
	return out
}

// Flush retries persistence after an earlier failure. It is a no-op when
// the stored table is current.
func (b *Book) Flush(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.dirty || b.store == nil {
		return nil
	}
	if err := b.store.SaveAll(ctx, b.snapshotLocked()); err != nil {
		return fmt.Errorf("position: flush: %w", err)
	}
	b.dirty = false
	return nil
}

// persistLocked writes the table. Failures are logged and retried by Flush;
// the in-memory table already mirrors the exchange and is not rolled back.
func (b *Book) persistLocked(ctx context.Context) {
	if b.store == nil {
		return
	}
	if err := b.store.SaveAll(ctx, b.snapshotLocked()); err != nil {
		b.dirty = true
		b.logger.ErrorContext(ctx, "persist positions failed",
			slog.Int("count", len(b.positions)),
			slog.String("error", err.Error()),
		)
		return
	}
	b.dirty = false
}

func realizedPnL(side domain.Side, entry, exit, size float64) float64 {
	if side == domain.SideShort {
		return (entry - exit) * size
	}
	return (exit - entry) * size
}

func roundSize(v float64) float64 {
	return math.Round(v*1e9) / 1e9
}
