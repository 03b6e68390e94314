package exchange

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/perpbot/internal/domain"
)

// Guarded wraps a Client so that every call runs under a deadline and a
// panic inside the adapter becomes a failed result instead of unwinding
// into the trading loop.
type Guarded struct {
	inner   Client
	backend domain.Backend
	timeout time.Duration
	logger  *slog.Logger
}

// NewGuarded wraps inner. A zero timeout leaves the caller's context as is.
func NewGuarded(inner Client, backend domain.Backend, timeout time.Duration, logger *slog.Logger) *Guarded {
	return &Guarded{
		inner:   inner,
		backend: backend,
		timeout: timeout,
		logger:  logger.With(slog.String("component", "exchange_guard")),
	}
}

// Unwrap returns the wrapped client.
func (g *Guarded) Unwrap() Client { return g.inner }

// PlaceEntry implements Client.
func (g *Guarded) PlaceEntry(ctx context.Context, req EntryRequest) (res domain.EntryResult) {
	ctx, cancel := g.withTimeout(ctx)
	defer cancel()
	defer func() {
		if r := recover(); r != nil {
			g.logger.Error("entry adapter panic",
				slog.String("symbol", req.Symbol),
				slog.String("panic", fmt.Sprint(r)),
			)
			res = domain.EntryResult{
				Success: false,
				Backend: g.backend,
				Errors:  []string{fmt.Sprintf("unexpected adapter failure: %v", r)},
			}
		}
	}()

	res = g.inner.PlaceEntry(ctx, req)
	if res.Errors == nil {
		res.Errors = []string{}
	}
	return res
}

// ClosePosition implements Client.
func (g *Guarded) ClosePosition(ctx context.Context, req CloseRequest) (res domain.CloseResult) {
	ctx, cancel := g.withTimeout(ctx)
	defer cancel()
	defer func() {
		if r := recover(); r != nil {
			g.logger.Error("close adapter panic",
				slog.String("symbol", req.Symbol),
				slog.String("panic", fmt.Sprint(r)),
			)
			res = domain.CloseResult{
				Success: false,
				Backend: g.backend,
				Errors:  []string{fmt.Sprintf("unexpected adapter failure: %v", r)},
			}
		}
	}()

	res = g.inner.ClosePosition(ctx, req)
	if res.Errors == nil {
		res.Errors = []string{}
	}
	return res
}

func (g *Guarded) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if g.timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, g.timeout)
}

var _ Client = (*Guarded)(nil)
