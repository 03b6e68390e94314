// Package executor runs the trading iteration: enforce stops, pull new
// decisions, route them, persist, and periodically archive.
package executor

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/alanyoungcy/perpbot/internal/domain"
	"github.com/alanyoungcy/perpbot/internal/execution"
)

// Router is the order path the loop drives.
type Router interface {
	CheckStops(ctx context.Context) []execution.CloseOutcome
	WarnOrphans(ctx context.Context) []string
	ProcessDecisions(ctx context.Context, decisions []domain.Decision) execution.DecisionSummary
	CurrentPrice(ctx context.Context, symbol string) (float64, bool)
	Backend() domain.Backend
}

// Book is the position table as seen by the loop.
type Book interface {
	Snapshot() []domain.Position
	Flush(ctx context.Context) error
	RealizedPnL() float64
}

// RiskMonitor tracks daily loss and owns the kill switch.
type RiskMonitor interface {
	ObserveEquity(ctx context.Context, equity float64) (domain.RiskControlState, error)
	State() domain.RiskControlState
}

// Config controls loop timing and bookkeeping.
type Config struct {
	Mode            string
	Interval        time.Duration
	StartingCapital float64
	// DecisionMaxAge drops decisions older than this; zero keeps all.
	DecisionMaxAge time.Duration
	DedupTTL       time.Duration
	SnapshotEvery  int
	ArchiveEvery   int
}

// IterationReport describes one pass of the loop.
type IterationReport struct {
	Iteration  int64
	Equity     float64
	StopCloses int
	Orphans    []string
	Received   int
	Duplicates int
	Stale      int
	Summary    execution.DecisionSummary
}

// Executor runs the trading loop. One Executor per process; the app holds
// a distributed lock so only one loop trades an account.
type Executor struct {
	router   Router
	book     Book
	risk     RiskMonitor
	source   DecisionSource
	archiver domain.Archiver
	dedup    *Dedup
	cfg      Config
	logger   *slog.Logger

	iteration   atomic.Int64
	startedAt   time.Time
	lastArchive time.Time
	feedUp      func() bool

	mu  sync.Mutex // serialises iterations
	now func() time.Time
}

// NewExecutor creates an Executor. source and archiver may be nil.
func NewExecutor(
	router Router,
	book Book,
	risk RiskMonitor,
	source DecisionSource,
	archiver domain.Archiver,
	cfg Config,
	logger *slog.Logger,
) *Executor {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Minute
	}
	if cfg.DedupTTL <= 0 {
		cfg.DedupTTL = 30 * time.Minute
	}
	now := time.Now().UTC()
	return &Executor{
		router:      router,
		book:        book,
		risk:        risk,
		source:      source,
		archiver:    archiver,
		dedup:       NewDedup(cfg.DedupTTL),
		cfg:         cfg,
		logger:      logger.With(slog.String("component", "executor")),
		startedAt:   now,
		lastArchive: now,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// SetFeedStatus registers a probe reported as FeedConnected in Status.
func (e *Executor) SetFeedStatus(fn func() bool) { e.feedUp = fn }

// Run executes one iteration immediately and then one per interval until
// ctx is cancelled. A failing iteration is logged and never stops the loop.
func (e *Executor) Run(ctx context.Context) error {
	e.logger.Info("executor started",
		slog.String("backend", string(e.router.Backend())),
		slog.Duration("interval", e.cfg.Interval),
	)
	defer e.logger.Info("executor stopped")

	ticker := time.NewTicker(e.cfg.Interval)
	defer ticker.Stop()
	cleanup := time.NewTicker(5 * time.Minute)
	defer cleanup.Stop()

	e.RunOnce(ctx)
	for {
		select {
		case <-ctx.Done():
			e.shutdown()
			return ctx.Err()
		case <-ticker.C:
			e.RunOnce(ctx)
		case <-cleanup.C:
			e.dedup.Cleanup()
		}
	}
}

// RunOnce performs a single iteration: equity and kill-switch check, stop
// enforcement, orphan warnings, decision routing, persistence and
// archiving, in that order.
func (e *Executor) RunOnce(ctx context.Context) IterationReport {
	e.mu.Lock()
	defer e.mu.Unlock()

	rep := IterationReport{Iteration: e.iteration.Add(1)}
	log := e.logger.With(slog.Int64("iteration", rep.Iteration))

	positions := e.book.Snapshot()
	rep.Equity = e.equity(ctx, positions)
	if e.risk != nil && rep.Equity > 0 {
		if _, err := e.risk.ObserveEquity(ctx, rep.Equity); err != nil {
			log.WarnContext(ctx, "risk state update failed", slog.String("error", err.Error()))
		}
	}

	rep.StopCloses = len(e.router.CheckStops(ctx))
	rep.Orphans = e.router.WarnOrphans(ctx)

	decisions := e.pull(ctx, log, &rep)
	if len(decisions) > 0 {
		rep.Summary = e.router.ProcessDecisions(ctx, decisions)
	}

	if err := e.book.Flush(ctx); err != nil {
		log.ErrorContext(ctx, "persist positions failed", slog.String("error", err.Error()))
	}
	e.archive(ctx, log, rep.Iteration)

	log.InfoContext(ctx, "iteration complete",
		slog.Float64("equity", rep.Equity),
		slog.Int("stop_closes", rep.StopCloses),
		slog.Int("decisions", len(decisions)),
		slog.Int("entries", rep.Summary.Entries),
		slog.Int("closes", rep.Summary.Closes),
		slog.Int("rejected", rep.Summary.Rejected),
		slog.Int("failed", rep.Summary.Failed),
	)
	return rep
}

func (e *Executor) pull(ctx context.Context, log *slog.Logger, rep *IterationReport) []domain.Decision {
	if e.source == nil {
		return nil
	}
	raw, err := e.source.Next(ctx)
	if err != nil {
		log.WarnContext(ctx, "decision source failed", slog.String("error", err.Error()))
		return nil
	}
	rep.Received = len(raw)
	now := e.now()
	out := make([]domain.Decision, 0, len(raw))
	for _, d := range raw {
		if e.cfg.DecisionMaxAge > 0 && !d.CreatedAt.IsZero() && now.Sub(d.CreatedAt) > e.cfg.DecisionMaxAge {
			rep.Stale++
			log.WarnContext(ctx, "stale decision dropped",
				slog.String("id", d.ID),
				slog.String("symbol", d.Symbol),
				slog.Time("created_at", d.CreatedAt),
			)
			continue
		}
		if e.dedup.IsDuplicate(d) {
			rep.Duplicates++
			log.DebugContext(ctx, "duplicate decision skipped", slog.String("id", d.ID))
			continue
		}
		out = append(out, d)
	}
	return out
}

// equity is starting capital plus realized and unrealized PnL. Positions
// without a price contribute nothing.
func (e *Executor) equity(ctx context.Context, positions []domain.Position) float64 {
	if e.cfg.StartingCapital <= 0 {
		return 0
	}
	eq := e.cfg.StartingCapital + e.book.RealizedPnL()
	for _, p := range positions {
		if px, ok := e.router.CurrentPrice(ctx, p.Symbol); ok {
			eq += p.UnrealizedPnL(px)
		}
	}
	return eq
}

func (e *Executor) archive(ctx context.Context, log *slog.Logger, iteration int64) {
	if e.archiver == nil {
		return
	}
	if e.cfg.SnapshotEvery > 0 && iteration%int64(e.cfg.SnapshotEvery) == 0 {
		var risk domain.RiskControlState
		if e.risk != nil {
			risk = e.risk.State()
		}
		if err := e.archiver.ArchiveSnapshot(ctx, e.book.Snapshot(), risk); err != nil {
			log.WarnContext(ctx, "state snapshot failed", slog.String("error", err.Error()))
		}
	}
	if e.cfg.ArchiveEvery > 0 && iteration%int64(e.cfg.ArchiveEvery) == 0 {
		cutoff := e.now()
		n, err := e.archiver.ArchiveTrades(ctx, e.lastArchive)
		if err != nil {
			log.WarnContext(ctx, "trade archive failed", slog.String("error", err.Error()))
			return
		}
		e.lastArchive = cutoff
		log.InfoContext(ctx, "trades archived", slog.Int64("count", n))
	}
}

// shutdown flushes the book with a short-lived context so a cancelled
// parent does not lose the last mutation.
func (e *Executor) shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := e.book.Flush(ctx); err != nil {
		e.logger.Error("final flush failed", slog.String("error", err.Error()))
	}
}

// Status reports loop-level state.
func (e *Executor) Status(_ context.Context) domain.BotStatus {
	st := domain.BotStatus{
		Mode:          e.cfg.Mode,
		Backend:       e.router.Backend(),
		Live:          e.router.Backend().IsLive(),
		UptimeSeconds: int64(e.now().Sub(e.startedAt).Seconds()),
		OpenPositions: len(e.book.Snapshot()),
		Iteration:     e.iteration.Load(),
	}
	if e.feedUp != nil {
		st.FeedConnected = e.feedUp()
	}
	if e.risk != nil {
		st.Risk = e.risk.State()
	}
	return st
}

// Iteration returns the number of completed or running iterations.
func (e *Executor) Iteration() int64 { return e.iteration.Load() }

// String returns a human-readable description of the executor.
func (e *Executor) String() string {
	return fmt.Sprintf("Executor(backend=%s, interval=%s)", e.router.Backend(), e.cfg.Interval)
}
