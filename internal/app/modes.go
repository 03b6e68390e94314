package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/perpbot/internal/server"
	"github.com/alanyoungcy/perpbot/internal/server/handler"
)

const (
	// leaderLock guards the account: one process may mutate positions.
	leaderLock    = "trading-loop"
	leaderLockTTL = 30 * time.Second
)

// ErrLeadershipLost is returned when the trading lock is taken over or can
// no longer be refreshed.
var ErrLeadershipLost = errors.New("app: trading lock lost")

type modeOptions struct {
	loop   bool
	server bool
}

// TradeMode runs the trading loop, the price feed and event delivery.
func (a *App) TradeMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting trade mode")
	return a.run(ctx, deps, modeOptions{loop: true})
}

// ServerMode runs the HTTP control surface without the trading loop.
// Commands still mutate positions, so it takes the same lock.
func (a *App) ServerMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting server mode")
	return a.run(ctx, deps, modeOptions{server: true})
}

// FullMode runs the trading loop and, when enabled, the HTTP server.
func (a *App) FullMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting full mode")
	return a.run(ctx, deps, modeOptions{loop: true, server: a.cfg.Server.Enabled})
}

func (a *App) run(ctx context.Context, deps *Dependencies, opts modeOptions) error {
	unlock, lost, err := deps.LockManager.Hold(ctx, leaderLock, leaderLockTTL)
	if err != nil {
		return fmt.Errorf("app: acquire trading lock: %w", err)
	}
	defer unlock()
	a.logger.InfoContext(ctx, "trading lock acquired", slog.String("lock", leaderLock))

	c, err := a.buildCore(ctx, deps, opts.server)
	if err != nil {
		return err
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-lost:
			a.logger.ErrorContext(ctx, "trading lock lost, stopping")
			return ErrLeadershipLost
		}
	})

	g.Go(func() error {
		return c.publisher.Run(ctx)
	})

	if c.feed != nil {
		g.Go(func() error {
			return c.feed.Run(ctx)
		})
	}

	if opts.loop {
		g.Go(func() error {
			return c.exec.Run(ctx)
		})
	}

	if opts.server {
		a.startHTTPServer(ctx, g, deps, c)
	}

	return g.Wait()
}

// startHTTPServer adds the websocket hub, the HTTP server and its graceful
// shutdown to g.
func (a *App) startHTTPServer(ctx context.Context, g *errgroup.Group, deps *Dependencies, c *core) {
	checks := make(map[string]handler.CheckFunc, len(deps.Checks))
	for name, fn := range deps.Checks {
		checks[name] = fn
	}
	checks["feed"] = func(context.Context) error {
		if c.feed != nil && !c.feed.Connected() {
			return errors.New("price feed disconnected")
		}
		return nil
	}

	srv := server.NewServer(server.Config{
		Port:        a.cfg.Server.Port,
		CORSOrigins: a.cfg.Server.CORSOrigins,
		APIKey:      a.cfg.Server.ApiKey,
		RateLimit:   a.cfg.Server.RateLimit,
	}, server.Handlers{
		Health:    handler.NewHealthHandler(checks, a.logger),
		Status:    handler.NewStatusHandler(c.exec),
		Positions: handler.NewPositionHandler(c.book, c.router),
		History:   handler.NewHistoryHandler(deps.TradeStore, deps.AuditStore, a.logger),
		Commands:  handler.NewCommandHandler(c.dispatcher, a.logger),
	}, c.hub, deps.RateLimiter, a.logger)

	g.Go(func() error {
		return c.hub.Run(ctx)
	})
	g.Go(func() error {
		return srv.Start()
	})
	g.Go(func() error {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutCtx)
	})
}
