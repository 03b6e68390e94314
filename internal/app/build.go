package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/alanyoungcy/perpbot/internal/config"
	"github.com/alanyoungcy/perpbot/internal/control"
	"github.com/alanyoungcy/perpbot/internal/crypto"
	"github.com/alanyoungcy/perpbot/internal/domain"
	"github.com/alanyoungcy/perpbot/internal/exchange/factory"
	"github.com/alanyoungcy/perpbot/internal/execution"
	"github.com/alanyoungcy/perpbot/internal/executor"
	"github.com/alanyoungcy/perpbot/internal/feed"
	"github.com/alanyoungcy/perpbot/internal/notify"
	"github.com/alanyoungcy/perpbot/internal/position"
	"github.com/alanyoungcy/perpbot/internal/riskctl"
	"github.com/alanyoungcy/perpbot/internal/server/ws"
)

// decisionBatch bounds how many stream entries one iteration reads.
const decisionBatch = 50

// core is the trading stack shared by every mode.
type core struct {
	selection  factory.Selection
	book       *position.Book
	risk       *riskctl.Controller
	router     *execution.Router
	dispatcher *control.Dispatcher
	exec       *executor.Executor
	publisher  *notify.Publisher
	feed       *feed.MidsFeed
	hub        *ws.Hub
}

// statusFunc adapts a function to the StatusSource interfaces.
type statusFunc func(ctx context.Context) domain.BotStatus

func (f statusFunc) Status(ctx context.Context) domain.BotStatus { return f(ctx) }

// buildCore assembles the exchange client, book, risk controller, router,
// control dispatcher and executor, and restores persisted state. withHub
// adds a websocket hub that receives every published event.
func (a *App) buildCore(ctx context.Context, deps *Dependencies, withHub bool) (*core, error) {
	c := &core{}

	c.selection = factory.New(factoryConfig(a.cfg), factory.Handles{}, a.logger)
	if err := checkSelection(a.cfg, c.selection); err != nil {
		return nil, err
	}

	var hub notify.Broadcaster
	if withHub {
		c.hub = ws.NewHub(statusFunc(func(ctx context.Context) domain.BotStatus {
			return c.exec.Status(ctx)
		}), 0, a.logger)
		hub = c.hub
	}
	c.publisher = notify.NewPublisher(deps.Notifier, deps.SignalBus, hub, a.logger)

	c.book = position.NewBook(deps.PositionStore, deps.TradeStore, a.logger)
	if err := c.book.Restore(ctx); err != nil {
		return nil, fmt.Errorf("app: %w", err)
	}
	c.risk = riskctl.New(riskctl.Config{DailyLossLimitPct: a.cfg.Risk.DailyLossLimitPct},
		deps.RiskStateStore, c.publisher, a.logger)
	if err := c.risk.Restore(ctx); err != nil {
		return nil, fmt.Errorf("app: %w", err)
	}

	c.router = execution.NewRouter(
		c.selection.Client,
		c.selection.Triggers,
		c.selection.Backend,
		c.book,
		c.risk,
		execution.CachePrices{Cache: deps.PriceCache, MaxAge: a.cfg.Trading.PriceMaxAge.Duration},
		c.publisher,
		routerConfig(a.cfg, c.selection.Backend),
		a.logger,
	)

	source := executor.NewStreamSource(deps.SignalBus, a.cfg.Trading.DecisionStream, decisionBatch, a.logger)
	c.exec = executor.NewExecutor(c.router, c.book, c.risk, source, deps.Archiver, executorConfig(a.cfg), a.logger)

	if a.cfg.Hyperliquid.WsURL != "" {
		c.feed = feed.NewMidsFeed(a.cfg.Hyperliquid.WsURL, a.cfg.Trading.Universe, deps.PriceCache, a.logger)
		c.exec.SetFeedStatus(c.feed.Connected)
	}

	c.dispatcher = control.New(c.router, c.book, c.risk, c.exec, deps.AuditStore, controlConfig(a.cfg), a.logger)

	a.logger.InfoContext(ctx, "trading core ready",
		slog.String("backend", string(c.selection.Backend)),
		slog.Bool("live", c.selection.Live),
		slog.Int("restored_positions", len(c.book.Snapshot())),
		slog.Bool("kill_switch", c.risk.State().KillSwitchActive),
	)
	return c, nil
}

// checkSelection fails startup when the configured live backend could not
// be built. It is the only backend this process trades, so running on paper
// would leave its positions unmanaged.
func checkSelection(cfg *config.Config, sel factory.Selection) error {
	if sel.Err == nil {
		return nil
	}
	if domain.Backend(strings.ToLower(cfg.Exchange.Backend)).IsLive() {
		return fmt.Errorf("app: exchange %s: %w", cfg.Exchange.Backend, sel.Err)
	}
	return nil
}

func factoryConfig(cfg *config.Config) factory.Config {
	return factory.Config{
		Backend:     domain.Backend(cfg.Exchange.Backend),
		CallTimeout: cfg.Exchange.CallTimeout.Duration,
		Hyperliquid: factory.HyperliquidConfig{
			Live:    cfg.Hyperliquid.Live,
			BaseURL: cfg.Hyperliquid.BaseURL,
			Mainnet: cfg.Hyperliquid.Mainnet,
			Key: crypto.KeyConfig{
				RawPrivateKey:    cfg.Hyperliquid.PrivateKey,
				EncryptedKeyPath: cfg.Hyperliquid.EncryptedKeyPath,
				KeyPassword:      cfg.Hyperliquid.KeyPassword,
			},
			Vault:        cfg.Hyperliquid.Vault,
			PriceStep:    cfg.Hyperliquid.PriceStep,
			PriceSteps:   cfg.Hyperliquid.PriceSteps,
			SizeDecimals: int32Map(cfg.Hyperliquid.SizeDecimals),
		},
		Binance: factory.BinanceConfig{
			Live:             cfg.Binance.Live,
			BaseURL:          cfg.Binance.BaseURL,
			APIKey:           cfg.Binance.ApiKey,
			APISecret:        cfg.Binance.ApiSecret,
			HedgeMode:        cfg.Binance.HedgeMode,
			RecvWindow:       cfg.Binance.RecvWindow.Duration,
			QuantityDecimals: int32Map(cfg.Binance.QuantityDecimals),
		},
	}
}

// routerConfig applies the limits of the backend actually selected, so a
// degraded live backend trades with paper limits.
func routerConfig(cfg *config.Config, backend domain.Backend) execution.Config {
	limits := cfg.Risk.LimitsFor(string(backend))
	return execution.Config{
		Limits: domain.RiskLimits{
			MaxRiskUSD:   limits.MaxRiskUSD,
			MaxMarginUSD: limits.MaxMarginUSD,
			MaxLeverage:  limits.MaxLeverage,
		},
		SizeDecimals: int32(cfg.Trading.SizeDecimals),
		Universe:     upperAll(cfg.Trading.Universe),
	}
}

func executorConfig(cfg *config.Config) executor.Config {
	return executor.Config{
		Mode:            cfg.Mode,
		Interval:        cfg.Trading.Interval.Duration,
		StartingCapital: cfg.Trading.StartingCapital,
		DecisionMaxAge:  cfg.Trading.DecisionMaxAge.Duration,
		DedupTTL:        cfg.Trading.DedupTTL.Duration,
		SnapshotEvery:   cfg.Trading.SnapshotEvery,
		ArchiveEvery:    cfg.Trading.ArchiveEvery,
	}
}

func controlConfig(cfg *config.Config) control.Config {
	return control.Config{
		AdminIDs:      cfg.Control.AdminIDs,
		DefaultSLPct:  cfg.Trading.DefaultSLPct,
		DefaultTPPct:  cfg.Trading.DefaultTPPct,
		ConfirmWindow: cfg.Control.ConfirmWindow.Duration,
	}
}

func int32Map(m map[string]int) map[string]int32 {
	if len(m) == 0 {
		return nil
	}
	out := make(map[string]int32, len(m))
	for k, v := range m {
		out[k] = int32(v)
	}
	return out
}

func upperAll(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s = strings.ToUpper(strings.TrimSpace(s)); s != "" {
			out = append(out, s)
		}
	}
	return out
}
