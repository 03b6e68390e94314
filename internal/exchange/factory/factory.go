// Package factory selects and builds the exchange client for the configured
// backend. It is the only place that maps a backend identifier to an
// adapter constructor.
package factory

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/alanyoungcy/perpbot/internal/crypto"
	"github.com/alanyoungcy/perpbot/internal/domain"
	"github.com/alanyoungcy/perpbot/internal/exchange"
	"github.com/alanyoungcy/perpbot/internal/exchange/binance"
	"github.com/alanyoungcy/perpbot/internal/exchange/hyperliquid"
)

// HyperliquidConfig holds what the factory needs to build a live
// Hyperliquid client.
type HyperliquidConfig struct {
	Live         bool
	BaseURL      string
	Mainnet      bool
	Key          crypto.KeyConfig
	Vault        string
	PriceStep    float64
	PriceSteps   map[string]float64
	SizeDecimals map[string]int32
}

// BinanceConfig holds what the factory needs to build a live Binance
// futures client.
type BinanceConfig struct {
	Live             bool
	BaseURL          string
	APIKey           string
	APISecret        string
	HedgeMode        bool
	RecvWindow       time.Duration
	QuantityDecimals map[string]int32
}

// Config selects the backend.
type Config struct {
	Backend     domain.Backend
	CallTimeout time.Duration
	Hyperliquid HyperliquidConfig
	Binance     BinanceConfig
}

// Handles carries native exchange handles that were initialised elsewhere.
// A nil handle is built from Config when the backend is live.
type Handles struct {
	Hyperliquid hyperliquid.Handle
	Binance     binance.Handle
}

// Selection is the outcome of New. Client is always usable. Triggers is nil
// unless the live backend manages native stop-loss and take-profit orders.
// Err records why a requested live backend fell back to paper mode.
type Selection struct {
	Client   exchange.Client
	Triggers exchange.TriggerManager
	Backend  domain.Backend
	Live     bool
	Err      error
}

// New builds the client for cfg. It never fails: a misconfigured live
// backend degrades to paper mode and reports the problem on first use.
func New(cfg Config, handles Handles, logger *slog.Logger) Selection {
	log := logger.With(slog.String("component", "exchange_factory"))
	backend := domain.Backend(strings.ToLower(strings.TrimSpace(string(cfg.Backend))))

	switch backend {
	case "", domain.BackendPaper:
		log.Info("paper trading selected")
		return paper(cfg, logger)

	case domain.BackendHyperliquid:
		if !cfg.Hyperliquid.Live {
			log.Info("hyperliquid live flag off, using paper adapter")
			return paper(cfg, logger)
		}
		handle := handles.Hyperliquid
		if handle == nil {
			h, err := buildHyperliquidHandle(cfg.Hyperliquid, logger)
			if err != nil {
				return degraded(cfg, backend, err, log, logger)
			}
			handle = h
		}
		client := hyperliquid.New(handle, hyperliquid.Options{
			DefaultPriceStep: cfg.Hyperliquid.PriceStep,
			PriceSteps:       cfg.Hyperliquid.PriceSteps,
			SizeDecimals:     cfg.Hyperliquid.SizeDecimals,
		}, logger)
		log.Info("hyperliquid live client ready", slog.Bool("mainnet", cfg.Hyperliquid.Mainnet))
		return live(cfg, backend, client, client, logger)

	case domain.BackendBinanceFutures:
		if !cfg.Binance.Live {
			log.Info("binance futures live flag off, using paper adapter")
			return paper(cfg, logger)
		}
		handle := handles.Binance
		if handle == nil {
			h, err := buildBinanceHandle(cfg.Binance, logger)
			if err != nil {
				return degraded(cfg, backend, err, log, logger)
			}
			handle = h
		}
		client := binance.New(handle, binance.Options{
			HedgeMode:        cfg.Binance.HedgeMode,
			QuantityDecimals: cfg.Binance.QuantityDecimals,
		}, logger)
		log.Info("binance futures live client ready", slog.Bool("hedge_mode", cfg.Binance.HedgeMode))
		return live(cfg, backend, client, client, logger)

	default:
		return degraded(cfg, backend, fmt.Errorf("unknown backend %q", backend), log, logger)
	}
}

func buildHyperliquidHandle(cfg HyperliquidConfig, logger *slog.Logger) (*hyperliquid.RESTHandle, error) {
	if cfg.BaseURL == "" {
		return nil, errors.New("hyperliquid base_url is empty")
	}
	key, err := crypto.LoadKey(cfg.Key)
	if err != nil {
		return nil, fmt.Errorf("load wallet key: %w", err)
	}
	signer, err := crypto.NewSigner(key, cfg.Mainnet)
	if err != nil {
		return nil, fmt.Errorf("create signer: %w", err)
	}
	return hyperliquid.NewRESTHandle(hyperliquid.RESTConfig{
		BaseURL: cfg.BaseURL,
		Vault:   cfg.Vault,
	}, signer, logger), nil
}

func buildBinanceHandle(cfg BinanceConfig, logger *slog.Logger) (*binance.RESTHandle, error) {
	if cfg.APIKey == "" || cfg.APISecret == "" {
		return nil, errors.New("binance api key or secret missing")
	}
	return binance.NewRESTHandle(binance.RESTConfig{
		BaseURL:    cfg.BaseURL,
		RecvWindow: cfg.RecvWindow,
	}, &crypto.HMACAuth{Key: cfg.APIKey, Secret: cfg.APISecret}, logger), nil
}

func paper(cfg Config, logger *slog.Logger) Selection {
	return Selection{
		Client:  exchange.NewGuarded(exchange.NewPaper(), domain.BackendPaper, cfg.CallTimeout, logger),
		Backend: domain.BackendPaper,
	}
}

func live(cfg Config, backend domain.Backend, client exchange.Client, triggers exchange.TriggerManager, logger *slog.Logger) Selection {
	return Selection{
		Client:   exchange.NewGuarded(client, backend, cfg.CallTimeout, logger),
		Triggers: triggers,
		Backend:  backend,
		Live:     true,
	}
}

func degraded(cfg Config, backend domain.Backend, cause error, log, logger *slog.Logger) Selection {
	err := fmt.Errorf("factory: %s: %w: %v", backend, domain.ErrBackendUnavailable, cause)
	log.Error("live backend unavailable, falling back to paper mode",
		slog.String("backend", string(backend)),
		slog.String("error", cause.Error()),
	)
	return Selection{
		Client:  exchange.NewGuarded(exchange.NewDegraded(backend, cause.Error()), backend, cfg.CallTimeout, logger),
		Backend: domain.BackendPaper,
		Err:     err,
	}
}
