package execution

import (
	"context"
	"sync"
	"time"

	"github.com/alanyoungcy/perpbot/internal/domain"
)

// CachePrices reads prices from a domain.PriceCache and ignores quotes older
// than MaxAge (zero accepts any age).
type CachePrices struct {
	Cache  domain.PriceCache
	MaxAge time.Duration
}

// Price implements PriceSource.
func (c CachePrices) Price(ctx context.Context, symbol string) (float64, bool) {
	if c.Cache == nil {
		return 0, false
	}
	px, ts, err := c.Cache.GetPrice(ctx, domain.BaseSymbol(symbol))
	if err != nil || px <= 0 {
		return 0, false
	}
	if c.MaxAge > 0 && !ts.IsZero() && time.Since(ts) > c.MaxAge {
		return 0, false
	}
	return px, true
}

// StaticPrices is an in-memory PriceSource keyed by base symbol.
type StaticPrices struct {
	mu     sync.RWMutex
	prices map[string]float64
}

// NewStaticPrices returns a StaticPrices seeded with prices.
func NewStaticPrices(prices map[string]float64) *StaticPrices {
	s := &StaticPrices{prices: make(map[string]float64, len(prices))}
	for k, v := range prices {
		s.prices[domain.BaseSymbol(k)] = v
	}
	return s
}

// Set stores price for symbol.
func (s *StaticPrices) Set(symbol string, price float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prices[domain.BaseSymbol(symbol)] = price
}

// Price implements PriceSource.
func (s *StaticPrices) Price(_ context.Context, symbol string) (float64, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	px, ok := s.prices[domain.BaseSymbol(symbol)]
	return px, ok && px > 0
}
