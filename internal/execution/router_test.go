package execution

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/perpbot/internal/domain"
	"github.com/alanyoungcy/perpbot/internal/exchange"
	"github.com/alanyoungcy/perpbot/internal/position"
)

type fakeClient struct {
	entries    []exchange.EntryRequest
	closes     []exchange.CloseRequest
	entryRes   domain.EntryResult
	closeRes   map[string]domain.CloseResult
	defaultCls domain.CloseResult
}

func (f *fakeClient) PlaceEntry(_ context.Context, req exchange.EntryRequest) domain.EntryResult {
	f.entries = append(f.entries, req)
	return f.entryRes
}

func (f *fakeClient) ClosePosition(_ context.Context, req exchange.CloseRequest) domain.CloseResult {
	f.closes = append(f.closes, req)
	if res, ok := f.closeRes[domain.BaseSymbol(req.Symbol)]; ok {
		return res
	}
	return f.defaultCls
}

type fakeTriggers struct {
	calls []exchange.TriggerUpdate
	res   exchange.TriggerResult
}

func (f *fakeTriggers) UpdateTriggers(_ context.Context, upd exchange.TriggerUpdate) exchange.TriggerResult {
	f.calls = append(f.calls, upd)
	return f.res
}

type gate struct{ st domain.RiskControlState }

func (g *gate) State() domain.RiskControlState { return g.st }

type recorder struct {
	mu     sync.Mutex
	events []domain.Event
}

func (r *recorder) PublishEvent(_ context.Context, ev domain.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recorder) types() []domain.EventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.EventType, 0, len(r.events))
	for _, e := range r.events {
		out = append(out, e.Type)
	}
	return out
}

type harness struct {
	router   *Router
	client   *fakeClient
	triggers *fakeTriggers
	book     *position.Book
	gate     *gate
	prices   *StaticPrices
	events   *recorder
}

func newHarness(t *testing.T, backend domain.Backend, universe ...string) *harness {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	h := &harness{
		client: &fakeClient{
			entryRes:   domain.EntryResult{Success: true, Backend: backend, Errors: []string{}, EntryOID: domain.String("A1")},
			defaultCls: domain.CloseResult{Success: true, Backend: backend, Errors: []string{}, CloseOID: domain.String("C1")},
		},
		triggers: &fakeTriggers{res: exchange.TriggerResult{Success: true, SLOID: domain.String("SL2")}},
		book:     position.NewBook(nil, nil, logger),
		gate:     &gate{},
		prices:   NewStaticPrices(map[string]float64{"BTC": 50000, "ETH": 3000, "SOL": 150}),
		events:   &recorder{},
	}
	h.router = NewRouter(h.client, h.triggers, backend, h.book, h.gate, h.prices, h.events, Config{
		Limits:   domain.RiskLimits{MaxRiskUSD: 100, MaxLeverage: 10},
		Universe: universe,
	}, logger)
	return h
}

func (h *harness) open(t *testing.T, symbol string, side domain.Side, size, entry, sl float64) {
	t.Helper()
	_, err := h.book.ApplyEntry(context.Background(), domain.Position{
		Symbol: symbol, Side: side, Size: size, EntryPrice: entry, StopLossPrice: domain.Float(sl), Leverage: 2,
	}, domain.EntryResult{Success: true, Backend: h.router.Backend()})
	require.NoError(t, err)
}

func TestEnter_CreatesPositionWithOID(t *testing.T) {
	h := newHarness(t, domain.BackendHyperliquid)
	out, err := h.router.Enter(context.Background(), btcLong())
	require.NoError(t, err)
	require.NotNil(t, out.Position)

	assert.Equal(t, "A1", domain.Deref(out.Position.EntryOID))
	assert.Equal(t, domain.BackendHyperliquid, out.Position.LiveBackend)
	require.Len(t, h.client.entries, 1)
	req := h.client.entries[0]
	assert.InDelta(t, 0.05, req.Size, 1e-12)
	assert.Equal(t, 49000.0, domain.Deref(req.StopLossPrice))
	assert.LessOrEqual(t, out.Plan.RiskUSD, 100.0)
	assert.Equal(t, []domain.EventType{domain.EventPositionOpened}, h.events.types())
}

func TestEnter_KillSwitchBlocksWithoutExchangeCall(t *testing.T) {
	h := newHarness(t, domain.BackendPaper)
	h.gate.st = domain.RiskControlState{KillSwitchActive: true, KillSwitchReason: "manual"}

	_, err := h.router.Enter(context.Background(), btcLong())
	assert.ErrorIs(t, err, domain.ErrKillSwitchActive)
	assert.Empty(t, h.client.entries)
	assert.Equal(t, 0, h.book.Len())
}

func TestEnter_FailedResultCreatesNothing(t *testing.T) {
	h := newHarness(t, domain.BackendBinanceFutures)
	h.client.entryRes = domain.EntryResult{Backend: domain.BackendBinanceFutures, Errors: []string{"entry: status=REJECTED"}}

	out, err := h.router.Enter(context.Background(), btcLong())
	require.NoError(t, err)
	assert.Nil(t, out.Position)
	assert.False(t, out.Result.Success)
	assert.Equal(t, 0, h.book.Len())
	assert.Equal(t, []domain.EventType{domain.EventEntryFailed}, h.events.types())
}

func TestEnter_AdvisoryKeepsPositionAndWarns(t *testing.T) {
	h := newHarness(t, domain.BackendHyperliquid)
	h.client.entryRes.Errors = []string{"stop_loss: Invalid trigger price"}

	out, err := h.router.Enter(context.Background(), btcLong())
	require.NoError(t, err)
	require.NotNil(t, out.Position)
	assert.True(t, h.book.Has("BTC"))
	assert.Equal(t, []domain.EventType{domain.EventPositionOpened, domain.EventProtectionDegraded}, h.events.types())
}

func TestEnter_UniverseAndDuplicate(t *testing.T) {
	h := newHarness(t, domain.BackendPaper, "ETHUSDT")
	_, err := h.router.Enter(context.Background(), btcLong())
	assert.ErrorIs(t, err, domain.ErrInvalidOrder)

	h = newHarness(t, domain.BackendPaper)
	h.open(t, "BTC", domain.SideLong, 1, 50000, 49000)
	_, err = h.router.Enter(context.Background(), btcLong())
	assert.ErrorIs(t, err, domain.ErrAlreadyExists)
	assert.Empty(t, h.client.entries)
}

func TestClose_FullPartialAndFailure(t *testing.T) {
	h := newHarness(t, domain.BackendPaper)
	h.open(t, "ETH", domain.SideLong, 2, 2900, 2800)

	out, err := h.router.Close(context.Background(), "ETHUSDT", domain.Float(0.5), ReasonManual)
	require.NoError(t, err)
	assert.False(t, out.Applied.Full)
	p, _ := h.book.Get("ETH")
	assert.InDelta(t, 1.5, p.Size, 1e-12)
	assert.InDelta(t, 0.5, domain.Deref(h.client.closes[0].Size), 1e-12)
	assert.Equal(t, 3000.0, domain.Deref(h.client.closes[0].FallbackPrice))

	h.client.defaultCls = domain.CloseResult{Errors: []string{"close: rejected"}}
	out, err = h.router.Close(context.Background(), "ETH", nil, ReasonManual)
	require.NoError(t, err)
	assert.False(t, out.Result.Success)
	p, _ = h.book.Get("ETH")
	assert.InDelta(t, 1.5, p.Size, 1e-12)

	h.client.defaultCls = domain.CloseResult{Success: true}
	out, err = h.router.Close(context.Background(), "ETH", nil, ReasonManual)
	require.NoError(t, err)
	assert.True(t, out.Applied.Full)
	assert.InDelta(t, 1.5, domain.Deref(h.client.closes[2].Size), 1e-12, "full close resolves size at call time")
	assert.False(t, h.book.Has("ETH"))
}

func TestClose_NoPositionAndKillSwitch(t *testing.T) {
	h := newHarness(t, domain.BackendPaper)
	_, err := h.router.Close(context.Background(), "XRPUSDT", nil, ReasonManual)
	assert.ErrorIs(t, err, domain.ErrNoPosition)

	h.open(t, "BTC", domain.SideLong, 0.1, 50000, 49000)
	h.gate.st = domain.RiskControlState{KillSwitchActive: true}
	out, err := h.router.Close(context.Background(), "BTCUSDT", nil, ReasonManual)
	require.NoError(t, err)
	assert.True(t, out.Result.Success)
	assert.False(t, h.book.Has("BTC"))
}

func TestClose_ExchangeFlatRemovesPosition(t *testing.T) {
	h := newHarness(t, domain.BackendHyperliquid)
	h.open(t, "SOL", domain.SideShort, 10, 160, 170)
	h.client.defaultCls = domain.CloseResult{Success: true, Extra: map[string]any{"reason": "no position size to close"}}

	out, err := h.router.Close(context.Background(), "SOL", nil, ReasonManual)
	require.NoError(t, err)
	assert.True(t, out.Flat)
	assert.False(t, h.book.Has("SOL"))
}

func TestUpdateTargets_ValidatesAndReplacesTriggers(t *testing.T) {
	h := newHarness(t, domain.BackendHyperliquid)
	h.open(t, "BTC", domain.SideLong, 0.1, 50000, 47000)

	out, err := h.router.UpdateTargets(context.Background(), "BTCUSDT", domain.Float(48000), nil, 50000)
	require.NoError(t, err)
	assert.Equal(t, 48000.0, domain.Deref(out.Position.StopLossPrice))
	assert.True(t, out.TriggersReplaced)
	assert.Equal(t, "SL2", domain.Deref(out.Position.SLOID))
	require.Len(t, h.triggers.calls, 1)
	assert.Equal(t, 0.1, h.triggers.calls[0].Size)

	_, err = h.router.UpdateTargets(context.Background(), "BTCUSDT", domain.Float(52000), nil, 50000)
	assert.ErrorIs(t, err, domain.ErrInvalidTarget)
	p, _ := h.book.Get("BTC")
	assert.Equal(t, 48000.0, domain.Deref(p.StopLossPrice))
	assert.Len(t, h.triggers.calls, 1)
}

func TestUpdateTargets_BothLegsAtomic(t *testing.T) {
	h := newHarness(t, domain.BackendPaper)
	h.open(t, "ETH", domain.SideShort, 1, 3000, 3200)

	_, err := h.router.UpdateTargets(context.Background(), "ETH", domain.Float(3100), domain.Float(3050), 3000)
	assert.ErrorIs(t, err, domain.ErrInvalidTarget)
	p, _ := h.book.Get("ETH")
	assert.Equal(t, 3200.0, domain.Deref(p.StopLossPrice))
	assert.Nil(t, p.TakeProfitPrice)
	assert.Empty(t, h.triggers.calls, "paper positions have no native triggers")
}

func TestUpdateTargets_TriggerFailureIsAdvisory(t *testing.T) {
	h := newHarness(t, domain.BackendBinanceFutures)
	h.open(t, "BTC", domain.SideLong, 0.1, 50000, 47000)
	h.triggers.res = exchange.TriggerResult{Errors: []string{"stop_loss: -2021 would trigger"}}

	out, err := h.router.UpdateTargets(context.Background(), "BTC", nil, domain.Float(55000), 50000)
	require.NoError(t, err)
	assert.False(t, out.TriggersReplaced)
	assert.Contains(t, out.Advisory, "would trigger")
	assert.Equal(t, 55000.0, domain.Deref(out.Position.TakeProfitPrice))
	assert.Contains(t, h.events.types(), domain.EventProtectionDegraded)
}

func TestCheckStops_ClosesBreachedPositions(t *testing.T) {
	h := newHarness(t, domain.BackendPaper)
	h.open(t, "BTC", domain.SideLong, 0.1, 52000, 50500)
	h.open(t, "ETH", domain.SideLong, 1, 2900, 2800)

	outs := h.router.CheckStops(context.Background())
	require.Len(t, outs, 1)
	assert.Equal(t, "BTC", outs[0].Plan.Symbol)
	assert.False(t, h.book.Has("BTC"))
	assert.True(t, h.book.Has("ETH"))
}

func TestProcessDecisions_IsolatesFailures(t *testing.T) {
	h := newHarness(t, domain.BackendPaper, "BTC", "ETH", "SOL")
	h.open(t, "ETH", domain.SideLong, 1, 2900, 2800)

	bad := btcLong()
	bad.Symbol = "SOLUSDT"
	bad.StopLoss = 0

	sum := h.router.ProcessDecisions(context.Background(), []domain.Decision{
		bad,
		btcLong(),
		{Symbol: "ETH", Signal: domain.SignalClose},
		{Symbol: "DOGE", Signal: domain.SignalHold},
	})
	assert.Equal(t, DecisionSummary{Entries: 1, Closes: 1, Holds: 1, Rejected: 1}, sum)
	assert.True(t, h.book.Has("BTC"))
	assert.False(t, h.book.Has("ETH"))
}

func TestWarnOrphans(t *testing.T) {
	h := newHarness(t, domain.BackendPaper, "BTC")
	h.open(t, "ETH", domain.SideLong, 1, 2900, 2800)
	assert.Equal(t, []string{"ETH"}, h.router.WarnOrphans(context.Background()))

	out, err := h.router.UpdateTargets(context.Background(), "ETH", domain.Float(2850), nil, 3000)
	require.NoError(t, err, "orphaned positions stay manageable")
	assert.Equal(t, 2850.0, domain.Deref(out.Position.StopLossPrice))
}

func TestClose_RefusesPositionHeldOnInactiveBackend(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	book := position.NewBook(nil, nil, logger)
	_, err := book.ApplyEntry(context.Background(), domain.Position{
		Symbol: "BTC", Side: domain.SideLong, Size: 0.5, EntryPrice: 50000, StopLossPrice: domain.Float(49000),
	}, domain.EntryResult{Success: true, Backend: domain.BackendHyperliquid})
	require.NoError(t, err)

	events := &recorder{}
	degraded := exchange.NewDegraded(domain.BackendHyperliquid, "no wallet key")
	router := NewRouter(degraded, nil, domain.BackendPaper, book, &gate{},
		NewStaticPrices(map[string]float64{"BTC": 48500}), events, Config{}, logger)

	for i := 0; i < 3; i++ {
		outs := router.CheckStops(context.Background())
		require.Len(t, outs, 1)
		assert.False(t, outs[0].Result.Success)
		assert.Equal(t, domain.BackendHyperliquid, outs[0].Result.Backend)
		assert.Contains(t, outs[0].Result.Errors[0], "held on hyperliquid")
	}
	p, ok := book.Get("BTC")
	require.True(t, ok, "live position stays in the book")
	assert.Equal(t, 0.5, p.Size)
	assert.Equal(t, []domain.EventType{domain.EventCloseFailed, domain.EventCloseFailed, domain.EventCloseFailed}, events.types())
}

func TestClose_PaperClientNeverClosesLivePosition(t *testing.T) {
	h := newHarness(t, domain.BackendPaper)
	_, err := h.book.ApplyEntry(context.Background(), domain.Position{
		Symbol: "ETH", Side: domain.SideShort, Size: 1, EntryPrice: 3000, StopLossPrice: domain.Float(3200),
	}, domain.EntryResult{Success: true, Backend: domain.BackendBinanceFutures})
	require.NoError(t, err)

	out, err := h.router.Close(context.Background(), "ETH", nil, ReasonManual)
	require.NoError(t, err)
	assert.False(t, out.Result.Success)
	assert.Empty(t, h.client.closes)
	assert.True(t, h.book.Has("ETH"))
}

func TestEnter_StoresFilledSize(t *testing.T) {
	h := newHarness(t, domain.BackendHyperliquid)
	h.client.entryRes.Extra = map[string]any{"fill_price": 50010.0, "filled_size": 0.02}

	out, err := h.router.Enter(context.Background(), btcLong())
	require.NoError(t, err)
	require.NotNil(t, out.Position)
	assert.InDelta(t, 0.05, out.Plan.Size, 1e-12)

	p, ok := h.book.Get("BTC")
	require.True(t, ok)
	assert.Equal(t, 0.02, p.Size)
	assert.Equal(t, 50010.0, p.EntryPrice)
}

func TestClose_PartialFillReducesByFilledAmount(t *testing.T) {
	h := newHarness(t, domain.BackendHyperliquid)
	h.open(t, "ETH", domain.SideLong, 2, 2900, 2800)
	h.client.defaultCls = domain.CloseResult{
		Success: true,
		Backend: domain.BackendHyperliquid,
		Errors:  []string{},
		Extra:   map[string]any{"fill_price": 3000.0, "filled_size": 0.5},
	}

	out, err := h.router.Close(context.Background(), "ETH", nil, ReasonStopLoss)
	require.NoError(t, err)
	assert.False(t, out.Applied.Full)
	assert.InDelta(t, 0.5, out.Applied.Closed, 1e-12)
	p, ok := h.book.Get("ETH")
	require.True(t, ok)
	assert.InDelta(t, 1.5, p.Size, 1e-12)
	assert.Contains(t, h.events.types(), domain.EventPositionReduced)
}
