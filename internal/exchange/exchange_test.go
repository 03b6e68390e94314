package exchange

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/perpbot/internal/domain"
)

func TestErrorList_DedupPreservesOrder(t *testing.T) {
	var l ErrorList
	l.Add("entry: rejected")
	l.Add("  ")
	l.Add("stop_loss: bad trigger")
	l.Add("entry: rejected")
	l.Addf("take_profit: %s", "bad trigger")

	assert.Equal(t, []string{"entry: rejected", "stop_loss: bad trigger", "take_profit: bad trigger"}, l.Items())
	assert.Equal(t, "entry: rejected; stop_loss: bad trigger; take_profit: bad trigger", Summary(l.Items()))
}

func TestErrorList_EmptyItemsNotNil(t *testing.T) {
	var l ErrorList
	assert.NotNil(t, l.Items())
	assert.Empty(t, l.Items())
}

func TestRoundToStep(t *testing.T) {
	assert.InDelta(t, 100.02, RoundToStep(100.011, 0.01, true), 1e-9)
	assert.InDelta(t, 100.01, RoundToStep(100.019, 0.01, false), 1e-9)
	assert.InDelta(t, 50000.5, RoundToStep(50000.3, 0.5, true), 1e-9)
	assert.InDelta(t, 1.23, RoundToStep(1.234, 0, false), 1e-9)
}

func TestFloorToDecimals(t *testing.T) {
	assert.InDelta(t, 0.0012, FloorToDecimals(0.00129, 4), 1e-12)
	assert.Equal(t, "0.001", FormatDecimal(0.001))
	assert.Equal(t, "1.5", FormatFixed(1.50001, 4))
}

func TestPaper_FillsAtRequestedPrice(t *testing.T) {
	p := NewPaper()
	res := p.PlaceEntry(context.Background(), EntryRequest{Symbol: "BTC", Side: domain.SideLong, Size: 0.1, EntryPrice: 50000})

	require.True(t, res.Success)
	require.NotNil(t, res.EntryOID)
	assert.True(t, strings.HasPrefix(*res.EntryOID, "paper-"))
	assert.Equal(t, 50000.0, res.FillPrice(0))

	bad := p.PlaceEntry(context.Background(), EntryRequest{Symbol: "BTC", Side: domain.SideLong})
	assert.False(t, bad.Success)
	assert.Len(t, bad.Errors, 2)
}

func TestDegraded_FailsOnceThenPaper(t *testing.T) {
	d := NewDegraded(domain.BackendBinanceFutures, "missing api key")
	req := EntryRequest{Symbol: "ETH", Side: domain.SideShort, Size: 1, EntryPrice: 3000}

	first := d.PlaceEntry(context.Background(), req)
	assert.False(t, first.Success)
	require.Len(t, first.Errors, 1)
	assert.Contains(t, first.Errors[0], "missing api key")

	second := d.PlaceEntry(context.Background(), req)
	assert.True(t, second.Success)
	assert.Equal(t, domain.BackendPaper, second.Backend)
}

func TestDegraded_NeverClosesLivePositions(t *testing.T) {
	d := NewDegraded(domain.BackendHyperliquid, "no wallet key")
	req := CloseRequest{Symbol: "BTC", Side: domain.SideLong, Size: domain.Float(0.5), Backend: domain.BackendHyperliquid}

	for i := 0; i < 3; i++ {
		res := d.ClosePosition(context.Background(), req)
		assert.False(t, res.Success)
		assert.Nil(t, res.CloseOID)
		require.Len(t, res.Errors, 1)
		assert.Contains(t, res.Errors[0], "no wallet key")
	}

	req.Backend = domain.BackendPaper
	res := d.ClosePosition(context.Background(), req)
	assert.True(t, res.Success, "paper positions opened while degraded still close")
}

type panicClient struct{}

func (panicClient) PlaceEntry(context.Context, EntryRequest) domain.EntryResult { panic("boom") }

func (panicClient) ClosePosition(ctx context.Context, _ CloseRequest) domain.CloseResult {
	<-ctx.Done()
	return domain.CloseResult{Errors: []string{ctx.Err().Error()}}
}

func TestGuarded_RecoversAndTimesOut(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	g := NewGuarded(panicClient{}, domain.BackendHyperliquid, 10*time.Millisecond, logger)

	res := g.PlaceEntry(context.Background(), EntryRequest{Symbol: "BTC"})
	assert.False(t, res.Success)
	assert.Equal(t, domain.BackendHyperliquid, res.Backend)
	require.Len(t, res.Errors, 1)
	assert.Contains(t, res.Errors[0], "boom")

	closed := g.ClosePosition(context.Background(), CloseRequest{Symbol: "BTC"})
	assert.False(t, closed.Success)
	assert.Contains(t, closed.Errors[0], "deadline exceeded")
}
