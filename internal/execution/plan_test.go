package execution

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/perpbot/internal/domain"
)

func btcLong() domain.Decision {
	return domain.Decision{
		Symbol:   "BTCUSDT",
		Signal:   domain.SignalEntry,
		Side:     "long",
		StopLoss: 49000,
		RiskUSD:  50,
		Leverage: 1,
	}
}

func TestPlanEntry_SizesFromRiskAndStopDistance(t *testing.T) {
	plan, err := PlanEntry(btcLong(), 50000, domain.RiskLimits{MaxRiskUSD: 100, MaxLeverage: 10}, 6)
	require.NoError(t, err)

	assert.Equal(t, domain.SideLong, plan.Side)
	assert.InDelta(t, 0.05, plan.Size, 1e-12)
	assert.InDelta(t, 50.0, plan.RiskUSD, 1e-9)
	assert.InDelta(t, 2500.0, plan.MarginUSD, 1e-9)
	assert.Equal(t, "taker", plan.Liquidity)
	assert.Empty(t, plan.Adjustments)
}

func TestPlanEntry_ClampsRiskLeverageAndMargin(t *testing.T) {
	d := btcLong()
	d.RiskUSD = 500
	d.Leverage = 50
	limits := domain.RiskLimits{MaxRiskUSD: 100, MaxLeverage: 10, MaxMarginUSD: 200}

	plan, err := PlanEntry(d, 50000, limits, 6)
	require.NoError(t, err)

	assert.Equal(t, 10.0, plan.Leverage)
	assert.InDelta(t, 0.04, plan.Size, 1e-12)
	assert.LessOrEqual(t, plan.RiskUSD, limits.MaxRiskUSD)
	assert.LessOrEqual(t, plan.MarginUSD, limits.MaxMarginUSD+1e-9)
	assert.Len(t, plan.Adjustments, 3)
}

func TestPlanEntry_FractionalLeverageFlooredBeforeMarginClamp(t *testing.T) {
	d := btcLong()
	d.Leverage = 20
	limits := domain.RiskLimits{MaxRiskUSD: 100, MaxLeverage: 2.5, MaxMarginUSD: 100}

	plan, err := PlanEntry(d, 50000, limits, 6)
	require.NoError(t, err)

	assert.Equal(t, 2.0, plan.Leverage)
	assert.InDelta(t, 0.004, plan.Size, 1e-12)
	assert.LessOrEqual(t, plan.MarginUSD, limits.MaxMarginUSD+1e-9)
	assert.Contains(t, plan.Adjustments, "leverage 2.50x floored to 2x")
}

func TestPlanEntry_RiskBoundHoldsForAnyRequest(t *testing.T) {
	limits := domain.RiskLimits{MaxRiskUSD: 100, MaxMarginUSD: 1000, MaxLeverage: 5}
	for _, req := range []struct{ risk, qty, lev float64 }{
		{1e6, 0, 100}, {10, 0, 0}, {0, 3, 2}, {250, 0.001, 5}, {99.99, 0, 1},
	} {
		d := btcLong()
		d.RiskUSD, d.Quantity, d.Leverage = req.risk, req.qty, req.lev
		plan, err := PlanEntry(d, 50000, limits, 6)
		require.NoError(t, err)
		assert.LessOrEqual(t, plan.RiskUSD, limits.MaxRiskUSD+1e-9)
		assert.LessOrEqual(t, plan.MarginUSD, limits.MaxMarginUSD+1e-9)
		assert.LessOrEqual(t, plan.Leverage, limits.MaxLeverage)
	}
}

func TestPlanEntry_QuantityCapsSize(t *testing.T) {
	d := btcLong()
	d.Quantity = 0.01
	plan, err := PlanEntry(d, 50000, domain.RiskLimits{}, 6)
	require.NoError(t, err)
	assert.Equal(t, 0.01, plan.Size)
	assert.InDelta(t, 10.0, plan.RiskUSD, 1e-9)
}

func TestPlanEntry_Rejections(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*domain.Decision)
		price  float64
		target error
	}{
		{"missing stop", func(d *domain.Decision) { d.StopLoss = 0 }, 50000, domain.ErrInvalidTarget},
		{"stop above long", func(d *domain.Decision) { d.StopLoss = 51000 }, 50000, domain.ErrInvalidTarget},
		{"stop below short", func(d *domain.Decision) { d.Side = "short" }, 50000, domain.ErrInvalidTarget},
		{"tp below long", func(d *domain.Decision) { d.ProfitTarget = 49500 }, 50000, domain.ErrInvalidTarget},
		{"bad side", func(d *domain.Decision) { d.Side = "flat" }, 50000, domain.ErrInvalidOrder},
		{"no price", func(d *domain.Decision) {}, 0, domain.ErrInvalidOrder},
		{"no budget", func(d *domain.Decision) { d.RiskUSD = 0 }, 50000, domain.ErrInvalidOrder},
		{"rounds to zero", func(d *domain.Decision) { d.RiskUSD = 1e-7 }, 50000, domain.ErrInvalidOrder},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			d := btcLong()
			tc.mutate(&d)
			_, err := PlanEntry(d, tc.price, domain.RiskLimits{MaxRiskUSD: 100}, 6)
			assert.ErrorIs(t, err, tc.target)
		})
	}
}

func TestPlanClose(t *testing.T) {
	pos := domain.Position{Symbol: "ETH", Side: domain.SideShort, Size: 2}

	p, err := PlanClose(pos, nil)
	require.NoError(t, err)
	assert.True(t, p.Full)
	assert.Equal(t, 2.0, p.Size)

	p, err = PlanClose(pos, domain.Float(0.5))
	require.NoError(t, err)
	assert.False(t, p.Full)
	assert.Equal(t, 0.5, p.Size)

	p, err = PlanClose(pos, domain.Float(5))
	require.NoError(t, err)
	assert.True(t, p.Full)
	assert.Equal(t, 2.0, p.Size)

	_, err = PlanClose(pos, domain.Float(0))
	assert.ErrorIs(t, err, domain.ErrInvalidOrder)
}

func TestValidateTargets(t *testing.T) {
	assert.NoError(t, ValidateTargets(domain.SideLong, 100, domain.Float(95), domain.Float(110)))
	assert.NoError(t, ValidateTargets(domain.SideShort, 100, domain.Float(105), domain.Float(90)))
	assert.NoError(t, ValidateTargets(domain.SideLong, 100, nil, nil))

	assert.ErrorIs(t, ValidateTargets(domain.SideLong, 100, domain.Float(100), nil), domain.ErrInvalidTarget)
	assert.ErrorIs(t, ValidateTargets(domain.SideLong, 100, nil, domain.Float(99)), domain.ErrInvalidTarget)
	assert.ErrorIs(t, ValidateTargets(domain.SideShort, 100, domain.Float(99), nil), domain.ErrInvalidTarget)
	assert.ErrorIs(t, ValidateTargets(domain.SideShort, 100, nil, domain.Float(101)), domain.ErrInvalidTarget)
	assert.ErrorIs(t, ValidateTargets(domain.SideLong, 0, domain.Float(1), nil), domain.ErrInvalidTarget)
}

func TestTargetFromPercentAndStopBreached(t *testing.T) {
	assert.InDelta(t, 47500.0, TargetFromPercent(50000, -5), 1e-9)
	assert.InDelta(t, 52500.0, TargetFromPercent(50000, 5), 1e-9)

	long := domain.Position{Side: domain.SideLong, StopLossPrice: domain.Float(95), TakeProfitPrice: domain.Float(110)}
	r, hit := StopBreached(long, 94)
	assert.True(t, hit)
	assert.Equal(t, ReasonStopLoss, r)
	r, hit = StopBreached(long, 111)
	assert.True(t, hit)
	assert.Equal(t, ReasonTakeProfit, r)
	_, hit = StopBreached(long, 100)
	assert.False(t, hit)

	short := domain.Position{Side: domain.SideShort, StopLossPrice: domain.Float(105)}
	r, hit = StopBreached(short, 106)
	assert.True(t, hit)
	assert.Equal(t, ReasonStopLoss, r)
	_, hit = StopBreached(short, 0)
	assert.False(t, hit)
}
