package exchange

import (
	"github.com/shopspring/decimal"
)

// DefaultPriceStep is used when a venue's tick size is unknown.
const DefaultPriceStep = 0.01

// RoundToStep snaps v onto a multiple of step. up selects ceiling (buys
// crossing the ask) over floor (sells crossing the bid).
func RoundToStep(v, step float64, up bool) float64 {
	if step <= 0 {
		step = DefaultPriceStep
	}
	d := decimal.NewFromFloat(v)
	s := decimal.NewFromFloat(step)
	// Float inputs like 50000.5+0.01 land a hair off the grid.
	q := d.Div(s).Round(8)
	if up {
		q = q.Ceil()
	} else {
		q = q.Floor()
	}
	out, _ := q.Mul(s).Float64()
	return out
}

// FloorToDecimals truncates v to places decimal places. Sizes are always
// floored so rounding can never enlarge an order past its risk bound.
func FloorToDecimals(v float64, places int32) float64 {
	out, _ := decimal.NewFromFloat(v).RoundFloor(places).Float64()
	return out
}

// FormatDecimal renders v without exponent and without trailing zeros.
func FormatDecimal(v float64) string {
	return decimal.NewFromFloat(v).String()
}

// FormatFixed renders v with at most places decimals, trailing zeros removed.
func FormatFixed(v float64, places int32) string {
	return decimal.NewFromFloat(v).Round(places).String()
}
