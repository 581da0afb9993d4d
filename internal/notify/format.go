package notify

import (
	"math"

	"github.com/shopspring/decimal"
)

// FormatPrice renders v with precision chosen by magnitude: 2 places from
// 1000 up, 4 from 1, 6 below. Trailing zeros are dropped.
func FormatPrice(v float64) string {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return "N/A"
	}
	d := decimal.NewFromFloat(v)
	abs := d.Abs()

	var places int32
	switch {
	case abs.GreaterThanOrEqual(decimal.NewFromInt(1000)):
		places = 2
	case abs.GreaterThanOrEqual(decimal.NewFromInt(1)):
		places = 4
	default:
		places = 6
	}
	return d.Round(places).String()
}

// FormatChange renders the signed distance of current from target and the
// percentage, e.g. "+12.5 (+0.03%)".
func FormatChange(current, target float64) string {
	if target == 0 || math.IsNaN(current) || math.IsInf(current, 0) {
		return "N/A"
	}
	c := decimal.NewFromFloat(current)
	t := decimal.NewFromFloat(target)
	diff := c.Sub(t)
	pct := diff.Div(t).Mul(decimal.NewFromInt(100)).Round(2)

	return signed(FormatPrice(diff.InexactFloat64()), diff) + " (" + signed(pct.StringFixed(2), pct) + "%)"
}

func signed(s string, d decimal.Decimal) string {
	if d.IsNegative() {
		return s
	}
	return "+" + s
}
