// Package amount renders dollar amounts and prices for the signal display.
package amount

import (
	"github.com/dustin/go-humanize"
	"github.com/shopspring/decimal"
)

var (
	thousand = decimal.NewFromInt(1_000)
	million  = decimal.NewFromInt(1_000_000)
)

// Magnitude abbreviates an amount: "3.4 million", "1.2K", or "999.00" below
// a thousand. The abbreviated forms are floored, never rounded, to one
// decimal place and drop a trailing ".0".
func Magnitude(amount decimal.Decimal) string {
	switch {
	case amount.GreaterThanOrEqual(million):
		return floorTenth(amount.Shift(-6)) + " million"
	case amount.GreaterThanOrEqual(thousand):
		return floorTenth(amount.Shift(-3)) + "K"
	default:
		return Fixed2(amount)
	}
}

// Price renders a price with two decimals and thousands separators.
func Price(p float64) string {
	return Fixed2(decimal.NewFromFloat(p))
}

// Fixed2 rounds to cents and groups thousands with commas.
func Fixed2(d decimal.Decimal) string {
	return humanize.FormatFloat("#,###.##", d.Round(2).InexactFloat64())
}

// String() drops trailing zeros, so 2.0 renders as "2".
func floorTenth(d decimal.Decimal) string {
	return d.Shift(1).Floor().Shift(-1).String()
}
