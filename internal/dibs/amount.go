package dibs

import (
	"strconv"

	"github.com/shopspring/decimal"
)

// MinorUnits converts a decimal currency amount into integer minor units
// (cents). The amount is first rounded to two fractional digits, half away
// from zero, then shifted by two places and truncated. DIBS processes every
// price with two decimals and rejects a transaction whose declared total does
// not equal the sum of its declared rows, so the same conversion must be used
// for unit prices, tax amounts, shipping, discounts and fees.
func MinorUnits(amount decimal.Decimal) int64 {
	v := amount.Round(2).Shift(2).IntPart()
	if v == 0 {
		// normalise negative zero
		return 0
	}
	return v
}

// FormatMinor renders minor units the way DIBS expects them on the wire.
func FormatMinor(v int64) string {
	return strconv.FormatInt(v, 10)
}
