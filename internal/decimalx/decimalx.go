// Package decimalx collects the fixed-point helpers the engine needs beyond
// plain github.com/shopspring/decimal arithmetic: directional rounding and
// fractional-exponent compounding.
package decimalx

import (
	"math"

	"github.com/shopspring/decimal"
)

// Scale is the decimal precision carried through engine arithmetic.
const Scale = 18

// RoundDown truncates toward zero at Scale places. Used for collateral
// withdrawals.
func RoundDown(d decimal.Decimal) decimal.Decimal {
	return d.Truncate(Scale)
}

// RoundUp rounds away from zero at Scale places. Used for force-mint
// collateral refunds so the protocol never returns more STAB-backing than
// the supplied collateral can support.
func RoundUp(d decimal.Decimal) decimal.Decimal {
	truncated := d.Truncate(Scale)
	if truncated.Equal(d) {
		return truncated
	}
	step := decimal.New(1, -Scale)
	if d.IsNegative() {
		return truncated.Sub(step)
	}
	return truncated.Add(step)
}

// Pow raises a strictly positive base to a real (possibly fractional)
// exponent: base^exp, used to compound the internal price by
// rate^elapsed. No arbitrary-precision decimal library exposes a
// fractional Pow, so this helper bridges through float64 via
// exp(exp*ln(base)) and converts back to Decimal. Saturates to zero if the
// base is non-positive.
func Pow(base, exp decimal.Decimal) decimal.Decimal {
	if base.Sign() <= 0 {
		return decimal.Zero
	}
	b, _ := base.Float64()
	e, _ := exp.Float64()
	result := math.Exp(e * math.Log(b))
	if math.IsNaN(result) || math.IsInf(result, 0) {
		if result > 0 {
			return decimal.New(math.MaxInt64, 0)
		}
		return decimal.Zero
	}
	return decimal.NewFromFloat(result)
}

// Clamp restricts d to the closed interval [lo, hi].
func Clamp(d, lo, hi decimal.Decimal) decimal.Decimal {
	if d.LessThan(lo) {
		return lo
	}
	if d.GreaterThan(hi) {
		return hi
	}
	return d
}
