package liquidation

import "github.com/shopspring/decimal"

// Payout is the collateral split computed for one liquidation.
type Payout struct {
	Liquidator  decimal.Decimal
	Treasury    decimal.Decimal
	Remainder   decimal.Decimal
	PctOwed     decimal.Decimal
	PctReceived decimal.Decimal
}

// ComputePayout implements the three-tier liquidation payout table: full
// fines above the combined-fine threshold, a partial treasury cut between
// that and 1+liqFine, and an all-to-liquidator payout below 1+liqFine
// (capped further at cr_pct when even that is short).
func ComputePayout(collateralAmount, crPct, liqFine, stabFine decimal.Decimal) Payout {
	one := decimal.NewFromInt(1)
	pctOwed := one.Add(liqFine)
	combinedThreshold := pctOwed.Add(stabFine)

	switch {
	case crPct.GreaterThan(combinedThreshold):
		liquidator := pctOwed.Mul(collateralAmount).Div(crPct)
		treasury := decimal.Zero
		if stabFine.GreaterThan(decimal.Zero) {
			treasury = stabFine.Mul(collateralAmount).Div(crPct)
		}
		remainder := collateralAmount.Sub(liquidator).Sub(treasury)
		return Payout{
			Liquidator:  liquidator,
			Treasury:    treasury,
			Remainder:   remainder,
			PctOwed:     pctOwed,
			PctReceived: pctOwed,
		}
	case crPct.GreaterThan(pctOwed):
		liquidator := pctOwed.Mul(collateralAmount).Div(crPct)
		treasury := collateralAmount.Sub(liquidator)
		return Payout{
			Liquidator:  liquidator,
			Treasury:    treasury,
			Remainder:   decimal.Zero,
			PctOwed:     pctOwed,
			PctReceived: pctOwed,
		}
	default:
		return Payout{
			Liquidator:  collateralAmount,
			Treasury:    decimal.Zero,
			Remainder:   decimal.Zero,
			PctOwed:     pctOwed,
			PctReceived: crPct,
		}
	}
}
