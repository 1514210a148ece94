package liquidation

import (
	"testing"

	"github.com/shopspring/decimal"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func TestPayoutTopTier(t *testing.T) {
	// cr_pct = 1.25 > 1.15: full fines, remainder stays on the position.
	p := ComputePayout(dec("1000"), dec("1.25"), dec("0.10"), dec("0.05"))
	if !p.Liquidator.Equal(dec("880")) {
		t.Fatalf("liquidator %s", p.Liquidator)
	}
	if !p.Treasury.Equal(dec("40")) {
		t.Fatalf("treasury %s", p.Treasury)
	}
	if !p.Remainder.Equal(dec("80")) {
		t.Fatalf("remainder %s", p.Remainder)
	}
	if !p.PctOwed.Equal(dec("1.10")) || !p.PctReceived.Equal(dec("1.10")) {
		t.Fatalf("pcts owed=%s received=%s", p.PctOwed, p.PctReceived)
	}
}

func TestPayoutMiddleTier(t *testing.T) {
	// 1.10 < cr_pct = 1.125 <= 1.15: treasury absorbs what remains.
	p := ComputePayout(dec("4500"), dec("1.125"), dec("0.10"), dec("0.05"))
	if !p.Liquidator.Equal(dec("4400")) {
		t.Fatalf("liquidator %s", p.Liquidator)
	}
	if !p.Treasury.Equal(dec("100")) {
		t.Fatalf("treasury %s", p.Treasury)
	}
	if !p.Remainder.IsZero() {
		t.Fatalf("remainder %s", p.Remainder)
	}
}

func TestPayoutBottomTier(t *testing.T) {
	// cr_pct = 1.05 <= 1.10: entire collateral to the liquidator, short of owed.
	p := ComputePayout(dec("2100"), dec("1.05"), dec("0.10"), dec("0.05"))
	if !p.Liquidator.Equal(dec("2100")) {
		t.Fatalf("liquidator %s", p.Liquidator)
	}
	if !p.Treasury.IsZero() {
		t.Fatalf("treasury %s", p.Treasury)
	}
	if !p.PctReceived.Equal(dec("1.05")) {
		t.Fatalf("pct received %s", p.PctReceived)
	}
	if !p.PctOwed.Equal(dec("1.10")) {
		t.Fatalf("pct owed %s", p.PctOwed)
	}
}
