package pooladapter

import (
	"testing"

	"github.com/shopspring/decimal"

	"stabengine/internal/oracle"
)

func TestUnderlyingPassesThroughPlainCollateral(t *testing.T) {
	a := NewAdapter()
	amount := decimal.NewFromInt(123)
	got, err := a.Underlying(amount, "XRD", false)
	if err != nil {
		t.Fatalf("underlying: %v", err)
	}
	if !got.Equal(amount) {
		t.Fatalf("plain collateral must pass through: got %s", got)
	}
}

func TestUnderlyingAppliesRedemptionRate(t *testing.T) {
	a := NewAdapter()
	view := oracle.NewFixedRedemptionView(oracle.Validator)
	view.Rate = decimal.RequireFromString("1.1")
	a.RegisterView("LSU", view)

	got, err := a.Underlying(decimal.NewFromInt(100), "LSU", true)
	if err != nil {
		t.Fatalf("underlying: %v", err)
	}
	if !got.Equal(decimal.NewFromInt(110)) {
		t.Fatalf("unexpected underlying %s", got)
	}
}

func TestUnderlyingUnregisteredViewFails(t *testing.T) {
	a := NewAdapter()
	if _, err := a.Underlying(decimal.NewFromInt(1), "LSU", true); err == nil {
		t.Fatal("expected missing view error")
	}
}
