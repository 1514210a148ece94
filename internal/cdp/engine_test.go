package cdp

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"

	"stabengine/internal/assets"
	"stabengine/internal/collateral"
	"stabengine/internal/custody"
	"stabengine/internal/liquidation"
	"stabengine/internal/pooladapter"
	"stabengine/internal/position"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

var one = decimal.NewFromInt(1)

type fixture struct {
	positions *position.Store
	registry  *collateral.Registry
	adapter   *pooladapter.Adapter
	custody   *custody.Custody
	crIndex   *liquidation.CRIndex
	markers   *liquidation.MarkerStore
	markedIdx *liquidation.MarkedIndex
	engine    *Engine
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	cu := custody.NewCustody()
	f := &fixture{
		positions: position.NewStore(),
		registry:  collateral.NewRegistry(),
		adapter:   pooladapter.NewAdapter(),
		custody:   cu,
		crIndex:   liquidation.NewCRIndex(100),
		markers:   liquidation.NewMarkerStore(cu.NextMarkerID),
		markedIdx: liquidation.NewMarkedIndex(),
	}
	f.engine = New(f.positions, f.registry, f.adapter, f.custody, f.crIndex, f.markers, f.markedIdx, Params{
		MinimumMint: one,
		UnsafeFloor: dec("0.75"),
	})
	if err := f.registry.RegisterCollateral("XRD", dec("1.5"), one, one, one, true); err != nil {
		t.Fatalf("register collateral: %v", err)
	}
	return f
}

func (f *fixture) open(t *testing.T, amount, mint string) (assets.Bucket, uint64) {
	t.Helper()
	b, _ := assets.NewBucket("XRD", dec(amount))
	stab, id, err := f.engine.OpenCDP(&b, dec(mint), true, one)
	if err != nil {
		t.Fatalf("open cdp: %v", err)
	}
	return stab, id
}

func TestOpenCloseRoundTrip(t *testing.T) {
	f := newFixture(t)
	stab, id := f.open(t, "1000", "500")
	if !stab.Amount.Equal(dec("500")) {
		t.Fatalf("unexpected minted stab %s", stab.Amount)
	}
	if !f.custody.CirculatingStab().Equal(dec("500")) {
		t.Fatalf("unexpected circulating %s", f.custody.CirculatingStab())
	}

	collateralOut, leftover, err := f.engine.CloseCDP(id, &stab)
	if err != nil {
		t.Fatalf("close cdp: %v", err)
	}
	if !collateralOut.Amount.Equal(dec("1000")) {
		t.Fatalf("unexpected collateral returned %s", collateralOut.Amount)
	}
	if !leftover.Amount.IsZero() {
		t.Fatalf("unexpected stab leftover %s", leftover.Amount)
	}
	pos, _ := f.positions.Get(id)
	if pos.Status != position.Closed || !pos.CollateralAmount.IsZero() {
		t.Fatalf("unexpected terminal state: %s amount=%s", pos.Status, pos.CollateralAmount)
	}
	if !f.custody.CirculatingStab().IsZero() {
		t.Fatalf("circulating stab not fully burnt: %s", f.custody.CirculatingStab())
	}
	entry, _ := f.registry.Get("XRD")
	if !entry.MintedStab.IsZero() || !entry.CollateralAmount.IsZero() {
		t.Fatalf("registry totals not cleared: minted=%s amount=%s", entry.MintedStab, entry.CollateralAmount)
	}
	if _, _, ok := f.crIndex.Lowest("XRD"); ok {
		t.Fatal("closed position still indexed")
	}
}

func TestTopUpThenClose(t *testing.T) {
	f := newFixture(t)
	stab, id := f.open(t, "1000", "500")
	topUp, _ := assets.NewBucket("XRD", dec("500"))
	if err := f.engine.TopUpCDP(id, &topUp); err != nil {
		t.Fatalf("top up: %v", err)
	}
	pos, _ := f.positions.Get(id)
	if !pos.CR.Equal(dec("3")) {
		t.Fatalf("unexpected cr after top-up: %s", pos.CR)
	}
	collateralOut, leftover, err := f.engine.CloseCDP(id, &stab)
	if err != nil {
		t.Fatalf("close: %v", err)
	}
	if !collateralOut.Amount.Equal(dec("1500")) || !leftover.Amount.IsZero() {
		t.Fatalf("unexpected close result: collateral=%s leftover=%s", collateralOut.Amount, leftover.Amount)
	}
}

func TestPartialCloseBelowMinimumMint(t *testing.T) {
	f := newFixture(t)
	stab, id := f.open(t, "1000", "500")
	payment, err := stab.Take(assets.StabResource, dec("499.5"))
	if err != nil {
		t.Fatalf("take payment: %v", err)
	}
	if err := f.engine.PartialClose(id, &payment); !errors.Is(err, ErrMinMintViolated) {
		t.Fatalf("expected ErrMinMintViolated, got %v", err)
	}
	// Failed validation must leave the debt untouched.
	pos, _ := f.positions.Get(id)
	if !pos.MintedStab.Equal(dec("500")) {
		t.Fatalf("debt mutated on failed partial close: %s", pos.MintedStab)
	}
}

func TestPartialCloseReducesDebt(t *testing.T) {
	f := newFixture(t)
	stab, id := f.open(t, "1000", "500")
	payment, _ := stab.Take(assets.StabResource, dec("200"))
	if err := f.engine.PartialClose(id, &payment); err != nil {
		t.Fatalf("partial close: %v", err)
	}
	pos, _ := f.positions.Get(id)
	if !pos.MintedStab.Equal(dec("300")) {
		t.Fatalf("unexpected debt %s", pos.MintedStab)
	}
	wantCR := dec("1000").Div(dec("300"))
	if !pos.CR.Equal(wantCR) {
		t.Fatalf("unexpected cr %s, want %s", pos.CR, wantCR)
	}
	if !f.custody.CirculatingStab().Equal(dec("300")) {
		t.Fatalf("unexpected circulating %s", f.custody.CirculatingStab())
	}
	entry, _ := f.registry.Get("XRD")
	if !entry.MintedStab.Equal(dec("300")) {
		t.Fatalf("registry minted not reduced: %s", entry.MintedStab)
	}
}

func TestRemoveCollateralGuardsThreshold(t *testing.T) {
	f := newFixture(t)
	_, id := f.open(t, "1000", "500")
	if _, err := f.engine.RemoveCollateral(id, dec("400")); !errors.Is(err, ErrWouldFallBelowMcr) {
		t.Fatalf("expected ErrWouldFallBelowMcr, got %v", err)
	}
	out, err := f.engine.RemoveCollateral(id, dec("100"))
	if err != nil {
		t.Fatalf("remove: %v", err)
	}
	if !out.Amount.Equal(dec("100")) {
		t.Fatalf("unexpected withdrawal %s", out.Amount)
	}
	pos, _ := f.positions.Get(id)
	if !pos.CollateralAmount.Equal(dec("900")) || !pos.CR.Equal(dec("1.8")) {
		t.Fatalf("unexpected position: amount=%s cr=%s", pos.CollateralAmount, pos.CR)
	}
}

func TestBorrowMoreMintsAndGuards(t *testing.T) {
	f := newFixture(t)
	_, id := f.open(t, "1000", "500")
	minted, err := f.engine.BorrowMore(id, dec("100"))
	if err != nil {
		t.Fatalf("borrow more: %v", err)
	}
	if !minted.Amount.Equal(dec("100")) {
		t.Fatalf("unexpected minted %s", minted.Amount)
	}
	if !f.custody.CirculatingStab().Equal(dec("600")) {
		t.Fatalf("unexpected circulating %s", f.custody.CirculatingStab())
	}
	if _, err := f.engine.BorrowMore(id, dec("200")); !errors.Is(err, ErrWouldFallBelowMcr) {
		t.Fatalf("expected ErrWouldFallBelowMcr, got %v", err)
	}
}

func TestOpenUnsafeFloor(t *testing.T) {
	f := newFixture(t)
	// 400 collateral backs 500 STAB: below mcr, above the 0.75 floor.
	b, _ := assets.NewBucket("XRD", dec("400"))
	if _, _, err := f.engine.OpenCDP(&b, dec("500"), true, one); !errors.Is(err, ErrInsufficientValue) {
		t.Fatalf("expected safe open to fail, got %v", err)
	}
	b2, _ := assets.NewBucket("XRD", dec("400"))
	if _, _, err := f.engine.OpenCDP(&b2, dec("500"), false, one); err != nil {
		t.Fatalf("unsafe open: %v", err)
	}
	// 300 collateral for 500 STAB is below even the unsafe floor.
	b3, _ := assets.NewBucket("XRD", dec("300"))
	if _, _, err := f.engine.OpenCDP(&b3, dec("500"), false, one); !errors.Is(err, ErrInsufficientValue) {
		t.Fatalf("expected unsafe open below floor to fail, got %v", err)
	}
}

func TestOpenBelowMinimumMint(t *testing.T) {
	f := newFixture(t)
	b, _ := assets.NewBucket("XRD", dec("10"))
	if _, _, err := f.engine.OpenCDP(&b, dec("0.5"), true, one); !errors.Is(err, ErrMinMintViolated) {
		t.Fatalf("expected ErrMinMintViolated, got %v", err)
	}
}

func TestOpenNotAcceptedCollateral(t *testing.T) {
	f := newFixture(t)
	if err := f.registry.RegisterCollateral("BTC", dec("1.5"), one, one, one, false); err != nil {
		t.Fatalf("register: %v", err)
	}
	b, _ := assets.NewBucket("BTC", dec("1000"))
	if _, _, err := f.engine.OpenCDP(&b, dec("500"), true, one); !errors.Is(err, ErrNotAccepted) {
		t.Fatalf("expected ErrNotAccepted, got %v", err)
	}
}

func TestOpenShareCapExceeded(t *testing.T) {
	f := newFixture(t)
	if err := f.registry.RegisterCollateral("BTC", dec("1.5"), one, one, dec("0.5"), true); err != nil {
		t.Fatalf("register: %v", err)
	}
	f.open(t, "1000", "500")

	// 600 BTC-backed STAB against 1100 total breaches the 0.5 cap.
	b, _ := assets.NewBucket("BTC", dec("2000"))
	if _, _, err := f.engine.OpenCDP(&b, dec("600"), true, one); !errors.Is(err, ErrShareExceeded) {
		t.Fatalf("expected ErrShareExceeded, got %v", err)
	}
	// 500 against 1000 sits exactly at the cap and passes.
	b2, _ := assets.NewBucket("BTC", dec("2000"))
	if _, _, err := f.engine.OpenCDP(&b2, dec("500"), true, one); err != nil {
		t.Fatalf("open at cap: %v", err)
	}
}

func TestTopUpSavesMarkedPosition(t *testing.T) {
	f := newFixture(t)
	_, id := f.open(t, "1000", "500")

	// Push the threshold above the position's CR and mark it by hand the
	// way the liquidation engine would.
	f.registry.RecomputeAllThresholds(dec("2"))
	pos, _ := f.positions.Get(id)
	f.crIndex.Remove("XRD", pos.CR, id)
	placing := f.markers.NextPlacing()
	markerID := f.markers.Mint(liquidation.Marker{Type: liquidation.MarkTypeMarked, PositionID: id, Placing: placing})
	f.markedIdx.Insert(placing, id)
	if err := f.positions.Update(id, func(p *position.Position) error {
		p.Status = position.Marked
		p.MarkerID = markerID
		return nil
	}); err != nil {
		t.Fatalf("mark by hand: %v", err)
	}

	// Threshold is now 3; 1000/500 has CR 2, so a 600 top-up lands at 3.2.
	topUp, _ := assets.NewBucket("XRD", dec("600"))
	if err := f.engine.TopUpCDP(id, &topUp); err != nil {
		t.Fatalf("saving top-up: %v", err)
	}
	pos, _ = f.positions.Get(id)
	if pos.Status != position.Healthy {
		t.Fatalf("expected healthy after save, got %s", pos.Status)
	}
	marker, _ := f.markers.Get(markerID)
	if !marker.Used {
		t.Fatal("marker not consumed by save")
	}
	if f.markedIdx.Len() != 0 {
		t.Fatal("marked index entry not removed")
	}
	if _, _, ok := f.crIndex.Lowest("XRD"); !ok {
		t.Fatal("saved position missing from cr index")
	}
}

func TestTopUpInsufficientSave(t *testing.T) {
	f := newFixture(t)
	_, id := f.open(t, "1000", "500")
	f.registry.RecomputeAllThresholds(dec("2"))
	topUp, _ := assets.NewBucket("XRD", dec("100"))
	if err := f.engine.TopUpCDP(id, &topUp); !errors.Is(err, ErrInsufficientSave) {
		t.Fatalf("expected ErrInsufficientSave, got %v", err)
	}
}

func TestRetrieveLeftoverRequiresTerminalStatus(t *testing.T) {
	f := newFixture(t)
	_, id := f.open(t, "1000", "500")
	if _, err := f.engine.RetrieveLeftoverCollateral(id); !errors.Is(err, ErrNotLiquidated) {
		t.Fatalf("expected ErrNotLiquidated, got %v", err)
	}
}
