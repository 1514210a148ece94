package custody

import (
	"testing"

	"github.com/shopspring/decimal"

	"stabengine/internal/assets"
)

func TestMintAndBurnTrackCirculation(t *testing.T) {
	c := NewCustody()
	b := c.Mint(decimal.NewFromInt(500))
	if b.Resource != assets.StabResource || !b.Amount.Equal(decimal.NewFromInt(500)) {
		t.Fatalf("unexpected minted bucket %+v", b)
	}
	if !c.CirculatingStab().Equal(decimal.NewFromInt(500)) {
		t.Fatalf("unexpected circulating %s", c.CirculatingStab())
	}

	payment, _ := b.Take(assets.StabResource, decimal.NewFromInt(200))
	if err := c.Burn(&payment); err != nil {
		t.Fatalf("burn: %v", err)
	}
	if !payment.Amount.IsZero() {
		t.Fatal("burn must drain the bucket")
	}
	if !c.CirculatingStab().Equal(decimal.NewFromInt(300)) {
		t.Fatalf("unexpected circulating %s", c.CirculatingStab())
	}
}

func TestBurnRejectsNonStab(t *testing.T) {
	c := NewCustody()
	b, _ := assets.NewBucket("XRD", decimal.NewFromInt(1))
	if err := c.Burn(&b); err == nil {
		t.Fatal("expected non-STAB burn to fail")
	}
}

func TestBurnRejectsOverSupply(t *testing.T) {
	c := NewCustody()
	c.Mint(decimal.NewFromInt(100))
	b := assets.Bucket{Resource: assets.StabResource, Amount: decimal.NewFromInt(101)}
	if err := c.Burn(&b); err == nil {
		t.Fatal("expected over-supply burn to fail")
	}
}

func TestReceiptAndMarkerIDsAreMonotone(t *testing.T) {
	c := NewCustody()
	if id := c.NextReceiptID(); id != 1 {
		t.Fatalf("first receipt id %d", id)
	}
	if id := c.NextReceiptID(); id != 2 {
		t.Fatalf("second receipt id %d", id)
	}
	if id := c.NextMarkerID(); id != 1 {
		t.Fatalf("first marker id %d", id)
	}
}

func TestRestoreCounters(t *testing.T) {
	c := NewCustody()
	c.RestoreCounters(5, 7, decimal.NewFromInt(900))
	if id := c.NextReceiptID(); id != 6 {
		t.Fatalf("restored receipt id %d", id)
	}
	if id := c.NextMarkerID(); id != 8 {
		t.Fatalf("restored marker id %d", id)
	}
	if !c.CirculatingStab().Equal(decimal.NewFromInt(900)) {
		t.Fatalf("restored circulating %s", c.CirculatingStab())
	}
}
