// Package custody implements asset custody: minting and burning the
// STAB resource, and issuing monotonically-numbered marker and liquidation
// receipt ids as non-fungible audit tokens. Position ids are issued by
// internal/position, not here.
package custody

import (
	"fmt"
	"sync"

	"github.com/shopspring/decimal"

	"stabengine/internal/assets"
)

// Custody owns the STAB supply counter and the monotone receipt-id
// generators. Collateral and treasury vaults themselves live in the
// collateral registry entries; Custody only governs STAB mint/burn, which
// has no single resource vault of its own (STAB is burned on receipt, not
// warehoused).
type Custody struct {
	mu              sync.Mutex
	circulatingStab decimal.Decimal
	nextReceiptID   uint64
	nextMarkerID    uint64
}

// NewCustody constructs a Custody with zero circulating supply.
func NewCustody() *Custody {
	return &Custody{}
}

// CirculatingStab returns the total STAB in circulation.
func (c *Custody) CirculatingStab() decimal.Decimal {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.circulatingStab
}

// Mint issues a new STAB bucket, increasing circulating supply.
func (c *Custody) Mint(amount decimal.Decimal) assets.Bucket {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.circulatingStab = c.circulatingStab.Add(amount)
	return assets.Bucket{Resource: assets.StabResource, Amount: amount}
}

// Burn consumes a STAB bucket, decreasing circulating supply. The caller's
// bucket is drained as a side effect (assets.Bucket convention).
func (c *Custody) Burn(b *assets.Bucket) error {
	if b.Resource != assets.StabResource {
		return fmt.Errorf("custody: cannot burn non-STAB resource %s", b.Resource)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if b.Amount.GreaterThan(c.circulatingStab) {
		return fmt.Errorf("custody: burn amount %s exceeds circulating supply %s", b.Amount, c.circulatingStab)
	}
	c.circulatingStab = c.circulatingStab.Sub(b.Amount)
	b.Amount = decimal.Zero
	return nil
}

// Counters returns the last-assigned receipt and marker ids.
func (c *Custody) Counters() (receiptID, markerID uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.nextReceiptID, c.nextMarkerID
}

// RestoreCounters reinstates persisted id counters and circulating supply
// from a snapshot.
func (c *Custody) RestoreCounters(receiptID, markerID uint64, circulating decimal.Decimal) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nextReceiptID = receiptID
	c.nextMarkerID = markerID
	c.circulatingStab = circulating
}

// NextReceiptID mints the next monotone LiquidationReceipt id.
func (c *Custody) NextReceiptID() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nextReceiptID++
	return c.nextReceiptID
}

// NextMarkerID mints the next monotone Marker id.
func (c *Custody) NextMarkerID() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nextMarkerID++
	return c.nextMarkerID
}
