package liquidation

import (
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"stabengine/internal/assets"
)

// Receipt is the audit record minted on every completed liquidation.
type Receipt struct {
	ID             uint64
	Collateral     assets.ResourceID
	StabBurnt      decimal.Decimal
	PctOwed        decimal.Decimal
	PctReceived    decimal.Decimal
	PositionID     uint64
	DateLiquidated time.Time
}

// ReceiptStore is the keyed collection of liquidation receipts.
type ReceiptStore struct {
	mu       sync.Mutex
	receipts map[uint64]*Receipt
	nextID   func() uint64
}

// NewReceiptStore constructs an empty receipt store.
func NewReceiptStore(nextID func() uint64) *ReceiptStore {
	return &ReceiptStore{receipts: make(map[uint64]*Receipt), nextID: nextID}
}

// Mint records a new receipt and returns its id.
func (s *ReceiptStore) Mint(r Receipt) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextID()
	r.ID = id
	s.receipts[id] = &r
	return id
}

// All returns a copy of every stored receipt, in no particular order.
func (s *ReceiptStore) All() []Receipt {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Receipt, 0, len(s.receipts))
	for _, r := range s.receipts {
		out = append(out, *r)
	}
	return out
}

// Restore inserts a persisted receipt under its existing id. Used only
// when loading a snapshot.
func (s *ReceiptStore) Restore(r Receipt) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.receipts[r.ID] = &r
}

// Get returns a copy of the receipt with the given id.
func (s *ReceiptStore) Get(id uint64) (Receipt, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.receipts[id]
	if !ok {
		return Receipt{}, false
	}
	return *r, true
}
