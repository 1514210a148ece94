// Package position implements the CDP position store: keyed records
// with atomic multi-field updates, so a status change, CR change, and
// amount change made by one operation are always visible together.
package position

import (
	"fmt"
	"sync"

	"github.com/shopspring/decimal"

	"stabengine/internal/assets"
)

// Status is the lifecycle state of a position.
type Status int

const (
	Healthy Status = iota
	Marked
	Liquidated
	ForceLiquidated
	Closed
)

func (s Status) String() string {
	switch s {
	case Healthy:
		return "healthy"
	case Marked:
		return "marked"
	case Liquidated:
		return "liquidated"
	case ForceLiquidated:
		return "force_liquidated"
	case Closed:
		return "closed"
	default:
		return "unknown"
	}
}

// Position is one CDP record.
type Position struct {
	ID               uint64
	Collateral       assets.ResourceID
	ParentCollateral assets.ResourceID
	IsPoolUnit       bool
	CollateralAmount decimal.Decimal
	MintedStab       decimal.Decimal
	CR               decimal.Decimal
	Status           Status
	MarkerID         uint64
}

// Store is the keyed position collection. A monotone id counter mints new
// position ids.
type Store struct {
	mu        sync.Mutex
	positions map[uint64]*Position
	nextID    uint64
}

// NewStore constructs an empty position store.
func NewStore() *Store {
	return &Store{positions: make(map[uint64]*Position)}
}

// Create inserts a new Healthy position and returns its assigned id.
func (s *Store) Create(p Position) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	p.ID = s.nextID
	s.positions[p.ID] = &p
	return p.ID
}

// Get returns a copy of the position with the given id.
func (s *Store) Get(id uint64) (Position, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.positions[id]
	if !ok {
		return Position{}, fmt.Errorf("position: unknown id %d", id)
	}
	return *p, nil
}

// All returns a copy of every stored position, in no particular order.
func (s *Store) All() []Position {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Position, 0, len(s.positions))
	for _, p := range s.positions {
		out = append(out, *p)
	}
	return out
}

// Counter returns the last-assigned position id.
func (s *Store) Counter() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.nextID
}

// Restore inserts a persisted position under its existing id, raising the
// id counter so future Create calls never collide. Used only when loading
// a snapshot.
func (s *Store) Restore(p Position) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.positions[p.ID] = &p
	if p.ID > s.nextID {
		s.nextID = p.ID
	}
}

// SetCounter restores the id counter from a snapshot, never lowering it
// below an already-restored id.
func (s *Store) SetCounter(id uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if id > s.nextID {
		s.nextID = id
	}
}

// Update atomically applies fn to the stored position and persists the
// result. fn receives a pointer to a live copy; returning an error aborts
// the update, leaving the stored position untouched.
func (s *Store) Update(id uint64, fn func(*Position) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.positions[id]
	if !ok {
		return fmt.Errorf("position: unknown id %d", id)
	}
	working := *p
	if err := fn(&working); err != nil {
		return err
	}
	*p = working
	return nil
}
