package liquidation

import (
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// MarkType distinguishes a Marked lifecycle record from a Saved one.
type MarkType int

const (
	MarkTypeMarked MarkType = iota
	MarkTypeSaved
)

func (m MarkType) String() string {
	if m == MarkTypeSaved {
		return "saved"
	}
	return "marked"
}

// Marker is the liquidation lifecycle record tying a position's Marked
// state, or a Save event, to the caller that caused it.
type Marker struct {
	ID         uint64
	Type       MarkType
	TimeMarked time.Time
	PositionID uint64
	Placing    decimal.Decimal
	Used       bool
}

// MarkerStore is the keyed collection of markers, with a monotone placing
// counter that is never reset across save/mark cycles.
type MarkerStore struct {
	mu      sync.Mutex
	markers map[uint64]*Marker
	nextID  func() uint64
	placing decimal.Decimal
}

// NewMarkerStore constructs an empty marker store. nextID mints monotone
// marker ids; the engine wires it to custody.Custody's marker counter,
// which is separate from the receipt id counter.
func NewMarkerStore(nextID func() uint64) *MarkerStore {
	return &MarkerStore{markers: make(map[uint64]*Marker), nextID: nextID}
}

// NextPlacing advances and returns the global monotone placing counter.
func (s *MarkerStore) NextPlacing() decimal.Decimal {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.placing = s.placing.Add(decimal.New(1, 0))
	return s.placing
}

// Mint records a new marker and returns its id.
func (s *MarkerStore) Mint(m Marker) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextID()
	m.ID = id
	s.markers[id] = &m
	return id
}

// Get returns a copy of the marker with the given id.
func (s *MarkerStore) Get(id uint64) (Marker, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.markers[id]
	if !ok {
		return Marker{}, false
	}
	return *m, true
}

// All returns a copy of every stored marker, in no particular order.
func (s *MarkerStore) All() []Marker {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Marker, 0, len(s.markers))
	for _, m := range s.markers {
		out = append(out, *m)
	}
	return out
}

// Restore inserts a persisted marker under its existing id. Used only
// when loading a snapshot.
func (s *MarkerStore) Restore(m Marker) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.markers[m.ID] = &m
}

// Placing returns the current value of the monotone placing counter.
func (s *MarkerStore) Placing() decimal.Decimal {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.placing
}

// SetPlacing restores the placing counter from a snapshot.
func (s *MarkerStore) SetPlacing(p decimal.Decimal) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.placing = p
}

// MarkUsed flips a marker's Used flag to true.
func (s *MarkerStore) MarkUsed(id uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if m, ok := s.markers[id]; ok {
		m.Used = true
	}
}
