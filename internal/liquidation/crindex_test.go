package liquidation

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"
)

func TestCRIndexLowestPicksMinimum(t *testing.T) {
	idx := NewCRIndex(10)
	for i, cr := range []string{"2.5", "1.5", "3.0"} {
		if err := idx.Insert("XRD", decimal.RequireFromString(cr), uint64(i+1)); err != nil {
			t.Fatalf("insert %s: %v", cr, err)
		}
	}
	id, cr, ok := idx.Lowest("XRD")
	if !ok || id != 2 || !cr.Equal(decimal.RequireFromString("1.5")) {
		t.Fatalf("unexpected lowest: id=%d cr=%s ok=%v", id, cr, ok)
	}
}

func TestCRIndexBucketFIFOOnEqualCR(t *testing.T) {
	idx := NewCRIndex(10)
	cr := decimal.RequireFromString("2")
	for id := uint64(1); id <= 3; id++ {
		if err := idx.Insert("XRD", cr, id); err != nil {
			t.Fatalf("insert %d: %v", id, err)
		}
	}
	id, _, ok := idx.Lowest("XRD")
	if !ok || id != 1 {
		t.Fatalf("expected first-inserted id 1, got %d", id)
	}
	idx.Remove("XRD", cr, 1)
	id, _, _ = idx.Lowest("XRD")
	if id != 2 {
		t.Fatalf("expected id 2 after removal, got %d", id)
	}
}

func TestCRIndexBucketCap(t *testing.T) {
	idx := NewCRIndex(2)
	cr := decimal.RequireFromString("2")
	if err := idx.Insert("XRD", cr, 1); err != nil {
		t.Fatalf("insert 1: %v", err)
	}
	if err := idx.Insert("XRD", cr, 2); err != nil {
		t.Fatalf("insert 2: %v", err)
	}
	if err := idx.Insert("XRD", cr, 3); !errors.Is(err, ErrCrBucketFull) {
		t.Fatalf("expected ErrCrBucketFull, got %v", err)
	}
	if idx.BucketLen("XRD", cr) != 2 {
		t.Fatalf("unexpected bucket length %d", idx.BucketLen("XRD", cr))
	}
}

func TestCRIndexRemovePrunesEmptyBucket(t *testing.T) {
	idx := NewCRIndex(10)
	cr := decimal.RequireFromString("2")
	if err := idx.Insert("XRD", cr, 1); err != nil {
		t.Fatalf("insert: %v", err)
	}
	idx.Remove("XRD", cr, 1)
	if _, _, ok := idx.Lowest("XRD"); ok {
		t.Fatal("expected empty index after removal")
	}
	if idx.BucketLen("XRD", cr) != 0 {
		t.Fatal("expected pruned bucket")
	}
}

func TestCRIndexDescendForResource(t *testing.T) {
	idx := NewCRIndex(10)
	for i, cr := range []string{"1.5", "2.5", "3.5"} {
		if err := idx.Insert("XRD", decimal.RequireFromString(cr), uint64(i+1)); err != nil {
			t.Fatalf("insert: %v", err)
		}
	}
	// Highest-CR entry matching the predicate wins.
	id, found, err := idx.DescendForResource("XRD", func(positionID uint64) (bool, error) {
		return positionID != 3, nil
	})
	if err != nil {
		t.Fatalf("descend: %v", err)
	}
	if !found || id != 2 {
		t.Fatalf("expected id 2, got id=%d found=%v", id, found)
	}
}

func TestMarkedIndexNthAscending(t *testing.T) {
	m := NewMarkedIndex()
	m.Insert(decimal.RequireFromString("3"), 30)
	m.Insert(decimal.RequireFromString("1"), 10)
	m.Insert(decimal.RequireFromString("2"), 20)

	for skip, want := range map[int]uint64{0: 10, 1: 20, 2: 30} {
		got, ok := m.NthAscending(skip)
		if !ok || got != want {
			t.Fatalf("skip=%d: got %d ok=%v, want %d", skip, got, ok, want)
		}
	}
	if _, ok := m.NthAscending(3); ok {
		t.Fatal("expected out-of-range skip to miss")
	}
	m.Remove(decimal.RequireFromString("1"))
	if got, _ := m.NthAscending(0); got != 20 {
		t.Fatalf("expected 20 after removal, got %d", got)
	}
	if m.Len() != 2 {
		t.Fatalf("unexpected length %d", m.Len())
	}
}
