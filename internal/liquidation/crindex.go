// Package liquidation implements the liquidation engine: the sorted
// collateral-ratio index, the marker lifecycle, and the mark/save/liquidate/
// force-liquidate/force-mint state machine.
package liquidation

import (
	"errors"
	"fmt"

	"github.com/google/btree"
	"github.com/shopspring/decimal"

	"stabengine/internal/assets"
)

// ErrCrBucketFull is returned when inserting a position would overflow the
// per-CR bucket cap.
var ErrCrBucketFull = errors.New("liquidation: cr bucket full")

// bucket is one CR-index entry: the positions sharing an identical CR,
// stored FIFO so tie-breaking at mark time favors the earliest insertion.
type bucket struct {
	cr  decimal.Decimal
	ids []uint64
}

func lessBucket(a, b bucket) bool {
	return a.cr.LessThan(b.cr)
}

// CRIndex is the per-parent-collateral sorted map from CR to a FIFO bucket
// of position ids, backed by a google/btree generic tree for O(log n)
// min/max and range access.
type CRIndex struct {
	maxVectorLength int
	trees           map[assets.ResourceID]*btree.BTreeG[bucket]
}

// NewCRIndex constructs an empty index with the given per-bucket cap.
func NewCRIndex(maxVectorLength int) *CRIndex {
	return &CRIndex{
		maxVectorLength: maxVectorLength,
		trees:           make(map[assets.ResourceID]*btree.BTreeG[bucket]),
	}
}

func (idx *CRIndex) treeFor(parent assets.ResourceID) *btree.BTreeG[bucket] {
	t, ok := idx.trees[parent]
	if !ok {
		t = btree.NewG(32, lessBucket)
		idx.trees[parent] = t
	}
	return t
}

// Insert adds positionID under key cr for parent, failing with
// ErrCrBucketFull if the bucket at cr is already at capacity.
func (idx *CRIndex) Insert(parent assets.ResourceID, cr decimal.Decimal, positionID uint64) error {
	t := idx.treeFor(parent)
	if existing, ok := t.Get(bucket{cr: cr}); ok {
		if len(existing.ids) >= idx.maxVectorLength {
			return fmt.Errorf("%w: parent=%s cr=%s", ErrCrBucketFull, parent, cr)
		}
		existing.ids = append(existing.ids, positionID)
		t.ReplaceOrInsert(existing)
		return nil
	}
	t.ReplaceOrInsert(bucket{cr: cr, ids: []uint64{positionID}})
	return nil
}

// BucketLen reports how many positions currently occupy the bucket at cr,
// used by atomic save-on-mark to check room before re-inserting.
func (idx *CRIndex) BucketLen(parent assets.ResourceID, cr decimal.Decimal) int {
	t, ok := idx.trees[parent]
	if !ok {
		return 0
	}
	b, ok := t.Get(bucket{cr: cr})
	if !ok {
		return 0
	}
	return len(b.ids)
}

// Remove deletes positionID from the bucket at cr, pruning the bucket
// entirely once empty.
func (idx *CRIndex) Remove(parent assets.ResourceID, cr decimal.Decimal, positionID uint64) {
	t, ok := idx.trees[parent]
	if !ok {
		return
	}
	existing, ok := t.Get(bucket{cr: cr})
	if !ok {
		return
	}
	filtered := existing.ids[:0]
	for _, id := range existing.ids {
		if id != positionID {
			filtered = append(filtered, id)
		}
	}
	if len(filtered) == 0 {
		t.Delete(bucket{cr: cr})
		return
	}
	existing.ids = filtered
	t.ReplaceOrInsert(existing)
}

// Lowest returns the position id in the lowest-CR bucket for parent, used to
// select the riskiest position for marking and force-liquidation.
func (idx *CRIndex) Lowest(parent assets.ResourceID) (uint64, decimal.Decimal, bool) {
	t, ok := idx.trees[parent]
	if !ok {
		return 0, decimal.Zero, false
	}
	min, ok := t.Min()
	if !ok || len(min.ids) == 0 {
		return 0, decimal.Zero, false
	}
	return min.ids[0], min.cr, true
}

// DescendForResource scans the index from highest CR downward, invoking fn
// with every position id encountered (in FIFO order within a bucket), until
// fn returns true (found) or the tree is exhausted. Used by force_mint to
// find the highest-CR position whose collateral resource matches the
// supplied payment.
func (idx *CRIndex) DescendForResource(parent assets.ResourceID, match func(positionID uint64) (bool, error)) (uint64, bool, error) {
	t, ok := idx.trees[parent]
	if !ok {
		return 0, false, nil
	}
	var (
		found   uint64
		hasFind bool
		iterErr error
	)
	t.Descend(func(b bucket) bool {
		for _, id := range b.ids {
			ok, err := match(id)
			if err != nil {
				iterErr = err
				return false
			}
			if ok {
				found, hasFind = id, true
				return false
			}
		}
		return true
	})
	if iterErr != nil {
		return 0, false, iterErr
	}
	return found, hasFind, nil
}
