package liquidation

import (
	"github.com/google/btree"
	"github.com/shopspring/decimal"
)

type placingEntry struct {
	placing    decimal.Decimal
	positionID uint64
}

func lessPlacing(a, b placingEntry) bool {
	return a.placing.LessThan(b.placing)
}

// MarkedIndex is the global ordered map from a marker's placing to the
// position id it marks, used by the ascending skip-scan in
// liquidate_position_without_marker's automatic mode.
type MarkedIndex struct {
	tree *btree.BTreeG[placingEntry]
}

// NewMarkedIndex constructs an empty marked-positions index.
func NewMarkedIndex() *MarkedIndex {
	return &MarkedIndex{tree: btree.NewG(32, lessPlacing)}
}

// Insert records that placing now refers to positionID.
func (m *MarkedIndex) Insert(placing decimal.Decimal, positionID uint64) {
	m.tree.ReplaceOrInsert(placingEntry{placing: placing, positionID: positionID})
}

// Remove deletes the entry at placing.
func (m *MarkedIndex) Remove(placing decimal.Decimal) {
	m.tree.Delete(placingEntry{placing: placing})
}

// NthAscending returns the positionID of the (skip)-th entry in ascending
// placing order (0-indexed), used by the automatic unmarked-liquidation
// scan. ok is false if fewer than skip+1 entries exist.
func (m *MarkedIndex) NthAscending(skip int) (uint64, bool) {
	var (
		count  int
		found  uint64
		hasHit bool
	)
	m.tree.Ascend(func(e placingEntry) bool {
		if count == skip {
			found, hasHit = e.positionID, true
			return false
		}
		count++
		return true
	})
	return found, hasHit
}

// Len reports how many positions are currently marked.
func (m *MarkedIndex) Len() int {
	return m.tree.Len()
}
