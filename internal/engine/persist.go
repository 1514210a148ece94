package engine

import (
	"stabengine/internal/assets"
	"stabengine/internal/collateral"
	"stabengine/internal/liquidation"
	"stabengine/internal/position"
	"stabengine/internal/store"
)

// Persist writes the engine's full keyed state to p: every collateral
// entry, position, marker, liquidation receipt, and the monotone
// counters. Callers are expected to hold no operation in flight; the
// keeper daemon persists on shutdown, tests persist between phases.
func (e *Engine) Persist(p store.Persister) error {
	e.globalMu.Lock()
	defer e.globalMu.Unlock()

	var saveErr error
	e.registry.All(func(entry *collateral.Entry) {
		if saveErr != nil {
			return
		}
		saveErr = p.SaveCollateral(store.CollateralRecord{
			Resource:         string(entry.Resource),
			Kind:             int(entry.Kind),
			Parent:           string(entry.Parent),
			MCR:              entry.MCR,
			MarketPrice:      entry.MarketPrice,
			LiqThreshold:     entry.LiqThreshold,
			Accepted:         entry.Accepted,
			Initialized:      entry.Initialized,
			MaxStabShare:     entry.MaxStabShare,
			MaxPoolShare:     entry.MaxPoolShare,
			MintedStab:       entry.MintedStab,
			CollateralAmount: entry.CollateralAmount,
			HighestCR:        entry.HighestCR,
			VaultBalance:     entry.Vault.Balance(),
			TreasuryBalance:  entry.TreasuryVault.Balance(),
		})
	})
	if saveErr != nil {
		return saveErr
	}

	for _, pos := range e.positions.All() {
		if err := p.SavePosition(pos); err != nil {
			return err
		}
	}
	for _, m := range e.markers.All() {
		if err := p.SaveMarker(m); err != nil {
			return err
		}
	}
	for _, r := range e.receipts.All() {
		if err := p.SaveReceipt(r); err != nil {
			return err
		}
	}

	receiptID, markerID := e.custody.Counters()
	return p.SaveCounters(store.Counters{
		NextPositionID:  e.positions.Counter(),
		NextMarkerID:    markerID,
		NextReceiptID:   receiptID,
		MarkerPlacing:   e.markers.Placing(),
		CirculatingStab: e.custody.CirculatingStab(),
	})
}

// Restore rebuilds the engine's live state from a snapshot: registry
// entries with reconstructed vaults, positions, markers, receipts, and
// counters. The sorted CR index is rebuilt from Healthy positions and
// the marked-positions index from unused Marked markers, which is why
// neither index is persisted directly.
func (e *Engine) Restore(snap store.Snapshot) error {
	e.globalMu.Lock()
	defer e.globalMu.Unlock()

	for _, rec := range snap.Collateral {
		resource := assets.ResourceID(rec.Resource)
		e.registry.Restore(&collateral.Entry{
			Resource:         resource,
			Kind:             collateral.Kind(rec.Kind),
			Parent:           assets.ResourceID(rec.Parent),
			MCR:              rec.MCR,
			MarketPrice:      rec.MarketPrice,
			LiqThreshold:     rec.LiqThreshold,
			Accepted:         rec.Accepted,
			Initialized:      rec.Initialized,
			MaxStabShare:     rec.MaxStabShare,
			MaxPoolShare:     rec.MaxPoolShare,
			MintedStab:       rec.MintedStab,
			CollateralAmount: rec.CollateralAmount,
			HighestCR:        rec.HighestCR,
			Vault:            assets.RestoreVault(resource, rec.VaultBalance),
			TreasuryVault:    assets.RestoreVault(resource, rec.TreasuryBalance),
		})
	}

	for _, pos := range snap.Positions {
		e.positions.Restore(pos)
		if pos.Status == position.Healthy {
			if err := e.crIndex.Insert(pos.ParentCollateral, pos.CR, pos.ID); err != nil {
				return err
			}
		}
	}

	for _, m := range snap.Markers {
		e.markers.Restore(m)
		if !m.Used && m.Type == liquidation.MarkTypeMarked {
			e.markedIdx.Insert(m.Placing, m.PositionID)
		}
	}

	for _, r := range snap.Receipts {
		e.receipts.Restore(r)
	}

	e.markers.SetPlacing(snap.NextIDs.MarkerPlacing)
	e.custody.RestoreCounters(snap.NextIDs.NextReceiptID, snap.NextIDs.NextMarkerID, snap.NextIDs.CirculatingStab)
	e.positions.SetCounter(snap.NextIDs.NextPositionID)
	return nil
}
