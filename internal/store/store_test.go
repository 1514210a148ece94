package store

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"stabengine/internal/liquidation"
	"stabengine/internal/position"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func sampleState(t *testing.T, p Persister) {
	t.Helper()
	require.NoError(t, p.SaveCollateral(CollateralRecord{
		Resource:         "XRD",
		Parent:           "XRD",
		MCR:              dec("1.5"),
		MarketPrice:      dec("1"),
		LiqThreshold:     dec("1.5"),
		Accepted:         true,
		Initialized:      true,
		MaxStabShare:     dec("1"),
		MintedStab:       dec("500"),
		CollateralAmount: dec("1000"),
		HighestCR:        dec("2"),
		VaultBalance:     dec("1000"),
		TreasuryBalance:  dec("40"),
	}))
	require.NoError(t, p.SavePosition(position.Position{
		ID:               1,
		Collateral:       "XRD",
		ParentCollateral: "XRD",
		CollateralAmount: dec("1000"),
		MintedStab:       dec("500"),
		CR:               dec("2"),
		Status:           position.Healthy,
	}))
	require.NoError(t, p.SaveMarker(liquidation.Marker{
		ID:         1,
		Type:       liquidation.MarkTypeMarked,
		TimeMarked: time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC),
		PositionID: 1,
		Placing:    dec("1"),
	}))
	require.NoError(t, p.SaveReceipt(liquidation.Receipt{
		ID:          2,
		Collateral:  "XRD",
		StabBurnt:   dec("400"),
		PctOwed:     dec("1.10"),
		PctReceived: dec("1.10"),
		PositionID:  1,
	}))
	require.NoError(t, p.SaveCounters(Counters{
		NextPositionID:  1,
		NextMarkerID:    1,
		NextReceiptID:   2,
		MarkerPlacing:   dec("1"),
		CirculatingStab: dec("500"),
	}))
}

func verifySnapshot(t *testing.T, snap Snapshot) {
	t.Helper()
	rec, ok := snap.Collateral["XRD"]
	require.True(t, ok)
	require.True(t, rec.MintedStab.Equal(dec("500")))
	require.True(t, rec.VaultBalance.Equal(dec("1000")))
	require.True(t, rec.TreasuryBalance.Equal(dec("40")))
	require.True(t, rec.Accepted)

	pos, ok := snap.Positions[1]
	require.True(t, ok)
	require.Equal(t, position.Healthy, pos.Status)
	require.True(t, pos.CR.Equal(dec("2")))

	m, ok := snap.Markers[1]
	require.True(t, ok)
	require.Equal(t, liquidation.MarkTypeMarked, m.Type)
	require.False(t, m.Used)

	r, ok := snap.Receipts[2]
	require.True(t, ok)
	require.True(t, r.StabBurnt.Equal(dec("400")))

	require.Equal(t, uint64(1), snap.NextIDs.NextPositionID)
	require.True(t, snap.NextIDs.MarkerPlacing.Equal(dec("1")))
	require.True(t, snap.NextIDs.CirculatingStab.Equal(dec("500")))
}

func TestBoltStoreRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stab.db")
	s, err := Open(path)
	require.NoError(t, err)

	sampleState(t, s)
	snap, err := s.Load()
	require.NoError(t, err)
	verifySnapshot(t, snap)
	require.NoError(t, s.Close())

	// Reopen and confirm the state survived the restart.
	s2, err := Open(path)
	require.NoError(t, err)
	defer s2.Close()
	snap2, err := s2.Load()
	require.NoError(t, err)
	verifySnapshot(t, snap2)
}

func TestMemoryStoreRoundTrip(t *testing.T) {
	m := NewMemoryStore()
	sampleState(t, m)
	snap, err := m.Load()
	require.NoError(t, err)
	verifySnapshot(t, snap)
}

func TestBoltStoreUpsertsByKey(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stab.db")
	s, err := Open(path)
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.SavePosition(position.Position{ID: 1, MintedStab: dec("100")}))
	require.NoError(t, s.SavePosition(position.Position{ID: 1, MintedStab: dec("200")}))

	snap, err := s.Load()
	require.NoError(t, err)
	require.Len(t, snap.Positions, 1)
	require.True(t, snap.Positions[1].MintedStab.Equal(dec("200")))
}
