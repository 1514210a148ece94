// Package store implements the persisted state layout: one bucket per
// keyed store (collateral registry, position/marker/receipt stores,
// engine counters), gob-encoded and backed by an embedded
// go.etcd.io/bbolt database. An in-memory implementation of the same
// Persister contract backs unit tests. The sorted CR index and the
// marked-positions index are not persisted directly; they are rebuilt
// from position and marker records on load.
package store

import (
	"bytes"
	"encoding/binary"
	"encoding/gob"
	"fmt"

	"github.com/shopspring/decimal"
	bolt "go.etcd.io/bbolt"

	"stabengine/internal/liquidation"
	"stabengine/internal/position"
)

var (
	bucketCollateral = []byte("collateral")
	bucketPositions  = []byte("positions")
	bucketMarkers    = []byte("markers")
	bucketReceipts   = []byte("receipts")
	bucketCounters   = []byte("counters")

	counterKey = []byte("engine")
)

// Persister is the save surface both BoltStore and MemoryStore implement,
// what internal/engine depends on so tests can swap in the in-memory
// variant without a database file.
type Persister interface {
	SaveCollateral(rec CollateralRecord) error
	SavePosition(p position.Position) error
	SaveMarker(m liquidation.Marker) error
	SaveReceipt(r liquidation.Receipt) error
	SaveCounters(c Counters) error
	Load() (Snapshot, error)
}

// CollateralRecord is the flat persisted form of one collateral registry
// entry. Vault balances are stored as plain decimals; the live vault
// containers are reconstructed on load.
type CollateralRecord struct {
	Resource string
	Kind     int
	Parent   string

	MCR              decimal.Decimal
	MarketPrice      decimal.Decimal
	LiqThreshold     decimal.Decimal
	Accepted         bool
	Initialized      bool
	MaxStabShare     decimal.Decimal
	MaxPoolShare     decimal.Decimal
	MintedStab       decimal.Decimal
	CollateralAmount decimal.Decimal
	HighestCR        decimal.Decimal

	VaultBalance    decimal.Decimal
	TreasuryBalance decimal.Decimal
}

// Snapshot is the full set of keyed engine state persisted between
// restarts.
type Snapshot struct {
	Collateral map[string]CollateralRecord
	Positions  map[uint64]position.Position
	Markers    map[uint64]liquidation.Marker
	Receipts   map[uint64]liquidation.Receipt
	NextIDs    Counters
}

// Counters carries the monotone generators and global totals that must
// survive a restart, keeping newly-minted ids from colliding with
// persisted ones.
type Counters struct {
	NextPositionID  uint64
	NextMarkerID    uint64
	NextReceiptID   uint64
	MarkerPlacing   decimal.Decimal
	CirculatingStab decimal.Decimal
}

// BoltStore persists a Snapshot to a bbolt database file, one top-level
// bucket per keyed collection, gob-encoding each value by its id.
type BoltStore struct {
	db *bolt.DB
}

// Open opens (creating if absent) a bbolt database at path and ensures
// every top-level bucket this package writes exists.
func Open(path string) (*BoltStore, error) {
	db, err := bolt.Open(path, 0o600, nil)
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", path, err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		for _, name := range [][]byte{bucketCollateral, bucketPositions, bucketMarkers, bucketReceipts, bucketCounters} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("store: init buckets: %w", err)
	}
	return &BoltStore{db: db}, nil
}

// Close releases the underlying database file.
func (s *BoltStore) Close() error {
	return s.db.Close()
}

func encode(v any) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decode(data []byte, v any) error {
	return gob.NewDecoder(bytes.NewReader(data)).Decode(v)
}

func uint64Key(id uint64) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, id)
	return buf
}

// SaveCollateral upserts one collateral registry record, keyed by resource.
func (s *BoltStore) SaveCollateral(rec CollateralRecord) error {
	data, err := encode(rec)
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketCollateral).Put([]byte(rec.Resource), data)
	})
}

// SavePosition upserts one position record, keyed by id.
func (s *BoltStore) SavePosition(p position.Position) error {
	data, err := encode(p)
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketPositions).Put(uint64Key(p.ID), data)
	})
}

// SaveMarker upserts one marker record, keyed by id.
func (s *BoltStore) SaveMarker(m liquidation.Marker) error {
	data, err := encode(m)
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketMarkers).Put(uint64Key(m.ID), data)
	})
}

// SaveReceipt upserts one liquidation receipt, keyed by id.
func (s *BoltStore) SaveReceipt(r liquidation.Receipt) error {
	data, err := encode(r)
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketReceipts).Put(uint64Key(r.ID), data)
	})
}

// SaveCounters persists the monotone generators and global totals.
func (s *BoltStore) SaveCounters(c Counters) error {
	data, err := encode(c)
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketCounters).Put(counterKey, data)
	})
}

// Load reads the entire persisted Snapshot back into memory.
func (s *BoltStore) Load() (Snapshot, error) {
	snap := Snapshot{
		Collateral: make(map[string]CollateralRecord),
		Positions:  make(map[uint64]position.Position),
		Markers:    make(map[uint64]liquidation.Marker),
		Receipts:   make(map[uint64]liquidation.Receipt),
	}
	err := s.db.View(func(tx *bolt.Tx) error {
		if err := tx.Bucket(bucketCollateral).ForEach(func(k, v []byte) error {
			var rec CollateralRecord
			if err := decode(v, &rec); err != nil {
				return err
			}
			snap.Collateral[rec.Resource] = rec
			return nil
		}); err != nil {
			return err
		}
		if err := tx.Bucket(bucketPositions).ForEach(func(k, v []byte) error {
			var p position.Position
			if err := decode(v, &p); err != nil {
				return err
			}
			snap.Positions[p.ID] = p
			return nil
		}); err != nil {
			return err
		}
		if err := tx.Bucket(bucketMarkers).ForEach(func(k, v []byte) error {
			var m liquidation.Marker
			if err := decode(v, &m); err != nil {
				return err
			}
			snap.Markers[m.ID] = m
			return nil
		}); err != nil {
			return err
		}
		if err := tx.Bucket(bucketReceipts).ForEach(func(k, v []byte) error {
			var r liquidation.Receipt
			if err := decode(v, &r); err != nil {
				return err
			}
			snap.Receipts[r.ID] = r
			return nil
		}); err != nil {
			return err
		}
		if v := tx.Bucket(bucketCounters).Get(counterKey); v != nil {
			return decode(v, &snap.NextIDs)
		}
		return nil
	})
	if err != nil {
		return Snapshot{}, fmt.Errorf("store: load: %w", err)
	}
	return snap, nil
}
