package storage

import (
	"fmt"
	"sync"

	"github.com/cockroachdb/pebble"
)

// Store provides Pebble-backed persistence for resting orders, vault
// balances, the item registry, player records and price candles. Single-key
// mutations are atomic; multi-key mutations (order insert/remove with their
// id index) go through a synced batch. The matching engine supplies per-item
// serialization above this layer.
type Store struct {
	db *pebble.DB

	// balMu serializes read-modify-write balance mutations: balances are
	// touched by the bridge and by settlement concurrently, and pebble has
	// no atomic increment.
	balMu sync.Mutex
}

// Open opens (or creates) the Pebble database at dbPath.
func Open(dbPath string) (*Store, error) {
	opts := &pebble.Options{
		Cache:                 pebble.NewCache(64 << 20),
		MemTableSize:          32 << 20,
		L0CompactionThreshold: 2,
		L0StopWritesThreshold: 12,
		MaxOpenFiles:          1000,
		BytesPerSync:          512 << 10,
	}

	db, err := pebble.Open(dbPath, opts)
	if err != nil {
		return nil, fmt.Errorf("open pebble db at %s: %w", dbPath, err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}
