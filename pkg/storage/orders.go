package storage

import (
	"context"
	"fmt"

	"github.com/cockroachdb/pebble"
	"github.com/google/uuid"

	"github.com/tradepost/tradepost/pkg/market"
)

// FetchPriorityPage scans one side of an item's book in priority order. The
// ordering comes entirely from the key encoding, so this is a plain forward
// prefix scan.
func (s *Store) FetchPriorityPage(ctx context.Context, item string, side market.Side, limit, offset int) ([]market.Order, error) {
	prefix, err := orderPrefix(item, side)
	if err != nil {
		return nil, err
	}
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: keyUpperBound(prefix),
	})
	if err != nil {
		return nil, fmt.Errorf("open order iterator: %w", err)
	}
	defer iter.Close()

	var page []market.Order
	pos := 0
	for iter.First(); iter.Valid(); iter.Next() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if pos < offset {
			pos++
			continue
		}
		if len(page) >= limit {
			break
		}
		var o market.Order
		if err := decodeJSON(iter.Value(), &o); err != nil {
			return nil, fmt.Errorf("decode order at %q: %w", iter.Key(), err)
		}
		page = append(page, o)
		pos++
	}
	if err := iter.Error(); err != nil {
		return nil, fmt.Errorf("scan order page: %w", err)
	}
	return page, nil
}

// InsertOrder assigns an id, persists the order and its id index atomically,
// and returns the id.
func (s *Store) InsertOrder(ctx context.Context, o market.Order) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if o.Quantity <= 0 {
		return "", fmt.Errorf("insert order with quantity %d", o.Quantity)
	}

	o.ID = uuid.NewString()
	key, err := orderKey(o)
	if err != nil {
		return "", err
	}
	val, err := encodeJSON(o)
	if err != nil {
		return "", err
	}

	batch := s.db.NewBatch()
	defer batch.Close()
	if err := batch.Set(key, val, nil); err != nil {
		return "", err
	}
	if err := batch.Set(orderIndexKey(o.ID), key, nil); err != nil {
		return "", err
	}
	if err := batch.Commit(pebble.Sync); err != nil {
		return "", fmt.Errorf("commit order insert: %w", err)
	}
	return o.ID, nil
}

// UpdateQuantity rewrites the remaining quantity of a resting order. The key
// encodes only price and timestamp, so the order keeps its book position.
func (s *Store) UpdateQuantity(ctx context.Context, id string, quantity int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if quantity <= 0 {
		return fmt.Errorf("update order %s to quantity %d; remove it instead", id, quantity)
	}

	key, o, err := s.orderByID(id)
	if err != nil {
		return err
	}
	if key == nil {
		return market.ErrNotFound
	}

	o.Quantity = quantity
	val, err := encodeJSON(o)
	if err != nil {
		return err
	}
	return s.db.Set(key, val, pebble.Sync)
}

// RemoveOrder deletes a resting order and its index entry. Removing an id
// that no longer exists is a no-op.
func (s *Store) RemoveOrder(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	key, _, err := s.orderByID(id)
	if err != nil {
		return err
	}
	if key == nil {
		return nil
	}

	batch := s.db.NewBatch()
	defer batch.Close()
	if err := batch.Delete(key, nil); err != nil {
		return err
	}
	if err := batch.Delete(orderIndexKey(id), nil); err != nil {
		return err
	}
	if err := batch.Commit(pebble.Sync); err != nil {
		return fmt.Errorf("commit order removal: %w", err)
	}
	return nil
}

// orderByID resolves the id index to the primary key and decodes the order.
// A nil key means the order does not exist.
func (s *Store) orderByID(id string) ([]byte, market.Order, error) {
	var o market.Order

	idxVal, closer, err := s.db.Get(orderIndexKey(id))
	if err == pebble.ErrNotFound {
		return nil, o, nil
	}
	if err != nil {
		return nil, o, fmt.Errorf("lookup order index %s: %w", id, err)
	}
	key := append([]byte(nil), idxVal...)
	closer.Close()

	val, closer, err := s.db.Get(key)
	if err == pebble.ErrNotFound {
		// Index without primary row: treat as gone.
		return nil, o, nil
	}
	if err != nil {
		return nil, o, fmt.Errorf("lookup order %s: %w", id, err)
	}
	defer closer.Close()
	if err := decodeJSON(val, &o); err != nil {
		return nil, o, fmt.Errorf("decode order %s: %w", id, err)
	}
	return key, o, nil
}

var _ market.OrderStore = (*Store)(nil)
