package storage

import (
	"fmt"
	"strings"

	"github.com/cockroachdb/pebble"

	"github.com/tradepost/tradepost/pkg/vault"
)

// UpsertItem registers (or refreshes) an item in the registry.
func (s *Store) UpsertItem(item vault.Item) error {
	if err := s.setJSON(itemKey(item.Hash), item); err != nil {
		return fmt.Errorf("upsert item %s: %w", item.Hash, err)
	}
	return nil
}

// ItemByHash loads a registry item; nil if absent.
func (s *Store) ItemByHash(hash string) (*vault.Item, error) {
	var it vault.Item
	found, err := s.getJSON(itemKey(hash), &it)
	if err != nil {
		return nil, fmt.Errorf("load item %s: %w", hash, err)
	}
	if !found {
		return nil, nil
	}
	return &it, nil
}

// Deposit adds quantity to a player's balance for an item.
func (s *Store) Deposit(player, itemHash string, quantity int64) error {
	s.balMu.Lock()
	defer s.balMu.Unlock()

	bal, err := s.balanceLocked(player, itemHash)
	if err != nil {
		return err
	}
	return s.db.Set(vaultKey(player, itemHash), encodeInt64(bal+quantity), pebble.Sync)
}

// Withdraw subtracts quantity from a player's balance, deleting the row when
// it reaches zero. Fails with vault.ErrInsufficient rather than going
// negative.
func (s *Store) Withdraw(player, itemHash string, quantity int64) error {
	s.balMu.Lock()
	defer s.balMu.Unlock()

	bal, err := s.balanceLocked(player, itemHash)
	if err != nil {
		return err
	}
	if bal < quantity {
		return fmt.Errorf("%w: have %d, want %d", vault.ErrInsufficient, bal, quantity)
	}
	if bal == quantity {
		return s.db.Delete(vaultKey(player, itemHash), pebble.Sync)
	}
	return s.db.Set(vaultKey(player, itemHash), encodeInt64(bal-quantity), pebble.Sync)
}

// Balance returns a player's balance for one item (zero if no row).
func (s *Store) Balance(player, itemHash string) (int64, error) {
	s.balMu.Lock()
	defer s.balMu.Unlock()
	return s.balanceLocked(player, itemHash)
}

func (s *Store) balanceLocked(player, itemHash string) (int64, error) {
	val, closer, err := s.db.Get(vaultKey(player, itemHash))
	if err == pebble.ErrNotFound {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("load balance %s/%s: %w", player, itemHash, err)
	}
	defer closer.Close()
	return decodeInt64(val), nil
}

// ListItems scans a player's balances and joins each against the item
// registry. Rows without a registry entry (e.g. the money balance) come back
// with only the hash filled in.
func (s *Store) ListItems(player string) ([]vault.Entry, error) {
	prefix := vaultPrefix(player)
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: keyUpperBound(prefix),
	})
	if err != nil {
		return nil, fmt.Errorf("open vault iterator: %w", err)
	}
	defer iter.Close()

	var entries []vault.Entry
	for iter.First(); iter.Valid(); iter.Next() {
		hash := strings.TrimPrefix(string(iter.Key()), string(prefix))
		qty := decodeInt64(iter.Value())

		item, err := s.ItemByHash(hash)
		if err != nil {
			return nil, err
		}
		if item == nil {
			item = &vault.Item{Hash: hash}
		}
		entries = append(entries, vault.Entry{Item: *item, Quantity: qty})
	}
	if err := iter.Error(); err != nil {
		return nil, fmt.Errorf("scan vault: %w", err)
	}
	return entries, nil
}

var _ vault.Store = (*Store)(nil)
