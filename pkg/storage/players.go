package storage

import (
	"fmt"

	"github.com/cockroachdb/pebble"

	"github.com/tradepost/tradepost/pkg/account"
)

// PlayerByUUID loads a player record; nil if absent.
func (s *Store) PlayerByUUID(uuid string) (*account.Player, error) {
	var p account.Player
	found, err := s.getJSON(playerKey(uuid), &p)
	if err != nil {
		return nil, fmt.Errorf("load player %s: %w", uuid, err)
	}
	if !found {
		return nil, nil
	}
	return &p, nil
}

// PlayerByCode resolves a registration code to its player.
func (s *Store) PlayerByCode(code string) (*account.Player, error) {
	return s.playerByIndex(playerCodeKey(code))
}

// PlayerByEmail resolves an email to its player.
func (s *Store) PlayerByEmail(email string) (*account.Player, error) {
	return s.playerByIndex(playerMailKey(email))
}

func (s *Store) playerByIndex(idxKey []byte) (*account.Player, error) {
	val, closer, err := s.db.Get(idxKey)
	if err == pebble.ErrNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("lookup player index: %w", err)
	}
	uuid := string(val)
	closer.Close()
	return s.PlayerByUUID(uuid)
}

// SavePlayer upserts a player record and keeps the code and email lookup
// indexes in step, dropping stale ones from the previous version.
func (s *Store) SavePlayer(p *account.Player) error {
	prev, err := s.PlayerByUUID(p.UUID)
	if err != nil {
		return err
	}

	data, err := encodeJSON(p)
	if err != nil {
		return err
	}

	batch := s.db.NewBatch()
	defer batch.Close()

	if err := batch.Set(playerKey(p.UUID), data, nil); err != nil {
		return err
	}
	if prev != nil && prev.Code != "" && prev.Code != p.Code {
		if err := batch.Delete(playerCodeKey(prev.Code), nil); err != nil {
			return err
		}
	}
	if prev != nil && prev.Email != "" && prev.Email != p.Email {
		if err := batch.Delete(playerMailKey(prev.Email), nil); err != nil {
			return err
		}
	}
	if p.Code != "" {
		if err := batch.Set(playerCodeKey(p.Code), []byte(p.UUID), nil); err != nil {
			return err
		}
	}
	if p.Email != "" {
		if err := batch.Set(playerMailKey(p.Email), []byte(p.UUID), nil); err != nil {
			return err
		}
	}

	if err := batch.Commit(pebble.Sync); err != nil {
		return fmt.Errorf("commit player %s: %w", p.UUID, err)
	}
	return nil
}

var _ account.Store = (*Store)(nil)
