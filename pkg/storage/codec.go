package storage

import (
	"encoding/binary"
	"encoding/json"

	"github.com/cockroachdb/pebble"
)

func encodeJSON(v any) ([]byte, error) {
	return json.Marshal(v)
}

func decodeJSON(b []byte, v any) error {
	return json.Unmarshal(b, v)
}

// getJSON loads and decodes one key. found is false when the key is absent.
func (s *Store) getJSON(key []byte, v any) (found bool, err error) {
	val, closer, err := s.db.Get(key)
	if err == pebble.ErrNotFound {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	defer closer.Close()
	if err := decodeJSON(val, v); err != nil {
		return false, err
	}
	return true, nil
}

func (s *Store) setJSON(key []byte, v any) error {
	data, err := encodeJSON(v)
	if err != nil {
		return err
	}
	return s.db.Set(key, data, pebble.Sync)
}

func encodeInt64(v int64) []byte {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], uint64(v))
	return b[:]
}

func decodeInt64(b []byte) int64 {
	return int64(binary.BigEndian.Uint64(b))
}
