package storage

import (
	"fmt"

	"github.com/cockroachdb/pebble"

	"github.com/tradepost/tradepost/pkg/candle"
)

// Candle loads one OHLCV bucket; nil if no trades landed in it.
func (s *Store) Candle(item, period string, start int64) (*candle.Candle, error) {
	key, err := candleKey(item, period, start)
	if err != nil {
		return nil, err
	}
	var c candle.Candle
	found, err := s.getJSON(key, &c)
	if err != nil {
		return nil, fmt.Errorf("load candle %s/%s/%d: %w", item, period, start, err)
	}
	if !found {
		return nil, nil
	}
	return &c, nil
}

// PutCandle upserts one bucket.
func (s *Store) PutCandle(c candle.Candle) error {
	key, err := candleKey(c.Item, c.Period, c.Start)
	if err != nil {
		return err
	}
	if err := s.setJSON(key, c); err != nil {
		return fmt.Errorf("put candle %s/%s/%d: %w", c.Item, c.Period, c.Start, err)
	}
	return nil
}

// Candles returns buckets with start in [from, to), ascending by start.
func (s *Store) Candles(item, period string, from, to int64) ([]candle.Candle, error) {
	lower, err := candleKey(item, period, from)
	if err != nil {
		return nil, err
	}
	upper, err := candleKey(item, period, to)
	if err != nil {
		return nil, err
	}
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: lower,
		UpperBound: upper,
	})
	if err != nil {
		return nil, fmt.Errorf("open candle iterator: %w", err)
	}
	defer iter.Close()

	var out []candle.Candle
	for iter.First(); iter.Valid(); iter.Next() {
		var c candle.Candle
		if err := decodeJSON(iter.Value(), &c); err != nil {
			return nil, fmt.Errorf("decode candle at %q: %w", iter.Key(), err)
		}
		out = append(out, c)
	}
	if err := iter.Error(); err != nil {
		return nil, fmt.Errorf("scan candles: %w", err)
	}
	return out, nil
}

// LatestCandles returns the last limit buckets in ascending order, matching
// what a chart wants to render.
func (s *Store) LatestCandles(item, period string, limit int) ([]candle.Candle, error) {
	prefix, err := candlePrefix(item, period)
	if err != nil {
		return nil, err
	}
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: keyUpperBound(prefix),
	})
	if err != nil {
		return nil, fmt.Errorf("open candle iterator: %w", err)
	}
	defer iter.Close()

	var reversed []candle.Candle
	for iter.Last(); iter.Valid() && len(reversed) < limit; iter.Prev() {
		var c candle.Candle
		if err := decodeJSON(iter.Value(), &c); err != nil {
			return nil, fmt.Errorf("decode candle at %q: %w", iter.Key(), err)
		}
		reversed = append(reversed, c)
	}
	if err := iter.Error(); err != nil {
		return nil, fmt.Errorf("scan candles: %w", err)
	}

	out := make([]candle.Candle, len(reversed))
	for i, c := range reversed {
		out[len(out)-1-i] = c
	}
	return out, nil
}

var _ candle.Store = (*Store)(nil)
