package candle

import "github.com/shopspring/decimal"

// Candle is one OHLCV bucket of executed trades for an item and period.
type Candle struct {
	Item   string          `json:"item"`
	Period string          `json:"period"` // e.g. "1m", "1h"
	Start  int64           `json:"start"`  // bucket start, unix ms
	Open   decimal.Decimal `json:"open"`
	High   decimal.Decimal `json:"high"`
	Low    decimal.Decimal `json:"low"`
	Close  decimal.Decimal `json:"close"`
	Volume int64           `json:"volume"`
}

// Store is the persistence boundary for candles.
type Store interface {
	// Candle loads one bucket; nil if no trades landed in it.
	Candle(item, period string, start int64) (*Candle, error)
	PutCandle(c Candle) error
	// Candles returns buckets with start in [from, to), ascending.
	Candles(item, period string, from, to int64) ([]Candle, error)
	// LatestCandles returns the last limit buckets, ascending.
	LatestCandles(item, period string, limit int) ([]Candle, error)
}
