package market

import "github.com/shopspring/decimal"

type Side int8

const (
	Buy  Side = 1
	Sell Side = -1
)

func (s Side) String() string {
	switch s {
	case Buy:
		return "buy"
	case Sell:
		return "sell"
	}
	return "unknown"
}

// Opposite returns the side of the book an order of side s matches against.
func (s Side) Opposite() Side { return -s }

// Order is a resting or incoming request to trade one item.
//
// A resting order always has Quantity > 0; the store deletes it the instant
// its quantity reaches zero. Price carries exact decimal semantics so that
// priority comparisons never drift.
type Order struct {
	ID        string          `json:"id"`     // assigned by the store on insert, empty before
	Trader    string          `json:"trader"` // submitting account
	Item      string          `json:"item"`
	Side      Side            `json:"side"`
	Quantity  int64           `json:"quantity"`
	Price     decimal.Decimal `json:"price"`
	Timestamp int64           `json:"timestamp"` // assigned at admission, priority tie-break
}

// Execution records one match. Price is always the resting order's price, so
// price improvement accrues to the incoming side. Immutable once created.
type Execution struct {
	ID        string          `json:"id"`
	Buyer     string          `json:"buyer"`
	Seller    string          `json:"seller"`
	Item      string          `json:"item"`
	Price     decimal.Decimal `json:"price"`
	Quantity  int64           `json:"quantity"`
	Timestamp int64           `json:"timestamp"`
}

// crosses reports whether a resting order's price permits a trade against the
// incoming order's limit. Because pages arrive in priority order, the first
// non-crossing resting order terminates the whole walk.
func crosses(incoming, resting Order) bool {
	if incoming.Side == Buy {
		return resting.Price.LessThanOrEqual(incoming.Price)
	}
	return resting.Price.GreaterThanOrEqual(incoming.Price)
}
