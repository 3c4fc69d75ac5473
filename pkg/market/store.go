package market

import (
	"context"
	"errors"
)

// ErrNotFound is returned by UpdateQuantity when the order no longer exists.
// Under the sequencer's per-item slot this cannot happen during a matching
// walk; seeing it there means something mutated the book outside the slot.
var ErrNotFound = errors.New("market: order not found")

// OrderStore is the durable home of resting orders. Implementations must make
// each single-order mutation atomic; the engine layers per-item serialization
// on top, and the two together are what keep the book consistent. Multi-order
// transactions are not required.
type OrderStore interface {
	// FetchPriorityPage returns up to limit resting orders of one side of an
	// item's book, in priority order: ascending (price, timestamp) for sells,
	// descending price / ascending timestamp for buys.
	FetchPriorityPage(ctx context.Context, item string, side Side, limit, offset int) ([]Order, error)

	// InsertOrder persists a new resting order and returns its assigned id.
	InsertOrder(ctx context.Context, o Order) (string, error)

	// UpdateQuantity sets the remaining quantity of an existing resting order.
	// Returns ErrNotFound if the order no longer exists.
	UpdateQuantity(ctx context.Context, id string, quantity int64) error

	// RemoveOrder deletes a resting order. Removing an id that does not exist
	// is a no-op, not an error.
	RemoveOrder(ctx context.Context, id string) error
}
