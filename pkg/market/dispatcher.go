package market

import "sync"

type EventKind string

const (
	EventOrderCreated         EventKind = "order-created"
	EventOrderQuantityReduced EventKind = "order-quantity-reduced"
	EventOrderRemoved         EventKind = "order-removed"
	EventTransactionExecuted  EventKind = "transaction-executed"
)

// Event is a flat, immutable record of one book mutation. Order is set for the
// three order lifecycle kinds, Execution for transactions. Payloads are
// complete: a consumer never re-queries the book to interpret an event.
type Event struct {
	Kind      EventKind  `json:"kind"`
	Item      string     `json:"item"`
	Order     *Order     `json:"order,omitempty"`
	Execution *Execution `json:"execution,omitempty"`
}

// Consumer receives market events. For a given item, calls arrive in the order
// the causing mutations were applied under the sequencer; there is no ordering
// across items. Delivery is at-least-once end to end, so consumers must be
// idempotent per event id. Handlers run on the matching goroutine — a slow
// consumer stalls matching for its item, so hand off quickly.
type Consumer interface {
	HandleEvent(Event)
}

// ConsumerFunc adapts a plain function to the Consumer interface.
type ConsumerFunc func(Event)

func (f ConsumerFunc) HandleEvent(e Event) { f(e) }

// Dispatcher fans book mutations out to registered consumers.
type Dispatcher struct {
	mu        sync.RWMutex
	consumers []Consumer
}

func NewDispatcher() *Dispatcher {
	return &Dispatcher{}
}

func (d *Dispatcher) Subscribe(c Consumer) {
	d.mu.Lock()
	d.consumers = append(d.consumers, c)
	d.mu.Unlock()
}

// Publish delivers e to every consumer, in subscription order.
func (d *Dispatcher) Publish(e Event) {
	d.mu.RLock()
	consumers := d.consumers
	d.mu.RUnlock()

	for _, c := range consumers {
		c.HandleEvent(e)
	}
}
