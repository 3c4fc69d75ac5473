package vault

import (
	"sync"

	"go.uber.org/zap"

	"github.com/tradepost/tradepost/pkg/market"
)

// appliedCap bounds the dedup window. Duplicates arrive close to the
// original delivery (redelivery after a consumer hiccup), so a FIFO window
// this wide is far more history than a duplicate can span.
const appliedCap = 16384

// Settlement is the ledger consumer of market events: every executed
// transaction credits the matched item quantity to the buyer's vault.
// Delivery is at-least-once, so applied execution ids are remembered and
// duplicates skipped.
type Settlement struct {
	store Store
	log   *zap.SugaredLogger

	// mu serializes settlement: events for different items arrive on
	// concurrent matching goroutines.
	mu      sync.Mutex
	applied map[string]struct{}
	fifo    []string // applied ids, oldest first, for eviction
}

func NewSettlement(store Store, log *zap.SugaredLogger) *Settlement {
	return &Settlement{
		store:   store,
		log:     log,
		applied: make(map[string]struct{}),
	}
}

func (s *Settlement) HandleEvent(e market.Event) {
	if e.Kind != market.EventTransactionExecuted || e.Execution == nil {
		return
	}
	ex := e.Execution

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, dup := s.applied[ex.ID]; dup {
		return
	}

	if err := s.store.Deposit(ex.Buyer, ex.Item, ex.Quantity); err != nil {
		// The trade itself is final; a failed credit is surfaced for
		// operator reconciliation, not rolled back.
		s.log.Errorw("settlement_credit_failed",
			"execution", ex.ID, "buyer", ex.Buyer, "item", ex.Item,
			"quantity", ex.Quantity, "err", err)
		return
	}
	s.markApplied(ex.ID)

	s.log.Infow("trade_settled",
		"execution", ex.ID, "item", ex.Item,
		"buyer", ex.Buyer, "seller", ex.Seller,
		"quantity", ex.Quantity, "price", ex.Price.String())
}

// markApplied records an id in the dedup window, evicting the oldest entry
// once the window is full. Caller holds s.mu.
func (s *Settlement) markApplied(id string) {
	s.applied[id] = struct{}{}
	s.fifo = append(s.fifo, id)
	if len(s.fifo) > appliedCap {
		delete(s.applied, s.fifo[0])
		s.fifo = s.fifo[1:]
	}
}
