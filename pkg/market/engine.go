package market

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/tradepost/tradepost/pkg/util"
)

// DefaultPageSize is how many opposing orders one walk step fetches when the
// config leaves it unset.
const DefaultPageSize = 10

var (
	// ErrInvalidOrder rejects a submission with non-positive quantity or
	// price. Rejected submissions never enter the sequencer and emit nothing.
	ErrInvalidOrder = errors.New("market: invalid order")

	// ErrStoreUnavailable surfaces a failed or timed-out persistence call.
	// Steps committed before the failure stay valid; their events are already
	// out. Partial fills are permanent.
	ErrStoreUnavailable = errors.New("market: order store unavailable")
)

type Status string

const (
	// StatusRejected: invalid submission, nothing entered the book.
	StatusRejected Status = "rejected"
	// StatusFilled: the incoming quantity was fully consumed by executions.
	StatusFilled Status = "filled"
	// StatusRested: no executions, the whole quantity now rests on the book.
	StatusRested Status = "rested"
	// StatusPartiallyFilled: some executions plus a rested residual.
	StatusPartiallyFilled Status = "partially-filled"
	// StatusFailed: a store call failed mid-walk. Outcome.Executed reports
	// exactly how much quantity was consumed before the failure; resubmitting
	// the full original quantity would double-trade that amount.
	StatusFailed Status = "failed"
)

// Outcome is the final disposition of one submission.
type Outcome struct {
	Status     Status
	OrderID    string // id of the rested residual order, if one was created
	Executed   int64  // total quantity consumed by executions
	Residual   int64  // quantity left unconsumed (rested, or stranded on failure)
	Executions []Execution
}

type EngineConfig struct {
	PageSize     int
	StoreTimeout time.Duration // per store call; zero disables
}

// Engine is the order-matching core. For every incoming order it decides
// which resting orders trade, at what price and quantity, and how the book
// evolves, with all mutations flowing through the OrderStore and all state
// changes published on the Dispatcher.
type Engine struct {
	store OrderStore
	disp  *Dispatcher
	seq   *Sequencer
	clock util.Clock
	log   *zap.SugaredLogger

	pageSize     int
	storeTimeout time.Duration
	lastStamp    atomic.Int64
}

func NewEngine(store OrderStore, disp *Dispatcher, clock util.Clock, log *zap.SugaredLogger, cfg EngineConfig) *Engine {
	if cfg.PageSize <= 0 {
		cfg.PageSize = DefaultPageSize
	}
	return &Engine{
		store:        store,
		disp:         disp,
		seq:          NewSequencer(),
		clock:        clock,
		log:          log,
		pageSize:     cfg.PageSize,
		storeTimeout: cfg.StoreTimeout,
	}
}

// Submit validates and matches one incoming limit order. It blocks until the
// item's exclusive slot is acquired and the walk completes; submissions for
// other items run concurrently. Once admitted a submission always terminates:
// fully filled, partially filled + rested, rested, or failed mid-walk.
func (e *Engine) Submit(ctx context.Context, trader, item string, side Side, quantity int64, price decimal.Decimal) (Outcome, error) {
	if quantity <= 0 || !price.IsPositive() {
		return Outcome{Status: StatusRejected, Residual: quantity},
			fmt.Errorf("%w: quantity=%d price=%s", ErrInvalidOrder, quantity, price)
	}

	release := e.seq.Acquire(item)
	defer release()

	incoming := Order{
		Trader:    trader,
		Item:      item,
		Side:      side,
		Quantity:  quantity,
		Price:     price,
		Timestamp: e.stamp(),
	}
	return e.match(ctx, incoming)
}

// match walks the opposing book in priority order, page by page. Each matched
// resting order is one mutate-then-emit step: the store mutation must succeed
// before the step's events go out, and a failed step emits nothing.
func (e *Engine) match(ctx context.Context, incoming Order) (Outcome, error) {
	var out Outcome
	remaining := incoming.Quantity

	for remaining > 0 {
		page, err := e.fetchPage(ctx, incoming)
		if err != nil {
			return e.fail(out, remaining, fmt.Errorf("fetch book page: %w", err))
		}

		walkStopped := false
		for _, resting := range page {
			if remaining == 0 {
				break
			}
			if !crosses(incoming, resting) {
				// Priority ordering: nothing later in the book crosses either.
				walkStopped = true
				break
			}

			matched := resting.Quantity
			if matched > remaining {
				matched = remaining
			}

			if resting.Quantity <= remaining {
				if err := e.removeOrder(ctx, resting); err != nil {
					return e.fail(out, remaining, fmt.Errorf("remove resting order %s: %w", resting.ID, err))
				}
			} else {
				if err := e.reduceOrder(ctx, resting, resting.Quantity-remaining); err != nil {
					return e.fail(out, remaining, fmt.Errorf("reduce resting order %s: %w", resting.ID, err))
				}
			}

			exec := e.execution(incoming, resting, matched)
			e.disp.Publish(Event{Kind: EventTransactionExecuted, Item: incoming.Item, Execution: &exec})

			out.Executions = append(out.Executions, exec)
			out.Executed += matched
			remaining -= matched
		}

		if remaining == 0 {
			break
		}
		if walkStopped || len(page) < e.pageSize {
			// No more eligible opposing orders: rest the residual.
			return e.rest(ctx, out, incoming, remaining)
		}
		// The page was full and fully consumed; the book may hold more
		// eligible orders. Consumed orders are gone from the store, so the
		// next page is again the head of the book.
	}

	out.Status = StatusFilled
	e.log.Debugw("order_filled",
		"item", incoming.Item, "trader", incoming.Trader,
		"side", incoming.Side.String(), "executed", out.Executed)
	return out, nil
}

func (e *Engine) rest(ctx context.Context, out Outcome, incoming Order, remaining int64) (Outcome, error) {
	resting := incoming
	resting.Quantity = remaining

	sctx, cancel := e.storeCtx(ctx)
	id, err := e.store.InsertOrder(sctx, resting)
	cancel()
	if err != nil {
		return e.fail(out, remaining, fmt.Errorf("insert resting order: %w", err))
	}
	resting.ID = id

	e.disp.Publish(Event{Kind: EventOrderCreated, Item: resting.Item, Order: &resting})

	out.OrderID = id
	out.Residual = remaining
	if out.Executed > 0 {
		out.Status = StatusPartiallyFilled
	} else {
		out.Status = StatusRested
	}
	e.log.Debugw("order_rested",
		"item", resting.Item, "order_id", id, "trader", resting.Trader,
		"side", resting.Side.String(), "quantity", remaining, "price", resting.Price.String())
	return out, nil
}

func (e *Engine) removeOrder(ctx context.Context, resting Order) error {
	sctx, cancel := e.storeCtx(ctx)
	defer cancel()
	if err := e.store.RemoveOrder(sctx, resting.ID); err != nil {
		return err
	}
	removed := resting
	removed.Quantity = 0
	e.disp.Publish(Event{Kind: EventOrderRemoved, Item: resting.Item, Order: &removed})
	return nil
}

func (e *Engine) reduceOrder(ctx context.Context, resting Order, newQuantity int64) error {
	sctx, cancel := e.storeCtx(ctx)
	defer cancel()
	if err := e.store.UpdateQuantity(sctx, resting.ID, newQuantity); err != nil {
		return err
	}
	reduced := resting
	reduced.Quantity = newQuantity
	e.disp.Publish(Event{Kind: EventOrderQuantityReduced, Item: resting.Item, Order: &reduced})
	return nil
}

func (e *Engine) fetchPage(ctx context.Context, incoming Order) ([]Order, error) {
	sctx, cancel := e.storeCtx(ctx)
	defer cancel()
	return e.store.FetchPriorityPage(sctx, incoming.Item, incoming.Side.Opposite(), e.pageSize, 0)
}

func (e *Engine) execution(incoming, resting Order, matched int64) Execution {
	exec := Execution{
		ID:        uuid.NewString(),
		Item:      incoming.Item,
		Price:     resting.Price,
		Quantity:  matched,
		Timestamp: e.stamp(),
	}
	if incoming.Side == Buy {
		exec.Buyer, exec.Seller = incoming.Trader, resting.Trader
	} else {
		exec.Buyer, exec.Seller = resting.Trader, incoming.Trader
	}
	return exec
}

// fail finalizes a submission after a store error. Everything already applied
// stays applied; the caller learns how much was consumed via Outcome.Executed.
func (e *Engine) fail(out Outcome, remaining int64, err error) (Outcome, error) {
	out.Status = StatusFailed
	out.Residual = remaining

	if errors.Is(err, ErrNotFound) {
		// A resting order vanished mid-walk. Under the sequencer this is
		// unreachable; treat it as a store failure and surface it loudly.
		e.log.Errorw("serialization_violation", "err", err)
	}
	if !errors.Is(err, ErrStoreUnavailable) {
		err = fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	e.log.Warnw("matching_aborted", "executed", out.Executed, "residual", remaining, "err", err)
	return out, err
}

func (e *Engine) storeCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if e.storeTimeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, e.storeTimeout)
}

// stamp returns a strictly increasing timestamp in nanoseconds. Wall-clock
// ties (or regressions) are bumped so priority tie-breaks stay total.
func (e *Engine) stamp() int64 {
	now := e.clock.Now().UnixNano()
	for {
		last := e.lastStamp.Load()
		if now <= last {
			now = last + 1
		}
		if e.lastStamp.CompareAndSwap(last, now) {
			return now
		}
	}
}
