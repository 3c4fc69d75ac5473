package candle

import (
	"time"

	"go.uber.org/zap"

	"github.com/tradepost/tradepost/pkg/market"
)

// Aggregator folds executed transactions into per-period OHLCV candles. It
// consumes market events on the matching goroutine; per-item events arrive in
// mutation order, which keeps open/close assignment deterministic.
type Aggregator struct {
	store   Store
	periods map[string]time.Duration
	log     *zap.SugaredLogger
}

func NewAggregator(store Store, periods map[string]time.Duration, log *zap.SugaredLogger) *Aggregator {
	return &Aggregator{store: store, periods: periods, log: log}
}

func (a *Aggregator) HandleEvent(e market.Event) {
	if e.Kind != market.EventTransactionExecuted || e.Execution == nil {
		return
	}
	ex := e.Execution
	tsMillis := ex.Timestamp / int64(time.Millisecond)

	for label, d := range a.periods {
		if err := a.fold(ex, label, tsMillis-tsMillis%d.Milliseconds()); err != nil {
			a.log.Errorw("candle_update_failed",
				"item", ex.Item, "period", label, "execution", ex.ID, "err", err)
		}
	}
}

func (a *Aggregator) fold(ex *market.Execution, period string, bucket int64) error {
	c, err := a.store.Candle(ex.Item, period, bucket)
	if err != nil {
		return err
	}
	if c == nil {
		c = &Candle{
			Item:   ex.Item,
			Period: period,
			Start:  bucket,
			Open:   ex.Price,
			High:   ex.Price,
			Low:    ex.Price,
		}
	}

	if ex.Price.GreaterThan(c.High) {
		c.High = ex.Price
	}
	if ex.Price.LessThan(c.Low) {
		c.Low = ex.Price
	}
	c.Close = ex.Price
	c.Volume += ex.Quantity

	return a.store.PutCandle(*c)
}
