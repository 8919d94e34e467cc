package scheduler

import (
	"context"
	"time"

	"github.com/seiixin/PakbetTV-sub001/internal/metrics"
)

const timeoutReason = "payment timeout"

type TimeoutConfig struct {
	// Orders whose payment is still pending after Timeout are cancelled.
	Timeout time.Duration
	// Delay between two cancellations in the same run.
	ItemDelay time.Duration
	Batch     int
}

// TimeoutCanceller cancels orders whose gateway payment was started but
// never completed, and gives their stock back.
type TimeoutCanceller struct {
	sweeper
	orders  UnpaidOrders
	timeout time.Duration
	now     func() time.Time
}

func NewTimeoutCanceller(orders UnpaidOrders, cfg TimeoutConfig, m *metrics.Metrics) *TimeoutCanceller {
	if cfg.Batch <= 0 {
		cfg.Batch = defaultBatch
	}
	return &TimeoutCanceller{
		sweeper: sweeper{name: "timeout_canceller", delay: cfg.ItemDelay, batch: cfg.Batch, metrics: m},
		orders:  orders,
		timeout: cfg.Timeout,
		now:     time.Now,
	}
}

func (c *TimeoutCanceller) Run(ctx context.Context) (*Result, error) {
	return c.guarded(ctx, func(ctx context.Context) (*Result, error) {
		ids, err := c.orders.ListExpiredUnpaid(ctx, c.now().Add(-c.timeout), c.batch)
		if err != nil {
			return nil, err
		}
		return c.sweep(ctx, ids, func(ctx context.Context, id uint) (bool, error) {
			return c.orders.CancelUnpaid(ctx, id, timeoutReason)
		})
	})
}
