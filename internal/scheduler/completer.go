package scheduler

import (
	"context"
	"time"

	"github.com/seiixin/PakbetTV-sub001/internal/metrics"
)

// AutoCompleter closes delivered orders once their completion deadline has
// passed without a dispute.
type AutoCompleter struct {
	sweeper
	orders DeliveredOrders
}

func NewAutoCompleter(orders DeliveredOrders, itemDelay time.Duration, m *metrics.Metrics) *AutoCompleter {
	return &AutoCompleter{
		sweeper: sweeper{name: "auto_completer", delay: itemDelay, batch: defaultBatch, metrics: m},
		orders:  orders,
	}
}

func (a *AutoCompleter) Run(ctx context.Context) (*Result, error) {
	return a.guarded(ctx, func(ctx context.Context) (*Result, error) {
		ids, err := a.orders.ListDueForCompletion(ctx, a.batch)
		if err != nil {
			return nil, err
		}
		return a.sweep(ctx, ids, a.orders.CompleteDelivered)
	})
}
