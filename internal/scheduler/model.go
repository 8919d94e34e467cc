package scheduler

import (
	"context"
	"time"
)

// Job is one periodic reconciliation task.
type Job interface {
	Name() string
	Run(ctx context.Context) (*Result, error)
}

// UnpaidOrders is the slice of the order service the timeout canceller needs.
type UnpaidOrders interface {
	ListExpiredUnpaid(ctx context.Context, cutoff time.Time, limit int) ([]uint, error)
	CancelUnpaid(ctx context.Context, orderID uint, reason string) (bool, error)
}

// DeliveredOrders is the slice of the order service the auto-completer needs.
type DeliveredOrders interface {
	ListDueForCompletion(ctx context.Context, limit int) ([]uint, error)
	CompleteDelivered(ctx context.Context, orderID uint) (bool, error)
}

// Result summarizes one run. Skipped counts orders that changed state
// between selection and processing.
type Result struct {
	Job       string        `json:"job"`
	Scanned   int           `json:"scanned"`
	Processed int           `json:"processed"`
	Skipped   int           `json:"skipped"`
	Failed    int           `json:"failed"`
	Duration  time.Duration `json:"-"`
}
