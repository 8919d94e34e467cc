package notification

import (
	"time"

	"github.com/shopspring/decimal"
)

type EventType string

const (
	EventOrderPaid      EventType = "order.paid"
	EventOrderCancelled EventType = "order.cancelled"
	EventOrderDelivered EventType = "order.delivered"
)

// Event is the JSON body published for an order transition. The routing key
// is the event type.
type Event struct {
	Type           EventType       `json:"type"`
	OrderID        uint            `json:"order_id"`
	OrderCode      string          `json:"order_code"`
	UserID         uint            `json:"user_id"`
	Total          decimal.Decimal `json:"total"`
	Reason         string          `json:"reason,omitempty"`
	TrackingNumber string          `json:"tracking_number,omitempty"`
	OccurredAt     time.Time       `json:"occurred_at"`
}
