package shipping

import (
	"encoding/json"
	"time"

	"github.com/seiixin/PakbetTV-sub001/internal/address"

	"github.com/shopspring/decimal"
)

type Status string

const (
	StatusPending        Status = "pending"
	StatusPickedUp       Status = "picked_up"
	StatusOutForDelivery Status = "out_for_delivery"
	StatusDelivered      Status = "delivered"
	StatusCancelled      Status = "cancelled"
	StatusReturned       Status = "returned"
)

// EventType is a normalized carrier event. Most map onto a shipment status;
// EventCODCollected only affects payment.
type EventType string

const (
	EventPickedUp       EventType = "picked_up"
	EventOutForDelivery EventType = "out_for_delivery"
	EventDelivered      EventType = "delivered"
	EventCancelled      EventType = "cancelled"
	EventReturned       EventType = "returned"
	EventCODCollected   EventType = "cod_payment_collected"
)

var statusRank = map[Status]int{
	StatusPending:        0,
	StatusPickedUp:       1,
	StatusOutForDelivery: 2,
	StatusDelivered:      3,
	StatusCancelled:      4,
	StatusReturned:       4,
}

func (s Status) Terminal() bool {
	return s == StatusCancelled || s == StatusReturned
}

// CanAdvance reports whether a shipment in s may move to next. Late events
// for an earlier stage never move the status backwards.
func (s Status) CanAdvance(next Status) bool {
	if s.Terminal() || s == next {
		return false
	}
	return statusRank[next] > statusRank[s]
}

// ShipmentStatus returns the shipment status an event implies, if any.
func (e EventType) ShipmentStatus() (Status, bool) {
	switch e {
	case EventPickedUp:
		return StatusPickedUp, true
	case EventOutForDelivery:
		return StatusOutForDelivery, true
	case EventDelivered:
		return StatusDelivered, true
	case EventCancelled:
		return StatusCancelled, true
	case EventReturned:
		return StatusReturned, true
	}
	return "", false
}

type Shipment struct {
	ID             uint
	OrderID        uint
	TrackingNumber *string
	Carrier        string
	CarrierRef     *string
	Status         Status
	LastEventAt    *time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

type ShipmentRequest struct {
	OrderID     uint
	OrderCode   string
	Recipient   address.Detail
	ItemCount   int
	ParcelValue decimal.Decimal

	// CashOnDelivery is the amount the rider collects; zero for prepaid orders.
	CashOnDelivery decimal.Decimal
}

type ShipmentResult struct {
	TrackingNumber   string
	CarrierReference string
}

// TrackingEvent is one entry of a carrier's tracking history.
type TrackingEvent struct {
	TrackingNumber string
	Status         string
	Description    string
	OccurredAt     time.Time
}

// WebhookEvent is a validated carrier notification.
type WebhookEvent struct {
	TrackingNumber string
	EventType      EventType
	RawEventType   string
	OccurredAt     time.Time
	Payload        json.RawMessage
	// DedupeKey identifies re-deliveries of the same event. Empty means the
	// carrier timestamp is authoritative.
	DedupeKey string
}

// IdempotencyKey is the value stored alongside tracking number and event
// type to reject re-deliveries.
func (e WebhookEvent) IdempotencyKey() string {
	if e.DedupeKey != "" {
		return e.DedupeKey
	}
	return "at:" + e.OccurredAt.UTC().Format(time.RFC3339)
}
