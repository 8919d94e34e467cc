package webhook

import "encoding/json"

const (
	SourceDragonpay = "dragonpay"
	SourceNinjaVan  = "ninjavan"
)

// Outcomes stored on webhook_logs. The order package's outcomes (applied,
// duplicate, stale, ignored) are stored as-is.
const (
	OutcomeReceived = "received"
	OutcomeRejected = "rejected"
	OutcomeFailed   = "failed"
	OutcomeUnknown  = "unknown_reference"
)

// Log is one inbound notification as received.
type Log struct {
	Source         string
	EventType      string
	Reference      string
	SignatureValid bool
	// RateLimited marks a delivery that arrived over the sender's quota.
	RateLimited bool
	Payload     json.RawMessage
}
