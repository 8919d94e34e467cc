package shipping

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

var eventAliases = map[string]EventType{
	"picked up":                  EventPickedUp,
	"pickup":                     EventPickedUp,
	"successful pickup":          EventPickedUp,
	"parcel picked up":           EventPickedUp,
	"en route to sorting hub":    EventPickedUp,
	"arrived at sorting hub":     EventPickedUp,
	"in transit":                 EventPickedUp,
	"out for delivery":           EventOutForDelivery,
	"on vehicle for delivery":    EventOutForDelivery,
	"delivered":                  EventDelivered,
	"successful delivery":        EventDelivered,
	"completed":                  EventDelivered,
	"cancelled":                  EventCancelled,
	"canceled":                   EventCancelled,
	"returned":                   EventReturned,
	"returned to sender":         EventReturned,
	"return to sender":           EventReturned,
	"rts":                        EventReturned,
	"cod payment collected":      EventCODCollected,
	"cod collected":              EventCODCollected,
	"cash on delivery collected": EventCODCollected,
}

// NormalizeEvent maps a carrier status string onto an EventType.
func NormalizeEvent(raw string) (EventType, bool) {
	key := strings.ToLower(strings.TrimSpace(raw))
	key = strings.NewReplacer("_", " ", "-", " ").Replace(key)
	key = strings.Join(strings.Fields(key), " ")
	ev, ok := eventAliases[key]
	return ev, ok
}

type webhookFields struct {
	EventType      string `json:"event_type"`
	Event          string `json:"event"`
	Status         string `json:"status"`
	TrackingNumber string `json:"tracking_number"`
	TrackingID     string `json:"tracking_id"`
	Timestamp      string `json:"timestamp"`
	OccurredAt     string `json:"occurred_at"`
}

type webhookEnvelope struct {
	webhookFields
	Data *webhookFields `json:"data"`
}

func (f *webhookFields) eventName() string {
	for _, v := range []string{f.EventType, f.Event, f.Status} {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

func (f *webhookFields) trackingNumber() string {
	if tn := strings.TrimSpace(f.TrackingNumber); tn != "" {
		return tn
	}
	return strings.TrimSpace(f.TrackingID)
}

func (f *webhookFields) timestamp() string {
	if f.Timestamp != "" {
		return f.Timestamp
	}
	return f.OccurredAt
}

// ParseWebhook validates a carrier payload. Both the flat shape and the
// shape nested under "data" are accepted; nested values win. A missing or
// unreadable timestamp falls back to now, and the event is then keyed by a
// digest of the payload so a re-delivery at a later time is still a repeat.
func ParseWebhook(body []byte, now time.Time) (*WebhookEvent, error) {
	var env webhookEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}

	fields := env.webhookFields
	if env.Data != nil {
		merge(&fields, env.Data)
	}

	tn := fields.trackingNumber()
	if tn == "" {
		return nil, ErrMissingTrackingNumber
	}

	rawEvent := fields.eventName()
	ev, ok := NormalizeEvent(rawEvent)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownEvent, rawEvent)
	}

	evt := &WebhookEvent{
		TrackingNumber: tn,
		EventType:      ev,
		RawEventType:   rawEvent,
		Payload:        json.RawMessage(body),
	}
	if at, ok := parseTimestamp(fields.timestamp()); ok {
		evt.OccurredAt = at
	} else {
		evt.OccurredAt = now.UTC().Truncate(time.Second)
		evt.DedupeKey = payloadDigest(body)
	}
	return evt, nil
}

// payloadDigest hashes the payload with object keys sorted, so key order
// and whitespace do not matter.
func payloadDigest(body []byte) string {
	var v any
	canonical := body
	if err := json.Unmarshal(body, &v); err == nil {
		if b, err := json.Marshal(v); err == nil {
			canonical = b
		}
	}
	sum := sha256.Sum256(canonical)
	return "sha256:" + hex.EncodeToString(sum[:])
}

func merge(dst, src *webhookFields) {
	if src.EventType != "" {
		dst.EventType = src.EventType
	}
	if src.Event != "" {
		dst.Event = src.Event
	}
	if src.Status != "" {
		dst.Status = src.Status
	}
	if src.TrackingNumber != "" {
		dst.TrackingNumber = src.TrackingNumber
	}
	if src.TrackingID != "" {
		dst.TrackingID = src.TrackingID
	}
	if src.Timestamp != "" {
		dst.Timestamp = src.Timestamp
	}
	if src.OccurredAt != "" {
		dst.OccurredAt = src.OccurredAt
	}
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05-0700",
	"2006-01-02 15:04:05",
}

func parseTimestamp(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC().Truncate(time.Second), true
		}
	}
	return time.Time{}, false
}
