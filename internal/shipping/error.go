package shipping

import (
	"errors"
	"fmt"
)

var (
	ErrMissingTrackingNumber = errors.New("webhook has no tracking number")
	ErrUnknownEvent          = errors.New("unrecognised carrier event")
	ErrInvalidPayload        = errors.New("webhook payload is not valid JSON")
	ErrNotConfigured         = errors.New("carrier is not configured")
)

// CarrierError wraps a failed call to the logistics provider. These are
// logged and retried by operators, never shown to customers.
type CarrierError struct {
	Op         string
	StatusCode int
	Err        error
}

func (e *CarrierError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("carrier %s failed with status %d: %v", e.Op, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("carrier %s failed: %v", e.Op, e.Err)
}

func (e *CarrierError) Unwrap() error { return e.Err }
