package payment

import (
	"errors"
	"fmt"
)

var (
	ErrMissingField  = errors.New("callback is missing a required field")
	ErrInvalidDigest = errors.New("callback digest mismatch")
	ErrNotConfigured = errors.New("payment gateway is not configured")
)

// GatewayError wraps a failed call to the payment provider. The order stays
// pending and the client may initiate payment again.
type GatewayError struct {
	Op         string
	StatusCode int
	Err        error
}

func (e *GatewayError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("payment gateway %s failed with status %d: %v", e.Op, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("payment gateway %s failed: %v", e.Op, e.Err)
}

func (e *GatewayError) Unwrap() error { return e.Err }
