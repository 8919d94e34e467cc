package order

import (
	"errors"
	"fmt"
)

var (
	ErrEmptyCart        = errors.New("cart is empty")
	ErrOrderNotFound    = errors.New("order not found")
	ErrForbidden        = errors.New("order belongs to another user")
	ErrPaymentNotFound  = errors.New("payment transaction not found")
	ErrShipmentNotFound = errors.New("shipment not found")
	ErrNotPayable       = errors.New("order is not awaiting online payment")
	ErrNotShippable     = errors.New("order cannot be shipped")
	ErrNotCancellable   = errors.New("shipment already picked up")
)

// ValidationError is bad checkout input. It is never retried.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}
