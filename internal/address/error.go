package address

import "errors"

var (
	ErrNotFound          = errors.New("shipping detail not found")
	ErrIncompleteAddress = errors.New("shipping address is incomplete")
)
