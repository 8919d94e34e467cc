package promotion

import (
	"errors"
	"fmt"
)

type Reason string

const (
	ReasonInvalidCode    Reason = "invalid_code"
	ReasonNotActive      Reason = "not_active"
	ReasonExpired        Reason = "expired"
	ReasonNotYetActive   Reason = "not_yet_active"
	ReasonMinimumNotMet  Reason = "minimum_not_met"
	ReasonUsageExhausted Reason = "usage_exhausted"
)

// InvalidPromotionError explains why a supplied code cannot be used.
type InvalidPromotionError struct {
	Code   string
	Reason Reason
	Detail string
}

func (e *InvalidPromotionError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("promo code %q: %s", e.Code, e.Detail)
	}
	return fmt.Sprintf("promo code %q: %s", e.Code, e.Reason)
}

// IsReason reports whether err is an InvalidPromotionError with the given reason.
func IsReason(err error, reason Reason) bool {
	var perr *InvalidPromotionError
	return errors.As(err, &perr) && perr.Reason == reason
}
