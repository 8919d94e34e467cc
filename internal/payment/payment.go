package payment

import (
	"context"
	"net/url"
)

type Gateway interface {
	Name() string
	Initiate(ctx context.Context, req InitiateRequest) (*InitiateResponse, error)
	ParseCallback(values url.Values) (*Callback, error)
	VerifyCallback(cb *Callback) bool
	Inquire(ctx context.Context, transactionID string) (*InquiryResult, error)
	MapStatus(gatewayStatus string) Status
	// AckToken is the body the gateway expects after a processed callback.
	AckToken() string
}
