package payment

import (
	"net/url"
	"time"

	"github.com/shopspring/decimal"
)

// Status is the state of a single payment attempt.
type Status string

const (
	StatusInitiated Status = "initiated"
	StatusPending   Status = "pending"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusRefunded  Status = "refunded"
)

type Payment struct {
	ID              uint
	OrderID         uint
	TransactionID   string
	ReferenceNumber *string
	Amount          decimal.Decimal
	Currency        string
	Status          Status
	PaymentMethod   string
	PaymentURL      *string
	GatewayMessage  *string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

type InitiateRequest struct {
	TransactionID string
	Amount        decimal.Decimal
	Currency      string
	Description   string
	Email         string
}

type InitiateResponse struct {
	TransactionID string
	PaymentURL    string
}

// Callback is a parsed gateway notification. Raw keeps every field as
// received for the audit log.
type Callback struct {
	TransactionID   string
	ReferenceNumber string
	GatewayStatus   string
	Message         string
	Digest          string
	Raw             url.Values
}

type InquiryResult struct {
	TransactionID   string
	ReferenceNumber string
	GatewayStatus   string
	Message         string
	Status          Status
}
