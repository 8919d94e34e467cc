package order

import (
	"time"

	"github.com/seiixin/PakbetTV-sub001/internal/address"
	"github.com/seiixin/PakbetTV-sub001/internal/payment"
	"github.com/seiixin/PakbetTV-sub001/internal/promotion"

	"github.com/shopspring/decimal"
)

type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusDelivered  Status = "delivered"
	StatusCompleted  Status = "completed"
	StatusCancelled  Status = "cancelled"
)

type PaymentStatus string

const (
	PaymentPending   PaymentStatus = "pending"
	PaymentCompleted PaymentStatus = "completed"
	PaymentFailed    PaymentStatus = "failed"
	PaymentRefunded  PaymentStatus = "refunded"
)

type Order struct {
	ID               uint
	OrderCode        string
	UserID           uint
	ShippingDetailID uint
	PaymentMethod    string
	Subtotal         decimal.Decimal
	ProductDiscount  decimal.Decimal
	ShippingFee      decimal.Decimal
	ShippingDiscount decimal.Decimal
	TotalPrice       decimal.Decimal
	Status           Status
	PaymentStatus    PaymentStatus
	TrackingNumber   *string
	StockReleased    bool
	Disputed         bool
	DeliveredAt      *time.Time
	CompletionDueAt  *time.Time
	CreatedAt        time.Time
	UpdatedAt        time.Time
	Items            []Item
}

func (o *Order) IsCOD() bool {
	return o.PaymentMethod == payment.MethodCOD
}

// Item holds the unit price frozen at checkout.
type Item struct {
	ID          uint
	OrderID     uint
	ProductID   uint
	VariantID   *uint
	ProductName string
	Quantity    int
	UnitPrice   decimal.Decimal
}

type ItemInput struct {
	ProductID uint
	VariantID *uint
	Quantity  int
}

type CreateOrderInput struct {
	UserID        uint
	Items         []ItemInput
	Address       address.Detail
	PaymentMethod string
	PromoCode     string
}

type CreateOrderResult struct {
	Order   *Order
	Pricing *promotion.PricingResult

	// PaymentURL is set for online methods when the gateway accepted the
	// request. PaymentError is set instead when it did not; the order stays
	// pending and payment can be re-initiated.
	PaymentURL   string
	PaymentError string

	// Notice explains why a supplied promo code was not applied.
	Notice string
}

// PaymentResult is a gateway outcome for one transaction, from a callback or
// an inquiry.
type PaymentResult struct {
	TransactionID   string
	ReferenceNumber string
	GatewayStatus   string
	Message         string
}

type Outcome string

const (
	OutcomeApplied   Outcome = "applied"
	OutcomeDuplicate Outcome = "duplicate"
	OutcomeStale     Outcome = "stale"
	OutcomeIgnored   Outcome = "ignored"

	// OutcomePaidAfterCancel is a successful payment for an order that had
	// already been cancelled. The money needs a manual refund.
	OutcomePaidAfterCancel Outcome = "paid_after_cancel"
)

type PaymentOutcome struct {
	OrderID uint
	Status  payment.Status
	Outcome Outcome
}
