package promotion

import (
	"time"

	"github.com/shopspring/decimal"
)

type Type string

const (
	TypeProductDiscount  Type = "product_discount"
	TypeShippingDiscount Type = "shipping_discount"
	TypeFreeShipping     Type = "free_shipping"
)

type DiscountKind string

const (
	KindPercentage DiscountKind = "percentage"
	KindFixed      DiscountKind = "fixed"
)

type Target string

const (
	TargetAll      Target = "all"
	TargetProduct  Target = "product"
	TargetCategory Target = "category"
)

type Promotion struct {
	ID           uint
	Code         *string
	Name         string
	Type         Type
	Kind         DiscountKind
	Value        decimal.Decimal
	MaxDiscount  *decimal.Decimal
	MinOrder     decimal.Decimal
	Target       Target
	TargetIDs    []int64
	StartsAt     time.Time
	EndsAt       *time.Time
	UsageLimit   *int
	PerUserLimit *int
	UsedCount    int
	Active       bool
	Priority     int
}

func (p *Promotion) DisplayCode() string {
	if p.Code == nil {
		return p.Name
	}
	return *p.Code
}

// CartItem is a priced line as seen by the engine.
type CartItem struct {
	ProductID  uint
	CategoryID *uint
	UnitPrice  decimal.Decimal
	Quantity   int
}

func (i CartItem) LineTotal() decimal.Decimal {
	return i.UnitPrice.Mul(decimal.NewFromInt(int64(i.Quantity)))
}

type Cart struct {
	Items       []CartItem
	Subtotal    decimal.Decimal
	ShippingFee decimal.Decimal
}

type AppliedPromotion struct {
	PromotionID      uint
	Code             string
	Type             Type
	Discount         decimal.Decimal
	ShippingDiscount decimal.Decimal
}

type PricingResult struct {
	Subtotal          decimal.Decimal
	ShippingFee       decimal.Decimal
	ProductDiscount   decimal.Decimal
	ShippingDiscount  decimal.Decimal
	FinalSubtotal     decimal.Decimal
	FinalShipping     decimal.Decimal
	FinalTotal        decimal.Decimal
	AppliedPromotions []AppliedPromotion
}
