package handler

import (
	"github.com/seiixin/PakbetTV-sub001/internal/address"
	"github.com/seiixin/PakbetTV-sub001/internal/order"
	"github.com/seiixin/PakbetTV-sub001/internal/payment"
	"github.com/seiixin/PakbetTV-sub001/internal/promotion"

	"github.com/shopspring/decimal"
)

type checkoutItem struct {
	ProductID uint  `json:"product_id"`
	VariantID *uint `json:"variant_id,omitempty"`
	Quantity  int   `json:"quantity"`
}

type shippingAddress struct {
	RecipientName string  `json:"recipient_name"`
	Phone         string  `json:"phone"`
	Email         string  `json:"email"`
	Address1      string  `json:"address1"`
	Address2      string  `json:"address2"`
	Barangay      string  `json:"barangay"`
	City          string  `json:"city"`
	Province      string  `json:"province"`
	Region        string  `json:"region"`
	Postcode      string  `json:"postcode"`
	Country       string  `json:"country"`
	LegacyAddress *string `json:"legacy_address,omitempty"`
}

func (a shippingAddress) detail() address.Detail {
	return address.Detail{
		RecipientName: a.RecipientName,
		Phone:         a.Phone,
		Email:         a.Email,
		Address1:      a.Address1,
		Address2:      a.Address2,
		Barangay:      a.Barangay,
		City:          a.City,
		Province:      a.Province,
		Region:        a.Region,
		Postcode:      a.Postcode,
		Country:       a.Country,
		LegacyAddress: a.LegacyAddress,
	}
}

type checkoutRequest struct {
	Items         []checkoutItem  `json:"items"`
	Address       shippingAddress `json:"shipping_address"`
	PaymentMethod string          `json:"payment_method"`
	PromoCode     string          `json:"promo_code"`
}

type appliedPromotion struct {
	PromotionID      uint            `json:"promotion_id"`
	Code             string          `json:"code,omitempty"`
	Type             promotion.Type  `json:"type"`
	Discount         decimal.Decimal `json:"discount"`
	ShippingDiscount decimal.Decimal `json:"shipping_discount"`
}

type orderItem struct {
	ProductID   uint            `json:"product_id"`
	VariantID   *uint           `json:"variant_id,omitempty"`
	ProductName string          `json:"product_name"`
	Quantity    int             `json:"quantity"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
}

type orderResponse struct {
	OrderID          uint                `json:"order_id"`
	OrderCode        string              `json:"order_code"`
	Status           order.Status        `json:"status"`
	PaymentStatus    order.PaymentStatus `json:"payment_status"`
	PaymentMethod    string              `json:"payment_method"`
	Subtotal         decimal.Decimal     `json:"subtotal"`
	ProductDiscount  decimal.Decimal     `json:"product_discount"`
	ShippingFee      decimal.Decimal     `json:"shipping_fee"`
	ShippingDiscount decimal.Decimal     `json:"shipping_discount"`
	Total            decimal.Decimal     `json:"total"`
	TrackingNumber   *string             `json:"tracking_number,omitempty"`
	Items            []orderItem         `json:"items"`
}

func toOrderResponse(o *order.Order) orderResponse {
	resp := orderResponse{
		OrderID:          o.ID,
		OrderCode:        o.OrderCode,
		Status:           o.Status,
		PaymentStatus:    o.PaymentStatus,
		PaymentMethod:    o.PaymentMethod,
		Subtotal:         o.Subtotal,
		ProductDiscount:  o.ProductDiscount,
		ShippingFee:      o.ShippingFee,
		ShippingDiscount: o.ShippingDiscount,
		Total:            o.TotalPrice,
		TrackingNumber:   o.TrackingNumber,
		Items:            make([]orderItem, 0, len(o.Items)),
	}
	for _, it := range o.Items {
		resp.Items = append(resp.Items, orderItem{
			ProductID:   it.ProductID,
			VariantID:   it.VariantID,
			ProductName: it.ProductName,
			Quantity:    it.Quantity,
			UnitPrice:   it.UnitPrice,
		})
	}
	return resp
}

type checkoutResponse struct {
	orderResponse
	AppliedPromotions   []appliedPromotion `json:"applied_promotions"`
	PaymentURL          string             `json:"payment_url,omitempty"`
	PaymentError        string             `json:"payment_error,omitempty"`
	PaymentInstructions []string           `json:"payment_instructions"`
	Notice              string             `json:"notice,omitempty"`
}

func toCheckoutResponse(res *order.CreateOrderResult) checkoutResponse {
	instructions := payment.InjectVariables(
		payment.GetInstructions(res.Order.PaymentMethod),
		payment.InstructionVars{
			"amount":     "PHP " + res.Order.TotalPrice.StringFixed(2),
			"order_code": res.Order.OrderCode,
		},
	)
	resp := checkoutResponse{
		orderResponse:       toOrderResponse(res.Order),
		AppliedPromotions:   []appliedPromotion{},
		PaymentURL:          res.PaymentURL,
		PaymentError:        res.PaymentError,
		PaymentInstructions: instructions,
		Notice:              res.Notice,
	}
	if res.Pricing != nil {
		for _, p := range res.Pricing.AppliedPromotions {
			resp.AppliedPromotions = append(resp.AppliedPromotions, appliedPromotion{
				PromotionID:      p.PromotionID,
				Code:             p.Code,
				Type:             p.Type,
				Discount:         p.Discount,
				ShippingDiscount: p.ShippingDiscount,
			})
		}
	}
	return resp
}

type errorResponse struct {
	Error     string `json:"error"`
	Field     string `json:"field,omitempty"`
	Reason    string `json:"reason,omitempty"`
	ProductID uint   `json:"product_id,omitempty"`
	Available *int   `json:"available,omitempty"`
}
