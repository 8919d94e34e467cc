package promotion

import (
	"context"
	"strings"
	"time"

	"github.com/seiixin/PakbetTV-sub001/internal/logger"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Engine prices a cart. Pricing has no side effects; usage is recorded by
// the repository once the order is paid.
type Engine interface {
	Price(ctx context.Context, cart Cart, userID uint, code string) (*PricingResult, error)
}

type engine struct {
	repo Repository
	now  func() time.Time
}

func NewEngine(repo Repository) Engine {
	return &engine{repo: repo, now: time.Now}
}

var hundred = decimal.NewFromInt(100)

func (e *engine) Price(ctx context.Context, cart Cart, userID uint, code string) (*PricingResult, error) {
	log := logger.FromCtx(ctx).With(
		zap.String("layer", "promotion"),
		zap.String("method", "Price"),
		zap.Uint("user_id", userID),
	)

	code = strings.TrimSpace(code)
	now := e.now()

	var candidates []Promotion
	if code != "" {
		p, err := e.resolveCode(ctx, cart, userID, code, now)
		if err != nil {
			log.Info("promo code rejected", zap.String("code", code), zap.Error(err))
			return nil, err
		}
		candidates = []Promotion{*p}
	} else {
		auto, err := e.repo.ListAutoApply(ctx, now)
		if err != nil {
			return nil, err
		}
		for _, p := range auto {
			if cart.Subtotal.LessThan(p.MinOrder) {
				continue
			}
			exhausted, err := e.exhausted(ctx, &p, userID)
			if err != nil {
				return nil, err
			}
			if exhausted {
				log.Debug("skipping exhausted promotion", zap.Uint("promotion_id", p.ID))
				continue
			}
			candidates = append(candidates, p)
		}
	}

	result := apply(cart, candidates)
	log.Debug("cart priced",
		zap.String("product_discount", result.ProductDiscount.StringFixed(2)),
		zap.String("shipping_discount", result.ShippingDiscount.StringFixed(2)),
		zap.Int("applied", len(result.AppliedPromotions)),
	)
	return result, nil
}

func (e *engine) resolveCode(ctx context.Context, cart Cart, userID uint, code string, now time.Time) (*Promotion, error) {
	p, err := e.repo.GetByCode(ctx, code)
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, &InvalidPromotionError{Code: code, Reason: ReasonInvalidCode, Detail: "code does not exist"}
	}
	if !p.Active {
		return nil, &InvalidPromotionError{Code: code, Reason: ReasonNotActive, Detail: "promotion is not active"}
	}
	if now.Before(p.StartsAt) {
		return nil, &InvalidPromotionError{Code: code, Reason: ReasonNotYetActive,
			Detail: "promotion starts on " + p.StartsAt.Format("2006-01-02")}
	}
	if p.EndsAt != nil && now.After(*p.EndsAt) {
		return nil, &InvalidPromotionError{Code: code, Reason: ReasonExpired,
			Detail: "promotion ended on " + p.EndsAt.Format("2006-01-02")}
	}
	if cart.Subtotal.LessThan(p.MinOrder) {
		return nil, &InvalidPromotionError{Code: code, Reason: ReasonMinimumNotMet,
			Detail: "requires a minimum order of " + p.MinOrder.StringFixed(2)}
	}
	exhausted, err := e.exhausted(ctx, p, userID)
	if err != nil {
		return nil, err
	}
	if exhausted {
		return nil, &InvalidPromotionError{Code: code, Reason: ReasonUsageExhausted, Detail: "usage limit reached"}
	}
	return p, nil
}

// exhausted checks the usage table, not used_count.
func (e *engine) exhausted(ctx context.Context, p *Promotion, userID uint) (bool, error) {
	if p.UsageLimit == nil && p.PerUserLimit == nil {
		return false, nil
	}
	total, byUser, err := e.repo.CountUsages(ctx, p.ID, userID)
	if err != nil {
		return false, err
	}
	if p.UsageLimit != nil && total >= *p.UsageLimit {
		return true, nil
	}
	if p.PerUserLimit != nil && byUser >= *p.PerUserLimit {
		return true, nil
	}
	return false, nil
}

func apply(cart Cart, candidates []Promotion) *PricingResult {
	var (
		productDiscount = decimal.Zero
		bestShipping    = decimal.Zero
		shippingPromo   *AppliedPromotion
		applied         []AppliedPromotion
	)

	for _, p := range candidates {
		switch p.Type {
		case TypeProductDiscount:
			base := eligibleBase(cart, &p)
			d := discountOf(&p, base)
			if d.IsZero() {
				continue
			}
			productDiscount = productDiscount.Add(d)
			applied = append(applied, AppliedPromotion{
				PromotionID: p.ID,
				Code:        p.DisplayCode(),
				Type:        p.Type,
				Discount:    d,
			})
		case TypeShippingDiscount, TypeFreeShipping:
			var d decimal.Decimal
			if p.Type == TypeFreeShipping {
				d = cart.ShippingFee
			} else {
				d = discountOf(&p, cart.ShippingFee)
			}
			if d.GreaterThan(bestShipping) {
				bestShipping = d
				shippingPromo = &AppliedPromotion{
					PromotionID:      p.ID,
					Code:             p.DisplayCode(),
					Type:             p.Type,
					ShippingDiscount: d,
				}
			}
		}
	}

	// Shipping reductions never stack; only the largest one is kept.
	if shippingPromo != nil {
		applied = append(applied, *shippingPromo)
	}

	productDiscount = decimal.Min(productDiscount, cart.Subtotal).Round(2)
	bestShipping = decimal.Min(bestShipping, cart.ShippingFee).Round(2)

	finalSubtotal := clampZero(cart.Subtotal.Sub(productDiscount))
	finalShipping := clampZero(cart.ShippingFee.Sub(bestShipping))

	return &PricingResult{
		Subtotal:          cart.Subtotal,
		ShippingFee:       cart.ShippingFee,
		ProductDiscount:   productDiscount,
		ShippingDiscount:  bestShipping,
		FinalSubtotal:     finalSubtotal,
		FinalShipping:     finalShipping,
		FinalTotal:        finalSubtotal.Add(finalShipping).Round(2),
		AppliedPromotions: applied,
	}
}

func eligibleBase(cart Cart, p *Promotion) decimal.Decimal {
	if p.Target == TargetAll || p.Target == "" {
		return cart.Subtotal
	}
	ids := make(map[int64]struct{}, len(p.TargetIDs))
	for _, id := range p.TargetIDs {
		ids[id] = struct{}{}
	}

	base := decimal.Zero
	for _, item := range cart.Items {
		var key int64
		switch p.Target {
		case TargetProduct:
			key = int64(item.ProductID)
		case TargetCategory:
			if item.CategoryID == nil {
				continue
			}
			key = int64(*item.CategoryID)
		default:
			continue
		}
		if _, ok := ids[key]; ok {
			base = base.Add(item.LineTotal())
		}
	}
	return base
}

func discountOf(p *Promotion, base decimal.Decimal) decimal.Decimal {
	if !base.IsPositive() {
		return decimal.Zero
	}
	var d decimal.Decimal
	if p.Kind == KindPercentage {
		d = base.Mul(p.Value).Div(hundred)
		if p.MaxDiscount != nil && d.GreaterThan(*p.MaxDiscount) {
			d = *p.MaxDiscount
		}
	} else {
		d = p.Value
	}
	return clampZero(decimal.Min(d, base)).Round(2)
}

func clampZero(d decimal.Decimal) decimal.Decimal {
	if d.IsNegative() {
		return decimal.Zero
	}
	return d
}
