package order

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/seiixin/PakbetTV-sub001/internal/address"
	"github.com/seiixin/PakbetTV-sub001/internal/db"
	"github.com/seiixin/PakbetTV-sub001/internal/inventory"
	"github.com/seiixin/PakbetTV-sub001/internal/logger"
	"github.com/seiixin/PakbetTV-sub001/internal/metrics"
	"github.com/seiixin/PakbetTV-sub001/internal/notification"
	"github.com/seiixin/PakbetTV-sub001/internal/payment"
	"github.com/seiixin/PakbetTV-sub001/internal/promotion"
	"github.com/seiixin/PakbetTV-sub001/internal/shipping"
	"github.com/seiixin/PakbetTV-sub001/internal/utils"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const maxCartLines = 50

var tracer = otel.Tracer("github.com/seiixin/PakbetTV-sub001/internal/order")

type Service interface {
	CreateOrder(ctx context.Context, in CreateOrderInput) (*CreateOrderResult, error)
	GetOrder(ctx context.Context, orderID, userID uint, isAdmin bool) (*Order, error)
	InitiatePayment(ctx context.Context, orderID, userID uint) (*payment.InitiateResponse, error)
	ApplyPaymentResult(ctx context.Context, res PaymentResult) (*PaymentOutcome, error)
	InquirePayment(ctx context.Context, transactionID string, apply bool) (*payment.InquiryResult, *PaymentOutcome, error)

	ApplyCarrierEvent(ctx context.Context, evt shipping.WebhookEvent) (Outcome, error)
	BookShipment(ctx context.Context, orderID uint) (*shipping.Shipment, error)
	CancelShipment(ctx context.Context, trackingNumber string) error
	TrackShipment(ctx context.Context, trackingNumber string) ([]shipping.TrackingEvent, error)

	ListExpiredUnpaid(ctx context.Context, cutoff time.Time, limit int) ([]uint, error)
	CancelUnpaid(ctx context.Context, orderID uint, reason string) (bool, error)
	ListDueForCompletion(ctx context.Context, limit int) ([]uint, error)
	CompleteDelivered(ctx context.Context, orderID uint) (bool, error)

	// Wait blocks until background side effects (notifications, shipment
	// booking) started by earlier calls have finished.
	Wait()
}

type Dependencies struct {
	TxManager db.TxManager
	DB        db.Querier

	Orders     Repository
	Addresses  address.Repository
	Payments   payment.Repository
	Shipments  shipping.Repository
	Promotions promotion.Repository

	Ledger   inventory.Ledger
	Pricing  promotion.Engine
	Gateway  payment.Gateway
	Carrier  shipping.Carrier
	Notifier notification.Notifier
	Metrics  *metrics.Metrics

	MetroShippingFee      decimal.Decimal
	ProvincialShippingFee decimal.Decimal
	CompletionGrace       time.Duration
	Currency              string
}

type service struct {
	tx         db.TxManager
	db         db.Querier
	repo       Repository
	addresses  address.Repository
	payments   payment.Repository
	shipments  shipping.Repository
	promotions promotion.Repository
	ledger     inventory.Ledger
	pricing    promotion.Engine
	gateway    payment.Gateway
	carrier    shipping.Carrier
	notifier   notification.Notifier
	metrics    *metrics.Metrics

	metroFee      decimal.Decimal
	provincialFee decimal.Decimal
	grace         time.Duration
	currency      string

	now func() time.Time
	wg  sync.WaitGroup
}

func NewService(d Dependencies) Service {
	currency := d.Currency
	if currency == "" {
		currency = "PHP"
	}
	notifier := d.Notifier
	if notifier == nil {
		notifier = notification.LogNotifier{}
	}
	return &service{
		tx:            d.TxManager,
		db:            d.DB,
		repo:          d.Orders,
		addresses:     d.Addresses,
		payments:      d.Payments,
		shipments:     d.Shipments,
		promotions:    d.Promotions,
		ledger:        d.Ledger,
		pricing:       d.Pricing,
		gateway:       d.Gateway,
		carrier:       d.Carrier,
		notifier:      notifier,
		metrics:       d.Metrics,
		metroFee:      d.MetroShippingFee,
		provincialFee: d.ProvincialShippingFee,
		grace:         d.CompletionGrace,
		currency:      currency,
		now:           time.Now,
	}
}

func (s *service) Wait() {
	s.wg.Wait()
}

// async runs fn after the caller's transaction has committed. It outlives
// the request context.
func (s *service) async(ctx context.Context, name string, fn func(ctx context.Context) error) {
	ctx = context.WithoutCancel(ctx)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := fn(ctx); err != nil {
			logger.FromCtx(ctx).Warn("background task failed", zap.String("task", name), zap.Error(err))
		}
	}()
}

func (s *service) notify(ctx context.Context, o *Order, typ notification.EventType, reason string) {
	evt := notification.Event{
		Type:       typ,
		OrderID:    o.ID,
		OrderCode:  o.OrderCode,
		UserID:     o.UserID,
		Total:      o.TotalPrice,
		Reason:     reason,
		OccurredAt: s.now().UTC(),
	}
	if o.TrackingNumber != nil {
		evt.TrackingNumber = *o.TrackingNumber
	}
	s.async(ctx, "notify "+string(typ), func(ctx context.Context) error {
		return s.notifier.Publish(ctx, evt)
	})
}

func spanError(span trace.Span, err error) error {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}

// normalizeLines merges duplicate (product, variant) lines and validates
// quantities.
func normalizeLines(items []ItemInput) ([]inventory.Line, error) {
	if len(items) == 0 {
		return nil, ErrEmptyCart
	}

	type key struct{ product, variant uint }
	index := make(map[key]int, len(items))
	lines := make([]inventory.Line, 0, len(items))

	for i, it := range items {
		if it.ProductID == 0 {
			return nil, &ValidationError{Field: fmt.Sprintf("items[%d].product_id", i), Message: "is required"}
		}
		if it.Quantity < 1 {
			return nil, &ValidationError{Field: fmt.Sprintf("items[%d].quantity", i), Message: "must be at least 1"}
		}

		k := key{product: it.ProductID}
		if it.VariantID != nil {
			k.variant = *it.VariantID
		}
		if pos, ok := index[k]; ok {
			lines[pos].Quantity += it.Quantity
			continue
		}
		index[k] = len(lines)
		lines = append(lines, inventory.Line{ProductID: it.ProductID, VariantID: it.VariantID, Quantity: it.Quantity})
	}

	if len(lines) > maxCartLines {
		return nil, &ValidationError{Field: "items", Message: fmt.Sprintf("at most %d distinct items per order", maxCartLines)}
	}
	return lines, nil
}

func validateCheckout(in CreateOrderInput) error {
	if in.UserID == 0 {
		return &ValidationError{Field: "user_id", Message: "is required"}
	}
	if !payment.IsSupported(in.PaymentMethod) {
		return &ValidationError{Field: "payment_method", Message: fmt.Sprintf("unsupported method %q", in.PaymentMethod)}
	}
	if strings.TrimSpace(in.Address.RecipientName) == "" {
		return &ValidationError{Field: "address.recipient_name", Message: "is required"}
	}
	if strings.TrimSpace(in.Address.Phone) == "" {
		return &ValidationError{Field: "address.phone", Message: "is required"}
	}
	return nil
}

func toCart(res *inventory.Reservation, shippingFee decimal.Decimal) promotion.Cart {
	cart := promotion.Cart{
		Items:       make([]promotion.CartItem, 0, len(res.Lines)),
		Subtotal:    res.Subtotal(),
		ShippingFee: shippingFee,
	}
	for _, l := range res.Lines {
		cart.Items = append(cart.Items, promotion.CartItem{
			ProductID:  l.ProductID,
			CategoryID: l.CategoryID,
			UnitPrice:  l.UnitPrice,
			Quantity:   l.Quantity,
		})
	}
	return cart
}

func (s *service) CreateOrder(ctx context.Context, in CreateOrderInput) (*CreateOrderResult, error) {
	ctx, span := tracer.Start(ctx, "order.CreateOrder", trace.WithAttributes(
		attribute.Int("user.id", int(in.UserID)),
		attribute.String("payment.method", in.PaymentMethod),
	))
	defer span.End()

	log := logger.FromCtx(ctx).With(
		zap.String("layer", "service"),
		zap.String("method", "CreateOrder"),
		zap.Uint("user_id", in.UserID),
	)

	lines, err := normalizeLines(in.Items)
	if err != nil {
		return nil, spanError(span, err)
	}
	if err := validateCheckout(in); err != nil {
		return nil, spanError(span, err)
	}

	resolved, confidence := address.Resolve(&in.Address)
	if confidence == address.ConfidenceNone || !resolved.HasStructuredFields() {
		return nil, spanError(span, &ValidationError{Field: "address", Message: "street and city are required"})
	}
	fee := s.provincialFee
	if address.IsMetroManila(&resolved) {
		fee = s.metroFee
	}

	detail := in.Address
	detail.UserID = in.UserID
	now := s.now()

	var (
		order   *Order
		pricing *promotion.PricingResult
		pay     *payment.Payment
		notice  string
	)

	err = s.tx.WithTx(ctx, func(q db.Querier) error {
		reservation, err := s.ledger.Reserve(ctx, q, lines)
		if err != nil {
			return err
		}

		cart := toCart(reservation, fee)
		pricing, err = s.pricing.Price(ctx, cart, in.UserID, in.PromoCode)
		if promotion.IsReason(err, promotion.ReasonMinimumNotMet) {
			notice = err.Error()
			pricing, err = s.pricing.Price(ctx, cart, in.UserID, "")
		}
		if err != nil {
			return err
		}

		if err := s.addresses.Create(ctx, q, &detail); err != nil {
			return err
		}

		order = &Order{
			OrderCode:        utils.GenerateOrderCode(now),
			UserID:           in.UserID,
			ShippingDetailID: detail.ID,
			PaymentMethod:    in.PaymentMethod,
			Subtotal:         pricing.Subtotal,
			ProductDiscount:  pricing.ProductDiscount,
			ShippingFee:      pricing.ShippingFee,
			ShippingDiscount: pricing.ShippingDiscount,
			TotalPrice:       pricing.FinalTotal,
			Status:           StatusPending,
			PaymentStatus:    PaymentPending,
		}
		if err := s.repo.InsertOrder(ctx, q, order); err != nil {
			return err
		}

		order.Items = make([]Item, 0, len(reservation.Lines))
		for _, l := range reservation.Lines {
			order.Items = append(order.Items, Item{
				ProductID:   l.ProductID,
				VariantID:   l.VariantID,
				ProductName: l.Name,
				Quantity:    l.Quantity,
				UnitPrice:   l.UnitPrice,
			})
		}
		if err := s.repo.InsertItems(ctx, q, order.ID, order.Items); err != nil {
			return err
		}

		if err := s.promotions.SaveOrderPromotions(ctx, q, order.ID, pricing.AppliedPromotions); err != nil {
			return err
		}
		if _, err := s.shipments.CreatePlaceholder(ctx, q, order.ID, s.carrier.Name()); err != nil {
			return err
		}

		pay = &payment.Payment{
			OrderID:       order.ID,
			TransactionID: utils.TransactionID(order.ID, now),
			Amount:        order.TotalPrice,
			Currency:      s.currency,
			Status:        payment.StatusInitiated,
			PaymentMethod: order.PaymentMethod,
		}
		if err := s.payments.Create(ctx, q, pay); err != nil {
			return err
		}

		return s.repo.AddHistory(ctx, q, order.ID, "", StatusPending, "order created")
	})
	if err != nil {
		var stockErr *inventory.InsufficientStockError
		var promoErr *promotion.InvalidPromotionError
		if errors.As(err, &stockErr) || errors.As(err, &promoErr) {
			log.Info("checkout rejected", zap.Error(err))
		} else {
			log.Error("checkout failed", zap.Error(err))
		}
		return nil, spanError(span, err)
	}

	span.SetAttributes(attribute.Int("order.id", int(order.ID)))
	s.metrics.OrderCreated(order.PaymentMethod)
	log.Info("order created",
		zap.Uint("order_id", order.ID),
		zap.String("order_code", order.OrderCode),
		zap.String("total", order.TotalPrice.StringFixed(2)),
	)

	result := &CreateOrderResult{Order: order, Pricing: pricing, Notice: notice}

	if payment.IsOnline(order.PaymentMethod) {
		resp, err := s.startPayment(ctx, order, detail.Email, pay)
		if err != nil {
			log.Warn("payment initiation failed, order left pending", zap.Uint("order_id", order.ID), zap.Error(err))
			result.PaymentError = "payment could not be started, please retry"
		} else {
			result.PaymentURL = resp.PaymentURL
		}
		return result, nil
	}

	orderID := order.ID
	s.async(ctx, "book shipment", func(ctx context.Context) error {
		_, err := s.BookShipment(ctx, orderID)
		return err
	})
	return result, nil
}

// startPayment asks the gateway for a redirect URL. The placeholder attempt
// created at checkout is reused until it has been sent to the gateway.
func (s *service) startPayment(ctx context.Context, o *Order, email string, latest *payment.Payment) (*payment.InitiateResponse, error) {
	reuse := latest != nil && latest.Status == payment.StatusInitiated && latest.PaymentURL == nil

	txnID := utils.TransactionID(o.ID, s.now())
	if reuse {
		txnID = latest.TransactionID
	}

	resp, err := s.gateway.Initiate(ctx, payment.InitiateRequest{
		TransactionID: txnID,
		Amount:        o.TotalPrice,
		Currency:      s.currency,
		Description:   "Order " + o.OrderCode,
		Email:         email,
	})
	if err != nil {
		return nil, err
	}

	if reuse {
		if err := s.payments.MarkPending(ctx, s.db, latest.ID, resp.PaymentURL); err != nil {
			return nil, err
		}
		return resp, nil
	}

	paymentURL := resp.PaymentURL
	err = s.payments.Create(ctx, s.db, &payment.Payment{
		OrderID:       o.ID,
		TransactionID: txnID,
		Amount:        o.TotalPrice,
		Currency:      s.currency,
		Status:        payment.StatusPending,
		PaymentMethod: o.PaymentMethod,
		PaymentURL:    &paymentURL,
	})
	if err != nil {
		return nil, err
	}
	return resp, nil
}

func (s *service) GetOrder(ctx context.Context, orderID, userID uint, isAdmin bool) (*Order, error) {
	o, err := s.repo.GetByID(ctx, s.db, orderID)
	if err != nil {
		return nil, err
	}
	if !isAdmin && o.UserID != userID {
		return nil, ErrForbidden
	}
	o.Items, err = s.repo.GetItems(ctx, s.db, orderID)
	if err != nil {
		return nil, err
	}
	return o, nil
}

func (s *service) InitiatePayment(ctx context.Context, orderID, userID uint) (*payment.InitiateResponse, error) {
	log := logger.FromCtx(ctx).With(
		zap.String("layer", "service"),
		zap.String("method", "InitiatePayment"),
		zap.Uint("order_id", orderID),
	)

	o, err := s.repo.GetByID(ctx, s.db, orderID)
	if err != nil {
		return nil, err
	}
	if o.UserID != userID {
		return nil, ErrForbidden
	}
	if o.Status != StatusPending || o.PaymentStatus != PaymentPending || !payment.IsOnline(o.PaymentMethod) {
		return nil, ErrNotPayable
	}

	detail, err := s.addresses.GetByID(ctx, s.db, o.ShippingDetailID)
	if err != nil {
		return nil, err
	}
	latest, err := s.payments.GetLatestByOrder(ctx, s.db, orderID)
	if err != nil {
		return nil, err
	}

	resp, err := s.startPayment(ctx, o, detail.Email, latest)
	if err != nil {
		log.Warn("payment initiation failed", zap.Error(err))
		return nil, err
	}
	log.Info("payment initiated", zap.String("txn_id", resp.TransactionID))
	return resp, nil
}

// ApplyPaymentResult reconciles one gateway verdict with the order. Repeating
// the same verdict is a no-op.
func (s *service) ApplyPaymentResult(ctx context.Context, res PaymentResult) (*PaymentOutcome, error) {
	status := s.gateway.MapStatus(res.GatewayStatus)

	ctx, span := tracer.Start(ctx, "order.ApplyPaymentResult", trace.WithAttributes(
		attribute.String("payment.txn_id", res.TransactionID),
		attribute.String("payment.status", string(status)),
	))
	defer span.End()

	log := logger.FromCtx(ctx).With(
		zap.String("layer", "service"),
		zap.String("method", "ApplyPaymentResult"),
		zap.String("txn_id", res.TransactionID),
		zap.String("gateway_status", res.GatewayStatus),
	)

	out := &PaymentOutcome{Status: status, Outcome: OutcomeApplied}
	var (
		order  *Order
		event  notification.EventType
		reason string
		book   bool
	)

	err := s.tx.WithTx(ctx, func(q db.Querier) error {
		p, err := s.payments.GetByTransactionID(ctx, q, res.TransactionID)
		if err != nil {
			return err
		}
		if p == nil {
			return ErrPaymentNotFound
		}

		order, err = s.repo.GetForUpdate(ctx, q, p.OrderID)
		if err != nil {
			return err
		}
		out.OrderID = order.ID

		if status == payment.StatusPending {
			if p.Status != payment.StatusInitiated {
				out.Outcome = OutcomeDuplicate
				return nil
			}
			_, err := s.payments.UpdateStatus(ctx, q, p.ID, status, res.ReferenceNumber, res.Message)
			return err
		}

		changed, err := s.payments.UpdateStatus(ctx, q, p.ID, status, res.ReferenceNumber, res.Message)
		if err != nil {
			return err
		}
		if !changed {
			out.Outcome = OutcomeDuplicate
			return nil
		}

		switch status {
		case payment.StatusCompleted:
			if _, err := s.repo.SetPaymentStatus(ctx, q, order.ID, []PaymentStatus{PaymentPending, PaymentFailed}, PaymentCompleted); err != nil {
				return err
			}
			moved, err := s.repo.Transition(ctx, q, order.ID, []Status{StatusPending}, StatusProcessing, "payment completed")
			if err != nil {
				return err
			}
			if !moved {
				if order.Status == StatusCancelled {
					// stock is already back on the shelf; an operator has to refund
					out.Outcome = OutcomePaidAfterCancel
					log.Error("payment completed for cancelled order, refund required",
						zap.Uint("order_id", order.ID),
					)
					return nil
				}
				log.Warn("payment completed for order that is no longer pending",
					zap.Uint("order_id", order.ID),
					zap.String("order_status", string(order.Status)),
				)
				return nil
			}
			used, err := s.promotions.RecordUsage(ctx, q, order.ID, order.UserID)
			if err != nil {
				return err
			}
			if used > 0 {
				log.Info("promotion usage recorded", zap.Int("promotions", used))
			}
			event, book = notification.EventOrderPaid, true

		case payment.StatusFailed:
			if p.Status == payment.StatusCompleted {
				// void or chargeback of money already collected
				return s.reversePayment(ctx, q, order, "payment reversed", PaymentFailed, &event, &reason)
			}
			latest, err := s.payments.GetLatestByOrder(ctx, q, order.ID)
			if err != nil {
				return err
			}
			if latest != nil && latest.ID != p.ID {
				log.Info("superseded payment attempt failed", zap.String("latest_txn_id", latest.TransactionID))
				return nil
			}
			if _, err := s.repo.SetPaymentStatus(ctx, q, order.ID, []PaymentStatus{PaymentPending}, PaymentFailed); err != nil {
				return err
			}
			cancelled, err := s.repo.Transition(ctx, q, order.ID, []Status{StatusPending}, StatusCancelled, "payment failed")
			if err != nil {
				return err
			}
			if cancelled {
				if _, err := s.ledger.Release(ctx, q, order.ID); err != nil {
					return err
				}
				event, reason = notification.EventOrderCancelled, "payment failed"
			}

		case payment.StatusRefunded:
			return s.reversePayment(ctx, q, order, "payment refunded", PaymentRefunded, &event, &reason)
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrPaymentNotFound) {
			// the id is embedded in the transaction, which helps when the
			// payment row was never written
			if hint, ok := utils.OrderIDFromTransaction(res.TransactionID); ok {
				log = log.With(zap.Uint("order_id_hint", hint))
			}
			log.Warn("payment result for unknown transaction")
		} else {
			log.Error("failed to apply payment result", zap.Error(err))
		}
		s.metrics.PaymentResult(string(status), "error")
		return nil, spanError(span, err)
	}

	s.metrics.PaymentResult(string(status), string(out.Outcome))
	log.Info("payment result applied",
		zap.Uint("order_id", out.OrderID),
		zap.String("status", string(status)),
		zap.String("outcome", string(out.Outcome)),
	)

	if event != "" {
		s.notify(ctx, order, event, reason)
	}
	if book && !order.IsCOD() {
		orderID := order.ID
		s.async(ctx, "book shipment", func(ctx context.Context) error {
			_, err := s.BookShipment(ctx, orderID)
			return err
		})
	}
	return out, nil
}

// reversePayment takes back a payment that may already have completed. The
// order is cancelled and its stock released only while it has not shipped
// past processing.
func (s *service) reversePayment(ctx context.Context, q db.Querier, o *Order, why string, to PaymentStatus, event *notification.EventType, reason *string) error {
	if _, err := s.repo.SetPaymentStatus(ctx, q, o.ID, []PaymentStatus{PaymentPending, PaymentCompleted}, to); err != nil {
		return err
	}
	cancelled, err := s.repo.Transition(ctx, q, o.ID, []Status{StatusPending, StatusProcessing}, StatusCancelled, why)
	if err != nil {
		return err
	}
	if !cancelled {
		logger.FromCtx(ctx).Warn("payment reversed after fulfilment started",
			zap.String("layer", "service"),
			zap.Uint("order_id", o.ID),
			zap.String("order_status", string(o.Status)),
			zap.String("reason", why),
		)
		return nil
	}
	if _, err := s.ledger.Release(ctx, q, o.ID); err != nil {
		return err
	}
	*event, *reason = notification.EventOrderCancelled, why
	return nil
}

func (s *service) InquirePayment(ctx context.Context, transactionID string, apply bool) (*payment.InquiryResult, *PaymentOutcome, error) {
	result, err := s.gateway.Inquire(ctx, transactionID)
	if err != nil {
		return nil, nil, err
	}
	if !apply {
		return result, nil, nil
	}

	out, err := s.ApplyPaymentResult(ctx, PaymentResult{
		TransactionID:   transactionID,
		ReferenceNumber: result.ReferenceNumber,
		GatewayStatus:   result.GatewayStatus,
		Message:         result.Message,
	})
	if err != nil {
		return result, nil, err
	}
	return result, out, nil
}

// ApplyCarrierEvent records a carrier notification and moves the shipment
// and order forward. Unknown tracking numbers return ErrShipmentNotFound;
// repeated events are reported as duplicates.
func (s *service) ApplyCarrierEvent(ctx context.Context, evt shipping.WebhookEvent) (Outcome, error) {
	ctx, span := tracer.Start(ctx, "order.ApplyCarrierEvent", trace.WithAttributes(
		attribute.String("shipment.tracking_number", evt.TrackingNumber),
		attribute.String("shipment.event", string(evt.EventType)),
	))
	defer span.End()

	log := logger.FromCtx(ctx).With(
		zap.String("layer", "service"),
		zap.String("method", "ApplyCarrierEvent"),
		zap.String("tracking_number", evt.TrackingNumber),
		zap.String("event", string(evt.EventType)),
	)

	outcome := OutcomeApplied
	var (
		order  *Order
		event  notification.EventType
		reason string
	)

	err := s.tx.WithTx(ctx, func(q db.Querier) error {
		sh, err := s.shipments.GetByTracking(ctx, q, evt.TrackingNumber)
		if err != nil {
			return err
		}
		if sh == nil {
			return ErrShipmentNotFound
		}

		inserted, err := s.shipments.InsertEvent(ctx, q, sh.ID, evt)
		if err != nil {
			return err
		}
		if !inserted {
			outcome = OutcomeDuplicate
			return nil
		}

		order, err = s.repo.GetForUpdate(ctx, q, sh.OrderID)
		if err != nil {
			return err
		}

		if next, ok := evt.EventType.ShipmentStatus(); ok {
			if !sh.Status.CanAdvance(next) {
				outcome = OutcomeStale
				log.Info("event recorded without status change", zap.String("shipment_status", string(sh.Status)))
				return nil
			}
			if err := s.shipments.UpdateStatus(ctx, q, sh.ID, next, evt.OccurredAt); err != nil {
				return err
			}
		}

		switch evt.EventType {
		case shipping.EventDelivered:
			moved, err := s.repo.MarkDelivered(ctx, q, order.ID, evt.OccurredAt, evt.OccurredAt.Add(s.grace))
			if err != nil {
				return err
			}
			if moved {
				event = notification.EventOrderDelivered
			}

		case shipping.EventCancelled, shipping.EventReturned:
			reason = "carrier reported " + string(evt.EventType)
			cancelled, err := s.repo.Transition(ctx, q, order.ID, []Status{StatusPending, StatusProcessing}, StatusCancelled, reason)
			if err != nil {
				return err
			}
			if cancelled {
				if _, err := s.ledger.Release(ctx, q, order.ID); err != nil {
					return err
				}
				event = notification.EventOrderCancelled
			}

		case shipping.EventCODCollected:
			if !order.IsCOD() {
				outcome = OutcomeIgnored
				log.Warn("cash collection reported for prepaid order", zap.Uint("order_id", order.ID))
				return nil
			}
			return s.collectCOD(ctx, q, order)
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrShipmentNotFound) {
			log.Warn("carrier event for unknown tracking number")
			s.metrics.CarrierEvent(string(evt.EventType), "unknown_shipment")
		} else {
			log.Error("failed to apply carrier event", zap.Error(err))
			s.metrics.CarrierEvent(string(evt.EventType), "error")
		}
		return "", spanError(span, err)
	}

	s.metrics.CarrierEvent(string(evt.EventType), string(outcome))
	log.Info("carrier event processed", zap.String("outcome", string(outcome)))

	if event != "" {
		order.TrackingNumber = &evt.TrackingNumber
		s.notify(ctx, order, event, reason)
	}
	return outcome, nil
}

// collectCOD settles a cash-on-delivery order once the rider has collected.
func (s *service) collectCOD(ctx context.Context, q db.Querier, o *Order) error {
	changed, err := s.repo.SetPaymentStatus(ctx, q, o.ID, []PaymentStatus{PaymentPending}, PaymentCompleted)
	if err != nil || !changed {
		return err
	}

	latest, err := s.payments.GetLatestByOrder(ctx, q, o.ID)
	if err != nil {
		return err
	}
	if latest != nil {
		if _, err := s.payments.UpdateStatus(ctx, q, latest.ID, payment.StatusCompleted, "", "collected on delivery"); err != nil {
			return err
		}
	}

	if _, err := s.repo.Transition(ctx, q, o.ID, []Status{StatusPending}, StatusProcessing, "cash on delivery collected"); err != nil {
		return err
	}
	_, err = s.promotions.RecordUsage(ctx, q, o.ID, o.UserID)
	return err
}

// BookShipment registers the parcel with the carrier. Booking an order that
// already has a tracking number returns the existing shipment.
func (s *service) BookShipment(ctx context.Context, orderID uint) (*shipping.Shipment, error) {
	log := logger.FromCtx(ctx).With(
		zap.String("layer", "service"),
		zap.String("method", "BookShipment"),
		zap.Uint("order_id", orderID),
	)

	o, err := s.repo.GetByID(ctx, s.db, orderID)
	if err != nil {
		return nil, err
	}
	sh, err := s.shipments.GetByOrder(ctx, s.db, orderID)
	if err != nil {
		return nil, err
	}
	if sh == nil {
		return nil, ErrShipmentNotFound
	}
	if sh.TrackingNumber != nil {
		return sh, nil
	}
	if o.Status == StatusCancelled || (!o.IsCOD() && o.PaymentStatus != PaymentCompleted) {
		return nil, ErrNotShippable
	}

	detail, err := s.addresses.GetByID(ctx, s.db, o.ShippingDetailID)
	if err != nil {
		return nil, err
	}
	items, err := s.repo.GetItems(ctx, s.db, orderID)
	if err != nil {
		return nil, err
	}
	count := 0
	for _, it := range items {
		count += it.Quantity
	}

	req := shipping.ShipmentRequest{
		OrderID:     o.ID,
		OrderCode:   o.OrderCode,
		Recipient:   *detail,
		ItemCount:   count,
		ParcelValue: o.TotalPrice,
	}
	if o.IsCOD() {
		req.CashOnDelivery = o.TotalPrice
	}

	res, err := s.carrier.CreateShipment(ctx, req)
	if err != nil {
		log.Error("carrier booking failed", zap.Error(err))
		return nil, err
	}

	var booked bool
	err = s.tx.WithTx(ctx, func(q db.Querier) error {
		booked, err = s.shipments.SetBooked(ctx, q, sh, *res)
		return err
	})
	if err != nil {
		log.Error("failed to store booking", zap.String("tracking_number", res.TrackingNumber), zap.Error(err))
		return nil, err
	}
	if !booked {
		log.Warn("shipment was booked concurrently, carrier order is a duplicate",
			zap.String("tracking_number", res.TrackingNumber),
		)
		return s.shipments.GetByOrder(ctx, s.db, orderID)
	}

	log.Info("shipment booked", zap.String("tracking_number", res.TrackingNumber))
	return sh, nil
}

// CancelShipment cancels a parcel that has not been picked up and applies
// the cancellation as if the carrier had reported it.
func (s *service) CancelShipment(ctx context.Context, trackingNumber string) error {
	sh, err := s.shipments.GetByTracking(ctx, s.db, trackingNumber)
	if err != nil {
		return err
	}
	if sh == nil {
		return ErrShipmentNotFound
	}
	if sh.Status != shipping.StatusPending {
		return ErrNotCancellable
	}

	if err := s.carrier.Cancel(ctx, trackingNumber); err != nil {
		return err
	}

	payload, _ := json.Marshal(map[string]string{"source": "operator", "tracking_number": trackingNumber})
	_, err = s.ApplyCarrierEvent(ctx, shipping.WebhookEvent{
		TrackingNumber: trackingNumber,
		EventType:      shipping.EventCancelled,
		RawEventType:   "operator_cancel",
		OccurredAt:     s.now().UTC().Truncate(time.Second),
		Payload:        payload,
	})
	return err
}

func (s *service) TrackShipment(ctx context.Context, trackingNumber string) ([]shipping.TrackingEvent, error) {
	return s.carrier.Track(ctx, trackingNumber)
}

func (s *service) ListExpiredUnpaid(ctx context.Context, cutoff time.Time, limit int) ([]uint, error) {
	return s.repo.ListExpiredUnpaid(ctx, s.db, cutoff, limit)
}

// CancelUnpaid cancels an order whose payment never completed and restores
// its stock. It reports false when the order was paid or cancelled meanwhile.
func (s *service) CancelUnpaid(ctx context.Context, orderID uint, reason string) (bool, error) {
	log := logger.FromCtx(ctx).With(
		zap.String("layer", "service"),
		zap.String("method", "CancelUnpaid"),
		zap.Uint("order_id", orderID),
	)

	var (
		cancelled bool
		order     *Order
	)
	err := s.tx.WithTx(ctx, func(q db.Querier) error {
		var err error
		cancelled, err = s.repo.CancelUnpaid(ctx, q, orderID, reason)
		if err != nil || !cancelled {
			return err
		}
		if _, err := s.payments.FailOpenAttempts(ctx, q, orderID, reason); err != nil {
			return err
		}
		if _, err := s.ledger.Release(ctx, q, orderID); err != nil {
			return err
		}
		order, err = s.repo.GetByID(ctx, q, orderID)
		return err
	})
	if err != nil {
		log.Error("failed to cancel unpaid order", zap.Error(err))
		return false, err
	}
	if !cancelled {
		log.Info("order no longer unpaid, skipped")
		return false, nil
	}

	log.Info("unpaid order cancelled", zap.String("reason", reason))
	s.notify(ctx, order, notification.EventOrderCancelled, reason)
	return true, nil
}

func (s *service) ListDueForCompletion(ctx context.Context, limit int) ([]uint, error) {
	return s.repo.ListDueForCompletion(ctx, s.db, s.now(), limit)
}

func (s *service) CompleteDelivered(ctx context.Context, orderID uint) (bool, error) {
	var completed bool
	err := s.tx.WithTx(ctx, func(q db.Querier) error {
		var err error
		completed, err = s.repo.CompleteIfDue(ctx, q, orderID, s.now())
		return err
	})
	if err != nil {
		logger.FromCtx(ctx).Error("failed to complete order", zap.Uint("order_id", orderID), zap.Error(err))
		return false, err
	}
	return completed, nil
}
