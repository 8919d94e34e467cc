package order

import (
	"context"
	"net/url"
	"time"

	"github.com/seiixin/PakbetTV-sub001/internal/address"
	"github.com/seiixin/PakbetTV-sub001/internal/db"
	"github.com/seiixin/PakbetTV-sub001/internal/inventory"
	"github.com/seiixin/PakbetTV-sub001/internal/notification"
	"github.com/seiixin/PakbetTV-sub001/internal/payment"
	"github.com/seiixin/PakbetTV-sub001/internal/promotion"
	"github.com/seiixin/PakbetTV-sub001/internal/shipping"

	"github.com/stretchr/testify/mock"
)

// --- Mocks ---

// nopQuerier stands in for the transaction handle; every repository is
// mocked so it is never called.
type nopQuerier struct{ db.Querier }

type fakeTx struct {
	calls int
}

func (f *fakeTx) WithTx(ctx context.Context, fn func(q db.Querier) error) error {
	f.calls++
	return fn(nopQuerier{})
}

type MockRepository struct {
	mock.Mock
}

func (m *MockRepository) InsertOrder(ctx context.Context, q db.Querier, o *Order) error {
	args := m.Called(ctx, q, o)
	return args.Error(0)
}

func (m *MockRepository) InsertItems(ctx context.Context, q db.Querier, orderID uint, items []Item) error {
	args := m.Called(ctx, q, orderID, items)
	return args.Error(0)
}

func (m *MockRepository) AddHistory(ctx context.Context, q db.Querier, orderID uint, from, to Status, reason string) error {
	args := m.Called(ctx, q, orderID, from, to, reason)
	return args.Error(0)
}

func (m *MockRepository) GetByID(ctx context.Context, q db.Querier, id uint) (*Order, error) {
	args := m.Called(ctx, q, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*Order), args.Error(1)
}

func (m *MockRepository) GetForUpdate(ctx context.Context, q db.Querier, id uint) (*Order, error) {
	args := m.Called(ctx, q, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*Order), args.Error(1)
}

func (m *MockRepository) GetItems(ctx context.Context, q db.Querier, orderID uint) ([]Item, error) {
	args := m.Called(ctx, q, orderID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]Item), args.Error(1)
}

func (m *MockRepository) Transition(ctx context.Context, q db.Querier, id uint, from []Status, to Status, reason string) (bool, error) {
	args := m.Called(ctx, q, id, from, to, reason)
	return args.Bool(0), args.Error(1)
}

func (m *MockRepository) SetPaymentStatus(ctx context.Context, q db.Querier, id uint, from []PaymentStatus, to PaymentStatus) (bool, error) {
	args := m.Called(ctx, q, id, from, to)
	return args.Bool(0), args.Error(1)
}

func (m *MockRepository) CancelUnpaid(ctx context.Context, q db.Querier, id uint, reason string) (bool, error) {
	args := m.Called(ctx, q, id, reason)
	return args.Bool(0), args.Error(1)
}

func (m *MockRepository) MarkDelivered(ctx context.Context, q db.Querier, id uint, at, completionDue time.Time) (bool, error) {
	args := m.Called(ctx, q, id, at, completionDue)
	return args.Bool(0), args.Error(1)
}

func (m *MockRepository) CompleteIfDue(ctx context.Context, q db.Querier, id uint, now time.Time) (bool, error) {
	args := m.Called(ctx, q, id, now)
	return args.Bool(0), args.Error(1)
}

func (m *MockRepository) ListExpiredUnpaid(ctx context.Context, q db.Querier, cutoff time.Time, limit int) ([]uint, error) {
	args := m.Called(ctx, q, cutoff, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]uint), args.Error(1)
}

func (m *MockRepository) ListDueForCompletion(ctx context.Context, q db.Querier, now time.Time, limit int) ([]uint, error) {
	args := m.Called(ctx, q, now, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]uint), args.Error(1)
}

type MockAddressRepository struct {
	mock.Mock
}

func (m *MockAddressRepository) Create(ctx context.Context, q db.Querier, d *address.Detail) error {
	args := m.Called(ctx, q, d)
	return args.Error(0)
}

func (m *MockAddressRepository) GetByID(ctx context.Context, q db.Querier, id uint) (*address.Detail, error) {
	args := m.Called(ctx, q, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*address.Detail), args.Error(1)
}

type MockPaymentRepository struct {
	mock.Mock
}

func (m *MockPaymentRepository) Create(ctx context.Context, q db.Querier, p *payment.Payment) error {
	args := m.Called(ctx, q, p)
	return args.Error(0)
}

func (m *MockPaymentRepository) GetLatestByOrder(ctx context.Context, q db.Querier, orderID uint) (*payment.Payment, error) {
	args := m.Called(ctx, q, orderID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*payment.Payment), args.Error(1)
}

func (m *MockPaymentRepository) GetByTransactionID(ctx context.Context, q db.Querier, txnID string) (*payment.Payment, error) {
	args := m.Called(ctx, q, txnID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*payment.Payment), args.Error(1)
}

func (m *MockPaymentRepository) MarkPending(ctx context.Context, q db.Querier, paymentID uint, paymentURL string) error {
	args := m.Called(ctx, q, paymentID, paymentURL)
	return args.Error(0)
}

func (m *MockPaymentRepository) UpdateStatus(ctx context.Context, q db.Querier, paymentID uint, status payment.Status, refNo, message string) (bool, error) {
	args := m.Called(ctx, q, paymentID, status, refNo, message)
	return args.Bool(0), args.Error(1)
}

func (m *MockPaymentRepository) FailOpenAttempts(ctx context.Context, q db.Querier, orderID uint, message string) (int64, error) {
	args := m.Called(ctx, q, orderID, message)
	return args.Get(0).(int64), args.Error(1)
}

type MockShipmentRepository struct {
	mock.Mock
}

func (m *MockShipmentRepository) CreatePlaceholder(ctx context.Context, q db.Querier, orderID uint, carrier string) (*shipping.Shipment, error) {
	args := m.Called(ctx, q, orderID, carrier)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*shipping.Shipment), args.Error(1)
}

func (m *MockShipmentRepository) GetByOrder(ctx context.Context, q db.Querier, orderID uint) (*shipping.Shipment, error) {
	args := m.Called(ctx, q, orderID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*shipping.Shipment), args.Error(1)
}

func (m *MockShipmentRepository) GetByTracking(ctx context.Context, q db.Querier, trackingNumber string) (*shipping.Shipment, error) {
	args := m.Called(ctx, q, trackingNumber)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*shipping.Shipment), args.Error(1)
}

func (m *MockShipmentRepository) SetBooked(ctx context.Context, q db.Querier, s *shipping.Shipment, res shipping.ShipmentResult) (bool, error) {
	args := m.Called(ctx, q, s, res)
	return args.Bool(0), args.Error(1)
}

func (m *MockShipmentRepository) UpdateStatus(ctx context.Context, q db.Querier, shipmentID uint, status shipping.Status, at time.Time) error {
	args := m.Called(ctx, q, shipmentID, status, at)
	return args.Error(0)
}

func (m *MockShipmentRepository) InsertEvent(ctx context.Context, q db.Querier, shipmentID uint, evt shipping.WebhookEvent) (bool, error) {
	args := m.Called(ctx, q, shipmentID, evt)
	return args.Bool(0), args.Error(1)
}

type MockPromotionRepository struct {
	mock.Mock
}

func (m *MockPromotionRepository) GetByCode(ctx context.Context, code string) (*promotion.Promotion, error) {
	args := m.Called(ctx, code)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*promotion.Promotion), args.Error(1)
}

func (m *MockPromotionRepository) ListAutoApply(ctx context.Context, now time.Time) ([]promotion.Promotion, error) {
	args := m.Called(ctx, now)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]promotion.Promotion), args.Error(1)
}

func (m *MockPromotionRepository) CountUsages(ctx context.Context, promotionID, userID uint) (int, int, error) {
	args := m.Called(ctx, promotionID, userID)
	return args.Int(0), args.Int(1), args.Error(2)
}

func (m *MockPromotionRepository) SaveOrderPromotions(ctx context.Context, q db.Querier, orderID uint, applied []promotion.AppliedPromotion) error {
	args := m.Called(ctx, q, orderID, applied)
	return args.Error(0)
}

func (m *MockPromotionRepository) RecordUsage(ctx context.Context, q db.Querier, orderID, userID uint) (int, error) {
	args := m.Called(ctx, q, orderID, userID)
	return args.Int(0), args.Error(1)
}

type MockLedger struct {
	mock.Mock
}

func (m *MockLedger) Reserve(ctx context.Context, q db.Querier, lines []inventory.Line) (*inventory.Reservation, error) {
	args := m.Called(ctx, q, lines)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*inventory.Reservation), args.Error(1)
}

func (m *MockLedger) Release(ctx context.Context, q db.Querier, orderID uint) (bool, error) {
	args := m.Called(ctx, q, orderID)
	return args.Bool(0), args.Error(1)
}

type MockGateway struct {
	mock.Mock
}

func (m *MockGateway) Name() string { return "dragonpay" }

func (m *MockGateway) AckToken() string { return "result=OK" }

func (m *MockGateway) Initiate(ctx context.Context, req payment.InitiateRequest) (*payment.InitiateResponse, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*payment.InitiateResponse), args.Error(1)
}

func (m *MockGateway) ParseCallback(values url.Values) (*payment.Callback, error) {
	args := m.Called(values)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*payment.Callback), args.Error(1)
}

func (m *MockGateway) VerifyCallback(cb *payment.Callback) bool {
	return m.Called(cb).Bool(0)
}

func (m *MockGateway) Inquire(ctx context.Context, transactionID string) (*payment.InquiryResult, error) {
	args := m.Called(ctx, transactionID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*payment.InquiryResult), args.Error(1)
}

// MapStatus uses the real Dragonpay table so tests speak gateway codes.
func (m *MockGateway) MapStatus(code string) payment.Status {
	switch code {
	case "S":
		return payment.StatusCompleted
	case "F", "K", "V":
		return payment.StatusFailed
	case "R":
		return payment.StatusRefunded
	}
	return payment.StatusPending
}

type MockCarrier struct {
	mock.Mock
}

func (m *MockCarrier) Name() string { return "ninjavan" }

func (m *MockCarrier) CreateShipment(ctx context.Context, req shipping.ShipmentRequest) (*shipping.ShipmentResult, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*shipping.ShipmentResult), args.Error(1)
}

func (m *MockCarrier) Cancel(ctx context.Context, trackingNumber string) error {
	return m.Called(ctx, trackingNumber).Error(0)
}

func (m *MockCarrier) Track(ctx context.Context, trackingNumber string) ([]shipping.TrackingEvent, error) {
	args := m.Called(ctx, trackingNumber)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]shipping.TrackingEvent), args.Error(1)
}

type MockNotifier struct {
	mock.Mock
}

func (m *MockNotifier) Publish(ctx context.Context, evt notification.Event) error {
	return m.Called(ctx, evt).Error(0)
}
