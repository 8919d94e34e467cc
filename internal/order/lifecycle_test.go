package order

import (
	"context"
	"database/sql/driver"
	"testing"

	"github.com/seiixin/PakbetTV-sub001/internal/db"
	"github.com/seiixin/PakbetTV-sub001/internal/inventory"
	"github.com/seiixin/PakbetTV-sub001/internal/notification"
	"github.com/seiixin/PakbetTV-sub001/internal/payment"
	"github.com/seiixin/PakbetTV-sub001/internal/promotion"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// shelf mirrors the products and order_items rows the ledger reads and
// writes, so stock levels can be followed across a whole order lifecycle.
type shelf struct {
	price map[uint]string
	stock map[uint]int
	items map[uint][]Item
}

// takeStock applies the decrement bound to the reservation UPDATE.
type takeStock struct {
	s         *shelf
	productID uint
}

func (m takeStock) Match(v driver.Value) bool {
	qty, ok := v.(int64)
	if !ok {
		return false
	}
	m.s.stock[m.productID] -= int(qty)
	return true
}

// restoreStock adds back every product line of the order bound to the
// release UPDATE, the way the join on order_items does.
type restoreStock struct {
	s *shelf
}

func (m restoreStock) Match(v driver.Value) bool {
	orderID, ok := v.(int64)
	if !ok {
		return false
	}
	for _, it := range m.s.items[uint(orderID)] {
		if it.VariantID == nil {
			m.s.stock[it.ProductID] += it.Quantity
		}
	}
	return true
}

func (s *shelf) expectReserve(mock sqlmock.Sqlmock, productID uint) {
	mock.ExpectQuery(`SELECT name, price, stock, category_id FROM products WHERE id = \$1 FOR UPDATE`).
		WithArgs(productID).
		WillReturnRows(sqlmock.NewRows([]string{"name", "price", "stock", "category_id"}).
			AddRow("Bagoong Alamang 250g", s.price[productID], s.stock[productID], nil))
	mock.ExpectExec(`UPDATE products SET stock = stock - \$1`).
		WithArgs(takeStock{s: s, productID: productID}, productID).
		WillReturnResult(sqlmock.NewResult(0, 1))
}

func (s *shelf) expectRelease(mock sqlmock.Sqlmock, orderID uint) {
	mock.ExpectExec(`UPDATE orders SET stock_released = TRUE`).
		WithArgs(orderID).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE products p SET stock = p\.stock \+ oi\.quantity`).
		WithArgs(restoreStock{s: s}).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE product_variants v SET stock = v\.stock \+ oi\.quantity`).
		WithArgs(orderID).
		WillReturnResult(sqlmock.NewResult(0, 0))
}

// directTx hands the test database straight to the callback.
type directTx struct {
	q db.Querier
}

func (d directTx) WithTx(_ context.Context, fn func(q db.Querier) error) error {
	return fn(d.q)
}

// storedItems reads order items through the SQL repository and leaves
// everything else to the mock.
type storedItems struct {
	*MockRepository
	sql Repository
}

func (r storedItems) GetItems(ctx context.Context, q db.Querier, orderID uint) ([]Item, error) {
	return r.sql.GetItems(ctx, q, orderID)
}

// newLedgerFixture swaps the mocked ledger for the SQL one.
func newLedgerFixture(t *testing.T) (*fixture, sqlmock.Sqlmock) {
	f := newFixture(t)
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { sqlDB.Close() })

	f.svc.tx = directTx{q: sqlDB}
	f.svc.db = sqlDB
	f.svc.ledger = inventory.NewLedger()
	return f, mock
}

func (f *fixture) expectOnlineCheckout() {
	f.promos.On("ListAutoApply", mock.Anything, mock.Anything).Return([]promotion.Promotion{}, nil)
	f.expectOrderRows(payment.MethodDragonpay)
	f.gateway.On("Initiate", mock.Anything, mock.Anything).
		Return(&payment.InitiateResponse{TransactionID: "ORD42-1", PaymentURL: "https://pay.example/ORD42"}, nil)
	f.payments.On("MarkPending", mock.Anything, mock.Anything, uint(7), "https://pay.example/ORD42").Return(nil)
}

func TestLifecycle_TimeoutCancelRestoresStock(t *testing.T) {
	f, sqlMock := newLedgerFixture(t)
	s := &shelf{
		price: map[uint]string{1: "100.00"},
		stock: map[uint]int{1: 10},
		items: map[uint][]Item{},
	}

	s.expectReserve(sqlMock, 1)
	f.expectOnlineCheckout()

	_, err := f.svc.CreateOrder(context.Background(), CreateOrderInput{
		UserID:        9,
		Items:         []ItemInput{{ProductID: 1, Quantity: 3}},
		Address:       makatiAddress(),
		PaymentMethod: payment.MethodDragonpay,
	})
	require.NoError(t, err)
	assert.Equal(t, 7, s.stock[1])

	s.items[42] = f.items
	s.expectRelease(sqlMock, 42)
	f.repo.On("CancelUnpaid", mock.Anything, mock.Anything, uint(42), "payment timeout").Return(true, nil)
	f.payments.On("FailOpenAttempts", mock.Anything, mock.Anything, uint(42), "payment timeout").Return(int64(1), nil)
	f.repo.On("GetByID", mock.Anything, mock.Anything, uint(42)).Return(f.created, nil)
	f.notifier.On("Publish", mock.Anything, eventOfType(notification.EventOrderCancelled)).Return(nil)

	cancelled, err := f.svc.CancelUnpaid(context.Background(), 42, "payment timeout")
	require.NoError(t, err)
	assert.True(t, cancelled)
	assert.Equal(t, 10, s.stock[1])

	assert.NoError(t, sqlMock.ExpectationsWereMet())
	f.assertExpectations(t)
}

func TestLifecycle_CatalogPriceChangeKeepsOrderPrice(t *testing.T) {
	f, sqlMock := newLedgerFixture(t)
	f.svc.repo = storedItems{MockRepository: f.repo, sql: NewRepository()}
	s := &shelf{
		price: map[uint]string{1: "100.00"},
		stock: map[uint]int{1: 10},
		items: map[uint][]Item{},
	}

	s.expectReserve(sqlMock, 1)
	f.expectOnlineCheckout()

	_, err := f.svc.CreateOrder(context.Background(), CreateOrderInput{
		UserID:        9,
		Items:         []ItemInput{{ProductID: 1, Quantity: 2}},
		Address:       makatiAddress(),
		PaymentMethod: payment.MethodDragonpay,
	})
	require.NoError(t, err)
	total := f.created.TotalPrice

	// the catalog moves on; order_items keeps what was charged
	s.price[1] = "150.00"
	stored := f.items[0]
	sqlMock.ExpectQuery(`SELECT id, order_id, product_id, variant_id, product_name, quantity, unit_price FROM order_items WHERE order_id = \$1`).
		WithArgs(42).
		WillReturnRows(sqlmock.NewRows([]string{"id", "order_id", "product_id", "variant_id", "product_name", "quantity", "unit_price"}).
			AddRow(1, 42, stored.ProductID, nil, stored.ProductName, stored.Quantity, stored.UnitPrice.String()))
	f.repo.On("GetByID", mock.Anything, mock.Anything, uint(42)).Return(f.created, nil)

	o, err := f.svc.GetOrder(context.Background(), 42, 9, false)
	require.NoError(t, err)
	require.Len(t, o.Items, 1)
	assert.True(t, decimal.NewFromInt(100).Equal(o.Items[0].UnitPrice), "unit price %s", o.Items[0].UnitPrice)
	assert.True(t, total.Equal(o.TotalPrice))
	assert.Equal(t, "300.00", o.TotalPrice.StringFixed(2))

	assert.NoError(t, sqlMock.ExpectationsWereMet())
	f.assertExpectations(t)
}

func TestLifecycle_PromoBelowMinimum(t *testing.T) {
	f, sqlMock := newLedgerFixture(t)
	s := &shelf{
		price: map[uint]string{1: "100.00"},
		stock: map[uint]int{1: 5},
		items: map[uint][]Item{},
	}
	code := "FREESHIP1000"

	s.expectReserve(sqlMock, 1)
	f.promos.On("GetByCode", mock.Anything, code).Return(&promotion.Promotion{
		ID:       5,
		Code:     &code,
		Type:     promotion.TypeFreeShipping,
		MinOrder: decimal.NewFromInt(1000),
		StartsAt: testNow.AddDate(0, 0, -1),
		Active:   true,
	}, nil)
	f.expectOnlineCheckout()

	res, err := f.svc.CreateOrder(context.Background(), CreateOrderInput{
		UserID:        9,
		Items:         []ItemInput{{ProductID: 1, Quantity: 2}},
		Address:       makatiAddress(),
		PaymentMethod: payment.MethodDragonpay,
		PromoCode:     code,
	})
	require.NoError(t, err)

	assert.Empty(t, res.Pricing.AppliedPromotions)
	assert.Equal(t, "200.00", res.Order.Subtotal.StringFixed(2))
	assert.True(t, res.Order.TotalPrice.Equal(res.Order.Subtotal.Add(res.Order.ShippingFee)))
	assert.Equal(t, "300.00", res.Order.TotalPrice.StringFixed(2))
	assert.Equal(t, 3, s.stock[1])

	assert.NoError(t, sqlMock.ExpectationsWereMet())
	f.assertExpectations(t)
}
