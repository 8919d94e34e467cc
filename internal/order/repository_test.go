package order

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMockDB(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db, mock
}

var orderCols = []string{
	"id", "order_code", "user_id", "shipping_detail_id", "payment_method",
	"subtotal", "product_discount", "shipping_fee", "shipping_discount", "total_price",
	"status", "payment_status", "tracking_number", "stock_released", "disputed",
	"delivered_at", "completion_due_at", "created_at", "updated_at",
}

func TestRepository_InsertOrder(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewRepository()
	now := time.Now()

	o := &Order{
		OrderCode:        "PBT-1",
		UserID:           7,
		ShippingDetailID: 3,
		PaymentMethod:    "dragonpay",
		Subtotal:         decimal.RequireFromString("200"),
		ProductDiscount:  decimal.Zero,
		ShippingFee:      decimal.RequireFromString("100"),
		ShippingDiscount: decimal.Zero,
		TotalPrice:       decimal.RequireFromString("300"),
	}

	t.Run("Success", func(t *testing.T) {
		mock.ExpectQuery(`INSERT INTO orders`).
			WithArgs("PBT-1", uint(7), uint(3), "dragonpay",
				sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(),
				StatusPending, PaymentPending).
			WillReturnRows(sqlmock.NewRows([]string{"id", "created_at", "updated_at"}).AddRow(42, now, now))

		require.NoError(t, repo.InsertOrder(context.Background(), db, o))
		assert.Equal(t, uint(42), o.ID)
		assert.Equal(t, StatusPending, o.Status)
		assert.Equal(t, PaymentPending, o.PaymentStatus)
	})

	t.Run("DBError", func(t *testing.T) {
		mock.ExpectQuery(`INSERT INTO orders`).WillReturnError(errors.New("duplicate order_code"))
		assert.Error(t, repo.InsertOrder(context.Background(), db, &Order{OrderCode: "PBT-1"}))
	})
}

func TestRepository_InsertItems(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewRepository()
	variant := uint(9)

	items := []Item{
		{ProductID: 1, ProductName: "Bagoong", Quantity: 2, UnitPrice: decimal.RequireFromString("100")},
		{ProductID: 2, VariantID: &variant, ProductName: "Patis - 1L", Quantity: 1, UnitPrice: decimal.RequireFromString("80")},
	}

	mock.ExpectQuery(`INSERT INTO order_items`).
		WithArgs(uint(42), uint(1), nil, "Bagoong", 2, sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(100))
	mock.ExpectQuery(`INSERT INTO order_items`).
		WithArgs(uint(42), uint(2), uint(9), "Patis - 1L", 1, sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(101))

	require.NoError(t, repo.InsertItems(context.Background(), db, 42, items))
	assert.Equal(t, uint(100), items[0].ID)
	assert.Equal(t, uint(42), items[1].OrderID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRepository_GetByID(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewRepository()
	now := time.Now()

	t.Run("Found", func(t *testing.T) {
		mock.ExpectQuery(`SELECT.*FROM orders WHERE id = \$1`).
			WithArgs(uint(42)).
			WillReturnRows(sqlmock.NewRows(orderCols).AddRow(
				42, "PBT-1", 7, 3, "cod",
				"200.00", "0.00", "100.00", "0.00", "300.00",
				"delivered", "pending", "NVPH1", false, false,
				now, now.Add(7*24*time.Hour), now, now,
			))

		o, err := repo.GetByID(context.Background(), db, 42)
		require.NoError(t, err)
		assert.Equal(t, StatusDelivered, o.Status)
		assert.True(t, o.IsCOD())
		assert.Equal(t, "300.00", o.TotalPrice.StringFixed(2))
		assert.Equal(t, "NVPH1", *o.TrackingNumber)
		require.NotNil(t, o.CompletionDueAt)
	})

	t.Run("NotFound", func(t *testing.T) {
		mock.ExpectQuery(`SELECT.*FROM orders WHERE id = \$1`).
			WithArgs(uint(99)).
			WillReturnRows(sqlmock.NewRows(orderCols))

		_, err := repo.GetByID(context.Background(), db, 99)
		assert.ErrorIs(t, err, ErrOrderNotFound)
	})
}

func TestRepository_GetForUpdate(t *testing.T) {
	db, mock := newMockDB(t)

	mock.ExpectQuery(`SELECT.*FROM orders WHERE id = \$1 FOR UPDATE`).
		WithArgs(uint(99)).
		WillReturnError(sql.ErrNoRows)

	_, err := NewRepository().GetForUpdate(context.Background(), db, 99)
	assert.ErrorIs(t, err, ErrOrderNotFound)
}

func TestRepository_GetItems(t *testing.T) {
	db, mock := newMockDB(t)

	mock.ExpectQuery(`SELECT.*FROM order_items WHERE order_id = \$1 ORDER BY id`).
		WithArgs(uint(42)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "order_id", "product_id", "variant_id", "product_name", "quantity", "unit_price"}).
			AddRow(100, 42, 1, nil, "Bagoong", 2, "100.00").
			AddRow(101, 42, 2, 9, "Patis - 1L", 1, "80.00"))

	items, err := NewRepository().GetItems(context.Background(), db, 42)
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Nil(t, items[0].VariantID)
	assert.Equal(t, uint(9), *items[1].VariantID)
	assert.Equal(t, "80.00", items[1].UnitPrice.StringFixed(2))
}

func TestRepository_Transition(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewRepository()

	t.Run("Moved", func(t *testing.T) {
		mock.ExpectQuery(`WITH prev AS \(SELECT id, status FROM orders WHERE id = \$1 FOR UPDATE\) UPDATE orders o SET status = \$2.*prev.status = ANY\(\$3\) RETURNING prev.status`).
			WithArgs(uint(42), StatusProcessing, pq.StringArray{"pending"}).
			WillReturnRows(sqlmock.NewRows([]string{"status"}).AddRow("pending"))
		mock.ExpectExec(`INSERT INTO order_status_history`).
			WithArgs(uint(42), StatusPending, StatusProcessing, "payment completed").
			WillReturnResult(sqlmock.NewResult(1, 1))

		moved, err := repo.Transition(context.Background(), db, 42, []Status{StatusPending}, StatusProcessing, "payment completed")
		require.NoError(t, err)
		assert.True(t, moved)
	})

	t.Run("StatusAlreadyMoved", func(t *testing.T) {
		mock.ExpectQuery(`WITH prev AS`).
			WillReturnRows(sqlmock.NewRows([]string{"status"}))

		moved, err := repo.Transition(context.Background(), db, 42, []Status{StatusPending}, StatusProcessing, "payment completed")
		require.NoError(t, err)
		assert.False(t, moved)
	})

	t.Run("HistoryError", func(t *testing.T) {
		mock.ExpectQuery(`WITH prev AS`).
			WillReturnRows(sqlmock.NewRows([]string{"status"}).AddRow("processing"))
		mock.ExpectExec(`INSERT INTO order_status_history`).
			WillReturnError(errors.New("db down"))

		_, err := repo.Transition(context.Background(), db, 42, []Status{StatusProcessing}, StatusCancelled, "returned")
		assert.Error(t, err)
	})

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRepository_SetPaymentStatus(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewRepository()

	mock.ExpectExec(`UPDATE orders SET payment_status = \$2.*WHERE id = \$1 AND payment_status = ANY\(\$3\)`).
		WithArgs(uint(42), PaymentCompleted, pq.StringArray{"pending", "failed"}).
		WillReturnResult(sqlmock.NewResult(0, 1))

	changed, err := repo.SetPaymentStatus(context.Background(), db, 42, []PaymentStatus{PaymentPending, PaymentFailed}, PaymentCompleted)
	require.NoError(t, err)
	assert.True(t, changed)

	mock.ExpectExec(`UPDATE orders SET payment_status`).
		WillReturnResult(sqlmock.NewResult(0, 0))

	changed, err = repo.SetPaymentStatus(context.Background(), db, 42, []PaymentStatus{PaymentPending}, PaymentCompleted)
	require.NoError(t, err)
	assert.False(t, changed)
}

func TestRepository_CancelUnpaid(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewRepository()

	t.Run("Cancelled", func(t *testing.T) {
		mock.ExpectQuery(`UPDATE orders o SET status = 'cancelled', payment_status = 'failed'.*prev.status IN \('pending', 'processing'\) AND o.payment_status = 'pending'`).
			WithArgs(uint(42)).
			WillReturnRows(sqlmock.NewRows([]string{"status"}).AddRow("pending"))
		mock.ExpectExec(`INSERT INTO order_status_history`).
			WithArgs(uint(42), StatusPending, StatusCancelled, "payment timeout").
			WillReturnResult(sqlmock.NewResult(1, 1))

		ok, err := repo.CancelUnpaid(context.Background(), db, 42, "payment timeout")
		require.NoError(t, err)
		assert.True(t, ok)
	})

	t.Run("PaidConcurrently", func(t *testing.T) {
		mock.ExpectQuery(`UPDATE orders o SET status = 'cancelled'`).
			WithArgs(uint(42)).
			WillReturnRows(sqlmock.NewRows([]string{"status"}))

		ok, err := repo.CancelUnpaid(context.Background(), db, 42, "payment timeout")
		require.NoError(t, err)
		assert.False(t, ok)
	})
}

func TestRepository_MarkDelivered(t *testing.T) {
	db, mock := newMockDB(t)
	at := time.Date(2025, 6, 21, 14, 0, 0, 0, time.UTC)
	due := at.Add(7 * 24 * time.Hour)

	mock.ExpectQuery(`SET status = 'delivered', delivered_at = \$2, completion_due_at = \$3.*prev.status = 'processing' OR \(prev.status = 'pending' AND o.payment_method = 'cod'\)`).
		WithArgs(uint(42), at, due).
		WillReturnRows(sqlmock.NewRows([]string{"status"}).AddRow("processing"))
	mock.ExpectExec(`INSERT INTO order_status_history`).
		WithArgs(uint(42), StatusProcessing, StatusDelivered, "carrier reported delivery").
		WillReturnResult(sqlmock.NewResult(1, 1))

	ok, err := NewRepository().MarkDelivered(context.Background(), db, 42, at, due)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestRepository_CompleteIfDue(t *testing.T) {
	db, mock := newMockDB(t)
	now := time.Now()

	mock.ExpectQuery(`SET status = 'completed'.*prev.status = 'delivered' AND o.completion_due_at <= \$2 AND NOT o.disputed`).
		WithArgs(uint(42), now).
		WillReturnRows(sqlmock.NewRows([]string{"status"}))

	ok, err := NewRepository().CompleteIfDue(context.Background(), db, 42, now)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRepository_ListExpiredUnpaid(t *testing.T) {
	db, mock := newMockDB(t)
	cutoff := time.Now().Add(-3 * time.Hour)

	t.Run("Success", func(t *testing.T) {
		mock.ExpectQuery(`SELECT o.id FROM orders o.*o.created_at < \$1 AND EXISTS \( SELECT 1 FROM payments p WHERE p.order_id = o.id AND p.payment_url IS NOT NULL \) ORDER BY o.created_at LIMIT \$2`).
			WithArgs(cutoff, 100).
			WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(3).AddRow(8))

		ids, err := NewRepository().ListExpiredUnpaid(context.Background(), db, cutoff, 100)
		require.NoError(t, err)
		assert.Equal(t, []uint{3, 8}, ids)
	})

	t.Run("DBError", func(t *testing.T) {
		mock.ExpectQuery(`SELECT o.id FROM orders o`).
			WillReturnError(errors.New("timeout"))

		_, err := NewRepository().ListExpiredUnpaid(context.Background(), db, cutoff, 100)
		assert.Error(t, err)
	})
}

func TestRepository_ListDueForCompletion(t *testing.T) {
	db, mock := newMockDB(t)
	now := time.Now()

	mock.ExpectQuery(`SELECT id FROM orders WHERE status = 'delivered' AND completion_due_at <= \$1 AND NOT disputed`).
		WithArgs(now, 50).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(11))

	ids, err := NewRepository().ListDueForCompletion(context.Background(), db, now, 50)
	require.NoError(t, err)
	assert.Equal(t, []uint{11}, ids)
}
