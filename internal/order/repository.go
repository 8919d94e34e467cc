package order

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/seiixin/PakbetTV-sub001/internal/db"
	"github.com/seiixin/PakbetTV-sub001/internal/logger"

	"github.com/lib/pq"
	"go.uber.org/zap"
)

// Repository persists orders, their items and status history. Status writes
// are conditional on the stored status and report whether a row moved, so
// concurrent webhooks and schedulers never apply a transition twice.
type Repository interface {
	InsertOrder(ctx context.Context, q db.Querier, o *Order) error
	InsertItems(ctx context.Context, q db.Querier, orderID uint, items []Item) error
	AddHistory(ctx context.Context, q db.Querier, orderID uint, from, to Status, reason string) error

	GetByID(ctx context.Context, q db.Querier, id uint) (*Order, error)
	GetForUpdate(ctx context.Context, q db.Querier, id uint) (*Order, error)
	GetItems(ctx context.Context, q db.Querier, orderID uint) ([]Item, error)

	Transition(ctx context.Context, q db.Querier, id uint, from []Status, to Status, reason string) (bool, error)
	SetPaymentStatus(ctx context.Context, q db.Querier, id uint, from []PaymentStatus, to PaymentStatus) (bool, error)
	CancelUnpaid(ctx context.Context, q db.Querier, id uint, reason string) (bool, error)
	MarkDelivered(ctx context.Context, q db.Querier, id uint, at, completionDue time.Time) (bool, error)
	CompleteIfDue(ctx context.Context, q db.Querier, id uint, now time.Time) (bool, error)

	ListExpiredUnpaid(ctx context.Context, q db.Querier, cutoff time.Time, limit int) ([]uint, error)
	ListDueForCompletion(ctx context.Context, q db.Querier, now time.Time, limit int) ([]uint, error)
}

type repository struct{}

func NewRepository() Repository {
	return &repository{}
}

const orderColumns = `
	id, order_code, user_id, shipping_detail_id, payment_method,
	subtotal, product_discount, shipping_fee, shipping_discount, total_price,
	status, payment_status, tracking_number, stock_released, disputed,
	delivered_at, completion_due_at, created_at, updated_at`

func scanOrder(row *sql.Row) (*Order, error) {
	var (
		o           Order
		tracking    sql.NullString
		deliveredAt sql.NullTime
		dueAt       sql.NullTime
	)
	err := row.Scan(
		&o.ID, &o.OrderCode, &o.UserID, &o.ShippingDetailID, &o.PaymentMethod,
		&o.Subtotal, &o.ProductDiscount, &o.ShippingFee, &o.ShippingDiscount, &o.TotalPrice,
		&o.Status, &o.PaymentStatus, &tracking, &o.StockReleased, &o.Disputed,
		&deliveredAt, &dueAt, &o.CreatedAt, &o.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if tracking.Valid {
		o.TrackingNumber = &tracking.String
	}
	if deliveredAt.Valid {
		o.DeliveredAt = &deliveredAt.Time
	}
	if dueAt.Valid {
		o.CompletionDueAt = &dueAt.Time
	}
	return &o, nil
}

func (r *repository) InsertOrder(ctx context.Context, q db.Querier, o *Order) error {
	if o.Status == "" {
		o.Status = StatusPending
	}
	if o.PaymentStatus == "" {
		o.PaymentStatus = PaymentPending
	}

	err := q.QueryRowContext(ctx, `
		INSERT INTO orders (
			order_code, user_id, shipping_detail_id, payment_method,
			subtotal, product_discount, shipping_fee, shipping_discount, total_price,
			status, payment_status
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING id, created_at, updated_at
	`,
		o.OrderCode, o.UserID, o.ShippingDetailID, o.PaymentMethod,
		o.Subtotal, o.ProductDiscount, o.ShippingFee, o.ShippingDiscount, o.TotalPrice,
		o.Status, o.PaymentStatus,
	).Scan(&o.ID, &o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		logger.FromCtx(ctx).Error("failed to insert order",
			zap.String("layer", "repository"),
			zap.String("order_code", o.OrderCode),
			zap.Error(err),
		)
		return err
	}
	return nil
}

func (r *repository) InsertItems(ctx context.Context, q db.Querier, orderID uint, items []Item) error {
	for i := range items {
		item := &items[i]
		item.OrderID = orderID
		err := q.QueryRowContext(ctx, `
			INSERT INTO order_items (order_id, product_id, variant_id, product_name, quantity, unit_price)
			VALUES ($1, $2, $3, $4, $5, $6)
			RETURNING id
		`, orderID, item.ProductID, item.VariantID, item.ProductName, item.Quantity, item.UnitPrice,
		).Scan(&item.ID)
		if err != nil {
			logger.FromCtx(ctx).Error("failed to insert order item",
				zap.String("layer", "repository"),
				zap.Uint("order_id", orderID),
				zap.Uint("product_id", item.ProductID),
				zap.Error(err),
			)
			return err
		}
	}
	return nil
}

func (r *repository) AddHistory(ctx context.Context, q db.Querier, orderID uint, from, to Status, reason string) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO order_status_history (order_id, from_status, to_status, reason)
		VALUES ($1, $2, $3, $4)
	`, orderID, from, to, reason)
	return err
}

func (r *repository) GetByID(ctx context.Context, q db.Querier, id uint) (*Order, error) {
	o, err := scanOrder(q.QueryRowContext(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrOrderNotFound
	}
	return o, err
}

func (r *repository) GetForUpdate(ctx context.Context, q db.Querier, id uint) (*Order, error) {
	o, err := scanOrder(q.QueryRowContext(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1 FOR UPDATE`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrOrderNotFound
	}
	return o, err
}

func (r *repository) GetItems(ctx context.Context, q db.Querier, orderID uint) ([]Item, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT id, order_id, product_id, variant_id, product_name, quantity, unit_price
		FROM order_items
		WHERE order_id = $1
		ORDER BY id
	`, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []Item
	for rows.Next() {
		var (
			it      Item
			variant sql.NullInt64
		)
		if err := rows.Scan(&it.ID, &it.OrderID, &it.ProductID, &variant, &it.ProductName, &it.Quantity, &it.UnitPrice); err != nil {
			return nil, err
		}
		if variant.Valid {
			v := uint(variant.Int64)
			it.VariantID = &v
		}
		items = append(items, it)
	}
	return items, rows.Err()
}

// transition runs an UPDATE built around the locked previous row and
// appends a history entry when a row moved. The statement must return the
// previous status.
func (r *repository) transition(ctx context.Context, q db.Querier, id uint, to Status, reason, query string, args ...any) (bool, error) {
	log := logger.FromCtx(ctx).With(
		zap.String("layer", "repository"),
		zap.Uint("order_id", id),
		zap.String("to", string(to)),
	)

	var prev Status
	err := q.QueryRowContext(ctx, query, args...).Scan(&prev)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		log.Error("failed to transition order", zap.Error(err))
		return false, err
	}

	if err := r.AddHistory(ctx, q, id, prev, to, reason); err != nil {
		log.Error("failed to record status history", zap.Error(err))
		return false, err
	}
	return true, nil
}

func statusStrings(in []Status) pq.StringArray {
	out := make(pq.StringArray, len(in))
	for i, s := range in {
		out[i] = string(s)
	}
	return out
}

// Transition moves the order to `to` only while its status is one of from.
func (r *repository) Transition(ctx context.Context, q db.Querier, id uint, from []Status, to Status, reason string) (bool, error) {
	return r.transition(ctx, q, id, to, reason, `
		WITH prev AS (SELECT id, status FROM orders WHERE id = $1 FOR UPDATE)
		UPDATE orders o
		SET status = $2, updated_at = NOW()
		FROM prev
		WHERE o.id = prev.id AND prev.status = ANY($3)
		RETURNING prev.status
	`, id, to, statusStrings(from))
}

func (r *repository) SetPaymentStatus(ctx context.Context, q db.Querier, id uint, from []PaymentStatus, to PaymentStatus) (bool, error) {
	fromStr := make(pq.StringArray, len(from))
	for i, s := range from {
		fromStr[i] = string(s)
	}

	res, err := q.ExecContext(ctx, `
		UPDATE orders
		SET payment_status = $2, updated_at = NOW()
		WHERE id = $1 AND payment_status = ANY($3)
	`, id, to, fromStr)
	if err != nil {
		logger.FromCtx(ctx).Error("failed to update payment status",
			zap.String("layer", "repository"),
			zap.Uint("order_id", id),
			zap.Error(err),
		)
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// CancelUnpaid cancels the order only if it is still unpaid. A payment that
// completed concurrently leaves the row untouched.
func (r *repository) CancelUnpaid(ctx context.Context, q db.Querier, id uint, reason string) (bool, error) {
	return r.transition(ctx, q, id, StatusCancelled, reason, `
		WITH prev AS (SELECT id, status FROM orders WHERE id = $1 FOR UPDATE)
		UPDATE orders o
		SET status = 'cancelled', payment_status = 'failed', updated_at = NOW()
		FROM prev
		WHERE o.id = prev.id
		  AND prev.status IN ('pending', 'processing')
		  AND o.payment_status = 'pending'
		RETURNING prev.status
	`, id)
}

// MarkDelivered accepts paid orders and cash-on-delivery orders, which are
// delivered before payment is collected.
func (r *repository) MarkDelivered(ctx context.Context, q db.Querier, id uint, at, completionDue time.Time) (bool, error) {
	return r.transition(ctx, q, id, StatusDelivered, "carrier reported delivery", `
		WITH prev AS (SELECT id, status FROM orders WHERE id = $1 FOR UPDATE)
		UPDATE orders o
		SET status = 'delivered', delivered_at = $2, completion_due_at = $3, updated_at = NOW()
		FROM prev
		WHERE o.id = prev.id
		  AND (prev.status = 'processing' OR (prev.status = 'pending' AND o.payment_method = 'cod'))
		RETURNING prev.status
	`, id, at, completionDue)
}

func (r *repository) CompleteIfDue(ctx context.Context, q db.Querier, id uint, now time.Time) (bool, error) {
	return r.transition(ctx, q, id, StatusCompleted, "completion grace period elapsed", `
		WITH prev AS (SELECT id, status FROM orders WHERE id = $1 FOR UPDATE)
		UPDATE orders o
		SET status = 'completed', updated_at = NOW()
		FROM prev
		WHERE o.id = prev.id
		  AND prev.status = 'delivered'
		  AND o.completion_due_at <= $2
		  AND NOT o.disputed
		RETURNING prev.status
	`, id, now)
}

// ListExpiredUnpaid returns unpaid orders older than cutoff that reached the
// gateway. Orders whose payment never got a URL are not actionable.
func (r *repository) ListExpiredUnpaid(ctx context.Context, q db.Querier, cutoff time.Time, limit int) ([]uint, error) {
	return r.listIDs(ctx, q, `
		SELECT o.id
		FROM orders o
		WHERE o.status IN ('pending', 'processing')
		  AND o.payment_status = 'pending'
		  AND o.created_at < $1
		  AND EXISTS (
			SELECT 1 FROM payments p
			WHERE p.order_id = o.id AND p.payment_url IS NOT NULL
		  )
		ORDER BY o.created_at
		LIMIT $2
	`, cutoff, limit)
}

func (r *repository) ListDueForCompletion(ctx context.Context, q db.Querier, now time.Time, limit int) ([]uint, error) {
	return r.listIDs(ctx, q, `
		SELECT id
		FROM orders
		WHERE status = 'delivered'
		  AND completion_due_at <= $1
		  AND NOT disputed
		ORDER BY completion_due_at
		LIMIT $2
	`, now, limit)
}

func (r *repository) listIDs(ctx context.Context, q db.Querier, query string, args ...any) ([]uint, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		logger.FromCtx(ctx).Error("failed to list orders", zap.String("layer", "repository"), zap.Error(err))
		return nil, err
	}
	defer rows.Close()

	var ids []uint
	for rows.Next() {
		var id uint
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
