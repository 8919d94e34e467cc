package payment

import (
	"context"
	"database/sql"
	"errors"

	"github.com/seiixin/PakbetTV-sub001/internal/db"
	"github.com/seiixin/PakbetTV-sub001/internal/logger"

	"go.uber.org/zap"
)

// Repository stores payment attempts. Every method takes the querier so
// callers can keep payment and order updates in one transaction.
type Repository interface {
	Create(ctx context.Context, q db.Querier, p *Payment) error
	GetLatestByOrder(ctx context.Context, q db.Querier, orderID uint) (*Payment, error)
	GetByTransactionID(ctx context.Context, q db.Querier, txnID string) (*Payment, error)
	MarkPending(ctx context.Context, q db.Querier, paymentID uint, paymentURL string) error
	UpdateStatus(ctx context.Context, q db.Querier, paymentID uint, status Status, refNo, message string) (bool, error)
	FailOpenAttempts(ctx context.Context, q db.Querier, orderID uint, message string) (int64, error)
}

type repository struct{}

func NewRepository() Repository {
	return &repository{}
}

const paymentColumns = `
	id, order_id, transaction_id, reference_number, amount, currency, status,
	payment_method, payment_url, gateway_message, created_at, updated_at`

func scanPayment(row *sql.Row) (*Payment, error) {
	var (
		p       Payment
		refNo   sql.NullString
		payURL  sql.NullString
		message sql.NullString
	)
	err := row.Scan(
		&p.ID, &p.OrderID, &p.TransactionID, &refNo, &p.Amount, &p.Currency, &p.Status,
		&p.PaymentMethod, &payURL, &message, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if refNo.Valid {
		p.ReferenceNumber = &refNo.String
	}
	if payURL.Valid {
		p.PaymentURL = &payURL.String
	}
	if message.Valid {
		p.GatewayMessage = &message.String
	}
	return &p, nil
}

func (r *repository) Create(ctx context.Context, q db.Querier, p *Payment) error {
	if p.Status == "" {
		p.Status = StatusInitiated
	}

	err := q.QueryRowContext(ctx, `
		INSERT INTO payments (order_id, transaction_id, amount, currency, status, payment_method, payment_url)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, created_at, updated_at
	`, p.OrderID, p.TransactionID, p.Amount, p.Currency, p.Status, p.PaymentMethod, p.PaymentURL,
	).Scan(&p.ID, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		logger.FromCtx(ctx).Error("failed to insert payment",
			zap.String("layer", "repository"),
			zap.Uint("order_id", p.OrderID),
			zap.String("txn_id", p.TransactionID),
			zap.Error(err),
		)
		return err
	}
	return nil
}

// GetLatestByOrder returns the most recent attempt, or nil when the order
// has none.
func (r *repository) GetLatestByOrder(ctx context.Context, q db.Querier, orderID uint) (*Payment, error) {
	p, err := scanPayment(q.QueryRowContext(ctx, `
		SELECT `+paymentColumns+`
		FROM payments
		WHERE order_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT 1
	`, orderID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return p, err
}

// GetByTransactionID locks the payment row. Returns nil when unknown.
func (r *repository) GetByTransactionID(ctx context.Context, q db.Querier, txnID string) (*Payment, error) {
	p, err := scanPayment(q.QueryRowContext(ctx, `
		SELECT `+paymentColumns+`
		FROM payments
		WHERE transaction_id = $1
		FOR UPDATE
	`, txnID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		logger.FromCtx(ctx).Error("failed to load payment",
			zap.String("layer", "repository"),
			zap.String("txn_id", txnID),
			zap.Error(err),
		)
	}
	return p, err
}

func (r *repository) MarkPending(ctx context.Context, q db.Querier, paymentID uint, paymentURL string) error {
	_, err := q.ExecContext(ctx, `
		UPDATE payments
		SET status = 'pending', payment_url = $2, updated_at = NOW()
		WHERE id = $1
	`, paymentID, paymentURL)
	return err
}

// UpdateStatus only writes when the status actually changes and reports
// whether it did.
func (r *repository) UpdateStatus(ctx context.Context, q db.Querier, paymentID uint, status Status, refNo, message string) (bool, error) {
	res, err := q.ExecContext(ctx, `
		UPDATE payments
		SET status = $2,
		    reference_number = COALESCE(NULLIF($3, ''), reference_number),
		    gateway_message = NULLIF($4, ''),
		    updated_at = NOW()
		WHERE id = $1 AND status <> $2
	`, paymentID, status, refNo, message)
	if err != nil {
		logger.FromCtx(ctx).Error("failed to update payment status",
			zap.String("layer", "repository"),
			zap.Uint("payment_id", paymentID),
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

// FailOpenAttempts closes every initiated or pending attempt of an order
// that is being cancelled without a gateway verdict.
func (r *repository) FailOpenAttempts(ctx context.Context, q db.Querier, orderID uint, message string) (int64, error) {
	res, err := q.ExecContext(ctx, `
		UPDATE payments
		SET status = 'failed', gateway_message = $2, updated_at = NOW()
		WHERE order_id = $1 AND status IN ('initiated', 'pending')
	`, orderID, message)
	if err != nil {
		logger.FromCtx(ctx).Error("failed to close open payments",
			zap.String("layer", "repository"),
			zap.Uint("order_id", orderID),
			zap.Error(err),
		)
		return 0, err
	}
	return res.RowsAffected()
}
