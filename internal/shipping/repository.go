package shipping

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/seiixin/PakbetTV-sub001/internal/db"
	"github.com/seiixin/PakbetTV-sub001/internal/logger"

	"go.uber.org/zap"
)

type Repository interface {
	CreatePlaceholder(ctx context.Context, q db.Querier, orderID uint, carrier string) (*Shipment, error)
	GetByOrder(ctx context.Context, q db.Querier, orderID uint) (*Shipment, error)
	GetByTracking(ctx context.Context, q db.Querier, trackingNumber string) (*Shipment, error)
	SetBooked(ctx context.Context, q db.Querier, s *Shipment, res ShipmentResult) (bool, error)
	UpdateStatus(ctx context.Context, q db.Querier, shipmentID uint, status Status, at time.Time) error
	InsertEvent(ctx context.Context, q db.Querier, shipmentID uint, evt WebhookEvent) (bool, error)
}

type repository struct{}

func NewRepository() Repository {
	return &repository{}
}

const shipmentColumns = `
	id, order_id, tracking_number, carrier, carrier_ref, status, last_event_at, created_at, updated_at`

func scanShipment(row *sql.Row) (*Shipment, error) {
	var (
		s        Shipment
		tracking sql.NullString
		ref      sql.NullString
		lastAt   sql.NullTime
	)
	err := row.Scan(&s.ID, &s.OrderID, &tracking, &s.Carrier, &ref, &s.Status, &lastAt, &s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if tracking.Valid {
		s.TrackingNumber = &tracking.String
	}
	if ref.Valid {
		s.CarrierRef = &ref.String
	}
	if lastAt.Valid {
		s.LastEventAt = &lastAt.Time
	}
	return &s, nil
}

func (r *repository) CreatePlaceholder(ctx context.Context, q db.Querier, orderID uint, carrier string) (*Shipment, error) {
	s := &Shipment{OrderID: orderID, Carrier: carrier, Status: StatusPending}
	err := q.QueryRowContext(ctx, `
		INSERT INTO shipments (order_id, carrier, status)
		VALUES ($1, $2, $3)
		RETURNING id, created_at, updated_at
	`, orderID, carrier, StatusPending).Scan(&s.ID, &s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		logger.FromCtx(ctx).Error("failed to insert shipment",
			zap.String("layer", "repository"),
			zap.Uint("order_id", orderID),
			zap.Error(err),
		)
		return nil, err
	}
	return s, nil
}

// GetByOrder returns nil when the order has no shipment row.
func (r *repository) GetByOrder(ctx context.Context, q db.Querier, orderID uint) (*Shipment, error) {
	s, err := scanShipment(q.QueryRowContext(ctx, `
		SELECT `+shipmentColumns+` FROM shipments WHERE order_id = $1
	`, orderID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return s, err
}

// GetByTracking locks the shipment row. Returns nil for unknown tracking
// numbers.
func (r *repository) GetByTracking(ctx context.Context, q db.Querier, trackingNumber string) (*Shipment, error) {
	s, err := scanShipment(q.QueryRowContext(ctx, `
		SELECT `+shipmentColumns+` FROM shipments WHERE tracking_number = $1 FOR UPDATE
	`, trackingNumber))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return s, err
}

// SetBooked stores the carrier's tracking number on the shipment and the
// order. It reports false when another booking already won.
func (r *repository) SetBooked(ctx context.Context, q db.Querier, s *Shipment, res ShipmentResult) (bool, error) {
	log := logger.FromCtx(ctx).With(
		zap.String("layer", "repository"),
		zap.Uint("order_id", s.OrderID),
		zap.String("tracking_number", res.TrackingNumber),
	)

	out, err := q.ExecContext(ctx, `
		UPDATE shipments
		SET tracking_number = $2, carrier_ref = NULLIF($3, ''), updated_at = NOW()
		WHERE id = $1 AND tracking_number IS NULL
	`, s.ID, res.TrackingNumber, res.CarrierReference)
	if err != nil {
		log.Error("failed to store tracking number", zap.Error(err))
		return false, err
	}
	if n, _ := out.RowsAffected(); n == 0 {
		return false, nil
	}

	if _, err := q.ExecContext(ctx, `
		UPDATE orders SET tracking_number = $2, updated_at = NOW() WHERE id = $1
	`, s.OrderID, res.TrackingNumber); err != nil {
		log.Error("failed to copy tracking number to order", zap.Error(err))
		return false, err
	}

	s.TrackingNumber = &res.TrackingNumber
	if res.CarrierReference != "" {
		s.CarrierRef = &res.CarrierReference
	}
	return true, nil
}

func (r *repository) UpdateStatus(ctx context.Context, q db.Querier, shipmentID uint, status Status, at time.Time) error {
	_, err := q.ExecContext(ctx, `
		UPDATE shipments
		SET status = $2, last_event_at = $3, updated_at = NOW()
		WHERE id = $1
	`, shipmentID, status, at)
	return err
}

// InsertEvent appends a tracking event. A repeat of the same
// (tracking number, event type, idempotency key) is ignored and reported as
// false.
func (r *repository) InsertEvent(ctx context.Context, q db.Querier, shipmentID uint, evt WebhookEvent) (bool, error) {
	payload := []byte(evt.Payload)
	if len(payload) == 0 {
		payload = []byte("{}")
	}

	var id uint
	err := q.QueryRowContext(ctx, `
		INSERT INTO tracking_events (shipment_id, tracking_number, event_type, occurred_at, dedupe_key, payload)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (tracking_number, event_type, dedupe_key) DO NOTHING
		RETURNING id
	`, shipmentID, evt.TrackingNumber, evt.EventType, evt.OccurredAt, evt.IdempotencyKey(), payload).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		logger.FromCtx(ctx).Error("failed to insert tracking event",
			zap.String("layer", "repository"),
			zap.String("tracking_number", evt.TrackingNumber),
			zap.Error(err),
		)
		return false, err
	}
	return true, nil
}
