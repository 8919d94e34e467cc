package promotion

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/seiixin/PakbetTV-sub001/internal/db"
	"github.com/seiixin/PakbetTV-sub001/internal/logger"

	"github.com/lib/pq"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type Repository interface {
	GetByCode(ctx context.Context, code string) (*Promotion, error)
	ListAutoApply(ctx context.Context, now time.Time) ([]Promotion, error)
	CountUsages(ctx context.Context, promotionID, userID uint) (total int, byUser int, err error)
	SaveOrderPromotions(ctx context.Context, q db.Querier, orderID uint, applied []AppliedPromotion) error
	RecordUsage(ctx context.Context, q db.Querier, orderID, userID uint) (int, error)
}

type repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) Repository {
	return &repository{db: db}
}

const promotionColumns = `
	id, code, name, promo_type, discount_kind, discount_value, max_discount,
	min_order, target, target_ids, starts_at, ends_at, usage_limit,
	per_user_limit, used_count, active, priority`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPromotion(s rowScanner) (*Promotion, error) {
	var (
		p            Promotion
		code         sql.NullString
		maxDiscount  decimal.NullDecimal
		endsAt       sql.NullTime
		usageLimit   sql.NullInt64
		perUserLimit sql.NullInt64
		targetIDs    pq.Int64Array
	)

	if err := s.Scan(
		&p.ID, &code, &p.Name, &p.Type, &p.Kind, &p.Value, &maxDiscount,
		&p.MinOrder, &p.Target, &targetIDs, &p.StartsAt, &endsAt, &usageLimit,
		&perUserLimit, &p.UsedCount, &p.Active, &p.Priority,
	); err != nil {
		return nil, err
	}

	if code.Valid {
		p.Code = &code.String
	}
	if maxDiscount.Valid {
		p.MaxDiscount = &maxDiscount.Decimal
	}
	if endsAt.Valid {
		p.EndsAt = &endsAt.Time
	}
	if usageLimit.Valid {
		v := int(usageLimit.Int64)
		p.UsageLimit = &v
	}
	if perUserLimit.Valid {
		v := int(perUserLimit.Int64)
		p.PerUserLimit = &v
	}
	p.TargetIDs = []int64(targetIDs)
	return &p, nil
}

// GetByCode returns nil, nil when no promotion carries the code.
func (r *repository) GetByCode(ctx context.Context, code string) (*Promotion, error) {
	log := logger.FromCtx(ctx).With(
		zap.String("layer", "repository"),
		zap.String("method", "GetByCode"),
		zap.String("code", code),
	)

	row := r.db.QueryRowContext(ctx,
		`SELECT `+promotionColumns+` FROM promotions WHERE UPPER(code) = UPPER($1)`, code)

	p, err := scanPromotion(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		log.Error("failed to load promotion", zap.Error(err))
		return nil, err
	}
	return p, nil
}

// ListAutoApply returns code-less promotions inside their window, highest
// priority first.
func (r *repository) ListAutoApply(ctx context.Context, now time.Time) ([]Promotion, error) {
	log := logger.FromCtx(ctx).With(
		zap.String("layer", "repository"),
		zap.String("method", "ListAutoApply"),
	)

	rows, err := r.db.QueryContext(ctx, `
		SELECT `+promotionColumns+`
		FROM promotions
		WHERE active = TRUE
		  AND code IS NULL
		  AND starts_at <= $1
		  AND (ends_at IS NULL OR ends_at >= $1)
		ORDER BY priority DESC, id ASC
	`, now)
	if err != nil {
		log.Error("failed to list promotions", zap.Error(err))
		return nil, err
	}
	defer rows.Close()

	var promos []Promotion
	for rows.Next() {
		p, err := scanPromotion(rows)
		if err != nil {
			log.Error("failed to scan promotion", zap.Error(err))
			return nil, err
		}
		promos = append(promos, *p)
	}
	return promos, rows.Err()
}

func (r *repository) CountUsages(ctx context.Context, promotionID, userID uint) (int, int, error) {
	var total, byUser int
	err := r.db.QueryRowContext(ctx, `
		SELECT COUNT(*), COUNT(*) FILTER (WHERE user_id = $2)
		FROM promotion_usages
		WHERE promotion_id = $1
	`, promotionID, userID).Scan(&total, &byUser)
	if err != nil {
		logger.FromCtx(ctx).Error("failed to count promotion usage",
			zap.String("layer", "repository"),
			zap.Uint("promotion_id", promotionID),
			zap.Error(err),
		)
		return 0, 0, err
	}
	return total, byUser, nil
}

func (r *repository) SaveOrderPromotions(ctx context.Context, q db.Querier, orderID uint, applied []AppliedPromotion) error {
	for _, a := range applied {
		if _, err := q.ExecContext(ctx, `
			INSERT INTO order_promotions (order_id, promotion_id, discount_amount, shipping_discount)
			VALUES ($1, $2, $3, $4)
		`, orderID, a.PromotionID, a.Discount, a.ShippingDiscount); err != nil {
			logger.FromCtx(ctx).Error("failed to attach promotion",
				zap.String("layer", "repository"),
				zap.Uint("order_id", orderID),
				zap.Uint("promotion_id", a.PromotionID),
				zap.Error(err),
			)
			return err
		}
	}
	return nil
}

// RecordUsage turns the promotions attached to an order into usage rows and
// bumps their counters. Rows already recorded for the order are skipped, so
// a replayed payment confirmation does not count twice.
func (r *repository) RecordUsage(ctx context.Context, q db.Querier, orderID, userID uint) (int, error) {
	log := logger.FromCtx(ctx).With(
		zap.String("layer", "repository"),
		zap.String("method", "RecordUsage"),
		zap.Uint("order_id", orderID),
	)

	rows, err := q.QueryContext(ctx, `
		INSERT INTO promotion_usages (promotion_id, user_id, order_id, discount_amount, shipping_discount_amount)
		SELECT promotion_id, $2, order_id, discount_amount, shipping_discount
		FROM order_promotions
		WHERE order_id = $1
		ON CONFLICT (promotion_id, order_id) DO NOTHING
		RETURNING promotion_id
	`, orderID, userID)
	if err != nil {
		log.Error("failed to insert promotion usage", zap.Error(err))
		return 0, err
	}

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return 0, err
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, err
	}

	if len(ids) == 0 {
		return 0, nil
	}

	if _, err := q.ExecContext(ctx,
		`UPDATE promotions SET used_count = used_count + 1 WHERE id = ANY($1)`,
		pq.Array(ids)); err != nil {
		log.Error("failed to bump promotion counters", zap.Error(err))
		return 0, err
	}

	log.Info("promotion usage recorded", zap.Int("count", len(ids)))
	return len(ids), nil
}
