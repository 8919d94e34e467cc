package address

import (
	"context"
	"database/sql"
	"errors"

	"github.com/seiixin/PakbetTV-sub001/internal/db"
	"github.com/seiixin/PakbetTV-sub001/internal/logger"

	"go.uber.org/zap"
)

type Repository interface {
	Create(ctx context.Context, q db.Querier, d *Detail) error
	GetByID(ctx context.Context, q db.Querier, id uint) (*Detail, error)
}

type repository struct{}

func NewRepository() Repository {
	return &repository{}
}

func (r *repository) Create(ctx context.Context, q db.Querier, d *Detail) error {
	log := logger.FromCtx(ctx).With(
		zap.String("repo", "Address"),
		zap.String("method", "Create"),
		zap.Uint("user_id", d.UserID),
	)

	const query = `
		INSERT INTO shipping_details (
			user_id, recipient_name, phone, email,
			address1, address2, barangay, city, province, region, postcode, country,
			legacy_address
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		RETURNING id
	`

	err := q.QueryRowContext(ctx, query,
		d.UserID, d.RecipientName, d.Phone, d.Email,
		d.Address1, d.Address2, d.Barangay, d.City, d.Province, d.Region, d.Postcode, d.Country,
		d.LegacyAddress,
	).Scan(&d.ID)
	if err != nil {
		log.Error("insert failed", zap.Error(err))
		return err
	}
	return nil
}

func (r *repository) GetByID(ctx context.Context, q db.Querier, id uint) (*Detail, error) {
	log := logger.FromCtx(ctx).With(
		zap.String("repo", "Address"),
		zap.String("method", "GetByID"),
		zap.Uint("shipping_detail_id", id),
	)

	const query = `
		SELECT
			id, user_id, recipient_name, phone, email,
			address1, address2, barangay, city, province, region, postcode, country,
			legacy_address
		FROM shipping_details
		WHERE id = $1
	`

	var (
		d      Detail
		legacy sql.NullString
	)
	err := q.QueryRowContext(ctx, query, id).Scan(
		&d.ID, &d.UserID, &d.RecipientName, &d.Phone, &d.Email,
		&d.Address1, &d.Address2, &d.Barangay, &d.City, &d.Province, &d.Region, &d.Postcode, &d.Country,
		&legacy,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		log.Error("query failed", zap.Error(err))
		return nil, err
	}
	if legacy.Valid {
		d.LegacyAddress = &legacy.String
	}
	return &d, nil
}
