package webhook

import (
	"context"
	"encoding/json"

	"github.com/seiixin/PakbetTV-sub001/internal/db"
	"github.com/seiixin/PakbetTV-sub001/internal/logger"

	"go.uber.org/zap"
)

// Repository writes the append-only webhook audit trail.
type Repository interface {
	Save(ctx context.Context, l Log) (int64, error)
	MarkProcessed(ctx context.Context, id int64, outcome string) error
	MarkFailed(ctx context.Context, id int64, outcome, reason string) error
}

type repository struct {
	db db.Querier
}

func NewRepository(q db.Querier) Repository {
	return &repository{db: q}
}

func (r *repository) Save(ctx context.Context, l Log) (int64, error) {
	log := logger.FromCtx(ctx).With(
		zap.String("layer", "repository"),
		zap.String("method", "Save"),
		zap.String("source", l.Source),
	)

	payload := l.Payload
	if !json.Valid(payload) {
		payload, _ = json.Marshal(map[string]string{"raw": string(l.Payload)})
	}

	const q = `
	INSERT INTO webhook_logs (source, event_type, reference, signature_valid, rate_limited, payload)
	VALUES ($1, $2, $3, $4, $5, $6)
	RETURNING id;
	`

	var id int64
	err := r.db.QueryRowContext(ctx, q,
		l.Source,
		l.EventType,
		l.Reference,
		l.SignatureValid,
		l.RateLimited,
		[]byte(payload),
	).Scan(&id)
	if err != nil {
		log.Error("failed to save webhook log", zap.Error(err))
		return 0, err
	}
	return id, nil
}

func (r *repository) MarkProcessed(ctx context.Context, id int64, outcome string) error {
	const q = `
	UPDATE webhook_logs
	SET outcome = $2, processed_at = NOW()
	WHERE id = $1;
	`

	_, err := r.db.ExecContext(ctx, q, id, outcome)
	return err
}

func (r *repository) MarkFailed(ctx context.Context, id int64, outcome, reason string) error {
	const q = `
	UPDATE webhook_logs
	SET outcome = $2, process_error = $3, processed_at = NOW()
	WHERE id = $1;
	`

	_, err := r.db.ExecContext(ctx, q, id, outcome, reason)
	return err
}
