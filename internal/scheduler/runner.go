package scheduler

import (
	"context"
	"errors"
	"time"

	"github.com/seiixin/PakbetTV-sub001/internal/logger"

	"go.uber.org/zap"
)

// Every runs job immediately and then on each tick until ctx is cancelled.
// Run errors are logged; they never stop the loop.
func Every(ctx context.Context, job Job, interval time.Duration) error {
	log := logger.FromCtx(ctx).With(
		zap.String("layer", "scheduler"),
		zap.String("job", job.Name()),
	)
	log.Info("scheduler started", zap.Duration("interval", interval))

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if _, err := job.Run(ctx); errors.Is(err, ErrAlreadyRunning) {
			log.Info("previous run still in progress, tick skipped")
		}

		select {
		case <-ctx.Done():
			log.Info("scheduler stopped")
			return nil
		case <-ticker.C:
		}
	}
}
