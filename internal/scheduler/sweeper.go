package scheduler

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/seiixin/PakbetTV-sub001/internal/logger"
	"github.com/seiixin/PakbetTV-sub001/internal/metrics"

	"go.uber.org/zap"
)

const defaultBatch = 500

// sweeper holds what both jobs share: the overlap guard, the pause between
// orders and metric reporting.
type sweeper struct {
	name    string
	delay   time.Duration
	batch   int
	metrics *metrics.Metrics
	running atomic.Bool
}

func (s *sweeper) Name() string { return s.name }

// sweep applies fn to ids one at a time. It stops early when ctx is done and
// returns the partial result with ctx's error.
func (s *sweeper) sweep(ctx context.Context, ids []uint, fn func(ctx context.Context, id uint) (bool, error)) (*Result, error) {
	log := logger.FromCtx(ctx).With(
		zap.String("layer", "scheduler"),
		zap.String("job", s.name),
	)

	res := &Result{Job: s.name, Scanned: len(ids)}
	for i, id := range ids {
		if i > 0 && s.delay > 0 {
			if err := pause(ctx, s.delay); err != nil {
				return res, err
			}
		}
		if err := ctx.Err(); err != nil {
			return res, err
		}

		ok, err := fn(ctx, id)
		switch {
		case err != nil:
			res.Failed++
			s.metrics.SchedulerItem(s.name, "failed")
			log.Error("order failed", zap.Uint("order_id", id), zap.Error(err))
		case ok:
			res.Processed++
			s.metrics.SchedulerItem(s.name, "processed")
		default:
			res.Skipped++
			s.metrics.SchedulerItem(s.name, "skipped")
		}
	}
	return res, nil
}

// guarded runs body unless another run of the same job is in progress.
func (s *sweeper) guarded(ctx context.Context, body func(ctx context.Context) (*Result, error)) (*Result, error) {
	if !s.running.CompareAndSwap(false, true) {
		s.metrics.SchedulerRun(s.name, "overlap")
		return nil, ErrAlreadyRunning
	}
	defer s.running.Store(false)

	ctx = logger.WithFields(ctx, zap.String("job", s.name))
	start := time.Now()
	res, err := body(ctx)
	if res != nil {
		res.Duration = time.Since(start)
	}

	log := logger.FromCtx(ctx).With(zap.String("layer", "scheduler"))
	if err != nil {
		s.metrics.SchedulerRun(s.name, "error")
		log.Error("run failed", zap.Error(err))
		return res, err
	}

	s.metrics.SchedulerRun(s.name, "ok")
	if res.Scanned > 0 {
		log.Info("run finished",
			zap.Int("scanned", res.Scanned),
			zap.Int("processed", res.Processed),
			zap.Int("skipped", res.Skipped),
			zap.Int("failed", res.Failed),
			zap.Duration("duration", res.Duration),
		)
	}
	if res.Scanned == s.batch {
		log.Warn("batch limit reached, remaining orders wait for the next run", zap.Int("batch", s.batch))
	}
	return res, nil
}

func pause(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
