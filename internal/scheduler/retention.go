package scheduler

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/apiwatch/apiwatch/internal/metrics"
	"github.com/apiwatch/apiwatch/internal/repo"
)

// Sweeper deletes check results older than the retention window.
type Sweeper struct {
	log     *zap.Logger
	results repo.ResultStore
	days    int
	every   time.Duration
}

func NewSweeper(log *zap.Logger, results repo.ResultStore, days int, every time.Duration) *Sweeper {
	if every <= 0 {
		every = 12 * time.Hour
	}
	return &Sweeper{
		log:     log,
		results: results,
		days:    days,
		every:   every,
	}
}

func (s *Sweeper) Run(ctx context.Context) error {
	if s.days <= 0 {
		s.log.Info("retention_disabled")
		return nil
	}

	t := time.NewTicker(s.every)
	defer t.Stop()

	s.sweepOnce(ctx)

	for {
		select {
		case <-ctx.Done():
			s.log.Info("retention_stopped")
			return ctx.Err()
		case <-t.C:
			s.sweepOnce(ctx)
		}
	}
}

func (s *Sweeper) sweepOnce(ctx context.Context) {
	n, err := s.results.PurgeOlderThan(ctx, s.days)
	if err != nil {
		metrics.StoreErrors.WithLabelValues("purge").Inc()
		s.log.Warn("retention_purge_error", zap.Error(err))
		return
	}
	if n > 0 {
		metrics.ResultsPurged.Add(float64(n))
		s.log.Info("retention_purged",
			zap.Int64("deleted", n),
			zap.Int("days", s.days),
		)
	}
}
