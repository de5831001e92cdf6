package usagelog

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Pruner deletes usage log rows created before a cutoff
type Pruner interface {
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

// Sweeper periodically removes usage log rows older than the retention window
type Sweeper struct {
	pruner    Pruner
	retention time.Duration
	logger    *zap.Logger
	now       func() time.Time
}

// SweeperOption configures a Sweeper
type SweeperOption func(*Sweeper)

// WithSweeperClock overrides the clock used to compute the cutoff
func WithSweeperClock(now func() time.Time) SweeperOption {
	return func(s *Sweeper) {
		s.now = now
	}
}

// NewSweeper creates a sweeper keeping rows for retention
func NewSweeper(pruner Pruner, retention time.Duration, logger *zap.Logger, opts ...SweeperOption) *Sweeper {
	s := &Sweeper{
		pruner:    pruner,
		retention: retention,
		logger:    logger,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Sweep deletes every row older than the retention window once
func (s *Sweeper) Sweep(ctx context.Context) (int64, error) {
	return s.pruner.DeleteOlderThan(ctx, s.now().Add(-s.retention))
}

// Run sweeps once immediately and then every interval until ctx is cancelled
func (s *Sweeper) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.logger.Info("started usage log retention worker",
		zap.Duration("interval", interval),
		zap.Duration("retention", s.retention))

	s.sweep(ctx)
	for {
		select {
		case <-ticker.C:
			s.sweep(ctx)
		case <-ctx.Done():
			s.logger.Info("stopping usage log retention worker")
			return
		}
	}
}

func (s *Sweeper) sweep(ctx context.Context) {
	if _, err := s.Sweep(ctx); err != nil && ctx.Err() == nil {
		s.logger.Error("failed to prune usage logs", zap.Error(err))
	}
}
