package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/Azarenkov/aitu-keeper/internal/deadlines"
	"github.com/Azarenkov/aitu-keeper/internal/telemetry"
)

// Retention is how long a deadline stays stored after it is due.
const Retention = 6 * time.Hour

// DeadlinePurger deletes stored deadlines due before a unix timestamp.
type DeadlinePurger interface {
	DeleteExpiredDeadlines(ctx context.Context, dueBefore int64) (int64, error)
}

// Sweeper periodically purges deadlines more than Retention in the past.
type Sweeper struct {
	repo     DeadlinePurger
	interval time.Duration
	metrics  *telemetry.Metrics
	log      *zap.Logger
	now      func() time.Time
}

// NewSweeper constructs a sweeper running every interval (6h when non-positive).
func NewSweeper(repo DeadlinePurger, interval time.Duration, metrics *telemetry.Metrics, log *zap.Logger) *Sweeper {
	if interval <= 0 {
		interval = 6 * time.Hour
	}
	return &Sweeper{repo: repo, interval: interval, metrics: metrics, log: log, now: time.Now}
}

// Sweep runs one purge and returns the number of accounts changed.
func (s *Sweeper) Sweep(ctx context.Context) (int64, error) {
	cutoff := s.now().Add(-Retention).Unix()
	n, err := s.repo.DeleteExpiredDeadlines(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("delete expired deadlines: %w", err)
	}
	s.metrics.DeadlinesSwept(ctx, n)
	return n, nil
}

// Run sweeps once immediately and then on a fixed schedule until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context) error {
	c := cron.New(cron.WithLocation(deadlines.Zone))
	if _, err := c.AddFunc("@every "+s.interval.String(), func() { s.sweepAndLog(ctx) }); err != nil {
		return fmt.Errorf("schedule sweeper: %w", err)
	}

	s.sweepAndLog(ctx)
	c.Start()
	s.log.Info("deadline sweeper started", zap.Duration("interval", s.interval))

	<-ctx.Done()
	<-c.Stop().Done()
	s.log.Info("deadline sweeper stopped")
	return nil
}

func (s *Sweeper) sweepAndLog(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	n, err := s.Sweep(ctx)
	if err != nil {
		s.log.Error("deadline sweep failed", zap.Error(err))
		return
	}
	s.log.Info("deadline sweep done", zap.Int64("accounts", n))
}
