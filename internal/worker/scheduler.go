// Package worker runs the long-lived background loops: the batch scheduler and the
// deadline retention sweeper.
package worker

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/gofrs/uuid/v5"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/Azarenkov/aitu-keeper/internal/crypto"
	"github.com/Azarenkov/aitu-keeper/internal/model"
	"github.com/Azarenkov/aitu-keeper/internal/telemetry"
)

// Pager lists registered accounts page by page.
type Pager interface {
	ListPage(ctx context.Context, limit, skip int) ([]model.Account, error)
}

// Dispatcher syncs one account.
type Dispatcher interface {
	Dispatch(ctx context.Context, account model.Account) error
}

// SchedulerConfig tunes the batch scheduler.
type SchedulerConfig struct {
	BatchSize int           // accounts per page
	Workers   int           // concurrent dispatches per page
	IdleDelay time.Duration // pause after an empty page or a page error
}

// BatchScheduler walks the account list forever, dispatching every page with bounded
// concurrency. The skip cursor is owned by the scheduler and is not safe for concurrent
// RunOnce calls.
type BatchScheduler struct {
	accounts   Pager
	dispatcher Dispatcher
	cfg        SchedulerConfig
	metrics    *telemetry.Metrics
	log        *zap.Logger

	skip int
}

// NewBatchScheduler constructs a scheduler. Non-positive sizes fall back to 1.
func NewBatchScheduler(accounts Pager, dispatcher Dispatcher, cfg SchedulerConfig, metrics *telemetry.Metrics, log *zap.Logger) *BatchScheduler {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 1
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.IdleDelay <= 0 {
		cfg.IdleDelay = time.Second
	}
	return &BatchScheduler{accounts: accounts, dispatcher: dispatcher, cfg: cfg, metrics: metrics, log: log}
}

// Skip returns the current cursor.
func (s *BatchScheduler) Skip() int { return s.skip }

// Run loops until ctx is cancelled.
func (s *BatchScheduler) Run(ctx context.Context) error {
	s.log.Info("batch scheduler started",
		zap.Int("batch_size", s.cfg.BatchSize),
		zap.Int("workers", s.cfg.Workers),
	)
	for ctx.Err() == nil {
		n, err := s.RunOnce(ctx)
		if err != nil {
			s.log.Error("batch failed", zap.Error(err))
		}
		if err != nil || n == 0 {
			select {
			case <-ctx.Done():
			case <-time.After(s.cfg.IdleDelay):
			}
		}
	}
	s.log.Info("batch scheduler stopped")
	return nil
}

// RunOnce reads one page at the cursor, advances the cursor and dispatches every account
// of the page, waiting for all of them. Dispatch errors are logged only.
// An empty page or a read error resets the cursor to zero.
func (s *BatchScheduler) RunOnce(ctx context.Context) (int, error) {
	page, err := s.accounts.ListPage(ctx, s.cfg.BatchSize, s.skip)
	if err != nil {
		s.skip = 0
		return 0, fmt.Errorf("list accounts: %w", err)
	}
	if len(page) == 0 {
		s.skip = 0
		return 0, nil
	}
	s.skip += len(page)

	log := s.log.With(zap.String("cycle", cycleID()))
	start := time.Now()

	var g errgroup.Group
	g.SetLimit(s.cfg.Workers)
	for _, acc := range page {
		g.Go(func() error {
			defer func() {
				if r := recover(); r != nil {
					log.Error("panic",
						zap.Any("reason", r),
						zap.ByteString("stack", debug.Stack()),
						zap.String("account", crypto.Fingerprint(acc.ID)),
					)
				}
			}()
			if err := s.dispatcher.Dispatch(ctx, acc); err != nil {
				log.Warn("account sync failed", zap.String("account", crypto.Fingerprint(acc.ID)), zap.Error(err))
			}
			return nil
		})
	}
	_ = g.Wait()

	s.metrics.BatchDispatched(ctx, len(page))
	log.Info("batch done",
		zap.Int("accounts", len(page)),
		zap.Int("skip", s.skip),
		zap.Duration("dur", time.Since(start)),
	)
	return len(page), nil
}

func cycleID() string {
	id, err := uuid.NewV4()
	if err != nil {
		return ""
	}
	return id.String()
}
