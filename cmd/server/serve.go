package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/Azarenkov/aitu-keeper/internal/migrate"
	grpcserver "github.com/Azarenkov/aitu-keeper/internal/server/grpc"
	"github.com/Azarenkov/aitu-keeper/internal/telemetry"
	"github.com/Azarenkov/aitu-keeper/internal/worker"
)

const (
	healthProbeInterval = 5 * time.Second
	metricsReadTimeout  = 10 * time.Second
)

func (a *app) serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run migrations and start the sync loops",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.serve(cmd.Context())
		},
	}
}

func (a *app) serve(ctx context.Context) error {
	log := a.log
	log.Info("starting",
		zap.String("version", version),
		zap.String("buildDate", buildDate),
		zap.String("health", a.cfg.Health.Addr),
	)

	if err := a.cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if err := migrate.Up(ctx, a.cfg.Database.DSN); err != nil {
		return fmt.Errorf("migrate up: %w", err)
	}

	tp, err := telemetry.NewPrometheusProvider(a.cfg.Metrics.Enabled)
	if err != nil {
		return fmt.Errorf("metrics provider: %w", err)
	}
	defer func() { _ = tp.Shutdown() }()
	metrics, err := telemetry.NewMetrics(tp.MeterProvider)
	if err != nil {
		return fmt.Errorf("metrics: %w", err)
	}

	sender, err := a.newSender()
	if err != nil {
		return fmt.Errorf("push sender: %w", err)
	}
	d, err := a.wire(ctx, sender, metrics)
	if err != nil {
		return err
	}
	defer d.db.Close()

	sc := a.cfg.Scheduler
	scheduler := worker.NewBatchScheduler(d.accounts, d.notifier, worker.SchedulerConfig{
		BatchSize: sc.BatchSize,
		Workers:   sc.Workers,
		IdleDelay: sc.IdleDelay,
	}, metrics, log.Named("scheduler"))
	sweeper := worker.NewSweeper(d.snapshots, a.cfg.Sweeper.Interval, metrics, log.Named("sweeper"))

	health := grpcserver.New(log.Named("grpc"))
	lis, err := net.Listen("tcp", a.cfg.Health.Addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", a.cfg.Health.Addr, err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return scheduler.Run(gctx) })
	g.Go(func() error { return sweeper.Run(gctx) })
	g.Go(func() error { return health.Serve(gctx, lis) })
	g.Go(func() error {
		health.Watch(gctx, d.db, healthProbeInterval)
		return nil
	})
	if a.cfg.Metrics.Enabled {
		g.Go(func() error { return serveMetrics(gctx, a.cfg.Metrics.Addr, tp.Handler, log) })
	}

	err = g.Wait()
	log.Info("shutdown complete")
	return err
}

// serveMetrics exposes handler on addr at /metrics until ctx is cancelled.
func serveMetrics(ctx context.Context, addr string, handler http.Handler, log *zap.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", handler)
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: metricsReadTimeout}

	errCh := make(chan error, 1)
	go func() {
		log.Info("metrics listening", zap.String("addr", addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		sctx, cancel := context.WithTimeout(context.Background(), grpcserver.StopTimeout)
		defer cancel()
		return srv.Shutdown(sctx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("metrics server: %w", err)
	}
}
