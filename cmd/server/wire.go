package main

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/Azarenkov/aitu-keeper/internal/limiter"
	"github.com/Azarenkov/aitu-keeper/internal/provider"
	"github.com/Azarenkov/aitu-keeper/internal/push"
	"github.com/Azarenkov/aitu-keeper/internal/repository/postgres"
	"github.com/Azarenkov/aitu-keeper/internal/service"
	"github.com/Azarenkov/aitu-keeper/internal/telemetry"
)

// deps is everything the services are built from.
type deps struct {
	db        *postgres.DB
	accounts  *postgres.AccountRepo
	snapshots *postgres.SnapshotRepo
	moodle    *provider.MoodleClient
	notifier  *service.NotificationServiceImpl
	accSvc    *service.AccountServiceImpl
}

// wire opens the pool and builds repositories and services. The caller closes d.db.
func (a *app) wire(ctx context.Context, sender push.Sender, metrics *telemetry.Metrics) (*deps, error) {
	if err := a.cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	db, err := postgres.New(ctx, a.cfg.Database.DSN)
	if err != nil {
		return nil, fmt.Errorf("open pool: %w", err)
	}

	d := &deps{
		db:        db,
		accounts:  postgres.NewAccountRepo(db),
		snapshots: postgres.NewSnapshotRepo(db),
	}
	pc := a.cfg.Provider
	d.moodle = provider.NewMoodleClient(
		provider.Config{BaseURL: pc.BaseURL, Format: pc.Format, Timeout: pc.Timeout},
		a.log.Named("moodle"),
		provider.WithLimiter(limiter.New(pc.RPS, pc.Burst)),
		provider.WithMetrics(metrics),
	)
	d.notifier = service.NewNotificationService(d.moodle, d.snapshots, sender, metrics, a.log.Named("notify"))
	d.accSvc = service.NewAccountService(d.accounts, d.moodle, d.notifier, a.log.Named("accounts"))
	return d, nil
}

// newSender returns an FCM sender when credentials are configured and a logging sender otherwise.
func (a *app) newSender() (push.Sender, error) {
	pc := a.cfg.Push
	sa, err := push.LoadServiceAccount(pc.ServiceAccountKey, pc.ServiceAccountFile)
	if err != nil {
		return nil, err
	}
	if sa == nil {
		a.log.Warn("no push credentials configured, notifications are only logged")
		return push.NewLogSender(a.log.Named("push")), nil
	}
	s, err := push.NewFCMSender(sa, push.FCMOptions{Endpoint: pc.Endpoint, ProjectID: pc.ProjectID}, a.log.Named("push"))
	if err != nil {
		return nil, err
	}
	a.log.Info("fcm sender ready", zap.String("project", sa.ProjectID))
	return s, nil
}
