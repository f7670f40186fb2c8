// Package telemetry provides OpenTelemetry instruments for the sync engine.
package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// MeterName is the instrumentation scope of every keeper instrument.
const MeterName = "github.com/Azarenkov/aitu-keeper/sync"

// Metrics holds the keeper instruments. A nil *Metrics is valid and records nothing.
type Metrics struct {
	notificationsSent metric.Int64Counter
	stepFailures      metric.Int64Counter
	providerRetries   metric.Int64Counter
	deadlinesSwept    metric.Int64Counter
	batchAccounts     metric.Int64Counter
	syncDuration      metric.Float64Histogram
}

// NewMetrics creates the instruments on the given provider.
// If provider is nil, it returns nil (no-op metrics).
func NewMetrics(provider metric.MeterProvider) (*Metrics, error) {
	if provider == nil {
		return nil, nil
	}
	meter := provider.Meter(MeterName)

	var (
		m   Metrics
		err error
	)
	if m.notificationsSent, err = meter.Int64Counter(
		"keeper_notifications_sent_total",
		metric.WithDescription("Push notifications delivered, by entity kind"),
		metric.WithUnit("{notification}"),
	); err != nil {
		return nil, err
	}
	if m.stepFailures, err = meter.Int64Counter(
		"keeper_step_failures_total",
		metric.WithDescription("Failed dispatcher steps, by entity kind"),
		metric.WithUnit("{failure}"),
	); err != nil {
		return nil, err
	}
	if m.providerRetries, err = meter.Int64Counter(
		"keeper_provider_retries_total",
		metric.WithDescription("Provider requests retried after a transport failure"),
		metric.WithUnit("{retry}"),
	); err != nil {
		return nil, err
	}
	if m.deadlinesSwept, err = meter.Int64Counter(
		"keeper_deadlines_swept_total",
		metric.WithDescription("Accounts whose expired deadlines were purged"),
		metric.WithUnit("{account}"),
	); err != nil {
		return nil, err
	}
	if m.batchAccounts, err = meter.Int64Counter(
		"keeper_batch_accounts_total",
		metric.WithDescription("Accounts dispatched by the batch scheduler"),
		metric.WithUnit("{account}"),
	); err != nil {
		return nil, err
	}
	if m.syncDuration, err = meter.Float64Histogram(
		"keeper_account_sync_duration_seconds",
		metric.WithDescription("Duration of one account pipeline run"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120),
	); err != nil {
		return nil, err
	}
	return &m, nil
}

// NotificationSent counts one delivered notification of the given kind.
func (m *Metrics) NotificationSent(ctx context.Context, kind string) {
	if m == nil || m.notificationsSent == nil {
		return
	}
	m.notificationsSent.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", kind)))
}

// StepFailed counts one failed dispatcher step.
func (m *Metrics) StepFailed(ctx context.Context, step string) {
	if m == nil || m.stepFailures == nil {
		return
	}
	m.stepFailures.Add(ctx, 1, metric.WithAttributes(attribute.String("step", step)))
}

// ProviderRetried counts one retried provider request.
func (m *Metrics) ProviderRetried(ctx context.Context, function string) {
	if m == nil || m.providerRetries == nil {
		return
	}
	m.providerRetries.Add(ctx, 1, metric.WithAttributes(attribute.String("function", function)))
}

// DeadlinesSwept records how many accounts a sweep touched.
func (m *Metrics) DeadlinesSwept(ctx context.Context, accounts int64) {
	if m == nil || m.deadlinesSwept == nil {
		return
	}
	m.deadlinesSwept.Add(ctx, accounts)
}

// BatchDispatched records the size of one dispatched page.
func (m *Metrics) BatchDispatched(ctx context.Context, accounts int) {
	if m == nil || m.batchAccounts == nil {
		return
	}
	m.batchAccounts.Add(ctx, int64(accounts))
}

// RecordSync records the duration of one account pipeline run.
func (m *Metrics) RecordSync(ctx context.Context, notify bool, duration time.Duration, success bool) {
	if m == nil || m.syncDuration == nil {
		return
	}
	m.syncDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(
		attribute.Bool("notify", notify),
		attribute.Bool("success", success),
	))
}
