package telemetry

import (
	"context"
	"net/http"

	promclient "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	otelprom "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

// Provider bundles a meter provider with the HTTP handler that exposes its metrics.
type Provider struct {
	MeterProvider metric.MeterProvider
	Handler       http.Handler
	shutdown      func() error
}

// Shutdown flushes and stops the meter provider.
func (p *Provider) Shutdown() error {
	if p == nil || p.shutdown == nil {
		return nil
	}
	return p.shutdown()
}

// NewPrometheusProvider returns a meter provider backed by a private Prometheus registry.
// When enabled is false it returns a no-op provider and a handler answering 404.
func NewPrometheusProvider(enabled bool) (*Provider, error) {
	if !enabled {
		return &Provider{MeterProvider: noop.NewMeterProvider(), Handler: http.NotFoundHandler()}, nil
	}

	reg := promclient.NewRegistry()
	exporter, err := otelprom.New(otelprom.WithRegisterer(reg))
	if err != nil {
		return nil, err
	}
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(exporter))
	otel.SetMeterProvider(mp)

	return &Provider{
		MeterProvider: mp,
		Handler:       promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
		shutdown:      func() error { return mp.Shutdown(context.Background()) },
	}, nil
}
