package observability

import (
	"context"
	"fmt"
	"time"

	promclient "github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel/attribute"
	otelprom "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	errs "taskorch/internal/errors"
)

// MetricsConfig configures backend invocation metrics.
type MetricsConfig struct {
	Enabled bool
	// Registerer receives the exporter's collector. Nil means the default registry.
	Registerer promclient.Registerer
}

// BackendMetrics records backend invocations through OpenTelemetry and
// exposes them to Prometheus. The zero value records nothing.
type BackendMetrics struct {
	provider    *sdkmetric.MeterProvider
	invocations metric.Int64Counter
	latency     metric.Float64Histogram
}

// NewBackendMetrics creates the recorder. When disabled it returns a no-op
// recorder.
func NewBackendMetrics(config MetricsConfig) (*BackendMetrics, error) {
	if !config.Enabled {
		return &BackendMetrics{}, nil
	}
	reg := config.Registerer
	if reg == nil {
		reg = promclient.DefaultRegisterer
	}
	exporter, err := otelprom.New(otelprom.WithRegisterer(reg))
	if err != nil {
		return nil, fmt.Errorf("failed to create prometheus exporter: %w", err)
	}
	return newBackendMetrics(exporter)
}

func newBackendMetrics(reader sdkmetric.Reader) (*BackendMetrics, error) {
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	meter := provider.Meter(instrumentationName)

	invocations, err := meter.Int64Counter(
		"taskorch.backend.invocations",
		metric.WithDescription("Backend invocations by model and outcome"),
		metric.WithUnit("{invocation}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create invocations counter: %w", err)
	}

	latency, err := meter.Float64Histogram(
		"taskorch.backend.latency",
		metric.WithDescription("Backend invocation latency in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create latency histogram: %w", err)
	}

	return &BackendMetrics{provider: provider, invocations: invocations, latency: latency}, nil
}

// RecordInvocation implements backend.Recorder.
func (m *BackendMetrics) RecordInvocation(ctx context.Context, model string, duration time.Duration, err error) {
	if m == nil || m.invocations == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("model", model),
		attribute.String("outcome", outcome(err)),
	)
	m.invocations.Add(ctx, 1, attrs)
	m.latency.Record(ctx, duration.Seconds(), attrs)
}

// Shutdown stops the meter provider.
func (m *BackendMetrics) Shutdown(ctx context.Context) error {
	if m == nil || m.provider == nil {
		return nil
	}
	return m.provider.Shutdown(ctx)
}

func outcome(err error) string {
	switch {
	case err == nil:
		return "success"
	case errs.IsTransient(err):
		return "transient_error"
	default:
		return "error"
	}
}
