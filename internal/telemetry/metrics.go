// Package telemetry collects run metrics with OpenTelemetry and exposes them
// through a Prometheus registry.
package telemetry

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/attribute"
	otelprom "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"

	"github.com/applybot-dev/applybot/pkg/models"
)

const (
	// Namespace prefixes every metric name.
	Namespace   = "applybot"
	serviceName = "applyctl"
)

// ShutdownFunc flushes and stops the meter provider.
type ShutdownFunc func(ctx context.Context) error

// Metrics holds the instruments of one run.
type Metrics struct {
	// Jobs counts final job outcomes by status and failure reason.
	Jobs metric.Int64Counter
	// Workers counts workers by recovered state.
	Workers        metric.Int64Counter
	LaunchFailures metric.Int64Counter
	WorkerDuration metric.Float64Histogram
	SuccessRate    metric.Float64Gauge

	registry *prometheus.Registry
}

// InitMetrics builds a meter provider backed by a private Prometheus registry.
func InitMetrics(version string) (ShutdownFunc, *Metrics, error) {
	reg := prometheus.NewRegistry()
	exporter, err := otelprom.New(otelprom.WithRegisterer(reg))
	if err != nil {
		return nil, nil, fmt.Errorf("create prometheus exporter: %w", err)
	}

	res := resource.NewSchemaless(
		attribute.String("service.name", serviceName),
		attribute.String("service.version", version),
	)
	provider := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(exporter),
		sdkmetric.WithResource(res),
	)
	meter := provider.Meter(Namespace)

	m := &Metrics{registry: reg}
	if m.Jobs, err = meter.Int64Counter(Namespace+".jobs",
		metric.WithDescription("Final job outcomes")); err != nil {
		return nil, nil, err
	}
	if m.Workers, err = meter.Int64Counter(Namespace+".workers",
		metric.WithDescription("Workers by recovered state")); err != nil {
		return nil, nil, err
	}
	if m.LaunchFailures, err = meter.Int64Counter(Namespace+".worker.launch_failures",
		metric.WithDescription("Workers that could not be started")); err != nil {
		return nil, nil, err
	}
	if m.WorkerDuration, err = meter.Float64Histogram(Namespace+".worker.duration",
		metric.WithDescription("Wall-clock time of a worker"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(30, 60, 120, 300, 600, 900, 1200, 1800, 3600)); err != nil {
		return nil, nil, err
	}
	if m.SuccessRate, err = meter.Float64Gauge(Namespace+".success_rate",
		metric.WithDescription("Verified jobs over assigned jobs")); err != nil {
		return nil, nil, err
	}

	return provider.Shutdown, m, nil
}

// RecordWorker records how long a worker ran.
func (m *Metrics) RecordWorker(ctx context.Context, workerID string, d time.Duration) {
	m.WorkerDuration.Record(ctx, d.Seconds(), metric.WithAttributes(attribute.String("worker", workerID)))
}

// RecordLaunchFailure counts a worker that never started.
func (m *Metrics) RecordLaunchFailure(ctx context.Context, workerID string) {
	m.LaunchFailures.Add(ctx, 1, metric.WithAttributes(attribute.String("worker", workerID)))
}

// RecordSummary records the outcome counts of a finished run.
func (m *Metrics) RecordSummary(ctx context.Context, backend string, s models.SummaryReport) {
	base := attribute.String("backend", backend)

	if s.SuccessCount > 0 {
		m.Jobs.Add(ctx, int64(s.SuccessCount), metric.WithAttributes(base,
			attribute.String("status", string(models.StatusVerified))))
	}
	for reason, n := range s.FailuresByReason {
		m.Jobs.Add(ctx, int64(n), metric.WithAttributes(base,
			attribute.String("status", "failed"),
			attribute.String("reason", string(reason))))
	}
	if s.MissingCount > 0 {
		m.Jobs.Add(ctx, int64(s.MissingCount), metric.WithAttributes(base,
			attribute.String("status", "missing")))
	}

	for _, w := range s.Workers {
		m.Workers.Add(ctx, 1, metric.WithAttributes(base, attribute.String("state", string(w.State))))
	}
	m.SuccessRate.Record(ctx, s.SuccessRate, metric.WithAttributes(base))
}

// PrometheusHandler serves the registry in the Prometheus exposition format.
func (m *Metrics) PrometheusHandler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// WriteTextfile writes the current values in the node exporter textfile format.
func (m *Metrics) WriteTextfile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	if err := prometheus.WriteToTextfile(path, m.registry); err != nil {
		return fmt.Errorf("write metrics: %w", err)
	}
	return nil
}
