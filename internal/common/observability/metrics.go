// internal/common/observability/metrics.go
package observability

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/prometheus"
	otelmetric "go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/sdk/metric"
)

// Observability records sweep runs and job outcomes through an OpenTelemetry
// meter exported on the default Prometheus registry.
type Observability struct {
	meterProvider *metric.MeterProvider
	jobCounter    otelmetric.Int64Counter
	jobDuration   otelmetric.Float64Histogram
	sweepDuration otelmetric.Float64Histogram
	sweepRows     otelmetric.Int64Counter
}

// New returns a no-op Observability if the exporter cannot be created.
func New(serviceName string) (*Observability, error) {
	exporter, err := prometheus.New()
	if err != nil {
		return &Observability{}, err
	}

	provider := metric.NewMeterProvider(metric.WithReader(exporter))
	otel.SetMeterProvider(provider)
	return newWithProvider(provider, serviceName), nil
}

// NewWithReader builds an Observability on a caller supplied reader; tests use
// a ManualReader.
func NewWithReader(reader metric.Reader, serviceName string) *Observability {
	return newWithProvider(metric.NewMeterProvider(metric.WithReader(reader)), serviceName)
}

func newWithProvider(provider *metric.MeterProvider, serviceName string) *Observability {
	meter := provider.Meter(serviceName)

	jobCounter, _ := meter.Int64Counter(
		"jobs.processed",
		otelmetric.WithDescription("Number of jobs processed"),
	)
	jobDuration, _ := meter.Float64Histogram(
		"jobs.duration",
		otelmetric.WithDescription("Job processing duration"),
		otelmetric.WithUnit("ms"),
	)
	sweepDuration, _ := meter.Float64Histogram(
		"sweep.duration",
		otelmetric.WithDescription("Deadline sweep run duration"),
		otelmetric.WithUnit("ms"),
	)
	sweepRows, _ := meter.Int64Counter(
		"sweep.rows",
		otelmetric.WithDescription("Observations handled per sweep outcome"),
	)

	return &Observability{
		meterProvider: provider,
		jobCounter:    jobCounter,
		jobDuration:   jobDuration,
		sweepDuration: sweepDuration,
		sweepRows:     sweepRows,
	}
}

func (o *Observability) RecordJobProcessed(ctx context.Context, taskType, status string) {
	if o == nil || o.jobCounter == nil {
		return
	}
	o.jobCounter.Add(ctx, 1, otelmetric.WithAttributes(
		attribute.String("task_type", taskType),
		attribute.String("status", status),
	))
}

func (o *Observability) RecordJobDuration(ctx context.Context, taskType string, duration time.Duration) {
	if o == nil || o.jobDuration == nil {
		return
	}
	o.jobDuration.Record(ctx, float64(duration.Milliseconds()), otelmetric.WithAttributes(
		attribute.String("task_type", taskType),
	))
}

// RecordSweep records one sweep run.
func (o *Observability) RecordSweep(ctx context.Context, trigger string, duration time.Duration, count, failed, skipped int) {
	if o == nil || o.sweepDuration == nil {
		return
	}
	attrs := otelmetric.WithAttributes(attribute.String("trigger", trigger))
	o.sweepDuration.Record(ctx, float64(duration.Milliseconds()), attrs)
	o.sweepRows.Add(ctx, int64(count), otelmetric.WithAttributes(attribute.String("trigger", trigger), attribute.String("result", "accepted")))
	o.sweepRows.Add(ctx, int64(failed), otelmetric.WithAttributes(attribute.String("trigger", trigger), attribute.String("result", "failed")))
	o.sweepRows.Add(ctx, int64(skipped), otelmetric.WithAttributes(attribute.String("trigger", trigger), attribute.String("result", "skipped")))
}

func (o *Observability) Shutdown(ctx context.Context) error {
	if o == nil || o.meterProvider == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return o.meterProvider.Shutdown(ctx)
}
