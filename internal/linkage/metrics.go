package linkage

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// InstrumentationName names the meter and tracer of this package.
const InstrumentationName = "stitch.linkage"

// Metrics records per-lag outcomes. The zero value is not usable; use
// NewMetrics. Instruments come from the global meter provider, so they are
// no-ops until telemetry is initialized.
type Metrics struct {
	tracer       trace.Tracer
	lagsTotal    metric.Int64Counter
	lagDuration  metric.Float64Histogram
	rowsMatched  metric.Int64Counter
	contextRows  metric.Int64Gauge
	workersGauge metric.Int64Gauge
}

// NewMetrics creates the linkage instruments.
func NewMetrics() (*Metrics, error) {
	meter := otel.Meter(InstrumentationName)
	m := &Metrics{tracer: otel.Tracer(InstrumentationName)}
	var err error
	if m.lagsTotal, err = meter.Int64Counter(
		"stitch_lags_total",
		metric.WithDescription("Lags processed, by outcome"),
	); err != nil {
		return nil, err
	}
	if m.lagDuration, err = meter.Float64Histogram(
		"stitch_lag_duration_seconds",
		metric.WithDescription("Time to join and write one lag"),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}
	if m.rowsMatched, err = meter.Int64Counter(
		"stitch_rows_matched_total",
		metric.WithDescription("Subject rows that found a contextual value"),
	); err != nil {
		return nil, err
	}
	if m.contextRows, err = meter.Int64Gauge(
		"stitch_context_rows",
		metric.WithDescription("Rows in the loaded contextual table"),
	); err != nil {
		return nil, err
	}
	if m.workersGauge, err = meter.Int64Gauge(
		"stitch_join_workers",
		metric.WithDescription("Join workers in use"),
	); err != nil {
		return nil, err
	}
	return m, nil
}

func outcome(r LagResult) string {
	switch {
	case r.Err != nil:
		return "failed"
	case r.Skipped:
		return "skipped"
	}
	return "written"
}

// RecordLag records one lag result.
func (m *Metrics) RecordLag(ctx context.Context, r LagResult) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("outcome", outcome(r)))
	m.lagsTotal.Add(ctx, 1, attrs)
	m.lagDuration.Record(ctx, r.Duration.Seconds(), attrs)
}

// RecordMatches adds matched subject rows.
func (m *Metrics) RecordMatches(ctx context.Context, n int) {
	if m == nil || n == 0 {
		return
	}
	m.rowsMatched.Add(ctx, int64(n))
}

// RecordContext records the size of the shared context table and pool.
func (m *Metrics) RecordContext(ctx context.Context, rows, workers int) {
	if m == nil {
		return
	}
	m.contextRows.Record(ctx, int64(rows))
	m.workersGauge.Record(ctx, int64(workers))
}

// StartSpan opens a span for a pipeline phase.
func (m *Metrics) StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	if m == nil {
		return ctx, trace.SpanFromContext(ctx)
	}
	return m.tracer.Start(ctx, name, trace.WithAttributes(attrs...))
}

// EndSpan closes span and records its duration as an attribute.
func EndSpan(span trace.Span, start time.Time, err error) {
	span.SetAttributes(attribute.Float64("duration_seconds", time.Since(start).Seconds()))
	if err != nil {
		span.RecordError(err)
	}
	span.End()
}
