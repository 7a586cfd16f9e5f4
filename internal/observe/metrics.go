// Package observe wires audiobob into OpenTelemetry: metric instruments for
// command dispatch and the audio fill path, tracing helpers, a trace-aware
// logger and HTTP middleware for the admin server.
//
// Metrics are exported for Prometheus scraping by [InitProvider]. Code that
// does not care about isolation uses [DefaultMetrics]; tests build their own
// instance with [NewMetrics] over a manual reader.
package observe

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "github.com/MrWong99/audiobob"

// Metrics holds the application's instruments. Safe for concurrent use.
type Metrics struct {
	// Commands counts dispatched invocations by command and final stage.
	Commands metric.Int64Counter

	// CommandDuration tracks handler execution time by command.
	CommandDuration metric.Float64Histogram

	// FillDuration tracks the time spent servicing one buffer-fill request.
	FillDuration metric.Float64Histogram

	// FillUnderruns counts pulls that found no buffered source data.
	FillUnderruns metric.Int64Counter

	// SourceOpens counts media acquisitions by scheme and status.
	SourceOpens metric.Int64Counter

	// ActiveConnections tracks registered host connections.
	ActiveConnections metric.Int64UpDownCounter

	// PendingInvocations tracks invocations waiting for a caller's group.
	PendingInvocations metric.Int64UpDownCounter

	// HTTPRequestDuration tracks admin HTTP requests by method and path.
	HTTPRequestDuration metric.Float64Histogram
}

var commandBuckets = []float64{
	0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 1,
}

// Fill requests arrive every few milliseconds; anything near 10ms is a glitch.
var fillBuckets = []float64{
	0.00005, 0.0001, 0.00025, 0.0005, 0.001, 0.0025, 0.005, 0.01, 0.02,
}

// NewMetrics creates the instruments on mp.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.Commands, err = m.Int64Counter("audiobob.commands",
		metric.WithDescription("Dispatched command invocations by command and stage."),
	); err != nil {
		return nil, err
	}
	if met.CommandDuration, err = m.Float64Histogram("audiobob.command.duration",
		metric.WithDescription("Command handler execution time."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(commandBuckets...),
	); err != nil {
		return nil, err
	}
	if met.FillDuration, err = m.Float64Histogram("audiobob.fill.duration",
		metric.WithDescription("Time spent servicing one audio buffer-fill request."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(fillBuckets...),
	); err != nil {
		return nil, err
	}
	if met.FillUnderruns, err = m.Int64Counter("audiobob.fill.underruns",
		metric.WithDescription("Buffer-fill requests that found no source data buffered."),
	); err != nil {
		return nil, err
	}
	if met.SourceOpens, err = m.Int64Counter("audiobob.source.opens",
		metric.WithDescription("Media source acquisitions by scheme and status."),
	); err != nil {
		return nil, err
	}
	if met.ActiveConnections, err = m.Int64UpDownCounter("audiobob.active_connections",
		metric.WithDescription("Number of registered host connections."),
	); err != nil {
		return nil, err
	}
	if met.PendingInvocations, err = m.Int64UpDownCounter("audiobob.pending_invocations",
		metric.WithDescription("Invocations waiting for the caller's group to resolve."),
	); err != nil {
		return nil, err
	}
	if met.HTTPRequestDuration, err = m.Float64Histogram("audiobob.http.request.duration",
		metric.WithDescription("Admin HTTP request latency by method and path."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}
	return met, nil
}

var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level instance built on the global
// meter provider. It panics if instrument creation fails.
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error
		defaultMetrics, err = NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("observe: failed to create default metrics: " + err.Error())
		}
	})
	return defaultMetrics
}

// Attr is shorthand for [attribute.String].
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// RecordCommand counts one dispatched invocation. elapsed is recorded only
// when the handler ran.
func (m *Metrics) RecordCommand(ctx context.Context, command, stage string, elapsed time.Duration, executed bool) {
	if command == "" {
		command = "unknown"
	}
	m.Commands.Add(ctx, 1, metric.WithAttributes(
		attribute.String("command", command),
		attribute.String("stage", stage),
	))
	if executed {
		m.CommandDuration.Record(ctx, elapsed.Seconds(),
			metric.WithAttributes(attribute.String("command", command)))
	}
}

// RecordFill records the duration of one buffer-fill request.
func (m *Metrics) RecordFill(ctx context.Context, d time.Duration, filled bool) {
	m.FillDuration.Record(ctx, d.Seconds(),
		metric.WithAttributes(attribute.Bool("filled", filled)))
}

// RecordUnderrun counts one underrun. Safe to call from the fill path.
func (m *Metrics) RecordUnderrun(ctx context.Context) {
	m.FillUnderruns.Add(ctx, 1)
}

// RecordSourceOpen counts one media acquisition attempt.
func (m *Metrics) RecordSourceOpen(ctx context.Context, scheme, status string) {
	if scheme == "" {
		scheme = "file"
	}
	m.SourceOpens.Add(ctx, 1, metric.WithAttributes(
		attribute.String("scheme", scheme),
		attribute.String("status", status),
	))
}
