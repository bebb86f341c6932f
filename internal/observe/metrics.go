// Package observe provides application-wide observability primitives for
// visage: OpenTelemetry metrics, distributed tracing, structured logging,
// and HTTP middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [InitProvider] so that metrics can still be
// scraped via the standard /metrics endpoint. A package-level default
// [Metrics] instance ([DefaultMetrics]) is provided for convenience; tests
// should use [NewMetrics] with a custom [metric.MeterProvider] to avoid
// cross-test pollution.
package observe

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all visage metrics.
const meterName = "github.com/ostrem/visage"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use — the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Histograms ---

	// TickDuration tracks one engine tick: advance, blend, dispatch.
	TickDuration metric.Float64Histogram

	// TickChannels tracks the number of channels blended per tick.
	TickChannels metric.Int64Histogram

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram

	// --- Counters ---

	// SnippetEvents counts snippet lifecycle transitions. Use with attributes:
	//   attribute.String("kind", "scheduled"|"replaced"|"removed"|"ended"),
	//   attribute.String("category", ...)
	SnippetEvents metric.Int64Counter

	// Commands counts inbound host commands. Use with attributes:
	//   attribute.String("command", ...), attribute.String("status", ...)
	Commands metric.Int64Counter

	// DispatchErrors counts per-output dispatch failures. Use with attribute:
	//   attribute.String("output", ...)
	DispatchErrors metric.Int64Counter

	// --- Gauges ---

	// ActiveSnippets tracks the number of currently scheduled snippets.
	ActiveSnippets metric.Int64UpDownCounter

	// ConnectedHosts tracks the number of connected websocket host clients.
	ConnectedHosts metric.Int64UpDownCounter
}

// tickBuckets defines histogram bucket boundaries (in seconds) sized for a
// per-frame tick that must stay well under the frame interval.
var tickBuckets = []float64{
	0.00005, 0.0001, 0.00025, 0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05,
}

// httpBuckets defines histogram bucket boundaries (in seconds) for HTTP
// request latencies.
var httpBuckets = []float64{
	0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Histograms.
	if met.TickDuration, err = m.Float64Histogram("visage.tick.duration",
		metric.WithDescription("Duration of one engine tick: advance, blend, dispatch."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(tickBuckets...),
	); err != nil {
		return nil, err
	}
	if met.TickChannels, err = m.Int64Histogram("visage.tick.channels",
		metric.WithDescription("Number of channels blended per tick."),
	); err != nil {
		return nil, err
	}
	if met.HTTPRequestDuration, err = m.Float64Histogram("visage.http.request.duration",
		metric.WithDescription("HTTP request latency by method and path."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(httpBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.SnippetEvents, err = m.Int64Counter("visage.snippet.events",
		metric.WithDescription("Snippet lifecycle transitions by kind and category."),
	); err != nil {
		return nil, err
	}
	if met.Commands, err = m.Int64Counter("visage.commands",
		metric.WithDescription("Inbound host commands by command and status."),
	); err != nil {
		return nil, err
	}
	if met.DispatchErrors, err = m.Int64Counter("visage.dispatch.errors",
		metric.WithDescription("Per-output dispatch failures by output ID."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.ActiveSnippets, err = m.Int64UpDownCounter("visage.snippets.active",
		metric.WithDescription("Number of currently scheduled snippets."),
	); err != nil {
		return nil, err
	}
	if met.ConnectedHosts, err = m.Int64UpDownCounter("visage.hosts.connected",
		metric.WithDescription("Number of connected websocket host clients."),
	); err != nil {
		return nil, err
	}

	return met, nil
}

// defaultMetrics is the lazily-initialised package-level Metrics instance.
var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics] instance, creating it on
// first call using [otel.GetMeterProvider]. Subsequent calls return the same
// pointer. Panics if instrument creation fails (should not happen with the
// global provider).
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

// Attr is a convenience alias for [attribute.String] to reduce verbosity at
// call sites.
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// RecordTick records one engine tick's duration and blended channel count.
func (m *Metrics) RecordTick(ctx context.Context, d time.Duration, channels int) {
	m.TickDuration.Record(ctx, d.Seconds())
	m.TickChannels.Record(ctx, int64(channels))
}

// RecordSnippetEvent records a snippet lifecycle transition with the standard
// attribute set.
func (m *Metrics) RecordSnippetEvent(ctx context.Context, kind, category string) {
	m.SnippetEvents.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("kind", kind),
			attribute.String("category", category),
		),
	)
}

// RecordCommand records an inbound host command with the standard attribute
// set.
func (m *Metrics) RecordCommand(ctx context.Context, command, status string) {
	m.Commands.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("command", command),
			attribute.String("status", status),
		),
	)
}

// RecordDispatchError records a per-output dispatch failure.
func (m *Metrics) RecordDispatchError(ctx context.Context, output string) {
	m.DispatchErrors.Add(ctx, 1,
		metric.WithAttributes(attribute.String("output", output)),
	)
}
