// Package observe provides application-wide observability primitives for
// voxcore: OpenTelemetry metrics, distributed tracing, structured logging,
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

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all voxcore metrics.
const meterName = "github.com/nullwave/voxcore"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use — the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Latency histograms ---

	// ConnectDuration tracks time from dial attempt to the open state.
	ConnectDuration metric.Float64Histogram

	// AckLatency tracks time from send_with_ack to settlement.
	AckLatency metric.Float64Histogram

	// CaptureFrameInterval tracks the time between successive captured
	// frames delivered to the orchestrator.
	CaptureFrameInterval metric.Float64Histogram

	// --- Counters ---

	// ReconnectAttempts counts reconnect attempts. Use with attribute:
	//   attribute.String("outcome", ...)
	ReconnectAttempts metric.Int64Counter

	// FramesSent counts audio.chunk frames sent to the server.
	FramesSent metric.Int64Counter

	// FramesDropped counts capture frames dropped before reaching the
	// transport (e.g. send failures swallowed by the orchestrator).
	FramesDropped metric.Int64Counter

	// ChunksPlayed counts response.chunk payloads handed to the playback
	// sequencer. Use with attribute:
	//   attribute.String("outcome", ...)
	ChunksPlayed metric.Int64Counter

	// EventsRouted counts inbound frames routed through the handler
	// registry. Use with attributes:
	//   attribute.String("event_type", ...), attribute.String("outcome", ...)
	EventsRouted metric.Int64Counter

	// --- Error counters ---

	// TransportErrors counts transport-level failures by kind. Use with
	// attribute: attribute.String("kind", ...)
	TransportErrors metric.Int64Counter

	// --- Gauges ---

	// TrackerPending tracks the number of currently pending acknowledgments.
	TrackerPending metric.Int64UpDownCounter

	// PlaybackQueueDepth tracks the number of queued-but-not-yet-playing
	// response chunks in the playback sequencer.
	PlaybackQueueDepth metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) optimised
// for real-time voice round-trips.
var latencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Histograms.
	if met.ConnectDuration, err = m.Float64Histogram("voxcore.connect.duration",
		metric.WithDescription("Time from dial attempt to the connected state."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.AckLatency, err = m.Float64Histogram("voxcore.ack.latency",
		metric.WithDescription("Time from send_with_ack to settlement."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.CaptureFrameInterval, err = m.Float64Histogram("voxcore.capture.frame_interval",
		metric.WithDescription("Time between successive captured audio frames."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.ReconnectAttempts, err = m.Int64Counter("voxcore.reconnect.attempts",
		metric.WithDescription("Total reconnect attempts by outcome."),
	); err != nil {
		return nil, err
	}
	if met.FramesSent, err = m.Int64Counter("voxcore.frames.sent",
		metric.WithDescription("Total audio.chunk frames sent to the server."),
	); err != nil {
		return nil, err
	}
	if met.FramesDropped, err = m.Int64Counter("voxcore.frames.dropped",
		metric.WithDescription("Total capture frames dropped before reaching the transport."),
	); err != nil {
		return nil, err
	}
	if met.ChunksPlayed, err = m.Int64Counter("voxcore.chunks.played",
		metric.WithDescription("Total response.chunk payloads handed to playback by outcome."),
	); err != nil {
		return nil, err
	}
	if met.EventsRouted, err = m.Int64Counter("voxcore.events.routed",
		metric.WithDescription("Total inbound frames routed through the handler registry."),
	); err != nil {
		return nil, err
	}

	// Error counters.
	if met.TransportErrors, err = m.Int64Counter("voxcore.transport.errors",
		metric.WithDescription("Total transport-level failures by kind."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.TrackerPending, err = m.Int64UpDownCounter("voxcore.tracker.pending",
		metric.WithDescription("Number of currently pending acknowledgments."),
	); err != nil {
		return nil, err
	}
	if met.PlaybackQueueDepth, err = m.Int64UpDownCounter("voxcore.playback.queue_depth",
		metric.WithDescription("Number of queued response chunks awaiting playback."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("voxcore.http.request.duration",
		metric.WithDescription("HTTP request latency by method and path."),
		metric.WithUnit("s"),
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

// RecordReconnectAttempt is a convenience method that records a reconnect
// attempt counter increment with the standard attribute set.
func (m *Metrics) RecordReconnectAttempt(ctx context.Context, outcome string) {
	m.ReconnectAttempts.Add(ctx, 1,
		metric.WithAttributes(attribute.String("outcome", outcome)),
	)
}

// RecordEventRouted is a convenience method that records an inbound-frame
// routing counter increment with the standard attribute set.
func (m *Metrics) RecordEventRouted(ctx context.Context, eventType, outcome string) {
	m.EventsRouted.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("event_type", eventType),
			attribute.String("outcome", outcome),
		),
	)
}

// RecordChunkPlayed is a convenience method that records a played- or
// rejected-chunk counter increment.
func (m *Metrics) RecordChunkPlayed(ctx context.Context, outcome string) {
	m.ChunksPlayed.Add(ctx, 1,
		metric.WithAttributes(attribute.String("outcome", outcome)),
	)
}

// RecordTransportError is a convenience method that records a transport
// error counter increment.
func (m *Metrics) RecordTransportError(ctx context.Context, kind string) {
	m.TransportErrors.Add(ctx, 1,
		metric.WithAttributes(attribute.String("kind", kind)),
	)
}
