// Package observe provides application-wide observability primitives for
// livecap: OpenTelemetry metrics, distributed tracing, structured logging,
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

// meterName is the instrumentation scope name used for all livecap metrics.
const meterName = "github.com/livecap-io/livecap"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use — the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Latency histograms ---

	// InferenceDuration tracks per-window transcription latency.
	InferenceDuration metric.Float64Histogram

	// CaptionLag tracks the delay between a window's capture end and its
	// caption being published.
	CaptionLag metric.Float64Histogram

	// --- Counters ---

	// WindowsProcessed counts audio windows handed to the engine. Use with
	// attribute:
	//   attribute.String("status", "ok"|"empty"|"skipped"|"failed")
	WindowsProcessed metric.Int64Counter

	// CaptionsEmitted counts caption events delivered to the presentation
	// layer.
	CaptionsEmitted metric.Int64Counter

	// DroppedAudioSeconds accumulates the duration of audio evicted from
	// the capture queue under backpressure.
	DroppedAudioSeconds metric.Float64Counter

	// DeviceReconnects counts successful capture-device reopen attempts
	// after a disconnect.
	DeviceReconnects metric.Int64Counter

	// StatusTransitions counts pipeline state changes. Use with attributes:
	//   attribute.String("from", ...), attribute.String("to", ...)
	StatusTransitions metric.Int64Counter

	// --- Gauges ---

	// QueuedAudioSeconds tracks the duration of audio currently buffered
	// between capture and inference.
	QueuedAudioSeconds metric.Float64Gauge

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) optimised
// for near-real-time captioning latencies.
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
	if met.InferenceDuration, err = m.Float64Histogram("livecap.inference.duration",
		metric.WithDescription("Latency of per-window speech transcription."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.CaptionLag, err = m.Float64Histogram("livecap.caption.lag",
		metric.WithDescription("Delay between window capture end and caption publication."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.WindowsProcessed, err = m.Int64Counter("livecap.windows.processed",
		metric.WithDescription("Total audio windows handed to the engine, by outcome status."),
	); err != nil {
		return nil, err
	}
	if met.CaptionsEmitted, err = m.Int64Counter("livecap.captions.emitted",
		metric.WithDescription("Total caption events delivered to the presentation layer."),
	); err != nil {
		return nil, err
	}
	if met.DroppedAudioSeconds, err = m.Float64Counter("livecap.audio.dropped",
		metric.WithDescription("Cumulative duration of audio evicted from the capture queue."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}
	if met.DeviceReconnects, err = m.Int64Counter("livecap.device.reconnects",
		metric.WithDescription("Total successful capture-device reopens after a disconnect."),
	); err != nil {
		return nil, err
	}
	if met.StatusTransitions, err = m.Int64Counter("livecap.status.transitions",
		metric.WithDescription("Total pipeline status transitions by from and to state."),
	); err != nil {
		return nil, err
	}

	// Gauges.
	if met.QueuedAudioSeconds, err = m.Float64Gauge("livecap.audio.queued",
		metric.WithDescription("Duration of audio currently buffered ahead of inference."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("livecap.http.request.duration",
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

// RecordWindow is a convenience method that records a processed window with
// its outcome status.
func (m *Metrics) RecordWindow(ctx context.Context, status string) {
	m.WindowsProcessed.Add(ctx, 1,
		metric.WithAttributes(Attr("status", status)),
	)
}

// RecordStatusTransition is a convenience method that records a pipeline
// status change.
func (m *Metrics) RecordStatusTransition(ctx context.Context, from, to string) {
	m.StatusTransitions.Add(ctx, 1,
		metric.WithAttributes(
			Attr("from", from),
			Attr("to", to),
		),
	)
}
