// Package observe provides application-wide observability primitives for
// Parley: OpenTelemetry metrics, tracing helpers, and structured logging.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [InitProvider] so that metrics can be
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

// meterName is the instrumentation scope name used for all Parley metrics.
const meterName = "github.com/parleyvoice/parley"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use.
type Metrics struct {
	// CallSetupDuration tracks the time from StartCall until the session is
	// fully wired.
	CallSetupDuration metric.Float64Histogram

	// CapturedChunks counts microphone chunks sent to the remote runtime.
	CapturedChunks metric.Int64Counter

	// PlaybackChunks counts agent audio chunks handed to the playback queue.
	PlaybackChunks metric.Int64Counter

	// DroppedChunks counts chunks discarded before playback or transmit.
	// Use with attribute.String("direction", ...) and
	// attribute.String("reason", ...).
	DroppedChunks metric.Int64Counter

	// PlaybackQueueDepth tracks how many decoded buffers are waiting behind
	// the one currently sounding.
	PlaybackQueueDepth metric.Int64UpDownCounter

	// TranscriptEntries counts transcript lines by speaker. Use with
	// attribute.String("speaker", ...).
	TranscriptEntries metric.Int64Counter

	// ActiveCalls tracks the number of live calls.
	ActiveCalls metric.Int64UpDownCounter
}

// setupBuckets defines histogram bucket boundaries (in seconds) for call
// setup latency.
var setupBuckets = []float64{
	0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.CallSetupDuration, err = m.Float64Histogram("parley.call.setup.duration",
		metric.WithDescription("Time to establish a call session."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(setupBuckets...),
	); err != nil {
		return nil, err
	}
	if met.CapturedChunks, err = m.Int64Counter("parley.capture.chunks",
		metric.WithDescription("Microphone chunks sent to the remote runtime."),
	); err != nil {
		return nil, err
	}
	if met.PlaybackChunks, err = m.Int64Counter("parley.playback.chunks",
		metric.WithDescription("Agent audio chunks queued for playback."),
	); err != nil {
		return nil, err
	}
	if met.DroppedChunks, err = m.Int64Counter("parley.audio.dropped",
		metric.WithDescription("Audio chunks discarded, by direction and reason."),
	); err != nil {
		return nil, err
	}
	if met.PlaybackQueueDepth, err = m.Int64UpDownCounter("parley.playback.queue.depth",
		metric.WithDescription("Decoded buffers queued behind the sounding one."),
	); err != nil {
		return nil, err
	}
	if met.TranscriptEntries, err = m.Int64Counter("parley.transcript.entries",
		metric.WithDescription("Transcript lines by speaker."),
	); err != nil {
		return nil, err
	}
	if met.ActiveCalls, err = m.Int64UpDownCounter("parley.active_calls",
		metric.WithDescription("Number of live calls."),
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

// RecordCallSetup records the duration of a successful call setup.
func (m *Metrics) RecordCallSetup(ctx context.Context, d time.Duration) {
	m.CallSetupDuration.Record(ctx, d.Seconds())
}

// RecordDroppedChunk increments the dropped-chunk counter. direction is
// "capture" or "playback"; reason names the gate that discarded the chunk.
func (m *Metrics) RecordDroppedChunk(ctx context.Context, direction, reason string) {
	m.DroppedChunks.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("direction", direction),
			attribute.String("reason", reason),
		),
	)
}

// RecordTranscriptEntry increments the transcript counter for a speaker.
func (m *Metrics) RecordTranscriptEntry(ctx context.Context, speaker string) {
	m.TranscriptEntries.Add(ctx, 1,
		metric.WithAttributes(attribute.String("speaker", speaker)),
	)
}
