// Package observe ties vadcapture's telemetry together: OpenTelemetry
// metric instruments, spans tagged with the capture session, session-aware
// slog loggers and the HTTP middleware that applies all three.
//
// [InitProvider] installs the global providers and bridges metrics to a
// Prometheus registry for the /metrics endpoint. Code that is not handed a
// [Metrics] falls back to [DefaultMetrics]; tests build their own with
// [NewMetrics] over a ManualReader.
package observe

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "github.com/MrWong99/vadcapture"

// Metrics holds the application's instruments. Prefer the Record helpers,
// which attach the expected attribute set.
type Metrics struct {
	// --- Speech capture ---

	SpeechSegments  metric.Int64Counter     // quality
	SegmentDuration metric.Float64Histogram // quality
	Misfires        metric.Int64Counter     // reason
	SessionErrors   metric.Int64Counter     // kind
	NoiseLevel      metric.Float64Gauge     // session_id

	// ActiveSessions is 1 while a session is between ready and disposed.
	ActiveSessions metric.Int64UpDownCounter

	// --- Transcription ---

	TranscriptionDuration metric.Float64Histogram // provider
	ProviderRequests      metric.Int64Counter     // provider, status
	ProviderErrors        metric.Int64Counter     // provider, kind

	// --- HTTP ---

	// HTTPRequestDuration tracks HTTP request processing time, labelled with
	// method, route pattern and status class ("2xx", "4xx", ...).
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets span a fast local whisper run up to a slow cloud upload.
var latencyBuckets = []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 20, 30}

// segmentBuckets run from a single word up to the default recording cap.
var segmentBuckets = []float64{0.25, 0.5, 1, 2, 4, 8, 15, 30, 60}

// instruments creates instruments on one meter and keeps the first error.
type instruments struct {
	meter metric.Meter
	err   error
}

func (in *instruments) counter(name, desc string) metric.Int64Counter {
	if in.err != nil {
		return nil
	}
	c, err := in.meter.Int64Counter(name, metric.WithDescription(desc))
	in.err = err
	return c
}

func (in *instruments) seconds(name, desc string, buckets ...float64) metric.Float64Histogram {
	if in.err != nil {
		return nil
	}
	opts := []metric.Float64HistogramOption{metric.WithDescription(desc), metric.WithUnit("s")}
	if len(buckets) > 0 {
		opts = append(opts, metric.WithExplicitBucketBoundaries(buckets...))
	}
	h, err := in.meter.Float64Histogram(name, opts...)
	in.err = err
	return h
}

func (in *instruments) gauge(name, desc string) metric.Float64Gauge {
	if in.err != nil {
		return nil
	}
	g, err := in.meter.Float64Gauge(name, metric.WithDescription(desc))
	in.err = err
	return g
}

func (in *instruments) upDown(name, desc string) metric.Int64UpDownCounter {
	if in.err != nil {
		return nil
	}
	c, err := in.meter.Int64UpDownCounter(name, metric.WithDescription(desc))
	in.err = err
	return c
}

// NewMetrics creates every instrument on mp.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	in := &instruments{meter: mp.Meter(meterName)}
	m := &Metrics{
		SpeechSegments:  in.counter("vadcapture.speech.segments", "Speech segments delivered as captured audio."),
		SegmentDuration: in.seconds("vadcapture.speech.segment.duration", "Length of captured speech segments.", segmentBuckets...),
		Misfires:        in.counter("vadcapture.speech.misfires", "Detections discarded before capture, by reason."),
		SessionErrors:   in.counter("vadcapture.session.errors", "Session manager errors by kind."),
		NoiseLevel:      in.gauge("vadcapture.noise.level", "Latest ambient noise average in [0, 1]."),
		ActiveSessions:  in.upDown("vadcapture.active_sessions", "Capture sessions between ready and disposed."),

		TranscriptionDuration: in.seconds("vadcapture.transcription.duration", "Speech-to-text round trip latency.", latencyBuckets...),
		ProviderRequests:      in.counter("vadcapture.provider.requests", "Transcription requests by provider and status."),
		ProviderErrors:        in.counter("vadcapture.provider.errors", "Transcription errors by provider and kind."),

		HTTPRequestDuration: in.seconds("vadcapture.http.request.duration", "HTTP request latency by method, route and status class."),
	}
	if in.err != nil {
		return nil, in.err
	}
	return m, nil
}

var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns instruments on the global meter provider, created
// on first use. It panics if the global provider rejects an instrument.
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error
		if defaultMetrics, err = NewMetrics(otel.GetMeterProvider()); err != nil {
			panic("observe: default metrics: " + err.Error())
		}
	})
	return defaultMetrics
}

// RecordSegment counts one captured segment and observes its duration.
func (m *Metrics) RecordSegment(ctx context.Context, quality string, d time.Duration) {
	attrs := metric.WithAttributes(attribute.String("quality", quality))
	m.SpeechSegments.Add(ctx, 1, attrs)
	m.SegmentDuration.Record(ctx, d.Seconds(), attrs)
}

// RecordMisfire counts one discarded detection.
func (m *Metrics) RecordMisfire(ctx context.Context, reason string) {
	m.Misfires.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
}

// RecordSessionError counts one session error of the given kind.
func (m *Metrics) RecordSessionError(ctx context.Context, kind string) {
	m.SessionErrors.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", kind)))
}

// RecordNoiseLevel sets the ambient noise gauge for a session.
func (m *Metrics) RecordNoiseLevel(ctx context.Context, sessionID string, level float64) {
	m.NoiseLevel.Record(ctx, level, metric.WithAttributes(attribute.String("session_id", sessionID)))
}

// RecordTranscription observes one transcription round trip.
func (m *Metrics) RecordTranscription(ctx context.Context, provider string, d time.Duration) {
	m.TranscriptionDuration.Record(ctx, d.Seconds(), metric.WithAttributes(attribute.String("provider", provider)))
}

// RecordProviderRequest counts a request with status "ok" or "error".
func (m *Metrics) RecordProviderRequest(ctx context.Context, provider, status string) {
	m.ProviderRequests.Add(ctx, 1, metric.WithAttributes(
		attribute.String("provider", provider),
		attribute.String("status", status),
	))
}

// RecordProviderError counts a failed request by error kind.
func (m *Metrics) RecordProviderError(ctx context.Context, provider, kind string) {
	m.ProviderErrors.Add(ctx, 1, metric.WithAttributes(
		attribute.String("provider", provider),
		attribute.String("kind", kind),
	))
}
