package observe

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func newTestMetrics(t *testing.T) (*Metrics, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })

	m, err := NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m, reader
}

func collect(t *testing.T, reader *sdkmetric.ManualReader) metricdata.ResourceMetrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	return rm
}

func findMetric(rm metricdata.ResourceMetrics, name string) *metricdata.Metrics {
	for _, sm := range rm.ScopeMetrics {
		for i := range sm.Metrics {
			if sm.Metrics[i].Name == name {
				return &sm.Metrics[i]
			}
		}
	}
	return nil
}

// observed sums counter values or histogram counts of the points of name
// that carry every attribute in want.
func observed(t *testing.T, rm metricdata.ResourceMetrics, name string, want ...attribute.KeyValue) float64 {
	t.Helper()
	met := findMetric(rm, name)
	if met == nil {
		t.Fatalf("metric %q not recorded", name)
	}
	matches := func(set attribute.Set) bool {
		for _, kv := range want {
			if v, ok := set.Value(kv.Key); !ok || v.Emit() != kv.Value.Emit() {
				return false
			}
		}
		return true
	}
	var n float64
	switch data := met.Data.(type) {
	case metricdata.Sum[int64]:
		for _, dp := range data.DataPoints {
			if matches(dp.Attributes) {
				n += float64(dp.Value)
			}
		}
	case metricdata.Histogram[float64]:
		for _, dp := range data.DataPoints {
			if matches(dp.Attributes) {
				n += float64(dp.Count)
			}
		}
	case metricdata.Gauge[float64]:
		for _, dp := range data.DataPoints {
			if matches(dp.Attributes) {
				n = dp.Value
			}
		}
	default:
		t.Fatalf("metric %q has unexpected data %T", name, met.Data)
	}
	return n
}

// ─── Record helpers ──────────────────────────────────────────────────────────

func TestRecordHelpers(t *testing.T) {
	ctx := context.Background()
	tests := []struct {
		name   string
		record func(m *Metrics)
		metric string
		attrs  []attribute.KeyValue
		want   float64
	}{
		{
			name: "segments by quality",
			record: func(m *Metrics) {
				m.RecordSegment(ctx, "medium", 1500*time.Millisecond)
				m.RecordSegment(ctx, "medium", 700*time.Millisecond)
				m.RecordSegment(ctx, "high", 2*time.Second)
			},
			metric: "vadcapture.speech.segments",
			attrs:  []attribute.KeyValue{attribute.String("quality", "medium")},
			want:   2,
		},
		{
			name: "segment durations",
			record: func(m *Metrics) {
				m.RecordSegment(ctx, "low", time.Second)
				m.RecordSegment(ctx, "high", 3*time.Second)
			},
			metric: "vadcapture.speech.segment.duration",
			want:   2,
		},
		{
			name: "misfires by reason",
			record: func(m *Metrics) {
				m.RecordMisfire(ctx, "too_short")
				m.RecordMisfire(ctx, "too_short")
				m.RecordMisfire(ctx, "start_failed")
			},
			metric: "vadcapture.speech.misfires",
			attrs:  []attribute.KeyValue{attribute.String("reason", "too_short")},
			want:   2,
		},
		{
			name:   "session errors by kind",
			record: func(m *Metrics) { m.RecordSessionError(ctx, "vad") },
			metric: "vadcapture.session.errors",
			attrs:  []attribute.KeyValue{attribute.String("kind", "vad")},
			want:   1,
		},
		{
			name: "noise gauge keeps the latest value",
			record: func(m *Metrics) {
				m.RecordNoiseLevel(ctx, "s1", 0.2)
				m.RecordNoiseLevel(ctx, "s1", 0.35)
			},
			metric: "vadcapture.noise.level",
			attrs:  []attribute.KeyValue{attribute.String("session_id", "s1")},
			want:   0.35,
		},
		{
			name: "transcription latency per provider",
			record: func(m *Metrics) {
				m.RecordTranscription(ctx, "sarvam", 800*time.Millisecond)
				m.RecordTranscription(ctx, "whisper", 2*time.Second)
			},
			metric: "vadcapture.transcription.duration",
			attrs:  []attribute.KeyValue{attribute.String("provider", "sarvam")},
			want:   1,
		},
		{
			name: "provider requests by status",
			record: func(m *Metrics) {
				m.RecordProviderRequest(ctx, "sarvam", "ok")
				m.RecordProviderRequest(ctx, "sarvam", "ok")
				m.RecordProviderRequest(ctx, "sarvam", "error")
			},
			metric: "vadcapture.provider.requests",
			attrs:  []attribute.KeyValue{attribute.String("provider", "sarvam"), attribute.String("status", "ok")},
			want:   2,
		},
		{
			name:   "provider errors by kind",
			record: func(m *Metrics) { m.RecordProviderError(ctx, "whisper", "timeout") },
			metric: "vadcapture.provider.errors",
			attrs:  []attribute.KeyValue{attribute.String("provider", "whisper"), attribute.String("kind", "timeout")},
			want:   1,
		},
		{
			name: "active sessions is additive",
			record: func(m *Metrics) {
				m.ActiveSessions.Add(ctx, 1)
				m.ActiveSessions.Add(ctx, 1)
				m.ActiveSessions.Add(ctx, -1)
			},
			metric: "vadcapture.active_sessions",
			want:   1,
		},
		{
			name: "http duration",
			record: func(m *Metrics) {
				m.HTTPRequestDuration.Record(ctx, 0.05, metric.WithAttributes(attribute.String("path", "GET /healthz")))
			},
			metric: "vadcapture.http.request.duration",
			attrs:  []attribute.KeyValue{attribute.String("path", "GET /healthz")},
			want:   1,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			m, reader := newTestMetrics(t)
			tt.record(m)
			if got := observed(t, collect(t, reader), tt.metric, tt.attrs...); got != tt.want {
				t.Errorf("%s = %v, want %v", tt.metric, got, tt.want)
			}
		})
	}
}

// ─── Construction ────────────────────────────────────────────────────────────

// failingMeter rejects histograms.
type failingMeter struct{ noop.Meter }

func (failingMeter) Float64Histogram(string, ...metric.Float64HistogramOption) (metric.Float64Histogram, error) {
	return nil, errors.New("histograms disabled")
}

type failingProvider struct{ noop.MeterProvider }

func (failingProvider) Meter(string, ...metric.MeterOption) metric.Meter { return failingMeter{} }

func TestNewMetrics_PropagatesInstrumentError(t *testing.T) {
	t.Parallel()
	if _, err := NewMetrics(failingProvider{}); err == nil || err.Error() != "histograms disabled" {
		t.Fatalf("err = %v, want the meter's error", err)
	}
}

func TestDefaultMetrics_ReturnsSameInstance(t *testing.T) {
	if DefaultMetrics() != DefaultMetrics() {
		t.Error("DefaultMetrics returned different pointers")
	}
}
