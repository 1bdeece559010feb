package app

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"slices"
	"sync"
	"testing"
	"time"

	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/MrWong99/vadcapture/internal/config"
	"github.com/MrWong99/vadcapture/internal/noise"
	"github.com/MrWong99/vadcapture/internal/observe"
	"github.com/MrWong99/vadcapture/internal/session"
	audiomock "github.com/MrWong99/vadcapture/pkg/audio/mock"
	"github.com/MrWong99/vadcapture/pkg/provider/stt"
	sttmock "github.com/MrWong99/vadcapture/pkg/provider/stt/mock"
	vadmock "github.com/MrWong99/vadcapture/pkg/provider/vad/mock"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newMetrics(t *testing.T) (*observe.Metrics, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	m, err := observe.NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m, reader
}

// total sums every data point of the int64 sum metric name, optionally
// restricted to points carrying key=value.
func total(t *testing.T, reader *sdkmetric.ManualReader, name, key, value string) int64 {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	for _, sm := range rm.ScopeMetrics {
		for _, met := range sm.Metrics {
			if met.Name != name {
				continue
			}
			sum, ok := met.Data.(metricdata.Sum[int64])
			if !ok {
				t.Fatalf("metric %q is not an int64 sum", name)
			}
			var n int64
			for _, dp := range sum.DataPoints {
				if key == "" {
					n += dp.Value
					continue
				}
				if v, ok := dp.Attributes.Value(attribute.Key(key)); ok && v.AsString() == value {
					n += dp.Value
				}
			}
			return n
		}
	}
	return 0
}

// ─── sessionMetrics ──────────────────────────────────────────────────────────

func TestSessionMetrics_Counters(t *testing.T) {
	t.Parallel()
	m, reader := newMetrics(t)
	sm := newSessionMetrics(m, func() session.Quality { return session.QualityHigh })

	sm.HandleEvent(session.Event{Kind: session.EventAudioCaptured, Audio: &session.CapturedAudio{Duration: time.Second}})
	sm.HandleEvent(session.Event{Kind: session.EventAudioCaptured})
	sm.HandleEvent(session.Event{Kind: session.EventMisfire, Reason: "too_short"})
	sm.HandleEvent(session.Event{Kind: session.EventError, Err: &session.Error{Kind: session.KindVAD}})
	sm.HandleEvent(session.Event{Kind: session.EventNoiseProfile, SessionID: "s1", Profile: &noise.Profile{AverageLevel: 0.02}})

	if got := total(t, reader, "vadcapture.speech.segments", "quality", "high"); got != 1 {
		t.Errorf("segments = %d, want 1", got)
	}
	if got := total(t, reader, "vadcapture.speech.misfires", "reason", "too_short"); got != 1 {
		t.Errorf("misfires = %d, want 1", got)
	}
	if got := total(t, reader, "vadcapture.session.errors", "kind", "vad"); got != 1 {
		t.Errorf("session errors = %d, want 1", got)
	}
}

func TestSessionMetrics_ActiveSessions(t *testing.T) {
	t.Parallel()
	m, reader := newMetrics(t)
	sm := newSessionMetrics(m, func() session.Quality { return session.QualityMedium })

	status := func(s string) { sm.HandleEvent(session.Event{Kind: session.EventStatus, Status: s}) }

	status(session.StatusInitializing)
	status(session.StatusReady)
	status(session.StatusReady)
	if got := total(t, reader, "vadcapture.active_sessions", "", ""); got != 1 {
		t.Fatalf("active after ready = %d, want 1", got)
	}
	status(session.StatusListening)
	status(session.StatusDisposed)
	status(session.StatusDisposed)
	if got := total(t, reader, "vadcapture.active_sessions", "", ""); got != 0 {
		t.Fatalf("active after dispose = %d, want 0", got)
	}
}

// ─── applySessionDiff ────────────────────────────────────────────────────────

type fakeTunable struct {
	mu        sync.Mutex
	calls     []string
	toggleErr error
	deadline  bool
}

func (f *fakeTunable) record(call string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call)
}

func (f *fakeTunable) SetBaseSensitivity(float64) { f.record("sensitivity") }
func (f *fakeTunable) SetNoiseSuppressIntensity(float64) { f.record("intensity") }

func (f *fakeTunable) ToggleNoiseSuppression(ctx context.Context, _ bool) error {
	f.record("toggle")
	_, f.deadline = ctx.Deadline()
	return f.toggleErr
}

func TestApplySessionDiff(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		diff config.ConfigDiff
		want []string
	}{
		{
			name: "nothing",
		},
		{
			name: "all fields in order",
			diff: config.ConfigDiff{
				SuppressionChanged: true, NewSuppression: true,
				IntensityChanged: true, NewIntensity: 0.4,
				SensitivityChanged: true, NewSensitivity: 0.7,
			},
			want: []string{"sensitivity", "intensity", "toggle"},
		},
		{
			name: "toggle only",
			diff: config.ConfigDiff{SuppressionChanged: true},
			want: []string{"toggle"},
		},
		{
			name: "unrelated changes",
			diff: config.ConfigDiff{LanguageChanged: true, NewLanguage: "hi-IN"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			f := &fakeTunable{}
			applySessionDiff(context.Background(), f, tt.diff, discardLogger())
			if !slices.Equal(f.calls, tt.want) {
				t.Errorf("calls = %v, want %v", f.calls, tt.want)
			}
		})
	}
}

func TestApplySessionDiff_ToggleHasDeadline(t *testing.T) {
	t.Parallel()
	f := &fakeTunable{toggleErr: errors.New("microphone gone")}
	applySessionDiff(context.Background(), f, config.ConfigDiff{SuppressionChanged: true}, discardLogger())
	if !f.deadline {
		t.Error("toggle ran without a deadline")
	}
}

// ─── ApplyConfig ─────────────────────────────────────────────────────────────

func TestApplyConfig(t *testing.T) {
	t.Parallel()
	m, _ := newMetrics(t)

	old := &config.Config{
		Server:    config.ServerConfig{ListenAddr: "127.0.0.1:0", LogLevel: config.LogInfo},
		Providers: config.ProvidersConfig{STT: config.ProviderEntry{Name: "mock"}},
		Transcript: config.TranscriptConfig{
			Language:   "en-IN",
			Vocabulary: []string{"Ironhold"},
		},
	}
	lv := new(slog.LevelVar)
	a, err := New(context.Background(), old, &Providers{
		Microphone: &audiomock.Microphone{},
		VAD:        &vadmock.Engine{},
		STT:        []NamedTranscriber{{Name: "mock", Transcriber: &sttmock.Transcriber{Result: &stt.Result{}}}},
	}, WithMetrics(m), WithLevelVar(lv), WithLogger(discardLogger()))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = a.Shutdown(context.Background()) })

	sens := 0.8
	updated := *old
	updated.Server.LogLevel = config.LogDebug
	updated.Session.Sensitivity = &sens
	updated.Transcript.Language = "hi-IN"
	updated.Transcript.Vocabulary = []string{"Ironhold", "Varanasi"}
	updated.Server.ListenAddr = "127.0.0.1:9999"

	a.ApplyConfig(old, &updated)

	if got := lv.Level(); got != slog.LevelDebug {
		t.Errorf("log level = %v, want debug", got)
	}
	if got := a.manager.BaseSensitivity(); got != 0.8 {
		t.Errorf("base sensitivity = %v, want 0.8", got)
	}
	if got := a.pipeline.Language(); got != "hi-IN" {
		t.Errorf("language = %q, want hi-IN", got)
	}
	if got := a.vocab.Terms(); !slices.Equal(got, []string{"Ironhold", "Varanasi"}) {
		t.Errorf("vocabulary = %v", got)
	}
}

// ─── Recovery ────────────────────────────────────────────────────────────────

func recoveryConfig(enabled bool) *config.Config {
	return &config.Config{
		Server: config.ServerConfig{ListenAddr: "127.0.0.1:0", LogLevel: config.LogInfo},
		Session: config.SessionConfig{
			LevelInterval: 10 * time.Millisecond,
			Noise:         config.NoiseConfig{Warmup: 30 * time.Millisecond, Interval: 10 * time.Millisecond},
			Recovery:      config.RecoveryConfig{Enabled: enabled, Backoff: 10 * time.Millisecond},
		},
	}
}

func TestRecovery_DisabledByDefault(t *testing.T) {
	t.Parallel()
	m, _ := newMetrics(t)
	a, err := New(context.Background(), recoveryConfig(false), &Providers{
		Microphone: &audiomock.Microphone{},
		VAD:        &vadmock.Engine{},
	}, WithMetrics(m), WithLogger(discardLogger()))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = a.Shutdown(context.Background()) })
	if a.recovery != nil {
		t.Error("recoverer created although recovery is disabled")
	}
}

func TestRecovery_RestartsSessionAfterSourceLoss(t *testing.T) {
	t.Parallel()
	m, _ := newMetrics(t)
	mic := &audiomock.Microphone{}
	a, err := New(context.Background(), recoveryConfig(true), &Providers{
		Microphone: mic,
		VAD:        &vadmock.Engine{},
	}, WithMetrics(m), WithLogger(discardLogger()))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = a.Shutdown(context.Background()) })
	if a.recovery == nil {
		t.Fatal("recoverer not created")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	a.recovery.Monitor(ctx)
	a.recovery.NotifyLost()

	deadline := time.Now().Add(5 * time.Second)
	for a.manager.State() != session.StateListening {
		if time.Now().After(deadline) {
			t.Fatalf("state = %v, want listening after recovery", a.manager.State())
		}
		time.Sleep(10 * time.Millisecond)
	}
	if got := len(mic.Calls()); got != 1 {
		t.Errorf("microphone opened %d times, want 1", got)
	}
}
