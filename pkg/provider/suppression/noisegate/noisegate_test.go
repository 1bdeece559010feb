package noisegate_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/MrWong99/vadcapture/pkg/audio"
	audiomock "github.com/MrWong99/vadcapture/pkg/audio/mock"
	"github.com/MrWong99/vadcapture/pkg/provider/suppression"
	"github.com/MrWong99/vadcapture/pkg/provider/suppression/noisegate"
)

func constant(n int, amp float32) []float32 {
	s := make([]float32, n)
	for i := range s {
		s[i] = amp
	}
	return s
}

func setup(t *testing.T, intensity float64) (suppression.Connector, *audiomock.Track, audio.Track) {
	t.Helper()
	ctx := context.Background()
	p := noisegate.New()
	if err := p.Init(ctx, suppression.Options{SampleRate: 16000, Intensity: intensity}); err != nil {
		t.Fatalf("Init: %v", err)
	}
	t.Cleanup(func() { _ = p.Destroy() })
	conn, err := p.Connector(ctx)
	if err != nil {
		t.Fatalf("Connector: %v", err)
	}
	raw := audiomock.NewTrack("raw")
	out, err := conn.SetTrack(ctx, raw)
	if err != nil {
		t.Fatalf("SetTrack: %v", err)
	}
	return conn, raw, out
}

func recv(t *testing.T, tr audio.Track) audio.Frame {
	t.Helper()
	select {
	case f, ok := <-tr.Frames():
		if !ok {
			t.Fatal("suppressed track ended")
		}
		return f
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for suppressed frame")
		return audio.Frame{}
	}
}

func TestConnector_AttenuatesSteadyNoise(t *testing.T) {
	t.Parallel()
	_, raw, out := setup(t, 1)

	var last audio.Frame
	for range 200 {
		raw.Emit(audio.Frame{Samples: constant(160, 0.01), SampleRate: 16000})
		last = recv(t, out)
	}
	if got := audio.RMS(last.Samples); got > 0.002 {
		t.Errorf("steady noise RMS after gating = %v, want strongly attenuated", got)
	}

	// A loud burst reopens the gate within a few frames.
	for range 10 {
		raw.Emit(audio.Frame{Samples: constant(160, 0.5), SampleRate: 16000})
		last = recv(t, out)
	}
	if got := audio.RMS(last.Samples); got < 0.45 {
		t.Errorf("speech RMS after gating = %v, want ~0.5", got)
	}
}

func TestConnector_ZeroIntensityPassesThrough(t *testing.T) {
	t.Parallel()
	_, raw, out := setup(t, 0)
	for range 50 {
		raw.Emit(audio.Frame{Samples: constant(160, 0.01), SampleRate: 16000})
		f := recv(t, out)
		if got := audio.RMS(f.Samples); got < 0.0099 {
			t.Fatalf("RMS = %v, want unchanged 0.01", got)
		}
	}
}

func TestConnector_SetIntensity(t *testing.T) {
	t.Parallel()
	conn, _, _ := setup(t, 0.5)
	if err := conn.SetIntensity(0.8); err != nil {
		t.Fatalf("SetIntensity: %v", err)
	}
	if got := conn.(*noisegate.Connector).Intensity(); got != 0.8 {
		t.Errorf("Intensity = %v, want 0.8", got)
	}
	if err := conn.SetIntensity(1.5); err == nil {
		t.Error("expected error for intensity 1.5")
	}
}

func TestConnector_RawEndEndsSuppressed(t *testing.T) {
	t.Parallel()
	_, raw, out := setup(t, 0.5)
	_ = raw.Stop()
	select {
	case _, ok := <-out.Frames():
		if ok {
			t.Error("expected suppressed track to end")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("suppressed track did not end")
	}
}

func TestConnector_DestroyStopsOutputNotRaw(t *testing.T) {
	t.Parallel()
	conn, raw, out := setup(t, 0.5)
	if err := conn.Destroy(); err != nil {
		t.Fatalf("Destroy: %v", err)
	}
	if out.Live() {
		t.Error("suppressed track should have ended")
	}
	if !raw.Live() {
		t.Error("raw track must stay live")
	}
	if _, err := conn.SetTrack(context.Background(), raw); err == nil {
		t.Error("SetTrack after Destroy should fail")
	}
}

func TestProcessor_ConnectorBeforeInit(t *testing.T) {
	t.Parallel()
	_, err := noisegate.New().Connector(context.Background())
	if !errors.Is(err, noisegate.ErrNotInitialized) {
		t.Errorf("err = %v, want ErrNotInitialized", err)
	}
}

func TestProcessor_InitValidation(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		opts suppression.Options
	}{
		{name: "intensity", opts: suppression.Options{Intensity: 2}},
		{name: "margin type", opts: suppression.Options{Params: map[string]any{"open_margin": "wide"}}},
		{name: "margin range", opts: suppression.Options{Params: map[string]any{"open_margin": 0.5}}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if err := noisegate.New().Init(context.Background(), tc.opts); err == nil {
				t.Error("expected Init error")
			}
		})
	}
}
