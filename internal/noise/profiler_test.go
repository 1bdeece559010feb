package noise_test

import (
	"bytes"
	"context"
	"log/slog"
	"math"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/MrWong99/vadcapture/internal/noise"
)

type constLevel float64

func (c constLevel) Level() float64 { return float64(c) }

type countingLevel struct {
	calls atomic.Int32
	value float64
}

func (c *countingLevel) Level() float64 {
	c.calls.Add(1)
	return c.value
}

func approx(a, b float64) bool { return math.Abs(a-b) < 1e-9 }

func TestFromSamples(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		samples []float64
		want    noise.Profile
	}{
		{name: "empty", samples: nil, want: noise.Profile{AverageLevel: 0.1, PeakLevel: 0.2}},
		{name: "quiet", samples: []float64{0.05, 0.1, 0.15}, want: noise.Profile{AverageLevel: 0.1, PeakLevel: 0.15}},
		{name: "noisy", samples: []float64{0.2, 0.3}, want: noise.Profile{AverageLevel: 0.25, PeakLevel: 0.3, IsNoisy: true}},
		{name: "exactly threshold", samples: []float64{0.15}, want: noise.Profile{AverageLevel: 0.15, PeakLevel: 0.15}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := noise.FromSamples(tc.samples, noise.DefaultNoisyThreshold)
			if !approx(got.AverageLevel, tc.want.AverageLevel) || !approx(got.PeakLevel, tc.want.PeakLevel) || got.IsNoisy != tc.want.IsNoisy {
				t.Errorf("FromSamples(%v) = %+v, want %+v", tc.samples, got, tc.want)
			}
		})
	}
}

func TestProfiler_NoProfileBeforeWarmup(t *testing.T) {
	t.Parallel()
	p := noise.New(noise.Config{})
	if _, ok := p.Profile(); ok {
		t.Error("new profiler should have no profile")
	}
}

func TestProfiler_WarmupSamplesSource(t *testing.T) {
	t.Parallel()
	p := noise.New(noise.Config{Warmup: 120 * time.Millisecond, Interval: 10 * time.Millisecond})
	src := &countingLevel{value: 0.4}

	got := p.Warmup(context.Background(), src)
	if src.calls.Load() == 0 {
		t.Fatal("source was never sampled")
	}
	if !approx(got.AverageLevel, 0.4) || !approx(got.PeakLevel, 0.4) || !got.IsNoisy {
		t.Errorf("profile = %+v, want average=peak=0.4 noisy", got)
	}
	stored, ok := p.Profile()
	if !ok || stored != got {
		t.Errorf("stored profile = %+v (%v), want %+v", stored, ok, got)
	}
}

func TestProfiler_WarmupWithoutSamplesIsNeutral(t *testing.T) {
	t.Parallel()
	// The interval is longer than the window, so no tick fires.
	p := noise.New(noise.Config{Warmup: 20 * time.Millisecond, Interval: time.Hour})
	if got := p.Warmup(context.Background(), constLevel(0.9)); got != noise.Neutral {
		t.Errorf("profile = %+v, want neutral", got)
	}
}

func TestProfiler_WarmupWithoutSamplesLogsToInjectedLogger(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	log := slog.New(slog.NewTextHandler(&buf, nil)).With("session_id", "s-42")
	p := noise.New(noise.Config{Warmup: 20 * time.Millisecond, Interval: time.Hour}, noise.WithLogger(log))

	p.Warmup(context.Background(), constLevel(0.9))

	out := buf.String()
	if !strings.Contains(out, "no samples collected") || !strings.Contains(out, "session_id=s-42") {
		t.Errorf("log output = %q, want warning with session_id", out)
	}
}

func TestProfiler_WarmupCancelledStillResolves(t *testing.T) {
	t.Parallel()
	p := noise.New(noise.Config{Warmup: time.Hour, Interval: time.Hour})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	done := make(chan noise.Profile, 1)
	go func() { done <- p.Warmup(ctx, constLevel(0.5)) }()
	select {
	case got := <-done:
		if got != noise.Neutral {
			t.Errorf("profile = %+v, want neutral", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Warmup did not return after cancellation")
	}
}

func TestProfiler_UpdateSeedsProfile(t *testing.T) {
	t.Parallel()
	p := noise.New(noise.Config{})
	got := p.Update(0.3)
	if got.AverageLevel != 0.3 || got.PeakLevel != 0.3 || !got.IsNoisy {
		t.Errorf("seeded profile = %+v", got)
	}
}

func TestProfiler_UpdateSmoothsAndDecays(t *testing.T) {
	t.Parallel()
	p := noise.New(noise.Config{})
	p.Update(0.5)
	got := p.Update(0.0)
	if !approx(got.AverageLevel, 0.45) {
		t.Errorf("average = %v, want 0.45", got.AverageLevel)
	}
	if !approx(got.PeakLevel, 0.475) {
		t.Errorf("peak = %v, want 0.475", got.PeakLevel)
	}

	got = p.Update(0.9)
	if !approx(got.PeakLevel, 0.9) {
		t.Errorf("peak = %v, want new level 0.9", got.PeakLevel)
	}
}

func TestProfiler_UpdateClampsLevel(t *testing.T) {
	t.Parallel()
	p := noise.New(noise.Config{})
	if got := p.Update(3); got.AverageLevel != 1 {
		t.Errorf("average = %v, want clamp to 1", got.AverageLevel)
	}
	p.Reset()
	if got := p.Update(-1); got.AverageLevel != 0 || got.IsNoisy {
		t.Errorf("profile = %+v, want zero level", got)
	}
}

func TestProfiler_ProfileReturnsCopy(t *testing.T) {
	t.Parallel()
	p := noise.New(noise.Config{})
	p.Update(0.1)
	got, _ := p.Profile()
	got.AverageLevel = 0.99
	again, _ := p.Profile()
	if again.AverageLevel != 0.1 {
		t.Errorf("internal profile mutated through copy: %+v", again)
	}
}

func TestProfile_SNR(t *testing.T) {
	t.Parallel()
	if got := (noise.Profile{AverageLevel: 0.25, IsNoisy: true}).SNR(); got != 4 {
		t.Errorf("noisy SNR = %v, want 4", got)
	}
	if got := (noise.Profile{AverageLevel: 0.05}).SNR(); got != 10 {
		t.Errorf("quiet SNR = %v, want 10", got)
	}
}
