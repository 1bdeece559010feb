package sensitivity_test

import (
	"math"
	"testing"

	"github.com/MrWong99/vadcapture/internal/noise"
	"github.com/MrWong99/vadcapture/internal/sensitivity"
)

func TestSilenceThreshold(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		profile *noise.Profile
		want    float64
	}{
		{name: "no profile", profile: nil, want: 0.2},
		{name: "silent room", profile: &noise.Profile{AverageLevel: 0}, want: 0.05},
		{name: "linear range", profile: &noise.Profile{AverageLevel: 0.1}, want: 0.25},
		{name: "clamped high", profile: &noise.Profile{AverageLevel: 0.2, IsNoisy: true}, want: 0.35},
		{name: "saturated", profile: &noise.Profile{AverageLevel: 1, IsNoisy: true}, want: 0.35},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := sensitivity.SilenceThreshold(tc.profile); math.Abs(got-tc.want) > 1e-9 {
				t.Errorf("SilenceThreshold = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestSilenceThreshold_MonotonicAndBounded(t *testing.T) {
	t.Parallel()
	prev := -1.0
	for i := 0; i <= 1000; i++ {
		avg := float64(i) / 1000
		got := sensitivity.SilenceThreshold(&noise.Profile{AverageLevel: avg})
		if got < sensitivity.MinSilenceThreshold || got > sensitivity.MaxSilenceThreshold {
			t.Fatalf("SilenceThreshold(%v) = %v out of [0.05, 0.35]", avg, got)
		}
		if got < prev {
			t.Fatalf("SilenceThreshold decreased at %v: %v < %v", avg, got, prev)
		}
		prev = got
	}
}

func TestAdjusted_Scenarios(t *testing.T) {
	t.Parallel()
	noisy := &noise.Profile{AverageLevel: 0.3, IsNoisy: true}
	quiet := &noise.Profile{AverageLevel: 0.05}

	if got := sensitivity.Adjusted(0.75, noisy); math.Abs(got-0.55) > 1e-9 {
		t.Errorf("Adjusted(0.75, noisy) = %v, want 0.55", got)
	}
	if got := sensitivity.Adjusted(0.4, noisy); got != 0.3 {
		t.Errorf("Adjusted(0.4, noisy) = %v, want floor 0.3", got)
	}
	if got := sensitivity.Adjusted(0.75, quiet); math.Abs(got-0.85) > 1e-9 {
		t.Errorf("Adjusted(0.75, quiet) = %v, want 0.85", got)
	}
	if got := sensitivity.Adjusted(0.95, quiet); got != 0.9 {
		t.Errorf("Adjusted(0.95, quiet) = %v, want ceiling 0.9", got)
	}
	if got := sensitivity.Adjusted(0.6, nil); got != 0.6 {
		t.Errorf("Adjusted without profile = %v, want base", got)
	}
}

func TestAdjusted_Properties(t *testing.T) {
	t.Parallel()
	for i := 0; i <= 100; i++ {
		base := float64(i) / 100
		n := sensitivity.Adjusted(base, &noise.Profile{IsNoisy: true})
		if n < 0.3 || (base >= 0.3 && n > base) {
			t.Errorf("noisy: Adjusted(%v) = %v violates 0.3 <= v <= base", base, n)
		}
		q := sensitivity.Adjusted(base, &noise.Profile{})
		if q > 0.9 || (base <= 0.9 && q < base) {
			t.Errorf("quiet: Adjusted(%v) = %v violates base <= v <= 0.9", base, q)
		}
	}
}

func TestEffective(t *testing.T) {
	t.Parallel()
	noisy := &noise.Profile{IsNoisy: true}
	if got := sensitivity.Effective(0.75, noisy, false); got != 0.75 {
		t.Errorf("non-adaptive = %v, want base", got)
	}
	if got := sensitivity.Effective(0.75, noisy, true); math.Abs(got-0.55) > 1e-9 {
		t.Errorf("adaptive = %v, want 0.55", got)
	}
}

func TestClamp(t *testing.T) {
	t.Parallel()
	for in, want := range map[float64]float64{-0.5: 0, 0: 0, 0.42: 0.42, 1: 1, 7: 1} {
		if got := sensitivity.Clamp(in); got != want {
			t.Errorf("Clamp(%v) = %v, want %v", in, got, want)
		}
	}
}
