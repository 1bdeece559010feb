package session

import (
	"fmt"
	"time"

	"github.com/MrWong99/vadcapture/internal/noise"
	"github.com/MrWong99/vadcapture/pkg/audio"
)

// Quality selects the capture tier of a session.
type Quality string

const (
	QualityLow    Quality = "low"
	QualityMedium Quality = "medium"
	QualityHigh   Quality = "high"
)

// Tier is the concrete capture setup behind a [Quality].
type Tier struct {
	SampleRate  int
	LatencyHint string
	FFTSize     int
	Smoothing   float64
}

// Tier returns the capture setup for q. Unknown values use the medium tier.
func (q Quality) Tier() Tier {
	switch q {
	case QualityLow:
		return Tier{SampleRate: 8000, LatencyHint: audio.LatencyPlayback, FFTSize: 512, Smoothing: 0.9}
	case QualityHigh:
		return Tier{SampleRate: 44100, LatencyHint: audio.LatencyInteractive, FFTSize: 2048, Smoothing: 0.7}
	default:
		return Tier{SampleRate: 16000, LatencyHint: "0.02", FFTSize: 1024, Smoothing: 0.8}
	}
}

// Valid reports whether q is one of the known tiers.
func (q Quality) Valid() bool {
	switch q {
	case QualityLow, QualityMedium, QualityHigh:
		return true
	}
	return false
}

// Default configuration values.
const (
	DefaultSensitivity    = 0.75
	DefaultSilenceTimeout = 1500 * time.Millisecond
	DefaultIntensity      = 0.7
	DefaultMaxRecording   = 30 * time.Second
)

// Config is the per-session configuration. Sensitivity and
// SuppressionIntensity are clamped to [0, 1] by [New].
type Config struct {
	Quality Quality

	// EchoCancellation, AutoGainControl and NativeNoiseSuppression are
	// forwarded to the microphone backend as capture constraints.
	EchoCancellation       bool
	AutoGainControl        bool
	NativeNoiseSuppression bool

	// Sensitivity is the base speech sensitivity in [0, 1].
	Sensitivity float64

	// SilenceTimeout is how long speech must stay silent before a segment
	// ends.
	SilenceTimeout time.Duration

	// Adaptive retunes the detector from the noise profile.
	Adaptive bool

	// Suppression enables the noise-suppression stage.
	Suppression          bool
	SuppressionIntensity float64
	SuppressionParams    map[string]any

	// MinRecording drops captured segments shorter than this. Zero disables
	// the check.
	MinRecording time.Duration

	// MaxRecording stops listening once a single recording runs this long.
	// Zero disables the limit.
	MaxRecording time.Duration

	// Noise tunes the noise profiler.
	Noise noise.Config

	// LevelInterval is the audio-level sampling period. Zero uses 100 ms.
	LevelInterval time.Duration
}

// DefaultConfig returns the configuration used when nothing is overridden.
func DefaultConfig() Config {
	return Config{
		Quality:              QualityMedium,
		EchoCancellation:     true,
		AutoGainControl:      true,
		Sensitivity:          DefaultSensitivity,
		SilenceTimeout:       DefaultSilenceTimeout,
		Adaptive:             true,
		Suppression:          true,
		SuppressionIntensity: DefaultIntensity,
		MaxRecording:         DefaultMaxRecording,
	}
}

func (c Config) normalise() Config {
	if !c.Quality.Valid() {
		c.Quality = QualityMedium
	}
	c.Sensitivity = clamp01(c.Sensitivity)
	c.SuppressionIntensity = clamp01(c.SuppressionIntensity)
	if c.SilenceTimeout <= 0 {
		c.SilenceTimeout = DefaultSilenceTimeout
	}
	if c.MinRecording < 0 {
		c.MinRecording = 0
	}
	if c.MaxRecording < 0 {
		c.MaxRecording = 0
	}
	return c
}

// constraints builds the microphone request for the configured tier.
func (c Config) constraints() audio.Constraints {
	t := c.Quality.Tier()
	return audio.Constraints{
		SampleRate:       t.SampleRate,
		Channels:         1,
		EchoCancellation: c.EchoCancellation,
		AutoGainControl:  c.AutoGainControl,
		NoiseSuppression: c.NativeNoiseSuppression,
		LatencyHint:      t.LatencyHint,
	}
}

func (t Tier) String() string {
	return fmt.Sprintf("%d Hz, latency %s, fft %d", t.SampleRate, t.LatencyHint, t.FFTSize)
}

func clamp01(v float64) float64 {
	return min(1, max(0, v))
}
