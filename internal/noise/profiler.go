// Package noise maintains the ambient noise profile of a capture session.
//
// A [Profiler] first samples a level source for a fixed warm-up window and
// derives the initial [Profile] from those samples. Afterwards the session
// feeds it the detector's background-noise reports through
// [Profiler.Update], which smooths the average with an exponential moving
// average and tracks a decaying peak.
package noise

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Defaults for [Config].
const (
	DefaultWarmup         = 2000 * time.Millisecond
	DefaultInterval       = 100 * time.Millisecond
	DefaultNoisyThreshold = 0.15
	DefaultAlpha          = 0.1
	DefaultPeakDecay      = 0.95
)

// Neutral is the profile used when warm-up collected no samples.
var Neutral = Profile{AverageLevel: 0.1, PeakLevel: 0.2, IsNoisy: false}

// Profile summarises the ambient loudness of a session. Levels are in [0, 1].
type Profile struct {
	AverageLevel float64 `json:"averageLevel"`
	PeakLevel    float64 `json:"peakLevel"`
	IsNoisy      bool    `json:"isNoisy"`
}

// SNR is a coarse signal-to-noise estimate for display: 1/AverageLevel for a
// noisy room and 10 otherwise.
func (p Profile) SNR() float64 {
	if !p.IsNoisy || p.AverageLevel <= 0 {
		return 10
	}
	return 1 / p.AverageLevel
}

// LevelSource yields an instantaneous loudness in [0, 1]. The analyser node
// of the capture graph implements it.
type LevelSource interface {
	Level() float64
}

// Config tunes a [Profiler]. Zero fields take the package defaults.
type Config struct {
	// Warmup is how long [Profiler.Warmup] samples before computing the
	// initial profile.
	Warmup time.Duration

	// Interval is the sampling period during warm-up.
	Interval time.Duration

	// NoisyThreshold is the average level above which a room counts as noisy.
	NoisyThreshold float64

	// Alpha is the smoothing factor applied by [Profiler.Update].
	Alpha float64

	// PeakDecay multiplies the previous peak on every update and is used for
	// both the warm-up and the continuous path.
	PeakDecay float64
}

func (c Config) withDefaults() Config {
	if c.Warmup <= 0 {
		c.Warmup = DefaultWarmup
	}
	if c.Interval <= 0 {
		c.Interval = DefaultInterval
	}
	if c.NoisyThreshold <= 0 {
		c.NoisyThreshold = DefaultNoisyThreshold
	}
	if c.Alpha <= 0 || c.Alpha > 1 {
		c.Alpha = DefaultAlpha
	}
	if c.PeakDecay <= 0 || c.PeakDecay > 1 {
		c.PeakDecay = DefaultPeakDecay
	}
	return c
}

// Profiler holds the current profile. It is safe for concurrent use.
type Profiler struct {
	cfg Config
	log *slog.Logger

	mu      sync.Mutex
	profile *Profile
}

// Option configures a [Profiler].
type Option func(*Profiler)

// WithLogger sets the logger for warm-up diagnostics. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(p *Profiler) { p.log = l }
}

// New returns a profiler without a profile.
func New(cfg Config, opts ...Option) *Profiler {
	p := &Profiler{cfg: cfg.withDefaults(), log: slog.Default()}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Config returns the effective configuration.
func (p *Profiler) Config() Config { return p.cfg }

// Warmup samples src every Interval for the Warmup window and stores the
// resulting profile. It always returns a profile: cancelling ctx ends the
// window early and the samples gathered so far are used.
func (p *Profiler) Warmup(ctx context.Context, src LevelSource) Profile {
	var samples []float64

	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()
	deadline := time.NewTimer(p.cfg.Warmup)
	defer deadline.Stop()

loop:
	for {
		select {
		case <-ctx.Done():
			break loop
		case <-deadline.C:
			break loop
		case <-ticker.C:
			samples = append(samples, clamp01(src.Level()))
		}
	}

	prof := FromSamples(samples, p.cfg.NoisyThreshold)
	if len(samples) == 0 {
		p.log.Warn("noise: no samples collected during warm-up, using neutral profile")
	}
	p.mu.Lock()
	p.profile = &prof
	p.mu.Unlock()
	return prof
}

// Update folds one background level into the profile and returns the new
// value. Without a prior profile the level itself seeds it.
func (p *Profiler) Update(level float64) Profile {
	level = clamp01(level)

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.profile == nil {
		p.profile = &Profile{
			AverageLevel: level,
			PeakLevel:    level,
			IsNoisy:      level > p.cfg.NoisyThreshold,
		}
		return *p.profile
	}
	a := p.cfg.Alpha
	p.profile.AverageLevel = (1-a)*p.profile.AverageLevel + a*level
	p.profile.PeakLevel = max(p.profile.PeakLevel*p.cfg.PeakDecay, level)
	p.profile.IsNoisy = p.profile.AverageLevel > p.cfg.NoisyThreshold
	return *p.profile
}

// Profile returns a copy of the current profile, or false before one exists.
func (p *Profiler) Profile() (Profile, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.profile == nil {
		return Profile{}, false
	}
	return *p.profile, true
}

// Reset discards the profile.
func (p *Profiler) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.profile = nil
}

// FromSamples computes a profile from warm-up samples: mean, maximum and the
// noisy flag. An empty slice yields [Neutral].
func FromSamples(samples []float64, noisyThreshold float64) Profile {
	if len(samples) == 0 {
		return Neutral
	}
	var sum, peak float64
	for _, s := range samples {
		sum += s
		peak = max(peak, s)
	}
	avg := sum / float64(len(samples))
	return Profile{AverageLevel: avg, PeakLevel: peak, IsNoisy: avg > noisyThreshold}
}

func clamp01(v float64) float64 {
	return min(1, max(0, v))
}
