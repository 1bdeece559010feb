package vad

import (
	"math"
	"time"
)

const (
	defaultEnergyWindow  = 20 * time.Millisecond
	defaultEnergyAlpha   = 0.3
	defaultEnergyFloor   = 0.005
	defaultEnergyCeiling = 0.3
)

// EnergyConfig tunes the [Energy] classifier.
type EnergyConfig struct {
	// Window is the analysis window length. Default: 20 ms.
	Window time.Duration

	// Alpha is the exponential smoothing factor applied to window RMS.
	// Default: 0.3.
	Alpha float64

	// Floor is the RMS at or below which probability is 0. Default: 0.005.
	Floor float64

	// Ceiling is the RMS at or above which probability is 1. Default: 0.3.
	Ceiling float64
}

// Energy is a model-free classifier that maps smoothed RMS amplitude onto a
// speech probability.
type Energy struct {
	cfg      EnergyConfig
	window   int
	smoothed float64
}

var _ Classifier = (*Energy)(nil)

// NewEnergy returns an energy classifier for audio at sampleRate.
func NewEnergy(sampleRate int, cfg EnergyConfig) *Energy {
	if cfg.Window <= 0 {
		cfg.Window = defaultEnergyWindow
	}
	if cfg.Alpha <= 0 || cfg.Alpha > 1 {
		cfg.Alpha = defaultEnergyAlpha
	}
	if cfg.Floor <= 0 {
		cfg.Floor = defaultEnergyFloor
	}
	if cfg.Ceiling <= cfg.Floor {
		cfg.Ceiling = defaultEnergyCeiling
	}
	n := sampleRate * int(cfg.Window/time.Millisecond) / 1000
	return &Energy{cfg: cfg, window: max(1, n)}
}

// EnergyFactory adapts [NewEnergy] to a [ClassifierFactory].
func EnergyFactory(cfg EnergyConfig) ClassifierFactory {
	return func(sampleRate int) (Classifier, error) {
		return NewEnergy(sampleRate, cfg), nil
	}
}

func (e *Energy) WindowSize() int { return e.window }

func (e *Energy) Classify(window []float32) (float64, error) {
	var sum float64
	for _, s := range window {
		sum += float64(s) * float64(s)
	}
	rms := 0.0
	if len(window) > 0 {
		rms = math.Sqrt(sum / float64(len(window)))
	}
	e.smoothed = e.cfg.Alpha*rms + (1-e.cfg.Alpha)*e.smoothed

	if e.smoothed <= e.cfg.Floor {
		return 0, nil
	}
	p := (e.smoothed - e.cfg.Floor) / (e.cfg.Ceiling - e.cfg.Floor)
	return min(1, max(0, p)), nil
}

func (e *Energy) Reset() { e.smoothed = 0 }

func (e *Energy) Close() error { return nil }
