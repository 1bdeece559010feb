// Package sensitivity maps the ambient noise profile onto detector settings.
//
// All functions are pure. The session manager pushes their results into the
// speech detector.
package sensitivity

import "github.com/MrWong99/vadcapture/internal/noise"

const (
	// DefaultSilenceThreshold applies while no noise profile exists.
	DefaultSilenceThreshold = 0.2

	MinSilenceThreshold = 0.05
	MaxSilenceThreshold = 0.35

	// noiseFactor scales the average noise level into the threshold.
	noiseFactor = 2.0

	// NoisyDrop lowers the base sensitivity in a noisy room, bounded below
	// by MinAdjusted.
	NoisyDrop   = 0.2
	MinAdjusted = 0.3

	// QuietBoost raises the base sensitivity in a quiet room, bounded above
	// by MaxAdjusted.
	QuietBoost  = 0.1
	MaxAdjusted = 0.9
)

// SilenceThreshold returns clamp(0.05, 0.35, 0.05 + 2·average). A nil profile
// yields DefaultSilenceThreshold.
func SilenceThreshold(p *noise.Profile) float64 {
	if p == nil {
		return DefaultSilenceThreshold
	}
	return min(MaxSilenceThreshold, max(MinSilenceThreshold, MinSilenceThreshold+p.AverageLevel*noiseFactor))
}

// Adjusted returns the effective sensitivity for base in the given room.
// Noisy rooms lower it to no less than 0.3; quiet rooms raise it to no more
// than 0.9. A nil profile returns base unchanged.
func Adjusted(base float64, p *noise.Profile) float64 {
	if p == nil {
		return base
	}
	if p.IsNoisy {
		return max(MinAdjusted, base-NoisyDrop)
	}
	return min(MaxAdjusted, base+QuietBoost)
}

// Effective returns the sensitivity to apply: [Adjusted] in adaptive mode
// and base otherwise.
func Effective(base float64, p *noise.Profile, adaptive bool) float64 {
	if !adaptive {
		return base
	}
	return Adjusted(base, p)
}

// Clamp bounds v to [0, 1].
func Clamp(v float64) float64 {
	return min(1, max(0, v))
}
