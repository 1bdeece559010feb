package vad

import (
	"errors"
	"fmt"
	"time"

	"github.com/MrWong99/vadcapture/pkg/audio"
)

const (
	// MinSpeechThreshold and MaxSpeechThreshold bound the probability cut
	// derived from sensitivity.
	MinSpeechThreshold = 0.05
	MaxSpeechThreshold = 0.95

	DefaultMinSilenceDuration = 1500 * time.Millisecond
	DefaultMinSpeechDuration  = 250 * time.Millisecond
	DefaultPreSpeechPadding   = 300 * time.Millisecond
	DefaultNoiseInterval      = 500 * time.Millisecond
)

// Listener receives detector callbacks.
type Listener interface {
	// SpeechStart fires when a segment opens.
	SpeechStart()

	// SpeechEnd fires when a segment closes. samples holds the whole segment
	// including pre-speech padding, at the detector's sample rate. Ownership
	// passes to the listener.
	SpeechEnd(samples []float32)

	// Misfire fires instead of SpeechEnd when the segment was too short to be
	// speech.
	Misfire()

	// BackgroundNoise reports the ambient level in [0, 1] measured over
	// non-speech audio.
	BackgroundNoise(level float64)

	// Error reports a failure during operation. The detector keeps running
	// unless its source has ended.
	Error(err error)
}

// Options configures a detector.
type Options struct {
	// Source is the frame stream to segment. Required.
	Source <-chan audio.Frame

	// SampleRate is the rate of frames on Source in Hz. Required.
	SampleRate int

	// Sensitivity in [0, 1]; see SpeechThreshold.
	Sensitivity float64

	// SilenceThreshold is the probability below which a window counts as
	// silence. Zero means "same as the speech threshold".
	SilenceThreshold float64

	// MinSilenceDuration is how much trailing silence closes a segment.
	MinSilenceDuration time.Duration

	// MinSpeechDuration is the shortest voiced run reported as speech;
	// anything shorter is a misfire.
	MinSpeechDuration time.Duration

	// PreSpeechPadding is how much audio from before the segment opened is
	// prepended to it.
	PreSpeechPadding time.Duration

	// NoiseInterval is how often BackgroundNoise is reported while idle.
	NoiseInterval time.Duration

	// Listener receives callbacks. Required.
	Listener Listener
}

// WithDefaults returns a copy of o with zero durations replaced by defaults.
func (o Options) WithDefaults() Options {
	if o.MinSilenceDuration <= 0 {
		o.MinSilenceDuration = DefaultMinSilenceDuration
	}
	if o.MinSpeechDuration <= 0 {
		o.MinSpeechDuration = DefaultMinSpeechDuration
	}
	if o.PreSpeechPadding < 0 {
		o.PreSpeechPadding = 0
	} else if o.PreSpeechPadding == 0 {
		o.PreSpeechPadding = DefaultPreSpeechPadding
	}
	if o.NoiseInterval <= 0 {
		o.NoiseInterval = DefaultNoiseInterval
	}
	return o
}

// Validate reports missing or out-of-range options.
func (o Options) Validate() error {
	var errs []error
	if o.Source == nil {
		errs = append(errs, errors.New("vad: source is required"))
	}
	if o.SampleRate <= 0 {
		errs = append(errs, fmt.Errorf("vad: invalid sample rate %d", o.SampleRate))
	}
	if o.Listener == nil {
		errs = append(errs, errors.New("vad: listener is required"))
	}
	if o.Sensitivity < 0 || o.Sensitivity > 1 {
		errs = append(errs, fmt.Errorf("vad: sensitivity %.2f out of range [0, 1]", o.Sensitivity))
	}
	if o.SilenceThreshold < 0 || o.SilenceThreshold > 1 {
		errs = append(errs, fmt.Errorf("vad: silence threshold %.2f out of range [0, 1]", o.SilenceThreshold))
	}
	return errors.Join(errs...)
}

// SpeechThreshold maps sensitivity to the probability a window must reach to
// count as speech: 1 - sensitivity, bounded to [MinSpeechThreshold,
// MaxSpeechThreshold].
func SpeechThreshold(sensitivity float64) float64 {
	return min(MaxSpeechThreshold, max(MinSpeechThreshold, 1-sensitivity))
}

// SilenceCut returns the probability below which a window counts as silence:
// the lower of the silence and speech thresholds. A zero silence threshold
// defers to the speech threshold.
func SilenceCut(silenceThreshold, speechThreshold float64) float64 {
	if silenceThreshold <= 0 {
		return speechThreshold
	}
	return min(silenceThreshold, speechThreshold)
}

// ListenerFuncs adapts plain functions to [Listener]. Nil fields are no-ops.
type ListenerFuncs struct {
	OnSpeechStart     func()
	OnSpeechEnd       func(samples []float32)
	OnMisfire         func()
	OnBackgroundNoise func(level float64)
	OnError           func(err error)
}

var _ Listener = ListenerFuncs{}

func (l ListenerFuncs) SpeechStart() {
	if l.OnSpeechStart != nil {
		l.OnSpeechStart()
	}
}

func (l ListenerFuncs) SpeechEnd(samples []float32) {
	if l.OnSpeechEnd != nil {
		l.OnSpeechEnd(samples)
	}
}

func (l ListenerFuncs) Misfire() {
	if l.OnMisfire != nil {
		l.OnMisfire()
	}
}

func (l ListenerFuncs) BackgroundNoise(level float64) {
	if l.OnBackgroundNoise != nil {
		l.OnBackgroundNoise(level)
	}
}

func (l ListenerFuncs) Error(err error) {
	if l.OnError != nil {
		l.OnError(err)
	}
}
