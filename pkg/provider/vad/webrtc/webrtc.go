// Package webrtc provides a [vad.Classifier] backed by the WebRTC GMM voice
// activity detector via github.com/maxhawkins/go-webrtcvad.
//
// WebRTC VAD makes a binary decision per 10, 20 or 30 ms frame at 8, 16, 32
// or 48 kHz. Audio at other rates is resampled to 16 kHz per window. The
// returned probability is 1 for voiced frames and 0 otherwise.
package webrtc

import (
	"fmt"
	"time"

	webrtcvad "github.com/maxhawkins/go-webrtcvad"

	"github.com/MrWong99/vadcapture/pkg/audio"
	"github.com/MrWong99/vadcapture/pkg/provider/vad"
)

const (
	defaultMode  = 2
	defaultFrame = 30 * time.Millisecond
	fallbackRate = 16000
)

var _ vad.Classifier = (*Classifier)(nil)

// Option is a functional option for [New].
type Option func(*Classifier)

// WithMode sets the aggressiveness mode 0 (least) to 3 (most). Default: 2.
func WithMode(mode int) Option {
	return func(c *Classifier) { c.mode = mode }
}

// WithFrame sets the frame length: 10, 20 or 30 ms. Default: 30 ms.
func WithFrame(d time.Duration) Option {
	return func(c *Classifier) { c.frame = d }
}

// Classifier wraps a WebRTC VAD instance.
type Classifier struct {
	vad   *webrtcvad.VAD
	mode  int
	frame time.Duration

	inRate   int
	vadRate  int
	window   int
	vadFrame int
}

// New creates a classifier for audio at sampleRate.
func New(sampleRate int, opts ...Option) (*Classifier, error) {
	c := &Classifier{mode: defaultMode, frame: defaultFrame, inRate: sampleRate}
	for _, o := range opts {
		o(c)
	}
	if c.mode < 0 || c.mode > 3 {
		return nil, fmt.Errorf("webrtc: mode %d out of range [0, 3]", c.mode)
	}
	switch c.frame {
	case 10 * time.Millisecond, 20 * time.Millisecond, 30 * time.Millisecond:
	default:
		return nil, fmt.Errorf("webrtc: frame %v must be 10, 20 or 30 ms", c.frame)
	}

	v, err := webrtcvad.New()
	if err != nil {
		return nil, fmt.Errorf("webrtc: create vad: %w", err)
	}
	if err := v.SetMode(c.mode); err != nil {
		return nil, fmt.Errorf("webrtc: set mode: %w", err)
	}

	c.vadRate = sampleRate
	c.window = samplesIn(c.frame, sampleRate)
	if !v.ValidRateAndFrameLength(sampleRate, c.window) {
		c.vadRate = fallbackRate
	}
	c.vadFrame = samplesIn(c.frame, c.vadRate)
	c.vad = v
	return c, nil
}

// Factory adapts [New] to a [vad.ClassifierFactory].
func Factory(opts ...Option) vad.ClassifierFactory {
	return func(sampleRate int) (vad.Classifier, error) {
		return New(sampleRate, opts...)
	}
}

func (c *Classifier) WindowSize() int { return c.window }

func (c *Classifier) Classify(window []float32) (float64, error) {
	samples := window
	if c.vadRate != c.inRate {
		samples = fit(audio.ResampleFloat32(window, c.inRate, c.vadRate), c.vadFrame)
	}
	voiced, err := c.vad.Process(c.vadRate, audio.Float32ToPCM16(samples))
	if err != nil {
		return 0, fmt.Errorf("webrtc: process: %w", err)
	}
	if voiced {
		return 1, nil
	}
	return 0, nil
}

// Reset is a no-op; the GMM state adapts continuously.
func (c *Classifier) Reset() {}

func (c *Classifier) Close() error { return nil }

func samplesIn(d time.Duration, rate int) int {
	return rate * int(d/time.Millisecond) / 1000
}

// fit pads with zeros or truncates s to exactly n samples.
func fit(s []float32, n int) []float32 {
	if len(s) >= n {
		return s[:n]
	}
	out := make([]float32, n)
	copy(out, s)
	return out
}
