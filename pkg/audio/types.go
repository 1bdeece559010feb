package audio

import "time"

// Frame is a block of mono audio flowing through the capture graph. Frames
// are produced by a [Track], fanned out by a [Splitter], and consumed by the
// analyser and the speech detector.
type Frame struct {
	// Samples holds mono PCM normalised to [-1.0, 1.0].
	Samples []float32

	// SampleRate in Hz (e.g., 16000 for the medium quality tier).
	SampleRate int

	// Timestamp marks when this frame was captured, relative to track start.
	Timestamp time.Duration
}

// Duration returns the playback length of the frame. Returns 0 when the
// sample rate is unknown.
func (f Frame) Duration() time.Duration {
	if f.SampleRate <= 0 {
		return 0
	}
	return time.Duration(len(f.Samples)) * time.Second / time.Duration(f.SampleRate)
}
