// Package vad defines the contract between the capture session and a
// voice-activity detector, plus a generic stream detector that turns any
// per-window speech classifier into speech-start/speech-end callbacks.
//
// A Detector consumes a frame stream supplied at construction and reports
// what it hears through a [Listener]. It is created paused; [Detector.Start]
// begins segmentation and [Detector.Pause] suspends it, discarding any
// in-flight segment. Runtime tuning (sensitivity, silence threshold) is an
// optional capability: backends that cannot retune return [ErrNotSupported]
// and callers treat that as a no-op.
//
// Implementations must be safe for concurrent use. Listener callbacks are
// made from the detector's own goroutine, one at a time, in stream order.
package vad

import (
	"context"
	"errors"
)

// ErrNotSupported is returned by optional Detector capabilities the backend
// does not implement.
var ErrNotSupported = errors.New("vad: capability not supported")

// ErrDestroyed is returned by Detector methods after Destroy.
var ErrDestroyed = errors.New("vad: detector destroyed")

// Detector is a running voice-activity detector bound to one audio stream.
type Detector interface {
	// Start begins (or resumes) segmentation of the source stream.
	Start(ctx context.Context) error

	// Pause suspends segmentation. A segment in progress is discarded without
	// a SpeechEnd callback.
	Pause(ctx context.Context) error

	// SetSensitivity retunes detection sensitivity in [0, 1]. Higher values
	// detect quieter speech. May return ErrNotSupported.
	SetSensitivity(sensitivity float64) error

	// SetSilenceThreshold retunes the probability below which a window counts
	// as silence. May return ErrNotSupported.
	SetSilenceThreshold(threshold float64) error

	// Destroy stops the detector and releases its resources. Calling it more
	// than once is safe.
	Destroy() error
}

// Engine constructs detectors.
type Engine interface {
	// New creates a paused detector reading opts.Source.
	New(ctx context.Context, opts Options) (Detector, error)
}
