// Package audio defines the microphone and track contracts and the in-process
// audio graph used by the capture pipeline.
//
// The primary abstractions are:
//
//   - [Microphone]: opens an input device and returns a live [Track].
//   - [Track]: a stream of mono [Frame] values that can be stopped.
//   - [Graph]: the audio context that owns every node built on top of a
//     track and releases them together on Close.
//
// Implementations of [Microphone] live in audio/capture. This package lives
// under pkg/ because external code (alternative capture backends, noise
// suppression backends) is expected to implement [Track] and [Microphone].
package audio

import (
	"context"
	"errors"
	"sync"
)

// ErrPermissionDenied is returned by [Microphone.Open] when the operating
// system or audio server refuses access to the capture device.
var ErrPermissionDenied = errors.New("audio: microphone permission denied")

// ErrDeviceNotFound is returned by [Microphone.Open] when no capture device
// matches the request.
var ErrDeviceNotFound = errors.New("audio: microphone not found")

// DeviceError describes a capture failure that is neither a permission nor a
// missing-device problem. Name is a short backend-specific classification
// (e.g. "NotReadableError", "ffmpeg").
type DeviceError struct {
	Name string
	Err  error
}

// Error implements error.
func (e *DeviceError) Error() string {
	if e.Err == nil {
		return e.Name
	}
	return e.Err.Error()
}

// Unwrap returns the underlying cause.
func (e *DeviceError) Unwrap() error { return e.Err }

// Constraints describes the capture request passed to [Microphone.Open].
type Constraints struct {
	// SampleRate is the desired capture rate in Hz.
	SampleRate int

	// Channels is the desired channel count. The pipeline always asks for 1.
	Channels int

	// EchoCancellation asks the backend to enable acoustic echo cancellation
	// if it supports it.
	EchoCancellation bool

	// AutoGainControl asks the backend to enable automatic gain control if it
	// supports it.
	AutoGainControl bool

	// NoiseSuppression asks the backend for its own built-in suppression. The
	// pipeline disables this and uses a dedicated suppression backend instead.
	NoiseSuppression bool

	// LatencyHint selects the capture buffer size; see [FrameDuration].
	LatencyHint string
}

// Track is a live audio stream. Frames are delivered on the channel returned
// by Frames, which is closed once the track ends or is stopped.
//
// Implementations must be safe for concurrent use.
type Track interface {
	// ID returns a unique label for the track (used in logs).
	ID() string

	// Frames returns the read-only frame channel. The same channel is
	// returned on every call.
	Frames() <-chan Frame

	// Live reports whether the track is still producing audio.
	Live() bool

	// Stop ends the track and releases the underlying device. Calling Stop
	// more than once is safe and returns nil.
	Stop() error
}

// Microphone opens capture tracks on an input device.
type Microphone interface {
	// Open starts capturing with the given constraints. ctx bounds the open
	// attempt only; the returned track lives until Stop is called.
	//
	// Errors wrap [ErrPermissionDenied], [ErrDeviceNotFound], or a
	// [*DeviceError] for other device problems.
	Open(ctx context.Context, c Constraints) (Track, error)
}

// PushTrack is a [Track] fed by a producer goroutine through Push. Capture
// backends and suppression connectors use it to expose their output.
type PushTrack struct {
	id     string
	frames chan Frame
	onStop func() error

	mu    sync.Mutex
	ended bool
	once  sync.Once
}

var _ Track = (*PushTrack)(nil)

// NewPushTrack returns a track with the given frame buffer. onStop is invoked
// exactly once, on the first call to Stop, and may be nil.
func NewPushTrack(id string, buffer int, onStop func() error) *PushTrack {
	if buffer <= 0 {
		buffer = 64
	}
	return &PushTrack{
		id:     id,
		frames: make(chan Frame, buffer),
		onStop: onStop,
	}
}

// ID implements [Track].
func (t *PushTrack) ID() string { return t.id }

// Frames implements [Track].
func (t *PushTrack) Frames() <-chan Frame { return t.frames }

// Live implements [Track].
func (t *PushTrack) Live() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return !t.ended
}

// Push delivers f to the consumer without blocking. It returns false when the
// track has ended or the buffer is full (the frame is dropped).
func (t *PushTrack) Push(f Frame) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.ended {
		return false
	}
	select {
	case t.frames <- f:
		return true
	default:
		return false
	}
}

// End marks the track as finished because its source ran dry. The frame
// channel is closed; onStop is not called.
func (t *PushTrack) End() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.ended {
		t.ended = true
		close(t.frames)
	}
}

// Stop implements [Track].
func (t *PushTrack) Stop() error {
	var err error
	t.once.Do(func() {
		t.End()
		if t.onStop != nil {
			err = t.onStop()
		}
	})
	return err
}
