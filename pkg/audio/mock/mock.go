// Package mock provides in-memory implementations of [audio.Microphone] and
// [audio.Track] for use in unit tests.
//
// All mocks are safe for concurrent use. They record every method call so that
// tests can assert on call counts and arguments, and they expose exported fields
// that the test can set to control return values.
//
// Typical usage:
//
//	track := mock.NewTrack("mic-1")
//	mic := &mock.Microphone{OpenResult: track}
//	got, err := mic.Open(ctx, audio.Constraints{SampleRate: 16000})
//	track.Emit(audio.Frame{Samples: samples, SampleRate: 16000})
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/vadcapture/pkg/audio"
)

// ─── Track ────────────────────────────────────────────────────────────────────

// Track is a mock implementation of [audio.Track]. Frames are injected with
// [Track.Emit].
type Track struct {
	inner *audio.PushTrack

	mu sync.Mutex

	// StopError is returned by [Track.Stop].
	StopError error

	// CallCountStop records how many times Stop was called.
	CallCountStop int
}

var _ audio.Track = (*Track)(nil)

// NewTrack returns a live mock track with a generous frame buffer.
func NewTrack(id string) *Track {
	return &Track{inner: audio.NewPushTrack(id, 1024, nil)}
}

// ID implements [audio.Track].
func (t *Track) ID() string { return t.inner.ID() }

// Frames implements [audio.Track].
func (t *Track) Frames() <-chan audio.Frame { return t.inner.Frames() }

// Live implements [audio.Track].
func (t *Track) Live() bool { return t.inner.Live() }

// Stop implements [audio.Track]. Returns StopError; the track ends on the
// first call.
func (t *Track) Stop() error {
	t.mu.Lock()
	t.CallCountStop++
	err := t.StopError
	t.mu.Unlock()
	_ = t.inner.Stop()
	return err
}

// Stops returns the number of Stop calls so far.
func (t *Track) Stops() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.CallCountStop
}

// Emit pushes f to consumers. Returns false if the track has ended or the
// buffer is full.
func (t *Track) Emit(f audio.Frame) bool { return t.inner.Push(f) }

// ─── Microphone ───────────────────────────────────────────────────────────────

// OpenCall records the arguments of a single [Microphone.Open] invocation.
type OpenCall struct {
	Constraints audio.Constraints
}

// Microphone is a mock implementation of [audio.Microphone].
type Microphone struct {
	mu sync.Mutex

	// OpenResult is returned by [Microphone.Open] when OpenFunc is nil.
	OpenResult audio.Track

	// OpenError is returned by [Microphone.Open] when non-nil.
	OpenError error

	// OpenFunc, when set, replaces the default behaviour of Open.
	OpenFunc func(ctx context.Context, c audio.Constraints) (audio.Track, error)

	// OpenCalls records every Open invocation in order.
	OpenCalls []OpenCall
}

var _ audio.Microphone = (*Microphone)(nil)

// Open implements [audio.Microphone].
func (m *Microphone) Open(ctx context.Context, c audio.Constraints) (audio.Track, error) {
	m.mu.Lock()
	m.OpenCalls = append(m.OpenCalls, OpenCall{Constraints: c})
	fn, result, err := m.OpenFunc, m.OpenResult, m.OpenError
	m.mu.Unlock()

	if fn != nil {
		return fn(ctx, c)
	}
	if err != nil {
		return nil, err
	}
	if result == nil {
		return NewTrack("mock-mic"), nil
	}
	return result, nil
}

// Calls returns a copy of the recorded Open calls.
func (m *Microphone) Calls() []OpenCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]OpenCall, len(m.OpenCalls))
	copy(out, m.OpenCalls)
	return out
}
