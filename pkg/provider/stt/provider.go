// Package stt defines the Transcriber interface for batch speech-to-text
// backends.
//
// A transcriber receives one finished recording (a mono 16-bit PCM WAV file)
// and returns the recognised text with optional confidence and segment
// timing. Backends differ in what they report: a missing confidence is zero
// and a backend without segment output returns none.
//
// Every backend applies a client-side deadline (DefaultTimeout unless
// configured otherwise). Hitting it yields an error matching [ErrTimeout].
// Implementations must be safe for concurrent use.
package stt

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"
)

// DefaultTimeout is the client-side deadline for one transcription request.
const DefaultTimeout = 30 * time.Second

// DefaultFilename is the upload name used when a Request leaves it empty.
const DefaultFilename = "recording.wav"

var (
	// ErrTimeout is returned when a request exceeds its deadline.
	ErrTimeout = errors.New("stt: request timed out")

	// ErrEmptyAudio is returned for requests without audio.
	ErrEmptyAudio = errors.New("stt: empty audio")
)

// Transcriber is the abstraction over any batch STT backend.
type Transcriber interface {
	// Transcribe uploads req.Audio and returns the recognition result.
	Transcribe(ctx context.Context, req Request) (*Result, error)
}

// StatusError reports a non-2xx response from an HTTP backend.
type StatusError struct {
	StatusCode int
	Body       string
}

// Error implements error.
func (e *StatusError) Error() string {
	return fmt.Sprintf("Transcription API Error (%d): %s", e.StatusCode, e.Body)
}

// Timeout maps deadline failures onto [ErrTimeout]. parent is the caller's
// context: when it is already done the caller cancelled and err is returned
// unchanged.
func Timeout(parent context.Context, err error) error {
	if err == nil || parent.Err() != nil {
		return err
	}
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return fmt.Errorf("%w: %w", ErrTimeout, err)
	}
	return err
}
