package session

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/MrWong99/vadcapture/pkg/audio"
)

// ErrorKind classifies errors surfaced by the [Manager].
type ErrorKind string

const (
	// KindInitialization covers setup failures, including microphone
	// permission and device errors. The session is fully unwound.
	KindInitialization ErrorKind = "initialization"

	// KindRuntime covers start, stop and monitoring failures after setup.
	KindRuntime ErrorKind = "runtime"

	// KindVAD covers errors raised by the speech detector while running.
	KindVAD ErrorKind = "vad"

	// KindNoiseSuppression covers suppression backend failures. They never
	// end the session.
	KindNoiseSuppression ErrorKind = "noiseSuppression"
)

var (
	// ErrNotInitialized is returned by operations that need a ready session.
	ErrNotInitialized = errors.New("session: not initialized, call Initialize first")

	// ErrDisposed is returned by Initialize and StartListening when Dispose
	// ran before they completed.
	ErrDisposed = errors.New("session: disposed while the operation was in flight")

	// ErrClosed is returned after [Manager.Close].
	ErrClosed = errors.New("session: manager closed")
)

// Error is a tagged session error. It unwraps to the cause.
type Error struct {
	Kind ErrorKind

	// Message is the user-facing prefix, e.g. "Failed to start listening".
	// Empty when the cause already reads as a user-facing message.
	Message string

	Err error
}

// Error implements error.
func (e *Error) Error() string {
	switch {
	case e.Err == nil && e.Message == "":
		return string(e.Kind)
	case e.Err == nil:
		return e.Message
	case e.Message == "":
		return e.Err.Error()
	}
	return e.Message + ": " + e.Err.Error()
}

// Unwrap returns the cause.
func (e *Error) Unwrap() error { return e.Err }

// MarshalJSON encodes e as {"kind": ..., "message": ...} where message is
// the full error text.
func (e *Error) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Kind    ErrorKind `json:"kind"`
		Message string    `json:"message"`
	}{e.Kind, e.Error()})
}

// KindOf returns the kind of the first [*Error] in err's chain.
func KindOf(err error) (ErrorKind, bool) {
	var se *Error
	if errors.As(err, &se) {
		return se.Kind, true
	}
	return "", false
}

// Microphone error messages shown to users.
const (
	MsgPermissionDenied = "Microphone permission denied. Please allow microphone access in your system settings."
	MsgDeviceNotFound   = "No microphone found. Please ensure a microphone is connected and enabled."
)

// MicrophoneError carries a user-facing message for a capture failure. It
// unwraps to the backend error so [audio.ErrPermissionDenied] and
// [audio.ErrDeviceNotFound] still match.
type MicrophoneError struct {
	Message string
	Err     error
}

func (e *MicrophoneError) Error() string { return e.Message }

func (e *MicrophoneError) Unwrap() error { return e.Err }

func microphoneError(err error) error {
	var de *audio.DeviceError
	switch {
	case errors.Is(err, audio.ErrPermissionDenied):
		return &MicrophoneError{Message: MsgPermissionDenied, Err: err}
	case errors.Is(err, audio.ErrDeviceNotFound):
		return &MicrophoneError{Message: MsgDeviceNotFound, Err: err}
	case errors.As(err, &de):
		msg := "unknown error"
		if de.Err != nil {
			msg = de.Err.Error()
		}
		return &MicrophoneError{Message: fmt.Sprintf("Error accessing microphone: %s (%s)", msg, de.Name), Err: err}
	default:
		return &MicrophoneError{
			Message: fmt.Sprintf("An unexpected error occurred while accessing the microphone: %v", err),
			Err:     err,
		}
	}
}
