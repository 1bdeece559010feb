package session

import (
	"time"

	"github.com/MrWong99/vadcapture/internal/noise"
)

// EventKind names a manager notification.
type EventKind string

const (
	EventStatus        EventKind = "status"
	EventError         EventKind = "error"
	EventRecording     EventKind = "recording"
	EventLevel         EventKind = "level"
	EventNoiseProfile  EventKind = "noiseProfile"
	EventAudioCaptured EventKind = "audioCaptured"
	EventMisfire       EventKind = "misfire"
)

// CapturedAudio is one finished speech segment.
type CapturedAudio struct {
	Samples    []float32     `json:"-"`
	SampleRate int           `json:"sample_rate"`
	Duration   time.Duration `json:"duration"`
}

// Event is delivered to every [Listener] in emission order. Only the fields
// relevant to Kind are set.
type Event struct {
	Kind      EventKind `json:"kind"`
	SessionID string    `json:"session_id"`
	Time      time.Time `json:"time"`

	// Status is the human-readable status line (EventStatus).
	Status string `json:"status,omitempty"`

	// Err is set for EventError.
	Err *Error `json:"error,omitempty"`

	// Recording is the new recording flag (EventRecording).
	Recording bool `json:"recording,omitempty"`

	// Level is the current audio level in [0, 1] (EventLevel).
	Level float64 `json:"level,omitempty"`

	// Profile and SNR describe the ambient noise (EventNoiseProfile).
	Profile *noise.Profile `json:"profile,omitempty"`
	SNR     float64        `json:"snr,omitempty"`

	// Audio is the captured segment (EventAudioCaptured).
	Audio *CapturedAudio `json:"audio,omitempty"`

	// Reason explains a misfire (EventMisfire).
	Reason string `json:"reason,omitempty"`
}

// ErrorKind returns the kind of an EventError, or "".
func (e Event) ErrorKind() ErrorKind {
	if e.Err == nil {
		return ""
	}
	return e.Err.Kind
}

// Listener receives manager events. HandleEvent runs on the manager's
// dispatcher goroutine; it may call back into the manager but must not call
// [Manager.Close].
type Listener interface {
	HandleEvent(Event)
}

// ListenerFunc adapts a function to [Listener].
type ListenerFunc func(Event)

// HandleEvent calls f(ev).
func (f ListenerFunc) HandleEvent(ev Event) { f(ev) }

// SessionState is a point-in-time view of a manager.
type SessionState struct {
	SessionID         string         `json:"session_id"`
	State             string         `json:"state"`
	Quality           Quality        `json:"quality"`
	Initialized       bool           `json:"initialized"`
	Listening         bool           `json:"listening"`
	Recording         bool           `json:"recording"`
	RecordingElapsed  time.Duration  `json:"recording_elapsed"`
	AudioLevel        float64        `json:"audio_level"`
	NoiseProfile      *noise.Profile `json:"noise_profile,omitempty"`
	BaseSensitivity   float64        `json:"base_sensitivity"`
	Adaptive          bool           `json:"adaptive"`
	Suppression       bool           `json:"suppression"`
	SuppressionActive bool           `json:"suppression_active"`
	Intensity         float64        `json:"suppression_intensity"`
}
