// Package transcript turns captured speech into a transcript log.
//
// A [Pipeline] listens to session events. Every captured speech segment is
// encoded as a mono 16-bit WAV file and handed to a [stt.Transcriber] (usually
// a resilience fallback group over several backends). The text is optionally
// passed through a vocabulary corrector, graded into a confidence [Band],
// appended to a [Store] and fanned out to every registered [Publisher].
//
// Transcription runs on a small worker pool so a slow backend never stalls
// the capture session that produced the audio.
package transcript

import (
	"context"
	"time"

	"github.com/MrWong99/vadcapture/internal/transcript/vocab"
	"github.com/MrWong99/vadcapture/pkg/provider/stt"
)

// Band grades a transcript's confidence for display.
type Band string

const (
	BandHigh   Band = "high"
	BandMedium Band = "medium"
	BandLow    Band = "low"
)

// BandFor maps a confidence in [0, 1] to its band: high from 0.8, medium
// from 0.5, low below.
func BandFor(confidence float64) Band {
	switch {
	case confidence >= 0.8:
		return BandHigh
	case confidence >= 0.5:
		return BandMedium
	default:
		return BandLow
	}
}

// Entry is one transcribed speech segment.
type Entry struct {
	ID         string  `json:"id"`
	SessionID  string  `json:"session_id"`
	Transcript string  `json:"transcript"`
	Confidence float64 `json:"confidence"`
	Band       Band    `json:"band"`

	Segments    []stt.Segment      `json:"segments,omitempty"`
	Corrections []vocab.Correction `json:"corrections,omitempty"`

	Provider string `json:"provider,omitempty"`
	Language string `json:"language,omitempty"`

	// AudioDuration is the length of the recording; Latency is the
	// transcription round trip.
	AudioDuration time.Duration `json:"audio_duration"`
	Latency       time.Duration `json:"latency"`

	CreatedAt time.Time `json:"created_at"`
}

// DefaultListLimit caps [Store.List] when the query sets no limit.
const DefaultListLimit = 100

// Query selects entries from a [Store].
type Query struct {
	// SessionID restricts results to one session. Empty matches all.
	SessionID string

	// Limit is the maximum number of entries, newest first before ordering.
	// Zero or less uses DefaultListLimit.
	Limit int
}

// LimitOrDefault returns q.Limit, or DefaultListLimit when unset.
func (q Query) LimitOrDefault() int {
	if q.Limit <= 0 {
		return DefaultListLimit
	}
	return q.Limit
}

// Store persists transcript entries.
//
// Implementations must be safe for concurrent use.
type Store interface {
	// Append stores e. e.ID and e.CreatedAt are set by the caller.
	Append(ctx context.Context, e Entry) error

	// List returns the most recent entries matching q in chronological
	// order (oldest first).
	List(ctx context.Context, q Query) ([]Entry, error)
}

// Publisher receives every finished entry, e.g. to forward it to a message
// bus or connected clients.
type Publisher interface {
	PublishTranscript(ctx context.Context, e Entry) error
}

// PublisherFunc adapts a function to [Publisher].
type PublisherFunc func(ctx context.Context, e Entry) error

// PublishTranscript calls f(ctx, e).
func (f PublisherFunc) PublishTranscript(ctx context.Context, e Entry) error { return f(ctx, e) }
