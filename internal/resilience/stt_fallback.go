package resilience

import (
	"context"

	"github.com/MrWong99/vadcapture/pkg/provider/stt"
)

// TranscriberFallback implements [stt.Transcriber] with automatic failover
// across multiple transcription backends. Each backend has its own circuit
// breaker.
type TranscriberFallback struct {
	group *FallbackGroup[stt.Transcriber]
}

// Compile-time interface assertion.
var _ stt.Transcriber = (*TranscriberFallback)(nil)

// NewTranscriberFallback creates a [TranscriberFallback] with primary as the
// preferred backend.
func NewTranscriberFallback(primary stt.Transcriber, primaryName string, cfg FallbackConfig) *TranscriberFallback {
	return &TranscriberFallback{
		group: NewFallbackGroup(primary, primaryName, cfg),
	}
}

// AddFallback registers an additional transcriber as a fallback.
func (f *TranscriberFallback) AddFallback(name string, t stt.Transcriber) {
	f.group.AddFallback(name, t)
}

// States returns each backend's breaker state keyed by name.
func (f *TranscriberFallback) States() map[string]State { return f.group.States() }

// Transcribe sends req to the first healthy backend. A failed backend is
// skipped in favour of the next one. Results that do not name their provider
// are labelled with the backend's registered name.
func (f *TranscriberFallback) Transcribe(ctx context.Context, req stt.Request) (*stt.Result, error) {
	return ExecuteWithResult(ctx, f.group, func(name string, t stt.Transcriber) (*stt.Result, error) {
		res, err := t.Transcribe(ctx, req)
		if err != nil {
			return nil, err
		}
		if res != nil && res.Provider == "" {
			res.Provider = name
		}
		return res, nil
	})
}
