package app

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/MrWong99/vadcapture/internal/config"
	"github.com/MrWong99/vadcapture/internal/observe"
	"github.com/MrWong99/vadcapture/internal/session"
)

// toggleTimeout bounds the session restart a suppression change triggers.
const toggleTimeout = 30 * time.Second

// sessionMetrics turns manager events into metric observations. It counts
// the session as active from the ready status until it is disposed.
type sessionMetrics struct {
	m       *observe.Metrics
	quality func() session.Quality

	mu     sync.Mutex
	active bool
}

var _ session.Listener = (*sessionMetrics)(nil)

func newSessionMetrics(m *observe.Metrics, quality func() session.Quality) *sessionMetrics {
	return &sessionMetrics{m: m, quality: quality}
}

// HandleEvent implements [session.Listener].
func (s *sessionMetrics) HandleEvent(ev session.Event) {
	ctx := context.Background()
	switch ev.Kind {
	case session.EventAudioCaptured:
		if ev.Audio != nil {
			s.m.RecordSegment(ctx, string(s.quality()), ev.Audio.Duration)
		}
	case session.EventMisfire:
		s.m.RecordMisfire(ctx, ev.Reason)
	case session.EventError:
		s.m.RecordSessionError(ctx, string(ev.ErrorKind()))
	case session.EventNoiseProfile:
		if ev.Profile != nil {
			s.m.RecordNoiseLevel(ctx, ev.SessionID, ev.Profile.AverageLevel)
		}
	case session.EventStatus:
		s.trackActive(ctx, ev.Status)
	}
}

func (s *sessionMetrics) trackActive(ctx context.Context, status string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch {
	case status == session.StatusReady && !s.active:
		s.active = true
		s.m.ActiveSessions.Add(ctx, 1)
	case status == session.StatusDisposed && s.active:
		s.active = false
		s.m.ActiveSessions.Add(ctx, -1)
	}
}

// tunable is the part of [session.Manager] hot reload touches.
type tunable interface {
	SetBaseSensitivity(v float64)
	SetNoiseSuppressIntensity(v float64)
	ToggleNoiseSuppression(ctx context.Context, enabled bool) error
}

// applySessionDiff pushes the session fields of d into a running manager.
// The intensity goes first so a suppression restart already uses it.
func applySessionDiff(ctx context.Context, t tunable, d config.ConfigDiff, log *slog.Logger) {
	if d.SensitivityChanged {
		t.SetBaseSensitivity(d.NewSensitivity)
		log.Info("base sensitivity changed", "sensitivity", d.NewSensitivity)
	}
	if d.IntensityChanged {
		t.SetNoiseSuppressIntensity(d.NewIntensity)
		log.Info("noise suppression intensity changed", "intensity", d.NewIntensity)
	}
	if d.SuppressionChanged {
		ctx, cancel := context.WithTimeout(ctx, toggleTimeout)
		defer cancel()
		if err := t.ToggleNoiseSuppression(ctx, d.NewSuppression); err != nil {
			log.Error("apply noise suppression change", "enabled", d.NewSuppression, "err", err)
			return
		}
		log.Info("noise suppression toggled", "enabled", d.NewSuppression)
	}
}
