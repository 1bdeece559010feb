package session

import (
	"context"
	"time"

	"github.com/MrWong99/vadcapture/pkg/provider/vad"
)

// Misfire reasons.
const (
	ReasonSpeechTooShort    = "speech too short"
	ReasonBelowMinRecording = "recording shorter than the minimum duration"
)

// detectorListener binds detector callbacks to the session generation that
// created the detector. Callbacks from a disposed generation are dropped.
type detectorListener struct {
	m   *Manager
	gen uint64
}

var _ vad.Listener = (*detectorListener)(nil)

func (l *detectorListener) SpeechStart()                { l.m.onSpeechStart(l.gen) }
func (l *detectorListener) SpeechEnd(samples []float32) { l.m.onSpeechEnd(l.gen, samples) }
func (l *detectorListener) Misfire()                    { l.m.onMisfire(l.gen) }
func (l *detectorListener) BackgroundNoise(lvl float64) { l.m.onBackgroundNoise(l.gen, lvl) }
func (l *detectorListener) Error(err error)             { l.m.onDetectorError(l.gen, err) }

func (m *Manager) onSpeechStart(gen uint64) {
	m.mu.Lock()
	if gen != m.gen || m.state != StateListening {
		m.mu.Unlock()
		return
	}
	m.state = StateRecording
	m.recordingStart = m.now()
	if limit := m.cfg.MaxRecording; limit > 0 {
		m.maxTimer = time.AfterFunc(limit, func() { m.onMaxRecording(gen) })
	}
	m.mu.Unlock()

	m.emit(Event{Kind: EventRecording, Recording: true})
	m.status(StatusRecording)
}

func (m *Manager) onSpeechEnd(gen uint64, samples []float32) {
	m.mu.Lock()
	if gen != m.gen || m.state != StateRecording || m.res == nil {
		m.mu.Unlock()
		return
	}
	m.state = StateListening
	m.stopRecordingLocked()
	rate := m.res.vadRate
	minimum := m.cfg.MinRecording
	m.mu.Unlock()

	dur := time.Duration(len(samples)) * time.Second / time.Duration(rate)
	m.emit(Event{Kind: EventRecording, Recording: false})
	if minimum > 0 && dur < minimum {
		m.log.Debug("dropping short recording", "duration", dur, "min", minimum)
		m.emit(Event{Kind: EventMisfire, Reason: ReasonBelowMinRecording})
	} else {
		buf := make([]float32, len(samples))
		copy(buf, samples)
		m.emit(Event{Kind: EventAudioCaptured, Audio: &CapturedAudio{Samples: buf, SampleRate: rate, Duration: dur}})
	}
	m.status(StatusListening)
}

func (m *Manager) onMisfire(gen uint64) {
	m.mu.Lock()
	if gen != m.gen || (m.state != StateListening && m.state != StateRecording) {
		m.mu.Unlock()
		return
	}
	wasRecording := m.state == StateRecording
	if wasRecording {
		m.state = StateListening
		m.stopRecordingLocked()
	}
	m.mu.Unlock()

	if wasRecording {
		m.emit(Event{Kind: EventRecording, Recording: false})
	}
	m.emit(Event{Kind: EventMisfire, Reason: ReasonSpeechTooShort})
	if wasRecording {
		m.status(StatusListening)
	}
}

func (m *Manager) onBackgroundNoise(gen uint64, lvl float64) {
	m.mu.Lock()
	if gen != m.gen || m.profiler == nil {
		m.mu.Unlock()
		return
	}
	p := m.profiler.Update(lvl)
	adaptive := m.cfg.Adaptive
	base := m.cfg.Sensitivity
	det := m.detectorLocked()
	m.mu.Unlock()

	m.emit(Event{Kind: EventNoiseProfile, Profile: &p, SNR: p.SNR()})
	if adaptive && det != nil {
		m.applyTuning(det, base, &p)
	}
}

func (m *Manager) onDetectorError(gen uint64, err error) {
	m.mu.Lock()
	stale := gen != m.gen
	m.mu.Unlock()
	if stale {
		return
	}
	m.report(&Error{Kind: KindVAD, Message: "VAD error", Err: err}, "")
}

func (m *Manager) onLevel(gen uint64, v float64) {
	m.mu.Lock()
	if gen != m.gen {
		m.mu.Unlock()
		return
	}
	m.level = v
	m.mu.Unlock()
	m.emit(Event{Kind: EventLevel, Level: v})
}

func (m *Manager) onMaxRecording(gen uint64) {
	m.mu.Lock()
	over := gen == m.gen && m.state == StateRecording
	limit := m.cfg.MaxRecording
	m.mu.Unlock()
	if !over {
		return
	}
	m.log.Info("recording exceeded maximum duration, stopping", "max", limit)
	if err := m.StopListening(context.Background()); err != nil {
		m.log.Warn("stop after maximum recording duration", "err", err)
	}
}
