// Package session implements the voice-activity session manager.
//
// A [Manager] owns one microphone stream for its lifetime. Initialize builds
// the capture graph (audio context, microphone track, optional noise
// suppression, analyser, noise-profile warm-up, speech detector, level
// monitor) and records every acquired resource on a teardown stack, so a
// failure at any step, or a Dispose racing the setup, releases exactly what
// was built.
//
// The manager moves through Uninitialized, Initializing, Ready, Listening and
// Recording. Detector callbacks drive Listening and Recording; the caller
// drives the rest. Every notification is delivered to subscribed listeners
// by one dispatcher goroutine in emission order.
//
// All methods are safe for concurrent use.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/MrWong99/vadcapture/internal/level"
	"github.com/MrWong99/vadcapture/internal/noise"
	"github.com/MrWong99/vadcapture/internal/sensitivity"
	"github.com/MrWong99/vadcapture/internal/suppression"
	"github.com/MrWong99/vadcapture/pkg/audio"
	"github.com/MrWong99/vadcapture/pkg/audio/analysis"
	nsprovider "github.com/MrWong99/vadcapture/pkg/provider/suppression"
	"github.com/MrWong99/vadcapture/pkg/provider/vad"
)

// Status lines emitted as the session moves through its lifecycle.
const (
	StatusInitializing   = "Initializing voice detector..."
	StatusSuppressionOn  = "Initializing noise suppression..."
	StatusSuppressionOK  = "Noise suppression active."
	StatusSuppressionBad = "Noise suppression failed. Using original audio."
	StatusProfiling      = "Profiling background noise..."
	StatusReady          = "VAD ready. Click microphone to start."
	StatusStarting       = "Starting voice detection..."
	StatusListening      = "Listening for speech..."
	StatusRecording      = "Recording speech..."
	StatusStopping       = "Stopping voice detection..."
	StatusStopped        = "Listening stopped."
	StatusDisposed       = "VAD Manager stopped."
)

const (
	analyserBuffer = 64
	detectorBuffer = 256
)

// State is the lifecycle position of a [Manager].
type State int

const (
	StateUninitialized State = iota
	StateInitializing
	StateReady
	StateListening
	StateRecording
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateInitializing:
		return "initializing"
	case StateReady:
		return "ready"
	case StateListening:
		return "listening"
	case StateRecording:
		return "recording"
	default:
		return "unknown"
	}
}

// resources are the handles one successful Initialize acquired.
type resources struct {
	teardown teardown
	detector vad.Detector
	adapter  *suppression.Adapter
	monitor  *level.Monitor
	vadRate  int
}

// Option configures a [Manager].
type Option func(*Manager)

// WithSuppression sets the noise-suppression backend. Without it the
// suppression stage is skipped even when enabled in the config.
func WithSuppression(f nsprovider.Factory) Option {
	return func(m *Manager) { m.nsFactory = f }
}

// WithListener subscribes l before the manager emits anything. It may be
// given more than once.
func WithListener(l Listener) Option {
	return func(m *Manager) { m.initial = append(m.initial, l) }
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) { m.log = l }
}

// WithClock replaces time.Now for event timestamps and elapsed-time
// accounting.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// Manager is the voice-activity session manager.
type Manager struct {
	mic       audio.Microphone
	engine    vad.Engine
	nsFactory nsprovider.Factory
	log       *slog.Logger
	now       func() time.Time
	id        string
	initial   []Listener
	events    *dispatcher

	mu             sync.Mutex
	cfg            Config
	state          State
	gen            uint64
	res            *resources
	initCancel     context.CancelFunc
	initDone       chan struct{}
	busy           bool
	recordingStart time.Time
	maxTimer       *time.Timer
	level          float64
	profiler       *noise.Profiler
	closed         bool
}

// New returns an uninitialized manager capturing from mic and detecting
// speech with engine.
func New(mic audio.Microphone, engine vad.Engine, cfg Config, opts ...Option) *Manager {
	m := &Manager{
		mic:    mic,
		engine: engine,
		log:    slog.Default(),
		now:    time.Now,
		id:     newSessionID(),
		cfg:    cfg.normalise(),
	}
	for _, o := range opts {
		o(m)
	}
	m.log = m.log.With("session_id", m.id)
	m.events = newDispatcher(m.log)
	for _, l := range m.initial {
		m.events.subscribe(l)
	}
	m.initial = nil
	return m
}

func newSessionID() string {
	id, err := uuid.NewRandom()
	if err == nil {
		return id.String()
	}
	return strconv.FormatInt(time.Now().UnixMilli(), 36) + strconv.FormatUint(rand.Uint64(), 36)[:9]
}

// Subscribe registers l for every subsequent event and returns a function
// that removes it.
func (m *Manager) Subscribe(l Listener) (unsubscribe func()) {
	return m.events.subscribe(l)
}

// ─── Lifecycle ───────────────────────────────────────────────────────────────

// Initialize acquires the microphone and builds the capture graph. A second
// call while initializing or initialized logs a warning and returns nil.
//
// A noise-suppression failure is reported as a [KindNoiseSuppression] event
// and the session continues on the raw track. Any other failure releases
// everything acquired so far and returns a [KindInitialization] *Error.
func (m *Manager) Initialize(ctx context.Context) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrClosed
	}
	if m.state != StateUninitialized {
		st := m.state
		m.mu.Unlock()
		m.log.Warn("initialize ignored: already initialized or initializing", "state", st)
		return nil
	}
	m.state = StateInitializing
	gen := m.gen
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	m.initCancel, m.initDone = cancel, done
	cfg := m.cfg
	m.mu.Unlock()

	defer close(done)
	defer cancel()

	m.status(StatusInitializing)
	res, err := m.build(ctx, gen, cfg)

	m.mu.Lock()
	if m.initDone == done {
		m.initCancel, m.initDone = nil, nil
	}
	if m.gen != gen {
		m.mu.Unlock()
		if res != nil {
			_ = res.teardown.run(m.log)
		}
		return ErrDisposed
	}
	if err != nil {
		m.state = StateUninitialized
		m.profiler = nil
		m.mu.Unlock()
		return m.report(&Error{Kind: KindInitialization, Err: err}, "Error: "+err.Error())
	}
	m.res = res
	m.state = StateReady
	m.mu.Unlock()

	m.log.Info("voice session ready", "quality", cfg.Quality, "suppression", res.adapter != nil)
	m.status(StatusReady)
	return nil
}

// build acquires the session resources in order. On error everything it
// acquired has already been released.
func (m *Manager) build(ctx context.Context, gen uint64, cfg Config) (_ *resources, err error) {
	tier := cfg.Quality.Tier()
	res := &resources{vadRate: tier.SampleRate}
	defer func() {
		if err != nil {
			_ = res.teardown.run(m.log)
		}
	}()

	graph, err := audio.NewGraph(audio.GraphConfig{SampleRate: tier.SampleRate, LatencyHint: tier.LatencyHint})
	if err != nil {
		return nil, fmt.Errorf("create audio context: %w", err)
	}
	res.teardown.push("audio context", graph.Close)

	raw, err := m.mic.Open(ctx, cfg.constraints())
	if err != nil {
		return nil, microphoneError(err)
	}
	res.teardown.push("microphone track", raw.Stop)

	track := raw
	if cfg.Suppression && m.nsFactory != nil {
		m.status(StatusSuppressionOn)
		ad := suppression.New(m.nsFactory, nsprovider.Options{
			SampleRate: tier.SampleRate,
			Intensity:  cfg.SuppressionIntensity,
			Params:     cfg.SuppressionParams,
		})
		out, nsErr := ad.Apply(ctx, raw)
		if nsErr != nil {
			m.mu.Lock()
			if m.gen == gen {
				m.cfg.Suppression = false
			}
			m.mu.Unlock()
			m.report(&Error{Kind: KindNoiseSuppression, Message: "Failed to initialize noise suppression", Err: nsErr}, StatusSuppressionBad)
		} else {
			res.adapter = ad
			res.teardown.push("noise suppression", ad.Close)
			track = out
			m.status(StatusSuppressionOK)
		}
	}

	splitter, err := graph.Connect(track)
	if err != nil {
		return nil, fmt.Errorf("connect microphone source: %w", err)
	}
	res.teardown.push("source node", func() error {
		splitter.Disconnect()
		return nil
	})

	an, err := analysis.New(splitter.Tap(analyserBuffer), analysis.Config{
		FFTSize:               tier.FFTSize,
		SmoothingTimeConstant: tier.Smoothing,
	})
	if err != nil {
		return nil, fmt.Errorf("create analyser: %w", err)
	}
	res.teardown.push("analyser", func() error {
		an.Disconnect()
		return nil
	})

	m.status(StatusProfiling)
	prof := noise.New(cfg.Noise, noise.WithLogger(m.log))
	profile := prof.Warmup(ctx, an)
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	m.mu.Lock()
	if m.gen == gen {
		m.profiler = prof
	}
	m.mu.Unlock()
	m.emit(Event{Kind: EventNoiseProfile, Profile: &profile, SNR: profile.SNR()})

	det, err := m.engine.New(ctx, vad.Options{
		Source:             splitter.Tap(detectorBuffer),
		SampleRate:         res.vadRate,
		Sensitivity:        sensitivity.Effective(cfg.Sensitivity, &profile, cfg.Adaptive),
		SilenceThreshold:   sensitivity.SilenceThreshold(&profile),
		MinSilenceDuration: cfg.SilenceTimeout,
		Listener:           &detectorListener{m: m, gen: gen},
	})
	if err != nil {
		return nil, fmt.Errorf("create voice detector: %w", err)
	}
	res.detector = det
	res.teardown.push("voice detector", det.Destroy)

	res.monitor = level.Start(an, cfg.LevelInterval, func(v float64) { m.onLevel(gen, v) })
	res.teardown.push("level monitor", func() error {
		res.monitor.Stop()
		return nil
	})
	return res, nil
}

// StartListening resumes the detector. It is a no-op when already
// listening. A detector failure leaves the session Ready and returns a
// [KindRuntime] *Error.
func (m *Manager) StartListening(ctx context.Context) error {
	const op = "Failed to start listening"
	m.mu.Lock()
	switch {
	case m.closed:
		m.mu.Unlock()
		return ErrClosed
	case m.state == StateListening || m.state == StateRecording:
		m.mu.Unlock()
		return nil
	case m.state != StateReady || m.res == nil:
		m.mu.Unlock()
		return m.report(&Error{Kind: KindRuntime, Message: op, Err: ErrNotInitialized}, "Error: "+ErrNotInitialized.Error())
	case m.busy:
		m.mu.Unlock()
		m.log.Warn("start listening ignored: transition in progress")
		return nil
	}
	m.busy = true
	gen := m.gen
	det := m.res.detector
	m.mu.Unlock()

	m.status(StatusStarting)
	err := det.Start(ctx)

	m.mu.Lock()
	if m.gen != gen {
		m.mu.Unlock()
		return ErrDisposed
	}
	m.busy = false
	if err != nil {
		m.mu.Unlock()
		return m.report(&Error{Kind: KindRuntime, Message: op, Err: err}, "Error: "+err.Error())
	}
	m.state = StateListening
	m.mu.Unlock()

	m.status(StatusListening)
	return nil
}

// StopListening pauses the detector. It is a no-op unless listening. An
// in-progress recording is abandoned and reported as recording(false).
func (m *Manager) StopListening(ctx context.Context) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrClosed
	}
	if (m.state != StateListening && m.state != StateRecording) || m.busy {
		m.mu.Unlock()
		return nil
	}
	m.busy = true
	gen := m.gen
	det := m.res.detector
	m.mu.Unlock()

	m.status(StatusStopping)
	err := det.Pause(ctx)

	m.mu.Lock()
	if m.gen != gen {
		m.mu.Unlock()
		return nil
	}
	m.busy = false
	if err != nil {
		m.mu.Unlock()
		return m.report(&Error{Kind: KindRuntime, Message: "Failed to stop listening", Err: err}, "Error stopping: "+err.Error())
	}
	wasRecording := m.state == StateRecording
	m.state = StateReady
	m.stopRecordingLocked()
	m.mu.Unlock()

	if wasRecording {
		m.emit(Event{Kind: EventRecording, Recording: false})
	}
	m.status(StatusStopped)
	return nil
}

// Dispose releases every resource the session holds and returns it to
// Uninitialized. It is safe in any state, including while Initialize is
// running, and never fails. Release errors are logged.
func (m *Manager) Dispose(ctx context.Context) {
	m.mu.Lock()
	if m.initCancel != nil {
		m.initCancel()
	}
	done := m.initDone
	res := m.res
	active := m.state != StateUninitialized
	wasRecording := m.state == StateRecording
	m.res = nil
	m.gen++
	m.state = StateUninitialized
	m.busy = false
	m.stopRecordingLocked()
	m.level = 0
	m.profiler = nil
	m.mu.Unlock()

	if done != nil {
		select {
		case <-done:
		case <-ctx.Done():
			m.log.Warn("dispose: stopped waiting for initialization to unwind", "err", ctx.Err())
		}
	}
	if wasRecording {
		m.emit(Event{Kind: EventRecording, Recording: false})
	}
	if res != nil {
		if err := res.detector.Pause(ctx); err != nil && !errors.Is(err, vad.ErrDestroyed) {
			m.log.Debug("dispose: pause detector", "err", err)
		}
		_ = res.teardown.run(m.log)
	}
	if active {
		m.log.Info("voice session disposed")
		m.status(StatusDisposed)
	}
}

// Close disposes the session and stops event delivery once every queued
// event has been handled. It must not be called from a [Listener].
func (m *Manager) Close() error {
	m.Dispose(context.Background())
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	m.events.close()
	return nil
}

// ToggleNoiseSuppression enables or disables the suppression stage. On an
// initialized session it stops listening if needed, disposes, initializes
// again with the new setting and resumes listening if it was listening. A
// call made while the session is initializing waits for that build to finish
// and then restarts it.
func (m *Manager) ToggleNoiseSuppression(ctx context.Context, enabled bool) error {
	m.mu.Lock()
	for {
		if m.closed {
			m.mu.Unlock()
			return ErrClosed
		}
		m.cfg.Suppression = enabled
		if m.state != StateInitializing || m.initDone == nil {
			break
		}
		done := m.initDone
		m.mu.Unlock()
		select {
		case <-done:
		case <-ctx.Done():
			return ctx.Err()
		}
		m.mu.Lock()
	}
	initialized := m.state >= StateReady
	wasListening := m.state == StateListening || m.state == StateRecording
	m.mu.Unlock()

	if !initialized {
		return nil
	}
	m.log.Info("restarting session for noise suppression change", "enabled", enabled)
	if wasListening {
		if err := m.StopListening(ctx); err != nil {
			return err
		}
	}
	m.Dispose(ctx)
	if err := m.Initialize(ctx); err != nil {
		return err
	}
	if wasListening {
		return m.StartListening(ctx)
	}
	return nil
}

// ─── Tuning ──────────────────────────────────────────────────────────────────

// SetBaseSensitivity stores v clamped to [0, 1] and applies it to a live
// detector, through the noise-adaptive path when adaptive mode is on.
func (m *Manager) SetBaseSensitivity(v float64) {
	v = sensitivity.Clamp(v)
	m.mu.Lock()
	m.cfg.Sensitivity = v
	adaptive := m.cfg.Adaptive
	det := m.detectorLocked()
	p := m.profileLocked()
	m.mu.Unlock()

	if det == nil {
		return
	}
	if adaptive && p != nil {
		m.applyTuning(det, v, p)
		return
	}
	m.setSensitivity(det, v)
}

// SetNoiseSuppressIntensity stores v clamped to [0, 1] and forwards it to
// the active suppression backend. Backends without runtime control keep
// their initial intensity until the next session.
func (m *Manager) SetNoiseSuppressIntensity(v float64) {
	v = clamp01(v)
	m.mu.Lock()
	m.cfg.SuppressionIntensity = v
	var ad *suppression.Adapter
	if m.res != nil {
		ad = m.res.adapter
	}
	m.mu.Unlock()

	if ad == nil {
		return
	}
	if err := ad.SetIntensity(v); err != nil {
		m.log.Warn("set noise suppression intensity", "intensity", v, "err", err)
	}
}

func (m *Manager) applyTuning(det vad.Detector, base float64, p *noise.Profile) {
	m.setSensitivity(det, sensitivity.Adjusted(base, p))
	thr := sensitivity.SilenceThreshold(p)
	if err := det.SetSilenceThreshold(thr); err != nil && !ignorable(err) {
		m.log.Warn("set silence threshold", "threshold", thr, "err", err)
	}
}

func (m *Manager) setSensitivity(det vad.Detector, v float64) {
	if err := det.SetSensitivity(v); err != nil && !ignorable(err) {
		m.log.Warn("set detector sensitivity", "sensitivity", v, "err", err)
	}
}

// ignorable reports detector errors that mean "nothing to do".
func ignorable(err error) bool {
	return errors.Is(err, vad.ErrNotSupported) || errors.Is(err, vad.ErrDestroyed)
}

// ─── Accessors ───────────────────────────────────────────────────────────────

// SessionID returns the identifier assigned at construction.
func (m *Manager) SessionID() string { return m.id }

// State returns the current lifecycle state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Quality returns the configured capture tier.
func (m *Manager) Quality() Quality {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cfg.Quality
}

// AudioLevel returns the last sampled level in [0, 1].
func (m *Manager) AudioLevel() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.level
}

// NoiseProfile returns a copy of the current noise profile and whether one
// exists.
func (m *Manager) NoiseProfile() (noise.Profile, bool) {
	m.mu.Lock()
	p := m.profiler
	m.mu.Unlock()
	if p == nil {
		return noise.Profile{}, false
	}
	return p.Profile()
}

// RecordingElapsed returns how long the current recording has run, or zero
// when not recording.
func (m *Manager) RecordingElapsed() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != StateRecording || m.recordingStart.IsZero() {
		return 0
	}
	return m.now().Sub(m.recordingStart)
}

// BaseSensitivity returns the configured base sensitivity.
func (m *Manager) BaseSensitivity() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cfg.Sensitivity
}

// NoiseSuppressIntensity returns the configured suppression intensity.
func (m *Manager) NoiseSuppressIntensity() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cfg.SuppressionIntensity
}

// SuppressionEnabled reports whether the suppression stage is enabled. It
// turns false for the rest of the session when the backend fails.
func (m *Manager) SuppressionEnabled() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cfg.Suppression
}

// SuppressionActive reports whether audio currently flows through a
// suppression backend.
func (m *Manager) SuppressionActive() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.res != nil && m.res.adapter != nil && m.res.adapter.Active()
}

// Snapshot returns a point-in-time view of the session.
func (m *Manager) Snapshot() SessionState {
	m.mu.Lock()
	s := SessionState{
		SessionID:       m.id,
		State:           m.state.String(),
		Quality:         m.cfg.Quality,
		Initialized:     m.state >= StateReady,
		Listening:       m.state == StateListening || m.state == StateRecording,
		Recording:       m.state == StateRecording,
		AudioLevel:      m.level,
		NoiseProfile:    m.profileLocked(),
		BaseSensitivity: m.cfg.Sensitivity,
		Adaptive:        m.cfg.Adaptive,
		Suppression:     m.cfg.Suppression,
		Intensity:       m.cfg.SuppressionIntensity,
	}
	if s.Recording && !m.recordingStart.IsZero() {
		s.RecordingElapsed = m.now().Sub(m.recordingStart)
	}
	if m.res != nil && m.res.adapter != nil {
		s.SuppressionActive = m.res.adapter.Active()
	}
	m.mu.Unlock()
	return s
}

// ─── Internals ───────────────────────────────────────────────────────────────

func (m *Manager) detectorLocked() vad.Detector {
	if m.res == nil {
		return nil
	}
	return m.res.detector
}

func (m *Manager) profileLocked() *noise.Profile {
	if m.profiler == nil {
		return nil
	}
	p, ok := m.profiler.Profile()
	if !ok {
		return nil
	}
	return &p
}

func (m *Manager) stopRecordingLocked() {
	if m.maxTimer != nil {
		m.maxTimer.Stop()
		m.maxTimer = nil
	}
	m.recordingStart = time.Time{}
}

func (m *Manager) emit(ev Event) {
	ev.SessionID = m.id
	ev.Time = m.now()
	m.events.enqueue(ev)
}

func (m *Manager) status(s string) {
	m.log.Debug("status", "status", s)
	m.emit(Event{Kind: EventStatus, Status: s})
}

// report logs se, emits it and the status line, and returns se.
func (m *Manager) report(se *Error, status string) error {
	lvl := slog.LevelError
	if se.Kind == KindNoiseSuppression || se.Kind == KindVAD {
		lvl = slog.LevelWarn
	}
	m.log.Log(context.Background(), lvl, "session error", "kind", se.Kind, "err", se)
	m.emit(Event{Kind: EventError, Err: se})
	if status != "" {
		m.status(status)
	}
	return se
}
