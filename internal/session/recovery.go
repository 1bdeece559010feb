package session

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/MrWong99/vadcapture/pkg/provider/vad"
)

// Default recovery parameters.
const (
	defaultMaxRetries = 10
	defaultBackoff    = 1 * time.Second
	defaultMaxBackoff = 30 * time.Second
)

// Restartable is the part of [Manager] a [Recoverer] drives.
type Restartable interface {
	Dispose(ctx context.Context)
	Initialize(ctx context.Context) error
	StartListening(ctx context.Context) error
}

// Recoverer restarts a session whose microphone stream ended while it was
// listening, for example because the device was unplugged.
//
// Subscribe it to a manager with [Manager.Subscribe] and call
// [Recoverer.Monitor]. When a [KindVAD] error wrapping [vad.ErrSourceEnded]
// arrives, the monitor disposes the session, initializes it again and
// resumes listening, retrying with exponential backoff.
//
// All methods are safe for concurrent use.
type Recoverer struct {
	target     Restartable
	maxRetries int
	backoff    time.Duration
	maxBackoff time.Duration
	onRecover  func(attempt int)
	log        *slog.Logger

	done     chan struct{}
	stopOnce sync.Once
	lost     chan struct{}
}

var _ Listener = (*Recoverer)(nil)

// RecovererConfig configures a [Recoverer].
type RecovererConfig struct {
	// Target is the session to restart.
	Target Restartable

	// MaxRetries is the number of restart attempts before giving up.
	// Defaults to 10 if zero.
	MaxRetries int

	// Backoff is the initial wait between attempts. Doubles each attempt up
	// to MaxBackoff. Defaults to 1s if zero.
	Backoff time.Duration

	// MaxBackoff caps the wait. Defaults to 30s if zero.
	MaxBackoff time.Duration

	// OnRecover is called after a successful restart. May be nil.
	OnRecover func(attempt int)

	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// NewRecoverer creates a [Recoverer] with the given configuration.
func NewRecoverer(cfg RecovererConfig) *Recoverer {
	r := &Recoverer{
		target:     cfg.Target,
		maxRetries: cfg.MaxRetries,
		backoff:    cfg.Backoff,
		maxBackoff: cfg.MaxBackoff,
		onRecover:  cfg.OnRecover,
		log:        cfg.Logger,
		done:       make(chan struct{}),
		lost:       make(chan struct{}, 1),
	}
	if r.maxRetries <= 0 {
		r.maxRetries = defaultMaxRetries
	}
	if r.backoff <= 0 {
		r.backoff = defaultBackoff
	}
	if r.maxBackoff <= 0 {
		r.maxBackoff = defaultMaxBackoff
	}
	if r.log == nil {
		r.log = slog.Default()
	}
	return r
}

// HandleEvent implements [Listener].
func (r *Recoverer) HandleEvent(ev Event) {
	if ev.Kind != EventError || ev.Err == nil || ev.Err.Kind != KindVAD {
		return
	}
	if errors.Is(ev.Err, vad.ErrSourceEnded) {
		r.NotifyLost()
	}
}

// NotifyLost signals that the audio source is gone. Only the first call per
// recovery cycle has effect.
func (r *Recoverer) NotifyLost() {
	select {
	case r.lost <- struct{}{}:
	default:
	}
}

// Monitor starts the recovery loop in a background goroutine.
func (r *Recoverer) Monitor(ctx context.Context) {
	go r.loop(ctx)
}

// Stop halts the recovery loop. Safe to call multiple times.
func (r *Recoverer) Stop() {
	r.stopOnce.Do(func() { close(r.done) })
}

func (r *Recoverer) loop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-r.done:
			return
		case <-r.lost:
			r.restart(ctx)
		}
	}
}

func (r *Recoverer) restart(ctx context.Context) {
	wait := r.backoff
	for attempt := 1; attempt <= r.maxRetries; attempt++ {
		select {
		case <-ctx.Done():
			return
		case <-r.done:
			return
		default:
		}

		r.log.Info("audio source lost, restarting session", "attempt", attempt, "max_retries", r.maxRetries)
		r.target.Dispose(ctx)
		err := r.target.Initialize(ctx)
		if err == nil {
			err = r.target.StartListening(ctx)
		}
		if err == nil {
			r.log.Info("session restarted", "attempt", attempt)
			if r.onRecover != nil {
				r.onRecover(attempt)
			}
			return
		}
		r.log.Warn("session restart failed", "attempt", attempt, "err", err)

		select {
		case <-ctx.Done():
			return
		case <-r.done:
			return
		case <-time.After(wait):
		}
		wait = min(wait*2, r.maxBackoff)
	}
	r.log.Error("session restart gave up", "max_retries", r.maxRetries)
}
