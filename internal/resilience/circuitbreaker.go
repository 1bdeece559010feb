// Package resilience keeps transcription alive when a backend misbehaves.
//
// [CircuitBreaker] stops calling a backend after a run of failures and lets
// a few probes through once a cool-down has passed. [FallbackGroup] gives
// every configured backend its own breaker and walks them in order, and
// [TranscriberFallback] is that group for [stt.Transcriber] values.
//
// All types are safe for concurrent use.
package resilience

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrCircuitOpen is returned by [CircuitBreaker.Execute] while the breaker
// rejects calls.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// State is the mode of a [CircuitBreaker].
type State int

const (
	// StateClosed forwards every call.
	StateClosed State = iota
	// StateOpen rejects calls until ResetTimeout has passed since the last
	// failure.
	StateOpen
	// StateHalfOpen lets HalfOpenMax probes through. One failed probe opens
	// the breaker again, HalfOpenMax successes close it.
	StateHalfOpen
)

var stateNames = [...]string{
	StateClosed:   "closed",
	StateOpen:     "open",
	StateHalfOpen: "half-open",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "unknown"
	}
	return stateNames[s]
}

// CircuitBreakerConfig tunes a [CircuitBreaker]. Zero values select the
// defaults noted per field.
type CircuitBreakerConfig struct {
	// Name labels log lines and state change callbacks.
	Name string

	// MaxFailures consecutive failures open the breaker. Default 5.
	MaxFailures int

	// ResetTimeout is the cool-down before probing. Default 30s.
	ResetTimeout time.Duration

	// HalfOpenMax is both the probe concurrency and the number of successful
	// probes needed to close. Default 3.
	HalfOpenMax int

	// IsFailure reports whether err counts against the backend. Default
	// [DefaultIsFailure].
	IsFailure func(error) bool

	// OnStateChange runs after every transition, without the lock held.
	OnStateChange func(name string, from, to State)

	// Now replaces time.Now in tests.
	Now func() time.Time
}

func (c *CircuitBreakerConfig) applyDefaults() {
	if c.MaxFailures <= 0 {
		c.MaxFailures = 5
	}
	if c.ResetTimeout <= 0 {
		c.ResetTimeout = 30 * time.Second
	}
	if c.HalfOpenMax <= 0 {
		c.HalfOpenMax = 3
	}
	if c.IsFailure == nil {
		c.IsFailure = DefaultIsFailure
	}
	if c.Now == nil {
		c.Now = time.Now
	}
}

// DefaultIsFailure treats every error as a backend failure except a
// cancelled context.
func DefaultIsFailure(err error) bool {
	return !errors.Is(err, context.Canceled)
}

// CircuitBreaker is a closed/open/half-open breaker around one backend.
type CircuitBreaker struct {
	cfg CircuitBreakerConfig

	mu       sync.Mutex
	state    State
	failures int       // consecutive failures while closed
	openedAt time.Time // time of the failure that opened the breaker
	probes   int       // probes in flight or finished in this half-open round
	passed   int       // successful probes in this half-open round
}

// NewCircuitBreaker returns a closed breaker.
func NewCircuitBreaker(cfg CircuitBreakerConfig) *CircuitBreaker {
	cfg.applyDefaults()
	return &CircuitBreaker{cfg: cfg}
}

// Name returns the configured label.
func (cb *CircuitBreaker) Name() string { return cb.cfg.Name }

// Execute calls fn unless the breaker rejects it with [ErrCircuitOpen].
// fn's error is returned unchanged.
func (cb *CircuitBreaker) Execute(fn func() error) error {
	probe, err := cb.admit()
	if err != nil {
		return err
	}
	err = fn()
	cb.settle(probe, err)
	return err
}

// admit decides whether a call may run and whether it is a half-open probe.
func (cb *CircuitBreaker) admit() (probe bool, err error) {
	cb.mu.Lock()
	from := cb.state
	if cb.state == StateOpen {
		if cb.cfg.Now().Sub(cb.openedAt) < cb.cfg.ResetTimeout {
			cb.mu.Unlock()
			return false, ErrCircuitOpen
		}
		cb.state, cb.probes, cb.passed = StateHalfOpen, 0, 0
	}
	if cb.state == StateHalfOpen {
		if cb.probes >= cb.cfg.HalfOpenMax {
			cb.mu.Unlock()
			return false, ErrCircuitOpen
		}
		cb.probes++
		probe = true
	}
	to := cb.state
	cb.mu.Unlock()

	cb.transitioned(from, to)
	return probe, nil
}

// settle accounts for the outcome of an admitted call.
func (cb *CircuitBreaker) settle(probe bool, err error) {
	cb.mu.Lock()
	from := cb.state
	switch {
	case err == nil && !probe:
		cb.failures = 0
	case err == nil:
		cb.passed++
		if cb.state == StateHalfOpen && cb.passed >= cb.cfg.HalfOpenMax {
			cb.close()
		}
	case cb.cfg.IsFailure(err):
		cb.openedAt = cb.cfg.Now()
		if probe {
			cb.state = StateOpen
			cb.failures = cb.cfg.MaxFailures
			break
		}
		cb.failures++
		if cb.failures >= cb.cfg.MaxFailures {
			cb.state = StateOpen
		}
	case probe:
		// Not the backend's fault: give the slot back.
		cb.probes--
	}
	to := cb.state
	cb.mu.Unlock()

	cb.transitioned(from, to)
}

// close resets all counters. cb.mu must be held.
func (cb *CircuitBreaker) close() {
	cb.state = StateClosed
	cb.failures, cb.probes, cb.passed = 0, 0, 0
}

func (cb *CircuitBreaker) transitioned(from, to State) {
	if from == to {
		return
	}
	log := slog.With("name", cb.cfg.Name, "from", from.String())
	switch to {
	case StateOpen:
		log.Warn("circuit breaker opened")
	case StateHalfOpen:
		log.Info("circuit breaker probing")
	case StateClosed:
		log.Info("circuit breaker closed")
	}
	if cb.cfg.OnStateChange != nil {
		cb.cfg.OnStateChange(cb.cfg.Name, from, to)
	}
}

// State returns the breaker's state. An open breaker whose cool-down has
// passed reports [StateHalfOpen]; the transition itself happens on the next
// [CircuitBreaker.Execute].
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if cb.state == StateOpen && cb.cfg.Now().Sub(cb.openedAt) >= cb.cfg.ResetTimeout {
		return StateHalfOpen
	}
	return cb.state
}

// Reset closes the breaker and clears its counters.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	from := cb.state
	cb.close()
	cb.mu.Unlock()
	cb.transitioned(from, StateClosed)
}
