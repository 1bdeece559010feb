package session

import (
	"errors"
	"fmt"
	"log/slog"
)

// teardown is a stack of release steps for the resources a session
// acquired. Steps run in reverse order of registration.
type teardown struct {
	steps []step
}

type step struct {
	name string
	fn   func() error
}

func (t *teardown) push(name string, fn func() error) {
	t.steps = append(t.steps, step{name: name, fn: fn})
}

func (t *teardown) len() int { return len(t.steps) }

// run releases every step, newest first. A failing step is logged and does
// not stop the remaining ones. The stack is empty afterwards.
func (t *teardown) run(log *slog.Logger) error {
	var errs []error
	for i := len(t.steps) - 1; i >= 0; i-- {
		s := t.steps[i]
		if err := s.fn(); err != nil {
			log.Warn("release failed", "step", s.name, "err", err)
			errs = append(errs, fmt.Errorf("%s: %w", s.name, err))
		}
	}
	t.steps = nil
	return errors.Join(errs...)
}
