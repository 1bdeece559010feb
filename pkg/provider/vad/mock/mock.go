// Package mock provides test doubles for the vad package interfaces.
//
// Use Engine to verify the Options a detector was built with and to reach the
// Listener it was handed. Use Detector to script errors from Start, Pause and
// the tuning calls, and to fire listener callbacks as if speech had been
// detected.
//
// Example:
//
//	det := &mock.Detector{}
//	eng := &mock.Engine{Detector: det}
//	// ... code under test calls eng.New(ctx, opts) ...
//	det.FireSpeechStart()
//	det.FireSpeechEnd(samples)
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/vadcapture/pkg/provider/vad"
)

// ─── Engine ──────────────────────────────────────────────────────────────────

// Engine is a mock implementation of vad.Engine.
type Engine struct {
	mu sync.Mutex

	// Detector is returned by New. If nil, New returns a fresh Detector.
	Detector *Detector

	// NewErr, if non-nil, is returned as the error from New.
	NewErr error

	// NewCalls records the Options of every New call in order.
	NewCalls []vad.Options
}

var _ vad.Engine = (*Engine)(nil)

// New records the call and returns Detector, NewErr. The returned detector
// keeps opts.Listener so its Fire* helpers can drive it.
func (e *Engine) New(_ context.Context, opts vad.Options) (vad.Detector, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.NewCalls = append(e.NewCalls, opts)
	if e.NewErr != nil {
		return nil, e.NewErr
	}
	d := e.Detector
	if d == nil {
		d = &Detector{}
		e.Detector = d
	}
	d.bind(opts.Listener)
	return d, nil
}

// CallCount returns the number of New calls.
func (e *Engine) CallCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.NewCalls)
}

// LastOptions returns the Options of the most recent New call.
func (e *Engine) LastOptions() vad.Options {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.NewCalls) == 0 {
		return vad.Options{}
	}
	return e.NewCalls[len(e.NewCalls)-1]
}

// ─── Detector ────────────────────────────────────────────────────────────────

// Detector is a mock implementation of vad.Detector.
type Detector struct {
	mu       sync.Mutex
	listener vad.Listener

	// StartErr, PauseErr, SensitivityErr, SilenceErr and DestroyErr are
	// returned by the corresponding methods when non-nil.
	StartErr       error
	PauseErr       error
	SensitivityErr error
	SilenceErr     error
	DestroyErr     error

	// --- Call records ---

	StartCount   int
	PauseCount   int
	DestroyCount int

	// Sensitivities and SilenceThresholds record every accepted value.
	Sensitivities     []float64
	SilenceThresholds []float64
}

var _ vad.Detector = (*Detector)(nil)

func (d *Detector) bind(l vad.Listener) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.listener = l
}

// Start records the call and returns StartErr.
func (d *Detector) Start(_ context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.StartCount++
	return d.StartErr
}

// Pause records the call and returns PauseErr.
func (d *Detector) Pause(_ context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.PauseCount++
	return d.PauseErr
}

// SetSensitivity records v unless SensitivityErr is set.
func (d *Detector) SetSensitivity(v float64) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.SensitivityErr != nil {
		return d.SensitivityErr
	}
	d.Sensitivities = append(d.Sensitivities, v)
	return nil
}

// SetSilenceThreshold records v unless SilenceErr is set.
func (d *Detector) SetSilenceThreshold(v float64) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.SilenceErr != nil {
		return d.SilenceErr
	}
	d.SilenceThresholds = append(d.SilenceThresholds, v)
	return nil
}

// Destroy records the call and returns DestroyErr.
func (d *Detector) Destroy() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.DestroyCount++
	return d.DestroyErr
}

// Counts returns Start, Pause and Destroy call counts.
func (d *Detector) Counts() (start, pause, destroy int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.StartCount, d.PauseCount, d.DestroyCount
}

// LastSensitivity returns the most recent SetSensitivity value and whether
// there was one.
func (d *Detector) LastSensitivity() (float64, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.Sensitivities) == 0 {
		return 0, false
	}
	return d.Sensitivities[len(d.Sensitivities)-1], true
}

// LastSilenceThreshold returns the most recent SetSilenceThreshold value and
// whether there was one.
func (d *Detector) LastSilenceThreshold() (float64, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.SilenceThresholds) == 0 {
		return 0, false
	}
	return d.SilenceThresholds[len(d.SilenceThresholds)-1], true
}

// ─── Listener drivers ────────────────────────────────────────────────────────

func (d *Detector) bound() vad.Listener {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.listener == nil {
		return vad.ListenerFuncs{}
	}
	return d.listener
}

// FireSpeechStart invokes the bound listener's SpeechStart.
func (d *Detector) FireSpeechStart() { d.bound().SpeechStart() }

// FireSpeechEnd invokes the bound listener's SpeechEnd.
func (d *Detector) FireSpeechEnd(samples []float32) { d.bound().SpeechEnd(samples) }

// FireMisfire invokes the bound listener's Misfire.
func (d *Detector) FireMisfire() { d.bound().Misfire() }

// FireBackgroundNoise invokes the bound listener's BackgroundNoise.
func (d *Detector) FireBackgroundNoise(level float64) { d.bound().BackgroundNoise(level) }

// FireError invokes the bound listener's Error.
func (d *Detector) FireError(err error) { d.bound().Error(err) }

// ─── Classifier ──────────────────────────────────────────────────────────────

// Classifier is a scripted vad.Classifier. Each Classify call returns the
// next value from Probabilities; once exhausted it repeats Fallback.
type Classifier struct {
	mu sync.Mutex

	// Window is returned by WindowSize. Default: 160.
	Window int

	// Probabilities are returned in order by Classify.
	Probabilities []float64

	// Fallback is returned once Probabilities is exhausted.
	Fallback float64

	// ClassifyErr, if non-nil, is returned by every Classify call.
	ClassifyErr error

	ClassifyCount int
	ResetCount    int
	CloseCount    int
}

var _ vad.Classifier = (*Classifier)(nil)

func (c *Classifier) WindowSize() int {
	if c.Window <= 0 {
		return 160
	}
	return c.Window
}

func (c *Classifier) Classify(_ []float32) (float64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ClassifyCount++
	if c.ClassifyErr != nil {
		return 0, c.ClassifyErr
	}
	if len(c.Probabilities) == 0 {
		return c.Fallback, nil
	}
	p := c.Probabilities[0]
	c.Probabilities = c.Probabilities[1:]
	return p, nil
}

func (c *Classifier) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ResetCount++
}

func (c *Classifier) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.CloseCount++
	return nil
}
