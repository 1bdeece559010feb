// Package suppression wraps a noise-suppression backend for one capture
// session.
//
// [Adapter.Apply] runs the whole backend setup (construct, init, connector,
// intensity, track exchange). Any failure releases whatever was built and
// hands back the raw track together with the cause, so the session keeps
// running without suppression.
package suppression

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/MrWong99/vadcapture/pkg/audio"
	nsprovider "github.com/MrWong99/vadcapture/pkg/provider/suppression"
)

// Adapter owns the processor, connector and suppressed track of a session.
// It is safe for concurrent use.
type Adapter struct {
	factory nsprovider.Factory
	opts    nsprovider.Options

	mu        sync.Mutex
	proc      nsprovider.Processor
	conn      nsprovider.Connector
	out       audio.Track
	intensity float64
}

// New returns an adapter that builds processors with factory.
func New(factory nsprovider.Factory, opts nsprovider.Options) *Adapter {
	opts.Intensity = clamp01(opts.Intensity)
	return &Adapter{factory: factory, opts: opts, intensity: opts.Intensity}
}

// Apply exchanges raw for a suppressed track. On success it returns the
// suppressed track and a nil error. On failure it returns raw and the cause;
// the adapter is left inactive with nothing to release.
func (a *Adapter) Apply(ctx context.Context, raw audio.Track) (audio.Track, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.conn != nil {
		return nil, errors.New("suppression: adapter already applied")
	}

	out, err := a.apply(ctx, raw)
	if err != nil {
		slog.Warn("noise suppression unavailable, using raw audio", "track", raw.ID(), "err", err)
		a.releaseLocked()
		return raw, err
	}
	a.out = out
	return out, nil
}

func (a *Adapter) apply(ctx context.Context, raw audio.Track) (audio.Track, error) {
	if a.factory == nil {
		return nil, errors.New("suppression: no backend configured")
	}
	proc, err := a.factory()
	if err != nil {
		return nil, fmt.Errorf("suppression: create processor: %w", err)
	}
	a.proc = proc

	opts := a.opts
	opts.Intensity = a.intensity
	if err := proc.Init(ctx, opts); err != nil {
		return nil, fmt.Errorf("suppression: init processor: %w", err)
	}
	conn, err := proc.Connector(ctx)
	if err != nil {
		return nil, fmt.Errorf("suppression: get connector: %w", err)
	}
	a.conn = conn

	if err := conn.SetIntensity(a.intensity); err != nil && !errors.Is(err, nsprovider.ErrNotSupported) {
		return nil, fmt.Errorf("suppression: set intensity: %w", err)
	}
	out, err := conn.SetTrack(ctx, raw)
	if err != nil {
		return nil, fmt.Errorf("suppression: set track: %w", err)
	}
	return out, nil
}

// Active reports whether a suppressed track is in use.
func (a *Adapter) Active() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.out != nil
}

// Intensity returns the last requested intensity.
func (a *Adapter) Intensity() float64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.intensity
}

// SetIntensity stores v (clamped to [0, 1]) and forwards it to the live
// connector. Backends without runtime intensity control are skipped
// silently; other backend errors are returned.
func (a *Adapter) SetIntensity(v float64) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.intensity = clamp01(v)
	if a.conn == nil {
		return nil
	}
	err := a.conn.SetIntensity(a.intensity)
	if errors.Is(err, nsprovider.ErrNotSupported) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("suppression: set intensity: %w", err)
	}
	return nil
}

// Close stops the suppressed track and destroys the connector and processor.
// Every step runs even if an earlier one fails. Calling Close more than once
// is safe.
func (a *Adapter) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.releaseLocked()
}

func (a *Adapter) releaseLocked() error {
	var errs []error
	if a.out != nil {
		if err := a.out.Stop(); err != nil {
			errs = append(errs, fmt.Errorf("suppression: stop track: %w", err))
		}
		a.out = nil
	}
	if a.conn != nil {
		if err := a.conn.Destroy(); err != nil {
			errs = append(errs, fmt.Errorf("suppression: destroy connector: %w", err))
		}
		a.conn = nil
	}
	if a.proc != nil {
		if err := a.proc.Destroy(); err != nil {
			errs = append(errs, fmt.Errorf("suppression: destroy processor: %w", err))
		}
		a.proc = nil
	}
	return errors.Join(errs...)
}

func clamp01(v float64) float64 {
	return min(1, max(0, v))
}
