// Package noisegate is a lightweight [suppression.Processor]: a downward
// expander that attenuates audio whose level sits near the tracked noise
// floor and passes louder audio unchanged.
//
// The noise floor follows the quietest recent frames (fast fall, slow rise).
// Frames quieter than the floor plus the open margin are scaled towards
// 1 - intensity; the gain moves smoothly between frames to avoid clicks.
package noisegate

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"

	"github.com/google/uuid"

	"github.com/MrWong99/vadcapture/pkg/audio"
	"github.com/MrWong99/vadcapture/pkg/provider/suppression"
)

const (
	defaultOpenMargin = 2.0 // floor x2 = +6 dB
	floorRise         = 1.02
	floorFall         = 0.5
	minFloor          = 1e-4
	gainAttack        = 0.6
	gainRelease       = 0.15
	trackBuffer       = 64
)

// ErrNotInitialized is returned by Connector before Init.
var ErrNotInitialized = errors.New("noisegate: processor not initialised")

var (
	_ suppression.Processor = (*Processor)(nil)
	_ suppression.Connector = (*Connector)(nil)
)

// Processor is the noise gate backend.
type Processor struct {
	mu         sync.Mutex
	opts       suppression.Options
	margin     float64
	ready      bool
	destroyed  bool
	connectors []*Connector
}

// New returns an uninitialised processor.
func New() *Processor { return &Processor{margin: defaultOpenMargin} }

// Factory adapts [New] to a [suppression.Factory].
func Factory() (suppression.Processor, error) { return New(), nil }

// Init implements [suppression.Processor]. The optional "open_margin" param
// (float, > 1) sets how far above the floor the gate fully opens.
func (p *Processor) Init(_ context.Context, opts suppression.Options) error {
	if opts.Intensity < 0 || opts.Intensity > 1 {
		return fmt.Errorf("noisegate: intensity %.2f out of range [0, 1]", opts.Intensity)
	}
	margin := defaultOpenMargin
	if v, ok := opts.Params["open_margin"]; ok {
		f, ok := toFloat(v)
		if !ok || f <= 1 {
			return fmt.Errorf("noisegate: open_margin must be a number > 1, got %v", v)
		}
		margin = f
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.destroyed {
		return errors.New("noisegate: processor destroyed")
	}
	p.opts = opts
	p.margin = margin
	p.ready = true
	return nil
}

// Connector implements [suppression.Processor].
func (p *Processor) Connector(_ context.Context) (suppression.Connector, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.ready || p.destroyed {
		return nil, ErrNotInitialized
	}
	c := &Connector{margin: p.margin, intensity: p.opts.Intensity}
	p.connectors = append(p.connectors, c)
	return c, nil
}

// Destroy implements [suppression.Processor]. Any connectors still alive are
// destroyed too.
func (p *Processor) Destroy() error {
	p.mu.Lock()
	if p.destroyed {
		p.mu.Unlock()
		return nil
	}
	p.destroyed = true
	conns := p.connectors
	p.connectors = nil
	p.mu.Unlock()

	var errs []error
	for _, c := range conns {
		errs = append(errs, c.Destroy())
	}
	return errors.Join(errs...)
}

// Connector gates one track at a time.
type Connector struct {
	margin float64

	mu        sync.Mutex
	intensity float64
	out       *audio.PushTrack
	stop      chan struct{}
	wg        sync.WaitGroup
	destroyed bool
}

// SetTrack implements [suppression.Connector]. A previous suppressed track
// from this connector is stopped first.
func (c *Connector) SetTrack(_ context.Context, raw audio.Track) (audio.Track, error) {
	if raw == nil {
		return nil, errors.New("noisegate: nil track")
	}
	c.mu.Lock()
	if c.destroyed {
		c.mu.Unlock()
		return nil, errors.New("noisegate: connector destroyed")
	}
	c.mu.Unlock()
	c.detach()

	stop := make(chan struct{})
	var once sync.Once
	out := audio.NewPushTrack("noisegate-"+uuid.NewString(), trackBuffer, func() error {
		once.Do(func() { close(stop) })
		return nil
	})

	c.mu.Lock()
	c.out, c.stop = out, stop
	c.wg.Add(1)
	c.mu.Unlock()

	go c.run(raw.Frames(), out, stop)
	return out, nil
}

// SetIntensity implements [suppression.Connector]; the change applies from
// the next frame.
func (c *Connector) SetIntensity(intensity float64) error {
	if intensity < 0 || intensity > 1 {
		return fmt.Errorf("noisegate: intensity %.2f out of range [0, 1]", intensity)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.intensity = intensity
	return nil
}

// Intensity returns the current intensity.
func (c *Connector) Intensity() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.intensity
}

// Destroy implements [suppression.Connector].
func (c *Connector) Destroy() error {
	c.mu.Lock()
	if c.destroyed {
		c.mu.Unlock()
		return nil
	}
	c.destroyed = true
	c.mu.Unlock()
	c.detach()
	return nil
}

func (c *Connector) detach() {
	c.mu.Lock()
	out := c.out
	c.out, c.stop = nil, nil
	c.mu.Unlock()
	if out != nil {
		_ = out.Stop()
	}
	c.wg.Wait()
}

func (c *Connector) run(src <-chan audio.Frame, out *audio.PushTrack, stop <-chan struct{}) {
	defer c.wg.Done()
	defer out.End()

	g := gate{gain: 1}
	for {
		select {
		case <-stop:
			return
		case f, ok := <-src:
			if !ok {
				return
			}
			out.Push(audio.Frame{
				Samples:    g.process(f.Samples, c.margin, c.Intensity()),
				SampleRate: f.SampleRate,
				Timestamp:  f.Timestamp,
			})
		}
	}
}

type gate struct {
	floor float64
	gain  float64
}

// process returns a gated copy of samples.
func (g *gate) process(samples []float32, margin, intensity float64) []float32 {
	rms := audio.RMS(samples)
	switch {
	case g.floor == 0:
		g.floor = max(minFloor, rms)
	case rms < g.floor:
		g.floor = max(minFloor, g.floor*floorFall+rms*(1-floorFall))
	default:
		g.floor = min(rms, g.floor*floorRise)
	}

	target := 1.0
	if rms < g.floor*margin {
		target = 1 - intensity
	}
	coeff := gainRelease
	if target > g.gain {
		coeff = gainAttack
	}
	g.gain += (target - g.gain) * coeff

	out := make([]float32, len(samples))
	for i, s := range samples {
		out[i] = float32(float64(s) * g.gain)
	}
	return out
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, !math.IsNaN(n)
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}
