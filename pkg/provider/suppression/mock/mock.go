// Package mock provides test doubles for the suppression package interfaces.
//
// Processor and Connector record every call and return scripted errors, so
// tests can fail each step of the suppression setup independently. By
// default Connector.SetTrack returns a fresh mock track standing in for the
// suppressed stream.
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/vadcapture/pkg/audio"
	audiomock "github.com/MrWong99/vadcapture/pkg/audio/mock"
	"github.com/MrWong99/vadcapture/pkg/provider/suppression"
)

// ─── Processor ───────────────────────────────────────────────────────────────

// Processor is a mock implementation of suppression.Processor.
type Processor struct {
	mu sync.Mutex

	// Conn is returned by the Connector method. If nil, a fresh Connector
	// is created and stored here on first use.
	Conn *Connector

	// InitErr, ConnectorErr and DestroyErr are returned by the
	// corresponding methods when non-nil.
	InitErr      error
	ConnectorErr error
	DestroyErr   error

	// InitCalls records the Options of every Init call.
	InitCalls      []suppression.Options
	ConnectorCount int
	DestroyCount   int
}

var _ suppression.Processor = (*Processor)(nil)

// Init records the call and returns InitErr.
func (p *Processor) Init(_ context.Context, opts suppression.Options) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.InitCalls = append(p.InitCalls, opts)
	return p.InitErr
}

// Connector records the call and returns Conn, ConnectorErr.
func (p *Processor) Connector(_ context.Context) (suppression.Connector, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ConnectorCount++
	if p.ConnectorErr != nil {
		return nil, p.ConnectorErr
	}
	if p.Conn == nil {
		p.Conn = &Connector{}
	}
	return p.Conn, nil
}

// Destroy records the call and returns DestroyErr.
func (p *Processor) Destroy() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.DestroyCount++
	return p.DestroyErr
}

// Counts returns the Init, Connector and Destroy call counts.
func (p *Processor) Counts() (init, connector, destroy int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.InitCalls), p.ConnectorCount, p.DestroyCount
}

// Factory returns a suppression.Factory yielding p, or err when non-nil.
func (p *Processor) Factory(err error) suppression.Factory {
	return func() (suppression.Processor, error) {
		if err != nil {
			return nil, err
		}
		return p, nil
	}
}

// ─── Connector ───────────────────────────────────────────────────────────────

// Connector is a mock implementation of suppression.Connector.
type Connector struct {
	mu sync.Mutex

	// Output is returned by SetTrack. If nil, a new mock track is created.
	Output *audiomock.Track

	// SetTrackErr, IntensityErr and DestroyErr are returned by the
	// corresponding methods when non-nil. Set IntensityErr to
	// suppression.ErrNotSupported to model a backend without intensity
	// control.
	SetTrackErr  error
	IntensityErr error
	DestroyErr   error

	// SetTrackCalls records the raw tracks passed to SetTrack.
	SetTrackCalls []audio.Track
	Intensities   []float64
	DestroyCount  int
}

var _ suppression.Connector = (*Connector)(nil)

// SetTrack records the call and returns Output, SetTrackErr.
func (c *Connector) SetTrack(_ context.Context, raw audio.Track) (audio.Track, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.SetTrackCalls = append(c.SetTrackCalls, raw)
	if c.SetTrackErr != nil {
		return nil, c.SetTrackErr
	}
	if c.Output == nil {
		c.Output = audiomock.NewTrack("suppressed")
	}
	return c.Output, nil
}

// SetIntensity records v unless IntensityErr is set.
func (c *Connector) SetIntensity(v float64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.IntensityErr != nil {
		return c.IntensityErr
	}
	c.Intensities = append(c.Intensities, v)
	return nil
}

// Destroy records the call and returns DestroyErr.
func (c *Connector) Destroy() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.DestroyCount++
	return c.DestroyErr
}

// LastIntensity returns the most recent accepted intensity.
func (c *Connector) LastIntensity() (float64, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.Intensities) == 0 {
		return 0, false
	}
	return c.Intensities[len(c.Intensities)-1], true
}

// DestroyCalls returns the number of Destroy calls.
func (c *Connector) DestroyCalls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.DestroyCount
}
