// Package suppression defines the contract for noise-suppression backends.
//
// A backend is used in three steps: construct a [Processor] and [Processor.Init]
// it, obtain a [Connector], then exchange a raw microphone track for a
// suppressed one with [Connector.SetTrack]. The suppressed track is fed from
// the raw one; stopping it does not stop the raw track.
//
// Runtime intensity control is optional. Backends that do not support it
// return [ErrNotSupported] from [Connector.SetIntensity].
package suppression

import (
	"context"
	"errors"

	"github.com/MrWong99/vadcapture/pkg/audio"
)

// ErrNotSupported is returned by optional capabilities the backend lacks.
var ErrNotSupported = errors.New("suppression: capability not supported")

// Options configures a processor.
type Options struct {
	// SampleRate of the tracks the processor will see.
	SampleRate int

	// Intensity in [0, 1] applied when the connector is created.
	Intensity float64

	// Params carries backend-specific settings from configuration.
	Params map[string]any
}

// Processor is a suppression backend instance.
type Processor interface {
	// Init loads models and allocates state.
	Init(ctx context.Context, opts Options) error

	// Connector returns the handle used to exchange tracks.
	Connector(ctx context.Context) (Connector, error)

	// Destroy releases the processor. Calling it more than once is safe.
	Destroy() error
}

// Connector exchanges raw tracks for suppressed ones.
type Connector interface {
	// SetTrack starts suppressing raw and returns the suppressed track.
	SetTrack(ctx context.Context, raw audio.Track) (audio.Track, error)

	// SetIntensity adjusts suppression strength in [0, 1]. May return
	// ErrNotSupported.
	SetIntensity(intensity float64) error

	// Destroy stops suppression and releases the connector. Calling it more
	// than once is safe.
	Destroy() error
}

// Factory constructs a new, uninitialised processor.
type Factory func() (Processor, error)
