//go:build portaudio

package capture

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/gordonklaus/portaudio"

	"github.com/MrWong99/vadcapture/pkg/audio"
)

var _ audio.Microphone = (*PortAudio)(nil)

// PortAudio captures the default input device through PortAudio. Only mono
// capture is supported.
type PortAudio struct {
	mu     sync.Mutex
	closed bool
}

// NewPortAudio initialises the PortAudio library. Call [PortAudio.Close] to
// terminate it.
func NewPortAudio() (*PortAudio, error) {
	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("capture: init portaudio: %w", err)
	}
	return &PortAudio{}, nil
}

// Open opens and starts the default input stream.
func (p *PortAudio) Open(_ context.Context, c audio.Constraints) (audio.Track, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil, fmt.Errorf("capture: portaudio terminated")
	}
	if c.SampleRate <= 0 {
		return nil, fmt.Errorf("capture: invalid sample rate %d", c.SampleRate)
	}

	block := int(float64(c.SampleRate) * audio.FrameDuration(c.LatencyHint).Seconds())
	in := make([]int16, block)
	stream, err := portaudio.OpenDefaultStream(1, 0, float64(c.SampleRate), block, in)
	if err != nil {
		return nil, classifyNative(err)
	}
	if err := stream.Start(); err != nil {
		_ = stream.Close()
		return nil, classifyNative(err)
	}

	var (
		stopping atomic.Bool
		done     = make(chan struct{})
	)
	track := audio.NewPushTrack("portaudio-"+uuid.NewString(), trackBuffer, func() error {
		stopping.Store(true)
		<-done
		if err := stream.Stop(); err != nil {
			_ = stream.Close()
			return fmt.Errorf("capture: stop stream: %w", err)
		}
		return stream.Close()
	})

	go func() {
		defer close(done)
		defer track.End()
		var pos durationCounter
		for !stopping.Load() {
			if err := stream.Read(); err != nil {
				slog.Warn("capture: portaudio read failed", "track", track.ID(), "err", err)
				return
			}
			samples := make([]float32, len(in))
			for i, s := range in {
				samples[i] = float32(s) / 32768
			}
			frame := audio.Frame{Samples: samples, SampleRate: c.SampleRate}
			frame.Timestamp = pos.advance(frame.Duration())
			track.Push(frame)
		}
	}()
	return track, nil
}

// Close terminates the PortAudio library.
func (p *PortAudio) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	return portaudio.Terminate()
}
