//go:build malgo

package capture

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/gen2brain/malgo"
	"github.com/google/uuid"

	"github.com/MrWong99/vadcapture/pkg/audio"
)

var _ audio.Microphone = (*Malgo)(nil)

// Malgo captures the default input device through miniaudio.
type Malgo struct {
	mu  sync.Mutex
	ctx *malgo.AllocatedContext
}

// NewMalgo initialises a miniaudio context. Call [Malgo.Close] to release it.
func NewMalgo() (*Malgo, error) {
	ctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return nil, fmt.Errorf("capture: init miniaudio context: %w", err)
	}
	return &Malgo{ctx: ctx}, nil
}

// Open starts a capture device and returns a live track.
func (m *Malgo) Open(_ context.Context, c audio.Constraints) (audio.Track, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ctx == nil {
		return nil, errors.New("capture: miniaudio context closed")
	}
	if c.SampleRate <= 0 {
		return nil, fmt.Errorf("capture: invalid sample rate %d", c.SampleRate)
	}
	channels := c.Channels
	if channels <= 0 {
		channels = 1
	}

	cfg := malgo.DefaultDeviceConfig(malgo.Capture)
	cfg.Capture.Format = malgo.FormatS16
	cfg.Capture.Channels = uint32(channels)
	cfg.SampleRate = uint32(c.SampleRate)
	cfg.PeriodSizeInMilliseconds = uint32(audio.FrameDuration(c.LatencyHint).Milliseconds())
	cfg.Alsa.NoMMap = 1

	var (
		device *malgo.Device
		track  *audio.PushTrack
	)
	track = audio.NewPushTrack("malgo-"+uuid.NewString(), trackBuffer, func() error {
		if err := device.Stop(); err != nil {
			device.Uninit()
			return fmt.Errorf("capture: stop device: %w", err)
		}
		device.Uninit()
		return nil
	})

	var pos durationCounter
	onData := func(_, in []byte, _ uint32) {
		pcm := make([]byte, len(in))
		copy(pcm, in)
		frame := audio.Frame{
			Samples:    audio.PCM16ToFloat32Mono(pcm, channels),
			SampleRate: c.SampleRate,
		}
		frame.Timestamp = pos.advance(frame.Duration())
		track.Push(frame)
	}

	device, err := malgo.InitDevice(m.ctx.Context, cfg, malgo.DeviceCallbacks{Data: onData})
	if err != nil {
		return nil, classifyNative(err)
	}
	if err := device.Start(); err != nil {
		device.Uninit()
		return nil, classifyNative(err)
	}
	return track, nil
}

// Close releases the miniaudio context.
func (m *Malgo) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ctx == nil {
		return nil
	}
	err := m.ctx.Uninit()
	m.ctx.Free()
	m.ctx = nil
	return err
}
