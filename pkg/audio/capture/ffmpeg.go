// Package capture provides [audio.Microphone] backends for the host's audio
// input devices.
//
// The default backend shells out to ffmpeg and reads raw s16le PCM from its
// stdout, which works anywhere ffmpeg can open the input (PulseAudio, ALSA,
// AVFoundation, DirectShow). Native backends built on miniaudio and PortAudio
// are available behind the "malgo" and "portaudio" build tags.
package capture

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/MrWong99/vadcapture/pkg/audio"
)

const (
	defaultCommand     = "ffmpeg"
	defaultInputFormat = "pulse"
	defaultDevice      = "default"

	startupProbe = 250 * time.Millisecond
	stopGrace    = 1200 * time.Millisecond
	trackBuffer  = 64
)

// Compile-time interface assertion.
var _ audio.Microphone = (*FFmpeg)(nil)

// FFmpegOption is a functional option for [NewFFmpeg].
type FFmpegOption func(*FFmpeg)

// WithCommand overrides the ffmpeg executable. Default: "ffmpeg".
func WithCommand(cmd string) FFmpegOption {
	return func(f *FFmpeg) { f.command = cmd }
}

// WithInputFormat sets ffmpeg's input demuxer ("pulse", "alsa",
// "avfoundation", "dshow"). Default: "pulse".
func WithInputFormat(format string) FFmpegOption {
	return func(f *FFmpeg) { f.inputFormat = format }
}

// WithDevice sets the input device name passed to -i. Default: "default".
func WithDevice(device string) FFmpegOption {
	return func(f *FFmpeg) { f.device = device }
}

// FFmpeg captures the microphone through an ffmpeg child process.
type FFmpeg struct {
	command     string
	inputFormat string
	device      string
}

// NewFFmpeg returns an ffmpeg-backed microphone.
func NewFFmpeg(opts ...FFmpegOption) *FFmpeg {
	f := &FFmpeg{
		command:     defaultCommand,
		inputFormat: defaultInputFormat,
		device:      defaultDevice,
	}
	for _, o := range opts {
		o(f)
	}
	return f
}

// Args returns the ffmpeg argument list used for the given constraints.
func (f *FFmpeg) Args(c audio.Constraints) []string {
	channels := c.Channels
	if channels <= 0 {
		channels = 1
	}
	args := []string{
		"-nostdin",
		"-hide_banner",
		"-loglevel", "warning",
		"-f", f.inputFormat,
		"-i", f.device,
	}
	// ffmpeg has no echo cancellation or AGC; a requested built-in noise
	// suppression maps onto its FFT denoiser.
	if c.NoiseSuppression {
		args = append(args, "-af", "afftdn")
	}
	return append(args,
		"-ac", strconv.Itoa(channels),
		"-ar", strconv.Itoa(c.SampleRate),
		"-f", "s16le",
		"-",
	)
}

// Open starts ffmpeg and returns a live track. ctx bounds the startup probe
// only; the track runs until [audio.Track.Stop] is called or ffmpeg exits.
func (f *FFmpeg) Open(ctx context.Context, c audio.Constraints) (audio.Track, error) {
	if c.SampleRate <= 0 {
		return nil, fmt.Errorf("capture: invalid sample rate %d", c.SampleRate)
	}
	channels := c.Channels
	if channels <= 0 {
		channels = 1
	}

	cmd := exec.Command(f.command, f.Args(c)...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("capture: ffmpeg stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		if errors.Is(err, exec.ErrNotFound) {
			return nil, &audio.DeviceError{Name: "NotSupportedError", Err: fmt.Errorf("ffmpeg not found: %w", err)}
		}
		return nil, fmt.Errorf("capture: start ffmpeg: %w", err)
	}

	waitErr := make(chan error, 1)
	go func() {
		waitErr <- cmd.Wait()
		close(waitErr)
	}()

	select {
	case err := <-waitErr:
		return nil, ClassifyStderr(stderr.String(), err)
	case <-ctx.Done():
		_ = cmd.Process.Kill()
		<-waitErr
		return nil, ctx.Err()
	case <-time.After(startupProbe):
	}

	var stopping atomic.Bool
	track := audio.NewPushTrack("ffmpeg-"+uuid.NewString(), trackBuffer, func() error {
		stopping.Store(true)
		_ = cmd.Process.Signal(os.Interrupt)
		var err error
		select {
		case e, ok := <-waitErr:
			if ok {
				err = e
			}
		case <-time.After(stopGrace):
			_ = cmd.Process.Kill()
			if e, ok := <-waitErr; ok {
				err = e
			}
		}
		if closeErr := stdout.Close(); closeErr != nil && !errors.Is(closeErr, os.ErrClosed) && err == nil {
			err = closeErr
		}
		return normalizeStopErr(err)
	})

	samplesPerBlock := int(float64(c.SampleRate) * audio.FrameDuration(c.LatencyHint).Seconds())
	go pump(stdout, track, c.SampleRate, channels, samplesPerBlock, &stopping)
	return track, nil
}

// pump reads PCM blocks from r and pushes them onto track until r ends.
func pump(r io.Reader, track *audio.PushTrack, rate, channels, samplesPerBlock int, stopping *atomic.Bool) {
	defer track.End()
	buf := make([]byte, samplesPerBlock*channels*2)
	var pos time.Duration
	for {
		n, err := io.ReadFull(r, buf)
		if n >= 2*channels {
			pcm := buf[:n-n%(2*channels)]
			samples := audio.PCM16ToFloat32Mono(pcm, channels)
			frame := audio.Frame{Samples: samples, SampleRate: rate, Timestamp: pos}
			pos += frame.Duration()
			track.Push(frame)
		}
		if err != nil {
			if !stopping.Load() && !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
				slog.Warn("capture: ffmpeg read failed", "track", track.ID(), "err", err)
			}
			return
		}
	}
}

// ClassifyStderr maps an early ffmpeg exit to the audio error sentinels by
// inspecting its diagnostic output.
func ClassifyStderr(stderr string, exitErr error) error {
	msg := strings.TrimSpace(stderr)
	lower := strings.ToLower(msg)
	switch {
	case strings.Contains(lower, "permission denied"),
		strings.Contains(lower, "access denied"),
		strings.Contains(lower, "not authorized"):
		return fmt.Errorf("%w: %s", audio.ErrPermissionDenied, msg)
	case strings.Contains(lower, "no such file or directory"),
		strings.Contains(lower, "no such device"),
		strings.Contains(lower, "no such entity"),
		strings.Contains(lower, "could not find audio"),
		strings.Contains(lower, "cannot open audio device"):
		return fmt.Errorf("%w: %s", audio.ErrDeviceNotFound, msg)
	}
	if msg == "" && exitErr != nil {
		msg = exitErr.Error()
	}
	if msg == "" {
		msg = "ffmpeg exited before capture started"
	}
	return &audio.DeviceError{Name: "NotReadableError", Err: errors.New(msg)}
}

func normalizeStopErr(err error) error {
	if err == nil {
		return nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return nil
	}
	return err
}
