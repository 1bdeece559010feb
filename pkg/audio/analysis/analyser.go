// Package analysis implements the analyser node of the capture graph: a
// windowed FFT over the most recent block of samples, reported as byte
// frequency data in the range 0–255.
//
// The scaling follows the usual real-time analyser conventions: a Blackman
// window, magnitudes normalised by the block size, exponential smoothing
// across calls, and linear mapping of the [MinDecibels, MaxDecibels] range
// onto 0–255.
package analysis

import (
	"errors"
	"fmt"
	"math"
	"sync"

	"gonum.org/v1/gonum/dsp/fourier"

	"github.com/MrWong99/vadcapture/pkg/audio"
)

const (
	DefaultFFTSize     = 2048
	DefaultSmoothing   = 0.8
	DefaultMinDecibels = -100.0
	DefaultMaxDecibels = -30.0
)

// Config controls the resolution and scaling of an [Analyser].
type Config struct {
	// FFTSize is the analysis block length in samples. Must be a power of
	// two in [32, 32768].
	FFTSize int

	// SmoothingTimeConstant blends each new spectrum with the previous one.
	// Range [0, 1]; 0 disables smoothing.
	SmoothingTimeConstant float64

	// MinDecibels maps to byte value 0.
	MinDecibels float64

	// MaxDecibels maps to byte value 255.
	MaxDecibels float64
}

func (c Config) withDefaults() Config {
	if c.FFTSize == 0 {
		c.FFTSize = DefaultFFTSize
	}
	if c.MinDecibels == 0 && c.MaxDecibels == 0 {
		c.MinDecibels = DefaultMinDecibels
		c.MaxDecibels = DefaultMaxDecibels
	}
	return c
}

// Validate reports configuration errors.
func (c Config) Validate() error {
	var errs []error
	if c.FFTSize < 32 || c.FFTSize > 32768 || c.FFTSize&(c.FFTSize-1) != 0 {
		errs = append(errs, fmt.Errorf("analysis: fft size %d must be a power of two in [32, 32768]", c.FFTSize))
	}
	if c.SmoothingTimeConstant < 0 || c.SmoothingTimeConstant > 1 {
		errs = append(errs, fmt.Errorf("analysis: smoothing %.2f out of range [0, 1]", c.SmoothingTimeConstant))
	}
	if c.MinDecibels >= c.MaxDecibels {
		errs = append(errs, fmt.Errorf("analysis: min decibels %.1f must be below max decibels %.1f", c.MinDecibels, c.MaxDecibels))
	}
	return errors.Join(errs...)
}

// Analyser consumes a frame stream and exposes its spectrum on demand. It is
// safe for concurrent use.
type Analyser struct {
	cfg    Config
	fft    *fourier.FFT
	window []float64

	mu       sync.Mutex
	ring     []float32
	pos      int
	smoothed []float64
	block    []float64
	coeffs   []complex128

	done chan struct{}
	once sync.Once
	wg   sync.WaitGroup
}

// New starts an analyser reading from src. The analyser stops when src is
// closed or [Analyser.Disconnect] is called.
func New(src <-chan audio.Frame, cfg Config) (*Analyser, error) {
	cfg = cfg.withDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	n := cfg.FFTSize
	a := &Analyser{
		cfg:      cfg,
		fft:      fourier.NewFFT(n),
		window:   blackman(n),
		ring:     make([]float32, n),
		smoothed: make([]float64, n/2),
		block:    make([]float64, n),
		done:     make(chan struct{}),
	}
	a.wg.Add(1)
	go a.run(src)
	return a, nil
}

// FrequencyBinCount returns the number of bins written by ByteFrequencyData.
func (a *Analyser) FrequencyBinCount() int { return a.cfg.FFTSize / 2 }

// ByteFrequencyData computes the current spectrum and writes it into dst,
// growing dst if needed. The returned slice has FrequencyBinCount entries.
func (a *Analyser) ByteFrequencyData(dst []uint8) []uint8 {
	bins := a.FrequencyBinCount()
	if cap(dst) < bins {
		dst = make([]uint8, bins)
	}
	dst = dst[:bins]

	a.mu.Lock()
	defer a.mu.Unlock()

	n := a.cfg.FFTSize
	for i := range n {
		a.block[i] = float64(a.ring[(a.pos+i)%n]) * a.window[i]
	}
	a.coeffs = a.fft.Coefficients(a.coeffs, a.block)

	tau := a.cfg.SmoothingTimeConstant
	span := a.cfg.MaxDecibels - a.cfg.MinDecibels
	for k := range bins {
		mag := cmplxAbs(a.coeffs[k]) / float64(n)
		a.smoothed[k] = tau*a.smoothed[k] + (1-tau)*mag
		if a.smoothed[k] <= 0 {
			dst[k] = 0
			continue
		}
		db := 20 * math.Log10(a.smoothed[k])
		scaled := 255 * (db - a.cfg.MinDecibels) / span
		dst[k] = uint8(math.Max(0, math.Min(255, scaled)))
	}
	return dst
}

// Level returns the mean of the byte frequency data divided by 255, a
// loudness estimate in [0, 1].
func (a *Analyser) Level() float64 {
	data := a.ByteFrequencyData(nil)
	if len(data) == 0 {
		return 0
	}
	var sum int
	for _, v := range data {
		sum += int(v)
	}
	return float64(sum) / float64(len(data)) / 255
}

// Disconnect stops the reader goroutine. Calling it more than once is safe.
func (a *Analyser) Disconnect() {
	a.once.Do(func() { close(a.done) })
	a.wg.Wait()
}

func (a *Analyser) run(src <-chan audio.Frame) {
	defer a.wg.Done()
	for {
		select {
		case <-a.done:
			return
		case f, ok := <-src:
			if !ok {
				return
			}
			a.write(f.Samples)
		}
	}
}

func (a *Analyser) write(samples []float32) {
	a.mu.Lock()
	defer a.mu.Unlock()
	n := len(a.ring)
	if len(samples) > n {
		samples = samples[len(samples)-n:]
	}
	for _, s := range samples {
		a.ring[a.pos] = s
		a.pos = (a.pos + 1) % n
	}
}

func blackman(n int) []float64 {
	const a0, a1, a2 = 0.42, 0.5, 0.08
	w := make([]float64, n)
	for i := range n {
		x := float64(i) / float64(n)
		w[i] = a0 - a1*math.Cos(2*math.Pi*x) + a2*math.Cos(4*math.Pi*x)
	}
	return w
}

func cmplxAbs(c complex128) float64 {
	return math.Hypot(real(c), imag(c))
}
