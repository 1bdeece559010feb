package vad

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/MrWong99/vadcapture/pkg/audio"
)

// ErrSourceEnded is reported through [Listener.Error] when the source stream
// closes while the detector is running.
var ErrSourceEnded = errors.New("vad: audio source ended")

// Classifier scores fixed-size windows of mono audio with a speech
// probability. Classifiers are driven from a single goroutine and need not be
// safe for concurrent use.
type Classifier interface {
	// WindowSize is the number of samples per Classify call.
	WindowSize() int

	// Classify returns the speech probability of window in [0, 1].
	Classify(window []float32) (float64, error)

	// Reset clears any state carried between windows.
	Reset()

	// Close releases the classifier.
	Close() error
}

// ClassifierFactory builds a classifier for audio at sampleRate.
type ClassifierFactory func(sampleRate int) (Classifier, error)

// Compile-time interface assertions.
var (
	_ Engine   = (*StreamEngine)(nil)
	_ Detector = (*StreamDetector)(nil)
)

// StreamEngine builds [StreamDetector]s around a classifier.
type StreamEngine struct {
	newClassifier ClassifierFactory
}

// NewStreamEngine returns an engine whose detectors classify with classifiers
// from factory.
func NewStreamEngine(factory ClassifierFactory) *StreamEngine {
	return &StreamEngine{newClassifier: factory}
}

// New implements [Engine].
func (e *StreamEngine) New(_ context.Context, opts Options) (Detector, error) {
	opts = opts.WithDefaults()
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	cls, err := e.newClassifier(opts.SampleRate)
	if err != nil {
		return nil, fmt.Errorf("vad: create classifier: %w", err)
	}
	return NewStreamDetector(cls, opts), nil
}

// StreamDetector segments a frame stream into speech using a [Classifier].
//
// A window opens a segment when its probability reaches the speech threshold
// (see [SpeechThreshold]). The segment closes once windows below the silence
// cut (see [SilenceCut]) add up to MinSilenceDuration; windows between the
// two thresholds neither extend nor reset the silence run. Segments whose
// voiced windows total less than MinSpeechDuration are reported as misfires.
type StreamDetector struct {
	opts Options
	cls  Classifier

	mu         sync.Mutex
	active     bool
	destroyed  bool
	needsReset bool
	speechThr  float64
	silenceThr float64

	done chan struct{}
	wg   sync.WaitGroup

	// Owned by the run goroutine.
	pending  []float32
	padding  []float32
	segment  []float32
	inSpeech bool
	voiced   time.Duration
	silence  time.Duration

	noiseSumSq   float64
	noiseCount   int
	noiseElapsed time.Duration
}

// NewStreamDetector starts a paused detector. opts must already carry
// defaults; [StreamEngine.New] applies them.
func NewStreamDetector(cls Classifier, opts Options) *StreamDetector {
	d := &StreamDetector{
		opts:       opts,
		cls:        cls,
		speechThr:  SpeechThreshold(opts.Sensitivity),
		silenceThr: opts.SilenceThreshold,
		done:       make(chan struct{}),
	}
	d.wg.Add(1)
	go d.run()
	return d
}

// Start implements [Detector].
func (d *StreamDetector) Start(_ context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.destroyed {
		return ErrDestroyed
	}
	d.active = true
	return nil
}

// Pause implements [Detector].
func (d *StreamDetector) Pause(_ context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.destroyed {
		return ErrDestroyed
	}
	d.active = false
	d.needsReset = true
	return nil
}

// SetSensitivity implements [Detector].
func (d *StreamDetector) SetSensitivity(sensitivity float64) error {
	if sensitivity < 0 || sensitivity > 1 {
		return fmt.Errorf("vad: sensitivity %.2f out of range [0, 1]", sensitivity)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.destroyed {
		return ErrDestroyed
	}
	d.speechThr = SpeechThreshold(sensitivity)
	return nil
}

// SetSilenceThreshold implements [Detector].
func (d *StreamDetector) SetSilenceThreshold(threshold float64) error {
	if threshold < 0 || threshold > 1 {
		return fmt.Errorf("vad: silence threshold %.2f out of range [0, 1]", threshold)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.destroyed {
		return ErrDestroyed
	}
	d.silenceThr = threshold
	return nil
}

// Thresholds returns the current speech threshold and silence cut.
func (d *StreamDetector) Thresholds() (speech, silence float64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.speechThr, SilenceCut(d.silenceThr, d.speechThr)
}

// Destroy implements [Detector].
func (d *StreamDetector) Destroy() error {
	d.mu.Lock()
	if d.destroyed {
		d.mu.Unlock()
		return nil
	}
	d.destroyed = true
	d.active = false
	close(d.done)
	d.mu.Unlock()

	d.wg.Wait()
	return d.cls.Close()
}

type tuning struct {
	active  bool
	reset   bool
	speech  float64
	silence float64
}

func (d *StreamDetector) tuning() tuning {
	d.mu.Lock()
	defer d.mu.Unlock()
	t := tuning{
		active:  d.active,
		reset:   d.needsReset,
		speech:  d.speechThr,
		silence: SilenceCut(d.silenceThr, d.speechThr),
	}
	d.needsReset = false
	return t
}

func (d *StreamDetector) run() {
	defer d.wg.Done()
	for {
		select {
		case <-d.done:
			return
		case f, ok := <-d.opts.Source:
			if !ok {
				if d.tuning().active {
					d.opts.Listener.Error(ErrSourceEnded)
				}
				return
			}
			d.consume(f)
		}
	}
}

func (d *StreamDetector) consume(f audio.Frame) {
	t := d.tuning()
	if t.reset {
		d.resetSegment()
		d.pending = d.pending[:0]
		d.padding = d.padding[:0]
		d.cls.Reset()
	}
	if !t.active {
		return
	}

	samples := f.Samples
	if f.SampleRate > 0 && f.SampleRate != d.opts.SampleRate {
		samples = audio.ResampleFloat32(samples, f.SampleRate, d.opts.SampleRate)
	}
	d.pending = append(d.pending, samples...)

	n := d.cls.WindowSize()
	consumed := 0
	for len(d.pending)-consumed >= n {
		d.process(d.pending[consumed:consumed+n], t)
		consumed += n
	}
	rest := copy(d.pending, d.pending[consumed:])
	d.pending = d.pending[:rest]
}

func (d *StreamDetector) process(window []float32, t tuning) {
	prob, err := d.cls.Classify(window)
	if err != nil {
		d.opts.Listener.Error(fmt.Errorf("vad: classify: %w", err))
		return
	}
	dur := time.Duration(len(window)) * time.Second / time.Duration(d.opts.SampleRate)

	if !d.inSpeech {
		if prob >= t.speech {
			d.inSpeech = true
			d.segment = make([]float32, 0, len(d.padding)+len(window)*32)
			d.segment = append(d.segment, d.padding...)
			d.segment = append(d.segment, window...)
			d.padding = d.padding[:0]
			d.voiced = dur
			d.silence = 0
			d.opts.Listener.SpeechStart()
			return
		}
		d.pushPadding(window)
		d.accumulateNoise(window, dur)
		return
	}

	d.segment = append(d.segment, window...)
	switch {
	case prob >= t.speech:
		d.voiced += dur
		d.silence = 0
	case prob < t.silence:
		d.silence += dur
	}
	if d.silence < d.opts.MinSilenceDuration {
		return
	}

	seg, voiced := d.segment, d.voiced
	d.resetSegment()
	if voiced < d.opts.MinSpeechDuration {
		d.opts.Listener.Misfire()
		return
	}
	d.opts.Listener.SpeechEnd(seg)
}

func (d *StreamDetector) resetSegment() {
	d.inSpeech = false
	d.segment = nil
	d.voiced = 0
	d.silence = 0
}

func (d *StreamDetector) pushPadding(window []float32) {
	limit := int(d.opts.PreSpeechPadding.Seconds() * float64(d.opts.SampleRate))
	if limit <= 0 {
		return
	}
	d.padding = append(d.padding, window...)
	if over := len(d.padding) - limit; over > 0 {
		kept := copy(d.padding, d.padding[over:])
		d.padding = d.padding[:kept]
	}
}

func (d *StreamDetector) accumulateNoise(window []float32, dur time.Duration) {
	for _, s := range window {
		d.noiseSumSq += float64(s) * float64(s)
	}
	d.noiseCount += len(window)
	d.noiseElapsed += dur
	if d.noiseElapsed < d.opts.NoiseInterval {
		return
	}
	rms := math.Sqrt(d.noiseSumSq / float64(d.noiseCount))
	d.noiseSumSq, d.noiseCount, d.noiseElapsed = 0, 0, 0
	d.opts.Listener.BackgroundNoise(NoiseLevel(rms))
}

// NoiseLevel maps an RMS amplitude to [0, 1] on a decibel scale: -60 dBFS
// and below is 0, full scale is 1.
func NoiseLevel(rms float64) float64 {
	if rms <= 0 {
		return 0
	}
	db := 20 * math.Log10(rms)
	return min(1, max(0, 1+db/60))
}
