package vad_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/MrWong99/vadcapture/pkg/audio"
	"github.com/MrWong99/vadcapture/pkg/provider/vad"
	"github.com/MrWong99/vadcapture/pkg/provider/vad/mock"
)

const (
	testRate   = 16000
	testWindow = 160 // 10 ms
)

type event struct {
	kind    string
	samples []float32
	level   float64
	err     error
}

func recorder() (vad.Listener, <-chan event) {
	ch := make(chan event, 64)
	return vad.ListenerFuncs{
		OnSpeechStart:     func() { ch <- event{kind: "start"} },
		OnSpeechEnd:       func(s []float32) { ch <- event{kind: "end", samples: s} },
		OnMisfire:         func() { ch <- event{kind: "misfire"} },
		OnBackgroundNoise: func(l float64) { ch <- event{kind: "noise", level: l} },
		OnError:           func(err error) { ch <- event{kind: "error", err: err} },
	}, ch
}

func next(t *testing.T, ch <-chan event) event {
	t.Helper()
	select {
	case e := <-ch:
		return e
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for detector event")
		return event{}
	}
}

func expectNone(t *testing.T, ch <-chan event) {
	t.Helper()
	select {
	case e := <-ch:
		t.Fatalf("unexpected event %q", e.kind)
	case <-time.After(100 * time.Millisecond):
	}
}

func windows(n int, amp float32) audio.Frame {
	s := make([]float32, n*testWindow)
	for i := range s {
		s[i] = amp
	}
	return audio.Frame{Samples: s, SampleRate: testRate}
}

func newDetector(t *testing.T, cls *mock.Classifier, opts vad.Options) (*vad.StreamDetector, chan audio.Frame, <-chan event) {
	t.Helper()
	src := make(chan audio.Frame, 8)
	l, events := recorder()
	opts.Source = src
	opts.SampleRate = testRate
	opts.Listener = l
	if opts.Sensitivity == 0 {
		opts.Sensitivity = 0.5
	}
	d := vad.NewStreamDetector(cls, opts.WithDefaults())
	t.Cleanup(func() { _ = d.Destroy() })
	if err := d.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	return d, src, events
}

func TestStreamDetector_Segment(t *testing.T) {
	t.Parallel()
	cls := &mock.Classifier{
		Window:        testWindow,
		Probabilities: []float64{0.1, 0.1, 0.9, 0.9, 0.9, 0.1, 0.1, 0.1},
		Fallback:      0.1,
	}
	_, src, events := newDetector(t, cls, vad.Options{
		SilenceThreshold:   0.3,
		MinSilenceDuration: 30 * time.Millisecond,
		MinSpeechDuration:  20 * time.Millisecond,
		PreSpeechPadding:   20 * time.Millisecond,
		NoiseInterval:      time.Second,
	})

	src <- windows(8, 0.2)

	if e := next(t, events); e.kind != "start" {
		t.Fatalf("first event = %q, want start", e.kind)
	}
	e := next(t, events)
	if e.kind != "end" {
		t.Fatalf("second event = %q, want end", e.kind)
	}
	// 2 padding windows + 3 voiced + 3 trailing silence.
	if want := 8 * testWindow; len(e.samples) != want {
		t.Errorf("segment = %d samples, want %d", len(e.samples), want)
	}
}

func TestStreamDetector_PaddingIsBounded(t *testing.T) {
	t.Parallel()
	cls := &mock.Classifier{
		Window:        testWindow,
		Probabilities: []float64{0.1, 0.1, 0.1, 0.1, 0.9, 0.9, 0.1},
		Fallback:      0.1,
	}
	_, src, events := newDetector(t, cls, vad.Options{
		MinSilenceDuration: 10 * time.Millisecond,
		MinSpeechDuration:  10 * time.Millisecond,
		PreSpeechPadding:   20 * time.Millisecond,
		NoiseInterval:      time.Second,
	})
	src <- windows(7, 0.2)

	next(t, events)
	e := next(t, events)
	if e.kind != "end" {
		t.Fatalf("event = %q, want end", e.kind)
	}
	// 2 of 4 idle windows kept as padding + 2 voiced + 1 silence.
	if want := 5 * testWindow; len(e.samples) != want {
		t.Errorf("segment = %d samples, want %d", len(e.samples), want)
	}
}

func TestStreamDetector_Misfire(t *testing.T) {
	t.Parallel()
	cls := &mock.Classifier{
		Window:        testWindow,
		Probabilities: []float64{0.9, 0.1, 0.1, 0.1},
		Fallback:      0.1,
	}
	_, src, events := newDetector(t, cls, vad.Options{
		MinSilenceDuration: 30 * time.Millisecond,
		MinSpeechDuration:  50 * time.Millisecond,
		NoiseInterval:      time.Second,
	})
	src <- windows(4, 0.2)

	if e := next(t, events); e.kind != "start" {
		t.Fatalf("event = %q, want start", e.kind)
	}
	if e := next(t, events); e.kind != "misfire" {
		t.Fatalf("event = %q, want misfire", e.kind)
	}
}

func TestStreamDetector_InBetweenDoesNotCountAsSilence(t *testing.T) {
	t.Parallel()
	cls := &mock.Classifier{
		Window: testWindow,
		// Speech threshold 0.5, silence cut 0.2: 0.3 is neither.
		Probabilities: []float64{0.9, 0.9, 0.3, 0.3, 0.3, 0.3},
		Fallback:      0.3,
	}
	_, src, events := newDetector(t, cls, vad.Options{
		SilenceThreshold:   0.2,
		MinSilenceDuration: 20 * time.Millisecond,
		MinSpeechDuration:  10 * time.Millisecond,
		NoiseInterval:      time.Second,
	})
	src <- windows(6, 0.2)

	if e := next(t, events); e.kind != "start" {
		t.Fatalf("event = %q, want start", e.kind)
	}
	expectNone(t, events)
}

func TestStreamDetector_BackgroundNoise(t *testing.T) {
	t.Parallel()
	cls := &mock.Classifier{Window: testWindow, Fallback: 0}
	_, src, events := newDetector(t, cls, vad.Options{NoiseInterval: 50 * time.Millisecond})
	src <- windows(5, 0.1)

	e := next(t, events)
	if e.kind != "noise" {
		t.Fatalf("event = %q, want noise", e.kind)
	}
	if e.level < 0.66 || e.level > 0.67 {
		t.Errorf("level = %v, want ~0.667 for -20 dBFS", e.level)
	}
}

func TestStreamDetector_PauseDiscardsSegment(t *testing.T) {
	t.Parallel()
	cls := &mock.Classifier{Window: testWindow, Probabilities: []float64{0.9}, Fallback: 0.1}
	d, src, events := newDetector(t, cls, vad.Options{
		MinSilenceDuration: 10 * time.Millisecond,
		MinSpeechDuration:  10 * time.Millisecond,
		NoiseInterval:      time.Second,
	})
	src <- windows(1, 0.2)
	if e := next(t, events); e.kind != "start" {
		t.Fatalf("event = %q, want start", e.kind)
	}

	if err := d.Pause(context.Background()); err != nil {
		t.Fatalf("Pause: %v", err)
	}
	if err := d.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	src <- windows(3, 0.2)
	expectNone(t, events)

	if err := d.Destroy(); err != nil {
		t.Fatalf("Destroy: %v", err)
	}
	if cls.ResetCount != 1 {
		t.Errorf("classifier Reset count = %d, want 1", cls.ResetCount)
	}
	if cls.CloseCount != 1 {
		t.Errorf("classifier Close count = %d, want 1", cls.CloseCount)
	}
}

func TestStreamDetector_PausedIgnoresAudio(t *testing.T) {
	t.Parallel()
	cls := &mock.Classifier{Window: testWindow, Fallback: 0.9}
	d, src, events := newDetector(t, cls, vad.Options{NoiseInterval: time.Second})
	if err := d.Pause(context.Background()); err != nil {
		t.Fatalf("Pause: %v", err)
	}
	src <- windows(3, 0.2)
	expectNone(t, events)
}

func TestStreamDetector_SourceEnded(t *testing.T) {
	t.Parallel()
	cls := &mock.Classifier{Window: testWindow}
	_, src, events := newDetector(t, cls, vad.Options{})
	close(src)

	e := next(t, events)
	if e.kind != "error" || !errors.Is(e.err, vad.ErrSourceEnded) {
		t.Errorf("event = %q (%v), want ErrSourceEnded", e.kind, e.err)
	}
}

func TestStreamDetector_ClassifyError(t *testing.T) {
	t.Parallel()
	boom := errors.New("model exploded")
	cls := &mock.Classifier{Window: testWindow, ClassifyErr: boom}
	_, src, events := newDetector(t, cls, vad.Options{})
	src <- windows(1, 0.2)

	e := next(t, events)
	if e.kind != "error" || !errors.Is(e.err, boom) {
		t.Errorf("event = %q (%v), want wrapped classify error", e.kind, e.err)
	}
}

func TestStreamDetector_Tuning(t *testing.T) {
	t.Parallel()
	d, _, _ := newDetector(t, &mock.Classifier{}, vad.Options{Sensitivity: 0.75, SilenceThreshold: 0.2})

	speech, silence := d.Thresholds()
	if speech != 0.25 || silence != 0.2 {
		t.Errorf("Thresholds = (%v, %v), want (0.25, 0.2)", speech, silence)
	}
	if err := d.SetSensitivity(0.9); err != nil {
		t.Fatalf("SetSensitivity: %v", err)
	}
	if _, silence = d.Thresholds(); silence > 0.1+1e-9 {
		t.Errorf("silence cut = %v, want bounded by speech threshold 0.1", silence)
	}
	if err := d.SetSensitivity(2); err == nil {
		t.Error("expected error for sensitivity 2")
	}
	if err := d.SetSilenceThreshold(-1); err == nil {
		t.Error("expected error for negative silence threshold")
	}
}

func TestStreamDetector_AfterDestroy(t *testing.T) {
	t.Parallel()
	d, _, _ := newDetector(t, &mock.Classifier{}, vad.Options{})
	if err := d.Destroy(); err != nil {
		t.Fatalf("Destroy: %v", err)
	}
	if err := d.Destroy(); err != nil {
		t.Errorf("second Destroy: %v", err)
	}
	if err := d.Start(context.Background()); !errors.Is(err, vad.ErrDestroyed) {
		t.Errorf("Start after Destroy: err = %v, want ErrDestroyed", err)
	}
	if err := d.SetSensitivity(0.5); !errors.Is(err, vad.ErrDestroyed) {
		t.Errorf("SetSensitivity after Destroy: err = %v, want ErrDestroyed", err)
	}
}

func TestStreamEngine_New(t *testing.T) {
	t.Parallel()
	var gotRate int
	eng := vad.NewStreamEngine(func(rate int) (vad.Classifier, error) {
		gotRate = rate
		return &mock.Classifier{}, nil
	})
	l, _ := recorder()
	det, err := eng.New(context.Background(), vad.Options{
		Source:     make(chan audio.Frame),
		SampleRate: 8000,
		Listener:   l,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer det.Destroy()
	if gotRate != 8000 {
		t.Errorf("classifier rate = %d, want 8000", gotRate)
	}

	if _, err := eng.New(context.Background(), vad.Options{}); err == nil {
		t.Error("expected validation error for empty options")
	}
}
