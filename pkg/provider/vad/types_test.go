package vad_test

import (
	"math"
	"testing"

	"github.com/MrWong99/vadcapture/pkg/audio"
	"github.com/MrWong99/vadcapture/pkg/provider/vad"
)

func TestSpeechThreshold(t *testing.T) {
	t.Parallel()
	tests := []struct {
		sensitivity float64
		want        float64
	}{
		{sensitivity: 0, want: 0.95},
		{sensitivity: 0.25, want: 0.75},
		{sensitivity: 0.75, want: 0.25},
		{sensitivity: 1, want: 0.05},
	}
	for _, tc := range tests {
		if got := vad.SpeechThreshold(tc.sensitivity); math.Abs(got-tc.want) > 1e-9 {
			t.Errorf("SpeechThreshold(%v) = %v, want %v", tc.sensitivity, got, tc.want)
		}
	}
}

func TestSilenceCut(t *testing.T) {
	t.Parallel()
	if got := vad.SilenceCut(0.2, 0.5); got != 0.2 {
		t.Errorf("SilenceCut(0.2, 0.5) = %v, want 0.2", got)
	}
	if got := vad.SilenceCut(0.35, 0.25); got != 0.25 {
		t.Errorf("SilenceCut(0.35, 0.25) = %v, want 0.25", got)
	}
	if got := vad.SilenceCut(0, 0.4); got != 0.4 {
		t.Errorf("SilenceCut(0, 0.4) = %v, want 0.4", got)
	}
}

func TestOptions_Validate(t *testing.T) {
	t.Parallel()
	src := make(chan audio.Frame)
	valid := vad.Options{Source: src, SampleRate: 16000, Sensitivity: 0.5, Listener: vad.ListenerFuncs{}}
	if err := valid.Validate(); err != nil {
		t.Errorf("valid options: %v", err)
	}

	tests := []struct {
		name   string
		mutate func(*vad.Options)
	}{
		{name: "no source", mutate: func(o *vad.Options) { o.Source = nil }},
		{name: "no rate", mutate: func(o *vad.Options) { o.SampleRate = 0 }},
		{name: "no listener", mutate: func(o *vad.Options) { o.Listener = nil }},
		{name: "sensitivity", mutate: func(o *vad.Options) { o.Sensitivity = 1.5 }},
		{name: "silence", mutate: func(o *vad.Options) { o.SilenceThreshold = -0.1 }},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			o := valid
			tc.mutate(&o)
			if err := o.Validate(); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func TestOptions_WithDefaults(t *testing.T) {
	t.Parallel()
	o := vad.Options{}.WithDefaults()
	if o.MinSilenceDuration != vad.DefaultMinSilenceDuration {
		t.Errorf("MinSilenceDuration = %v", o.MinSilenceDuration)
	}
	if o.PreSpeechPadding != vad.DefaultPreSpeechPadding {
		t.Errorf("PreSpeechPadding = %v", o.PreSpeechPadding)
	}
	if o := (vad.Options{PreSpeechPadding: -1}).WithDefaults(); o.PreSpeechPadding != 0 {
		t.Errorf("negative padding should disable padding, got %v", o.PreSpeechPadding)
	}
}

func TestNoiseLevel(t *testing.T) {
	t.Parallel()
	if got := vad.NoiseLevel(0); got != 0 {
		t.Errorf("NoiseLevel(0) = %v", got)
	}
	if got := vad.NoiseLevel(0.0001); got != 0 {
		t.Errorf("NoiseLevel(-80 dBFS) = %v, want 0", got)
	}
	if got := vad.NoiseLevel(1); got != 1 {
		t.Errorf("NoiseLevel(1) = %v, want 1", got)
	}
	if got := vad.NoiseLevel(0.1); math.Abs(got-2.0/3) > 1e-9 {
		t.Errorf("NoiseLevel(0.1) = %v, want 0.667", got)
	}
}

func TestEnergy_Classify(t *testing.T) {
	t.Parallel()
	e := vad.NewEnergy(16000, vad.EnergyConfig{Alpha: 1})
	if got := e.WindowSize(); got != 320 {
		t.Errorf("WindowSize = %d, want 320", got)
	}
	p, _ := e.Classify(make([]float32, 320))
	if p != 0 {
		t.Errorf("silence probability = %v, want 0", p)
	}
	loud := make([]float32, 320)
	for i := range loud {
		loud[i] = 0.5
	}
	if p, _ := e.Classify(loud); p != 1 {
		t.Errorf("loud probability = %v, want 1", p)
	}
	e.Reset()
	quiet := make([]float32, 320)
	for i := range quiet {
		quiet[i] = 0.05
	}
	if p, _ := e.Classify(quiet); p <= 0 || p >= 1 {
		t.Errorf("quiet probability = %v, want in (0, 1)", p)
	}
}
