package main

import (
	"errors"
	"testing"
	"time"

	"github.com/MrWong99/vadcapture/internal/config"
)

func TestOptionHelpers(t *testing.T) {
	t.Parallel()
	opts := map[string]any{
		"device":  "hw:1",
		"alpha":   0.4,
		"mode":    3,
		"ratio":   2,
		"frame":   "20ms",
		"timeout": 1500,
		"broken":  "soon",
	}
	if got := optString(opts, "device"); got != "hw:1" {
		t.Errorf("optString = %q", got)
	}
	if got := optString(opts, "mode"); got != "" {
		t.Errorf("optString on int = %q, want empty", got)
	}
	if got := optFloat(opts, "alpha"); got != 0.4 {
		t.Errorf("optFloat = %v", got)
	}
	if got := optFloat(opts, "ratio"); got != 2 {
		t.Errorf("optFloat on int = %v", got)
	}
	if got := optInt(opts, "mode"); got != 3 {
		t.Errorf("optInt = %v", got)
	}
	if got := optDuration(opts, "frame"); got != 20*time.Millisecond {
		t.Errorf("optDuration string = %v", got)
	}
	if got := optDuration(opts, "timeout"); got != 1500*time.Millisecond {
		t.Errorf("optDuration int = %v", got)
	}
	if got := optDuration(opts, "broken"); got != 0 {
		t.Errorf("optDuration invalid = %v", got)
	}
	if got := optString(nil, "missing"); got != "" {
		t.Errorf("optString(nil) = %q", got)
	}
}

func newRegistry() *config.Registry {
	reg := config.NewRegistry()
	registerBuiltinProviders(reg)
	return reg
}

func TestBuildProviders(t *testing.T) {
	t.Setenv("SARVAM_API_KEY", "")
	reg := newRegistry()

	cfg := &config.Config{Providers: config.ProvidersConfig{
		Microphone:  config.ProviderEntry{Name: "ffmpeg", Options: map[string]any{"device": "default"}},
		VAD:         config.ProviderEntry{Name: "energy"},
		Suppression: config.ProviderEntry{Name: "noisegate"},
		STT:         config.ProviderEntry{Name: "sarvam", APIKey: "key"},
		STTFallbacks: []config.ProviderEntry{
			{Name: "whisper", BaseURL: "http://127.0.0.1:9000"},
		},
	}}
	ps, err := buildProviders(cfg, reg)
	if err != nil {
		t.Fatalf("buildProviders: %v", err)
	}
	if ps.Microphone == nil || ps.VAD == nil || ps.Suppression == nil {
		t.Fatalf("providers = %+v", ps)
	}
	if len(ps.STT) != 2 || ps.STT[0].Name != "sarvam" || ps.STT[1].Name != "whisper" {
		t.Errorf("stt = %+v", ps.STT)
	}
}

func TestBuildProviders_SkipsKeylessSarvamWithFallback(t *testing.T) {
	t.Setenv("SARVAM_API_KEY", "")
	cfg := &config.Config{Providers: config.ProvidersConfig{
		Microphone:   config.ProviderEntry{Name: "ffmpeg"},
		VAD:          config.ProviderEntry{Name: "webrtc", Options: map[string]any{"mode": 1}},
		STT:          config.ProviderEntry{Name: "sarvam"},
		STTFallbacks: []config.ProviderEntry{{Name: "whisper", BaseURL: "http://127.0.0.1:9000"}},
	}}
	ps, err := buildProviders(cfg, newRegistry())
	if err != nil {
		t.Fatalf("buildProviders: %v", err)
	}
	if len(ps.STT) != 1 || ps.STT[0].Name != "whisper" {
		t.Errorf("stt = %+v", ps.STT)
	}
}

func TestBuildProviders_Errors(t *testing.T) {
	t.Setenv("SARVAM_API_KEY", "")
	tests := []struct {
		name string
		prov config.ProvidersConfig
		want error
	}{
		{
			name: "unknown microphone",
			prov: config.ProvidersConfig{Microphone: config.ProviderEntry{Name: "telepathy"}},
			want: config.ErrProviderNotRegistered,
		},
		{
			name: "unknown vad",
			prov: config.ProvidersConfig{
				Microphone: config.ProviderEntry{Name: "ffmpeg"},
				VAD:        config.ProviderEntry{Name: "guess"},
			},
			want: config.ErrProviderNotRegistered,
		},
		{
			name: "keyless sarvam alone",
			prov: config.ProvidersConfig{
				Microphone: config.ProviderEntry{Name: "ffmpeg"},
				VAD:        config.ProviderEntry{Name: "energy"},
				STT:        config.ProviderEntry{Name: "sarvam"},
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := buildProviders(&config.Config{Providers: tt.prov}, newRegistry())
			if err == nil {
				t.Fatal("buildProviders succeeded")
			}
			if tt.want != nil && !errors.Is(err, tt.want) {
				t.Errorf("err = %v, want %v", err, tt.want)
			}
		})
	}
}
