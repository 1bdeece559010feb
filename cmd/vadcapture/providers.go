package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/MrWong99/vadcapture/internal/app"
	"github.com/MrWong99/vadcapture/internal/config"
	"github.com/MrWong99/vadcapture/pkg/audio"
	"github.com/MrWong99/vadcapture/pkg/audio/capture"
	nsprovider "github.com/MrWong99/vadcapture/pkg/provider/suppression"
	"github.com/MrWong99/vadcapture/pkg/provider/suppression/noisegate"
	"github.com/MrWong99/vadcapture/pkg/provider/stt"
	oaistt "github.com/MrWong99/vadcapture/pkg/provider/stt/openai"
	"github.com/MrWong99/vadcapture/pkg/provider/stt/sarvam"
	"github.com/MrWong99/vadcapture/pkg/provider/stt/whisper"
	"github.com/MrWong99/vadcapture/pkg/provider/vad"
	"github.com/MrWong99/vadcapture/pkg/provider/vad/silero"
	"github.com/MrWong99/vadcapture/pkg/provider/vad/webrtc"
)

// nativeMicrophones is filled by the build-tagged malgo and portaudio files.
var nativeMicrophones = map[string]func(config.ProviderEntry) (audio.Microphone, error){}

// registerBuiltinProviders wires all built-in provider factories into reg.
func registerBuiltinProviders(reg *config.Registry) {
	// ── Microphone ────────────────────────────────────────────────────────────

	reg.RegisterMicrophone("ffmpeg", func(entry config.ProviderEntry) (audio.Microphone, error) {
		var opts []capture.FFmpegOption
		if cmd := optString(entry.Options, "command"); cmd != "" {
			opts = append(opts, capture.WithCommand(cmd))
		}
		if f := optString(entry.Options, "input_format"); f != "" {
			opts = append(opts, capture.WithInputFormat(f))
		}
		if dev := optString(entry.Options, "device"); dev != "" {
			opts = append(opts, capture.WithDevice(dev))
		}
		return capture.NewFFmpeg(opts...), nil
	})
	for name, factory := range nativeMicrophones {
		reg.RegisterMicrophone(name, factory)
	}

	// ── VAD ───────────────────────────────────────────────────────────────────

	reg.RegisterVAD("energy", func(entry config.ProviderEntry) (vad.Engine, error) {
		return vad.NewStreamEngine(vad.EnergyFactory(vad.EnergyConfig{
			Window:  optDuration(entry.Options, "window"),
			Alpha:   optFloat(entry.Options, "alpha"),
			Floor:   optFloat(entry.Options, "floor"),
			Ceiling: optFloat(entry.Options, "ceiling"),
		})), nil
	})

	reg.RegisterVAD("webrtc", func(entry config.ProviderEntry) (vad.Engine, error) {
		var opts []webrtc.Option
		if _, ok := entry.Options["mode"]; ok {
			opts = append(opts, webrtc.WithMode(optInt(entry.Options, "mode")))
		}
		if d := optDuration(entry.Options, "frame"); d > 0 {
			opts = append(opts, webrtc.WithFrame(d))
		}
		return vad.NewStreamEngine(webrtc.Factory(opts...)), nil
	})

	reg.RegisterVAD("silero", func(entry config.ProviderEntry) (vad.Engine, error) {
		if !silero.Available() {
			return nil, silero.ErrUnavailable
		}
		model := entry.Model
		if model == "" {
			model = optString(entry.Options, "model_path")
		}
		return vad.NewStreamEngine(silero.Factory(silero.Config{
			ModelPath:   model,
			LibraryPath: optString(entry.Options, "library_path"),
		})), nil
	})

	// ── Suppression ───────────────────────────────────────────────────────────

	reg.RegisterSuppression("noisegate", func(config.ProviderEntry) (nsprovider.Factory, error) {
		return noisegate.Factory, nil
	})

	// ── STT ───────────────────────────────────────────────────────────────────

	reg.RegisterSTT("sarvam", func(entry config.ProviderEntry) (stt.Transcriber, error) {
		key := entry.APIKey
		if key == "" {
			key = os.Getenv("SARVAM_API_KEY")
		}
		var opts []sarvam.Option
		if entry.BaseURL != "" {
			opts = append(opts, sarvam.WithEndpoint(entry.BaseURL))
		}
		if entry.Model != "" {
			opts = append(opts, sarvam.WithModel(entry.Model))
		}
		if d := optDuration(entry.Options, "timeout"); d > 0 {
			opts = append(opts, sarvam.WithTimeout(d))
		}
		return sarvam.New(key, opts...)
	})

	reg.RegisterSTT("whisper", func(entry config.ProviderEntry) (stt.Transcriber, error) {
		var opts []whisper.Option
		if entry.Model != "" {
			opts = append(opts, whisper.WithModel(entry.Model))
		}
		if d := optDuration(entry.Options, "timeout"); d > 0 {
			opts = append(opts, whisper.WithTimeout(d))
		}
		return whisper.New(entry.BaseURL, opts...)
	})

	reg.RegisterSTT("whisper-native", func(entry config.ProviderEntry) (stt.Transcriber, error) {
		modelPath := entry.Model
		if modelPath == "" {
			modelPath = optString(entry.Options, "model_path")
		}
		var opts []whisper.NativeOption
		if n := optInt(entry.Options, "concurrency"); n > 0 {
			opts = append(opts, whisper.WithNativeConcurrency(n))
		}
		return whisper.NewNative(modelPath, opts...)
	})

	reg.RegisterSTT("openai", func(entry config.ProviderEntry) (stt.Transcriber, error) {
		var opts []oaistt.Option
		if entry.BaseURL != "" {
			opts = append(opts, oaistt.WithBaseURL(entry.BaseURL))
		}
		if d := optDuration(entry.Options, "timeout"); d > 0 {
			opts = append(opts, oaistt.WithTimeout(d))
		}
		return oaistt.New(entry.APIKey, entry.Model, opts...)
	})

	for _, kind := range []string{"microphone", "vad", "suppression", "stt"} {
		slog.Debug("registered providers", "kind", kind, "names", reg.Names(kind))
	}
}

// buildProviders instantiates all providers named in cfg using the registry
// and returns them in an [app.Providers] struct for the application to consume.
func buildProviders(cfg *config.Config, reg *config.Registry) (*app.Providers, error) {
	ps := &app.Providers{}

	mic, err := reg.CreateMicrophone(cfg.Providers.Microphone)
	if err != nil {
		return nil, fmt.Errorf("create microphone %q: %w", cfg.Providers.Microphone.Name, err)
	}
	ps.Microphone = mic
	slog.Info("provider created", "kind", "microphone", "name", cfg.Providers.Microphone.Name)

	engine, err := reg.CreateVAD(cfg.Providers.VAD)
	if err != nil {
		closeQuietly(mic)
		return nil, fmt.Errorf("create vad %q: %w", cfg.Providers.VAD.Name, err)
	}
	ps.VAD = engine
	slog.Info("provider created", "kind", "vad", "name", cfg.Providers.VAD.Name)

	if name := cfg.Providers.Suppression.Name; name != "" {
		f, err := reg.CreateSuppression(cfg.Providers.Suppression)
		if err != nil {
			closeQuietly(mic)
			return nil, fmt.Errorf("create suppression %q: %w", name, err)
		}
		ps.Suppression = f
		slog.Info("provider created", "kind", "suppression", "name", name)
	}

	entries := cfg.Providers.STTFallbacks
	if cfg.Providers.STT.Name != "" {
		entries = append([]config.ProviderEntry{cfg.Providers.STT}, entries...)
	}
	for _, entry := range entries {
		t, err := reg.CreateSTT(entry)
		switch {
		case errors.Is(err, sarvam.ErrNoAPIKey) && len(entries) > 1:
			slog.Warn("skipping stt provider without api key", "name", entry.Name)
			continue
		case err != nil:
			closeQuietly(mic)
			return nil, fmt.Errorf("create stt provider %q: %w", entry.Name, err)
		}
		ps.STT = append(ps.STT, app.NamedTranscriber{Name: entry.Name, Transcriber: t})
		slog.Info("provider created", "kind", "stt", "name", entry.Name)
	}
	return ps, nil
}

func closeQuietly(mic audio.Microphone) {
	if c, ok := mic.(interface{ Close() error }); ok {
		_ = c.Close()
	}
}

// ── Option helpers ────────────────────────────────────────────────────────────

// optString extracts a string value from a provider Options map[string]any.
// Returns "" if the map is nil, the key is absent, or the value is not a string.
func optString(opts map[string]any, key string) string {
	s, _ := opts[key].(string)
	return s
}

// optFloat accepts any YAML number.
func optFloat(opts map[string]any, key string) float64 {
	switch v := opts[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	}
	return 0
}

func optInt(opts map[string]any, key string) int {
	switch v := opts[key].(type) {
	case int:
		return v
	case float64:
		return int(v)
	}
	return 0
}

// optDuration parses strings like "30ms". Numbers are milliseconds.
func optDuration(opts map[string]any, key string) time.Duration {
	switch v := opts[key].(type) {
	case string:
		d, err := time.ParseDuration(v)
		if err != nil {
			slog.Warn("ignoring invalid duration option", "key", key, "value", v)
			return 0
		}
		return d
	case int:
		return time.Duration(v) * time.Millisecond
	}
	return 0
}
