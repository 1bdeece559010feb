package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"regexp"
	"slices"

	"gopkg.in/yaml.v3"
)

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"microphone":  {"ffmpeg", "malgo", "portaudio"},
	"vad":         {"energy", "webrtc", "silero"},
	"suppression": {"noisegate"},
	"stt":         {"sarvam", "whisper", "whisper-native", "openai"},
}

// Defaults applied by [ApplyDefaults].
const (
	DefaultListenAddr     = ":8080"
	DefaultLanguage       = "en-IN"
	DefaultSQLitePath     = "data/transcripts.db"
	DefaultProxyBurst     = 1
	DefaultMaxUploadBytes = 25 << 20
)

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, expands ${VAR} references in
// secret fields, applies defaults and validates the result.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	expandSecrets(cfg)
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyDefaults fills unset fields that have a fixed default.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.ListenAddr == "" {
		cfg.Server.ListenAddr = DefaultListenAddr
	}
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = LogInfo
	}
	if cfg.Server.Proxy.Burst <= 0 {
		cfg.Server.Proxy.Burst = DefaultProxyBurst
	}
	if cfg.Server.Proxy.MaxUploadBytes <= 0 {
		cfg.Server.Proxy.MaxUploadBytes = DefaultMaxUploadBytes
	}
	if cfg.Server.Proxy.APIKey == "" {
		cfg.Server.Proxy.APIKey = os.Getenv("SARVAM_API_KEY")
	}
	if cfg.Providers.Microphone.Name == "" {
		cfg.Providers.Microphone.Name = "ffmpeg"
	}
	if cfg.Providers.VAD.Name == "" {
		cfg.Providers.VAD.Name = "energy"
	}
	if cfg.Providers.Suppression.Name == "" {
		cfg.Providers.Suppression.Name = "noisegate"
	}
	if cfg.Transcript.Language == "" {
		cfg.Transcript.Language = DefaultLanguage
	}
	if cfg.Transcript.Store.Driver == "" {
		cfg.Transcript.Store.Driver = StoreMemory
	}
	if cfg.Transcript.Store.Driver == StoreSQLite && cfg.Transcript.Store.Path == "" {
		cfg.Transcript.Store.Path = DefaultSQLitePath
	}
	if cfg.EventBus.Embedded && cfg.EventBus.Host == "" {
		cfg.EventBus.Host = "127.0.0.1"
	}
	if cfg.EventBus.Embedded && cfg.EventBus.Port == 0 {
		cfg.EventBus.Port = 4222
	}
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if tls := cfg.Server.TLS; tls != nil && (tls.CertFile == "" || tls.KeyFile == "") {
		errs = append(errs, errors.New("server.tls requires both cert_file and key_file"))
	}
	if cfg.Server.Proxy.RateLimit < 0 {
		errs = append(errs, fmt.Errorf("server.transcribe_proxy.rate_limit %.2f must not be negative", cfg.Server.Proxy.RateLimit))
	}

	// Session
	s := cfg.Session
	if s.Quality != "" && !s.Quality.Valid() {
		errs = append(errs, fmt.Errorf("session.quality %q is invalid; valid values: low, medium, high", s.Quality))
	}
	if s.Sensitivity != nil && (*s.Sensitivity < 0 || *s.Sensitivity > 1) {
		errs = append(errs, fmt.Errorf("session.sensitivity %.2f is out of range [0, 1]", *s.Sensitivity))
	}
	if i := s.Suppression.Intensity; i != nil && (*i < 0 || *i > 1) {
		errs = append(errs, fmt.Errorf("session.suppression.intensity %.2f is out of range [0, 1]", *i))
	}
	if s.SilenceTimeout < 0 {
		errs = append(errs, fmt.Errorf("session.silence_timeout %s must not be negative", s.SilenceTimeout))
	}
	if s.MaxRecording != nil && *s.MaxRecording > 0 && s.MinRecording >= *s.MaxRecording {
		errs = append(errs, fmt.Errorf("session.min_recording %s must be shorter than max_recording %s", s.MinRecording, *s.MaxRecording))
	}
	if s.Noise.Alpha < 0 || s.Noise.Alpha > 1 {
		errs = append(errs, fmt.Errorf("session.noise.alpha %.2f is out of range [0, 1]", s.Noise.Alpha))
	}
	if s.Noise.PeakDecay < 0 || s.Noise.PeakDecay > 1 {
		errs = append(errs, fmt.Errorf("session.noise.peak_decay %.2f is out of range [0, 1]", s.Noise.PeakDecay))
	}
	if r := s.Recovery; r.MaxRetries < 0 || r.Backoff < 0 || r.MaxBackoff < 0 {
		errs = append(errs, errors.New("session.recovery values must not be negative"))
	}

	// Provider name validation: warn for unknown provider names.
	validateProviderName("microphone", cfg.Providers.Microphone.Name)
	validateProviderName("vad", cfg.Providers.VAD.Name)
	validateProviderName("suppression", cfg.Providers.Suppression.Name)
	validateProviderName("stt", cfg.Providers.STT.Name)
	for i, fb := range cfg.Providers.STTFallbacks {
		if fb.Name == "" {
			errs = append(errs, fmt.Errorf("providers.stt_fallbacks[%d].name is required", i))
			continue
		}
		validateProviderName("stt", fb.Name)
	}
	if len(cfg.Providers.STTFallbacks) > 0 && cfg.Providers.STT.Name == "" {
		errs = append(errs, errors.New("providers.stt_fallbacks requires providers.stt"))
	}

	// Transcript
	if cfg.Transcript.Enabled != nil && *cfg.Transcript.Enabled && cfg.Providers.STT.Name == "" {
		errs = append(errs, errors.New("transcript.enabled requires providers.stt"))
	}
	if cfg.Transcript.Workers < 0 || cfg.Transcript.QueueSize < 0 {
		errs = append(errs, errors.New("transcript.workers and transcript.queue_size must not be negative"))
	}
	st := cfg.Transcript.Store
	if st.Driver != "" && !st.Driver.IsValid() {
		errs = append(errs, fmt.Errorf("transcript.store.driver %q is invalid; valid values: memory, postgres, sqlite", st.Driver))
	}
	if st.Driver == StorePostgres && st.DSN == "" {
		errs = append(errs, errors.New("transcript.store.dsn is required when driver is postgres"))
	}
	if st.Retention != 0 && st.Driver != StoreSQLite {
		slog.Warn("transcript.store.retention only applies to the sqlite driver", "driver", st.Driver)
	}

	// Event bus
	if cfg.EventBus.Embedded && len(cfg.EventBus.Servers) > 0 {
		errs = append(errs, errors.New("eventbus: set either embedded or servers, not both"))
	}

	if cfg.Server.Proxy.APIKey == "" {
		slog.Warn("no transcription proxy key configured; POST /api/transcribe will answer 500")
	}

	return errors.Join(errs...)
}

// validateProviderName logs a warning if name is non-empty and not found in
// the [ValidProviderNames] list for the given kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok {
		return
	}
	if slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name, may be a typo or third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}

var envRef = regexp.MustCompile(`^\$\{([A-Za-z_][A-Za-z0-9_]*)\}$`)

// expandEnv resolves a value of the exact form ${NAME} from the environment.
// Any other value is returned unchanged.
func expandEnv(v string) string {
	m := envRef.FindStringSubmatch(v)
	if m == nil {
		return v
	}
	return os.Getenv(m[1])
}

func expandSecrets(cfg *Config) {
	cfg.Server.Proxy.APIKey = expandEnv(cfg.Server.Proxy.APIKey)
	for _, e := range []*ProviderEntry{&cfg.Providers.Microphone, &cfg.Providers.VAD, &cfg.Providers.Suppression, &cfg.Providers.STT} {
		e.APIKey = expandEnv(e.APIKey)
	}
	for i := range cfg.Providers.STTFallbacks {
		cfg.Providers.STTFallbacks[i].APIKey = expandEnv(cfg.Providers.STTFallbacks[i].APIKey)
	}
	cfg.Transcript.Store.DSN = expandEnv(cfg.Transcript.Store.DSN)
	cfg.EventBus.Password = expandEnv(cfg.EventBus.Password)
	cfg.EventBus.Token = expandEnv(cfg.EventBus.Token)
}
