// Package config provides the configuration schema, loader, and provider registry
// for the vadcapture server.
package config

import (
	"log/slog"
	"time"

	"github.com/MrWong99/vadcapture/internal/session"
)

// LogLevel controls log verbosity.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Level maps l to the slog level. Unknown values map to info.
func (l LogLevel) Level() slog.Level {
	switch l {
	case LogDebug:
		return slog.LevelDebug
	case LogWarn:
		return slog.LevelWarn
	case LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// StoreDriver selects where transcripts are kept.
type StoreDriver string

const (
	StoreMemory   StoreDriver = "memory"
	StorePostgres StoreDriver = "postgres"
	StoreSQLite   StoreDriver = "sqlite"
)

// IsValid reports whether d is a recognised store driver.
func (d StoreDriver) IsValid() bool {
	switch d {
	case StoreMemory, StorePostgres, StoreSQLite:
		return true
	}
	return false
}

// Config is the root configuration structure.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Session    SessionConfig    `yaml:"session"`
	Providers  ProvidersConfig  `yaml:"providers"`
	Transcript TranscriptConfig `yaml:"transcript"`
	EventBus   EventBusConfig   `yaml:"eventbus"`
}

// ServerConfig holds network and logging settings.
type ServerConfig struct {
	// ListenAddr is the TCP address the HTTP server listens on (e.g., ":8080").
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`

	// TLS configures TLS for the server. When nil, the server runs plain HTTP.
	TLS *TLSConfig `yaml:"tls"`

	// Proxy configures POST /api/transcribe.
	Proxy ProxyConfig `yaml:"transcribe_proxy"`

	// WebsocketOrigins lists host patterns allowed to open /ws/events from
	// another origin. Same-origin clients are always accepted.
	WebsocketOrigins []string `yaml:"websocket_origins"`
}

// TLSConfig holds TLS certificate paths for enabling HTTPS.
type TLSConfig struct {
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// ProxyConfig configures the transcription proxy endpoint.
type ProxyConfig struct {
	// Endpoint is the upstream speech-to-text URL. Default: the Sarvam
	// endpoint.
	Endpoint string `yaml:"endpoint"`

	// APIKey is sent upstream as api-subscription-key. Empty falls back to
	// the SARVAM_API_KEY environment variable; when both are empty the
	// endpoint answers 500.
	APIKey string `yaml:"api_key"`

	// RateLimit is the sustained number of requests per second. Zero
	// disables limiting.
	RateLimit float64 `yaml:"rate_limit"`

	// Burst is the number of requests allowed at once. Default: 1.
	Burst int `yaml:"burst"`

	// MaxUploadBytes caps the request body. Default: 25 MiB.
	MaxUploadBytes int64 `yaml:"max_upload_bytes"`
}

// SessionConfig holds the capture session settings. Zero values fall back to
// [session.DefaultConfig] through [SessionConfig.Build].
type SessionConfig struct {
	// Quality is "low", "medium" or "high".
	Quality session.Quality `yaml:"quality"`

	EchoCancellation       *bool `yaml:"echo_cancellation"`
	AutoGainControl        *bool `yaml:"auto_gain_control"`
	NativeNoiseSuppression bool  `yaml:"native_noise_suppression"`

	// Sensitivity is the base speech sensitivity in [0, 1].
	Sensitivity *float64 `yaml:"sensitivity"`

	SilenceTimeout time.Duration `yaml:"silence_timeout"`
	Adaptive       *bool         `yaml:"adaptive"`

	Suppression SuppressionConfig `yaml:"suppression"`

	MinRecording  time.Duration  `yaml:"min_recording"`
	MaxRecording  *time.Duration `yaml:"max_recording"`
	LevelInterval time.Duration  `yaml:"level_interval"`

	Noise NoiseConfig `yaml:"noise"`

	// AutoStart initializes the session and starts listening at startup.
	AutoStart bool `yaml:"auto_start"`

	Recovery RecoveryConfig `yaml:"recovery"`
}

// RecoveryConfig restarts a listening session whose microphone stream
// ended, e.g. an unplugged USB headset. Zero values use the recoverer's
// defaults (10 retries, 1s backoff doubling up to 30s).
type RecoveryConfig struct {
	Enabled    bool          `yaml:"enabled"`
	MaxRetries int           `yaml:"max_retries"`
	Backoff    time.Duration `yaml:"backoff"`
	MaxBackoff time.Duration `yaml:"max_backoff"`
}

// SuppressionConfig toggles the noise-suppression stage.
type SuppressionConfig struct {
	Enabled   *bool    `yaml:"enabled"`
	Intensity *float64 `yaml:"intensity"`
}

// NoiseConfig tunes the noise profiler. Zero values use the profiler's
// defaults.
type NoiseConfig struct {
	Warmup         time.Duration `yaml:"warmup"`
	Interval       time.Duration `yaml:"interval"`
	NoisyThreshold float64       `yaml:"noisy_threshold"`
	Alpha          float64       `yaml:"alpha"`
	PeakDecay      float64       `yaml:"peak_decay"`
}

// ProvidersConfig declares which implementation to use for each external
// collaborator. Each entry selects a named provider registered in the [Registry].
type ProvidersConfig struct {
	Microphone  ProviderEntry `yaml:"microphone"`
	VAD         ProviderEntry `yaml:"vad"`
	Suppression ProviderEntry `yaml:"suppression"`
	STT         ProviderEntry `yaml:"stt"`

	// STTFallbacks are tried in order when STT fails or its circuit is open.
	STTFallbacks []ProviderEntry `yaml:"stt_fallbacks"`
}

// ProviderEntry is the common configuration block shared by all provider types.
// The Name field is used to look up the constructor in the [Registry].
type ProviderEntry struct {
	// Name selects the registered provider implementation (e.g., "sarvam", "webrtc").
	Name string `yaml:"name"`

	// APIKey is the authentication key for the provider's API if any.
	APIKey string `yaml:"api_key"`

	// BaseURL overrides the provider's default API endpoint.
	// Leave empty to use the provider's built-in default.
	BaseURL string `yaml:"base_url"`

	// Model selects a specific model within the provider, or a model file
	// for local backends.
	Model string `yaml:"model"`

	// Options holds provider-specific configuration values not covered by the
	// standard fields above. Values may be strings, numbers, booleans, or nested maps.
	Options map[string]any `yaml:"options"`
}

// TranscriptConfig configures the transcription pipeline.
type TranscriptConfig struct {
	// Enabled turns captured audio into transcripts. Default: true when an
	// STT provider is configured.
	Enabled *bool `yaml:"enabled"`

	// Language is the language code sent with every request. Default: en-IN.
	Language string `yaml:"language"`

	Workers   int `yaml:"workers"`
	QueueSize int `yaml:"queue_size"`

	// Vocabulary lists proper nouns that misrecognised spans are corrected to.
	Vocabulary []string `yaml:"vocabulary"`

	Store StoreConfig `yaml:"store"`
}

// StoreConfig selects and configures the transcript store.
type StoreConfig struct {
	Driver StoreDriver `yaml:"driver"`

	// DSN is the PostgreSQL connection string (driver postgres).
	DSN string `yaml:"dsn"`

	// Path is the database file (driver sqlite).
	Path string `yaml:"path"`

	// Capacity bounds the in-memory store (driver memory).
	Capacity int `yaml:"capacity"`

	// Retention prunes sqlite entries older than this. Zero keeps everything.
	Retention time.Duration `yaml:"retention"`
}

// EventBusConfig configures publishing to NATS. The bus is disabled unless
// Servers is set or Embedded is true.
type EventBusConfig struct {
	Servers []string `yaml:"servers"`

	// Embedded starts an in-process NATS server and publishes to it.
	Embedded bool   `yaml:"embedded"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`

	SubjectPrefix  string        `yaml:"subject_prefix"`
	ConnectTimeout time.Duration `yaml:"connect_timeout"`
	Username       string        `yaml:"username"`
	Password       string        `yaml:"password"`
	Token          string        `yaml:"token"`
	PublishLevels  bool          `yaml:"publish_levels"`
}

// Enabled reports whether a bus connection is configured.
func (c EventBusConfig) Enabled() bool {
	return c.Embedded || len(c.Servers) > 0
}

// TranscriptionEnabled reports whether captured audio is transcribed.
func (c *Config) TranscriptionEnabled() bool {
	if c.Transcript.Enabled != nil {
		return *c.Transcript.Enabled
	}
	return c.Providers.STT.Name != ""
}

// Build merges s over [session.DefaultConfig].
func (s SessionConfig) Build() session.Config {
	cfg := session.DefaultConfig()
	if s.Quality != "" {
		cfg.Quality = s.Quality
	}
	if s.EchoCancellation != nil {
		cfg.EchoCancellation = *s.EchoCancellation
	}
	if s.AutoGainControl != nil {
		cfg.AutoGainControl = *s.AutoGainControl
	}
	cfg.NativeNoiseSuppression = s.NativeNoiseSuppression
	if s.Sensitivity != nil {
		cfg.Sensitivity = *s.Sensitivity
	}
	if s.SilenceTimeout > 0 {
		cfg.SilenceTimeout = s.SilenceTimeout
	}
	if s.Adaptive != nil {
		cfg.Adaptive = *s.Adaptive
	}
	if s.Suppression.Enabled != nil {
		cfg.Suppression = *s.Suppression.Enabled
	}
	if s.Suppression.Intensity != nil {
		cfg.SuppressionIntensity = *s.Suppression.Intensity
	}
	cfg.MinRecording = s.MinRecording
	if s.MaxRecording != nil {
		cfg.MaxRecording = *s.MaxRecording
	}
	cfg.LevelInterval = s.LevelInterval
	cfg.Noise.Warmup = s.Noise.Warmup
	cfg.Noise.Interval = s.Noise.Interval
	cfg.Noise.NoisyThreshold = s.Noise.NoisyThreshold
	cfg.Noise.Alpha = s.Noise.Alpha
	cfg.Noise.PeakDecay = s.Noise.PeakDecay
	return cfg
}
