package config_test

import (
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"

	"github.com/MrWong99/vadcapture/internal/config"
)

func TestLoad_ExpandsSecretReferences(t *testing.T) {
	t.Setenv("VADCAPTURE_TEST_STT_KEY", "from-env")
	t.Setenv("VADCAPTURE_TEST_DSN", "postgres://db/transcripts")

	cfg := mustLoad(t, `
providers:
  stt:
    name: sarvam
    api_key: ${VADCAPTURE_TEST_STT_KEY}
  stt_fallbacks:
    - name: openai
      api_key: literal-key
transcript:
  store:
    driver: postgres
    dsn: ${VADCAPTURE_TEST_DSN}
`)
	if cfg.Providers.STT.APIKey != "from-env" {
		t.Errorf("stt api_key: got %q", cfg.Providers.STT.APIKey)
	}
	if cfg.Providers.STTFallbacks[0].APIKey != "literal-key" {
		t.Errorf("literal api_key was rewritten: %q", cfg.Providers.STTFallbacks[0].APIKey)
	}
	if cfg.Transcript.Store.DSN != "postgres://db/transcripts" {
		t.Errorf("dsn: got %q", cfg.Transcript.Store.DSN)
	}
}

func TestLoad_ProxyKeyFallsBackToEnv(t *testing.T) {
	t.Setenv("SARVAM_API_KEY", "env-proxy-key")

	cfg := mustLoad(t, "")
	if cfg.Server.Proxy.APIKey != "env-proxy-key" {
		t.Errorf("proxy api_key: got %q", cfg.Server.Proxy.APIKey)
	}

	cfg = mustLoad(t, "server:\n  transcribe_proxy:\n    api_key: explicit\n")
	if cfg.Server.Proxy.APIKey != "explicit" {
		t.Errorf("explicit proxy key overridden: got %q", cfg.Server.Proxy.APIKey)
	}
}

func TestLoad_File(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(sampleYAML), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Transcript.Language != "hi-IN" {
		t.Errorf("language: got %q", cfg.Transcript.Language)
	}

	_, err = config.Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err == nil || !strings.Contains(err.Error(), "missing.yaml") {
		t.Errorf("Load of missing file: got %v", err)
	}
}

func TestApplyDefaults_SQLitePath(t *testing.T) {
	t.Parallel()
	cfg := &config.Config{Transcript: config.TranscriptConfig{Store: config.StoreConfig{Driver: config.StoreSQLite}}}
	config.ApplyDefaults(cfg)
	if cfg.Transcript.Store.Path != config.DefaultSQLitePath {
		t.Errorf("sqlite path: got %q", cfg.Transcript.Store.Path)
	}
	if cfg.Server.Proxy.Burst != config.DefaultProxyBurst || cfg.Server.Proxy.MaxUploadBytes != config.DefaultMaxUploadBytes {
		t.Errorf("proxy defaults: got %+v", cfg.Server.Proxy)
	}
}

func TestValidProviderNames(t *testing.T) {
	t.Parallel()
	for kind, want := range map[string]string{
		"microphone":  "ffmpeg",
		"vad":         "webrtc",
		"suppression": "noisegate",
		"stt":         "sarvam",
	} {
		if !slices.Contains(config.ValidProviderNames[kind], want) {
			t.Errorf("ValidProviderNames[%q] should contain %q", kind, want)
		}
	}
}
