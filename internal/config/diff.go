package config

import (
	"reflect"
	"slices"

	"github.com/MrWong99/vadcapture/internal/session"
)

// ConfigDiff describes what changed between two configs. The hot fields can
// be applied to a running server; RestartRequired names the sections whose
// changes only take effect after a restart.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	SensitivityChanged bool
	NewSensitivity     float64

	SuppressionChanged bool
	NewSuppression     bool

	IntensityChanged bool
	NewIntensity     float64

	LanguageChanged bool
	NewLanguage     string

	VocabularyChanged bool
	NewVocabulary     []string

	RestartRequired []string
}

// HasChanges reports whether anything hot-reloadable changed.
func (d ConfigDiff) HasChanges() bool {
	return d.LogLevelChanged || d.SensitivityChanged || d.SuppressionChanged ||
		d.IntensityChanged || d.LanguageChanged || d.VocabularyChanged
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	oldSess, newSess := old.Session.Build(), new.Session.Build()
	if oldSess.Sensitivity != newSess.Sensitivity {
		d.SensitivityChanged = true
		d.NewSensitivity = newSess.Sensitivity
	}
	if oldSess.Suppression != newSess.Suppression {
		d.SuppressionChanged = true
		d.NewSuppression = newSess.Suppression
	}
	if oldSess.SuppressionIntensity != newSess.SuppressionIntensity {
		d.IntensityChanged = true
		d.NewIntensity = newSess.SuppressionIntensity
	}

	if old.Transcript.Language != new.Transcript.Language {
		d.LanguageChanged = true
		d.NewLanguage = new.Transcript.Language
	}
	if !slices.Equal(old.Transcript.Vocabulary, new.Transcript.Vocabulary) {
		d.VocabularyChanged = true
		d.NewVocabulary = slices.Clone(new.Transcript.Vocabulary)
	}

	// Everything else is wired at startup.
	oldCold, newCold := coldSession(oldSess), coldSession(newSess)
	restart := []struct {
		name string
		a, b any
	}{
		{"server.listen_addr", old.Server.ListenAddr, new.Server.ListenAddr},
		{"server.tls", old.Server.TLS, new.Server.TLS},
		{"server.transcribe_proxy", old.Server.Proxy, new.Server.Proxy},
		{"server.websocket_origins", old.Server.WebsocketOrigins, new.Server.WebsocketOrigins},
		{"session", oldCold, newCold},
		{"providers", old.Providers, new.Providers},
		{"transcript.store", old.Transcript.Store, new.Transcript.Store},
		{"transcript.workers", old.Transcript.Workers, new.Transcript.Workers},
		{"transcript.queue_size", old.Transcript.QueueSize, new.Transcript.QueueSize},
		{"transcript.enabled", old.TranscriptionEnabled(), new.TranscriptionEnabled()},
		{"eventbus", old.EventBus, new.EventBus},
	}
	for _, r := range restart {
		if !reflect.DeepEqual(r.a, r.b) {
			d.RestartRequired = append(d.RestartRequired, r.name)
		}
	}
	return d
}

// coldSession clears the session fields Diff reports as hot.
func coldSession(c session.Config) session.Config {
	c.Sensitivity = 0
	c.Suppression = false
	c.SuppressionIntensity = 0
	return c
}
