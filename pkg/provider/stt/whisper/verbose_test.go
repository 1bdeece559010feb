package whisper

import "testing"

func TestBaseLanguage(t *testing.T) {
	t.Parallel()
	tests := map[string]string{
		"en-IN": "en",
		"pt_BR": "pt",
		"DE":    "de",
		"auto":  "auto",
		"":      "",
		" fr ":  "fr",
	}
	for in, want := range tests {
		if got := baseLanguage(in); got != want {
			t.Errorf("baseLanguage(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestLogprobConfidence(t *testing.T) {
	t.Parallel()
	if got := logprobConfidence(0); got != 1 {
		t.Errorf("logprobConfidence(0) = %v, want 1", got)
	}
	if got := logprobConfidence(0.3); got != 1 {
		t.Errorf("positive logprob = %v, want clamp to 1", got)
	}
	if got := logprobConfidence(-100); got <= 0 || got > 1e-40 {
		t.Errorf("logprobConfidence(-100) = %v, want tiny positive", got)
	}
}
