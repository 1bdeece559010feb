package stt

// Request is one recording to transcribe.
type Request struct {
	// Audio is a complete WAV file.
	Audio []byte

	// Filename is the upload name. Empty uses DefaultFilename.
	Filename string

	// LanguageCode is a BCP-47 tag such as "en-IN". Empty lets the backend
	// choose its default.
	LanguageCode string
}

// FilenameOrDefault returns r.Filename, or DefaultFilename when empty.
func (r Request) FilenameOrDefault() string {
	if r.Filename == "" {
		return DefaultFilename
	}
	return r.Filename
}

// Result is the outcome of a transcription.
type Result struct {
	// Transcript is the recognised text. It may be empty when nothing was
	// recognised.
	Transcript string `json:"transcript,omitempty"`

	// Confidence in [0, 1]; zero when the backend does not report one.
	Confidence float64 `json:"confidence,omitempty"`

	// Segments carries per-segment timing when available.
	Segments []Segment `json:"segments,omitempty"`

	// Provider names the backend that produced the result.
	Provider string `json:"provider,omitempty"`
}

// Segment is a timed span of the transcript.
type Segment struct {
	Text string `json:"text"`

	// Start and End are offsets into the recording in seconds.
	Start float64 `json:"start"`
	End   float64 `json:"end"`

	Confidence float64 `json:"confidence,omitempty"`
}

// MeanConfidence returns the average segment confidence, or 0 without
// segments.
func MeanConfidence(segments []Segment) float64 {
	if len(segments) == 0 {
		return 0
	}
	var sum float64
	for _, s := range segments {
		sum += s.Confidence
	}
	return sum / float64(len(segments))
}
