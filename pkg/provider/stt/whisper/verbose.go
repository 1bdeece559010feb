package whisper

import (
	"math"
	"strings"

	"github.com/MrWong99/vadcapture/pkg/provider/stt"
)

// verboseResponse is the verbose_json body returned by whisper-server and by
// the OpenAI transcription API.
type verboseResponse struct {
	Text     string           `json:"text"`
	Segments []verboseSegment `json:"segments"`
}

type verboseSegment struct {
	Text       string  `json:"text"`
	Start      float64 `json:"start"`
	End        float64 `json:"end"`
	AvgLogprob float64 `json:"avg_logprob"`
}

func (r verboseResponse) result(provider string) *stt.Result {
	res := &stt.Result{
		Transcript: strings.TrimSpace(r.Text),
		Provider:   provider,
	}
	for _, s := range r.Segments {
		text := strings.TrimSpace(s.Text)
		if text == "" {
			continue
		}
		res.Segments = append(res.Segments, stt.Segment{
			Text:       text,
			Start:      s.Start,
			End:        s.End,
			Confidence: logprobConfidence(s.AvgLogprob),
		})
	}
	res.Confidence = stt.MeanConfidence(res.Segments)
	return res
}

// logprobConfidence converts an average token log probability to a
// probability in [0, 1].
func logprobConfidence(avg float64) float64 {
	if avg > 0 {
		return 1
	}
	return math.Exp(avg)
}

// baseLanguage strips the region from a BCP-47 tag: "en-IN" becomes "en".
// "auto" and the empty string pass through unchanged.
func baseLanguage(tag string) string {
	tag = strings.TrimSpace(tag)
	if i := strings.IndexAny(tag, "-_"); i > 0 {
		tag = tag[:i]
	}
	return strings.ToLower(tag)
}
