// Package openai provides an [stt.Transcriber] backed by the OpenAI audio
// transcription endpoint.
package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/MrWong99/vadcapture/pkg/provider/stt"
)

// DefaultModel is the default transcription model.
const DefaultModel = oai.AudioModelWhisper1

const providerName = "openai"

// Ensure Transcriber implements the stt.Transcriber interface.
var _ stt.Transcriber = (*Transcriber)(nil)

// Transcriber implements stt.Transcriber using the OpenAI API.
type Transcriber struct {
	client  oai.Client
	model   oai.AudioModel
	timeout time.Duration
}

// config holds optional configuration for the transcriber.
type config struct {
	baseURL    string
	timeout    time.Duration
	maxRetries int
}

// Option is a functional option for Transcriber.
type Option func(*config)

// WithBaseURL overrides the default OpenAI API base URL.
func WithBaseURL(url string) Option {
	return func(c *config) {
		c.baseURL = url
	}
}

// WithTimeout sets the per-request deadline. Defaults to [stt.DefaultTimeout].
func WithTimeout(d time.Duration) Option {
	return func(c *config) {
		c.timeout = d
	}
}

// WithMaxRetries sets how often the client retries failed requests.
// Defaults to 0: a retry could push the call past its deadline.
func WithMaxRetries(n int) Option {
	return func(c *config) {
		c.maxRetries = n
	}
}

// New constructs an OpenAI Transcriber. If model is empty, DefaultModel
// (whisper-1) is used.
func New(apiKey string, model string, opts ...Option) (*Transcriber, error) {
	if apiKey == "" {
		return nil, errors.New("openai stt: apiKey must not be empty")
	}
	if model == "" {
		model = DefaultModel
	}
	cfg := &config{timeout: stt.DefaultTimeout}
	for _, o := range opts {
		o(cfg)
	}

	reqOpts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithMaxRetries(cfg.maxRetries),
	}
	if cfg.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.baseURL))
	}
	return &Transcriber{
		client:  oai.NewClient(reqOpts...),
		model:   model,
		timeout: cfg.timeout,
	}, nil
}

// Name returns "openai".
func (t *Transcriber) Name() string { return providerName }

// Transcribe implements stt.Transcriber.
func (t *Transcriber) Transcribe(ctx context.Context, req stt.Request) (*stt.Result, error) {
	if len(req.Audio) == 0 {
		return nil, stt.ErrEmptyAudio
	}
	params := oai.AudioTranscriptionNewParams{
		File:           oai.File(bytes.NewReader(req.Audio), req.FilenameOrDefault(), "audio/wav"),
		Model:          t.model,
		ResponseFormat: oai.AudioResponseFormatVerboseJSON,
	}
	if lang := isoLanguage(req.LanguageCode); lang != "" {
		params.Language = oai.String(lang)
	}

	reqCtx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()
	resp, err := t.client.Audio.Transcriptions.New(reqCtx, params)
	if err != nil {
		var apiErr *oai.Error
		if errors.As(err, &apiErr) {
			return nil, &stt.StatusError{StatusCode: apiErr.StatusCode, Body: apiMessage(apiErr)}
		}
		return nil, fmt.Errorf("openai stt: transcribe: %w", stt.Timeout(ctx, err))
	}
	return parseVerbose(resp.Text, resp.RawJSON()), nil
}

// parseVerbose builds a Result from the verbose_json body. The SDK type only
// exposes the text, so segments are read from the raw JSON.
func parseVerbose(text, raw string) *stt.Result {
	res := &stt.Result{Transcript: strings.TrimSpace(text), Provider: providerName}
	var body struct {
		Segments []struct {
			Text       string  `json:"text"`
			Start      float64 `json:"start"`
			End        float64 `json:"end"`
			AvgLogprob float64 `json:"avg_logprob"`
		} `json:"segments"`
	}
	if raw == "" || json.Unmarshal([]byte(raw), &body) != nil {
		return res
	}
	for _, s := range body.Segments {
		segText := strings.TrimSpace(s.Text)
		if segText == "" {
			continue
		}
		res.Segments = append(res.Segments, stt.Segment{
			Text:       segText,
			Start:      s.Start,
			End:        s.End,
			Confidence: min(1, math.Exp(s.AvgLogprob)),
		})
	}
	res.Confidence = stt.MeanConfidence(res.Segments)
	return res
}

func apiMessage(err *oai.Error) string {
	if err.Message != "" {
		return err.Message
	}
	return strings.TrimSpace(err.RawJSON())
}

// isoLanguage reduces a BCP-47 tag to the ISO 639-1 code the API accepts.
func isoLanguage(tag string) string {
	tag = strings.TrimSpace(tag)
	if i := strings.IndexAny(tag, "-_"); i > 0 {
		tag = tag[:i]
	}
	return strings.ToLower(tag)
}
