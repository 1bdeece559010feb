// Package sarvam provides an [stt.Transcriber] for the Sarvam AI
// speech-to-text REST API.
//
// Each call uploads the WAV as multipart form data (fields "file" and
// "language_code") authenticated with the api-subscription-key header.
//
// Usage:
//
//	t, err := sarvam.New(os.Getenv("SARVAM_API_KEY"), sarvam.WithLanguage("hi-IN"))
//	res, err := t.Transcribe(ctx, stt.Request{Audio: wavBytes})
package sarvam

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/MrWong99/vadcapture/pkg/provider/stt"
)

const (
	// DefaultEndpoint is the Sarvam speech-to-text URL.
	DefaultEndpoint = "https://api.sarvam.ai/speech-to-text"

	// DefaultLanguage is used when neither the request nor the provider
	// names one.
	DefaultLanguage = "en-IN"

	// APIKeyHeader carries the subscription key.
	APIKeyHeader = "api-subscription-key"

	providerName = "sarvam"
	maxErrorBody = 4 << 10
)

// ErrNoAPIKey is returned by [New] for an empty key.
var ErrNoAPIKey = errors.New("sarvam: api key must not be empty")

var _ stt.Transcriber = (*Transcriber)(nil)

// Option is a functional option for [New].
type Option func(*Transcriber)

// WithEndpoint overrides the API URL.
func WithEndpoint(url string) Option {
	return func(t *Transcriber) { t.endpoint = url }
}

// WithLanguage sets the default language code. Default: "en-IN".
func WithLanguage(code string) Option {
	return func(t *Transcriber) { t.language = code }
}

// WithModel sets the optional model field.
func WithModel(model string) Option {
	return func(t *Transcriber) { t.model = model }
}

// WithTimeout overrides the per-request deadline. Default: 30 s.
func WithTimeout(d time.Duration) Option {
	return func(t *Transcriber) { t.timeout = d }
}

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(t *Transcriber) { t.client = c }
}

// Transcriber calls the Sarvam API.
type Transcriber struct {
	apiKey   string
	endpoint string
	language string
	model    string
	timeout  time.Duration
	client   *http.Client
}

// New returns a Sarvam transcriber.
func New(apiKey string, opts ...Option) (*Transcriber, error) {
	if apiKey == "" {
		return nil, ErrNoAPIKey
	}
	t := &Transcriber{
		apiKey:   apiKey,
		endpoint: DefaultEndpoint,
		language: DefaultLanguage,
		timeout:  stt.DefaultTimeout,
		client:   http.DefaultClient,
	}
	for _, o := range opts {
		o(t)
	}
	return t, nil
}

// Name returns "sarvam".
func (t *Transcriber) Name() string { return providerName }

// response is the Sarvam JSON body.
type response struct {
	Transcript   string        `json:"transcript"`
	Confidence   *float64      `json:"confidence"`
	LanguageCode string        `json:"language_code"`
	Segments     []stt.Segment `json:"segments"`
}

// Transcribe implements [stt.Transcriber].
func (t *Transcriber) Transcribe(ctx context.Context, req stt.Request) (*stt.Result, error) {
	if len(req.Audio) == 0 {
		return nil, stt.ErrEmptyAudio
	}
	lang := req.LanguageCode
	if lang == "" {
		lang = t.language
	}

	body, contentType, err := t.form(req, lang)
	if err != nil {
		return nil, err
	}

	reqCtx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()
	httpReq, err := http.NewRequestWithContext(reqCtx, http.MethodPost, t.endpoint, body)
	if err != nil {
		return nil, fmt.Errorf("sarvam: create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", contentType)
	httpReq.Header.Set(APIKeyHeader, t.apiKey)

	resp, err := t.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("sarvam: http request: %w", stt.Timeout(ctx, err))
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		text := strings.TrimSpace(string(msg))
		if text == "" {
			text = http.StatusText(resp.StatusCode)
		}
		return nil, &stt.StatusError{StatusCode: resp.StatusCode, Body: text}
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("sarvam: read response body: %w", stt.Timeout(ctx, err))
	}
	var parsed response
	if err := json.Unmarshal(data, &parsed); err != nil {
		return nil, fmt.Errorf("sarvam: parse JSON response: %w", err)
	}

	res := &stt.Result{
		Transcript: parsed.Transcript,
		Segments:   parsed.Segments,
		Provider:   providerName,
	}
	switch {
	case parsed.Confidence != nil:
		res.Confidence = min(1, max(0, *parsed.Confidence))
	default:
		res.Confidence = stt.MeanConfidence(parsed.Segments)
	}
	return res, nil
}

func (t *Transcriber) form(req stt.Request, lang string) (io.Reader, string, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)

	fw, err := mw.CreateFormFile("file", req.FilenameOrDefault())
	if err != nil {
		return nil, "", fmt.Errorf("sarvam: create form file: %w", err)
	}
	if _, err := fw.Write(req.Audio); err != nil {
		return nil, "", fmt.Errorf("sarvam: write wav data: %w", err)
	}
	if err := mw.WriteField("language_code", lang); err != nil {
		return nil, "", fmt.Errorf("sarvam: write language field: %w", err)
	}
	if t.model != "" {
		if err := mw.WriteField("model", t.model); err != nil {
			return nil, "", fmt.Errorf("sarvam: write model field: %w", err)
		}
	}
	if err := mw.Close(); err != nil {
		return nil, "", fmt.Errorf("sarvam: close multipart writer: %w", err)
	}
	return &body, mw.FormDataContentType(), nil
}
