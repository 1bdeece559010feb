// Package whisper provides whisper.cpp-backed transcribers.
//
// [Transcriber] talks to a running whisper-server binary, which exposes a
// REST API at POST /inference. [NativeTranscriber] loads a model in-process
// through the whisper.cpp CGO bindings.
//
// Both accept the WAV recordings produced by the capture pipeline. whisper.cpp
// identifies languages by their bare ISO 639-1 code, so a regional tag such
// as "en-IN" is sent as "en".
//
// Usage:
//
//	t, err := whisper.New("http://localhost:8080", whisper.WithLanguage("de"))
//	res, err := t.Transcribe(ctx, stt.Request{Audio: wavBytes})
package whisper

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
	defaultLanguage = "en"

	// responseFormat asks whisper-server for segment timing and log
	// probabilities alongside the text.
	responseFormat = "verbose_json"

	providerName = "whisper"
	maxErrorBody = 4 << 10
)

// Compile-time assertion that Transcriber implements stt.Transcriber.
var _ stt.Transcriber = (*Transcriber)(nil)

// Option is a functional option for configuring a Transcriber.
type Option func(*Transcriber)

// WithModel sets the model identifier forwarded to the whisper.cpp server
// (e.g., "base.en", "small"). When empty the server uses whichever model it
// was started with.
func WithModel(model string) Option {
	return func(t *Transcriber) {
		t.model = model
	}
}

// WithLanguage sets the default language. Requests carrying their own
// LanguageCode override it. Defaults to "en".
func WithLanguage(lang string) Option {
	return func(t *Transcriber) {
		t.language = lang
	}
}

// WithTimeout overrides the per-request deadline. Defaults to
// [stt.DefaultTimeout].
func WithTimeout(d time.Duration) Option {
	return func(t *Transcriber) {
		t.timeout = d
	}
}

// WithHTTPClient replaces the HTTP client used for inference requests.
func WithHTTPClient(c *http.Client) Option {
	return func(t *Transcriber) {
		t.httpClient = c
	}
}

// Transcriber implements stt.Transcriber backed by a whisper.cpp HTTP
// server. It holds no per-request state and is safe for concurrent use.
type Transcriber struct {
	serverURL  string
	model      string
	language   string
	timeout    time.Duration
	httpClient *http.Client
}

// New creates a Transcriber that connects to the whisper.cpp HTTP server at
// serverURL (e.g., "http://localhost:8080"). serverURL must be non-empty.
func New(serverURL string, opts ...Option) (*Transcriber, error) {
	if serverURL == "" {
		return nil, errors.New("whisper: serverURL must not be empty")
	}
	t := &Transcriber{
		serverURL:  strings.TrimRight(serverURL, "/"),
		language:   defaultLanguage,
		timeout:    stt.DefaultTimeout,
		httpClient: http.DefaultClient,
	}
	for _, o := range opts {
		o(t)
	}
	return t, nil
}

// Name returns "whisper".
func (t *Transcriber) Name() string { return providerName }

// Transcribe POSTs req.Audio to the /inference endpoint as multipart/form-data
// and returns the recognised text with per-segment timing.
func (t *Transcriber) Transcribe(ctx context.Context, req stt.Request) (*stt.Result, error) {
	if len(req.Audio) == 0 {
		return nil, stt.ErrEmptyAudio
	}
	lang := req.LanguageCode
	if lang == "" {
		lang = t.language
	}

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)

	fw, err := mw.CreateFormFile("file", req.FilenameOrDefault())
	if err != nil {
		return nil, fmt.Errorf("whisper: create form file: %w", err)
	}
	if _, err := fw.Write(req.Audio); err != nil {
		return nil, fmt.Errorf("whisper: write wav data: %w", err)
	}
	if code := baseLanguage(lang); code != "" {
		if err := mw.WriteField("language", code); err != nil {
			return nil, fmt.Errorf("whisper: write language field: %w", err)
		}
	}
	if t.model != "" {
		if err := mw.WriteField("model", t.model); err != nil {
			return nil, fmt.Errorf("whisper: write model field: %w", err)
		}
	}
	if err := mw.WriteField("response_format", responseFormat); err != nil {
		return nil, fmt.Errorf("whisper: write response format field: %w", err)
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("whisper: close multipart writer: %w", err)
	}

	reqCtx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()
	httpReq, err := http.NewRequestWithContext(reqCtx, http.MethodPost, t.serverURL+"/inference", &body)
	if err != nil {
		return nil, fmt.Errorf("whisper: create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := t.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("whisper: http request: %w", stt.Timeout(ctx, err))
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		text := strings.TrimSpace(string(msg))
		if text == "" {
			text = http.StatusText(resp.StatusCode)
		}
		return nil, &stt.StatusError{StatusCode: resp.StatusCode, Body: text}
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("whisper: read response body: %w", stt.Timeout(ctx, err))
	}
	var parsed verboseResponse
	if err := json.Unmarshal(data, &parsed); err != nil {
		return nil, fmt.Errorf("whisper: parse JSON response: %w", err)
	}
	return parsed.result(providerName), nil
}
