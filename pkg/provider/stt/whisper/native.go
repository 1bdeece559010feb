// This file contains the NativeTranscriber implementation backed by the
// whisper.cpp CGO bindings. The whisper.cpp static library (libwhisper.a)
// and headers (whisper.h) must be available at link time via LIBRARY_PATH
// and C_INCLUDE_PATH environment variables.

package whisper

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	whisperlib "github.com/ggerganov/whisper.cpp/bindings/go/pkg/whisper"
	"golang.org/x/sync/semaphore"

	"github.com/MrWong99/vadcapture/pkg/audio"
	"github.com/MrWong99/vadcapture/pkg/audio/wav"
	"github.com/MrWong99/vadcapture/pkg/provider/stt"
)

// modelSampleRate is the only rate whisper.cpp accepts.
const modelSampleRate = 16000

// Compile-time assertion that NativeTranscriber satisfies stt.Transcriber.
var _ stt.Transcriber = (*NativeTranscriber)(nil)

// NativeTranscriber implements stt.Transcriber using whisper.cpp Go bindings
// (CGO), eliminating HTTP overhead entirely. The model is loaded once at
// startup and shared by all requests; each request gets its own context.
type NativeTranscriber struct {
	model    whisperlib.Model
	language string
	slots    *semaphore.Weighted
}

// NativeOption is a functional option for configuring a NativeTranscriber.
type NativeOption func(*nativeConfig)

type nativeConfig struct {
	language    string
	concurrency int64
}

// WithNativeLanguage sets the default language (e.g., "en", "de-DE").
// Defaults to "en".
func WithNativeLanguage(lang string) NativeOption {
	return func(c *nativeConfig) { c.language = lang }
}

// WithNativeConcurrency bounds how many recordings are decoded at once.
// Each in-flight request holds a whisper.cpp context in memory. Defaults to 1.
func WithNativeConcurrency(n int) NativeOption {
	return func(c *nativeConfig) { c.concurrency = int64(n) }
}

// NewNative creates a NativeTranscriber that loads the whisper.cpp model from
// the given file path. The caller must call Close when the transcriber is no
// longer needed.
func NewNative(modelPath string, opts ...NativeOption) (*NativeTranscriber, error) {
	if modelPath == "" {
		return nil, errors.New("whisper: modelPath must not be empty")
	}
	cfg := nativeConfig{language: defaultLanguage, concurrency: 1}
	for _, o := range opts {
		o(&cfg)
	}
	if cfg.concurrency < 1 {
		return nil, fmt.Errorf("whisper: concurrency must be at least 1, got %d", cfg.concurrency)
	}

	model, err := whisperlib.New(modelPath)
	if err != nil {
		return nil, fmt.Errorf("whisper: load model %q: %w", modelPath, err)
	}
	return &NativeTranscriber{
		model:    model,
		language: cfg.language,
		slots:    semaphore.NewWeighted(cfg.concurrency),
	}, nil
}

// Name returns "whisper-native".
func (t *NativeTranscriber) Name() string { return providerName + "-native" }

// Close releases the whisper model.
func (t *NativeTranscriber) Close() error {
	if t.model != nil {
		return t.model.Close()
	}
	return nil
}

// Transcribe decodes the WAV in req.Audio, resamples it to 16 kHz and runs
// inference on a fresh whisper.cpp context.
func (t *NativeTranscriber) Transcribe(ctx context.Context, req stt.Request) (*stt.Result, error) {
	if len(req.Audio) == 0 {
		return nil, stt.ErrEmptyAudio
	}
	samples, rate, err := wav.Decode(bytes.NewReader(req.Audio))
	if err != nil {
		return nil, fmt.Errorf("whisper: decode recording: %w", err)
	}
	if rate != modelSampleRate {
		samples = audio.ResampleFloat32(samples, rate, modelSampleRate)
	}

	waitCtx, cancel := context.WithTimeout(ctx, stt.DefaultTimeout)
	defer cancel()
	if err := t.slots.Acquire(waitCtx, 1); err != nil {
		return nil, fmt.Errorf("whisper: wait for inference slot: %w", stt.Timeout(ctx, err))
	}
	defer t.slots.Release(1)

	lang := req.LanguageCode
	if lang == "" {
		lang = t.language
	}
	return t.infer(samples, baseLanguage(lang))
}

func (t *NativeTranscriber) infer(samples []float32, lang string) (*stt.Result, error) {
	wctx, err := t.model.NewContext()
	if err != nil {
		return nil, fmt.Errorf("whisper: create context: %w", err)
	}
	if lang != "" {
		if err := wctx.SetLanguage(lang); err != nil {
			slog.Warn("whisper: failed to set language, using default", "language", lang, "error", err)
		}
	}
	if err := wctx.Process(samples, nil, nil, nil); err != nil {
		return nil, fmt.Errorf("whisper: process audio: %w", err)
	}

	res := &stt.Result{Provider: t.Name()}
	var parts []string
	for {
		segment, err := wctx.NextSegment()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("whisper: read segment: %w", err)
		}
		text := strings.TrimSpace(segment.Text)
		if text == "" {
			continue
		}
		parts = append(parts, text)
		res.Segments = append(res.Segments, stt.Segment{
			Text:       text,
			Start:      segment.Start.Seconds(),
			End:        segment.End.Seconds(),
			Confidence: tokenConfidence(segment.Tokens),
		})
	}
	res.Transcript = strings.Join(parts, " ")
	res.Confidence = stt.MeanConfidence(res.Segments)
	return res, nil
}

// tokenConfidence is the mean token probability of a segment.
func tokenConfidence(tokens []whisperlib.Token) float64 {
	if len(tokens) == 0 {
		return 0
	}
	var sum float64
	for _, tok := range tokens {
		sum += float64(tok.P)
	}
	return sum / float64(len(tokens))
}
