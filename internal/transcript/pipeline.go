package transcript

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/MrWong99/vadcapture/internal/observe"
	"github.com/MrWong99/vadcapture/internal/session"
	"github.com/MrWong99/vadcapture/internal/transcript/vocab"
	"github.com/MrWong99/vadcapture/pkg/audio/wav"
	"github.com/MrWong99/vadcapture/pkg/provider/stt"
)

// ErrNoSpeech is returned by [Pipeline.Process] when the backend recognised
// no text. Such results are neither stored nor published.
var ErrNoSpeech = errors.New("transcript: nothing recognised")

const (
	defaultWorkers   = 2
	defaultQueueSize = 32
)

// Option is a functional option for [New].
type Option func(*Pipeline)

// WithStore sets where entries are appended. Default: a [MemStore].
func WithStore(s Store) Option {
	return func(p *Pipeline) { p.store = s }
}

// WithPublisher adds a [Publisher] that receives every stored entry.
func WithPublisher(pub Publisher) Option {
	return func(p *Pipeline) { p.publishers = append(p.publishers, pub) }
}

// WithVocabulary enables term correction with c.
func WithVocabulary(c *vocab.Corrector) Option {
	return func(p *Pipeline) { p.vocab = c }
}

// WithMetrics sets the metrics sink. Default: [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(p *Pipeline) { p.metrics = m }
}

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(p *Pipeline) { p.log = l }
}

// WithWorkers sets how many segments are transcribed concurrently.
// Default: 2.
func WithWorkers(n int) Option {
	return func(p *Pipeline) {
		if n > 0 {
			p.workers = n
		}
	}
}

// WithQueueSize sets how many captured segments may wait for a worker before
// new ones are dropped. Default: 32.
func WithQueueSize(n int) Option {
	return func(p *Pipeline) {
		if n > 0 {
			p.queueSize = n
		}
	}
}

// WithLanguage sets the initial language code sent with every request.
func WithLanguage(code string) Option {
	return func(p *Pipeline) { p.language = code }
}

// WithProviderName labels results whose backend does not name itself.
// Default: "stt".
func WithProviderName(name string) Option {
	return func(p *Pipeline) { p.provider = name }
}

// WithErrorHandler registers fn for failures of asynchronously processed
// segments. fn runs on a worker goroutine.
func WithErrorHandler(fn func(sessionID string, err error)) Option {
	return func(p *Pipeline) { p.onError = fn }
}

// WithClock overrides time.Now for entry timestamps and latency.
func WithClock(now func() time.Time) Option {
	return func(p *Pipeline) { p.now = now }
}

type job struct {
	sessionID string
	audio     session.CapturedAudio
}

// Pipeline transcribes captured speech. It implements [session.Listener] so
// it can be subscribed to one or more session managers directly.
type Pipeline struct {
	stt        stt.Transcriber
	provider   string
	store      Store
	publishers []Publisher
	vocab      *vocab.Corrector
	metrics    *observe.Metrics
	log        *slog.Logger
	onError    func(string, error)
	now        func() time.Time

	workers   int
	queueSize int
	jobs      chan job
	running   atomic.Bool
	dropped   atomic.Int64

	mu       sync.RWMutex
	language string
}

var _ session.Listener = (*Pipeline)(nil)

// New returns a Pipeline around t. Call [Pipeline.Run] to start the workers.
func New(t stt.Transcriber, opts ...Option) (*Pipeline, error) {
	if t == nil {
		return nil, errors.New("transcript: transcriber must not be nil")
	}
	p := &Pipeline{
		stt:       t,
		provider:  "stt",
		workers:   defaultWorkers,
		queueSize: defaultQueueSize,
		now:       time.Now,
	}
	for _, o := range opts {
		o(p)
	}
	if p.store == nil {
		p.store = NewMemStore(0)
	}
	if p.metrics == nil {
		p.metrics = observe.DefaultMetrics()
	}
	if p.log == nil {
		p.log = slog.Default()
	}
	p.jobs = make(chan job, p.queueSize)
	return p, nil
}

// Store returns the store entries are appended to.
func (p *Pipeline) Store() Store { return p.store }

// Language returns the language code sent with requests.
func (p *Pipeline) Language() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.language
}

// SetLanguage changes the language code for subsequent requests.
func (p *Pipeline) SetLanguage(code string) {
	p.mu.Lock()
	p.language = code
	p.mu.Unlock()
}

// Dropped returns how many segments were discarded because the queue was
// full.
func (p *Pipeline) Dropped() int64 { return p.dropped.Load() }

// HandleEvent queues captured audio for transcription and ignores every
// other event. It never blocks: when the queue is full the segment is
// dropped and counted.
func (p *Pipeline) HandleEvent(ev session.Event) {
	if ev.Kind != session.EventAudioCaptured || ev.Audio == nil || len(ev.Audio.Samples) == 0 {
		return
	}
	select {
	case p.jobs <- job{sessionID: ev.SessionID, audio: *ev.Audio}:
	default:
		p.dropped.Add(1)
		p.metrics.RecordProviderError(context.Background(), p.provider, "dropped")
		p.log.Warn("transcript: queue full, dropping segment",
			"session_id", ev.SessionID,
			"duration", ev.Audio.Duration,
		)
	}
}

// Run starts the workers and blocks until ctx is cancelled. Segments still
// queued at that point are discarded. Run returns nil on cancellation so it
// can be used directly in an errgroup.
func (p *Pipeline) Run(ctx context.Context) error {
	if !p.running.CompareAndSwap(false, true) {
		return errors.New("transcript: pipeline already running")
	}
	defer p.running.Store(false)

	var wg sync.WaitGroup
	for range p.workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p.work(ctx)
		}()
	}
	wg.Wait()
	return nil
}

func (p *Pipeline) work(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case j := <-p.jobs:
			_, err := p.Process(ctx, j.sessionID, j.audio)
			switch {
			case err == nil, errors.Is(err, ErrNoSpeech):
			case ctx.Err() != nil:
				return
			default:
				p.log.Error("transcript: segment failed", "session_id", j.sessionID, "err", err)
				if p.onError != nil {
					p.onError(j.sessionID, err)
				}
			}
		}
	}
}

// Process transcribes one segment synchronously, stores the entry and
// publishes it. A store failure is returned together with the entry, which
// is still published.
func (p *Pipeline) Process(ctx context.Context, sessionID string, a session.CapturedAudio) (*Entry, error) {
	if len(a.Samples) == 0 {
		return nil, stt.ErrEmptyAudio
	}
	ctx, span := observe.StartSpan(observe.WithSessionID(ctx, sessionID), "transcript.process")
	defer span.End()

	data, err := wav.Encode(a.Samples, a.SampleRate)
	if err != nil {
		return nil, fmt.Errorf("transcript: encode wav: %w", err)
	}

	lang := p.Language()
	start := p.now()
	res, err := p.stt.Transcribe(ctx, stt.Request{
		Audio:        data,
		Filename:     stt.DefaultFilename,
		LanguageCode: lang,
	})
	latency := p.now().Sub(start)
	if err != nil {
		span.RecordError(err)
		p.metrics.RecordProviderRequest(ctx, p.provider, "error")
		p.metrics.RecordProviderError(ctx, p.provider, errorKind(err))
		return nil, fmt.Errorf("transcript: transcribe: %w", err)
	}

	provider := res.Provider
	if provider == "" {
		provider = p.provider
	}
	p.metrics.RecordProviderRequest(ctx, provider, "ok")
	p.metrics.RecordTranscription(ctx, provider, latency)

	text := strings.TrimSpace(res.Transcript)
	if text == "" {
		return nil, ErrNoSpeech
	}

	confidence := res.Confidence
	if confidence == 0 {
		confidence = stt.MeanConfidence(res.Segments)
	}

	e := Entry{
		ID:            uuid.NewString(),
		SessionID:     sessionID,
		Transcript:    text,
		Confidence:    confidence,
		Band:          BandFor(confidence),
		Segments:      res.Segments,
		Provider:      provider,
		Language:      lang,
		AudioDuration: a.Duration,
		Latency:       latency,
		CreatedAt:     p.now().UTC(),
	}
	if p.vocab != nil {
		e.Transcript, e.Corrections = p.vocab.Correct(text)
	}

	var storeErr error
	if err := p.store.Append(ctx, e); err != nil {
		storeErr = fmt.Errorf("transcript: store: %w", err)
		p.log.Error("transcript: store entry", "session_id", sessionID, "err", err)
	}
	for _, pub := range p.publishers {
		if err := pub.PublishTranscript(ctx, e); err != nil {
			p.log.Warn("transcript: publish entry", "session_id", sessionID, "err", err)
		}
	}
	observe.LoggerFrom(ctx, p.log).Debug("transcript: entry stored",
		"provider", provider,
		"band", e.Band,
		"latency", latency,
	)
	return &e, storeErr
}

// errorKind classifies a transcription failure for metrics.
func errorKind(err error) string {
	var se *stt.StatusError
	switch {
	case errors.Is(err, stt.ErrTimeout):
		return "timeout"
	case errors.As(err, &se):
		return "status"
	case errors.Is(err, context.Canceled):
		return "canceled"
	default:
		return "error"
	}
}
