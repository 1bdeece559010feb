// Package app wires the vadcapture subsystems into a running service.
//
// The App struct owns the full lifecycle: New builds the transcript store,
// the event bus, the capture session, the transcription pipeline and the HTTP
// server from the config; Run serves until the context ends; Shutdown tears
// everything down in reverse order.
//
// For testing, inject providers through [Providers] and stores through
// options. When an option is not provided, New creates the real
// implementation from the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/vadcapture/internal/config"
	"github.com/MrWong99/vadcapture/internal/eventbus"
	"github.com/MrWong99/vadcapture/internal/health"
	"github.com/MrWong99/vadcapture/internal/observe"
	"github.com/MrWong99/vadcapture/internal/resilience"
	"github.com/MrWong99/vadcapture/internal/server"
	"github.com/MrWong99/vadcapture/internal/session"
	"github.com/MrWong99/vadcapture/internal/transcript"
	"github.com/MrWong99/vadcapture/internal/transcript/postgres"
	"github.com/MrWong99/vadcapture/internal/transcript/sqlite"
	"github.com/MrWong99/vadcapture/internal/transcript/vocab"
	"github.com/MrWong99/vadcapture/pkg/audio"
	nsprovider "github.com/MrWong99/vadcapture/pkg/provider/suppression"
	"github.com/MrWong99/vadcapture/pkg/provider/stt"
	"github.com/MrWong99/vadcapture/pkg/provider/vad"
)

// pruneInterval is how often expired sqlite transcripts are deleted.
const pruneInterval = time.Hour

// NamedTranscriber is one speech-to-text backend and its registry name.
type NamedTranscriber struct {
	Name        string
	Transcriber stt.Transcriber
}

// Providers holds the instantiated providers. Populated by main.go via the
// config registry.
type Providers struct {
	Microphone audio.Microphone
	VAD        vad.Engine

	// Suppression is nil when no suppression backend is configured.
	Suppression nsprovider.Factory

	// STT lists the transcription backends in failover order. Empty
	// disables transcription.
	STT []NamedTranscriber
}

// App owns all subsystem lifetimes.
type App struct {
	cfg       *config.Config
	providers *Providers
	log       *slog.Logger
	level     *slog.LevelVar
	metrics   *observe.Metrics

	// Subsystems, initialised in New and torn down in Shutdown.
	store    transcript.Store
	pruner   *sqlite.Store
	vocab    *vocab.Corrector
	embedded *eventbus.EmbeddedServer
	bus      *eventbus.Client
	manager  *session.Manager
	recovery *session.Recoverer
	stt      *resilience.TranscriberFallback
	pipeline *transcript.Pipeline
	hub      *server.Hub
	health   *health.Handler
	server   *server.Server
	watcher  *config.Watcher

	// closers run in reverse order during Shutdown.
	closers []func() error

	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithTranscriptStore injects a store instead of creating one from config.
func WithTranscriptStore(s transcript.Store) Option {
	return func(a *App) { a.store = s }
}

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(a *App) { a.log = l }
}

// WithLevelVar lets hot reload change the log level of the handler built
// around lv.
func WithLevelVar(lv *slog.LevelVar) Option {
	return func(a *App) { a.level = lv }
}

// WithMetrics sets the metrics sink. Default: [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App by wiring all subsystems together. On error everything
// created so far is released.
func New(ctx context.Context, cfg *config.Config, providers *Providers, opts ...Option) (_ *App, err error) {
	if providers == nil || providers.Microphone == nil || providers.VAD == nil {
		return nil, errors.New("app: a microphone and a VAD engine are required")
	}
	a := &App{
		cfg:       cfg,
		providers: providers,
		log:       slog.Default(),
		health:    health.New(),
	}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}
	defer func() {
		if err != nil {
			a.runClosers()
		}
	}()

	// ── 1. Transcript store ──────────────────────────────────────────────
	if err := a.initStore(ctx); err != nil {
		return nil, fmt.Errorf("app: init transcript store: %w", err)
	}

	// ── 2. Event bus ─────────────────────────────────────────────────────
	if err := a.initEventBus(); err != nil {
		return nil, fmt.Errorf("app: init event bus: %w", err)
	}

	// ── 3. Capture session ───────────────────────────────────────────────
	a.initSession()

	// ── 4. Websocket hub ─────────────────────────────────────────────────
	a.initHub()

	// ── 5. Transcription ─────────────────────────────────────────────────
	if err := a.initPipeline(); err != nil {
		return nil, fmt.Errorf("app: init transcript pipeline: %w", err)
	}

	// ── 6. HTTP server ───────────────────────────────────────────────────
	a.initServer()

	a.manager.Subscribe(newSessionMetrics(a.metrics, a.manager.Quality))
	a.manager.Subscribe(a.hub)
	if a.bus != nil {
		a.manager.Subscribe(a.bus)
	}
	if a.pipeline != nil {
		a.manager.Subscribe(a.pipeline)
	}
	return a, nil
}

// ─── Init helpers ────────────────────────────────────────────────────────────

// initStore opens the configured transcript store unless one was injected.
func (a *App) initStore(ctx context.Context) error {
	if a.store != nil {
		return nil
	}
	sc := a.cfg.Transcript.Store
	switch sc.Driver {
	case config.StorePostgres:
		st, err := postgres.Open(ctx, sc.DSN)
		if err != nil {
			return err
		}
		a.store = st
		a.closers = append(a.closers, func() error { st.Close(); return nil })
		a.health.Add(health.Checker{Name: "transcript_store", Check: st.Ping})
	case config.StoreSQLite:
		st, err := sqlite.Open(ctx, sc.Path)
		if err != nil {
			return err
		}
		a.store = st
		a.closers = append(a.closers, st.Close)
		a.health.Add(health.Checker{Name: "transcript_store", Check: st.Ping})
		if sc.Retention > 0 {
			a.pruner = st
		}
	default:
		a.store = transcript.NewMemStore(sc.Capacity)
	}
	a.log.Info("transcript store ready", "driver", orDefault(string(sc.Driver), string(config.StoreMemory)))
	return nil
}

// initEventBus starts the embedded NATS server if asked and connects.
func (a *App) initEventBus() error {
	bc := a.cfg.EventBus
	if !bc.Enabled() {
		return nil
	}
	servers := bc.Servers
	if bc.Embedded {
		ns, err := eventbus.StartEmbedded(bc.Host, bc.Port, a.log)
		if err != nil {
			return err
		}
		a.embedded = ns
		a.closers = append(a.closers, func() error { ns.Shutdown(); return nil })
		servers = []string{ns.ClientURL()}
	}
	client, err := eventbus.Connect(eventbus.Config{
		Servers:        servers,
		ConnectTimeout: bc.ConnectTimeout,
		Username:       bc.Username,
		Password:       bc.Password,
		Token:          bc.Token,
		SubjectPrefix:  bc.SubjectPrefix,
		PublishLevels:  bc.PublishLevels,
	}, a.log)
	if err != nil {
		return err
	}
	a.bus = client
	a.closers = append(a.closers, func() error { client.Close(); return nil })
	a.health.Add(health.Checker{Name: "eventbus", Check: client.Ping})
	return nil
}

func (a *App) initSession() {
	opts := []session.Option{session.WithLogger(a.log)}
	if a.providers.Suppression != nil {
		opts = append(opts, session.WithSuppression(a.providers.Suppression))
	}
	sc := a.cfg.Session.Build()
	sc.SuppressionParams = a.cfg.Providers.Suppression.Options
	a.manager = session.New(a.providers.Microphone, a.providers.VAD, sc, opts...)
	a.closers = append(a.closers, a.manager.Close)
	a.log.Info("capture session created", "session_id", a.manager.SessionID())

	if rc := a.cfg.Session.Recovery; rc.Enabled {
		a.recovery = session.NewRecoverer(session.RecovererConfig{
			Target:     a.manager,
			MaxRetries: rc.MaxRetries,
			Backoff:    rc.Backoff,
			MaxBackoff: rc.MaxBackoff,
			Logger:     a.log,
			OnRecover: func(attempt int) {
				a.log.Info("capture session recovered", "session_id", a.manager.SessionID(), "attempts", attempt)
			},
		})
		a.manager.Subscribe(a.recovery)
		a.closers = append(a.closers, func() error { a.recovery.Stop(); return nil })
	}
}

// initPipeline builds the transcriber failover group and the pipeline.
func (a *App) initPipeline() error {
	if !a.cfg.TranscriptionEnabled() || len(a.providers.STT) == 0 {
		a.log.Info("transcription disabled")
		return nil
	}
	a.stt = a.buildTranscriber()

	a.vocab = vocab.New(a.cfg.Transcript.Vocabulary)
	tc := a.cfg.Transcript
	opts := []transcript.Option{
		transcript.WithStore(a.store),
		transcript.WithVocabulary(a.vocab),
		transcript.WithMetrics(a.metrics),
		transcript.WithLogger(a.log),
		transcript.WithWorkers(tc.Workers),
		transcript.WithQueueSize(tc.QueueSize),
		transcript.WithLanguage(tc.Language),
		transcript.WithProviderName(a.providers.STT[0].Name),
	}
	opts = append(opts, transcript.WithPublisher(a.hub))
	if a.bus != nil {
		opts = append(opts, transcript.WithPublisher(a.bus))
	}
	p, err := transcript.New(a.stt, opts...)
	if err != nil {
		return err
	}
	a.pipeline = p
	a.health.Add(health.Checker{Name: "stt", Check: a.checkTranscribers})
	return nil
}

func (a *App) buildTranscriber() *resilience.TranscriberFallback {
	cb := resilience.CircuitBreakerConfig{
		OnStateChange: func(name string, _, to resilience.State) {
			if to == resilience.StateOpen {
				a.metrics.RecordProviderError(context.Background(), name, "circuit_open")
			}
		},
	}
	primary := a.providers.STT[0]
	fb := resilience.NewTranscriberFallback(primary.Transcriber, primary.Name, resilience.FallbackConfig{CircuitBreaker: cb})
	for _, nt := range a.providers.STT[1:] {
		fb.AddFallback(nt.Name, nt.Transcriber)
	}
	return fb
}

// checkTranscribers fails when every backend's breaker is open.
func (a *App) checkTranscribers(context.Context) error {
	states := a.stt.States()
	for _, st := range states {
		if st != resilience.StateOpen {
			return nil
		}
	}
	return fmt.Errorf("all %d transcription backends have open circuits", len(states))
}

func (a *App) initHub() {
	a.hub = server.NewHub(
		server.WithHubGreeting(func() server.Message {
			snap := a.manager.Snapshot()
			return server.Message{Type: server.MessageSnapshot, Snapshot: &snap}
		}),
		server.WithHubOrigins(a.cfg.Server.WebsocketOrigins...),
		server.WithHubLogger(a.log),
	)
}

func (a *App) initServer() {
	sc := a.cfg.Server
	opts := []server.Option{
		server.WithHealth(a.health),
		server.WithMetrics(a.metrics),
		server.WithHub(a.hub),
		server.WithTranscripts(a.store),
		server.WithProxy(server.NewProxy(server.ProxyConfig{
			Endpoint:       sc.Proxy.Endpoint,
			APIKey:         sc.Proxy.APIKey,
			RateLimit:      sc.Proxy.RateLimit,
			Burst:          sc.Proxy.Burst,
			MaxUploadBytes: sc.Proxy.MaxUploadBytes,
			Logger:         a.log,
		})),
		server.WithLogger(a.log),
	}
	if sc.TLS != nil {
		opts = append(opts, server.WithTLS(sc.TLS.CertFile, sc.TLS.KeyFile))
	}
	a.server = server.New(sc.ListenAddr, a.manager, opts...)
}

// ─── Accessors ───────────────────────────────────────────────────────────────

// Session returns the capture session manager.
func (a *App) Session() *session.Manager { return a.manager }

// Server returns the HTTP server.
func (a *App) Server() *server.Server { return a.server }

// Pipeline returns the transcription pipeline, or nil when disabled.
func (a *App) Pipeline() *transcript.Pipeline { return a.pipeline }

// Store returns the transcript store.
func (a *App) Store() transcript.Store { return a.store }

// ─── Config hot reload ───────────────────────────────────────────────────────

// WatchConfig polls path and applies safe changes while [App.Run] runs.
func (a *App) WatchConfig(path string, opts ...config.WatcherOption) error {
	opts = append([]config.WatcherOption{config.WithWatcherLogger(a.log)}, opts...)
	w, err := config.NewWatcher(path, a.ApplyConfig, opts...)
	if err != nil {
		return err
	}
	a.watcher = w
	a.closers = append(a.closers, func() error { w.Stop(); return nil })
	return nil
}

// ReloadConfig re-reads the watched config file immediately, e.g. on SIGHUP.
func (a *App) ReloadConfig() error {
	if a.watcher == nil {
		return errors.New("app: config file is not watched")
	}
	changed, err := a.watcher.Reload()
	if err != nil {
		return fmt.Errorf("app: reload config: %w", err)
	}
	if !changed {
		a.log.Info("config reload requested, file unchanged")
	}
	return nil
}

// ApplyConfig applies the hot-reloadable differences between old and new.
// Changes that need a restart are logged and otherwise ignored.
func (a *App) ApplyConfig(old, new *config.Config) {
	d := config.Diff(old, new)
	if len(d.RestartRequired) > 0 {
		a.log.Warn("config changes require a restart", "sections", d.RestartRequired)
	}
	if !d.HasChanges() {
		return
	}
	applySessionDiff(context.Background(), a.manager, d, a.log)

	if d.LogLevelChanged && a.level != nil {
		a.level.Set(d.NewLogLevel.Level())
		a.log.Info("log level changed", "level", d.NewLogLevel)
	}
	if d.LanguageChanged && a.pipeline != nil {
		a.pipeline.SetLanguage(d.NewLanguage)
		a.log.Info("transcription language changed", "language", d.NewLanguage)
	}
	if d.VocabularyChanged && a.vocab != nil {
		a.vocab.SetTerms(d.NewVocabulary)
		a.log.Info("vocabulary changed", "terms", len(d.NewVocabulary))
	}
}

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run serves HTTP, runs the transcription workers, the config watcher, the
// sqlite pruner and the session recoverer, and blocks until ctx is
// cancelled or one of them fails.
func (a *App) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error { return a.server.Run(ctx) })
	if a.recovery != nil {
		a.recovery.Monitor(ctx)
	}
	if a.pipeline != nil {
		g.Go(func() error { return a.pipeline.Run(ctx) })
	}
	if a.watcher != nil {
		g.Go(func() error { return a.watcher.Run(ctx) })
	}
	if a.pruner != nil {
		g.Go(func() error { return a.pruneLoop(ctx) })
	}
	if a.cfg.Session.AutoStart {
		g.Go(func() error {
			a.autoStart(ctx)
			return nil
		})
	}
	return g.Wait()
}

func (a *App) autoStart(ctx context.Context) {
	if err := a.manager.Initialize(ctx); err != nil {
		a.log.Error("auto start: initialize session", "err", err)
		return
	}
	if err := a.manager.StartListening(ctx); err != nil {
		a.log.Error("auto start: start listening", "err", err)
	}
}

func (a *App) pruneLoop(ctx context.Context) error {
	retention := a.cfg.Transcript.Store.Retention
	prune := func() {
		n, err := a.pruner.Prune(ctx, time.Now().Add(-retention))
		switch {
		case err != nil && ctx.Err() == nil:
			a.log.Warn("prune transcripts", "err", err)
		case n > 0:
			a.log.Info("pruned expired transcripts", "count", n, "retention", retention)
		}
	}
	prune()
	ticker := time.NewTicker(pruneInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			prune()
		}
	}
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown tears down all subsystems in reverse-init order. It respects the
// context deadline: if ctx expires before all closers finish, remaining
// closers are skipped and the context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		a.log.Info("shutting down", "closers", len(a.closers))
		for i, closer := range slices.Backward(a.closers) {
			select {
			case <-ctx.Done():
				a.log.Warn("shutdown deadline exceeded", "remaining", i+1)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := closer(); err != nil {
				a.log.Warn("closer error", "index", i, "err", err)
			}
		}
		a.log.Info("shutdown complete")
	})
	return shutdownErr
}

// runClosers releases everything after a failed New.
func (a *App) runClosers() {
	for _, closer := range slices.Backward(a.closers) {
		if err := closer(); err != nil {
			a.log.Warn("cleanup after failed start", "err", err)
		}
	}
	a.closers = nil
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
