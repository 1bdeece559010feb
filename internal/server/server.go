// Package server exposes a capture session over HTTP.
//
// Routes:
//
//	GET  /healthz                  liveness probe
//	GET  /readyz                   readiness probe
//	GET  /metrics                  Prometheus scrape endpoint
//	GET  /ws/events                websocket stream of events and transcripts
//	GET  /api/session              session snapshot
//	POST /api/session/{action}     initialize, start, stop or dispose
//	PUT  /api/session/sensitivity  base sensitivity
//	PUT  /api/session/suppression  noise suppression toggle and intensity
//	GET  /api/transcripts          recent transcript entries
//	POST /api/transcribe           transcription proxy
//
// Every route is wrapped in [observe.Middleware].
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/MrWong99/vadcapture/internal/health"
	"github.com/MrWong99/vadcapture/internal/observe"
	"github.com/MrWong99/vadcapture/internal/session"
	"github.com/MrWong99/vadcapture/internal/transcript"
)

const (
	readHeaderTimeout = 10 * time.Second
	shutdownTimeout   = 10 * time.Second
)

// Session is the subset of [session.Manager] the control API drives.
type Session interface {
	Initialize(ctx context.Context) error
	StartListening(ctx context.Context) error
	StopListening(ctx context.Context) error
	Dispose(ctx context.Context)
	ToggleNoiseSuppression(ctx context.Context, enabled bool) error
	SetBaseSensitivity(v float64)
	SetNoiseSuppressIntensity(v float64)
	Snapshot() session.SessionState
}

var _ Session = (*session.Manager)(nil)

// Option configures a [Server].
type Option func(*Server)

// WithHealth serves h on /healthz and /readyz. Default: a handler without
// readiness checks.
func WithHealth(h *health.Handler) Option {
	return func(s *Server) { s.health = h }
}

// WithMetricsHandler replaces the /metrics handler. Default:
// promhttp.Handler().
func WithMetricsHandler(h http.Handler) Option {
	return func(s *Server) { s.metricsHandler = h }
}

// WithMetrics sets the instruments used by the request middleware.
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

// WithHub sets the websocket hub. Default: a hub greeting clients with the
// session snapshot.
func WithHub(h *Hub) Option {
	return func(s *Server) { s.hub = h }
}

// WithTranscripts enables GET /api/transcripts over st.
func WithTranscripts(st transcript.Store) Option {
	return func(s *Server) { s.store = st }
}

// WithProxy enables POST /api/transcribe.
func WithProxy(p *Proxy) Option {
	return func(s *Server) { s.proxy = p }
}

// WithTLS serves HTTPS with the given certificate pair.
func WithTLS(certFile, keyFile string) Option {
	return func(s *Server) { s.certFile, s.keyFile = certFile, keyFile }
}

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) { s.log = l }
}

// Server is the HTTP front end of one capture session.
type Server struct {
	addr string
	sess Session

	health         *health.Handler
	metricsHandler http.Handler
	metrics        *observe.Metrics
	hub            *Hub
	store          transcript.Store
	proxy          *Proxy

	certFile, keyFile string
	log               *slog.Logger

	handler http.Handler
}

// New builds a server listening on addr once [Server.Run] is called.
func New(addr string, sess Session, opts ...Option) *Server {
	s := &Server{addr: addr, sess: sess, log: slog.Default()}
	for _, o := range opts {
		o(s)
	}
	if s.health == nil {
		s.health = health.New()
	}
	if s.metricsHandler == nil {
		s.metricsHandler = promhttp.Handler()
	}
	if s.metrics == nil {
		s.metrics = observe.DefaultMetrics()
	}
	if s.hub == nil {
		s.hub = NewHub(WithHubGreeting(func() Message {
			snap := sess.Snapshot()
			return Message{Type: MessageSnapshot, Snapshot: &snap}
		}), WithHubLogger(s.log))
	}
	s.handler = observe.Middleware(s.metrics)(s.routes())
	return s
}

func (s *Server) routes() *http.ServeMux {
	mux := http.NewServeMux()
	s.health.Register(mux)
	mux.Handle("GET /metrics", s.metricsHandler)
	mux.Handle("GET /ws/events", s.hub)

	mux.HandleFunc("GET /api/session", s.handleSnapshot)
	mux.HandleFunc("POST /api/session/{action}", s.handleAction)
	mux.HandleFunc("PUT /api/session/sensitivity", s.handleSensitivity)
	mux.HandleFunc("PUT /api/session/suppression", s.handleSuppression)
	if s.store != nil {
		mux.HandleFunc("GET /api/transcripts", s.handleTranscripts)
	}
	if s.proxy != nil {
		mux.Handle("POST /api/transcribe", s.proxy)
	}
	return mux
}

// Handler returns the fully wrapped handler.
func (s *Server) Handler() http.Handler { return s.handler }

// Hub returns the websocket hub so it can be subscribed to the session and
// the transcript pipeline.
func (s *Server) Hub() *Hub { return s.hub }

// Run listens on the configured address and serves until ctx is done.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("server: listen %s: %w", s.addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve serves on ln until ctx is done, then shuts down gracefully. The hub
// is closed first so websocket clients are released.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: readHeaderTimeout,
		ErrorLog:          slog.NewLogLogger(s.log.Handler(), slog.LevelWarn),
	}

	errCh := make(chan error, 1)
	go func() {
		if s.certFile != "" {
			errCh <- srv.ServeTLS(ln, s.certFile, s.keyFile)
			return
		}
		errCh <- srv.Serve(ln)
	}()
	s.log.Info("http server listening", "addr", ln.Addr().String(), "tls", s.certFile != "")

	select {
	case err := <-errCh:
		s.hub.Close()
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("server: %w", err)
	case <-ctx.Done():
	}

	s.hub.Close()
	shutCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutCtx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	s.log.Info("http server stopped")
	return nil
}
