package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"

	"github.com/MrWong99/vadcapture/internal/session"
	"github.com/MrWong99/vadcapture/internal/transcript"
)

const (
	defaultHubBuffer = 64
	writeTimeout     = 5 * time.Second
)

// Message types written to websocket clients.
const (
	MessageSnapshot   = "snapshot"
	MessageEvent      = "event"
	MessageTranscript = "transcript"
)

// Message is one JSON frame on /ws/events. Exactly one payload field is set,
// matching Type.
type Message struct {
	Type       string                `json:"type"`
	Snapshot   *session.SessionState `json:"snapshot,omitempty"`
	Event      *session.Event        `json:"event,omitempty"`
	Transcript *transcript.Entry     `json:"transcript,omitempty"`
}

// HubOption configures a [Hub].
type HubOption func(*Hub)

// WithHubLevels forwards level events, which arrive every few tens of
// milliseconds. Default: off.
func WithHubLevels(enabled bool) HubOption {
	return func(h *Hub) { h.levels = enabled }
}

// WithHubBuffer sets the per-client queue length. A client whose queue is
// full misses messages. Default: 64.
func WithHubBuffer(n int) HubOption {
	return func(h *Hub) {
		if n > 0 {
			h.buf = n
		}
	}
}

// WithHubGreeting sends the message returned by fn to every new client
// before any broadcast.
func WithHubGreeting(fn func() Message) HubOption {
	return func(h *Hub) { h.greeting = fn }
}

// WithHubOrigins allows cross-origin browser clients matching the patterns.
func WithHubOrigins(patterns ...string) HubOption {
	return func(h *Hub) { h.origins = patterns }
}

// WithHubLogger sets the logger. Default: slog.Default().
func WithHubLogger(l *slog.Logger) HubOption {
	return func(h *Hub) { h.log = l }
}

type client struct {
	send chan []byte
}

// Hub fans session events and transcripts out to websocket clients. It
// implements both [session.Listener] and [transcript.Publisher].
type Hub struct {
	levels   bool
	buf      int
	greeting func() Message
	origins  []string
	log      *slog.Logger

	mu      sync.Mutex
	clients map[*client]struct{}
	closed  bool

	dropped atomic.Int64
}

var (
	_ session.Listener     = (*Hub)(nil)
	_ transcript.Publisher = (*Hub)(nil)
	_ http.Handler         = (*Hub)(nil)
)

// NewHub creates an empty hub.
func NewHub(opts ...HubOption) *Hub {
	h := &Hub{
		buf:     defaultHubBuffer,
		log:     slog.Default(),
		clients: make(map[*client]struct{}),
	}
	for _, o := range opts {
		o(h)
	}
	return h
}

// HandleEvent implements [session.Listener].
func (h *Hub) HandleEvent(ev session.Event) {
	if ev.Kind == session.EventLevel && !h.levels {
		return
	}
	h.broadcast(Message{Type: MessageEvent, Event: &ev})
}

// PublishTranscript implements [transcript.Publisher].
func (h *Hub) PublishTranscript(_ context.Context, e transcript.Entry) error {
	h.broadcast(Message{Type: MessageTranscript, Transcript: &e})
	return nil
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Dropped returns how many messages were not queued because a client was
// too slow.
func (h *Hub) Dropped() int64 { return h.dropped.Load() }

// Close disconnects every client and rejects new ones. Safe to call more
// than once.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for c := range h.clients {
		close(c.send)
		delete(h.clients, c)
	}
}

func (h *Hub) broadcast(m Message) {
	data, err := json.Marshal(m)
	if err != nil {
		h.log.Warn("hub: encode message", "type", m.Type, "err", err)
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		select {
		case c.send <- data:
		default:
			h.dropped.Add(1)
		}
	}
}

func (h *Hub) add(c *client) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.clients[c] = struct{}{}
	return true
}

func (h *Hub) remove(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
	}
}

// ServeHTTP upgrades the request and streams messages until the client
// goes away or the hub closes. Client frames are discarded.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: h.origins})
	if err != nil {
		h.log.Debug("hub: websocket accept failed", "err", err)
		return
	}
	defer conn.CloseNow()

	c := &client{send: make(chan []byte, h.buf)}
	if h.greeting != nil {
		if data, err := json.Marshal(h.greeting()); err == nil {
			c.send <- data
		}
	}
	if !h.add(c) {
		conn.Close(websocket.StatusGoingAway, "server shutting down")
		return
	}
	defer h.remove(c)
	h.log.Debug("hub: client connected", "remote", r.RemoteAddr)

	ctx := conn.CloseRead(r.Context())
	for {
		select {
		case <-ctx.Done():
			return
		case data, ok := <-c.send:
			if !ok {
				conn.Close(websocket.StatusGoingAway, "server shutting down")
				return
			}
			wctx, cancel := context.WithTimeout(ctx, writeTimeout)
			err := conn.Write(wctx, websocket.MessageText, data)
			cancel()
			if err != nil {
				h.log.Debug("hub: write failed, dropping client", "err", err)
				return
			}
		}
	}
}
