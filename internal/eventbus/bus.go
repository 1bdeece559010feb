// Package eventbus publishes session events and transcripts to NATS.
//
// Subjects are laid out per session so consumers can subscribe to exactly
// what they need:
//
//	<prefix>.<session>.events.<kind>   every manager event, JSON encoded
//	<prefix>.<session>.transcripts     every transcript entry, JSON encoded
//
// Subscribing to "<prefix>.*.transcripts" follows all sessions. Raw audio
// samples are never published.
package eventbus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/MrWong99/vadcapture/internal/session"
	"github.com/MrWong99/vadcapture/internal/transcript"
)

// DefaultSubjectPrefix is used when [Config.SubjectPrefix] is empty.
const DefaultSubjectPrefix = "vadcapture"

// Config holds the NATS connection settings.
type Config struct {
	// Servers are NATS URLs, e.g. "nats://localhost:4222".
	Servers []string

	// Name identifies this client to the server. Default: "vadcapture".
	Name string

	// ConnectTimeout bounds the initial dial. Default: 2s.
	ConnectTimeout time.Duration

	Username string
	Password string
	Token    string

	// SubjectPrefix is the first subject token. Default: DefaultSubjectPrefix.
	SubjectPrefix string

	// PublishLevels also publishes the frequent audio level events.
	PublishLevels bool
}

// Client publishes to NATS. It implements [session.Listener] and
// [transcript.Publisher].
type Client struct {
	conn          *nats.Conn
	log           *slog.Logger
	prefix        string
	publishLevels bool
	pingTimeout   time.Duration
}

var (
	_ session.Listener     = (*Client)(nil)
	_ transcript.Publisher = (*Client)(nil)
)

// Connect dials the configured servers.
func Connect(cfg Config, log *slog.Logger) (*Client, error) {
	if len(cfg.Servers) == 0 {
		return nil, errors.New("eventbus: no NATS servers configured")
	}
	if log == nil {
		log = slog.Default()
	}
	name := cfg.Name
	if name == "" {
		name = "vadcapture"
	}
	timeout := cfg.ConnectTimeout
	if timeout <= 0 {
		timeout = 2 * time.Second
	}

	options := []nats.Option{
		nats.Name(name),
		nats.Timeout(timeout),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Warn("eventbus: disconnected", "err", err)
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			log.Info("eventbus: reconnected", "url", c.ConnectedUrl())
		}),
	}
	if cfg.Username != "" || cfg.Password != "" {
		options = append(options, nats.UserInfo(cfg.Username, cfg.Password))
	}
	if cfg.Token != "" {
		options = append(options, nats.Token(cfg.Token))
	}

	url := strings.Join(cfg.Servers, ",")
	conn, err := nats.Connect(url, options...)
	if err != nil {
		return nil, fmt.Errorf("eventbus: connect to nats: %w", err)
	}
	log.Info("connected to NATS", "servers", url)

	prefix := cfg.SubjectPrefix
	if prefix == "" {
		prefix = DefaultSubjectPrefix
	}
	return &Client{
		conn:          conn,
		log:           log,
		prefix:        prefix,
		publishLevels: cfg.PublishLevels,
		pingTimeout:   timeout,
	}, nil
}

// Close flushes pending messages and closes the connection.
func (c *Client) Close() {
	if c == nil || c.conn == nil {
		return
	}
	c.log.Info("closing NATS connection")
	if err := c.conn.Drain(); err != nil {
		c.log.Warn("eventbus: drain", "err", err)
	}
	c.conn.Close()
}

// Healthy reports whether the connection is up.
func (c *Client) Healthy() bool {
	return c != nil && c.conn != nil && c.conn.Status() == nats.CONNECTED
}

// Ping flushes the connection and waits for the server's reply. It satisfies
// the health checker's function signature. Without a deadline on ctx the
// round trip is bounded by the connect timeout.
func (c *Client) Ping(ctx context.Context) error {
	if !c.Healthy() {
		return errors.New("eventbus: not connected")
	}
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.pingTimeout)
		defer cancel()
	}
	return c.conn.FlushWithContext(ctx)
}

// Conn returns the underlying connection.
func (c *Client) Conn() *nats.Conn { return c.conn }

// EventSubject returns the subject an event of kind for sessionID is
// published on.
func (c *Client) EventSubject(sessionID string, kind session.EventKind) string {
	return c.prefix + "." + token(sessionID) + ".events." + token(string(kind))
}

// TranscriptSubject returns the subject transcripts for sessionID are
// published on.
func (c *Client) TranscriptSubject(sessionID string) string {
	return c.prefix + "." + token(sessionID) + ".transcripts"
}

// HandleEvent publishes ev. Level events are skipped unless enabled in the
// config. Failures are logged, never returned to the dispatcher.
func (c *Client) HandleEvent(ev session.Event) {
	if ev.Kind == session.EventLevel && !c.publishLevels {
		return
	}
	if err := c.publishJSON(c.EventSubject(ev.SessionID, ev.Kind), ev); err != nil {
		c.log.Warn("eventbus: publish event", "kind", ev.Kind, "session_id", ev.SessionID, "err", err)
	}
}

// PublishTranscript implements [transcript.Publisher].
func (c *Client) PublishTranscript(_ context.Context, e transcript.Entry) error {
	return c.publishJSON(c.TranscriptSubject(e.SessionID), e)
}

func (c *Client) publishJSON(subject string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("eventbus: marshal: %w", err)
	}
	if err := c.conn.Publish(subject, data); err != nil {
		return fmt.Errorf("eventbus: publish %s: %w", subject, err)
	}
	return nil
}

// token makes s safe to use as a single subject token.
func token(s string) string {
	if s == "" {
		return "_"
	}
	return strings.Map(func(r rune) rune {
		switch r {
		case '.', '*', '>', ' ', '\t', '\r', '\n':
			return '_'
		}
		return r
	}, s)
}
