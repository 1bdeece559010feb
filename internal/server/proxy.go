package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"

	"golang.org/x/time/rate"

	"github.com/MrWong99/vadcapture/pkg/provider/stt"
	"github.com/MrWong99/vadcapture/pkg/provider/stt/sarvam"
)

// MsgProxyKeyMissing is returned when no upstream key is configured.
const MsgProxyKeyMissing = "transcription API key is not configured on the server"

const (
	defaultMaxUploadBytes = 25 << 20
	maxUpstreamResponse   = 4 << 20
)

// ProxyConfig configures a [Proxy].
type ProxyConfig struct {
	// Endpoint is the upstream URL. Default: [sarvam.DefaultEndpoint].
	Endpoint string

	// APIKey is sent as the api-subscription-key header.
	APIKey string

	// RateLimit is the sustained requests per second; zero disables the
	// limiter. Burst defaults to 1.
	RateLimit float64
	Burst     int

	// MaxUploadBytes caps the forwarded body. Default: 25 MiB.
	MaxUploadBytes int64

	// Client sends the upstream request. Default: a client with
	// [stt.DefaultTimeout].
	Client *http.Client

	Logger *slog.Logger
}

// Proxy forwards multipart transcription uploads to the upstream API with
// the server-side key, so browsers never see it.
type Proxy struct {
	endpoint string
	apiKey   string
	limiter  *rate.Limiter
	maxBytes int64
	client   *http.Client
	log      *slog.Logger
}

var _ http.Handler = (*Proxy)(nil)

// NewProxy creates a proxy from cfg.
func NewProxy(cfg ProxyConfig) *Proxy {
	p := &Proxy{
		endpoint: cfg.Endpoint,
		apiKey:   cfg.APIKey,
		maxBytes: cfg.MaxUploadBytes,
		client:   cfg.Client,
		log:      cfg.Logger,
	}
	if p.endpoint == "" {
		p.endpoint = sarvam.DefaultEndpoint
	}
	if p.maxBytes <= 0 {
		p.maxBytes = defaultMaxUploadBytes
	}
	if p.client == nil {
		p.client = &http.Client{Timeout: stt.DefaultTimeout}
	}
	if p.log == nil {
		p.log = slog.Default()
	}
	if cfg.RateLimit > 0 {
		burst := max(cfg.Burst, 1)
		p.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
	}
	return p
}

// ServeHTTP implements [http.Handler].
func (p *Proxy) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if p.apiKey == "" {
		p.log.Error("transcription proxy called without an API key")
		writeError(w, http.StatusInternalServerError, MsgProxyKeyMissing)
		return
	}
	if p.limiter != nil && !p.limiter.Allow() {
		w.Header().Set("Retry-After", "1")
		writeError(w, http.StatusTooManyRequests, "transcription rate limit exceeded")
		return
	}
	ct := r.Header.Get("Content-Type")
	if mt, _, err := mime.ParseMediaType(ct); err != nil || mt != "multipart/form-data" {
		writeError(w, http.StatusBadRequest, "expected a multipart/form-data body")
		return
	}
	if r.ContentLength > p.maxBytes {
		writeError(w, http.StatusRequestEntityTooLarge, fmt.Sprintf("request body exceeds %d bytes", p.maxBytes))
		return
	}

	body := http.MaxBytesReader(w, r.Body, p.maxBytes)
	req, err := http.NewRequestWithContext(r.Context(), http.MethodPost, p.endpoint, body)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Internal server error: "+err.Error())
		return
	}
	req.ContentLength = r.ContentLength
	req.Header.Set("Content-Type", ct)
	req.Header.Set("api-subscription-key", p.apiKey)

	resp, err := p.client.Do(req)
	if err != nil {
		var mbe *http.MaxBytesError
		if errors.As(err, &mbe) {
			writeError(w, http.StatusRequestEntityTooLarge, fmt.Sprintf("request body exceeds %d bytes", mbe.Limit))
			return
		}
		err = stt.Timeout(r.Context(), err)
		p.log.Warn("transcription proxy upstream failed", "err", err)
		status := http.StatusBadGateway
		if errors.Is(err, stt.ErrTimeout) {
			status = http.StatusGatewayTimeout
		}
		writeError(w, status, "Internal server error: "+err.Error())
		return
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxUpstreamResponse))
	if err != nil {
		writeError(w, http.StatusBadGateway, "Internal server error: read upstream response: "+err.Error())
		return
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		se := &stt.StatusError{StatusCode: resp.StatusCode, Body: string(data)}
		p.log.Warn("transcription proxy upstream rejected request", "status", resp.StatusCode)
		writeError(w, resp.StatusCode, se.Error())
		return
	}
	if !json.Valid(data) {
		writeError(w, http.StatusBadGateway, "Internal server error: upstream returned invalid JSON")
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}
