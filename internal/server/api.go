package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/MrWong99/vadcapture/internal/session"
	"github.com/MrWong99/vadcapture/internal/transcript"
	"github.com/MrWong99/vadcapture/pkg/audio"
)

// actionTimeout bounds a control call. Initialization includes the noise
// warm-up, so it gets the longest budget.
const actionTimeout = 30 * time.Second

const maxControlBody = 4 << 10

type errorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

// writeSessionError maps a manager error to a status code.
func writeSessionError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, session.ErrNotInitialized), errors.Is(err, session.ErrDisposed):
		status = http.StatusConflict
	case errors.Is(err, session.ErrClosed):
		status = http.StatusServiceUnavailable
	case errors.Is(err, audio.ErrPermissionDenied):
		status = http.StatusForbidden
	case errors.Is(err, audio.ErrDeviceNotFound):
		status = http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		status = http.StatusGatewayTimeout
	}
	resp := errorResponse{Error: err.Error()}
	if kind, ok := session.KindOf(err); ok {
		resp.Kind = string(kind)
	}
	writeJSON(w, status, resp)
}

// controlContext detaches a control call from the client connection so a
// dropped request does not abort a half-built session.
func controlContext(r *http.Request) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(r.Context()), actionTimeout)
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxControlBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}

func (s *Server) handleSnapshot(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.sess.Snapshot())
}

func (s *Server) handleAction(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := controlContext(r)
	defer cancel()

	action := r.PathValue("action")
	var err error
	switch action {
	case "initialize":
		err = s.sess.Initialize(ctx)
	case "start":
		err = s.sess.StartListening(ctx)
	case "stop":
		err = s.sess.StopListening(ctx)
	case "dispose":
		s.sess.Dispose(ctx)
	default:
		writeError(w, http.StatusNotFound, fmt.Sprintf("unknown session action %q", action))
		return
	}
	if err != nil {
		s.log.Warn("session action failed", "action", action, "err", err)
		writeSessionError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.sess.Snapshot())
}

type sensitivityRequest struct {
	Sensitivity *float64 `json:"sensitivity"`
}

func (s *Server) handleSensitivity(w http.ResponseWriter, r *http.Request) {
	var req sensitivityRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Sensitivity == nil {
		writeError(w, http.StatusBadRequest, "sensitivity is required")
		return
	}
	if v := *req.Sensitivity; v < 0 || v > 1 {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("sensitivity %.2f must be in [0, 1]", v))
		return
	}
	s.sess.SetBaseSensitivity(*req.Sensitivity)
	writeJSON(w, http.StatusOK, s.sess.Snapshot())
}

type suppressionRequest struct {
	Enabled   *bool    `json:"enabled"`
	Intensity *float64 `json:"intensity"`
}

func (s *Server) handleSuppression(w http.ResponseWriter, r *http.Request) {
	var req suppressionRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Enabled == nil && req.Intensity == nil {
		writeError(w, http.StatusBadRequest, "enabled or intensity is required")
		return
	}
	if req.Intensity != nil {
		if v := *req.Intensity; v < 0 || v > 1 {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("intensity %.2f must be in [0, 1]", v))
			return
		}
		s.sess.SetNoiseSuppressIntensity(*req.Intensity)
	}
	if req.Enabled != nil && *req.Enabled != s.sess.Snapshot().Suppression {
		ctx, cancel := controlContext(r)
		defer cancel()
		if err := s.sess.ToggleNoiseSuppression(ctx, *req.Enabled); err != nil {
			s.log.Warn("toggle noise suppression failed", "enabled", *req.Enabled, "err", err)
			writeSessionError(w, err)
			return
		}
	}
	writeJSON(w, http.StatusOK, s.sess.Snapshot())
}

func (s *Server) handleTranscripts(w http.ResponseWriter, r *http.Request) {
	q := transcript.Query{SessionID: r.URL.Query().Get("session_id")}
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid limit %q", raw))
			return
		}
		q.Limit = n
	}
	entries, err := s.store.List(r.Context(), q)
	if err != nil {
		s.log.Error("list transcripts", "err", err)
		writeError(w, http.StatusInternalServerError, "failed to list transcripts")
		return
	}
	if entries == nil {
		entries = []transcript.Entry{}
	}
	writeJSON(w, http.StatusOK, entries)
}
