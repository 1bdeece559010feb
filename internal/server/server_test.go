package server_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/MrWong99/vadcapture/internal/health"
	"github.com/MrWong99/vadcapture/internal/server"
	"github.com/MrWong99/vadcapture/internal/session"
	"github.com/MrWong99/vadcapture/internal/transcript"
)

// ─── Helpers ─────────────────────────────────────────────────────────────────

// fakeSession records control calls.
type fakeSession struct {
	mu    sync.Mutex
	calls []string
	err   error
	state session.SessionState
}

func (f *fakeSession) record(call string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call)
	return f.err
}

func (f *fakeSession) Initialize(context.Context) error     { return f.record("initialize") }
func (f *fakeSession) StartListening(context.Context) error { return f.record("start") }
func (f *fakeSession) StopListening(context.Context) error  { return f.record("stop") }
func (f *fakeSession) Dispose(context.Context)              { _ = f.record("dispose") }

func (f *fakeSession) ToggleNoiseSuppression(_ context.Context, enabled bool) error {
	err := f.record(fmt.Sprintf("toggle:%t", enabled))
	if err == nil {
		f.mu.Lock()
		f.state.Suppression = enabled
		f.mu.Unlock()
	}
	return err
}

func (f *fakeSession) SetBaseSensitivity(v float64) {
	_ = f.record("sensitivity")
	f.mu.Lock()
	f.state.BaseSensitivity = v
	f.mu.Unlock()
}

func (f *fakeSession) SetNoiseSuppressIntensity(v float64) {
	_ = f.record("intensity")
	f.mu.Lock()
	f.state.Intensity = v
	f.mu.Unlock()
}

func (f *fakeSession) Snapshot() session.SessionState {
	f.mu.Lock()
	defer f.mu.Unlock()
	s := f.state
	s.SessionID = "sess-1"
	return s
}

func (f *fakeSession) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func newTestServer(t *testing.T, sess server.Session, opts ...server.Option) *httptest.Server {
	t.Helper()
	srv := server.New("127.0.0.1:0", sess, opts...)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		srv.Hub().Close()
		ts.Close()
	})
	return ts
}

func do(t *testing.T, method, url, body string) (int, string) {
	t.Helper()
	req, err := http.NewRequest(method, url, strings.NewReader(body))
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, url, err)
	}
	defer resp.Body.Close()
	data, _ := io.ReadAll(resp.Body)
	return resp.StatusCode, string(data)
}

// ─── Health and metrics ──────────────────────────────────────────────────────

func TestServer_Health(t *testing.T) {
	t.Parallel()
	failing := health.Checker{Name: "store", Check: func(context.Context) error { return errors.New("down") }}
	ts := newTestServer(t, &fakeSession{}, server.WithHealth(health.New(failing)))

	if code, _ := do(t, http.MethodGet, ts.URL+"/healthz", ""); code != http.StatusOK {
		t.Errorf("/healthz = %d, want 200", code)
	}
	code, body := do(t, http.MethodGet, ts.URL+"/readyz", "")
	if code != http.StatusServiceUnavailable || !strings.Contains(body, "fail: down") {
		t.Errorf("/readyz = %d %s", code, body)
	}
}

func TestServer_Metrics(t *testing.T) {
	t.Parallel()
	ts := newTestServer(t, &fakeSession{})

	code, body := do(t, http.MethodGet, ts.URL+"/metrics", "")
	if code != http.StatusOK {
		t.Fatalf("/metrics = %d", code)
	}
	if !strings.Contains(body, "go_goroutines") {
		t.Errorf("/metrics body lacks the Go collector output")
	}
}

// ─── Control API ─────────────────────────────────────────────────────────────

func TestServer_SessionActions(t *testing.T) {
	t.Parallel()
	for _, action := range []string{"initialize", "start", "stop", "dispose"} {
		t.Run(action, func(t *testing.T) {
			t.Parallel()
			sess := &fakeSession{}
			ts := newTestServer(t, sess)

			code, body := do(t, http.MethodPost, ts.URL+"/api/session/"+action, "")
			if code != http.StatusOK {
				t.Fatalf("status = %d, body %s", code, body)
			}
			if calls := sess.Calls(); len(calls) != 1 || calls[0] != action {
				t.Errorf("calls = %v, want [%s]", calls, action)
			}
			var snap session.SessionState
			if err := json.Unmarshal([]byte(body), &snap); err != nil || snap.SessionID != "sess-1" {
				t.Errorf("snapshot = %+v, err %v", snap, err)
			}
		})
	}
}

func TestServer_SessionActionUnknown(t *testing.T) {
	t.Parallel()
	sess := &fakeSession{}
	ts := newTestServer(t, sess)

	code, _ := do(t, http.MethodPost, ts.URL+"/api/session/explode", "")
	if code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", code)
	}
	if len(sess.Calls()) != 0 {
		t.Errorf("unexpected calls %v", sess.Calls())
	}
}

func TestServer_SessionActionErrors(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name     string
		err      error
		wantCode int
		wantKind string
	}{
		{
			name:     "not initialized",
			err:      &session.Error{Kind: session.KindRuntime, Message: "Failed to start listening", Err: session.ErrNotInitialized},
			wantCode: http.StatusConflict,
			wantKind: "runtime",
		},
		{
			name:     "closed",
			err:      session.ErrClosed,
			wantCode: http.StatusServiceUnavailable,
		},
		{
			name:     "vad",
			err:      &session.Error{Kind: session.KindVAD, Err: errors.New("model crashed")},
			wantCode: http.StatusInternalServerError,
			wantKind: "vad",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			ts := newTestServer(t, &fakeSession{err: tt.err})

			code, body := do(t, http.MethodPost, ts.URL+"/api/session/start", "")
			if code != tt.wantCode {
				t.Fatalf("status = %d, want %d", code, tt.wantCode)
			}
			var resp struct {
				Error string `json:"error"`
				Kind  string `json:"kind"`
			}
			if err := json.Unmarshal([]byte(body), &resp); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if resp.Error != tt.err.Error() || resp.Kind != tt.wantKind {
				t.Errorf("body = %+v", resp)
			}
		})
	}
}

func TestServer_Sensitivity(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name     string
		body     string
		wantCode int
	}{
		{"valid", `{"sensitivity":0.7}`, http.StatusOK},
		{"missing", `{}`, http.StatusBadRequest},
		{"out of range", `{"sensitivity":1.5}`, http.StatusBadRequest},
		{"unknown field", `{"sensitivity":0.5,"x":1}`, http.StatusBadRequest},
		{"not json", `nope`, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			sess := &fakeSession{}
			ts := newTestServer(t, sess)

			code, _ := do(t, http.MethodPut, ts.URL+"/api/session/sensitivity", tt.body)
			if code != tt.wantCode {
				t.Fatalf("status = %d, want %d", code, tt.wantCode)
			}
			if got := sess.Snapshot().BaseSensitivity; tt.wantCode == http.StatusOK && got != 0.7 {
				t.Errorf("sensitivity = %v, want 0.7", got)
			}
			if tt.wantCode != http.StatusOK && len(sess.Calls()) != 0 {
				t.Errorf("rejected request reached the session: %v", sess.Calls())
			}
		})
	}
}

func TestServer_Suppression(t *testing.T) {
	t.Parallel()
	sess := &fakeSession{}
	ts := newTestServer(t, sess)

	code, body := do(t, http.MethodPut, ts.URL+"/api/session/suppression", `{"enabled":true,"intensity":0.4}`)
	if code != http.StatusOK {
		t.Fatalf("status = %d, body %s", code, body)
	}
	want := []string{"intensity", "toggle:true"}
	if calls := sess.Calls(); fmt.Sprint(calls) != fmt.Sprint(want) {
		t.Errorf("calls = %v, want %v", calls, want)
	}

	// Already enabled: no restart.
	code, _ = do(t, http.MethodPut, ts.URL+"/api/session/suppression", `{"enabled":true}`)
	if code != http.StatusOK {
		t.Fatalf("status = %d", code)
	}
	if calls := sess.Calls(); len(calls) != 2 {
		t.Errorf("calls = %v, want no additional toggle", calls)
	}

	if code, _ := do(t, http.MethodPut, ts.URL+"/api/session/suppression", `{}`); code != http.StatusBadRequest {
		t.Errorf("empty body status = %d, want 400", code)
	}
	if code, _ := do(t, http.MethodPut, ts.URL+"/api/session/suppression", `{"intensity":-1}`); code != http.StatusBadRequest {
		t.Errorf("negative intensity status = %d, want 400", code)
	}
}

func TestServer_Snapshot(t *testing.T) {
	t.Parallel()
	sess := &fakeSession{state: session.SessionState{State: "listening", Listening: true}}
	ts := newTestServer(t, sess)

	code, body := do(t, http.MethodGet, ts.URL+"/api/session", "")
	if code != http.StatusOK {
		t.Fatalf("status = %d", code)
	}
	var snap session.SessionState
	if err := json.Unmarshal([]byte(body), &snap); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if snap.State != "listening" || !snap.Listening {
		t.Errorf("snapshot = %+v", snap)
	}
}

// ─── Transcripts ─────────────────────────────────────────────────────────────

func TestServer_Transcripts(t *testing.T) {
	t.Parallel()
	store := transcript.NewMemStore(10)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	for i, sid := range []string{"a", "b", "a"} {
		e := transcript.Entry{ID: fmt.Sprint(i), SessionID: sid, Transcript: "t" + fmt.Sprint(i), CreatedAt: base.Add(time.Duration(i) * time.Second)}
		if err := store.Append(ctx, e); err != nil {
			t.Fatalf("append: %v", err)
		}
	}
	ts := newTestServer(t, &fakeSession{}, server.WithTranscripts(store))

	code, body := do(t, http.MethodGet, ts.URL+"/api/transcripts?session_id=a&limit=5", "")
	if code != http.StatusOK {
		t.Fatalf("status = %d", code)
	}
	var got []transcript.Entry
	if err := json.Unmarshal([]byte(body), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(got) != 2 || got[0].ID != "0" || got[1].ID != "2" {
		t.Errorf("entries = %+v", got)
	}

	if code, _ := do(t, http.MethodGet, ts.URL+"/api/transcripts?limit=x", ""); code != http.StatusBadRequest {
		t.Errorf("bad limit status = %d, want 400", code)
	}

	code, body = do(t, http.MethodGet, ts.URL+"/api/transcripts?session_id=none", "")
	if code != http.StatusOK || strings.TrimSpace(body) != "[]" {
		t.Errorf("empty result = %d %q, want []", code, body)
	}
}

func TestServer_TranscriptsDisabled(t *testing.T) {
	t.Parallel()
	ts := newTestServer(t, &fakeSession{})
	if code, _ := do(t, http.MethodGet, ts.URL+"/api/transcripts", ""); code != http.StatusNotFound {
		t.Errorf("status = %d, want 404 without a store", code)
	}
}

// ─── Lifecycle ───────────────────────────────────────────────────────────────

func TestServer_ServeStopsOnCancel(t *testing.T) {
	t.Parallel()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := server.New(ln.Addr().String(), &fakeSession{})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx, ln) }()

	url := "http://" + ln.Addr().String() + "/healthz"
	deadline := time.Now().Add(2 * time.Second)
	for {
		resp, err := http.Get(url)
		if err == nil {
			resp.Body.Close()
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("server never came up: %v", err)
		}
		time.Sleep(10 * time.Millisecond)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Serve returned %v, want nil", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return after cancel")
	}
}
