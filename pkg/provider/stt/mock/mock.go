// Package mock provides test doubles for the stt package interfaces.
//
// Use Transcriber to verify which recordings the caller uploaded and to
// script results, errors or slow responses.
//
// Example:
//
//	tr := &mock.Transcriber{Result: &stt.Result{Transcript: "hello"}}
//	res, _ := tr.Transcribe(ctx, stt.Request{Audio: wavBytes})
//	// tr.Calls[0].Request.Audio == wavBytes
package mock

import (
	"context"
	"sync"
	"time"

	"github.com/MrWong99/vadcapture/pkg/provider/stt"
)

// TranscribeCall records a single invocation of Transcriber.Transcribe.
type TranscribeCall struct {
	// Ctx is the context passed to Transcribe.
	Ctx context.Context
	// Request is a copy of the request; Audio is copied too.
	Request stt.Request
}

// Transcriber is a mock implementation of stt.Transcriber.
type Transcriber struct {
	mu sync.Mutex

	// Result is returned by Transcribe. If nil, an empty Result is returned.
	Result *stt.Result

	// Err, if non-nil, is returned as the error from Transcribe.
	Err error

	// Delay, if positive, makes Transcribe wait before answering. A done
	// context ends the wait early with ctx.Err().
	Delay time.Duration

	// Calls records every call to Transcribe in order.
	Calls []TranscribeCall
}

// Ensure Transcriber implements stt.Transcriber at compile time.
var _ stt.Transcriber = (*Transcriber)(nil)

// Transcribe records the call and returns Result, Err.
func (m *Transcriber) Transcribe(ctx context.Context, req stt.Request) (*stt.Result, error) {
	m.mu.Lock()
	cp := req
	cp.Audio = append([]byte(nil), req.Audio...)
	m.Calls = append(m.Calls, TranscribeCall{Ctx: ctx, Request: cp})
	delay, res, err := m.Delay, m.Result, m.Err
	m.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, err
	}
	if res == nil {
		return &stt.Result{}, nil
	}
	out := *res
	return &out, nil
}

// CallCount returns the number of Transcribe calls. Thread-safe.
func (m *Transcriber) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Calls)
}

// LastRequest returns the most recent request, or the zero value.
func (m *Transcriber) LastRequest() stt.Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.Calls) == 0 {
		return stt.Request{}
	}
	return m.Calls[len(m.Calls)-1].Request
}

// Reset clears all recorded calls. Thread-safe.
func (m *Transcriber) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls = nil
}
