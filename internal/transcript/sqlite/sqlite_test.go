package sqlite_test

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/MrWong99/vadcapture/internal/transcript"
	"github.com/MrWong99/vadcapture/internal/transcript/sqlite"
	"github.com/MrWong99/vadcapture/internal/transcript/vocab"
	"github.com/MrWong99/vadcapture/pkg/provider/stt"
)

func openStore(t *testing.T) *sqlite.Store {
	t.Helper()
	s, err := sqlite.Open(context.Background(), filepath.Join(t.TempDir(), "data", "transcripts.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestStore_RoundTrip(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := openStore(t)

	at := time.Date(2026, 3, 1, 12, 30, 0, 123000000, time.UTC)
	in := transcript.Entry{
		ID:            "t1",
		SessionID:     "s1",
		Transcript:    "we met Eldrinax",
		Confidence:    0.82,
		Band:          transcript.BandHigh,
		Segments:      []stt.Segment{{Text: "we met", Start: 0, End: 0.4, Confidence: 0.9}},
		Corrections:   []vocab.Correction{{Original: "elder nacks", Corrected: "Eldrinax", Confidence: 0.8, Phonetic: true}},
		Provider:      "sarvam",
		Language:      "en-IN",
		AudioDuration: 1200 * time.Millisecond,
		Latency:       340 * time.Millisecond,
		CreatedAt:     at,
	}
	if err := s.Append(ctx, in); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := s.Ping(ctx); err != nil {
		t.Fatalf("Ping: %v", err)
	}

	got, err := s.List(ctx, transcript.Query{})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("List returned %d entries, want 1", len(got))
	}
	e := got[0]
	if e.ID != in.ID || e.SessionID != in.SessionID || e.Transcript != in.Transcript {
		t.Errorf("identity fields = %+v", e)
	}
	if e.Confidence != in.Confidence || e.Band != in.Band || e.Provider != in.Provider || e.Language != in.Language {
		t.Errorf("grading fields = %+v", e)
	}
	if e.AudioDuration != in.AudioDuration || e.Latency != in.Latency {
		t.Errorf("durations = %v / %v", e.AudioDuration, e.Latency)
	}
	if !e.CreatedAt.Equal(at) {
		t.Errorf("CreatedAt = %v, want %v", e.CreatedAt, at)
	}
	if len(e.Segments) != 1 || e.Segments[0] != in.Segments[0] {
		t.Errorf("segments = %+v", e.Segments)
	}
	if len(e.Corrections) != 1 || e.Corrections[0] != in.Corrections[0] {
		t.Errorf("corrections = %+v", e.Corrections)
	}
}

func TestStore_ListOrderFilterLimit(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := openStore(t)

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	for i := range 6 {
		sid := "a"
		if i%2 == 1 {
			sid = "b"
		}
		e := transcript.Entry{ID: fmt.Sprint(i), SessionID: sid, Transcript: "x", CreatedAt: base.Add(time.Duration(i) * time.Second)}
		if err := s.Append(ctx, e); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}

	tests := []struct {
		name string
		q    transcript.Query
		want string
	}{
		{name: "all", q: transcript.Query{}, want: "0,1,2,3,4,5"},
		{name: "limit", q: transcript.Query{Limit: 2}, want: "4,5"},
		{name: "session", q: transcript.Query{SessionID: "b"}, want: "1,3,5"},
		{name: "session limit", q: transcript.Query{SessionID: "a", Limit: 2}, want: "2,4"},
		{name: "none", q: transcript.Query{SessionID: "zzz"}, want: ""},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := s.List(ctx, tc.q)
			if err != nil {
				t.Fatalf("List: %v", err)
			}
			ids := make([]string, len(got))
			for i, e := range got {
				ids[i] = e.ID
				if e.Segments != nil || e.Corrections != nil {
					t.Errorf("entry %s has non-nil empty slices", e.ID)
				}
			}
			if joined := strings.Join(ids, ","); joined != tc.want {
				t.Errorf("List = %q, want %q", joined, tc.want)
			}
		})
	}
}

func TestStore_DuplicateID(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := openStore(t)
	e := transcript.Entry{ID: "dup", Transcript: "x", CreatedAt: time.Now()}
	if err := s.Append(ctx, e); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := s.Append(ctx, e); err == nil {
		t.Fatal("second Append with same id returned nil error")
	}
}

func TestStore_Prune(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := openStore(t)

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	stamps := []time.Time{
		base,
		base.Add(500 * time.Millisecond),
		base.Add(time.Second),
		base.Add(time.Hour),
	}
	for i, at := range stamps {
		if err := s.Append(ctx, transcript.Entry{ID: fmt.Sprint(i), Transcript: "x", CreatedAt: at}); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}

	n, err := s.Prune(ctx, base.Add(time.Second))
	if err != nil {
		t.Fatalf("Prune: %v", err)
	}
	if n != 2 {
		t.Errorf("Prune removed %d, want 2", n)
	}
	got, _ := s.List(ctx, transcript.Query{})
	if len(got) != 2 || got[0].ID != "2" || got[1].ID != "3" {
		t.Errorf("remaining = %+v", got)
	}
}
