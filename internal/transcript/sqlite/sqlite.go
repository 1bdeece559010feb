// Package sqlite stores transcript entries in a local SQLite file.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"time"

	_ "modernc.org/sqlite"

	"github.com/MrWong99/vadcapture/internal/transcript"
)

const schema = `
CREATE TABLE IF NOT EXISTS transcripts (
    seq INTEGER PRIMARY KEY AUTOINCREMENT,
    id TEXT NOT NULL UNIQUE,
    session_id TEXT NOT NULL DEFAULT '',
    transcript TEXT NOT NULL,
    confidence REAL NOT NULL DEFAULT 0,
    band TEXT NOT NULL DEFAULT 'low',
    segments TEXT NOT NULL DEFAULT '[]',
    corrections TEXT NOT NULL DEFAULT '[]',
    provider TEXT NOT NULL DEFAULT '',
    language TEXT NOT NULL DEFAULT '',
    audio_ms INTEGER NOT NULL DEFAULT 0,
    latency_ms INTEGER NOT NULL DEFAULT 0,
    created_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_transcripts_session ON transcripts(session_id, seq);
CREATE INDEX IF NOT EXISTS idx_transcripts_created ON transcripts(created_at);
`

// timeLayout is fixed width so created_at compares chronologically as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// Store is a [transcript.Store] backed by SQLite.
type Store struct {
	db *sql.DB
}

var _ transcript.Store = (*Store)(nil)

// Open creates the database file at path (and its directory) if needed and
// ensures the schema exists.
func Open(ctx context.Context, path string) (*Store, error) {
	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("transcript sqlite: create data dir: %w", err)
		}
	}

	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("transcript sqlite: open: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("transcript sqlite: ping: %w", err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("transcript sqlite: init schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close releases the database handle.
func (s *Store) Close() error { return s.db.Close() }

// Ping checks the database handle.
func (s *Store) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

// Append implements [transcript.Store].
func (s *Store) Append(ctx context.Context, e transcript.Entry) error {
	segJSON, err := marshalList(e.Segments)
	if err != nil {
		return fmt.Errorf("transcript sqlite: marshal segments: %w", err)
	}
	corrJSON, err := marshalList(e.Corrections)
	if err != nil {
		return fmt.Errorf("transcript sqlite: marshal corrections: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO transcripts(id, session_id, transcript, confidence, band, segments, corrections,
		                         provider, language, audio_ms, latency_ms, created_at)
		 VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.SessionID, e.Transcript, e.Confidence, string(e.Band), segJSON, corrJSON,
		e.Provider, e.Language, e.AudioDuration.Milliseconds(), e.Latency.Milliseconds(),
		e.CreatedAt.UTC().Format(timeLayout))
	if err != nil {
		return fmt.Errorf("transcript sqlite: append: %w", err)
	}
	return nil
}

// List implements [transcript.Store]. Entries are ordered by insertion.
func (s *Store) List(ctx context.Context, q transcript.Query) ([]transcript.Entry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, session_id, transcript, confidence, band, segments, corrections,
		        provider, language, audio_ms, latency_ms, created_at
		 FROM transcripts
		 WHERE (? = '' OR session_id = ?)
		 ORDER BY seq DESC LIMIT ?`, q.SessionID, q.SessionID, q.LimitOrDefault())
	if err != nil {
		return nil, fmt.Errorf("transcript sqlite: list: %w", err)
	}
	defer rows.Close()

	var out []transcript.Entry
	for rows.Next() {
		var (
			e                  transcript.Entry
			band, created      string
			segJSON, corrJSON  string
			audioMS, latencyMS int64
		)
		if err := rows.Scan(&e.ID, &e.SessionID, &e.Transcript, &e.Confidence, &band, &segJSON, &corrJSON,
			&e.Provider, &e.Language, &audioMS, &latencyMS, &created); err != nil {
			return nil, fmt.Errorf("transcript sqlite: scan: %w", err)
		}
		e.Band = transcript.Band(band)
		e.AudioDuration = time.Duration(audioMS) * time.Millisecond
		e.Latency = time.Duration(latencyMS) * time.Millisecond
		if ts, err := time.Parse(timeLayout, created); err == nil {
			e.CreatedAt = ts
		}
		if err := json.Unmarshal([]byte(segJSON), &e.Segments); err != nil {
			return nil, fmt.Errorf("transcript sqlite: unmarshal segments: %w", err)
		}
		if err := json.Unmarshal([]byte(corrJSON), &e.Corrections); err != nil {
			return nil, fmt.Errorf("transcript sqlite: unmarshal corrections: %w", err)
		}
		if len(e.Segments) == 0 {
			e.Segments = nil
		}
		if len(e.Corrections) == 0 {
			e.Corrections = nil
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("transcript sqlite: rows: %w", err)
	}
	slices.Reverse(out)
	return out, nil
}

// Prune deletes entries created before cutoff and returns how many were
// removed.
func (s *Store) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM transcripts WHERE created_at < ?`, cutoff.UTC().Format(timeLayout))
	if err != nil {
		return 0, fmt.Errorf("transcript sqlite: prune: %w", err)
	}
	return res.RowsAffected()
}

func marshalList[T any](s []T) (string, error) {
	if len(s) == 0 {
		return "[]", nil
	}
	b, err := json.Marshal(s)
	return string(b), err
}
