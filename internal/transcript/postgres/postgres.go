// Package postgres stores transcript entries in PostgreSQL.
//
// Segments and vocabulary corrections are kept as JSONB columns. Durations
// are stored as whole milliseconds.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/MrWong99/vadcapture/internal/transcript"
	"github.com/MrWong99/vadcapture/internal/transcript/vocab"
	"github.com/MrWong99/vadcapture/pkg/provider/stt"
)

// Schema is the SQL DDL for the transcripts table. Execute it via
// [Store.Migrate] or apply it manually during deployment.
const Schema = `
CREATE TABLE IF NOT EXISTS transcripts (
    id          TEXT PRIMARY KEY,
    session_id  TEXT NOT NULL DEFAULT '',
    transcript  TEXT NOT NULL,
    confidence  DOUBLE PRECISION NOT NULL DEFAULT 0,
    band        TEXT NOT NULL DEFAULT 'low',
    segments    JSONB NOT NULL DEFAULT '[]',
    corrections JSONB NOT NULL DEFAULT '[]',
    provider    TEXT NOT NULL DEFAULT '',
    language    TEXT NOT NULL DEFAULT '',
    audio_ms    BIGINT NOT NULL DEFAULT 0,
    latency_ms  BIGINT NOT NULL DEFAULT 0,
    created_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_transcripts_session_created ON transcripts(session_id, created_at DESC);
`

// DB is the database interface used by [Store]. Both *pgxpool.Pool and
// *pgx.Conn satisfy it.
type DB interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// Store is a [transcript.Store] backed by PostgreSQL.
type Store struct {
	db   DB
	pool *pgxpool.Pool
}

var _ transcript.Store = (*Store)(nil)

// NewStore returns a Store using db. The caller runs [Store.Migrate] before
// the first query.
func NewStore(db DB) *Store {
	return &Store{db: db}
}

// Open connects a pool to the database at dsn, pings it and migrates the
// schema. Release the pool with [Store.Close].
func Open(ctx context.Context, dsn string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("transcript postgres: parse dsn: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("transcript postgres: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("transcript postgres: ping: %w", err)
	}
	s := &Store{db: pool, pool: pool}
	if err := s.Migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

// Close releases the pool opened by [Open]. It is a no-op for stores built
// with [NewStore].
func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// Ping checks the database connection. It returns nil for stores built
// with [NewStore], whose connection is owned by the caller.
func (s *Store) Ping(ctx context.Context) error {
	if s.pool == nil {
		return nil
	}
	return s.pool.Ping(ctx)
}

// Migrate executes [Schema].
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("transcript postgres: migrate: %w", err)
	}
	return nil
}

// Append implements [transcript.Store]. Appending an ID twice is an error.
func (s *Store) Append(ctx context.Context, e transcript.Entry) error {
	segJSON, err := json.Marshal(emptySlice(e.Segments))
	if err != nil {
		return fmt.Errorf("transcript postgres: marshal segments: %w", err)
	}
	corrJSON, err := json.Marshal(emptySlice(e.Corrections))
	if err != nil {
		return fmt.Errorf("transcript postgres: marshal corrections: %w", err)
	}

	const query = `
		INSERT INTO transcripts (
			id, session_id, transcript, confidence, band,
			segments, corrections, provider, language,
			audio_ms, latency_ms, created_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)`

	_, err = s.db.Exec(ctx, query,
		e.ID, e.SessionID, e.Transcript, e.Confidence, string(e.Band),
		segJSON, corrJSON, e.Provider, e.Language,
		e.AudioDuration.Milliseconds(), e.Latency.Milliseconds(), e.CreatedAt,
	)
	if err != nil {
		if isDuplicateKeyError(err) {
			return fmt.Errorf("transcript postgres: entry %q already exists", e.ID)
		}
		return fmt.Errorf("transcript postgres: append: %w", err)
	}
	return nil
}

// List implements [transcript.Store].
func (s *Store) List(ctx context.Context, q transcript.Query) ([]transcript.Entry, error) {
	const query = `
		SELECT id, session_id, transcript, confidence, band,
		       segments, corrections, provider, language,
		       audio_ms, latency_ms, created_at
		FROM transcripts
		WHERE ($1 = '' OR session_id = $1)
		ORDER BY created_at DESC
		LIMIT $2`

	rows, err := s.db.Query(ctx, query, q.SessionID, q.LimitOrDefault())
	if err != nil {
		return nil, fmt.Errorf("transcript postgres: list: %w", err)
	}
	defer rows.Close()

	var out []transcript.Entry
	for rows.Next() {
		var (
			e                  transcript.Entry
			band               string
			segJSON, corrJSON  []byte
			audioMS, latencyMS int64
		)
		if err := rows.Scan(
			&e.ID, &e.SessionID, &e.Transcript, &e.Confidence, &band,
			&segJSON, &corrJSON, &e.Provider, &e.Language,
			&audioMS, &latencyMS, &e.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("transcript postgres: scan: %w", err)
		}
		e.Band = transcript.Band(band)
		e.AudioDuration = time.Duration(audioMS) * time.Millisecond
		e.Latency = time.Duration(latencyMS) * time.Millisecond
		if err := unmarshalDetails(&e, segJSON, corrJSON); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("transcript postgres: rows: %w", err)
	}
	slices.Reverse(out)
	return out, nil
}

func unmarshalDetails(e *transcript.Entry, segJSON, corrJSON []byte) error {
	var segs []stt.Segment
	if err := json.Unmarshal(segJSON, &segs); err != nil {
		return fmt.Errorf("transcript postgres: unmarshal segments: %w", err)
	}
	var corrs []vocab.Correction
	if err := json.Unmarshal(corrJSON, &corrs); err != nil {
		return fmt.Errorf("transcript postgres: unmarshal corrections: %w", err)
	}
	if len(segs) > 0 {
		e.Segments = segs
	}
	if len(corrs) > 0 {
		e.Corrections = corrs
	}
	return nil
}

// emptySlice returns s, or an empty non-nil slice so the column holds "[]"
// rather than "null".
func emptySlice[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}

// isDuplicateKeyError reports a unique violation (SQLSTATE 23505).
func isDuplicateKeyError(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}
