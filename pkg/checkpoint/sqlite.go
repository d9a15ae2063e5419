package checkpoint

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	_ "modernc.org/sqlite"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS checkpoint_state (
    job TEXT PRIMARY KEY,
    cursor INTEGER NOT NULL,
    run_id TEXT,
    updated_at TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS checkpoint_entries (
    job TEXT NOT NULL,
    idx INTEGER NOT NULL,
    payload TEXT NOT NULL,
    created_at TEXT NOT NULL,
    PRIMARY KEY (job, idx)
);`

// SQLiteStore keeps checkpoints in a SQLite database shared by any number
// of jobs. Duplicate indices are ignored on insert, so the first entry wins.
// An exclusive flock on <path>.<job>.lock is held until Close.
type SQLiteStore struct {
	db     *sql.DB
	path   string
	job    string
	lock   *flock.Flock
	logger zerolog.Logger
}

// OpenSQLite takes the job lock, opens (or creates) the database at path and
// applies the schema.
func OpenSQLite(ctx context.Context, path, job string) (*SQLiteStore, error) {
	if path == "" {
		return nil, errors.New("checkpoint sqlite path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create checkpoint directory: %w", err)
	}

	lock := flock.New(path + "." + job + ".lock")
	ok, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("acquire checkpoint lock: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: job %q in %s", ErrLocked, job, path)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		_ = lock.Unlock()
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous = FULL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, execErr := db.ExecContext(ctx, pragma); execErr != nil {
			_ = db.Close()
			_ = lock.Unlock()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, execErr)
		}
	}

	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		_ = db.Close()
		_ = lock.Unlock()
		return nil, fmt.Errorf("apply checkpoint schema: %w", err)
	}

	return &SQLiteStore{
		db:     db,
		path:   path,
		job:    job,
		lock:   lock,
		logger: log.With().Str("component", "checkpoint").Str("backend", BackendSQLite).Str("job", job).Logger(),
	}, nil
}

type queryRower interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Load implements Store.
func (s *SQLiteStore) Load(ctx context.Context) (State, error) {
	return s.loadWith(ctx, s.db)
}

func (s *SQLiteStore) loadWith(ctx context.Context, q queryRower) (State, error) {
	st := State{Job: s.job}

	var runID sql.NullString
	var updatedAt string
	err := q.QueryRowContext(ctx,
		`SELECT cursor, run_id, updated_at FROM checkpoint_state WHERE job = ?`, s.job,
	).Scan(&st.Cursor, &runID, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return st, nil
	}
	if err != nil {
		return State{}, fmt.Errorf("select checkpoint state: %w", err)
	}

	st.RunID = runID.String
	if st.UpdatedAt, err = time.Parse(time.RFC3339Nano, updatedAt); err != nil {
		return State{}, fmt.Errorf("decode checkpoint timestamp: %w", err)
	}
	return st, nil
}

// Flush implements Store. Entries and cursor commit in one transaction.
func (s *SQLiteStore) Flush(ctx context.Context, st State, batch []Entry) error {
	start := time.Now()
	defer func() {
		checkpointFlushDuration.WithLabelValues(BackendSQLite).Observe(time.Since(start).Seconds())
	}()

	if st.UpdatedAt.IsZero() {
		st.UpdatedAt = time.Now().UTC()
	}
	timestamp := st.UpdatedAt.UTC().Format(time.RFC3339Nano)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin checkpoint flush: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	current, err := s.loadWith(ctx, tx)
	if err != nil {
		return err
	}
	if err := checkCursor(current.Cursor, st.Cursor); err != nil {
		return err
	}

	for _, e := range batch {
		payload, err := json.Marshal(e)
		if err != nil {
			return fmt.Errorf("encode checkpoint entry %d: %w", e.Index, err)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO checkpoint_entries (job, idx, payload, created_at) VALUES (?, ?, ?, ?)`,
			s.job, e.Index, string(payload), timestamp,
		); err != nil {
			return fmt.Errorf("insert checkpoint entry %d: %w", e.Index, err)
		}
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO checkpoint_state (job, cursor, run_id, updated_at) VALUES (?, ?, ?, ?)
         ON CONFLICT(job) DO UPDATE SET cursor = excluded.cursor, run_id = excluded.run_id, updated_at = excluded.updated_at`,
		s.job, st.Cursor, nullableString(st.RunID), timestamp,
	); err != nil {
		return fmt.Errorf("upsert checkpoint state: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit checkpoint flush: %w", err)
	}

	checkpointFlushes.WithLabelValues(BackendSQLite).Inc()
	checkpointEntries.WithLabelValues(BackendSQLite).Add(float64(len(batch)))
	checkpointCursor.WithLabelValues(s.job).Set(float64(st.Cursor))

	s.logger.Debug().
		Int("cursor", st.Cursor).
		Int("entries", len(batch)).
		Msg("Checkpoint flushed")
	return nil
}

// Entries implements Store.
func (s *SQLiteStore) Entries(ctx context.Context) ([]Entry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT idx, payload FROM checkpoint_entries WHERE job = ? ORDER BY idx`, s.job,
	)
	if err != nil {
		return nil, fmt.Errorf("select checkpoint entries: %w", err)
	}
	defer rows.Close()

	entries := []Entry{}
	for rows.Next() {
		var idx int
		var payload string
		if err := rows.Scan(&idx, &payload); err != nil {
			return nil, fmt.Errorf("scan checkpoint entry: %w", err)
		}
		var e Entry
		if err := json.Unmarshal([]byte(payload), &e); err != nil {
			s.logger.Warn().Err(err).Int("index", idx).Msg("Skipping unreadable checkpoint entry")
			continue
		}
		e.Index = idx
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate checkpoint entries: %w", err)
	}
	return entries, nil
}

// Close closes the database and releases the job lock.
func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	err := s.db.Close()
	if unlockErr := s.lock.Unlock(); unlockErr != nil && err == nil {
		err = unlockErr
	}
	return err
}

func nullableString(v string) any {
	if v == "" {
		return nil
	}
	return v
}
