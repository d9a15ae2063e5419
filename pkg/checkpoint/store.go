// Package checkpoint persists annotation progress: a monotonic resume cursor
// plus the labeled entries flushed so far. Three backends share one contract:
// append-only files guarded by an exclusive lock, Redis, and SQLite.
package checkpoint

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/Sternrassler/epigraph-corpus/pkg/span"
)

var (
	// ErrLocked indicates another process owns the job's checkpoint.
	ErrLocked = errors.New("checkpoint is locked by another process")

	// ErrCursorRegression indicates a flush that would move the cursor backwards.
	ErrCursorRegression = errors.New("checkpoint cursor cannot move backwards")

	// ErrUnknownBackend indicates an unsupported Config.Backend.
	ErrUnknownBackend = errors.New("unknown checkpoint backend")
)

// Backend names.
const (
	BackendFile   = "file"
	BackendRedis  = "redis"
	BackendSQLite = "sqlite"
)

// Entry is one labeled (or failed) record at its position in the job.
type Entry struct {
	Index         int         `json:"index"`
	ID            string      `json:"id"`
	Text          string      `json:"text"`
	Transcription string      `json:"transcription"`
	Annotations   []span.Span `json:"annotations"`

	// Error is set when labeling failed after its retry.
	Error string `json:"error,omitempty"`
}

// Failed reports whether the entry is a failure marker.
func (e Entry) Failed() bool {
	return e.Error != ""
}

// State is the persisted resume position of a job. Cursor is the index of
// the next record to label.
type State struct {
	Job       string    `json:"job"`
	Cursor    int       `json:"cursor"`
	RunID     string    `json:"run_id,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Store is durable checkpoint storage for one job.
type Store interface {
	// Load returns the persisted state; a fresh job has Cursor 0.
	Load(ctx context.Context) (State, error)

	// Flush durably appends batch and then advances the cursor to st.Cursor.
	Flush(ctx context.Context, st State, batch []Entry) error

	// Entries returns every flushed entry ordered by index, one per index.
	Entries(ctx context.Context) ([]Entry, error)

	Close() error
}

// Config selects and configures a Store.
type Config struct {
	// Backend is one of "file", "redis" or "sqlite".
	Backend string `yaml:"backend"`

	// Job names the checkpoint; one job is owned by one orchestrator.
	Job string `yaml:"job"`

	// Dir holds file checkpoints.
	Dir string `yaml:"dir"`

	// RedisAddr and RedisDB locate the Redis backend.
	RedisAddr string `yaml:"redis_addr"`
	RedisDB   int    `yaml:"redis_db"`

	// SQLitePath is the SQLite database file.
	SQLitePath string `yaml:"sqlite_path"`
}

// DefaultConfig returns a file checkpoint under ./checkpoints.
func DefaultConfig() Config {
	return Config{
		Backend:    BackendFile,
		Job:        "annotate",
		Dir:        "checkpoints",
		RedisAddr:  "localhost:6379",
		SQLitePath: "checkpoints/checkpoint.db",
	}
}

// Open creates the store selected by cfg.Backend.
func Open(ctx context.Context, cfg Config) (Store, error) {
	if cfg.Job == "" {
		return nil, errors.New("checkpoint job name is required")
	}

	switch cfg.Backend {
	case BackendFile, "":
		return OpenFile(cfg.Dir, cfg.Job)
	case BackendRedis:
		return OpenRedis(ctx, cfg.RedisAddr, cfg.RedisDB, cfg.Job)
	case BackendSQLite:
		return OpenSQLite(ctx, cfg.SQLitePath, cfg.Job)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownBackend, cfg.Backend)
	}
}

// dedupe keeps the first entry seen for each index and orders by index.
// A crash between appending entries and advancing the cursor leaves entries
// past the cursor; a resumed run appends them again.
func dedupe(entries []Entry) []Entry {
	seen := make(map[int]bool, len(entries))
	out := make([]Entry, 0, len(entries))
	for _, e := range entries {
		if seen[e.Index] {
			continue
		}
		seen[e.Index] = true
		out = append(out, e)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Index < out[j].Index
	})
	return out
}

func checkCursor(current, next int) error {
	if next < current {
		return fmt.Errorf("%w: %d < %d", ErrCursorRegression, next, current)
	}
	return nil
}
