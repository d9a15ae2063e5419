package checkpoint

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/gofrs/flock"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/Sternrassler/epigraph-corpus/internal/fsutil"
)

// maxLine bounds a single JSONL entry when reading a checkpoint back.
const maxLine = 8 << 20

// FileStore keeps a job in <dir>/<job>.jsonl (entries, append-only) and
// <dir>/<job>.state.json (cursor, replaced atomically). An exclusive flock on
// <dir>/<job>.lock is held until Close.
type FileStore struct {
	dir    string
	job    string
	lock   *flock.Flock
	mu     sync.Mutex
	logger zerolog.Logger
}

// OpenFile creates dir if needed and takes the job lock.
func OpenFile(dir, job string) (*FileStore, error) {
	if dir == "" {
		return nil, errors.New("checkpoint directory is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create checkpoint directory: %w", err)
	}

	lock := flock.New(filepath.Join(dir, job+".lock"))
	ok, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("acquire checkpoint lock: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: job %q in %s", ErrLocked, job, dir)
	}

	return &FileStore{
		dir:    dir,
		job:    job,
		lock:   lock,
		logger: log.With().Str("component", "checkpoint").Str("backend", BackendFile).Str("job", job).Logger(),
	}, nil
}

// EntriesPath is the JSONL file holding flushed entries.
func (s *FileStore) EntriesPath() string {
	return filepath.Join(s.dir, s.job+".jsonl")
}

// StatePath is the JSON file holding the cursor.
func (s *FileStore) StatePath() string {
	return filepath.Join(s.dir, s.job+".state.json")
}

// Load implements Store.
func (s *FileStore) Load(ctx context.Context) (State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.load()
}

func (s *FileStore) load() (State, error) {
	data, err := os.ReadFile(s.StatePath())
	if errors.Is(err, os.ErrNotExist) {
		return State{Job: s.job}, nil
	}
	if err != nil {
		return State{}, fmt.Errorf("read checkpoint state: %w", err)
	}

	var st State
	if err := json.Unmarshal(data, &st); err != nil {
		return State{}, fmt.Errorf("decode checkpoint state: %w", err)
	}
	st.Job = s.job
	return st, nil
}

// Flush implements Store. Entries are synced before the cursor moves.
func (s *FileStore) Flush(ctx context.Context, st State, batch []Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	start := time.Now()
	defer func() {
		checkpointFlushDuration.WithLabelValues(BackendFile).Observe(time.Since(start).Seconds())
	}()

	current, err := s.load()
	if err != nil {
		return err
	}
	if err := checkCursor(current.Cursor, st.Cursor); err != nil {
		return err
	}

	if len(batch) > 0 {
		if err := s.appendEntries(batch); err != nil {
			return err
		}
	}

	st.Job = s.job
	if st.UpdatedAt.IsZero() {
		st.UpdatedAt = time.Now().UTC()
	}
	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return fmt.Errorf("encode checkpoint state: %w", err)
	}
	if err := fsutil.WriteFile(s.StatePath(), data); err != nil {
		return fmt.Errorf("write checkpoint state: %w", err)
	}

	checkpointFlushes.WithLabelValues(BackendFile).Inc()
	checkpointEntries.WithLabelValues(BackendFile).Add(float64(len(batch)))
	checkpointCursor.WithLabelValues(s.job).Set(float64(st.Cursor))

	s.logger.Debug().
		Int("cursor", st.Cursor).
		Int("entries", len(batch)).
		Msg("Checkpoint flushed")
	return nil
}

func (s *FileStore) appendEntries(batch []Entry) error {
	f, err := os.OpenFile(s.EntriesPath(), os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return fmt.Errorf("open checkpoint entries: %w", err)
	}

	dropped, err := trimTornTail(f)
	if err != nil {
		_ = f.Close()
		return fmt.Errorf("repair checkpoint entries: %w", err)
	}
	if dropped > 0 {
		s.logger.Warn().Int64("bytes", dropped).Msg("Dropped torn checkpoint line")
	}
	if _, err := f.Seek(0, io.SeekEnd); err != nil {
		_ = f.Close()
		return fmt.Errorf("seek checkpoint entries: %w", err)
	}

	w := bufio.NewWriter(f)
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	for _, e := range batch {
		if err := enc.Encode(e); err != nil {
			_ = f.Close()
			return fmt.Errorf("encode checkpoint entry %d: %w", e.Index, err)
		}
	}
	if err := w.Flush(); err != nil {
		_ = f.Close()
		return fmt.Errorf("write checkpoint entries: %w", err)
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return fmt.Errorf("sync checkpoint entries: %w", err)
	}
	return f.Close()
}

// trimTornTail cuts f back to just after its last newline and returns the
// number of bytes removed. Only an interrupted append leaves such a tail.
func trimTornTail(f *os.File) (int64, error) {
	info, err := f.Stat()
	if err != nil {
		return 0, err
	}
	size := info.Size()

	buf := make([]byte, 4096)
	for end := size; end > 0; {
		n := min(int64(len(buf)), end)
		if _, err := f.ReadAt(buf[:n], end-n); err != nil {
			return 0, err
		}
		if i := bytes.LastIndexByte(buf[:n], '\n'); i >= 0 {
			keep := end - n + int64(i) + 1
			if keep == size {
				return 0, nil
			}
			return size - keep, f.Truncate(keep)
		}
		end -= n
	}
	if size == 0 {
		return 0, nil
	}
	return size, f.Truncate(0)
}

// Entries implements Store. A torn final line from an interrupted append is
// skipped.
func (s *FileStore) Entries(ctx context.Context) ([]Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := os.Open(s.EntriesPath())
	if errors.Is(err, os.ErrNotExist) {
		return []Entry{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open checkpoint entries: %w", err)
	}
	defer f.Close()

	var entries []Entry
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLine)
	line := 0
	for scanner.Scan() {
		line++
		raw := scanner.Bytes()
		if len(raw) == 0 {
			continue
		}
		var e Entry
		if err := json.Unmarshal(raw, &e); err != nil {
			s.logger.Warn().Err(err).Int("line", line).Msg("Skipping unreadable checkpoint line")
			continue
		}
		entries = append(entries, e)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read checkpoint entries: %w", err)
	}

	return dedupe(entries), nil
}

// Close releases the job lock.
func (s *FileStore) Close() error {
	if s == nil || s.lock == nil {
		return nil
	}
	return s.lock.Unlock()
}
