// Package fetchcache stores acquired catalog records as one pretty-printed
// <identifier>.json file each, and makes repeated acquisition runs
// idempotent under resume.
package fetchcache

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/Sternrassler/epigraph-corpus/internal/fsutil"
	"github.com/Sternrassler/epigraph-corpus/pkg/retry"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var recordsSavedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "epigraph_records_saved_total",
	Help: "Total number of record save operations by result",
}, []string{"result"})

var (
	// ErrDestination indicates the destination directory cannot be created.
	// It is fatal for the whole run.
	ErrDestination = errors.New("destination directory unavailable")

	// ErrInvalidID indicates an identifier that cannot be used as a file name.
	ErrInvalidID = errors.New("invalid record identifier")
)

// Extension is appended to identifiers to form file names.
const Extension = ".json"

// Config holds fetch cache configuration.
type Config struct {
	// Resume makes Save a no-op for identifiers that already have a file.
	Resume bool

	// RetryDelay is the wait before retrying a failed write.
	RetryDelay time.Duration
}

// DefaultConfig returns the default fetch cache configuration.
func DefaultConfig() Config {
	return Config{
		Resume:     true,
		RetryDelay: 2 * time.Second,
	}
}

// Cache is a directory of record files. Safe for concurrent use as long as
// one identifier is not saved twice at the same time.
type Cache struct {
	dir    string
	config Config
	logger zerolog.Logger
	write  func(path string, data []byte) error

	mu       sync.Mutex
	dirReady bool
}

// New creates a cache rooted at dir. The directory is created lazily by the
// first Save, or eagerly by EnsureDir.
func New(dir string, cfg Config) (*Cache, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, fmt.Errorf("%w: empty path", ErrDestination)
	}
	return &Cache{
		dir:    filepath.Clean(dir),
		config: cfg,
		logger: log.With().Str("component", "fetchcache").Str("dir", dir).Logger(),
		write:  fsutil.WriteFile,
	}, nil
}

// Dir returns the destination directory.
func (c *Cache) Dir() string {
	return c.dir
}

// Resume reports whether the cache skips existing files.
func (c *Cache) Resume() bool {
	return c.config.Resume
}

// EnsureDir creates the destination directory if absent.
func (c *Cache) EnsureDir() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.dirReady {
		return nil
	}
	if err := os.MkdirAll(c.dir, 0o755); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrDestination, c.dir, err)
	}
	c.dirReady = true
	return nil
}

// Path returns the file location for id.
func (c *Cache) Path(id string) string {
	return filepath.Join(c.dir, id+Extension)
}

// Exists reports whether a file for id is already stored.
func (c *Cache) Exists(id string) bool {
	if ValidateID(id) != nil {
		return false
	}
	info, err := os.Stat(c.Path(id))
	return err == nil && info.Mode().IsRegular()
}

// Save stores payload as the file for id and returns its path. Under
// resume, an existing file is left untouched. JSON payloads are indented
// with two spaces without changing their content; other payloads are
// written verbatim. A failed write is retried once after RetryDelay.
func (c *Cache) Save(ctx context.Context, id string, payload []byte) (string, error) {
	if err := ValidateID(id); err != nil {
		recordsSavedTotal.WithLabelValues("failed").Inc()
		return "", err
	}

	path := c.Path(id)
	if c.config.Resume && c.Exists(id) {
		recordsSavedTotal.WithLabelValues("skipped").Inc()
		c.logger.Debug().Str("id", id).Msg("Record already stored, skipping")
		return path, nil
	}

	if err := c.EnsureDir(); err != nil {
		return "", err
	}

	data := format(payload)
	err := retry.Do(ctx, "save_record", retry.Once(c.config.RetryDelay), func(context.Context) error {
		return c.write(path, data)
	})
	if err != nil {
		recordsSavedTotal.WithLabelValues("failed").Inc()
		return "", fmt.Errorf("save %s: %w", id, err)
	}

	recordsSavedTotal.WithLabelValues("saved").Inc()
	c.logger.Debug().Str("id", id).Str("path", path).Msg("Record saved")
	return path, nil
}

// ValidateID rejects identifiers that would escape the directory.
func ValidateID(id string) error {
	switch {
	case strings.TrimSpace(id) == "":
		return fmt.Errorf("%w: empty", ErrInvalidID)
	case strings.ContainsAny(id, `/\`) || strings.Contains(id, ".."):
		return fmt.Errorf("%w: %q", ErrInvalidID, id)
	case strings.ContainsRune(id, 0):
		return fmt.Errorf("%w: contains NUL", ErrInvalidID)
	}
	return nil
}

// format indents JSON payloads and leaves anything else unchanged.
func format(payload []byte) []byte {
	var buf bytes.Buffer
	if err := json.Indent(&buf, payload, "", "  "); err != nil {
		return payload
	}
	buf.WriteByte('\n')
	return buf.Bytes()
}
