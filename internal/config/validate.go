package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/Sternrassler/epigraph-corpus/pkg/checkpoint"
	"github.com/Sternrassler/epigraph-corpus/pkg/logging"
)

// Configuration validation errors.
var (
	ErrInvalidURL        = errors.New("must be an absolute http(s) URL")
	ErrInvalidTimeout    = errors.New("timeout must be positive")
	ErrInvalidWorkers    = errors.New("acquire.workers must be between 1 and acquire.max_workers")
	ErrInvalidPageSize   = errors.New("acquire.page_size must be at least 1")
	ErrNegativeDelay     = errors.New("delays must not be negative")
	ErrInvalidCadence    = errors.New("annotate.cadence must be at least 1")
	ErrInvalidBackend    = errors.New("annotate.checkpoint.backend must be one of: file, redis, sqlite")
	ErrMissingJob        = errors.New("annotate.checkpoint.job is required")
	ErrMissingCheckpoint = errors.New("checkpoint location is required for the selected backend")
	ErrInvalidLogLevel   = errors.New("logging.level must be one of: debug, info, warn, error")
)

// Validate checks the configuration. The labeling API key is not required
// here; only the annotate command needs it.
func (c *Config) Validate() error {
	if err := validateURL("catalog.base_url", c.Catalog.BaseURL); err != nil {
		return err
	}
	if err := validateURL("labeling.base_url", c.Labeling.BaseURL); err != nil {
		return err
	}
	if !strings.Contains(c.Catalog.FetchPathTemplate, "%s") {
		return fmt.Errorf("catalog.fetch_path_template must contain %%s")
	}
	if c.Catalog.Timeout <= 0 {
		return fmt.Errorf("catalog.timeout: %w", ErrInvalidTimeout)
	}
	if c.Labeling.Timeout <= 0 {
		return fmt.Errorf("labeling.timeout: %w", ErrInvalidTimeout)
	}

	if c.Acquire.MaxWorkers < 1 || c.Acquire.Workers < 1 || c.Acquire.Workers > c.Acquire.MaxWorkers {
		return fmt.Errorf("%w (workers=%d, max_workers=%d)", ErrInvalidWorkers, c.Acquire.Workers, c.Acquire.MaxWorkers)
	}
	if c.Acquire.PageSize < 1 {
		return ErrInvalidPageSize
	}
	if c.Acquire.PageDelay < 0 || c.Acquire.RetryDelay < 0 || c.Annotate.RateDelay < 0 || c.Annotate.RetryDelay < 0 {
		return ErrNegativeDelay
	}
	if c.Cache.Enabled && c.Cache.TTL <= 0 {
		return fmt.Errorf("cache.ttl: %w", ErrInvalidTimeout)
	}

	if c.Annotate.Cadence < 1 {
		return ErrInvalidCadence
	}
	if err := validateCheckpoint(c.Annotate.Checkpoint); err != nil {
		return err
	}

	if !logging.ValidLevel(logging.LogLevel(c.Logging.Level)) {
		return ErrInvalidLogLevel
	}
	return nil
}

func validateCheckpoint(cp checkpoint.Config) error {
	if cp.Job == "" {
		return ErrMissingJob
	}
	switch cp.Backend {
	case checkpoint.BackendFile:
		if cp.Dir == "" {
			return fmt.Errorf("%w: annotate.checkpoint.dir", ErrMissingCheckpoint)
		}
	case checkpoint.BackendRedis:
		if cp.RedisAddr == "" {
			return fmt.Errorf("%w: annotate.checkpoint.redis_addr", ErrMissingCheckpoint)
		}
	case checkpoint.BackendSQLite:
		if cp.SQLitePath == "" {
			return fmt.Errorf("%w: annotate.checkpoint.sqlite_path", ErrMissingCheckpoint)
		}
	default:
		return fmt.Errorf("%w (got %q)", ErrInvalidBackend, cp.Backend)
	}
	return nil
}

func validateURL(field, raw string) error {
	u, err := url.Parse(raw)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("%s %q: %w", field, raw, ErrInvalidURL)
	}
	return nil
}
