package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/Sternrassler/epigraph-corpus/pkg/checkpoint"
	"github.com/Sternrassler/epigraph-corpus/pkg/labeling"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	c.normalizeLabeling()
	c.normalizeCheckpoint()
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
	c.Metrics.Addr = strings.TrimSpace(c.Metrics.Addr)
	return nil
}

func (c *Config) normalizePaths() error {
	var err error
	if c.Acquire.Destination, err = ExpandPath(strings.TrimSpace(c.Acquire.Destination)); err != nil {
		return fmt.Errorf("acquire.destination: %w", err)
	}
	if c.Annotate.InputDir, err = ExpandPath(strings.TrimSpace(c.Annotate.InputDir)); err != nil {
		return fmt.Errorf("annotate.input_dir: %w", err)
	}
	if c.Annotate.Output, err = ExpandPath(strings.TrimSpace(c.Annotate.Output)); err != nil {
		return fmt.Errorf("annotate.output: %w", err)
	}
	if c.Annotate.Checkpoint.Dir, err = ExpandPath(strings.TrimSpace(c.Annotate.Checkpoint.Dir)); err != nil {
		return fmt.Errorf("annotate.checkpoint.dir: %w", err)
	}
	if c.Annotate.Checkpoint.SQLitePath, err = ExpandPath(strings.TrimSpace(c.Annotate.Checkpoint.SQLitePath)); err != nil {
		return fmt.Errorf("annotate.checkpoint.sqlite_path: %w", err)
	}
	return nil
}

func (c *Config) normalizeLabeling() {
	c.Labeling.APIKey = strings.TrimSpace(c.Labeling.APIKey)
	if c.Labeling.APIKey == "" {
		if value, ok := os.LookupEnv(labeling.APIKeyEnv); ok {
			c.Labeling.APIKey = strings.TrimSpace(value)
		}
	}
	c.Labeling.BaseURL = strings.TrimRight(strings.TrimSpace(c.Labeling.BaseURL), "/")
	c.Catalog.BaseURL = strings.TrimRight(strings.TrimSpace(c.Catalog.BaseURL), "/")
}

func (c *Config) normalizeCheckpoint() {
	cp := &c.Annotate.Checkpoint
	cp.Backend = strings.ToLower(strings.TrimSpace(cp.Backend))
	if cp.Backend == "" {
		cp.Backend = checkpoint.BackendFile
	}
	cp.Job = strings.TrimSpace(cp.Job)
	if cp.RedisAddr == "" {
		cp.RedisAddr = c.Cache.RedisAddr
	}
}
