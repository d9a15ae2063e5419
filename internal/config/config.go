// Package config loads the YAML configuration shared by the epigraph
// subcommands. Load starts from Default, overlays the file when it exists,
// then normalizes and validates the result.
package config

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/Sternrassler/epigraph-corpus/pkg/acquire"
	"github.com/Sternrassler/epigraph-corpus/pkg/annotate"
	"github.com/Sternrassler/epigraph-corpus/pkg/cache"
	"github.com/Sternrassler/epigraph-corpus/pkg/catalog"
	"github.com/Sternrassler/epigraph-corpus/pkg/checkpoint"
	"github.com/Sternrassler/epigraph-corpus/pkg/labeling"
	"github.com/Sternrassler/epigraph-corpus/pkg/logging"
	"github.com/Sternrassler/epigraph-corpus/pkg/pagination"
	"gopkg.in/yaml.v3"
)

// Config is the complete tool configuration.
type Config struct {
	Catalog  Catalog  `yaml:"catalog"`
	Cache    Cache    `yaml:"cache"`
	Acquire  Acquire  `yaml:"acquire"`
	Labeling Labeling `yaml:"labeling"`
	Annotate Annotate `yaml:"annotate"`
	Logging  Logging  `yaml:"logging"`
	Metrics  Metrics  `yaml:"metrics"`
}

// Catalog locates the remote inscription catalog.
type Catalog struct {
	BaseURL           string        `yaml:"base_url"`
	SearchPath        string        `yaml:"search_path"`
	FetchPathTemplate string        `yaml:"fetch_path_template"`
	UserAgent         string        `yaml:"user_agent"`
	Timeout           time.Duration `yaml:"timeout"`
}

// Cache configures the optional Redis search-page cache.
type Cache struct {
	Enabled   bool          `yaml:"enabled"`
	RedisAddr string        `yaml:"redis_addr"`
	RedisDB   int           `yaml:"redis_db"`
	TTL       time.Duration `yaml:"ttl"`
}

// Acquire configures the acquisition pipeline.
type Acquire struct {
	Destination   string        `yaml:"destination"`
	Workers       int           `yaml:"workers"`
	MaxWorkers    int           `yaml:"max_workers"`
	PageSize      int           `yaml:"page_size"`
	PageDelay     time.Duration `yaml:"page_delay"`
	RetryDelay    time.Duration `yaml:"retry_delay"`
	ProgressEvery int           `yaml:"progress_every"`
	Resume        bool          `yaml:"resume"`
	FetchDetails  bool          `yaml:"fetch_details"`
}

// Labeling configures the labeling service client.
type Labeling struct {
	BaseURL         string        `yaml:"base_url"`
	Model           string        `yaml:"model"`
	APIKey          string        `yaml:"api_key"`
	Timeout         time.Duration `yaml:"timeout"`
	Temperature     float64       `yaml:"temperature"`
	TopP            float64       `yaml:"top_p"`
	TopK            int           `yaml:"top_k"`
	MaxOutputTokens int           `yaml:"max_output_tokens"`
}

// Annotate configures the annotation orchestrator and its checkpoint.
type Annotate struct {
	InputDir   string            `yaml:"input_dir"`
	Output     string            `yaml:"output"`
	Cadence    int               `yaml:"cadence"`
	RateDelay  time.Duration     `yaml:"rate_delay"`
	RetryDelay time.Duration     `yaml:"retry_delay"`
	Checkpoint checkpoint.Config `yaml:"checkpoint"`
}

// Logging configures zerolog. Pretty is nil when unset, which means
// "pretty when stderr is a terminal".
type Logging struct {
	Level  string `yaml:"level"`
	Pretty *bool  `yaml:"pretty"`
}

// Metrics configures the Prometheus endpoint. Empty Addr disables it.
type Metrics struct {
	Addr string `yaml:"addr"`
}

// Load reads path (when it exists) over the defaults. An empty path or a
// missing file yields the defaults. It returns the resolved path and
// whether the file existed.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolved, exists, err := resolvePath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolved)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := yaml.NewDecoder(file)
		decoder.KnownFields(true)
		if err := decoder.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolved, exists, nil
}

func resolvePath(path string) (string, bool, error) {
	if strings.TrimSpace(path) == "" {
		return "", false, nil
	}
	expanded, err := ExpandPath(path)
	if err != nil {
		return "", false, err
	}
	if _, err := os.Stat(expanded); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return expanded, false, nil
		}
		return "", false, fmt.Errorf("stat config: %w", err)
	}
	return expanded, true, nil
}

// Save writes the configuration as YAML. The API key is never written.
func (c *Config) Save(path string) error {
	out := *c
	out.Labeling.APIKey = ""

	data, err := yaml.Marshal(&out)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}

// ExpandPath resolves a leading ~ and makes the path absolute.
func ExpandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	absolute, err := filepath.Abs(filepath.Clean(pathValue))
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", pathValue, err)
	}
	return absolute, nil
}

// CatalogConfig returns the catalog client configuration without a cache.
func (c *Config) CatalogConfig() catalog.Config {
	return catalog.Config{
		BaseURL:           c.Catalog.BaseURL,
		SearchPath:        c.Catalog.SearchPath,
		FetchPathTemplate: c.Catalog.FetchPathTemplate,
		UserAgent:         c.Catalog.UserAgent,
		Timeout:           c.Catalog.Timeout,
	}
}

// CacheConfig returns the page cache configuration.
func (c *Config) CacheConfig() cache.Config {
	return cache.Config{TTL: c.Cache.TTL}
}

// AcquireConfig returns the pipeline configuration.
func (c *Config) AcquireConfig() acquire.Config {
	cfg := acquire.DefaultConfig()
	cfg.Pagination = pagination.Config{
		PageSize:   c.Acquire.PageSize,
		RetryDelay: c.Acquire.RetryDelay,
		PageDelay:  c.Acquire.PageDelay,
	}
	cfg.MaxWorkers = c.Acquire.MaxWorkers
	cfg.ProgressEvery = c.Acquire.ProgressEvery
	cfg.RetryDelay = c.Acquire.RetryDelay
	cfg.FetchDetails = c.Acquire.FetchDetails
	return cfg
}

// LabelingConfig returns the Gemini client configuration.
func (c *Config) LabelingConfig() labeling.Config {
	return labeling.Config{
		BaseURL:         c.Labeling.BaseURL,
		Model:           c.Labeling.Model,
		APIKey:          c.Labeling.APIKey,
		Timeout:         c.Labeling.Timeout,
		Temperature:     c.Labeling.Temperature,
		TopP:            c.Labeling.TopP,
		TopK:            c.Labeling.TopK,
		MaxOutputTokens: c.Labeling.MaxOutputTokens,
	}
}

// AnnotateConfig returns the orchestrator configuration.
func (c *Config) AnnotateConfig() annotate.Config {
	return annotate.Config{
		Cadence:    c.Annotate.Cadence,
		RateDelay:  c.Annotate.RateDelay,
		RetryDelay: c.Annotate.RetryDelay,
	}
}

// LoggingConfig returns the logging configuration for stderr.
func (c *Config) LoggingConfig() logging.Config {
	cfg := logging.DefaultConfig()
	cfg.Level = logging.LogLevel(c.Logging.Level)
	if c.Logging.Pretty != nil {
		cfg.Pretty = *c.Logging.Pretty
	}
	return cfg
}
