// Package acquire harvests catalog records matching a search query into a
// directory of <identifier>.json files.
package acquire

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/Sternrassler/epigraph-corpus/pkg/catalog"
	"github.com/Sternrassler/epigraph-corpus/pkg/fetchcache"
	"github.com/Sternrassler/epigraph-corpus/pkg/pagination"
	"github.com/Sternrassler/epigraph-corpus/pkg/record"
	"github.com/Sternrassler/epigraph-corpus/pkg/retry"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var itemsDroppedTotal = promauto.NewCounter(prometheus.CounterOpts{
	Name: "epigraph_items_dropped_total",
	Help: "Total number of search items dropped for lacking an identifier",
})

// Catalog is the part of the catalog client the pipeline needs.
// *catalog.Client implements it.
type Catalog interface {
	pagination.Searcher
	Fetch(ctx context.Context, id string) (json.RawMessage, error)
}

// Config holds pipeline configuration.
type Config struct {
	// Pagination configures the search walk.
	Pagination pagination.Config

	// MaxWorkers caps Request.Workers.
	MaxWorkers int

	// ProgressEvery logs pool progress after this many records.
	ProgressEvery int

	// RetryDelay is the wait before retrying a failed fetch or write.
	RetryDelay time.Duration

	// FetchDetails fetches every record by id instead of saving the search item.
	FetchDetails bool

	// IDFields derive identifiers from search items.
	IDFields record.IDFields
}

// DefaultConfig returns the default pipeline configuration.
func DefaultConfig() Config {
	return Config{
		Pagination:    pagination.DefaultConfig(),
		MaxWorkers:    pagination.DefaultMaxWorkers,
		ProgressEvery: 10,
		RetryDelay:    2 * time.Second,
		IDFields:      record.DefaultIDFields(),
	}
}

// Request describes one acquisition run.
type Request struct {
	Query       catalog.Query
	Destination string
	TargetCount int
	Workers     int
	Resume      bool
}

// Report is the outcome of a run. Saved lists file locations in search
// order, including the Skipped records resume found already stored.
type Report struct {
	Saved    []string
	Failed   map[string]error
	Dropped  int
	Skipped  int
	Workers  int
	Pages    int
	Degraded bool
	Err      error
}

// Pipeline runs acquisitions against one catalog.
type Pipeline struct {
	catalog Catalog
	config  Config
	logger  zerolog.Logger
}

// New creates a pipeline.
func New(c Catalog, cfg Config) *Pipeline {
	if cfg.IDFields.Primary == "" && cfg.IDFields.Fallback == "" {
		cfg.IDFields = record.DefaultIDFields()
	}
	return &Pipeline{
		catalog: c,
		config:  cfg,
		logger:  log.With().Str("component", "acquire").Logger(),
	}
}

// Acquire walks the search results for req.Query up to req.TargetCount and
// stores every record under req.Destination. Per-record failures and a
// degraded search are reported in the Report; only an invalid query or an
// unusable destination return an error.
func (p *Pipeline) Acquire(ctx context.Context, req Request) (Report, error) {
	start := time.Now()
	report := Report{Failed: map[string]error{}}

	if err := req.Query.Validate(); err != nil {
		return report, err
	}

	store, err := fetchcache.New(req.Destination, fetchcache.Config{
		Resume:     req.Resume,
		RetryDelay: p.config.RetryDelay,
	})
	if err != nil {
		return report, err
	}
	if err := store.EnsureDir(); err != nil {
		return report, err
	}

	p.logger.Info().
		Str("query", req.Query.String()).
		Str("destination", req.Destination).
		Int("target", req.TargetCount).
		Bool("resume", req.Resume).
		Msg("Starting acquisition")

	walk := pagination.NewPaginator(p.catalog, req.Query, req.TargetCount, p.config.Pagination).Collect(ctx)
	report.Pages = walk.Pages
	report.Degraded = walk.Degraded
	report.Err = walk.Err

	tasks := make([]pagination.Task, 0, len(walk.Items))
	for _, item := range walk.Items {
		id, err := record.Identifier(item, p.config.IDFields)
		if err != nil {
			report.Dropped++
			itemsDroppedTotal.Inc()
			p.logger.Debug().Err(err).Msg("Dropping search item without identifier")
			continue
		}
		tasks = append(tasks, pagination.Task{ID: id, Payload: item})
	}

	pool := pagination.NewPool(pagination.PoolConfig{
		Workers:       req.Workers,
		MaxWorkers:    p.config.MaxWorkers,
		ProgressEvery: p.config.ProgressEvery,
	})
	report.Workers = pool.Workers()

	var skipped atomic.Int64
	results := pool.Run(ctx, tasks, func(ctx context.Context, t pagination.Task) (string, error) {
		if req.Resume && store.Exists(t.ID) {
			skipped.Add(1)
			return store.Path(t.ID), nil
		}

		payload := []byte(t.Payload)
		if p.config.FetchDetails {
			full, err := p.fetch(ctx, t.ID)
			if err != nil {
				return "", err
			}
			payload = full
		}

		return store.Save(ctx, t.ID, payload)
	})

	report.Skipped = int(skipped.Load())
	for _, r := range results {
		if r.Err != nil {
			report.Failed[r.ID] = r.Err
			continue
		}
		report.Saved = append(report.Saved, r.Location)
	}

	p.logger.Info().
		Int("saved", len(report.Saved)).
		Int("skipped", report.Skipped).
		Int("failed", len(report.Failed)).
		Int("dropped", report.Dropped).
		Int("pages", report.Pages).
		Int("workers", report.Workers).
		Bool("degraded", report.Degraded).
		Dur("duration", time.Since(start)).
		Msg("Acquisition complete")

	return report, nil
}

func (p *Pipeline) fetch(ctx context.Context, id string) (json.RawMessage, error) {
	var payload json.RawMessage
	err := retry.Do(ctx, "fetch_record", retry.Once(p.config.RetryDelay), func(ctx context.Context) error {
		var err error
		payload, err = p.catalog.Fetch(ctx, id)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", id, err)
	}
	return payload, nil
}
