package pagination

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/Sternrassler/epigraph-corpus/pkg/catalog"
	"github.com/Sternrassler/epigraph-corpus/pkg/retry"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var (
	pagesFetchedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "epigraph_pages_fetched_total",
		Help: "Total number of search pages fetched",
	})

	degradedWalksTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "epigraph_pagination_degraded_total",
		Help: "Total number of search walks that stopped early after a failed page",
	})
)

// Searcher returns one page of search results. *catalog.Client implements it.
type Searcher interface {
	Search(ctx context.Context, q catalog.Query, offset, limit int) (catalog.Page, error)
}

// Config holds paginator configuration.
type Config struct {
	// PageSize is the page size fixed by the remote service.
	PageSize int

	// RetryDelay is the wait before retrying a failed page.
	RetryDelay time.Duration

	// PageDelay is the politeness pause between successful page fetches.
	PageDelay time.Duration
}

// DefaultConfig returns the configuration for the public EDH API.
func DefaultConfig() Config {
	return Config{
		PageSize:   20,
		RetryDelay: 5 * time.Second,
		PageDelay:  500 * time.Millisecond,
	}
}

// Result is a fully drained search.
type Result struct {
	Items    []json.RawMessage
	Pages    int
	Degraded bool
	Err      error
}

// Paginator is a lazy, finite, non-restartable walk over search results.
// It is not safe for concurrent use.
type Paginator struct {
	searcher Searcher
	query    catalog.Query
	target   int
	config   Config
	logger   zerolog.Logger

	offset   int
	count    int
	pages    int
	done     bool
	degraded bool
	err      error
}

// NewPaginator creates a walk over the results of q. A target of zero or
// less means no limit.
func NewPaginator(s Searcher, q catalog.Query, target int, cfg Config) *Paginator {
	if cfg.PageSize <= 0 {
		cfg.PageSize = DefaultConfig().PageSize
	}
	return &Paginator{
		searcher: s,
		query:    q,
		target:   target,
		config:   cfg,
		logger:   log.With().Str("component", "paginator").Logger(),
	}
}

// Next fetches the next page and returns its items. It returns false once
// the walk has finished, normally or degraded.
func (p *Paginator) Next(ctx context.Context) ([]json.RawMessage, bool) {
	if p.done {
		return nil, false
	}

	if p.pages > 0 {
		if err := retry.Sleep(ctx, p.config.PageDelay); err != nil {
			p.fail(err)
			return nil, false
		}
	}

	var page catalog.Page
	err := retry.Do(ctx, "search_page", retry.Once(p.config.RetryDelay), func(ctx context.Context) error {
		var err error
		page, err = p.searcher.Search(ctx, p.query, p.offset, p.config.PageSize)
		return err
	})
	if err != nil {
		p.fail(fmt.Errorf("page at offset %d: %w", p.offset, err))
		return nil, false
	}

	p.pages++
	pagesFetchedTotal.Inc()

	if len(page.Items) == 0 {
		p.done = true
		p.logger.Debug().Int("offset", p.offset).Msg("Empty page, search exhausted")
		return nil, false
	}

	items := page.Items
	if p.target > 0 && p.count+len(items) > p.target {
		items = items[:p.target-p.count]
	}
	p.count += len(items)
	p.offset += p.config.PageSize

	switch {
	case p.target > 0 && p.count >= p.target:
		p.done = true
	case page.Total > 0 && p.count >= page.Total:
		p.done = true
	}

	p.logger.Debug().
		Int("page", p.pages).
		Int("items", len(items)).
		Int("count", p.count).
		Int("total", page.Total).
		Msg("Fetched search page")

	return items, true
}

// Degraded reports whether the walk stopped early because of a failure.
func (p *Paginator) Degraded() bool { return p.degraded }

// Err returns the failure that degraded the walk, if any.
func (p *Paginator) Err() error { return p.err }

// Collect drains the walk.
func (p *Paginator) Collect(ctx context.Context) Result {
	var items []json.RawMessage
	for {
		page, ok := p.Next(ctx)
		if !ok {
			break
		}
		items = append(items, page...)
	}
	return Result{
		Items:    items,
		Pages:    p.pages,
		Degraded: p.degraded,
		Err:      p.err,
	}
}

func (p *Paginator) fail(err error) {
	p.done = true
	p.degraded = true
	p.err = err
	degradedWalksTotal.Inc()

	p.logger.Warn().
		Err(err).
		Int("pages", p.pages).
		Int("count", p.count).
		Msg("Search stopped early, returning partial results")
}
