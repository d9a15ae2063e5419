// Package catalog provides a typed HTTP client for the epigraphic catalog:
// paged search over inscriptions and fetch of a single inscription by id.
package catalog

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/Sternrassler/epigraph-corpus/pkg/cache"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var (
	catalogRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "epigraph_catalog_requests_total",
		Help: "Total catalog requests by endpoint and status",
	}, []string{"endpoint", "status"})

	catalogRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "epigraph_catalog_request_duration_seconds",
		Help:    "Catalog request duration in seconds by endpoint",
		Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
	}, []string{"endpoint"})

	catalogErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "epigraph_catalog_errors_total",
		Help: "Total catalog errors by class",
	}, []string{"class"})
)

const (
	endpointSearch = "search"
	endpointFetch  = "fetch"

	// maxErrorBody bounds how much of an error response is kept in messages.
	maxErrorBody = 256
)

// PageCache stores search responses between runs. *cache.Manager implements it.
type PageCache interface {
	Get(ctx context.Context, key cache.Key) (*cache.Entry, error)
	Set(ctx context.Context, key cache.Key, entry *cache.Entry) error
	TTL() time.Duration
}

// Page is one search response.
type Page struct {
	Items  []json.RawMessage `json:"items"`
	Offset int               `json:"offset"`
	Limit  int               `json:"limit"`
	Total  int               `json:"total"`
}

// Config holds the client configuration.
type Config struct {
	// BaseURL is the API root, e.g. "https://edh-www.adw.uni-heidelberg.de/data/api".
	BaseURL string

	// SearchPath is appended to BaseURL for searches.
	SearchPath string

	// FetchPathTemplate is appended to BaseURL for fetches; %s is the escaped id.
	FetchPathTemplate string

	// UserAgent identifies the harvester to the catalog operators.
	UserAgent string

	// Timeout bounds every request.
	Timeout time.Duration

	// PageCache, when set, caches search responses.
	PageCache PageCache
}

// DefaultConfig returns the configuration for the public EDH API.
func DefaultConfig() Config {
	return Config{
		BaseURL:           "https://edh-www.adw.uni-heidelberg.de/data/api",
		SearchPath:        "/inscriptions/search",
		FetchPathTemplate: "/inscriptions/%s",
		UserAgent:         "epigraph-corpus/1.0",
		Timeout:           30 * time.Second,
	}
}

// Client talks to the catalog. It performs exactly one HTTP attempt per
// call; retry policy belongs to the caller.
type Client struct {
	httpClient *http.Client
	config     Config
	logger     zerolog.Logger
}

// New creates a new catalog client.
func New(cfg Config) (*Client, error) {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, fmt.Errorf("base url is required")
	}
	if _, err := url.Parse(cfg.BaseURL); err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if cfg.UserAgent == "" {
		return nil, fmt.Errorf("user-agent is required")
	}
	if !strings.Contains(cfg.FetchPathTemplate, "%s") {
		return nil, fmt.Errorf("fetch path template %q must contain %%s", cfg.FetchPathTemplate)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")

	return &Client{
		httpClient: &http.Client{Timeout: cfg.Timeout},
		config:     cfg,
		logger:     log.With().Str("component", "catalog").Logger(),
	}, nil
}

// SetHTTPClient sets a custom HTTP client (for testing).
func (c *Client) SetHTTPClient(client *http.Client) {
	c.httpClient = client
}

// Search returns the page of results for q starting at offset. The query is
// validated first; an invalid query returns ErrInvalidQuery without any
// network call.
func (c *Client) Search(ctx context.Context, q Query, offset, limit int) (Page, error) {
	if err := q.Validate(); err != nil {
		return Page{}, err
	}
	if offset < 0 || limit <= 0 {
		return Page{}, fmt.Errorf("%w: offset %d, limit %d", ErrInvalidQuery, offset, limit)
	}

	values := q.Values()
	values.Set("offset", strconv.Itoa(offset))
	values.Set("limit", strconv.Itoa(limit))
	key := cache.Key{Endpoint: c.config.SearchPath, Query: values}

	if page, ok := c.cachedPage(ctx, key); ok {
		return page, nil
	}

	body, header, err := c.get(ctx, endpointSearch, c.config.SearchPath, values)
	if err != nil {
		return Page{}, err
	}

	page, err := decodePage(body)
	if err != nil {
		catalogErrorsTotal.WithLabelValues(string(ErrorClassResponse)).Inc()
		return Page{}, &Error{
			Endpoint:   endpointSearch,
			StatusCode: http.StatusOK,
			ErrorClass: ErrorClassResponse,
			Message:    "undecodable search page",
			Err:        err,
		}
	}

	if c.config.PageCache != nil {
		entry := cache.NewEntry(http.StatusOK, header, body, c.config.PageCache.TTL())
		if err := c.config.PageCache.Set(ctx, key, entry); err != nil {
			c.logger.Warn().Err(err).Msg("Failed to cache search page")
		}
	}

	return page, nil
}

// Fetch returns the raw payload of one inscription.
func (c *Client) Fetch(ctx context.Context, id string) (json.RawMessage, error) {
	id = strings.TrimSpace(id)
	if id == "" || strings.ContainsAny(id, "/\\") {
		return nil, fmt.Errorf("%w: %q", ErrInvalidID, id)
	}

	path := fmt.Sprintf(c.config.FetchPathTemplate, url.PathEscape(id))
	body, _, err := c.get(ctx, endpointFetch, path, nil)
	if err != nil {
		return nil, err
	}

	if !json.Valid(body) {
		catalogErrorsTotal.WithLabelValues(string(ErrorClassResponse)).Inc()
		return nil, &Error{
			Endpoint:   endpointFetch,
			StatusCode: http.StatusOK,
			ErrorClass: ErrorClassResponse,
			Message:    fmt.Sprintf("record %s is not valid JSON", id),
		}
	}

	return json.RawMessage(body), nil
}

func (c *Client) cachedPage(ctx context.Context, key cache.Key) (Page, bool) {
	if c.config.PageCache == nil {
		return Page{}, false
	}

	entry, err := c.config.PageCache.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, cache.ErrCacheMiss) {
			c.logger.Warn().Err(err).Msg("Page cache get error")
		}
		return Page{}, false
	}

	page, err := decodePage(entry.Data)
	if err != nil {
		c.logger.Warn().Err(err).Str("key", key.String()).Msg("Ignoring undecodable cached page")
		return Page{}, false
	}

	c.logger.Debug().
		Str("key", key.String()).
		Int("items", len(page.Items)).
		Msg("Search page served from cache")
	return page, true
}

// get performs one GET request and returns the body of a 2xx response.
func (c *Client) get(ctx context.Context, endpoint, path string, values url.Values) ([]byte, http.Header, error) {
	target := c.config.BaseURL + path
	if len(values) > 0 {
		target += "?" + values.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", c.config.UserAgent)
	req.Header.Set("Accept", "application/json")

	c.logger.Debug().
		Str("endpoint", endpoint).
		Str("url", target).
		Msg("Executing catalog request")

	startTime := time.Now()
	defer func() {
		catalogRequestDuration.WithLabelValues(endpoint).Observe(time.Since(startTime).Seconds())
	}()

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, nil, fmt.Errorf("catalog %s: %w", endpoint, ctx.Err())
		}
		catalogErrorsTotal.WithLabelValues(string(ErrorClassNetwork)).Inc()
		catalogRequestsTotal.WithLabelValues(endpoint, "network_error").Inc()
		return nil, nil, &Error{
			Endpoint:   endpoint,
			ErrorClass: ErrorClassNetwork,
			Message:    "request failed",
			Err:        err,
		}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		catalogErrorsTotal.WithLabelValues(string(ErrorClassNetwork)).Inc()
		catalogRequestsTotal.WithLabelValues(endpoint, "network_error").Inc()
		return nil, nil, &Error{
			Endpoint:   endpoint,
			StatusCode: resp.StatusCode,
			ErrorClass: ErrorClassNetwork,
			Message:    "read response body",
			Err:        err,
		}
	}

	catalogRequestsTotal.WithLabelValues(endpoint, strconv.Itoa(resp.StatusCode)).Inc()

	if resp.StatusCode >= 300 {
		class := classifyStatus(resp.StatusCode)
		if class == "" {
			class = ErrorClassClient
		}
		catalogErrorsTotal.WithLabelValues(string(class)).Inc()

		c.logger.Warn().
			Str("endpoint", endpoint).
			Int("status", resp.StatusCode).
			Str("error_class", string(class)).
			Msg("Catalog request error")

		return nil, nil, &Error{
			Endpoint:   endpoint,
			StatusCode: resp.StatusCode,
			ErrorClass: class,
			Message:    errorMessage(resp.Status, body),
		}
	}

	return body, resp.Header, nil
}

func decodePage(body []byte) (Page, error) {
	var page Page
	if err := json.Unmarshal(body, &page); err != nil {
		return Page{}, err
	}
	if page.Items == nil && !bytes.Contains(body, []byte(`"items"`)) {
		return Page{}, fmt.Errorf("response has no items field")
	}
	return page, nil
}

func errorMessage(status string, body []byte) string {
	body = bytes.TrimSpace(body)
	if len(body) == 0 {
		return status
	}
	if len(body) > maxErrorBody {
		body = body[:maxErrorBody]
	}
	return status + ": " + string(body)
}
