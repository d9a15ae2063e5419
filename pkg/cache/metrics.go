package cache

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// CacheHits tracks page cache hits.
	CacheHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "epigraph_page_cache_hits_total",
			Help: "Total number of search page cache hits",
		},
	)

	// CacheMisses tracks page cache misses, expired entries included.
	CacheMisses = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "epigraph_page_cache_misses_total",
			Help: "Total number of search page cache misses",
		},
	)

	// CacheStoredBytes tracks bytes written to the cache.
	CacheStoredBytes = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "epigraph_page_cache_stored_bytes_total",
			Help: "Total bytes written to the search page cache",
		},
	)

	// CacheErrors tracks cache operation errors.
	CacheErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "epigraph_page_cache_errors_total",
			Help: "Total number of page cache operation errors",
		},
		[]string{"operation"}, // "get", "set", "delete"
	)
)
