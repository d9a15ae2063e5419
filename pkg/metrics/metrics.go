// Package metrics exposes the Prometheus metrics of the corpus tools.
// All metrics are defined in their respective packages via promauto to
// maintain modularity and avoid circular dependencies; this package serves
// them and documents the catalogue.
package metrics

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

// Registry is the default Prometheus registry.
// All metrics are automatically registered via promauto in their respective packages.
var Registry = prometheus.DefaultRegisterer

// Handler serves the default gatherer in the Prometheus text format.
func Handler() http.Handler {
	return promhttp.Handler()
}

// NewMux returns a mux with /metrics and /health.
func NewMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler())
	mux.HandleFunc("/health", healthHandler)
	return mux
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, "OK")
}

// Serve exposes NewMux on addr until ctx is done. The listener is bound
// before Serve returns so address errors surface immediately.
func Serve(ctx context.Context, addr string) (net.Addr, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen on %s: %w", addr, err)
	}

	srv := &http.Server{
		Handler:           NewMux(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	logger := log.With().Str("component", "metrics").Logger()

	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("Metrics server failed")
		}
	}()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Info().Str("addr", ln.Addr().String()).Msg("Serving metrics")
	return ln.Addr(), nil
}

// Metrics Documentation
//
// Catalog (pkg/catalog):
//   - epigraph_catalog_requests_total{endpoint, status} (Counter): Requests by endpoint and HTTP status
//   - epigraph_catalog_request_duration_seconds{endpoint} (Histogram): Request duration
//   - epigraph_catalog_errors_total{class} (Counter): Errors by class (client, server, rate_limit, network, response)
//
// Page cache (pkg/cache):
//   - epigraph_page_cache_hits_total, epigraph_page_cache_misses_total (Counter)
//   - epigraph_page_cache_stored_bytes_total (Counter): Bytes written to Redis
//   - epigraph_page_cache_errors_total{operation} (Counter)
//
// Retry (pkg/retry):
//   - epigraph_retries_total{op} (Counter): Retry attempts by operation
//   - epigraph_retry_delay_seconds{op} (Histogram): Delay before each retry
//   - epigraph_retry_exhausted_total{op} (Counter): Operations that failed after their retry
//
// Pacing (pkg/ratelimit):
//   - epigraph_pacer_wait_seconds{pacer} (Histogram): Time spent waiting for a slot
//   - epigraph_pacer_deferrals_total{pacer} (Counter): Retry-After deferrals
//
// Acquisition (pkg/pagination, pkg/fetchcache, pkg/acquire):
//   - epigraph_pages_fetched_total (Counter)
//   - epigraph_pagination_degraded_total (Counter): Walks stopped by a failed page
//   - epigraph_pool_tasks_total{result} (Counter): success, failed, abandoned
//   - epigraph_records_saved_total{result} (Counter): saved, skipped, failed
//   - epigraph_items_dropped_total (Counter): Items without an identifier
//
// Labeling and checkpoints (pkg/labeling, pkg/annotate, pkg/checkpoint):
//   - epigraph_labeling_calls_total{result} (Counter)
//   - epigraph_labeling_call_duration_seconds (Histogram)
//   - epigraph_labeling_invalid_triples_total (Counter)
//   - epigraph_records_labeled_total{result} (Counter)
//   - epigraph_orchestrator_state (Gauge)
//   - epigraph_checkpoint_flushes_total{backend}, epigraph_checkpoint_entries_total{backend} (Counter)
//   - epigraph_checkpoint_flush_duration_seconds{backend} (Histogram)
//   - epigraph_checkpoint_cursor{job} (Gauge)
//
// Spans (pkg/span):
//   - epigraph_spans_total{outcome} (Counter): exact, recovered, dropped, overlapping
//
// Example Prometheus Queries:
//
//   # Span recovery rate
//   sum(rate(epigraph_spans_total{outcome="recovered"}[5m])) / sum(rate(epigraph_spans_total[5m]))
//
//   # Labeling failure rate
//   rate(epigraph_records_labeled_total{result="failed"}[5m])
//
//   # Page cache hit rate
//   rate(epigraph_page_cache_hits_total[5m]) /
//   (rate(epigraph_page_cache_hits_total[5m]) + rate(epigraph_page_cache_misses_total[5m]))
