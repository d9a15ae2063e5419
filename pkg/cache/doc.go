// Package cache stores catalog search responses in Redis.
//
// Acquisition runs are often repeated with the same query: after an
// interruption, with a larger target, or with --fetch-details switched on.
// The page cache lets those runs reuse search pages that were fetched
// recently instead of paging through the remote catalog again. Caching is
// optional; the catalog client works without it.
//
// # Basic Usage
//
//	redisClient := redis.NewClient(&redis.Options{
//		Addr: "localhost:6379",
//	})
//
//	manager := cache.NewManager(redisClient, cache.DefaultConfig())
//
//	key := cache.Key{
//		Endpoint: "/inscriptions/search",
//		Query:    url.Values{"province": []string{"Dalmatia"}, "offset": []string{"0"}},
//	}
//
//	entry, err := manager.Get(ctx, key)
//	if errors.Is(err, cache.ErrCacheMiss) {
//		// fetch from the catalog, then:
//		_ = manager.Set(ctx, key, cache.NewEntry(resp.StatusCode, resp.Header, body, cfg.TTL))
//	}
//
// # Expiry
//
// An entry lives until the Expires header of the response that produced it,
// or for the configured TTL when the header is absent or unparseable. Redis
// removes it on expiry.
//
// # Metrics
//
//   - epigraph_page_cache_hits_total
//   - epigraph_page_cache_misses_total
//   - epigraph_page_cache_stored_bytes_total
//   - epigraph_page_cache_errors_total{operation}
package cache
