package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/Sternrassler/epigraph-corpus/internal/config"
	"github.com/Sternrassler/epigraph-corpus/internal/fsutil"
	"github.com/Sternrassler/epigraph-corpus/pkg/cache"
	"github.com/Sternrassler/epigraph-corpus/pkg/catalog"
)

// openCatalog creates the catalog client. When the page cache is enabled
// and Redis answers, search pages are cached; an unreachable Redis only
// disables the cache. The returned func releases the Redis connection.
func openCatalog(ctx context.Context, cfg *config.Config) (*catalog.Client, func(), error) {
	catCfg := cfg.CatalogConfig()
	release := func() {}

	if cfg.Cache.Enabled {
		rdb := redis.NewClient(&redis.Options{
			Addr: cfg.Cache.RedisAddr,
			DB:   cfg.Cache.RedisDB,
		})
		if err := rdb.Ping(ctx).Err(); err != nil {
			log.Warn().Err(err).Str("addr", cfg.Cache.RedisAddr).Msg("Page cache unavailable, continuing without it")
			_ = rdb.Close()
		} else {
			catCfg.PageCache = cache.NewManager(rdb, cfg.CacheConfig())
			release = func() { _ = rdb.Close() }
		}
	}

	client, err := catalog.New(catCfg)
	if err != nil {
		release()
		return nil, nil, fmt.Errorf("create catalog client: %w", err)
	}
	return client, release, nil
}

// createOutput opens path for writing, creating its directory. The file
// appears under its final name only on Commit.
func createOutput(path string) (*fsutil.AtomicFile, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create output directory %q: %w", dir, err)
	}
	f, err := fsutil.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create output: %w", err)
	}
	return f, nil
}
