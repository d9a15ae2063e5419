package config

import (
	"github.com/Sternrassler/epigraph-corpus/pkg/acquire"
	"github.com/Sternrassler/epigraph-corpus/pkg/annotate"
	"github.com/Sternrassler/epigraph-corpus/pkg/cache"
	"github.com/Sternrassler/epigraph-corpus/pkg/catalog"
	"github.com/Sternrassler/epigraph-corpus/pkg/checkpoint"
	"github.com/Sternrassler/epigraph-corpus/pkg/labeling"
	"github.com/Sternrassler/epigraph-corpus/pkg/pagination"
)

const (
	defaultDestination = "data/inscriptions"
	defaultOutput      = "data/labeled.jsonl"
	defaultWorkers     = 4
	defaultLogLevel    = "info"
)

// Default returns the configuration used when no file is given. Values come
// from each package's own DefaultConfig.
func Default() Config {
	cat := catalog.DefaultConfig()
	acq := acquire.DefaultConfig()
	lab := labeling.DefaultConfig()
	ann := annotate.DefaultConfig()

	return Config{
		Catalog: Catalog{
			BaseURL:           cat.BaseURL,
			SearchPath:        cat.SearchPath,
			FetchPathTemplate: cat.FetchPathTemplate,
			UserAgent:         cat.UserAgent,
			Timeout:           cat.Timeout,
		},
		Cache: Cache{
			RedisAddr: "localhost:6379",
			TTL:       cache.DefaultTTL,
		},
		Acquire: Acquire{
			Destination:   defaultDestination,
			Workers:       defaultWorkers,
			MaxWorkers:    pagination.DefaultMaxWorkers,
			PageSize:      acq.Pagination.PageSize,
			PageDelay:     acq.Pagination.PageDelay,
			RetryDelay:    acq.Pagination.RetryDelay,
			ProgressEvery: acq.ProgressEvery,
		},
		Labeling: Labeling{
			BaseURL:         lab.BaseURL,
			Model:           lab.Model,
			Timeout:         lab.Timeout,
			Temperature:     lab.Temperature,
			TopP:            lab.TopP,
			TopK:            lab.TopK,
			MaxOutputTokens: lab.MaxOutputTokens,
		},
		Annotate: Annotate{
			InputDir:   defaultDestination,
			Output:     defaultOutput,
			Cadence:    ann.Cadence,
			RateDelay:  ann.RateDelay,
			RetryDelay: ann.RetryDelay,
			Checkpoint: checkpoint.DefaultConfig(),
		},
		Logging: Logging{
			Level: defaultLogLevel,
		},
	}
}
