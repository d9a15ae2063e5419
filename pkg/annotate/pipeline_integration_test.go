//go:build integration

package annotate_test

import (
	"bytes"
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/Sternrassler/epigraph-corpus/internal/testutil"
	"github.com/Sternrassler/epigraph-corpus/pkg/acquire"
	"github.com/Sternrassler/epigraph-corpus/pkg/annotate"
	"github.com/Sternrassler/epigraph-corpus/pkg/cache"
	"github.com/Sternrassler/epigraph-corpus/pkg/catalog"
	"github.com/Sternrassler/epigraph-corpus/pkg/checkpoint"
	"github.com/Sternrassler/epigraph-corpus/pkg/pagination"
	"github.com/Sternrassler/epigraph-corpus/pkg/record"
)

// TestFullPipeline runs acquire with the Redis page cache, an interrupted
// annotation run checkpointed in Redis, its resumption, and the export.
func TestFullPipeline(t *testing.T) {
	redisClient := testutil.StartRedis(t)
	ctx := context.Background()

	mock := testutil.NewMockCatalog(testutil.Inscriptions(30, "Dalmatia"))
	defer mock.Close()

	catCfg := catalog.DefaultConfig()
	catCfg.BaseURL = mock.URL()
	catCfg.Timeout = 5 * time.Second
	catCfg.PageCache = cache.NewManager(redisClient, cache.DefaultConfig())
	client, err := catalog.New(catCfg)
	if err != nil {
		t.Fatalf("catalog.New() error = %v", err)
	}

	acqCfg := acquire.DefaultConfig()
	acqCfg.Pagination = pagination.Config{PageSize: 20, RetryDelay: time.Millisecond, PageDelay: time.Millisecond}
	acqCfg.RetryDelay = time.Millisecond
	pipeline := acquire.New(client, acqCfg)

	dest := filepath.Join(t.TempDir(), "dalmatia")
	req := acquire.Request{
		Query:       catalog.Query{Filters: map[string]string{catalog.FilterProvince: "Dalmatia"}},
		Destination: dest,
		Workers:     4,
		Resume:      true,
	}

	// Step 1: acquire from the catalog, pages land in the cache
	report, err := pipeline.Acquire(ctx, req)
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	if len(report.Saved) != 30 {
		t.Fatalf("saved %d records, want 30", len(report.Saved))
	}
	searches := mock.GetSearchCount()

	// Step 2: a resumed acquire is served from the page cache
	report, err = pipeline.Acquire(ctx, req)
	if err != nil {
		t.Fatalf("second Acquire() error = %v", err)
	}
	if report.Skipped != 30 {
		t.Errorf("skipped = %d, want 30", report.Skipped)
	}
	if got := mock.GetSearchCount(); got != searches {
		t.Errorf("search requests after cached run = %d, want %d", got, searches)
	}

	records, err := record.LoadDir(dest, record.DefaultFieldMap())
	if err != nil {
		t.Fatalf("LoadDir() error = %v", err)
	}

	// Step 3: annotate until interrupted
	annCfg := annotate.Config{Cadence: 5, RetryDelay: time.Millisecond}
	labeler := testutil.NewScriptedLabeler()
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	labeler.OnCall = func(n int) {
		if n == 12 {
			cancel()
		}
	}

	store, err := checkpoint.NewRedisStore(ctx, redisClient, "pipeline")
	if err != nil {
		t.Fatalf("NewRedisStore() error = %v", err)
	}
	summary, err := annotate.New(labeler, store, annCfg).Run(runCtx, records, 0)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("interrupted Run() error = %v, want context.Canceled", err)
	}
	if summary.Cursor != 12 {
		t.Errorf("cursor after interruption = %d, want 12", summary.Cursor)
	}

	// Step 4: a new process resumes from the persisted cursor
	if err := store.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	labeler.OnCall = nil
	resumed, err := checkpoint.NewRedisStore(ctx, redisClient, "pipeline")
	if err != nil {
		t.Fatalf("NewRedisStore() for the resumed run error = %v", err)
	}
	defer resumed.Close()
	st, err := resumed.Load(ctx)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	summary, err = annotate.New(labeler, resumed, annCfg).Run(ctx, records, st.Cursor)
	if err != nil {
		t.Fatalf("resumed Run() error = %v", err)
	}
	if summary.Processed != 18 || summary.Cursor != 30 {
		t.Errorf("resumed summary = processed %d cursor %d, want 18 and 30", summary.Processed, summary.Cursor)
	}
	for _, rec := range records {
		if n := labeler.CallCount(rec.ID); n != 1 {
			t.Errorf("%s labeled %d times, want 1", rec.ID, n)
		}
	}

	// Step 5: export
	entries, err := resumed.Entries(ctx)
	if err != nil {
		t.Fatalf("Entries() error = %v", err)
	}
	var out bytes.Buffer
	stats, err := annotate.Export(ctx, entries, nil, &out)
	if err != nil {
		t.Fatalf("Export() error = %v", err)
	}
	if stats.Records != 30 || stats.Spans.Kept != 30 {
		t.Errorf("export stats = %+v, want 30 records with 30 spans", stats)
	}
}
