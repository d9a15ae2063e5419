// Package pagination walks the catalog's offset-paged search results and
// fans record work out over a bounded worker pool.
//
// The catalog reports a total and returns fixed-size pages. A Paginator
// walks them lazily from offset zero until the page is empty, the target
// count is reached, or the reported total is reached:
//
//	p := pagination.NewPaginator(client, query, 50, pagination.DefaultConfig())
//	for {
//		items, ok := p.Next(ctx)
//		if !ok {
//			break
//		}
//		// use items
//	}
//	if p.Degraded() {
//		// partial result, p.Err() holds the cause
//	}
//
// A failed page is retried once after RetryDelay. If the retry fails too the
// walk stops early and reports a degraded completion instead of an error:
// callers decide whether the partial result is good enough.
//
// Pool runs independent tasks with at most MaxWorkers goroutines:
//
//	pool := pagination.NewPool(pagination.PoolConfig{Workers: 8})
//	results := pool.Run(ctx, tasks, func(ctx context.Context, t pagination.Task) (string, error) {
//		return store.Save(ctx, t.ID, t.Payload)
//	})
//
// Every task completes exactly once. A failure never cancels its siblings.
// After cancellation, tasks that have not started complete with
// ErrAbandoned while tasks already running finish normally.
package pagination
