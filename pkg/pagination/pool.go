package pagination

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog/log"
)

var poolTasksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "epigraph_pool_tasks_total",
	Help: "Total number of pool tasks by result",
}, []string{"result"})

// ErrAbandoned marks a task that never started because the run was cancelled.
var ErrAbandoned = errors.New("task abandoned")

// DefaultMaxWorkers is the worker ceiling that protects the remote service.
const DefaultMaxWorkers = 10

// PoolConfig holds worker pool configuration.
type PoolConfig struct {
	// Workers is the requested number of workers.
	Workers int

	// MaxWorkers is the ceiling Workers is clamped to.
	MaxWorkers int

	// ProgressEvery logs progress after this many completions. Zero disables it.
	ProgressEvery int
}

// DefaultPoolConfig returns safe defaults for the public catalog.
func DefaultPoolConfig() PoolConfig {
	return PoolConfig{
		Workers:       4,
		MaxWorkers:    DefaultMaxWorkers,
		ProgressEvery: 10,
	}
}

// Task is one independent unit of work.
type Task struct {
	ID      string
	Payload json.RawMessage
}

// TaskResult is the outcome of one task: a location on success, an error otherwise.
type TaskResult struct {
	ID       string
	Location string
	Err      error
}

// Pool runs tasks on a bounded number of goroutines.
type Pool struct {
	workers       int
	progressEvery int
}

// NewPool creates a pool with Workers clamped to [1, MaxWorkers].
func NewPool(cfg PoolConfig) *Pool {
	ceiling := cfg.MaxWorkers
	if ceiling <= 0 {
		ceiling = DefaultMaxWorkers
	}
	workers := min(max(cfg.Workers, 1), ceiling)
	return &Pool{
		workers:       workers,
		progressEvery: cfg.ProgressEvery,
	}
}

// Workers returns the effective number of workers.
func (p *Pool) Workers() int {
	return p.workers
}

// Run executes fn for every task and returns the results in task order.
// Tasks still queued when ctx is cancelled complete with ErrAbandoned;
// tasks already running are not interrupted.
func (p *Pool) Run(ctx context.Context, tasks []Task, fn func(ctx context.Context, t Task) (string, error)) []TaskResult {
	start := time.Now()
	results := make([]TaskResult, len(tasks))
	if len(tasks) == 0 {
		return results
	}

	queue := make(chan int, len(tasks))
	for i := range tasks {
		queue <- i
	}
	close(queue)

	workCtx := context.WithoutCancel(ctx)

	var (
		mu        sync.Mutex
		completed int
		failed    int
	)
	report := func(r TaskResult) {
		mu.Lock()
		defer mu.Unlock()
		completed++
		if r.Err != nil {
			failed++
		}
		if p.progressEvery > 0 && (completed%p.progressEvery == 0 || completed == len(tasks)) {
			log.Info().
				Int("completed", completed).
				Int("total", len(tasks)).
				Int("failed", failed).
				Float64("progress_pct", float64(completed)/float64(len(tasks))*100).
				Msg("Task progress")
		}
	}

	workers := min(p.workers, len(tasks))
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			processed := 0
			for idx := range queue {
				task := tasks[idx]
				r := TaskResult{ID: task.ID}

				if ctx.Err() != nil {
					r.Err = fmt.Errorf("%w: %w", ErrAbandoned, context.Cause(ctx))
					poolTasksTotal.WithLabelValues("abandoned").Inc()
				} else {
					r.Location, r.Err = fn(workCtx, task)
					processed++
					if r.Err != nil {
						poolTasksTotal.WithLabelValues("failed").Inc()
						log.Warn().
							Err(r.Err).
							Int("worker_id", workerID).
							Str("id", task.ID).
							Msg("Task failed")
					} else {
						poolTasksTotal.WithLabelValues("succeeded").Inc()
					}
				}

				results[idx] = r
				report(r)
			}
			log.Debug().
				Int("worker_id", workerID).
				Int("tasks_processed", processed).
				Msg("Worker completed")
		}(w)
	}
	wg.Wait()

	log.Info().
		Int("tasks", len(tasks)).
		Int("failed", failed).
		Int("workers", workers).
		Dur("duration", time.Since(start)).
		Msg("Pool run complete")

	return results
}
