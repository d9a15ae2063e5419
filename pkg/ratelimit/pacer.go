package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
)

var (
	pacerWaitSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "epigraph_pacer_wait_seconds",
		Help:    "Time spent waiting for the politeness interval by pacer",
		Buckets: []float64{0, 0.5, 1, 2, 4, 8, 16, 60},
	}, []string{"pacer"})

	pacerDeferralsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "epigraph_pacer_deferrals_total",
		Help: "Total number of Retry-After deferrals by pacer",
	}, []string{"pacer"})
)

// Pacer admits one call per interval. The first call also waits a full
// interval, so a restarted process never fires immediately after the
// previous one stopped. Safe for concurrent use; concurrent callers are
// admitted one interval apart.
type Pacer struct {
	name     string
	interval time.Duration
	logger   zerolog.Logger

	mu    sync.Mutex
	state State
	now   func() time.Time
}

// NewPacer creates a pacer. name labels metrics and logs.
func NewPacer(name string, interval time.Duration, logger zerolog.Logger) *Pacer {
	if interval < 0 {
		interval = 0
	}
	return &Pacer{
		name:     name,
		interval: interval,
		logger:   logger,
		state:    State{Interval: interval},
		now:      time.Now,
	}
}

// Wait blocks until the next call may start, then records it as started.
// It returns ctx.Err() if the context is done first; the slot stays
// reserved in that case.
func (p *Pacer) Wait(ctx context.Context) error {
	p.mu.Lock()
	now := p.now()
	next := p.state.NextAllowed(now)
	if next.Before(now) {
		next = now
	}
	p.state.LastCall = next
	p.state.Calls++
	p.mu.Unlock()

	wait := next.Sub(now)
	pacerWaitSeconds.WithLabelValues(p.name).Observe(wait.Seconds())
	if wait <= 0 {
		return ctx.Err()
	}

	p.logger.Debug().
		Str("pacer", p.name).
		Dur("wait", wait).
		Msg("Pacing call")

	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Defer pushes the next admission at least d into the future, typically
// from a Retry-After hint.
func (p *Pacer) Defer(d time.Duration) {
	if d <= 0 {
		return
	}

	p.mu.Lock()
	until := p.now().Add(d)
	if until.After(p.state.DeferredUntil) {
		p.state.DeferredUntil = until
	}
	p.mu.Unlock()

	pacerDeferralsTotal.WithLabelValues(p.name).Inc()
	p.logger.Warn().
		Str("pacer", p.name).
		Dur("defer", d).
		Msg("Service asked to slow down, deferring next call")
}

func (p *Pacer) snapshot() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}
