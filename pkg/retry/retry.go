// Package retry runs transient operations under a small, fixed retry policy.
//
// Every network and disk path in the corpus pipeline retries a failed call
// once after a fixed delay. Errors decide for themselves whether they are
// worth retrying by implementing Retryable; context errors never are.
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog/log"
)

var (
	retriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "epigraph_retries_total",
		Help: "Total number of retry attempts by operation",
	}, []string{"op"})

	retryDelaySeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "epigraph_retry_delay_seconds",
		Help:    "Delay before a retry by operation",
		Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
	}, []string{"op"})

	retryExhaustedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "epigraph_retry_exhausted_total",
		Help: "Total number of operations that failed after every attempt",
	}, []string{"op"})
)

// ErrExhausted is returned when every attempt of an operation failed.
var ErrExhausted = errors.New("retry attempts exhausted")

// Retryable is implemented by errors that know whether a repeat can succeed.
type Retryable interface {
	Retryable() bool
}

// Policy holds the retry configuration for one operation.
type Policy struct {
	// Attempts is the total number of calls, including the first one.
	Attempts int

	// Delay is the fixed wait before each retry.
	Delay time.Duration
}

// Once returns a policy that retries a failed call exactly once after delay.
func Once(delay time.Duration) Policy {
	return Policy{Attempts: 2, Delay: delay}
}

// IsRetryable reports whether err is worth another attempt. Cancellation
// never is. Errors implementing Retryable decide themselves, an expired
// deadline is final, and anything else is treated as transient.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	var r Retryable
	if errors.As(err, &r) {
		return r.Retryable()
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	return true
}

// Do calls fn until it succeeds, returns a non-retryable error, or the
// policy runs out of attempts. op labels logs and metrics.
func Do(ctx context.Context, op string, p Policy, fn func(ctx context.Context) error) error {
	attempts := p.Attempts
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		err := fn(ctx)
		if err == nil {
			if attempt > 1 {
				log.Info().
					Str("op", op).
					Int("attempt", attempt).
					Msg("Operation succeeded after retry")
			}
			return nil
		}
		lastErr = err

		if !IsRetryable(err) || ctx.Err() != nil {
			return lastErr
		}
		if attempt >= attempts {
			break
		}

		retriesTotal.WithLabelValues(op).Inc()
		wait := p.Delay
		retryDelaySeconds.WithLabelValues(op).Observe(wait.Seconds())

		log.Warn().
			Err(err).
			Str("op", op).
			Int("attempt", attempt).
			Dur("delay", wait).
			Msg("Retrying after failure")

		if err := Sleep(ctx, wait); err != nil {
			return fmt.Errorf("%s interrupted during retry delay: %w", op, err)
		}
	}

	retryExhaustedTotal.WithLabelValues(op).Inc()
	log.Warn().
		Err(lastErr).
		Str("op", op).
		Int("attempts", attempts).
		Msg("Retry attempts exhausted")

	return fmt.Errorf("%s: %w after %d attempts: %w", op, ErrExhausted, attempts, lastErr)
}

// Sleep waits for d or until ctx is done, whichever comes first.
func Sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
