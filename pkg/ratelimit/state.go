// Package ratelimit paces calls to remote services that ask for politeness
// rather than publishing a quota. A Pacer enforces a fixed interval between
// consecutive calls and honors Retry-After hints from throttled responses.
package ratelimit

import (
	"net/http"
	"strconv"
	"strings"
	"time"
)

// State is a snapshot of a pacer.
type State struct {
	// Interval is the minimum spacing between calls.
	Interval time.Duration `json:"interval"`

	// Calls is the number of calls admitted so far.
	Calls int `json:"calls"`

	// LastCall is when the most recent call was admitted. Zero before the first call.
	LastCall time.Time `json:"last_call"`

	// DeferredUntil is the earliest admission time requested by a Retry-After hint.
	DeferredUntil time.Time `json:"deferred_until"`
}

// NextAllowed returns the earliest time the next call may start.
func (s State) NextAllowed(now time.Time) time.Time {
	next := now.Add(s.Interval)
	if !s.LastCall.IsZero() {
		next = s.LastCall.Add(s.Interval)
	}
	if s.DeferredUntil.After(next) {
		next = s.DeferredUntil
	}
	return next
}

// TimeUntilNext returns how long a call starting at now has to wait.
// Returns 0 if it may start immediately.
func (s State) TimeUntilNext(now time.Time) time.Duration {
	d := s.NextAllowed(now).Sub(now)
	if d < 0 {
		return 0
	}
	return d
}

// ParseRetryAfter reads the Retry-After header, either delay-seconds or an
// HTTP date. The boolean is false when the header is absent or invalid.
func ParseRetryAfter(header http.Header, now time.Time) (time.Duration, bool) {
	raw := strings.TrimSpace(header.Get("Retry-After"))
	if raw == "" {
		return 0, false
	}

	if seconds, err := strconv.Atoi(raw); err == nil {
		if seconds < 0 {
			return 0, false
		}
		return time.Duration(seconds) * time.Second, true
	}

	at, err := http.ParseTime(raw)
	if err != nil {
		return 0, false
	}
	if d := at.Sub(now); d > 0 {
		return d, true
	}
	return 0, true
}
