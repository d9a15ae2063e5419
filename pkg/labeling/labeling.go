// Package labeling asks an LLM labeling service for character-offset entity
// spans over inscription transcriptions.
package labeling

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/Sternrassler/epigraph-corpus/pkg/record"
	"github.com/Sternrassler/epigraph-corpus/pkg/span"
)

// ErrMalformedResponse indicates a response without a usable annotation list.
var ErrMalformedResponse = errors.New("malformed labeling response")

// Labeler labels one record. Implementations must bound every call in time.
type Labeler interface {
	Label(ctx context.Context, rec record.Record) (Result, error)
}

// Result is the raw labeling outcome for one record. Annotations are as
// returned by the service and may not sit on token boundaries.
type Result struct {
	ID            string      `json:"id"`
	Text          string      `json:"text"`
	Transcription string      `json:"transcription"`
	Annotations   []span.Span `json:"annotations"`

	// Invalid counts returned triples that were not [int, int, string].
	Invalid int `json:"-"`
}

// StatusError is a non-2xx response from the labeling service.
type StatusError struct {
	StatusCode int
	Message    string

	// RetryAfter is the service's Retry-After hint, zero when absent.
	RetryAfter time.Duration
}

// Error implements the error interface.
func (e *StatusError) Error() string {
	return fmt.Sprintf("labeling service error (status %d): %s", e.StatusCode, e.Message)
}

// Retryable reports true for throttling and server errors.
func (e *StatusError) Retryable() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

// TransportError is a request that failed before a response arrived,
// timeouts included.
type TransportError struct {
	Err error
}

// Error implements the error interface.
func (e *TransportError) Error() string {
	return "labeling transport error: " + e.Err.Error()
}

// Unwrap returns the underlying error.
func (e *TransportError) Unwrap() error {
	return e.Err
}

// Retryable reports true; the service may answer a second attempt.
func (e *TransportError) Retryable() bool {
	return true
}
