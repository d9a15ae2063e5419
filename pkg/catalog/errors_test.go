package catalog

import (
	"errors"
	"net/http"
	"testing"

	"github.com/Sternrassler/epigraph-corpus/pkg/retry"
)

func TestShouldRetry(t *testing.T) {
	tests := []struct {
		class ErrorClass
		want  bool
	}{
		{ErrorClassClient, false},
		{ErrorClassServer, true},
		{ErrorClassRateLimit, true},
		{ErrorClassNetwork, true},
		{ErrorClassResponse, true},
		{"", false},
	}

	for _, tt := range tests {
		t.Run(string(tt.class), func(t *testing.T) {
			if got := shouldRetry(tt.class); got != tt.want {
				t.Errorf("shouldRetry(%q) = %v, want %v", tt.class, got, tt.want)
			}
		})
	}
}

func TestClassifyStatus(t *testing.T) {
	tests := []struct {
		code int
		want ErrorClass
	}{
		{http.StatusBadRequest, ErrorClassClient},
		{http.StatusNotFound, ErrorClassClient},
		{http.StatusTooManyRequests, ErrorClassRateLimit},
		{http.StatusInternalServerError, ErrorClassServer},
		{http.StatusServiceUnavailable, ErrorClassServer},
		{http.StatusOK, ""},
	}

	for _, tt := range tests {
		if got := classifyStatus(tt.code); got != tt.want {
			t.Errorf("classifyStatus(%d) = %q, want %q", tt.code, got, tt.want)
		}
	}
}

func TestError_Error(t *testing.T) {
	tests := []struct {
		name string
		err  *Error
		want string
	}{
		{
			name: "with wrapped error",
			err: &Error{
				Endpoint:   "fetch",
				ErrorClass: ErrorClassNetwork,
				Message:    "request failed",
				Err:        errors.New("connection refused"),
			},
			want: "catalog fetch network error (status 0): request failed: connection refused",
		},
		{
			name: "without wrapped error",
			err: &Error{
				Endpoint:   "search",
				StatusCode: 404,
				ErrorClass: ErrorClassClient,
				Message:    "404 Not Found",
			},
			want: "catalog search client error (status 404): 404 Not Found",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.want {
				t.Errorf("Error() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestError_RetryClassification(t *testing.T) {
	server := &Error{StatusCode: 503, ErrorClass: ErrorClassServer}
	client := &Error{StatusCode: 404, ErrorClass: ErrorClassClient}

	if !retry.IsRetryable(server) {
		t.Error("server error should be retryable")
	}
	if retry.IsRetryable(client) {
		t.Error("client error should not be retryable")
	}

	inner := errors.New("dial tcp: timeout")
	network := &Error{ErrorClass: ErrorClassNetwork, Err: inner}
	if !errors.Is(network, inner) {
		t.Error("Error should unwrap to its cause")
	}
}
