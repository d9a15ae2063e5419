// Package testutil provides test doubles for the epigraphic catalog and the
// labeling service.
package testutil

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"
)

const (
	// SearchPath is the search endpoint served by MockCatalog.
	SearchPath = "/inscriptions/search"

	// FetchPrefix is the fetch-by-id endpoint prefix served by MockCatalog.
	FetchPrefix = "/inscriptions/"
)

// MockResponse defines a canned response for a path.
type MockResponse struct {
	StatusCode int
	Body       string
	Headers    map[string]string
	Delay      time.Duration
}

// MockCatalog is a configurable mock of the epigraphic catalog. Search pages
// through Items honoring offset and limit; fetch returns the item whose "id"
// matches the last path segment.
type MockCatalog struct {
	server   *httptest.Server
	mu       sync.RWMutex
	handlers map[string]func(w http.ResponseWriter, r *http.Request)
	failures map[string][]int

	items []json.RawMessage
	total int

	// Tracking
	RequestCount int
	SearchCount  int
	FetchCount   int
	LastQuery    url.Values
}

// NewMockCatalog creates a mock catalog serving items. The reported total is
// len(items) unless changed with SetTotal.
func NewMockCatalog(items []json.RawMessage) *MockCatalog {
	mock := &MockCatalog{
		handlers: make(map[string]func(w http.ResponseWriter, r *http.Request)),
		failures: make(map[string][]int),
		items:    items,
		total:    len(items),
	}

	mock.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mock.mu.Lock()
		mock.RequestCount++
		path := r.URL.Path
		if path == SearchPath {
			mock.SearchCount++
			mock.LastQuery = r.URL.Query()
		} else if strings.HasPrefix(path, FetchPrefix) {
			mock.FetchCount++
		}
		status, fail := mock.popFailure(path)
		handler, custom := mock.handlers[path]
		mock.mu.Unlock()

		if fail {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(status)
			fmt.Fprintf(w, `{"error":"injected failure %d"}`, status)
			return
		}

		if custom {
			handler(w, r)
			return
		}

		switch {
		case path == SearchPath:
			mock.search(w, r)
		case strings.HasPrefix(path, FetchPrefix):
			mock.fetch(w, strings.TrimPrefix(path, FetchPrefix))
		default:
			http.NotFound(w, r)
		}
	}))

	return mock
}

// URL returns the mock server URL.
func (m *MockCatalog) URL() string {
	return m.server.URL
}

// Close shuts down the mock server.
func (m *MockCatalog) Close() {
	m.server.Close()
}

// Reset clears all tracking counters.
func (m *MockCatalog) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.RequestCount = 0
	m.SearchCount = 0
	m.FetchCount = 0
	m.LastQuery = nil
}

// SetTotal overrides the total reported by search. A negative value omits it.
func (m *MockCatalog) SetTotal(total int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.total = total
}

// FailNext makes the next len(statuses) requests to path fail with the given
// status codes, in order. Use FetchPrefix+id for a single record.
func (m *MockCatalog) FailNext(path string, statuses ...int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures[path] = append(m.failures[path], statuses...)
}

// SetHandler sets a custom handler for a specific path.
func (m *MockCatalog) SetHandler(path string, handler func(w http.ResponseWriter, r *http.Request)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[path] = handler
}

// SetResponse configures a canned response for a path.
func (m *MockCatalog) SetResponse(path string, resp MockResponse) {
	m.SetHandler(path, func(w http.ResponseWriter, r *http.Request) {
		if resp.Delay > 0 {
			time.Sleep(resp.Delay)
		}
		for key, value := range resp.Headers {
			w.Header().Set(key, value)
		}
		w.WriteHeader(resp.StatusCode)
		if resp.Body != "" {
			w.Write([]byte(resp.Body))
		}
	})
}

// GetRequestCount returns the number of requests made to the server.
func (m *MockCatalog) GetRequestCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.RequestCount
}

// GetSearchCount returns the number of search requests.
func (m *MockCatalog) GetSearchCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.SearchCount
}

// GetFetchCount returns the number of fetch-by-id requests.
func (m *MockCatalog) GetFetchCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.FetchCount
}

// GetLastQuery returns the parameters of the most recent search request.
func (m *MockCatalog) GetLastQuery() url.Values {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.LastQuery
}

// popFailure must be called with mu held.
func (m *MockCatalog) popFailure(path string) (int, bool) {
	queue := m.failures[path]
	if len(queue) == 0 {
		return 0, false
	}
	m.failures[path] = queue[1:]
	return queue[0], true
}

func (m *MockCatalog) search(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	offset, _ := strconv.Atoi(q.Get("offset"))
	limit, err := strconv.Atoi(q.Get("limit"))
	if err != nil || limit <= 0 {
		limit = 20
	}

	m.mu.RLock()
	items := m.items
	total := m.total
	m.mu.RUnlock()

	page := []json.RawMessage{}
	if offset < len(items) {
		end := min(offset+limit, len(items))
		page = items[offset:end]
	}

	body := map[string]any{
		"items":  page,
		"offset": offset,
		"limit":  limit,
	}
	if total >= 0 {
		body["total"] = total
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("Expires", time.Now().Add(5*time.Minute).Format(http.TimeFormat))
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(body)
}

func (m *MockCatalog) fetch(w http.ResponseWriter, id string) {
	m.mu.RLock()
	items := m.items
	m.mu.RUnlock()

	for _, item := range items {
		var head struct {
			ID string `json:"id"`
		}
		if err := json.Unmarshal(item, &head); err == nil && head.ID == id {
			w.Header().Set("Content-Type", "application/json; charset=utf-8")
			w.WriteHeader(http.StatusOK)
			w.Write(item)
			return
		}
	}
	w.WriteHeader(http.StatusNotFound)
	w.Write([]byte(`{"error":"not found"}`))
}

// Inscriptions generates n catalog items from the given province with
// identifiers HD000001..HDnnnnnn.
func Inscriptions(n int, province string) []json.RawMessage {
	items := make([]json.RawMessage, 0, n)
	for i := 1; i <= n; i++ {
		item := fmt.Sprintf(
			`{"id":"HD%06d","hd_nr":%d,"province_label":%q,"diplomatic_text":"D M / C IVLIO %d","transcription":"D(is) M(anibus) C(aio) Iulio Valenti %d"}`,
			i, i, province, i, i,
		)
		items = append(items, json.RawMessage(item))
	}
	return items
}
