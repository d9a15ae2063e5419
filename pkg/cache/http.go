package cache

import (
	"net/http"
	"time"
)

// DefaultTTL is the fallback lifetime when a response carries no Expires header.
const DefaultTTL = 6 * time.Hour

// NewEntry builds a cache entry from a catalog response. The entry expires at
// the response's Expires header, or after fallback when the header is missing
// or invalid. A non-positive fallback means DefaultTTL.
func NewEntry(status int, header http.Header, body []byte, fallback time.Duration) *Entry {
	if fallback <= 0 {
		fallback = DefaultTTL
	}
	now := time.Now()
	return &Entry{
		Data:       body,
		ETag:       header.Get("ETag"),
		StatusCode: status,
		Expires:    parseExpires(header, now, fallback),
		CachedAt:   now,
	}
}

// parseExpires returns the Expires header time, now+fallback when the header
// is absent or unparseable, and now when it lies in the past.
func parseExpires(header http.Header, now time.Time, fallback time.Duration) time.Time {
	raw := header.Get("Expires")
	if raw == "" {
		return now.Add(fallback)
	}

	expires, err := http.ParseTime(raw)
	if err != nil {
		return now.Add(fallback)
	}

	if expires.Before(now) {
		return now
	}

	return expires
}
