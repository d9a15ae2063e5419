package cache

import (
	"time"
)

// Entry is one cached catalog response.
type Entry struct {
	// Data is the response body.
	Data []byte `json:"data"`

	// ETag of the response, if the catalog sent one.
	ETag string `json:"etag,omitempty"`

	// StatusCode of the cached response.
	StatusCode int `json:"status_code"`

	// Expires is when the entry becomes stale.
	Expires time.Time `json:"expires"`

	// CachedAt is when the entry was created.
	CachedAt time.Time `json:"cached_at"`
}

// IsExpired returns true if the entry has expired.
func (e *Entry) IsExpired() bool {
	return !time.Now().Before(e.Expires)
}

// TTL returns the time until expiration, or 0 if already expired.
func (e *Entry) TTL() time.Duration {
	ttl := time.Until(e.Expires)
	if ttl < 0 {
		return 0
	}
	return ttl
}
