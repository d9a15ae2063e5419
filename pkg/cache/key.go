package cache

import (
	"fmt"
	"net/url"
	"sort"
	"strings"
)

// Key identifies a cached catalog response.
type Key struct {
	// Endpoint is the request path, e.g. "/inscriptions/search".
	Endpoint string

	// Query holds the request parameters, filters as well as offset and limit.
	Query url.Values
}

// String generates a deterministic key.
// Format: epigraph:page:endpoint:param1=val1:param2=val2
//
// Example:
//
//	epigraph:page:inscriptions/search:limit=20:offset=0:province=Dalmatia
func (k Key) String() string {
	parts := []string{"epigraph", "page"}

	if endpoint := strings.Trim(k.Endpoint, "/"); endpoint != "" {
		parts = append(parts, endpoint)
	}

	if len(k.Query) > 0 {
		names := make([]string, 0, len(k.Query))
		for name := range k.Query {
			names = append(names, name)
		}
		sort.Strings(names)

		for _, name := range names {
			values := append([]string(nil), k.Query[name]...)
			sort.Strings(values)
			parts = append(parts, fmt.Sprintf("%s=%s", name, strings.Join(values, ",")))
		}
	}

	return strings.Join(parts, ":")
}
