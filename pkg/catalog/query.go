package catalog

import (
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"
)

// Recognised filter names. Other non-empty filters are passed through verbatim.
const (
	FilterProvince        = "province"
	FilterCountry         = "country"
	FilterFindspotAncient = "findspot_ancient"
	FilterFindspotModern  = "findspot_modern"
	FilterYearFrom        = "dat_jahr_a"
	FilterYearTo          = "dat_jahr_e"
	FilterNumber          = "hd_nr"
	FilterBBox            = "bbox"
)

// Query is a set of catalog search filters.
type Query struct {
	Filters map[string]string
}

// Values returns the non-empty filters as URL parameters.
func (q Query) Values() url.Values {
	values := url.Values{}
	for name, value := range q.Filters {
		name = strings.TrimSpace(name)
		value = strings.TrimSpace(value)
		if name == "" || value == "" {
			continue
		}
		values.Set(name, value)
	}
	return values
}

// String renders the filters in sorted order, for logs.
func (q Query) String() string {
	values := q.Values()
	names := make([]string, 0, len(values))
	for name := range values {
		names = append(names, name)
	}
	sort.Strings(names)

	parts := make([]string, 0, len(names))
	for _, name := range names {
		parts = append(parts, name+"="+values.Get(name))
	}
	return strings.Join(parts, " ")
}

// Validate checks the query preconditions: at least one non-empty filter,
// integral year and number filters, and a well-formed bounding box.
func (q Query) Validate() error {
	values := q.Values()
	if len(values) == 0 {
		return fmt.Errorf("%w: at least one filter is required", ErrInvalidQuery)
	}

	for _, name := range []string{FilterYearFrom, FilterYearTo, FilterNumber} {
		if raw := values.Get(name); raw != "" {
			if _, err := strconv.Atoi(raw); err != nil {
				return fmt.Errorf("%w: %s must be an integer, got %q", ErrInvalidQuery, name, raw)
			}
		}
	}

	if from, to := values.Get(FilterYearFrom), values.Get(FilterYearTo); from != "" && to != "" {
		a, _ := strconv.Atoi(from)
		e, _ := strconv.Atoi(to)
		if a > e {
			return fmt.Errorf("%w: %s %d is after %s %d", ErrInvalidQuery, FilterYearFrom, a, FilterYearTo, e)
		}
	}

	if raw := values.Get(FilterBBox); raw != "" {
		if err := validateBBox(raw); err != nil {
			return err
		}
	}

	return nil
}

// validateBBox checks "minLon,minLat,maxLon,maxLat".
func validateBBox(raw string) error {
	parts := strings.Split(raw, ",")
	if len(parts) != 4 {
		return fmt.Errorf("%w: bbox needs 4 comma-separated numbers, got %q", ErrInvalidQuery, raw)
	}

	var c [4]float64
	for i, part := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(part), 64)
		if err != nil {
			return fmt.Errorf("%w: bbox coordinate %q is not a number", ErrInvalidQuery, part)
		}
		c[i] = v
	}

	minLon, minLat, maxLon, maxLat := c[0], c[1], c[2], c[3]
	switch {
	case minLon < -180 || maxLon > 180:
		return fmt.Errorf("%w: bbox longitude outside [-180, 180]", ErrInvalidQuery)
	case minLat < -90 || maxLat > 90:
		return fmt.Errorf("%w: bbox latitude outside [-90, 90]", ErrInvalidQuery)
	case minLon >= maxLon:
		return fmt.Errorf("%w: bbox min longitude %g is not below max %g", ErrInvalidQuery, minLon, maxLon)
	case minLat >= maxLat:
		return fmt.Errorf("%w: bbox min latitude %g is not below max %g", ErrInvalidQuery, minLat, maxLat)
	}
	return nil
}

// NormalizeID canonicalises an inscription identifier. "HD000123" and
// "hd000123" become "HD000123"; a bare number such as "123" becomes
// "HD000123".
func NormalizeID(id string) (string, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidID)
	}
	if strings.HasPrefix(strings.ToUpper(id), "HD") {
		digits := id[2:]
		if digits == "" || !isDigits(digits) {
			return "", fmt.Errorf("%w: %q", ErrInvalidID, id)
		}
		return "HD" + digits, nil
	}
	if isDigits(id) {
		n, err := strconv.Atoi(id)
		if err != nil {
			return "", fmt.Errorf("%w: %q", ErrInvalidID, id)
		}
		return fmt.Sprintf("HD%06d", n), nil
	}
	return "", fmt.Errorf("%w: %q, expected HDnnnnnn", ErrInvalidID, id)
}

func isDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return s != ""
}
