package catalog

import (
	"errors"
	"testing"
)

func TestQuery_Validate(t *testing.T) {
	tests := []struct {
		name    string
		filters map[string]string
		wantErr bool
	}{
		{"province only", map[string]string{"province": "Dalmatia"}, false},
		{"unknown filter passes through", map[string]string{"material": "marble"}, false},
		{"no filters", nil, true},
		{"only blank filters", map[string]string{"province": "  ", "country": ""}, true},
		{"integer years", map[string]string{"dat_jahr_a": "-50", "dat_jahr_e": "150"}, false},
		{"non-integer year", map[string]string{"dat_jahr_a": "1st c."}, true},
		{"years reversed", map[string]string{"dat_jahr_a": "200", "dat_jahr_e": "100"}, true},
		{"non-integer number", map[string]string{"hd_nr": "HD001"}, true},
		{"valid bbox", map[string]string{"bbox": "13.5,42.0,19.5,46.5"}, false},
		{"bbox with spaces", map[string]string{"bbox": "13.5, 42.0, 19.5, 46.5"}, false},
		{"bbox three numbers", map[string]string{"bbox": "13.5,42.0,19.5"}, true},
		{"bbox not numeric", map[string]string{"bbox": "a,b,c,d"}, true},
		{"bbox min above max", map[string]string{"bbox": "19.5,42.0,13.5,46.5"}, true},
		{"bbox latitude out of range", map[string]string{"bbox": "13.5,-95,19.5,46.5"}, true},
		{"bbox longitude out of range", map[string]string{"bbox": "13.5,42.0,190,46.5"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Query{Filters: tt.filters}.Validate()
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidQuery) {
					t.Errorf("Validate() = %v, want ErrInvalidQuery", err)
				}
				return
			}
			if err != nil {
				t.Errorf("Validate() unexpected error: %v", err)
			}
		})
	}
}

func TestQuery_ValuesAndString(t *testing.T) {
	q := Query{Filters: map[string]string{
		"province":        " Dalmatia ",
		"country":         "",
		"findspot_modern": "Split",
	}}

	values := q.Values()
	if len(values) != 2 {
		t.Errorf("Values() = %v, want 2 entries", values)
	}
	if values.Get("province") != "Dalmatia" {
		t.Errorf("province = %q, want trimmed", values.Get("province"))
	}
	if got, want := q.String(), "findspot_modern=Split province=Dalmatia"; got != want {
		t.Errorf("String() = %q, want %q", got, want)
	}
}

func TestNormalizeID(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{"HD000123", "HD000123", false},
		{"hd000123", "HD000123", false},
		{" 123 ", "HD000123", false},
		{"1234567", "HD1234567", false},
		{"", "", true},
		{"HD", "", true},
		{"HD12a", "", true},
		{"CIL 3 1234", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := NormalizeID(tt.in)
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidID) {
					t.Errorf("NormalizeID(%q) error = %v, want ErrInvalidID", tt.in, err)
				}
				return
			}
			if err != nil || got != tt.want {
				t.Errorf("NormalizeID(%q) = %q, %v; want %q", tt.in, got, err, tt.want)
			}
		})
	}
}
