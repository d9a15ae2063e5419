// Package record defines the inscription record acquired from the catalog
// and the rules for deriving its stable identifier.
package record

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

var (
	// ErrNoIdentifier indicates a payload with neither a primary nor a fallback identifier.
	ErrNoIdentifier = errors.New("record has no identifier")

	// ErrInvalidPayload indicates a payload that is not a JSON object.
	ErrInvalidPayload = errors.New("invalid record payload")
)

// Record is one acquired inscription. Identity is ID alone.
type Record struct {
	ID            string         `json:"id"`
	Text          string         `json:"text"`
	Transcription string         `json:"transcription"`
	Metadata      map[string]any `json:"metadata,omitempty"`
}

// IDFields names the payload fields used to derive a record identifier.
type IDFields struct {
	// Primary is the string identifier field, e.g. "id".
	Primary string
	// Fallback is a numeric field used when Primary is absent, e.g. "hd_nr".
	Fallback string
	// FallbackFormat renders the fallback number, e.g. "HD%06d".
	FallbackFormat string
}

// DefaultIDFields matches the Epigraphic Database Heidelberg item layout.
func DefaultIDFields() IDFields {
	return IDFields{
		Primary:        "id",
		Fallback:       "hd_nr",
		FallbackFormat: "HD%06d",
	}
}

// FieldMap names the payload fields that populate a Record.
type FieldMap struct {
	IDs           IDFields
	Text          string
	Transcription string
}

// DefaultFieldMap matches the Epigraphic Database Heidelberg item layout.
func DefaultFieldMap() FieldMap {
	return FieldMap{
		IDs:           DefaultIDFields(),
		Text:          "diplomatic_text",
		Transcription: "transcription",
	}
}

// Identifier derives the stable identifier of a raw catalog item: the
// primary field when it is a non-empty string, otherwise the fallback
// numeric field rendered with FallbackFormat.
func Identifier(payload json.RawMessage, f IDFields) (string, error) {
	fields, err := decodeObject(payload)
	if err != nil {
		return "", err
	}
	return identifierFrom(fields, f)
}

func identifierFrom(fields map[string]json.RawMessage, f IDFields) (string, error) {
	if raw, ok := fields[f.Primary]; ok && f.Primary != "" {
		var s string
		if err := json.Unmarshal(raw, &s); err == nil && strings.TrimSpace(s) != "" {
			return strings.TrimSpace(s), nil
		}
	}

	if raw, ok := fields[f.Fallback]; ok && f.Fallback != "" {
		if n, ok := parseInt(raw); ok {
			format := f.FallbackFormat
			if format == "" {
				format = "%d"
			}
			return fmt.Sprintf(format, n), nil
		}
	}

	return "", ErrNoIdentifier
}

// parseInt accepts either a JSON number or a numeric string.
func parseInt(raw json.RawMessage) (int64, bool) {
	var n json.Number
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&n); err == nil {
		if v, err := n.Int64(); err == nil {
			return v, true
		}
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		if v, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64); err == nil {
			return v, true
		}
	}
	return 0, false
}

// FromPayload builds a Record from a stored catalog payload. Payloads that
// wrap the record in an "items" or "inscriptions" list are unwrapped to
// their first element. Scalar fields other than id, text and transcription
// become Metadata.
func FromPayload(payload []byte, m FieldMap) (Record, error) {
	fields, err := decodeObject(payload)
	if err != nil {
		return Record{}, err
	}
	fields, err = unwrap(fields)
	if err != nil {
		return Record{}, err
	}

	id, err := identifierFrom(fields, m.IDs)
	if err != nil {
		return Record{}, err
	}

	rec := Record{
		ID:            id,
		Text:          stringField(fields, m.Text),
		Transcription: CleanTranscription(stringField(fields, m.Transcription)),
		Metadata:      make(map[string]any),
	}

	skip := map[string]bool{m.IDs.Primary: true, m.Text: true, m.Transcription: true}
	for key, raw := range fields {
		if skip[key] {
			continue
		}
		if v, ok := scalar(raw); ok {
			rec.Metadata[key] = v
		}
	}

	return rec, nil
}

// CleanTranscription normalizes a transcription to NFC, drops control
// characters and trims surrounding whitespace. Span offsets produced by the
// labeling service refer to the cleaned text.
func CleanTranscription(s string) string {
	s = norm.NFC.String(s)
	s = strings.Map(func(r rune) rune {
		if r == '\n' || r == '\t' {
			return ' '
		}
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, s)
	return strings.TrimSpace(s)
}

func decodeObject(payload []byte) (map[string]json.RawMessage, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(payload, &fields); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	if fields == nil {
		return nil, fmt.Errorf("%w: null", ErrInvalidPayload)
	}
	return fields, nil
}

func unwrap(fields map[string]json.RawMessage) (map[string]json.RawMessage, error) {
	for _, key := range []string{"items", "inscriptions"} {
		raw, ok := fields[key]
		if !ok {
			continue
		}
		var list []json.RawMessage
		if err := json.Unmarshal(raw, &list); err != nil || len(list) == 0 {
			return nil, fmt.Errorf("%w: empty %q list", ErrInvalidPayload, key)
		}
		return decodeObject(list[0])
	}
	return fields, nil
}

func stringField(fields map[string]json.RawMessage, key string) string {
	raw, ok := fields[key]
	if !ok {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return ""
	}
	return s
}

func scalar(raw json.RawMessage) (any, bool) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, false
	}
	switch v.(type) {
	case string, bool, json.Number:
		return v, true
	default:
		return nil, false
	}
}
