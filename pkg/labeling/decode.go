package labeling

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/Sternrassler/epigraph-corpus/pkg/span"
)

// DecodeJSON extracts the JSON object from a model reply. Markdown code
// fences and any prose around the outermost braces are removed.
func DecodeJSON(reply string) ([]byte, error) {
	text := strings.TrimSpace(reply)
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSuffix(text, "```")
	text = strings.TrimSpace(text)

	open := strings.IndexByte(text, '{')
	end := strings.LastIndexByte(text, '}')
	if open < 0 || end < open {
		return nil, fmt.Errorf("%w: no JSON object in reply", ErrMalformedResponse)
	}

	obj := []byte(text[open : end+1])
	if !json.Valid(obj) {
		return nil, fmt.Errorf("%w: reply is not valid JSON", ErrMalformedResponse)
	}
	return obj, nil
}

// DecodeResult parses a model reply into a Result. The reply must contain
// an "annotations" list; triples that are not [int, int, string] are
// discarded and counted in Invalid.
func DecodeResult(reply string) (Result, error) {
	obj, err := DecodeJSON(reply)
	if err != nil {
		return Result{}, err
	}

	var raw struct {
		ID            string          `json:"id"`
		Text          string          `json:"text"`
		Transcription string          `json:"transcription"`
		Annotations   json.RawMessage `json:"annotations"`
	}
	if err := json.Unmarshal(obj, &raw); err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}

	trimmed := bytes.TrimSpace(raw.Annotations)
	if len(trimmed) == 0 || trimmed[0] != '[' {
		return Result{}, fmt.Errorf("%w: missing or non-list annotations", ErrMalformedResponse)
	}

	var triples []json.RawMessage
	if err := json.Unmarshal(trimmed, &triples); err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}

	res := Result{
		ID:            raw.ID,
		Text:          raw.Text,
		Transcription: raw.Transcription,
		Annotations:   make([]span.Span, 0, len(triples)),
	}
	for _, t := range triples {
		var s span.Span
		if err := json.Unmarshal(t, &s); err != nil {
			res.Invalid++
			continue
		}
		res.Annotations = append(res.Annotations, s)
	}
	return res, nil
}
