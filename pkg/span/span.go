// Package span models character-offset entity annotations on a transcription
// and provides the two repair steps that turn raw labeling output into a
// trainable annotation set: token alignment and overlap reconciliation.
//
// All offsets are Unicode code point offsets into the transcription, which is
// what the labeling service and the downstream training tooling count in.
package span

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
)

// ErrInvalidSpan indicates a JSON value that is not a [start, end, "LABEL"] triple.
var ErrInvalidSpan = errors.New("invalid span")

// Span is a half-open [Start, End) interval carrying an entity label.
// It serializes as the JSON triple [start, end, "LABEL"].
type Span struct {
	Start int
	End   int
	Label string
}

// Len returns the number of code points covered by the span.
func (s Span) Len() int {
	return s.End - s.Start
}

// Overlaps reports whether the two half-open intervals intersect.
func (s Span) Overlaps(o Span) bool {
	return s.Start < o.End && o.Start < s.End
}

// String renders the span the way it appears in annotation files.
func (s Span) String() string {
	return fmt.Sprintf("[%d,%d,%q]", s.Start, s.End, s.Label)
}

// MarshalJSON implements json.Marshaler.
func (s Span) MarshalJSON() ([]byte, error) {
	return json.Marshal([]any{s.Start, s.End, s.Label})
}

// UnmarshalJSON implements json.Unmarshaler. Offsets must be integral numbers.
func (s *Span) UnmarshalJSON(data []byte) error {
	var parts []json.RawMessage
	if err := json.Unmarshal(data, &parts); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidSpan, err)
	}
	if len(parts) != 3 {
		return fmt.Errorf("%w: expected 3 elements, got %d", ErrInvalidSpan, len(parts))
	}

	start, err := decodeOffset(parts[0])
	if err != nil {
		return fmt.Errorf("%w: start: %v", ErrInvalidSpan, err)
	}
	end, err := decodeOffset(parts[1])
	if err != nil {
		return fmt.Errorf("%w: end: %v", ErrInvalidSpan, err)
	}

	var label string
	if err := json.Unmarshal(parts[2], &label); err != nil {
		return fmt.Errorf("%w: label must be a string", ErrInvalidSpan)
	}

	*s = Span{Start: start, End: end, Label: label}
	return nil
}

func decodeOffset(raw json.RawMessage) (int, error) {
	var f float64
	if err := json.Unmarshal(raw, &f); err != nil {
		return 0, fmt.Errorf("not a number: %s", string(raw))
	}
	if f != math.Trunc(f) || math.IsInf(f, 0) {
		return 0, fmt.Errorf("not an integer: %s", string(raw))
	}
	return int(f), nil
}

// Set is a reconciled annotation set: sorted by start, no two spans overlap.
type Set []Span

// Valid reports whether the set satisfies the sorted, non-overlapping invariant.
func (s Set) Valid() bool {
	for i := 1; i < len(s); i++ {
		if s[i].Start < s[i-1].Start || s[i].Overlaps(s[i-1]) {
			return false
		}
	}
	return true
}
