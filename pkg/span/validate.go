package span

import (
	"fmt"
	"strings"
)

// Issue describes a structural problem with a raw span.
type Issue struct {
	Index  int
	Span   Span
	Reason string
}

func (i Issue) Error() string {
	return fmt.Sprintf("span %d %s: %s", i.Index, i.Span, i.Reason)
}

// Validate reports raw spans that are out of bounds, empty, inverted or cover
// only whitespace in text. It does not modify anything; alignment may still
// recover some of the reported spans.
func Validate(text string, spans []Span) []Issue {
	runes := []rune(text)
	var issues []Issue
	for i, s := range spans {
		switch {
		case s.Start < 0:
			issues = append(issues, Issue{Index: i, Span: s, Reason: "negative start"})
		case s.End > len(runes):
			issues = append(issues, Issue{Index: i, Span: s, Reason: fmt.Sprintf("end exceeds text length %d", len(runes))})
		case s.Start >= s.End:
			issues = append(issues, Issue{Index: i, Span: s, Reason: "start not before end"})
		case strings.TrimSpace(string(runes[s.Start:s.End])) == "":
			issues = append(issues, Issue{Index: i, Span: s, Reason: "whitespace-only span"})
		case strings.TrimSpace(s.Label) == "":
			issues = append(issues, Issue{Index: i, Span: s, Reason: "empty label"})
		}
	}
	return issues
}
