package span

import (
	"unicode"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var spansTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "epigraph_spans_total",
	Help: "Spans processed by alignment and reconciliation, by outcome",
}, []string{"outcome"})

// Strategy identifies which alignment step produced an aligned span.
type Strategy int

const (
	// StrategyNone means no step succeeded and the span is dropped.
	StrategyNone Strategy = iota
	// StrategyExact means the offsets already sat on token boundaries.
	StrategyExact
	// StrategyExpand means the offsets were widened to enclosing tokens.
	StrategyExpand
	// StrategyTrim means surrounding whitespace was stripped before widening.
	StrategyTrim
	// StrategyNudge means a small offset perturbation was needed.
	StrategyNudge
)

func (s Strategy) String() string {
	switch s {
	case StrategyExact:
		return "exact"
	case StrategyExpand:
		return "expand"
	case StrategyTrim:
		return "trim"
	case StrategyNudge:
		return "nudge"
	default:
		return "none"
	}
}

// symmetricShifts move both offsets together and are tried before the
// independent grid. The order is part of the alignment contract.
var symmetricShifts = []int{-1, 1, -2, 2}

// gridShifts are applied to start and end independently, start-major.
var gridShifts = []int{-2, -1, 0, 1, 2}

// Aligner snaps raw spans onto token boundaries.
type Aligner struct {
	tokenizer Tokenizer
}

// NewAligner returns an aligner using the given tokenizer, or the default
// WhitespaceTokenizer when tok is nil.
func NewAligner(tok Tokenizer) *Aligner {
	if tok == nil {
		tok = WhitespaceTokenizer{}
	}
	return &Aligner{tokenizer: tok}
}

// Align repairs [start, end) against the token boundaries of text.
// Strategies are tried in a fixed order and the first success wins:
// exact, expand, whitespace trim then expand, offset nudges. When all fail
// the returned bool is false and the span must be dropped by the caller.
func (a *Aligner) Align(text string, start, end int, label string) (Span, Strategy, bool) {
	d := newDoc(text, a.tokenizer.Tokenize(text))

	if d.exact(start, end) {
		return Span{Start: start, End: end, Label: label}, StrategyExact, true
	}

	if s, e, ok := d.expand(start, end); ok {
		return Span{Start: s, End: e, Label: label}, StrategyExpand, true
	}

	if ts, te, ok := d.trim(start, end); ok {
		if s, e, ok := d.expand(ts, te); ok {
			return Span{Start: s, End: e, Label: label}, StrategyTrim, true
		}
	}

	for _, shift := range symmetricShifts {
		if s, e, ok := d.expand(max(0, start+shift), min(d.n, end+shift)); ok {
			return Span{Start: s, End: e, Label: label}, StrategyNudge, true
		}
	}
	for _, ds := range gridShifts {
		for _, de := range gridShifts {
			if ds == 0 && de == 0 {
				continue
			}
			ns, ne := max(0, start+ds), min(d.n, end+de)
			if ns >= ne {
				continue
			}
			if s, e, ok := d.expand(ns, ne); ok {
				return Span{Start: s, End: e, Label: label}, StrategyNudge, true
			}
		}
	}

	return Span{}, StrategyNone, false
}

// doc indexes one text's tokens by code point position.
type doc struct {
	runes  []rune
	n      int
	tokens []Token
	owner  []int // code point -> token index, -1 for inter-token positions
}

func newDoc(text string, tokens []Token) *doc {
	runes := []rune(text)
	owner := make([]int, len(runes))
	for i := range owner {
		owner[i] = -1
	}
	for ti, t := range tokens {
		for p := max(0, t.Start); p < t.End && p < len(owner); p++ {
			owner[p] = ti
		}
	}
	return &doc{runes: runes, n: len(runes), tokens: tokens, owner: owner}
}

func (d *doc) inBounds(start, end int) bool {
	return start >= 0 && end <= d.n && start < end
}

func (d *doc) exact(start, end int) bool {
	if !d.inBounds(start, end) {
		return false
	}
	first, last := d.owner[start], d.owner[end-1]
	if first < 0 || last < 0 {
		return false
	}
	return d.tokens[first].Start == start && d.tokens[last].End == end
}

// expand widens [start, end) to the tokens holding its first and last code
// point. It fails when either of those falls between tokens.
func (d *doc) expand(start, end int) (int, int, bool) {
	if !d.inBounds(start, end) {
		return 0, 0, false
	}
	first, last := d.owner[start], d.owner[end-1]
	if first < 0 || last < 0 {
		return 0, 0, false
	}
	return d.tokens[first].Start, d.tokens[last].End, true
}

// trim drops leading and trailing whitespace from [start, end). It only
// succeeds when something was stripped and something remains.
func (d *doc) trim(start, end int) (int, int, bool) {
	if !d.inBounds(start, end) {
		return 0, 0, false
	}
	s, e := start, end
	for s < e && unicode.IsSpace(d.runes[s]) {
		s++
	}
	for e > s && unicode.IsSpace(d.runes[e-1]) {
		e--
	}
	if s == e || (s == start && e == end) {
		return 0, 0, false
	}
	return s, e, true
}
