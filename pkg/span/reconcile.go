package span

import (
	"sort"
)

// Reconcile selects a non-overlapping subset of spans, preferring longer
// spans where they conflict. It is the greedy approximation of weighted
// interval scheduling with weight = length:
//
//   - order candidates by length descending, then start ascending, then label
//   - accept a candidate if it overlaps no accepted span, otherwise drop it
//   - return the accepted spans ordered by start
//
// Nested spans are dropped, never merged: a whole-name span wins over the
// name-component spans inside it.
func Reconcile(spans []Span) Set {
	candidates := make([]Span, len(spans))
	copy(candidates, spans)
	sort.SliceStable(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if a.Len() != b.Len() {
			return a.Len() > b.Len()
		}
		if a.Start != b.Start {
			return a.Start < b.Start
		}
		return a.Label < b.Label
	})

	accepted := make(Set, 0, len(candidates))
	for _, c := range candidates {
		if c.Len() <= 0 {
			continue
		}
		conflict := false
		for _, a := range accepted {
			if c.Overlaps(a) {
				conflict = true
				break
			}
		}
		if !conflict {
			accepted = append(accepted, c)
		}
	}

	sort.Slice(accepted, func(i, j int) bool {
		return accepted[i].Start < accepted[j].Start
	})
	return accepted
}

// Stats counts what happened to raw spans on their way into a Set.
type Stats struct {
	Total       int `json:"total"`
	Exact       int `json:"exact"`
	Recovered   int `json:"recovered"`
	Dropped     int `json:"dropped"`
	Overlapping int `json:"overlapping"`
	Kept        int `json:"kept"`
}

// Add accumulates o into s.
func (s *Stats) Add(o Stats) {
	s.Total += o.Total
	s.Exact += o.Exact
	s.Recovered += o.Recovered
	s.Dropped += o.Dropped
	s.Overlapping += o.Overlapping
	s.Kept += o.Kept
}

// Resolve aligns every raw span against text and reconciles the survivors
// into a Set. Unalignable spans and spans lost to overlap are counted, never
// guessed.
func Resolve(a *Aligner, text string, raws []Span) (Set, Stats) {
	stats := Stats{Total: len(raws)}
	aligned := make([]Span, 0, len(raws))

	for _, r := range raws {
		s, strategy, ok := a.Align(text, r.Start, r.End, r.Label)
		switch {
		case !ok:
			stats.Dropped++
			spansTotal.WithLabelValues("dropped").Inc()
			continue
		case strategy == StrategyExact:
			stats.Exact++
			spansTotal.WithLabelValues("exact").Inc()
		default:
			stats.Recovered++
			spansTotal.WithLabelValues("recovered").Inc()
		}
		aligned = append(aligned, s)
	}

	set := Reconcile(aligned)
	stats.Overlapping = len(aligned) - len(set)
	stats.Kept = len(set)
	spansTotal.WithLabelValues("overlapping").Add(float64(stats.Overlapping))

	return set, stats
}
