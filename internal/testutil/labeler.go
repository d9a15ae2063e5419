package testutil

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/Sternrassler/epigraph-corpus/pkg/labeling"
	"github.com/Sternrassler/epigraph-corpus/pkg/record"
	"github.com/Sternrassler/epigraph-corpus/pkg/span"
)

// LabelOutcome is one scripted reply of a ScriptedLabeler.
type LabelOutcome struct {
	Annotations []span.Span
	Err         error
}

// ScriptedLabeler is an in-memory labeling.Labeler. Scripted outcomes for an
// identifier are consumed in order; once exhausted (or when none were
// scripted) the labeler tags the first token of the transcription as NOMEN.
type ScriptedLabeler struct {
	mu      sync.Mutex
	script  map[string][]LabelOutcome
	failing map[string]error
	calls   []string

	// OnCall runs after each call with the total call count so far.
	OnCall func(n int)
}

// NewScriptedLabeler creates an empty scripted labeler.
func NewScriptedLabeler() *ScriptedLabeler {
	return &ScriptedLabeler{
		script:  make(map[string][]LabelOutcome),
		failing: make(map[string]error),
	}
}

// Script queues outcomes for one identifier.
func (s *ScriptedLabeler) Script(id string, outcomes ...LabelOutcome) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.script[id] = append(s.script[id], outcomes...)
}

// FailAlways makes every call for id return err.
func (s *ScriptedLabeler) FailAlways(id string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failing[id] = err
}

// Label implements labeling.Labeler.
func (s *ScriptedLabeler) Label(ctx context.Context, rec record.Record) (labeling.Result, error) {
	if err := ctx.Err(); err != nil {
		return labeling.Result{}, err
	}

	s.mu.Lock()
	s.calls = append(s.calls, rec.ID)
	n := len(s.calls)
	outcome, scripted := s.next(rec)
	hook := s.OnCall
	s.mu.Unlock()

	if hook != nil {
		hook(n)
	}

	if !scripted {
		outcome = LabelOutcome{Annotations: firstToken(rec.Transcription)}
	}
	if outcome.Err != nil {
		return labeling.Result{}, outcome.Err
	}

	return labeling.Result{
		ID:            rec.ID,
		Text:          rec.Text,
		Transcription: rec.Transcription,
		Annotations:   outcome.Annotations,
	}, nil
}

func (s *ScriptedLabeler) next(rec record.Record) (LabelOutcome, bool) {
	if err, ok := s.failing[rec.ID]; ok {
		return LabelOutcome{Err: err}, true
	}
	queue := s.script[rec.ID]
	if len(queue) == 0 {
		return LabelOutcome{}, false
	}
	s.script[rec.ID] = queue[1:]
	return queue[0], true
}

// Calls returns the identifiers labeled so far, in call order.
func (s *ScriptedLabeler) Calls() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.calls))
	copy(out, s.calls)
	return out
}

// CallCount returns how often id was labeled.
func (s *ScriptedLabeler) CallCount(id string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, c := range s.calls {
		if c == id {
			n++
		}
	}
	return n
}

func firstToken(text string) []span.Span {
	word, _, _ := strings.Cut(text, " ")
	if word == "" {
		return []span.Span{}
	}
	return []span.Span{{Start: 0, End: utf8.RuneCountInString(word), Label: "NOMEN"}}
}

// Records builds n records with distinct identifiers and short transcriptions.
func Records(n int) []record.Record {
	out := make([]record.Record, n)
	for i := range out {
		out[i] = record.Record{
			ID:            fmt.Sprintf("HD%06d", i+1),
			Text:          fmt.Sprintf("D M / C IVLIO %d", i+1),
			Transcription: fmt.Sprintf("D(is) M(anibus) C(aio) Iulio Valenti %d", i+1),
		}
	}
	return out
}
