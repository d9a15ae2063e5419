package annotate

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/Sternrassler/epigraph-corpus/pkg/checkpoint"
	"github.com/Sternrassler/epigraph-corpus/pkg/span"
	"github.com/rs/zerolog/log"
)

// maxLine bounds one labeled JSONL line.
const maxLine = 8 << 20

// Line is one record of the final annotation file.
type Line struct {
	ID            string   `json:"id"`
	Text          string   `json:"text"`
	Transcription string   `json:"transcription"`
	Annotations   span.Set `json:"annotations"`
}

// ExportStats summarizes an Export.
type ExportStats struct {
	Records int `json:"records"`
	Failed  int `json:"failed"`

	// Invalid counts raw spans with structural problems (out of bounds,
	// empty, whitespace-only). Alignment may still recover some of them.
	Invalid int `json:"invalid"`

	Spans span.Stats `json:"spans"`
}

// Export aligns and reconciles the raw spans of every successful entry and
// writes one Line per record to w. Failure entries are skipped and counted.
func Export(ctx context.Context, entries []checkpoint.Entry, aligner *span.Aligner, w io.Writer) (ExportStats, error) {
	if aligner == nil {
		aligner = span.NewAligner(nil)
	}
	logger := log.With().Str("component", "export").Logger()

	var stats ExportStats
	bw := bufio.NewWriter(w)
	enc := json.NewEncoder(bw)
	enc.SetEscapeHTML(false)

	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		if e.Failed() {
			stats.Failed++
			continue
		}

		if issues := span.Validate(e.Transcription, e.Annotations); len(issues) > 0 {
			stats.Invalid += len(issues)
			for _, issue := range issues {
				logger.Debug().Str("id", e.ID).Msg(issue.Error())
			}
		}

		set, s := span.Resolve(aligner, e.Transcription, e.Annotations)
		stats.Spans.Add(s)
		if s.Dropped > 0 {
			logger.Debug().
				Str("id", e.ID).
				Int("dropped", s.Dropped).
				Int("total", s.Total).
				Msg("Dropped unalignable spans")
		}

		line := Line{
			ID:            e.ID,
			Text:          e.Text,
			Transcription: e.Transcription,
			Annotations:   set,
		}
		if err := enc.Encode(line); err != nil {
			return stats, fmt.Errorf("write %s: %w", e.ID, err)
		}
		stats.Records++
	}

	if err := bw.Flush(); err != nil {
		return stats, fmt.Errorf("flush export: %w", err)
	}

	logger.Info().
		Int("records", stats.Records).
		Int("failed", stats.Failed).
		Int("spans", stats.Spans.Total).
		Int("exact", stats.Spans.Exact).
		Int("recovered", stats.Spans.Recovered).
		Int("dropped", stats.Spans.Dropped).
		Int("overlapping", stats.Spans.Overlapping).
		Msg("Export completed")

	return stats, nil
}

// WriteLabeled writes entries as JSONL, failure entries included.
func WriteLabeled(w io.Writer, entries []checkpoint.Entry) error {
	bw := bufio.NewWriter(w)
	enc := json.NewEncoder(bw)
	enc.SetEscapeHTML(false)
	for _, e := range entries {
		if err := enc.Encode(e); err != nil {
			return fmt.Errorf("write %s: %w", e.ID, err)
		}
	}
	return bw.Flush()
}

// ReadLabeled reads a labeled JSONL file. Lines without an index take their
// position in the file.
func ReadLabeled(r io.Reader) ([]checkpoint.Entry, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLine)

	var entries []checkpoint.Entry
	line := 0
	for scanner.Scan() {
		raw := scanner.Bytes()
		if len(raw) == 0 {
			continue
		}
		e := checkpoint.Entry{Index: line}
		if err := json.Unmarshal(raw, &e); err != nil {
			return nil, fmt.Errorf("line %d: %w", line+1, err)
		}
		entries = append(entries, e)
		line++
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read labeled entries: %w", err)
	}
	return entries, nil
}
