// Package annotate drives sequential, checkpointed labeling of records and
// turns the labeled checkpoint into the final reconciled annotation file.
package annotate

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync/atomic"
	"time"

	"github.com/Sternrassler/epigraph-corpus/pkg/checkpoint"
	"github.com/Sternrassler/epigraph-corpus/pkg/labeling"
	"github.com/Sternrassler/epigraph-corpus/pkg/ratelimit"
	"github.com/Sternrassler/epigraph-corpus/pkg/record"
	"github.com/Sternrassler/epigraph-corpus/pkg/retry"
	"github.com/Sternrassler/epigraph-corpus/pkg/span"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var (
	recordsLabeledTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "epigraph_records_labeled_total",
		Help: "Total records processed by the annotation orchestrator by result",
	}, []string{"result"})

	orchestratorState = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "epigraph_orchestrator_state",
		Help: "Current orchestrator state (0 not started, 1 running, 2 checkpointed, 3 interrupted, 4 completed)",
	})
)

// ErrInvalidResume indicates a resume index outside the record list.
var ErrInvalidResume = errors.New("invalid resume index")

// State is the lifecycle of one orchestrator job.
type State int32

// Orchestrator states. Interrupted is re-entered as Running by a new Run
// with an explicit resume index.
const (
	NotStarted State = iota
	Running
	Checkpointed
	Interrupted
	Completed
)

func (s State) String() string {
	switch s {
	case NotStarted:
		return "not_started"
	case Running:
		return "running"
	case Checkpointed:
		return "checkpointed"
	case Interrupted:
		return "interrupted"
	case Completed:
		return "completed"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Config holds orchestrator settings.
type Config struct {
	// Cadence is the number of completed records between checkpoint flushes.
	Cadence int

	// RateDelay is the minimum time between labeling calls.
	RateDelay time.Duration

	// RetryDelay is the wait before the single retry of a failed call.
	RetryDelay time.Duration
}

// DefaultConfig returns the orchestrator defaults.
func DefaultConfig() Config {
	return Config{
		Cadence:    10,
		RateDelay:  time.Second,
		RetryDelay: 5 * time.Second,
	}
}

// Summary reports one Run.
type Summary struct {
	// Labeled holds the successfully labeled entries of this run.
	Labeled []checkpoint.Entry

	Failures  int
	Processed int

	// Cursor is the last persisted resume index.
	Cursor int
	RunID  string

	// Interrupted is set when the run stopped on cancellation.
	Interrupted bool

	// Shifted is set when the record just before the resume position is not
	// the one checkpointed at that index, i.e. the input changed between runs.
	Shifted bool
}

// Orchestrator labels records one at a time and checkpoints progress.
type Orchestrator struct {
	labeler labeling.Labeler
	store   checkpoint.Store
	config  Config
	pacer   *ratelimit.Pacer
	state   atomic.Int32
	logger  zerolog.Logger
}

// New creates an orchestrator. The store is owned by the caller.
func New(l labeling.Labeler, store checkpoint.Store, cfg Config) *Orchestrator {
	if cfg.Cadence <= 0 {
		cfg.Cadence = DefaultConfig().Cadence
	}
	logger := log.With().Str("component", "annotate").Logger()
	o := &Orchestrator{
		labeler: l,
		store:   store,
		config:  cfg,
		pacer:   ratelimit.NewPacer("labeling", cfg.RateDelay, logger),
		logger:  logger,
	}
	o.setState(NotStarted)
	return o
}

// shifted compares records[resumeFrom-1] with the entry checkpointed at that
// index. Records are addressed by position, so new files in the input
// directory move later records to other indices.
func (o *Orchestrator) shifted(ctx context.Context, records []record.Record, resumeFrom int) (bool, error) {
	entries, err := o.store.Entries(ctx)
	if err != nil {
		return false, fmt.Errorf("read checkpoint entries: %w", err)
	}
	want := resumeFrom - 1
	i := sort.Search(len(entries), func(i int) bool { return entries[i].Index >= want })
	if i == len(entries) || entries[i].Index != want {
		return false, nil
	}
	return entries[i].ID != records[want].ID, nil
}

// State returns the current lifecycle state.
func (o *Orchestrator) State() State {
	return State(o.state.Load())
}

func (o *Orchestrator) setState(s State) {
	o.state.Store(int32(s))
	orchestratorState.Set(float64(s))
}

// Run labels records[resumeFrom:] in order. A record that still fails after
// its retry becomes a failure entry and the job continues. Every Cadence
// completed records, and once more at the end or on cancellation, the
// buffered entries are flushed and the cursor advanced.
//
// On cancellation Run returns the summary together with the context error.
// A flush failure aborts the run; the previous checkpoint stays intact.
func (o *Orchestrator) Run(ctx context.Context, records []record.Record, resumeFrom int) (Summary, error) {
	if resumeFrom < 0 || resumeFrom > len(records) {
		return Summary{}, fmt.Errorf("%w: %d not in [0, %d]", ErrInvalidResume, resumeFrom, len(records))
	}

	persisted, err := o.store.Load(ctx)
	if err != nil {
		return Summary{}, fmt.Errorf("load checkpoint: %w", err)
	}
	if resumeFrom < persisted.Cursor {
		return Summary{}, fmt.Errorf("resume from %d: %w (checkpoint at %d)",
			resumeFrom, checkpoint.ErrCursorRegression, persisted.Cursor)
	}

	sum := Summary{
		RunID:  uuid.NewString(),
		Cursor: persisted.Cursor,
	}
	logger := o.logger.With().Str("run_id", sum.RunID).Logger()

	if persisted.Cursor > 0 && resumeFrom > 0 {
		if sum.Shifted, err = o.shifted(ctx, records, resumeFrom); err != nil {
			return Summary{}, err
		}
		if sum.Shifted {
			logger.Warn().
				Int("resume_from", resumeFrom).
				Str("id", records[resumeFrom-1].ID).
				Msg("Input records differ from the checkpoint at the resume position; records may be skipped or labeled twice")
		}
	}

	o.setState(Running)
	logger.Info().
		Int("records", len(records)).
		Int("resume_from", resumeFrom).
		Int("cadence", o.config.Cadence).
		Dur("rate_delay", o.config.RateDelay).
		Msg("Starting annotation run")

	var buffer []checkpoint.Entry
	cursor := resumeFrom

	flush := func() error {
		st := checkpoint.State{Cursor: cursor, RunID: sum.RunID, UpdatedAt: time.Now().UTC()}
		// The flush must land even when ctx is already cancelled.
		if err := o.store.Flush(context.WithoutCancel(ctx), st, buffer); err != nil {
			return fmt.Errorf("flush checkpoint at %d: %w", cursor, err)
		}
		buffer = nil
		sum.Cursor = cursor
		o.setState(Checkpointed)
		logger.Info().Int("cursor", cursor).Msg("Checkpoint saved")
		return nil
	}

	for i := resumeFrom; i < len(records); i++ {
		if ctx.Err() != nil {
			break
		}
		o.setState(Running)

		entry, err := o.label(ctx, i, records[i])
		if err != nil && ctx.Err() != nil {
			// Cancelled mid-call: the record was not completed and stays
			// behind the cursor.
			break
		}

		if entry.Failed() {
			sum.Failures++
			recordsLabeledTotal.WithLabelValues("failed").Inc()
			logger.Warn().
				Int("index", i).
				Str("id", entry.ID).
				Str("error", entry.Error).
				Msg("Labeling failed after retry, recording failure")
		} else {
			sum.Labeled = append(sum.Labeled, entry)
			recordsLabeledTotal.WithLabelValues("success").Inc()
			logger.Info().
				Int("index", i).
				Int("total", len(records)).
				Str("id", entry.ID).
				Int("entities", len(entry.Annotations)).
				Msg("Record labeled")
		}

		buffer = append(buffer, entry)
		cursor = i + 1
		sum.Processed++

		if cursor%o.config.Cadence == 0 {
			if err := flush(); err != nil {
				o.setState(Interrupted)
				return sum, err
			}
		}
	}

	if len(buffer) > 0 || cursor != sum.Cursor {
		if err := flush(); err != nil {
			o.setState(Interrupted)
			return sum, err
		}
	}

	if err := ctx.Err(); err != nil {
		sum.Interrupted = true
		o.setState(Interrupted)
		logger.Warn().
			Int("cursor", sum.Cursor).
			Int("processed", sum.Processed).
			Msg("Annotation run interrupted, resume from the saved cursor")
		return sum, err
	}

	o.setState(Completed)
	logger.Info().
		Int("processed", sum.Processed).
		Int("labeled", len(sum.Labeled)).
		Int("failures", sum.Failures).
		Int("cursor", sum.Cursor).
		Msg("Annotation run completed")

	return sum, nil
}

// label labels one record with a single retry. The returned error is only
// non-nil when the context ended the attempt; other failures come back as a
// failure entry.
func (o *Orchestrator) label(ctx context.Context, index int, rec record.Record) (checkpoint.Entry, error) {
	entry := checkpoint.Entry{
		Index:         index,
		ID:            rec.ID,
		Text:          rec.Text,
		Transcription: rec.Transcription,
	}

	var res labeling.Result
	err := retry.Do(ctx, "label", retry.Once(o.config.RetryDelay), func(ctx context.Context) error {
		if err := o.pacer.Wait(ctx); err != nil {
			return err
		}
		var err error
		res, err = o.labeler.Label(ctx, rec)
		var statusErr *labeling.StatusError
		if errors.As(err, &statusErr) && statusErr.RetryAfter > 0 {
			o.pacer.Defer(statusErr.RetryAfter)
		}
		return err
	})
	if err != nil {
		if ctx.Err() != nil {
			return entry, err
		}
		entry.Error = err.Error()
		return entry, nil
	}

	entry.Annotations = res.Annotations
	if entry.Annotations == nil {
		entry.Annotations = []span.Span{}
	}
	return entry, nil
}
