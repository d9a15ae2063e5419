package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/Sternrassler/epigraph-corpus/pkg/annotate"
	"github.com/Sternrassler/epigraph-corpus/pkg/checkpoint"
	"github.com/Sternrassler/epigraph-corpus/pkg/record"
)

type annotateOptions struct {
	inputDir   string
	output     string
	job        string
	backend    string
	resumeFrom int
	autoResume bool
	limit      int
	cadence    int
}

func newAnnotateCommand(ctx *commandContext) *cobra.Command {
	var opts annotateOptions

	cmd := &cobra.Command{
		Use:   "annotate",
		Short: "Label stored records with the labeling service",
		Long: "Send every record of the input directory to the labeling service, in\n" +
			"file name order, checkpointing progress under the job name. An\n" +
			"interrupted run continues with --auto-resume. The labeled entries of\n" +
			"the job are written to the output file when the run ends.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			runCtx := cmd.Context()

			inputDir := cfg.Annotate.InputDir
			if opts.inputDir != "" {
				inputDir = opts.inputDir
			}
			output := cfg.Annotate.Output
			if opts.output != "" {
				output = opts.output
			}
			cpCfg := cfg.Annotate.Checkpoint
			if opts.job != "" {
				cpCfg.Job = opts.job
			}
			if opts.backend != "" {
				cpCfg.Backend = opts.backend
			}
			annCfg := cfg.AnnotateConfig()
			if opts.cadence > 0 {
				annCfg.Cadence = opts.cadence
			}

			records, err := record.LoadDir(inputDir, record.DefaultFieldMap())
			if err != nil {
				return err
			}
			if opts.limit > 0 && opts.limit < len(records) {
				records = records[:opts.limit]
			}

			labeler, err := ctx.newLabeler(cfg.LabelingConfig())
			if err != nil {
				return fmt.Errorf("create labeling client: %w", err)
			}

			store, err := checkpoint.Open(runCtx, cpCfg)
			if err != nil {
				return fmt.Errorf("open checkpoint: %w", err)
			}
			defer store.Close()

			resumeFrom := 0
			switch {
			case opts.autoResume:
				st, err := store.Load(runCtx)
				if err != nil {
					return fmt.Errorf("load checkpoint: %w", err)
				}
				resumeFrom = st.Cursor
			case cmd.Flags().Changed("resume-from"):
				resumeFrom = opts.resumeFrom
			}

			summary, runErr := annotate.New(labeler, store, annCfg).Run(runCtx, records, resumeFrom)
			if runErr != nil && !errors.Is(runErr, context.Canceled) {
				if errors.Is(runErr, checkpoint.ErrCursorRegression) {
					return fmt.Errorf("%w; pass --auto-resume to continue job %q", runErr, cpCfg.Job)
				}
				return runErr
			}

			// The labeled file reflects the whole job, so an interrupted run
			// still leaves everything checkpointed so far on disk.
			written, err := writeLabeled(context.WithoutCancel(runCtx), store, output)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Job: %s (run %s)\n", cpCfg.Job, summary.RunID)
			fmt.Fprintf(out, "Processed: %d, labeled: %d, failed: %d\n", summary.Processed, len(summary.Labeled), summary.Failures)
			fmt.Fprintf(out, "Cursor: %d/%d\n", summary.Cursor, len(records))
			fmt.Fprintf(out, "Wrote %d entries to %s\n", written, output)
			if summary.Shifted {
				fmt.Fprintln(out, "Warning: input records changed since the checkpoint; positions no longer match")
			}
			if summary.Interrupted {
				fmt.Fprintln(out, "Run interrupted; continue with --auto-resume")
			}
			return runErr
		},
	}

	flags := cmd.Flags()
	flags.StringVarP(&opts.inputDir, "input-dir", "i", "", "Directory of stored records")
	flags.StringVarP(&opts.output, "output", "o", "", "Labeled JSONL output file")
	flags.StringVar(&opts.job, "job", "", "Checkpoint job name")
	flags.StringVar(&opts.backend, "backend", "", "Checkpoint backend (file, redis, sqlite)")
	flags.IntVar(&opts.resumeFrom, "resume-from", 0, "Start at this record index")
	flags.BoolVar(&opts.autoResume, "auto-resume", false, "Start at the checkpointed cursor")
	flags.IntVar(&opts.limit, "limit", 0, "Label at most this many records (0 for all)")
	flags.IntVar(&opts.cadence, "cadence", 0, "Records between checkpoint flushes")
	cmd.MarkFlagsMutuallyExclusive("resume-from", "auto-resume")

	return cmd
}

func writeLabeled(ctx context.Context, store checkpoint.Store, path string) (int, error) {
	entries, err := store.Entries(ctx)
	if err != nil {
		return 0, fmt.Errorf("read checkpoint entries: %w", err)
	}

	f, err := createOutput(path)
	if err != nil {
		return 0, err
	}
	if err := annotate.WriteLabeled(f, entries); err != nil {
		f.Discard()
		return 0, err
	}
	if err := f.Commit(); err != nil {
		return 0, err
	}

	log.Info().Str("path", path).Int("entries", len(entries)).Msg("Labeled output written")
	return len(entries), nil
}
