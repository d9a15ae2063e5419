package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Sternrassler/epigraph-corpus/pkg/annotate"
	"github.com/Sternrassler/epigraph-corpus/pkg/span"
)

func newReconcileCommand(ctx *commandContext) *cobra.Command {
	var inPath string
	var outPath string

	cmd := &cobra.Command{
		Use:   "reconcile",
		Short: "Align and de-overlap labeled spans for training",
		Long: "Read a labeled JSONL file, snap every span to token boundaries,\n" +
			"resolve overlaps and write one training line per labeled record.\n" +
			"Records whose labeling failed are skipped.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			if inPath == "" {
				inPath = cfg.Annotate.Output
			}
			if outPath == "" {
				outPath = reconciledPath(inPath)
			}
			if outPath == inPath {
				return fmt.Errorf("output %s would overwrite the input", outPath)
			}

			in, err := os.Open(inPath)
			if err != nil {
				return fmt.Errorf("open labeled input: %w", err)
			}
			entries, err := annotate.ReadLabeled(in)
			in.Close()
			if err != nil {
				return err
			}

			f, err := createOutput(outPath)
			if err != nil {
				return err
			}
			stats, err := annotate.Export(cmd.Context(), entries, span.NewAligner(nil), f)
			if err != nil {
				f.Discard()
				return err
			}
			if err := f.Commit(); err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Records: %d (failed, skipped: %d)\n", stats.Records, stats.Failed)
			fmt.Fprintf(out, "Spans: %d total, %d exact, %d recovered, %d dropped\n",
				stats.Spans.Total, stats.Spans.Exact, stats.Spans.Recovered, stats.Spans.Dropped)
			fmt.Fprintf(out, "Overlapping removed: %d, kept: %d, invalid raw: %d\n",
				stats.Spans.Overlapping, stats.Spans.Kept, stats.Invalid)
			fmt.Fprintf(out, "Wrote %s\n", outPath)
			return nil
		},
	}

	cmd.Flags().StringVar(&inPath, "in", "", "Labeled JSONL input (defaults to annotate.output)")
	cmd.Flags().StringVar(&outPath, "out", "", "Training JSONL output (defaults to <input>.train.jsonl)")
	return cmd
}

func reconciledPath(in string) string {
	return strings.TrimSuffix(in, ".jsonl") + ".train.jsonl"
}
