// Package main hosts the epigraph CLI entrypoint and command graph.
//
// The Cobra command tree covers the two pipelines of the corpus builder:
// acquire harvests inscription records from the catalog into a directory of
// JSON files, and annotate sends those records to the labeling service,
// checkpointing progress so an interrupted run resumes where it stopped.
// reconcile turns labeled output into training lines with clean,
// non-overlapping spans.
//
// Configuration resolution, logging and the metrics endpoint are set up
// once in the root command; the work itself lives in pkg/.
package main
