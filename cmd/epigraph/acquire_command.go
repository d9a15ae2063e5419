package main

import (
	"fmt"
	"sort"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/Sternrassler/epigraph-corpus/pkg/acquire"
	"github.com/Sternrassler/epigraph-corpus/pkg/catalog"
)

type acquireOptions struct {
	province       string
	country        string
	findspot       string
	findspotModern string
	bbox           string
	fromYear       int
	toYear         int
	number         int
	filters        map[string]string

	target       int
	workers      int
	dest         string
	resume       bool
	noResume     bool
	fetchDetails bool
}

func (o acquireOptions) query(cmd *cobra.Command) catalog.Query {
	filters := map[string]string{}
	for name, value := range o.filters {
		filters[name] = value
	}
	set := func(name, value string) {
		if value != "" {
			filters[name] = value
		}
	}
	set(catalog.FilterProvince, o.province)
	set(catalog.FilterCountry, o.country)
	set(catalog.FilterFindspotAncient, o.findspot)
	set(catalog.FilterFindspotModern, o.findspotModern)
	set(catalog.FilterBBox, o.bbox)
	if cmd.Flags().Changed("from-year") {
		filters[catalog.FilterYearFrom] = strconv.Itoa(o.fromYear)
	}
	if cmd.Flags().Changed("to-year") {
		filters[catalog.FilterYearTo] = strconv.Itoa(o.toYear)
	}
	if cmd.Flags().Changed("hd-nr") {
		filters[catalog.FilterNumber] = strconv.Itoa(o.number)
	}
	return catalog.Query{Filters: filters}
}

func newAcquireCommand(ctx *commandContext) *cobra.Command {
	var opts acquireOptions

	cmd := &cobra.Command{
		Use:   "acquire",
		Short: "Harvest inscription records from the catalog",
		Long: "Search the catalog with the given filters and store every result as\n" +
			"<identifier>.json in the destination directory. With resume enabled,\n" +
			"records already on disk are not written again.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			runCtx := cmd.Context()

			client, release, err := openCatalog(runCtx, cfg)
			if err != nil {
				return err
			}
			defer release()

			acqCfg := cfg.AcquireConfig()
			if cmd.Flags().Changed("fetch-details") {
				acqCfg.FetchDetails = opts.fetchDetails
			}

			req := acquire.Request{
				Query:       opts.query(cmd),
				Destination: cfg.Acquire.Destination,
				TargetCount: opts.target,
				Workers:     cfg.Acquire.Workers,
				Resume:      cfg.Acquire.Resume,
			}
			if opts.dest != "" {
				req.Destination = opts.dest
			}
			if cmd.Flags().Changed("workers") {
				req.Workers = opts.workers
			}
			if opts.resume {
				req.Resume = true
			}
			if opts.noResume {
				req.Resume = false
			}

			report, err := acquire.New(client, acqCfg).Acquire(runCtx, req)
			if err != nil {
				return err
			}

			printAcquireReport(cmd, req, report)
			if err := runCtx.Err(); err != nil {
				return err
			}
			return nil
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&opts.province, "province", "", "Roman province, e.g. Dalmatia")
	flags.StringVar(&opts.country, "country", "", "Modern country of the findspot")
	flags.StringVar(&opts.findspot, "findspot", "", "Ancient findspot name")
	flags.StringVar(&opts.findspotModern, "findspot-modern", "", "Modern findspot name")
	flags.StringVar(&opts.bbox, "bbox", "", "Bounding box minLon,minLat,maxLon,maxLat")
	flags.IntVar(&opts.fromYear, "from-year", 0, "Earliest dating year (negative for BCE)")
	flags.IntVar(&opts.toYear, "to-year", 0, "Latest dating year (negative for BCE)")
	flags.IntVar(&opts.number, "hd-nr", 0, "Catalog number lookup")
	flags.StringToStringVar(&opts.filters, "filter", nil, "Additional catalog filter name=value (repeatable)")
	flags.IntVar(&opts.target, "target", 0, "Stop after this many results (0 for all)")
	flags.IntVarP(&opts.workers, "workers", "w", 0, "Concurrent record writers")
	flags.StringVarP(&opts.dest, "dest", "d", "", "Destination directory")
	flags.BoolVar(&opts.resume, "resume", false, "Skip records already stored in the destination")
	flags.BoolVar(&opts.noResume, "no-resume", false, "Rewrite records already stored in the destination")
	flags.BoolVar(&opts.fetchDetails, "fetch-details", false, "Fetch every record by id instead of storing the search item")
	cmd.MarkFlagsMutuallyExclusive("resume", "no-resume")

	return cmd
}

func printAcquireReport(cmd *cobra.Command, req acquire.Request, report acquire.Report) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Query: %s\n", req.Query.String())
	fmt.Fprintf(out, "Destination: %s\n", req.Destination)
	fmt.Fprintf(out, "Pages: %d, workers: %d\n", report.Pages, report.Workers)
	fmt.Fprintf(out, "Saved: %d (already stored: %d)\n", len(report.Saved), report.Skipped)
	fmt.Fprintf(out, "Dropped without identifier: %d\n", report.Dropped)
	fmt.Fprintf(out, "Failed: %d\n", len(report.Failed))

	ids := make([]string, 0, len(report.Failed))
	for id := range report.Failed {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		fmt.Fprintf(out, "  %s: %v\n", id, report.Failed[id])
	}

	if report.Degraded {
		fmt.Fprintf(out, "Search degraded, results are partial: %v\n", report.Err)
	}
}
