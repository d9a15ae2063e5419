package main

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Sternrassler/epigraph-corpus/pkg/catalog"
	"github.com/Sternrassler/epigraph-corpus/pkg/fetchcache"
	"github.com/Sternrassler/epigraph-corpus/pkg/retry"
)

func newFetchCommand(ctx *commandContext) *cobra.Command {
	var dest string
	var resume bool

	cmd := &cobra.Command{
		Use:   "fetch <id>...",
		Short: "Fetch single records by identifier",
		Long: "Fetch records by identifier and store them in the destination directory.\n" +
			"Identifiers may be given as HD000123, hd000123 or 123.",
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			runCtx := cmd.Context()

			ids := make([]string, 0, len(args))
			for _, arg := range args {
				id, err := catalog.NormalizeID(arg)
				if err != nil {
					return err
				}
				ids = append(ids, id)
			}

			if dest == "" {
				dest = cfg.Acquire.Destination
			}
			store, err := fetchcache.New(dest, fetchcache.Config{
				Resume:     resume,
				RetryDelay: cfg.Acquire.RetryDelay,
			})
			if err != nil {
				return err
			}

			client, release, err := openCatalog(runCtx, cfg)
			if err != nil {
				return err
			}
			defer release()

			out := cmd.OutOrStdout()
			failed := 0
			for _, id := range ids {
				path, err := fetchOne(runCtx, client, store, id, retry.Once(cfg.Acquire.RetryDelay))
				if err != nil {
					if runCtx.Err() != nil {
						return runCtx.Err()
					}
					failed++
					fmt.Fprintf(out, "%s: %v\n", id, err)
					continue
				}
				fmt.Fprintf(out, "%s -> %s\n", id, path)
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d records could not be fetched", failed, len(ids))
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&dest, "dest", "d", "", "Destination directory")
	cmd.Flags().BoolVar(&resume, "resume", false, "Keep records already stored in the destination")
	return cmd
}

func fetchOne(ctx context.Context, client *catalog.Client, store *fetchcache.Cache, id string, policy retry.Policy) (string, error) {
	if store.Resume() && store.Exists(id) {
		return store.Path(id), nil
	}

	var payload json.RawMessage
	err := retry.Do(ctx, "fetch_record", policy, func(ctx context.Context) error {
		var err error
		payload, err = client.Fetch(ctx, id)
		return err
	})
	if err != nil {
		return "", err
	}
	return store.Save(ctx, id, payload)
}
