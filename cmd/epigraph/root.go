package main

import (
	"github.com/spf13/cobra"
)

func newRootCommand() *cobra.Command {
	root, _ := newRootCommandWithContext()
	return root
}

func newRootCommandWithContext() (*cobra.Command, *commandContext) {
	var configFlag string
	var levelFlag string
	var metricsFlag string

	ctx := newCommandContext(&configFlag, &levelFlag, &metricsFlag)

	rootCmd := &cobra.Command{
		Use:           "epigraph",
		Short:         "Build a labeled corpus of Latin inscriptions",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if shouldSkipConfig(cmd) {
				return nil
			}
			return ctx.setup(cmd.Context(), cmd)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	rootCmd.PersistentFlags().StringVarP(&configFlag, "config", "c", "", "Configuration file path")
	rootCmd.PersistentFlags().StringVar(&levelFlag, "log-level", "", "Override the configured log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&metricsFlag, "metrics-addr", "", "Serve Prometheus metrics on this address, e.g. :9100")

	rootCmd.AddCommand(newAcquireCommand(ctx))
	rootCmd.AddCommand(newFetchCommand(ctx))
	rootCmd.AddCommand(newAnnotateCommand(ctx))
	rootCmd.AddCommand(newReconcileCommand(ctx))
	rootCmd.AddCommand(newConfigCommand(ctx))

	return rootCmd, ctx
}
