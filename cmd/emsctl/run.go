package main

import (
	"context"
	"errors"

	"github.com/spf13/cobra"

	"emsctl/internal/app"
)

func newRunCmd(f *rootFlags) *cobra.Command {
	var (
		repeat int
		dryRun bool
	)
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Connect every device and play all timelines",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if repeat < 1 {
				return errors.New("--repeat must be >= 1")
			}
			return withApp(cmd.Context(), f.options(dryRun), func(ctx context.Context, a *app.App) error {
				return a.Run(ctx, repeat)
			})
		},
	}
	cmd.Flags().IntVarP(&repeat, "repeat", "n", 1, "number of passes over all timelines")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "log payloads instead of opening devices")
	return cmd
}

func newDaemonCmd(f *rootFlags) *cobra.Command {
	var dryRun bool
	cmd := &cobra.Command{
		Use:   "daemon",
		Short: "Run timelines on the configured trigger until stopped",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd.Context(), f.options(dryRun), func(ctx context.Context, a *app.App) error {
				err := a.Serve(ctx)
				if errors.Is(err, context.Canceled) {
					return nil
				}
				return err
			})
		},
	}
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "log payloads instead of opening devices")
	return cmd
}
