package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"emsctl/internal/app"
	"emsctl/internal/config"
)

func newValidateCmd(f *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Check the config and print the dispatch plan",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.ParseFile(f.configPath)
			if err != nil {
				return err
			}
			entries, err := app.BuildPlan(cfg)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if err := app.WritePlan(out, entries); err != nil {
				return err
			}
			fmt.Fprintf(out, "\nconfig ok: %d devices, %d timelines, %d actions\n",
				len(cfg.Devices), len(cfg.Timelines), len(entries))
			return nil
		},
	}
}
