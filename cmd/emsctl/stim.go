package main

import (
	"context"

	"github.com/spf13/cobra"

	"emsctl/internal/app"
	"emsctl/internal/ems"
)

func newStimCmd(f *rootFlags) *cobra.Command {
	var (
		device int
		s      ems.Stimulus
		dryRun bool
	)
	cmd := &cobra.Command{
		Use:   "stim",
		Short: "Send one stimulate command to a device",
		Long: "Send one \"G C<channel> I<intensity> T<duration_ms>\" command. " +
			"Intensity is clamped to 1..255 and duration to at least 200ms.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd.Context(), f.options(dryRun), func(ctx context.Context, a *app.App) error {
				return a.Stimulate(ctx, device, s)
			})
		},
	}
	fl := cmd.Flags()
	fl.IntVarP(&device, "device", "d", 0, "device index")
	fl.IntVar(&s.Channel, "channel", 0, "output channel on the device")
	fl.IntVarP(&s.Intensity, "intensity", "i", 100, "intensity (1-255)")
	fl.IntVarP(&s.DurationMs, "duration-ms", "t", ems.MinDurationMs, "pulse duration in milliseconds")
	fl.BoolVar(&dryRun, "dry-run", false, "log the payload instead of opening the device")
	return cmd
}
