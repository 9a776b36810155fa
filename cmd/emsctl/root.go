package main

import (
	"context"
	"time"

	"github.com/spf13/cobra"

	"emsctl/internal/app"
)

const shutdownTimeout = 10 * time.Second

type rootFlags struct {
	configPath string
	logLevel   string
}

func newRootCmd() *cobra.Command {
	f := &rootFlags{}
	cmd := &cobra.Command{
		Use:           "emsctl",
		Short:         "Timed command dispatcher for EMS peripherals",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVarP(&f.configPath, "config", "c", "./emsctl.yaml", "path to config (json or yaml)")
	cmd.PersistentFlags().StringVar(&f.logLevel, "log-level", "", "override logging.level")

	cmd.AddCommand(
		newRunCmd(f),
		newDaemonCmd(f),
		newStimCmd(f),
		newValidateCmd(f),
	)
	return cmd
}

func (f *rootFlags) options(dryRun bool) app.Options {
	return app.Options{ConfigPath: f.configPath, DryRun: dryRun, LogLevel: f.logLevel}
}

// withApp builds the app, runs fn and always closes the app with a fresh
// deadline so shutdown survives a canceled command context.
func withApp(ctx context.Context, opts app.Options, fn func(context.Context, *app.App) error) (err error) {
	a, err := app.New(opts)
	if err != nil {
		return err
	}
	defer func() {
		cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		if cerr := a.Close(cctx); cerr != nil && err == nil {
			err = cerr
		}
	}()
	return fn(ctx, a)
}
