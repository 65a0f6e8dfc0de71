package main

import (
	"context"
	"os"

	cmdutil "github.com/Revolutionary-Games/RevolutionaryWebApp-sub004/cmd"
	"github.com/Revolutionary-Games/RevolutionaryWebApp-sub004/internal"
	"github.com/Revolutionary-Games/RevolutionaryWebApp-sub004/internal/daemon"
	"github.com/Revolutionary-Games/RevolutionaryWebApp-sub004/internal/logr"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

func main() {
	// Configure ^C to terminate program
	ctx, cancel := context.WithCancel(context.Background())
	cmdutil.CatchCtrlC(cancel)

	if err := run(ctx, os.Args[1:]); err != nil {
		cmdutil.PrintError(err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string) error {
	var loggerConfig *logr.Config

	cfg := daemon.NewDefaultConfig()

	cmd := &cobra.Command{
		Use:           "ci-coordinator",
		Short:         "CI coordinator",
		Long:          "ci-coordinator schedules CI jobs onto build servers and relays their output.",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		Version:       internal.Version,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			logger, err := logr.New(loggerConfig)
			if err != nil {
				return err
			}

			d, err := daemon.New(ctx, logger, cfg)
			if err != nil {
				return err
			}
			// block until ^C received
			return d.Start(ctx, make(chan struct{}))
		},
	}
	cmd.SetArgs(args)

	loggerConfig = logr.NewConfigFromFlags(cmd.Flags())
	daemon.RegisterFlags(cmd.Flags(), &cfg)

	if err := cmdutil.SetFlagsFromEnvVariables(cmd.Flags()); err != nil {
		return errors.Wrap(err, "failed to populate config from environment vars")
	}

	return cmd.ExecuteContext(ctx)
}
