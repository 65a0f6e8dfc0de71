package main

import (
	"context"
	"fmt"
	"os"

	cmdutil "github.com/Revolutionary-Games/RevolutionaryWebApp-sub004/cmd"
	"github.com/Revolutionary-Games/RevolutionaryWebApp-sub004/internal"
	"github.com/Revolutionary-Games/RevolutionaryWebApp-sub004/internal/agent"
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
	var (
		loggerConfig *logr.Config
		agentConfig  *agent.Config
	)

	cmd := &cobra.Command{
		Use:           "ci-agent <connect-url>",
		Short:         "Run a CI job and stream its output to the coordinator",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		Version:       internal.Version,
		RunE: func(cmd *cobra.Command, args []string) error {
			logger, err := logr.New(loggerConfig)
			if err != nil {
				return err
			}
			env, err := agent.LoadEnvironment()
			if err != nil {
				return err
			}
			a, err := agent.New(logger, *agentConfig, env, args[0])
			if err != nil {
				return fmt.Errorf("initializing agent: %w", err)
			}
			// blocks until the job has finished and its status was reported
			return a.Run(cmd.Context())
		},
	}
	cmd.SetArgs(args)

	loggerConfig = logr.NewConfigFromFlags(cmd.Flags())
	agentConfig = agent.NewConfigFromFlags(cmd.Flags())

	if err := cmdutil.SetFlagsFromEnvVariables(cmd.Flags()); err != nil {
		return errors.Wrap(err, "failed to populate config from environment vars")
	}

	return cmd.ExecuteContext(ctx)
}
