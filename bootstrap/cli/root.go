// Package cli implements the ada-bootstrap command line.
package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/malbeclabs/ada/bootstrap"
	"github.com/malbeclabs/ada/config"
	"github.com/malbeclabs/ada/pkg/logger"
)

// Env supplies configuration to the commands.
type Env struct {
	Getenv func(string) string
	Stdout io.Writer
	Stderr io.Writer
}

// Run executes the CLI with the process arguments and environment.
func Run() bootstrap.ExitCode {
	_ = godotenv.Load()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return Execute(ctx, os.Args[1:], Env{Getenv: os.Getenv, Stdout: os.Stdout, Stderr: os.Stderr})
}

// Execute runs the CLI with args and returns the exit code.
func Execute(ctx context.Context, args []string, env Env) bootstrap.ExitCode {
	root := newRootCmd(env)
	root.SetArgs(args)
	root.SetOut(env.Stdout)
	root.SetErr(env.Stderr)
	err := root.ExecuteContext(ctx)
	if err != nil {
		fmt.Fprintf(env.Stderr, "error: %v\n", err)
	}
	return bootstrap.ExitCodeFor(err)
}

func newRootCmd(env Env) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "ada-bootstrap",
		Short:         "Load SQL examples into the Ada example index.",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := cmd.Help(); err != nil {
				return fmt.Errorf("failed to show help: %w", err)
			}
			return nil
		},
	}
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "set debug logging level")
	rootCmd.SetFlagErrorFunc(func(cmd *cobra.Command, err error) error {
		return fmt.Errorf("%w: %v", bootstrap.ErrConfig, err)
	})

	rootCmd.AddCommand(
		NewDeployCmd(env).Command(),
		NewQueueStatusCmd(env).Command(),
	)
	return rootCmd
}

// setup reads the verbose flag and the environment.
func setup(cmd *cobra.Command, env Env) (*slog.Logger, *config.Config, error) {
	verbose, err := cmd.Root().PersistentFlags().GetBool("verbose")
	if err != nil {
		return nil, nil, fmt.Errorf("failed to get verbose flag: %w", err)
	}
	log := logger.NewWithWriter(env.Stderr, verbose)
	cfg, err := config.Load(env.Getenv)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %w", bootstrap.ErrConfig, err)
	}
	return log, cfg, nil
}
