package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"

	"mailworker/internal/app"
)

var stopTimeout time.Duration

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the worker",
	Long: `Read the settings, register and schedule the mail job, optionally run it
immediately, then block until SIGINT or SIGTERM.`,
	RunE: runHandler,
}

func init() {
	runCmd.Flags().DurationVar(&stopTimeout, "stop-timeout", 15*time.Second, "how long to wait for running executions on shutdown")
}

func runHandler(cmd *cobra.Command, args []string) error {
	if stopTimeout <= 0 {
		stopTimeout = 15 * time.Second
	}
	a, err := app.New(configPath)
	if err != nil {
		return errors.Wrap(err, "init")
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stop := func(reason app.StopReason) {
		sctx, scancel := context.WithTimeout(context.Background(), stopTimeout)
		defer scancel()
		_ = a.Stop(sctx, reason)
	}

	if err := a.Start(ctx); err != nil {
		stop(app.StopFatalError)
		return errors.Wrap(err, "start")
	}

	select {
	case sig := <-sigCh:
		reason := app.StopSIGINT
		if sig == syscall.SIGTERM {
			reason = app.StopSIGTERM
		}
		cancel()
		stop(reason)
		return nil
	case <-a.Done():
		err := a.Err()
		stop(app.StopFatalError)
		return err
	}
}
