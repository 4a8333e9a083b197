package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"ticksched/internal/app"
)

var cfgPath string

var rootCmd = &cobra.Command{
	Use:   "ticksched",
	Short: "Tick-driven task scheduler",
	Long: `ticksched drives a table of periodic and one-shot tasks from a fixed
tick period. Without --config the built-in demo table is used: one periodic
task logging a message every second.`,
	SilenceUsage: true,
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the scheduler until SIGINT/SIGTERM",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer cancel()

		a, err := app.NewApp(cfgPath)
		if err != nil {
			return fmt.Errorf("fatal: %w", err)
		}
		if err := a.Start(ctx); err != nil {
			_ = a.Stop(context.Background(), app.StopFatalError)
			return fmt.Errorf("fatal start: %w", err)
		}

		reason := app.StopSignal
		select {
		case <-ctx.Done():
		case <-a.Done():
			reason = app.StopFatalError
			if a.Err() == nil {
				reason = app.StopTickSource
			}
		}

		stopCtx, stopCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer stopCancel()
		stopErr := a.Stop(stopCtx, reason)
		printRunStats(a.Stats())
		if err := a.Err(); err != nil {
			return err
		}
		return stopErr
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgPath, "config", "c", "", "path to config file (yaml or json)")
	rootCmd.AddCommand(runCmd, validateCmd, firesCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
