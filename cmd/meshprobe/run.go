package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/netmeasure/meshprobe"
)

// newLogger creates a JSON logger for CLI use.
func newLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
}

// runCmd runs the measurement agent.
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the measurement agent",
	Long: `Run the meshprobe measurement agent.

The agent will:
  - Load configuration from the specified YAML file
  - Announce itself to the coordinator and fetch peers to measure
  - Run ping and download measurement rounds against those peers
  - Serve download payloads and JSON statistics on the configured port

The agent runs until interrupted (Ctrl+C) or receives SIGTERM.

Example:
  meshprobe run -c config.yaml
  meshprobe run --config /etc/meshprobe/config.yaml`,
	RunE: runAgent,
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().StringP("config", "c", "", "path to config file (required)")
	_ = runCmd.MarkFlagRequired("config")
}

func runAgent(cmd *cobra.Command, args []string) error {
	logger := newLogger()

	configFile, _ := cmd.Flags().GetString("config")

	agent, err := meshprobe.New(
		meshprobe.WithConfigFile(configFile),
		meshprobe.WithLogger(logger),
		meshprobe.WithVersion(version),
	)
	if err != nil {
		return fmt.Errorf("failed to create agent: %w", err)
	}

	// set up context with signal handling - cancel on SIGINT/SIGTERM
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Start blocks until the context is cancelled and the loops have
	// drained; a non-nil error here is a startup failure.
	if err := agent.Start(ctx); err != nil {
		return fmt.Errorf("agent error: %w", err)
	}
	logger.Info("shutdown complete")
	return nil
}
