package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/netmeasure/meshprobe/config"
)

// validateCmd validates a config file without starting the agent.
var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate a config file",
	Long: `Validate a meshprobe configuration file without starting the agent.

This command parses the YAML, expands environment variables, and validates
all fields. It's useful for CI/CD pipelines or pre-deployment checks.

Exit codes:
  0 - Config is valid
  1 - Config is invalid (error details printed to stderr)

Example:
  meshprobe validate -c config.yaml
  meshprobe validate --config /etc/meshprobe/config.yaml`,
	RunE: runValidate,
}

func init() {
	rootCmd.AddCommand(validateCmd)

	validateCmd.Flags().StringP("config", "c", "", "path to config file (required)")
	_ = validateCmd.MarkFlagRequired("config")
}

func runValidate(cmd *cobra.Command, args []string) error {
	configFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(configFile)
	if err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	fmt.Printf("Config is valid!\n")
	fmt.Printf("  Coordinator:       %s\n", cfg.CoordinatorURL)
	fmt.Printf("  Ping reports:      %s\n", cfg.PingReportURL)
	fmt.Printf("  Download reports:  %s\n", cfg.DownloadReportURL)
	fmt.Printf("  Listen port:       %d\n", cfg.ListenPort)
	fmt.Printf("  Announce interval: %s\n", cfg.AnnounceInterval.Duration())
	if cfg.MachineName != "" {
		fmt.Printf("  Machine name:      %s\n", cfg.MachineName)
	} else {
		fmt.Printf("  Machine name:      (hostname at startup)\n")
	}

	return nil
}
