// Package main is the entry point for the meshprobe CLI.
//
// The agent can be embedded as a library (SDK) or run as a standalone binary
// with YAML configuration. This CLI provides the standalone binary approach.
//
// Usage:
//
//	meshprobe run -c config.yaml      # Run the measurement agent
//	meshprobe validate -c config.yaml # Validate configuration
//	meshprobe version                 # Show version info
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Version information - set by GoReleaser at build time via ldflags.
// Example: go build -ldflags "-X main.version=1.0.0"
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// rootCmd is the base command when called without subcommands.
// It just displays help - actual functionality is in subcommands.
var rootCmd = &cobra.Command{
	Use:   "meshprobe",
	Short: "A distributed network-measurement agent",
	Long: `Meshprobe is a distributed network-measurement agent.

It announces itself to a coordinator, receives back a list of peer agents,
measures TCP-connect latency and payload download throughput against them,
and reports the results. Every agent also serves download payloads to its
peers, so the mesh measures itself.

Quick start:
  1. Create a config file (meshprobe.yaml)
  2. Run: meshprobe run -c meshprobe.yaml
  3. Inspect http://localhost:5001/ for live loop statistics

Example config:
  coordinator_url: https://coordinator.example.com/announce
  ping_report_url: https://coordinator.example.com/ping_report
  download_report_url: https://coordinator.example.com/download_report
  listen_port: 5001
  machine_name: probe-syd-1
  cloud_provider: aws
  cloud_region: ap-southeast-2`,
	// No Run/RunE means this just shows help when called without subcommands
}

// Execute runs the root command.
// This is the main entry point called from main().
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		// Cobra already prints the error, just exit with code 1
		os.Exit(1)
	}
}

func main() {
	Execute()
}

// versionCmd prints version information.
var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Long:  `Print the version, commit hash, and build date of this meshprobe binary.`,
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("meshprobe %s\n", version)
		fmt.Printf("  commit: %s\n", commit)
		fmt.Printf("  built:  %s\n", date)
	},
}

func init() {
	// Register subcommands with root
	rootCmd.AddCommand(versionCmd)
}
