package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/netmeasure/meshprobe"
	"github.com/netmeasure/meshprobe/config"
)

func main() {
	// start mock coordinator (see mock_coordinator.go)
	go StartMockCoordinator(":9990")
	time.Sleep(100 * time.Millisecond)

	// point the agent at the mock coordinator; the coordinator points the
	// agent back at its own download endpoint, so the demo mesh is complete
	// with a single process
	cfg, err := config.Parse([]byte(`
coordinator_url: http://localhost:9990/announce
ping_report_url: http://localhost:9990/ping_report
download_report_url: http://localhost:9990/download_report
listen_port: 5001
machine_name: demo-probe
cloud_provider: local
cloud_region: loopback
announce_interval: 10s
`))
	if err != nil {
		slog.Error("failed to parse config", "error", err)
		os.Exit(1)
	}

	agent, err := meshprobe.New(
		meshprobe.WithConfig(cfg),
		meshprobe.WithVersion("demo"),
	)
	if err != nil {
		slog.Error("failed to create agent", "error", err)
		os.Exit(1)
	}

	fmt.Println()
	fmt.Println("  ╔═══════════════════════════════════════════════════════╗")
	fmt.Println("  ║                                                       ║")
	fmt.Println("  ║   Meshprobe Demo                                      ║")
	fmt.Println("  ║                                                       ║")
	fmt.Println("  ║   Mock coordinator:  http://localhost:9990            ║")
	fmt.Println("  ║   Agent statistics:  http://localhost:5001/           ║")
	fmt.Println("  ║                                                       ║")
	fmt.Println("  ║   Try:                                                ║")
	fmt.Println("  ║   • /ping_thread, /download_thread, /announce_thread  ║")
	fmt.Println("  ║   • /download?size=50000                              ║")
	fmt.Println("  ║                                                       ║")
	fmt.Println("  ║   Press Ctrl+C to stop                                ║")
	fmt.Println("  ║                                                       ║")
	fmt.Println("  ╚═══════════════════════════════════════════════════════╝")
	fmt.Println()

	// set up context with signal handling for graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := agent.Start(ctx); err != nil {
		slog.Error("agent error", "error", err)
		os.Exit(1)
	}
}
