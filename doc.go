// Package meshprobe implements a distributed network-measurement agent.
//
// Each agent periodically announces itself to a coordinator, receives back a
// list of peer agents to measure, runs TCP-connect latency probes and HTTP
// payload-download throughput probes against those peers, and reports the
// results to the coordinator. The agent also serves an inbound HTTP endpoint
// so its peers can download measurement payloads from it, making every agent
// both a prober and a probe target.
//
// # Quick Start
//
// Load a configuration and run the agent with graceful shutdown:
//
//	agent, err := meshprobe.New(meshprobe.WithConfigFile("meshprobe.yaml"))
//	if err != nil {
//	    slog.Error("failed to create agent", "error", err)
//	    os.Exit(1)
//	}
//
//	// Set up graceful shutdown on SIGINT/SIGTERM
//	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
//	defer stop()
//
//	agent.Start(ctx) // blocks until context is cancelled
//
// # Configuration
//
// The agent uses the functional options pattern for construction:
//
//	agent, err := meshprobe.New(
//	    meshprobe.WithConfig(cfg),
//	    meshprobe.WithVersion("1.4.2"),
//	    meshprobe.WithLogger(logger),
//	)
//
// Static configuration (coordinator URLs, listen port, identity labels) comes
// from a YAML file or a [config.Config] built in code. Dynamic configuration
// (probe timeouts, intervals, worker counts) arrives inside coordinator
// announce responses and is applied on the fly; once the coordinator sets a
// value it stays in effect until overridden.
//
// # Architecture
//
// The agent is three periodic loops plus the state handed between them:
//
//   - The announce loop fetches the coordinator response, applies dynamic
//     configuration, and publishes the parsed target list.
//   - The ping loop reads the latest list from a handoff board and runs a
//     round of bounded-concurrency TCP-connect probes.
//   - The download loop consumes activated lists from a handoff queue, one
//     round at a time, fetching payloads from peer agents.
//
// Supporting packages (under internal/):
//
//   - internal/loop: drift-free periodic scheduler with run history
//   - internal/probe: bounded-concurrency probe executor, TCP and HTTP probes
//   - internal/targets: announce response parsing into target lists
//   - internal/handoff: the board and queue between announce and the probers
//   - internal/coordinator: announce and report HTTP client
//   - internal/server: inbound download payload and introspection endpoints
//
// The internal packages are not part of the public API and may change
// without notice.
package meshprobe
