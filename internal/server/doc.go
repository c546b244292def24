// Package server provides the meshprobe agent's inbound HTTP surface.
//
// This package is internal to meshprobe and handles two concerns:
//
//   - Download payloads: "/download?size=N" serves random bytes so other
//     agents can run throughput probes against this one
//   - Introspection: JSON statistics for the announce, ping and download
//     loops, plus the local and dynamic configuration
//
// The server supports graceful shutdown via context cancellation, with a
// 5-second timeout for in-flight requests.
//
// Users of the meshprobe library should not need to interact with this
// package directly. The server is started automatically by [meshprobe.Agent.Start].
package server
