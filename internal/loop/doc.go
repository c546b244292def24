// Package loop implements the generic periodic-task scheduler that drives the
// agent's announce, ping and download loops.
//
// A Loop runs a caller-supplied task on a fixed cadence, forever, until told
// to quit. Failures of the task itself (returned errors or panics) are
// absorbed into statistics and never terminate the loop. The interval model is
// drift-free: each iteration's scheduled start is computed from the previous
// iteration's start, not from its completion.
package loop
