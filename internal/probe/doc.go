// Package probe implements the bounded-concurrency batch executor and the two
// network probes it runs: a connect-and-close TCP ping and a bounded-size HTTP
// payload download.
//
// The executor contract: never more workers than tasks, never zero; a
// per-probe timeout nested inside an overall round deadline; best-effort
// cancellation of stragglers at the deadline; and an output map that always
// carries exactly one entry per input task, nil for tasks that never produced
// a result.
package probe
