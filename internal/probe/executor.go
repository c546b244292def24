package probe

import (
	"context"
	"time"

	"golang.org/x/sync/semaphore"
)

// Result is the outcome of a single probe.
//
// Duration fields stay zero for phases that never completed. A non-nil Err
// means the probe did not fully succeed; partial timings (e.g. connect time of
// a ping that timed out) may still be present for reporting.
type Result struct {
	// QueueWait is how long the task sat waiting for a worker slot, exposing
	// worker-pool saturation.
	QueueWait time.Duration

	// Connect is the time spent establishing the connection.
	Connect time.Duration

	// Transfer is the time spent reading the payload, excluding connect.
	// Zero for connect-only probes and for failed transfers.
	Transfer time.Duration

	// Bytes is the number of payload bytes actually read.
	Bytes int64

	// StartedAt is when the probe left the queue and began executing.
	StartedAt time.Time

	// Err is the failure cause, nil on success.
	Err error
}

// OK reports whether the probe fully succeeded.
func (r Result) OK() bool { return r.Err == nil }

// Func executes one probe. Implementations must honor ctx cancellation as
// their abort signal; the executor cancels it at the per-probe timeout and at
// the round deadline.
type Func[T any] func(ctx context.Context, task T) Result

// Options bounds one executor round.
type Options struct {
	// Workers is the requested concurrency. The effective worker count is
	// clamped to [1, number of tasks].
	Workers int

	// ProbeTimeout bounds each individual probe.
	ProbeTimeout time.Duration

	// Deadline bounds the whole round. Tasks still unfinished when it elapses
	// are cancelled best-effort; tasks not yet started are dropped.
	Deadline time.Duration
}

// drainGrace is how long Run keeps collecting results from already-cancelled
// probes after the round deadline, so fast-aborting stragglers still land in
// the output instead of being lost.
const drainGrace = 250 * time.Millisecond

// Run executes a batch of independent probes with bounded parallelism.
//
// The returned map has exactly one entry per input task. A nil value means
// the task produced no result: it either never started before the deadline or
// was still running when the grace period ended. Run returns at or shortly
// after the round deadline, never blocking indefinitely on a hung probe; an
// abandoned probe's goroutine lingers only until its own I/O call notices the
// cancelled context, and its result send lands in a buffered channel nobody
// reads.
func Run[K comparable, T any](ctx context.Context, tasks map[K]T, fn Func[T], opts Options) map[K]*Result {
	results := make(map[K]*Result, len(tasks))
	if len(tasks) == 0 {
		return results
	}
	for key := range tasks {
		results[key] = nil
	}

	workers := opts.Workers
	if workers < 1 {
		workers = 1
	}
	if workers > len(tasks) {
		workers = len(tasks)
	}

	roundCtx, cancel := context.WithTimeout(ctx, opts.Deadline)
	defer cancel()

	sem := semaphore.NewWeighted(int64(workers))

	type keyed struct {
		key K
		res Result
	}
	out := make(chan keyed, len(tasks))

	for key, task := range tasks {
		submitted := time.Now()
		go func(key K, task T) {
			// Queue wait is the time from submission to acquiring a worker
			// slot. Acquire fails only when the round deadline fires first,
			// in which case the task never started and stays nil.
			if err := sem.Acquire(roundCtx, 1); err != nil {
				return
			}
			defer sem.Release(1)

			started := time.Now()
			probeCtx, probeCancel := context.WithTimeout(roundCtx, opts.ProbeTimeout)
			res := fn(probeCtx, task)
			probeCancel()

			res.QueueWait = started.Sub(submitted)
			res.StartedAt = started
			out <- keyed{key: key, res: res}
		}(key, task)
	}

	remaining := len(tasks)
	for remaining > 0 {
		select {
		case kr := <-out:
			res := kr.res
			results[kr.key] = &res
			remaining--
		case <-roundCtx.Done():
			// Deadline (or caller cancellation). In-flight probes have been
			// signalled through their contexts; give the quick ones a short
			// drain window, then return what we have.
			grace := time.NewTimer(drainGrace)
			defer grace.Stop()
			for remaining > 0 {
				select {
				case kr := <-out:
					res := kr.res
					results[kr.key] = &res
					remaining--
				case <-grace.C:
					return results
				}
			}
			return results
		}
	}
	return results
}
