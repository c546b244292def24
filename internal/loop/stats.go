package loop

import "time"

// RunRecord is one entry in a loop's bounded run history.
type RunRecord struct {
	// Seq is the iteration's sequence number, monotonic and 1-based.
	Seq uint64

	// Start is when the iteration began.
	Start time.Time

	// Completion is how long the task took.
	Completion time.Duration

	// Failure carries the task's error or panic message; empty when the
	// iteration neither errored nor panicked.
	Failure string
}

// Snapshot is a read-only copy of a loop's statistics, safe to use after the
// loop has moved on.
type Snapshot struct {
	Name     string
	Interval time.Duration

	// NextRunIn is the time remaining until the next scheduled iteration,
	// measured at snapshot time. Negative when an iteration is overdue or
	// running.
	NextRunIn time.Duration

	// Counters. Total includes an iteration that may be running now, so it
	// can exceed the sum of the other three by one.
	Total   uint64
	Success uint64
	Failed  uint64
	Faulted uint64

	LastFailure      string
	LastFailureStack string
	LastFailureTime  time.Time
	LastWake         time.Time

	// History is the ring of the most recent run records, oldest first.
	History []RunRecord
}

// Snapshot returns a consistent copy of the loop's statistics. Safe to call
// concurrently with the running loop.
func (l *Loop) Snapshot() Snapshot {
	l.mu.Lock()
	defer l.mu.Unlock()

	s := Snapshot{
		Name:             l.name,
		Interval:         l.interval,
		Total:            l.total,
		Success:          l.success,
		Failed:           l.failed,
		Faulted:          l.faulted,
		LastFailure:      l.lastFailure,
		LastFailureStack: l.lastFailureStack,
		LastFailureTime:  l.lastFailureTime,
		LastWake:         l.lastWake,
		History:          append([]RunRecord(nil), l.history...),
	}
	if !l.nextRun.IsZero() {
		s.NextRunIn = l.nextRun.Sub(l.clk.Now())
	}
	return s
}

// StatusMap renders the snapshot as the JSON-ready structure served by the
// introspection endpoint. Loop specializations merge their own fields into
// the returned map.
func (s Snapshot) StatusMap() map[string]any {
	loops := map[string]any{
		"total":     s.Total,
		"success":   s.Success,
		"failed":    s.Failed,
		"exception": s.Faulted,
		"running":   s.Total - s.Success - s.Failed - s.Faulted,
	}

	out := map[string]any{
		"loops":           loops,
		"next_loop_sec":   int64(s.NextRunIn / time.Second),
		"config_loop_sec": int64(s.Interval / time.Second),
	}

	if len(s.History) > 0 {
		hist := make([]map[string]any, 0, len(s.History))
		var prevStart time.Time
		for _, rec := range s.History {
			node := map[string]any{
				"seq":                rec.Seq,
				"start_time":         rec.Start.Format(time.RFC3339),
				"completion_time_ms": rec.Completion.Milliseconds(),
			}
			if rec.Failure != "" {
				node["exception_message"] = rec.Failure
			}
			if !prevStart.IsZero() {
				node["start_time_diff_sec"] = int64(rec.Start.Sub(prevStart) / time.Second)
			}
			prevStart = rec.Start
			hist = append(hist, node)
		}
		out["loops_history"] = hist
	}

	if s.Faulted > 0 {
		out["last_exception"] = map[string]any{
			"message":     s.LastFailure,
			"time":        s.LastFailureTime.Format(time.RFC3339),
			"stack_trace": s.LastFailureStack,
		}
	}

	if s.LastWake.IsZero() {
		out["last_wakeup"] = "(never)"
	} else {
		out["last_wakeup"] = s.LastWake.Format(time.RFC3339)
	}

	return out
}
