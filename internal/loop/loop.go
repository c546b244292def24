package loop

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
)

// Task is one unit of work executed per iteration.
//
// The returned ok flag feeds the success/failed counters and has no effect on
// scheduling. A non-nil error (or a recovered panic) is counted as a faulted
// iteration and recorded in the run history; the loop then proceeds to its
// next scheduled iteration regardless.
type Task func(ctx context.Context) (ok bool, err error)

const (
	// maxHistory bounds the run-record ring kept per loop.
	maxHistory = 20

	// minSleep is the threshold under which the loop skips sleeping entirely
	// and starts the next iteration immediately.
	minSleep = 10 * time.Millisecond
)

// Loop runs a task on a fixed cadence on its own goroutine.
//
// Lifecycle: [Loop.Start] once, then [Loop.Quit] to stop. [Loop.Wake]
// interrupts an in-progress sleep so the next iteration starts immediately.
// The quit signal is observed only at iteration boundaries, never
// mid-iteration. All statistics are readable concurrently via
// [Loop.Snapshot].
type Loop struct {
	name   string
	logger *slog.Logger
	clk    clock.Clock

	first Task
	every Task

	wakeCh chan struct{}
	quitCh chan struct{}
	done   chan struct{}

	mu       sync.Mutex
	started  bool
	quit     bool
	interval time.Duration
	curStart time.Time
	nextRun  time.Time

	total   uint64
	success uint64
	failed  uint64
	faulted uint64

	lastFailure      string
	lastFailureStack string
	lastFailureTime  time.Time
	lastWake         time.Time
	history          []RunRecord
}

// Option configures a [Loop] during construction.
type Option func(*Loop)

// WithFirstRun sets a distinct task for sequence 1. Subsequent iterations run
// the regular task. Without this option the regular task runs on every
// iteration including the first.
func WithFirstRun(t Task) Option {
	return func(l *Loop) { l.first = t }
}

// WithClock injects a clock, letting tests drive interval arithmetic
// deterministically. Defaults to the real clock.
func WithClock(c clock.Clock) Option {
	return func(l *Loop) { l.clk = c }
}

// WithLogger sets the logger used for panic reporting. Defaults to
// [slog.Default].
func WithLogger(logger *slog.Logger) Option {
	return func(l *Loop) { l.logger = logger }
}

// New creates a loop that will run task every interval once started.
func New(name string, interval time.Duration, task Task, opts ...Option) *Loop {
	l := &Loop{
		name:     name,
		interval: interval,
		every:    task,
		wakeCh:   make(chan struct{}, 1),
		quitCh:   make(chan struct{}),
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(l)
	}
	if l.clk == nil {
		l.clk = clock.New()
	}
	if l.logger == nil {
		l.logger = slog.Default()
	}
	return l
}

// Name returns the loop's name, used in logs and the status endpoint.
func (l *Loop) Name() string { return l.name }

// Start begins the loop on its own goroutine. The first iteration runs
// immediately. Calling Start more than once is a no-op.
//
// Cancelling ctx stops the loop at the next suspension point, same as
// [Loop.Quit].
func (l *Loop) Start(ctx context.Context) {
	l.mu.Lock()
	if l.started {
		l.mu.Unlock()
		l.logger.Warn("loop already started", "loop", l.name)
		return
	}
	l.started = true
	l.mu.Unlock()

	go l.run(ctx)
}

// Done returns a channel closed when the loop goroutine has exited.
func (l *Loop) Done() <-chan struct{} { return l.done }

// Wake interrupts an in-progress sleep, causing the next iteration to start
// immediately. Sequence numbers are neither skipped nor duplicated. A wake
// delivered while the loop is mid-iteration shortens the following sleep
// instead.
func (l *Loop) Wake() {
	l.mu.Lock()
	l.lastWake = l.clk.Now()
	l.mu.Unlock()

	select {
	case l.wakeCh <- struct{}{}:
	default:
	}
}

// Quit signals the loop to stop and wakes it. The loop exits after completing
// or aborting its current sleep, never mid-iteration. Safe to call multiple
// times.
func (l *Loop) Quit() {
	l.mu.Lock()
	if !l.quit {
		l.quit = true
		close(l.quitCh)
	}
	l.mu.Unlock()
}

// SetIntervalOnce overrides only the next wake time, recomputed from the
// current iteration's start, without altering the configured interval for
// later cycles. Returns the resulting next-run time.
//
// Intended to be called from within the running task, e.g. to retry soon when
// there was nothing to do.
func (l *Loop) SetIntervalOnce(d time.Duration) time.Time {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.nextRun.IsZero() && !l.curStart.IsZero() {
		l.nextRun = l.curStart.Add(d)
	}
	return l.nextRun
}

// SetInterval changes the configured interval for all subsequent cycles. It
// does not move the already-computed next wake time; combine with
// [Loop.SetIntervalOnce] to apply immediately.
func (l *Loop) SetInterval(d time.Duration) {
	if d <= 0 {
		return
	}
	l.mu.Lock()
	l.interval = d
	l.mu.Unlock()
}

// Interval returns the currently configured interval.
func (l *Loop) Interval() time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.interval
}

// Count returns the number of iterations started so far, including one that
// may be running now.
func (l *Loop) Count() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.total
}

func (l *Loop) run(ctx context.Context) {
	defer close(l.done)

	for {
		l.mu.Lock()
		if l.quit {
			l.mu.Unlock()
			return
		}
		l.total++
		seq := l.total
		start := l.clk.Now()
		l.curStart = start
		// Drift-free: the next start does not depend on how long this
		// iteration takes. The task may still rebase it via SetIntervalOnce.
		l.nextRun = start.Add(l.interval)
		task := l.every
		if seq == 1 && l.first != nil {
			task = l.first
		}
		l.mu.Unlock()

		ok, err := l.runTask(ctx, task)

		rec := RunRecord{Seq: seq, Start: start, Completion: l.clk.Since(start)}
		l.mu.Lock()
		switch {
		case err != nil:
			l.faulted++
			rec.Failure = err.Error()
			l.lastFailure = rec.Failure
			l.lastFailureTime = l.clk.Now()
		case ok:
			l.success++
		default:
			l.failed++
		}
		l.history = append(l.history, rec)
		if len(l.history) > maxHistory {
			l.history = l.history[1:]
		}
		sleep := l.nextRun.Sub(l.clk.Now())
		quit := l.quit
		l.mu.Unlock()

		if quit || ctx.Err() != nil {
			return
		}

		// An overrun iteration starts the next one immediately.
		if sleep > minSleep {
			timer := l.clk.Timer(sleep)
			select {
			case <-timer.C:
			case <-l.wakeCh:
				timer.Stop()
			case <-l.quitCh:
				timer.Stop()
				return
			case <-ctx.Done():
				timer.Stop()
				return
			}
		}
	}
}

// runTask executes the task with panic containment. A panic is logged with
// the full stack under a correlation ID and converted into a faulted
// iteration carrying that ID.
func (l *Loop) runTask(ctx context.Context, task Task) (ok bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			correlationID := uuid.NewString()
			stack := debug.Stack()

			l.logger.Error("loop task panic",
				"loop", l.name,
				"correlation_id", correlationID,
				"panic", fmt.Sprintf("%v", r),
				"stack", string(stack),
			)

			l.mu.Lock()
			l.lastFailureStack = string(stack)
			l.mu.Unlock()

			ok = false
			err = fmt.Errorf("task panic (correlation_id: %s)", correlationID)
		}
	}()
	return task(ctx)
}
