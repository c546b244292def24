package handoff

import (
	"sync"

	"github.com/netmeasure/meshprobe/internal/targets"
)

// Queue is the download-side handoff: a single-flight round with a queued
// successor.
//
// Downloads are expensive and must not overlap, so at most one task set is
// active at a time. An offer made while a round is in flight replaces any
// previously pending set (the newest offer always wins) and is promoted when
// the round finishes.
type Queue struct {
	notify func()

	mu      sync.Mutex
	active  map[string]targets.DownloadTask
	pending map[string]targets.DownloadTask
}

// NewQueue creates an empty queue. notify is invoked, with the mutex held,
// whenever an offer becomes active immediately; the download loop passes its
// Wake so a fresh list starts a round right away. May be nil.
func NewQueue(notify func()) *Queue {
	return &Queue{notify: notify}
}

// Offer hands a task set to the download loop.
//
// Empty offers are ignored outright: they never activate, never notify, and
// never displace a pending set. If there is no active set the offered set
// becomes active immediately, any pending set is discarded, the notify
// callback fires, and Offer reports true. Otherwise the offer replaces the
// pending set (the newest offer wins) and Offer reports false.
func (q *Queue) Offer(set map[string]targets.DownloadTask) (active bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(set) == 0 {
		return false
	}
	if len(q.active) == 0 {
		q.active = set
		q.pending = nil
		if q.notify != nil {
			q.notify()
		}
		return true
	}
	q.pending = set
	return false
}

// Active returns the task set of the current round. The download loop is the
// set's sole owner while it is active; nobody mutates it.
func (q *Queue) Active() map[string]targets.DownloadTask {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.active
}

// FinishRound atomically promotes the pending set (if any) to active and
// clears pending. Called by the download loop after each completed round,
// guaranteeing at most one active round and that a mid-round refresh is
// deferred, never lost.
func (q *Queue) FinishRound() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.active = q.pending
	q.pending = nil
}

// Sizes reports the active and pending set sizes, for the status endpoint.
func (q *Queue) Sizes() (active, pending int) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.active), len(q.pending)
}
