// Package handoff implements the two protocols that move a target list from
// the discovery loop into the probing loops.
//
// The ping side uses a freshness-gated shared board: discovery overwrites the
// latest list under a mutex, and each ping cycle copies it out and refuses
// lists older than a TTL. The download side uses a single-flight queue with a
// queued successor: at most one list is active at a time, and a refresh
// arriving mid-round is deferred to the next round, last offer winning.
package handoff

import (
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/netmeasure/meshprobe/internal/targets"
)

// ListTTL is the maximum age a published target list may reach before ping
// cycles refuse to use it. Ten times the nominal discovery interval,
// deliberately a constant rather than configuration.
const ListTTL = 10 * time.Minute

// Staleness classifies a board snapshot.
type Staleness int

const (
	// Fresh means the list was published within the TTL and may be probed.
	Fresh Staleness = iota

	// NeverPublished means discovery has not delivered a list yet.
	NeverPublished

	// Expired means the last publish is older than the TTL.
	Expired
)

// Board is the ping-side handoff: a single shared "latest list" slot.
//
// Pings are cheap and idempotent, so there is no active/pending split and no
// exclusion beyond the mutex; several ping cycles may probe the same snapshot
// when discovery is slow. Staleness is judged against the publish timestamp.
type Board struct {
	clk clock.Clock

	mu          sync.Mutex
	latest      *targets.List
	publishedAt time.Time
}

// NewBoard creates an empty board. A nil clk defaults to the real clock.
func NewBoard(clk clock.Clock) *Board {
	if clk == nil {
		clk = clock.New()
	}
	return &Board{clk: clk}
}

// Publish overwrites the shared list and stamps the overwrite time. Called by
// the discovery loop after every successful announce.
func (b *Board) Publish(list *targets.List) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.latest = list
	b.publishedAt = b.clk.Now()
}

// Snapshot copies the current list out under the mutex and classifies its
// freshness. The returned slice is the caller's to keep; age is how long ago
// the list was published (zero when never published).
func (b *Board) Snapshot() (ts []targets.Target, age time.Duration, s Staleness) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.publishedAt.IsZero() {
		return nil, 0, NeverPublished
	}
	age = b.clk.Now().Sub(b.publishedAt)
	if age > ListTTL {
		return nil, age, Expired
	}
	return b.latest.Targets(), age, Fresh
}

// PublishedAt returns when the list was last overwritten, zero if never.
func (b *Board) PublishedAt() time.Time {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.publishedAt
}
