// Package presence tracks per-user connectivity state and fans the resulting
// status snapshot out to connected clients.
//
// A user is Online while a connection is registered for them, RecentlyActive
// for a grace period after their last disconnect, and Offline once that grace
// period elapses without a reconnect.
package presence

import (
	"sync"
	"time"
)

// DefaultGracePeriod is how long a disconnected user stays "recently active"
// before being marked offline.
const DefaultGracePeriod = 5 * time.Minute

type Status string

const (
	StatusOnline         Status = "online"
	StatusRecentlyActive Status = "recently_active"
	StatusOffline        Status = "offline"
)

// Record is one user's presence as seen by Snapshot.
type Record struct {
	Status   Status
	LastSeen time.Time
}

// Clock abstracts time.Now for deterministic tests.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

type record struct {
	status   Status
	lastSeen time.Time

	// timer is the pending grace timer, non-nil only while RecentlyActive.
	// gen distinguishes the current timer from stale fire callbacks whose
	// Stop raced with the deadline: a callback only acts if its generation
	// still matches.
	timer *time.Timer
	gen   uint64
}

// Tracker owns the per-user presence state machine.
//
// MarkActive, MarkInactive and the grace-timer fire path all serialize on one
// mutex, so a timer firing concurrently with a reconnect resolves to exactly
// one outcome: either the reconnect cancels the timer (generation bump) and
// the stale callback does nothing, or the timer wins and the reconnect simply
// re-establishes Online afterwards.
type Tracker struct {
	clock Clock
	grace time.Duration

	// onExpire, when set, runs after a grace timer transitions a user to
	// Offline. It is invoked outside the tracker mutex.
	onExpire func(userID string)

	mu      sync.Mutex
	records map[string]*record
}

// Option configures a Tracker.
type Option func(*Tracker)

// WithClock substitutes the wall clock, for tests.
func WithClock(c Clock) Option {
	return func(t *Tracker) { t.clock = c }
}

// WithGracePeriod overrides DefaultGracePeriod.
func WithGracePeriod(d time.Duration) Option {
	return func(t *Tracker) {
		if d > 0 {
			t.grace = d
		}
	}
}

// WithExpiryFunc registers a callback for grace-timer expiry, typically the
// broadcaster so clients observe the RecentlyActive -> Offline edge.
func WithExpiryFunc(fn func(userID string)) Option {
	return func(t *Tracker) { t.onExpire = fn }
}

func NewTracker(opts ...Option) *Tracker {
	t := &Tracker{
		clock:   realClock{},
		grace:   DefaultGracePeriod,
		records: make(map[string]*record),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// MarkActive transitions userID to Online, cancelling any pending grace
// timer. It never fails and is idempotent for an already-online user.
func (t *Tracker) MarkActive(userID string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	rec, ok := t.records[userID]
	if !ok {
		rec = &record{lastSeen: t.clock.Now()}
		t.records[userID] = rec
	}
	t.cancelTimerLocked(rec)
	rec.status = StatusOnline
}

// MarkInactive records the disconnect time and transitions userID from Online
// to RecentlyActive, arming a one-shot grace timer. Calling it for a user who
// is not Online refreshes LastSeen but does not arm a timer: only the edge
// from Online starts the grace period.
func (t *Tracker) MarkInactive(userID string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	rec, ok := t.records[userID]
	if !ok {
		rec = &record{status: StatusOffline}
		t.records[userID] = rec
	}
	rec.lastSeen = t.clock.Now()
	if rec.status != StatusOnline {
		return
	}

	rec.status = StatusRecentlyActive
	rec.gen++
	gen := rec.gen
	rec.timer = time.AfterFunc(t.grace, func() {
		t.expire(userID, gen)
	})
}

func (t *Tracker) expire(userID string, gen uint64) {
	t.mu.Lock()
	rec, ok := t.records[userID]
	if !ok || rec.gen != gen || rec.status != StatusRecentlyActive {
		// A reconnect cancelled this timer between its deadline and the
		// callback acquiring the lock. Lost race, nothing to do.
		t.mu.Unlock()
		return
	}
	rec.status = StatusOffline
	rec.timer = nil
	t.mu.Unlock()

	if t.onExpire != nil {
		t.onExpire(userID)
	}
}

func (t *Tracker) cancelTimerLocked(rec *record) {
	if rec.timer != nil {
		rec.timer.Stop()
		rec.timer = nil
	}
	// Invalidate any in-flight fire callback that lost the Stop race.
	rec.gen++
}

// Snapshot returns a consistent point-in-time copy of every user ever seen.
func (t *Tracker) Snapshot() map[string]Record {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make(map[string]Record, len(t.records))
	for userID, rec := range t.records {
		out[userID] = Record{Status: rec.status, LastSeen: rec.lastSeen}
	}
	return out
}
