package lock

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// recordState is the lifecycle stage of a Record.
type recordState int32

const (
	statePending   recordState = iota // not yet granted, possibly parked
	stateGranted                      // installed in a FileNode's list
	stateReleasing                    // destroy in progress, draining dependents
)

// Record is a single byte-range lock. Once constructed its Range, Type and
// Identity never change; only the fields guarded by mu evolve as the record
// moves through pending, granted and releasing states.
//
// dependents holds every still-pending Record currently parked on this one
// because it conflicted with it. A Record destroy waits for dependents to
// drain before returning, so no parked request can reference a freed
// blocker.
type Record struct {
	id       string
	Range    Range
	Type     LockType
	Identity Identity

	// AcquiredAt is set when the record is installed on a FileNode, and is
	// used to compute the hold-duration metric on release.
	AcquiredAt time.Time

	hasDeadline bool
	deadline    time.Time

	mu         sync.Mutex
	cond       *sync.Cond
	state      recordState
	blockedBy  string // id of the record this was last parked on; advisory only
	dependents map[string]*Record
}

func newRecord(identity Identity, rng Range, typ LockType, timeout Timeout, now time.Time) *Record {
	r := &Record{
		id:         uuid.NewString(),
		Range:      rng,
		Type:       typ,
		Identity:   identity,
		dependents: make(map[string]*Record),
	}
	r.cond = sync.NewCond(&r.mu)
	if dl, ok := timeout.deadline(now); ok {
		r.hasDeadline = true
		r.deadline = dl
	}
	return r
}

// ID returns the record's identifier. Useful for logging and metrics labels.
func (r *Record) ID() string { return r.id }

// BlockedBy returns the id of the record this one was last parked behind.
// The referenced record may since have been destroyed; this is a diagnostic
// breadcrumb, not a live reference.
func (r *Record) BlockedBy() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.blockedBy
}

func (r *Record) setBlockedBy(id string) {
	r.mu.Lock()
	r.blockedBy = id
	r.mu.Unlock()
}

// dependentCount reports how many requests are currently parked on r.
func (r *Record) dependentCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.dependents)
}

// destroy marks the record as releasing, wakes every dependent parked on
// it, and blocks until they have all removed themselves. Safe to call on a
// record with no dependents, in which case it returns immediately.
func (r *Record) destroy() {
	r.mu.Lock()
	r.state = stateReleasing
	r.cond.Broadcast()
	for len(r.dependents) > 0 {
		r.cond.Wait()
	}
	r.mu.Unlock()
}

// waitDeadline blocks on r.cond (r.mu must be held) until woken or, if
// hasDeadline is set, until deadline passes. It reports whether the wait
// ended because deadline had already elapsed by the time it returned. A
// single call performs one wait; the caller's loop is responsible for
// re-evaluating whatever predicate it cares about, since spurious wakeups
// are always possible.
//
// r is the record being waited on (the blocker): its cond is the
// rendezvous every waker — destroy, Cancel, and this timer — broadcasts
// on, so the deadline checked here belongs to the parked record, not r
// itself.
func (r *Record) waitDeadline(hasDeadline bool, deadline time.Time) (timedOut bool) {
	if !hasDeadline {
		r.cond.Wait()
		return false
	}
	remaining := time.Until(deadline)
	if remaining <= 0 {
		return true
	}
	timer := time.AfterFunc(remaining, func() {
		r.mu.Lock()
		r.cond.Broadcast()
		r.mu.Unlock()
	})
	defer timer.Stop()
	r.cond.Wait()
	return !time.Now().Before(deadline)
}
