package lock

import (
	"context"
	"time"

	"github.com/marmos91/dittofs/internal/logger"
	"github.com/marmos91/dittofs/pkg/metadata/errors"
)

// Core is the top-level entry point the rest of the server talks to. It
// holds no per-file state itself — every FileNode is owned and looked up by
// the caller — only the configuration and instrumentation shared across
// every acquire, release and access check.
type Core struct {
	config  Config
	limits  *Limits
	metrics *Metrics
}

// NewCore builds a Core from config, reporting to metrics (which may be nil
// to skip instrumentation, e.g. in tests).
func NewCore(config Config, metrics *Metrics) *Core {
	return &Core{
		config:  config,
		limits:  NewLimits(),
		metrics: metrics,
	}
}

// Acquire attempts to install a lock of type typ over rng on behalf of
// req against handle's FileNode. If the range is currently blocked by a
// conflicting record and timeout permits waiting, Acquire parks req on that
// record and retries once the park ends, until it succeeds, the wait is
// cancelled, or the deadline elapses.
//
// ctx, if non-nil, is watched for cancellation for the lifetime of the
// call: a done context cancels req exactly as if the caller had called
// req.Cancel() directly.
func (c *Core) Acquire(ctx context.Context, req *Request, handle Handle, rng Range, typ LockType, timeout Timeout) (Status, error) {
	if ok, reason := c.limits.CheckLimits(c.config, handle.Key(), req.Identity()); !ok {
		c.observeLimitHit(reason)
		return StatusLockNotGranted, NewLockLimitExceededError(reason)
	}

	stop := req.watchContext(ctx)
	defer stop()

	node := handle.Node()
	candidate := newRecord(req.Identity(), rng, typ, timeout, time.Now())

	start := time.Now()
	node.mu.Lock()
	for {
		status, blocker := tryGrant(node, handle, candidate)
		switch status {
		case StatusSuccess:
			node.install(candidate)
			node.mu.Unlock()
			c.limits.IncrementCounts(handle.Key(), req.Identity())
			c.observeGrant(time.Since(start))
			return StatusSuccess, nil

		case StatusRangeNotLocked:
			node.mu.Unlock()
			return StatusRangeNotLocked, errors.NewInvalidHandleError()

		default: // StatusLockNotGranted
			if timeout.IsNoWait() {
				final := c.raiseLockError(handle, candidate, false)
				node.mu.Unlock()
				return final, RaiseStatusError(handle.Key(), final)
			}

			c.observeBlocked(1)
			waitStatus, timedOut := c.waitOn(node, req, candidate, blocker)
			c.observeBlocked(-1)

			if waitStatus == StatusCancelled {
				node.mu.Unlock()
				c.observeCancel()
				if timedOut {
					final := c.raiseLockError(handle, candidate, true)
					return final, RaiseStatusError(handle.Key(), final)
				}
				return StatusCancelled, RaiseStatusError(handle.Key(), StatusCancelled)
			}
			// woken (possibly spuriously): loop re-evaluates tryGrant.
			candidate.setBlockedBy("")
		}
	}
}

// waitOn parks req on blocker until woken, cancelled or timed out. The
// caller must hold node.mu as writer on entry; waitOn releases it for the
// duration of the park and reacquires it before returning, so the caller's
// loop invariant (node.mu held) is preserved across the call.
//
// The returned timedOut distinguishes a deadline expiry from an explicit
// Request.Cancel (or context cancellation): the two both yield
// StatusCancelled, but only a deadline expiry gets remapped per §4.5 — an
// explicit cancel is reported to the caller as-is.
func (c *Core) waitOn(node *FileNode, req *Request, pending, blocker *Record) (status Status, timedOut bool) {
	req.mu.Lock()
	if req.state == Cancelled {
		req.mu.Unlock()
		return StatusCancelled, false
	}
	req.state = Waiting
	req.awaiting = blocker
	req.mu.Unlock()

	blocker.mu.Lock()
	pending.setBlockedBy(blocker.id)
	blocker.dependents[pending.id] = pending

	node.mu.Unlock()

	expired := false
	if req.State() != Cancelled {
		expired = blocker.waitDeadline(pending.hasDeadline, pending.deadline)
	}
	delete(blocker.dependents, pending.id)
	if blocker.state == stateReleasing && len(blocker.dependents) == 0 {
		blocker.cond.Broadcast()
	}
	blocker.mu.Unlock()

	node.mu.Lock()

	req.mu.Lock()
	defer req.mu.Unlock()
	req.awaiting = nil
	if req.state == Cancelled {
		return StatusCancelled, false
	}
	if expired {
		req.state = Cancelled
		return StatusCancelled, true
	}
	req.state = Active
	return StatusSuccess, false
}

// Release drops the granted record whose range and identity exactly match
// rng and identity from handle's FileNode, waking anything parked on it.
func (c *Core) Release(handle Handle, rng Range, identity Identity) (Status, error) {
	node := handle.Node()
	node.mu.Lock()
	idx, rec := matchUnlock(node, rng, identity)
	if idx < 0 {
		node.mu.Unlock()
		return StatusRangeNotLocked, RaiseStatusError(handle.Key(), StatusRangeNotLocked)
	}
	node.removeAt(idx)
	node.mu.Unlock()

	rec.destroy()
	c.limits.DecrementCounts(handle.Key(), identity)
	c.observeRelease(rec)
	return StatusSuccess, nil
}

// CheckAccess evaluates whether a pending I/O for identity over rng,
// wanting the accesses in desired, is compatible with the locks currently
// held on handle's FileNode. It never blocks.
func (c *Core) CheckAccess(handle Handle, identity Identity, rng Range, desired AccessDesire) Status {
	node := handle.Node()
	node.mu.RLock()
	defer node.mu.RUnlock()
	return checkAccess(node, identity, rng, desired)
}

// DestroyByHandle removes and destroys every record on handle's FileNode
// that belongs to handle, as part of closing it. Records are detached from
// the list under the file-list gate and destroyed outside it, so draining
// their dependents cannot deadlock against a concurrent Acquire on the same
// node.
func (c *Core) DestroyByHandle(handle Handle) {
	node := handle.Node()
	key := handle.Key()

	node.mu.Lock()
	var detached []*Record
	kept := node.locks[:0]
	for _, r := range node.locks {
		if r.Identity.FileHandle == key {
			detached = append(detached, r)
		} else {
			kept = append(kept, r)
		}
	}
	node.locks = kept
	node.mu.Unlock()

	for _, r := range detached {
		r.destroy()
		c.limits.DecrementCounts(key, r.Identity)
		c.observeRelease(r)
	}
	if len(detached) > 0 {
		logger.Debug("released locks on handle close", "handle", key, "count", len(detached))
	}
}

// raiseLockError decides, per the remapping rule, whether a conflict should
// instead be reported as FILE_LOCK_CONFLICT. waited is true when this
// conflict surfaced after the caller asked to wait and the deadline expired
// anyway — the caller asked to wait and still failed, which alone always
// remaps. Otherwise (a no-wait conflict) it remaps when the candidate's
// start offset sits in the high range conventionally reserved by legacy
// clients for a retry probe, or when this handle's last failed attempt
// started at the same offset (a repeated probe at the same spot reads as a
// real conflict rather than a transient one). It always records the
// candidate's start as the handle's new last-failed offset, regardless of
// which status it returns.
func (c *Core) raiseLockError(handle Handle, candidate *Record, waited bool) Status {
	remap := waited || (candidate.Range.Start >= 0xEF000000 && candidate.Range.Start < 1<<63)
	if off, ok := handle.LastFailedOffset(); ok && off == candidate.Range.Start {
		remap = true
	}
	handle.SetLastFailedOffset(candidate.Range.Start)

	if remap {
		return StatusFileLockConflict
	}
	return StatusLockNotGranted
}

// RaiseUnlockError maps a Release outcome to the server's external error
// surface, for callers that only have the Status (e.g. from a batched
// unlock where intermediate errors were suppressed) and need to
// resynthesize one.
func (c *Core) RaiseUnlockError(handle Handle, status Status) error {
	return RaiseStatusError(handle.Key(), status)
}

// RaiseLockError is the exported counterpart used by callers that already
// ran Acquire themselves (e.g. a batched lock element) and need to map a
// previously-computed Status back to an error without calling Acquire
// again.
func (c *Core) RaiseLockError(handle Handle, status Status) error {
	return RaiseStatusError(handle.Key(), status)
}

// GetStats returns a snapshot of the lock limiter's current counters.
func (c *Core) GetStats() Stats {
	return c.limits.GetStats()
}

func (c *Core) observeGrant(wait time.Duration) {
	if c.metrics == nil {
		return
	}
	c.metrics.lockAcquireTotal.WithLabelValues(resultGranted).Inc()
	c.metrics.lockWaitDuration.Observe(wait.Seconds())
	c.metrics.lockActiveGauge.Inc()
}

func (c *Core) observeRelease(rec *Record) {
	if c.metrics == nil {
		return
	}
	c.metrics.lockReleaseTotal.Inc()
	c.metrics.lockActiveGauge.Dec()
	if !rec.AcquiredAt.IsZero() {
		c.metrics.lockHoldDuration.Observe(time.Since(rec.AcquiredAt).Seconds())
	}
}

func (c *Core) observeCancel() {
	if c.metrics == nil {
		return
	}
	c.metrics.lockAcquireTotal.WithLabelValues(resultCancelled).Inc()
}

func (c *Core) observeBlocked(delta float64) {
	if c.metrics == nil {
		return
	}
	c.metrics.lockBlockedGauge.Add(delta)
}

func (c *Core) observeLimitHit(limit string) {
	if c.metrics == nil {
		return
	}
	c.metrics.lockLimitHits.WithLabelValues(limit).Inc()
}
