package lock

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestHandle(key string) *OpenHandle {
	return NewOpenHandle(key, NewFileNode())
}

func identity(session uint64) Identity {
	return Identity{FileHandle: "h", SessionID: session, ProcessID: uint32(session)}
}

// ============================================================================
// Range overlap (C1)
// ============================================================================

func TestRange_Overlaps(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name     string
		a, b     Range
		overlaps bool
	}{
		{"identical", Range{0, 10}, Range{0, 10}, true},
		{"partial", Range{0, 10}, Range{5, 10}, true},
		{"adjacent-no-overlap", Range{0, 10}, Range{10, 10}, false},
		{"disjoint", Range{0, 5}, Range{100, 5}, false},
		{"contains", Range{0, 100}, Range{10, 5}, true},
		{"zero-length-a", Range{0, 0}, Range{0, 10}, false},
		{"zero-length-b", Range{0, 10}, Range{5, 0}, false},
		{"zero-length-both", Range{5, 0}, Range{5, 0}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.overlaps, tc.a.Overlaps(tc.b))
			assert.Equal(t, tc.overlaps, tc.b.Overlaps(tc.a), "overlap must be symmetric")
		})
	}
}

func TestRange_Overlaps_NoOverflowAtMaxUint64(t *testing.T) {
	t.Parallel()

	huge := Range{Start: ^uint64(0) - 1, Length: 10}
	other := Range{Start: ^uint64(0) - 1, Length: 1}
	assert.True(t, huge.Overlaps(other))
}

// ============================================================================
// Acquire / Release basics (C4, C5, §6)
// ============================================================================

func TestAcquire_SharedLocksCompatible(t *testing.T) {
	t.Parallel()

	handle := newTestHandle("h")
	rng := Range{Start: 0, Length: 10}

	status, err := NewCore(DefaultConfig(), nil).Acquire(context.Background(), NewRequest(identity(1)), handle, rng, Shared, NoWait())
	require.NoError(t, err)
	require.Equal(t, StatusSuccess, status)

	core := NewCore(DefaultConfig(), nil)
	status, err = core.Acquire(context.Background(), NewRequest(identity(1)), handle, rng, Shared, NoWait())
	require.NoError(t, err)
	assert.Equal(t, StatusSuccess, status)
}

func TestAcquire_ExclusiveConflictsWithoutWait(t *testing.T) {
	t.Parallel()

	handle := newTestHandle("h")
	rng := Range{Start: 0, Length: 10}
	core := NewCore(DefaultConfig(), nil)

	status, err := core.Acquire(context.Background(), NewRequest(identity(1)), handle, rng, Exclusive, NoWait())
	require.NoError(t, err)
	require.Equal(t, StatusSuccess, status)

	status, err = core.Acquire(context.Background(), NewRequest(identity(2)), handle, rng, Shared, NoWait())
	require.Error(t, err)
	assert.Equal(t, StatusLockNotGranted, status)
}

func TestAcquire_SameOwnerSharedOverOwnExclusive(t *testing.T) {
	t.Parallel()

	handle := newTestHandle("h")
	rng := Range{Start: 0, Length: 10}
	core := NewCore(DefaultConfig(), nil)
	id := identity(1)

	status, err := core.Acquire(context.Background(), NewRequest(id), handle, rng, Exclusive, NoWait())
	require.NoError(t, err)
	require.Equal(t, StatusSuccess, status)

	// The same owner may additionally take a shared lock over the range it
	// already holds exclusively.
	status, err = core.Acquire(context.Background(), NewRequest(id), handle, rng, Shared, NoWait())
	require.NoError(t, err)
	assert.Equal(t, StatusSuccess, status)

	// But a different owner still conflicts.
	status, err = core.Acquire(context.Background(), NewRequest(identity(2)), handle, rng, Shared, NoWait())
	require.Error(t, err)
	assert.Equal(t, StatusLockNotGranted, status)
}

func TestAcquire_ClosedHandleIsRangeNotLocked(t *testing.T) {
	t.Parallel()

	handle := newTestHandle("h")
	handle.Close()
	core := NewCore(DefaultConfig(), nil)

	status, err := core.Acquire(context.Background(), NewRequest(identity(1)), handle, Range{0, 10}, Exclusive, NoWait())
	require.Error(t, err)
	assert.Equal(t, StatusRangeNotLocked, status)
}

func TestAcquire_WaitWakesOnRelease(t *testing.T) {
	t.Parallel()

	handle := newTestHandle("h")
	rng := Range{Start: 0, Length: 10}
	core := NewCore(DefaultConfig(), nil)
	holder := identity(1)
	waiter := identity(2)

	status, err := core.Acquire(context.Background(), NewRequest(holder), handle, rng, Exclusive, NoWait())
	require.NoError(t, err)
	require.Equal(t, StatusSuccess, status)

	done := make(chan struct{})
	var waitStatus Status
	var waitErr error
	go func() {
		waitStatus, waitErr = core.Acquire(context.Background(), NewRequest(waiter), handle, rng, Exclusive, Indefinite())
		close(done)
	}()

	// Give the waiter a chance to park before releasing.
	time.Sleep(20 * time.Millisecond)

	status, err = core.Release(handle, rng, holder)
	require.NoError(t, err)
	require.Equal(t, StatusSuccess, status)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("waiter never woke up after release")
	}
	require.NoError(t, waitErr)
	assert.Equal(t, StatusSuccess, waitStatus)
}

func TestAcquire_WaitTimesOut(t *testing.T) {
	t.Parallel()

	handle := newTestHandle("h")
	rng := Range{Start: 0, Length: 10}
	core := NewCore(DefaultConfig(), nil)

	status, err := core.Acquire(context.Background(), NewRequest(identity(1)), handle, rng, Exclusive, NoWait())
	require.NoError(t, err)
	require.Equal(t, StatusSuccess, status)

	start := time.Now()
	status, err = core.Acquire(context.Background(), NewRequest(identity(2)), handle, rng, Exclusive, After(30*time.Millisecond))
	elapsed := time.Since(start)

	// A deadline expiry after the caller asked to wait always remaps to
	// FILE_LOCK_CONFLICT, unlike an explicit cancellation.
	require.Error(t, err)
	assert.Equal(t, StatusFileLockConflict, status)
	assert.GreaterOrEqual(t, elapsed, 30*time.Millisecond)
}

func TestAcquire_ContextCancellationCancelsWait(t *testing.T) {
	t.Parallel()

	handle := newTestHandle("h")
	rng := Range{Start: 0, Length: 10}
	core := NewCore(DefaultConfig(), nil)

	_, err := core.Acquire(context.Background(), NewRequest(identity(1)), handle, rng, Exclusive, NoWait())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	var status Status
	go func() {
		status, _ = core.Acquire(ctx, NewRequest(identity(2)), handle, rng, Exclusive, Indefinite())
		close(done)
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("context cancellation did not unblock the waiter")
	}
	assert.Equal(t, StatusCancelled, status)
}

func TestRelease_ExactRangeOnly(t *testing.T) {
	t.Parallel()

	handle := newTestHandle("h")
	core := NewCore(DefaultConfig(), nil)
	id := identity(1)

	_, err := core.Acquire(context.Background(), NewRequest(id), handle, Range{10, 20}, Exclusive, NoWait())
	require.NoError(t, err)

	// A sub-range unlock must not match the held [10,30).
	status, err := core.Release(handle, Range{10, 5}, id)
	require.Error(t, err)
	assert.Equal(t, StatusRangeNotLocked, status)

	status, err = core.Release(handle, Range{10, 20}, id)
	require.NoError(t, err)
	assert.Equal(t, StatusSuccess, status)
}

func TestRelease_UnknownRangeIsRangeNotLocked(t *testing.T) {
	t.Parallel()

	handle := newTestHandle("h")
	core := NewCore(DefaultConfig(), nil)

	status, err := core.Release(handle, Range{0, 10}, identity(1))
	require.Error(t, err)
	assert.Equal(t, StatusRangeNotLocked, status)
}

// ============================================================================
// CheckAccess (C4 check_access)
// ============================================================================

func TestCheckAccess_SharedAllowsReadButNotWrite(t *testing.T) {
	t.Parallel()

	handle := newTestHandle("h")
	core := NewCore(DefaultConfig(), nil)
	holder := identity(1)
	other := identity(2)

	_, err := core.Acquire(context.Background(), NewRequest(holder), handle, Range{0, 10}, Shared, NoWait())
	require.NoError(t, err)

	status := core.CheckAccess(handle, other, Range{0, 10}, AccessDesire{Read: true})
	assert.Equal(t, StatusSuccess, status)

	status = core.CheckAccess(handle, other, Range{0, 10}, AccessDesire{Write: true})
	assert.Equal(t, StatusFileLockConflict, status)

	// Even the shared lock's own owner cannot write through it.
	status = core.CheckAccess(handle, holder, Range{0, 10}, AccessDesire{Write: true})
	assert.Equal(t, StatusFileLockConflict, status)
}

func TestCheckAccess_ExclusiveAllowsOwnerOnly(t *testing.T) {
	t.Parallel()

	handle := newTestHandle("h")
	core := NewCore(DefaultConfig(), nil)
	holder := identity(1)
	other := identity(2)

	_, err := core.Acquire(context.Background(), NewRequest(holder), handle, Range{0, 10}, Exclusive, NoWait())
	require.NoError(t, err)

	status := core.CheckAccess(handle, holder, Range{0, 10}, AccessDesire{Read: true, Write: true})
	assert.Equal(t, StatusSuccess, status)

	status = core.CheckAccess(handle, other, Range{0, 10}, AccessDesire{Read: true})
	assert.Equal(t, StatusFileLockConflict, status)
}

func TestCheckAccess_OutsideRangeAlwaysSucceeds(t *testing.T) {
	t.Parallel()

	handle := newTestHandle("h")
	core := NewCore(DefaultConfig(), nil)

	_, err := core.Acquire(context.Background(), NewRequest(identity(1)), handle, Range{0, 10}, Exclusive, NoWait())
	require.NoError(t, err)

	status := core.CheckAccess(handle, identity(2), Range{100, 10}, AccessDesire{Read: true, Write: true})
	assert.Equal(t, StatusSuccess, status)
}

// ============================================================================
// DestroyByHandle (C5 bulk destroy)
// ============================================================================

func TestDestroyByHandle_DrainsOnlyThatHandlesLocks(t *testing.T) {
	t.Parallel()

	node := NewFileNode()
	handleA := NewOpenHandle("a", node)
	handleB := NewOpenHandle("b", node)
	core := NewCore(DefaultConfig(), nil)

	idA := Identity{FileHandle: "a", SessionID: 1}
	idB := Identity{FileHandle: "b", SessionID: 2}

	_, err := core.Acquire(context.Background(), NewRequest(idA), handleA, Range{0, 10}, Exclusive, NoWait())
	require.NoError(t, err)
	_, err = core.Acquire(context.Background(), NewRequest(idB), handleB, Range{100, 10}, Exclusive, NoWait())
	require.NoError(t, err)

	core.DestroyByHandle(handleA)

	assert.Equal(t, 1, node.Count())
	status, _ := core.Release(handleB, Range{100, 10}, idB)
	assert.Equal(t, StatusSuccess, status)
}

func TestDestroyByHandle_WakesParkedWaiters(t *testing.T) {
	t.Parallel()

	node := NewFileNode()
	handle := NewOpenHandle("h", node)
	core := NewCore(DefaultConfig(), nil)
	holder := Identity{FileHandle: "h", SessionID: 1}
	waiter := Identity{FileHandle: "h", SessionID: 2}
	rng := Range{Start: 0, Length: 10}

	_, err := core.Acquire(context.Background(), NewRequest(holder), handle, rng, Exclusive, NoWait())
	require.NoError(t, err)

	done := make(chan struct{})
	var status Status
	go func() {
		status, _ = core.Acquire(context.Background(), NewRequest(waiter), handle, rng, Exclusive, Indefinite())
		close(done)
	}()

	time.Sleep(20 * time.Millisecond)
	core.DestroyByHandle(handle)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("destroy by handle never woke the parked waiter")
	}
	assert.Equal(t, StatusSuccess, status)
}

// ============================================================================
// Concurrency properties (§8)
// ============================================================================

func TestAcquire_ConcurrentSharedReadersNeverBlock(t *testing.T) {
	t.Parallel()

	handle := newTestHandle("h")
	core := NewCore(DefaultConfig(), nil)
	rng := Range{Start: 0, Length: 10}

	var wg sync.WaitGroup
	errs := make(chan error, 20)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			status, err := core.Acquire(context.Background(), NewRequest(identity(uint64(i))), handle, rng, Shared, After(time.Second))
			if err != nil || status != StatusSuccess {
				errs <- err
			}
		}(i)
	}

	done := make(chan struct{})
	go func() { wg.Wait(); close(done) }()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("concurrent shared acquires deadlocked")
	}
	close(errs)
	for err := range errs {
		assert.NoError(t, err)
	}
}

func TestAcquire_OnlyOneExclusiveWinsConcurrently(t *testing.T) {
	t.Parallel()

	handle := newTestHandle("h")
	core := NewCore(DefaultConfig(), nil)
	rng := Range{Start: 0, Length: 10}

	var wg sync.WaitGroup
	var mu sync.Mutex
	granted := 0
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			status, _ := core.Acquire(context.Background(), NewRequest(identity(uint64(i))), handle, rng, Exclusive, NoWait())
			if status == StatusSuccess {
				mu.Lock()
				granted++
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()
	assert.Equal(t, 1, granted)
}

// ============================================================================
// Limit enforcement
// ============================================================================

func TestAcquire_RespectsPerFileLimit(t *testing.T) {
	t.Parallel()

	handle := newTestHandle("h")
	cfg := DefaultConfig()
	cfg.MaxLocksPerFile = 1
	core := NewCore(cfg, nil)

	_, err := core.Acquire(context.Background(), NewRequest(identity(1)), handle, Range{0, 10}, Shared, NoWait())
	require.NoError(t, err)

	status, err := core.Acquire(context.Background(), NewRequest(identity(2)), handle, Range{100, 10}, Shared, NoWait())
	require.Error(t, err)
	assert.Equal(t, StatusLockNotGranted, status)
}

// ============================================================================
// Error remapping (§4.5)
// ============================================================================

func TestAcquire_RepeatedSameOffsetFailureRemapsToConflict(t *testing.T) {
	t.Parallel()

	handle := newTestHandle("h")
	core := NewCore(DefaultConfig(), nil)
	rng := Range{Start: 0, Length: 10}

	_, err := core.Acquire(context.Background(), NewRequest(identity(1)), handle, rng, Exclusive, NoWait())
	require.NoError(t, err)

	status, _ := core.Acquire(context.Background(), NewRequest(identity(2)), handle, rng, Exclusive, NoWait())
	assert.Equal(t, StatusLockNotGranted, status)

	// Second failure at the same offset is remapped.
	status, _ = core.Acquire(context.Background(), NewRequest(identity(2)), handle, rng, Exclusive, NoWait())
	assert.Equal(t, StatusFileLockConflict, status)
}

func TestAcquire_HighOffsetProbeRemapsToConflict(t *testing.T) {
	t.Parallel()

	handle := newTestHandle("h")
	core := NewCore(DefaultConfig(), nil)
	rng := Range{Start: 0xFFFFFFFF, Length: 1}

	_, err := core.Acquire(context.Background(), NewRequest(identity(1)), handle, rng, Exclusive, NoWait())
	require.NoError(t, err)

	status, _ := core.Acquire(context.Background(), NewRequest(identity(2)), handle, rng, Exclusive, NoWait())
	assert.Equal(t, StatusFileLockConflict, status)
}
