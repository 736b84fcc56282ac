package lock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	t.Parallel()

	cfg := DefaultConfig()

	assert.Equal(t, 1000, cfg.MaxLocksPerFile)
	assert.Equal(t, 10000, cfg.MaxLocksPerClient)
	assert.Equal(t, 100000, cfg.MaxTotalLocks)
	assert.Equal(t, 60*time.Second, cfg.BlockingTimeout)
}

func TestConfig_CustomValues(t *testing.T) {
	t.Parallel()

	cfg := Config{
		MaxLocksPerFile:   500,
		MaxLocksPerClient: 5000,
		MaxTotalLocks:     50000,
		BlockingTimeout:   30 * time.Second,
	}

	assert.Equal(t, 500, cfg.MaxLocksPerFile)
	assert.Equal(t, 5000, cfg.MaxLocksPerClient)
	assert.Equal(t, 50000, cfg.MaxTotalLocks)
	assert.Equal(t, 30*time.Second, cfg.BlockingTimeout)
}

func TestNewLimits(t *testing.T) {
	t.Parallel()

	ll := NewLimits()

	require.NotNil(t, ll)
	assert.Equal(t, 0, ll.GetTotalCount())
}

func TestLimits_CheckLimits_PerFile(t *testing.T) {
	t.Parallel()

	ll := NewLimits()
	cfg := Config{MaxLocksPerFile: 2}
	idA := Identity{FileHandle: "h", SessionID: 1}
	idB := Identity{FileHandle: "h", SessionID: 2}

	ok, _ := ll.CheckLimits(cfg, "file-1", idA)
	require.True(t, ok)
	ll.IncrementCounts("file-1", idA)
	ll.IncrementCounts("file-1", idB)

	ok, reason := ll.CheckLimits(cfg, "file-1", idA)
	assert.False(t, ok)
	assert.Contains(t, reason, "per-file")
}

func TestLimits_CheckLimits_PerClient(t *testing.T) {
	t.Parallel()

	ll := NewLimits()
	cfg := Config{MaxLocksPerClient: 1}
	id := Identity{FileHandle: "h", SessionID: 7, ProcessID: 3}

	ll.IncrementCounts("file-1", id)
	ok, reason := ll.CheckLimits(cfg, "file-2", id)
	assert.False(t, ok)
	assert.Contains(t, reason, "per-client")
}

func TestLimits_CheckLimits_Total(t *testing.T) {
	t.Parallel()

	ll := NewLimits()
	cfg := Config{MaxTotalLocks: 1}
	idA := Identity{FileHandle: "h1", SessionID: 1}
	idB := Identity{FileHandle: "h2", SessionID: 2}

	ll.IncrementCounts("file-1", idA)
	ok, reason := ll.CheckLimits(cfg, "file-2", idB)
	assert.False(t, ok)
	assert.Contains(t, reason, "total")
}

func TestLimits_IncrementDecrementRoundTrip(t *testing.T) {
	t.Parallel()

	ll := NewLimits()
	id := Identity{FileHandle: "h", SessionID: 1, ProcessID: 2}

	ll.IncrementCounts("file-1", id)
	ll.IncrementCounts("file-1", id)
	assert.Equal(t, 2, ll.GetFileCount("file-1"))
	assert.Equal(t, 2, ll.GetTotalCount())

	ll.DecrementCounts("file-1", id)
	assert.Equal(t, 1, ll.GetFileCount("file-1"))
	assert.Equal(t, 1, ll.GetTotalCount())

	ll.DecrementCounts("file-1", id)
	assert.Equal(t, 0, ll.GetFileCount("file-1"))
	assert.Equal(t, 0, ll.GetTotalCount())

	// Decrementing past zero must not underflow.
	ll.DecrementCounts("file-1", id)
	assert.Equal(t, 0, ll.GetTotalCount())
}

func TestLimits_GetStats(t *testing.T) {
	t.Parallel()

	ll := NewLimits()
	idA := Identity{FileHandle: "h1", SessionID: 1}
	idB := Identity{FileHandle: "h1", SessionID: 2}

	ll.IncrementCounts("file-1", idA)
	ll.IncrementCounts("file-1", idA)
	ll.IncrementCounts("file-1", idB)

	stats := ll.GetStats()
	assert.Equal(t, 3, stats.TotalLocks)
	assert.Equal(t, 1, stats.UniqueFiles)
	assert.Equal(t, 2, stats.UniqueClients)
	assert.Equal(t, 3, stats.MaxLocksOnFile)
}

func TestLimits_Reset(t *testing.T) {
	t.Parallel()

	ll := NewLimits()
	id := Identity{FileHandle: "h", SessionID: 1}
	ll.IncrementCounts("file-1", id)
	ll.Reset()

	assert.Equal(t, 0, ll.GetTotalCount())
	assert.Equal(t, 0, ll.GetFileCount("file-1"))
}
