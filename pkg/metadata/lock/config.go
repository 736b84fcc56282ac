package lock

import (
	"fmt"
	"sync"
	"time"
)

// ============================================================================
// Lock Configuration
// ============================================================================

// Config contains configuration settings for the lock manager.
type Config struct {
	// MaxLocksPerFile is the maximum number of locks allowed on a single file.
	// Prevents a single file from exhausting lock table resources.
	// Default: 1000
	MaxLocksPerFile int `mapstructure:"max_locks_per_file" yaml:"max_locks_per_file"`

	// MaxLocksPerClient is the maximum number of locks a single client (one
	// session/process pair) can hold. Default: 10000
	MaxLocksPerClient int `mapstructure:"max_locks_per_client" yaml:"max_locks_per_client"`

	// MaxTotalLocks is the maximum total locks across all files and clients.
	// Provides a hard ceiling on lock manager memory usage.
	// Default: 100000
	MaxTotalLocks int `mapstructure:"max_total_locks" yaml:"max_total_locks"`

	// BlockingTimeout is a configured default wait for blocking acquires.
	// Core.Acquire does not read it: every call waits according to the
	// Timeout passed to it. Default: 60s
	BlockingTimeout time.Duration `mapstructure:"blocking_timeout" yaml:"blocking_timeout"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		MaxLocksPerFile:   1000,
		MaxLocksPerClient: 10000,
		MaxTotalLocks:     100000,
		BlockingTimeout:   60 * time.Second,
	}
}

// ============================================================================
// Lock Limits Tracking
// ============================================================================

// Limits tracks current lock usage for limit enforcement.
//
// Thread Safety:
// Limits is safe for concurrent use by multiple goroutines.
type Limits struct {
	mu sync.RWMutex

	// locksByFile tracks lock count per file (fileHandle -> count)
	locksByFile map[string]int

	// locksByClient tracks lock count per client (clientID -> count)
	locksByClient map[string]int

	// totalLocks is the current total lock count
	totalLocks int
}

// NewLimits creates a new Limits tracker.
func NewLimits() *Limits {
	return &Limits{
		locksByFile:   make(map[string]int),
		locksByClient: make(map[string]int),
	}
}

// clientKey derives the per-client limiting key from an identity: the
// session/process pair, which is what actually owns a batch of locks on
// the wire, rather than the file handle embedded in Identity.
func clientKey(id Identity) string {
	return fmt.Sprintf("%d:%d", id.SessionID, id.ProcessID)
}

// CheckLimits reports whether acquiring a new lock for identity on
// fileHandle would stay within config's limits. On failure it also returns
// a human-readable reason suitable for NewLockLimitExceededError.
func (ll *Limits) CheckLimits(config Config, fileHandle string, identity Identity) (ok bool, reason string) {
	ll.mu.RLock()
	defer ll.mu.RUnlock()

	if config.MaxLocksPerFile > 0 && ll.locksByFile[fileHandle] >= config.MaxLocksPerFile {
		return false, "per-file lock limit exceeded"
	}
	if config.MaxLocksPerClient > 0 && ll.locksByClient[clientKey(identity)] >= config.MaxLocksPerClient {
		return false, "per-client lock limit exceeded"
	}
	if config.MaxTotalLocks > 0 && ll.totalLocks >= config.MaxTotalLocks {
		return false, "total lock limit exceeded"
	}
	return true, ""
}

// IncrementCounts updates counters after successfully acquiring a lock.
// Call this after the lock has been installed.
func (ll *Limits) IncrementCounts(fileHandle string, identity Identity) {
	ll.mu.Lock()
	defer ll.mu.Unlock()

	ll.locksByFile[fileHandle]++
	ll.locksByClient[clientKey(identity)]++
	ll.totalLocks++
}

// DecrementCounts updates counters after releasing a lock. Call this after
// the lock has been destroyed.
func (ll *Limits) DecrementCounts(fileHandle string, identity Identity) {
	ll.mu.Lock()
	defer ll.mu.Unlock()

	ck := clientKey(identity)
	if ll.locksByFile[fileHandle] > 0 {
		ll.locksByFile[fileHandle]--
		if ll.locksByFile[fileHandle] == 0 {
			delete(ll.locksByFile, fileHandle)
		}
	}
	if ll.locksByClient[ck] > 0 {
		ll.locksByClient[ck]--
		if ll.locksByClient[ck] == 0 {
			delete(ll.locksByClient, ck)
		}
	}
	if ll.totalLocks > 0 {
		ll.totalLocks--
	}
}

// ============================================================================
// Lock Statistics
// ============================================================================

// Stats contains current lock usage statistics.
type Stats struct {
	// TotalLocks is the total number of active locks
	TotalLocks int

	// UniqueFiles is the number of files with at least one lock
	UniqueFiles int

	// UniqueClients is the number of clients with at least one lock
	UniqueClients int

	// MaxLocksOnFile is the highest lock count on any single file
	MaxLocksOnFile int

	// MaxLocksForClient is the highest lock count for any single client
	MaxLocksForClient int
}

// GetStats returns current lock usage statistics.
//
// This is useful for monitoring and debugging.
func (ll *Limits) GetStats() Stats {
	ll.mu.RLock()
	defer ll.mu.RUnlock()

	stats := Stats{
		TotalLocks:    ll.totalLocks,
		UniqueFiles:   len(ll.locksByFile),
		UniqueClients: len(ll.locksByClient),
	}

	// Find max locks per file
	for _, count := range ll.locksByFile {
		if count > stats.MaxLocksOnFile {
			stats.MaxLocksOnFile = count
		}
	}

	// Find max locks per client
	for _, count := range ll.locksByClient {
		if count > stats.MaxLocksForClient {
			stats.MaxLocksForClient = count
		}
	}

	return stats
}

// GetFileCount returns the current lock count for a specific file.
func (ll *Limits) GetFileCount(fileHandle string) int {
	ll.mu.RLock()
	defer ll.mu.RUnlock()
	return ll.locksByFile[fileHandle]
}

// GetClientCount returns the current lock count for a specific client.
func (ll *Limits) GetClientCount(clientID string) int {
	ll.mu.RLock()
	defer ll.mu.RUnlock()
	return ll.locksByClient[clientID]
}

// GetTotalCount returns the current total lock count.
func (ll *Limits) GetTotalCount() int {
	ll.mu.RLock()
	defer ll.mu.RUnlock()
	return ll.totalLocks
}

// Reset clears all lock counts (useful for testing).
func (ll *Limits) Reset() {
	ll.mu.Lock()
	defer ll.mu.Unlock()

	ll.locksByFile = make(map[string]int)
	ll.locksByClient = make(map[string]int)
	ll.totalLocks = 0
}
