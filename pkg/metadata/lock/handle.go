package lock

import "sync"

// Handle is the file-handle side of the external contract the lock core
// depends on. It is deliberately narrow: the core needs to know whether the
// handle is still open, which FileNode owns its lock list, and the last
// offset a lock attempt on it failed at, so repeated identical failures can
// be remapped to FILE_LOCK_CONFLICT instead of endlessly reporting
// LOCK_NOT_GRANTED (see raiseLockError).
type Handle interface {
	// Key identifies the handle for logging and metrics labels.
	Key() string
	// Node returns the FileNode whose lock list this handle's locks live
	// in. Multiple handles opened on the same file share one FileNode.
	Node() *FileNode
	// IsOpen reports whether the handle is still usable. A closed handle
	// can never have a new lock granted against it.
	IsOpen() bool
	// LastFailedOffset returns the start offset of the most recent failed
	// lock attempt on this handle, and whether one has been recorded yet.
	LastFailedOffset() (offset uint64, ok bool)
	// SetLastFailedOffset records offset as the most recent failed
	// attempt's start. Implementations must guard this with their own
	// mutex, independent of the FileNode's gate.
	SetLastFailedOffset(offset uint64)
}

// OpenHandle is a ready-to-use Handle implementation suitable for tests and
// for any caller that does not already have its own open-file object to
// adapt. Its state is guarded by a private mutex distinct from the
// FileNode's file-list gate.
type OpenHandle struct {
	key  string
	node *FileNode

	mu              sync.Mutex
	open            bool
	lastFailed      uint64
	lastFailedIsSet bool
}

// NewOpenHandle returns an open Handle identified by key, whose locks live
// on node.
func NewOpenHandle(key string, node *FileNode) *OpenHandle {
	return &OpenHandle{key: key, node: node, open: true}
}

func (h *OpenHandle) Key() string     { return h.key }
func (h *OpenHandle) Node() *FileNode { return h.node }

func (h *OpenHandle) IsOpen() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.open
}

// Close marks the handle closed. It does not by itself release any locks;
// callers should follow it with Core.DestroyByHandle.
func (h *OpenHandle) Close() {
	h.mu.Lock()
	h.open = false
	h.mu.Unlock()
}

func (h *OpenHandle) LastFailedOffset() (uint64, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.lastFailed, h.lastFailedIsSet
}

func (h *OpenHandle) SetLastFailedOffset(offset uint64) {
	h.mu.Lock()
	h.lastFailed = offset
	h.lastFailedIsSet = true
	h.mu.Unlock()
}
