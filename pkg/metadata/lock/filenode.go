package lock

import (
	"sync"
	"time"
)

// FileNode owns the ordered list of granted Records for a single file. It
// is meant to be embedded or referenced by whatever object the rest of the
// server uses to represent an open file (an inode, a path-keyed cache
// entry, whatever the caller already has); the lock core never constructs
// or looks one up on its own, it only operates on the FileNode it is
// handed.
//
// mu is the file-list gate: a readers-writer lock serializing every
// mutation of locks and every read of it. Acquire, Release and
// DestroyByHandle take it as a writer; CheckAccess takes it as a reader.
type FileNode struct {
	mu    sync.RWMutex
	locks []*Record
}

// NewFileNode returns an empty FileNode.
func NewFileNode() *FileNode {
	return &FileNode{}
}

// Snapshot returns a copy of the currently granted records, for
// diagnostics. The returned slice is safe to range over without holding any
// lock, but the Records it references are still live and shared.
func (n *FileNode) Snapshot() []*Record {
	n.mu.RLock()
	defer n.mu.RUnlock()
	out := make([]*Record, len(n.locks))
	copy(out, n.locks)
	return out
}

// Count returns the number of currently granted records.
func (n *FileNode) Count() int {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return len(n.locks)
}

func (n *FileNode) install(r *Record) {
	r.mu.Lock()
	r.state = stateGranted
	r.AcquiredAt = time.Now()
	r.mu.Unlock()
	n.locks = append(n.locks, r)
}

// removeAt deletes the record at index i from the list, preserving order.
func (n *FileNode) removeAt(i int) *Record {
	r := n.locks[i]
	n.locks = append(n.locks[:i], n.locks[i+1:]...)
	return r
}
