package lock

// tryGrant evaluates candidate against every record currently granted on
// node and reports whether it can be installed as-is. The caller must hold
// node.mu for writing. On a conflict it also returns the first record that
// blocks the candidate, so the caller can park on it.
//
// The compatibility rule mirrors MS-SMB2 3.3.5.15: two shared locks over
// the same range coexist, and an identity already holding an exclusive
// lock may take out a shared lock over the same range, but any other
// overlap is a conflict, including an exclusive candidate overlapping a
// lock held by the same owner.
func tryGrant(node *FileNode, handle Handle, candidate *Record) (Status, *Record) {
	if !handle.IsOpen() {
		return StatusRangeNotLocked, nil
	}
	for _, held := range node.locks {
		if !held.Range.Overlaps(candidate.Range) {
			continue
		}
		if held.Type == Shared && candidate.Type == Shared {
			continue
		}
		if candidate.Type == Shared && held.Type == Exclusive && held.Identity.SameOwner(candidate.Identity) {
			continue
		}
		return StatusLockNotGranted, held
	}
	return StatusSuccess, nil
}

// matchUnlock finds the granted record whose range and identity exactly
// equal rng and identity. The caller must hold node.mu for writing. SMB2
// unlock is exact-match only: a request to unlock [10,20) does not touch a
// held [10,30) lock even though it fully contains the requested range.
func matchUnlock(node *FileNode, rng Range, identity Identity) (index int, rec *Record) {
	for i, held := range node.locks {
		if held.Range == rng && held.Identity.SameOwner(identity) {
			return i, held
		}
	}
	return -1, nil
}

// checkAccess evaluates whether a pending I/O for identity over rng,
// wanting the accesses in desired, is compatible with every granted record
// overlapping rng. The caller must hold node.mu for reading.
//
// A shared record is compatible with a read-only request regardless of who
// holds it; it is never compatible with a request that wants to write,
// even for the lock's own owner. An exclusive record is compatible only
// with I/O from the exact same session and process that holds it.
func checkAccess(node *FileNode, identity Identity, rng Range, desired AccessDesire) Status {
	for _, held := range node.locks {
		if !held.Range.Overlaps(rng) {
			continue
		}
		compatible := held.Type == Shared && !desired.Write
		if !compatible && held.Type == Exclusive {
			compatible = held.Identity.SessionID == identity.SessionID &&
				held.Identity.ProcessID == identity.ProcessID
		}
		if !compatible {
			return StatusFileLockConflict
		}
	}
	return StatusSuccess
}
