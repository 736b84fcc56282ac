package lock

import (
	"github.com/marmos91/dittofs/pkg/metadata/errors"
)

// ============================================================================
// Lock Error Factory Functions
//
// These wrap the generic errors package with lock-specific messages, and
// RaiseStatusError maps the Status taxonomy onto them wholesale.
// ============================================================================

// NewLockedError reports that the requested range could not be granted
// without waiting.
func NewLockedError(path string, reason string) *errors.StoreError {
	if reason == "" {
		reason = "range is locked"
	}
	return &errors.StoreError{
		Code:    errors.ErrLocked,
		Message: reason,
		Path:    path,
	}
}

// NewLockNotFoundError reports that an unlock addressed a range not
// currently held by the caller.
func NewLockNotFoundError(path string) *errors.StoreError {
	return &errors.StoreError{
		Code:    errors.ErrLockNotFound,
		Message: "lock not found",
		Path:    path,
	}
}

// NewLockConflictError reports a remapped conflict, or an I/O request that
// collides with a lock held by someone else.
func NewLockConflictError(path string, reason string) *errors.StoreError {
	if reason == "" {
		reason = "lock conflict"
	}
	return &errors.StoreError{
		Code:    errors.ErrLockConflict,
		Message: reason,
		Path:    path,
	}
}

// NewLockCancelledError reports that a parked lock wait was cancelled.
func NewLockCancelledError(path string) *errors.StoreError {
	return &errors.StoreError{
		Code:    errors.ErrLockCancelled,
		Message: "lock wait cancelled",
		Path:    path,
	}
}

// NewLockLimitExceededError reports that granting the lock would exceed a
// configured limit.
func NewLockLimitExceededError(reason string) *errors.StoreError {
	return &errors.StoreError{
		Code:    errors.ErrLockLimitExceeded,
		Message: reason,
	}
}

// RaiseStatusError is the single conversion point between the internal
// Status taxonomy and the server's external error surface. Callers that
// only have a Status value (for example after a batched operation) use
// this instead of reconstructing the status-specific error by hand.
func RaiseStatusError(path string, status Status) error {
	switch status {
	case StatusSuccess:
		return nil
	case StatusLockNotGranted:
		return NewLockedError(path, "")
	case StatusFileLockConflict:
		return NewLockConflictError(path, "")
	case StatusRangeNotLocked:
		return NewLockNotFoundError(path)
	case StatusCancelled:
		return NewLockCancelledError(path)
	default:
		return errors.NewInvalidArgumentError("unrecognized lock status")
	}
}
