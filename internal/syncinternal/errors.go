package syncinternal

import "errors"

// Sentinel errors matching the relevant rows of spec.md §7's error taxonomy.
var (
	// ErrDuplicatesBlockSync signals unresolved potential-duplicate pairs
	// present, which must be resolved before syncing (spec.md §4.6
	// preconditions).
	ErrDuplicatesBlockSync = errors.New("sync: unresolved duplicates block sync")

	// ErrAlreadySyncing signals a second concurrent sync call while one is
	// in flight (spec.md §5).
	ErrAlreadySyncing = errors.New("sync: already syncing")

	// ErrCancelled signals cooperative cancellation between page boundaries.
	ErrCancelled = errors.New("sync: cancelled")

	// ErrPushFailed signals a push page exhausted its retry budget.
	ErrPushFailed = errors.New("sync: push failed")

	// ErrTimeout signals an I/O deadline expired.
	ErrTimeout = errors.New("sync: timeout")

	// ErrNetworkError wraps a transport failure.
	ErrNetworkError = errors.New("sync: network error")

	// ErrAuthRequired signals a missing or expired bearer token.
	ErrAuthRequired = errors.New("sync: authentication required")
)
