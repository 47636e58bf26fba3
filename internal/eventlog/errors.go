package eventlog

import "errors"

// Sentinel errors matching the relevant rows of spec.md §7's error taxonomy.
var (
	// ErrStorage wraps any adapter write failure (StorageError).
	ErrStorage = errors.New("event store: storage error")

	// ErrIntegrity signals a Merkle verification failure (IntegrityError).
	ErrIntegrity = errors.New("event store: merkle integrity check failed")
)
