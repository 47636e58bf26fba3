package syncexternal

import "errors"

var (
	// ErrUnknownAdapterType signals config.type has no registered factory.
	ErrUnknownAdapterType = errors.New("syncexternal: unknown adapter type")

	// ErrNotInitialized signals Synchronize called before Initialize.
	ErrNotInitialized = errors.New("syncexternal: coordinator not initialized")

	// ErrAlreadySyncing signals a second concurrent sync call (spec.md §5:
	// "External sync are each guarded by a per-tenant syncing flag").
	ErrAlreadySyncing = errors.New("syncexternal: already syncing")
)
