package entitystore

import "errors"

// Sentinel errors matching the relevant rows of spec.md §7's error taxonomy.
var (
	// ErrStorage wraps any adapter write/read failure (StorageError).
	ErrStorage = errors.New("entity store: storage error")

	// ErrEntityNotFound signals an update/remove target that does not
	// exist (EntityNotFound).
	ErrEntityNotFound = errors.New("entity store: entity not found")

	// ErrDuplicateExternalID signals externalId is already bound to a
	// different entity in the same tenant (DuplicateExternalId).
	ErrDuplicateExternalID = errors.New("entity store: external id already bound")

	// ErrInvalidQuery signals a search criterion this store cannot
	// evaluate, e.g. a multi-operator object that does not co-target the
	// same field as a range (spec.md §9 Open Question resolution).
	ErrInvalidQuery = errors.New("entity store: invalid search query")
)
