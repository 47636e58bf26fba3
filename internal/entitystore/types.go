// Package entitystore implements the Entity Store (spec.md §4.4): the
// current-state projection of entities, the potential-duplicate table, and
// the external-id index.
package entitystore

import (
	"context"
	"time"
)

// EntityType distinguishes the two tagged-variant shapes an Entity can take
// (spec.md §3).
type EntityType string

const (
	TypeIndividual EntityType = "Individual"
	TypeGroup      EntityType = "Group"
)

// Entity is the current-state projection of one form-driven record
// (spec.md §3). MemberIDs is only meaningful when Type == TypeGroup; it is
// an ordered, duplicate-free sequence of member entity guids.
type Entity struct {
	ID          string         `json:"id"`
	GUID        string         `json:"guid"`
	Type        EntityType     `json:"type"`
	Name        string         `json:"name"`
	Version     int            `json:"version"`
	LastUpdated time.Time      `json:"lastUpdated"`
	Data        map[string]any `json:"data"`
	MemberIDs   []string       `json:"memberIds,omitempty"`
	ExternalID  string         `json:"externalId,omitempty"`
	Deleted     bool           `json:"deleted,omitempty"`
}

// Clone returns a deep-enough copy for safe read-update-write: Data and
// MemberIDs are copied so callers mutating the returned entity cannot
// corrupt the store's in-memory or cached state.
func (e *Entity) Clone() *Entity {
	if e == nil {
		return nil
	}
	c := *e
	if e.Data != nil {
		c.Data = make(map[string]any, len(e.Data))
		for k, v := range e.Data {
			c.Data[k] = v
		}
	}
	if e.MemberIDs != nil {
		c.MemberIDs = append([]string(nil), e.MemberIDs...)
	}
	return &c
}

// EntityPair is the stored shape (spec.md §3): Initial is the entity state
// as of the last sync/load, Modified is the current local state. Any field
// where Initial != Modified is local-only drift.
type EntityPair struct {
	Initial  *Entity `json:"initial"`
	Modified *Entity `json:"modified"`
}

// PotentialDuplicatePair is canonicalized so EntityGUID < DuplicateGUID
// (spec.md §3), making the pair unique regardless of detection order.
type PotentialDuplicatePair struct {
	EntityGUID    string `json:"entityGuid"`
	DuplicateGUID string `json:"duplicateGuid"`
}

// CanonicalPair returns {a, b} ordered so the first element is
// lexicographically smaller, matching the canonicalization rule in spec.md
// §3 and §4.5.
func CanonicalPair(a, b string) PotentialDuplicatePair {
	if a > b {
		a, b = b, a
	}
	return PotentialDuplicatePair{EntityGUID: a, DuplicateGUID: b}
}

// StorageAdapter is spec.md §4.1's EntityStorageAdapter capability set.
// Implementations: BadgerAdapter (local, embedded) and PostgresAdapter
// (remote, relational/JSON-document).
type StorageAdapter interface {
	Init(ctx context.Context) error

	// SaveEntity upserts pair by pair.Modified.GUID (or pair.Initial.GUID
	// when Modified is nil).
	SaveEntity(ctx context.Context, pair *EntityPair) error

	GetEntity(ctx context.Context, guid string) (*EntityPair, error)
	GetAllEntities(ctx context.Context) ([]*EntityPair, error)
	GetModifiedEntitiesSince(ctx context.Context, since time.Time) ([]*EntityPair, error)
	DeleteEntity(ctx context.Context, guid string) error

	// MarkEntityAsSynced copies Modified into Initial atomically, clearing
	// drift (spec.md §4.4).
	MarkEntityAsSynced(ctx context.Context, guid string) error

	GetEntityByExternalID(ctx context.Context, externalID string) (*EntityPair, error)

	// SetExternalID binds externalID to guid. Implementations must return
	// ErrDuplicateExternalID if externalID is already bound to a different
	// guid in the same tenant.
	SetExternalID(ctx context.Context, guid, externalID string) error

	SearchEntities(ctx context.Context, criteria Criteria) ([]*EntityPair, error)

	GetPotentialDuplicates(ctx context.Context) ([]PotentialDuplicatePair, error)
	SavePotentialDuplicates(ctx context.Context, pairs []PotentialDuplicatePair) error
	ResolvePotentialDuplicates(ctx context.Context, pairs []PotentialDuplicatePair) error

	Clear(ctx context.Context) error
	Close() error
}
