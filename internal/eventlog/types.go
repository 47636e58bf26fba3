// Package eventlog implements the Event Store (spec.md §4.3): the
// append-only log of form submissions, its Merkle log, the audit trail
// derived from it, and the tenant's sync cursors.
package eventlog

import (
	"context"
	"time"
)

// SyncLevel is the replication frontier of an event (spec.md glossary).
// Levels only ever advance: LOCAL -> REMOTE -> EXTERNAL.
type SyncLevel int

const (
	SyncLevelLocal SyncLevel = iota
	SyncLevelRemote
	SyncLevelExternal
)

func (l SyncLevel) String() string {
	switch l {
	case SyncLevelLocal:
		return "LOCAL"
	case SyncLevelRemote:
		return "REMOTE"
	case SyncLevelExternal:
		return "EXTERNAL"
	default:
		return "UNKNOWN"
	}
}

// Max returns the higher of the two sync levels — the semantics
// updateSyncLevelFromEvents needs to never regress a level (spec.md §4.3).
func Max(a, b SyncLevel) SyncLevel {
	if a > b {
		return a
	}
	return b
}

// Built-in event types (spec.md §3). Custom types are any other non-empty
// string registered with an applier (spec.md §9, "open Custom(name) case").
const (
	TypeCreateIndividual = "create-individual"
	TypeUpdateIndividual = "update-individual"
	TypeCreateGroup      = "create-group"
	TypeUpdateGroup      = "update-group"
	TypeAddMember        = "add-member"
	TypeRemoveMember     = "remove-member"
	TypeDeleteEntity     = "delete-entity"
	TypeResolveDuplicate = "resolve-duplicate"
)

// Event is an immutable form submission (spec.md §3). Data carries an
// opaque tree of string/number/bool/array/object values — applier-specific
// projections read known keys, everything else passes through untouched.
type Event struct {
	GUID       string         `json:"guid"`
	EntityGUID string         `json:"entityGuid"`
	Type       string         `json:"type"`
	Data       map[string]any `json:"data"`
	Timestamp  time.Time      `json:"timestamp"`
	UserID     string         `json:"userId"`
	SyncLevel  SyncLevel      `json:"syncLevel"`
}

// AuditLogEntry is one record per applied event (spec.md §3).
type AuditLogEntry struct {
	GUID       string         `json:"guid"`
	Timestamp  time.Time      `json:"timestamp"`
	UserID     string         `json:"userId"`
	Action     string         `json:"action"`
	EventGUID  string         `json:"eventGuid"`
	EntityGUID string         `json:"entityGuid"`
	Changes    map[string]any `json:"changes,omitempty"`
	Signature  string         `json:"signature,omitempty"`
	SyncLevel  SyncLevel      `json:"syncLevel"`
}

// Page is the result of a paginated read: events ordered ascending by
// (timestamp, guid), and the cursor to resume from (nil once exhausted).
type Page struct {
	Events     []*Event
	NextCursor *time.Time
}

// StorageAdapter is spec.md §4.1's EventStorageAdapter capability set.
// Implementations: BadgerAdapter (local, embedded) and PostgresAdapter
// (remote, relational/JSON-document).
type StorageAdapter interface {
	Init(ctx context.Context) error

	// SaveEvent persists event and returns its storage id. Implementations
	// must be idempotent: calling SaveEvent twice with the same guid must
	// not create a second row. Store.SaveEvent is the layer that checks
	// EventExists first so this can stay a plain insert.
	SaveEvent(ctx context.Context, event *Event) (string, error)

	// GetEvents returns events that have not yet reached EXTERNAL sync
	// level — the "still has local work to do" view callers use to decide
	// what still needs pushing.
	GetEvents(ctx context.Context) ([]*Event, error)

	// GetAllEvents returns every event in the tenant's log — the view the
	// Merkle tree is rebuilt from on Init. The order is the adapter's own
	// (BadgerAdapter: by guid key; PostgresAdapter: by timestamp, guid);
	// Store.New sorts by (timestamp, guid) before rebuilding.
	GetAllEvents(ctx context.Context) ([]*Event, error)

	EventExists(ctx context.Context, guid string) (bool, error)

	GetEventsSince(ctx context.Context, since time.Time) ([]*Event, error)

	GetEventsSincePagination(ctx context.Context, since time.Time, limit int) (*Page, error)

	UpdateEventSyncLevel(ctx context.Context, guid string, level SyncLevel) error

	// UpdateSyncLevelFromEvents advances each event's level to
	// Max(current, level), never regressing (spec.md §4.3).
	UpdateSyncLevelFromEvents(ctx context.Context, events []*Event, level SyncLevel) error

	SaveAuditLog(ctx context.Context, entry *AuditLogEntry) error
	SaveAuditLogs(ctx context.Context, entries []*AuditLogEntry) error
	GetAuditLogsSince(ctx context.Context, since time.Time) ([]*AuditLogEntry, error)
	GetAuditTrailByEntityGuid(ctx context.Context, entityGUID string) ([]*AuditLogEntry, error)

	GetMerkleNodes(ctx context.Context) ([]string, error)
	SaveMerkleNodes(ctx context.Context, nodes []string) error

	GetSyncCursor(ctx context.Context, name string) (time.Time, bool, error)
	SetSyncCursor(ctx context.Context, name string, ts time.Time) error

	Clear(ctx context.Context) error
	Close() error
}

// Cursor names (spec.md §3 SyncCursors).
const (
	CursorLastLocalSync        = "lastLocalSync"
	CursorLastRemoteSync       = "lastRemoteSync"
	CursorLastPushExternalSync = "lastPushExternalSync"
	CursorLastPullExternalSync = "lastPullExternalSync"
)
