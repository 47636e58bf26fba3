package eventlog

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/datacollect/core/internal/logging"
	"github.com/datacollect/core/internal/merkle"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// Store is the Event Store (spec.md §4.3). It owns the event log, the
// Merkle tree over it, the audit trail, and the tenant's sync cursors.
// Writes are serialized per tenant with a mutex, the way §5 requires: "a
// mutex protects saveEvent, Merkle rebuild, and audit append, so the root
// is always consistent with the event list."
type Store struct {
	adapter  StorageAdapter
	tenantID string
	tree     *merkle.Tree
	mu       sync.Mutex
}

// New constructs a Store and rebuilds its Merkle tree from the adapter's
// full event list (spec.md §4.2 Persistence: "the tree is rebuilt from the
// event list on init").
func New(ctx context.Context, adapter StorageAdapter, tenantID string) (*Store, error) {
	if err := adapter.Init(ctx); err != nil {
		return nil, fmt.Errorf("%w: init: %v", ErrStorage, err)
	}

	s := &Store{
		adapter:  adapter,
		tenantID: tenantID,
		tree:     merkle.New(),
	}

	events, err := adapter.GetAllEvents(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: loading events: %v", ErrStorage, err)
	}
	sortEvents(events)
	guids := make([]string, len(events))
	for i, e := range events {
		guids[i] = e.GUID
	}
	s.tree.Rebuild(guids)

	return s, nil
}

// SaveEvent persists event, appends its Merkle leaf, and records an audit
// entry — unless the guid already exists, in which case it is a no-op that
// returns the existing event's guid (spec.md §4.3: "if eventExists(guid) is
// true, the call is a no-op returning the existing id" — idempotence across
// retried pulls, and the DuplicateEvent kind of §7, which callers treat as
// success).
func (s *Store) SaveEvent(ctx context.Context, event *Event) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	exists, err := s.adapter.EventExists(ctx, event.GUID)
	if err != nil {
		return "", fmt.Errorf("%w: checking existence: %v", ErrStorage, err)
	}
	if exists {
		return event.GUID, nil
	}

	id, err := s.adapter.SaveEvent(ctx, event)
	if err != nil {
		return "", fmt.Errorf("%w: saving event: %v", ErrStorage, err)
	}

	s.tree.Append(event.GUID)
	if err := s.adapter.SaveMerkleNodes(ctx, []string{s.tree.Root()}); err != nil {
		return "", fmt.Errorf("%w: saving merkle nodes: %v", ErrStorage, err)
	}

	entry := &AuditLogEntry{
		GUID:       uuid.NewString(),
		Timestamp:  event.Timestamp,
		UserID:     event.UserID,
		Action:     event.Type,
		EventGUID:  event.GUID,
		EntityGUID: event.EntityGUID,
		SyncLevel:  event.SyncLevel,
	}
	if err := s.adapter.SaveAuditLog(ctx, entry); err != nil {
		return "", fmt.Errorf("%w: saving audit log: %v", ErrStorage, err)
	}

	s.logger().WithField("event_guid", event.GUID).Debug("event saved")
	return id, nil
}

func (s *Store) logger() *logrus.Entry {
	return logging.ForTenant("eventlog", s.tenantID)
}

// EventExists reports whether guid has already been persisted.
func (s *Store) EventExists(ctx context.Context, guid string) (bool, error) {
	return s.adapter.EventExists(ctx, guid)
}

// GetEvents returns events not yet at EXTERNAL sync level.
func (s *Store) GetEvents(ctx context.Context) ([]*Event, error) {
	return s.adapter.GetEvents(ctx)
}

// GetAllEvents returns every event in the log.
func (s *Store) GetAllEvents(ctx context.Context) ([]*Event, error) {
	return s.adapter.GetAllEvents(ctx)
}

// GetEventsSince returns events with timestamp > since, unordered cap.
func (s *Store) GetEventsSince(ctx context.Context, since time.Time) ([]*Event, error) {
	return s.adapter.GetEventsSince(ctx, since)
}

// GetEventsSincePagination returns events sorted ascending by
// (timestamp, guid), capped at limit (default 10 per spec.md §4.3).
// nextCursor is the last returned event's timestamp, or nil when
// exhausted — the tie-break by guid is what makes pagination stable across
// equal timestamps.
func (s *Store) GetEventsSincePagination(ctx context.Context, since time.Time, limit int) (*Page, error) {
	if limit <= 0 {
		limit = 10
	}
	page, err := s.adapter.GetEventsSincePagination(ctx, since, limit)
	if err != nil {
		return nil, fmt.Errorf("%w: paginating events: %v", ErrStorage, err)
	}
	sortEvents(page.Events)
	return page, nil
}

// UpdateSyncLevelFromEvents advances each event's sync level to
// Max(current, level) — it never regresses (spec.md §4.3).
func (s *Store) UpdateSyncLevelFromEvents(ctx context.Context, events []*Event, level SyncLevel) error {
	if len(events) == 0 {
		return nil
	}
	if err := s.adapter.UpdateSyncLevelFromEvents(ctx, events, level); err != nil {
		return fmt.Errorf("%w: updating sync level: %v", ErrStorage, err)
	}
	return nil
}

// SaveAuditLog appends a single audit entry directly, outside SaveEvent.
// The appliers do not call it: a cascading delete records no audit entry
// of its own beyond the one written for the event that caused it.
func (s *Store) SaveAuditLog(ctx context.Context, entry *AuditLogEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if entry.GUID == "" {
		entry.GUID = uuid.NewString()
	}
	if err := s.adapter.SaveAuditLog(ctx, entry); err != nil {
		return fmt.Errorf("%w: saving audit log: %v", ErrStorage, err)
	}
	return nil
}

// SaveAuditLogs appends a batch of audit entries (used by sync pulls).
func (s *Store) SaveAuditLogs(ctx context.Context, entries []*AuditLogEntry) error {
	if len(entries) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.adapter.SaveAuditLogs(ctx, entries); err != nil {
		return fmt.Errorf("%w: saving audit logs: %v", ErrStorage, err)
	}
	return nil
}

// GetAuditLogsSince returns audit entries after since, for pushing/pulling.
func (s *Store) GetAuditLogsSince(ctx context.Context, since time.Time) ([]*AuditLogEntry, error) {
	return s.adapter.GetAuditLogsSince(ctx, since)
}

// GetAuditTrailByEntityGuid returns the ordered audit trail for one entity.
func (s *Store) GetAuditTrailByEntityGuid(ctx context.Context, entityGUID string) ([]*AuditLogEntry, error) {
	return s.adapter.GetAuditTrailByEntityGuid(ctx, entityGUID)
}

// GetMerkleRoot returns the current Merkle root, or "" when the log is
// empty (spec.md §4.2).
func (s *Store) GetMerkleRoot() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tree.Root()
}

// GetMerkleProof returns the sibling path for guid, or (nil, false) if
// guid is not in the log.
func (s *Store) GetMerkleProof(guid string) ([]merkle.Sibling, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tree.Proof(guid)
}

// VerifyEvent replays proof against guid and compares to expectedRoot
// (spec.md §8 invariant 4 / scenario S4).
func VerifyEvent(guid string, proof []merkle.Sibling, expectedRoot string) bool {
	return merkle.Verify(guid, proof, expectedRoot)
}

// GetSyncCursor returns the named cursor's value.
func (s *Store) GetSyncCursor(ctx context.Context, name string) (time.Time, bool, error) {
	return s.adapter.GetSyncCursor(ctx, name)
}

// SetSyncCursor sets the named cursor's value. Cursors are monotonic by
// convention of the callers (sync coordinators); the store itself does not
// reject a backward write so that test fixtures can seed state.
func (s *Store) SetSyncCursor(ctx context.Context, name string, ts time.Time) error {
	return s.adapter.SetSyncCursor(ctx, name, ts)
}

// Clear wipes the tenant's event log, audit trail, cursors, and Merkle
// tree. Intended for tests and tenant deprovisioning.
func (s *Store) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.adapter.Clear(ctx); err != nil {
		return fmt.Errorf("%w: clearing store: %v", ErrStorage, err)
	}
	s.tree = merkle.New()
	return nil
}

// Close releases the underlying adapter's resources.
func (s *Store) Close() error {
	return s.adapter.Close()
}

func sortEvents(events []*Event) {
	sort.Slice(events, func(i, j int) bool {
		if events[i].Timestamp.Equal(events[j].Timestamp) {
			return events[i].GUID < events[j].GUID
		}
		return events[i].Timestamp.Before(events[j].Timestamp)
	})
}
