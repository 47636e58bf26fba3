package entitystore

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/datacollect/core/internal/logging"
	"github.com/sirupsen/logrus"
)

// Store is the Entity Store (spec.md §4.4). Writes are serialized per
// entity guid via a sync.Map of mutexes — one per guid, the same
// eliminates-contention-without-a-single-global-lock idiom the teacher's
// BadgerStore uses for per-bucket metrics mutexes — so concurrent writes to
// distinct guids proceed in parallel (spec.md §5).
type Store struct {
	adapter  StorageAdapter
	tenantID string
	guidMu   sync.Map // map[string]*sync.Mutex
}

// New constructs a Store backed by adapter for tenantID.
func New(ctx context.Context, adapter StorageAdapter, tenantID string) (*Store, error) {
	if err := adapter.Init(ctx); err != nil {
		return nil, fmt.Errorf("%w: init: %v", ErrStorage, err)
	}
	return &Store{adapter: adapter, tenantID: tenantID}, nil
}

func (s *Store) logger() *logrus.Entry {
	return logging.ForTenant("entitystore", s.tenantID)
}

func (s *Store) lockFor(guid string) *sync.Mutex {
	mu, _ := s.guidMu.LoadOrStore(guid, &sync.Mutex{})
	return mu.(*sync.Mutex)
}

// SaveEntity upserts pair by its guid, serialized against any other write
// to the same guid.
func (s *Store) SaveEntity(ctx context.Context, pair *EntityPair) error {
	guid := pairGUID(pair)
	mu := s.lockFor(guid)
	mu.Lock()
	defer mu.Unlock()

	if err := s.adapter.SaveEntity(ctx, pair); err != nil {
		return fmt.Errorf("%w: saving entity %s: %v", ErrStorage, guid, err)
	}
	s.logger().WithField("entity_guid", guid).Debug("entity saved")
	return nil
}

func pairGUID(pair *EntityPair) string {
	if pair.Modified != nil {
		return pair.Modified.GUID
	}
	if pair.Initial != nil {
		return pair.Initial.GUID
	}
	return ""
}

// tombstoned reports whether pair has been deleted (spec.md §8 scenario
// S2: a tombstoned entity reads back as ErrEntityNotFound everywhere
// except the adapter's own storage).
func tombstoned(pair *EntityPair) bool {
	return pair != nil && pair.Modified != nil && pair.Modified.Deleted
}

// GetEntity returns the {initial, modified} pair for guid, or
// ErrEntityNotFound if it does not exist or has been tombstoned.
func (s *Store) GetEntity(ctx context.Context, guid string) (*EntityPair, error) {
	pair, err := s.adapter.GetEntity(ctx, guid)
	if err != nil {
		return nil, fmt.Errorf("%w: loading entity %s: %v", ErrStorage, guid, err)
	}
	if pair == nil || tombstoned(pair) {
		return nil, fmt.Errorf("%w: %s", ErrEntityNotFound, guid)
	}
	return pair, nil
}

// GetAllEntities returns every non-tombstoned entity pair in the tenant.
func (s *Store) GetAllEntities(ctx context.Context) ([]*EntityPair, error) {
	pairs, err := s.adapter.GetAllEntities(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: loading entities: %v", ErrStorage, err)
	}
	return filterTombstoned(pairs), nil
}

// GetModifiedEntitiesSince returns non-tombstoned entities whose
// LastUpdated is after since — used by sync's push phase equivalent for
// entity-level exports, and by operator tooling.
func (s *Store) GetModifiedEntitiesSince(ctx context.Context, since time.Time) ([]*EntityPair, error) {
	pairs, err := s.adapter.GetModifiedEntitiesSince(ctx, since)
	if err != nil {
		return nil, fmt.Errorf("%w: loading modified entities: %v", ErrStorage, err)
	}
	return filterTombstoned(pairs), nil
}

func filterTombstoned(pairs []*EntityPair) []*EntityPair {
	out := make([]*EntityPair, 0, len(pairs))
	for _, pair := range pairs {
		if !tombstoned(pair) {
			out = append(out, pair)
		}
	}
	return out
}

// DeleteEntity tombstones guid.
func (s *Store) DeleteEntity(ctx context.Context, guid string) error {
	mu := s.lockFor(guid)
	mu.Lock()
	defer mu.Unlock()

	if err := s.adapter.DeleteEntity(ctx, guid); err != nil {
		return fmt.Errorf("%w: deleting entity %s: %v", ErrStorage, guid, err)
	}
	return nil
}

// MarkEntityAsSynced copies Modified into Initial atomically, clearing
// drift (spec.md §4.4).
func (s *Store) MarkEntityAsSynced(ctx context.Context, guid string) error {
	mu := s.lockFor(guid)
	mu.Lock()
	defer mu.Unlock()

	if err := s.adapter.MarkEntityAsSynced(ctx, guid); err != nil {
		return fmt.Errorf("%w: marking entity %s synced: %v", ErrStorage, guid, err)
	}
	return nil
}

// GetEntityByExternalID looks up the entity bound to externalID, or
// ErrEntityNotFound if none is bound or it has been tombstoned.
func (s *Store) GetEntityByExternalID(ctx context.Context, externalID string) (*EntityPair, error) {
	pair, err := s.adapter.GetEntityByExternalID(ctx, externalID)
	if err != nil {
		return nil, fmt.Errorf("%w: looking up external id %s: %v", ErrStorage, externalID, err)
	}
	if pair == nil || tombstoned(pair) {
		return nil, fmt.Errorf("%w: external id %s", ErrEntityNotFound, externalID)
	}
	return pair, nil
}

// SetExternalID binds externalID to guid, failing with
// ErrDuplicateExternalID if it is already bound to a different entity in
// the tenant (spec.md §4.4).
func (s *Store) SetExternalID(ctx context.Context, guid, externalID string) error {
	mu := s.lockFor(guid)
	mu.Lock()
	defer mu.Unlock()

	if err := s.adapter.SetExternalID(ctx, guid, externalID); err != nil {
		return err
	}
	return nil
}

// SearchEntities delegates to the adapter's query engine, which must obey
// spec.md §4.1's query language semantics, then drops any tombstoned
// result.
func (s *Store) SearchEntities(ctx context.Context, criteria Criteria) ([]*EntityPair, error) {
	pairs, err := s.adapter.SearchEntities(ctx, criteria)
	if err != nil {
		return nil, err
	}
	return filterTombstoned(pairs), nil
}

// GetPotentialDuplicates returns every pending potential-duplicate pair.
func (s *Store) GetPotentialDuplicates(ctx context.Context) ([]PotentialDuplicatePair, error) {
	pairs, err := s.adapter.GetPotentialDuplicates(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: loading potential duplicates: %v", ErrStorage, err)
	}
	return pairs, nil
}

// SavePotentialDuplicates records newly detected candidate pairs.
func (s *Store) SavePotentialDuplicates(ctx context.Context, pairs []PotentialDuplicatePair) error {
	if len(pairs) == 0 {
		return nil
	}
	if err := s.adapter.SavePotentialDuplicates(ctx, pairs); err != nil {
		return fmt.Errorf("%w: saving potential duplicates: %v", ErrStorage, err)
	}
	return nil
}

// ResolvePotentialDuplicates removes pairs from the potential-duplicate set.
func (s *Store) ResolvePotentialDuplicates(ctx context.Context, pairs []PotentialDuplicatePair) error {
	if len(pairs) == 0 {
		return nil
	}
	if err := s.adapter.ResolvePotentialDuplicates(ctx, pairs); err != nil {
		return fmt.Errorf("%w: resolving potential duplicates: %v", ErrStorage, err)
	}
	return nil
}

// HasUnresolvedDuplicates reports whether any potential-duplicate pair is
// still pending — the precondition the Internal Sync Coordinator checks
// before syncing (spec.md §4.6, DuplicatesBlockSync).
func (s *Store) HasUnresolvedDuplicates(ctx context.Context) (bool, error) {
	pairs, err := s.GetPotentialDuplicates(ctx)
	if err != nil {
		return false, err
	}
	return len(pairs) > 0, nil
}

// Clear wipes every entity, duplicate pair, and external-id binding in the
// tenant. Intended for tests and tenant deprovisioning.
func (s *Store) Clear(ctx context.Context) error {
	if err := s.adapter.Clear(ctx); err != nil {
		return fmt.Errorf("%w: clearing store: %v", ErrStorage, err)
	}
	return nil
}

// Close releases the underlying adapter's resources.
func (s *Store) Close() error {
	return s.adapter.Close()
}
