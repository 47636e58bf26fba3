package entitystore

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	adapter, err := NewBadgerAdapter("tenant-a", BadgerOptions{DataDir: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = adapter.Close() })

	store, err := New(context.Background(), adapter, "tenant-a")
	require.NoError(t, err)
	return store
}

func TestStore_SaveAndGetEntity(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	pair := &EntityPair{
		Modified: &Entity{GUID: "g1", Type: TypeIndividual, Name: "Ann", Version: 1, Data: map[string]any{"age": float64(20)}},
	}
	require.NoError(t, store.SaveEntity(ctx, pair))

	got, err := store.GetEntity(ctx, "g1")
	require.NoError(t, err)
	require.Equal(t, "Ann", got.Modified.Name)
}

func TestStore_GetEntity_NotFound(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	_, err := store.GetEntity(ctx, "missing")
	require.ErrorIs(t, err, ErrEntityNotFound)
}

func TestStore_MarkEntityAsSynced_ClearsDrift(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	pair := &EntityPair{
		Initial:  &Entity{GUID: "g1", Version: 1, Data: map[string]any{"age": float64(20)}},
		Modified: &Entity{GUID: "g1", Version: 2, Data: map[string]any{"age": float64(21)}},
	}
	require.NoError(t, store.SaveEntity(ctx, pair))
	require.NoError(t, store.MarkEntityAsSynced(ctx, "g1"))

	got, err := store.GetEntity(ctx, "g1")
	require.NoError(t, err)
	require.Equal(t, got.Modified.Version, got.Initial.Version)
	require.Equal(t, got.Modified.Data["age"], got.Initial.Data["age"])
}

func TestStore_SetExternalID_RejectsDuplicateBinding(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	require.NoError(t, store.SaveEntity(ctx, &EntityPair{Modified: &Entity{GUID: "g1", Version: 1}}))
	require.NoError(t, store.SaveEntity(ctx, &EntityPair{Modified: &Entity{GUID: "g2", Version: 1}}))

	require.NoError(t, store.SetExternalID(ctx, "g1", "ext-1"))

	err := store.SetExternalID(ctx, "g2", "ext-1")
	require.ErrorIs(t, err, ErrDuplicateExternalID)

	found, err := store.GetEntityByExternalID(ctx, "ext-1")
	require.NoError(t, err)
	require.Equal(t, "g1", found.Modified.GUID)
}

func TestStore_SetExternalID_SameGuidIsIdempotent(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	require.NoError(t, store.SaveEntity(ctx, &EntityPair{Modified: &Entity{GUID: "g1", Version: 1}}))

	require.NoError(t, store.SetExternalID(ctx, "g1", "ext-1"))
	require.NoError(t, store.SetExternalID(ctx, "g1", "ext-1"))
}

func TestStore_PotentialDuplicates_SaveAndResolve(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	has, err := store.HasUnresolvedDuplicates(ctx)
	require.NoError(t, err)
	require.False(t, has)

	require.NoError(t, store.SavePotentialDuplicates(ctx, []PotentialDuplicatePair{CanonicalPair("g2", "g1")}))

	pairs, err := store.GetPotentialDuplicates(ctx)
	require.NoError(t, err)
	require.Len(t, pairs, 1)
	require.Equal(t, "g1", pairs[0].EntityGUID)
	require.Equal(t, "g2", pairs[0].DuplicateGUID)

	has, err = store.HasUnresolvedDuplicates(ctx)
	require.NoError(t, err)
	require.True(t, has)

	require.NoError(t, store.ResolvePotentialDuplicates(ctx, []PotentialDuplicatePair{CanonicalPair("g1", "g2")}))
	pairs, err = store.GetPotentialDuplicates(ctx)
	require.NoError(t, err)
	require.Empty(t, pairs)
}

func TestStore_SearchEntities(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	require.NoError(t, store.SaveEntity(ctx, &EntityPair{Modified: &Entity{
		GUID: "g1", Name: "Ann", Type: TypeIndividual, Data: map[string]any{"age": float64(20)},
	}}))
	require.NoError(t, store.SaveEntity(ctx, &EntityPair{Modified: &Entity{
		GUID: "g2", Name: "Bob", Type: TypeIndividual, Data: map[string]any{"age": float64(40)},
	}}))

	results, err := store.SearchEntities(ctx, Criteria{Op("data.age", OpGte, float64(30))})
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Equal(t, "g2", results[0].Modified.GUID)
}

func TestStore_GetModifiedEntitiesSince(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	cutoff := time.Now()
	require.NoError(t, store.SaveEntity(ctx, &EntityPair{Modified: &Entity{
		GUID: "g1", LastUpdated: cutoff.Add(-time.Hour),
	}}))
	require.NoError(t, store.SaveEntity(ctx, &EntityPair{Modified: &Entity{
		GUID: "g2", LastUpdated: cutoff.Add(time.Hour),
	}}))

	recent, err := store.GetModifiedEntitiesSince(ctx, cutoff)
	require.NoError(t, err)
	require.Len(t, recent, 1)
	require.Equal(t, "g2", recent[0].Modified.GUID)
}

func TestStore_DeleteEntity_Tombstones(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	require.NoError(t, store.SaveEntity(ctx, &EntityPair{Modified: &Entity{GUID: "g1"}}))
	require.NoError(t, store.DeleteEntity(ctx, "g1"))

	_, err := store.GetEntity(ctx, "g1")
	require.ErrorIs(t, err, ErrEntityNotFound)
}

func TestStore_DeleteEntity_ExcludedFromAllAndSearch(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	require.NoError(t, store.SaveEntity(ctx, &EntityPair{Modified: &Entity{
		GUID: "g1", Type: TypeIndividual, Data: map[string]any{"age": float64(20)},
	}}))
	require.NoError(t, store.DeleteEntity(ctx, "g1"))

	all, err := store.GetAllEntities(ctx)
	require.NoError(t, err)
	require.Empty(t, all)

	results, err := store.SearchEntities(ctx, Criteria{Op("data.age", OpGte, float64(0))})
	require.NoError(t, err)
	require.Empty(t, results)
}

func TestStore_Clear(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	require.NoError(t, store.SaveEntity(ctx, &EntityPair{Modified: &Entity{GUID: "g1"}}))
	require.NoError(t, store.Clear(ctx))

	all, err := store.GetAllEntities(ctx)
	require.NoError(t, err)
	require.Empty(t, all)
}
