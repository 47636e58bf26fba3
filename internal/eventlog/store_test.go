package eventlog

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
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

func sampleEvent(guid string, ts time.Time) *Event {
	return &Event{
		GUID:       guid,
		EntityGUID: uuid.NewString(),
		Type:       TypeCreateIndividual,
		Data:       map[string]any{"name": "Jane"},
		Timestamp:  ts,
		UserID:     "user-1",
	}
}

func TestStore_SaveEventIsIdempotent(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	ev := sampleEvent("event-1", time.Now())
	id1, err := store.SaveEvent(ctx, ev)
	require.NoError(t, err)

	rootAfterFirst := store.GetMerkleRoot()

	id2, err := store.SaveEvent(ctx, ev)
	require.NoError(t, err)
	require.Equal(t, id1, id2)
	require.Equal(t, rootAfterFirst, store.GetMerkleRoot(), "re-saving an existing guid must not move the merkle root")

	all, err := store.GetAllEvents(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
}

func TestStore_SaveEventAppendsMerkleLeafAndAuditEntry(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	base := time.Now()
	_, err := store.SaveEvent(ctx, sampleEvent("event-1", base))
	require.NoError(t, err)
	root1 := store.GetMerkleRoot()
	require.NotEmpty(t, root1)

	_, err = store.SaveEvent(ctx, sampleEvent("event-2", base.Add(time.Second)))
	require.NoError(t, err)
	root2 := store.GetMerkleRoot()
	require.NotEqual(t, root1, root2, "appending a new event must change the root")

	trail, err := store.GetAuditLogsSince(ctx, base.Add(-time.Minute))
	require.NoError(t, err)
	require.Len(t, trail, 2)
}

func TestStore_GetEventsSincePagination_OrderedWithStableTieBreak(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	ts := time.Now()
	_, err := store.SaveEvent(ctx, sampleEvent("b-event", ts))
	require.NoError(t, err)
	_, err = store.SaveEvent(ctx, sampleEvent("a-event", ts))
	require.NoError(t, err)
	_, err = store.SaveEvent(ctx, sampleEvent("c-event", ts.Add(time.Second)))
	require.NoError(t, err)

	page, err := store.GetEventsSincePagination(ctx, ts.Add(-time.Minute), 2)
	require.NoError(t, err)
	require.Len(t, page.Events, 2)
	require.Equal(t, "a-event", page.Events[0].GUID)
	require.Equal(t, "b-event", page.Events[1].GUID)
	require.NotNil(t, page.NextCursor)

	page2, err := store.GetEventsSincePagination(ctx, *page.NextCursor, 2)
	require.NoError(t, err)
	require.Len(t, page2.Events, 1)
	require.Equal(t, "c-event", page2.Events[0].GUID)
}

func TestStore_UpdateSyncLevelFromEvents_NeverRegresses(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	ev := sampleEvent("event-1", time.Now())
	_, err := store.SaveEvent(ctx, ev)
	require.NoError(t, err)

	require.NoError(t, store.UpdateSyncLevelFromEvents(ctx, []*Event{ev}, SyncLevelExternal))
	require.NoError(t, store.UpdateSyncLevelFromEvents(ctx, []*Event{ev}, SyncLevelLocal))

	all, err := store.GetAllEvents(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	require.Equal(t, SyncLevelExternal, all[0].SyncLevel)
}

func TestStore_MerkleProofVerifiesAgainstCurrentRoot(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	base := time.Now()
	for i, guid := range []string{"e1", "e2", "e3"} {
		_, err := store.SaveEvent(ctx, sampleEvent(guid, base.Add(time.Duration(i)*time.Second)))
		require.NoError(t, err)
	}

	root := store.GetMerkleRoot()
	proof, ok := store.GetMerkleProof("e2")
	require.True(t, ok)
	require.True(t, VerifyEvent("e2", proof, root))
	require.False(t, VerifyEvent("e2", proof, "not-the-root"))

	_, ok = store.GetMerkleProof("missing-guid")
	require.False(t, ok)
}

func TestStore_SyncCursorRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	_, found, err := store.GetSyncCursor(ctx, CursorLastLocalSync)
	require.NoError(t, err)
	require.False(t, found)

	ts := time.Now().Truncate(time.Millisecond)
	require.NoError(t, store.SetSyncCursor(ctx, CursorLastLocalSync, ts))

	got, found, err := store.GetSyncCursor(ctx, CursorLastLocalSync)
	require.NoError(t, err)
	require.True(t, found)
	require.True(t, got.Equal(ts))
}

func TestStore_Clear(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	_, err := store.SaveEvent(ctx, sampleEvent("event-1", time.Now()))
	require.NoError(t, err)
	require.NotEmpty(t, store.GetMerkleRoot())

	require.NoError(t, store.Clear(ctx))
	require.Empty(t, store.GetMerkleRoot())

	all, err := store.GetAllEvents(ctx)
	require.NoError(t, err)
	require.Empty(t, all)
}
