package openspp

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/datacollect/core/internal/applier"
	"github.com/datacollect/core/internal/entitystore"
	"github.com/datacollect/core/internal/eventlog"
	"github.com/datacollect/core/internal/syncexternal"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

var errCreateFailed = errors.New("create failed")

type fakeClient struct {
	created     []Record
	createErr   map[string]error // kind -> error to return on next create of that kind
	nextExtID   int
	pulled      []Record
	loginCalled int
}

func (f *fakeClient) Login(ctx context.Context, credentials map[string]string) (string, error) {
	f.loginCalled++
	return "openspp-token", nil
}

func (f *fakeClient) CreateRecord(ctx context.Context, token string, rec Record) (string, error) {
	if err, ok := f.createErr[rec.Kind]; ok {
		return "", err
	}
	f.created = append(f.created, rec)
	f.nextExtID++
	return uuid.NewString(), nil
}

func (f *fakeClient) FetchChanges(ctx context.Context, token string, since time.Time) ([]Record, error) {
	var out []Record
	for _, r := range f.pulled {
		if r.WriteDate.After(since) {
			out = append(out, r)
		}
	}
	return out, nil
}

func newTestAdapter(t *testing.T, client Client) (*adapter, *eventlog.Store, *entitystore.Store) {
	t.Helper()
	ctx := context.Background()

	eventAdapter, err := eventlog.NewBadgerAdapter("tenant-a", eventlog.BadgerOptions{DataDir: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = eventAdapter.Close() })
	eventStore, err := eventlog.New(ctx, eventAdapter, "tenant-a")
	require.NoError(t, err)

	entityAdapter, err := entitystore.NewBadgerAdapter("tenant-a", entitystore.BadgerOptions{DataDir: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = entityAdapter.Close() })
	entityStore, err := entitystore.New(ctx, entityAdapter, "tenant-a")
	require.NoError(t, err)

	applierSvc := applier.NewService(eventStore, entityStore, applier.NewRegistry(), applier.DefaultDuplicateDetectionConfig(), "tenant-a")

	a, err := newAdapter(syncexternal.AdapterConfig{
		Type:     "openspp",
		Settings: map[string]string{"baseUrl": "http://openspp.example"},
	}, syncexternal.Deps{Events: eventStore, Entities: entityStore, Applier: applierSvc, TenantID: "tenant-a"})
	require.NoError(t, err)
	oa := a.(*adapter)
	oa.client = client
	return oa, eventStore, entityStore
}

func saveEntity(t *testing.T, store *entitystore.Store, e *entitystore.Entity) {
	t.Helper()
	require.NoError(t, store.SaveEntity(context.Background(), &entitystore.EntityPair{Initial: nil, Modified: e}))
}

// TestPushData_HierarchicalDependencyOrder covers spec.md §4.7: root is
// created before its household, which is created before its individuals,
// each linked to its parent's server-assigned external id.
func TestPushData_HierarchicalDependencyOrder(t *testing.T) {
	ctx := context.Background()
	fc := &fakeClient{}
	a, _, entities := newTestAdapter(t, fc)

	now := time.Now()
	rootGUID, houseGUID, indivGUID := uuid.NewString(), uuid.NewString(), uuid.NewString()

	saveEntity(t, entities, &entitystore.Entity{
		GUID: rootGUID, Type: entitystore.TypeGroup, LastUpdated: now,
		Data: map[string]any{"entityName": "root"}, MemberIDs: []string{houseGUID},
	})
	saveEntity(t, entities, &entitystore.Entity{
		GUID: houseGUID, Type: entitystore.TypeGroup, LastUpdated: now.Add(time.Second),
		Data: map[string]any{"entityName": "household"}, MemberIDs: []string{indivGUID},
	})
	saveEntity(t, entities, &entitystore.Entity{
		GUID: indivGUID, Type: entitystore.TypeIndividual, LastUpdated: now.Add(2 * time.Second),
		Data: map[string]any{"entityName": "individual", "name": "person"},
	})

	require.NoError(t, a.PushData(ctx, nil))

	require.Len(t, fc.created, 3)
	require.Equal(t, "root", fc.created[0].Kind)
	require.Empty(t, fc.created[0].ParentExternalID)
	require.Equal(t, "household", fc.created[1].Kind)
	require.NotEmpty(t, fc.created[1].ParentExternalID)
	require.Equal(t, "individual", fc.created[2].Kind)
	require.NotEmpty(t, fc.created[2].ParentExternalID)

	rootPair, err := entities.GetEntity(ctx, rootGUID)
	require.NoError(t, err)
	require.NotEmpty(t, rootPair.Modified.ExternalID)

	cursor, ok, err := a.deps.Events.GetSyncCursor(ctx, eventlog.CursorLastPushExternalSync)
	require.NoError(t, err)
	require.True(t, ok)
	require.WithinDuration(t, now.Add(2*time.Second), cursor, time.Millisecond)
}

// TestPushData_FailedRootSkipsItsSubtreeAndLeavesCursorUnset covers a
// root whose create call fails: PushData still returns nil, nothing is
// created for the root or its household, and since no record succeeded
// lastPushExternalSync is not set.
func TestPushData_FailedRootSkipsItsSubtreeAndLeavesCursorUnset(t *testing.T) {
	ctx := context.Background()
	fc := &fakeClient{createErr: map[string]error{"root": errCreateFailed}}
	a, _, entities := newTestAdapter(t, fc)

	now := time.Now()
	badRoot, house := uuid.NewString(), uuid.NewString()

	saveEntity(t, entities, &entitystore.Entity{
		GUID: badRoot, Type: entitystore.TypeGroup, LastUpdated: now,
		Data: map[string]any{"entityName": "root"}, MemberIDs: []string{house},
	})

	require.NoError(t, a.PushData(ctx, nil))
	require.Empty(t, fc.created)

	_, ok, err := a.deps.Events.GetSyncCursor(ctx, eventlog.CursorLastPushExternalSync)
	require.NoError(t, err)
	require.False(t, ok)
}

// TestPullData_ConvertsRemoteRecordsToEventsAndAdvancesCursor covers
// spec.md §4.7's pull behavior: remote records become create-* events
// with syncLevel=EXTERNAL and lastPullExternalSync advances to the max
// write_date.
func TestPullData_ConvertsRemoteRecordsToEventsAndAdvancesCursor(t *testing.T) {
	ctx := context.Background()
	now := time.Now()
	fc := &fakeClient{pulled: []Record{
		{ExternalID: "ext-1", Kind: "individual", Data: map[string]any{"name": "remote person"}, WriteDate: now},
		{ExternalID: "ext-2", Kind: "root", Data: map[string]any{"name": "remote root"}, WriteDate: now.Add(time.Second)},
	}}
	a, _, entities := newTestAdapter(t, fc)

	require.NoError(t, a.PullData(ctx))

	all, err := entities.GetAllEntities(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)

	cursor, ok, err := a.deps.Events.GetSyncCursor(ctx, eventlog.CursorLastPullExternalSync)
	require.NoError(t, err)
	require.True(t, ok)
	require.WithinDuration(t, now.Add(time.Second), cursor, time.Millisecond)
}

// TestPullData_NoNewRecordsLeavesCursorUntouched.
func TestPullData_NoNewRecordsLeavesCursorUntouched(t *testing.T) {
	ctx := context.Background()
	fc := &fakeClient{}
	a, _, _ := newTestAdapter(t, fc)

	require.NoError(t, a.PullData(ctx))

	_, ok, err := a.deps.Events.GetSyncCursor(ctx, eventlog.CursorLastPullExternalSync)
	require.NoError(t, err)
	require.False(t, ok)
}
