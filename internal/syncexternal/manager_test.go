package syncexternal

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

type fakeAdapter struct {
	authErr  error
	syncErr  error
	authN    int
	syncN    int
	lastCred map[string]string
}

func (f *fakeAdapter) Authenticate(ctx context.Context, credentials map[string]string) error {
	f.authN++
	f.lastCred = credentials
	return f.authErr
}
func (f *fakeAdapter) PushData(ctx context.Context, credentials map[string]string) error { return nil }
func (f *fakeAdapter) PullData(ctx context.Context) error                                 { return nil }
func (f *fakeAdapter) Sync(ctx context.Context, credentials map[string]string) error {
	f.syncN++
	return f.syncErr
}

func TestCoordinator_SynchronizeBeforeInitializeFails(t *testing.T) {
	co := New(AdapterConfig{Type: "fake"}, Deps{TenantID: "tenant-a"})
	err := co.Synchronize(context.Background(), nil)
	require.ErrorIs(t, err, ErrNotInitialized)
}

func TestCoordinator_InitializeConstructsAdapterOnce(t *testing.T) {
	registry["fake"] = func(cfg AdapterConfig, deps Deps) (Adapter, error) {
		return &fakeAdapter{}, nil
	}
	t.Cleanup(func() { delete(registry, "fake") })

	co := New(AdapterConfig{Type: "fake"}, Deps{TenantID: "tenant-a"})
	require.NoError(t, co.Initialize(context.Background(), map[string]string{"user": "a"}))

	fa := co.adapter.(*fakeAdapter)
	require.Equal(t, 1, fa.authN)

	require.NoError(t, co.Synchronize(context.Background(), nil))
	require.NoError(t, co.Synchronize(context.Background(), nil))
	require.Equal(t, 2, fa.syncN)
	require.Equal(t, 1, fa.authN, "Initialize must only construct/authenticate the adapter once")
}

func TestCoordinator_UnknownAdapterType(t *testing.T) {
	co := New(AdapterConfig{Type: "does-not-exist"}, Deps{TenantID: "tenant-a"})
	err := co.Initialize(context.Background(), nil)
	require.ErrorIs(t, err, ErrUnknownAdapterType)
}

func TestCoordinator_AlreadySyncingRejectsConcurrentCall(t *testing.T) {
	registry["fake-busy"] = func(cfg AdapterConfig, deps Deps) (Adapter, error) {
		return &fakeAdapter{}, nil
	}
	t.Cleanup(func() { delete(registry, "fake-busy") })

	co := New(AdapterConfig{Type: "fake-busy"}, Deps{TenantID: "tenant-a"})
	require.NoError(t, co.Initialize(context.Background(), nil))

	co.syncing.Store(true)
	defer co.syncing.Store(false)

	err := co.Synchronize(context.Background(), nil)
	require.ErrorIs(t, err, ErrAlreadySyncing)
}
