package auth

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

type fakeAdapter struct {
	providerType string
	loginErr     error
	validateErr  error
	loginN       int
	validateN    int
}

func (f *fakeAdapter) Type() string { return f.providerType }

func (f *fakeAdapter) Login(ctx context.Context, credentials map[string]string) (*Token, error) {
	f.loginN++
	if f.loginErr != nil {
		return nil, f.loginErr
	}
	return &Token{Value: f.providerType + "-token", UserID: "u1", Username: credentials["username"]}, nil
}

func (f *fakeAdapter) ValidateToken(ctx context.Context, token string) (*Token, error) {
	f.validateN++
	if f.validateErr != nil {
		return nil, f.validateErr
	}
	return &Token{Value: token, UserID: "u1"}, nil
}

func (f *fakeAdapter) HandleCallback(ctx context.Context, params map[string]string) (*Token, error) {
	return &Token{Value: f.providerType + "-callback-token", UserID: "u1"}, nil
}

func registerFakeAdapterType(t *testing.T, providerType string, adapter *fakeAdapter) {
	t.Helper()
	original := registry[providerType]
	registry[providerType] = func(cfg Config) (Adapter, error) { return adapter, nil }
	t.Cleanup(func() {
		if original == nil {
			delete(registry, providerType)
		} else {
			registry[providerType] = original
		}
	})
}

func newInMemoryStorage(t *testing.T) StorageAdapter {
	t.Helper()
	return newTestPebbleAdapter(t, "tenant-a")
}

func TestManager_LoginStoresTokenAndUsername(t *testing.T) {
	ctx := context.Background()
	fa := &fakeAdapter{providerType: "fake"}
	registerFakeAdapterType(t, "fake", fa)

	storage := newInMemoryStorage(t)
	m := New(storage, []Config{{Type: "fake"}}, "tenant-a")

	token, err := m.Login(ctx, map[string]string{"username": "alice"}, "")
	require.NoError(t, err)
	require.Equal(t, "fake-token", token.Value)

	stored, ok, err := storage.GetTokenByProvider(ctx, "fake")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "fake-token", stored)

	username, ok, err := storage.GetUsername(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "alice", username)
}

func TestManager_LoginWithoutTypeRequiresExactlyOneProvider(t *testing.T) {
	ctx := context.Background()
	fa1 := &fakeAdapter{providerType: "fake1"}
	fa2 := &fakeAdapter{providerType: "fake2"}
	registerFakeAdapterType(t, "fake1", fa1)
	registerFakeAdapterType(t, "fake2", fa2)

	storage := newInMemoryStorage(t)
	m := New(storage, []Config{{Type: "fake1"}, {Type: "fake2"}}, "tenant-a")

	_, err := m.Login(ctx, map[string]string{}, "")
	require.ErrorIs(t, err, ErrUnknownAuthProvider)
}

func TestManager_LoginUnknownProviderType(t *testing.T) {
	ctx := context.Background()
	storage := newInMemoryStorage(t)
	m := New(storage, []Config{{Type: "fake"}}, "tenant-a")

	_, err := m.Login(ctx, map[string]string{}, "unregistered")
	require.ErrorIs(t, err, ErrUnknownAuthProvider)
}

func TestManager_AdapterIsConstructedOnceAndCached(t *testing.T) {
	ctx := context.Background()
	constructCalls := 0
	fa := &fakeAdapter{providerType: "fake"}
	registry["fake"] = func(cfg Config) (Adapter, error) {
		constructCalls++
		return fa, nil
	}
	t.Cleanup(func() { delete(registry, "fake") })

	storage := newInMemoryStorage(t)
	m := New(storage, []Config{{Type: "fake"}}, "tenant-a")

	_, err := m.Login(ctx, map[string]string{"username": "alice"}, "fake")
	require.NoError(t, err)
	_, err = m.Login(ctx, map[string]string{"username": "alice"}, "fake")
	require.NoError(t, err)

	require.Equal(t, 1, constructCalls)
}

func TestManager_IsAuthenticatedTrueWhenAnyProviderValidates(t *testing.T) {
	ctx := context.Background()
	faOK := &fakeAdapter{providerType: "ok"}
	faBad := &fakeAdapter{providerType: "bad", validateErr: ErrInvalidToken}
	registerFakeAdapterType(t, "ok", faOK)
	registerFakeAdapterType(t, "bad", faBad)

	storage := newInMemoryStorage(t)
	m := New(storage, []Config{{Type: "ok"}, {Type: "bad"}}, "tenant-a")

	require.NoError(t, storage.SetToken(ctx, "bad", "bad-token"))
	require.NoError(t, storage.SetToken(ctx, "ok", "ok-token"))

	authenticated, err := m.IsAuthenticated(ctx)
	require.NoError(t, err)
	require.True(t, authenticated)
}

func TestManager_IsAuthenticatedFalseWhenNoTokenStored(t *testing.T) {
	ctx := context.Background()
	fa := &fakeAdapter{providerType: "fake"}
	registerFakeAdapterType(t, "fake", fa)

	storage := newInMemoryStorage(t)
	m := New(storage, []Config{{Type: "fake"}}, "tenant-a")

	authenticated, err := m.IsAuthenticated(ctx)
	require.NoError(t, err)
	require.False(t, authenticated)
}

func TestManager_IsAuthenticatedFalseWhenAllProvidersReject(t *testing.T) {
	ctx := context.Background()
	fa := &fakeAdapter{providerType: "fake", validateErr: ErrInvalidToken}
	registerFakeAdapterType(t, "fake", fa)

	storage := newInMemoryStorage(t)
	m := New(storage, []Config{{Type: "fake"}}, "tenant-a")
	require.NoError(t, storage.SetToken(ctx, "fake", "stale-token"))

	authenticated, err := m.IsAuthenticated(ctx)
	require.NoError(t, err)
	require.False(t, authenticated)
}

func TestManager_LogoutClearsAllTokens(t *testing.T) {
	ctx := context.Background()
	fa := &fakeAdapter{providerType: "fake"}
	registerFakeAdapterType(t, "fake", fa)

	storage := newInMemoryStorage(t)
	m := New(storage, []Config{{Type: "fake"}}, "tenant-a")
	require.NoError(t, storage.SetToken(ctx, "fake", "token-1"))

	require.NoError(t, m.Logout(ctx))

	_, ok, err := storage.GetTokenByProvider(ctx, "fake")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestManager_HandleCallbackStoresToken(t *testing.T) {
	ctx := context.Background()
	fa := &fakeAdapter{providerType: "fake"}
	registerFakeAdapterType(t, "fake", fa)

	storage := newInMemoryStorage(t)
	m := New(storage, []Config{{Type: "fake"}}, "tenant-a")

	token, err := m.HandleCallback(ctx, "fake", map[string]string{"code": "xyz"})
	require.NoError(t, err)
	require.Equal(t, "fake-callback-token", token.Value)

	stored, ok, err := storage.GetTokenByProvider(ctx, "fake")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "fake-callback-token", stored)
}

func TestManager_CurrentTokenReturnsNotAuthenticatedWhenMissing(t *testing.T) {
	ctx := context.Background()
	storage := newInMemoryStorage(t)
	m := New(storage, nil, "tenant-a")

	_, err := m.CurrentToken(ctx)
	require.ErrorIs(t, err, ErrNotAuthenticated)
}
