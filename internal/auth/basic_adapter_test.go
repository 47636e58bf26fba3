package auth

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func hashFor(t *testing.T, password string) string {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	require.NoError(t, err)
	return string(hash)
}

func newTestBasicAdapter(t *testing.T, ttl string) Adapter {
	t.Helper()
	hash := hashFor(t, "hunter2")
	a, err := newBasicAdapter(Config{
		Type: "basic",
		Fields: map[string]string{
			"signingKey": "test-signing-key",
			"users":      "alice:" + hash,
			"ttl":        ttl,
		},
	})
	require.NoError(t, err)
	return a
}

func TestBasicAdapter_LoginWithValidCredentialsIssuesValidatableToken(t *testing.T) {
	ctx := context.Background()
	a := newTestBasicAdapter(t, "")

	token, err := a.Login(ctx, map[string]string{"username": "alice", "password": "hunter2"})
	require.NoError(t, err)
	require.NotEmpty(t, token.Value)
	require.Equal(t, "alice", token.Username)

	validated, err := a.ValidateToken(ctx, token.Value)
	require.NoError(t, err)
	require.Equal(t, "alice", validated.UserID)
}

func TestBasicAdapter_LoginWithWrongPasswordFails(t *testing.T) {
	ctx := context.Background()
	a := newTestBasicAdapter(t, "")

	_, err := a.Login(ctx, map[string]string{"username": "alice", "password": "wrong"})
	require.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestBasicAdapter_LoginWithUnknownUserFails(t *testing.T) {
	ctx := context.Background()
	a := newTestBasicAdapter(t, "")

	_, err := a.Login(ctx, map[string]string{"username": "bob", "password": "anything"})
	require.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestBasicAdapter_ValidateTokenRejectsGarbage(t *testing.T) {
	ctx := context.Background()
	a := newTestBasicAdapter(t, "")

	_, err := a.ValidateToken(ctx, "not-a-jwt")
	require.ErrorIs(t, err, ErrInvalidToken)
}

func TestBasicAdapter_ValidateTokenRejectsExpiredToken(t *testing.T) {
	ctx := context.Background()
	a := newTestBasicAdapter(t, "1ms")

	token, err := a.Login(ctx, map[string]string{"username": "alice", "password": "hunter2"})
	require.NoError(t, err)

	time.Sleep(5 * time.Millisecond)
	_, err = a.ValidateToken(ctx, token.Value)
	require.ErrorIs(t, err, ErrInvalidToken)
}

func TestBasicAdapter_HandleCallbackUnsupported(t *testing.T) {
	ctx := context.Background()
	a := newTestBasicAdapter(t, "")

	_, err := a.HandleCallback(ctx, map[string]string{})
	require.Error(t, err)
}
