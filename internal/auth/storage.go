package auth

import "context"

// StorageAdapter is the persistence contract behind the Auth Manager's
// tokens and username. The Internal Sync Coordinator does not read it: it
// takes its bearer token from a syncinternal.TokenProvider, and the
// datacollect sync command builds that provider on a login to the sync
// server, not on this storage.
// Implementations: PebbleAdapter (local) and PostgresAdapter (remote).
type StorageAdapter interface {
	Init(ctx context.Context) error

	GetToken(ctx context.Context) (string, bool, error)
	GetTokenByProvider(ctx context.Context, providerType string) (string, bool, error)
	SetToken(ctx context.Context, providerType, token string) error
	RemoveToken(ctx context.Context, providerType string) error
	RemoveAllTokens(ctx context.Context) error

	GetUsername(ctx context.Context) (string, bool, error)
	SetUsername(ctx context.Context, username string) error

	Clear(ctx context.Context) error
	Close() error
}
