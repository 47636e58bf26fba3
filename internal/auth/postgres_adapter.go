package auth

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresAdapter is the remote StorageAdapter implementation, grounded
// on the same pgx-repository pattern as eventlog.PostgresAdapter and
// entitystore.PostgresAdapter.
type PostgresAdapter struct {
	pool     *pgxpool.Pool
	tenantID string
}

// NewPostgresAdapter connects to dsn and wraps it for tenantID.
func NewPostgresAdapter(ctx context.Context, dsn, tenantID string) (*PostgresAdapter, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connecting to postgres auth store: %w", err)
	}
	return &PostgresAdapter{pool: pool, tenantID: tenantID}, nil
}

const authSchema = `
CREATE TABLE IF NOT EXISTS auth_tokens (
	provider_type TEXT NOT NULL,
	token TEXT NOT NULL,
	tenant_id TEXT NOT NULL,
	PRIMARY KEY (provider_type, tenant_id)
);

CREATE TABLE IF NOT EXISTS auth_meta (
	key TEXT NOT NULL,
	value TEXT NOT NULL,
	tenant_id TEXT NOT NULL,
	PRIMARY KEY (key, tenant_id)
);
`

func (a *PostgresAdapter) Init(ctx context.Context) error {
	_, err := a.pool.Exec(ctx, authSchema)
	return err
}

func (a *PostgresAdapter) GetToken(ctx context.Context) (string, bool, error) {
	var token string
	err := a.pool.QueryRow(ctx, `
		SELECT token FROM auth_tokens WHERE tenant_id = $1 ORDER BY provider_type LIMIT 1`, a.tenantID).Scan(&token)
	if err == pgx.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return token, true, nil
}

func (a *PostgresAdapter) GetTokenByProvider(ctx context.Context, providerType string) (string, bool, error) {
	var token string
	err := a.pool.QueryRow(ctx, `
		SELECT token FROM auth_tokens WHERE provider_type = $1 AND tenant_id = $2`, providerType, a.tenantID).Scan(&token)
	if err == pgx.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return token, true, nil
}

func (a *PostgresAdapter) SetToken(ctx context.Context, providerType, token string) error {
	_, err := a.pool.Exec(ctx, `
		INSERT INTO auth_tokens (provider_type, token, tenant_id) VALUES ($1, $2, $3)
		ON CONFLICT (provider_type, tenant_id) DO UPDATE SET token = EXCLUDED.token`,
		providerType, token, a.tenantID)
	return err
}

func (a *PostgresAdapter) RemoveToken(ctx context.Context, providerType string) error {
	_, err := a.pool.Exec(ctx, `
		DELETE FROM auth_tokens WHERE provider_type = $1 AND tenant_id = $2`, providerType, a.tenantID)
	return err
}

func (a *PostgresAdapter) RemoveAllTokens(ctx context.Context) error {
	_, err := a.pool.Exec(ctx, `DELETE FROM auth_tokens WHERE tenant_id = $1`, a.tenantID)
	return err
}

func (a *PostgresAdapter) GetUsername(ctx context.Context) (string, bool, error) {
	var username string
	err := a.pool.QueryRow(ctx, `
		SELECT value FROM auth_meta WHERE key = 'username' AND tenant_id = $1`, a.tenantID).Scan(&username)
	if err == pgx.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return username, true, nil
}

func (a *PostgresAdapter) SetUsername(ctx context.Context, username string) error {
	_, err := a.pool.Exec(ctx, `
		INSERT INTO auth_meta (key, value, tenant_id) VALUES ('username', $1, $2)
		ON CONFLICT (key, tenant_id) DO UPDATE SET value = EXCLUDED.value`, username, a.tenantID)
	return err
}

func (a *PostgresAdapter) Clear(ctx context.Context) error {
	tx, err := a.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)
	for _, table := range []string{"auth_tokens", "auth_meta"} {
		if _, err := tx.Exec(ctx, fmt.Sprintf(`DELETE FROM %s WHERE tenant_id = $1`, table), a.tenantID); err != nil {
			return err
		}
	}
	return tx.Commit(ctx)
}

func (a *PostgresAdapter) Close() error {
	a.pool.Close()
	return nil
}
