package entitystore

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresAdapter is the remote, relational/JSON-document StorageAdapter
// (spec.md §4.1), storing the {initial, modified} pair as two JSONB
// columns per spec.md §6's entities table layout.
type PostgresAdapter struct {
	pool     *pgxpool.Pool
	tenantID string
}

// NewPostgresAdapter connects to dsn and wraps it for tenantID.
func NewPostgresAdapter(ctx context.Context, dsn, tenantID string) (*PostgresAdapter, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connecting to postgres entity store: %w", err)
	}
	return &PostgresAdapter{pool: pool, tenantID: tenantID}, nil
}

const entitySchema = `
CREATE TABLE IF NOT EXISTS entities (
	id TEXT NOT NULL,
	guid TEXT NOT NULL,
	initial JSONB,
	modified JSONB,
	external_id TEXT,
	last_updated TIMESTAMPTZ,
	tenant_id TEXT NOT NULL,
	PRIMARY KEY (id, tenant_id)
);
CREATE UNIQUE INDEX IF NOT EXISTS idx_entities_tenant_guid ON entities (tenant_id, guid);
CREATE UNIQUE INDEX IF NOT EXISTS idx_entities_tenant_extid ON entities (tenant_id, external_id) WHERE external_id IS NOT NULL AND external_id != '';
CREATE INDEX IF NOT EXISTS idx_entities_tenant_lastupdated ON entities (tenant_id, last_updated);

CREATE TABLE IF NOT EXISTS potential_duplicates (
	entity_guid TEXT NOT NULL,
	duplicate_guid TEXT NOT NULL,
	tenant_id TEXT NOT NULL,
	PRIMARY KEY (entity_guid, duplicate_guid, tenant_id)
);
`

func (a *PostgresAdapter) Init(ctx context.Context) error {
	_, err := a.pool.Exec(ctx, entitySchema)
	return err
}

func (a *PostgresAdapter) SaveEntity(ctx context.Context, pair *EntityPair) error {
	guid := pairGUID(pair)
	if guid == "" {
		return fmt.Errorf("saving entity: pair has no guid")
	}
	initial, err := json.Marshal(pair.Initial)
	if err != nil {
		return err
	}
	modified, err := json.Marshal(pair.Modified)
	if err != nil {
		return err
	}
	var externalID string
	var lastUpdated time.Time
	if pair.Modified != nil {
		externalID = pair.Modified.ExternalID
		lastUpdated = pair.Modified.LastUpdated
	}
	_, err = a.pool.Exec(ctx, `
		INSERT INTO entities (id, guid, initial, modified, external_id, last_updated, tenant_id)
		VALUES ($1, $1, $2, $3, NULLIF($4, ''), $5, $6)
		ON CONFLICT (id, tenant_id) DO UPDATE SET
			initial = EXCLUDED.initial,
			modified = EXCLUDED.modified,
			external_id = EXCLUDED.external_id,
			last_updated = EXCLUDED.last_updated`,
		guid, initial, modified, externalID, lastUpdated, a.tenantID)
	return err
}

func scanEntityRow(row pgx.Row) (*EntityPair, error) {
	var initial, modified []byte
	if err := row.Scan(&initial, &modified); err != nil {
		return nil, err
	}
	pair := &EntityPair{}
	if len(initial) > 0 && string(initial) != "null" {
		if err := json.Unmarshal(initial, &pair.Initial); err != nil {
			return nil, err
		}
	}
	if len(modified) > 0 && string(modified) != "null" {
		if err := json.Unmarshal(modified, &pair.Modified); err != nil {
			return nil, err
		}
	}
	return pair, nil
}

func (a *PostgresAdapter) GetEntity(ctx context.Context, guid string) (*EntityPair, error) {
	row := a.pool.QueryRow(ctx, `SELECT initial, modified FROM entities WHERE guid = $1 AND tenant_id = $2`, guid, a.tenantID)
	pair, err := scanEntityRow(row)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return pair, nil
}

func (a *PostgresAdapter) queryEntities(ctx context.Context, query string, args ...any) ([]*EntityPair, error) {
	rows, err := a.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*EntityPair
	for rows.Next() {
		pair, err := scanEntityRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, pair)
	}
	return out, rows.Err()
}

func (a *PostgresAdapter) GetAllEntities(ctx context.Context) ([]*EntityPair, error) {
	return a.queryEntities(ctx, `SELECT initial, modified FROM entities WHERE tenant_id = $1`, a.tenantID)
}

func (a *PostgresAdapter) GetModifiedEntitiesSince(ctx context.Context, since time.Time) ([]*EntityPair, error) {
	return a.queryEntities(ctx, `
		SELECT initial, modified FROM entities
		WHERE tenant_id = $1 AND last_updated > $2`, a.tenantID, since)
}

func (a *PostgresAdapter) DeleteEntity(ctx context.Context, guid string) error {
	pair, err := a.GetEntity(ctx, guid)
	if err != nil {
		return err
	}
	if pair == nil {
		return fmt.Errorf("%w: %s", ErrEntityNotFound, guid)
	}
	if pair.Modified != nil {
		pair.Modified.Deleted = true
	}
	return a.SaveEntity(ctx, pair)
}

func (a *PostgresAdapter) MarkEntityAsSynced(ctx context.Context, guid string) error {
	pair, err := a.GetEntity(ctx, guid)
	if err != nil {
		return err
	}
	if pair == nil {
		return fmt.Errorf("%w: %s", ErrEntityNotFound, guid)
	}
	pair.Initial = pair.Modified.Clone()
	return a.SaveEntity(ctx, pair)
}

func (a *PostgresAdapter) GetEntityByExternalID(ctx context.Context, externalID string) (*EntityPair, error) {
	row := a.pool.QueryRow(ctx, `
		SELECT initial, modified FROM entities WHERE external_id = $1 AND tenant_id = $2`, externalID, a.tenantID)
	pair, err := scanEntityRow(row)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return pair, nil
}

func (a *PostgresAdapter) SetExternalID(ctx context.Context, guid, externalID string) error {
	pair, err := a.GetEntity(ctx, guid)
	if err != nil {
		return err
	}
	if pair == nil {
		return fmt.Errorf("%w: %s", ErrEntityNotFound, guid)
	}

	existing, err := a.GetEntityByExternalID(ctx, externalID)
	if err != nil {
		return err
	}
	if existing != nil && pairGUID(existing) != guid {
		return fmt.Errorf("%w: %s", ErrDuplicateExternalID, externalID)
	}

	if pair.Modified != nil {
		pair.Modified.ExternalID = externalID
	}
	return a.SaveEntity(ctx, pair)
}

// SearchEntities fetches the tenant's entities and filters them in Go via
// the shared Matches predicate (search.go) — the query language (dotted
// paths, cross-projection matching, $regex) does not map cleanly onto a
// single SQL WHERE clause, so this adapter favors correctness and sharing
// the exact semantics with BadgerAdapter over pushing the filter into SQL.
func (a *PostgresAdapter) SearchEntities(ctx context.Context, criteria Criteria) ([]*EntityPair, error) {
	all, err := a.GetAllEntities(ctx)
	if err != nil {
		return nil, err
	}
	var out []*EntityPair
	for _, pair := range all {
		ok, err := Matches(pair, criteria)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, pair)
		}
	}
	return out, nil
}

func (a *PostgresAdapter) GetPotentialDuplicates(ctx context.Context) ([]PotentialDuplicatePair, error) {
	rows, err := a.pool.Query(ctx, `
		SELECT entity_guid, duplicate_guid FROM potential_duplicates WHERE tenant_id = $1`, a.tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []PotentialDuplicatePair
	for rows.Next() {
		var p PotentialDuplicatePair
		if err := rows.Scan(&p.EntityGUID, &p.DuplicateGUID); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (a *PostgresAdapter) SavePotentialDuplicates(ctx context.Context, pairs []PotentialDuplicatePair) error {
	tx, err := a.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)
	for _, p := range pairs {
		canon := CanonicalPair(p.EntityGUID, p.DuplicateGUID)
		if _, err := tx.Exec(ctx, `
			INSERT INTO potential_duplicates (entity_guid, duplicate_guid, tenant_id)
			VALUES ($1, $2, $3) ON CONFLICT DO NOTHING`,
			canon.EntityGUID, canon.DuplicateGUID, a.tenantID); err != nil {
			return err
		}
	}
	return tx.Commit(ctx)
}

func (a *PostgresAdapter) ResolvePotentialDuplicates(ctx context.Context, pairs []PotentialDuplicatePair) error {
	tx, err := a.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)
	for _, p := range pairs {
		canon := CanonicalPair(p.EntityGUID, p.DuplicateGUID)
		if _, err := tx.Exec(ctx, `
			DELETE FROM potential_duplicates WHERE entity_guid = $1 AND duplicate_guid = $2 AND tenant_id = $3`,
			canon.EntityGUID, canon.DuplicateGUID, a.tenantID); err != nil {
			return err
		}
	}
	return tx.Commit(ctx)
}

func (a *PostgresAdapter) Clear(ctx context.Context) error {
	tx, err := a.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)
	for _, table := range []string{"entities", "potential_duplicates"} {
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
