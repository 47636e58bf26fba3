package eventlog

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresAdapter is the remote, relational/JSON-document StorageAdapter
// (spec.md §4.1), grounded on opentrusty's pgx-repository-per-concern
// pattern. tenantId is always part of the primary key or WHERE clause, per
// spec.md §4.1's tenant-isolation requirement.
type PostgresAdapter struct {
	pool     *pgxpool.Pool
	tenantID string
}

// NewPostgresAdapter connects to dsn and wraps it for tenantID.
func NewPostgresAdapter(ctx context.Context, dsn, tenantID string) (*PostgresAdapter, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connecting to postgres event store: %w", err)
	}
	return &PostgresAdapter{pool: pool, tenantID: tenantID}, nil
}

const eventSchema = `
CREATE TABLE IF NOT EXISTS events (
	guid TEXT PRIMARY KEY,
	entity_guid TEXT NOT NULL,
	type TEXT NOT NULL,
	data JSONB NOT NULL,
	timestamp TIMESTAMPTZ NOT NULL,
	user_id TEXT NOT NULL,
	sync_level INT NOT NULL,
	tenant_id TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_events_tenant_ts ON events (tenant_id, timestamp, guid);

CREATE TABLE IF NOT EXISTS audit (
	guid TEXT PRIMARY KEY,
	timestamp TIMESTAMPTZ NOT NULL,
	user_id TEXT NOT NULL,
	action TEXT NOT NULL,
	event_guid TEXT NOT NULL,
	entity_guid TEXT NOT NULL,
	changes JSONB,
	signature TEXT,
	sync_level INT NOT NULL,
	tenant_id TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_audit_tenant_entity ON audit (tenant_id, entity_guid);
CREATE INDEX IF NOT EXISTS idx_audit_tenant_ts ON audit (tenant_id, timestamp);

CREATE TABLE IF NOT EXISTS merkle_nodes (
	index INT NOT NULL,
	hash TEXT NOT NULL,
	tenant_id TEXT NOT NULL,
	PRIMARY KEY (index, tenant_id)
);

CREATE TABLE IF NOT EXISTS sync_cursors (
	name TEXT NOT NULL,
	timestamp TIMESTAMPTZ NOT NULL,
	tenant_id TEXT NOT NULL,
	PRIMARY KEY (name, tenant_id)
);
`

func (a *PostgresAdapter) Init(ctx context.Context) error {
	_, err := a.pool.Exec(ctx, eventSchema)
	return err
}

func (a *PostgresAdapter) SaveEvent(ctx context.Context, event *Event) (string, error) {
	data, err := json.Marshal(event.Data)
	if err != nil {
		return "", err
	}
	_, err = a.pool.Exec(ctx, `
		INSERT INTO events (guid, entity_guid, type, data, timestamp, user_id, sync_level, tenant_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (guid) DO NOTHING`,
		event.GUID, event.EntityGUID, event.Type, data, event.Timestamp, event.UserID, int(event.SyncLevel), a.tenantID)
	if err != nil {
		return "", err
	}
	return event.GUID, nil
}

func (a *PostgresAdapter) scanEventRows(rows pgx.Rows) ([]*Event, error) {
	var out []*Event
	for rows.Next() {
		var e Event
		var data []byte
		var syncLevel int
		if err := rows.Scan(&e.GUID, &e.EntityGUID, &e.Type, &data, &e.Timestamp, &e.UserID, &syncLevel); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(data, &e.Data); err != nil {
			return nil, err
		}
		e.SyncLevel = SyncLevel(syncLevel)
		out = append(out, &e)
	}
	return out, rows.Err()
}

func (a *PostgresAdapter) GetEvents(ctx context.Context) ([]*Event, error) {
	rows, err := a.pool.Query(ctx, `
		SELECT guid, entity_guid, type, data, timestamp, user_id, sync_level
		FROM events WHERE tenant_id = $1 AND sync_level < $2`, a.tenantID, int(SyncLevelExternal))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return a.scanEventRows(rows)
}

func (a *PostgresAdapter) GetAllEvents(ctx context.Context) ([]*Event, error) {
	rows, err := a.pool.Query(ctx, `
		SELECT guid, entity_guid, type, data, timestamp, user_id, sync_level
		FROM events WHERE tenant_id = $1 ORDER BY timestamp, guid`, a.tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return a.scanEventRows(rows)
}

func (a *PostgresAdapter) EventExists(ctx context.Context, guid string) (bool, error) {
	var exists bool
	err := a.pool.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM events WHERE guid = $1 AND tenant_id = $2)`, guid, a.tenantID).Scan(&exists)
	return exists, err
}

func (a *PostgresAdapter) GetEventsSince(ctx context.Context, since time.Time) ([]*Event, error) {
	rows, err := a.pool.Query(ctx, `
		SELECT guid, entity_guid, type, data, timestamp, user_id, sync_level
		FROM events WHERE tenant_id = $1 AND timestamp > $2 ORDER BY timestamp, guid`, a.tenantID, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return a.scanEventRows(rows)
}

func (a *PostgresAdapter) GetEventsSincePagination(ctx context.Context, since time.Time, limit int) (*Page, error) {
	rows, err := a.pool.Query(ctx, `
		SELECT guid, entity_guid, type, data, timestamp, user_id, sync_level
		FROM events WHERE tenant_id = $1 AND timestamp > $2
		ORDER BY timestamp, guid LIMIT $3`, a.tenantID, since, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	events, err := a.scanEventRows(rows)
	if err != nil {
		return nil, err
	}
	page := &Page{Events: events}
	if len(events) > 0 {
		cursor := events[len(events)-1].Timestamp
		page.NextCursor = &cursor
	}
	return page, nil
}

func (a *PostgresAdapter) UpdateEventSyncLevel(ctx context.Context, guid string, level SyncLevel) error {
	_, err := a.pool.Exec(ctx, `
		UPDATE events SET sync_level = GREATEST(sync_level, $1) WHERE guid = $2 AND tenant_id = $3`,
		int(level), guid, a.tenantID)
	return err
}

func (a *PostgresAdapter) UpdateSyncLevelFromEvents(ctx context.Context, events []*Event, level SyncLevel) error {
	for _, e := range events {
		if err := a.UpdateEventSyncLevel(ctx, e.GUID, level); err != nil {
			return err
		}
	}
	return nil
}

func (a *PostgresAdapter) SaveAuditLog(ctx context.Context, entry *AuditLogEntry) error {
	changes, err := json.Marshal(entry.Changes)
	if err != nil {
		return err
	}
	_, err = a.pool.Exec(ctx, `
		INSERT INTO audit (guid, timestamp, user_id, action, event_guid, entity_guid, changes, signature, sync_level, tenant_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (guid) DO NOTHING`,
		entry.GUID, entry.Timestamp, entry.UserID, entry.Action, entry.EventGUID, entry.EntityGUID,
		changes, entry.Signature, int(entry.SyncLevel), a.tenantID)
	return err
}

func (a *PostgresAdapter) SaveAuditLogs(ctx context.Context, entries []*AuditLogEntry) error {
	for _, e := range entries {
		if err := a.SaveAuditLog(ctx, e); err != nil {
			return err
		}
	}
	return nil
}

func (a *PostgresAdapter) scanAuditRows(rows pgx.Rows) ([]*AuditLogEntry, error) {
	var out []*AuditLogEntry
	for rows.Next() {
		var e AuditLogEntry
		var changes []byte
		var syncLevel int
		if err := rows.Scan(&e.GUID, &e.Timestamp, &e.UserID, &e.Action, &e.EventGUID, &e.EntityGUID, &changes, &e.Signature, &syncLevel); err != nil {
			return nil, err
		}
		if len(changes) > 0 {
			if err := json.Unmarshal(changes, &e.Changes); err != nil {
				return nil, err
			}
		}
		e.SyncLevel = SyncLevel(syncLevel)
		out = append(out, &e)
	}
	return out, rows.Err()
}

func (a *PostgresAdapter) GetAuditLogsSince(ctx context.Context, since time.Time) ([]*AuditLogEntry, error) {
	rows, err := a.pool.Query(ctx, `
		SELECT guid, timestamp, user_id, action, event_guid, entity_guid, changes, signature, sync_level
		FROM audit WHERE tenant_id = $1 AND timestamp > $2 ORDER BY timestamp`, a.tenantID, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return a.scanAuditRows(rows)
}

func (a *PostgresAdapter) GetAuditTrailByEntityGuid(ctx context.Context, entityGUID string) ([]*AuditLogEntry, error) {
	rows, err := a.pool.Query(ctx, `
		SELECT guid, timestamp, user_id, action, event_guid, entity_guid, changes, signature, sync_level
		FROM audit WHERE tenant_id = $1 AND entity_guid = $2 ORDER BY timestamp`, a.tenantID, entityGUID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return a.scanAuditRows(rows)
}

func (a *PostgresAdapter) GetMerkleNodes(ctx context.Context) ([]string, error) {
	rows, err := a.pool.Query(ctx, `SELECT hash FROM merkle_nodes WHERE tenant_id = $1 ORDER BY index`, a.tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var h string
		if err := rows.Scan(&h); err != nil {
			return nil, err
		}
		out = append(out, h)
	}
	return out, rows.Err()
}

func (a *PostgresAdapter) SaveMerkleNodes(ctx context.Context, nodes []string) error {
	tx, err := a.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM merkle_nodes WHERE tenant_id = $1`, a.tenantID); err != nil {
		return err
	}
	for i, h := range nodes {
		if _, err := tx.Exec(ctx, `INSERT INTO merkle_nodes (index, hash, tenant_id) VALUES ($1, $2, $3)`, i, h, a.tenantID); err != nil {
			return err
		}
	}
	return tx.Commit(ctx)
}

func (a *PostgresAdapter) GetSyncCursor(ctx context.Context, name string) (time.Time, bool, error) {
	var ts time.Time
	err := a.pool.QueryRow(ctx, `SELECT timestamp FROM sync_cursors WHERE name = $1 AND tenant_id = $2`, name, a.tenantID).Scan(&ts)
	if err == pgx.ErrNoRows {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, err
	}
	return ts, true, nil
}

func (a *PostgresAdapter) SetSyncCursor(ctx context.Context, name string, ts time.Time) error {
	_, err := a.pool.Exec(ctx, `
		INSERT INTO sync_cursors (name, timestamp, tenant_id) VALUES ($1, $2, $3)
		ON CONFLICT (name, tenant_id) DO UPDATE SET timestamp = EXCLUDED.timestamp`, name, ts, a.tenantID)
	return err
}

func (a *PostgresAdapter) Clear(ctx context.Context) error {
	tx, err := a.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)
	for _, table := range []string{"events", "audit", "merkle_nodes", "sync_cursors"} {
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
