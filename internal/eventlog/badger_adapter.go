package eventlog

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"time"

	badger "github.com/dgraph-io/badger/v4"
)

// BadgerAdapter is the local, embedded StorageAdapter (spec.md §4.1). Keys
// are namespaced "<tenantID>|<kind>|<id>", the same per-tenant prefixing
// convention the teacher's BadgerStore uses for buckets/objects.
type BadgerAdapter struct {
	db       *badger.DB
	tenantID string
}

// BadgerOptions configures a BadgerAdapter.
type BadgerOptions struct {
	DataDir    string
	SyncWrites bool
}

// NewBadgerAdapter opens (or creates) the badger database under
// opts.DataDir/events for tenantID.
func NewBadgerAdapter(tenantID string, opts BadgerOptions) (*BadgerAdapter, error) {
	path := filepath.Join(opts.DataDir, "events")
	bopts := badger.DefaultOptions(path).
		WithLogger(nil).
		WithSyncWrites(opts.SyncWrites)

	db, err := badger.Open(bopts)
	if err != nil {
		return nil, fmt.Errorf("opening badger event store: %w", err)
	}
	return &BadgerAdapter{db: db, tenantID: tenantID}, nil
}

func (a *BadgerAdapter) key(kind, id string) []byte {
	return []byte(a.tenantID + "|" + kind + "|" + id)
}

func (a *BadgerAdapter) prefix(kind string) []byte {
	return []byte(a.tenantID + "|" + kind + "|")
}

// Init is a no-op beyond opening the database (done in the constructor);
// it exists to satisfy StorageAdapter the way the teacher's Store
// interface always carries an explicit Init step.
func (a *BadgerAdapter) Init(ctx context.Context) error {
	return nil
}

func (a *BadgerAdapter) SaveEvent(ctx context.Context, event *Event) (string, error) {
	data, err := json.Marshal(event)
	if err != nil {
		return "", err
	}
	err = a.db.Update(func(txn *badger.Txn) error {
		return txn.Set(a.key("event", event.GUID), data)
	})
	if err != nil {
		return "", err
	}
	return event.GUID, nil
}

func (a *BadgerAdapter) scanEvents(prefixKind string, filter func(*Event) bool) ([]*Event, error) {
	var out []*Event
	err := a.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		prefix := a.prefix(prefixKind)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var ev Event
			err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &ev)
			})
			if err != nil {
				return err
			}
			if filter == nil || filter(&ev) {
				e := ev
				out = append(out, &e)
			}
		}
		return nil
	})
	return out, err
}

func (a *BadgerAdapter) GetEvents(ctx context.Context) ([]*Event, error) {
	return a.scanEvents("event", func(e *Event) bool { return e.SyncLevel < SyncLevelExternal })
}

func (a *BadgerAdapter) GetAllEvents(ctx context.Context) ([]*Event, error) {
	return a.scanEvents("event", nil)
}

func (a *BadgerAdapter) EventExists(ctx context.Context, guid string) (bool, error) {
	exists := false
	err := a.db.View(func(txn *badger.Txn) error {
		_, err := txn.Get(a.key("event", guid))
		if err == badger.ErrKeyNotFound {
			return nil
		}
		if err != nil {
			return err
		}
		exists = true
		return nil
	})
	return exists, err
}

func (a *BadgerAdapter) GetEventsSince(ctx context.Context, since time.Time) ([]*Event, error) {
	return a.scanEvents("event", func(e *Event) bool { return e.Timestamp.After(since) })
}

func (a *BadgerAdapter) GetEventsSincePagination(ctx context.Context, since time.Time, limit int) (*Page, error) {
	all, err := a.GetEventsSince(ctx, since)
	if err != nil {
		return nil, err
	}
	sortEvents(all)
	if len(all) > limit {
		all = all[:limit]
	}
	page := &Page{Events: all}
	if len(all) > 0 {
		cursor := all[len(all)-1].Timestamp
		page.NextCursor = &cursor
	}
	return page, nil
}

func (a *BadgerAdapter) UpdateEventSyncLevel(ctx context.Context, guid string, level SyncLevel) error {
	return a.db.Update(func(txn *badger.Txn) error {
		item, err := txn.Get(a.key("event", guid))
		if err != nil {
			return err
		}
		var ev Event
		if err := item.Value(func(val []byte) error { return json.Unmarshal(val, &ev) }); err != nil {
			return err
		}
		ev.SyncLevel = Max(ev.SyncLevel, level)
		data, err := json.Marshal(ev)
		if err != nil {
			return err
		}
		return txn.Set(a.key("event", guid), data)
	})
}

func (a *BadgerAdapter) UpdateSyncLevelFromEvents(ctx context.Context, events []*Event, level SyncLevel) error {
	for _, e := range events {
		if err := a.UpdateEventSyncLevel(ctx, e.GUID, level); err != nil {
			return err
		}
	}
	return nil
}

func (a *BadgerAdapter) SaveAuditLog(ctx context.Context, entry *AuditLogEntry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	return a.db.Update(func(txn *badger.Txn) error {
		return txn.Set(a.key("audit", entry.GUID), data)
	})
}

func (a *BadgerAdapter) SaveAuditLogs(ctx context.Context, entries []*AuditLogEntry) error {
	for _, e := range entries {
		if err := a.SaveAuditLog(ctx, e); err != nil {
			return err
		}
	}
	return nil
}

func (a *BadgerAdapter) scanAudit(filter func(*AuditLogEntry) bool) ([]*AuditLogEntry, error) {
	var out []*AuditLogEntry
	err := a.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		prefix := a.prefix("audit")
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var entry AuditLogEntry
			err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &entry)
			})
			if err != nil {
				return err
			}
			if filter == nil || filter(&entry) {
				e := entry
				out = append(out, &e)
			}
		}
		return nil
	})
	return out, err
}

func (a *BadgerAdapter) GetAuditLogsSince(ctx context.Context, since time.Time) ([]*AuditLogEntry, error) {
	entries, err := a.scanAudit(func(e *AuditLogEntry) bool { return e.Timestamp.After(since) })
	if err != nil {
		return nil, err
	}
	sortAudit(entries)
	return entries, nil
}

func (a *BadgerAdapter) GetAuditTrailByEntityGuid(ctx context.Context, entityGUID string) ([]*AuditLogEntry, error) {
	entries, err := a.scanAudit(func(e *AuditLogEntry) bool { return e.EntityGUID == entityGUID })
	if err != nil {
		return nil, err
	}
	sortAudit(entries)
	return entries, nil
}

func sortAudit(entries []*AuditLogEntry) {
	for i := 1; i < len(entries); i++ {
		for j := i; j > 0 && entries[j].Timestamp.Before(entries[j-1].Timestamp); j-- {
			entries[j], entries[j-1] = entries[j-1], entries[j]
		}
	}
}

func (a *BadgerAdapter) GetMerkleNodes(ctx context.Context) ([]string, error) {
	var nodes []string
	err := a.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(a.key("merkle", "nodes"))
		if err == badger.ErrKeyNotFound {
			return nil
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error { return json.Unmarshal(val, &nodes) })
	})
	return nodes, err
}

func (a *BadgerAdapter) SaveMerkleNodes(ctx context.Context, nodes []string) error {
	data, err := json.Marshal(nodes)
	if err != nil {
		return err
	}
	return a.db.Update(func(txn *badger.Txn) error {
		return txn.Set(a.key("merkle", "nodes"), data)
	})
}

func (a *BadgerAdapter) GetSyncCursor(ctx context.Context, name string) (time.Time, bool, error) {
	var ts time.Time
	found := false
	err := a.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(a.key("cursor", name))
		if err == badger.ErrKeyNotFound {
			return nil
		}
		if err != nil {
			return err
		}
		found = true
		return item.Value(func(val []byte) error { return ts.UnmarshalBinary(val) })
	})
	return ts, found, err
}

func (a *BadgerAdapter) SetSyncCursor(ctx context.Context, name string, ts time.Time) error {
	data, err := ts.MarshalBinary()
	if err != nil {
		return err
	}
	return a.db.Update(func(txn *badger.Txn) error {
		return txn.Set(a.key("cursor", name), data)
	})
}

// Clear deletes every key under this tenant's namespace.
func (a *BadgerAdapter) Clear(ctx context.Context) error {
	return a.db.Update(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		prefix := []byte(a.tenantID + "|")
		var keys [][]byte
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			keys = append(keys, it.Item().KeyCopy(nil))
		}
		for _, k := range keys {
			if err := txn.Delete(k); err != nil {
				return err
			}
		}
		return nil
	})
}

func (a *BadgerAdapter) Close() error {
	return a.db.Close()
}
