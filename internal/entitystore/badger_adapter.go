package entitystore

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"time"

	badger "github.com/dgraph-io/badger/v4"
)

// BadgerAdapter is the local, embedded StorageAdapter (spec.md §4.1). Keys
// are namespaced "<tenantID>|<kind>|<id>", matching internal/eventlog's
// BadgerAdapter convention.
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
// opts.DataDir/entities for tenantID.
func NewBadgerAdapter(tenantID string, opts BadgerOptions) (*BadgerAdapter, error) {
	path := filepath.Join(opts.DataDir, "entities")
	bopts := badger.DefaultOptions(path).
		WithLogger(nil).
		WithSyncWrites(opts.SyncWrites)

	db, err := badger.Open(bopts)
	if err != nil {
		return nil, fmt.Errorf("opening badger entity store: %w", err)
	}
	return &BadgerAdapter{db: db, tenantID: tenantID}, nil
}

func (a *BadgerAdapter) key(kind, id string) []byte {
	return []byte(a.tenantID + "|" + kind + "|" + id)
}

func (a *BadgerAdapter) prefix(kind string) []byte {
	return []byte(a.tenantID + "|" + kind + "|")
}

func (a *BadgerAdapter) Init(ctx context.Context) error {
	return nil
}

func (a *BadgerAdapter) SaveEntity(ctx context.Context, pair *EntityPair) error {
	guid := pairGUID(pair)
	if guid == "" {
		return fmt.Errorf("saving entity: pair has no guid")
	}
	data, err := json.Marshal(pair)
	if err != nil {
		return err
	}
	return a.db.Update(func(txn *badger.Txn) error {
		return txn.Set(a.key("entity", guid), data)
	})
}

func (a *BadgerAdapter) getEntityTxn(txn *badger.Txn, guid string) (*EntityPair, error) {
	item, err := txn.Get(a.key("entity", guid))
	if err == badger.ErrKeyNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var pair EntityPair
	if err := item.Value(func(val []byte) error { return json.Unmarshal(val, &pair) }); err != nil {
		return nil, err
	}
	return &pair, nil
}

func (a *BadgerAdapter) GetEntity(ctx context.Context, guid string) (*EntityPair, error) {
	var pair *EntityPair
	err := a.db.View(func(txn *badger.Txn) error {
		p, err := a.getEntityTxn(txn, guid)
		pair = p
		return err
	})
	return pair, err
}

func (a *BadgerAdapter) scanEntities(filter func(*EntityPair) bool) ([]*EntityPair, error) {
	var out []*EntityPair
	err := a.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		prefix := a.prefix("entity")
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var pair EntityPair
			err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &pair)
			})
			if err != nil {
				return err
			}
			if filter == nil || filter(&pair) {
				p := pair
				out = append(out, &p)
			}
		}
		return nil
	})
	return out, err
}

func (a *BadgerAdapter) GetAllEntities(ctx context.Context) ([]*EntityPair, error) {
	return a.scanEntities(nil)
}

func (a *BadgerAdapter) GetModifiedEntitiesSince(ctx context.Context, since time.Time) ([]*EntityPair, error) {
	return a.scanEntities(func(p *EntityPair) bool {
		return p.Modified != nil && p.Modified.LastUpdated.After(since)
	})
}

func (a *BadgerAdapter) DeleteEntity(ctx context.Context, guid string) error {
	return a.db.Update(func(txn *badger.Txn) error {
		pair, err := a.getEntityTxn(txn, guid)
		if err != nil {
			return err
		}
		if pair == nil {
			return fmt.Errorf("%w: %s", ErrEntityNotFound, guid)
		}
		if pair.Modified != nil {
			pair.Modified.Deleted = true
		}
		data, err := json.Marshal(pair)
		if err != nil {
			return err
		}
		return txn.Set(a.key("entity", guid), data)
	})
}

func (a *BadgerAdapter) MarkEntityAsSynced(ctx context.Context, guid string) error {
	return a.db.Update(func(txn *badger.Txn) error {
		pair, err := a.getEntityTxn(txn, guid)
		if err != nil {
			return err
		}
		if pair == nil {
			return fmt.Errorf("%w: %s", ErrEntityNotFound, guid)
		}
		pair.Initial = pair.Modified.Clone()
		data, err := json.Marshal(pair)
		if err != nil {
			return err
		}
		return txn.Set(a.key("entity", guid), data)
	})
}

func (a *BadgerAdapter) GetEntityByExternalID(ctx context.Context, externalID string) (*EntityPair, error) {
	var pair *EntityPair
	err := a.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(a.key("extid", externalID))
		if err == badger.ErrKeyNotFound {
			return nil
		}
		if err != nil {
			return err
		}
		var guid string
		if err := item.Value(func(val []byte) error { guid = string(val); return nil }); err != nil {
			return err
		}
		p, err := a.getEntityTxn(txn, guid)
		pair = p
		return err
	})
	return pair, err
}

func (a *BadgerAdapter) SetExternalID(ctx context.Context, guid, externalID string) error {
	return a.db.Update(func(txn *badger.Txn) error {
		item, err := txn.Get(a.key("extid", externalID))
		if err != nil && err != badger.ErrKeyNotFound {
			return err
		}
		if err == nil {
			var boundGUID string
			if err := item.Value(func(val []byte) error { boundGUID = string(val); return nil }); err != nil {
				return err
			}
			if boundGUID != guid {
				return fmt.Errorf("%w: %s", ErrDuplicateExternalID, externalID)
			}
			return nil
		}

		pair, err := a.getEntityTxn(txn, guid)
		if err != nil {
			return err
		}
		if pair == nil {
			return fmt.Errorf("%w: %s", ErrEntityNotFound, guid)
		}
		if pair.Modified != nil {
			pair.Modified.ExternalID = externalID
		}
		data, err := json.Marshal(pair)
		if err != nil {
			return err
		}
		if err := txn.Set(a.key("entity", guid), data); err != nil {
			return err
		}
		return txn.Set(a.key("extid", externalID), []byte(guid))
	})
}

func (a *BadgerAdapter) SearchEntities(ctx context.Context, criteria Criteria) ([]*EntityPair, error) {
	var out []*EntityPair
	err := a.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		prefix := a.prefix("entity")
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var pair EntityPair
			err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &pair)
			})
			if err != nil {
				return err
			}
			ok, err := Matches(&pair, criteria)
			if err != nil {
				return err
			}
			if ok {
				p := pair
				out = append(out, &p)
			}
		}
		return nil
	})
	return out, err
}

func (a *BadgerAdapter) GetPotentialDuplicates(ctx context.Context) ([]PotentialDuplicatePair, error) {
	var out []PotentialDuplicatePair
	err := a.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		prefix := a.prefix("dup")
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var p PotentialDuplicatePair
			err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &p)
			})
			if err != nil {
				return err
			}
			out = append(out, p)
		}
		return nil
	})
	return out, err
}

func (a *BadgerAdapter) SavePotentialDuplicates(ctx context.Context, pairs []PotentialDuplicatePair) error {
	return a.db.Update(func(txn *badger.Txn) error {
		for _, p := range pairs {
			canon := CanonicalPair(p.EntityGUID, p.DuplicateGUID)
			data, err := json.Marshal(canon)
			if err != nil {
				return err
			}
			dupKey := a.key("dup", canon.EntityGUID+"|"+canon.DuplicateGUID)
			if err := txn.Set(dupKey, data); err != nil {
				return err
			}
		}
		return nil
	})
}

func (a *BadgerAdapter) ResolvePotentialDuplicates(ctx context.Context, pairs []PotentialDuplicatePair) error {
	return a.db.Update(func(txn *badger.Txn) error {
		for _, p := range pairs {
			canon := CanonicalPair(p.EntityGUID, p.DuplicateGUID)
			dupKey := a.key("dup", canon.EntityGUID+"|"+canon.DuplicateGUID)
			if err := txn.Delete(dupKey); err != nil && err != badger.ErrKeyNotFound {
				return err
			}
		}
		return nil
	})
}

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
