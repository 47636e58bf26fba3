package auth

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/cockroachdb/pebble/v2"
	"github.com/sirupsen/logrus"
)

// PebbleAdapter is the local, embedded StorageAdapter, grounded on the
// teacher's metadata store: same pebble.Open/Cache/Logger shape, same
// prefix-scan-with-prefixEnd technique, applied to tenant-scoped auth
// keys instead of object metadata. Keys are namespaced
// "<tenantID>|<kind>|<id>" to match eventlog/entitystore's badger
// namespacing convention.
type PebbleAdapter struct {
	db       *pebble.DB
	tenantID string
}

// PebbleOptions configures a PebbleAdapter.
type PebbleOptions struct {
	DataDir string
	Logger  *logrus.Logger
}

type pebbleLogger struct {
	logger *logrus.Logger
}

func (l *pebbleLogger) Infof(format string, args ...interface{}) {
	l.logger.Infof(format, args...)
}

func (l *pebbleLogger) Fatalf(format string, args ...interface{}) {
	l.logger.Fatalf(format, args...)
}

// NewPebbleAdapter opens (or creates) the pebble database under
// opts.DataDir/auth for tenantID.
func NewPebbleAdapter(tenantID string, opts PebbleOptions) (*PebbleAdapter, error) {
	path := filepath.Join(opts.DataDir, "auth")
	if err := os.MkdirAll(path, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create auth directory: %w", err)
	}

	logger := opts.Logger
	if logger == nil {
		logger = logrus.New()
	}

	cache := pebble.NewCache(16 << 20)
	defer cache.Unref()

	pebbleOpts := &pebble.Options{
		Cache: cache,
		Levels: []pebble.LevelOptions{
			{Compression: pebble.SnappyCompression},
		},
		Logger: &pebbleLogger{logger: logger},
	}

	db, err := pebble.Open(path, pebbleOpts)
	if err != nil {
		return nil, fmt.Errorf("failed to open pebble db: %w", err)
	}
	return &PebbleAdapter{db: db, tenantID: tenantID}, nil
}

func (a *PebbleAdapter) key(kind, id string) []byte {
	return []byte(a.tenantID + "|" + kind + "|" + id)
}

func (a *PebbleAdapter) prefix(kind string) []byte {
	return []byte(a.tenantID + "|" + kind + "|")
}

// prefixEnd returns the exclusive upper bound for a prefix scan, nil if
// the prefix is all 0xFF bytes (unbounded scan).
func prefixEnd(prefix []byte) []byte {
	end := make([]byte, len(prefix))
	copy(end, prefix)
	for i := len(end) - 1; i >= 0; i-- {
		end[i]++
		if end[i] != 0 {
			return end[:i+1]
		}
	}
	return nil
}

func (a *PebbleAdapter) Init(ctx context.Context) error {
	return nil
}

func (a *PebbleAdapter) get(key []byte) (string, bool, error) {
	val, closer, err := a.db.Get(key)
	if err == pebble.ErrNotFound {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	out := make([]byte, len(val))
	copy(out, val)
	if err := closer.Close(); err != nil {
		return "", false, err
	}
	return string(out), true, nil
}

func (a *PebbleAdapter) set(key []byte, val string) error {
	return a.db.Set(key, []byte(val), pebble.NoSync)
}

func (a *PebbleAdapter) GetToken(ctx context.Context) (string, bool, error) {
	prefix := a.prefix("token")
	iter, err := a.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: prefixEnd(prefix),
	})
	if err != nil {
		return "", false, err
	}
	defer iter.Close()

	var latest string
	found := false
	for valid := iter.SeekGE(prefix); valid; valid = iter.Next() {
		found = true
		latest = string(iter.Value())
	}
	if err := iter.Error(); err != nil {
		return "", false, err
	}
	return latest, found, nil
}

func (a *PebbleAdapter) GetTokenByProvider(ctx context.Context, providerType string) (string, bool, error) {
	return a.get(a.key("token", providerType))
}

func (a *PebbleAdapter) SetToken(ctx context.Context, providerType, token string) error {
	return a.set(a.key("token", providerType), token)
}

func (a *PebbleAdapter) RemoveToken(ctx context.Context, providerType string) error {
	return a.db.Delete(a.key("token", providerType), pebble.NoSync)
}

func (a *PebbleAdapter) RemoveAllTokens(ctx context.Context) error {
	prefix := a.prefix("token")
	return a.deletePrefix(prefix)
}

func (a *PebbleAdapter) deletePrefix(prefix []byte) error {
	iter, err := a.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: prefixEnd(prefix),
	})
	if err != nil {
		return err
	}
	var keys [][]byte
	for valid := iter.SeekGE(prefix); valid; valid = iter.Next() {
		k := make([]byte, len(iter.Key()))
		copy(k, iter.Key())
		keys = append(keys, k)
	}
	if err := iter.Close(); err != nil {
		return err
	}

	batch := a.db.NewBatch()
	for _, k := range keys {
		if err := batch.Delete(k, nil); err != nil {
			return err
		}
	}
	return batch.Commit(pebble.NoSync)
}

func (a *PebbleAdapter) GetUsername(ctx context.Context) (string, bool, error) {
	return a.get(a.key("meta", "username"))
}

func (a *PebbleAdapter) SetUsername(ctx context.Context, username string) error {
	return a.set(a.key("meta", "username"), username)
}

func (a *PebbleAdapter) Clear(ctx context.Context) error {
	return a.deletePrefix([]byte(a.tenantID + "|"))
}

func (a *PebbleAdapter) Close() error {
	return a.db.Close()
}
