package syncexternal

import (
	"context"
	"sync/atomic"

	"github.com/datacollect/core/internal/logging"
	"github.com/sirupsen/logrus"
)

// Coordinator resolves one configured Adapter by config.type and
// delegates synchronization to it (spec.md §4.7). One Coordinator serves
// one tenant's one external system.
type Coordinator struct {
	cfg     AdapterConfig
	deps    Deps
	adapter Adapter

	syncing atomic.Bool
}

// New returns an uninitialized Coordinator; call Initialize before Synchronize.
func New(cfg AdapterConfig, deps Deps) *Coordinator {
	return &Coordinator{cfg: cfg, deps: deps}
}

// Initialize constructs the adapter once, per spec.md §4.7 ("constructs
// it once at initialize()").
func (c *Coordinator) Initialize(ctx context.Context, credentials map[string]string) error {
	adapter, err := NewAdapter(c.cfg, c.deps)
	if err != nil {
		return err
	}
	if err := adapter.Authenticate(ctx, credentials); err != nil {
		return err
	}
	c.adapter = adapter
	return nil
}

func (c *Coordinator) logger() *logrus.Entry {
	return logging.ForTenant("syncexternal", c.deps.TenantID)
}

// Synchronize delegates to the resolved adapter's Sync (spec.md §4.7:
// "delegates synchronize(credentials?) to it").
func (c *Coordinator) Synchronize(ctx context.Context, credentials map[string]string) error {
	if c.adapter == nil {
		return ErrNotInitialized
	}
	if !c.syncing.CompareAndSwap(false, true) {
		return ErrAlreadySyncing
	}
	defer c.syncing.Store(false)

	c.logger().WithField("adapter_type", c.cfg.Type).Info("starting external sync")
	return c.adapter.Sync(ctx, credentials)
}
