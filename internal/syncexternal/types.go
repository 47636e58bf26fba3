// Package syncexternal implements the External Sync Coordinator (spec.md
// §4.7): an adapter-driven push/pull against a foreign system, resolved
// by config.type from a registry and constructed once at Initialize.
package syncexternal

import (
	"context"

	"github.com/datacollect/core/internal/applier"
	"github.com/datacollect/core/internal/entitystore"
	"github.com/datacollect/core/internal/eventlog"
)

// AdapterConfig is one configured external system (spec.md §6's
// `externalSync{}` config artifact field).
type AdapterConfig struct {
	Type     string
	Settings map[string]string
}

// Adapter is the contract every external system integration implements
// (spec.md §4.7: "authenticate(credentials?), pushData(credentials?),
// pullData(), and sync(credentials?)").
type Adapter interface {
	Authenticate(ctx context.Context, credentials map[string]string) error
	PushData(ctx context.Context, credentials map[string]string) error
	PullData(ctx context.Context) error
	Sync(ctx context.Context, credentials map[string]string) error
}

// AdapterFactory builds an Adapter from its config and the shared
// dependencies every adapter needs (event log, entity store, applier).
type AdapterFactory func(cfg AdapterConfig, deps Deps) (Adapter, error)

// Deps bundles what an Adapter needs from the rest of the system.
type Deps struct {
	Events   *eventlog.Store
	Entities *entitystore.Store
	Applier  *applier.Service
	TenantID string
}
