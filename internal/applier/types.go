// Package applier implements the Event Applier Service (spec.md §4.5): the
// deterministic reducer from (existingEntity, event) to entity state, the
// registry of pluggable appliers, and duplicate detection.
package applier

import (
	"context"

	"github.com/datacollect/core/internal/entitystore"
	"github.com/datacollect/core/internal/eventlog"
)

// Deps is the set of callbacks an Applier needs into the Entity Store. The
// Applier borrows these by reference and never owns store state (spec.md
// §9: "appliers borrow both [stores] via callbacks to avoid cyclic
// ownership").
type Deps struct {
	GetEntity                  func(ctx context.Context, guid string) (*entitystore.EntityPair, error)
	SaveEntity                 func(ctx context.Context, pair *entitystore.EntityPair) error
	DeleteEntity               func(ctx context.Context, guid string) error
	ResolvePotentialDuplicates func(ctx context.Context, pairs []entitystore.PotentialDuplicatePair) error
}

// Applier is a pure function of (existing, event) modulo Deps calls
// (spec.md §4.5 determinism requirement): given the same event log and
// storage contents, replay yields identical entity state.
type Applier func(ctx context.Context, deps Deps, existing *entitystore.EntityPair, event *eventlog.Event) (*entitystore.EntityPair, error)

// Registry maps an event type to the Applier that handles it (spec.md §9:
// "a mapping {type -> factory}; adding a new [applier] is a registry
// insertion, not a core edit").
type Registry struct {
	appliers map[string]Applier
}

// NewRegistry returns a Registry pre-populated with the built-in appliers
// (builtin.go).
func NewRegistry() *Registry {
	r := &Registry{appliers: make(map[string]Applier)}
	registerBuiltins(r)
	return r
}

// Register adds or replaces the applier for eventType.
func (r *Registry) Register(eventType string, a Applier) {
	r.appliers[eventType] = a
}

// Lookup returns the applier registered for eventType, or (nil, false).
func (r *Registry) Lookup(eventType string) (Applier, bool) {
	a, ok := r.appliers[eventType]
	return a, ok
}

// DuplicateDetectionConfig tunes the duplicate detector (spec.md §9 Open
// Question: "expose this as tunable config"). Defaults match the fields
// and threshold spec.md §4.5 names.
type DuplicateDetectionConfig struct {
	Fields    []string
	Threshold int
}

// DefaultDuplicateDetectionConfig returns spec.md §4.5's documented
// default: name/data.name/data.dateOfBirth/data.phone/data.email compared,
// threshold 2.
func DefaultDuplicateDetectionConfig() DuplicateDetectionConfig {
	return DuplicateDetectionConfig{
		Fields:    []string{"name", "data.name", "data.dateOfBirth", "data.phone", "data.email"},
		Threshold: 2,
	}
}
