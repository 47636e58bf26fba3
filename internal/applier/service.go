package applier

import (
	"context"
	"fmt"

	"github.com/datacollect/core/internal/entitystore"
	"github.com/datacollect/core/internal/eventlog"
	"github.com/datacollect/core/internal/logging"
	"github.com/sirupsen/logrus"
)

// Service is the Event Applier Service (spec.md §4.5): it validates and
// persists a form submission via the Event Store, runs the registered
// applier to derive new entity state, saves it via the Entity Store, and
// triggers duplicate detection after a create.
type Service struct {
	events    *eventlog.Store
	entities  *entitystore.Store
	registry  *Registry
	dupConfig DuplicateDetectionConfig
	tenantID  string
}

// NewService wires a Service from its stores. dupConfig may be the zero
// value, in which case DefaultDuplicateDetectionConfig is used.
func NewService(events *eventlog.Store, entities *entitystore.Store, registry *Registry, dupConfig DuplicateDetectionConfig, tenantID string) *Service {
	if registry == nil {
		registry = NewRegistry()
	}
	if len(dupConfig.Fields) == 0 {
		dupConfig = DefaultDuplicateDetectionConfig()
	}
	return &Service{events: events, entities: entities, registry: registry, dupConfig: dupConfig, tenantID: tenantID}
}

func (s *Service) logger() *logrus.Entry {
	return logging.ForTenant("applier", s.tenantID)
}

// Registry exposes the applier registry so callers may register custom
// event types (spec.md §3: "registered custom types").
func (s *Service) Registry() *Registry {
	return s.registry
}

func (s *Service) deps() Deps {
	return Deps{
		GetEntity:                  s.entities.GetEntity,
		SaveEntity:                 s.entities.SaveEntity,
		DeleteEntity:               s.entities.DeleteEntity,
		ResolvePotentialDuplicates: s.entities.ResolvePotentialDuplicates,
	}
}

// SubmitForm validates, persists, and applies event (spec.md §4.5
// "submitForm"). It returns the event's guid.
//
// Validation: missing guid/entityGuid/type/timestamp fails with
// ErrValidation. An event guid that already exists is a no-op that
// returns the existing guid without re-running the applier — this is what
// keeps replay idempotent (spec.md §8 invariant 1): re-applying would
// double-count a version bump or a duplicate-detection scan.
//
// spec.md §7: an applier error rolls back the event's projection
// side-effects, but the event itself remains in the log for audit — so
// the event is saved regardless of whether the applier succeeds, and
// only a successful apply's result is written to the Entity Store.
func (s *Service) SubmitForm(ctx context.Context, event *eventlog.Event) (string, error) {
	if err := validateEvent(event); err != nil {
		return "", err
	}

	exists, err := s.events.EventExists(ctx, event.GUID)
	if err != nil {
		return "", err
	}
	if exists {
		return event.GUID, nil
	}

	applierFn, ok := s.registry.Lookup(event.Type)
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownEventType, event.Type)
	}

	existing, err := lookupEntity(ctx, s.deps(), event.EntityGUID)
	if err != nil {
		return "", err
	}

	newPair, applyErr := applierFn(ctx, s.deps(), existing, event)

	id, err := s.events.SaveEvent(ctx, event)
	if err != nil {
		return "", err
	}

	if applyErr != nil {
		s.logger().WithField("event_guid", event.GUID).WithField("event_type", event.Type).WithError(applyErr).
			Warn("applier failed; event kept in log for audit, projection not updated")
		return id, applyErr
	}

	if err := s.entities.SaveEntity(ctx, newPair); err != nil {
		return id, err
	}

	if isCreateEvent(event.Type) && wasNewlyCreated(existing, newPair) {
		if err := s.scanForDuplicates(ctx, newPair.Modified); err != nil {
			s.logger().WithField("entity_guid", newPair.Modified.GUID).WithError(err).Warn("duplicate scan failed")
		}
	}

	s.logger().WithField("event_guid", event.GUID).WithField("event_type", event.Type).Debug("form submitted")
	return id, nil
}

func validateEvent(event *eventlog.Event) error {
	if event == nil {
		return fmt.Errorf("%w: nil event", ErrValidation)
	}
	if event.GUID == "" {
		return fmt.Errorf("%w: missing guid", ErrValidation)
	}
	if event.EntityGUID == "" {
		return fmt.Errorf("%w: missing entityGuid", ErrValidation)
	}
	if event.Type == "" {
		return fmt.Errorf("%w: missing type", ErrValidation)
	}
	if event.Timestamp.IsZero() {
		return fmt.Errorf("%w: missing timestamp", ErrValidation)
	}
	return nil
}

func isCreateEvent(eventType string) bool {
	return eventType == eventlog.TypeCreateIndividual || eventType == eventlog.TypeCreateGroup
}

// wasNewlyCreated distinguishes a real create from the create-*
// no-op-if-exists case (spec.md §4.5), so duplicate detection only ever
// scans a genuinely new entity.
func wasNewlyCreated(existing, newPair *entitystore.EntityPair) bool {
	return existing == nil && newPair != nil && newPair.Modified != nil
}

// scanForDuplicates compares candidate against every other entity sharing
// its type and records any canonical pair clearing the configured
// threshold (spec.md §4.5, §8 invariant 7).
func (s *Service) scanForDuplicates(ctx context.Context, candidate *entitystore.Entity) error {
	all, err := s.entities.GetAllEntities(ctx)
	if err != nil {
		return err
	}
	others := make([]*entitystore.Entity, 0, len(all))
	for _, pair := range all {
		if pair.Modified == nil || pair.Modified.GUID == candidate.GUID {
			continue
		}
		others = append(others, pair.Modified)
	}

	pairs := findDuplicates(candidate, others, s.dupConfig)
	if len(pairs) == 0 {
		return nil
	}
	return s.entities.SavePotentialDuplicates(ctx, pairs)
}
