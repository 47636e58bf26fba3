package applier

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/datacollect/core/internal/entitystore"
	"github.com/datacollect/core/internal/eventlog"
	"github.com/google/uuid"
)

func registerBuiltins(r *Registry) {
	r.Register(eventlog.TypeCreateIndividual, applyCreateIndividual)
	r.Register(eventlog.TypeCreateGroup, applyCreateGroup)
	r.Register(eventlog.TypeUpdateIndividual, applyUpdate)
	r.Register(eventlog.TypeUpdateGroup, applyUpdate)
	r.Register(eventlog.TypeAddMember, applyAddMember)
	r.Register(eventlog.TypeRemoveMember, applyRemoveMember)
	r.Register(eventlog.TypeDeleteEntity, applyDeleteEntity)
	r.Register(eventlog.TypeResolveDuplicate, applyResolveDuplicate)
}

func stringFromData(data map[string]any, key string) string {
	if data == nil {
		return ""
	}
	s, _ := data[key].(string)
	return s
}

func lookupEntity(ctx context.Context, deps Deps, guid string) (*entitystore.EntityPair, error) {
	pair, err := deps.GetEntity(ctx, guid)
	if err != nil {
		if errors.Is(err, entitystore.ErrEntityNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return pair, nil
}

// applyCreateIndividual is a no-op if event.EntityGuid already names an
// entity (spec.md §4.5), else creates an Individual at version 1.
func applyCreateIndividual(ctx context.Context, deps Deps, existing *entitystore.EntityPair, event *eventlog.Event) (*entitystore.EntityPair, error) {
	if existing != nil && existing.Modified != nil {
		return existing, nil
	}
	entity := &entitystore.Entity{
		GUID:        event.EntityGUID,
		Type:        entitystore.TypeIndividual,
		Name:        stringFromData(event.Data, "name"),
		Version:     1,
		LastUpdated: event.Timestamp,
		Data:        cloneData(event.Data),
	}
	return &entitystore.EntityPair{Modified: entity}, nil
}

// applyCreateGroup is create-individual's sibling for Group entities. If
// event.Data["members"] is present, child individuals are spawned and
// appended to MemberIds in the same logical step (spec.md §4.5).
func applyCreateGroup(ctx context.Context, deps Deps, existing *entitystore.EntityPair, event *eventlog.Event) (*entitystore.EntityPair, error) {
	if existing != nil && existing.Modified != nil {
		return existing, nil
	}
	entity := &entitystore.Entity{
		GUID:        event.EntityGUID,
		Type:        entitystore.TypeGroup,
		Name:        stringFromData(event.Data, "name"),
		Version:     1,
		LastUpdated: event.Timestamp,
		Data:        cloneData(event.Data),
	}

	members, _ := event.Data["members"].([]any)
	for _, raw := range members {
		m, _ := raw.(map[string]any)
		guid, _ := m["guid"].(string)

		if guid != "" {
			linked, err := lookupEntity(ctx, deps, guid)
			if err != nil {
				return nil, err
			}
			if linked != nil && linked.Modified != nil {
				entity.MemberIDs = appendUnique(entity.MemberIDs, guid)
				continue
			}
		}

		child := newNestedEntity(m, guid, event.Timestamp)
		if err := deps.SaveEntity(ctx, &entitystore.EntityPair{Modified: child}); err != nil {
			return nil, err
		}
		entity.MemberIDs = appendUnique(entity.MemberIDs, child.GUID)
	}
	return &entitystore.EntityPair{Modified: entity}, nil
}

func appendUnique(ids []string, id string) []string {
	for _, existing := range ids {
		if existing == id {
			return ids
		}
	}
	return append(ids, id)
}

func cloneData(data map[string]any) map[string]any {
	if data == nil {
		return nil
	}
	out := make(map[string]any, len(data))
	for k, v := range data {
		out[k] = v
	}
	return out
}

// applyUpdate shallow-merges event.Data into entity.Data, increments
// version, and updates LastUpdated (spec.md §4.5: update-individual /
// update-group).
func applyUpdate(ctx context.Context, deps Deps, existing *entitystore.EntityPair, event *eventlog.Event) (*entitystore.EntityPair, error) {
	if existing == nil || existing.Modified == nil {
		return nil, fmt.Errorf("%w: %s", entitystore.ErrEntityNotFound, event.EntityGUID)
	}
	entity := existing.Modified.Clone()
	if entity.Data == nil {
		entity.Data = make(map[string]any)
	}
	for k, v := range event.Data {
		entity.Data[k] = v
	}
	if name := stringFromData(event.Data, "name"); name != "" {
		entity.Name = name
	}
	entity.Version++
	entity.LastUpdated = event.Timestamp

	return &entitystore.EntityPair{Initial: existing.Initial, Modified: entity}, nil
}

// applyAddMember requires the target to be a Group; each entry in
// event.Data["members"] either links an existing entity or spawns a new
// nested one (spec.md §4.5). Appending ignores duplicates.
func applyAddMember(ctx context.Context, deps Deps, existing *entitystore.EntityPair, event *eventlog.Event) (*entitystore.EntityPair, error) {
	if existing == nil || existing.Modified == nil {
		return nil, fmt.Errorf("%w: %s", entitystore.ErrEntityNotFound, event.EntityGUID)
	}
	if existing.Modified.Type != entitystore.TypeGroup {
		return nil, fmt.Errorf("%w: %s", ErrInvalidGroup, event.EntityGUID)
	}
	entity := existing.Modified.Clone()

	members, _ := event.Data["members"].([]any)
	for _, raw := range members {
		m, _ := raw.(map[string]any)
		guid, _ := m["guid"].(string)

		if guid != "" {
			linked, err := lookupEntity(ctx, deps, guid)
			if err != nil {
				return nil, err
			}
			if linked != nil && linked.Modified != nil {
				entity.MemberIDs = appendUnique(entity.MemberIDs, guid)
				continue
			}
		}

		child := newNestedEntity(m, guid, event.Timestamp)
		if err := deps.SaveEntity(ctx, &entitystore.EntityPair{Modified: child}); err != nil {
			return nil, err
		}
		entity.MemberIDs = appendUnique(entity.MemberIDs, child.GUID)
	}

	entity.Version++
	entity.LastUpdated = event.Timestamp
	return &entitystore.EntityPair{Initial: existing.Initial, Modified: entity}, nil
}

// newNestedEntity creates an Individual by default, or a Group if m itself
// carries a "members" key (spec.md §4.5 add-member). A guid is assigned
// when the caller's entry did not name one.
func newNestedEntity(m map[string]any, guid string, ts time.Time) *entitystore.Entity {
	if guid == "" {
		guid = uuid.NewString()
	}
	entityType := entitystore.TypeIndividual
	if _, hasNestedMembers := m["members"]; hasNestedMembers {
		entityType = entitystore.TypeGroup
	}

	data := make(map[string]any, len(m))
	for k, v := range m {
		if k == "guid" || k == "members" {
			continue
		}
		data[k] = v
	}

	return &entitystore.Entity{
		GUID:        guid,
		Type:        entityType,
		Name:        stringFromData(m, "name"),
		Version:     1,
		LastUpdated: ts,
		Data:        data,
	}
}

// applyRemoveMember removes event.Data["memberId"] from the target Group
// and tombstones the removed member; if that member is itself a Group, its
// subtree is cascade-deleted too (spec.md §4.5).
func applyRemoveMember(ctx context.Context, deps Deps, existing *entitystore.EntityPair, event *eventlog.Event) (*entitystore.EntityPair, error) {
	if existing == nil || existing.Modified == nil {
		return nil, fmt.Errorf("%w: %s", entitystore.ErrEntityNotFound, event.EntityGUID)
	}
	if existing.Modified.Type != entitystore.TypeGroup {
		return nil, fmt.Errorf("%w: %s", ErrInvalidGroup, event.EntityGUID)
	}
	memberID, _ := event.Data["memberId"].(string)

	entity := existing.Modified.Clone()
	entity.MemberIDs = removeOne(entity.MemberIDs, memberID)
	entity.Version++
	entity.LastUpdated = event.Timestamp

	if memberID != "" {
		if err := cascadeDelete(ctx, deps, memberID); err != nil {
			return nil, err
		}
	}

	return &entitystore.EntityPair{Initial: existing.Initial, Modified: entity}, nil
}

func removeOne(ids []string, target string) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id != target {
			out = append(out, id)
		}
	}
	return out
}

// cascadeDelete tombstones guid, and recursively its members if guid
// itself names a Group (spec.md §4.5 remove-member / delete-entity).
func cascadeDelete(ctx context.Context, deps Deps, guid string) error {
	pair, err := lookupEntity(ctx, deps, guid)
	if err != nil {
		return err
	}
	if pair == nil || pair.Modified == nil {
		return nil
	}
	if pair.Modified.Type == entitystore.TypeGroup {
		for _, memberID := range pair.Modified.MemberIDs {
			if err := cascadeDelete(ctx, deps, memberID); err != nil {
				return err
			}
		}
	}
	return deps.DeleteEntity(ctx, guid)
}

// applyDeleteEntity tombstones the target, cascade-deleting Group members
// (spec.md §4.5).
func applyDeleteEntity(ctx context.Context, deps Deps, existing *entitystore.EntityPair, event *eventlog.Event) (*entitystore.EntityPair, error) {
	if existing == nil || existing.Modified == nil {
		return nil, fmt.Errorf("%w: %s", entitystore.ErrEntityNotFound, event.EntityGUID)
	}
	entity := existing.Modified.Clone()
	if entity.Type == entitystore.TypeGroup {
		for _, memberID := range entity.MemberIDs {
			if err := cascadeDelete(ctx, deps, memberID); err != nil {
				return nil, err
			}
		}
	}
	entity.Deleted = true
	entity.Version++
	entity.LastUpdated = event.Timestamp
	return &entitystore.EntityPair{Initial: existing.Initial, Modified: entity}, nil
}

// applyResolveDuplicate clears each {entityGuid, duplicateGuid} pair from
// the potential-duplicate set; if event.Data["shouldDelete"] is true, the
// losing (duplicateGuid) entity is also deleted (spec.md §4.5).
func applyResolveDuplicate(ctx context.Context, deps Deps, existing *entitystore.EntityPair, event *eventlog.Event) (*entitystore.EntityPair, error) {
	raw, _ := event.Data["duplicates"].([]any)
	shouldDelete, _ := event.Data["shouldDelete"].(bool)

	var pairs []entitystore.PotentialDuplicatePair
	for _, r := range raw {
		m, _ := r.(map[string]any)
		entityGUID, _ := m["entityGuid"].(string)
		duplicateGUID, _ := m["duplicateGuid"].(string)
		if entityGUID == "" || duplicateGUID == "" {
			continue
		}
		pairs = append(pairs, entitystore.PotentialDuplicatePair{EntityGUID: entityGUID, DuplicateGUID: duplicateGUID})

		if shouldDelete {
			if err := cascadeDelete(ctx, deps, duplicateGUID); err != nil {
				return nil, err
			}
		}
	}

	if len(pairs) > 0 {
		if err := deps.ResolvePotentialDuplicates(ctx, pairs); err != nil {
			return nil, err
		}
	}

	// resolve-duplicate does not mutate the target entity's own
	// projection; it is a side-effecting event recorded for audit only.
	return existing, nil
}
