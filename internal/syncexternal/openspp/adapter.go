package openspp

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/datacollect/core/internal/entitystore"
	"github.com/datacollect/core/internal/eventlog"
	"github.com/datacollect/core/internal/logging"
	"github.com/datacollect/core/internal/syncexternal"
	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"
)

func init() {
	syncexternal.RegisterAdapter("openspp", newAdapter)
}

// adapter is the OpenSPP reference ExternalSyncAdapter (spec.md §4.7).
type adapter struct {
	deps   syncexternal.Deps
	client Client
	token  string

	rootEntityName       string
	householdEntityName  string
	individualEntityName string

	breaker *gobreaker.CircuitBreaker
}

func newAdapter(cfg syncexternal.AdapterConfig, deps syncexternal.Deps) (syncexternal.Adapter, error) {
	baseURL := cfg.Settings["baseUrl"]
	if baseURL == "" {
		return nil, fmt.Errorf("openspp: missing baseUrl setting")
	}
	a := &adapter{
		deps:                  deps,
		client:                newHTTPClient(baseURL),
		rootEntityName:        cfg.Settings["rootEntityName"],
		householdEntityName:   cfg.Settings["householdEntityName"],
		individualEntityName:  cfg.Settings["individualEntityName"],
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        "openspp-" + deps.TenantID,
			MaxRequests: 1,
			Interval:    time.Minute,
			Timeout:     30 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool { return counts.ConsecutiveFailures >= 5 },
		}),
	}
	if a.rootEntityName == "" {
		a.rootEntityName = "root"
	}
	if a.householdEntityName == "" {
		a.householdEntityName = "household"
	}
	if a.individualEntityName == "" {
		a.individualEntityName = "individual"
	}
	return a, nil
}

func (a *adapter) logger() *logrus.Entry {
	return logging.ForTenant("syncexternal.openspp", a.deps.TenantID)
}

func (a *adapter) Authenticate(ctx context.Context, credentials map[string]string) error {
	result, err := a.breaker.Execute(func() (any, error) {
		return a.client.Login(ctx, credentials)
	})
	if err != nil {
		return fmt.Errorf("openspp: authenticate: %w", err)
	}
	a.token = result.(string)
	return nil
}

// Sync runs one push then one pull, matching the other coordinators'
// push-then-pull shape (spec.md §4.7 delegates synchronize to this).
func (a *adapter) Sync(ctx context.Context, credentials map[string]string) error {
	if err := a.PushData(ctx, credentials); err != nil {
		return err
	}
	return a.PullData(ctx)
}

func (a *adapter) entityName(e *entitystore.Entity) string {
	if e == nil || e.Data == nil {
		return ""
	}
	if name, ok := e.Data["entityName"].(string); ok {
		return name
	}
	return ""
}

// PushData batches modified entities into root -> [household -> [individuals]]
// and creates them in dependency order (spec.md §4.7). Failures per record
// are logged and skipped; lastPushExternalSync only advances for the
// timestamps of successfully processed records.
func (a *adapter) PushData(ctx context.Context, credentials map[string]string) error {
	since, _, err := a.deps.Events.GetSyncCursor(ctx, eventlog.CursorLastPushExternalSync)
	if err != nil {
		return err
	}

	candidates, err := a.deps.Entities.GetModifiedEntitiesSince(ctx, since)
	if err != nil {
		return err
	}

	roots := map[string]*entitystore.Entity{}
	households := map[string]*entitystore.Entity{}
	individuals := map[string]*entitystore.Entity{}

	for _, pair := range candidates {
		e := pair.Modified
		switch a.entityName(e) {
		case a.rootEntityName:
			roots[e.GUID] = e
		case a.householdEntityName:
			households[e.GUID] = e
		case a.individualEntityName:
			individuals[e.GUID] = e
		}
	}

	maxSynced := since
	rootGUIDs := sortedKeys(roots)

	for _, rootGUID := range rootGUIDs {
		root := roots[rootGUID]
		rootExtID, err := a.pushOne(ctx, root, "root", "")
		if err != nil {
			a.logger().WithField("guid", rootGUID).WithError(err).Warn("openspp: failed to push root record, skipping subtree")
			continue
		}
		maxSynced = maxTime(maxSynced, root.LastUpdated)

		for _, householdGUID := range root.MemberIDs {
			household, ok := households[householdGUID]
			if !ok {
				continue
			}
			householdExtID, err := a.pushOne(ctx, household, "household", rootExtID)
			if err != nil {
				a.logger().WithField("guid", householdGUID).WithError(err).Warn("openspp: failed to push household record, skipping its members")
				continue
			}
			maxSynced = maxTime(maxSynced, household.LastUpdated)

			for _, individualGUID := range household.MemberIDs {
				individual, ok := individuals[individualGUID]
				if !ok {
					continue
				}
				if _, err := a.pushOne(ctx, individual, "individual", householdExtID); err != nil {
					a.logger().WithField("guid", individualGUID).WithError(err).Warn("openspp: failed to push individual record")
					continue
				}
				maxSynced = maxTime(maxSynced, individual.LastUpdated)
			}
		}
	}

	if maxSynced.After(since) {
		if err := a.deps.Events.SetSyncCursor(ctx, eventlog.CursorLastPushExternalSync, maxSynced); err != nil {
			return err
		}
	}
	return nil
}

func (a *adapter) pushOne(ctx context.Context, e *entitystore.Entity, kind, parentExternalID string) (string, error) {
	result, err := a.breaker.Execute(func() (any, error) {
		return a.client.CreateRecord(ctx, a.token, Record{
			Kind: kind, ParentExternalID: parentExternalID, Data: e.Data,
		})
	})
	if err != nil {
		return "", err
	}
	externalID := result.(string)
	if err := a.deps.Entities.SetExternalID(ctx, e.GUID, externalID); err != nil {
		return "", err
	}
	return externalID, nil
}

// PullData converts remote records into synthetic create-* events with
// syncLevel=EXTERNAL, routed through the Event Applier (spec.md §4.7).
// lastPullExternalSync advances to the max remote write_date.
func (a *adapter) PullData(ctx context.Context) error {
	since, _, err := a.deps.Events.GetSyncCursor(ctx, eventlog.CursorLastPullExternalSync)
	if err != nil {
		return err
	}

	result, err := a.breaker.Execute(func() (any, error) {
		return a.client.FetchChanges(ctx, a.token, since)
	})
	if err != nil {
		return fmt.Errorf("openspp: fetch changes: %w", err)
	}
	records := result.([]Record)

	maxWriteDate := since
	for _, rec := range records {
		event := a.toEvent(rec)
		if _, err := a.deps.Applier.SubmitForm(ctx, event); err != nil {
			a.logger().WithField("external_id", rec.ExternalID).WithError(err).Warn("openspp: failed to apply pulled record")
			continue
		}
		maxWriteDate = maxTime(maxWriteDate, rec.WriteDate)
	}

	if maxWriteDate.After(since) {
		return a.deps.Events.SetSyncCursor(ctx, eventlog.CursorLastPullExternalSync, maxWriteDate)
	}
	return nil
}

func (a *adapter) toEvent(rec Record) *eventlog.Event {
	eventType := eventlog.TypeCreateIndividual
	if rec.Kind == "root" || rec.Kind == "household" {
		eventType = eventlog.TypeCreateGroup
	}
	data := make(map[string]any, len(rec.Data)+1)
	for k, v := range rec.Data {
		data[k] = v
	}
	data["entityName"] = rec.Kind
	data["externalId"] = rec.ExternalID

	return &eventlog.Event{
		GUID:       fmt.Sprintf("openspp:%s", rec.ExternalID),
		EntityGUID: fmt.Sprintf("openspp:%s", rec.ExternalID),
		Type:       eventType,
		Data:       data,
		Timestamp:  rec.WriteDate,
		UserID:     "openspp-sync",
		SyncLevel:  eventlog.SyncLevelExternal,
	}
}

func sortedKeys(m map[string]*entitystore.Entity) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func maxTime(a, b time.Time) time.Time {
	if b.After(a) {
		return b
	}
	return a
}
