package syncinternal

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/datacollect/core/internal/applier"
	"github.com/datacollect/core/internal/entitystore"
	"github.com/datacollect/core/internal/eventlog"
	"github.com/datacollect/core/internal/logging"
	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"
)

// TokenProvider returns the current bearer token. The coordinator never
// caches it beyond one request (spec.md §5: "the coordinator never caches
// the token beyond one request").
type TokenProvider func(ctx context.Context) (string, error)

// Config tunes one Coordinator.
type Config struct {
	PageSize   int // default 10, spec.md §4.3/§4.6
	RetryLimit int // N in §4.6's exponential-backoff retry

	// BaseBackoff is the delay before the first retry; each subsequent
	// retry doubles it (spec.md §4.6 "exponential backoff").
	BaseBackoff time.Duration

	// PageRequestsPerSecond/PageBurst bound how fast this tenant's
	// Coordinator drives push/pull pages, so a misbehaving client cannot
	// starve the loop. Zero picks a sane default.
	PageRequestsPerSecond int
	PageBurst             int
}

func (c Config) withDefaults() Config {
	if c.PageSize <= 0 {
		c.PageSize = 10
	}
	if c.RetryLimit <= 0 {
		c.RetryLimit = 3
	}
	if c.BaseBackoff <= 0 {
		c.BaseBackoff = 200 * time.Millisecond
	}
	return c
}

// Coordinator is the Internal Sync Coordinator (spec.md §4.6). One
// Coordinator serves one tenant.
type Coordinator struct {
	events   *eventlog.Store
	entities *entitystore.Store
	applier  *applier.Service
	client   Client
	token    TokenProvider
	tenantID string
	cfg      Config
	breaker  *gobreaker.CircuitBreaker
	limiter  *tenantRateLimiter

	syncing atomic.Bool
}

// New constructs a Coordinator. The gobreaker circuit breaker trips after
// repeated page failures so a degraded server does not get hammered by
// every retry of every subsequent sync call, the same call-site pattern
// kubernaut wires around its notification transport.
func New(events *eventlog.Store, entities *entitystore.Store, applierSvc *applier.Service, client Client, token TokenProvider, tenantID string, cfg Config) *Coordinator {
	cfg = cfg.withDefaults()
	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "syncinternal-" + tenantID,
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
	})
	return &Coordinator{
		events: events, entities: entities, applier: applierSvc,
		client: client, token: token, tenantID: tenantID, cfg: cfg, breaker: breaker,
		limiter: newTenantRateLimiter(cfg.PageRequestsPerSecond, cfg.PageBurst),
	}
}

// waitForPageSlot blocks until the rate limiter admits the next page
// request, or ctx is cancelled first.
func (c *Coordinator) waitForPageSlot(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return ErrCancelled
	}
	for !c.limiter.allow() {
		select {
		case <-ctx.Done():
			return ErrCancelled
		case <-time.After(c.limiter.waitInterval()):
		}
	}
	return nil
}

func (c *Coordinator) logger() *logrus.Entry {
	return logging.ForTenant("syncinternal", c.tenantID)
}

// Sync runs one full push-then-pull cycle (spec.md §4.6). Only one Sync
// may run at a time per Coordinator; a concurrent call returns
// ErrAlreadySyncing immediately (spec.md §5).
func (c *Coordinator) Sync(ctx context.Context) (*Result, error) {
	if !c.syncing.CompareAndSwap(false, true) {
		return nil, ErrAlreadySyncing
	}
	defer c.syncing.Store(false)

	blocked, err := c.entities.HasUnresolvedDuplicates(ctx)
	if err != nil {
		return nil, err
	}
	if blocked {
		return nil, ErrDuplicatesBlockSync
	}

	result := &Result{}

	if err := c.push(ctx, result); err != nil {
		return result, err
	}
	if err := c.pull(ctx, result); err != nil {
		return result, err
	}
	return result, nil
}

// push is Phase 1 (spec.md §4.6): read local events page by page, POST
// them, advance lastLocalSync per successful page, and mark pushed events
// REMOTE. A page counts as accepted once its PushEvents call succeeds; the
// accepted-guid list in the response is not inspected, and every event of
// the page is marked. A failed page leaves the cursor at the previous
// boundary.
func (c *Coordinator) push(ctx context.Context, result *Result) error {
	cursor, _, err := c.events.GetSyncCursor(ctx, eventlog.CursorLastLocalSync)
	if err != nil {
		return err
	}

	for {
		if err := c.waitForPageSlot(ctx); err != nil {
			return err
		}

		page, err := c.events.GetEventsSincePagination(ctx, cursor, c.cfg.PageSize)
		if err != nil {
			return err
		}
		if len(page.Events) == 0 {
			break
		}

		token, err := c.token(ctx)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrAuthRequired, err)
		}

		wireEvents := make([]*WireEvent, len(page.Events))
		for i, e := range page.Events {
			wireEvents[i] = toWireEvent(e)
		}

		_, err = c.withRetry(ctx, func() (any, error) {
			return c.client.PushEvents(ctx, token, wireEvents)
		})
		if err != nil {
			return fmt.Errorf("%w: %v", ErrPushFailed, err)
		}

		if err := c.events.UpdateSyncLevelFromEvents(ctx, page.Events, eventlog.SyncLevelRemote); err != nil {
			return err
		}

		cursor = page.Events[len(page.Events)-1].Timestamp
		if err := c.events.SetSyncCursor(ctx, eventlog.CursorLastLocalSync, cursor); err != nil {
			return err
		}
		result.PushedEvents += len(page.Events)
		result.LastLocalSync = cursor

		if page.NextCursor == nil {
			break
		}
	}

	return c.pushAuditLogs(ctx, cursor)
}

func (c *Coordinator) pushAuditLogs(ctx context.Context, since time.Time) error {
	entries, err := c.events.GetAuditLogsSince(ctx, since.Add(-24*time.Hour))
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		return nil
	}
	token, err := c.token(ctx)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrAuthRequired, err)
	}
	wire := make([]*WireAuditEntry, len(entries))
	for i, e := range entries {
		wire[i] = toWireAuditEntry(e)
	}
	_, err = c.withRetry(ctx, func() (any, error) {
		return nil, c.client.PushAuditLogs(ctx, token, wire)
	})
	return err
}

// pull is Phase 2 (spec.md §4.6): request events after lastRemoteSync,
// skip ones already present (idempotence), apply the rest, and advance
// the cursor only after the whole page is durably applied.
func (c *Coordinator) pull(ctx context.Context, result *Result) error {
	cursor, _, err := c.events.GetSyncCursor(ctx, eventlog.CursorLastRemoteSync)
	if err != nil {
		return err
	}

	for {
		if err := c.waitForPageSlot(ctx); err != nil {
			return err
		}

		token, err := c.token(ctx)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrAuthRequired, err)
		}

		pageAny, err := c.withRetry(ctx, func() (any, error) {
			return c.client.PullEvents(ctx, token, cursor, c.cfg.PageSize)
		})
		if err != nil {
			return fmt.Errorf("%w: %v", ErrNetworkError, err)
		}
		page := pageAny.(*WirePage)
		if len(page.Events) == 0 {
			break
		}

		maxTS := cursor
		for _, we := range page.Events {
			exists, err := c.events.EventExists(ctx, we.GUID)
			if err != nil {
				return err
			}
			if exists {
				continue
			}

			event := fromWireEvent(we)
			event.SyncLevel = eventlog.SyncLevelRemote
			if _, err := c.applier.SubmitForm(ctx, event); err != nil {
				return err
			}
			if event.Timestamp.After(maxTS) {
				maxTS = event.Timestamp
			}
		}

		cursor = maxTS
		if err := c.events.SetSyncCursor(ctx, eventlog.CursorLastRemoteSync, cursor); err != nil {
			return err
		}
		result.PulledEvents += len(page.Events)
		result.LastRemoteSync = cursor

		if err := c.pullAuditLogs(ctx, token, cursor); err != nil {
			return err
		}

		if page.NextCursor == nil {
			break
		}
	}

	return nil
}

func (c *Coordinator) pullAuditLogs(ctx context.Context, token string, cursor time.Time) error {
	entries, err := c.client.PullAuditLogs(ctx, token, cursor.Add(-24*time.Hour))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrNetworkError, err)
	}
	if len(entries) == 0 {
		return nil
	}
	converted := make([]*eventlog.AuditLogEntry, len(entries))
	for i, e := range entries {
		converted[i] = fromWireAuditEntry(e)
	}
	return c.events.SaveAuditLogs(ctx, converted)
}

// withRetry retries fn up to cfg.RetryLimit times with exponential
// backoff, each attempt guarded by the circuit breaker (spec.md §4.6:
// "retry a failed page up to N times with exponential backoff; beyond N,
// abort phase").
func (c *Coordinator) withRetry(ctx context.Context, fn func() (any, error)) (any, error) {
	backoff := c.cfg.BaseBackoff
	var lastErr error
	for attempt := 0; attempt <= c.cfg.RetryLimit; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ErrCancelled
			case <-time.After(backoff):
			}
			backoff *= 2
		}

		result, err := c.breaker.Execute(fn)
		if err == nil {
			return result, nil
		}
		lastErr = err
		c.logger().WithField("attempt", attempt+1).WithError(err).Warn("sync request failed, retrying")
	}
	return nil, lastErr
}

func toWireEvent(e *eventlog.Event) *WireEvent {
	return &WireEvent{
		GUID: e.GUID, EntityGUID: e.EntityGUID, Type: e.Type, Data: e.Data,
		Timestamp: e.Timestamp, UserID: e.UserID, SyncLevel: int(e.SyncLevel),
	}
}

func fromWireEvent(w *WireEvent) *eventlog.Event {
	return &eventlog.Event{
		GUID: w.GUID, EntityGUID: w.EntityGUID, Type: w.Type, Data: w.Data,
		Timestamp: w.Timestamp, UserID: w.UserID, SyncLevel: eventlog.SyncLevel(w.SyncLevel),
	}
}

func toWireAuditEntry(e *eventlog.AuditLogEntry) *WireAuditEntry {
	return &WireAuditEntry{
		GUID: e.GUID, Timestamp: e.Timestamp, UserID: e.UserID, Action: e.Action,
		EventGUID: e.EventGUID, EntityGUID: e.EntityGUID, Changes: e.Changes,
		Signature: e.Signature, SyncLevel: int(e.SyncLevel),
	}
}

func fromWireAuditEntry(w *WireAuditEntry) *eventlog.AuditLogEntry {
	return &eventlog.AuditLogEntry{
		GUID: w.GUID, Timestamp: w.Timestamp, UserID: w.UserID, Action: w.Action,
		EventGUID: w.EventGUID, EntityGUID: w.EntityGUID, Changes: w.Changes,
		Signature: w.Signature, SyncLevel: eventlog.SyncLevel(w.SyncLevel),
	}
}
