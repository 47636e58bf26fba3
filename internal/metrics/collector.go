// Package metrics exposes Prometheus counters and gauges for the event,
// apply, and sync subsystems, adapted from the teacher's object-storage
// collector: the same Collector/registration shape, counting submitted
// events and synced entities instead of buckets and objects.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Collector holds the Prometheus instruments for one tenant-scoped
// process. Unlike the teacher's collector, which polls host CPU/disk via
// gopsutil on a timer, every metric here is pushed by the component that
// observed the event — there is no background sampling loop.
type Collector struct {
	EventsSubmitted   *prometheus.CounterVec
	EventsApplied     *prometheus.CounterVec
	DuplicatesBlocked prometheus.Counter
	EntitiesTracked   prometheus.Gauge

	SyncRuns     *prometheus.CounterVec
	SyncFailures *prometheus.CounterVec
	SyncDuration *prometheus.HistogramVec
	SyncedPages  *prometheus.CounterVec

	MerkleRootRebuilds prometheus.Counter
	AuditVerifications *prometheus.CounterVec
}

// NewCollector builds a Collector and registers its instruments with reg.
// Pass prometheus.NewRegistry() in tests to avoid collisions with the
// global default registry across parallel test binaries.
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		EventsSubmitted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "datacollect",
			Name:      "events_submitted_total",
			Help:      "Events submitted to the event log, by event type.",
		}, []string{"event_type"}),
		EventsApplied: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "datacollect",
			Name:      "events_applied_total",
			Help:      "Events successfully applied to entity state, by event type.",
		}, []string{"event_type"}),
		DuplicatesBlocked: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "datacollect",
			Name:      "duplicates_blocked_total",
			Help:      "Form submissions rejected by duplicate detection.",
		}),
		EntitiesTracked: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "datacollect",
			Name:      "entities_tracked",
			Help:      "Current count of distinct entities in the projection.",
		}),
		SyncRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "datacollect",
			Name:      "sync_runs_total",
			Help:      "Completed sync runs, by coordinator (internal/external) and outcome.",
		}, []string{"coordinator", "outcome"}),
		SyncFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "datacollect",
			Name:      "sync_failures_total",
			Help:      "Sync failures, by coordinator and error class.",
		}, []string{"coordinator", "error_class"}),
		SyncDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "datacollect",
			Name:      "sync_duration_seconds",
			Help:      "Sync run duration, by coordinator.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"coordinator"}),
		SyncedPages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "datacollect",
			Name:      "sync_pages_total",
			Help:      "Pages transferred during sync, by coordinator and direction (push/pull).",
		}, []string{"coordinator", "direction"}),
		MerkleRootRebuilds: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "datacollect",
			Name:      "merkle_root_rebuilds_total",
			Help:      "Merkle root recomputations.",
		}),
		AuditVerifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "datacollect",
			Name:      "audit_verifications_total",
			Help:      "Audit trail verification attempts, by outcome (valid/invalid).",
		}, []string{"outcome"}),
	}

	reg.MustRegister(
		c.EventsSubmitted, c.EventsApplied, c.DuplicatesBlocked, c.EntitiesTracked,
		c.SyncRuns, c.SyncFailures, c.SyncDuration, c.SyncedPages,
		c.MerkleRootRebuilds, c.AuditVerifications,
	)
	return c
}

// RecordSync observes a completed sync run's outcome and duration.
func (c *Collector) RecordSync(coordinator, outcome string, seconds float64) {
	c.SyncRuns.WithLabelValues(coordinator, outcome).Inc()
	c.SyncDuration.WithLabelValues(coordinator).Observe(seconds)
}

// RecordSyncFailure records a failed sync run by error class (e.g.
// "network", "auth", "timeout" — mirroring the sentinel errors in
// internal/syncinternal and internal/syncexternal).
func (c *Collector) RecordSyncFailure(coordinator, errorClass string) {
	c.SyncFailures.WithLabelValues(coordinator, errorClass).Inc()
}
