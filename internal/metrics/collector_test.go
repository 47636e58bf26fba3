package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestNewCollector_RegistersAllInstrumentsWithoutPanicking(t *testing.T) {
	reg := prometheus.NewRegistry()
	require.NotPanics(t, func() {
		NewCollector(reg)
	})
}

func TestCollector_RecordSyncIncrementsRunsAndObservesDuration(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordSync("internal", "success", 0.25)

	require.Equal(t, float64(1), testutil.ToFloat64(c.SyncRuns.WithLabelValues("internal", "success")))
}

func TestCollector_RecordSyncFailureIncrementsByErrorClass(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordSyncFailure("external", "network")
	c.RecordSyncFailure("external", "network")
	c.RecordSyncFailure("external", "auth")

	require.Equal(t, float64(2), testutil.ToFloat64(c.SyncFailures.WithLabelValues("external", "network")))
	require.Equal(t, float64(1), testutil.ToFloat64(c.SyncFailures.WithLabelValues("external", "auth")))
}

func TestCollector_DuplicatesBlockedIsPlainCounter(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.DuplicatesBlocked.Inc()
	c.DuplicatesBlocked.Inc()

	require.Equal(t, float64(2), testutil.ToFloat64(c.DuplicatesBlocked))
}
