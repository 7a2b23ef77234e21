package prometheus

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)
	require.NotNil(t, m)

	timer := m.EventInsertDuration("Customer")
	assert.NotNil(t, timer)
	timer.ObserveDuration()

	m.EventsInserted("Customer", 3)
	m.DuplicateEvent("Customer")
	m.EventQueryDuration("all").ObserveDuration()
	m.EntityWriteDuration("Customer", "update").ObserveDuration()
	m.ConcurrencyConflict("Customer")
	m.EntitiesMigrated("Customer", 2)
	m.SnapshotTakeDuration().ObserveDuration()
	m.SnapshotRestoreDuration().ObserveDuration()
	m.SnapshotsPruned(4)
	m.ReplayDuration("strict").ObserveDuration()
	m.EventsReplayed("strict", 7)
	m.GatewayCacheHit()
	m.GatewayCacheMiss()
	m.GatewayCacheMiss()
	m.GatewayLiveCall(true)

	families, err := reg.Gather()
	require.NoError(t, err)
	assert.NotEmpty(t, families)
}

func TestCounterValues(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg).(*promMetrics)

	m.EventsInserted("Customer", 3)
	m.EventsInserted("Customer", 2)
	m.ConcurrencyConflict("Customer")
	m.SnapshotsPruned(4)
	m.GatewayCacheMiss()
	m.GatewayCacheMiss()
	m.GatewayLiveCall(false)

	assert.Equal(t, float64(5), testutil.ToFloat64(m.eventsInserted.WithLabelValues("Customer")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.concurrencyConflicts.WithLabelValues("Customer")))
	assert.Equal(t, float64(4), testutil.ToFloat64(m.snapshotsPruned))
	assert.Equal(t, float64(2), testutil.ToFloat64(m.gatewayCache.WithLabelValues("miss")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.gatewayLiveCalls.WithLabelValues("false")))
}

func TestDoubleRegistrationPanics(t *testing.T) {
	reg := prometheus.NewRegistry()
	New(reg)
	assert.Panics(t, func() { New(reg) })
}
