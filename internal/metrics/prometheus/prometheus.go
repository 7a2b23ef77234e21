// Package prometheus implements metrics.Metrics with Prometheus collectors.
package prometheus

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/roach88/chronicle/internal/metrics"
)

// Default histogram buckets for latency metrics (in seconds).
var defaultBuckets = []float64{
	.001, .0025, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10,
}

// timer wraps a Prometheus observer to implement metrics.Timer.
type timer struct {
	h     prometheus.Observer
	start time.Time
}

func newTimer(h prometheus.Observer) metrics.Timer {
	return &timer{h: h, start: time.Now()}
}

func (t *timer) ObserveDuration() {
	t.h.Observe(time.Since(t.start).Seconds())
}

type promMetrics struct {
	eventInsertDuration *prometheus.HistogramVec
	eventsInserted      *prometheus.CounterVec
	duplicateEvents     *prometheus.CounterVec
	eventQueryDuration  *prometheus.HistogramVec

	entityWriteDuration  *prometheus.HistogramVec
	concurrencyConflicts *prometheus.CounterVec
	entitiesMigrated     *prometheus.CounterVec

	snapshotTakeDuration    prometheus.Histogram
	snapshotRestoreDuration prometheus.Histogram
	snapshotsPruned         prometheus.Counter

	replayDuration *prometheus.HistogramVec
	eventsReplayed *prometheus.CounterVec

	gatewayCache     *prometheus.CounterVec
	gatewayLiveCalls *prometheus.CounterVec
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) metrics.Metrics {
	m := &promMetrics{
		eventInsertDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "chronicle_event_insert_duration_seconds",
			Help:    "Event insert latency in seconds",
			Buckets: defaultBuckets,
		}, []string{"entity_type"}),

		eventsInserted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chronicle_events_inserted_total",
			Help: "Total number of events appended to the log",
		}, []string{"entity_type"}),

		duplicateEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chronicle_events_duplicate_total",
			Help: "Total number of ignored duplicate event inserts",
		}, []string{"entity_type"}),

		eventQueryDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "chronicle_event_query_duration_seconds",
			Help:    "Event retrieval latency in seconds",
			Buckets: defaultBuckets,
		}, []string{"query"}),

		entityWriteDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "chronicle_entity_write_duration_seconds",
			Help:    "Entity store write latency in seconds",
			Buckets: defaultBuckets,
		}, []string{"entity_type", "op"}),

		concurrencyConflicts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chronicle_concurrency_conflicts_total",
			Help: "Total number of optimistic concurrency violations",
		}, []string{"entity_type"}),

		entitiesMigrated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chronicle_entities_migrated_total",
			Help: "Total number of documents rewritten at the current schema version",
		}, []string{"entity_type"}),

		snapshotTakeDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "chronicle_snapshot_take_duration_seconds",
			Help:    "Snapshot creation latency in seconds",
			Buckets: defaultBuckets,
		}),

		snapshotRestoreDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "chronicle_snapshot_restore_duration_seconds",
			Help:    "Snapshot restore latency in seconds",
			Buckets: defaultBuckets,
		}),

		snapshotsPruned: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "chronicle_snapshots_pruned_total",
			Help: "Total number of snapshots removed by retention",
		}),

		replayDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "chronicle_replay_duration_seconds",
			Help:    "Replay run latency in seconds",
			Buckets: defaultBuckets,
		}, []string{"mode"}),

		eventsReplayed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chronicle_events_replayed_total",
			Help: "Total number of events fed through replay",
		}, []string{"mode"}),

		gatewayCache: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chronicle_gateway_cache_lookups_total",
			Help: "API response cache lookups by result",
		}, []string{"result"}),

		gatewayLiveCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chronicle_gateway_live_calls_total",
			Help: "Live outbound API calls by outcome",
		}, []string{"success"}),
	}

	reg.MustRegister(
		m.eventInsertDuration,
		m.eventsInserted,
		m.duplicateEvents,
		m.eventQueryDuration,
		m.entityWriteDuration,
		m.concurrencyConflicts,
		m.entitiesMigrated,
		m.snapshotTakeDuration,
		m.snapshotRestoreDuration,
		m.snapshotsPruned,
		m.replayDuration,
		m.eventsReplayed,
		m.gatewayCache,
		m.gatewayLiveCalls,
	)

	return m
}

func (m *promMetrics) EventInsertDuration(entityType string) metrics.Timer {
	return newTimer(m.eventInsertDuration.WithLabelValues(entityType))
}

func (m *promMetrics) EventsInserted(entityType string, count int) {
	m.eventsInserted.WithLabelValues(entityType).Add(float64(count))
}

func (m *promMetrics) DuplicateEvent(entityType string) {
	m.duplicateEvents.WithLabelValues(entityType).Inc()
}

func (m *promMetrics) EventQueryDuration(query string) metrics.Timer {
	return newTimer(m.eventQueryDuration.WithLabelValues(query))
}

func (m *promMetrics) EntityWriteDuration(entityType, op string) metrics.Timer {
	return newTimer(m.entityWriteDuration.WithLabelValues(entityType, op))
}

func (m *promMetrics) ConcurrencyConflict(entityType string) {
	m.concurrencyConflicts.WithLabelValues(entityType).Inc()
}

func (m *promMetrics) EntitiesMigrated(entityType string, count int) {
	m.entitiesMigrated.WithLabelValues(entityType).Add(float64(count))
}

func (m *promMetrics) SnapshotTakeDuration() metrics.Timer {
	return newTimer(m.snapshotTakeDuration)
}

func (m *promMetrics) SnapshotRestoreDuration() metrics.Timer {
	return newTimer(m.snapshotRestoreDuration)
}

func (m *promMetrics) SnapshotsPruned(count int) {
	m.snapshotsPruned.Add(float64(count))
}

func (m *promMetrics) ReplayDuration(mode string) metrics.Timer {
	return newTimer(m.replayDuration.WithLabelValues(mode))
}

func (m *promMetrics) EventsReplayed(mode string, count int) {
	m.eventsReplayed.WithLabelValues(mode).Add(float64(count))
}

func (m *promMetrics) GatewayCacheHit() {
	m.gatewayCache.WithLabelValues("hit").Inc()
}

func (m *promMetrics) GatewayCacheMiss() {
	m.gatewayCache.WithLabelValues("miss").Inc()
}

func (m *promMetrics) GatewayLiveCall(success bool) {
	m.gatewayLiveCalls.WithLabelValues(strconv.FormatBool(success)).Inc()
}

var _ metrics.Metrics = (*promMetrics)(nil)
