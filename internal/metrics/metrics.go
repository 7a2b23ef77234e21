// Package metrics defines the instrumentation surface of chronicle. Core
// packages depend only on this interface, so a Prometheus (or any other)
// backend can be plugged in without coupling.
package metrics

// Timer measures the duration of an operation. Call ObserveDuration when
// the operation completes.
//
//	defer m.EventInsertDuration("Customer").ObserveDuration()
type Timer interface {
	ObserveDuration()
}

// Metrics is implemented by instrumentation backends. Implementations must
// be safe for concurrent use.
type Metrics interface {
	// Event store
	EventInsertDuration(entityType string) Timer
	EventsInserted(entityType string, count int)
	DuplicateEvent(entityType string)
	EventQueryDuration(query string) Timer

	// Entity store
	EntityWriteDuration(entityType, op string) Timer
	ConcurrencyConflict(entityType string)
	EntitiesMigrated(entityType string, count int)

	// Snapshots
	SnapshotTakeDuration() Timer
	SnapshotRestoreDuration() Timer
	SnapshotsPruned(count int)

	// Replay
	ReplayDuration(mode string) Timer
	EventsReplayed(mode string, count int)

	// API gateway
	GatewayCacheHit()
	GatewayCacheMiss()
	GatewayLiveCall(success bool)
}

type nopTimer struct{}

func (nopTimer) ObserveDuration() {}

// NopTimer returns a no-op Timer.
func NopTimer() Timer { return nopTimer{} }

type nopMetrics struct{}

func (nopMetrics) EventInsertDuration(string) Timer { return nopTimer{} }
func (nopMetrics) EventsInserted(string, int)       {}
func (nopMetrics) DuplicateEvent(string)            {}
func (nopMetrics) EventQueryDuration(string) Timer  { return nopTimer{} }

func (nopMetrics) EntityWriteDuration(string, string) Timer { return nopTimer{} }
func (nopMetrics) ConcurrencyConflict(string)               {}
func (nopMetrics) EntitiesMigrated(string, int)             {}

func (nopMetrics) SnapshotTakeDuration() Timer    { return nopTimer{} }
func (nopMetrics) SnapshotRestoreDuration() Timer { return nopTimer{} }
func (nopMetrics) SnapshotsPruned(int)            {}

func (nopMetrics) ReplayDuration(string) Timer { return nopTimer{} }
func (nopMetrics) EventsReplayed(string, int)  {}

func (nopMetrics) GatewayCacheHit()     {}
func (nopMetrics) GatewayCacheMiss()    {}
func (nopMetrics) GatewayLiveCall(bool) {}

// Nop returns a Metrics implementation that records nothing.
func Nop() Metrics { return nopMetrics{} }
