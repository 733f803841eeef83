package metrics

import (
	"sync/atomic"
	"time"
)

// Snapshot captures current in-memory counters.
type Snapshot struct {
	LoginSuccesses  uint64
	LoginFailures   uint64
	TokensRefreshed uint64
	RefreshReplays  uint64
	TokensRevoked   uint64
	TasksCreated    uint64
	TasksUpdated    uint64
	TasksDeleted    uint64

	AuditEventsPublished      uint64
	AuditEventsDropped        uint64
	AuditEventsProcessed      uint64
	AuditEventsFailed         uint64
	AuditEventsDeadLettered   uint64
	AuditBatchCount           uint64
	AuditBatchDurationCount   uint64
	AuditBatchDurationTotalNs uint64
	AuditQueueDepth           int64
}

// InMemoryRecorder stores counters in process memory for the /metrics
// endpoint and for tests.
type InMemoryRecorder struct {
	loginSuccesses  uint64
	loginFailures   uint64
	tokensRefreshed uint64
	refreshReplays  uint64
	tokensRevoked   uint64
	tasksCreated    uint64
	tasksUpdated    uint64
	tasksDeleted    uint64

	auditPublished        uint64
	auditDropped          uint64
	auditProcessed        uint64
	auditFailed           uint64
	auditDeadLettered     uint64
	auditBatches          uint64
	auditBatchDurations   uint64
	auditBatchDurationsNs uint64
	auditQueueDepth       int64
}

// NewInMemory returns a Recorder that stores counters in memory.
func NewInMemory() *InMemoryRecorder {
	return &InMemoryRecorder{}
}

// Snapshot returns a copy of the counters.
func (m *InMemoryRecorder) Snapshot() Snapshot {
	return Snapshot{
		LoginSuccesses:  atomic.LoadUint64(&m.loginSuccesses),
		LoginFailures:   atomic.LoadUint64(&m.loginFailures),
		TokensRefreshed: atomic.LoadUint64(&m.tokensRefreshed),
		RefreshReplays:  atomic.LoadUint64(&m.refreshReplays),
		TokensRevoked:   atomic.LoadUint64(&m.tokensRevoked),
		TasksCreated:    atomic.LoadUint64(&m.tasksCreated),
		TasksUpdated:    atomic.LoadUint64(&m.tasksUpdated),
		TasksDeleted:    atomic.LoadUint64(&m.tasksDeleted),

		AuditEventsPublished:      atomic.LoadUint64(&m.auditPublished),
		AuditEventsDropped:        atomic.LoadUint64(&m.auditDropped),
		AuditEventsProcessed:      atomic.LoadUint64(&m.auditProcessed),
		AuditEventsFailed:         atomic.LoadUint64(&m.auditFailed),
		AuditEventsDeadLettered:   atomic.LoadUint64(&m.auditDeadLettered),
		AuditBatchCount:           atomic.LoadUint64(&m.auditBatches),
		AuditBatchDurationCount:   atomic.LoadUint64(&m.auditBatchDurations),
		AuditBatchDurationTotalNs: atomic.LoadUint64(&m.auditBatchDurationsNs),
		AuditQueueDepth:           atomic.LoadInt64(&m.auditQueueDepth),
	}
}

// IncLoginSuccess increments the login success counter.
func (m *InMemoryRecorder) IncLoginSuccess() {
	atomic.AddUint64(&m.loginSuccesses, 1)
}

// IncLoginFailure increments the login failure counter.
func (m *InMemoryRecorder) IncLoginFailure() {
	atomic.AddUint64(&m.loginFailures, 1)
}

// IncTokenRefreshed increments the refresh counter.
func (m *InMemoryRecorder) IncTokenRefreshed() {
	atomic.AddUint64(&m.tokensRefreshed, 1)
}

// IncRefreshReplay increments the replay counter.
func (m *InMemoryRecorder) IncRefreshReplay() {
	atomic.AddUint64(&m.refreshReplays, 1)
}

// IncTokenRevoked increments the revocation counter.
func (m *InMemoryRecorder) IncTokenRevoked() {
	atomic.AddUint64(&m.tokensRevoked, 1)
}

// IncTaskCreated increments the task created counter.
func (m *InMemoryRecorder) IncTaskCreated() {
	atomic.AddUint64(&m.tasksCreated, 1)
}

// IncTaskUpdated increments the task updated counter.
func (m *InMemoryRecorder) IncTaskUpdated() {
	atomic.AddUint64(&m.tasksUpdated, 1)
}

// IncTaskDeleted increments the task deleted counter.
func (m *InMemoryRecorder) IncTaskDeleted() {
	atomic.AddUint64(&m.tasksDeleted, 1)
}

// IncAuditEventPublished increments the publish counter for the status.
func (m *InMemoryRecorder) IncAuditEventPublished(status string) {
	if status == "dropped" {
		atomic.AddUint64(&m.auditDropped, 1)
		return
	}
	atomic.AddUint64(&m.auditPublished, 1)
}

// IncAuditEventProcessed increments the processing counter for the status.
func (m *InMemoryRecorder) IncAuditEventProcessed(status string) {
	switch status {
	case "failed":
		atomic.AddUint64(&m.auditFailed, 1)
	case "dead_letter":
		atomic.AddUint64(&m.auditDeadLettered, 1)
	default:
		atomic.AddUint64(&m.auditProcessed, 1)
	}
}

// ObserveAuditBatchSize counts one drained batch.
func (m *InMemoryRecorder) ObserveAuditBatchSize(size int) {
	atomic.AddUint64(&m.auditBatches, 1)
}

// ObserveAuditBatchDuration accumulates batch insert latency.
func (m *InMemoryRecorder) ObserveAuditBatchDuration(duration time.Duration) {
	atomic.AddUint64(&m.auditBatchDurations, 1)
	atomic.AddUint64(&m.auditBatchDurationsNs, uint64(duration.Nanoseconds()))
}

// SetAuditQueueDepth records the last observed stream length.
func (m *InMemoryRecorder) SetAuditQueueDepth(depth int64) {
	atomic.StoreInt64(&m.auditQueueDepth, depth)
}
