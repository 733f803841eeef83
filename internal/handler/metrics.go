package handler

import (
	"fmt"
	"net/http"

	"github.com/taskdeck/taskdeck/internal/metrics"
)

// MetricsHandler exposes in-memory metrics.
type MetricsHandler struct {
	snapshotter metrics.Snapshotter
}

// NewMetricsHandler creates a new MetricsHandler.
func NewMetricsHandler(snapshotter metrics.Snapshotter) *MetricsHandler {
	return &MetricsHandler{snapshotter: snapshotter}
}

// Metrics returns metrics in Prometheus exposition format.
func (h *MetricsHandler) Metrics(w http.ResponseWriter, r *http.Request) {
	if h.snapshotter == nil {
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}

	snap := h.snapshotter.Snapshot()

	w.Header().Set("Content-Type", "text/plain; version=0.0.4")

	writeMetric(w, "taskdeck_logins_total{result=\"success\"} %d\n", snap.LoginSuccesses)
	writeMetric(w, "taskdeck_logins_total{result=\"failure\"} %d\n", snap.LoginFailures)
	writeMetric(w, "taskdeck_tokens_refreshed_total %d\n", snap.TokensRefreshed)
	writeMetric(w, "taskdeck_refresh_replays_total %d\n", snap.RefreshReplays)
	writeMetric(w, "taskdeck_tokens_revoked_total %d\n", snap.TokensRevoked)

	writeMetric(w, "taskdeck_tasks_created_total %d\n", snap.TasksCreated)
	writeMetric(w, "taskdeck_tasks_updated_total %d\n", snap.TasksUpdated)
	writeMetric(w, "taskdeck_tasks_deleted_total %d\n", snap.TasksDeleted)

	writeMetric(w, "taskdeck_audit_events_published_total{status=\"success\"} %d\n", snap.AuditEventsPublished)
	writeMetric(w, "taskdeck_audit_events_published_total{status=\"dropped\"} %d\n", snap.AuditEventsDropped)

	writeMetric(w, "taskdeck_audit_events_processed_total{status=\"success\"} %d\n", snap.AuditEventsProcessed)
	writeMetric(w, "taskdeck_audit_events_processed_total{status=\"failed\"} %d\n", snap.AuditEventsFailed)
	writeMetric(w, "taskdeck_audit_events_processed_total{status=\"dead_letter\"} %d\n", snap.AuditEventsDeadLettered)

	writeMetric(w, "taskdeck_audit_batches_total %d\n", snap.AuditBatchCount)
	writeMetric(w, "taskdeck_audit_queue_depth %d\n", snap.AuditQueueDepth)
	writeMetric(w, "taskdeck_audit_batch_duration_seconds_count %d\n", snap.AuditBatchDurationCount)
	writeMetric(w, "taskdeck_audit_batch_duration_seconds_sum %.6f\n", float64(snap.AuditBatchDurationTotalNs)/1e9)
}

func writeMetric(w http.ResponseWriter, format string, args ...any) {
	_, _ = fmt.Fprintf(w, format, args...)
}
