package handler

import (
	"context"
	"net/http"

	"github.com/notifyhub/notifyhub/internal/domain"
)

// LaneDepths reports dispatch queue depth; *queue.PriorityQueue satisfies it.
type LaneDepths interface {
	Depths() (high, normal, low int)
}

// QueueCounter reports durable queue items by status; *service.Engine
// satisfies it.
type QueueCounter interface {
	QueueStatusCounts(ctx context.Context) (map[domain.QueueStatus]int, error)
}

// MetricsHandler serves a human-readable JSON snapshot. Raw Prometheus
// metrics are served separately at /metrics.
type MetricsHandler struct {
	lanes    LaneDepths
	items    QueueCounter
	presence Presence
}

func NewMetricsHandler(lanes LaneDepths, items QueueCounter, presence Presence) *MetricsHandler {
	return &MetricsHandler{lanes: lanes, items: items, presence: presence}
}

// GetMetrics handles GET /api/v1/metrics
func (h *MetricsHandler) GetMetrics(w http.ResponseWriter, r *http.Request) {
	counts, err := h.items.QueueStatusCounts(r.Context())
	if err != nil {
		mapError(w, err)
		return
	}
	high, normal, low := h.lanes.Depths()
	conns, users := h.presence.Counts()
	respondJSON(w, http.StatusOK, map[string]any{
		"dispatch_queue": map[string]int{
			"high":   high,
			"normal": normal,
			"low":    low,
			"total":  high + normal + low,
		},
		"delivery_items": counts,
		"realtime": map[string]int{
			"connections":  conns,
			"online_users": users,
		},
	})
}
