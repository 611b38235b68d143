package handler

import (
	"context"
	"net/http"
	"time"
)

// Pinger checks a backing dependency; *pgxpool.Pool satisfies it.
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthHandler serves the liveness check. With a Pinger it also reports
// the durable store, answering 503 while it is unreachable.
type HealthHandler struct {
	store   Pinger
	started time.Time
}

func NewHealthHandler(store Pinger) *HealthHandler {
	return &HealthHandler{store: store, started: time.Now()}
}

// Health handles GET /health
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	body := map[string]string{
		"status": "ok",
		"uptime": time.Since(h.started).Round(time.Second).String(),
	}
	if h.store == nil {
		respondJSON(w, http.StatusOK, body)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := h.store.Ping(ctx); err != nil {
		body["status"] = "degraded"
		body["store"] = "unreachable"
		write(w, http.StatusServiceUnavailable, envelope{Data: body})
		return
	}
	body["store"] = "ok"
	respondJSON(w, http.StatusOK, body)
}
