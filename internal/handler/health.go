package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/zapcrm/zapcrm/internal/worker"
)

// Pinger reports whether a dependency is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// WorkerStats reports the state of the job pool.
type WorkerStats interface {
	Stats() worker.Stats
}

// HealthHandler handles health check endpoints.
type HealthHandler struct {
	nats    Pinger
	db      Pinger
	workers WorkerStats
}

// NewHealthHandler creates a new health handler.
func NewHealthHandler(nats, db Pinger) *HealthHandler {
	return &HealthHandler{nats: nats, db: db}
}

// WithWorkers adds the job pool counters to the readiness report.
func (h *HealthHandler) WithWorkers(w WorkerStats) *HealthHandler {
	h.workers = w
	return h
}

// Health handles GET /health
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status": "healthy",
	})
}

// Ready handles GET /ready
func (h *HealthHandler) Ready(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := h.nats.Ping(ctx); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status": "not ready",
			"reason": "NATS not connected",
		})
		return
	}
	if err := h.db.Ping(ctx); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status": "not ready",
			"reason": "database unavailable",
		})
		return
	}

	resp := map[string]any{"status": "ready"}
	if h.workers != nil {
		resp["workers"] = h.workers.Stats()
	}
	writeJSON(w, http.StatusOK, resp)
}
