package handler

import (
	"net/http"
	"time"

	"github.com/mindcare-platform/chat-relay/internal/nats"
	"github.com/mindcare-platform/chat-relay/internal/store"
)

// HealthHandler serves liveness and readiness probes.
type HealthHandler struct {
	store     *store.Client
	nats      *nats.Client
	startTime time.Time
}

// NewHealthHandler creates a health handler. The NATS client may be nil when
// cross-instance fanout is not configured.
func NewHealthHandler(st *store.Client, nc *nats.Client) *HealthHandler {
	return &HealthHandler{
		store:     st,
		nats:      nc,
		startTime: time.Now(),
	}
}

// Health reports process liveness.
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"service":   "chat-relay",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"uptime":    time.Since(h.startTime).String(),
	})
}

// Ready reports whether the relay's dependencies are reachable.
func (h *HealthHandler) Ready(w http.ResponseWriter, r *http.Request) {
	checks := map[string]string{}
	ready := true

	if err := h.store.Health(r.Context()); err != nil {
		checks["store"] = "unavailable"
		ready = false
	} else {
		checks["store"] = "ok"
	}

	if h.nats != nil {
		if h.nats.IsConnected() {
			checks["nats"] = "ok"
		} else {
			checks["nats"] = "disconnected"
			ready = false
		}
	}

	status := http.StatusOK
	state := "ready"
	if !ready {
		status = http.StatusServiceUnavailable
		state = "not_ready"
	}
	writeJSON(w, status, map[string]any{
		"status": state,
		"checks": checks,
	})
}
