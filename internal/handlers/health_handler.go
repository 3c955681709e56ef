package handlers

import (
	"context"
	"net/http"
	"time"
)

// Pinger is the health probe every backing store exposes
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthHandler reports the reachability of the backing stores
type HealthHandler struct {
	checks  map[string]Pinger
	timeout time.Duration
	log     Logger
}

// NewHealthHandler creates a health handler with no checks registered
func NewHealthHandler(log Logger) *HealthHandler {
	return &HealthHandler{
		checks:  make(map[string]Pinger),
		timeout: 2 * time.Second,
		log:     log,
	}
}

// AddCheck registers a named component probe
func (h *HealthHandler) AddCheck(name string, pinger Pinger) {
	h.checks[name] = pinger
}

// HealthResponse is the health endpoint envelope
type HealthResponse struct {
	Status     string            `json:"status"`
	Components map[string]string `json:"components,omitempty"`
}

// Health pings every registered component. Any failing component turns
// the overall status degraded and the response 503.
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	components := make(map[string]string, len(h.checks))
	healthy := true

	for name, pinger := range h.checks {
		ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
		err := pinger.Ping(ctx)
		cancel()
		if err != nil {
			h.log.Warn("health check %s failed: %v", name, err)
			components[name] = err.Error()
			healthy = false
			continue
		}
		components[name] = "ok"
	}

	response := HealthResponse{Status: "ok", Components: components}
	status := http.StatusOK
	if !healthy {
		response.Status = "degraded"
		status = http.StatusServiceUnavailable
	}
	sendJSON(w, h.log, status, response)
}
