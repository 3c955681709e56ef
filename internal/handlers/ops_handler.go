package handlers

import (
	"errors"
	"net/http"

	"github.com/gorilla/mux"

	"knowledge-ingest/internal/services"
	"knowledge-ingest/internal/workers"
)

// OpsHandler exposes worker statistics and manual cleanup triggers
type OpsHandler struct {
	pool    *workers.WorkerPool
	cleanup *services.CleanupService
	log     Logger
}

// NewOpsHandler creates a new ops handler
func NewOpsHandler(pool *workers.WorkerPool, cleanup *services.CleanupService, log Logger) *OpsHandler {
	return &OpsHandler{
		pool:    pool,
		cleanup: cleanup,
		log:     log,
	}
}

// WorkerStats returns statistics for every worker in the pool
func (h *OpsHandler) WorkerStats(w http.ResponseWriter, r *http.Request) {
	stats := h.pool.GetAllStats()
	sendJSON(w, h.log, http.StatusOK, map[string]interface{}{
		"workers": stats,
		"count":   len(stats),
	})
}

// CleanupResponse reports one manual scan's effect
type CleanupResponse struct {
	Scan     string `json:"scan"`
	Affected int    `json:"affected"`
}

// RunCleanup triggers one cleanup scan by name. The force query
// parameter overrides the pressure check on the heartbeat and timeout
// scans.
func (h *OpsHandler) RunCleanup(w http.ResponseWriter, r *http.Request) {
	scan := mux.Vars(r)["scan"]
	force := getBoolQueryParam(r, "force", false)

	var affected int
	var err error
	switch scan {
	case "heartbeat":
		affected, err = h.cleanup.RunHeartbeatScan(r.Context(), force)
	case "timeout":
		affected, err = h.cleanup.RunTimeoutScan(r.Context(), force)
	case "orphans":
		affected, err = h.cleanup.RunOrphanScan(r.Context())
	case "jobs":
		affected, err = h.cleanup.RunJobScan(r.Context())
	default:
		sendError(w, h.log, http.StatusBadRequest, "unknown cleanup scan: "+scan)
		return
	}

	if errors.Is(err, services.ErrUnsafeCleanup) {
		sendError(w, h.log, http.StatusConflict, err.Error())
		return
	}
	if err != nil {
		h.log.Error("manual %s scan failed: %v", scan, err)
		sendServiceError(w, h.log, err)
		return
	}

	h.log.Info("manual %s scan affected %d", scan, affected)
	sendJSON(w, h.log, http.StatusOK, CleanupResponse{Scan: scan, Affected: affected})
}
