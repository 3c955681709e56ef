package routes

import (
	"net/http"

	"github.com/gorilla/mux"

	"knowledge-ingest/internal/handlers"
)

// Handlers groups the handler instances the router wires up
type Handlers struct {
	Ingest  *handlers.IngestHandler
	Session *handlers.SessionHandler
	Stream  *handlers.StreamHandler
	Search  *handlers.SearchHandler
	Health  *handlers.HealthHandler
	Ops     *handlers.OpsHandler
}

// RegisterRoutes configures all application routes
func RegisterRoutes(router *mux.Router, h *Handlers) {
	router.HandleFunc("/health", h.Health.Health).Methods(http.MethodGet)

	api := router.PathPrefix("/api/v1").Subrouter()

	// Ingestion
	api.HandleFunc("/ingest/url", h.Ingest.IngestURL).Methods(http.MethodPost)
	api.HandleFunc("/ingest/batch", h.Ingest.IngestBatch).Methods(http.MethodPost)
	api.HandleFunc("/ingest/file", h.Ingest.UploadFile).Methods(http.MethodPost)

	// Jobs
	api.HandleFunc("/jobs", h.Ingest.ListJobs).Methods(http.MethodGet)
	api.HandleFunc("/jobs/stats", h.Ingest.QueueStats).Methods(http.MethodGet)
	api.HandleFunc("/jobs/{id}", h.Ingest.GetJob).Methods(http.MethodGet)
	api.HandleFunc("/jobs/{id}/cancel", h.Ingest.CancelJob).Methods(http.MethodPost)

	// Sessions
	api.HandleFunc("/sessions/{id}", h.Session.GetSession).Methods(http.MethodGet)
	api.HandleFunc("/sessions/{id}/chunks", h.Session.ListSessionChunks).Methods(http.MethodGet)

	// Event stream
	api.HandleFunc("/stream", h.Stream.Stream).Methods(http.MethodGet)

	// Search
	api.HandleFunc("/search", h.Search.Search).Methods(http.MethodPost)

	// Operations
	api.HandleFunc("/workers/stats", h.Ops.WorkerStats).Methods(http.MethodGet)
	api.HandleFunc("/admin/cleanup/{scan}", h.Ops.RunCleanup).Methods(http.MethodPost)
}
