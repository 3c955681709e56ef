package handlers

import (
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"knowledge-ingest/internal/models"
	"knowledge-ingest/internal/repositories"
)

// JobCanceller asks the running pipeline to stop a job that a worker has
// already claimed. Implemented by the orchestrator.
type JobCanceller interface {
	CancelJob(jobID string) bool
}

// IngestHandler handles HTTP requests for ingestion jobs
type IngestHandler struct {
	jobs          repositories.JobRepository
	blobs         repositories.BlobRepository
	canceller     JobCanceller
	uploadTTL     time.Duration
	maxUploadSize int64
	log           Logger
}

// NewIngestHandler creates a new ingest handler. uploadTTL <= 0 takes
// the blob store default.
func NewIngestHandler(jobs repositories.JobRepository, blobs repositories.BlobRepository, canceller JobCanceller, uploadTTL time.Duration, log Logger) *IngestHandler {
	return &IngestHandler{
		jobs:          jobs,
		blobs:         blobs,
		canceller:     canceller,
		uploadTTL:     uploadTTL,
		maxUploadSize: 100 << 20,
		log:           log,
	}
}

// IngestURLRequest is the body of a single-URL ingestion request
type IngestURLRequest struct {
	URL      string                   `json:"url"`
	Priority int                      `json:"priority"`
	Options  models.ProcessingOptions `json:"options"`
}

// IngestBatchRequest is the body of a batch ingestion request
type IngestBatchRequest struct {
	URLs     []string                 `json:"urls"`
	Priority int                      `json:"priority"`
	Options  models.ProcessingOptions `json:"options"`
}

// EnqueuedResponse acknowledges an accepted job
type EnqueuedResponse struct {
	JobID     string `json:"job_id"`
	Status    string `json:"status"`
	UploadRef string `json:"upload_ref,omitempty"`
}

// IngestURL enqueues a job for one URL
func (h *IngestHandler) IngestURL(w http.ResponseWriter, r *http.Request) {
	var req IngestURLRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		sendError(w, h.log, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := validateURL(req.URL); err != nil {
		sendError(w, h.log, http.StatusBadRequest, err.Error())
		return
	}

	req.Options.Clamp()
	h.enqueue(w, r, &models.IngestPayload{
		JobType: models.JobTypeURLProcessing,
		URL:     req.URL,
		Options: req.Options,
	}, req.Priority)
}

// IngestBatch enqueues one job covering multiple URLs
func (h *IngestHandler) IngestBatch(w http.ResponseWriter, r *http.Request) {
	var req IngestBatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		sendError(w, h.log, http.StatusBadRequest, "invalid request body")
		return
	}
	if len(req.URLs) == 0 {
		sendError(w, h.log, http.StatusBadRequest, "at least one url is required")
		return
	}
	for _, raw := range req.URLs {
		if err := validateURL(raw); err != nil {
			sendError(w, h.log, http.StatusBadRequest, err.Error())
			return
		}
	}

	// A batch owns one session per URL; a client-supplied session id
	// cannot cover them all.
	req.Options.SessionID = ""
	req.Options.Clamp()
	h.enqueue(w, r, &models.IngestPayload{
		JobType: models.JobTypeBatchProcessing,
		URLs:    req.URLs,
		Options: req.Options,
	}, req.Priority)
}

// UploadFile stages an uploaded file in the blob store and enqueues a
// file-processing job referencing it.
func (h *IngestHandler) UploadFile(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(h.maxUploadSize); err != nil {
		sendError(w, h.log, http.StatusBadRequest, "failed to parse form data")
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		sendError(w, h.log, http.StatusBadRequest, "no file uploaded")
		return
	}
	defer file.Close()

	data, err := io.ReadAll(io.LimitReader(file, h.maxUploadSize+1))
	if err != nil {
		sendError(w, h.log, http.StatusInternalServerError, "failed to read file")
		return
	}
	if int64(len(data)) > h.maxUploadSize {
		sendError(w, h.log, http.StatusRequestEntityTooLarge, "file exceeds the upload size limit")
		return
	}
	if len(data) == 0 {
		sendError(w, h.log, http.StatusBadRequest, "uploaded file is empty")
		return
	}

	options := models.ProcessingOptions{
		ChunkSize:                  getIntFormParam(r, "chunk_size", 0),
		ChunkOverlap:               getIntFormParam(r, "chunk_overlap", 0),
		EnableContextualEmbeddings: getBoolFormParam(r, "enable_contextual_embeddings", false),
		GenerateSummary:            getBoolFormParam(r, "generate_summary", false),
		SessionID:                  r.FormValue("session_id"),
	}
	options.Clamp()

	ref := uuid.NewString()
	upload := &repositories.Upload{
		Ref:      ref,
		Filename: header.Filename,
		MIMEType: header.Header.Get("Content-Type"),
		Data:     data,
	}
	if err := h.blobs.Put(r.Context(), upload, h.uploadTTL); err != nil {
		h.log.Error("failed to stage upload %s: %v", ref, err)
		sendError(w, h.log, http.StatusServiceUnavailable, "upload storage unavailable")
		return
	}

	h.log.Info("staged upload %s (%s, %d bytes)", ref, header.Filename, len(data))
	h.enqueue(w, r, &models.IngestPayload{
		JobType:   models.JobTypeFileProcessing,
		UploadRef: ref,
		Filename:  header.Filename,
		MIMEType:  upload.MIMEType,
		Options:   options,
	}, getIntFormParam(r, "priority", 0))
}

// enqueue builds the job row and writes it to the queue
func (h *IngestHandler) enqueue(w http.ResponseWriter, r *http.Request, payload *models.IngestPayload, priority int) {
	payloadMap, err := encodePayload(payload)
	if err != nil {
		sendError(w, h.log, http.StatusInternalServerError, "failed to encode payload")
		return
	}

	job := &models.Job{
		ID:          uuid.NewString(),
		Type:        payload.JobType,
		Status:      models.JobStatusQueued,
		Priority:    priority,
		Payload:     payloadMap,
		MaxAttempts: models.DefaultMaxAttempts,
	}
	if err := h.jobs.Enqueue(r.Context(), job); err != nil {
		h.log.Error("failed to enqueue %s job: %v", payload.JobType, err)
		sendServiceError(w, h.log, err)
		return
	}

	h.log.Info("enqueued %s job %s", job.Type, job.ID)
	sendJSON(w, h.log, http.StatusAccepted, EnqueuedResponse{
		JobID:     job.ID,
		Status:    string(job.Status),
		UploadRef: payload.UploadRef,
	})
}

// GetJob returns one job by id
func (h *IngestHandler) GetJob(w http.ResponseWriter, r *http.Request) {
	jobID := mux.Vars(r)["id"]
	job, err := h.jobs.Get(r.Context(), jobID)
	if err != nil {
		sendServiceError(w, h.log, err)
		return
	}
	sendJSON(w, h.log, http.StatusOK, job.ToDTO())
}

// JobListResponse is the job listing envelope
type JobListResponse struct {
	Jobs  []models.JobDTO `json:"jobs"`
	Count int             `json:"count"`
}

// ListJobs returns jobs matching the status and type query filters
func (h *IngestHandler) ListJobs(w http.ResponseWriter, r *http.Request) {
	filter := repositories.JobFilter{
		Limit:  getIntQueryParam(r, "limit", 50),
		Offset: getIntQueryParam(r, "offset", 0),
	}
	if status := r.URL.Query().Get("status"); status != "" {
		filter.Status = models.JobStatus(status)
		if !filter.Status.IsValid() {
			sendError(w, h.log, http.StatusBadRequest, "invalid status filter: "+status)
			return
		}
	}
	if jobType := r.URL.Query().Get("type"); jobType != "" {
		filter.Type = models.JobType(jobType)
		if !filter.Type.IsValid() {
			sendError(w, h.log, http.StatusBadRequest, "invalid type filter: "+jobType)
			return
		}
	}

	jobs, err := h.jobs.List(r.Context(), filter)
	if err != nil {
		sendServiceError(w, h.log, err)
		return
	}

	dtos := make([]models.JobDTO, 0, len(jobs))
	for _, job := range jobs {
		dtos = append(dtos, job.ToDTO())
	}
	sendJSON(w, h.log, http.StatusOK, JobListResponse{Jobs: dtos, Count: len(dtos)})
}

// CancelJob cancels a queued job immediately or asks the pipeline to
// stop a job already in flight.
func (h *IngestHandler) CancelJob(w http.ResponseWriter, r *http.Request) {
	jobID := mux.Vars(r)["id"]
	job, err := h.jobs.Get(r.Context(), jobID)
	if err != nil {
		sendServiceError(w, h.log, err)
		return
	}
	if job.Status.IsTerminal() {
		sendError(w, h.log, http.StatusConflict, "job already reached a terminal state: "+string(job.Status))
		return
	}

	cancelled, err := h.jobs.Cancel(r.Context(), jobID)
	if err != nil {
		sendServiceError(w, h.log, err)
		return
	}
	if cancelled {
		h.log.Info("job %s cancelled before execution", jobID)
		sendJSON(w, h.log, http.StatusOK, SuccessResponse{Message: "job cancelled"})
		return
	}

	// The job was claimed between the read and the cancel, or was
	// already processing. Signal the running pipeline instead.
	if h.canceller.CancelJob(jobID) {
		h.log.Info("cancellation requested for running job %s", jobID)
		sendJSON(w, h.log, http.StatusAccepted, SuccessResponse{Message: "cancellation requested"})
		return
	}
	sendError(w, h.log, http.StatusConflict, "job is not running on this instance")
}

// QueueStats returns job counts by status
func (h *IngestHandler) QueueStats(w http.ResponseWriter, r *http.Request) {
	counts, err := h.jobs.CountByStatus(r.Context())
	if err != nil {
		sendServiceError(w, h.log, err)
		return
	}
	stats := make(map[string]int, len(counts))
	for status, count := range counts {
		stats[string(status)] = count
	}
	sendJSON(w, h.log, http.StatusOK, map[string]interface{}{"jobs": stats})
}

// encodePayload converts the typed payload into the opaque map the job
// row stores, by a marshal round trip.
func encodePayload(payload *models.IngestPayload) (map[string]interface{}, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	var m map[string]interface{}
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	return m, nil
}

// validateURL accepts absolute http and https URLs only
func validateURL(raw string) error {
	if raw == "" {
		return &models.ValidationError{Field: "url", Message: "url is required"}
	}
	u, err := url.Parse(raw)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return &models.ValidationError{Field: "url", Message: "url must be absolute http or https: " + raw}
	}
	return nil
}
