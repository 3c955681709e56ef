package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"knowledge-ingest/internal/logger"
	"knowledge-ingest/internal/models"
	"knowledge-ingest/internal/repositories"
)

func newIngestRouter(h *IngestHandler) *mux.Router {
	router := mux.NewRouter()
	router.HandleFunc("/ingest/url", h.IngestURL).Methods(http.MethodPost)
	router.HandleFunc("/ingest/batch", h.IngestBatch).Methods(http.MethodPost)
	router.HandleFunc("/ingest/file", h.UploadFile).Methods(http.MethodPost)
	router.HandleFunc("/jobs", h.ListJobs).Methods(http.MethodGet)
	router.HandleFunc("/jobs/stats", h.QueueStats).Methods(http.MethodGet)
	router.HandleFunc("/jobs/{id}", h.GetJob).Methods(http.MethodGet)
	router.HandleFunc("/jobs/{id}/cancel", h.CancelJob).Methods(http.MethodPost)
	return router
}

func newIngestHarness() (*IngestHandler, *stubJobs, *stubBlobs, *stubCanceller) {
	jobs := newStubJobs()
	blobs := newStubBlobs()
	canceller := &stubCanceller{}
	h := NewIngestHandler(jobs, blobs, canceller, 0, logger.Nop())
	return h, jobs, blobs, canceller
}

func postJSON(router *mux.Router, path string, body interface{}) *httptest.ResponseRecorder {
	data, _ := json.Marshal(body)
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(data))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestIngestURL_EnqueuesJob(t *testing.T) {
	h, jobs, _, _ := newIngestHarness()
	router := newIngestRouter(h)

	rec := postJSON(router, "/ingest/url", IngestURLRequest{
		URL:      "https://example.com/doc",
		Priority: 5,
		Options:  models.ProcessingOptions{ChunkSize: 50},
	})
	require.Equal(t, http.StatusAccepted, rec.Code)

	var resp EnqueuedResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.NotEmpty(t, resp.JobID)
	assert.Equal(t, "queued", resp.Status)

	job, err := jobs.Get(context.Background(), resp.JobID)
	require.NoError(t, err)
	assert.Equal(t, models.JobTypeURLProcessing, job.Type)
	assert.Equal(t, 5, job.Priority)
	assert.Equal(t, models.DefaultMaxAttempts, job.MaxAttempts)

	payload, err := models.DecodeIngestPayload(job.Payload)
	require.NoError(t, err)
	assert.Equal(t, "https://example.com/doc", payload.URL)
	// 50 is below the floor, stored payload carries the clamped value
	assert.Equal(t, 100, payload.Options.ChunkSize)
}

func TestIngestURL_RejectsNonHTTPScheme(t *testing.T) {
	h, jobs, _, _ := newIngestHarness()
	router := newIngestRouter(h)

	rec := postJSON(router, "/ingest/url", IngestURLRequest{URL: "ftp://example.com/doc"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	listed, err := jobs.List(context.Background(), repositories.JobFilter{})
	require.NoError(t, err)
	assert.Empty(t, listed)
}

func TestIngestBatch_RequiresURLs(t *testing.T) {
	h, _, _, _ := newIngestHarness()
	router := newIngestRouter(h)

	rec := postJSON(router, "/ingest/batch", IngestBatchRequest{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestIngestBatch_DropsClientSessionID(t *testing.T) {
	h, jobs, _, _ := newIngestHarness()
	router := newIngestRouter(h)

	rec := postJSON(router, "/ingest/batch", IngestBatchRequest{
		URLs:    []string{"https://example.com/a", "https://example.com/b"},
		Options: models.ProcessingOptions{SessionID: "client-chosen"},
	})
	require.Equal(t, http.StatusAccepted, rec.Code)

	var resp EnqueuedResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	job, err := jobs.Get(context.Background(), resp.JobID)
	require.NoError(t, err)

	payload, err := models.DecodeIngestPayload(job.Payload)
	require.NoError(t, err)
	assert.Equal(t, models.JobTypeBatchProcessing, payload.JobType)
	assert.Len(t, payload.URLs, 2)
	assert.Empty(t, payload.Options.SessionID)
}

func TestUploadFile_StagesBlobAndEnqueuesJob(t *testing.T) {
	h, jobs, blobs, _ := newIngestHarness()
	router := newIngestRouter(h)

	var body bytes.Buffer
	form := multipart.NewWriter(&body)
	part, err := form.CreateFormFile("file", "notes.txt")
	require.NoError(t, err)
	_, err = part.Write([]byte("uploaded file content"))
	require.NoError(t, err)
	require.NoError(t, form.WriteField("chunk_size", "300"))
	require.NoError(t, form.WriteField("generate_summary", "true"))
	require.NoError(t, form.Close())

	req := httptest.NewRequest(http.MethodPost, "/ingest/file", &body)
	req.Header.Set("Content-Type", form.FormDataContentType())
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusAccepted, rec.Code)

	var resp EnqueuedResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.NotEmpty(t, resp.UploadRef)

	upload, err := blobs.Get(context.Background(), resp.UploadRef)
	require.NoError(t, err)
	assert.Equal(t, "notes.txt", upload.Filename)
	assert.Equal(t, []byte("uploaded file content"), upload.Data)

	job, err := jobs.Get(context.Background(), resp.JobID)
	require.NoError(t, err)
	payload, err := models.DecodeIngestPayload(job.Payload)
	require.NoError(t, err)
	assert.Equal(t, models.JobTypeFileProcessing, payload.JobType)
	assert.Equal(t, resp.UploadRef, payload.UploadRef)
	assert.Equal(t, "notes.txt", payload.Filename)
	assert.Equal(t, 300, payload.Options.ChunkSize)
	assert.True(t, payload.Options.GenerateSummary)
}

func TestUploadFile_RejectsEmptyFile(t *testing.T) {
	h, _, blobs, _ := newIngestHarness()
	router := newIngestRouter(h)

	var body bytes.Buffer
	form := multipart.NewWriter(&body)
	_, err := form.CreateFormFile("file", "empty.txt")
	require.NoError(t, err)
	require.NoError(t, form.Close())

	req := httptest.NewRequest(http.MethodPost, "/ingest/file", &body)
	req.Header.Set("Content-Type", form.FormDataContentType())
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Empty(t, blobs.uploads)
}

func TestGetJob_NotFound(t *testing.T) {
	h, _, _, _ := newIngestHarness()
	router := newIngestRouter(h)

	req := httptest.NewRequest(http.MethodGet, "/jobs/missing", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
	var errResp ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &errResp))
	assert.Contains(t, errResp.Message, "not found")
}

func TestListJobs_FiltersByStatus(t *testing.T) {
	h, jobs, _, _ := newIngestHarness()
	router := newIngestRouter(h)

	for _, status := range []models.JobStatus{models.JobStatusQueued, models.JobStatusCompleted} {
		job := &models.Job{
			ID:          "job-" + string(status),
			Type:        models.JobTypeURLProcessing,
			Status:      models.JobStatusQueued,
			Payload:     map[string]interface{}{"url": "https://example.com"},
			MaxAttempts: models.DefaultMaxAttempts,
		}
		require.NoError(t, jobs.Enqueue(context.Background(), job))
		jobs.jobs[job.ID].Status = status
	}

	req := httptest.NewRequest(http.MethodGet, "/jobs?status=completed", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp JobListResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, 1, resp.Count)
	assert.Equal(t, "completed", resp.Jobs[0].Status)
}

func TestListJobs_RejectsUnknownStatus(t *testing.T) {
	h, _, _, _ := newIngestHarness()
	router := newIngestRouter(h)

	req := httptest.NewRequest(http.MethodGet, "/jobs?status=bogus", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCancelJob_QueuedJobCancelsImmediately(t *testing.T) {
	h, jobs, _, canceller := newIngestHarness()
	router := newIngestRouter(h)

	job := &models.Job{
		ID:          "queued-job",
		Type:        models.JobTypeURLProcessing,
		Status:      models.JobStatusQueued,
		Payload:     map[string]interface{}{"url": "https://example.com"},
		MaxAttempts: models.DefaultMaxAttempts,
	}
	require.NoError(t, jobs.Enqueue(context.Background(), job))

	req := httptest.NewRequest(http.MethodPost, "/jobs/queued-job/cancel", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	updated, err := jobs.Get(context.Background(), "queued-job")
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusCancelled, updated.Status)
	assert.Empty(t, canceller.requested)
}

func TestCancelJob_ProcessingJobSignalsPipeline(t *testing.T) {
	h, jobs, _, canceller := newIngestHarness()
	canceller.accept = true
	router := newIngestRouter(h)

	job := &models.Job{
		ID:          "running-job",
		Type:        models.JobTypeURLProcessing,
		Status:      models.JobStatusQueued,
		Payload:     map[string]interface{}{"url": "https://example.com"},
		MaxAttempts: models.DefaultMaxAttempts,
	}
	require.NoError(t, jobs.Enqueue(context.Background(), job))
	jobs.jobs["running-job"].Status = models.JobStatusProcessing

	req := httptest.NewRequest(http.MethodPost, "/jobs/running-job/cancel", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, []string{"running-job"}, canceller.requested)
}

func TestCancelJob_TerminalJobConflicts(t *testing.T) {
	h, jobs, _, _ := newIngestHarness()
	router := newIngestRouter(h)

	job := &models.Job{
		ID:          "done-job",
		Type:        models.JobTypeURLProcessing,
		Status:      models.JobStatusQueued,
		Payload:     map[string]interface{}{"url": "https://example.com"},
		MaxAttempts: models.DefaultMaxAttempts,
	}
	require.NoError(t, jobs.Enqueue(context.Background(), job))
	jobs.jobs["done-job"].Status = models.JobStatusCompleted

	req := httptest.NewRequest(http.MethodPost, "/jobs/done-job/cancel", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestQueueStats_CountsByStatus(t *testing.T) {
	h, jobs, _, _ := newIngestHarness()
	router := newIngestRouter(h)

	for i, id := range []string{"a", "b", "c"} {
		job := &models.Job{
			ID:          id,
			Type:        models.JobTypeURLProcessing,
			Status:      models.JobStatusQueued,
			Payload:     map[string]interface{}{"url": "https://example.com"},
			MaxAttempts: models.DefaultMaxAttempts,
		}
		require.NoError(t, jobs.Enqueue(context.Background(), job))
		if i == 2 {
			jobs.jobs[id].Status = models.JobStatusFailed
		}
	}

	req := httptest.NewRequest(http.MethodGet, "/jobs/stats", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Jobs map[string]int `json:"jobs"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 2, resp.Jobs["queued"])
	assert.Equal(t, 1, resp.Jobs["failed"])
}

func TestValidateURL(t *testing.T) {
	assert.NoError(t, validateURL("https://example.com/a"))
	assert.NoError(t, validateURL("http://example.com"))
	assert.Error(t, validateURL(""))
	assert.Error(t, validateURL("ftp://example.com"))
	assert.Error(t, validateURL("example.com/no-scheme"))
	assert.Error(t, validateURL("https://"))
	assert.Error(t, validateURL(strings.Repeat(":", 3)))
}
