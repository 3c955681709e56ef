package models

import (
	"encoding/json"
	"time"
)

// Job represents a durable background job in the queue. A job owns
// exactly one session; the session id appears in the payload (when the
// client supplied one) or in the result.
type Job struct {
	ID           string                 `json:"id"`
	Type         JobType                `json:"type"`
	Status       JobStatus              `json:"status"`
	Priority     int                    `json:"priority"` // Higher = more important
	Payload      map[string]interface{} `json:"payload"`  // Input data
	Result       map[string]interface{} `json:"result"`   // Output data, set on terminal
	ErrorMessage string                 `json:"error_message,omitempty"`
	Attempts     int                    `json:"attempts"`
	MaxAttempts  int                    `json:"max_attempts"`
	RetryAfter   *time.Time             `json:"retry_after,omitempty"`
	CreatedAt    time.Time              `json:"created_at"`
	UpdatedAt    time.Time              `json:"updated_at"`
	StartedAt    *time.Time             `json:"started_at,omitempty"`
	CompletedAt  *time.Time             `json:"completed_at,omitempty"`
	WorkerID     string                 `json:"worker_id,omitempty"`
}

// DefaultMaxAttempts is the number of attempts a job gets before it is
// permanently failed.
const DefaultMaxAttempts = 3

// JobType represents the type of job
type JobType string

const (
	JobTypeURLProcessing   JobType = "url_processing"
	JobTypeFileProcessing  JobType = "file_processing"
	JobTypeBatchProcessing JobType = "batch_processing"
	JobTypeReprocessing    JobType = "reprocessing"
)

// JobStatus represents the current status of a job
type JobStatus string

const (
	JobStatusQueued     JobStatus = "queued"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
	JobStatusCancelled  JobStatus = "cancelled"
	JobStatusRetrying   JobStatus = "retrying"
)

// IsValid checks if job type is valid
func (t JobType) IsValid() bool {
	switch t {
	case JobTypeURLProcessing, JobTypeFileProcessing, JobTypeBatchProcessing, JobTypeReprocessing:
		return true
	default:
		return false
	}
}

// String returns the string representation of job type
func (t JobType) String() string {
	return string(t)
}

// IsValid checks if job status is valid
func (s JobStatus) IsValid() bool {
	switch s {
	case JobStatusQueued, JobStatusProcessing, JobStatusCompleted,
		JobStatusFailed, JobStatusCancelled, JobStatusRetrying:
		return true
	default:
		return false
	}
}

// String returns the string representation of job status
func (s JobStatus) String() string {
	return string(s)
}

// IsTerminal returns true if the status is a terminal state
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed || s == JobStatusCancelled
}

// IsClaimable returns true if a worker may claim the job
func (s JobStatus) IsClaimable() bool {
	return s == JobStatusQueued || s == JobStatusRetrying
}

// Validate checks if the job is valid
func (j *Job) Validate() error {
	if j.ID == "" {
		return &ValidationError{Field: "id", Message: "job ID is required"}
	}
	if !j.Type.IsValid() {
		return &ValidationError{Field: "type", Message: "invalid job type: " + string(j.Type)}
	}
	if !j.Status.IsValid() {
		return &ValidationError{Field: "status", Message: "invalid job status: " + string(j.Status)}
	}
	if j.MaxAttempts <= 0 {
		return &ValidationError{Field: "max_attempts", Message: "max attempts must be positive"}
	}
	if j.Attempts > j.MaxAttempts {
		return &ValidationError{Field: "attempts", Message: "attempts cannot exceed max attempts"}
	}
	return nil
}

// CanRetry returns true if the job has attempts left
func (j *Job) CanRetry() bool {
	return j.Attempts < j.MaxAttempts
}

// Duration returns the time the job spent processing
func (j *Job) Duration() time.Duration {
	if j.StartedAt == nil {
		return 0
	}
	if j.CompletedAt == nil {
		return time.Since(*j.StartedAt)
	}
	return j.CompletedAt.Sub(*j.StartedAt)
}

// ProcessingOptions are the recognized option keys of a job payload.
// Out-of-range values are clamped, not rejected.
type ProcessingOptions struct {
	ChunkSize                  int    `json:"chunk_size"`
	ChunkOverlap               int    `json:"chunk_overlap"`
	EnableContextualEmbeddings bool   `json:"enable_contextual_embeddings"`
	GenerateSummary            bool   `json:"generate_summary"`
	SessionID                  string `json:"session_id,omitempty"`
}

// IngestPayload is the decoded shape of a job payload
type IngestPayload struct {
	JobType   JobType           `json:"job_type"`
	URL       string            `json:"url,omitempty"`
	URLs      []string          `json:"urls,omitempty"`
	UploadRef string            `json:"upload_ref,omitempty"`
	Filename  string            `json:"filename,omitempty"`
	MIMEType  string            `json:"mime_type,omitempty"`
	Options   ProcessingOptions `json:"options"`
}

// DecodeIngestPayload converts the opaque payload map into a typed
// payload by a marshal round trip.
func DecodeIngestPayload(payload map[string]interface{}) (*IngestPayload, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	var p IngestPayload
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// Validate checks the payload has a usable source
func (p *IngestPayload) Validate() error {
	if !p.JobType.IsValid() {
		return &ValidationError{Field: "job_type", Message: "invalid job type: " + string(p.JobType)}
	}
	switch p.JobType {
	case JobTypeBatchProcessing:
		if len(p.URLs) == 0 {
			return &ValidationError{Field: "urls", Message: "batch job requires at least one url"}
		}
	case JobTypeFileProcessing:
		if p.UploadRef == "" {
			return &ValidationError{Field: "upload_ref", Message: "file job requires an upload_ref"}
		}
	default:
		if p.URL == "" && p.UploadRef == "" {
			return &ValidationError{Field: "url", Message: "either url or upload_ref is required"}
		}
	}
	return nil
}

// Clamp applies the option bounds: chunk_size to [100, 5000] and
// chunk_overlap to [0, min(chunk_size, 500)].
func (o *ProcessingOptions) Clamp() {
	if o.ChunkSize == 0 {
		o.ChunkSize = 1200
	}
	if o.ChunkSize < 100 {
		o.ChunkSize = 100
	}
	if o.ChunkSize > 5000 {
		o.ChunkSize = 5000
	}
	if o.ChunkOverlap == 0 && o.ChunkSize == 1200 {
		o.ChunkOverlap = 200
	}
	maxOverlap := o.ChunkSize
	if maxOverlap > 500 {
		maxOverlap = 500
	}
	if o.ChunkOverlap < 0 {
		o.ChunkOverlap = 0
	}
	if o.ChunkOverlap > maxOverlap {
		o.ChunkOverlap = maxOverlap
	}
}

// JobDTO represents the API view of a job
type JobDTO struct {
	ID           string                 `json:"id"`
	Type         string                 `json:"type"`
	Status       string                 `json:"status"`
	Priority     int                    `json:"priority"`
	Payload      map[string]interface{} `json:"payload,omitempty"`
	Result       map[string]interface{} `json:"result,omitempty"`
	ErrorMessage string                 `json:"error_message,omitempty"`
	Attempts     int                    `json:"attempts"`
	MaxAttempts  int                    `json:"max_attempts"`
	RetryAfter   string                 `json:"retry_after,omitempty"`
	CreatedAt    string                 `json:"created_at"`
	UpdatedAt    string                 `json:"updated_at"`
	StartedAt    string                 `json:"started_at,omitempty"`
	CompletedAt  string                 `json:"completed_at,omitempty"`
	Duration     string                 `json:"duration,omitempty"`
}

// ToDTO converts Job domain model to DTO
func (j *Job) ToDTO() JobDTO {
	dto := JobDTO{
		ID:           j.ID,
		Type:         string(j.Type),
		Status:       string(j.Status),
		Priority:     j.Priority,
		Payload:      j.Payload,
		Result:       j.Result,
		ErrorMessage: j.ErrorMessage,
		Attempts:     j.Attempts,
		MaxAttempts:  j.MaxAttempts,
		CreatedAt:    j.CreatedAt.Format(time.RFC3339),
		UpdatedAt:    j.UpdatedAt.Format(time.RFC3339),
	}
	if j.RetryAfter != nil {
		dto.RetryAfter = j.RetryAfter.Format(time.RFC3339)
	}
	if j.StartedAt != nil {
		dto.StartedAt = j.StartedAt.Format(time.RFC3339)
	}
	if j.CompletedAt != nil {
		dto.CompletedAt = j.CompletedAt.Format(time.RFC3339)
	}
	if d := j.Duration(); d > 0 {
		dto.Duration = d.String()
	}
	return dto
}
