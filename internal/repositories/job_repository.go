package repositories

import (
	"context"
	"time"

	"knowledge-ingest/internal/models"
)

// JobRepository defines the interface for the durable job queue. Jobs
// survive process restarts; a crashed worker's claims surface again as
// stuck sessions, not lost jobs.
type JobRepository interface {
	// Enqueue inserts a new job in queued state
	Enqueue(ctx context.Context, job *models.Job) error

	// Claim atomically picks the next due job for the worker and moves
	// it to processing. It returns nil when no job is due. Ordering is
	// priority descending, then created_at ascending.
	Claim(ctx context.Context, workerID string) (*models.Job, error)

	// Get retrieves a job by ID
	Get(ctx context.Context, jobID string) (*models.Job, error)

	// Complete marks the job completed and records the result
	Complete(ctx context.Context, jobID string, result map[string]interface{}) error

	// FailOrRetry records a failed attempt. When attempts remain it
	// schedules a retry at retryAfter; otherwise the job is failed
	// permanently. It returns the status the job ended up in.
	FailOrRetry(ctx context.Context, jobID string, errorMessage string, retryAfter time.Time) (models.JobStatus, error)

	// Fail moves a processing job straight to failed regardless of
	// remaining attempts, for errors no retry can fix.
	Fail(ctx context.Context, jobID string, errorMessage string) error

	// Cancel moves a queued or retrying job to cancelled. Jobs already
	// processing or terminal are left alone; the bool reports whether
	// the transition happened.
	Cancel(ctx context.Context, jobID string) (bool, error)

	// List returns jobs matching the filter, newest first
	List(ctx context.Context, filter JobFilter) ([]*models.Job, error)

	// CleanupTerminal deletes terminal jobs whose completed_at is older
	// than the cutoff and returns how many were removed.
	CleanupTerminal(ctx context.Context, completedBefore time.Time) (int, error)

	// FailStale fails processing jobs whose claim is older than the
	// cutoff. These belong to workers that died mid-job.
	FailStale(ctx context.Context, startedBefore time.Time, reason string) (int, error)

	// CountByStatus returns job counts keyed by status
	CountByStatus(ctx context.Context) (map[models.JobStatus]int, error)
}

// JobFilter narrows List results. Zero values mean "no constraint".
type JobFilter struct {
	Status models.JobStatus
	Type   models.JobType
	Limit  int
	Offset int
}

// JobRepositoryError represents errors from the job repository
type JobRepositoryError struct {
	Operation string
	JobID     string
	Err       error
	Message   string
}

func (e *JobRepositoryError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	prefix := e.Operation
	if e.JobID != "" {
		prefix += " (job: " + e.JobID + ")"
	}
	if e.Err != nil {
		return prefix + ": " + e.Err.Error()
	}
	return prefix + ": unknown error"
}

func (e *JobRepositoryError) Unwrap() error {
	return e.Err
}

// NewJobRepositoryError creates a new job repository error
func NewJobRepositoryError(operation, jobID string, err error, message string) *JobRepositoryError {
	return &JobRepositoryError{
		Operation: operation,
		JobID:     jobID,
		Err:       err,
		Message:   message,
	}
}

// JobNotFoundError indicates the job does not exist
func JobNotFoundError(jobID string) error {
	return NewJobRepositoryError("get_job", jobID, ErrNotFound, "job not found: "+jobID)
}
