package repositories

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"knowledge-ingest/internal/models"
)

// PostgresJobRepository implements JobRepository on the relational
// store. Claiming uses FOR UPDATE SKIP LOCKED so concurrent workers
// never double-claim and never block on each other.
type PostgresJobRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresJobRepository creates a new Postgres-backed job repository
func NewPostgresJobRepository(pool *pgxpool.Pool) *PostgresJobRepository {
	return &PostgresJobRepository{pool: pool}
}

const jobColumns = `job_id, job_type, status, priority, payload, result,
	error_message, attempts, max_attempts, retry_after, worker_id,
	created_at, updated_at, started_at, completed_at`

// Enqueue inserts a new job in queued state
func (r *PostgresJobRepository) Enqueue(ctx context.Context, job *models.Job) error {
	if err := job.Validate(); err != nil {
		return err
	}

	payload, err := json.Marshal(job.Payload)
	if err != nil {
		return NewJobRepositoryError("enqueue_job", job.ID, err, "failed to marshal payload")
	}

	_, err = r.pool.Exec(ctx, `
		INSERT INTO jobs (job_id, job_type, status, priority, payload, max_attempts)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		job.ID, string(job.Type), string(models.JobStatusQueued), job.Priority, payload, job.MaxAttempts)
	if err != nil {
		return NewJobRepositoryError("enqueue_job", job.ID, err, "")
	}
	return nil
}

// Claim picks the next due job inside a transaction. SKIP LOCKED lets
// competing workers pass over rows already claimed in flight.
func (r *PostgresJobRepository) Claim(ctx context.Context, workerID string) (*models.Job, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, NewJobRepositoryError("claim_job", "", err, "")
	}
	defer tx.Rollback(ctx)

	row := tx.QueryRow(ctx, `
		SELECT `+jobColumns+` FROM jobs
		WHERE status IN ('queued', 'retrying')
		  AND (retry_after IS NULL OR retry_after <= now())
		ORDER BY priority DESC, created_at ASC
		LIMIT 1
		FOR UPDATE SKIP LOCKED`)

	job, err := scanJob(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, NewJobRepositoryError("claim_job", "", err, "")
	}

	_, err = tx.Exec(ctx, `
		UPDATE jobs
		SET status = 'processing',
		    attempts = attempts + 1,
		    worker_id = $2,
		    started_at = COALESCE(started_at, now()),
		    retry_after = NULL,
		    updated_at = now()
		WHERE job_id = $1`, job.ID, workerID)
	if err != nil {
		return nil, NewJobRepositoryError("claim_job", job.ID, err, "")
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, NewJobRepositoryError("claim_job", job.ID, err, "")
	}

	job.Status = models.JobStatusProcessing
	job.Attempts++
	job.WorkerID = workerID
	job.RetryAfter = nil
	return job, nil
}

// Get retrieves a job by ID
func (r *PostgresJobRepository) Get(ctx context.Context, jobID string) (*models.Job, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+jobColumns+` FROM jobs WHERE job_id = $1`, jobID)
	job, err := scanJob(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, JobNotFoundError(jobID)
	}
	if err != nil {
		return nil, NewJobRepositoryError("get_job", jobID, err, "")
	}
	return job, nil
}

// Complete marks the job completed with its result
func (r *PostgresJobRepository) Complete(ctx context.Context, jobID string, result map[string]interface{}) error {
	resultJSON, err := json.Marshal(result)
	if err != nil {
		return NewJobRepositoryError("complete_job", jobID, err, "failed to marshal result")
	}

	tag, err := r.pool.Exec(ctx, `
		UPDATE jobs
		SET status = 'completed',
		    result = $2,
		    completed_at = now(),
		    updated_at = now()
		WHERE job_id = $1 AND status = 'processing'`, jobID, resultJSON)
	if err != nil {
		return NewJobRepositoryError("complete_job", jobID, err, "")
	}
	if tag.RowsAffected() == 0 {
		return NewJobRepositoryError("complete_job", jobID, nil, "job is not processing: "+jobID)
	}
	return nil
}

// FailOrRetry records the attempt outcome. The status branch happens in
// SQL so concurrent state reads never observe an in-between state.
func (r *PostgresJobRepository) FailOrRetry(ctx context.Context, jobID string, errorMessage string, retryAfter time.Time) (models.JobStatus, error) {
	var status string
	err := r.pool.QueryRow(ctx, `
		UPDATE jobs
		SET status = CASE WHEN attempts < max_attempts THEN 'retrying' ELSE 'failed' END,
		    error_message = $2,
		    retry_after = CASE WHEN attempts < max_attempts THEN $3 ELSE NULL END,
		    completed_at = CASE WHEN attempts < max_attempts THEN NULL ELSE now() END,
		    updated_at = now()
		WHERE job_id = $1 AND status = 'processing'
		RETURNING status`, jobID, errorMessage, retryAfter).Scan(&status)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", NewJobRepositoryError("fail_job", jobID, nil, "job is not processing: "+jobID)
	}
	if err != nil {
		return "", NewJobRepositoryError("fail_job", jobID, err, "")
	}
	return models.JobStatus(status), nil
}

// Fail moves a processing job straight to failed, ignoring remaining
// attempts. Used for errors a retry cannot fix.
func (r *PostgresJobRepository) Fail(ctx context.Context, jobID string, errorMessage string) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE jobs
		SET status = 'failed',
		    error_message = $2,
		    retry_after = NULL,
		    completed_at = now(),
		    updated_at = now()
		WHERE job_id = $1 AND status = 'processing'`, jobID, errorMessage)
	if err != nil {
		return NewJobRepositoryError("fail_job", jobID, err, "")
	}
	if tag.RowsAffected() == 0 {
		return NewJobRepositoryError("fail_job", jobID, nil, "job is not processing: "+jobID)
	}
	return nil
}

// Cancel moves a claimable job to cancelled
func (r *PostgresJobRepository) Cancel(ctx context.Context, jobID string) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE jobs
		SET status = 'cancelled',
		    completed_at = now(),
		    updated_at = now()
		WHERE job_id = $1 AND status IN ('queued', 'retrying')`, jobID)
	if err != nil {
		return false, NewJobRepositoryError("cancel_job", jobID, err, "")
	}
	return tag.RowsAffected() > 0, nil
}

// List returns jobs matching the filter, newest first
func (r *PostgresJobRepository) List(ctx context.Context, filter JobFilter) ([]*models.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs WHERE 1=1`
	args := []interface{}{}

	if filter.Status != "" {
		args = append(args, string(filter.Status))
		query += fmt.Sprintf(" AND status = $%d", len(args))
	}
	if filter.Type != "" {
		args = append(args, string(filter.Type))
		query += fmt.Sprintf(" AND job_type = $%d", len(args))
	}
	query += " ORDER BY created_at DESC"

	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}
	args = append(args, limit)
	query += fmt.Sprintf(" LIMIT $%d", len(args))
	if filter.Offset > 0 {
		args = append(args, filter.Offset)
		query += fmt.Sprintf(" OFFSET $%d", len(args))
	}

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, NewJobRepositoryError("list_jobs", "", err, "")
	}
	defer rows.Close()

	var jobs []*models.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, NewJobRepositoryError("list_jobs", "", err, "")
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

// CleanupTerminal removes terminal jobs past the retention cutoff
func (r *PostgresJobRepository) CleanupTerminal(ctx context.Context, completedBefore time.Time) (int, error) {
	tag, err := r.pool.Exec(ctx, `
		DELETE FROM jobs
		WHERE status IN ('completed', 'failed', 'cancelled')
		  AND completed_at < $1`, completedBefore)
	if err != nil {
		return 0, NewJobRepositoryError("cleanup_jobs", "", err, "")
	}
	return int(tag.RowsAffected()), nil
}

// FailStale fails processing jobs claimed before the cutoff
func (r *PostgresJobRepository) FailStale(ctx context.Context, startedBefore time.Time, reason string) (int, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE jobs
		SET status = 'failed',
		    error_message = COALESCE(error_message, $2),
		    completed_at = now(),
		    updated_at = now()
		WHERE status = 'processing' AND started_at < $1`, startedBefore, reason)
	if err != nil {
		return 0, NewJobRepositoryError("fail_stale", "", err, "")
	}
	return int(tag.RowsAffected()), nil
}

// CountByStatus returns job counts keyed by status
func (r *PostgresJobRepository) CountByStatus(ctx context.Context) (map[models.JobStatus]int, error) {
	rows, err := r.pool.Query(ctx, `SELECT status, count(*) FROM jobs GROUP BY status`)
	if err != nil {
		return nil, NewJobRepositoryError("count_by_status", "", err, "")
	}
	defer rows.Close()

	counts := make(map[models.JobStatus]int)
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, NewJobRepositoryError("count_by_status", "", err, "")
		}
		counts[models.JobStatus(status)] = count
	}
	return counts, rows.Err()
}

func scanJob(row pgx.Row) (*models.Job, error) {
	var j models.Job
	var jobType, status string
	var payload, result []byte
	var errorMessage, workerID *string

	if err := row.Scan(&j.ID, &jobType, &status, &j.Priority, &payload, &result,
		&errorMessage, &j.Attempts, &j.MaxAttempts, &j.RetryAfter, &workerID,
		&j.CreatedAt, &j.UpdatedAt, &j.StartedAt, &j.CompletedAt); err != nil {
		return nil, err
	}

	j.Type = models.JobType(jobType)
	j.Status = models.JobStatus(status)
	if errorMessage != nil {
		j.ErrorMessage = *errorMessage
	}
	if workerID != nil {
		j.WorkerID = *workerID
	}
	if err := json.Unmarshal(payload, &j.Payload); err != nil {
		return nil, err
	}
	if len(result) > 0 {
		if err := json.Unmarshal(result, &j.Result); err != nil {
			return nil, err
		}
	}
	return &j, nil
}
