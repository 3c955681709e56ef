package repositories

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"knowledge-ingest/internal/models"
)

// PostgresSessionRepository implements SessionRepository on the
// relational store. Every transition is a single statement so that
// per-session updates serialize on the row.
type PostgresSessionRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresSessionRepository creates a new Postgres-backed session repository
func NewPostgresSessionRepository(pool *pgxpool.Pool) *PostgresSessionRepository {
	return &PostgresSessionRepository{pool: pool}
}

const sessionColumns = `session_id, url, filename, status, total_chunks,
	completed_chunks, failed_chunks, last_heartbeat, error_message, created_at, updated_at`

// Create inserts a new session in processing state
func (r *PostgresSessionRepository) Create(ctx context.Context, session *models.Session) error {
	if err := session.Validate(); err != nil {
		return err
	}

	_, err := r.pool.Exec(ctx, `
		INSERT INTO sessions (session_id, url, filename, status, last_heartbeat)
		VALUES ($1, $2, NULLIF($3, ''), $4, now())`,
		session.SessionID, session.URL, session.Filename, string(models.SessionStatusProcessing))
	if err != nil {
		return NewSessionRepositoryError("create_session", session.SessionID, err, "")
	}
	return nil
}

// Get retrieves a session by ID
func (r *PostgresSessionRepository) Get(ctx context.Context, sessionID string) (*models.Session, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE session_id = $1`, sessionID)
	session, err := scanSession(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, SessionNotFoundError(sessionID)
	}
	if err != nil {
		return nil, NewSessionRepositoryError("get_session", sessionID, err, "")
	}
	return session, nil
}

// UpdateProgress writes chunk counters; terminal sessions are untouched
func (r *PostgresSessionRepository) UpdateProgress(ctx context.Context, sessionID string, completed, failed int, total *int) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE sessions
		SET completed_chunks = $2,
		    failed_chunks = $3,
		    total_chunks = COALESCE($4, total_chunks),
		    last_heartbeat = now(),
		    updated_at = now()
		WHERE session_id = $1 AND status = 'processing'`,
		sessionID, completed, failed, total)
	if err != nil {
		return NewSessionRepositoryError("update_progress", sessionID, err, "")
	}
	return nil
}

// Heartbeat updates last_heartbeat only
func (r *PostgresSessionRepository) Heartbeat(ctx context.Context, sessionID string) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE sessions SET last_heartbeat = now(), updated_at = now()
		WHERE session_id = $1 AND status = 'processing'`, sessionID)
	if err != nil {
		return NewSessionRepositoryError("heartbeat", sessionID, err, "")
	}
	return nil
}

// AppendError records the first fatal cause without changing status
func (r *PostgresSessionRepository) AppendError(ctx context.Context, sessionID string, message string) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE sessions SET error_message = COALESCE(error_message, $2), updated_at = now()
		WHERE session_id = $1`, sessionID, message)
	if err != nil {
		return NewSessionRepositoryError("append_error", sessionID, err, "")
	}
	return nil
}

// End transitions to a terminal status. The WHERE clause makes terminal
// states immutable: once out of processing, further calls are no-ops.
func (r *PostgresSessionRepository) End(ctx context.Context, sessionID string, status models.SessionStatus, errorMessage string) (bool, error) {
	if !status.IsTerminal() {
		return false, NewSessionRepositoryError("end_session", sessionID, nil, "status is not terminal: "+string(status))
	}

	tag, err := r.pool.Exec(ctx, `
		UPDATE sessions
		SET status = $2,
		    error_message = COALESCE(NULLIF($3, ''), error_message),
		    updated_at = now()
		WHERE session_id = $1 AND status = 'processing'`,
		sessionID, string(status), errorMessage)
	if err != nil {
		return false, NewSessionRepositoryError("end_session", sessionID, err, "")
	}
	return tag.RowsAffected() > 0, nil
}

// FindStuck returns processing sessions with a stale heartbeat
func (r *PostgresSessionRepository) FindStuck(ctx context.Context, heartbeatBefore time.Time) ([]*models.Session, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+sessionColumns+` FROM sessions
		WHERE status = 'processing' AND last_heartbeat < $1`, heartbeatBefore)
	if err != nil {
		return nil, NewSessionRepositoryError("find_stuck", "", err, "")
	}
	defer rows.Close()
	return collectSessions(rows)
}

// FindExpired returns processing sessions past the session lifetime
func (r *PostgresSessionRepository) FindExpired(ctx context.Context, createdBefore time.Time) ([]*models.Session, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+sessionColumns+` FROM sessions
		WHERE status = 'processing' AND created_at < $1`, createdBefore)
	if err != nil {
		return nil, NewSessionRepositoryError("find_expired", "", err, "")
	}
	defer rows.Close()
	return collectSessions(rows)
}

// FailBatch fails the given sessions in one transaction
func (r *PostgresSessionRepository) FailBatch(ctx context.Context, sessionIDs []string, reason string) (int, error) {
	if len(sessionIDs) == 0 {
		return 0, nil
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return 0, NewSessionRepositoryError("fail_batch", "", err, "")
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, `
		UPDATE sessions
		SET status = 'failed',
		    error_message = COALESCE(error_message, $2),
		    updated_at = now()
		WHERE session_id = ANY($1) AND status = 'processing'`,
		sessionIDs, reason)
	if err != nil {
		return 0, NewSessionRepositoryError("fail_batch", "", err, "")
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, NewSessionRepositoryError("fail_batch", "", err, "")
	}
	return int(tag.RowsAffected()), nil
}

// CountByStatus returns session counts keyed by status
func (r *PostgresSessionRepository) CountByStatus(ctx context.Context) (map[models.SessionStatus]int, error) {
	rows, err := r.pool.Query(ctx, `SELECT status, count(*) FROM sessions GROUP BY status`)
	if err != nil {
		return nil, NewSessionRepositoryError("count_by_status", "", err, "")
	}
	defer rows.Close()

	counts := make(map[models.SessionStatus]int)
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, NewSessionRepositoryError("count_by_status", "", err, "")
		}
		counts[models.SessionStatus(status)] = count
	}
	return counts, rows.Err()
}

// Ping checks the store connection
func (r *PostgresSessionRepository) Ping(ctx context.Context) error {
	return r.pool.Ping(ctx)
}

func scanSession(row pgx.Row) (*models.Session, error) {
	var s models.Session
	var filename, errorMessage *string
	var status string
	if err := row.Scan(&s.SessionID, &s.URL, &filename, &status, &s.TotalChunks,
		&s.CompletedChunks, &s.FailedChunks, &s.LastHeartbeat, &errorMessage,
		&s.CreatedAt, &s.UpdatedAt); err != nil {
		return nil, err
	}
	s.Status = models.SessionStatus(status)
	if filename != nil {
		s.Filename = *filename
	}
	if errorMessage != nil {
		s.ErrorMessage = *errorMessage
	}
	return &s, nil
}

func collectSessions(rows pgx.Rows) ([]*models.Session, error) {
	var sessions []*models.Session
	for rows.Next() {
		session, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, session)
	}
	return sessions, rows.Err()
}
