package repositories

import (
	"context"
	"time"

	"knowledge-ingest/internal/models"
)

// SessionRepository defines the interface for session state persistence.
// Session state transitions are serialized per session id by performing
// them as single-statement updates.
type SessionRepository interface {
	// Create inserts a new session in processing state with the
	// heartbeat set to now.
	Create(ctx context.Context, session *models.Session) error

	// Get retrieves a session by ID
	Get(ctx context.Context, sessionID string) (*models.Session, error)

	// UpdateProgress writes chunk counters and total. It refuses to
	// touch terminal sessions.
	UpdateProgress(ctx context.Context, sessionID string, completed, failed int, total *int) error

	// Heartbeat updates last_heartbeat only
	Heartbeat(ctx context.Context, sessionID string) error

	// AppendError records an error message without changing status.
	// Only the first message is kept; a session carries its first
	// fatal cause.
	AppendError(ctx context.Context, sessionID string, message string) error

	// End transitions the session to a terminal status. It returns
	// false without error when the session is already terminal.
	End(ctx context.Context, sessionID string, status models.SessionStatus, errorMessage string) (bool, error)

	// FindStuck returns processing sessions whose heartbeat is older
	// than the threshold.
	FindStuck(ctx context.Context, heartbeatBefore time.Time) ([]*models.Session, error)

	// FindExpired returns processing sessions created before the cutoff
	FindExpired(ctx context.Context, createdBefore time.Time) ([]*models.Session, error)

	// FailBatch moves the given sessions to failed with the reason,
	// skipping any that reached a terminal state in the meantime.
	// It returns the number of sessions actually failed.
	FailBatch(ctx context.Context, sessionIDs []string, reason string) (int, error)

	// CountByStatus returns session counts keyed by status
	CountByStatus(ctx context.Context) (map[models.SessionStatus]int, error)

	// Health
	Ping(ctx context.Context) error
}

// SessionRepositoryError represents errors from the session repository
type SessionRepositoryError struct {
	Operation string
	SessionID string
	Err       error
	Message   string
}

func (e *SessionRepositoryError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	prefix := e.Operation
	if e.SessionID != "" {
		prefix += " (session: " + e.SessionID + ")"
	}
	if e.Err != nil {
		return prefix + ": " + e.Err.Error()
	}
	return prefix + ": unknown error"
}

func (e *SessionRepositoryError) Unwrap() error {
	return e.Err
}

// NewSessionRepositoryError creates a new session repository error
func NewSessionRepositoryError(operation, sessionID string, err error, message string) *SessionRepositoryError {
	return &SessionRepositoryError{
		Operation: operation,
		SessionID: sessionID,
		Err:       err,
		Message:   message,
	}
}

// SessionNotFoundError indicates the session does not exist
func SessionNotFoundError(sessionID string) error {
	return NewSessionRepositoryError("get_session", sessionID, ErrNotFound, "session not found: "+sessionID)
}
