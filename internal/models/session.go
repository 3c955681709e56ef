package models

import (
	"time"
)

// SessionStatus represents the lifecycle state of an ingestion session
type SessionStatus string

const (
	SessionStatusProcessing SessionStatus = "processing"
	SessionStatusCompleted  SessionStatus = "completed"
	SessionStatusFailed     SessionStatus = "failed"
	SessionStatusCancelled  SessionStatus = "cancelled"
	// SessionStatusTimeout is only ever set by the cleanup service.
	SessionStatusTimeout SessionStatus = "timeout"
)

// IsValid checks if the session status is recognized
func (s SessionStatus) IsValid() bool {
	switch s {
	case SessionStatusProcessing, SessionStatusCompleted, SessionStatusFailed,
		SessionStatusCancelled, SessionStatusTimeout:
		return true
	default:
		return false
	}
}

// IsTerminal returns true if the status is a terminal state. Terminal
// sessions are immutable.
func (s SessionStatus) IsTerminal() bool {
	return s == SessionStatusCompleted || s == SessionStatusFailed ||
		s == SessionStatusCancelled || s == SessionStatusTimeout
}

// String returns the string representation of session status
func (s SessionStatus) String() string {
	return string(s)
}

// Session is the per-ingestion-attempt state object. One session exists
// per pipeline run; the owning job's payload or result carries its id.
type Session struct {
	SessionID       string        `json:"session_id"`
	URL             string        `json:"url"`
	Filename        string        `json:"filename,omitempty"`
	Status          SessionStatus `json:"status"`
	TotalChunks     *int          `json:"total_chunks,omitempty"`
	CompletedChunks int           `json:"completed_chunks"`
	FailedChunks    int           `json:"failed_chunks"`
	LastHeartbeat   time.Time     `json:"last_heartbeat"`
	ErrorMessage    string        `json:"error_message,omitempty"`
	CreatedAt       time.Time     `json:"created_at"`
	UpdatedAt       time.Time     `json:"updated_at"`
}

// Validate checks if the session is valid
func (s *Session) Validate() error {
	if s.SessionID == "" {
		return &ValidationError{Field: "session_id", Message: "session ID is required"}
	}
	if s.URL == "" {
		return &ValidationError{Field: "url", Message: "url is required"}
	}
	if !s.Status.IsValid() {
		return &ValidationError{Field: "status", Message: "invalid session status: " + string(s.Status)}
	}
	if s.CompletedChunks < 0 || s.FailedChunks < 0 {
		return &ValidationError{Field: "completed_chunks", Message: "chunk counters cannot be negative"}
	}
	if s.TotalChunks != nil && s.CompletedChunks+s.FailedChunks > *s.TotalChunks {
		return &ValidationError{Field: "total_chunks", Message: "completed + failed exceeds total chunks"}
	}
	return nil
}

// IsStuck reports whether the session's heartbeat is older than the given
// threshold. Only processing sessions can be stuck.
func (s *Session) IsStuck(now time.Time, heartbeatTimeout time.Duration) bool {
	return s.Status == SessionStatusProcessing &&
		s.LastHeartbeat.Before(now.Add(-heartbeatTimeout))
}

// IsExpired reports whether the session has outlived the maximum session
// lifetime.
func (s *Session) IsExpired(now time.Time, sessionTimeout time.Duration) bool {
	return s.Status == SessionStatusProcessing &&
		s.CreatedAt.Before(now.Add(-sessionTimeout))
}

// AllChunksAccounted reports whether every chunk reached a terminal
// per-chunk outcome.
func (s *Session) AllChunksAccounted() bool {
	return s.TotalChunks != nil && *s.TotalChunks > 0 &&
		s.CompletedChunks+s.FailedChunks == *s.TotalChunks
}

// ProgressUpdate carries a progress report from the orchestrator to the
// session manager.
type ProgressUpdate struct {
	CompletedChunks int    `json:"completed_chunks"`
	FailedChunks    int    `json:"failed_chunks"`
	TotalChunks     *int   `json:"total_chunks,omitempty"`
	Stage           string `json:"stage"`
	Force           bool   `json:"-"`
}

// SessionResult summarizes a finished session for the owning job's result
// object.
type SessionResult struct {
	SessionID       string `json:"session_id"`
	Status          string `json:"status"`
	CompletedChunks int    `json:"completed_chunks"`
	FailedChunks    int    `json:"failed_chunks"`
	ErrorMessage    string `json:"error_message,omitempty"`
}
