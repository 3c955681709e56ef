package services

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"knowledge-ingest/internal/models"
	"knowledge-ingest/internal/repositories"
)

// SessionService owns the session lifecycle. Terminal transitions are
// serialized by the repository's single-statement updates; the service
// adds event emission and progress throttling on top.
type SessionService struct {
	repo     repositories.SessionRepository
	stream   *StreamService
	throttle time.Duration
	log      Logger

	mu       sync.Mutex
	lastEmit map[string]progressMark
}

type progressMark struct {
	at        time.Time
	completed int
	failed    int
}

// NewSessionService creates a session service. throttle <= 0 takes the
// 5 second default.
func NewSessionService(repo repositories.SessionRepository, stream *StreamService, throttle time.Duration, log Logger) *SessionService {
	if throttle <= 0 {
		throttle = 5 * time.Second
	}
	return &SessionService{
		repo:     repo,
		stream:   stream,
		throttle: throttle,
		log:      log,
		lastEmit: make(map[string]progressMark),
	}
}

// Start creates the session row in processing state. A client-supplied
// session id is honored; otherwise one is generated.
func (s *SessionService) Start(ctx context.Context, url, filename, sessionID string) (*models.Session, error) {
	if sessionID == "" {
		sessionID = uuid.NewString()
	}

	session := &models.Session{
		SessionID: sessionID,
		URL:       url,
		Filename:  filename,
		Status:    models.SessionStatusProcessing,
	}
	if err := s.repo.Create(ctx, session); err != nil {
		return nil, err
	}

	s.log.Info("session %s started for %s", sessionID, url)
	return session, nil
}

// Get retrieves a session
func (s *SessionService) Get(ctx context.Context, sessionID string) (*models.Session, error) {
	return s.repo.Get(ctx, sessionID)
}

// UpdateProgress writes the counters and emits a progress_update event.
// Redundant updates inside the throttle window are coalesced: the row is
// still written (it carries the heartbeat) but no event goes out unless
// the counters changed, the window elapsed, or Force is set.
func (s *SessionService) UpdateProgress(ctx context.Context, sessionID string, update models.ProgressUpdate) error {
	if err := s.repo.UpdateProgress(ctx, sessionID, update.CompletedChunks, update.FailedChunks, update.TotalChunks); err != nil {
		return err
	}

	if !s.shouldEmit(sessionID, update) {
		return nil
	}

	data := map[string]interface{}{
		"session_id":       sessionID,
		"completed_chunks": update.CompletedChunks,
		"failed_chunks":    update.FailedChunks,
		"stage":            update.Stage,
	}
	if update.TotalChunks != nil {
		data["total_chunks"] = *update.TotalChunks
	}
	s.stream.Publish(models.NewEvent(sessionID, models.EventProgressUpdate, data))
	return nil
}

// shouldEmit applies the throttle window to progress events
func (s *SessionService) shouldEmit(sessionID string, update models.ProgressUpdate) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	mark, seen := s.lastEmit[sessionID]
	if !update.Force && seen &&
		mark.completed == update.CompletedChunks &&
		mark.failed == update.FailedChunks &&
		now.Sub(mark.at) < s.throttle {
		return false
	}
	s.lastEmit[sessionID] = progressMark{
		at:        now,
		completed: update.CompletedChunks,
		failed:    update.FailedChunks,
	}
	return true
}

// Heartbeat updates last_heartbeat only
func (s *SessionService) Heartbeat(ctx context.Context, sessionID string) error {
	return s.repo.Heartbeat(ctx, sessionID)
}

// RecordError appends error context and emits error_occurred. It never
// fails the session by itself; only the orchestrator's terminal decision
// or the cleanup service do that.
func (s *SessionService) RecordError(ctx context.Context, sessionID string, cause error, details map[string]interface{}) error {
	if err := s.repo.AppendError(ctx, sessionID, cause.Error()); err != nil {
		return err
	}

	data := map[string]interface{}{
		"session_id": sessionID,
		"error":      cause.Error(),
		"kind":       string(models.KindOf(cause)),
	}
	for k, v := range details {
		data[k] = v
	}
	s.stream.Publish(models.NewEvent(sessionID, models.EventErrorOccurred, data))
	return nil
}

// End transitions the session to a terminal status and emits
// processing_completed. Ending an already-terminal session is a no-op
// and emits nothing.
func (s *SessionService) End(ctx context.Context, sessionID string, status models.SessionStatus, errorMessage string) (*models.SessionResult, error) {
	transitioned, err := s.repo.End(ctx, sessionID, status, errorMessage)
	if err != nil {
		return nil, err
	}

	session, err := s.repo.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	result := &models.SessionResult{
		SessionID:       session.SessionID,
		Status:          string(session.Status),
		CompletedChunks: session.CompletedChunks,
		FailedChunks:    session.FailedChunks,
		ErrorMessage:    session.ErrorMessage,
	}

	if !transitioned {
		return result, nil
	}

	s.mu.Lock()
	delete(s.lastEmit, sessionID)
	s.mu.Unlock()

	s.stream.Publish(models.NewEvent(sessionID, models.EventProcessingCompleted, map[string]interface{}{
		"session_id":       sessionID,
		"status":           string(session.Status),
		"completed_chunks": session.CompletedChunks,
		"failed_chunks":    session.FailedChunks,
		"error_message":    session.ErrorMessage,
	}))
	s.log.Info("session %s ended with status %s (%d completed, %d failed)",
		sessionID, session.Status, session.CompletedChunks, session.FailedChunks)
	return result, nil
}
