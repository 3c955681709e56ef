package services

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"knowledge-ingest/internal/models"
	"knowledge-ingest/internal/repositories"
)

// memChunkRepo is an in-memory ChunkRepository for tests
type memChunkRepo struct {
	mu        sync.Mutex
	chunks    map[string]*models.Chunk
	upsertErr error
	orphanIDs []string
}

func newMemChunkRepo() *memChunkRepo {
	return &memChunkRepo{chunks: map[string]*models.Chunk{}}
}

func (m *memChunkRepo) Upsert(ctx context.Context, chunk *models.Chunk) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.upsertErr != nil {
		return m.upsertErr
	}
	copied := *chunk
	if existing, ok := m.chunks[chunk.ChunkID]; ok {
		copied.CreatedAt = existing.CreatedAt
	} else if copied.CreatedAt.IsZero() {
		copied.CreatedAt = time.Now()
	}
	copied.UpdatedAt = time.Now()
	m.chunks[chunk.ChunkID] = &copied
	return nil
}

func (m *memChunkRepo) Get(ctx context.Context, chunkID string) (*models.Chunk, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	chunk, ok := m.chunks[chunkID]
	if !ok {
		return nil, repositories.ChunkNotFoundError(chunkID)
	}
	copied := *chunk
	return &copied, nil
}

func (m *memChunkRepo) ListBySession(ctx context.Context, sessionID string) ([]*models.Chunk, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.Chunk
	for _, chunk := range m.chunks {
		if chunk.SessionID == sessionID {
			copied := *chunk
			out = append(out, &copied)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ChunkIndex < out[j].ChunkIndex })
	return out, nil
}

func (m *memChunkRepo) SetEmbeddingStatus(ctx context.Context, chunkID string, status models.EmbeddingStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	chunk, ok := m.chunks[chunkID]
	if !ok {
		return repositories.ChunkNotFoundError(chunkID)
	}
	chunk.EmbeddingStatus = status
	chunk.UpdatedAt = time.Now()
	return nil
}

func (m *memChunkRepo) FindOrphaned(ctx context.Context, limit int) ([]*models.Chunk, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.Chunk
	for _, id := range m.orphanIDs {
		if chunk, ok := m.chunks[id]; ok && len(out) < limit {
			copied := *chunk
			out = append(out, &copied)
		}
	}
	return out, nil
}

func (m *memChunkRepo) CountBySession(ctx context.Context, sessionID string) (int, error) {
	chunks, _ := m.ListBySession(ctx, sessionID)
	return len(chunks), nil
}

// memVectorRepo is an in-memory VectorRepository for tests
type memVectorRepo struct {
	mu        sync.Mutex
	vectors   map[string][]float32
	payloads  map[string]models.VectorPayload
	upsertErr error
}

func newMemVectorRepo() *memVectorRepo {
	return &memVectorRepo{
		vectors:  map[string][]float32{},
		payloads: map[string]models.VectorPayload{},
	}
}

func (m *memVectorRepo) Upsert(ctx context.Context, chunkID string, vector []float32, payload models.VectorPayload) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.upsertErr != nil {
		return m.upsertErr
	}
	m.vectors[chunkID] = vector
	m.payloads[chunkID] = payload
	return nil
}

func (m *memVectorRepo) Delete(ctx context.Context, chunkIDs []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range chunkIDs {
		delete(m.vectors, id)
		delete(m.payloads, id)
	}
	return nil
}

func (m *memVectorRepo) Has(ctx context.Context, chunkID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.vectors[chunkID]
	return ok, nil
}

func (m *memVectorRepo) Search(ctx context.Context, vector []float32, limit int) ([]repositories.VectorMatch, error) {
	return nil, nil
}

func (m *memVectorRepo) Ping(ctx context.Context) error { return nil }

func (m *memVectorRepo) has(chunkID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.vectors[chunkID]
	return ok
}

func (m *memVectorRepo) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.vectors)
}

// memSessionRepo is an in-memory SessionRepository for tests. It
// reproduces the terminal-immutability semantics of the Postgres
// implementation.
type memSessionRepo struct {
	mu       sync.Mutex
	sessions map[string]*models.Session
}

func newMemSessionRepo() *memSessionRepo {
	return &memSessionRepo{sessions: map[string]*models.Session{}}
}

func (m *memSessionRepo) Create(ctx context.Context, session *models.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[session.SessionID]; ok {
		return errors.New("duplicate session")
	}
	copied := *session
	copied.Status = models.SessionStatusProcessing
	copied.LastHeartbeat = time.Now()
	copied.CreatedAt = time.Now()
	copied.UpdatedAt = time.Now()
	m.sessions[session.SessionID] = &copied
	return nil
}

func (m *memSessionRepo) Get(ctx context.Context, sessionID string) (*models.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	session, ok := m.sessions[sessionID]
	if !ok {
		return nil, repositories.SessionNotFoundError(sessionID)
	}
	copied := *session
	return &copied, nil
}

func (m *memSessionRepo) UpdateProgress(ctx context.Context, sessionID string, completed, failed int, total *int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	session, ok := m.sessions[sessionID]
	if !ok || session.Status != models.SessionStatusProcessing {
		return nil
	}
	session.CompletedChunks = completed
	session.FailedChunks = failed
	if total != nil {
		session.TotalChunks = total
	}
	session.LastHeartbeat = time.Now()
	session.UpdatedAt = time.Now()
	return nil
}

func (m *memSessionRepo) Heartbeat(ctx context.Context, sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if session, ok := m.sessions[sessionID]; ok && session.Status == models.SessionStatusProcessing {
		session.LastHeartbeat = time.Now()
	}
	return nil
}

func (m *memSessionRepo) AppendError(ctx context.Context, sessionID string, message string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if session, ok := m.sessions[sessionID]; ok && session.ErrorMessage == "" {
		session.ErrorMessage = message
	}
	return nil
}

func (m *memSessionRepo) End(ctx context.Context, sessionID string, status models.SessionStatus, errorMessage string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	session, ok := m.sessions[sessionID]
	if !ok {
		return false, repositories.SessionNotFoundError(sessionID)
	}
	if session.Status != models.SessionStatusProcessing {
		return false, nil
	}
	session.Status = status
	if errorMessage != "" && session.ErrorMessage == "" {
		session.ErrorMessage = errorMessage
	}
	session.UpdatedAt = time.Now()
	return true, nil
}

func (m *memSessionRepo) FindStuck(ctx context.Context, heartbeatBefore time.Time) ([]*models.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.Session
	for _, session := range m.sessions {
		if session.Status == models.SessionStatusProcessing && session.LastHeartbeat.Before(heartbeatBefore) {
			copied := *session
			out = append(out, &copied)
		}
	}
	return out, nil
}

func (m *memSessionRepo) FindExpired(ctx context.Context, createdBefore time.Time) ([]*models.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.Session
	for _, session := range m.sessions {
		if session.Status == models.SessionStatusProcessing && session.CreatedAt.Before(createdBefore) {
			copied := *session
			out = append(out, &copied)
		}
	}
	return out, nil
}

func (m *memSessionRepo) FailBatch(ctx context.Context, sessionIDs []string, reason string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	failed := 0
	for _, id := range sessionIDs {
		session, ok := m.sessions[id]
		if !ok || session.Status != models.SessionStatusProcessing {
			continue
		}
		session.Status = models.SessionStatusFailed
		if session.ErrorMessage == "" {
			session.ErrorMessage = reason
		}
		failed++
	}
	return failed, nil
}

func (m *memSessionRepo) CountByStatus(ctx context.Context) (map[models.SessionStatus]int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	counts := map[models.SessionStatus]int{}
	for _, session := range m.sessions {
		counts[session.Status]++
	}
	return counts, nil
}

func (m *memSessionRepo) Ping(ctx context.Context) error { return nil }

func (m *memSessionRepo) setHeartbeat(sessionID string, t time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if session, ok := m.sessions[sessionID]; ok {
		session.LastHeartbeat = t
	}
}

func (m *memSessionRepo) setCreatedAt(sessionID string, t time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if session, ok := m.sessions[sessionID]; ok {
		session.CreatedAt = t
	}
}

// memJobRepo is an in-memory JobRepository for tests. Claim ordering
// matches the Postgres implementation: priority descending, then
// created_at ascending.
type memJobRepo struct {
	mu   sync.Mutex
	jobs map[string]*models.Job
}

func newMemJobRepo() *memJobRepo {
	return &memJobRepo{jobs: map[string]*models.Job{}}
}

func (m *memJobRepo) Enqueue(ctx context.Context, job *models.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	copied := *job
	copied.Status = models.JobStatusQueued
	if copied.CreatedAt.IsZero() {
		copied.CreatedAt = time.Now()
	}
	copied.UpdatedAt = time.Now()
	m.jobs[job.ID] = &copied
	return nil
}

func (m *memJobRepo) Claim(ctx context.Context, workerID string) (*models.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var best *models.Job
	now := time.Now()
	for _, job := range m.jobs {
		if !job.Status.IsClaimable() {
			continue
		}
		if job.RetryAfter != nil && job.RetryAfter.After(now) {
			continue
		}
		if best == nil ||
			job.Priority > best.Priority ||
			(job.Priority == best.Priority && job.CreatedAt.Before(best.CreatedAt)) {
			best = job
		}
	}
	if best == nil {
		return nil, nil
	}
	best.Status = models.JobStatusProcessing
	best.Attempts++
	best.WorkerID = workerID
	best.RetryAfter = nil
	if best.StartedAt == nil {
		started := now
		best.StartedAt = &started
	}
	copied := *best
	return &copied, nil
}

func (m *memJobRepo) Get(ctx context.Context, jobID string) (*models.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[jobID]
	if !ok {
		return nil, repositories.JobNotFoundError(jobID)
	}
	copied := *job
	return &copied, nil
}

func (m *memJobRepo) Complete(ctx context.Context, jobID string, result map[string]interface{}) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[jobID]
	if !ok || job.Status != models.JobStatusProcessing {
		return repositories.NewJobRepositoryError("complete_job", jobID, nil, "job is not processing: "+jobID)
	}
	job.Status = models.JobStatusCompleted
	job.Result = result
	done := time.Now()
	job.CompletedAt = &done
	return nil
}

func (m *memJobRepo) FailOrRetry(ctx context.Context, jobID string, errorMessage string, retryAfter time.Time) (models.JobStatus, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[jobID]
	if !ok || job.Status != models.JobStatusProcessing {
		return "", repositories.NewJobRepositoryError("fail_job", jobID, nil, "job is not processing: "+jobID)
	}
	job.ErrorMessage = errorMessage
	if job.Attempts < job.MaxAttempts {
		job.Status = models.JobStatusRetrying
		job.RetryAfter = &retryAfter
	} else {
		job.Status = models.JobStatusFailed
		done := time.Now()
		job.CompletedAt = &done
	}
	return job.Status, nil
}

func (m *memJobRepo) Fail(ctx context.Context, jobID string, errorMessage string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[jobID]
	if !ok || job.Status != models.JobStatusProcessing {
		return repositories.NewJobRepositoryError("fail_job", jobID, nil, "job is not processing: "+jobID)
	}
	job.Status = models.JobStatusFailed
	job.ErrorMessage = errorMessage
	done := time.Now()
	job.CompletedAt = &done
	return nil
}

func (m *memJobRepo) Cancel(ctx context.Context, jobID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[jobID]
	if !ok || !job.Status.IsClaimable() {
		return false, nil
	}
	job.Status = models.JobStatusCancelled
	done := time.Now()
	job.CompletedAt = &done
	return true, nil
}

func (m *memJobRepo) List(ctx context.Context, filter repositories.JobFilter) ([]*models.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.Job
	for _, job := range m.jobs {
		if filter.Status != "" && job.Status != filter.Status {
			continue
		}
		if filter.Type != "" && job.Type != filter.Type {
			continue
		}
		copied := *job
		out = append(out, &copied)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (m *memJobRepo) CleanupTerminal(ctx context.Context, completedBefore time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	removed := 0
	for id, job := range m.jobs {
		if job.Status.IsTerminal() && job.CompletedAt != nil && job.CompletedAt.Before(completedBefore) {
			delete(m.jobs, id)
			removed++
		}
	}
	return removed, nil
}

func (m *memJobRepo) FailStale(ctx context.Context, startedBefore time.Time, reason string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	failed := 0
	for _, job := range m.jobs {
		if job.Status == models.JobStatusProcessing && job.StartedAt != nil && job.StartedAt.Before(startedBefore) {
			job.Status = models.JobStatusFailed
			if job.ErrorMessage == "" {
				job.ErrorMessage = reason
			}
			done := time.Now()
			job.CompletedAt = &done
			failed++
		}
	}
	return failed, nil
}

func (m *memJobRepo) CountByStatus(ctx context.Context) (map[models.JobStatus]int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	counts := map[models.JobStatus]int{}
	for _, job := range m.jobs {
		counts[job.Status]++
	}
	return counts, nil
}
