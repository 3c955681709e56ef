package handlers

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sashabaranov/go-openai"

	"knowledge-ingest/internal/models"
	"knowledge-ingest/internal/repositories"
)

// stubJobs is an in-memory JobRepository for handler tests
type stubJobs struct {
	mu   sync.Mutex
	jobs map[string]*models.Job

	enqueueErr error
}

func newStubJobs() *stubJobs {
	return &stubJobs{jobs: map[string]*models.Job{}}
}

func (s *stubJobs) Enqueue(ctx context.Context, job *models.Job) error {
	if s.enqueueErr != nil {
		return s.enqueueErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	clone := *job
	clone.CreatedAt = time.Now()
	clone.UpdatedAt = clone.CreatedAt
	s.jobs[job.ID] = &clone
	return nil
}

func (s *stubJobs) Claim(ctx context.Context, workerID string) (*models.Job, error) {
	return nil, nil
}

func (s *stubJobs) Get(ctx context.Context, jobID string) (*models.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return nil, repositories.JobNotFoundError(jobID)
	}
	clone := *job
	return &clone, nil
}

func (s *stubJobs) Complete(ctx context.Context, jobID string, result map[string]interface{}) error {
	return errors.New("not implemented")
}

func (s *stubJobs) FailOrRetry(ctx context.Context, jobID string, errorMessage string, retryAfter time.Time) (models.JobStatus, error) {
	return "", errors.New("not implemented")
}

func (s *stubJobs) Fail(ctx context.Context, jobID string, errorMessage string) error {
	return errors.New("not implemented")
}

func (s *stubJobs) Cancel(ctx context.Context, jobID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok || !job.Status.IsClaimable() {
		return false, nil
	}
	job.Status = models.JobStatusCancelled
	return true, nil
}

func (s *stubJobs) List(ctx context.Context, filter repositories.JobFilter) ([]*models.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.Job
	for _, job := range s.jobs {
		if filter.Status != "" && job.Status != filter.Status {
			continue
		}
		if filter.Type != "" && job.Type != filter.Type {
			continue
		}
		clone := *job
		out = append(out, &clone)
	}
	return out, nil
}

func (s *stubJobs) CleanupTerminal(ctx context.Context, completedBefore time.Time) (int, error) {
	return 0, nil
}

func (s *stubJobs) FailStale(ctx context.Context, startedBefore time.Time, reason string) (int, error) {
	return 0, nil
}

func (s *stubJobs) CountByStatus(ctx context.Context) (map[models.JobStatus]int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	counts := map[models.JobStatus]int{}
	for _, job := range s.jobs {
		counts[job.Status]++
	}
	return counts, nil
}

// stubBlobs is an in-memory BlobRepository for handler tests
type stubBlobs struct {
	mu      sync.Mutex
	uploads map[string]*repositories.Upload
	putErr  error
}

func newStubBlobs() *stubBlobs {
	return &stubBlobs{uploads: map[string]*repositories.Upload{}}
}

func (s *stubBlobs) Put(ctx context.Context, upload *repositories.Upload, ttl time.Duration) error {
	if s.putErr != nil {
		return s.putErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.uploads[upload.Ref] = upload
	return nil
}

func (s *stubBlobs) Get(ctx context.Context, ref string) (*repositories.Upload, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	upload, ok := s.uploads[ref]
	if !ok {
		return nil, repositories.UploadNotFoundError(ref)
	}
	return upload, nil
}

func (s *stubBlobs) Delete(ctx context.Context, ref string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.uploads, ref)
	return nil
}

func (s *stubBlobs) Ping(ctx context.Context) error { return nil }

// stubCanceller records pipeline cancellation requests
type stubCanceller struct {
	mu        sync.Mutex
	requested []string
	accept    bool
}

func (s *stubCanceller) CancelJob(jobID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requested = append(s.requested, jobID)
	return s.accept
}

// stubSessions is an in-memory SessionRepository for handler tests
type stubSessions struct {
	mu       sync.Mutex
	sessions map[string]*models.Session
}

func newStubSessions() *stubSessions {
	return &stubSessions{sessions: map[string]*models.Session{}}
}

func (s *stubSessions) Create(ctx context.Context, session *models.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	clone := *session
	clone.CreatedAt = time.Now()
	clone.UpdatedAt = clone.CreatedAt
	clone.LastHeartbeat = clone.CreatedAt
	s.sessions[session.SessionID] = &clone
	return nil
}

func (s *stubSessions) Get(ctx context.Context, sessionID string) (*models.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	session, ok := s.sessions[sessionID]
	if !ok {
		return nil, repositories.SessionNotFoundError(sessionID)
	}
	clone := *session
	return &clone, nil
}

func (s *stubSessions) UpdateProgress(ctx context.Context, sessionID string, completed, failed int, total *int) error {
	return nil
}

func (s *stubSessions) Heartbeat(ctx context.Context, sessionID string) error { return nil }

func (s *stubSessions) AppendError(ctx context.Context, sessionID string, message string) error {
	return nil
}

func (s *stubSessions) End(ctx context.Context, sessionID string, status models.SessionStatus, errorMessage string) (bool, error) {
	return false, nil
}

func (s *stubSessions) FindStuck(ctx context.Context, heartbeatBefore time.Time) ([]*models.Session, error) {
	return nil, nil
}

func (s *stubSessions) FindExpired(ctx context.Context, createdBefore time.Time) ([]*models.Session, error) {
	return nil, nil
}

func (s *stubSessions) FailBatch(ctx context.Context, sessionIDs []string, reason string) (int, error) {
	return 0, nil
}

func (s *stubSessions) CountByStatus(ctx context.Context) (map[models.SessionStatus]int, error) {
	return map[models.SessionStatus]int{}, nil
}

func (s *stubSessions) Ping(ctx context.Context) error { return nil }

// stubChunks is an in-memory ChunkRepository for handler tests
type stubChunks struct {
	mu     sync.Mutex
	chunks map[string]*models.Chunk
}

func newStubChunks() *stubChunks {
	return &stubChunks{chunks: map[string]*models.Chunk{}}
}

func (s *stubChunks) Upsert(ctx context.Context, chunk *models.Chunk) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	clone := *chunk
	s.chunks[chunk.ChunkID] = &clone
	return nil
}

func (s *stubChunks) Get(ctx context.Context, chunkID string) (*models.Chunk, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	chunk, ok := s.chunks[chunkID]
	if !ok {
		return nil, repositories.ChunkNotFoundError(chunkID)
	}
	clone := *chunk
	return &clone, nil
}

func (s *stubChunks) ListBySession(ctx context.Context, sessionID string) ([]*models.Chunk, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.Chunk
	for _, chunk := range s.chunks {
		if chunk.SessionID == sessionID {
			clone := *chunk
			out = append(out, &clone)
		}
	}
	for i := 0; i < len(out); i++ {
		for j := i + 1; j < len(out); j++ {
			if out[j].ChunkIndex < out[i].ChunkIndex {
				out[i], out[j] = out[j], out[i]
			}
		}
	}
	return out, nil
}

func (s *stubChunks) SetEmbeddingStatus(ctx context.Context, chunkID string, status models.EmbeddingStatus) error {
	return nil
}

func (s *stubChunks) FindOrphaned(ctx context.Context, limit int) ([]*models.Chunk, error) {
	return nil, nil
}

func (s *stubChunks) CountBySession(ctx context.Context, sessionID string) (int, error) {
	return 0, nil
}

// stubVectors is an in-memory VectorRepository for handler tests
type stubVectors struct {
	mu      sync.Mutex
	matches []repositories.VectorMatch
}

func (s *stubVectors) Upsert(ctx context.Context, chunkID string, vector []float32, payload models.VectorPayload) error {
	return nil
}

func (s *stubVectors) Delete(ctx context.Context, chunkIDs []string) error { return nil }

func (s *stubVectors) Has(ctx context.Context, chunkID string) (bool, error) { return false, nil }

func (s *stubVectors) Search(ctx context.Context, vector []float32, limit int) ([]repositories.VectorMatch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if limit > len(s.matches) {
		limit = len(s.matches)
	}
	return s.matches[:limit], nil
}

func (s *stubVectors) Ping(ctx context.Context) error { return nil }

// fixedEmbedClient returns zero vectors of a fixed dimension
type fixedEmbedClient struct {
	dims int
}

func (f *fixedEmbedClient) CreateEmbeddings(ctx context.Context, conv openai.EmbeddingRequestConverter) (openai.EmbeddingResponse, error) {
	req := conv.Convert()
	texts, _ := req.Input.([]string)
	data := make([]openai.Embedding, len(texts))
	for i := range texts {
		data[i] = openai.Embedding{Index: i, Embedding: make([]float32, f.dims)}
	}
	return openai.EmbeddingResponse{Data: data}, nil
}

// pingError is a Pinger that always fails
type pingError struct {
	err error
}

func (p pingError) Ping(ctx context.Context) error { return p.err }

// pingOK is a Pinger that always succeeds
type pingOK struct{}

func (pingOK) Ping(ctx context.Context) error { return nil }
