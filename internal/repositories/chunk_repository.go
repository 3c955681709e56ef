package repositories

import (
	"context"

	"knowledge-ingest/internal/models"
)

// ChunkRepository defines the interface for chunk row persistence. The
// relational row is the authoritative record; the vector store is an
// eventually consistent secondary keyed by the same chunk id.
type ChunkRepository interface {
	// Upsert writes the chunk row, idempotent on chunk_id. On conflict
	// mutable fields and updated_at change; created_at does not.
	Upsert(ctx context.Context, chunk *models.Chunk) error

	// Get retrieves a chunk by ID
	Get(ctx context.Context, chunkID string) (*models.Chunk, error)

	// ListBySession returns a session's chunks ordered by chunk_index
	ListBySession(ctx context.Context, sessionID string) ([]*models.Chunk, error)

	// SetEmbeddingStatus updates the embedding status of a chunk
	SetEmbeddingStatus(ctx context.Context, chunkID string, status models.EmbeddingStatus) error

	// FindOrphaned returns chunks whose session row no longer exists
	FindOrphaned(ctx context.Context, limit int) ([]*models.Chunk, error)

	// CountBySession returns the number of chunk rows for a session
	CountBySession(ctx context.Context, sessionID string) (int, error)
}

// ChunkRepositoryError represents errors from the chunk repository
type ChunkRepositoryError struct {
	Operation string
	ChunkID   string
	Err       error
	Message   string
}

func (e *ChunkRepositoryError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	prefix := e.Operation
	if e.ChunkID != "" {
		prefix += " (chunk: " + e.ChunkID + ")"
	}
	if e.Err != nil {
		return prefix + ": " + e.Err.Error()
	}
	return prefix + ": unknown error"
}

func (e *ChunkRepositoryError) Unwrap() error {
	return e.Err
}

// NewChunkRepositoryError creates a new chunk repository error
func NewChunkRepositoryError(operation, chunkID string, err error, message string) *ChunkRepositoryError {
	return &ChunkRepositoryError{
		Operation: operation,
		ChunkID:   chunkID,
		Err:       err,
		Message:   message,
	}
}

// ChunkNotFoundError indicates the chunk does not exist
func ChunkNotFoundError(chunkID string) error {
	return NewChunkRepositoryError("get_chunk", chunkID, ErrNotFound, "chunk not found: "+chunkID)
}
