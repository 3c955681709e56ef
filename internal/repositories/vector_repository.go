package repositories

import (
	"context"

	"knowledge-ingest/internal/models"
)

// VectorRepository defines the interface for the vector store. Point ids
// are the chunk ids, so upserts are idempotent and a relational row can
// always be joined back to its vector.
type VectorRepository interface {
	// Upsert writes a vector with its payload, replacing any point with
	// the same id.
	Upsert(ctx context.Context, chunkID string, vector []float32, payload models.VectorPayload) error

	// Delete removes points by chunk id
	Delete(ctx context.Context, chunkIDs []string) error

	// Has reports whether a point with the chunk id exists
	Has(ctx context.Context, chunkID string) (bool, error)

	// Search returns the ids and scores of the nearest points
	Search(ctx context.Context, vector []float32, limit int) ([]VectorMatch, error)

	// Health
	Ping(ctx context.Context) error
}

// VectorMatch is a single search hit
type VectorMatch struct {
	ChunkID string
	Score   float32
	Payload models.VectorPayload
}

// VectorRepositoryError represents errors from the vector store
type VectorRepositoryError struct {
	Operation string
	ChunkID   string
	Err       error
	Message   string
}

func (e *VectorRepositoryError) Error() string {
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

func (e *VectorRepositoryError) Unwrap() error {
	return e.Err
}

// NewVectorRepositoryError creates a new vector repository error
func NewVectorRepositoryError(operation, chunkID string, err error, message string) *VectorRepositoryError {
	return &VectorRepositoryError{
		Operation: operation,
		ChunkID:   chunkID,
		Err:       err,
		Message:   message,
	}
}
