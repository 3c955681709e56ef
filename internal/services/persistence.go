package services

import (
	"context"

	"knowledge-ingest/internal/models"
	"knowledge-ingest/internal/repositories"
)

// PersistenceWriter commits a processed chunk to both stores. The
// relational row is always written before the vector: a row with
// embedding_status=failed and no vector is a recoverable state, a
// vector with no row is not.
type PersistenceWriter struct {
	chunks  repositories.ChunkRepository
	vectors repositories.VectorRepository
	log     Logger
}

// NewPersistenceWriter creates a persistence writer
func NewPersistenceWriter(chunks repositories.ChunkRepository, vectors repositories.VectorRepository, log Logger) *PersistenceWriter {
	return &PersistenceWriter{chunks: chunks, vectors: vectors, log: log}
}

// PersistChunk writes the chunk row and then its vector. On vector
// failure the row is kept with embedding_status=failed as the recovery
// anchor. On success the chunk leaves with embedding_status=complete.
func (w *PersistenceWriter) PersistChunk(ctx context.Context, chunk *models.Chunk, vector []float32) error {
	chunk.EmbeddingStatus = models.EmbeddingStatusProcessing
	if err := w.chunks.Upsert(ctx, chunk); err != nil {
		return models.NewPipelineError(models.ErrRelationalStoreUnavailable, "persist_chunk", err, "")
	}

	if err := w.vectors.Upsert(ctx, chunk.ChunkID, vector, chunk.PayloadFor()); err != nil {
		w.log.Error("vector write failed for chunk %s, keeping row as recovery anchor: %v", chunk.ChunkID, err)
		chunk.EmbeddingStatus = models.EmbeddingStatusFailed
		if statusErr := w.chunks.SetEmbeddingStatus(ctx, chunk.ChunkID, models.EmbeddingStatusFailed); statusErr != nil {
			w.log.Error("failed to mark chunk %s embedding as failed: %v", chunk.ChunkID, statusErr)
		}
		return models.NewPipelineError(models.ErrVectorStoreUnavailable, "persist_chunk", err, "")
	}

	chunk.EmbeddingStatus = models.EmbeddingStatusComplete
	if err := w.chunks.SetEmbeddingStatus(ctx, chunk.ChunkID, models.EmbeddingStatusComplete); err != nil {
		return models.NewPipelineError(models.ErrRelationalStoreUnavailable, "persist_chunk", err, "")
	}
	return nil
}

// PersistFailedChunk records a chunk whose analysis or embedding failed.
// The row still lands in the relational store so the session's chunk
// accounting stays dense.
func (w *PersistenceWriter) PersistFailedChunk(ctx context.Context, chunk *models.Chunk) error {
	chunk.EmbeddingStatus = models.EmbeddingStatusFailed
	if err := w.chunks.Upsert(ctx, chunk); err != nil {
		return models.NewPipelineError(models.ErrRelationalStoreUnavailable, "persist_failed_chunk", err, "")
	}
	return nil
}

// DeleteVectors removes vector points, used when recovering orphans
func (w *PersistenceWriter) DeleteVectors(ctx context.Context, chunkIDs []string) error {
	if err := w.vectors.Delete(ctx, chunkIDs); err != nil {
		return models.NewPipelineError(models.ErrVectorStoreUnavailable, "delete_vectors", err, "")
	}
	return nil
}
