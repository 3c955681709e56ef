package repositories

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"knowledge-ingest/internal/models"
)

// PostgresChunkRepository implements ChunkRepository on the relational store
type PostgresChunkRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresChunkRepository creates a new Postgres-backed chunk repository
func NewPostgresChunkRepository(pool *pgxpool.Pool) *PostgresChunkRepository {
	return &PostgresChunkRepository{pool: pool}
}

const chunkColumns = `chunk_id, session_id, url, title, chunk_index, chunk_text,
	contextual_summary, embedding_status, processing_status, sentiment, category,
	content_type, technical_level, main_topics, key_concepts, emotions, tags,
	key_entities, uses_contextual_embedding, created_at, updated_at`

// Upsert writes the chunk row, idempotent on chunk_id
func (r *PostgresChunkRepository) Upsert(ctx context.Context, chunk *models.Chunk) error {
	if err := chunk.Validate(); err != nil {
		return err
	}

	mainTopics, err := json.Marshal(chunk.Analysis.MainTopics)
	if err != nil {
		return NewChunkRepositoryError("upsert_chunk", chunk.ChunkID, err, "failed to marshal main_topics")
	}
	emotions, err := json.Marshal(chunk.Analysis.Emotions)
	if err != nil {
		return NewChunkRepositoryError("upsert_chunk", chunk.ChunkID, err, "failed to marshal emotions")
	}
	keyEntities, err := json.Marshal(chunk.Analysis.KeyEntities)
	if err != nil {
		return NewChunkRepositoryError("upsert_chunk", chunk.ChunkID, err, "failed to marshal key_entities")
	}

	_, err = r.pool.Exec(ctx, `
		INSERT INTO chunks (chunk_id, session_id, url, title, chunk_index, chunk_text,
			contextual_summary, embedding_status, processing_status, sentiment, category,
			content_type, technical_level, main_topics, key_concepts, emotions, tags,
			key_entities, uses_contextual_embedding)
		VALUES ($1, $2, $3, $4, $5, $6, NULLIF($7, ''), $8, $9, $10, $11, $12, $13,
			$14, $15, $16, $17, $18, $19)
		ON CONFLICT (chunk_id) DO UPDATE SET
			url = EXCLUDED.url,
			title = EXCLUDED.title,
			chunk_text = EXCLUDED.chunk_text,
			contextual_summary = EXCLUDED.contextual_summary,
			embedding_status = EXCLUDED.embedding_status,
			processing_status = EXCLUDED.processing_status,
			sentiment = EXCLUDED.sentiment,
			category = EXCLUDED.category,
			content_type = EXCLUDED.content_type,
			technical_level = EXCLUDED.technical_level,
			main_topics = EXCLUDED.main_topics,
			key_concepts = EXCLUDED.key_concepts,
			emotions = EXCLUDED.emotions,
			tags = EXCLUDED.tags,
			key_entities = EXCLUDED.key_entities,
			uses_contextual_embedding = EXCLUDED.uses_contextual_embedding,
			updated_at = now()`,
		chunk.ChunkID, chunk.SessionID, chunk.URL, chunk.Title, chunk.ChunkIndex,
		chunk.ChunkText, chunk.ContextualSummary, string(chunk.EmbeddingStatus),
		string(chunk.ProcessingStatus), chunk.Analysis.Sentiment, chunk.Analysis.Category,
		chunk.Analysis.ContentType, chunk.Analysis.TechnicalLevel, mainTopics,
		chunk.Analysis.KeyConcepts, emotions, chunk.Analysis.Tags, keyEntities,
		chunk.UsesContextualEmbedding)
	if err != nil {
		return NewChunkRepositoryError("upsert_chunk", chunk.ChunkID, err, "")
	}
	return nil
}

// Get retrieves a chunk by ID
func (r *PostgresChunkRepository) Get(ctx context.Context, chunkID string) (*models.Chunk, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+chunkColumns+` FROM chunks WHERE chunk_id = $1`, chunkID)
	chunk, err := scanChunk(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ChunkNotFoundError(chunkID)
	}
	if err != nil {
		return nil, NewChunkRepositoryError("get_chunk", chunkID, err, "")
	}
	return chunk, nil
}

// ListBySession returns a session's chunks ordered by chunk_index
func (r *PostgresChunkRepository) ListBySession(ctx context.Context, sessionID string) ([]*models.Chunk, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+chunkColumns+` FROM chunks
		WHERE session_id = $1 ORDER BY chunk_index ASC`, sessionID)
	if err != nil {
		return nil, NewChunkRepositoryError("list_by_session", "", err, "")
	}
	defer rows.Close()

	var chunks []*models.Chunk
	for rows.Next() {
		chunk, err := scanChunk(rows)
		if err != nil {
			return nil, NewChunkRepositoryError("list_by_session", "", err, "")
		}
		chunks = append(chunks, chunk)
	}
	return chunks, rows.Err()
}

// SetEmbeddingStatus updates the embedding status of a chunk
func (r *PostgresChunkRepository) SetEmbeddingStatus(ctx context.Context, chunkID string, status models.EmbeddingStatus) error {
	if !status.IsValid() {
		return NewChunkRepositoryError("set_embedding_status", chunkID, nil, "invalid embedding status: "+string(status))
	}
	_, err := r.pool.Exec(ctx, `
		UPDATE chunks SET embedding_status = $2, updated_at = now()
		WHERE chunk_id = $1`, chunkID, string(status))
	if err != nil {
		return NewChunkRepositoryError("set_embedding_status", chunkID, err, "")
	}
	return nil
}

// FindOrphaned returns chunks whose session row no longer exists. These
// appear after manual deletion or migration of the sessions table.
func (r *PostgresChunkRepository) FindOrphaned(ctx context.Context, limit int) ([]*models.Chunk, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.pool.Query(ctx, `
		SELECT `+chunkColumns+` FROM chunks c
		WHERE NOT EXISTS (SELECT 1 FROM sessions s WHERE s.session_id = c.session_id)
		LIMIT $1`, limit)
	if err != nil {
		return nil, NewChunkRepositoryError("find_orphaned", "", err, "")
	}
	defer rows.Close()

	var chunks []*models.Chunk
	for rows.Next() {
		chunk, err := scanChunk(rows)
		if err != nil {
			return nil, NewChunkRepositoryError("find_orphaned", "", err, "")
		}
		chunks = append(chunks, chunk)
	}
	return chunks, rows.Err()
}

// CountBySession returns the number of chunk rows for a session
func (r *PostgresChunkRepository) CountBySession(ctx context.Context, sessionID string) (int, error) {
	var count int
	err := r.pool.QueryRow(ctx, `SELECT count(*) FROM chunks WHERE session_id = $1`, sessionID).Scan(&count)
	if err != nil {
		return 0, NewChunkRepositoryError("count_by_session", "", err, "")
	}
	return count, nil
}

func scanChunk(row pgx.Row) (*models.Chunk, error) {
	var c models.Chunk
	var title, contextualSummary, sentiment, category, contentType, technicalLevel, keyConcepts, tags *string
	var embeddingStatus, processingStatus string
	var mainTopics, emotions, keyEntities []byte

	if err := row.Scan(&c.ChunkID, &c.SessionID, &c.URL, &title, &c.ChunkIndex,
		&c.ChunkText, &contextualSummary, &embeddingStatus, &processingStatus,
		&sentiment, &category, &contentType, &technicalLevel, &mainTopics,
		&keyConcepts, &emotions, &tags, &keyEntities, &c.UsesContextualEmbedding,
		&c.CreatedAt, &c.UpdatedAt); err != nil {
		return nil, err
	}

	c.EmbeddingStatus = models.EmbeddingStatus(embeddingStatus)
	c.ProcessingStatus = models.SessionStatus(processingStatus)
	if title != nil {
		c.Title = *title
	}
	if contextualSummary != nil {
		c.ContextualSummary = *contextualSummary
	}
	if sentiment != nil {
		c.Analysis.Sentiment = *sentiment
	}
	if category != nil {
		c.Analysis.Category = *category
	}
	if contentType != nil {
		c.Analysis.ContentType = *contentType
	}
	if technicalLevel != nil {
		c.Analysis.TechnicalLevel = *technicalLevel
	}
	if keyConcepts != nil {
		c.Analysis.KeyConcepts = *keyConcepts
	}
	if tags != nil {
		c.Analysis.Tags = *tags
	}
	if err := json.Unmarshal(mainTopics, &c.Analysis.MainTopics); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(emotions, &c.Analysis.Emotions); err != nil {
		return nil, err
	}
	if len(keyEntities) > 0 {
		if err := json.Unmarshal(keyEntities, &c.Analysis.KeyEntities); err != nil {
			return nil, err
		}
	}
	c.Analysis.Normalize()
	return &c, nil
}
