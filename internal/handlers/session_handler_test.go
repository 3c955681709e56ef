package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"knowledge-ingest/internal/logger"
	"knowledge-ingest/internal/models"
	"knowledge-ingest/internal/services"
)

func newSessionRouter(t *testing.T) (*mux.Router, *stubSessions, *stubChunks) {
	t.Helper()
	sessionRepo := newStubSessions()
	chunkRepo := newStubChunks()
	stream := services.NewStreamService(time.Minute, logger.Nop())
	sessions := services.NewSessionService(sessionRepo, stream, 0, logger.Nop())

	h := NewSessionHandler(sessions, chunkRepo, logger.Nop())
	router := mux.NewRouter()
	router.HandleFunc("/sessions/{id}", h.GetSession).Methods(http.MethodGet)
	router.HandleFunc("/sessions/{id}/chunks", h.ListSessionChunks).Methods(http.MethodGet)
	return router, sessionRepo, chunkRepo
}

func TestGetSession_ReturnsState(t *testing.T) {
	router, sessionRepo, _ := newSessionRouter(t)

	total := 4
	require.NoError(t, sessionRepo.Create(context.Background(), &models.Session{
		SessionID: "sess-1",
		URL:       "https://example.com/doc",
		Status:    models.SessionStatusProcessing,
	}))
	sessionRepo.sessions["sess-1"].TotalChunks = &total
	sessionRepo.sessions["sess-1"].CompletedChunks = 2

	req := httptest.NewRequest(http.MethodGet, "/sessions/sess-1", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var session models.Session
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &session))
	assert.Equal(t, "sess-1", session.SessionID)
	assert.Equal(t, models.SessionStatusProcessing, session.Status)
	require.NotNil(t, session.TotalChunks)
	assert.Equal(t, 4, *session.TotalChunks)
	assert.Equal(t, 2, session.CompletedChunks)
}

func TestGetSession_NotFound(t *testing.T) {
	router, _, _ := newSessionRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/sessions/missing", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestListSessionChunks_OrdersByIndexAndOmitsText(t *testing.T) {
	router, sessionRepo, chunkRepo := newSessionRouter(t)

	require.NoError(t, sessionRepo.Create(context.Background(), &models.Session{
		SessionID: "sess-2",
		URL:       "https://example.com/doc",
		Status:    models.SessionStatusCompleted,
	}))
	for _, index := range []int{2, 0, 1} {
		require.NoError(t, chunkRepo.Upsert(context.Background(), &models.Chunk{
			ChunkID:          models.NewChunkID("sess-2", index),
			SessionID:        "sess-2",
			URL:              "https://example.com/doc",
			ChunkIndex:       index,
			ChunkText:        "chunk body text",
			EmbeddingStatus:  models.EmbeddingStatusComplete,
			ProcessingStatus: models.SessionStatusCompleted,
			Analysis:         models.DefaultAnalysis(),
		}))
	}

	req := httptest.NewRequest(http.MethodGet, "/sessions/sess-2/chunks", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp SessionChunksResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, 3, resp.Count)
	for i, chunk := range resp.Chunks {
		assert.Equal(t, i, chunk.ChunkIndex)
		assert.Empty(t, chunk.ChunkText)
	}
}

func TestListSessionChunks_IncludesTextOnRequest(t *testing.T) {
	router, sessionRepo, chunkRepo := newSessionRouter(t)

	require.NoError(t, sessionRepo.Create(context.Background(), &models.Session{
		SessionID: "sess-3",
		URL:       "https://example.com/doc",
		Status:    models.SessionStatusCompleted,
	}))
	require.NoError(t, chunkRepo.Upsert(context.Background(), &models.Chunk{
		ChunkID:          models.NewChunkID("sess-3", 0),
		SessionID:        "sess-3",
		URL:              "https://example.com/doc",
		ChunkIndex:       0,
		ChunkText:        "the full chunk text",
		EmbeddingStatus:  models.EmbeddingStatusComplete,
		ProcessingStatus: models.SessionStatusCompleted,
	}))

	req := httptest.NewRequest(http.MethodGet, "/sessions/sess-3/chunks?include_text=true", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp SessionChunksResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, 1, resp.Count)
	assert.Equal(t, "the full chunk text", resp.Chunks[0].ChunkText)
}

func TestListSessionChunks_UnknownSession(t *testing.T) {
	router, _, _ := newSessionRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/sessions/missing/chunks", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
