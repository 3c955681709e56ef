package handlers

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"knowledge-ingest/internal/models"
	"knowledge-ingest/internal/repositories"
	"knowledge-ingest/internal/services"
)

// SessionHandler handles HTTP requests for session state
type SessionHandler struct {
	sessions *services.SessionService
	chunks   repositories.ChunkRepository
	log      Logger
}

// NewSessionHandler creates a new session handler
func NewSessionHandler(sessions *services.SessionService, chunks repositories.ChunkRepository, log Logger) *SessionHandler {
	return &SessionHandler{
		sessions: sessions,
		chunks:   chunks,
		log:      log,
	}
}

// GetSession returns the state of one session
func (h *SessionHandler) GetSession(w http.ResponseWriter, r *http.Request) {
	sessionID := mux.Vars(r)["id"]
	session, err := h.sessions.Get(r.Context(), sessionID)
	if err != nil {
		sendServiceError(w, h.log, err)
		return
	}
	sendJSON(w, h.log, http.StatusOK, session)
}

// ChunkSummary is the listing view of a chunk. Chunk text is omitted
// unless the caller asks for it.
type ChunkSummary struct {
	ChunkID           string          `json:"chunk_id"`
	ChunkIndex        int             `json:"chunk_index"`
	EmbeddingStatus   string          `json:"embedding_status"`
	ProcessingStatus  string          `json:"processing_status"`
	Analysis          models.Analysis `json:"analysis"`
	ContextualSummary string          `json:"contextual_summary,omitempty"`
	ChunkText         string          `json:"chunk_text,omitempty"`
	CreatedAt         string          `json:"created_at"`
}

// SessionChunksResponse is the chunk listing envelope
type SessionChunksResponse struct {
	SessionID string         `json:"session_id"`
	Chunks    []ChunkSummary `json:"chunks"`
	Count     int            `json:"count"`
}

// ListSessionChunks returns a session's chunks ordered by index
func (h *SessionHandler) ListSessionChunks(w http.ResponseWriter, r *http.Request) {
	sessionID := mux.Vars(r)["id"]
	if _, err := h.sessions.Get(r.Context(), sessionID); err != nil {
		sendServiceError(w, h.log, err)
		return
	}

	chunks, err := h.chunks.ListBySession(r.Context(), sessionID)
	if err != nil {
		sendServiceError(w, h.log, err)
		return
	}

	includeText := getBoolQueryParam(r, "include_text", false)
	summaries := make([]ChunkSummary, 0, len(chunks))
	for _, chunk := range chunks {
		summary := ChunkSummary{
			ChunkID:           chunk.ChunkID,
			ChunkIndex:        chunk.ChunkIndex,
			EmbeddingStatus:   string(chunk.EmbeddingStatus),
			ProcessingStatus:  string(chunk.ProcessingStatus),
			Analysis:          chunk.Analysis,
			ContextualSummary: chunk.ContextualSummary,
			CreatedAt:         chunk.CreatedAt.Format(time.RFC3339),
		}
		if includeText {
			summary.ChunkText = chunk.ChunkText
		}
		summaries = append(summaries, summary)
	}

	sendJSON(w, h.log, http.StatusOK, SessionChunksResponse{
		SessionID: sessionID,
		Chunks:    summaries,
		Count:     len(summaries),
	})
}
