package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"knowledge-ingest/internal/logger"
)

func TestHealth_AllComponentsOK(t *testing.T) {
	h := NewHealthHandler(logger.Nop())
	h.AddCheck("postgres", pingOK{})
	h.AddCheck("qdrant", pingOK{})

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	h.Health(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp HealthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, "ok", resp.Components["postgres"])
	assert.Equal(t, "ok", resp.Components["qdrant"])
}

func TestHealth_FailingComponentDegrades(t *testing.T) {
	h := NewHealthHandler(logger.Nop())
	h.AddCheck("postgres", pingOK{})
	h.AddCheck("redis", pingError{err: errors.New("connection refused")})

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	h.Health(rec, req)
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)

	var resp HealthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "degraded", resp.Status)
	assert.Equal(t, "ok", resp.Components["postgres"])
	assert.Contains(t, resp.Components["redis"], "connection refused")
}
