package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"

	"knowledge-ingest/internal/models"
	"knowledge-ingest/internal/repositories"
)

// Logger defines the interface for logging
type Logger interface {
	Info(msg string, args ...interface{})
	Error(msg string, args ...interface{})
	Warn(msg string, args ...interface{})
	Debug(msg string, args ...interface{})
}

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Status  int    `json:"status"`
}

// SuccessResponse represents a generic success response
type SuccessResponse struct {
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

func sendJSON(w http.ResponseWriter, log Logger, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.Error("failed to encode JSON response: %v", err)
	}
}

func sendError(w http.ResponseWriter, log Logger, status int, message string) {
	sendJSON(w, log, status, ErrorResponse{
		Error:   http.StatusText(status),
		Message: message,
		Status:  status,
	})
}

// sendServiceError translates a pipeline or repository error into the
// HTTP status its kind maps to.
func sendServiceError(w http.ResponseWriter, log Logger, err error) {
	status := http.StatusInternalServerError
	switch {
	case repositories.IsNotFound(err):
		status = http.StatusNotFound
	case models.KindOf(err) == models.ErrValidation:
		status = http.StatusBadRequest
	case models.KindOf(err) == models.ErrUnsupportedType:
		status = http.StatusUnsupportedMediaType
	}
	sendError(w, log, status, err.Error())
}

func getIntQueryParam(r *http.Request, name string, defaultValue int) int {
	if v := r.URL.Query().Get(name); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getBoolQueryParam(r *http.Request, name string, defaultValue bool) bool {
	if v := r.URL.Query().Get(name); v != "" {
		if parsed, err := strconv.ParseBool(v); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getIntFormParam(r *http.Request, name string, defaultValue int) int {
	if v := r.FormValue(name); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getBoolFormParam(r *http.Request, name string, defaultValue bool) bool {
	if v := r.FormValue(name); v != "" {
		if parsed, err := strconv.ParseBool(v); err == nil {
			return parsed
		}
	}
	return defaultValue
}
