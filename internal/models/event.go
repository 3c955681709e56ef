package models

import "time"

// EventType identifies a progress event on the stream
type EventType string

const (
	EventConnected           EventType = "connected"
	EventProcessingStarted   EventType = "processing_started"
	EventChunkProcessed      EventType = "chunk_processed"
	EventEmbeddingCreated    EventType = "embedding_created"
	EventAnalysisCompleted   EventType = "analysis_completed"
	EventProgressUpdate      EventType = "progress_update"
	EventSessionUpdated      EventType = "session_updated"
	EventProcessingCompleted EventType = "processing_completed"
	EventErrorOccurred       EventType = "error_occurred"
	EventHeartbeat           EventType = "heartbeat"
)

// Event is an in-memory progress notification. Events are never
// persisted; delivery is best effort, at most once.
type Event struct {
	// SessionID is empty for global broadcasts such as heartbeats.
	SessionID string                 `json:"session_id,omitempty"`
	Type      EventType              `json:"event"`
	Data      map[string]interface{} `json:"data,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
}

// NewEvent creates an event stamped with the current time
func NewEvent(sessionID string, eventType EventType, data map[string]interface{}) Event {
	return Event{
		SessionID: sessionID,
		Type:      eventType,
		Data:      data,
		Timestamp: time.Now().UTC(),
	}
}
