package handlers

import (
	"net/http"

	"knowledge-ingest/internal/services"
)

// StreamHandler serves the server-sent event stream of pipeline events
type StreamHandler struct {
	stream *services.StreamService
	log    Logger
}

// NewStreamHandler creates a new stream handler
func NewStreamHandler(stream *services.StreamService, log Logger) *StreamHandler {
	return &StreamHandler{
		stream: stream,
		log:    log,
	}
}

// flushWriter adapts the response writer to the stream service's write
// handle, flushing after every frame so events reach the client without
// buffering delay.
type flushWriter struct {
	w http.ResponseWriter
	f http.Flusher
}

func (fw flushWriter) Write(p []byte) (int, error) {
	return fw.w.Write(p)
}

func (fw flushWriter) Flush() {
	fw.f.Flush()
}

// Stream subscribes the connection to the event stream. The optional
// session_id query parameter narrows delivery to one session. The
// handler blocks until the client disconnects.
func (h *StreamHandler) Stream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		sendError(w, h.log, http.StatusInternalServerError, "streaming not supported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	client, err := h.stream.Subscribe(flushWriter{w: w, f: flusher}, services.SubscribeOptions{
		SessionID: r.URL.Query().Get("session_id"),
	})
	if err != nil {
		h.log.Warn("stream subscribe failed: %v", err)
		return
	}

	<-r.Context().Done()
	h.stream.Close(client.ID)
	h.log.Debug("stream client %s disconnected", client.ID)
}
