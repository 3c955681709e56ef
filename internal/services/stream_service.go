package services

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"knowledge-ingest/internal/models"
)

// StreamWriter is the connection-side write handle for one client
type StreamWriter interface {
	Write(p []byte) (int, error)
	Flush()
}

// StreamClient is one registered event stream connection
type StreamClient struct {
	ID           string
	SessionID    string // empty means all sessions
	ConnectedAt  time.Time
	LastActivity time.Time
	MessageCount int

	mu     sync.Mutex
	writer StreamWriter
}

// SubscribeOptions filter what a client receives
type SubscribeOptions struct {
	SessionID string
}

// BroadcastOptions narrow a broadcast's recipients
type BroadcastOptions struct {
	Exclude     []string
	IncludeOnly []string
}

// StreamService multiplexes pipeline events to connected clients over
// line-delimited frames. Delivery is best-effort, at-most-once: a client
// that fails a write is dropped, nothing is replayed.
type StreamService struct {
	mu        sync.Mutex
	clients   map[string]*StreamClient
	keepAlive time.Duration
	stopKA    chan struct{}
	log       Logger
}

// NewStreamService creates a stream service. keepAlive <= 0 takes the
// 30 second default.
func NewStreamService(keepAlive time.Duration, log Logger) *StreamService {
	if keepAlive <= 0 {
		keepAlive = 30 * time.Second
	}
	return &StreamService{
		clients:   make(map[string]*StreamClient),
		keepAlive: keepAlive,
		log:       log,
	}
}

// Subscribe registers a client and immediately sends it the connected
// event with its assigned id. The keep-alive loop starts with the first
// client.
func (s *StreamService) Subscribe(writer StreamWriter, opts SubscribeOptions) (*StreamClient, error) {
	client := &StreamClient{
		ID:           uuid.NewString(),
		SessionID:    opts.SessionID,
		ConnectedAt:  time.Now(),
		LastActivity: time.Now(),
		writer:       writer,
	}

	s.mu.Lock()
	s.clients[client.ID] = client
	if len(s.clients) == 1 {
		s.stopKA = make(chan struct{})
		go s.keepAliveLoop(s.stopKA)
	}
	s.mu.Unlock()

	connected := models.NewEvent("", models.EventConnected, map[string]interface{}{
		"client_id":   client.ID,
		"server_time": time.Now().Format(time.RFC3339),
	})
	if err := s.writeToClient(client, connected); err != nil {
		s.remove(client.ID)
		return nil, fmt.Errorf("failed to send connected event: %w", err)
	}

	s.log.Debug("stream client %s subscribed (session filter: %q)", client.ID, opts.SessionID)
	return client, nil
}

// SendToClient delivers one event to one client
func (s *StreamService) SendToClient(clientID string, event models.Event) error {
	s.mu.Lock()
	client, ok := s.clients[clientID]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("stream client not found: %s", clientID)
	}
	if err := s.writeToClient(client, event); err != nil {
		s.remove(clientID)
		return err
	}
	return nil
}

// Publish sends a session's event to every client watching that session
// or watching everything.
func (s *StreamService) Publish(event models.Event) {
	s.Broadcast(event, BroadcastOptions{})
}

// Broadcast delivers the event to all matching clients. The registry
// lock is held only to snapshot the recipient list; writes happen
// outside it.
func (s *StreamService) Broadcast(event models.Event, opts BroadcastOptions) {
	excluded := make(map[string]bool, len(opts.Exclude))
	for _, id := range opts.Exclude {
		excluded[id] = true
	}
	var included map[string]bool
	if len(opts.IncludeOnly) > 0 {
		included = make(map[string]bool, len(opts.IncludeOnly))
		for _, id := range opts.IncludeOnly {
			included[id] = true
		}
	}

	s.mu.Lock()
	recipients := make([]*StreamClient, 0, len(s.clients))
	for id, client := range s.clients {
		if excluded[id] {
			continue
		}
		if included != nil && !included[id] {
			continue
		}
		if event.SessionID != "" && client.SessionID != "" && client.SessionID != event.SessionID {
			continue
		}
		recipients = append(recipients, client)
	}
	s.mu.Unlock()

	for _, client := range recipients {
		if err := s.writeToClient(client, event); err != nil {
			s.log.Warn("dropping stream client %s after failed write: %v", client.ID, err)
			s.remove(client.ID)
		}
	}
}

// Close removes a client explicitly
func (s *StreamService) Close(clientID string) {
	s.remove(clientID)
}

// CloseAll drops every client, used at shutdown
func (s *StreamService) CloseAll() {
	s.mu.Lock()
	s.clients = make(map[string]*StreamClient)
	if s.stopKA != nil {
		close(s.stopKA)
		s.stopKA = nil
	}
	s.mu.Unlock()
}

// ClientCount returns the number of connected clients
func (s *StreamService) ClientCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.clients)
}

func (s *StreamService) remove(clientID string) {
	s.mu.Lock()
	delete(s.clients, clientID)
	if len(s.clients) == 0 && s.stopKA != nil {
		close(s.stopKA)
		s.stopKA = nil
	}
	s.mu.Unlock()
}

// keepAliveLoop broadcasts a heartbeat while clients are connected. It
// exits when the last client leaves.
func (s *StreamService) keepAliveLoop(stop chan struct{}) {
	ticker := time.NewTicker(s.keepAlive)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			s.Broadcast(models.NewEvent("", models.EventHeartbeat, map[string]interface{}{
				"server_time": time.Now().Format(time.RFC3339),
			}), BroadcastOptions{})
		}
	}
}

// writeToClient frames and writes one event, serialized per client
func (s *StreamService) writeToClient(client *StreamClient, event models.Event) error {
	frame, err := FrameEvent(event)
	if err != nil {
		return err
	}

	client.mu.Lock()
	defer client.mu.Unlock()
	if _, err := client.writer.Write(frame); err != nil {
		return err
	}
	client.writer.Flush()
	client.LastActivity = time.Now()
	client.MessageCount++
	return nil
}

// FrameEvent renders the on-wire form of an event:
//
//	data: {"event":"<type>","data":<json>,"timestamp":"<RFC3339>"}\n\n
func FrameEvent(event models.Event) ([]byte, error) {
	envelope := struct {
		Event     string      `json:"event"`
		Data      interface{} `json:"data"`
		Timestamp string      `json:"timestamp"`
	}{
		Event:     string(event.Type),
		Data:      event.Data,
		Timestamp: event.Timestamp.Format(time.RFC3339),
	}
	body, err := json.Marshal(envelope)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal event: %w", err)
	}
	frame := make([]byte, 0, len(body)+8)
	frame = append(frame, "data: "...)
	frame = append(frame, body...)
	frame = append(frame, "\n\n"...)
	return frame, nil
}
