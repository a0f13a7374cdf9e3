package sse

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"

	"advisor/internal/domain/models/agent"
)

// Writer serializes events and keep-alive comments onto one SSE response.
// Safe for concurrent use: the keep-alive goroutine shares the connection
// with the turn.
type Writer struct {
	mu sync.Mutex
	w  http.ResponseWriter
	rc *http.ResponseController
}

// NewWriter wraps w
func NewWriter(w http.ResponseWriter) *Writer {
	return &Writer{w: w, rc: http.NewResponseController(w)}
}

// Open sends the SSE response headers
func (s *Writer) Open() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	h := s.w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no") // Disable nginx buffering
	s.w.WriteHeader(http.StatusOK)
	return s.rc.Flush()
}

// WriteEvent sends one agent event as a data line
func (s *Writer) WriteEvent(e agent.Event) error {
	frame, err := agent.FormatSSE(e)
	if err != nil {
		return err
	}
	return s.write(frame)
}

// WriteData sends an arbitrary JSON payload as a data line
func (s *Writer) WriteData(v interface{}) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal SSE data: %w", err)
	}
	return s.write(fmt.Sprintf("data: %s\n\n", payload))
}

// WriteKeepAlive writes an SSE comment, ignored by clients
func (s *Writer) WriteKeepAlive() error {
	return s.write(": keepalive\n\n")
}

func (s *Writer) write(frame string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := fmt.Fprint(s.w, frame); err != nil {
		return fmt.Errorf("write SSE frame: %w", err)
	}
	if err := s.rc.Flush(); err != nil {
		return fmt.Errorf("flush SSE frame: %w", err)
	}
	return nil
}
