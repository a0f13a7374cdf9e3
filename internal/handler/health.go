package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"advisor/internal/handler/sse"
	"advisor/internal/httputil"
)

// Pinger reports whether a backing store is reachable
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthHandler serves liveness and SSE diagnostics
type HealthHandler struct {
	store     Pinger
	sseConfig *sse.Config
	logger    *slog.Logger
}

// NewHealthHandler creates a new health handler
func NewHealthHandler(store Pinger, sseConfig *sse.Config, logger *slog.Logger) *HealthHandler {
	if sseConfig == nil {
		sseConfig = sse.DefaultConfig()
	}
	return &HealthHandler{store: store, sseConfig: sseConfig, logger: logger}
}

// HealthCheck reports service and store health
// GET /health
func (h *HealthHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := h.store.Ping(ctx); err != nil {
		h.logger.Warn("health check failed", "error", err)
		httputil.RespondJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status": "unavailable",
			"store":  "unreachable",
		})
		return
	}

	httputil.RespondJSON(w, http.StatusOK, map[string]string{
		"status": "ok",
		"store":  "ok",
	})
}

// testMessage is one frame of the synthetic stream
type testMessage struct {
	Type          string `json:"type"`
	Content       int    `json:"content,omitempty"`
	TotalMessages int    `json:"total_messages,omitempty"`
}

// TestSSE streams numbered messages at a fixed interval so proxies and
// clients can be checked for buffering
// GET /api/test-sse
func (h *HealthHandler) TestSSE(w http.ResponseWriter, r *http.Request) {
	writer := sse.NewWriter(w)
	if err := writer.Open(); err != nil {
		return
	}

	iterations := int(h.sseConfig.TestDuration / h.sseConfig.TestInterval)
	ticker := time.NewTicker(h.sseConfig.TestInterval)
	defer ticker.Stop()

	for i := 1; i <= iterations; i++ {
		if err := writer.WriteData(testMessage{Type: "MESSAGE", Content: i}); err != nil {
			return
		}
		select {
		case <-ticker.C:
		case <-r.Context().Done():
			return
		}
	}

	writer.WriteData(testMessage{Type: "DONE", TotalMessages: iterations})
}
