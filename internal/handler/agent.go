package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"advisor/internal/config"
	services "advisor/internal/domain/services/agent"
	"advisor/internal/handler/sse"
	"advisor/internal/httputil"

	validation "github.com/go-ozzo/ozzo-validation/v4"
)

// AgentHandler serves the conversational agent over SSE
// Follows Clean Architecture: handlers only communicate with services, never repositories
type AgentHandler struct {
	turns     services.TurnService
	sseConfig *sse.Config
	logger    *slog.Logger
}

// NewAgentHandler creates a new agent handler
func NewAgentHandler(turns services.TurnService, sseConfig *sse.Config, logger *slog.Logger) *AgentHandler {
	if sseConfig == nil {
		sseConfig = sse.DefaultConfig()
	}
	return &AgentHandler{
		turns:     turns,
		sseConfig: sseConfig,
		logger:    logger,
	}
}

// Stream runs one turn and streams its events
// GET /api/agent/stream?query=..&thread_id=..
// POST /api/agent/stream {"query": "..", "thread_id": ".."}
func (h *AgentHandler) Stream(w http.ResponseWriter, r *http.Request) {
	var req services.StreamTurnRequest
	if r.Method == http.MethodPost {
		if err := httputil.ParseJSON(w, r, &req); err != nil {
			httputil.RespondError(w, http.StatusBadRequest, "Invalid request body")
			return
		}
	} else {
		req.Query = r.URL.Query().Get("query")
		req.ThreadID = r.URL.Query().Get("thread_id")
	}
	req.UserID = httputil.GetUserID(r)

	if err := validateStreamRequest(&req); err != nil {
		respondValidation(w, err)
		return
	}

	logger := h.logger.With(
		"thread_id", req.ThreadID,
		"user_id", req.UserID,
		"request_id", httputil.GetRequestID(r),
	)

	writer := sse.NewWriter(w)
	if err := writer.Open(); err != nil {
		logger.Warn("SSE connection failed before first event", "error", err)
		return
	}

	keepAlive := sse.NewTickerKeepAlive(h.sseConfig.KeepAliveInterval)
	keepAlive.Start(writer, logger)
	// Stop joins the ping goroutine: nothing writes to w after ServeHTTP returns
	defer keepAlive.Stop()

	logger.Info("turn started", "query_length", len(req.Query))
	if err := h.turns.StreamTurn(r.Context(), &req, writer.WriteEvent); err != nil {
		logger.Warn("turn ended with error", "error", err)
		return
	}
	logger.Info("turn completed")
}

// ListTurns returns the persisted turns of a thread
// GET /api/threads/{id}/turns?limit=20
func (h *AgentHandler) ListTurns(w http.ResponseWriter, r *http.Request) {
	threadID := r.PathValue("id")
	if err := validation.Validate(threadID,
		validation.Required,
		validation.RuneLength(1, config.MaxThreadIDLength),
	); err != nil {
		httputil.RespondError(w, http.StatusBadRequest, "thread id: "+err.Error())
		return
	}

	limit, err := httputil.QueryInt(r, "limit", config.DefaultTurnListLimit, config.MaxTurnListLimit)
	if err != nil {
		httputil.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}

	turns, err := h.turns.ListTurns(r.Context(), threadID, httputil.GetUserID(r), limit)
	if err != nil {
		h.logger.Debug("list turns failed", "thread_id", threadID, "error", err)
		handleError(w, err)
		return
	}

	httputil.RespondJSON(w, http.StatusOK, map[string]interface{}{
		"thread_id": threadID,
		"turns":     turns,
	})
}

func validateStreamRequest(req *services.StreamTurnRequest) error {
	return validation.ValidateStruct(req,
		validation.Field(&req.ThreadID,
			validation.Required,
			validation.RuneLength(1, config.MaxThreadIDLength),
		),
		validation.Field(&req.Query,
			validation.Required,
			validation.RuneLength(1, config.MaxQueryLength),
		),
	)
}

// respondValidation writes ozzo field errors as an RFC 7807 problem
func respondValidation(w http.ResponseWriter, err error) {
	var fieldErrs validation.Errors
	if errors.As(err, &fieldErrs) {
		httputil.RespondErrorWithExtras(w, http.StatusBadRequest, "invalid request", map[string]interface{}{
			"errors": fieldErrs,
		})
		return
	}
	httputil.RespondError(w, http.StatusBadRequest, err.Error())
}
