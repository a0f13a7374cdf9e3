package agent

import (
	"context"

	"advisor/internal/domain/models/agent"
)

// TurnService runs one conversational turn end to end
type TurnService interface {
	// StreamTurn loads the thread context, runs guardrail and agents, emits
	// events through emit in order, and persists the turn on success.
	// Every call ends with exactly one terminal event (DONE or ERROR) unless
	// emit itself fails or ctx is cancelled. The returned error is for logging.
	StreamTurn(ctx context.Context, req *StreamTurnRequest, emit EmitFunc) error

	// ListTurns returns the persisted turns of a thread owned by userID
	ListTurns(ctx context.Context, threadID, userID string, limit int) ([]agent.TurnSummary, error)
}

// EmitFunc delivers one event to the caller. A non-nil error means the
// caller is gone and the turn must be abandoned.
type EmitFunc func(agent.Event) error

// StreamTurnRequest is the DTO for one turn
type StreamTurnRequest struct {
	ThreadID string `json:"thread_id"`
	Query    string `json:"query"`
	UserID   string `json:"-"` // Set by handler from auth context
}
