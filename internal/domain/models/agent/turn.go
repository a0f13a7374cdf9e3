package agent

import (
	"time"
)

// TagGuardrailRejected marks a turn the guardrail refused to answer
const TagGuardrailRejected = "gg"

// Thread is a conversation session. Created implicitly on the first turn.
type Thread struct {
	ThreadID  string    `json:"thread_id"`
	UserID    string    `json:"user_id"`
	CreatedAt time.Time `json:"created_at"`
}

// Turn is one persisted request/response cycle.
// RawItems is the full replayable history after this turn, not a delta.
type Turn struct {
	ID        string       `json:"id"`
	ThreadID  string       `json:"thread_id"`
	UserID    string       `json:"user_id"`
	Input     string       `json:"input"`
	Output    []Event      `json:"output"`
	RawItems  Items        `json:"raw_items"`
	Metadata  TurnMetadata `json:"metadata"`
	CreatedAt time.Time    `json:"created_at"`
}

// TurnMetadata is stored alongside each turn
type TurnMetadata struct {
	LastTokenUsage *TokenUsage         `json:"last_token_usage,omitempty"`
	Tags           []string            `json:"tags"`
	ContextEdit    *ContextEditSummary `json:"context_edit,omitempty"`
}

// ContextEditSummary records what the context editor did before this turn
type ContextEditSummary struct {
	PriorUsage       int  `json:"prior_usage"`
	CollapsedOutputs int  `json:"collapsed_outputs"`
	EvictedTurns     int  `json:"evicted_turns"`
	RemainingTokens  int  `json:"remaining_tokens,omitempty"`
	Estimated        bool `json:"estimated,omitempty"`
}

// PriorTotalTokens returns last_token_usage.total_tokens, or 0 if unknown
func (m TurnMetadata) PriorTotalTokens() int {
	if m.LastTokenUsage == nil {
		return 0
	}
	return m.LastTokenUsage.TotalTokens
}

// HasTag reports whether tag is present
func (m TurnMetadata) HasTag(tag string) bool {
	for _, t := range m.Tags {
		if t == tag {
			return true
		}
	}
	return false
}

// TurnSummary is the API view of a persisted turn (raw items omitted)
type TurnSummary struct {
	ID        string       `json:"id"`
	ThreadID  string       `json:"thread_id"`
	Input     string       `json:"input"`
	Output    []Event      `json:"output"`
	Metadata  TurnMetadata `json:"metadata"`
	CreatedAt time.Time    `json:"created_at"`
}

// Summary converts a turn to its API view
func (t *Turn) Summary() TurnSummary {
	return TurnSummary{
		ID:        t.ID,
		ThreadID:  t.ThreadID,
		Input:     t.Input,
		Output:    t.Output,
		Metadata:  t.Metadata,
		CreatedAt: t.CreatedAt,
	}
}
