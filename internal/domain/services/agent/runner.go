package agent

import (
	"context"
	"encoding/json"
	"sync"

	"advisor/internal/domain/models/agent"
)

// Runner is the language-model provider egress.
// Implementations: OpenAI (go-openai) and the offline lorem runner.
type Runner interface {
	// RunStreamed runs the agent over items, executing tool calls until the model
	// produces a final answer. Events arrive in provider order; the channel is
	// closed after the last event. A failure is delivered as *StreamFailed before close.
	RunStreamed(ctx context.Context, req *RunRequest) (<-chan StreamEvent, error)

	// Run performs a single non-streaming call whose answer must conform to
	// schema; the decoded answer is stored in out.
	Run(ctx context.Context, req *RunRequest, schema *OutputSchema, out interface{}) error

	// Name returns the runner name (e.g., "openai", "lorem")
	Name() string

	// SupportsModel returns true if the runner can serve the given model
	SupportsModel(model string) bool
}

// AgentSpec describes one agent: its model, prompt and tool surface
type AgentSpec struct {
	Name             string `yaml:"name"`
	Model            string `yaml:"model"`
	Instructions     string `yaml:"instructions"`
	ReasoningEffort  string `yaml:"reasoning_effort,omitempty"`
	ReasoningSummary string `yaml:"reasoning_summary,omitempty"`
	UseTools         bool   `yaml:"use_tools,omitempty"`
}

// RunRequest is the input of one agent run
type RunRequest struct {
	Agent *AgentSpec

	// Items is the conversation to replay, oldest first
	Items agent.Items

	// Context is appended to the agent instructions for this run only
	Context string

	// Tools is consulted when the model calls a function (nil = no tools)
	Tools ToolSet

	// MaxToolRounds bounds model/tool round trips (0 = runner default)
	MaxToolRounds int
}

// OutputSchema declares the structured answer of a non-streaming run
type OutputSchema struct {
	Name   string
	Schema json.RawMessage
}

// ToolSet executes function tools for a run
type ToolSet interface {
	// Definitions returns the schemas offered to the model
	Definitions() []agent.ToolDefinition

	// Call executes the named tool with JSON arguments and returns the output
	// handed back to the model. Tool failures are reported inside the output,
	// an error is returned only when the run must stop.
	Call(ctx context.Context, name, arguments string) (string, error)
}

// RunContext is the mutable per-run state tools may record into.
// It is safe for concurrent use.
type RunContext struct {
	mu            sync.Mutex
	searchSources map[string]interface{}
}

// NewRunContext creates an empty run context
func NewRunContext() *RunContext {
	return &RunContext{searchSources: make(map[string]interface{})}
}

// RecordSearch stores the raw response of a search query
func (rc *RunContext) RecordSearch(query string, response interface{}) {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	rc.searchSources[query] = response
}

// SearchSources returns a copy of the recorded search responses
func (rc *RunContext) SearchSources() map[string]interface{} {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	out := make(map[string]interface{}, len(rc.searchSources))
	for k, v := range rc.searchSources {
		out[k] = v
	}
	return out
}

type runContextKey struct{}

// WithRunContext attaches rc to ctx
func WithRunContext(ctx context.Context, rc *RunContext) context.Context {
	return context.WithValue(ctx, runContextKey{}, rc)
}

// GetRunContext retrieves the run context, or nil if none
func GetRunContext(ctx context.Context) *RunContext {
	rc, _ := ctx.Value(runContextKey{}).(*RunContext)
	return rc
}
