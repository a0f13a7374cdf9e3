// Package openai runs agents against the OpenAI Chat Completions API
// (or any compatible endpoint).
package openai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strings"

	"advisor/internal/domain/models/agent"
	services "advisor/internal/domain/services/agent"
	openai "github.com/sashabaranov/go-openai"
)

// DefaultMaxToolRounds bounds model/tool round trips per run
const DefaultMaxToolRounds = 5

// Config configures the runner
type Config struct {
	APIKey  string
	BaseURL string // empty = api.openai.com
}

// Runner implements services.Runner with go-openai
type Runner struct {
	client *openai.Client
	logger *slog.Logger
}

var _ services.Runner = (*Runner)(nil)

// NewRunner creates an OpenAI runner
func NewRunner(cfg Config, logger *slog.Logger) (*Runner, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("openai: API key is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	return &Runner{
		client: openai.NewClientWithConfig(clientCfg),
		logger: logger,
	}, nil
}

// Name returns the runner name.
func (r *Runner) Name() string {
	return "openai"
}

// SupportsModel accepts every model except the offline lorem family
func (r *Runner) SupportsModel(model string) bool {
	return model != "" && !strings.HasPrefix(model, "lorem-")
}

// Run performs one structured-output call and decodes the answer into out
func (r *Runner) Run(ctx context.Context, req *services.RunRequest, schema *services.OutputSchema, out interface{}) error {
	chatReq := openai.ChatCompletionRequest{
		Model:    req.Agent.Model,
		Messages: buildMessages(req),
	}
	if req.Agent.ReasoningEffort != "" {
		chatReq.ReasoningEffort = req.Agent.ReasoningEffort
	}
	if schema != nil {
		chatReq.ResponseFormat = &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONSchema,
			JSONSchema: &openai.ChatCompletionResponseFormatJSONSchema{
				Name:   schema.Name,
				Schema: schema.Schema,
				Strict: true,
			},
		}
	}

	resp, err := r.client.CreateChatCompletion(ctx, chatReq)
	if err != nil {
		return fmt.Errorf("openai %s: %w", req.Agent.Name, err)
	}
	if len(resp.Choices) == 0 {
		return fmt.Errorf("openai %s: no choices returned", req.Agent.Name)
	}

	msg := resp.Choices[0].Message
	if msg.Refusal != "" {
		return fmt.Errorf("openai %s: model refused: %s", req.Agent.Name, msg.Refusal)
	}
	r.logger.Debug("structured run completed",
		"agent", req.Agent.Name,
		"model", resp.Model,
		"total_tokens", resp.Usage.TotalTokens,
	)

	if err := json.Unmarshal([]byte(msg.Content), out); err != nil {
		return fmt.Errorf("openai %s: decode structured output: %w", req.Agent.Name, err)
	}
	return nil
}

// RunStreamed streams the agent, executing tool calls between model calls
// until the model answers without calling a tool.
func (r *Runner) RunStreamed(ctx context.Context, req *services.RunRequest) (<-chan services.StreamEvent, error) {
	if req.Agent == nil {
		return nil, errors.New("openai: agent is required")
	}

	events := make(chan services.StreamEvent, 16)
	go func() {
		defer close(events)

		emit := func(ev services.StreamEvent) bool {
			select {
			case events <- ev:
				return true
			case <-ctx.Done():
				return false
			}
		}

		if err := r.runLoop(ctx, req, emit); err != nil && ctx.Err() == nil {
			emit(&services.StreamFailed{Err: err})
		}
	}()
	return events, nil
}

type emitFunc func(services.StreamEvent) bool

var errStopped = errors.New("consumer stopped")

func (r *Runner) runLoop(ctx context.Context, req *services.RunRequest, emit emitFunc) error {
	messages := buildMessages(req)

	var tools []openai.Tool
	if req.Agent.UseTools && req.Tools != nil {
		tools = buildTools(req.Tools.Definitions())
	}

	maxRounds := req.MaxToolRounds
	if maxRounds <= 0 {
		maxRounds = DefaultMaxToolRounds
	}

	for round := 0; ; round++ {
		chatReq := openai.ChatCompletionRequest{
			Model:         req.Agent.Model,
			Messages:      messages,
			Stream:        true,
			StreamOptions: &openai.StreamOptions{IncludeUsage: true},
		}
		if req.Agent.ReasoningEffort != "" {
			chatReq.ReasoningEffort = req.Agent.ReasoningEffort
		}
		// the last round goes without tools so the model has to answer
		if len(tools) > 0 && round < maxRounds {
			chatReq.Tools = tools
		}

		result, err := r.streamOnce(ctx, chatReq, emit)
		if err != nil {
			return err
		}

		if len(result.calls) == 0 {
			return nil
		}

		assistant := openai.ChatCompletionMessage{
			Role:      openai.ChatMessageRoleAssistant,
			Content:   result.text,
			ToolCalls: result.calls,
		}
		messages = append(messages, assistant)

		for _, call := range result.calls {
			item := &agent.FunctionCall{
				ID:        "fc_" + call.ID,
				CallID:    call.ID,
				Name:      call.Function.Name,
				Arguments: call.Function.Arguments,
				Status:    "completed",
			}
			if !emit(&services.ToolCallStarted{Item: item}) {
				return errStopped
			}

			output, err := req.Tools.Call(ctx, call.Function.Name, call.Function.Arguments)
			if err != nil {
				return fmt.Errorf("tool %s: %w", call.Function.Name, err)
			}
			if !emit(&services.ToolCallOutput{Item: &agent.FunctionCallOutput{CallID: call.ID, Output: output}}) {
				return errStopped
			}

			messages = append(messages, openai.ChatCompletionMessage{
				Role:       openai.ChatMessageRoleTool,
				ToolCallID: call.ID,
				Content:    output,
			})
		}
	}
}

type roundResult struct {
	text  string
	calls []openai.ToolCall
}

// streamOnce performs one streaming model call, forwarding text and
// reasoning as it arrives and accumulating tool call fragments.
func (r *Runner) streamOnce(ctx context.Context, chatReq openai.ChatCompletionRequest, emit emitFunc) (*roundResult, error) {
	stream, err := r.client.CreateChatCompletionStream(ctx, chatReq)
	if err != nil {
		return nil, fmt.Errorf("open stream: %w", err)
	}
	defer stream.Close()

	var (
		responseID string
		model      = chatReq.Model
		text       strings.Builder
		reasoning  strings.Builder
		inThought  bool
		usage      *openai.Usage
		calls      = map[int]*openai.ToolCall{}
	)

	closeReasoning := func() bool {
		if !inThought {
			return true
		}
		inThought = false
		item := &agent.Reasoning{ID: "rs_" + responseID, Summary: []string{strings.TrimSpace(reasoning.String())}}
		return emit(&services.ReasoningDone{Item: item})
	}

	for {
		chunk, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("receive: %w", err)
		}

		if chunk.ID != "" {
			responseID = chunk.ID
		}
		if chunk.Model != "" {
			model = chunk.Model
		}
		if chunk.Usage != nil {
			usage = chunk.Usage
		}

		for _, choice := range chunk.Choices {
			delta := choice.Delta

			if delta.ReasoningContent != "" {
				if !inThought {
					inThought = true
					if !emit(&services.ReasoningStarted{}) {
						return nil, errStopped
					}
				}
				reasoning.WriteString(delta.ReasoningContent)
			}

			if delta.Content != "" {
				if !closeReasoning() {
					return nil, errStopped
				}
				text.WriteString(delta.Content)
				if !emit(&services.TextDelta{Delta: delta.Content}) {
					return nil, errStopped
				}
			}

			for _, tc := range delta.ToolCalls {
				if !closeReasoning() {
					return nil, errStopped
				}
				idx := 0
				if tc.Index != nil {
					idx = *tc.Index
				}
				acc, ok := calls[idx]
				if !ok {
					acc = &openai.ToolCall{Type: openai.ToolTypeFunction}
					calls[idx] = acc
				}
				if tc.ID != "" {
					acc.ID = tc.ID
				}
				if tc.Function.Name != "" {
					acc.Function.Name += tc.Function.Name
				}
				acc.Function.Arguments += tc.Function.Arguments
			}
		}
	}

	if !closeReasoning() {
		return nil, errStopped
	}

	if text.Len() > 0 {
		msg := &agent.AssistantMessage{
			ID:      "msg_" + responseID,
			Status:  "completed",
			Content: []agent.OutputText{{Text: text.String()}},
		}
		if !emit(&services.MessageDone{Item: msg}) {
			return nil, errStopped
		}
	}

	if !emit(&services.ResponseCompleted{Model: model, Usage: convertUsage(usage)}) {
		return nil, errStopped
	}

	indexes := make([]int, 0, len(calls))
	for idx := range calls {
		indexes = append(indexes, idx)
	}
	sort.Ints(indexes)
	result := &roundResult{text: text.String()}
	for _, idx := range indexes {
		result.calls = append(result.calls, *calls[idx])
	}
	return result, nil
}
