// Package lorem is an offline agent runner that answers with lorem ipsum.
// Used for development and load tests without API keys.
package lorem

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	loremgen "github.com/bozaro/golorem"

	"advisor/internal/domain/models/agent"
	services "advisor/internal/domain/services/agent"
	"github.com/google/uuid"
)

// Runner is a mock runner that generates lorem ipsum text.
// Model names select the behaviour:
//   - lorem-slow / lorem-medium / lorem-fast / lorem-instant: streaming speed
//   - lorem-*-tools: calls the first offered tool once before answering
//   - lorem-*-fail: fails mid-stream
type Runner struct {
	mu        sync.Mutex
	generator *loremgen.Lorem
	answerLen int
}

var _ services.Runner = (*Runner)(nil)

// NewRunner creates a lorem runner producing answers of about answerWords words
func NewRunner(answerWords int) *Runner {
	if answerWords <= 0 {
		answerWords = 60
	}
	return &Runner{
		generator: loremgen.New(),
		answerLen: answerWords,
	}
}

// Name returns the runner name.
func (r *Runner) Name() string {
	return "lorem"
}

// SupportsModel returns true if the model name starts with "lorem-".
func (r *Runner) SupportsModel(model string) bool {
	return strings.HasPrefix(model, "lorem-")
}

// getStreamDelay returns the delay between words based on the model name.
// - lorem-slow: 2 words/second
// - lorem-fast: 30 words/second
// - lorem-instant: no delay
// - default: 10 words/second
func getStreamDelay(model string) time.Duration {
	switch {
	case strings.Contains(model, "instant"):
		return 0
	case strings.Contains(model, "slow"):
		return 500 * time.Millisecond
	case strings.Contains(model, "fast"):
		return 33 * time.Millisecond
	default:
		return 100 * time.Millisecond
	}
}

// sentence and paragraph serialize access to the generator (not goroutine safe)
func (r *Runner) sentence(min, max int) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.generator.Sentence(min, max)
}

func (r *Runner) words(target int) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	var words []string
	for len(words) < target {
		words = append(words, strings.Fields(r.generator.Sentence(5, 15))...)
	}
	return words
}

// RunStreamed streams reasoning (when the agent has reasoning settings), an
// optional tool round and a lorem answer.
func (r *Runner) RunStreamed(ctx context.Context, req *services.RunRequest) (<-chan services.StreamEvent, error) {
	model := req.Agent.Model
	if !r.SupportsModel(model) {
		return nil, fmt.Errorf("model '%s' is not supported by lorem runner", model)
	}

	events := make(chan services.StreamEvent, 10)
	go func() {
		defer close(events)

		send := func(ev services.StreamEvent) bool {
			select {
			case events <- ev:
				return true
			case <-ctx.Done():
				return false
			}
		}
		fail := func(err error) {
			send(&services.StreamFailed{Err: err})
		}

		delay := getStreamDelay(model)
		outputWords := 0

		if req.Agent.ReasoningEffort != "" {
			if !send(&services.ReasoningStarted{}) {
				return
			}
			summary := r.sentence(8, 12)
			outputWords += len(strings.Fields(summary))
			item := &agent.Reasoning{ID: "rs_" + uuid.NewString(), Summary: []string{summary}}
			if !send(&services.ReasoningDone{Item: item}) {
				return
			}
		}

		if strings.Contains(model, "tools") && req.Tools != nil {
			if defs := req.Tools.Definitions(); len(defs) > 0 {
				args, _ := json.Marshal(map[string]string{"query": lastUserQuery(req.Items)})
				call := &agent.FunctionCall{
					ID:        "fc_" + uuid.NewString(),
					CallID:    "call_" + uuid.NewString(),
					Name:      defs[0].Name,
					Arguments: string(args),
					Status:    "completed",
				}
				if !send(&services.ToolCallStarted{Item: call}) {
					return
				}
				output, err := req.Tools.Call(ctx, call.Name, call.Arguments)
				if err != nil {
					fail(err)
					return
				}
				if !send(&services.ToolCallOutput{Item: &agent.FunctionCallOutput{CallID: call.CallID, Output: output}}) {
					return
				}
			}
		}

		words := r.words(r.answerLen)
		var text strings.Builder
		for i, word := range words {
			if strings.Contains(model, "fail") && i == len(words)/2 {
				fail(fmt.Errorf("lorem: simulated provider failure"))
				return
			}
			delta := word + " "
			if !send(&services.TextDelta{Delta: delta}) {
				return
			}
			text.WriteString(delta)
			outputWords++

			if delay > 0 {
				select {
				case <-time.After(delay):
				case <-ctx.Done():
					return
				}
			}
		}

		message := &agent.AssistantMessage{
			ID:      "msg_" + uuid.NewString(),
			Status:  "completed",
			Content: []agent.OutputText{{Text: strings.TrimSpace(text.String())}},
		}
		if !send(&services.MessageDone{Item: message}) {
			return
		}

		inputTokens := estimateTokens(req.Items) + len(strings.Fields(req.Agent.Instructions+" "+req.Context))
		send(&services.ResponseCompleted{
			Model: model,
			Usage: agent.NewTokenUsage(inputTokens, 0, outputWords, 0, 0),
		})
	}()

	return events, nil
}

// Run fills the output schema with lorem values: true for booleans, a
// sentence for strings and three sentences for string arrays.
func (r *Runner) Run(ctx context.Context, req *services.RunRequest, schema *services.OutputSchema, out interface{}) error {
	if !r.SupportsModel(req.Agent.Model) {
		return fmt.Errorf("model '%s' is not supported by lorem runner", req.Agent.Model)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if schema == nil {
		return fmt.Errorf("lorem runner requires an output schema")
	}

	var node schemaNode
	if err := json.Unmarshal(schema.Schema, &node); err != nil {
		return fmt.Errorf("parse output schema %s: %w", schema.Name, err)
	}

	data, err := json.Marshal(r.fill(&node))
	if err != nil {
		return err
	}
	return json.Unmarshal(data, out)
}

type schemaNode struct {
	Type       string                 `json:"type"`
	Properties map[string]*schemaNode `json:"properties"`
	Items      *schemaNode            `json:"items"`
	Enum       []interface{}          `json:"enum"`
}

func (r *Runner) fill(node *schemaNode) interface{} {
	if len(node.Enum) > 0 {
		return node.Enum[0]
	}
	switch node.Type {
	case "object":
		obj := make(map[string]interface{}, len(node.Properties))
		for name, prop := range node.Properties {
			obj[name] = r.fill(prop)
		}
		return obj
	case "array":
		arr := make([]interface{}, 3)
		for i := range arr {
			if node.Items != nil {
				arr[i] = r.fill(node.Items)
			} else {
				arr[i] = r.sentence(4, 8)
			}
		}
		return arr
	case "boolean":
		return true
	case "integer", "number":
		return 0
	default:
		return r.sentence(4, 8)
	}
}

func lastUserQuery(items agent.Items) string {
	for i := len(items) - 1; i >= 0; i-- {
		if msg, ok := items[i].(*agent.UserMessage); ok {
			return msg.Text()
		}
	}
	return ""
}

// estimateTokens uses word count as a rough approximation.
func estimateTokens(items agent.Items) int {
	total := 0
	for _, item := range items {
		switch it := item.(type) {
		case *agent.UserMessage:
			total += len(strings.Fields(it.Text()))
		case *agent.InstructionMessage:
			total += len(strings.Fields(it.Text()))
		case *agent.AssistantMessage:
			total += len(strings.Fields(it.Text()))
		case *agent.FunctionCallOutput:
			total += len(strings.Fields(it.Output))
		}
	}
	return total
}
