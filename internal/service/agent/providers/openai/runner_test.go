package openai

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"advisor/internal/domain/models/agent"
	services "advisor/internal/domain/services/agent"
	openai "github.com/sashabaranov/go-openai"
)

type stubTools struct {
	mu    sync.Mutex
	calls []string
}

func (s *stubTools) Definitions() []agent.ToolDefinition {
	return []agent.ToolDefinition{{
		Type: agent.ToolTypeFunction,
		Name: "web_search",
		Parameters: agent.ToolParameters{
			Type:       "object",
			Properties: map[string]agent.ToolProperty{"query": {Type: "string"}},
		},
	}}
}

func (s *stubTools) Call(ctx context.Context, name, arguments string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, name+" "+arguments)
	return `{"results":[]}`, nil
}

// chatServer replays one scripted SSE body per request
func chatServer(t *testing.T, bodies ...[]string) (*httptest.Server, *[]openai.ChatCompletionRequest) {
	t.Helper()
	var (
		mu       sync.Mutex
		requests []openai.ChatCompletionRequest
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req openai.ChatCompletionRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		mu.Lock()
		n := len(requests)
		requests = append(requests, req)
		mu.Unlock()

		if n >= len(bodies) {
			t.Errorf("unexpected request %d", n)
			http.Error(w, "no script", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "text/event-stream")
		for _, chunk := range bodies[n] {
			fmt.Fprintf(w, "data: %s\n\n", chunk)
		}
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	t.Cleanup(srv.Close)
	return srv, &requests
}

func newTestRunner(t *testing.T, url string) *Runner {
	t.Helper()
	r, err := NewRunner(Config{APIKey: "sk-test", BaseURL: url}, nil)
	if err != nil {
		t.Fatalf("NewRunner() error = %v", err)
	}
	return r
}

func TestRunStreamed_ToolLoop(t *testing.T) {
	toolRound := []string{
		`{"id":"c1","model":"gpt-5-mini","choices":[{"index":0,"delta":{"reasoning_content":"think "}}]}`,
		`{"id":"c1","choices":[{"index":0,"delta":{"tool_calls":[{"index":0,"id":"call_1","type":"function","function":{"name":"web_search","arguments":"{\"query\":"}}]}}]}`,
		`{"id":"c1","choices":[{"index":0,"delta":{"tool_calls":[{"index":0,"function":{"arguments":"\"複利\"}"}}]}}]}`,
		`{"id":"c1","choices":[{"index":0,"delta":{},"finish_reason":"tool_calls"}]}`,
		`{"id":"c1","choices":[],"usage":{"prompt_tokens":100,"completion_tokens":10,"total_tokens":110,"prompt_tokens_details":{"cached_tokens":40}}}`,
	}
	answerRound := []string{
		`{"id":"c2","model":"gpt-5-mini","choices":[{"index":0,"delta":{"content":"複利是"}}]}`,
		`{"id":"c2","choices":[{"index":0,"delta":{"content":"利滾利"}}]}`,
		`{"id":"c2","choices":[{"index":0,"delta":{},"finish_reason":"stop"}]}`,
		`{"id":"c2","choices":[],"usage":{"prompt_tokens":200,"completion_tokens":20,"total_tokens":220}}`,
	}
	srv, requests := chatServer(t, toolRound, answerRound)

	tools := &stubTools{}
	r := newTestRunner(t, srv.URL)
	ch, err := r.RunStreamed(context.Background(), &services.RunRequest{
		Agent: &services.AgentSpec{Name: "lead", Model: "gpt-5-mini", Instructions: "be helpful", UseTools: true},
		Items: agent.Items{&agent.UserMessage{Content: "什麼是複利?"}},
		Tools: tools,
	})
	if err != nil {
		t.Fatalf("RunStreamed() error = %v", err)
	}

	var (
		kinds  []string
		text   strings.Builder
		usages []agent.TokenUsage
	)
	for ev := range ch {
		switch e := ev.(type) {
		case *services.ReasoningStarted:
			kinds = append(kinds, "reasoning_started")
		case *services.ReasoningDone:
			kinds = append(kinds, "reasoning_done:"+e.Item.SummaryText())
		case *services.ToolCallStarted:
			kinds = append(kinds, "call:"+e.Item.Name+":"+e.Item.Arguments)
		case *services.ToolCallOutput:
			kinds = append(kinds, "output:"+e.Item.CallID)
		case *services.TextDelta:
			text.WriteString(e.Delta)
		case *services.MessageDone:
			kinds = append(kinds, "message:"+e.Item.Text())
		case *services.ResponseCompleted:
			usages = append(usages, e.Usage)
		case *services.StreamFailed:
			t.Fatalf("StreamFailed: %v", e.Err)
		}
	}

	want := []string{
		"reasoning_started",
		"reasoning_done:think",
		`call:web_search:{"query":"複利"}`,
		"output:call_1",
		"message:複利是利滾利",
	}
	if strings.Join(kinds, "|") != strings.Join(want, "|") {
		t.Errorf("events = %v\nwant %v", kinds, want)
	}
	if text.String() != "複利是利滾利" {
		t.Errorf("text = %q", text.String())
	}
	if len(usages) != 2 || usages[0].PromptCacheHitRatio != 40 || usages[1].TotalTokens != 220 {
		t.Errorf("usages = %+v", usages)
	}
	if len(tools.calls) != 1 {
		t.Errorf("tool calls = %v, want 1", tools.calls)
	}

	if len(*requests) != 2 {
		t.Fatalf("requests = %d, want 2", len(*requests))
	}
	second := (*requests)[1]
	last := second.Messages[len(second.Messages)-1]
	if last.Role != openai.ChatMessageRoleTool || last.ToolCallID != "call_1" {
		t.Errorf("second request did not end with the tool result: %+v", last)
	}
	if second.StreamOptions == nil || !second.StreamOptions.IncludeUsage {
		t.Error("stream_options.include_usage not set")
	}
}

func TestRunStreamed_ProviderError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error":{"message":"rate limited","type":"rate_limit"}}`))
	}))
	defer srv.Close()

	r := newTestRunner(t, srv.URL)
	ch, err := r.RunStreamed(context.Background(), &services.RunRequest{
		Agent: &services.AgentSpec{Model: "gpt-5-mini"},
	})
	if err != nil {
		t.Fatalf("RunStreamed() error = %v", err)
	}

	var failed *services.StreamFailed
	for ev := range ch {
		if f, ok := ev.(*services.StreamFailed); ok {
			failed = f
		}
	}
	if failed == nil {
		t.Fatal("expected StreamFailed")
	}
}

func TestRun_StructuredOutput(t *testing.T) {
	var got openai.ChatCompletionRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"id": "x", "model": "gpt-4.1-mini",
			"choices": [{"index": 0, "message": {"role": "assistant", "content": "{\"is_investment_question\":false,\"refusal_answer\":\"抱歉\"}"}}],
			"usage": {"prompt_tokens": 5, "completion_tokens": 5, "total_tokens": 10}
		}`))
	}))
	defer srv.Close()

	r := newTestRunner(t, srv.URL)
	var out struct {
		IsInvestmentQuestion bool   `json:"is_investment_question"`
		RefusalAnswer        string `json:"refusal_answer"`
	}
	err := r.Run(context.Background(), &services.RunRequest{
		Agent: &services.AgentSpec{Name: "guardrail", Model: "gpt-4.1-mini"},
		Items: agent.Items{&agent.UserMessage{Content: "今天天氣如何?"}},
	}, &services.OutputSchema{Name: "guardrail_result", Schema: json.RawMessage(`{"type":"object"}`)}, &out)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if out.IsInvestmentQuestion || out.RefusalAnswer != "抱歉" {
		t.Errorf("out = %+v", out)
	}
	if got.ResponseFormat == nil || got.ResponseFormat.Type != openai.ChatCompletionResponseFormatTypeJSONSchema {
		t.Errorf("response_format = %+v, want json_schema", got.ResponseFormat)
	}
}

func TestBuildMessages_GroupsToolCalls(t *testing.T) {
	req := &services.RunRequest{
		Agent:   &services.AgentSpec{Instructions: "sys"},
		Context: "background",
		Items: agent.Items{
			&agent.UserMessage{Content: "q"},
			&agent.Reasoning{ID: "r"},
			&agent.FunctionCall{CallID: "a", Name: "web_search", Arguments: "{}"},
			&agent.FunctionCall{CallID: "b", Name: "web_search", Arguments: "{}"},
			&agent.FunctionCallOutput{CallID: "a", Output: "1"},
			&agent.FunctionCallOutput{CallID: "b", Output: "2"},
			&agent.AssistantMessage{Content: []agent.OutputText{{Text: "ans"}}},
			&agent.UnknownItem{Raw: json.RawMessage(`{"type":"web_search_call"}`)},
		},
	}

	msgs := buildMessages(req)
	roles := make([]string, len(msgs))
	for i, m := range msgs {
		roles[i] = m.Role
	}
	want := []string{"system", "system", "user", "assistant", "tool", "tool", "assistant"}
	if strings.Join(roles, ",") != strings.Join(want, ",") {
		t.Errorf("roles = %v, want %v", roles, want)
	}
	if len(msgs[3].ToolCalls) != 2 {
		t.Errorf("grouped tool calls = %d, want 2", len(msgs[3].ToolCalls))
	}
}

func TestBuildMessages_BlockAndInstructionContent(t *testing.T) {
	req := &services.RunRequest{
		Agent: &services.AgentSpec{},
		Items: agent.Items{
			&agent.InstructionMessage{Role: agent.RoleDeveloper, Content: "note"},
			&agent.UserMessage{Blocks: []agent.ContentBlock{
				{Type: "input_text", Text: "看"},
				{Type: "input_image"},
				{Type: "input_text", Text: "圖"},
			}},
		},
	}

	msgs := buildMessages(req)
	if len(msgs) != 2 {
		t.Fatalf("len(msgs) = %d, want 2", len(msgs))
	}
	if msgs[0].Role != openai.ChatMessageRoleSystem || msgs[0].Content != "note" {
		t.Errorf("msgs[0] = %+v, want system note", msgs[0])
	}
	if msgs[1].Role != openai.ChatMessageRoleUser || msgs[1].Content != "看圖" {
		t.Errorf("msgs[1] = %+v, want user 看圖", msgs[1])
	}
}
