package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"sync"
	"testing"
	"time"

	"advisor/internal/domain"
	"advisor/internal/domain/models/agent"
	services "advisor/internal/domain/services/agent"
	"advisor/internal/observability"
	"advisor/internal/service/agent/agents"
	"advisor/internal/service/agent/contextedit"
	"advisor/internal/service/agent/tokens"
	"github.com/prometheus/client_golang/prometheus"
)

// reply is one scripted structured answer
type reply struct {
	json string
	err  error
}

// fakeRunner answers structured runs from a script per agent and streams a
// fixed event list for the lead agent.
type fakeRunner struct {
	mu         sync.Mutex
	replies    map[string][]reply
	calls      map[string]int
	stream     []services.StreamEvent
	streamErr  error
	streamReqs []*services.RunRequest
	runReqs    map[string][]*services.RunRequest
}

func newFakeRunner() *fakeRunner {
	return &fakeRunner{
		replies: map[string][]reply{
			agents.Guardrail:  {{json: `{"is_investment_question": true, "refusal_answer": ""}`}},
			agents.Background: {{json: `{"user_background": "retired nurse", "intent": "etf"}`}},
			agents.FollowUp:   {{json: `{"followup_questions": ["q1", "q2", "q3"]}`}},
		},
		calls:   map[string]int{},
		runReqs: map[string][]*services.RunRequest{},
		stream: []services.StreamEvent{
			&services.TextDelta{Delta: "Hello "},
			&services.TextDelta{Delta: "world"},
			&services.MessageDone{Item: &agent.AssistantMessage{
				Status:  "completed",
				Content: []agent.OutputText{{Text: "Hello world"}},
			}},
			&services.ResponseCompleted{Model: "gpt-5-mini", Usage: agent.NewTokenUsage(1000, 400, 50, 0, 1050)},
		},
	}
}

func (r *fakeRunner) Name() string                    { return "fake" }
func (r *fakeRunner) SupportsModel(model string) bool { return true }

func (r *fakeRunner) Run(ctx context.Context, req *services.RunRequest, schema *services.OutputSchema, out interface{}) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	name := req.Agent.Name
	n := r.calls[name]
	r.calls[name] = n + 1
	r.runReqs[name] = append(r.runReqs[name], req)
	script := r.replies[name]
	r.mu.Unlock()

	if len(script) == 0 {
		return fmt.Errorf("no reply scripted for %s", name)
	}
	if n >= len(script) {
		n = len(script) - 1
	}
	if script[n].err != nil {
		return script[n].err
	}
	return json.Unmarshal([]byte(script[n].json), out)
}

func (r *fakeRunner) RunStreamed(ctx context.Context, req *services.RunRequest) (<-chan services.StreamEvent, error) {
	r.mu.Lock()
	r.calls[req.Agent.Name]++
	r.streamReqs = append(r.streamReqs, req)
	events := r.stream
	r.mu.Unlock()

	if r.streamErr != nil {
		return nil, r.streamErr
	}

	ch := make(chan services.StreamEvent)
	go func() {
		defer close(ch)
		for _, ev := range events {
			select {
			case ch <- ev:
			case <-ctx.Done():
				return
			}
		}
	}()
	return ch, nil
}

func (r *fakeRunner) callCount(name string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls[name]
}

// memoryStore is an in-memory TurnStore
type memoryStore struct {
	mu        sync.Mutex
	threads   map[string]*agent.Thread
	turns     map[string][]*agent.Turn
	loadErr   error
	appendErr error
	seq       int
}

func newMemoryStore() *memoryStore {
	return &memoryStore{
		threads: map[string]*agent.Thread{},
		turns:   map[string][]*agent.Turn{},
	}
}

func (s *memoryStore) LoadLatest(ctx context.Context, threadID string) (agent.Items, agent.TurnMetadata, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.loadErr != nil {
		return nil, agent.TurnMetadata{}, s.loadErr
	}
	turns := s.turns[threadID]
	if len(turns) == 0 {
		return agent.Items{}, agent.TurnMetadata{}, nil
	}
	last := turns[len(turns)-1]
	return last.RawItems.Clone(), last.Metadata, nil
}

func (s *memoryStore) ListTurns(ctx context.Context, threadID string, limit int) ([]agent.Turn, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	turns := s.turns[threadID]
	if limit > 0 && len(turns) > limit {
		turns = turns[len(turns)-limit:]
	}
	out := make([]agent.Turn, len(turns))
	for i, t := range turns {
		out[i] = *t
	}
	return out, nil
}

func (s *memoryStore) GetThread(ctx context.Context, threadID string) (*agent.Thread, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.loadErr != nil {
		return nil, s.loadErr
	}
	thread, ok := s.threads[threadID]
	if !ok {
		return nil, fmt.Errorf("thread %s: %w", threadID, domain.ErrNotFound)
	}
	return thread, nil
}

func (s *memoryStore) AppendTurn(ctx context.Context, turn *agent.Turn) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.appendErr != nil {
		return s.appendErr
	}
	if _, ok := s.threads[turn.ThreadID]; !ok {
		s.threads[turn.ThreadID] = &agent.Thread{ThreadID: turn.ThreadID, UserID: turn.UserID}
	}
	s.seq++
	turn.ID = strconv.Itoa(s.seq)
	turn.CreatedAt = time.Date(2026, 1, 1, 0, 0, s.seq, 0, time.UTC)
	s.turns[turn.ThreadID] = append(s.turns[turn.ThreadID], turn)
	return nil
}

func (s *memoryStore) stored(threadID string) []*agent.Turn {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*agent.Turn(nil), s.turns[threadID]...)
}

// recorder collects emitted events
type recorder struct {
	events []agent.Event
	failAt int // emit fails on this call (1-based), 0 = never
}

func (r *recorder) emit(e agent.Event) error {
	if r.failAt > 0 && len(r.events)+1 == r.failAt {
		return errors.New("client disconnected")
	}
	r.events = append(r.events, e)
	return nil
}

func (r *recorder) last() agent.Event {
	if len(r.events) == 0 {
		return agent.Event{}
	}
	return r.events[len(r.events)-1]
}

type harness struct {
	orch    *Orchestrator
	runner  *fakeRunner
	store   *memoryStore
	metrics *observability.Metrics
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	registry, err := agents.NewRegistry(nil)
	if err != nil {
		t.Fatalf("NewRegistry() error = %v", err)
	}
	counter := tokens.NewCounter(tokens.ApproxEncoder{})
	h := &harness{
		runner:  newFakeRunner(),
		store:   newMemoryStore(),
		metrics: observability.NewMetrics("test", prometheus.NewRegistry()),
	}
	h.orch, err = New(Dependencies{
		Store:   h.store,
		Editor:  contextedit.NewEditor(counter, contextedit.Thresholds{}),
		Counter: counter,
		Runner:  h.runner,
		Agents:  registry,
		Metrics: h.metrics,
		Logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
		Now:     func() time.Time { return time.Date(2026, 10, 15, 9, 0, 0, 0, time.UTC) },
	}, Config{})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return h
}

func (h *harness) run(t *testing.T, threadID, query string, rec *recorder) error {
	t.Helper()
	return h.orch.StreamTurn(context.Background(), &services.StreamTurnRequest{
		ThreadID: threadID,
		Query:    query,
		UserID:   "user-1",
	}, rec.emit)
}
