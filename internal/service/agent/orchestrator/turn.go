package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"advisor/internal/domain"
	"advisor/internal/domain/models/agent"
	services "advisor/internal/domain/services/agent"
	"advisor/internal/observability"
	"advisor/internal/service/agent/agents"
	"golang.org/x/sync/errgroup"
)

// Client-facing error texts. Details go to the log only.
const (
	errTextStorage   = "conversation history is temporarily unavailable"
	errTextForbidden = "thread belongs to another user"
	errTextCheck     = "could not process the question, please try again"
	errTextStream    = "the answer was interrupted, please try again"
)

// turnState carries one request through the pipeline
type turnState struct {
	req     *services.StreamTurnRequest
	logger  *slog.Logger
	started time.Time

	emit      services.EmitFunc
	emitted   bool
	outputLog agent.OutputLog

	input       agent.Items // edited history + the new user item
	produced    agent.Items // items the lead agent added
	usage       *agent.TokenUsage
	tags        []string
	contextEdit *agent.ContextEditSummary
}

// send forwards e to the caller and records it for persistence
func (o *Orchestrator) send(st *turnState, e agent.Event) error {
	if err := st.emit(e); err != nil {
		return err
	}
	if !st.emitted {
		st.emitted = true
		o.metrics.ObserveFirstEventLatency(o.now().Sub(st.started))
	}
	st.outputLog.Append(e)
	return nil
}

// fail emits the terminal error event. The emit error is irrelevant: the
// turn is over either way.
func (o *Orchestrator) fail(st *turnState, text string, err error) error {
	o.metrics.ObserveTurn(observability.OutcomeFailed)
	st.logger.Error("turn failed", "error", err)
	_ = st.emit(agent.ErrorEvent(text))
	return err
}

// StreamTurn implements services.TurnService
func (o *Orchestrator) StreamTurn(ctx context.Context, req *services.StreamTurnRequest, emit services.EmitFunc) error {
	st := &turnState{
		req:     req,
		logger:  o.logger.With("thread_id", req.ThreadID, "user_id", req.UserID),
		started: o.now(),
		emit:    emit,
	}

	// LOADING_HISTORY
	history, metadata, err := o.loadHistory(ctx, st)
	if err != nil {
		if errors.Is(err, domain.ErrForbidden) {
			return o.fail(st, errTextForbidden, err)
		}
		if ctx.Err() != nil {
			return o.cancelled(st, ctx.Err())
		}
		return o.fail(st, errTextStorage, err)
	}

	// EDITING_CONTEXT
	edited := o.editContext(st, history, metadata)
	st.input = append(edited, &agent.UserMessage{Content: req.Query})

	// GUARDRAIL_AND_SIDE_TASKS
	guard, background, err := o.runChecks(ctx, st)
	if err != nil {
		if ctx.Err() != nil {
			return o.cancelled(st, ctx.Err())
		}
		return o.fail(st, errTextCheck, err)
	}
	if background.Intent != "" {
		st.tags = append(st.tags, "intent:"+background.Intent)
	}

	if !guard.IsInvestmentQuestion {
		return o.reject(ctx, st, guard.RefusalAnswer)
	}
	return o.stream(ctx, st, background)
}

// loadHistory checks thread ownership and reads the latest turn
func (o *Orchestrator) loadHistory(ctx context.Context, st *turnState) (agent.Items, agent.TurnMetadata, error) {
	if err := o.authorizer.CanWriteThread(ctx, st.req.UserID, st.req.ThreadID); err != nil {
		return nil, agent.TurnMetadata{}, err
	}
	return o.store.LoadLatest(ctx, st.req.ThreadID)
}

// editContext applies the context policies, deriving prior usage from the
// stored metadata or, when missing, from a local estimate.
func (o *Orchestrator) editContext(st *turnState, history agent.Items, metadata agent.TurnMetadata) agent.Items {
	if len(history) == 0 {
		return agent.Items{}
	}

	prior := metadata.PriorTotalTokens()
	estimated := false
	if metadata.LastTokenUsage == nil {
		prior = o.counter.CountInput(history, o.toolDefinitions())
		estimated = true
	}

	result := o.editor.Edit(history, prior)
	report := result.Report

	if report.CollapsedOutputs > 0 {
		o.metrics.ObserveContextEdit(observability.PolicyCollapseToolOutputs)
	}
	if report.EvictedTurns > 0 {
		o.metrics.ObserveContextEdit(observability.PolicyEvictTurns)
	}
	if report.Changed() {
		st.logger.Info("context edited",
			"prior_usage", prior,
			"estimated", estimated,
			"collapsed_outputs", report.CollapsedOutputs,
			"evicted_turns", report.EvictedTurns,
			"remaining_turns", report.RemainingTurns,
			"remaining_tokens", report.RemainingTokens,
		)
		st.contextEdit = &agent.ContextEditSummary{
			PriorUsage:       prior,
			CollapsedOutputs: report.CollapsedOutputs,
			EvictedTurns:     report.EvictedTurns,
			RemainingTokens:  report.RemainingTokens,
			Estimated:        estimated,
		}
	}

	// the new turn appends to this slice; never share the stored backing array
	out := make(agent.Items, len(result.Items), len(result.Items)+1)
	copy(out, result.Items)
	return out
}

// runChecks runs the guardrail and the background extraction concurrently.
// The first failure cancels the other.
func (o *Orchestrator) runChecks(ctx context.Context, st *turnState) (*guardrailResult, *backgroundResult, error) {
	var (
		guard      guardrailResult
		background backgroundResult
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		err := o.retry(gctx, st, agents.Guardrail, func(ctx context.Context) error {
			return o.runStructured(ctx, agents.Guardrail, st.input, "", &guard)
		})
		if err != nil {
			return &domain.GuardrailError{Err: err}
		}
		return nil
	})
	g.Go(func() error {
		err := o.retry(gctx, st, agents.Background, func(ctx context.Context) error {
			return o.runStructured(ctx, agents.Background, st.input, "", &background)
		})
		if err != nil {
			return &domain.SideTaskError{Task: agents.Background, Err: err}
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}

	st.logger.Debug("checks passed",
		"in_scope", guard.IsInvestmentQuestion,
		"intent", background.Intent,
		"has_background", background.UserBackground != "",
	)
	return &guard, &background, nil
}

// reject answers with the guardrail's refusal and stores the exchange
func (o *Orchestrator) reject(ctx context.Context, st *turnState, refusal string) error {
	refusal = strings.TrimSpace(refusal)
	if refusal == "" {
		refusal = defaultRefusal
	}

	if err := o.send(st, agent.ContentEvent(refusal)); err != nil {
		return o.cancelled(st, err)
	}

	st.produced = agent.Items{&agent.AssistantMessage{
		Status:  "completed",
		Content: []agent.OutputText{{Text: refusal}},
	}}
	st.tags = append(st.tags, agent.TagGuardrailRejected)

	return o.finish(ctx, st, observability.OutcomeRejected)
}

// stream runs the lead agent and, concurrently, the follow-up extraction
func (o *Orchestrator) stream(ctx context.Context, st *turnState, background *backgroundResult) error {
	streamCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	note := backgroundNote(background)

	var followUps followUpResult
	fg, fctx := errgroup.WithContext(streamCtx)
	fg.Go(func() error {
		query := agent.Items{&agent.UserMessage{Content: st.req.Query}}
		return o.retry(fctx, st, agents.FollowUp, func(ctx context.Context) error {
			return o.runStructured(ctx, agents.FollowUp, query, note, &followUps)
		})
	})

	leadDef, err := o.agents.Get(agents.Lead)
	if err != nil {
		cancel()
		_ = fg.Wait()
		return o.fail(st, errTextStream, &domain.StreamingError{Err: err})
	}

	runCtx := services.WithRunContext(streamCtx, services.NewRunContext())
	runReq := &services.RunRequest{
		Agent:         leadDef.Spec(o.now()),
		Items:         st.input,
		Context:       note,
		MaxToolRounds: o.cfg.MaxToolRounds,
	}
	if o.tools != nil && leadDef.UseTools {
		runReq.Tools = o.tools
	}

	events, err := o.runner.RunStreamed(runCtx, runReq)
	if err != nil {
		cancel()
		_ = fg.Wait()
		return o.fail(st, errTextStream, &domain.StreamingError{Err: err})
	}

	streamErr := o.forward(st, events)
	if streamErr != nil || ctx.Err() != nil {
		cancel()
		for range events {
		}
		_ = fg.Wait()
		if ctx.Err() != nil {
			return o.cancelled(st, ctx.Err())
		}
		if errors.Is(streamErr, errCallerGone) {
			return o.cancelled(st, streamErr)
		}
		return o.fail(st, errTextStream, &domain.StreamingError{Err: streamErr})
	}

	if sources := services.GetRunContext(runCtx).SearchSources(); len(sources) > 0 {
		queries := make([]string, 0, len(sources))
		for q := range sources {
			queries = append(queries, q)
		}
		st.logger.Info("web search used", "queries", queries)
	}

	// follow-ups are best effort: the answer is already delivered
	if err := fg.Wait(); err != nil {
		if ctx.Err() != nil {
			return o.cancelled(st, ctx.Err())
		}
		st.logger.Warn("follow-up questions unavailable",
			"error", &domain.SideTaskError{Task: agents.FollowUp, Err: err})
	} else {
		questions := normalizeFollowUps(followUps.FollowupQuestions)
		if err := o.send(st, agent.FollowingQuestionsEvent(questions)); err != nil {
			return o.cancelled(st, err)
		}
	}

	return o.finish(ctx, st, observability.OutcomeAnswered)
}

var errCallerGone = errors.New("caller disconnected")

// forward translates runner events into outward events in arrival order
func (o *Orchestrator) forward(st *turnState, events <-chan services.StreamEvent) error {
	for ev := range events {
		var out *agent.Event

		switch e := ev.(type) {
		case *services.TextDelta:
			if e.Delta != "" {
				out = ptr(agent.ContentEvent(e.Delta))
			}
		case *services.ReasoningStarted:
			out = ptr(agent.ThinkStartEvent())
		case *services.ReasoningDone:
			st.produced = append(st.produced, e.Item)
			if summary := e.Item.SummaryText(); summary != "" {
				out = ptr(agent.ThinkTextEvent(summary))
			}
		case *services.ToolCallStarted:
			st.produced = append(st.produced, e.Item)
			out = ptr(agent.CallToolEvent(e.Item.Name, e.Item.Arguments))
		case *services.ToolCallOutput:
			st.produced = append(st.produced, e.Item)
			st.logger.Debug("tool output", "call_id", e.Item.CallID, "bytes", len(e.Item.Output))
		case *services.MessageDone:
			st.produced = append(st.produced, e.Item)
		case *services.ResponseCompleted:
			usage := e.Usage
			st.usage = &usage
		case *services.StreamFailed:
			return e.Err
		default:
			// unknown signal, not part of the outward protocol
		}

		if out != nil {
			if err := o.send(st, *out); err != nil {
				return fmt.Errorf("%w: %v", errCallerGone, err)
			}
		}
	}
	return nil
}

// finish persists the turn, then closes the stream with DONE. Persisting
// first means a caller that sends the next query right after DONE sees this turn.
func (o *Orchestrator) finish(ctx context.Context, st *turnState, outcome string) error {
	if ctx.Err() != nil {
		return o.cancelled(st, ctx.Err())
	}

	st.outputLog.Append(agent.DoneEvent())
	o.persist(ctx, st)

	if err := st.emit(agent.DoneEvent()); err != nil {
		st.logger.Debug("caller left before DONE", "error", err)
	}
	o.metrics.ObserveTurn(outcome)
	return nil
}

// persist writes the turn. Failures are logged and counted; the caller
// already has the answer.
func (o *Orchestrator) persist(ctx context.Context, st *turnState) {
	raw := make(agent.Items, 0, len(st.input)+len(st.produced))
	raw = append(raw, st.input...)
	raw = append(raw, st.produced...)

	tags := st.tags
	if tags == nil {
		tags = []string{}
	}
	turn := &agent.Turn{
		ThreadID: st.req.ThreadID,
		UserID:   st.req.UserID,
		Input:    st.req.Query,
		Output:   st.outputLog.Events(),
		RawItems: raw,
		Metadata: agent.TurnMetadata{
			LastTokenUsage: st.usage,
			Tags:           tags,
			ContextEdit:    st.contextEdit,
		},
	}

	if st.usage != nil {
		o.metrics.ObserveTokenUsage(st.usage.InputTokens, st.usage.CachedTokens, st.usage.OutputTokens, st.usage.TotalTokens)
	}

	persistCtx, cancel := context.WithTimeout(ctx, o.cfg.PersistTimeout)
	defer cancel()

	if err := o.store.AppendTurn(persistCtx, turn); err != nil {
		o.metrics.ObservePersistenceFailure()
		st.logger.Error("failed to persist turn, history for this turn is lost", "error", err)
		return
	}

	attrs := []any{"turn_id", turn.ID, "items", len(raw), "tags", tags}
	if st.usage != nil {
		attrs = append(attrs,
			"total_tokens", st.usage.TotalTokens,
			"prompt_cache_hit_ratio", st.usage.PromptCacheHitRatio,
		)
	}
	st.logger.Info("turn persisted", attrs...)
}

// cancelled ends a turn whose caller went away. Nothing is persisted.
func (o *Orchestrator) cancelled(st *turnState, err error) error {
	o.metrics.ObserveTurn(observability.OutcomeCancelled)
	st.logger.Info("turn cancelled", "error", err)
	return err
}

// retry calls fn up to SideTaskAttempts times
func (o *Orchestrator) retry(ctx context.Context, st *turnState, task string, fn func(context.Context) error) error {
	var err error
	for attempt := 1; attempt <= o.cfg.SideTaskAttempts; attempt++ {
		if err = fn(ctx); err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if attempt < o.cfg.SideTaskAttempts {
			o.metrics.ObserveSideTaskRetry(task)
			st.logger.Warn("side task failed, retrying", "task", task, "attempt", attempt, "error", err)
		}
	}
	return err
}

// runStructured runs a non-streaming agent with its declared output schema
func (o *Orchestrator) runStructured(ctx context.Context, name string, items agent.Items, note string, out interface{}) error {
	def, err := o.agents.Get(name)
	if err != nil {
		return err
	}
	req := &services.RunRequest{
		Agent:   def.Spec(o.now()),
		Items:   items,
		Context: note,
	}
	return o.runner.Run(ctx, req, def.OutputSchema(), out)
}

func ptr(e agent.Event) *agent.Event { return &e }
