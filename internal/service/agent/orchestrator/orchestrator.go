// Package orchestrator runs one conversational turn: load and edit the
// thread context, gate it through the guardrail, stream the lead agent and
// persist the result.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"advisor/internal/domain/models/agent"
	agentRepo "advisor/internal/domain/repositories/agent"
	domainServices "advisor/internal/domain/services"
	services "advisor/internal/domain/services/agent"
	"advisor/internal/observability"
	"advisor/internal/service/agent/agents"
	"advisor/internal/service/agent/contextedit"
	"advisor/internal/service/agent/tokens"
	serviceAuth "advisor/internal/service/auth"
)

// Config tunes the orchestrator
type Config struct {
	// SideTaskAttempts is how often guardrail and side tasks are tried (default 2)
	SideTaskAttempts int
	// MaxToolRounds bounds model/tool round trips of the lead agent
	MaxToolRounds int
	// PersistTimeout bounds the final store write
	PersistTimeout time.Duration
}

// DefaultConfig returns the production settings
func DefaultConfig() Config {
	return Config{
		SideTaskAttempts: 2,
		MaxToolRounds:    5,
		PersistTimeout:   10 * time.Second,
	}
}

// Dependencies are the collaborators of the orchestrator, built in main
type Dependencies struct {
	Store      agentRepo.TurnStore
	Authorizer domainServices.ThreadAuthorizer // nil = owner-based over Store
	Editor     *contextedit.Editor
	Counter    *tokens.Counter
	Runner     services.Runner
	Agents     *agents.Registry
	Tools      services.ToolSet // nil = lead agent runs without tools
	Metrics    *observability.Metrics
	Logger     *slog.Logger
	Now        func() time.Time
}

// Orchestrator implements services.TurnService
type Orchestrator struct {
	store      agentRepo.TurnStore
	authorizer domainServices.ThreadAuthorizer
	editor     *contextedit.Editor
	counter    *tokens.Counter
	runner     services.Runner
	agents     *agents.Registry
	tools      services.ToolSet
	metrics    *observability.Metrics
	logger     *slog.Logger
	now        func() time.Time
	cfg        Config
}

var _ services.TurnService = (*Orchestrator)(nil)

// New creates an orchestrator
func New(deps Dependencies, cfg Config) (*Orchestrator, error) {
	if deps.Store == nil || deps.Editor == nil || deps.Counter == nil || deps.Runner == nil || deps.Agents == nil {
		return nil, errors.New("orchestrator: store, editor, counter, runner and agents are required")
	}
	for _, name := range []string{agents.Guardrail, agents.Background, agents.FollowUp, agents.Lead} {
		def, err := deps.Agents.Get(name)
		if err != nil {
			return nil, fmt.Errorf("orchestrator: %w", err)
		}
		if !deps.Runner.SupportsModel(def.Model) {
			return nil, fmt.Errorf("orchestrator: no runner for %s model %q", name, def.Model)
		}
	}

	def := DefaultConfig()
	if cfg.SideTaskAttempts <= 0 {
		cfg.SideTaskAttempts = def.SideTaskAttempts
	}
	if cfg.MaxToolRounds <= 0 {
		cfg.MaxToolRounds = def.MaxToolRounds
	}
	if cfg.PersistTimeout <= 0 {
		cfg.PersistTimeout = def.PersistTimeout
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.Authorizer == nil {
		deps.Authorizer = serviceAuth.NewOwnerBasedAuthorizer(deps.Store)
	}

	return &Orchestrator{
		store:      deps.Store,
		authorizer: deps.Authorizer,
		editor:     deps.Editor,
		counter:    deps.Counter,
		runner:     deps.Runner,
		agents:     deps.Agents,
		tools:      deps.Tools,
		metrics:    deps.Metrics,
		logger:     deps.Logger,
		now:        deps.Now,
		cfg:        cfg,
	}, nil
}

// ListTurns returns the persisted turns of a thread owned by userID
func (o *Orchestrator) ListTurns(ctx context.Context, threadID, userID string, limit int) ([]agent.TurnSummary, error) {
	if err := o.authorizer.CanReadThread(ctx, userID, threadID); err != nil {
		return nil, err
	}

	turns, err := o.store.ListTurns(ctx, threadID, limit)
	if err != nil {
		return nil, err
	}
	summaries := make([]agent.TurnSummary, len(turns))
	for i := range turns {
		summaries[i] = turns[i].Summary()
	}
	return summaries, nil
}

// toolDefinitions returns the lead agent's tool schemas (nil without tools)
func (o *Orchestrator) toolDefinitions() []agent.ToolDefinition {
	if o.tools == nil {
		return nil
	}
	return o.tools.Definitions()
}
