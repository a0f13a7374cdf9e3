// Package providers routes agent runs to the runner that serves the model.
package providers

import (
	"context"
	"fmt"

	services "advisor/internal/domain/services/agent"
)

// Router dispatches to the first registered runner that supports the model.
// Registration happens at startup; Router is read-only afterwards.
type Router struct {
	runners []services.Runner
}

var _ services.Runner = (*Router)(nil)

// NewRouter creates a router over runners, consulted in order
func NewRouter(runners ...services.Runner) *Router {
	return &Router{runners: runners}
}

// Name returns the router name.
func (r *Router) Name() string {
	return "router"
}

// SupportsModel reports whether any runner serves model
func (r *Router) SupportsModel(model string) bool {
	_, err := r.runnerFor(model)
	return err == nil
}

// RunStreamed implements Runner
func (r *Router) RunStreamed(ctx context.Context, req *services.RunRequest) (<-chan services.StreamEvent, error) {
	runner, err := r.runnerFor(req.Agent.Model)
	if err != nil {
		return nil, err
	}
	return runner.RunStreamed(ctx, req)
}

// Run implements Runner
func (r *Router) Run(ctx context.Context, req *services.RunRequest, schema *services.OutputSchema, out interface{}) error {
	runner, err := r.runnerFor(req.Agent.Model)
	if err != nil {
		return err
	}
	return runner.Run(ctx, req, schema, out)
}

func (r *Router) runnerFor(model string) (services.Runner, error) {
	for _, runner := range r.runners {
		if runner != nil && runner.SupportsModel(model) {
			return runner, nil
		}
	}
	return nil, fmt.Errorf("no runner configured for model %q", model)
}
