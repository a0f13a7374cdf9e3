package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"advisor/internal/domain/models/agent"
	services "advisor/internal/domain/services/agent"
)

// ToolRegistry manages tool executors and handles tool execution.
// It is thread-safe and can be used concurrently.
type ToolRegistry struct {
	mu        sync.RWMutex
	executors map[string]ToolExecutor
	config    *ToolConfig
	logger    *slog.Logger
}

var _ services.ToolSet = (*ToolRegistry)(nil)

// NewToolRegistry creates a new tool registry.
func NewToolRegistry(config *ToolConfig, logger *slog.Logger) *ToolRegistry {
	if config == nil {
		config = DefaultToolConfig()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &ToolRegistry{
		executors: make(map[string]ToolExecutor),
		config:    config,
		logger:    logger,
	}
}

// Register adds a tool executor to the registry under its definition name.
// If a tool with the same name already exists, it will be replaced.
func (r *ToolRegistry) Register(executor ToolExecutor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.executors[executor.Definition().Name] = executor
}

// Get retrieves a tool executor by name.
// Returns nil if the tool is not registered.
func (r *ToolRegistry) Get(name string) ToolExecutor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.executors[name]
}

// Definitions implements ToolSet. Sorted by name so token estimates are stable.
func (r *ToolRegistry) Definitions() []agent.ToolDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()

	defs := make([]agent.ToolDefinition, 0, len(r.executors))
	for _, executor := range r.executors {
		defs = append(defs, executor.Definition())
	}
	sort.Slice(defs, func(i, j int) bool { return defs[i].Name < defs[j].Name })
	return defs
}

// Call implements ToolSet. Tool failures are returned to the model as an
// error payload; only cancellation stops the run.
func (r *ToolRegistry) Call(ctx context.Context, name, arguments string) (string, error) {
	input := map[string]interface{}{}
	if arguments != "" {
		if err := json.Unmarshal([]byte(arguments), &input); err != nil {
			return toolError(fmt.Errorf("invalid arguments: %w", err)), nil
		}
	}

	executor := r.Get(name)
	if executor == nil {
		return toolError(fmt.Errorf("tool not found: %s", name)), nil
	}

	result, err := executor.Execute(ctx, input)
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		r.logger.Warn("tool failed", "tool", name, "error", err)
		return toolError(err), nil
	}

	data, err := json.Marshal(result)
	if err != nil {
		return toolError(fmt.Errorf("encode result: %w", err)), nil
	}
	output := string(data)
	if r.config.MaxOutputSize > 0 && len(output) > r.config.MaxOutputSize {
		output = truncateUTF8(output, r.config.MaxOutputSize)
	}
	return output, nil
}

func toolError(err error) string {
	data, _ := json.Marshal(map[string]string{"error": err.Error()})
	return string(data)
}

// truncateUTF8 cuts s to at most n bytes without splitting a rune
func truncateUTF8(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !isRuneStart(s[n]) {
		n--
	}
	return s[:n]
}

func isRuneStart(b byte) bool {
	return b&0xC0 != 0x80
}
