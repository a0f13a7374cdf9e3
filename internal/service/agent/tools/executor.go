package tools

import (
	"context"

	"advisor/internal/domain/models/agent"
)

// ToolExecutor defines the interface for executing a tool.
// Implementations must be thread-safe and respect context cancellation.
type ToolExecutor interface {
	// Definition returns the function schema offered to the model
	Definition() agent.ToolDefinition

	// Execute runs the tool with the given input parameters.
	// The returned interface{} must be JSON-serializable (maps, slices, primitives).
	Execute(ctx context.Context, input map[string]interface{}) (interface{}, error)
}
