package outbound

import "context"

// ToolExecutor performs the actual tool invocation once the pipeline has
// cleared the call. Implementations own their own timeouts; the pipeline
// only reacts to the error they return.
type ToolExecutor interface {
	// Execute runs the tool and returns its output summary.
	Execute(ctx context.Context, serverID, tool, version string, args map[string]any) (map[string]any, error)
}

// ToolExecutorFunc adapts a function to the ToolExecutor interface.
type ToolExecutorFunc func(ctx context.Context, serverID, tool, version string, args map[string]any) (map[string]any, error)

// Execute implements ToolExecutor.
func (f ToolExecutorFunc) Execute(ctx context.Context, serverID, tool, version string, args map[string]any) (map[string]any, error) {
	return f(ctx, serverID, tool, version, args)
}
