package session

import "context"

// HistoryStore persists per-session tool call history.
// Interface owned by domain per hexagonal architecture.
type HistoryStore interface {
	// Append records a tool call for a session. The first append for a
	// session starts its TTL clock.
	Append(ctx context.Context, sessionID string, call ToolCall) error

	// Calls returns the session's history in call order. An unknown or
	// expired session returns an empty slice, not an error.
	Calls(ctx context.Context, sessionID string) ([]ToolCall, error)

	// CalledTools returns the distinct set of tool names the session has
	// called.
	CalledTools(ctx context.Context, sessionID string) (map[string]bool, error)
}
