// Package inbound defines the inbound port through which transports hand
// tool calls to the governance pipeline.
package inbound

import "context"

// CallRequest is one tool call arriving at the pipeline.
type CallRequest struct {
	ServerID    string
	Tool        string
	Version     string
	SessionID   string
	WorkspaceID string
	// Identifier keys rate limiting, typically an API key or actor id.
	Identifier string
	ActorType  string
	ActorID    string
	ActorIP    string
	AgentType  string
	PlanSlug   string
	// Context carries session state consulted by dependency checks.
	Context map[string]any
	Args    map[string]any
}

// CallResult is the outcome of a cleared, executed and audited call.
type CallResult struct {
	Output map[string]any
	// Version is the resolved tool version the call ran against.
	Version string
	// Warnings carries non-fatal notices such as deprecation messages.
	Warnings []string
	// AuditEntryID is the id of the chained audit entry for the call.
	AuditEntryID int64
}

// Pipeline is the inbound port implemented by the governance pipeline.
type Pipeline interface {
	// Invoke runs a tool call through resolution, dependency validation,
	// rate limiting, guarded execution, redaction and audit.
	Invoke(ctx context.Context, req CallRequest) (*CallResult, error)
}
