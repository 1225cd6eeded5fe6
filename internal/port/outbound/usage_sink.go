// Package outbound defines the outbound port interfaces for downstream
// collaborators notified after a call completes.
package outbound

import (
	"context"
	"time"
)

// UsageEvent describes one completed (or rejected) tool call for
// downstream usage recording and webhook delivery.
type UsageEvent struct {
	ID          string    `json:"id"`
	ServerID    string    `json:"server_id"`
	Tool        string    `json:"tool"`
	Version     string    `json:"version,omitempty"`
	SessionID   string    `json:"session_id,omitempty"`
	WorkspaceID string    `json:"workspace_id,omitempty"`
	Success     bool      `json:"success"`
	ErrorCode   string    `json:"error_code,omitempty"`
	DurationMs  int64     `json:"duration_ms"`
	OccurredAt  time.Time `json:"occurred_at"`
}

// UsageSink receives usage events. Delivery is fire-and-forget from the
// pipeline's perspective; sink failures must never fail the call.
type UsageSink interface {
	// Send delivers one usage event.
	Send(ctx context.Context, event UsageEvent) error
}
