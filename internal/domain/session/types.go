// Package session tracks which tools a session has called.
//
// The history is the minimal session fact the governance pipeline needs: the
// dependency validator reads it to answer "has tool X been called in this
// session", and the pipeline appends to it after each successful call.
// Entries are TTL-bound (default 24h); session CRUD beyond this lives in
// external collaborators.
package session

import "time"

// DefaultHistoryTTL is how long a session's tool history is retained.
const DefaultHistoryTTL = 24 * time.Hour

// ToolCall is one recorded tool invocation in a session's history.
type ToolCall struct {
	// Tool is the invoked tool's name.
	Tool string
	// Args are the call arguments as recorded (already redacted upstream
	// when sensitive).
	Args map[string]any
	// At is when the call was recorded (UTC).
	At time.Time
}
