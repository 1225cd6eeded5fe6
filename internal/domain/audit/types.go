package audit

import "time"

// Entry is one hash-chained audit log row. EntryHash covers every field
// including ID and PreviousHash, so post-hoc mutation of any persisted
// field is detectable.
type Entry struct {
	ID            int64          `json:"id"`
	ServerID      string         `json:"server_id"`
	Tool          string         `json:"tool"`
	InputParams   map[string]any `json:"input_params,omitempty"`
	OutputSummary map[string]any `json:"output_summary,omitempty"`
	Success       bool           `json:"success"`
	DurationMs    int64          `json:"duration_ms"`
	ErrorCode     string         `json:"error_code,omitempty"`
	ErrorMessage  string         `json:"error_message,omitempty"`
	SessionID     string         `json:"session_id,omitempty"`
	WorkspaceID   string         `json:"workspace_id,omitempty"`
	ActorType     string         `json:"actor_type,omitempty"`
	ActorID       string         `json:"actor_id,omitempty"`
	ActorIP       string         `json:"actor_ip,omitempty"`
	AgentType     string         `json:"agent_type,omitempty"`
	PlanSlug      string         `json:"plan_slug,omitempty"`
	Sensitive     bool           `json:"sensitive"`
	CreatedAt     time.Time      `json:"created_at"`
	PreviousHash  *string        `json:"previous_hash"`
	EntryHash     string         `json:"entry_hash"`
}

// CallRecord carries the fields of a completed (or rejected) tool call
// into the chain.
type CallRecord struct {
	ServerID      string
	Tool          string
	InputParams   map[string]any
	OutputSummary map[string]any
	Success       bool
	DurationMs    int64
	ErrorCode     string
	ErrorMessage  string
	SessionID     string
	WorkspaceID   string
	ActorType     string
	ActorID       string
	ActorIP       string
	AgentType     string
	PlanSlug      string
}

// Issue types reported by chain verification.
const (
	IssueHashMismatch = "hash_mismatch"
	IssueChainBreak   = "chain_break"
)

// VerifyIssue is one problem found while verifying the chain.
type VerifyIssue struct {
	ID       int64  `json:"id"`
	Type     string `json:"type"`
	Message  string `json:"message"`
	Expected string `json:"expected,omitempty"`
	Actual   string `json:"actual,omitempty"`
}

// VerifyResult summarises a chain verification pass. Verification is
// read-only; issues are reported, never repaired.
type VerifyResult struct {
	Valid    bool          `json:"valid"`
	Total    int64         `json:"total"`
	Verified int64         `json:"verified"`
	Issues   []VerifyIssue `json:"issues,omitempty"`
}

// Sensitivity is per-tool redaction metadata consulted before recording.
type Sensitivity struct {
	Sensitive    bool     `json:"sensitive"`
	RedactFields []string `json:"redact_fields,omitempty"`
}
