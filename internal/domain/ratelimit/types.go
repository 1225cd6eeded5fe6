// Package ratelimit bounds tool calls per (identifier, tool) pair within a
// fixed time window.
package ratelimit

import (
	"fmt"
	"strconv"
	"time"
)

// Limit defines the rate limiting parameters for one tool.
type Limit struct {
	// Calls is the number of allowed calls in the window.
	Calls int

	// Window is the fixed time window for the limit.
	Window time.Duration
}

// Status is the result of a rate limit check.
type Status struct {
	// Limited indicates whether the call would be (Check) or was (Hit)
	// refused.
	Limited bool

	// Limit is the effective calls-per-window limit.
	Limit int

	// Remaining is the number of calls left in the current window.
	Remaining int

	// RetryAfter is the duration until the window resets. Only meaningful
	// when Limited is true.
	RetryAfter time.Duration

	// Reset is the duration until the current window expires.
	Reset time.Duration
}

// Headers returns rate limit state in X-MCP-RateLimit header form, for
// transports that surface limits to callers.
func (s Status) Headers() map[string]string {
	return map[string]string{
		"X-MCP-RateLimit-Limit":     strconv.Itoa(s.Limit),
		"X-MCP-RateLimit-Remaining": strconv.Itoa(s.Remaining),
		"X-MCP-RateLimit-Reset":     strconv.Itoa(int(s.Reset.Round(time.Second) / time.Second)),
	}
}

// RateLimitError is returned by the pipeline when a call is refused.
type RateLimitError struct {
	// Identifier is the rate-limited caller.
	Identifier string
	// Tool is the tool the limit applies to.
	Tool string
	// RetryAfter indicates how long to wait before retrying.
	RetryAfter time.Duration
}

// Error implements the error interface.
func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limited for tool %q, retry after %v", e.Tool, e.RetryAfter)
}

// counterKey returns the kv key for one (identifier, tool) window.
// Format: "ratelimit:{identifier}:{tool}"
func counterKey(identifier, tool string) string {
	return "ratelimit:" + identifier + ":" + tool
}
