// Package breaker implements a circuit breaker around tool handler execution.
//
// Per-service health lives in the shared kv store so that many processes see
// the same circuit. State transitions: CLOSED -> OPEN once recorded failures
// reach the threshold, OPEN -> HALF_OPEN after the reset timeout has elapsed
// since the circuit opened, HALF_OPEN -> CLOSED on a successful probe and
// HALF_OPEN -> OPEN on a failed one. While half-open, a single short-TTL
// trial lock bounds probing to one caller at a time.
package breaker

import (
	"fmt"
	"time"
)

// State is the current circuit state for a service.
type State string

const (
	// StateClosed is normal operation; calls flow through.
	StateClosed State = "closed"
	// StateOpen means the service is unhealthy; calls fail fast.
	StateOpen State = "open"
	// StateHalfOpen allows a single trial call to probe recovery.
	StateHalfOpen State = "half_open"
)

// Config holds circuit breaker tuning for one service.
type Config struct {
	// FailureThreshold is the number of recorded failures that trips the
	// circuit open.
	FailureThreshold int

	// ResetTimeout is how long the circuit stays open before allowing a
	// half-open trial call.
	ResetTimeout time.Duration

	// FailureWindow bounds how long failures count against the threshold.
	// The failure counter expires after this duration of no failures.
	FailureWindow time.Duration

	// TrialLockTTL is the expiry on the half-open trial lock, so a hung
	// probe cannot wedge the circuit.
	TrialLockTTL time.Duration
}

// DefaultConfig returns the global breaker defaults.
func DefaultConfig() Config {
	return Config{
		FailureThreshold: 5,
		ResetTimeout:     30 * time.Second,
		FailureWindow:    2 * time.Minute,
		TrialLockTTL:     10 * time.Second,
	}
}

// withDefaults fills zero fields from the global defaults.
func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = d.FailureThreshold
	}
	if c.ResetTimeout <= 0 {
		c.ResetTimeout = d.ResetTimeout
	}
	if c.FailureWindow <= 0 {
		c.FailureWindow = d.FailureWindow
	}
	if c.TrialLockTTL <= 0 {
		c.TrialLockTTL = d.TrialLockTTL
	}
	return c
}

// LastFailure records the most recent failure for a service.
type LastFailure struct {
	// Message is the failure's error message.
	Message string `json:"message"`
	// Kind is the Go type of the error, for triage.
	Kind string `json:"kind"`
	// At is when the failure was recorded (UTC).
	At time.Time `json:"at"`
}

// Stats is an observability snapshot of one service's circuit.
type Stats struct {
	// Service is the service identifier.
	Service string
	// State is the current circuit state.
	State State
	// FailureCount is the current windowed failure count.
	FailureCount int64
	// SuccessCount is the cumulative success count.
	SuccessCount int64
	// OpenedAt is when the circuit opened; zero when closed.
	OpenedAt time.Time
	// LastFailure is the most recent failure, nil when none is recorded.
	LastFailure *LastFailure
	// FailureThreshold is the configured trip threshold.
	FailureThreshold int
	// ResetTimeout is the configured open-to-half-open delay.
	ResetTimeout time.Duration
}

// CircuitOpenError is returned when a call fails fast because the circuit is
// open, or because the half-open trial slot is already taken.
type CircuitOpenError struct {
	// Service is the service whose circuit rejected the call.
	Service string
	// Reason distinguishes an open circuit from a busy trial slot.
	Reason string
}

// Error implements the error interface.
func (e *CircuitOpenError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("circuit open for service %q: %s", e.Service, e.Reason)
	}
	return fmt.Sprintf("circuit open for service %q", e.Service)
}
