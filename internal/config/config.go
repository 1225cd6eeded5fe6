// Package config provides configuration types and loading for toolgate.
package config

import "time"

// Config is the top-level configuration for the toolgate pipeline.
type Config struct {
	// Database is the path of the SQLite database holding the audit chain
	// and tool version registry.
	Database string `yaml:"database" mapstructure:"database" validate:"required"`

	// LogLevel controls slog verbosity: debug, info, warn or error.
	LogLevel string `yaml:"log_level" mapstructure:"log_level" validate:"omitempty,oneof=debug info warn error"`

	// Breaker configures the circuit breaker around tool execution.
	Breaker BreakerConfig `yaml:"breaker" mapstructure:"breaker"`

	// RateLimit configures fixed-window rate limiting.
	RateLimit RateLimitConfig `yaml:"rate_limit" mapstructure:"rate_limit"`

	// Audit configures the hash-chained audit log.
	Audit AuditConfig `yaml:"audit" mapstructure:"audit"`

	// Session configures the session tool-call history.
	Session SessionConfig `yaml:"session" mapstructure:"session"`

	// SQLGuard configures the database query validator.
	SQLGuard SQLGuardConfig `yaml:"sqlguard" mapstructure:"sqlguard"`

	// Usage configures downstream usage event delivery.
	Usage UsageConfig `yaml:"usage" mapstructure:"usage"`

	// Telemetry configures OpenTelemetry tracing.
	Telemetry TelemetryConfig `yaml:"telemetry" mapstructure:"telemetry"`
}

// BreakerConfig configures circuit breaker defaults. Per-service overrides
// share the same shape.
type BreakerConfig struct {
	// FailureThreshold is the consecutive failure count that opens the circuit.
	FailureThreshold int `yaml:"failure_threshold" mapstructure:"failure_threshold" validate:"omitempty,min=1"`
	// ResetTimeout is how long the circuit stays open before a trial call.
	ResetTimeout time.Duration `yaml:"reset_timeout" mapstructure:"reset_timeout"`
	// FailureWindow bounds how long failures count against the threshold.
	FailureWindow time.Duration `yaml:"failure_window" mapstructure:"failure_window"`
	// TrialLockTTL bounds the half-open probe slot.
	TrialLockTTL time.Duration `yaml:"trial_lock_ttl" mapstructure:"trial_lock_ttl"`
	// Services holds per-service overrides keyed by service name.
	Services map[string]BreakerServiceConfig `yaml:"services" mapstructure:"services"`
}

// BreakerServiceConfig overrides breaker defaults for one service.
type BreakerServiceConfig struct {
	FailureThreshold int           `yaml:"failure_threshold" mapstructure:"failure_threshold" validate:"omitempty,min=1"`
	ResetTimeout     time.Duration `yaml:"reset_timeout" mapstructure:"reset_timeout"`
	FailureWindow    time.Duration `yaml:"failure_window" mapstructure:"failure_window"`
	TrialLockTTL     time.Duration `yaml:"trial_lock_ttl" mapstructure:"trial_lock_ttl"`
}

// RateLimitConfig configures fixed-window counting per (identifier, tool).
type RateLimitConfig struct {
	// Calls is the default number of calls allowed per window.
	Calls int `yaml:"calls" mapstructure:"calls" validate:"omitempty,min=1"`
	// Window is the default window length.
	Window time.Duration `yaml:"window" mapstructure:"window"`
	// Tools holds per-tool overrides keyed by tool name.
	Tools map[string]RateLimitToolConfig `yaml:"tools" mapstructure:"tools"`
}

// RateLimitToolConfig overrides the rate limit for one tool.
type RateLimitToolConfig struct {
	Calls  int           `yaml:"calls" mapstructure:"calls" validate:"omitempty,min=1"`
	Window time.Duration `yaml:"window" mapstructure:"window"`
}

// AuditConfig configures the audit chain.
type AuditConfig struct {
	// SensitivityTTL bounds the per-tool sensitivity metadata cache.
	SensitivityTTL time.Duration `yaml:"sensitivity_ttl" mapstructure:"sensitivity_ttl"`
	// VerifyChunk is the row batch size used during chain verification.
	VerifyChunk int `yaml:"verify_chunk" mapstructure:"verify_chunk" validate:"omitempty,min=1"`
}

// SessionConfig configures the session tool-call history.
type SessionConfig struct {
	// HistoryTTL bounds how long a session's call history is retained.
	HistoryTTL time.Duration `yaml:"history_ttl" mapstructure:"history_ttl"`
	// CleanupInterval is how often expired histories are swept.
	CleanupInterval time.Duration `yaml:"cleanup_interval" mapstructure:"cleanup_interval"`
}

// SQLGuardConfig configures the layered query validator.
type SQLGuardConfig struct {
	// Whitelist enables the allow-pattern layer.
	Whitelist bool `yaml:"whitelist" mapstructure:"whitelist"`
	// CacheSize bounds the verdict cache.
	CacheSize int `yaml:"cache_size" mapstructure:"cache_size" validate:"omitempty,min=1"`
}

// UsageConfig configures downstream usage event delivery.
type UsageConfig struct {
	// WebhookURL is the endpoint events are POSTed to. Empty disables delivery.
	WebhookURL string `yaml:"webhook_url" mapstructure:"webhook_url" validate:"omitempty,url"`
	// WebhookSecret is attached as a bearer token when set.
	WebhookSecret string `yaml:"webhook_secret" mapstructure:"webhook_secret"`
	// ChannelSize is the event buffer size.
	ChannelSize int `yaml:"channel_size" mapstructure:"channel_size" validate:"omitempty,min=1"`
	// SendTimeout is the backpressure timeout before an event is dropped.
	SendTimeout time.Duration `yaml:"send_timeout" mapstructure:"send_timeout"`
}

// TelemetryConfig configures tracing.
type TelemetryConfig struct {
	// Enabled turns on the stdout trace exporter.
	Enabled bool `yaml:"enabled" mapstructure:"enabled"`
}

// SetDefaults applies default values for optional fields.
func (c *Config) SetDefaults() {
	if c.Database == "" {
		c.Database = "toolgate.db"
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.Breaker.FailureThreshold == 0 {
		c.Breaker.FailureThreshold = 5
	}
	if c.Breaker.ResetTimeout == 0 {
		c.Breaker.ResetTimeout = 30 * time.Second
	}
	if c.Breaker.FailureWindow == 0 {
		c.Breaker.FailureWindow = 2 * time.Minute
	}
	if c.Breaker.TrialLockTTL == 0 {
		c.Breaker.TrialLockTTL = 10 * time.Second
	}
	if c.RateLimit.Calls == 0 {
		c.RateLimit.Calls = 60
	}
	if c.RateLimit.Window == 0 {
		c.RateLimit.Window = time.Minute
	}
	if c.Audit.SensitivityTTL == 0 {
		c.Audit.SensitivityTTL = 5 * time.Minute
	}
	if c.Audit.VerifyChunk == 0 {
		c.Audit.VerifyChunk = 500
	}
	if c.Session.HistoryTTL == 0 {
		c.Session.HistoryTTL = 24 * time.Hour
	}
	if c.Session.CleanupInterval == 0 {
		c.Session.CleanupInterval = time.Minute
	}
	if c.SQLGuard.CacheSize == 0 {
		c.SQLGuard.CacheSize = 1000
	}
	if c.Usage.ChannelSize == 0 {
		c.Usage.ChannelSize = 1000
	}
	if c.Usage.SendTimeout == 0 {
		c.Usage.SendTimeout = 100 * time.Millisecond
	}
}
