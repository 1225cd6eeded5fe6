// Package service composes the governance stages into the invocation
// pipeline and hosts the supporting orchestration services.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/toolgate-io/toolgate/internal/domain/audit"
	"github.com/toolgate-io/toolgate/internal/domain/breaker"
	"github.com/toolgate-io/toolgate/internal/domain/depend"
	"github.com/toolgate-io/toolgate/internal/domain/ratelimit"
	"github.com/toolgate-io/toolgate/internal/domain/version"
	"github.com/toolgate-io/toolgate/internal/metrics"
	"github.com/toolgate-io/toolgate/internal/port/inbound"
	"github.com/toolgate-io/toolgate/internal/port/outbound"
)

// Error codes attached to audit entries for pre-execution rejections.
const (
	CodeMissingDependency = "MISSING_DEPENDENCY"
	CodeRateLimited       = "RATE_LIMITED"
	CodeCircuitOpen       = "CIRCUIT_OPEN"
	CodeExecutionFailed   = "EXECUTION_FAILED"
)

// PipelineService runs each tool call through version resolution,
// dependency validation, rate limiting, circuit-breaker-guarded execution,
// redaction and the audit chain. Rejected calls never reach the executor
// but are still audited as failed calls.
type PipelineService struct {
	versions  *version.Resolver
	deps      *depend.Validator
	limiter   *ratelimit.Limiter
	breaker   *breaker.Breaker
	chain     *audit.Chain
	executor  outbound.ToolExecutor
	usage     *UsageService
	metrics   *metrics.Metrics
	tracer    trace.Tracer
	logger    *slog.Logger
	clock     func() time.Time
}

// PipelineOption configures PipelineService.
type PipelineOption func(*PipelineService)

// WithUsageService attaches the async usage event dispatcher.
func WithUsageService(u *UsageService) PipelineOption {
	return func(s *PipelineService) {
		s.usage = u
	}
}

// WithMetrics attaches Prometheus metrics.
func WithMetrics(m *metrics.Metrics) PipelineOption {
	return func(s *PipelineService) {
		s.metrics = m
	}
}

// WithTracer attaches an OpenTelemetry tracer.
func WithTracer(t trace.Tracer) PipelineOption {
	return func(s *PipelineService) {
		s.tracer = t
	}
}

// withClock overrides the time source, for tests.
func withClock(clock func() time.Time) PipelineOption {
	return func(s *PipelineService) {
		s.clock = clock
	}
}

// NewPipelineService wires the pipeline stages together.
func NewPipelineService(
	versions *version.Resolver,
	deps *depend.Validator,
	limiter *ratelimit.Limiter,
	brk *breaker.Breaker,
	chain *audit.Chain,
	executor outbound.ToolExecutor,
	logger *slog.Logger,
	opts ...PipelineOption,
) *PipelineService {
	if logger == nil {
		logger = slog.Default()
	}
	s := &PipelineService{
		versions: versions,
		deps:     deps,
		limiter:  limiter,
		breaker:  brk,
		chain:    chain,
		executor: executor,
		tracer:   noop.NewTracerProvider().Tracer("toolgate"),
		logger:   logger,
		clock:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Invoke runs one tool call through the full pipeline.
func (s *PipelineService) Invoke(ctx context.Context, req inbound.CallRequest) (*inbound.CallResult, error) {
	ctx, span := s.tracer.Start(ctx, "pipeline.invoke",
		trace.WithAttributes(
			attribute.String("tool", req.Tool),
			attribute.String("server", req.ServerID),
		))
	defer span.End()

	started := s.clock()

	// Stage 1: version resolution.
	res, err := s.versions.Resolve(ctx, req.ServerID, req.Tool, req.Version)
	if err != nil {
		s.reject(ctx, span, req, "version", resolveCode(err), err, started)
		return nil, err
	}
	resolved := res.Version.Version

	var warnings []string
	if res.Warning != "" {
		warnings = append(warnings, res.Warning)
		s.logger.Warn("resolved deprecated tool version",
			"tool", req.Tool, "version", resolved, "warning", res.Warning)
	}

	// Stage 2: dependency validation.
	if err := s.deps.ValidateDependencies(ctx, req.SessionID, req.Tool, req.Context, req.Args); err != nil {
		var missing *depend.MissingDependencyError
		if errors.As(err, &missing) {
			s.reject(ctx, span, req, "dependency", CodeMissingDependency, err, started)
		}
		return nil, err
	}

	// Stage 3: rate limiting. The dry-run check fast-paths callers whose
	// window is already exhausted without consuming budget. The hit's
	// post-increment count is the authoritative decision: concurrent
	// callers racing past the check each charge the atomic counter, and
	// whoever pushes it over the limit is refused.
	status, err := s.limiter.Check(ctx, req.Identifier, req.Tool)
	if err != nil {
		return nil, fmt.Errorf("checking rate limit: %w", err)
	}
	if !status.Limited {
		status, err = s.limiter.Hit(ctx, req.Identifier, req.Tool)
		if err != nil {
			return nil, fmt.Errorf("recording rate limit hit: %w", err)
		}
	}
	if status.Limited {
		rlErr := &ratelimit.RateLimitError{
			Identifier: req.Identifier,
			Tool:       req.Tool,
			RetryAfter: status.RetryAfter,
		}
		s.reject(ctx, span, req, "ratelimit", CodeRateLimited, rlErr, started)
		return nil, rlErr
	}

	// Stage 4: guarded execution.
	out, err := s.breaker.Call(ctx, req.ServerID, func(ctx context.Context) (any, error) {
		return s.executor.Execute(ctx, req.ServerID, req.Tool, resolved, req.Args)
	}, nil)
	durationMs := s.clock().Sub(started).Milliseconds()
	s.recordBreakerState(ctx, req.ServerID)

	if err != nil {
		code := CodeExecutionFailed
		var open *breaker.CircuitOpenError
		if errors.As(err, &open) {
			code = CodeCircuitOpen
			s.countRejection("breaker")
		}
		s.record(ctx, req, resolved, nil, false, durationMs, code, err.Error())
		s.publishUsage(req, resolved, false, code, durationMs)
		s.countCall(req.Tool, "error", durationMs)
		span.SetStatus(codes.Error, code)
		return nil, err
	}

	output, _ := out.(map[string]any)

	// Stages 5-6: redaction happens inside the chain append.
	entry := s.record(ctx, req, resolved, output, true, durationMs, "", "")

	// Session history only reflects calls that actually happened.
	if req.SessionID != "" {
		if err := s.deps.RecordToolCall(ctx, req.SessionID, req.Tool, req.Args); err != nil {
			s.logger.Warn("recording session tool call failed",
				"session", req.SessionID, "tool", req.Tool, "error", err)
		}
	}

	s.publishUsage(req, resolved, true, "", durationMs)
	s.countCall(req.Tool, "ok", durationMs)

	result := &inbound.CallResult{
		Output:   output,
		Version:  resolved,
		Warnings: warnings,
	}
	if entry != nil {
		result.AuditEntryID = entry.ID
	}
	return result, nil
}

// reject audits and counts a pre-execution rejection. The tool handler has
// not run, so the entry carries no output and success=false.
func (s *PipelineService) reject(ctx context.Context, span trace.Span, req inbound.CallRequest, stage, code string, cause error, started time.Time) {
	durationMs := s.clock().Sub(started).Milliseconds()
	s.record(ctx, req, req.Version, nil, false, durationMs, code, cause.Error())
	s.publishUsage(req, req.Version, false, code, durationMs)
	s.countRejection(stage)
	s.countCall(req.Tool, "rejected", durationMs)
	span.SetStatus(codes.Error, code)
	s.logger.Info("tool call rejected",
		"tool", req.Tool, "stage", stage, "code", code, "error", cause.Error())
}

// record appends one chained audit entry. Audit failures are logged, never
// propagated to the caller.
func (s *PipelineService) record(ctx context.Context, req inbound.CallRequest, ver string, output map[string]any, success bool, durationMs int64, code, message string) *audit.Entry {
	entry, err := s.chain.Record(ctx, audit.CallRecord{
		ServerID:      req.ServerID,
		Tool:          req.Tool,
		InputParams:   req.Args,
		OutputSummary: output,
		Success:       success,
		DurationMs:    durationMs,
		ErrorCode:     code,
		ErrorMessage:  message,
		SessionID:     req.SessionID,
		WorkspaceID:   req.WorkspaceID,
		ActorType:     req.ActorType,
		ActorID:       req.ActorID,
		ActorIP:       req.ActorIP,
		AgentType:     req.AgentType,
		PlanSlug:      req.PlanSlug,
	})
	if err != nil {
		s.logger.Error("audit chain append failed", "tool", req.Tool, "error", err)
		return nil
	}
	if s.metrics != nil {
		s.metrics.AuditAppends.Inc()
	}
	return entry
}

// publishUsage hands the event to the async dispatcher when one is wired.
func (s *PipelineService) publishUsage(req inbound.CallRequest, ver string, success bool, code string, durationMs int64) {
	if s.usage == nil {
		return
	}
	s.usage.Publish(outbound.UsageEvent{
		ServerID:    req.ServerID,
		Tool:        req.Tool,
		Version:     ver,
		SessionID:   req.SessionID,
		WorkspaceID: req.WorkspaceID,
		Success:     success,
		ErrorCode:   code,
		DurationMs:  durationMs,
		OccurredAt:  s.clock(),
	})
}

func (s *PipelineService) countCall(tool, status string, durationMs int64) {
	if s.metrics == nil {
		return
	}
	s.metrics.CallsTotal.WithLabelValues(tool, status).Inc()
	s.metrics.CallDuration.WithLabelValues(tool).Observe(float64(durationMs) / 1000)
}

func (s *PipelineService) countRejection(stage string) {
	if s.metrics == nil {
		return
	}
	s.metrics.RejectionsTotal.WithLabelValues(stage).Inc()
}

// recordBreakerState exports the circuit state for a service as a gauge
// (0=closed, 1=half_open, 2=open).
func (s *PipelineService) recordBreakerState(ctx context.Context, service string) {
	if s.metrics == nil {
		return
	}
	state, err := s.breaker.State(ctx, service)
	if err != nil {
		return
	}
	var v float64
	switch state {
	case breaker.StateHalfOpen:
		v = 1
	case breaker.StateOpen:
		v = 2
	}
	s.metrics.BreakerState.WithLabelValues(service).Set(v)
}

// resolveCode maps a resolution failure to an audit error code.
func resolveCode(err error) string {
	var re *version.ResolveError
	if errors.As(err, &re) {
		return re.Code
	}
	return version.CodeVersionNotFound
}

// Compile-time interface verification.
var _ inbound.Pipeline = (*PipelineService)(nil)
