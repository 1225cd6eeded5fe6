// Package app assembles the governance pipeline from configuration, for
// programs embedding toolgate.
package app

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/toolgate-io/toolgate/internal/adapter/outbound/memory"
	"github.com/toolgate-io/toolgate/internal/adapter/outbound/sqlite"
	"github.com/toolgate-io/toolgate/internal/adapter/outbound/webhook"
	"github.com/toolgate-io/toolgate/internal/config"
	"github.com/toolgate-io/toolgate/internal/domain/audit"
	"github.com/toolgate-io/toolgate/internal/domain/breaker"
	"github.com/toolgate-io/toolgate/internal/domain/depend"
	"github.com/toolgate-io/toolgate/internal/domain/ratelimit"
	"github.com/toolgate-io/toolgate/internal/domain/sqlguard"
	"github.com/toolgate-io/toolgate/internal/domain/version"
	"github.com/toolgate-io/toolgate/internal/metrics"
	"github.com/toolgate-io/toolgate/internal/port/outbound"
	"github.com/toolgate-io/toolgate/internal/service"
	"github.com/toolgate-io/toolgate/internal/telemetry"
)

// App is a fully wired pipeline and its supporting services.
type App struct {
	Pipeline *service.PipelineService
	SQLGuard *service.SQLGuardService
	Chain    *audit.Chain
	Versions *version.Resolver
	Deps     *depend.Validator

	// Sensitivities registers per-tool redaction metadata consulted by
	// the audit chain.
	Sensitivities *memory.SensitivityStore

	// Registry exposes the pipeline's Prometheus metrics for scraping.
	Registry *prometheus.Registry
	Metrics  *metrics.Metrics

	db          *sql.DB
	kvStore     *memory.KVStore
	history     *memory.HistoryStore
	usage       *service.UsageService
	stopTracing func(context.Context) error
}

// New builds the pipeline from cfg around the given tool executor. The
// caller owns the executor; everything else is wired here. Call Close when
// done.
func New(ctx context.Context, cfg *config.Config, executor outbound.ToolExecutor, logger *slog.Logger) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}

	db, err := sqlite.Open(cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("opening database %q: %w", cfg.Database, err)
	}

	a := &App{
		db:       db,
		kvStore:  memory.NewKVStore(),
		Registry: prometheus.NewRegistry(),
	}
	a.Metrics = metrics.NewMetrics(a.Registry)
	a.kvStore.StartCleanup(ctx)

	a.history = memory.NewHistoryStoreWithConfig(cfg.Session.HistoryTTL, cfg.Session.CleanupInterval)
	a.history.StartCleanup(ctx)

	a.Sensitivities = memory.NewSensitivityStore()
	a.Chain = audit.NewChain(sqlite.NewChainStore(db), a.Sensitivities, logger,
		audit.WithSensitivityTTL(cfg.Audit.SensitivityTTL),
		audit.WithVerifyChunk(cfg.Audit.VerifyChunk),
	)

	a.Versions = version.NewResolver(sqlite.NewVersionStore(db), logger)
	a.Deps = depend.NewValidator(a.history, logger)

	limiter := ratelimit.NewLimiter(a.kvStore,
		ratelimit.Limit{Calls: cfg.RateLimit.Calls, Window: cfg.RateLimit.Window},
		toolLimits(cfg.RateLimit.Tools), logger)

	brkOpts := make([]breaker.Option, 0, len(cfg.Breaker.Services))
	for svc, sc := range cfg.Breaker.Services {
		brkOpts = append(brkOpts, breaker.WithServiceConfig(svc, breaker.Config{
			FailureThreshold: sc.FailureThreshold,
			ResetTimeout:     sc.ResetTimeout,
			FailureWindow:    sc.FailureWindow,
			TrialLockTTL:     sc.TrialLockTTL,
		}))
	}
	brk := breaker.New(a.kvStore, breaker.Config{
		FailureThreshold: cfg.Breaker.FailureThreshold,
		ResetTimeout:     cfg.Breaker.ResetTimeout,
		FailureWindow:    cfg.Breaker.FailureWindow,
		TrialLockTTL:     cfg.Breaker.TrialLockTTL,
	}, logger, brkOpts...)

	tracer, stopTracing, err := telemetry.Setup(ctx, cfg.Telemetry.Enabled)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("setting up tracing: %w", err)
	}
	a.stopTracing = stopTracing

	pipeOpts := []service.PipelineOption{
		service.WithMetrics(a.Metrics),
		service.WithTracer(tracer),
	}

	if cfg.Usage.WebhookURL != "" {
		sink := webhook.NewSink(cfg.Usage.WebhookURL, webhook.WithSecret(cfg.Usage.WebhookSecret))
		a.usage = service.NewUsageService(sink, logger,
			service.WithUsageChannelSize(cfg.Usage.ChannelSize),
			service.WithUsageSendTimeout(cfg.Usage.SendTimeout),
			service.WithUsageDropCounter(a.Metrics.UsageDropsTotal),
		)
		a.usage.Start(ctx)
		pipeOpts = append(pipeOpts, service.WithUsageService(a.usage))
	}

	a.Pipeline = service.NewPipelineService(
		a.Versions, a.Deps, limiter, brk, a.Chain, executor, logger, pipeOpts...)

	a.SQLGuard = service.NewSQLGuardService(
		sqlguard.New(sqlguard.WithWhitelist(cfg.SQLGuard.Whitelist)),
		service.WithVerdictCacheSize(cfg.SQLGuard.CacheSize),
	)

	return a, nil
}

// Close flushes the usage buffer, stops background workers and closes the
// database.
func (a *App) Close(ctx context.Context) error {
	if a.usage != nil {
		a.usage.Stop()
	}
	a.history.Stop()
	a.kvStore.Stop()
	if err := a.stopTracing(ctx); err != nil {
		return fmt.Errorf("shutting down tracing: %w", err)
	}
	return a.db.Close()
}

// toolLimits converts config overrides into limiter overrides.
func toolLimits(tools map[string]config.RateLimitToolConfig) map[string]ratelimit.Limit {
	out := make(map[string]ratelimit.Limit, len(tools))
	for tool, tc := range tools {
		out[tool] = ratelimit.Limit{Calls: tc.Calls, Window: tc.Window}
	}
	return out
}
