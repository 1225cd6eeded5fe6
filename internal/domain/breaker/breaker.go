package breaker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"time"

	"github.com/toolgate-io/toolgate/internal/domain/kv"
)

// Operation is the guarded call. The breaker does not impose a timeout;
// cancellation belongs to the operation itself (e.g. an HTTP client timeout).
type Operation func(ctx context.Context) (any, error)

// Fallback produces a substitute result when the circuit is open or the
// operation failed with a recoverable error.
type Fallback func(ctx context.Context) (any, error)

// RecoverablePredicate reports whether an error is an infrastructure failure
// that a fallback may mask. Non-recoverable errors always propagate so that
// application bugs are not silently swallowed.
type RecoverablePredicate func(err error) bool

// recoverablePatterns matches infrastructure failures by message. This is the
// default classification; callers with a typed error taxonomy should supply
// their own predicate via WithRecoverable.
var recoverablePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)connection refused`),
	regexp.MustCompile(`(?i)no such table`),
	regexp.MustCompile(`(?i)table .* (doesn't|does not) exist`),
	regexp.MustCompile(`(?i)\btimeout\b`),
	regexp.MustCompile(`(?i)\btimed out\b`),
	regexp.MustCompile(`(?i)too many connections`),
}

// defaultRecoverable is the message-pattern classification.
func defaultRecoverable(err error) bool {
	msg := err.Error()
	for _, p := range recoverablePatterns {
		if p.MatchString(msg) {
			return true
		}
	}
	return false
}

// Breaker is the circuit breaker. It is stateless itself: all per-service
// health lives in the shared kv store, so any process sees the same circuit.
type Breaker struct {
	store       kv.Store
	defaults    Config
	perService  map[string]Config
	recoverable RecoverablePredicate
	logger      *slog.Logger
}

// Option configures a Breaker.
type Option func(*Breaker)

// WithServiceConfig sets a per-service config override.
func WithServiceConfig(service string, cfg Config) Option {
	return func(b *Breaker) {
		b.perService[service] = cfg.withDefaults()
	}
}

// WithRecoverable replaces the default message-pattern recoverable
// classification with a caller-supplied predicate.
func WithRecoverable(pred RecoverablePredicate) Option {
	return func(b *Breaker) {
		b.recoverable = pred
	}
}

// New creates a Breaker backed by the given store.
func New(store kv.Store, defaults Config, logger *slog.Logger, opts ...Option) *Breaker {
	b := &Breaker{
		store:       store,
		defaults:    defaults.withDefaults(),
		perService:  make(map[string]Config),
		recoverable: defaultRecoverable,
		logger:      logger,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// kv key layout, per service.
func failuresKey(service string) string  { return "breaker:" + service + ":failures" }
func successesKey(service string) string { return "breaker:" + service + ":successes" }
func openedAtKey(service string) string  { return "breaker:" + service + ":opened_at" }
func lastFailKey(service string) string  { return "breaker:" + service + ":last_failure" }
func trialKey(service string) string     { return "breaker:" + service + ":trial" }

// config returns the effective config for a service.
func (b *Breaker) config(service string) Config {
	if cfg, ok := b.perService[service]; ok {
		return cfg
	}
	return b.defaults
}

// Call runs op guarded by the service's circuit.
//
// When the circuit is open the call fails fast: the fallback runs if one is
// supplied, otherwise a *CircuitOpenError is returned. When half-open, only
// the caller holding the trial lock may probe; others fail fast the same way.
// Operation failures are always recorded into the health counters, even when
// a fallback masks them from the caller, so circuit state reflects the true
// downstream health. A fallback only consumes errors classified recoverable.
func (b *Breaker) Call(ctx context.Context, service string, op Operation, fallback Fallback) (any, error) {
	state, _, err := b.deriveState(ctx, service)
	if err != nil {
		return nil, fmt.Errorf("breaker state for %q: %w", service, err)
	}

	switch state {
	case StateOpen:
		return b.failFast(ctx, service, fallback, "circuit is open")

	case StateHalfOpen:
		acquired, err := b.store.SetNX(ctx, trialKey(service), []byte("1"), b.config(service).TrialLockTTL)
		if err != nil {
			return nil, fmt.Errorf("acquire trial lock for %q: %w", service, err)
		}
		if !acquired {
			return b.failFast(ctx, service, fallback, "half-open trial in progress")
		}
		// Released on both success and failure paths.
		defer func() {
			if err := b.store.Delete(ctx, trialKey(service)); err != nil {
				b.logger.Warn("failed to release trial lock", "service", service, "error", err)
			}
		}()
		return b.execute(ctx, service, op, fallback, true)

	default:
		return b.execute(ctx, service, op, fallback, false)
	}
}

// execute runs the operation and records the outcome.
func (b *Breaker) execute(ctx context.Context, service string, op Operation, fallback Fallback, halfOpen bool) (any, error) {
	result, err := op(ctx)
	if err == nil {
		if recErr := b.recordSuccess(ctx, service, halfOpen); recErr != nil {
			b.logger.Warn("failed to record breaker success", "service", service, "error", recErr)
		}
		return result, nil
	}

	if recErr := b.recordFailure(ctx, service, err, halfOpen); recErr != nil {
		b.logger.Warn("failed to record breaker failure", "service", service, "error", recErr)
	}

	if fallback != nil && b.recoverable(err) {
		b.logger.Warn("operation failed, using fallback",
			"service", service,
			"error", err,
		)
		return fallback(ctx)
	}

	return nil, err
}

// failFast handles an open circuit or occupied trial slot.
func (b *Breaker) failFast(ctx context.Context, service string, fallback Fallback, reason string) (any, error) {
	if fallback != nil {
		b.logger.Debug("circuit open, using fallback", "service", service, "reason", reason)
		return fallback(ctx)
	}
	return nil, &CircuitOpenError{Service: service, Reason: reason}
}

// recordSuccess increments the success counter, decays the failure counter
// (never below zero), clears the last failure, and closes the circuit after
// a successful half-open probe.
func (b *Breaker) recordSuccess(ctx context.Context, service string, halfOpen bool) error {
	if _, err := b.store.Incr(ctx, successesKey(service), 1, 0); err != nil {
		return err
	}
	if _, err := b.store.Decr(ctx, failuresKey(service), 1); err != nil {
		return err
	}
	if err := b.store.Delete(ctx, lastFailKey(service)); err != nil {
		return err
	}

	if halfOpen {
		// Probe succeeded: close the circuit and clear residual failures.
		if err := b.store.Delete(ctx, openedAtKey(service)); err != nil {
			return err
		}
		if err := b.store.Delete(ctx, failuresKey(service)); err != nil {
			return err
		}
		b.logger.Info("circuit closed after successful trial", "service", service)
	}
	return nil
}

// recordFailure increments the windowed failure counter, stores the failure
// metadata, and trips the circuit open when the threshold is reached or a
// half-open probe failed.
func (b *Breaker) recordFailure(ctx context.Context, service string, opErr error, halfOpen bool) error {
	cfg := b.config(service)

	count, err := b.store.Incr(ctx, failuresKey(service), 1, cfg.FailureWindow)
	if err != nil {
		return err
	}

	lf := LastFailure{
		Message: opErr.Error(),
		Kind:    fmt.Sprintf("%T", opErr),
		At:      time.Now().UTC(),
	}
	data, err := json.Marshal(lf)
	if err != nil {
		return err
	}
	if err := b.store.Put(ctx, lastFailKey(service), data, cfg.FailureWindow); err != nil {
		return err
	}

	if halfOpen || count >= int64(cfg.FailureThreshold) {
		return b.trip(ctx, service, count)
	}
	return nil
}

// trip transitions the circuit to OPEN by storing openedAt.
func (b *Breaker) trip(ctx context.Context, service string, failures int64) error {
	now := time.Now().UTC()
	if err := b.store.Put(ctx, openedAtKey(service), []byte(strconv.FormatInt(now.UnixNano(), 10)), 0); err != nil {
		return err
	}
	b.logger.Warn("circuit opened",
		"service", service,
		"failures", failures,
	)
	return nil
}

// State returns the current circuit state for a service.
func (b *Breaker) State(ctx context.Context, service string) (State, error) {
	state, _, err := b.deriveState(ctx, service)
	return state, err
}

// deriveState derives the state from openedAt. A stored openedAt means the
// circuit is open; once the reset timeout has elapsed it reads as half-open.
func (b *Breaker) deriveState(ctx context.Context, service string) (State, time.Time, error) {
	data, ok, err := b.store.Get(ctx, openedAtKey(service))
	if err != nil {
		return StateClosed, time.Time{}, err
	}
	if !ok {
		return StateClosed, time.Time{}, nil
	}

	nanos, err := strconv.ParseInt(string(data), 10, 64)
	if err != nil {
		return StateClosed, time.Time{}, fmt.Errorf("parse opened_at: %w", err)
	}
	openedAt := time.Unix(0, nanos).UTC()

	if time.Since(openedAt) >= b.config(service).ResetTimeout {
		return StateHalfOpen, openedAt, nil
	}
	return StateOpen, openedAt, nil
}

// Stats returns an observability snapshot for a service.
func (b *Breaker) Stats(ctx context.Context, service string) (*Stats, error) {
	cfg := b.config(service)

	state, openedAt, err := b.deriveState(ctx, service)
	if err != nil {
		return nil, err
	}

	failures, err := b.counter(ctx, failuresKey(service))
	if err != nil {
		return nil, err
	}
	successes, err := b.counter(ctx, successesKey(service))
	if err != nil {
		return nil, err
	}

	stats := &Stats{
		Service:          service,
		State:            state,
		FailureCount:     failures,
		SuccessCount:     successes,
		OpenedAt:         openedAt,
		FailureThreshold: cfg.FailureThreshold,
		ResetTimeout:     cfg.ResetTimeout,
	}

	if data, ok, err := b.store.Get(ctx, lastFailKey(service)); err != nil {
		return nil, err
	} else if ok {
		var lf LastFailure
		if err := json.Unmarshal(data, &lf); err == nil {
			stats.LastFailure = &lf
		}
	}

	return stats, nil
}

// Reset forces the circuit closed and clears all counters for a service.
// Operator action; not part of the normal state machine.
func (b *Breaker) Reset(ctx context.Context, service string) error {
	for _, key := range []string{
		failuresKey(service),
		successesKey(service),
		openedAtKey(service),
		lastFailKey(service),
		trialKey(service),
	} {
		if err := b.store.Delete(ctx, key); err != nil {
			return fmt.Errorf("reset %q: %w", service, err)
		}
	}
	b.logger.Info("circuit manually reset", "service", service)
	return nil
}

// counter reads an integer counter, treating a missing key as zero.
func (b *Breaker) counter(ctx context.Context, key string) (int64, error) {
	data, ok, err := b.store.Get(ctx, key)
	if err != nil || !ok {
		return 0, err
	}
	n, err := strconv.ParseInt(string(data), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse counter %s: %w", key, err)
	}
	return n, nil
}
