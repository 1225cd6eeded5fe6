package breaker

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/toolgate-io/toolgate/internal/adapter/outbound/memory"
)

func testBreaker(t *testing.T, opts ...Option) *Breaker {
	t.Helper()
	store := memory.NewKVStore()
	t.Cleanup(store.Stop)
	return New(store, Config{
		FailureThreshold: 3,
		ResetTimeout:     50 * time.Millisecond,
		FailureWindow:    time.Minute,
		TrialLockTTL:     time.Second,
	}, slog.Default(), opts...)
}

func failingOp(err error) Operation {
	return func(ctx context.Context) (any, error) {
		return nil, err
	}
}

func succeedingOp(result any) Operation {
	return func(ctx context.Context) (any, error) {
		return result, nil
	}
}

func TestCallSuccess(t *testing.T) {
	b := testBreaker(t)
	ctx := context.Background()

	got, err := b.Call(ctx, "agentic", succeedingOp("ok"), nil)
	if err != nil {
		t.Fatalf("Call failed: %v", err)
	}
	if got != "ok" {
		t.Errorf("got %v, want ok", got)
	}

	state, err := b.State(ctx, "agentic")
	if err != nil {
		t.Fatalf("State failed: %v", err)
	}
	if state != StateClosed {
		t.Errorf("got state %s, want %s", state, StateClosed)
	}
}

func TestThresholdOpensCircuit(t *testing.T) {
	b := testBreaker(t)
	ctx := context.Background()
	boom := errors.New("boom")

	for i := 0; i < 3; i++ {
		if _, err := b.Call(ctx, "agentic", failingOp(boom), nil); !errors.Is(err, boom) {
			t.Fatalf("call %d: got %v, want boom", i, err)
		}
	}

	state, err := b.State(ctx, "agentic")
	if err != nil {
		t.Fatalf("State failed: %v", err)
	}
	if state != StateOpen {
		t.Errorf("got state %s after threshold failures, want %s", state, StateOpen)
	}

	// Fourth call fails fast without invoking the operation.
	invoked := false
	_, err = b.Call(ctx, "agentic", func(ctx context.Context) (any, error) {
		invoked = true
		return nil, nil
	}, nil)

	var open *CircuitOpenError
	if !errors.As(err, &open) {
		t.Fatalf("got %v, want CircuitOpenError", err)
	}
	if open.Service != "agentic" {
		t.Errorf("got service %q, want agentic", open.Service)
	}
	if invoked {
		t.Error("operation must not run while the circuit is open")
	}
}

func TestHalfOpenAfterResetTimeout(t *testing.T) {
	b := testBreaker(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		b.Call(ctx, "agentic", failingOp(errors.New("boom")), nil)
	}
	time.Sleep(60 * time.Millisecond)

	state, err := b.State(ctx, "agentic")
	if err != nil {
		t.Fatalf("State failed: %v", err)
	}
	if state != StateHalfOpen {
		t.Errorf("got state %s after reset timeout, want %s", state, StateHalfOpen)
	}
}

func TestHalfOpenSuccessClosesAndResets(t *testing.T) {
	b := testBreaker(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		b.Call(ctx, "agentic", failingOp(errors.New("boom")), nil)
	}
	time.Sleep(60 * time.Millisecond)

	if _, err := b.Call(ctx, "agentic", succeedingOp("recovered"), nil); err != nil {
		t.Fatalf("half-open probe failed: %v", err)
	}

	state, err := b.State(ctx, "agentic")
	if err != nil {
		t.Fatalf("State failed: %v", err)
	}
	if state != StateClosed {
		t.Errorf("got state %s after successful probe, want %s", state, StateClosed)
	}

	stats, err := b.Stats(ctx, "agentic")
	if err != nil {
		t.Fatalf("Stats failed: %v", err)
	}
	if stats.FailureCount != 0 {
		t.Errorf("got %d failures after close, want 0", stats.FailureCount)
	}
}

func TestHalfOpenFailureReopens(t *testing.T) {
	b := testBreaker(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		b.Call(ctx, "agentic", failingOp(errors.New("boom")), nil)
	}
	time.Sleep(60 * time.Millisecond)

	b.Call(ctx, "agentic", failingOp(errors.New("still down")), nil)

	state, err := b.State(ctx, "agentic")
	if err != nil {
		t.Fatalf("State failed: %v", err)
	}
	if state != StateOpen {
		t.Errorf("got state %s after failed probe, want %s", state, StateOpen)
	}
}

func TestHalfOpenTrialLockSingleProbe(t *testing.T) {
	b := testBreaker(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		b.Call(ctx, "agentic", failingOp(errors.New("boom")), nil)
	}
	time.Sleep(60 * time.Millisecond)

	var invocations atomic.Int32
	release := make(chan struct{})
	probeStarted := make(chan struct{})

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		b.Call(ctx, "agentic", func(ctx context.Context) (any, error) {
			invocations.Add(1)
			close(probeStarted)
			<-release
			return "ok", nil
		}, nil)
	}()

	<-probeStarted

	// Second caller while the trial slot is held.
	_, err := b.Call(ctx, "agentic", func(ctx context.Context) (any, error) {
		invocations.Add(1)
		return "ok", nil
	}, nil)

	var open *CircuitOpenError
	if !errors.As(err, &open) {
		t.Fatalf("got %v, want CircuitOpenError for concurrent probe", err)
	}

	close(release)
	wg.Wait()

	if n := invocations.Load(); n != 1 {
		t.Errorf("operation ran %d times, want 1", n)
	}
}

func TestFallbackOnRecoverableError(t *testing.T) {
	b := testBreaker(t)
	ctx := context.Background()

	got, err := b.Call(ctx, "agentic",
		failingOp(errors.New("dial tcp: connection refused")),
		func(ctx context.Context) (any, error) { return "fallback", nil })
	if err != nil {
		t.Fatalf("Call failed: %v", err)
	}
	if got != "fallback" {
		t.Errorf("got %v, want fallback", got)
	}

	// The failure still counts toward the threshold.
	stats, err := b.Stats(ctx, "agentic")
	if err != nil {
		t.Fatalf("Stats failed: %v", err)
	}
	if stats.FailureCount != 1 {
		t.Errorf("got %d failures, want 1", stats.FailureCount)
	}
}

func TestFallbackSkippedForNonRecoverableError(t *testing.T) {
	b := testBreaker(t)
	ctx := context.Background()
	appErr := errors.New("invalid argument: plan_id")

	_, err := b.Call(ctx, "agentic", failingOp(appErr),
		func(ctx context.Context) (any, error) { return "fallback", nil })
	if !errors.Is(err, appErr) {
		t.Errorf("got %v, want application error to propagate", err)
	}
}

func TestFallbackWhenOpen(t *testing.T) {
	b := testBreaker(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		b.Call(ctx, "agentic", failingOp(errors.New("boom")), nil)
	}

	got, err := b.Call(ctx, "agentic", succeedingOp("real"),
		func(ctx context.Context) (any, error) { return "fallback", nil })
	if err != nil {
		t.Fatalf("Call failed: %v", err)
	}
	if got != "fallback" {
		t.Errorf("got %v, want fallback while open", got)
	}
}

func TestWithRecoverablePredicate(t *testing.T) {
	sentinel := errors.New("downstream unavailable")
	b := testBreaker(t, WithRecoverable(func(err error) bool {
		return errors.Is(err, sentinel)
	}))
	ctx := context.Background()

	got, err := b.Call(ctx, "agentic", failingOp(sentinel),
		func(ctx context.Context) (any, error) { return "fallback", nil })
	if err != nil {
		t.Fatalf("Call failed: %v", err)
	}
	if got != "fallback" {
		t.Errorf("got %v, want fallback for predicate-matched error", got)
	}

	// Message that the default patterns would match, but the predicate rejects.
	timeoutErr := errors.New("request timeout")
	_, err = b.Call(ctx, "agentic", failingOp(timeoutErr),
		func(ctx context.Context) (any, error) { return "fallback", nil })
	if !errors.Is(err, timeoutErr) {
		t.Errorf("got %v, want error to propagate under custom predicate", err)
	}
}

func TestPerServiceConfig(t *testing.T) {
	b := testBreaker(t, WithServiceConfig("fragile", Config{
		FailureThreshold: 1,
		ResetTimeout:     time.Hour,
		FailureWindow:    time.Minute,
		TrialLockTTL:     time.Second,
	}))
	ctx := context.Background()

	b.Call(ctx, "fragile", failingOp(errors.New("boom")), nil)

	state, err := b.State(ctx, "fragile")
	if err != nil {
		t.Fatalf("State failed: %v", err)
	}
	if state != StateOpen {
		t.Errorf("got state %s after one failure with threshold 1, want %s", state, StateOpen)
	}

	// Other services keep the default threshold.
	b.Call(ctx, "sturdy", failingOp(errors.New("boom")), nil)
	state, err = b.State(ctx, "sturdy")
	if err != nil {
		t.Fatalf("State failed: %v", err)
	}
	if state != StateClosed {
		t.Errorf("got state %s, want %s", state, StateClosed)
	}
}

func TestReset(t *testing.T) {
	b := testBreaker(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		b.Call(ctx, "agentic", failingOp(errors.New("boom")), nil)
	}
	if err := b.Reset(ctx, "agentic"); err != nil {
		t.Fatalf("Reset failed: %v", err)
	}

	state, err := b.State(ctx, "agentic")
	if err != nil {
		t.Fatalf("State failed: %v", err)
	}
	if state != StateClosed {
		t.Errorf("got state %s after reset, want %s", state, StateClosed)
	}
}

func TestStats(t *testing.T) {
	b := testBreaker(t)
	ctx := context.Background()

	b.Call(ctx, "agentic", succeedingOp("ok"), nil)
	b.Call(ctx, "agentic", failingOp(errors.New("boom")), nil)

	stats, err := b.Stats(ctx, "agentic")
	if err != nil {
		t.Fatalf("Stats failed: %v", err)
	}
	if stats.SuccessCount != 1 {
		t.Errorf("got %d successes, want 1", stats.SuccessCount)
	}
	if stats.FailureCount != 1 {
		t.Errorf("got %d failures, want 1", stats.FailureCount)
	}
	if stats.LastFailure == nil || stats.LastFailure.Message != "boom" {
		t.Errorf("got last failure %+v, want boom", stats.LastFailure)
	}
}
