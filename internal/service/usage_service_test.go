package service

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"go.uber.org/goleak"

	"github.com/toolgate-io/toolgate/internal/port/outbound"
)

// captureSink collects delivered events, optionally blocking or failing.
type captureSink struct {
	mu      sync.Mutex
	events  []outbound.UsageEvent
	block   chan struct{}
	sendErr error
}

func (s *captureSink) Send(ctx context.Context, event outbound.UsageEvent) error {
	if s.block != nil {
		select {
		case <-s.block:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if s.sendErr != nil {
		return s.sendErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
	return nil
}

func (s *captureSink) delivered() []outbound.UsageEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]outbound.UsageEvent, len(s.events))
	copy(out, s.events)
	return out
}

func TestUsageServiceDeliversEvents(t *testing.T) {
	defer goleak.VerifyNone(t)

	sink := &captureSink{}
	svc := NewUsageService(sink, slog.Default())
	svc.Start(context.Background())

	for i := 0; i < 5; i++ {
		svc.Publish(outbound.UsageEvent{ID: "evt", Tool: "search", Success: true})
	}
	svc.Stop()

	if got := len(sink.delivered()); got != 5 {
		t.Errorf("delivered = %d events, want 5", got)
	}
	if svc.DroppedEvents() != 0 {
		t.Errorf("DroppedEvents = %d, want 0", svc.DroppedEvents())
	}
}

func TestUsageServiceStopDrainsPending(t *testing.T) {
	defer goleak.VerifyNone(t)

	sink := &captureSink{}
	svc := NewUsageService(sink, slog.Default(), WithUsageChannelSize(100))
	svc.Start(context.Background())

	for i := 0; i < 50; i++ {
		svc.Publish(outbound.UsageEvent{Tool: "search"})
	}
	svc.Stop()

	if got := len(sink.delivered()); got != 50 {
		t.Errorf("delivered = %d events after Stop, want all 50", got)
	}
}

func TestUsageServiceDropsWhenFull(t *testing.T) {
	defer goleak.VerifyNone(t)

	block := make(chan struct{})
	sink := &captureSink{block: block}
	svc := NewUsageService(sink, slog.Default(),
		WithUsageChannelSize(2),
		WithUsageSendTimeout(0),
	)
	svc.Start(context.Background())

	// The worker blocks on the first delivery; two more fill the buffer,
	// anything beyond that is dropped immediately.
	for i := 0; i < 10; i++ {
		svc.Publish(outbound.UsageEvent{Tool: "search"})
	}

	waitFor(t, 2*time.Second, func() bool { return svc.DroppedEvents() > 0 })

	close(block)
	svc.Stop()

	drops := svc.DroppedEvents()
	total := int64(len(sink.delivered())) + drops
	if total != 10 {
		t.Errorf("delivered + dropped = %d, want 10", total)
	}
}

func TestUsageServiceSinkErrorsDoNotStopWorker(t *testing.T) {
	defer goleak.VerifyNone(t)

	sink := &captureSink{sendErr: errors.New("downstream unavailable")}
	svc := NewUsageService(sink, slog.Default())
	svc.Start(context.Background())

	svc.Publish(outbound.UsageEvent{Tool: "search"})
	svc.Publish(outbound.UsageEvent{Tool: "fetch"})
	svc.Stop()

	// Both events were consumed despite delivery failures.
	if svc.ChannelDepth() != 0 {
		t.Errorf("ChannelDepth = %d after Stop, want 0", svc.ChannelDepth())
	}
	if svc.DroppedEvents() != 0 {
		t.Errorf("DroppedEvents = %d, sink errors are not drops", svc.DroppedEvents())
	}
}

func TestUsageServiceContextCancellation(t *testing.T) {
	defer goleak.VerifyNone(t)

	sink := &captureSink{}
	svc := NewUsageService(sink, slog.Default())
	ctx, cancel := context.WithCancel(context.Background())
	svc.Start(ctx)

	svc.Publish(outbound.UsageEvent{Tool: "search"})
	cancel()

	// The worker drains and exits on cancellation; Stop must still return.
	waitFor(t, 2*time.Second, func() bool { return svc.ChannelDepth() == 0 })
	svc.Stop()
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func TestUsageServiceExportsDropCounter(t *testing.T) {
	defer goleak.VerifyNone(t)

	counter := prometheus.NewCounter(prometheus.CounterOpts{Name: "test_usage_drops_total"})
	block := make(chan struct{})
	sink := &captureSink{block: block}
	svc := NewUsageService(sink, slog.Default(),
		WithUsageChannelSize(2),
		WithUsageSendTimeout(0),
		WithUsageDropCounter(counter),
	)
	svc.Start(context.Background())

	for i := 0; i < 10; i++ {
		svc.Publish(outbound.UsageEvent{Tool: "search"})
	}
	waitFor(t, 2*time.Second, func() bool { return svc.DroppedEvents() > 0 })

	close(block)
	svc.Stop()

	if got := testutil.ToFloat64(counter); got != float64(svc.DroppedEvents()) {
		t.Errorf("drop counter = %v, want %d", got, svc.DroppedEvents())
	}
}

func TestUsageServicePublishAfterStop(t *testing.T) {
	defer goleak.VerifyNone(t)

	sink := &captureSink{}
	svc := NewUsageService(sink, slog.Default())
	svc.Start(context.Background())
	svc.Stop()

	// The channel is closed; the event is counted as dropped, not sent.
	svc.Publish(outbound.UsageEvent{Tool: "search"})
	if got := svc.DroppedEvents(); got != 1 {
		t.Errorf("DroppedEvents = %d, want 1", got)
	}

	// Stop again is a no-op.
	svc.Stop()
}
