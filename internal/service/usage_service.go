package service

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/toolgate-io/toolgate/internal/port/outbound"
)

// UsageService delivers usage events to the downstream sink from a
// background worker, so delivery latency and failures never touch the
// pipeline hot path.
type UsageService struct {
	sink      outbound.UsageSink
	eventChan chan outbound.UsageEvent
	wg        sync.WaitGroup
	logger    *slog.Logger

	// mu orders Publish sends against the channel close in Stop.
	mu     sync.RWMutex
	closed bool

	channelSize int
	sendTimeout time.Duration // 0 = drop immediately when full
	dropCount   atomic.Int64
	dropCounter prometheus.Counter

	warningThreshold int          // percent of capacity
	lastWarning      atomic.Int64 // rate-limits depth warnings (Unix nanos)
}

// UsageOption configures UsageService.
type UsageOption func(*UsageService)

// WithUsageChannelSize sets the event buffer size.
func WithUsageChannelSize(size int) UsageOption {
	return func(s *UsageService) {
		s.eventChan = make(chan outbound.UsageEvent, size)
		s.channelSize = size
	}
}

// WithUsageSendTimeout sets the backpressure timeout. Zero drops
// immediately when the buffer is full.
func WithUsageSendTimeout(timeout time.Duration) UsageOption {
	return func(s *UsageService) {
		s.sendTimeout = timeout
	}
}

// WithUsageDropCounter exports dropped events to the given Prometheus
// counter in addition to the internal count.
func WithUsageDropCounter(c prometheus.Counter) UsageOption {
	return func(s *UsageService) {
		s.dropCounter = c
	}
}

// WithUsageWarningThreshold sets the buffer depth warning percentage.
func WithUsageWarningThreshold(percent int) UsageOption {
	return func(s *UsageService) {
		if percent < 0 {
			percent = 0
		}
		if percent > 100 {
			percent = 100
		}
		s.warningThreshold = percent
	}
}

// NewUsageService creates a usage dispatcher over the given sink.
func NewUsageService(sink outbound.UsageSink, logger *slog.Logger, opts ...UsageOption) *UsageService {
	if logger == nil {
		logger = slog.Default()
	}
	const defaultChannelSize = 1000
	s := &UsageService{
		sink:             sink,
		eventChan:        make(chan outbound.UsageEvent, defaultChannelSize),
		logger:           logger,
		channelSize:      defaultChannelSize,
		sendTimeout:      100 * time.Millisecond,
		warningThreshold: 80,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start begins the background delivery worker.
func (s *UsageService) Start(ctx context.Context) {
	s.wg.Add(1)
	go s.worker(ctx)
}

// Publish queues one event for delivery. A fast non-blocking send is tried
// first; when the buffer is full the caller blocks up to sendTimeout, then
// the event is dropped and counted.
func (s *UsageService) Publish(event outbound.UsageEvent) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		s.recordDrop(event)
		return
	}

	if s.warningThreshold > 0 {
		depth := len(s.eventChan)
		threshold := s.channelSize * s.warningThreshold / 100
		if depth >= threshold {
			s.warnChannelDepth(depth)
		}
	}

	select {
	case s.eventChan <- event:
		return
	default:
	}

	if s.sendTimeout <= 0 {
		s.recordDrop(event)
		return
	}

	select {
	case s.eventChan <- event:
	case <-time.After(s.sendTimeout):
		s.recordDrop(event)
	}
}

func (s *UsageService) recordDrop(event outbound.UsageEvent) {
	drops := s.dropCount.Add(1)
	if s.dropCounter != nil {
		s.dropCounter.Inc()
	}
	s.logger.Warn("usage event dropped",
		"tool", event.Tool,
		"session", event.SessionID,
		"total_drops", drops,
	)
}

// warnChannelDepth logs a capacity warning at most once per second.
func (s *UsageService) warnChannelDepth(depth int) {
	now := time.Now().UnixNano()
	last := s.lastWarning.Load()
	if now-last < int64(time.Second) {
		return
	}
	if s.lastWarning.CompareAndSwap(last, now) {
		s.logger.Warn("usage event channel approaching capacity",
			"depth", depth,
			"capacity", s.channelSize,
			"percent", depth*100/s.channelSize,
		)
	}
}

// DroppedEvents returns the total dropped events, for metrics and alerting.
func (s *UsageService) DroppedEvents() int64 {
	return s.dropCount.Load()
}

// ChannelDepth returns the current buffer usage, for monitoring.
func (s *UsageService) ChannelDepth() int {
	return len(s.eventChan)
}

// Stop closes the buffer and waits for pending events to be delivered.
// Stop is idempotent; Publish after Stop counts the event as dropped
// instead of panicking on the closed channel.
func (s *UsageService) Stop() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	close(s.eventChan)
	s.mu.Unlock()
	s.wg.Wait()
}

// worker delivers events one at a time. Delivery errors are logged, never
// propagated; usage recording must not fail tool calls.
func (s *UsageService) worker(ctx context.Context) {
	defer s.wg.Done()

	for {
		select {
		case event, ok := <-s.eventChan:
			if !ok {
				return
			}
			s.deliver(ctx, event)

		case <-ctx.Done():
			// Drain whatever is queued with a bounded deadline.
			drainCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			for {
				select {
				case event, ok := <-s.eventChan:
					if !ok {
						cancel()
						return
					}
					s.deliver(drainCtx, event)
				default:
					cancel()
					return
				}
			}
		}
	}
}

func (s *UsageService) deliver(ctx context.Context, event outbound.UsageEvent) {
	if err := s.sink.Send(ctx, event); err != nil {
		s.logger.Error("usage event delivery failed",
			"event_id", event.ID,
			"tool", event.Tool,
			"error", err,
		)
	}
}
