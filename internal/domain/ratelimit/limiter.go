package ratelimit

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/toolgate-io/toolgate/internal/domain/kv"
)

// Limiter implements fixed-window rate limiting on the shared kv store.
//
// Counters are created with a TTL equal to the window on the first hit and
// incremented without resetting the TTL thereafter, so a burst that starts a
// window keeps counting against the same window boundary rather than sliding.
type Limiter struct {
	store     kv.Store
	defaults  Limit
	overrides map[string]Limit
	logger    *slog.Logger
}

// NewLimiter creates a Limiter with the given default limit and per-tool
// overrides. The overrides map is copied; it may be nil.
func NewLimiter(store kv.Store, defaults Limit, overrides map[string]Limit, logger *slog.Logger) *Limiter {
	o := make(map[string]Limit, len(overrides))
	for tool, l := range overrides {
		o[tool] = l
	}
	return &Limiter{
		store:     store,
		defaults:  defaults,
		overrides: o,
		logger:    logger,
	}
}

// limitFor resolves the effective limit for a tool.
func (l *Limiter) limitFor(tool string) Limit {
	if lim, ok := l.overrides[tool]; ok {
		return lim
	}
	return l.defaults
}

// Check is a dry run: it reports the current window state without consuming
// a call.
func (l *Limiter) Check(ctx context.Context, identifier, tool string) (Status, error) {
	lim := l.limitFor(tool)
	key := counterKey(identifier, tool)

	count, err := l.readCount(ctx, key)
	if err != nil {
		return Status{}, fmt.Errorf("read rate limit counter: %w", err)
	}

	// Limited when the window is already exhausted: the next call would
	// exceed the limit.
	return l.status(ctx, key, lim, count, count >= int64(lim.Calls))
}

// Hit consumes one call from the window, creating the counter with the
// window TTL on the first hit.
func (l *Limiter) Hit(ctx context.Context, identifier, tool string) (Status, error) {
	lim := l.limitFor(tool)
	key := counterKey(identifier, tool)

	count, err := l.store.Incr(ctx, key, 1, lim.Window)
	if err != nil {
		return Status{}, fmt.Errorf("increment rate limit counter: %w", err)
	}

	// Limited when this hit itself went over the limit.
	st, err := l.status(ctx, key, lim, count, count > int64(lim.Calls))
	if err != nil {
		return Status{}, err
	}

	if st.Limited {
		l.logger.Warn("rate limit exceeded",
			"identifier", identifier,
			"tool", tool,
			"count", count,
			"limit", lim.Calls,
		)
	}
	return st, nil
}

// Status exposes the current window state for observability and for
// transports emitting X-MCP-RateLimit headers. Identical to Check.
func (l *Limiter) Status(ctx context.Context, identifier, tool string) (Status, error) {
	return l.Check(ctx, identifier, tool)
}

// readCount reads the window counter, treating a missing key as zero.
func (l *Limiter) readCount(ctx context.Context, key string) (int64, error) {
	data, ok, err := l.store.Get(ctx, key)
	if err != nil || !ok {
		return 0, err
	}
	return strconv.ParseInt(string(data), 10, 64)
}

// status assembles a Status from the counter value and remaining TTL.
func (l *Limiter) status(ctx context.Context, key string, lim Limit, count int64, limited bool) (Status, error) {
	st := Status{
		Limit:     lim.Calls,
		Remaining: lim.Calls - int(count),
		Limited:   limited,
	}
	if st.Remaining < 0 {
		st.Remaining = 0
	}

	ttl, ok, err := l.store.TTL(ctx, key)
	if err != nil {
		return Status{}, fmt.Errorf("read rate limit ttl: %w", err)
	}
	if ok {
		st.Reset = ttl
		if st.Limited {
			st.RetryAfter = ttl
		}
	}

	return st, nil
}
