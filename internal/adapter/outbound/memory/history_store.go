package memory

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/toolgate-io/toolgate/internal/domain/session"
)

// sessionHistory is one session's call list with its expiry.
type sessionHistory struct {
	calls     []session.ToolCall
	expiresAt time.Time
}

// HistoryStore implements session.HistoryStore with an in-memory map.
// Thread-safe for concurrent access. For development/testing only.
// Background cleanup removes expired session histories periodically.
type HistoryStore struct {
	sessions        map[string]*sessionHistory
	ttl             time.Duration
	mu              sync.RWMutex
	stopChan        chan struct{}
	wg              sync.WaitGroup
	once            sync.Once
	cleanupInterval time.Duration
}

// NewHistoryStore creates an in-memory history store with the default
// 24h TTL and a one-minute cleanup interval.
func NewHistoryStore() *HistoryStore {
	return NewHistoryStoreWithConfig(session.DefaultHistoryTTL, 1*time.Minute)
}

// NewHistoryStoreWithConfig creates an in-memory history store with custom
// TTL and cleanup interval.
func NewHistoryStoreWithConfig(ttl, cleanupInterval time.Duration) *HistoryStore {
	return &HistoryStore{
		sessions:        make(map[string]*sessionHistory),
		ttl:             ttl,
		stopChan:        make(chan struct{}),
		cleanupInterval: cleanupInterval,
	}
}

// Append records a tool call, starting the TTL on the first append.
// Each append refreshes the session's expiry.
func (s *HistoryStore) Append(ctx context.Context, sessionID string, call session.ToolCall) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	h, ok := s.sessions[sessionID]
	if !ok || now.After(h.expiresAt) {
		h = &sessionHistory{}
		s.sessions[sessionID] = h
	}

	h.calls = append(h.calls, call)
	h.expiresAt = now.Add(s.ttl)
	return nil
}

// Calls returns the session's history in call order.
func (s *HistoryStore) Calls(ctx context.Context, sessionID string) ([]session.ToolCall, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	h, ok := s.sessions[sessionID]
	if !ok || time.Now().After(h.expiresAt) {
		return nil, nil
	}

	calls := make([]session.ToolCall, len(h.calls))
	copy(calls, h.calls)
	return calls, nil
}

// CalledTools returns the distinct tool names the session has called.
func (s *HistoryStore) CalledTools(ctx context.Context, sessionID string) (map[string]bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	called := make(map[string]bool)
	h, ok := s.sessions[sessionID]
	if !ok || time.Now().After(h.expiresAt) {
		return called, nil
	}

	for _, c := range h.calls {
		called[c.Tool] = true
	}
	return called, nil
}

// StartCleanup starts the background cleanup goroutine.
// It stops when ctx is cancelled or Stop() is called.
func (s *HistoryStore) StartCleanup(ctx context.Context) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(s.cleanupInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-s.stopChan:
				return
			case <-ticker.C:
				s.cleanup()
			}
		}
	}()
}

// cleanup removes expired session histories.
func (s *HistoryStore) cleanup() {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	cleaned := 0
	for id, h := range s.sessions {
		if now.After(h.expiresAt) {
			delete(s.sessions, id)
			cleaned++
		}
	}

	if cleaned > 0 {
		slog.Debug("session history cleanup completed", "cleaned_sessions", cleaned)
	}
}

// Stop gracefully stops the cleanup goroutine. Safe to call multiple times.
func (s *HistoryStore) Stop() {
	s.once.Do(func() {
		close(s.stopChan)
	})
	s.wg.Wait()
}

// Size returns the number of tracked sessions. Useful for testing.
func (s *HistoryStore) Size() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

// Compile-time interface verification.
var _ session.HistoryStore = (*HistoryStore)(nil)
