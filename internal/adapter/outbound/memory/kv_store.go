// Package memory provides in-memory implementations of outbound ports.
package memory

import (
	"context"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/toolgate-io/toolgate/internal/domain/kv"
)

// kvEntry is a single stored value with optional expiry.
type kvEntry struct {
	value     []byte
	expiresAt time.Time // zero = no expiry
}

func (e kvEntry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && now.After(e.expiresAt)
}

// KVStore implements kv.Store with an in-memory map.
// Thread-safe for concurrent access. For development/testing only.
// Includes background cleanup to prevent unbounded memory growth.
type KVStore struct {
	entries         map[string]kvEntry
	mu              sync.Mutex
	stopChan        chan struct{}
	wg              sync.WaitGroup
	once            sync.Once
	cleanupInterval time.Duration
}

// NewKVStore creates a new in-memory key-value store with the default
// cleanup interval of one minute.
func NewKVStore() *KVStore {
	return NewKVStoreWithConfig(1 * time.Minute)
}

// NewKVStoreWithConfig creates a new in-memory key-value store with a custom
// cleanup interval.
func NewKVStoreWithConfig(cleanupInterval time.Duration) *KVStore {
	return &KVStore{
		entries:         make(map[string]kvEntry),
		stopChan:        make(chan struct{}),
		cleanupInterval: cleanupInterval,
	}
}

// Get returns the value for key, treating expired entries as absent.
func (s *KVStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[key]
	if !ok || e.expired(time.Now()) {
		return nil, false, nil
	}

	val := make([]byte, len(e.value))
	copy(val, e.value)
	return val, true, nil
}

// Put stores value under key with the given TTL.
func (s *KVStore) Put(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.entries[key] = newEntry(value, ttl)
	return nil
}

// Incr atomically adds delta to the counter at key.
// The TTL is applied only when the counter is created.
func (s *KVStore) Incr(ctx context.Context, key string, delta int64, ttl time.Duration) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	e, ok := s.entries[key]
	if !ok || e.expired(now) {
		s.entries[key] = newEntry([]byte(strconv.FormatInt(delta, 10)), ttl)
		return delta, nil
	}

	n, err := strconv.ParseInt(string(e.value), 10, 64)
	if err != nil {
		return 0, err
	}
	n += delta

	// Keep the original window: only the value changes.
	e.value = []byte(strconv.FormatInt(n, 10))
	s.entries[key] = e
	return n, nil
}

// Decr atomically subtracts delta from the counter at key, flooring at zero.
func (s *KVStore) Decr(ctx context.Context, key string, delta int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	e, ok := s.entries[key]
	if !ok || e.expired(now) {
		return 0, nil
	}

	n, err := strconv.ParseInt(string(e.value), 10, 64)
	if err != nil {
		return 0, err
	}
	n -= delta
	if n < 0 {
		n = 0
	}

	e.value = []byte(strconv.FormatInt(n, 10))
	s.entries[key] = e
	return n, nil
}

// SetNX stores value only if key is absent. Returns true when stored.
func (s *KVStore) SetNX(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if e, ok := s.entries[key]; ok && !e.expired(time.Now()) {
		return false, nil
	}

	s.entries[key] = newEntry(value, ttl)
	return true, nil
}

// TTL returns the remaining lifetime of key.
func (s *KVStore) TTL(ctx context.Context, key string) (time.Duration, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	e, ok := s.entries[key]
	if !ok || e.expired(now) || e.expiresAt.IsZero() {
		return 0, false, nil
	}

	return e.expiresAt.Sub(now), true, nil
}

// Delete removes key.
func (s *KVStore) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.entries, key)
	return nil
}

// StartCleanup starts the background cleanup goroutine.
// The goroutine periodically removes expired entries.
// It stops when ctx is cancelled or Stop() is called.
func (s *KVStore) StartCleanup(ctx context.Context) {
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

// cleanup removes expired entries from the store.
func (s *KVStore) cleanup() {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	cleaned := 0
	for key, e := range s.entries {
		if e.expired(now) {
			delete(s.entries, key)
			cleaned++
		}
	}

	if cleaned > 0 {
		slog.Debug("kv store cleanup completed",
			"cleaned_keys", cleaned,
			"remaining_keys", len(s.entries))
	}
}

// Stop gracefully stops the cleanup goroutine and waits for it to exit.
// Safe to call multiple times.
func (s *KVStore) Stop() {
	s.once.Do(func() {
		close(s.stopChan)
	})
	s.wg.Wait()
}

// Size returns the current number of stored keys, including expired ones
// that have not been cleaned up yet. Useful for testing.
func (s *KVStore) Size() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

func newEntry(value []byte, ttl time.Duration) kvEntry {
	val := make([]byte, len(value))
	copy(val, value)

	e := kvEntry{value: val}
	if ttl > 0 {
		e.expiresAt = time.Now().Add(ttl)
	}
	return e
}

// Compile-time interface verification.
var _ kv.Store = (*KVStore)(nil)
