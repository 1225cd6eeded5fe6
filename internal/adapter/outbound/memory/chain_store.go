package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/toolgate-io/toolgate/internal/domain/audit"
)

// ChainStore implements audit.ChainStore with an in-memory slice.
// Thread-safe for concurrent access. For development/testing only.
type ChainStore struct {
	entries []audit.Entry
	nextID  int64
	mu      sync.RWMutex
}

// NewChainStore creates an empty in-memory chain store.
func NewChainStore() *ChainStore {
	return &ChainStore{nextID: 1}
}

// Last returns the entry with the highest id, or nil when the log is empty.
func (s *ChainStore) Last(ctx context.Context) (*audit.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.entries) == 0 {
		return nil, nil
	}
	out := s.entries[len(s.entries)-1]
	return &out, nil
}

// Insert persists a new entry and returns its assigned id.
func (s *ChainStore) Insert(ctx context.Context, e *audit.Entry) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored := *e
	stored.ID = s.nextID
	s.nextID++
	s.entries = append(s.entries, stored)
	return stored.ID, nil
}

// SetHash backfills the computed hash onto a stored entry.
func (s *ChainStore) SetHash(ctx context.Context, id int64, hash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.entries {
		if s.entries[i].ID == id {
			s.entries[i].EntryHash = hash
			return nil
		}
	}
	return fmt.Errorf("entry %d not found", id)
}

// Range returns up to limit entries with fromID <= id <= toID in id order.
func (s *ChainStore) Range(ctx context.Context, fromID, toID int64, limit int) ([]audit.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []audit.Entry
	for _, e := range s.entries {
		if e.ID < fromID || (toID > 0 && e.ID > toID) {
			continue
		}
		out = append(out, e)
		if len(out) >= limit {
			break
		}
	}
	return out, nil
}

// Count returns the number of entries with id in [fromID, toID].
func (s *ChainStore) Count(ctx context.Context, fromID, toID int64) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var n int64
	for _, e := range s.entries {
		if e.ID >= fromID && (toID == 0 || e.ID <= toID) {
			n++
		}
	}
	return n, nil
}

// MinID returns the smallest id in the log, or 0 when empty.
func (s *ChainStore) MinID(ctx context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.entries) == 0 {
		return 0, nil
	}
	return s.entries[0].ID, nil
}

// Tamper overwrites a stored field of an entry, bypassing the chain.
// It exists so tests can exercise tamper detection.
func (s *ChainStore) Tamper(id int64, mutate func(*audit.Entry)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.entries {
		if s.entries[i].ID == id {
			mutate(&s.entries[i])
			return nil
		}
	}
	return fmt.Errorf("entry %d not found", id)
}

// Compile-time interface verification.
var _ audit.ChainStore = (*ChainStore)(nil)
