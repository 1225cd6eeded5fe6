package memory

import (
	"context"
	"sync"

	"github.com/toolgate-io/toolgate/internal/domain/audit"
)

// SensitivityStore implements audit.SensitivityStore with an in-memory map.
// Thread-safe for concurrent access. For development/testing only.
type SensitivityStore struct {
	tools map[string]audit.Sensitivity
	mu    sync.RWMutex
}

// NewSensitivityStore creates an empty in-memory sensitivity store.
func NewSensitivityStore() *SensitivityStore {
	return &SensitivityStore{tools: make(map[string]audit.Sensitivity)}
}

// Set registers sensitivity metadata for a tool.
func (s *SensitivityStore) Set(tool string, sens audit.Sensitivity) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tools[tool] = sens
}

// Get returns the tool's sensitivity metadata, or nil when none registered.
func (s *SensitivityStore) Get(ctx context.Context, tool string) (*audit.Sensitivity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sens, ok := s.tools[tool]
	if !ok {
		return nil, nil
	}
	out := sens
	return &out, nil
}

// Compile-time interface verification.
var _ audit.SensitivityStore = (*SensitivityStore)(nil)
