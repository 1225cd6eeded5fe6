package memory

import (
	"context"
	"sync"

	"github.com/toolgate-io/toolgate/internal/domain/version"
)

// VersionStore implements version.Store with an in-memory map.
// Thread-safe for concurrent access. For development/testing only.
type VersionStore struct {
	versions map[versionKey]version.ToolVersion
	mu       sync.RWMutex
}

type versionKey struct {
	server  string
	tool    string
	version string
}

// NewVersionStore creates an empty in-memory version store.
func NewVersionStore() *VersionStore {
	return &VersionStore{versions: make(map[versionKey]version.ToolVersion)}
}

// Get returns the version row, or nil when not registered.
func (s *VersionStore) Get(ctx context.Context, server, tool, ver string) (*version.ToolVersion, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	tv, ok := s.versions[versionKey{server, tool, ver}]
	if !ok {
		return nil, nil
	}
	out := tv
	return &out, nil
}

// List returns all versions registered for (server, tool).
func (s *VersionStore) List(ctx context.Context, server, tool string) ([]version.ToolVersion, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []version.ToolVersion
	for k, tv := range s.versions {
		if k.server == server && k.tool == tool {
			out = append(out, tv)
		}
	}
	return out, nil
}

// Latest returns the row flagged latest, or nil when none is flagged.
func (s *VersionStore) Latest(ctx context.Context, server, tool string) (*version.ToolVersion, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for k, tv := range s.versions {
		if k.server == server && k.tool == tool && tv.IsLatest {
			out := tv
			return &out, nil
		}
	}
	return nil, nil
}

// Save creates or updates a version row.
func (s *VersionStore) Save(ctx context.Context, tv *version.ToolVersion) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := versionKey{tv.Server, tv.Tool, tv.Version}
	if prev, ok := s.versions[key]; ok {
		tv.IsLatest = prev.IsLatest
	}
	s.versions[key] = *tv
	return nil
}

// SetLatest flags one version latest and clears every other flag for the
// tool atomically under the store lock.
func (s *VersionStore) SetLatest(ctx context.Context, server, tool, ver string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for k, tv := range s.versions {
		if k.server != server || k.tool != tool {
			continue
		}
		tv.IsLatest = k.version == ver
		s.versions[k] = tv
	}
	return nil
}

// Compile-time interface verification.
var _ version.Store = (*VersionStore)(nil)
