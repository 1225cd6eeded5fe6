package memory

import (
	"context"
	"sync"

	"github.com/toolgate-io/toolgate/internal/domain/depend"
)

// EntityResolver implements depend.EntityResolver with an in-memory set.
// Thread-safe for concurrent access. For development/testing only.
type EntityResolver struct {
	entities map[string]map[string]bool
	mu       sync.RWMutex
}

// NewEntityResolver creates an empty in-memory entity resolver.
func NewEntityResolver() *EntityResolver {
	return &EntityResolver{entities: make(map[string]map[string]bool)}
}

// Add registers an entity as existing.
func (r *EntityResolver) Add(entityType, id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.entities[entityType] == nil {
		r.entities[entityType] = make(map[string]bool)
	}
	r.entities[entityType][id] = true
}

// Remove deregisters an entity.
func (r *EntityResolver) Remove(entityType, id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.entities[entityType], id)
}

// Exists reports whether the entity was registered.
func (r *EntityResolver) Exists(ctx context.Context, entityType, id string) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.entities[entityType][id], nil
}

// Compile-time interface verification.
var _ depend.EntityResolver = (*EntityResolver)(nil)
