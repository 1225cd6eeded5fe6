package service

import (
	"errors"
	"fmt"
	"testing"

	"github.com/toolgate-io/toolgate/internal/domain/sqlguard"
)

func TestSQLGuardServiceValidate(t *testing.T) {
	svc := NewSQLGuardService(sqlguard.New())

	if err := svc.Validate("SELECT id, name FROM users WHERE id = ?"); err != nil {
		t.Errorf("Validate(select) = %v, want nil", err)
	}

	err := svc.Validate("DROP TABLE users")
	var fq *sqlguard.ForbiddenQueryError
	if !errors.As(err, &fq) {
		t.Fatalf("Validate(drop) = %v, want ForbiddenQueryError", err)
	}
}

func TestSQLGuardServiceCachesVerdicts(t *testing.T) {
	svc := NewSQLGuardService(sqlguard.New())

	const query = "SELECT 1; DROP TABLE users"
	first := svc.Validate(query)
	var want *sqlguard.ForbiddenQueryError
	if !errors.As(first, &want) {
		t.Fatalf("Validate = %v, want ForbiddenQueryError", first)
	}
	if svc.CacheSize() != 1 {
		t.Fatalf("CacheSize = %d, want 1 after first validation", svc.CacheSize())
	}

	// The cached failure reproduces reason and detail.
	second := svc.Validate(query)
	var got *sqlguard.ForbiddenQueryError
	if !errors.As(second, &got) {
		t.Fatalf("cached Validate = %v, want ForbiddenQueryError", second)
	}
	if got.Reason != want.Reason || got.Detail != want.Detail {
		t.Errorf("cached verdict = %+v, want %+v", got, want)
	}
	if svc.CacheSize() != 1 {
		t.Errorf("CacheSize = %d after cache hit, want 1", svc.CacheSize())
	}

	if !svc.IsValid("SELECT id FROM users") {
		t.Error("IsValid(select) = false")
	}
	if svc.IsValid(query) {
		t.Error("IsValid(cached rejection) = true")
	}
}

func TestVerdictCacheLRUEviction(t *testing.T) {
	svc := NewSQLGuardService(sqlguard.New(), WithVerdictCacheSize(3))

	for i := 0; i < 3; i++ {
		svc.Validate(fmt.Sprintf("SELECT id FROM t%d", i))
	}
	if svc.CacheSize() != 3 {
		t.Fatalf("CacheSize = %d, want 3", svc.CacheSize())
	}

	// Touch the oldest entry, then overflow. The untouched middle entry
	// is the eviction victim, so size stays at capacity.
	svc.Validate("SELECT id FROM t0")
	svc.Validate("SELECT id FROM t99")
	if svc.CacheSize() != 3 {
		t.Errorf("CacheSize = %d after eviction, want 3", svc.CacheSize())
	}
}

func TestVerdictCacheDirect(t *testing.T) {
	c := NewVerdictCache(2)

	c.Put(1, verdict{ok: true})
	c.Put(2, verdict{reason: "disallowed_keyword", detail: "drop"})

	if v, ok := c.Get(1); !ok || !v.ok {
		t.Errorf("Get(1) = %+v %t, want ok verdict", v, ok)
	}

	// Key 1 was just promoted; inserting key 3 evicts key 2.
	c.Put(3, verdict{ok: true})
	if _, ok := c.Get(2); ok {
		t.Error("least recently used entry not evicted")
	}
	if _, ok := c.Get(1); !ok {
		t.Error("promoted entry evicted")
	}
	if c.Size() != 2 {
		t.Errorf("Size = %d, want 2", c.Size())
	}

	// Updating an existing key does not grow the cache.
	c.Put(3, verdict{ok: false})
	if c.Size() != 2 {
		t.Errorf("Size = %d after update, want 2", c.Size())
	}
	if v, _ := c.Get(3); v.ok {
		t.Error("update did not replace the stored verdict")
	}
}
