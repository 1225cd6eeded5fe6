package service

import (
	"sync"

	"github.com/cespare/xxhash/v2"

	"github.com/toolgate-io/toolgate/internal/domain/sqlguard"
)

// verdict is one cached validation outcome.
type verdict struct {
	ok     bool
	reason string
	detail string
}

// verdictEntry is a doubly-linked list node for the LRU cache.
type verdictEntry struct {
	key  uint64
	v    verdict
	prev *verdictEntry
	next *verdictEntry
}

// VerdictCache provides bounded LRU caching for query validation verdicts.
// Thread-safe with Mutex (both Get and Put mutate LRU order).
type VerdictCache struct {
	mu      sync.Mutex
	entries map[uint64]*verdictEntry
	head    *verdictEntry // most recently used
	tail    *verdictEntry // least recently used
	maxSize int
}

// NewVerdictCache creates an LRU cache with the given max size.
func NewVerdictCache(maxSize int) *VerdictCache {
	return &VerdictCache{
		entries: make(map[uint64]*verdictEntry, maxSize),
		maxSize: maxSize,
	}
}

// Get retrieves a cached verdict, promoting the entry on hit.
func (c *VerdictCache) Get(key uint64) (verdict, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.entries[key]; ok {
		c.moveToHeadLocked(e)
		return e.v, true
	}
	return verdict{}, false
}

// Put stores a verdict, evicting the least recently used entry at capacity.
func (c *VerdictCache) Put(key uint64, v verdict) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.entries[key]; ok {
		e.v = v
		c.moveToHeadLocked(e)
		return
	}

	if len(c.entries) >= c.maxSize {
		c.evictTailLocked()
	}

	e := &verdictEntry{key: key, v: v}
	c.entries[key] = e
	c.pushHeadLocked(e)
}

// Size returns the current cache size.
func (c *VerdictCache) Size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func (c *VerdictCache) moveToHeadLocked(e *verdictEntry) {
	if c.head == e {
		return
	}
	c.unlinkLocked(e)
	c.pushHeadLocked(e)
}

func (c *VerdictCache) pushHeadLocked(e *verdictEntry) {
	e.prev = nil
	e.next = c.head
	if c.head != nil {
		c.head.prev = e
	}
	c.head = e
	if c.tail == nil {
		c.tail = e
	}
}

func (c *VerdictCache) unlinkLocked(e *verdictEntry) {
	if e.prev != nil {
		e.prev.next = e.next
	} else {
		c.head = e.next
	}
	if e.next != nil {
		e.next.prev = e.prev
	} else {
		c.tail = e.prev
	}
	e.prev = nil
	e.next = nil
}

func (c *VerdictCache) evictTailLocked() {
	if c.tail == nil {
		return
	}
	delete(c.entries, c.tail.key)
	c.unlinkLocked(c.tail)
}

// SQLGuardService validates database queries through the layered validator,
// caching verdicts by query hash since agents tend to repeat query shapes.
type SQLGuardService struct {
	validator *sqlguard.Validator
	cache     *VerdictCache
}

// SQLGuardOption configures SQLGuardService.
type SQLGuardOption func(*SQLGuardService)

// WithVerdictCacheSize overrides the verdict cache capacity.
func WithVerdictCacheSize(size int) SQLGuardOption {
	return func(s *SQLGuardService) {
		if size > 0 {
			s.cache = NewVerdictCache(size)
		}
	}
}

// NewSQLGuardService creates a caching wrapper over a query validator.
func NewSQLGuardService(validator *sqlguard.Validator, opts ...SQLGuardOption) *SQLGuardService {
	s := &SQLGuardService{
		validator: validator,
		cache:     NewVerdictCache(1000),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Validate checks a query, consulting the verdict cache first.
func (s *SQLGuardService) Validate(query string) error {
	key := xxhash.Sum64String(query)

	if v, ok := s.cache.Get(key); ok {
		if v.ok {
			return nil
		}
		return &sqlguard.ForbiddenQueryError{Reason: sqlguard.Reason(v.reason), Detail: v.detail}
	}

	err := s.validator.Validate(query)
	if err == nil {
		s.cache.Put(key, verdict{ok: true})
		return nil
	}

	if fq, ok := err.(*sqlguard.ForbiddenQueryError); ok {
		s.cache.Put(key, verdict{reason: string(fq.Reason), detail: fq.Detail})
	}
	return err
}

// IsValid is the non-erroring wrapper around Validate.
func (s *SQLGuardService) IsValid(query string) bool {
	return s.Validate(query) == nil
}

// CacheSize returns the current verdict cache size, for monitoring.
func (s *SQLGuardService) CacheSize() int {
	return s.cache.Size()
}
