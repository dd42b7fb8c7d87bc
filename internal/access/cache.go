package access

import (
	"container/list"
	"context"
	"sync"
	"time"

	"github.com/faucetdb/roleguard/internal/model"
)

// CacheStats reports cache effectiveness.
type CacheStats struct {
	Size    int     `json:"size"`
	MaxSize int     `json:"max_size"`
	Hits    uint64  `json:"hits"`
	Misses  uint64  `json:"misses"`
	HitRate float64 `json:"hit_rate"`
}

type cacheKey struct {
	resource string
	kind     model.ResourceKind
}

// cacheEntry holds a looked-up assignment; a nil assignment records that
// none exists.
type cacheEntry struct {
	key        cacheKey
	assignment *model.RoleAssignment
	insertedAt time.Time
	element    *list.Element // For LRU tracking
}

// CachedSource is a Source that remembers lookups for a TTL, evicting the
// least recently used entry when full. Missing assignments are cached too.
// Lookup errors are never cached.
type CachedSource struct {
	source Source
	now    func() time.Time

	mu      sync.Mutex
	entries map[cacheKey]*cacheEntry
	lruList *list.List
	maxSize int
	ttl     time.Duration
	hits    uint64
	misses  uint64
	// gen advances on every Purge and Invalidate. A lookup started under an
	// older generation is not stored.
	gen uint64
}

// NewCachedSource wraps source with an LRU cache of maxSize entries that
// expire after ttl.
func NewCachedSource(source Source, maxSize int, ttl time.Duration) *CachedSource {
	if maxSize <= 0 {
		maxSize = 1
	}
	return &CachedSource{
		source:  source,
		now:     time.Now,
		entries: make(map[cacheKey]*cacheEntry),
		lruList: list.New(),
		maxSize: maxSize,
		ttl:     ttl,
	}
}

// LookupAssignment implements Source.
func (c *CachedSource) LookupAssignment(ctx context.Context, resource string, kind model.ResourceKind) (*model.RoleAssignment, error) {
	key := cacheKey{resource: resource, kind: kind}
	a, gen, ok := c.get(key)
	if ok {
		return a, nil
	}

	a, err := c.source.LookupAssignment(ctx, resource, kind)
	if err != nil {
		return nil, err
	}
	c.set(key, a, gen)
	return a, nil
}

// get returns the cached lookup for key, or the current generation on a
// miss.
func (c *CachedSource) get(key cacheKey) (*model.RoleAssignment, uint64, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, exists := c.entries[key]
	if !exists || c.now().Sub(entry.insertedAt) > c.ttl {
		c.misses++
		if exists {
			c.removeEntry(entry)
		}
		return nil, c.gen, false
	}

	// Move to front (most recently used)
	c.lruList.MoveToFront(entry.element)
	c.hits++
	return entry.assignment, c.gen, true
}

// set stores a lookup made under generation gen, unless the cache was
// purged or invalidated since.
func (c *CachedSource) set(key cacheKey, a *model.RoleAssignment, gen uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if gen != c.gen {
		return
	}

	if entry, exists := c.entries[key]; exists {
		entry.assignment = a
		entry.insertedAt = c.now()
		c.lruList.MoveToFront(entry.element)
		return
	}

	if c.lruList.Len() >= c.maxSize {
		if oldest := c.lruList.Back(); oldest != nil {
			c.removeEntry(oldest.Value.(*cacheEntry))
		}
	}

	entry := &cacheEntry{key: key, assignment: a, insertedAt: c.now()}
	entry.element = c.lruList.PushFront(entry)
	c.entries[key] = entry
}

func (c *CachedSource) removeEntry(entry *cacheEntry) {
	c.lruList.Remove(entry.element)
	delete(c.entries, entry.key)
}

// Invalidate drops the cached lookup for one resource.
func (c *CachedSource) Invalidate(resource string, kind model.ResourceKind) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.gen++
	if entry, ok := c.entries[cacheKey{resource: resource, kind: kind}]; ok {
		c.removeEntry(entry)
	}
}

// Purge drops every cached lookup.
func (c *CachedSource) Purge() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.gen++
	c.entries = make(map[cacheKey]*cacheEntry)
	c.lruList.Init()
}

// Stats returns cache statistics.
func (c *CachedSource) Stats() CacheStats {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := CacheStats{
		Size:    c.lruList.Len(),
		MaxSize: c.maxSize,
		Hits:    c.hits,
		Misses:  c.misses,
	}
	if total := c.hits + c.misses; total > 0 {
		s.HitRate = float64(c.hits) / float64(total)
	}
	return s
}
