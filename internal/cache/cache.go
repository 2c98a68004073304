// File: internal/cache/cache.go
package cache

import (
	"container/list"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/capgraph/api/schemas"
	"github.com/xkilldash9x/capgraph/internal/config"
	"github.com/xkilldash9x/capgraph/internal/observability"
)

// ResultCache memoizes analytics results keyed by (window, metric set, graph
// version), with LRU eviction under capacity pressure and a TTL backstop.
//
// Invalidation distinguishes hot from cold windows: a version bump only
// evicts entries whose window end falls within the configured hot horizon of
// the bump, because only those answers can still change. Fully closed
// historical windows stay valid until LRU or TTL pressure removes them.
type ResultCache struct {
	mu         sync.Mutex
	capacity   int
	ttl        time.Duration
	hotHorizon time.Duration

	entries map[schemas.CacheKey]*list.Element
	order   *list.List // front = most recently used
	log     *zap.Logger
	now     func() time.Time
}

type cacheEntry struct {
	key      schemas.CacheKey
	result   *schemas.AnalyticsResult
	storedAt time.Time
}

var _ schemas.ResultCache = (*ResultCache)(nil)

// New creates a ResultCache from configuration.
func New(cfg config.CacheConfig, logger *zap.Logger) *ResultCache {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ResultCache{
		capacity:   cfg.Capacity,
		ttl:        cfg.TTL,
		hotHorizon: cfg.HotHorizon,
		entries:    make(map[schemas.CacheKey]*list.Element),
		order:      list.New(),
		log:        logger.Named("ResultCache"),
		now:        time.Now,
	}
}

// Get returns a valid cached result, or a miss. Expired entries are removed
// on access.
func (c *ResultCache) Get(key schemas.CacheKey) (*schemas.AnalyticsResult, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.entries[key]
	if !ok {
		observability.CacheLookups.WithLabelValues("miss").Inc()
		return nil, false
	}
	entry := elem.Value.(*cacheEntry)
	if c.ttl > 0 && c.now().Sub(entry.storedAt) > c.ttl {
		c.remove(elem)
		observability.CacheLookups.WithLabelValues("miss").Inc()
		return nil, false
	}
	c.order.MoveToFront(elem)
	observability.CacheLookups.WithLabelValues("hit").Inc()
	return entry.result, true
}

// Put stores a computed result. An existing entry for the key is replaced.
func (c *ResultCache) Put(key schemas.CacheKey, result *schemas.AnalyticsResult) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.entries[key]; ok {
		entry := elem.Value.(*cacheEntry)
		entry.result = result
		entry.storedAt = c.now()
		c.order.MoveToFront(elem)
		return
	}

	elem := c.order.PushFront(&cacheEntry{key: key, result: result, storedAt: c.now()})
	c.entries[key] = elem

	for len(c.entries) > c.capacity {
		oldest := c.order.Back()
		if oldest == nil {
			break
		}
		c.remove(oldest)
	}
}

// Invalidate is called on every graph version advance. Entries whose window
// end lies within the hot horizon of now are dropped; their answers may be
// stale under the new version. Returns the eviction count.
func (c *ResultCache) Invalidate(version uint64, now time.Time) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	horizonStart := now.Add(-c.hotHorizon).UnixNano()
	evicted := 0
	for elem := c.order.Front(); elem != nil; {
		next := elem.Next()
		entry := elem.Value.(*cacheEntry)
		if entry.key.WindowEnd >= horizonStart && entry.key.Version < version {
			c.remove(elem)
			evicted++
		}
		elem = next
	}
	if evicted > 0 {
		c.log.Debug("Hot-window cache entries invalidated",
			zap.Uint64("version", version),
			zap.Int("evicted", evicted))
	}
	return evicted
}

// Len reports the current number of cached entries.
func (c *ResultCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// remove deletes an element. Caller holds the lock.
func (c *ResultCache) remove(elem *list.Element) {
	entry := elem.Value.(*cacheEntry)
	c.order.Remove(elem)
	delete(c.entries, entry.key)
}
