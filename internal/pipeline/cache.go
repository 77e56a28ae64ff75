package pipeline

import (
	"container/list"
	"fmt"
	"sync"

	"github.com/couchcryptid/radar-regrid/internal/domain"
	"github.com/couchcryptid/radar-regrid/internal/observability"
)

// TransformCache keeps recently used RegionTransforms keyed by their grid
// specs and options. Construction projects the anchors, so a profile is built
// once and reused until it falls out of the cache.
type TransformCache struct {
	cache   *lruCache
	metrics *observability.Metrics
}

// NewTransformCache creates a cache holding at most maxEntries transforms.
func NewTransformCache(maxEntries int, metrics *observability.Metrics) *TransformCache {
	return &TransformCache{
		cache:   newLRUCache(max(maxEntries, 1)),
		metrics: metrics,
	}
}

// Get returns the transform for (src, dst, opts), building it on a miss.
// Construction errors are not cached.
func (c *TransformCache) Get(src domain.SourceGridSpec, dst domain.TargetGridSpec, opts domain.RegionOptions) (*domain.RegionTransform, error) {
	key := transformKey(src, dst, opts)
	if rt, ok := c.cache.get(key); ok {
		c.metrics.TransformCache.WithLabelValues("hit").Inc()
		return rt, nil
	}
	c.metrics.TransformCache.WithLabelValues("miss").Inc()
	rt, err := domain.NewRegionTransform(src, dst, opts)
	if err != nil {
		return nil, err
	}
	c.cache.put(key, rt)
	return rt, nil
}

// Len reports the number of cached transforms.
func (c *TransformCache) Len() int {
	return c.cache.len()
}

func transformKey(src domain.SourceGridSpec, dst domain.TargetGridSpec, opts domain.RegionOptions) string {
	return fmt.Sprintf("%s|%s|%s|%v|%d|%t", src, dst, opts.Projection, opts.Anchors, opts.WorkingSize, opts.FlipRows)
}

// lruCache is a thread-safe LRU of transforms. The front of order is the
// most recently used entry.
type lruCache struct {
	maxEntries int
	mu         sync.Mutex
	entries    map[string]*list.Element
	order      *list.List
}

type entry struct {
	key   string
	value *domain.RegionTransform
}

func newLRUCache(maxEntries int) *lruCache {
	return &lruCache{
		maxEntries: maxEntries,
		entries:    make(map[string]*list.Element),
		order:      list.New(),
	}
}

func (c *lruCache) get(key string) (*domain.RegionTransform, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	c.order.MoveToFront(el)
	return el.Value.(*entry).value, true
}

func (c *lruCache) put(key string, value *domain.RegionTransform) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.entries[key]; ok {
		el.Value.(*entry).value = value
		c.order.MoveToFront(el)
		return
	}
	c.entries[key] = c.order.PushFront(&entry{key: key, value: value})

	if c.order.Len() > c.maxEntries {
		oldest := c.order.Back()
		c.order.Remove(oldest)
		delete(c.entries, oldest.Value.(*entry).key)
	}
}

func (c *lruCache) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}
