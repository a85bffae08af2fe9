package overlap

import (
	"container/list"
	"fmt"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/singleflight"

	"github.com/couchcryptid/storm-overlap-engine/internal/domain"
	"github.com/couchcryptid/storm-overlap-engine/internal/spatial"
)

// indexCache holds the most recently used spatial indexes keyed by object
// kind and time index. Indexes are immutable, so a hit is shared across
// workers without copying. Concurrent misses on one key run a single build.
type indexCache struct {
	maxEntries int

	mu    sync.Mutex
	order *list.List // front is most recently used; values are *cached
	byKey map[string]*list.Element

	builds singleflight.Group
	hits   atomic.Int64
	misses atomic.Int64
}

type cached struct {
	key string
	idx *spatial.Index
}

func newIndexCache(maxEntries int) *indexCache {
	return &indexCache{
		maxEntries: max(maxEntries, 1),
		order:      list.New(),
		byKey:      make(map[string]*list.Element),
	}
}

func cacheKey(kind domain.ObjectKind, t int) string {
	return fmt.Sprintf("%s:%d", kind, t)
}

// getOrBuild returns the cached index for key, building it at most once
// while other callers for the same key wait for the result. Only the caller
// that ran build counts a miss.
func (c *indexCache) getOrBuild(key string, build func() *spatial.Index) *spatial.Index {
	if idx, ok := c.get(key); ok {
		c.hits.Add(1)
		return idx
	}

	built := false
	v, _, _ := c.builds.Do(key, func() (any, error) {
		if idx, ok := c.get(key); ok {
			return idx, nil
		}
		built = true
		idx := build()
		c.put(key, idx)
		return idx, nil
	})
	if built {
		c.misses.Add(1)
	} else {
		c.hits.Add(1)
	}
	return v.(*spatial.Index)
}

// stats returns the cumulative hit and miss counts.
func (c *indexCache) stats() (hits, misses int64) {
	return c.hits.Load(), c.misses.Load()
}

func (c *indexCache) get(key string) (*spatial.Index, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.byKey[key]
	if !ok {
		return nil, false
	}
	c.order.MoveToFront(el)
	return el.Value.(*cached).idx, true
}

func (c *indexCache) put(key string, idx *spatial.Index) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.byKey[key]; ok {
		el.Value.(*cached).idx = idx
		c.order.MoveToFront(el)
		return
	}
	c.byKey[key] = c.order.PushFront(&cached{key: key, idx: idx})
	for c.order.Len() > c.maxEntries {
		oldest := c.order.Back()
		c.order.Remove(oldest)
		delete(c.byKey, oldest.Value.(*cached).key)
	}
}

func (c *indexCache) size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}
