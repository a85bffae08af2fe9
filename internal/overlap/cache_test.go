package overlap

import (
	"sync"
	"sync/atomic"
	"testing"

	"github.com/couchcryptid/storm-overlap-engine/internal/domain"
	"github.com/couchcryptid/storm-overlap-engine/internal/geo"
	"github.com/couchcryptid/storm-overlap-engine/internal/spatial"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func siteIndex(lat float64) *spatial.Index {
	return spatial.New(geo.New(geo.Planar), []spatial.Site{{Lat: lat}})
}

func TestIndexCache_BasicGetPut(t *testing.T) {
	c := newIndexCache(3)
	a := siteIndex(1)

	c.put("a", a)
	c.put("b", siteIndex(2))

	got, ok := c.get("a")
	assert.True(t, ok)
	assert.Same(t, a, got)

	_, ok = c.get("missing")
	assert.False(t, ok)
}

func TestIndexCache_Eviction(t *testing.T) {
	c := newIndexCache(2)

	c.put("a", siteIndex(1))
	c.put("b", siteIndex(2))
	c.put("c", siteIndex(3)) // evicts "a"

	_, ok := c.get("a")
	assert.False(t, ok, "a should have been evicted")
	_, ok = c.get("b")
	assert.True(t, ok)
	_, ok = c.get("c")
	assert.True(t, ok)
	assert.Equal(t, 2, c.size())
}

func TestIndexCache_AccessPromotesEntry(t *testing.T) {
	c := newIndexCache(2)

	c.put("a", siteIndex(1))
	c.put("b", siteIndex(2))
	c.get("a")
	c.put("c", siteIndex(3))

	_, ok := c.get("a")
	assert.True(t, ok, "a was accessed recently, should not be evicted")
	_, ok = c.get("b")
	assert.False(t, ok, "b should have been evicted")
}

func TestIndexCache_UpdateExisting(t *testing.T) {
	c := newIndexCache(2)
	a2 := siteIndex(2)

	c.put("a", siteIndex(1))
	c.put("a", a2)

	got, ok := c.get("a")
	require.True(t, ok)
	assert.Same(t, a2, got)
}

func TestIndexCache_GetOrBuildCountsHits(t *testing.T) {
	c := newIndexCache(4)
	builds := 0
	build := func() *spatial.Index {
		builds++
		return spatial.Empty
	}

	key := cacheKey(domain.KindAR, 7)
	assert.Equal(t, "ar:7", key)
	assert.Same(t, spatial.Empty, c.getOrBuild(key, build))
	assert.Same(t, spatial.Empty, c.getOrBuild(key, build))

	hits, misses := c.stats()
	assert.Equal(t, 1, builds, "empty sentinel is cached like any other index")
	assert.Equal(t, int64(1), hits)
	assert.Equal(t, int64(1), misses)
}

func TestIndexCache_ConcurrentAccess(t *testing.T) {
	c := newIndexCache(8)
	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				c.getOrBuild(cacheKey(domain.KindFront, i%16), func() *spatial.Index { return siteIndex(float64(i)) })
			}
		}()
	}
	wg.Wait()
	assert.LessOrEqual(t, c.size(), 8)
	hits, misses := c.stats()
	assert.Equal(t, int64(800), hits+misses)
}

func TestIndexCache_ConcurrentMissesBuildOnce(t *testing.T) {
	c := newIndexCache(4)
	var builds atomic.Int32
	release := make(chan struct{})
	build := func() *spatial.Index {
		builds.Add(1)
		<-release
		return siteIndex(5)
	}

	const workers = 16
	got := make([]*spatial.Index, workers)
	var started, wg sync.WaitGroup
	started.Add(workers)
	for w := range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			started.Done()
			got[w] = c.getOrBuild(cacheKey(domain.KindVortex, 3), build)
		}()
	}
	started.Wait()
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), builds.Load())
	for _, idx := range got {
		assert.Same(t, got[0], idx)
	}
	hits, misses := c.stats()
	assert.Equal(t, int64(1), misses)
	assert.Equal(t, int64(workers-1), hits)
}

func TestIndexCache_MinimumSize(t *testing.T) {
	c := newIndexCache(0)
	c.put("a", siteIndex(1))
	assert.Equal(t, 1, c.size())
}
