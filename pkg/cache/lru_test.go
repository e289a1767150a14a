package cache

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aethercode/aether/pkg/observability"
)

var _ observability.CacheStatsProvider = (*LRU[[]float32])(nil)

func TestGetPutAndStats(t *testing.T) {
	c := NewLRU[string](1024)

	_, ok := c.Get("missing")
	assert.False(t, ok)

	c.Put("k", "v", 10)

	v, ok := c.Get("k")
	require.True(t, ok)
	assert.Equal(t, "v", v)

	stats := c.Stats()
	assert.Equal(t, int64(1), stats.Hits)
	assert.Equal(t, int64(1), stats.Misses)
	assert.Equal(t, 1, stats.Entries)
	assert.Equal(t, int64(10), stats.CurrentCost)
	assert.InDelta(t, 0.5, stats.HitRate(), 1e-9)
}

func TestEvictionRespectsBudget(t *testing.T) {
	c := NewLRU[int](100)

	for i := 0; i < 20; i++ {
		c.Put(fmt.Sprintf("k%d", i), i, 10)
	}

	stats := c.Stats()
	assert.LessOrEqual(t, stats.CurrentCost, int64(100))
	assert.LessOrEqual(t, stats.Entries, 10)
}

func TestEvictionPrefersLargeColdEntries(t *testing.T) {
	c := NewLRU[string](100)

	c.Put("hot-small", "a", 10)
	c.Put("cold-large", "b", 80)

	// Heat up the small entry.
	for i := 0; i < 5; i++ {
		c.Get("hot-small")
	}

	// Force an eviction.
	c.Put("new", "c", 40)

	_, hotOK := c.Get("hot-small")
	_, coldOK := c.Get("cold-large")

	assert.True(t, hotOK, "frequently accessed entry survives")
	assert.False(t, coldOK, "large cold entry is evicted first")
}

func TestOversizedEntryIsNotCached(t *testing.T) {
	c := NewLRU[string](10)

	c.Put("huge", "x", 11)

	_, ok := c.Get("huge")
	assert.False(t, ok)
	assert.Zero(t, c.Stats().Entries)
}

func TestClearResetsEntriesButKeepsCounters(t *testing.T) {
	c := NewLRU[string](100)
	c.Put("k", "v", 1)
	c.Get("k")

	c.Clear()

	_, ok := c.Get("k")
	assert.False(t, ok)
	assert.Equal(t, int64(1), c.CacheHits())
	assert.Equal(t, int64(2), c.CacheMisses())
}
