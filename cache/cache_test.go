package cache

import (
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hubenschmidt/go-fusion/core"
)

func newTestCache[T any](t *testing.T, cfg Config) *Cache[T] {
	t.Helper()

	c, err := New[T](cfg)
	require.NoError(t, err)
	t.Cleanup(c.Dispose)
	return c
}

func TestCache_SetGet(t *testing.T) {
	c := newTestCache[string](t, DefaultConfig())

	c.Set("greeting", "hello")

	v, ok := c.Get("greeting")
	require.True(t, ok)
	assert.Equal(t, "hello", v)

	_, ok = c.Get("absent")
	assert.False(t, ok)

	stats := c.Stats()
	assert.Equal(t, int64(1), stats.Hits)
	assert.Equal(t, int64(1), stats.Misses)
	assert.InDelta(t, 0.5, stats.HitRate, 1e-9)
}

func TestCache_LazyExpiry(t *testing.T) {
	c := newTestCache[int](t, DefaultConfig().WithCleanupInterval(time.Hour))

	c.Set("short", 42, WithTTL(50*time.Millisecond))

	v, ok := c.Get("short")
	require.True(t, ok)
	assert.Equal(t, 42, v)

	time.Sleep(100 * time.Millisecond)

	// No sweep has run; Get itself must notice the elapsed TTL.
	_, ok = c.Get("short")
	assert.False(t, ok)

	stats := c.Stats()
	assert.Equal(t, int64(1), stats.ExpiredEvictions)
	assert.Equal(t, int64(1), stats.Misses)
	assert.Equal(t, 0, stats.Entries)
}

func TestCache_EvictionOrder(t *testing.T) {
	c := newTestCache[int](t, DefaultConfig().WithLimits(2, 32))

	c.Set("x", 1)
	c.Set("y", 2)
	c.Set("z", 3)

	_, ok := c.Get("x")
	assert.False(t, ok, "x was least recently used")
	_, ok = c.Get("y")
	assert.True(t, ok)
	_, ok = c.Get("z")
	assert.True(t, ok)

	assert.Equal(t, int64(1), c.Stats().LRUEvictions)
}

func TestCache_GetPromotes(t *testing.T) {
	c := newTestCache[int](t, DefaultConfig().WithLimits(2, 32))

	c.Set("x", 1)
	c.Set("y", 2)

	_, ok := c.Get("x")
	require.True(t, ok)

	c.Set("z", 3)

	_, ok = c.Get("y")
	assert.False(t, ok, "y became least recently used after x was touched")
	_, ok = c.Get("x")
	assert.True(t, ok)
}

func TestCache_MemoryCeiling(t *testing.T) {
	cfg := DefaultConfig().WithLimits(10000, 1)
	c := newTestCache[string](t, cfg)

	ceiling := int64(1) * 1024 * 1024
	big := strings.Repeat("x", 100*1024) // ~200 KB estimated

	for i := 0; i < 20; i++ {
		c.Set(fmt.Sprintf("blob-%d", i), big)
		assert.LessOrEqual(t, c.Stats().MemoryBytes, ceiling)
	}

	assert.Positive(t, c.Stats().LRUEvictions)
}

func TestCache_ReplaceWholesale(t *testing.T) {
	c := newTestCache[int](t, DefaultConfig())

	c.Set("k", 1, WithMetadata(map[string]any{"gen": 1}))
	c.Set("k", 2)

	v, ok := c.Get("k")
	require.True(t, ok)
	assert.Equal(t, 2, v)
	assert.Equal(t, 1, c.Stats().Entries)

	// The replacement is wholesale: old metadata does not survive.
	entry, ok := c.GetEntry("k")
	require.True(t, ok)
	assert.Nil(t, entry.Metadata)

	// A replace is neither an LRU nor an expiry eviction.
	stats := c.Stats()
	assert.Equal(t, int64(0), stats.LRUEvictions)
	assert.Equal(t, int64(0), stats.ExpiredEvictions)
}

func TestCache_ContainsLazyExpiry(t *testing.T) {
	c := newTestCache[int](t, DefaultConfig().WithCleanupInterval(time.Hour))

	c.Set("short", 1, WithTTL(50*time.Millisecond))
	assert.True(t, c.Contains("short"))

	time.Sleep(100 * time.Millisecond)

	assert.False(t, c.Contains("short"))
	assert.Equal(t, int64(1), c.Stats().ExpiredEvictions)
}

func TestCache_ExtendTTL(t *testing.T) {
	c := newTestCache[int](t, DefaultConfig().WithCleanupInterval(time.Hour))

	c.Set("k", 1, WithTTL(50*time.Millisecond))
	require.True(t, c.ExtendTTL("k", time.Hour))

	time.Sleep(100 * time.Millisecond)

	v, ok := c.Get("k")
	require.True(t, ok)
	assert.Equal(t, 1, v)

	assert.False(t, c.ExtendTTL("absent", time.Hour))
}

func TestCache_RemoveClearKeys(t *testing.T) {
	c := newTestCache[int](t, DefaultConfig())

	c.Set("a", 1)
	c.Set("b", 2)

	assert.ElementsMatch(t, []string{"a", "b"}, c.Keys())
	assert.True(t, c.Remove("a"))
	assert.False(t, c.Remove("a"))

	c.Clear()
	assert.Empty(t, c.Keys())
	assert.Equal(t, 0, c.Stats().Entries)
	assert.Equal(t, int64(0), c.Stats().MemoryBytes)
}

func TestCache_UpdateMetadata(t *testing.T) {
	c := newTestCache[int](t, DefaultConfig())

	c.Set("k", 1, WithMetadata(map[string]any{"stage": "raw"}))
	require.True(t, c.UpdateMetadata("k", map[string]any{"stage": "fused"}))

	entry, ok := c.GetEntry("k")
	require.True(t, ok)
	assert.Equal(t, "fused", entry.Metadata["stage"])

	assert.False(t, c.UpdateMetadata("absent", nil))
}

func TestCache_EntryBookkeeping(t *testing.T) {
	c := newTestCache[int](t, DefaultConfig().WithDefaultTTL(time.Minute))

	c.Set("k", 1)
	_, _ = c.Get("k")
	_, _ = c.Get("k")

	entry, ok := c.GetEntry("k")
	require.True(t, ok)
	assert.Equal(t, "k", entry.Key)
	assert.Equal(t, int64(2), entry.AccessCount)
	assert.True(t, entry.ExpiresAt.After(entry.CreatedAt))
}

func TestCache_PeriodicSweep(t *testing.T) {
	c := newTestCache[int](t, DefaultConfig().WithCleanupInterval(20*time.Millisecond))

	c.Set("short", 1, WithTTL(30*time.Millisecond))
	c.Set("long", 2, WithTTL(time.Hour))

	time.Sleep(150 * time.Millisecond)

	// The sweeper removed the expired entry without any Get.
	stats := c.Stats()
	assert.Equal(t, 1, stats.Entries)
	assert.Equal(t, int64(1), stats.ExpiredEvictions)

	_, ok := c.Get("long")
	assert.True(t, ok)
}

func TestCache_Dispose(t *testing.T) {
	c, err := New[int](DefaultConfig())
	require.NoError(t, err)

	c.Set("k", 1)
	c.Dispose()
	c.Dispose() // second call is a no-op

	_, ok := c.Get("k")
	assert.False(t, ok)

	c.Set("k2", 2)
	_, ok = c.Get("k2")
	assert.False(t, ok, "a disposed cache is a pass-through")
}

func TestCache_InvalidConfig(t *testing.T) {
	_, err := New[int](DefaultConfig().WithLimits(0, 32))
	assert.ErrorIs(t, err, core.ErrInvalidConfig)

	_, err = New[int](DefaultConfig().WithDefaultTTL(0))
	assert.ErrorIs(t, err, core.ErrInvalidConfig)

	_, err = New[int](DefaultConfig().WithCleanupInterval(0))
	assert.ErrorIs(t, err, core.ErrInvalidConfig)
}

func TestCache_StructValues(t *testing.T) {
	type scored struct {
		ID    string
		Score float64
	}

	c := newTestCache[scored](t, DefaultConfig())

	c.Set("best", scored{ID: "doc-9", Score: 0.97})

	v, ok := c.Get("best")
	require.True(t, ok)
	assert.Equal(t, "doc-9", v.ID)
	assert.InDelta(t, 0.97, v.Score, 1e-9)
}
