package vector

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hubenschmidt/go-fusion/core"
	"github.com/hubenschmidt/go-fusion/monitor"
)

func newTestStore(t *testing.T, cfg Config) *DiskStore {
	t.Helper()

	store, err := NewDiskStore(t.TempDir(), cfg)
	require.NoError(t, err)
	require.NoError(t, store.Initialize(context.Background()))
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestDiskStore_RoundTrip(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t, DefaultConfig(3))

	rec := VectorRecord{
		ID:        "doc-1",
		Embedding: []float64{0.1, -0.2, 0.3},
		Metadata:  map[string]any{"source": "unit"},
	}
	require.NoError(t, store.AddVectors(ctx, []VectorRecord{rec}))

	// Cache-hit path: AddVectors fills the accelerator tier.
	got, ok, err := store.GetVector(ctx, "doc-1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.InDeltaSlice(t, rec.Embedding, got.Embedding, 1e-12)
	assert.Equal(t, "unit", got.Metadata["source"])

	// Disk-read path: drop the cache and read back from the log.
	store.ClearCache()
	got, ok, err = store.GetVector(ctx, "doc-1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.InDeltaSlice(t, rec.Embedding, got.Embedding, 1e-12)
	assert.Equal(t, "unit", got.Metadata["source"])

	stats := store.Stats()
	assert.Equal(t, int64(1), stats.TotalVectors)
	assert.Equal(t, int64(1), stats.CacheHits)
	assert.Equal(t, int64(1), stats.CacheMisses)
	assert.Equal(t, int64(1), stats.DiskReads)
}

func TestDiskStore_DimensionMismatch(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t, DefaultConfig(4))

	// The whole batch fails before anything is written, even when
	// some records are valid.
	err := store.AddVectors(ctx, []VectorRecord{
		{ID: "ok", Embedding: []float64{1, 2, 3, 4}},
		{ID: "bad", Embedding: []float64{1, 2}},
	})

	var dimErr *DimensionError
	require.ErrorAs(t, err, &dimErr)
	assert.Equal(t, 4, dimErr.Expected)
	assert.Equal(t, 2, dimErr.Actual)

	assert.Equal(t, int64(0), store.Stats().TotalVectors)
	_, ok, err := store.GetVector(ctx, "ok")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestDiskStore_GetVector_NotFound(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t, DefaultConfig(2))

	rec, ok, err := store.GetVector(ctx, "nope")
	require.NoError(t, err, "a missing id is a negative result, not an error")
	assert.False(t, ok)
	assert.Nil(t, rec)

	// A miss for an unknown id still went to the index.
	stats := store.Stats()
	assert.Equal(t, int64(1), stats.CacheMisses)
	assert.Equal(t, int64(1), stats.DiskReads)
}

func TestDiskStore_SearchVectors(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t, DefaultConfig(4))

	require.NoError(t, store.AddVectors(ctx, []VectorRecord{
		{ID: "a", Embedding: []float64{1, 0, 0, 0}},
		{ID: "b", Embedding: []float64{0, 1, 0, 0}},
	}))

	results, err := store.SearchVectors(ctx, []float64{1, 0, 0, 0}, 2, 0.0, nil)
	require.NoError(t, err)
	require.Len(t, results, 2)

	assert.Equal(t, "a", results[0].ID)
	assert.InDelta(t, 1.0, results[0].Score, 1e-9)
	assert.Equal(t, "b", results[1].ID)
	assert.InDelta(t, 0.0, results[1].Score, 1e-9)
}

func TestDiskStore_SearchMinScoreAboveAll(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t, DefaultConfig(2))

	require.NoError(t, store.AddVectors(ctx, []VectorRecord{
		{ID: "a", Embedding: []float64{1, 0}},
	}))

	results, err := store.SearchVectors(ctx, []float64{0, 1}, 5, 0.9, nil)
	require.NoError(t, err, "an empty result is not an error")
	assert.Empty(t, results)
}

func TestDiskStore_SearchFilter(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t, DefaultConfig(2))

	require.NoError(t, store.AddVectors(ctx, []VectorRecord{
		{ID: "keep", Embedding: []float64{1, 0}, Metadata: map[string]any{"lang": "go"}},
		{ID: "skip", Embedding: []float64{1, 0}, Metadata: map[string]any{"lang": "ts"}},
	}))

	results, err := store.SearchVectors(ctx, []float64{1, 0}, 10, 0.0, func(id string, metadata map[string]any) bool {
		return metadata["lang"] == "go"
	})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "keep", results[0].ID)
}

func TestDiskStore_SearchValidation(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t, DefaultConfig(4))

	_, err := store.SearchVectors(ctx, []float64{1, 2}, 3, 0, nil)
	var dimErr *DimensionError
	assert.ErrorAs(t, err, &dimErr)

	_, err = store.SearchVectors(ctx, []float64{1, 2, 3, 4}, 0, 0, nil)
	assert.ErrorIs(t, err, ErrInvalidK)
}

func TestDiskStore_Persistence(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	cfg := DefaultConfig(3)

	store, err := NewDiskStore(dir, cfg)
	require.NoError(t, err)
	require.NoError(t, store.Initialize(ctx))
	require.NoError(t, store.AddVectors(ctx, []VectorRecord{
		{ID: "persisted", Embedding: []float64{7, 8, 9}, Metadata: map[string]any{"v": float64(1)}},
	}))
	require.NoError(t, store.Close())

	reopened, err := NewDiskStore(dir, cfg)
	require.NoError(t, err)
	require.NoError(t, reopened.Initialize(ctx))
	defer reopened.Close()

	rec, ok, err := reopened.GetVector(ctx, "persisted")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []float64{7, 8, 9}, rec.Embedding)
	assert.Equal(t, float64(1), rec.Metadata["v"])
	assert.Equal(t, int64(1), reopened.Stats().TotalVectors)
}

func TestDiskStore_MemoryMode(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	store, err := NewDiskStore(dir, DefaultConfig(2).WithDiskStorage(false))
	require.NoError(t, err)
	require.NoError(t, store.Initialize(ctx))
	defer store.Close()

	require.NoError(t, store.AddVectors(ctx, []VectorRecord{
		{ID: "mem", Embedding: []float64{1, 2}},
	}))

	store.ClearCache()
	rec, ok, err := store.GetVector(ctx, "mem")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []float64{1, 2}, rec.Embedding)

	// Nothing may touch the filesystem in memory mode.
	_, err = os.Stat(filepath.Join(dir, logFileName))
	assert.True(t, os.IsNotExist(err))
}

func TestDiskStore_InitializeIdempotent(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t, DefaultConfig(2))

	require.NoError(t, store.Initialize(ctx))
	require.NoError(t, store.Initialize(ctx))
}

func TestDiskStore_NotInitialized(t *testing.T) {
	store, err := NewDiskStore(t.TempDir(), DefaultConfig(2))
	require.NoError(t, err)

	_, _, err = store.GetVector(context.Background(), "x")
	assert.ErrorIs(t, err, core.ErrNotInitialized)

	err = store.AddVectors(context.Background(), []VectorRecord{{ID: "x", Embedding: []float64{1, 2}}})
	assert.ErrorIs(t, err, core.ErrNotInitialized)
}

func TestDiskStore_ClosedErrors(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t, DefaultConfig(2))
	require.NoError(t, store.Close())

	_, _, err := store.GetVector(ctx, "x")
	assert.ErrorIs(t, err, core.ErrClosed)

	err = store.AddVectors(ctx, []VectorRecord{{ID: "x", Embedding: []float64{1, 2}}})
	assert.ErrorIs(t, err, core.ErrClosed)

	_, err = store.SearchVectors(ctx, []float64{1, 2}, 1, 0, nil)
	assert.ErrorIs(t, err, core.ErrClosed)

	assert.ErrorIs(t, store.Close(), core.ErrClosed)
}

func TestDiskStore_CacheCeilingIntegration(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t, DefaultConfig(2).WithCacheLimits(2, 64))

	require.NoError(t, store.AddVectors(ctx, []VectorRecord{
		{ID: "a", Embedding: []float64{1, 0}},
		{ID: "b", Embedding: []float64{0, 1}},
		{ID: "c", Embedding: []float64{1, 1}},
	}))

	stats := store.Stats()
	assert.Equal(t, 2, stats.CacheEntries)
	assert.Equal(t, int64(3), stats.TotalVectors)
	assert.Equal(t, int64(1), stats.CacheLRUEvictions)
	assert.Equal(t, int64(0), stats.CacheExpiredEvictions)

	// The evicted id is still resolvable through the log.
	rec, ok, err := store.GetVector(ctx, "a")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []float64{1, 0}, rec.Embedding)
}

func TestDiskStore_OptimizeCacheCountsExpiry(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t, DefaultConfig(2).WithCacheTTL(time.Millisecond))

	require.NoError(t, store.AddVectors(ctx, []VectorRecord{
		{ID: "a", Embedding: []float64{1, 0}},
	}))

	time.Sleep(5 * time.Millisecond)
	store.OptimizeCache()

	stats := store.Stats()
	assert.Equal(t, 0, stats.CacheEntries)
	assert.Equal(t, int64(1), stats.CacheExpiredEvictions)
	assert.Equal(t, int64(0), stats.CacheLRUEvictions)
}

func TestDiskStore_ConcurrentReadDuringReAdd(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t, DefaultConfig(2))

	require.NoError(t, store.AddVectors(ctx, []VectorRecord{
		{ID: "a", Embedding: []float64{1, 0}, Metadata: map[string]any{"gen": float64(0)}},
	}))

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < 200; i++ {
			err := store.AddVectors(ctx, []VectorRecord{
				{ID: "a", Embedding: []float64{float64(i), 0}, Metadata: map[string]any{"gen": float64(i)}},
			})
			assert.NoError(t, err)
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 200; i++ {
			rec, ok, err := store.GetVector(ctx, "a")
			assert.NoError(t, err)
			if ok {
				_ = rec.Embedding[0]
				_ = rec.Metadata["gen"]
			}
		}
	}()
	wg.Wait()
}

func TestDiskStore_GetAllIDsInsertionOrder(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t, DefaultConfig(2))

	require.NoError(t, store.AddVectors(ctx, []VectorRecord{
		{ID: "first", Embedding: []float64{1, 0}},
		{ID: "second", Embedding: []float64{0, 1}},
	}))

	ids, err := store.GetAllIDs(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"first", "second"}, ids)
}

func TestDiskStore_Collector(t *testing.T) {
	ctx := context.Background()
	collector := monitor.NewInMemoryCollector()
	store := newTestStore(t, DefaultConfig(2).WithCollector(collector))

	require.NoError(t, store.AddVectors(ctx, []VectorRecord{
		{ID: "a", Embedding: []float64{1, 0}},
	}))
	_, err := store.SearchVectors(ctx, []float64{1, 0}, 1, 0, nil)
	require.NoError(t, err)

	summary := collector.Flush()
	assert.Equal(t, 1, summary.Ops["add_vectors"].Count)
	assert.Equal(t, 1, summary.Ops["search"].Count)
}

func TestNewDiskStore_InvalidConfig(t *testing.T) {
	_, err := NewDiskStore(t.TempDir(), DefaultConfig(0))
	assert.ErrorIs(t, err, core.ErrInvalidConfig)

	_, err = NewDiskStore("", DefaultConfig(2))
	assert.ErrorIs(t, err, core.ErrInvalidConfig)

	_, err = NewDiskStore(t.TempDir(), DefaultConfig(2).WithCacheLimits(0, 64))
	assert.ErrorIs(t, err, core.ErrInvalidConfig)
}

func TestNewStore_DSNRouting(t *testing.T) {
	store, err := NewStore(":memory:", DefaultConfig(2))
	require.NoError(t, err)
	_, isDisk := store.(*DiskStore)
	assert.True(t, isDisk)

	store, err = NewStore(t.TempDir(), DefaultConfig(2))
	require.NoError(t, err)
	_, isDisk = store.(*DiskStore)
	assert.True(t, isDisk)

	store, err = NewStore("postgres://localhost/fusion", DefaultConfig(2))
	require.NoError(t, err)
	_, isPg := store.(*PgVectorStore)
	assert.True(t, isPg)
}
