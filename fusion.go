// Package fusion provides the storage and caching core for
// context-fusion applications: a durable, similarity-searchable vector
// store with a bounded in-memory accelerator tier, and a generic
// TTL-bounded cache for memoizing computed artifacts.
//
// Example usage:
//
//	cfg := vector.DefaultConfig(1536).
//	    WithMetric(vector.MetricCosine).
//	    WithCacheLimits(10000, 64)
//
//	store, err := fusion.NewVectorStore("data/vectors", cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	if err := store.Initialize(ctx); err != nil {
//	    log.Fatal(err)
//	}
//	defer store.Close()
//
//	scores, err := fusion.NewCache[float64](cache.DefaultConfig())
//	defer scores.Dispose()
package fusion

import (
	"github.com/hubenschmidt/go-fusion/cache"
	"github.com/hubenschmidt/go-fusion/core"
	"github.com/hubenschmidt/go-fusion/monitor"
	"github.com/hubenschmidt/go-fusion/vector"
)

// Re-export similarity metrics for convenience
const (
	MetricCosine    = vector.MetricCosine
	MetricEuclidean = vector.MetricEuclidean
	MetricDot       = vector.MetricDot
)

// Vector store aliases
type (
	VectorStore    = vector.Store
	VectorRecord   = vector.VectorRecord
	VectorConfig   = vector.Config
	SearchResult   = vector.SearchResult
	FilterFunc     = vector.FilterFunc
	Metric         = vector.Metric
	VectorStats    = vector.Stats
	DimensionError = vector.DimensionError
)

// NewVectorStore creates a vector store based on the DSN: postgres://
// for pgvector, empty or :memory: for an ephemeral store, anything
// else as a directory path for disk storage.
func NewVectorStore(dsn string, cfg vector.Config) (vector.Store, error) {
	return vector.NewStore(dsn, cfg)
}

// NewDiskStore creates a disk-backed vector store rooted at dir.
func NewDiskStore(dir string, cfg vector.Config) (*vector.DiskStore, error) {
	return vector.NewDiskStore(dir, cfg)
}

// NewPgVectorStore creates a pgvector-backed vector store.
func NewPgVectorStore(dsn string, cfg vector.Config) (*vector.PgVectorStore, error) {
	return vector.NewPgVectorStore(dsn, cfg)
}

// Cache aliases
type (
	Cache[T any]      = cache.Cache[T]
	CacheEntry[T any] = cache.Entry[T]
	CacheConfig       = cache.Config
	CacheStats        = cache.Stats
)

// NewCache creates a generic memoization cache for values of type T.
func NewCache[T any](cfg cache.Config) (*cache.Cache[T], error) {
	return cache.New[T](cfg)
}

// Core error aliases
type StorageError = core.StorageError

var (
	ErrNotFound       = core.ErrNotFound
	ErrNotInitialized = core.ErrNotInitialized
	ErrClosed         = core.ErrClosed
	ErrInvalidConfig  = core.ErrInvalidConfig
)

// Monitor aliases
type (
	MetricsCollector  = monitor.Collector
	InMemoryCollector = monitor.InMemoryCollector
	OpMetrics         = monitor.OpMetrics
	MetricsSummary    = monitor.Summary
)

// NewInMemoryCollector creates a new in-memory metrics collector.
func NewInMemoryCollector() *monitor.InMemoryCollector {
	return monitor.NewInMemoryCollector()
}
