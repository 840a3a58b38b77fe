// Package vector provides durable vector storage and brute-force
// similarity search with a bounded in-memory accelerator tier.
package vector

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/hubenschmidt/go-fusion/core"
	"github.com/hubenschmidt/go-fusion/monitor"
)

// VectorRecord is a stored embedding with free-form metadata.
// Records are immutable once written.
type VectorRecord struct {
	ID        string         `json:"id"`
	Embedding []float64      `json:"embedding"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// SearchResult is a single similarity match.
type SearchResult struct {
	ID    string  `json:"id"`
	Score float64 `json:"score"`
}

// FilterFunc restricts search candidates. It receives the candidate id
// and its metadata and reports whether the candidate is eligible.
type FilterFunc func(id string, metadata map[string]any) bool

// Store provides durable vector storage and top-k similarity search.
type Store interface {
	// Initialize opens the backing storage, creating it if absent.
	// Calling it again on an initialized store is a no-op.
	Initialize(ctx context.Context) error

	// AddVectors appends records. The whole batch is rejected on the
	// first dimension mismatch, before anything is written.
	AddVectors(ctx context.Context, records []VectorRecord) error

	// GetVector returns the record for id. A missing id is a
	// legitimate negative result: ok=false with a nil error.
	GetVector(ctx context.Context, id string) (*VectorRecord, bool, error)

	// SearchVectors ranks every stored vector against query and
	// returns up to k results with score >= minScore, best first.
	// filter may be nil.
	SearchVectors(ctx context.Context, query []float64, k int, minScore float64, filter FilterFunc) ([]SearchResult, error)

	// GetAllIDs lists every stored id in insertion order.
	GetAllIDs(ctx context.Context) ([]string, error)

	// Stats returns counters and running latency averages.
	Stats() Stats

	// ClearCache drops the accelerator tier. Disk data is untouched.
	ClearCache()

	// OptimizeCache purges TTL-expired cache entries and re-runs
	// limit enforcement.
	OptimizeCache()

	// Close releases resources. Every operation afterwards fails
	// with core.ErrClosed.
	Close() error
}

// Stats exposes store counters. Evictions are split by cause: capacity
// pressure (LRU) versus TTL expiry.
type Stats struct {
	TotalVectors          int64         `json:"total_vectors"`
	CacheEntries          int           `json:"cache_entries"`
	CacheBytes            int64         `json:"cache_bytes"`
	CacheHits             int64         `json:"cache_hits"`
	CacheMisses           int64         `json:"cache_misses"`
	DiskReads             int64         `json:"disk_reads"`
	CacheLRUEvictions     int64         `json:"cache_lru_evictions"`
	CacheExpiredEvictions int64         `json:"cache_expired_evictions"`
	HitRate               float64       `json:"hit_rate"`
	AvgInsertLatency      time.Duration `json:"avg_insert_latency"`
	AvgSearchLatency      time.Duration `json:"avg_search_latency"`
}

// ErrInvalidK is returned when a search is requested with k < 1.
var ErrInvalidK = errors.New("k must be positive")

// DimensionError indicates an embedding whose length does not match
// the store's configured dimension.
type DimensionError struct {
	Expected int
	Actual   int
}

func (e *DimensionError) Error() string {
	return fmt.Sprintf("dimension mismatch: expected %d, got %d", e.Expected, e.Actual)
}

// Config holds construction-time settings for a store. It is immutable
// for the lifetime of the instance.
type Config struct {
	Dimension         int
	Metric            Metric
	MaxCacheSizeMB    int
	MaxCacheEntries   int
	CacheTTL          time.Duration
	EnableDiskStorage bool
	Logger            *slog.Logger
	Collector         monitor.Collector
}

// DefaultConfig returns a config with the given dimension and
// conservative cache ceilings.
func DefaultConfig(dimension int) Config {
	return Config{
		Dimension:         dimension,
		Metric:            MetricCosine,
		MaxCacheSizeMB:    64,
		MaxCacheEntries:   10000,
		CacheTTL:          30 * time.Minute,
		EnableDiskStorage: true,
	}
}

func (c Config) WithMetric(m Metric) Config {
	c.Metric = m
	return c
}

func (c Config) WithCacheLimits(maxEntries, maxSizeMB int) Config {
	c.MaxCacheEntries = maxEntries
	c.MaxCacheSizeMB = maxSizeMB
	return c
}

func (c Config) WithCacheTTL(ttl time.Duration) Config {
	c.CacheTTL = ttl
	return c
}

func (c Config) WithDiskStorage(enabled bool) Config {
	c.EnableDiskStorage = enabled
	return c
}

func (c Config) WithLogger(l *slog.Logger) Config {
	c.Logger = l
	return c
}

func (c Config) WithCollector(col monitor.Collector) Config {
	c.Collector = col
	return c
}

// Validate reports configuration errors. These are fatal at
// construction and never retried.
func (c Config) Validate() error {
	if c.Dimension <= 0 {
		return fmt.Errorf("%w: dimension must be positive, got %d", core.ErrInvalidConfig, c.Dimension)
	}
	if c.Metric != MetricCosine && c.Metric != MetricEuclidean && c.Metric != MetricDot {
		return fmt.Errorf("%w: unknown metric %d", core.ErrInvalidConfig, c.Metric)
	}
	if c.MaxCacheEntries <= 0 {
		return fmt.Errorf("%w: max cache entries must be positive, got %d", core.ErrInvalidConfig, c.MaxCacheEntries)
	}
	if c.MaxCacheSizeMB <= 0 {
		return fmt.Errorf("%w: max cache size must be positive, got %d MB", core.ErrInvalidConfig, c.MaxCacheSizeMB)
	}
	if c.CacheTTL <= 0 {
		return fmt.Errorf("%w: cache TTL must be positive, got %v", core.ErrInvalidConfig, c.CacheTTL)
	}
	return nil
}

func (c Config) logger() *slog.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return slog.New(slog.DiscardHandler)
}

func (c Config) collector() monitor.Collector {
	if c.Collector != nil {
		return c.Collector
	}
	return monitor.NewNoOpCollector()
}

// NewStore creates a store based on the DSN.
//   - postgres:// or postgresql://: pgvector-backed store
//   - empty or :memory:: ephemeral store with disk storage disabled
//   - anything else: directory path for a disk-backed store
func NewStore(dsn string, cfg Config) (Store, error) {
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		s, err := NewPgVectorStore(dsn, cfg)
		if err != nil {
			return nil, fmt.Errorf("pgvector: %w", err)
		}
		return s, nil
	}

	if dsn == "" || dsn == ":memory:" {
		return NewDiskStore("", cfg.WithDiskStorage(false))
	}

	return NewDiskStore(dsn, cfg)
}
