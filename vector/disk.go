package vector

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"
	_ "modernc.org/sqlite"

	"github.com/hubenschmidt/go-fusion/core"
	"github.com/hubenschmidt/go-fusion/monitor"
)

const (
	logFileName   = "vectors.bin"
	indexFileName = "index.db"
)

// DiskStore persists embeddings in an append-only binary log with a
// SQLite auxiliary index (id -> byte offset + metadata) and serves
// repeat reads from a bounded LRU accelerator tier.
//
// The auxiliary index is the authoritative existence check: an id
// without an index row does not exist, regardless of cache state.
// The log is append-only; overwritten records leave orphaned bytes
// behind and the file only grows.
type DiskStore struct {
	cfg    Config
	dir    string
	logger *slog.Logger

	// mu serializes mutations against the log and the index so a
	// reader never observes an id that is indexed but not yet
	// appended, or vice versa.
	mu          sync.RWMutex
	initialized bool
	closed      bool

	log   appendLog
	db    *sql.DB
	cache *vectorCache
	group singleflight.Group

	totalVectors atomic.Int64
	cacheHits    atomic.Int64
	cacheMisses  atomic.Int64
	diskReads    atomic.Int64

	insertLatency monitor.LatencyTracker
	searchLatency monitor.LatencyTracker
	collector     monitor.Collector
}

var _ Store = (*DiskStore)(nil)

// NewDiskStore creates a disk-backed store rooted at dir. When the
// config disables disk storage, dir is ignored and everything lives in
// memory. Initialize must be called before use.
func NewDiskStore(dir string, cfg Config) (*DiskStore, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.EnableDiskStorage && dir == "" {
		return nil, fmt.Errorf("%w: disk storage requires a directory", core.ErrInvalidConfig)
	}

	return &DiskStore{
		cfg:       cfg,
		dir:       dir,
		logger:    cfg.logger(),
		cache:     newVectorCache(cfg.MaxCacheEntries, int64(cfg.MaxCacheSizeMB)*1024*1024, cfg.CacheTTL),
		collector: cfg.collector(),
	}, nil
}

// Initialize opens the append-only log and the auxiliary index,
// creating both if absent. It is idempotent.
func (s *DiskStore) Initialize(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return core.ErrClosed
	}
	if s.initialized {
		return nil
	}

	var (
		log appendLog
		dsn string
		err error
	)
	if s.cfg.EnableDiskStorage {
		if err = os.MkdirAll(s.dir, 0o755); err != nil {
			return core.NewStorageError("initialize", s.dir, err)
		}
		log, err = openFileLog(filepath.Join(s.dir, logFileName))
		if err != nil {
			return core.NewStorageError("initialize", s.dir, err)
		}
		dsn = filepath.Join(s.dir, indexFileName)
	} else {
		log = newMemLog()
		dsn = ":memory:"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		log.Close()
		return core.NewStorageError("initialize", dsn, err)
	}
	// A single connection keeps :memory: databases shared and
	// serializes index writes at the driver level.
	db.SetMaxOpenConns(1)

	if _, err = db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS vectors (
			id        TEXT PRIMARY KEY,
			offset    INTEGER NOT NULL,
			dimension INTEGER NOT NULL,
			metadata  TEXT NOT NULL DEFAULT '{}'
		)`); err != nil {
		db.Close()
		log.Close()
		return core.NewStorageError("initialize", dsn, err)
	}

	var count int64
	if err = db.QueryRowContext(ctx, `SELECT COUNT(*) FROM vectors`).Scan(&count); err != nil {
		db.Close()
		log.Close()
		return core.NewStorageError("initialize", dsn, err)
	}

	s.log = log
	s.db = db
	s.totalVectors.Store(count)
	s.initialized = true

	s.logger.Info("vector store initialized",
		"dir", s.dir,
		"dimension", s.cfg.Dimension,
		"metric", s.cfg.Metric.String(),
		"vectors", count,
		"disk", s.cfg.EnableDiskStorage,
	)
	return nil
}

func (s *DiskStore) guard() error {
	if s.closed {
		return core.ErrClosed
	}
	if !s.initialized {
		return core.ErrNotInitialized
	}
	return nil
}

// AddVectors validates the whole batch before writing anything, then
// appends each record to the log, upserts its index row, and fills the
// accelerator tier (fresh writes are assumed hot). A mid-batch I/O
// failure leaves already-written entries in place; there is no rollback.
func (s *DiskStore) AddVectors(ctx context.Context, records []VectorRecord) error {
	start := time.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.guard(); err != nil {
		return err
	}

	for _, rec := range records {
		if len(rec.Embedding) != s.cfg.Dimension {
			return &DimensionError{Expected: s.cfg.Dimension, Actual: len(rec.Embedding)}
		}
	}

	for _, rec := range records {
		if err := s.appendLocked(ctx, rec); err != nil {
			s.refreshCountLocked(ctx)
			s.record("add_vectors", start, err)
			return err
		}
	}

	s.refreshCountLocked(ctx)
	s.insertLatency.Observe(time.Since(start))
	s.record("add_vectors", start, nil)
	return nil
}

func (s *DiskStore) appendLocked(ctx context.Context, rec VectorRecord) error {
	offset, err := s.log.Append(encodeEmbedding(rec.Embedding))
	if err != nil {
		return core.NewStorageError("append", s.dir, err)
	}

	meta, err := json.Marshal(rec.Metadata)
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}
	if rec.Metadata == nil {
		meta = []byte("{}")
	}

	if _, err = s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO vectors (id, offset, dimension, metadata)
		VALUES (?, ?, ?, ?)`,
		rec.ID, offset, len(rec.Embedding), string(meta),
	); err != nil {
		return core.NewStorageError("index", s.dir, err)
	}

	s.cache.put(rec.ID, rec.Embedding, rec.Metadata)
	return nil
}

func (s *DiskStore) refreshCountLocked(ctx context.Context) {
	var count int64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM vectors`).Scan(&count); err == nil {
		s.totalVectors.Store(count)
	}
}

// GetVector serves from the accelerator tier when possible. On a miss
// it resolves the byte offset through the index, reads the record from
// the log, and admits it to the cache. Concurrent misses for the same
// id collapse into a single read.
func (s *DiskStore) GetVector(ctx context.Context, id string) (*VectorRecord, bool, error) {
	s.mu.RLock()
	if err := s.guard(); err != nil {
		s.mu.RUnlock()
		return nil, false, err
	}
	s.mu.RUnlock()

	if embedding, metadata, ok := s.cache.get(id); ok {
		s.cacheHits.Add(1)
		return &VectorRecord{ID: id, Embedding: embedding, Metadata: metadata}, true, nil
	}

	s.cacheMisses.Add(1)

	v, err, _ := s.group.Do(id, func() (any, error) {
		rec, err := s.readFromDisk(ctx, id)
		if err != nil {
			return nil, err
		}
		if rec == nil {
			return nil, nil
		}
		return rec, nil
	})
	if err != nil {
		return nil, false, err
	}
	if v == nil {
		return nil, false, nil
	}
	return v.(*VectorRecord), true, nil
}

// readFromDisk returns (nil, nil) when the id has no index row.
func (s *DiskStore) readFromDisk(ctx context.Context, id string) (*VectorRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if err := s.guard(); err != nil {
		return nil, err
	}

	// Counted up front: a lookup that finds no row still went to the
	// index.
	s.diskReads.Add(1)

	var (
		offset   int64
		dim      int
		metaJSON string
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT offset, dimension, metadata FROM vectors WHERE id = ?`, id,
	).Scan(&offset, &dim, &metaJSON)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, core.NewStorageError("lookup", s.dir, err)
	}

	embedding, err := decodeEmbeddingAt(s.log, offset)
	if err != nil {
		return nil, core.NewStorageError("read", s.dir, err)
	}

	var metadata map[string]any
	if metaJSON != "" && metaJSON != "{}" {
		if err := json.Unmarshal([]byte(metaJSON), &metadata); err != nil {
			return nil, fmt.Errorf("unmarshal metadata: %w", err)
		}
	}

	s.cache.put(id, embedding, metadata)
	return &VectorRecord{ID: id, Embedding: embedding, Metadata: metadata}, nil
}

// SearchVectors scores every stored vector against query with the
// configured metric and returns up to k candidates with
// score >= minScore, best first. The scan is deliberately brute-force;
// hot ids are served by the accelerator tier.
func (s *DiskStore) SearchVectors(ctx context.Context, query []float64, k int, minScore float64, filter FilterFunc) ([]SearchResult, error) {
	start := time.Now()

	s.mu.RLock()
	if err := s.guard(); err != nil {
		s.mu.RUnlock()
		return nil, err
	}
	s.mu.RUnlock()

	if k < 1 {
		return nil, ErrInvalidK
	}
	if len(query) != s.cfg.Dimension {
		return nil, &DimensionError{Expected: s.cfg.Dimension, Actual: len(query)}
	}

	similarity, err := Provider(s.cfg.Metric)
	if err != nil {
		return nil, err
	}

	ids, err := s.GetAllIDs(ctx)
	if err != nil {
		return nil, err
	}

	results := make([]SearchResult, 0, len(ids))
	for _, id := range ids {
		rec, ok, err := s.GetVector(ctx, id)
		if err != nil {
			s.record("search", start, err)
			return nil, err
		}
		if !ok {
			continue
		}

		score := similarity(query, rec.Embedding)
		if score < minScore {
			continue
		}
		if filter != nil && !filter(id, rec.Metadata) {
			continue
		}
		results = append(results, SearchResult{ID: id, Score: score})
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Score > results[j].Score
	})
	if len(results) > k {
		results = results[:k]
	}

	s.searchLatency.Observe(time.Since(start))
	s.record("search", start, nil)
	return results, nil
}

// GetAllIDs lists every indexed id in insertion order.
func (s *DiskStore) GetAllIDs(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if err := s.guard(); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `SELECT id FROM vectors ORDER BY rowid`)
	if err != nil {
		return nil, core.NewStorageError("list", s.dir, err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, core.NewStorageError("list", s.dir, err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (s *DiskStore) Stats() Stats {
	hits := s.cacheHits.Load()
	misses := s.cacheMisses.Load()

	var hitRate float64
	if hits+misses > 0 {
		hitRate = float64(hits) / float64(hits+misses)
	}

	return Stats{
		TotalVectors:          s.totalVectors.Load(),
		CacheEntries:          s.cache.len(),
		CacheBytes:            s.cache.bytesUsed(),
		CacheHits:             hits,
		CacheMisses:           misses,
		DiskReads:             s.diskReads.Load(),
		CacheLRUEvictions:     s.cache.lruEvictions.Load(),
		CacheExpiredEvictions: s.cache.expiredEvictions.Load(),
		HitRate:               hitRate,
		AvgInsertLatency:      s.insertLatency.Average(),
		AvgSearchLatency:      s.searchLatency.Average(),
	}
}

// ClearCache drops every accelerator-tier entry. Disk data is untouched
// and subsequent reads repopulate the cache from the log.
func (s *DiskStore) ClearCache() {
	s.cache.clear()
}

// OptimizeCache purges TTL-expired cache entries and re-runs limit
// enforcement.
func (s *DiskStore) OptimizeCache() {
	s.cache.purgeExpired(time.Now())
}

// Close flushes and closes the log and the index and drops the cache.
// Every operation afterwards, including another Close, fails with
// core.ErrClosed.
func (s *DiskStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return core.ErrClosed
	}
	s.closed = true

	if !s.initialized {
		return nil
	}
	s.initialized = false

	var errs []error
	if err := s.log.Sync(); err != nil {
		errs = append(errs, err)
	}
	if err := s.log.Close(); err != nil {
		errs = append(errs, err)
	}
	if err := s.db.Close(); err != nil {
		errs = append(errs, err)
	}
	s.cache.clear()

	if len(errs) > 0 {
		return core.NewStorageError("close", s.dir, errors.Join(errs...))
	}
	return nil
}

func (s *DiskStore) record(op string, start time.Time, err error) {
	m := monitor.OpMetrics{
		Op:       op,
		Duration: time.Since(start),
		Success:  err == nil,
	}
	if err != nil {
		m.Error = err.Error()
	}
	s.collector.Record(m)
}
