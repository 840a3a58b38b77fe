package vector

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/hubenschmidt/go-fusion/core"
	"github.com/hubenschmidt/go-fusion/monitor"
)

// PgVectorStore implements Store on PostgreSQL with the pgvector
// extension. The database does its own caching and indexing, so the
// accelerator-tier operations are no-ops here.
type PgVectorStore struct {
	cfg Config
	dsn string

	mu          sync.Mutex
	db          *sql.DB
	initialized bool
	closed      bool

	insertLatency monitor.LatencyTracker
	searchLatency monitor.LatencyTracker
	totalVectors  atomic.Int64
}

var _ Store = (*PgVectorStore)(nil)

// NewPgVectorStore creates a pgvector-backed store. Initialize must be
// called before use.
func NewPgVectorStore(dsn string, cfg Config) (*PgVectorStore, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &PgVectorStore{cfg: cfg, dsn: dsn}, nil
}

// Initialize connects, verifies the server is reachable, and runs the
// schema migration. It is idempotent.
func (s *PgVectorStore) Initialize(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return core.ErrClosed
	}
	if s.initialized {
		return nil
	}

	db, err := sql.Open("pgx", s.dsn)
	if err != nil {
		return core.NewStorageError("initialize", s.dsn, err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return core.NewStorageError("initialize", s.dsn, err)
	}

	migrations := []string{
		`CREATE EXTENSION IF NOT EXISTS vector`,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS vectors (
			id TEXT PRIMARY KEY,
			embedding vector(%d) NOT NULL,
			metadata JSONB DEFAULT '{}',
			created_at TIMESTAMPTZ DEFAULT NOW()
		)`, s.cfg.Dimension),
	}
	for _, m := range migrations {
		if _, err := db.ExecContext(ctx, m); err != nil {
			db.Close()
			return core.NewStorageError("migrate", s.dsn, err)
		}
	}

	var count int64
	if err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM vectors`).Scan(&count); err != nil {
		db.Close()
		return core.NewStorageError("initialize", s.dsn, err)
	}

	s.db = db
	s.totalVectors.Store(count)
	s.initialized = true
	return nil
}

func (s *PgVectorStore) guard() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return core.ErrClosed
	}
	if !s.initialized {
		return core.ErrNotInitialized
	}
	return nil
}

func (s *PgVectorStore) AddVectors(ctx context.Context, records []VectorRecord) error {
	start := time.Now()

	if err := s.guard(); err != nil {
		return err
	}

	for _, rec := range records {
		if len(rec.Embedding) != s.cfg.Dimension {
			return &DimensionError{Expected: s.cfg.Dimension, Actual: len(rec.Embedding)}
		}
	}

	for _, rec := range records {
		meta, err := json.Marshal(rec.Metadata)
		if err != nil {
			return fmt.Errorf("marshal metadata: %w", err)
		}
		if rec.Metadata == nil {
			meta = []byte("{}")
		}

		if _, err := s.db.ExecContext(ctx, `
			INSERT INTO vectors (id, embedding, metadata)
			VALUES ($1, $2, $3)
			ON CONFLICT (id) DO UPDATE SET
				embedding = EXCLUDED.embedding,
				metadata = EXCLUDED.metadata`,
			rec.ID, formatEmbedding(rec.Embedding), meta,
		); err != nil {
			return core.NewStorageError("upsert", s.dsn, err)
		}
	}

	var count int64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM vectors`).Scan(&count); err == nil {
		s.totalVectors.Store(count)
	}

	s.insertLatency.Observe(time.Since(start))
	return nil
}

func (s *PgVectorStore) GetVector(ctx context.Context, id string) (*VectorRecord, bool, error) {
	if err := s.guard(); err != nil {
		return nil, false, err
	}

	var (
		embeddingStr string
		metaBytes    []byte
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT embedding, metadata FROM vectors WHERE id = $1`, id,
	).Scan(&embeddingStr, &metaBytes)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, core.NewStorageError("lookup", s.dsn, err)
	}

	embedding, err := parseEmbedding(embeddingStr)
	if err != nil {
		return nil, false, fmt.Errorf("parse embedding: %w", err)
	}

	var metadata map[string]any
	if len(metaBytes) > 0 {
		if err := json.Unmarshal(metaBytes, &metadata); err != nil {
			return nil, false, fmt.Errorf("unmarshal metadata: %w", err)
		}
	}

	return &VectorRecord{ID: id, Embedding: embedding, Metadata: metadata}, true, nil
}

// SearchVectors pushes the similarity ranking into PostgreSQL using the
// pgvector operator matching the configured metric, then applies
// minScore and the optional filter on the way out.
func (s *PgVectorStore) SearchVectors(ctx context.Context, query []float64, k int, minScore float64, filter FilterFunc) ([]SearchResult, error) {
	start := time.Now()

	if err := s.guard(); err != nil {
		return nil, err
	}
	if k < 1 {
		return nil, ErrInvalidK
	}
	if len(query) != s.cfg.Dimension {
		return nil, &DimensionError{Expected: s.cfg.Dimension, Actual: len(query)}
	}

	var scoreExpr string
	switch s.cfg.Metric {
	case MetricCosine:
		scoreExpr = `1 - (embedding <=> $1)`
	case MetricEuclidean:
		scoreExpr = `1 / (1 + (embedding <-> $1))`
	case MetricDot:
		scoreExpr = `-(embedding <#> $1)`
	default:
		return nil, fmt.Errorf("unsupported metric: %d", s.cfg.Metric)
	}

	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT id, metadata, %s AS score
		FROM vectors
		ORDER BY score DESC`, scoreExpr),
		formatEmbedding(query),
	)
	if err != nil {
		return nil, core.NewStorageError("search", s.dsn, err)
	}
	defer rows.Close()

	var results []SearchResult
	for rows.Next() {
		var (
			id        string
			metaBytes []byte
			score     float64
		)
		if err := rows.Scan(&id, &metaBytes, &score); err != nil {
			return nil, core.NewStorageError("search", s.dsn, err)
		}
		if score < minScore {
			continue
		}
		if filter != nil {
			var metadata map[string]any
			if len(metaBytes) > 0 {
				if err := json.Unmarshal(metaBytes, &metadata); err != nil {
					return nil, fmt.Errorf("unmarshal metadata: %w", err)
				}
			}
			if !filter(id, metadata) {
				continue
			}
		}
		results = append(results, SearchResult{ID: id, Score: score})
	}
	if err := rows.Err(); err != nil {
		return nil, core.NewStorageError("search", s.dsn, err)
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Score > results[j].Score
	})
	if len(results) > k {
		results = results[:k]
	}

	s.searchLatency.Observe(time.Since(start))
	return results, nil
}

func (s *PgVectorStore) GetAllIDs(ctx context.Context) ([]string, error) {
	if err := s.guard(); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `SELECT id FROM vectors ORDER BY created_at`)
	if err != nil {
		return nil, core.NewStorageError("list", s.dsn, err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, core.NewStorageError("list", s.dsn, err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (s *PgVectorStore) Stats() Stats {
	return Stats{
		TotalVectors:     s.totalVectors.Load(),
		AvgInsertLatency: s.insertLatency.Average(),
		AvgSearchLatency: s.searchLatency.Average(),
	}
}

// ClearCache is a no-op; there is no accelerator tier in front of
// PostgreSQL.
func (s *PgVectorStore) ClearCache() {}

// OptimizeCache is a no-op; see ClearCache.
func (s *PgVectorStore) OptimizeCache() {}

func (s *PgVectorStore) Close() error {
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
	return s.db.Close()
}

// formatEmbedding renders a vector in pgvector text form: "[1,2,3]".
func formatEmbedding(embedding []float64) string {
	var b strings.Builder
	b.WriteByte('[')
	for i, v := range embedding {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(strconv.FormatFloat(v, 'g', -1, 64))
	}
	b.WriteByte(']')
	return b.String()
}

// parseEmbedding parses pgvector text form back into a vector.
func parseEmbedding(s string) ([]float64, error) {
	s = strings.TrimPrefix(s, "[")
	s = strings.TrimSuffix(s, "]")
	if s == "" {
		return nil, nil
	}

	parts := strings.Split(s, ",")
	result := make([]float64, len(parts))
	for i, p := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return nil, fmt.Errorf("component %d: %w", i, err)
		}
		result[i] = v
	}
	return result, nil
}
