// Package cache provides a generic, TTL- and memory-bounded key/value
// cache for memoizing computed artifacts. It is an optimization layer:
// unexpected faults inside Get/Set degrade to a miss or a no-op instead
// of reaching the caller.
package cache

import (
	"container/list"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hubenschmidt/go-fusion/core"
	"github.com/hubenschmidt/go-fusion/monitor"
)

// Entry is a cached value with its lifecycle bookkeeping.
type Entry[T any] struct {
	Key          string
	Data         T
	CreatedAt    time.Time
	ExpiresAt    time.Time
	LastAccessed time.Time
	AccessCount  int64
	Metadata     map[string]any
}

// Expired reports whether the entry's TTL has elapsed at now.
func (e *Entry[T]) Expired(now time.Time) bool {
	return now.After(e.ExpiresAt)
}

// Config holds construction-time cache settings.
type Config struct {
	MaxEntries      int
	MaxMemoryMB     int
	DefaultTTL      time.Duration
	CleanupInterval time.Duration
	Logger          *slog.Logger
}

func DefaultConfig() Config {
	return Config{
		MaxEntries:      1000,
		MaxMemoryMB:     32,
		DefaultTTL:      5 * time.Minute,
		CleanupInterval: time.Minute,
	}
}

func (c Config) WithLimits(maxEntries, maxMemoryMB int) Config {
	c.MaxEntries = maxEntries
	c.MaxMemoryMB = maxMemoryMB
	return c
}

func (c Config) WithDefaultTTL(ttl time.Duration) Config {
	c.DefaultTTL = ttl
	return c
}

func (c Config) WithCleanupInterval(d time.Duration) Config {
	c.CleanupInterval = d
	return c
}

func (c Config) WithLogger(l *slog.Logger) Config {
	c.Logger = l
	return c
}

func (c Config) Validate() error {
	if c.MaxEntries <= 0 {
		return fmt.Errorf("%w: max entries must be positive, got %d", core.ErrInvalidConfig, c.MaxEntries)
	}
	if c.MaxMemoryMB <= 0 {
		return fmt.Errorf("%w: max memory must be positive, got %d MB", core.ErrInvalidConfig, c.MaxMemoryMB)
	}
	if c.DefaultTTL <= 0 {
		return fmt.Errorf("%w: default TTL must be positive, got %v", core.ErrInvalidConfig, c.DefaultTTL)
	}
	if c.CleanupInterval <= 0 {
		return fmt.Errorf("%w: cleanup interval must be positive, got %v", core.ErrInvalidConfig, c.CleanupInterval)
	}
	return nil
}

// evictionCause distinguishes the counters an eviction feeds.
type evictionCause int

const (
	causeReplace evictionCause = iota
	causeLRU
	causeExpiry
	causeRemove
)

// cacheItem wraps an entry with the bookkeeping the cache needs to
// undo its admission: the estimated size and the expiry bucket it is
// registered under.
type cacheItem[T any] struct {
	entry     *Entry[T]
	size      int64
	expiryKey int64
}

// Cache memoizes values of type T behind string keys with per-entry
// TTL, an LRU recency ordering, and dual resident ceilings (entry
// count and estimated bytes). One instance per memoized artifact kind;
// there are no ambient singletons.
type Cache[T any] struct {
	cfg      Config
	maxBytes int64
	logger   *slog.Logger

	mu       sync.Mutex
	entries  map[string]*list.Element
	lruList  *list.List
	expiry   *expiryIndex
	memBytes int64
	disposed bool

	ticker *time.Ticker
	done   chan struct{}
	// sweeping guards against a sweep tick overlapping a slow
	// predecessor.
	sweeping atomic.Bool

	hits             atomic.Int64
	misses           atomic.Int64
	lruEvictions     atomic.Int64
	expiredEvictions atomic.Int64
	getLatency       monitor.LatencyTracker
	setLatency       monitor.LatencyTracker
}

// New creates a cache and starts its periodic expiry sweep. Dispose
// must be called to stop the sweeper.
func New[T any](cfg Config) (*Cache[T], error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	c := &Cache[T]{
		cfg:      cfg,
		maxBytes: int64(cfg.MaxMemoryMB) * 1024 * 1024,
		logger:   logger,
		entries:  make(map[string]*list.Element),
		lruList:  list.New(),
		expiry:   newExpiryIndex(),
		ticker:   time.NewTicker(cfg.CleanupInterval),
		done:     make(chan struct{}),
	}

	go c.sweepLoop()
	return c, nil
}

// SetOption customizes a single Set call.
type SetOption func(*setOptions)

type setOptions struct {
	ttl      time.Duration
	metadata map[string]any
}

// WithTTL overrides the default TTL for this entry.
func WithTTL(ttl time.Duration) SetOption {
	return func(o *setOptions) { o.ttl = ttl }
}

// WithMetadata attaches free-form metadata to the entry.
func WithMetadata(metadata map[string]any) SetOption {
	return func(o *setOptions) { o.metadata = metadata }
}

// Get returns the value for key, promoting it to most-recently-used.
// An expired entry is evicted on sight and reported as a miss.
func (c *Cache[T]) Get(key string) (value T, ok bool) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("cache get recovered", "key", key, "panic", r)
			var zero T
			value, ok = zero, false
		}
		c.getLatency.Observe(time.Since(start))
	}()

	c.mu.Lock()
	defer c.mu.Unlock()

	elem, present := c.entries[key]
	if !present {
		c.misses.Add(1)
		var zero T
		return zero, false
	}

	item := elem.Value.(*cacheItem[T])
	if item.entry.Expired(time.Now()) {
		c.removeLocked(elem, causeExpiry)
		c.misses.Add(1)
		var zero T
		return zero, false
	}

	c.lruList.MoveToFront(elem)
	item.entry.LastAccessed = time.Now()
	item.entry.AccessCount++
	c.hits.Add(1)
	return item.entry.Data, true
}

// Set stores value under key, replacing any prior entry wholesale, and
// then enforces the resident ceilings. Faults are logged and swallowed.
func (c *Cache[T]) Set(key string, value T, opts ...SetOption) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("cache set recovered", "key", key, "panic", r)
		}
		c.setLatency.Observe(time.Since(start))
	}()

	o := setOptions{ttl: c.cfg.DefaultTTL}
	for _, opt := range opts {
		opt(&o)
	}
	if o.ttl <= 0 {
		o.ttl = c.cfg.DefaultTTL
	}

	size := EstimateSize(value) + entryOverheadBytes

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.disposed {
		return
	}

	if elem, present := c.entries[key]; present {
		c.removeLocked(elem, causeReplace)
	}

	now := time.Now()
	entry := &Entry[T]{
		Key:          key,
		Data:         value,
		CreatedAt:    now,
		ExpiresAt:    now.Add(o.ttl),
		LastAccessed: now,
		Metadata:     o.metadata,
	}
	item := &cacheItem[T]{
		entry:     entry,
		size:      size,
		expiryKey: entry.ExpiresAt.UnixNano(),
	}

	c.entries[key] = c.lruList.PushFront(item)
	c.expiry.add(item.expiryKey, key)
	c.memBytes += size

	c.enforceLimitsLocked()
}

// GetEntry returns a copy of the live entry for key, including its
// bookkeeping, without promoting it or touching the hit/miss counters.
// An expired entry is evicted on sight.
func (c *Cache[T]) GetEntry(key string) (Entry[T], bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	elem, present := c.entries[key]
	if !present {
		var zero Entry[T]
		return zero, false
	}

	item := elem.Value.(*cacheItem[T])
	if item.entry.Expired(time.Now()) {
		c.removeLocked(elem, causeExpiry)
		var zero Entry[T]
		return zero, false
	}
	return *item.entry, true
}

// Remove deletes key and reports whether it was resident.
func (c *Cache[T]) Remove(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	elem, present := c.entries[key]
	if !present {
		return false
	}
	c.removeLocked(elem, causeRemove)
	return true
}

// Contains reports whether key is resident and live. An expired entry
// is evicted on sight and reported absent.
func (c *Cache[T]) Contains(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	elem, present := c.entries[key]
	if !present {
		return false
	}
	if elem.Value.(*cacheItem[T]).entry.Expired(time.Now()) {
		c.removeLocked(elem, causeExpiry)
		return false
	}
	return true
}

// Clear drops every entry. Counters are preserved.
func (c *Cache[T]) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries = make(map[string]*list.Element)
	c.lruList.Init()
	c.expiry = newExpiryIndex()
	c.memBytes = 0
}

// Keys lists the resident keys in no particular order.
func (c *Cache[T]) Keys() []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	keys := make([]string, 0, len(c.entries))
	for key := range c.entries {
		keys = append(keys, key)
	}
	return keys
}

// UpdateMetadata replaces the metadata of a live entry.
func (c *Cache[T]) UpdateMetadata(key string, metadata map[string]any) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	elem, present := c.entries[key]
	if !present {
		return false
	}
	elem.Value.(*cacheItem[T]).entry.Metadata = metadata
	return true
}

// ExtendTTL pushes the entry's expiry out by extra, re-registering it
// in the expiry index (remove then reinsert, never mutated in place).
func (c *Cache[T]) ExtendTTL(key string, extra time.Duration) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	elem, present := c.entries[key]
	if !present {
		return false
	}

	item := elem.Value.(*cacheItem[T])
	c.expiry.remove(item.expiryKey, key)
	item.entry.ExpiresAt = item.entry.ExpiresAt.Add(extra)
	item.expiryKey = item.entry.ExpiresAt.UnixNano()
	c.expiry.add(item.expiryKey, key)
	return true
}

// Stats returns counters and running latency averages.
func (c *Cache[T]) Stats() Stats {
	c.mu.Lock()
	entries := len(c.entries)
	memBytes := c.memBytes
	c.mu.Unlock()

	hits := c.hits.Load()
	misses := c.misses.Load()

	var hitRate float64
	if hits+misses > 0 {
		hitRate = float64(hits) / float64(hits+misses)
	}

	return Stats{
		Hits:             hits,
		Misses:           misses,
		HitRate:          hitRate,
		Entries:          entries,
		MemoryBytes:      memBytes,
		LRUEvictions:     c.lruEvictions.Load(),
		ExpiredEvictions: c.expiredEvictions.Load(),
		AvgGetLatency:    c.getLatency.Average(),
		AvgSetLatency:    c.setLatency.Average(),
	}
}

// Dispose stops the sweeper and drops every entry. The cache stays
// usable as a pass-through: Get misses, Set no-ops.
func (c *Cache[T]) Dispose() {
	c.mu.Lock()
	if c.disposed {
		c.mu.Unlock()
		return
	}
	c.disposed = true
	c.entries = make(map[string]*list.Element)
	c.lruList.Init()
	c.expiry = newExpiryIndex()
	c.memBytes = 0
	c.mu.Unlock()

	c.ticker.Stop()
	close(c.done)
}

// removeLocked detaches elem from the main map, the recency list, and
// the expiry index, crediting the counter matching cause. Caller holds
// the lock.
func (c *Cache[T]) removeLocked(elem *list.Element, cause evictionCause) {
	item := elem.Value.(*cacheItem[T])
	c.lruList.Remove(elem)
	delete(c.entries, item.entry.Key)
	c.expiry.remove(item.expiryKey, item.entry.Key)
	c.memBytes -= item.size

	switch cause {
	case causeLRU:
		c.lruEvictions.Add(1)
	case causeExpiry:
		c.expiredEvictions.Add(1)
	}
}

// memoryTargetRatio is the hysteresis margin: once the byte ceiling is
// crossed, eviction continues down to this fraction of it so steady
// insert pressure does not thrash.
const memoryTargetRatio = 0.7

func (c *Cache[T]) enforceLimitsLocked() {
	for c.lruList.Len() > c.cfg.MaxEntries {
		if !c.evictOldestLocked() {
			break
		}
	}

	if c.memBytes > c.maxBytes {
		target := int64(float64(c.maxBytes) * memoryTargetRatio)
		for c.memBytes > target {
			if !c.evictOldestLocked() {
				break
			}
		}
	}
}

func (c *Cache[T]) evictOldestLocked() bool {
	elem := c.lruList.Back()
	if elem == nil {
		return false
	}
	c.removeLocked(elem, causeLRU)
	return true
}

func (c *Cache[T]) sweepLoop() {
	for {
		select {
		case <-c.done:
			return
		case <-c.ticker.C:
			if !c.sweeping.CompareAndSwap(false, true) {
				continue
			}
			c.sweep(time.Now())
			c.sweeping.Store(false)
		}
	}
}

// sweep removes every entry whose expiry elapsed at or before now,
// walking the expiry index in ascending timestamp order so the cost is
// proportional to the number of actually-expired entries.
func (c *Cache[T]) sweep(now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()

	keys := c.expiry.collectExpired(now.UnixNano())
	for _, key := range keys {
		if elem, present := c.entries[key]; present {
			c.removeLocked(elem, causeExpiry)
		}
	}

	if len(keys) > 0 {
		c.logger.Debug("expiry sweep", "removed", len(keys))
	}
}
