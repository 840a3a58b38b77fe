package vector

import (
	"container/list"
	"sync"
	"sync/atomic"
	"time"
)

// cachedVector is an accelerator-tier entry: the embedding plus access
// bookkeeping. It is never persisted; on eviction the disk copy stays
// authoritative and reads fall back to it transparently.
//
// Metadata rides along so a cache hit can produce a full record without
// touching the auxiliary index.
type cachedVector struct {
	id           string
	embedding    []float64
	metadata     map[string]any
	lastAccessed time.Time
	accessCount  int64
}

// vectorCache is the bounded in-memory tier shadowing a subset of
// disk-resident vectors. Eviction is least-recently-used under two
// ceilings: entry count, then estimated bytes (8 bytes per component).
type vectorCache struct {
	mu         sync.Mutex
	maxEntries int
	maxBytes   int64
	ttl        time.Duration

	items     map[string]*list.Element
	evictList *list.List
	bytes     int64

	lruEvictions     atomic.Int64
	expiredEvictions atomic.Int64
}

func newVectorCache(maxEntries int, maxBytes int64, ttl time.Duration) *vectorCache {
	return &vectorCache{
		maxEntries: maxEntries,
		maxBytes:   maxBytes,
		ttl:        ttl,
		items:      make(map[string]*list.Element),
		evictList:  list.New(),
	}
}

// get returns the embedding and metadata captured under the lock. The
// replace path of put mutates entry fields in place, so handing out the
// *cachedVector itself would let a reader race a concurrent re-add.
func (c *vectorCache) get(id string) ([]float64, map[string]any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.items[id]
	if !ok {
		return nil, nil, false
	}

	c.evictList.MoveToFront(elem)
	cv := elem.Value.(*cachedVector)
	cv.lastAccessed = time.Now()
	cv.accessCount++
	return cv.embedding, cv.metadata, true
}

func (c *vectorCache) put(id string, embedding []float64, metadata map[string]any) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.items[id]; ok {
		cv := elem.Value.(*cachedVector)
		c.bytes += embeddingBytes(embedding) - embeddingBytes(cv.embedding)
		cv.embedding = embedding
		cv.metadata = metadata
		cv.lastAccessed = time.Now()
		cv.accessCount++
		c.evictList.MoveToFront(elem)
		c.enforceLimits()
		return
	}

	cv := &cachedVector{
		id:           id,
		embedding:    embedding,
		metadata:     metadata,
		lastAccessed: time.Now(),
		accessCount:  1,
	}
	c.items[id] = c.evictList.PushFront(cv)
	c.bytes += embeddingBytes(embedding)
	c.enforceLimits()
}

// enforceLimits evicts LRU entries until count <= maxEntries and
// bytes <= maxBytes. Caller holds the lock.
func (c *vectorCache) enforceLimits() {
	for c.evictList.Len() > c.maxEntries {
		if !c.evictOldest() {
			break
		}
	}
	for c.bytes > c.maxBytes {
		if !c.evictOldest() {
			break
		}
	}
}

func (c *vectorCache) evictOldest() bool {
	elem := c.evictList.Back()
	if elem == nil {
		return false
	}
	c.removeElement(elem)
	c.lruEvictions.Add(1)
	return true
}

func (c *vectorCache) removeElement(elem *list.Element) {
	cv := elem.Value.(*cachedVector)
	c.evictList.Remove(elem)
	delete(c.items, cv.id)
	c.bytes -= embeddingBytes(cv.embedding)
}

// purgeExpired drops entries idle longer than the configured TTL, then
// re-runs limit enforcement.
func (c *vectorCache) purgeExpired(now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var stale []*list.Element
	for _, elem := range c.items {
		cv := elem.Value.(*cachedVector)
		if now.Sub(cv.lastAccessed) > c.ttl {
			stale = append(stale, elem)
		}
	}
	for _, elem := range stale {
		c.removeElement(elem)
		c.expiredEvictions.Add(1)
	}

	c.enforceLimits()
}

func (c *vectorCache) clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items = make(map[string]*list.Element)
	c.evictList.Init()
	c.bytes = 0
}

func (c *vectorCache) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.evictList.Len()
}

func (c *vectorCache) bytesUsed() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.bytes
}

func embeddingBytes(embedding []float64) int64 {
	return int64(len(embedding)) * float64Size
}
