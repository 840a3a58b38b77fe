package cache

import "container/heap"

// expiryIndex maps an expiry instant (unix nanos) to the set of keys
// expiring then, with a min-heap over the bucket timestamps so a sweep
// visits only elapsed buckets. Every live entry has exactly one
// membership here, at its own expiry instant.
type expiryIndex struct {
	buckets map[int64]map[string]struct{}
	heap    timestampHeap
}

func newExpiryIndex() *expiryIndex {
	return &expiryIndex{
		buckets: make(map[int64]map[string]struct{}),
	}
}

func (x *expiryIndex) add(ts int64, key string) {
	bucket, ok := x.buckets[ts]
	if !ok {
		bucket = make(map[string]struct{})
		x.buckets[ts] = bucket
		heap.Push(&x.heap, ts)
	}
	bucket[key] = struct{}{}
}

func (x *expiryIndex) remove(ts int64, key string) {
	bucket, ok := x.buckets[ts]
	if !ok {
		return
	}
	delete(bucket, key)
	if len(bucket) == 0 {
		// The timestamp stays in the heap; collectExpired skips
		// entries whose bucket is gone.
		delete(x.buckets, ts)
	}
}

// collectExpired pops every bucket with timestamp <= now and returns
// the keys it held, in ascending timestamp order.
func (x *expiryIndex) collectExpired(now int64) []string {
	var keys []string
	for x.heap.Len() > 0 && x.heap[0] <= now {
		ts := heap.Pop(&x.heap).(int64)
		bucket, ok := x.buckets[ts]
		if !ok {
			continue
		}
		for key := range bucket {
			keys = append(keys, key)
		}
		delete(x.buckets, ts)
	}
	return keys
}

type timestampHeap []int64

func (h timestampHeap) Len() int           { return len(h) }
func (h timestampHeap) Less(i, j int) bool { return h[i] < h[j] }
func (h timestampHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *timestampHeap) Push(v any)        { *h = append(*h, v.(int64)) }
func (h *timestampHeap) Pop() any {
	old := *h
	n := len(old)
	v := old[n-1]
	*h = old[:n-1]
	return v
}
