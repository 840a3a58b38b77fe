package monitor

import (
	"sync"
	"time"
)

// LatencyTracker maintains a running average over observed durations.
type LatencyTracker struct {
	mu    sync.Mutex
	count int64
	total time.Duration
}

func (t *LatencyTracker) Observe(d time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.count++
	t.total += d
}

// Average returns the mean observed duration, or zero when nothing
// has been observed yet.
func (t *LatencyTracker) Average() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.count == 0 {
		return 0
	}
	return t.total / time.Duration(t.count)
}

func (t *LatencyTracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.count = 0
	t.total = 0
}
