package monitor

import (
	"sync"
	"time"
)

type Collector interface {
	Record(m OpMetrics)
	Flush() Summary
}

type opAggregate struct {
	count  int
	errors int
	total  time.Duration
}

type InMemoryCollector struct {
	mu        sync.RWMutex
	ops       map[string]*opAggregate
	startTime time.Time
}

func NewInMemoryCollector() *InMemoryCollector {
	return &InMemoryCollector{
		ops:       make(map[string]*opAggregate),
		startTime: time.Now(),
	}
}

func (c *InMemoryCollector) Record(m OpMetrics) {
	c.mu.Lock()
	defer c.mu.Unlock()

	agg, ok := c.ops[m.Op]
	if !ok {
		agg = &opAggregate{}
		c.ops[m.Op] = agg
	}
	agg.count++
	agg.total += m.Duration
	if !m.Success {
		agg.errors++
	}
}

func (c *InMemoryCollector) Flush() Summary {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var total int
	ops := make(map[string]OpSummary, len(c.ops))
	for name, agg := range c.ops {
		total += agg.count
		avg := time.Duration(0)
		if agg.count > 0 {
			avg = agg.total / time.Duration(agg.count)
		}
		ops[name] = OpSummary{
			Count:      agg.count,
			Errors:     agg.errors,
			AvgLatency: avg,
		}
	}

	return Summary{
		TotalOps:  total,
		Ops:       ops,
		StartTime: c.startTime,
		EndTime:   time.Now(),
	}
}

func (c *InMemoryCollector) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ops = make(map[string]*opAggregate)
	c.startTime = time.Now()
}

type NoOpCollector struct{}

func NewNoOpCollector() *NoOpCollector {
	return &NoOpCollector{}
}

func (c *NoOpCollector) Record(m OpMetrics) {}

func (c *NoOpCollector) Flush() Summary {
	return Summary{}
}
