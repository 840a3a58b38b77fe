package monitor

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInMemoryCollector(t *testing.T) {
	c := NewInMemoryCollector()

	c.Record(OpMetrics{Op: "search", Duration: 10 * time.Millisecond, Success: true})
	c.Record(OpMetrics{Op: "search", Duration: 30 * time.Millisecond, Success: false, Error: "boom"})
	c.Record(OpMetrics{Op: "add_vectors", Duration: 5 * time.Millisecond, Success: true})

	summary := c.Flush()
	assert.Equal(t, 3, summary.TotalOps)

	search := summary.Ops["search"]
	require.Equal(t, 2, search.Count)
	assert.Equal(t, 1, search.Errors)
	assert.Equal(t, 20*time.Millisecond, search.AvgLatency)

	c.Reset()
	assert.Equal(t, 0, c.Flush().TotalOps)
}

func TestNoOpCollector(t *testing.T) {
	c := NewNoOpCollector()
	c.Record(OpMetrics{Op: "search", Duration: time.Second})
	assert.Equal(t, 0, c.Flush().TotalOps)
}

func TestLatencyTracker(t *testing.T) {
	var lt LatencyTracker
	assert.Equal(t, time.Duration(0), lt.Average())

	lt.Observe(10 * time.Millisecond)
	lt.Observe(20 * time.Millisecond)
	assert.Equal(t, 15*time.Millisecond, lt.Average())

	lt.Reset()
	assert.Equal(t, time.Duration(0), lt.Average())
}
