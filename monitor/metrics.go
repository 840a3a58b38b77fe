package monitor

import "time"

// OpMetrics records a single storage operation.
type OpMetrics struct {
	Op       string        `json:"op"`
	Duration time.Duration `json:"duration"`
	Success  bool          `json:"success"`
	Error    string        `json:"error,omitempty"`
}

// OpSummary aggregates all recorded samples for one operation.
type OpSummary struct {
	Count      int           `json:"count"`
	Errors     int           `json:"errors"`
	AvgLatency time.Duration `json:"avg_latency"`
}

// Summary contains aggregated metrics for a store instance.
type Summary struct {
	TotalOps  int                  `json:"total_ops"`
	Ops       map[string]OpSummary `json:"ops"`
	StartTime time.Time            `json:"start_time"`
	EndTime   time.Time            `json:"end_time"`
}
