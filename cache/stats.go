package cache

import "time"

// Stats exposes cache counters, split eviction causes, and running
// latency averages for the dominant operations.
type Stats struct {
	Hits             int64         `json:"hits"`
	Misses           int64         `json:"misses"`
	HitRate          float64       `json:"hit_rate"`
	Entries          int           `json:"entries"`
	MemoryBytes      int64         `json:"memory_bytes"`
	LRUEvictions     int64         `json:"lru_evictions"`
	ExpiredEvictions int64         `json:"expired_evictions"`
	AvgGetLatency    time.Duration `json:"avg_get_latency"`
	AvgSetLatency    time.Duration `json:"avg_set_latency"`
}
