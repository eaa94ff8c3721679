package cache

import "sync/atomic"

// tagCounters holds the hit/miss counters for one content type.
type tagCounters struct {
	hits   atomic.Int64
	misses atomic.Int64
}

// TagStats is a point-in-time snapshot for one content type.
type TagStats struct {
	Hits      int64
	Misses    int64
	HitRate   float64
	TotalOps  int64
}

// Stats is a point-in-time snapshot of the whole cache.
type Stats struct {
	PerTag          map[ContentType]TagStats
	FastKeyCount    int
	MemoryEstimate  int64
	SlowConnected   bool
}
