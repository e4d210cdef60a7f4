package cache

import "time"

// Statistics computes the current statistics view. Counters are sampled
// under the same lock as the entry scan, so hit and miss rates always sum
// to one when any lookups have happened.
func (c *ResultCache) Statistics() Statistics {
	c.mu.RLock()
	defer c.mu.RUnlock()

	stats := Statistics{
		TotalEntries:      c.tracker.Entries(),
		TotalSize:         c.tracker.Size(),
		SizeDistribution:  make(map[string]int),
		TagDistribution:   make(map[string]int),
		ModelDistribution: make(map[string]int),
	}

	lookups := c.hits + c.misses
	if lookups > 0 {
		stats.HitRate = float64(c.hits) / float64(lookups)
		stats.MissRate = float64(c.misses) / float64(lookups)
		stats.EvictionRate = float64(c.evictions) / float64(lookups)
	}
	if c.accessOps > 0 {
		stats.AverageAccessTimeMs = float64(c.accessTime.Microseconds()) / float64(c.accessOps) / 1000
	}

	var oldest, newest time.Time
	for _, e := range c.entries {
		if oldest.IsZero() || e.CreatedAt.Before(oldest) {
			oldest = e.CreatedAt
		}
		if newest.IsZero() || e.CreatedAt.After(newest) {
			newest = e.CreatedAt
		}
		stats.SizeDistribution[sizeBucket(e.Size)]++
		for _, tag := range e.Tags {
			stats.TagDistribution[tag]++
		}
		if name := modelName(e.Metadata); name != "" {
			stats.ModelDistribution[name]++
		}
	}
	if !oldest.IsZero() {
		o := oldest
		stats.OldestEntry = &o
	}
	if !newest.IsZero() {
		n := newest
		stats.NewestEntry = &n
	}
	return stats
}

// Counters returns the raw hit, miss, and eviction counts.
func (c *ResultCache) Counters() (hits, misses, evictions uint64) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.hits, c.misses, c.evictions
}

func sizeBucket(size int64) string {
	switch {
	case size < 1024:
		return "<1KB"
	case size < 10*1024:
		return "1KB-10KB"
	case size < 100*1024:
		return "10KB-100KB"
	case size < 1024*1024:
		return "100KB-1MB"
	default:
		return ">=1MB"
	}
}
