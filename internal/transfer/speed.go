package transfer

// SpeedCache maps task ID to the last reported transfer speed in bytes/sec.
// Display aid only, never authoritative. Not safe for concurrent use; the
// owning synchronizer serializes access.
type SpeedCache struct {
	speeds map[string]float64
}

// NewSpeedCache creates an empty cache.
func NewSpeedCache() *SpeedCache {
	return &SpeedCache{speeds: make(map[string]float64)}
}

// Set records the latest speed for a task.
func (c *SpeedCache) Set(taskID string, bps float64) {
	c.speeds[taskID] = bps
}

// Get returns the last speed reported for a task.
func (c *SpeedCache) Get(taskID string) (float64, bool) {
	v, ok := c.speeds[taskID]
	return v, ok
}

// Prune removes every entry whose ID is not in activeIDs and returns the
// number of entries removed.
func (c *SpeedCache) Prune(activeIDs map[string]struct{}) int {
	removed := 0
	for id := range c.speeds {
		if _, ok := activeIDs[id]; !ok {
			delete(c.speeds, id)
			removed++
		}
	}
	return removed
}

// Len returns the number of cached speeds.
func (c *SpeedCache) Len() int {
	return len(c.speeds)
}

// Keys returns the cached task IDs in no particular order.
func (c *SpeedCache) Keys() []string {
	keys := make([]string, 0, len(c.speeds))
	for id := range c.speeds {
		keys = append(keys, id)
	}
	return keys
}

// Copy returns a snapshot of the cache contents.
func (c *SpeedCache) Copy() map[string]float64 {
	dup := make(map[string]float64, len(c.speeds))
	for id, v := range c.speeds {
		dup[id] = v
	}
	return dup
}
