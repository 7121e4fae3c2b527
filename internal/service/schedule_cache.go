package service

import (
	"sync"
	"time"
)

// ScheduleCache remembers when the reminder store next needs to be queried.
// Every Reset bumps a generation so a poll that started before the reset
// cannot overwrite it with a stale instant.
type ScheduleCache struct {
	mu   sync.Mutex
	next time.Time
	set  bool
	gen  uint64
}

func NewScheduleCache() *ScheduleCache {
	return &ScheduleCache{}
}

// Snapshot returns the cached instant, whether one is set, and the current generation.
func (c *ScheduleCache) Snapshot() (time.Time, bool, uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.next, c.set, c.gen
}

// NextCheckAt returns the cached instant if one is set.
func (c *ScheduleCache) NextCheckAt() (time.Time, bool) {
	next, ok, _ := c.Snapshot()
	return next, ok
}

// SetIf stores next unless the cache was reset after gen was observed.
func (c *ScheduleCache) SetIf(gen uint64, next time.Time) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.gen != gen {
		return false
	}
	c.next = next
	c.set = true
	return true
}

// Reset clears the cached instant so the next poll queries the store.
func (c *ScheduleCache) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.next = time.Time{}
	c.set = false
	c.gen++
}
