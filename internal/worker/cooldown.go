package worker

import (
	"sync"
	"time"

	"hotelcctv/internal/pipeline"
)

// cooldownTracker suppresses repeated events of the same type within period
type cooldownTracker struct {
	mu     sync.Mutex
	period time.Duration
	last   map[pipeline.EventType]time.Time
	now    func() time.Time
}

func newCooldownTracker(period time.Duration, now func() time.Time) *cooldownTracker {
	if now == nil {
		now = time.Now
	}
	return &cooldownTracker{
		period: period,
		last:   make(map[pipeline.EventType]time.Time),
		now:    now,
	}
}

// check reports whether the cooldown period has elapsed for an event type
func (c *cooldownTracker) check(t pipeline.EventType) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	last, ok := c.last[t]
	if !ok {
		return true
	}
	return c.now().Sub(last) >= c.period
}

// update records an emitted event
func (c *cooldownTracker) update(t pipeline.EventType) {
	c.mu.Lock()
	c.last[t] = c.now()
	c.mu.Unlock()
}

// remaining returns the time left before t may fire again
func (c *cooldownTracker) remaining(t pipeline.EventType) time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	last, ok := c.last[t]
	if !ok {
		return 0
	}
	return max(0, c.period-c.now().Sub(last))
}
