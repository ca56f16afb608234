package querycache

import (
	"time"

	"github.com/goliatone/go-query-cache/cache"
)

// armGCLocked (re)starts the eviction timer of an unobserved entry.
func (c *Client) armGCLocked(e *queryEntry, after time.Duration) {
	e.stopGCLocked()
	if e.removed || after >= cache.Infinity || c.closed.Load() {
		return
	}
	if after < 0 {
		after = 0
	}
	e.gcTimer = time.AfterFunc(after, func() { c.collect(e) })
}

// scheduleGC arms the timer for e from its current retention deadline.
func (c *Client) scheduleGC(e *queryEntry) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.observers) > 0 {
		return
	}
	c.armGCLocked(e, e.retainUntil.Sub(c.clock.Now()))
}

// collect evicts e if it is unobserved and past its retention deadline.
func (c *Client) collect(e *queryEntry) bool {
	now := c.clock.Now()
	removed, run := c.store.removeIf(e, func(e *queryEntry) bool {
		return len(e.observers) == 0 && !now.Before(e.retainUntil)
	})
	if !removed {
		return false
	}
	c.evicted(e, run, "gc")
	return true
}

// sweep collects every expired entry. It backs up the per-entry timers,
// which run on wall-clock time, and returns the number evicted.
func (c *Client) sweep() int {
	now := c.clock.Now()
	evicted := 0
	for _, e := range c.store.matching(nil) {
		e.mu.Lock()
		expired := len(e.observers) == 0 && !now.Before(e.retainUntil)
		e.mu.Unlock()
		if expired && c.collect(e) {
			evicted++
		}
	}
	return evicted
}

func (c *Client) runSweeper(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if n := c.sweep(); n > 0 {
				c.logger.Debug("querycache.gc_sweep", cache.Fields{"evicted": n})
			}
		case <-c.ctx.Done():
			return
		}
	}
}

// evict removes e regardless of observers and retention.
func (c *Client) evict(e *queryEntry, reason string) bool {
	removed, run := c.store.removeIf(e, func(*queryEntry) bool { return true })
	if !removed {
		return false
	}
	c.evicted(e, run, reason)
	return true
}

func (c *Client) evicted(e *queryEntry, run *fetchRun, reason string) {
	if run != nil {
		c.finishAborted(e, run, "evicted")
	}
	c.stats.evictions.Add(1)
	c.hooks.Evicted(e.key, reason)
	c.logger.Debug("querycache.evicted", cache.Fields{"key": e.key.String(), "reason": reason})
}
