package querycache

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/goliatone/go-query-cache/cache"
)

// Subscription is a registered observer of one query key.
type Subscription struct {
	client   *Client
	entry    *queryEntry
	onChange func(cache.Entry)
	opts     cache.QueryOptions

	closed atomic.Bool
	once   sync.Once
}

// Key returns the canonical key observed by the subscription.
func (s *Subscription) Key() cache.Key {
	if s.entry == nil {
		return ""
	}
	return s.entry.key
}

// Current returns the latest state of the observed entry.
func (s *Subscription) Current() cache.Entry {
	if s.entry == nil {
		return cache.Entry{Err: cache.ErrClosed}
	}
	s.entry.mu.Lock()
	defer s.entry.mu.Unlock()
	return s.entry.snapshotLocked()
}

// Refetch forces a fetch of the observed key, deduplicated with any fetch in
// flight.
func (s *Subscription) Refetch() error {
	if s.entry == nil || s.closed.Load() {
		return cache.ErrClosed
	}
	_, err := s.client.ensureFresh(s.entry, nil, nil, true, false)
	return err
}

// Unsubscribe removes the observer. It is safe to call more than once.
func (s *Subscription) Unsubscribe() {
	if s.entry == nil {
		return
	}
	s.once.Do(func() {
		s.closed.Store(true)
		s.client.unsubscribe(s)
	})
}

func (s *Subscription) notify(snap cache.Entry) {
	if s.closed.Load() || s.onChange == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			s.client.hooks.ObserverPanic(snap.Key, r)
			s.client.logger.Error("querycache.observer_panic", cache.Fields{
				"key":   snap.Key.String(),
				"panic": r,
			})
		}
	}()
	s.onChange(snap)
}

// subscribe registers an observer on the entry for key and triggers a fetch
// according to the mount policy.
func (c *Client) subscribe(key cache.Key, parts cache.QueryKey, fetcher cache.FetchFunc, opts cache.QueryOptions, onChange func(cache.Entry)) *Subscription {
	for {
		e := c.store.getOrCreate(key, parts, opts.GCTime)
		now := c.clock.Now()

		e.mu.Lock()
		if e.removed {
			e.mu.Unlock()
			continue
		}

		sub := &Subscription{client: c, entry: e, onChange: onChange, opts: opts}
		e.observers = append(e.observers, sub)
		e.stopGCLocked()
		if fetcher != nil {
			e.fetcher = fetcher
		}
		e.opts = opts
		if opts.GCTime > e.gcTime {
			e.gcTime = opts.GCTime
		}
		if !e.hasData && opts.InitialData != nil {
			e.setDataLocked(opts.InitialData, true)
			e.status = cache.StatusSuccess
			e.updatedAt = now
			e.staleAt = addDuration(now, opts.StaleTime)
			e.staleTime = opts.StaleTime
		}
		c.updatePollerLocked(e)

		fetch, force := mountFetch(opts, e.hasData, e.isStaleLocked(now))
		e.mu.Unlock()

		if fetch {
			if _, err := c.ensureFresh(e, nil, nil, force, false); err != nil && err != cache.ErrClosed {
				c.logger.Warn("querycache.mount_fetch", cache.Fields{"key": key.String(), "err": err.Error()})
			}
		}
		return sub
	}
}

// mountFetch decides whether subscribing fetches, and whether it forces.
func mountFetch(opts cache.QueryOptions, hasData, stale bool) (fetch, force bool) {
	if !opts.Enabled() {
		return false, false
	}
	if !hasData {
		return true, false
	}
	switch opts.RefetchOnMount {
	case cache.MountAlways:
		return true, true
	case cache.MountNever:
		return false, false
	default:
		return stale, false
	}
}

func (c *Client) unsubscribe(s *Subscription) {
	e := s.entry
	now := c.clock.Now()

	e.mu.Lock()
	for i, o := range e.observers {
		if o == s {
			e.observers = append(e.observers[:i:i], e.observers[i+1:]...)
			break
		}
	}
	c.updatePollerLocked(e)

	var run *fetchRun
	last := len(e.observers) == 0 && !e.removed
	if last {
		e.retainUntil = addDuration(now, e.gcTime)
		if !c.cfg.KeepUnobservedFetches && (e.inflight == nil || e.inflight.holders == 0) {
			run = e.abortLocked()
		}
		c.armGCLocked(e, e.gcTime)
	}
	e.mu.Unlock()

	if run != nil {
		c.finishAborted(e, run, "unobserved")
	}
}

// deliver drains the notification queue of e. Only one goroutine delivers
// for an entry at a time, so callbacks for a key never overlap and arrive in
// transition order.
func (c *Client) deliver(e *queryEntry) {
	for {
		e.mu.Lock()
		if len(e.pending) == 0 {
			e.delivering = false
			e.pending = nil
			e.mu.Unlock()
			return
		}
		snap := e.pending[0]
		e.pending[0] = cache.Entry{}
		e.pending = e.pending[1:]
		subs := make([]*Subscription, len(e.observers))
		copy(subs, e.observers)
		e.mu.Unlock()

		for _, s := range subs {
			s.notify(snap)
		}
	}
}

// poller forces periodic refetches while an entry has polling observers.
type poller struct {
	interval time.Duration
	done     chan struct{}
	once     sync.Once
}

func (p *poller) stop() {
	p.once.Do(func() { close(p.done) })
}

// updatePollerLocked runs a poller at the smallest RefetchInterval among the
// enabled observers of e, or stops it when there is none.
func (c *Client) updatePollerLocked(e *queryEntry) {
	var interval time.Duration
	for _, o := range e.observers {
		if !o.opts.Enabled() || o.opts.RefetchInterval <= 0 {
			continue
		}
		if interval == 0 || o.opts.RefetchInterval < interval {
			interval = o.opts.RefetchInterval
		}
	}

	if e.poll != nil && e.poll.interval == interval {
		return
	}
	if e.poll != nil {
		e.poll.stop()
		e.poll = nil
	}
	if interval == 0 || e.removed || c.closed.Load() {
		return
	}

	p := &poller{interval: interval, done: make(chan struct{})}
	if c.spawn(func() { c.runPoller(e, p) }) {
		e.poll = p
	}
}

func (c *Client) runPoller(e *queryEntry, p *poller) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if _, err := c.ensureFresh(e, nil, nil, true, false); err != nil {
				return
			}
		case <-p.done:
			return
		case <-c.ctx.Done():
			return
		}
	}
}
