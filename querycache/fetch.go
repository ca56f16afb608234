package querycache

import (
	"context"
	"sync"
	"time"

	"github.com/goliatone/go-query-cache/cache"
)

// fetchRun is one deduplicated fetch for an entry, spanning all retry attempts.
type fetchRun struct {
	version    uint64
	prevStatus cache.Status
	ctx        context.Context
	cancel     context.CancelFunc
	started    time.Time
	// holders counts blocking readers and prefetches relying on the run.
	// A held run survives its last observer leaving. Guarded by the entry mutex.
	holders int

	done chan struct{}
	once sync.Once
	data any
	err  error
}

func (r *fetchRun) finish(data any, err error) {
	r.once.Do(func() {
		r.data = data
		r.err = err
		close(r.done)
	})
}

// wait blocks until the run settles or ctx is done.
func (r *fetchRun) wait(ctx context.Context) (any, error) {
	select {
	case <-r.done:
		return r.data, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// freshResult describes what ensureFresh did.
type freshResult struct {
	// run is the in-flight fetch, new or deduplicated; nil on a cache hit.
	run *fetchRun
	// started is true when this call issued the fetch.
	started bool
	// snapshot is the entry state when ensureFresh returned.
	snapshot cache.Entry
}

// ensureFresh starts a fetch for e unless one is in flight or the data is
// fresh and force is false. A nil fetcher reuses the last one registered on
// the entry. With hold, the returned run is pinned against unobserved aborts
// until release is called. It reports errEntryRemoved when e was evicted
// concurrently.
func (c *Client) ensureFresh(e *queryEntry, fetcher cache.FetchFunc, opts *cache.QueryOptions, force, hold bool) (freshResult, error) {
	if c.closed.Load() {
		return freshResult{}, cache.ErrClosed
	}

	now := c.clock.Now()

	e.mu.Lock()
	if e.removed {
		e.mu.Unlock()
		return freshResult{}, errEntryRemoved
	}
	if fetcher != nil {
		e.fetcher = fetcher
	}
	if opts != nil {
		e.opts = *opts
		if opts.GCTime > e.gcTime {
			e.gcTime = opts.GCTime
		}
	}
	if e.fetcher == nil {
		e.mu.Unlock()
		return freshResult{}, cache.ErrNilFetcher
	}

	if e.status == cache.StatusLoading && e.inflight != nil {
		if hold {
			e.inflight.holders++
		}
		res := freshResult{run: e.inflight, snapshot: e.snapshotLocked()}
		e.mu.Unlock()
		c.stats.dedups.Add(1)
		return res, nil
	}

	if !force && !e.isStaleLocked(now) {
		res := freshResult{snapshot: e.snapshotLocked()}
		e.mu.Unlock()
		c.stats.hits.Add(1)
		c.hooks.CacheHit(e.key)
		return res, nil
	}

	e.version++
	ctx, cancel := context.WithCancel(c.ctx)
	run := &fetchRun{
		version:    e.version,
		prevStatus: e.status,
		ctx:        ctx,
		cancel:     cancel,
		started:    now,
		done:       make(chan struct{}),
	}
	if hold {
		run.holders = 1
	}
	e.inflight = run
	e.status = cache.StatusLoading
	e.staleTime = e.opts.StaleTime

	retry := c.cfg.Retry
	if e.opts.Retry != nil {
		retry = *e.opts.Retry
	}
	fn := e.fetcher
	parts := e.parts
	res := freshResult{run: run, started: true, snapshot: e.snapshotLocked()}
	drain := e.publishLocked()
	e.mu.Unlock()

	c.stats.fetches.Add(1)
	c.hooks.FetchStarted(e.key, run.version)
	c.logger.Debug("querycache.fetch_started", cache.Fields{"key": e.key.String(), "version": run.version})
	if drain {
		c.deliver(e)
	}

	if !c.spawn(func() { c.runFetch(e, run, fn, parts, retry) }) {
		c.abort(e, "closed")
		return freshResult{}, cache.ErrClosed
	}
	return res, nil
}

// release drops a hold taken by ensureFresh. The run keeps going either way.
func (c *Client) release(e *queryEntry, run *fetchRun) {
	e.mu.Lock()
	run.holders--
	e.mu.Unlock()
}

// runFetch drives the attempts of run until it settles, is superseded or aborted.
func (c *Client) runFetch(e *queryEntry, run *fetchRun, fn cache.FetchFunc, parts cache.QueryKey, retry cache.RetryConfig) {
	defer run.cancel()

	schedule := retry.Schedule()
	attempts := 0
	for {
		attempts++
		data, err := callFetcher(run.ctx, fn, parts)
		if err == nil {
			c.settle(e, run, data, nil, attempts)
			return
		}
		if run.ctx.Err() != nil {
			run.finish(nil, cache.ErrAborted)
			return
		}
		if !retry.ShouldRetry(attempts, err) {
			c.settle(e, run, nil, err, attempts)
			return
		}
		if !c.recordFailure(e, run, attempts) {
			c.discard(e, run)
			return
		}

		delay := schedule(attempts - 1)
		c.stats.retries.Add(1)
		c.hooks.FetchRetry(e.key, attempts, delay, err)
		c.logger.Debug("querycache.fetch_retry", cache.Fields{
			"key":     e.key.String(),
			"attempt": attempts,
			"delay":   delay.String(),
			"err":     err.Error(),
		})

		timer := time.NewTimer(delay)
		select {
		case <-timer.C:
		case <-run.ctx.Done():
			timer.Stop()
			run.finish(nil, cache.ErrAborted)
			return
		}
	}
}

// callFetcher runs fn, converting a panic into a fatal error.
func callFetcher(ctx context.Context, fn cache.FetchFunc, parts cache.QueryKey) (data any, err error) {
	defer func() {
		if r := recover(); r != nil {
			data = nil
			err = cache.PanicError(r)
		}
	}()
	return fn(ctx, parts)
}

// recordFailure stores the running failure count without notifying. It
// returns false when run is no longer current.
func (c *Client) recordFailure(e *queryEntry, run *fetchRun, attempts int) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.removed || e.inflight != run {
		return false
	}
	e.failures = attempts
	return true
}

// settle applies the terminal outcome of run if it is still current.
func (c *Client) settle(e *queryEntry, run *fetchRun, data any, cause error, attempts int) {
	now := c.clock.Now()

	e.mu.Lock()
	if e.removed || e.inflight != run || e.version != run.version {
		e.mu.Unlock()
		c.discard(e, run)
		return
	}

	e.inflight = nil
	var fetchErr error
	if cause == nil {
		e.status = cache.StatusSuccess
		e.setDataLocked(data, true)
		e.err = nil
		e.updatedAt = now
		e.staleAt = addDuration(now, e.staleTime)
		e.invalidated = false
		e.failures = 0
	} else {
		fetchErr = &cache.FetchError{Key: e.key, Attempts: attempts, Err: cause}
		e.status = cache.StatusError
		e.err = fetchErr
		e.errorAt = now
		e.failures = attempts
	}
	drain := e.publishLocked()
	e.mu.Unlock()

	elapsed := now.Sub(run.started)
	if fetchErr == nil {
		run.finish(data, nil)
		c.hooks.FetchSucceeded(e.key, attempts, elapsed)
		c.logger.Debug("querycache.fetch_succeeded", cache.Fields{
			"key":      e.key.String(),
			"version":  run.version,
			"attempts": attempts,
		})
	} else {
		run.finish(nil, fetchErr)
		c.stats.fetchErrors.Add(1)
		c.hooks.FetchFailed(e.key, attempts, cause)
		c.logger.Warn("querycache.fetch_failed", cache.Fields{
			"key":      e.key.String(),
			"version":  run.version,
			"attempts": attempts,
			"err":      cause.Error(),
		})
	}

	if drain {
		c.deliver(e)
	}
}

// discard drops the outcome of a run that is no longer current.
func (c *Client) discard(e *queryEntry, run *fetchRun) {
	c.stats.discarded.Add(1)
	c.hooks.FetchDiscarded(e.key, run.version)
	run.finish(nil, cache.ErrAborted)
}

// abort cancels the in-flight fetch of e, if any, and notifies observers of
// the restored status.
func (c *Client) abort(e *queryEntry, reason string) bool {
	e.mu.Lock()
	run := e.abortLocked()
	drain := false
	if run != nil {
		drain = e.publishLocked()
	}
	e.mu.Unlock()

	if run == nil {
		return false
	}
	c.finishAborted(e, run, reason)
	if drain {
		c.deliver(e)
	}
	return true
}

func (c *Client) finishAborted(e *queryEntry, run *fetchRun, reason string) {
	run.finish(nil, cache.ErrAborted)
	c.stats.aborted.Add(1)
	c.hooks.FetchAborted(e.key, reason)
	c.logger.Debug("querycache.fetch_aborted", cache.Fields{
		"key":     e.key.String(),
		"version": run.version,
		"reason":  reason,
	})
}
