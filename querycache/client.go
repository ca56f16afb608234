package querycache

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/cockroachdb/errors"
	"github.com/goliatone/go-query-cache/cache"
	"github.com/goliatone/go-query-cache/codec"
	"golang.org/x/sync/errgroup"
)

var errEntryRemoved = errors.New("entry removed")

// Client is a query cache instance. Construct it with New; the zero value is
// not usable. All methods are safe for concurrent use.
type Client struct {
	cfg    cache.Config
	clock  cache.Clock
	logger cache.Logger
	hooks  cache.Hooks
	codec  cache.Codec

	store *store
	stats counters

	mutating atomic.Int64

	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	life      sync.RWMutex
	closed    atomic.Bool
	closeOnce sync.Once
}

type settings struct {
	logger   cache.Logger
	hooks    cache.Hooks
	clock    cache.Clock
	keyCodec cache.KeyCodec
	codec    cache.Codec
}

// Option configures the runtime collaborators of a Client.
type Option func(*settings)

// WithLogger sets the logger. Defaults to cache.NopLogger.
func WithLogger(l cache.Logger) Option {
	return func(s *settings) { s.logger = l }
}

// WithHooks sets the event hooks. Defaults to cache.NopHooks.
func WithHooks(h cache.Hooks) Option {
	return func(s *settings) { s.hooks = h }
}

// WithClock sets the clock used for staleness and retention. Defaults to
// cache.SystemClock.
func WithClock(c cache.Clock) Option {
	return func(s *settings) { s.clock = c }
}

// WithKeyCodec replaces the key canonicalization.
func WithKeyCodec(k cache.KeyCodec) Option {
	return func(s *settings) { s.keyCodec = k }
}

// WithCodec sets the codec used by Dehydrate and Hydrate. Defaults to msgpack.
func WithCodec(c cache.Codec) Option {
	return func(s *settings) { s.codec = c }
}

// New validates cfg, with every zero field defaulted, and returns a running
// client. Call Close to release its background goroutines.
func New(cfg cache.Config, opts ...Option) (*Client, error) {
	cfg = cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid query cache config")
	}

	s := settings{
		logger:   cache.NopLogger{},
		hooks:    cache.NopHooks{},
		clock:    cache.SystemClock(),
		keyCodec: cache.NewDefaultKeyCodec(),
		codec:    codec.Msgpack{},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&s)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &Client{
		cfg:    cfg,
		clock:  s.clock,
		logger: s.logger,
		hooks:  s.hooks,
		codec:  s.codec,
		store:  newStore(s.keyCodec, s.clock, cfg.StaleTime),
		ctx:    ctx,
		cancel: cancel,
	}
	c.store.onCreate = func(e *queryEntry) {
		e.mu.Lock()
		defer e.mu.Unlock()
		if len(e.observers) == 0 {
			c.armGCLocked(e, e.gcTime)
		}
	}

	c.spawn(func() { c.runSweeper(cfg.GCInterval) })

	c.logger.Debug("querycache.started", cache.Fields{
		"stale_time":  cfg.StaleTime.String(),
		"gc_time":     cfg.GCTime.String(),
		"gc_interval": cfg.GCInterval.String(),
		"max_retries": cfg.Retry.MaxRetries,
	})
	return c, nil
}

// Config returns the effective configuration.
func (c *Client) Config() cache.Config { return c.cfg }

// KeyOf returns the canonical key for parts.
func (c *Client) KeyOf(parts cache.QueryKey) cache.Key { return c.store.keyOf(parts) }

// Query subscribes onChange to the entry for parts and fetches it according
// to opts. onChange receives every state transition of the entry, in order,
// never concurrently with itself. It may be nil when only Current is used.
func (c *Client) Query(parts cache.QueryKey, fetcher cache.FetchFunc, opts cache.QueryOptions, onChange func(cache.Entry)) *Subscription {
	if c.closed.Load() {
		return &Subscription{client: c}
	}
	resolved := c.cfg.Apply(opts)
	return c.subscribe(c.store.keyOf(parts), parts, fetcher, resolved, onChange)
}

// Fetch returns data for parts, fetching it when absent or stale. It blocks
// until the deduplicated fetch settles or ctx is done; cancelling ctx stops
// the wait, not the fetch.
func (c *Client) Fetch(ctx context.Context, parts cache.QueryKey, fetcher cache.FetchFunc, opts cache.QueryOptions) (any, error) {
	if fetcher == nil {
		return nil, cache.ErrNilFetcher
	}
	resolved := c.cfg.Apply(opts)
	key := c.store.keyOf(parts)

	for {
		if c.closed.Load() {
			return nil, cache.ErrClosed
		}
		e := c.store.getOrCreate(key, parts, resolved.GCTime)
		res, err := c.ensureFresh(e, fetcher, &resolved, false, true)
		if errors.Is(err, errEntryRemoved) {
			continue
		}
		if err != nil {
			return nil, err
		}
		if res.run == nil {
			return res.snapshot.Data, nil
		}
		defer c.release(e, res.run)
		return res.run.wait(ctx)
	}
}

// Prefetch warms the entry for parts without observing it. The entry is
// retained for GCTime from its creation unless an observer arrives.
func (c *Client) Prefetch(parts cache.QueryKey, fetcher cache.FetchFunc, opts cache.QueryOptions) error {
	if fetcher == nil {
		return cache.ErrNilFetcher
	}
	resolved := c.cfg.Apply(opts)
	key := c.store.keyOf(parts)

	for {
		if c.closed.Load() {
			return cache.ErrClosed
		}
		e := c.store.getOrCreate(key, parts, resolved.GCTime)
		// The hold is never released: a prefetch outlives observers that come and go.
		_, err := c.ensureFresh(e, fetcher, &resolved, false, true)
		if errors.Is(err, errEntryRemoved) {
			continue
		}
		return err
	}
}

// Invalidate marks matching entries stale and refetches the observed ones.
// With Evict, matching entries are removed instead. It returns the number of
// entries matched.
func (c *Client) Invalidate(pred cache.Predicate, opts cache.InvalidateOptions) int {
	if c.closed.Load() {
		return 0
	}
	matched := c.store.matching(pred)
	if opts.Evict {
		n := 0
		for _, e := range matched {
			if c.evict(e, "invalidate") {
				n++
			}
		}
		return n
	}

	now := c.clock.Now()
	var refetch []*queryEntry
	n := 0
	for _, e := range matched {
		e.mu.Lock()
		if e.removed {
			e.mu.Unlock()
			continue
		}
		n++
		e.invalidated = true
		if e.hasData && now.Before(e.staleAt) {
			e.staleAt = now
		}
		if !opts.SkipRefetch && hasEnabledObserver(e) {
			refetch = append(refetch, e)
		}
		e.mu.Unlock()
	}

	for _, e := range refetch {
		if _, err := c.ensureFresh(e, nil, nil, true, false); err != nil && !errors.Is(err, errEntryRemoved) {
			c.logger.Warn("querycache.invalidate_refetch", cache.Fields{"key": e.key.String(), "err": err.Error()})
		}
	}
	c.logger.Debug("querycache.invalidated", cache.Fields{"matched": n, "refetched": len(refetch)})
	return n
}

func hasEnabledObserver(e *queryEntry) bool {
	for _, o := range e.observers {
		if o.opts.Enabled() {
			return true
		}
	}
	return false
}

// Refetch forces a fetch of every matching entry that has a fetcher and
// waits for all of them. It returns the first fetch error.
func (c *Client) Refetch(ctx context.Context, pred cache.Predicate) error {
	if c.closed.Load() {
		return cache.ErrClosed
	}
	g, gctx := errgroup.WithContext(ctx)
	for _, e := range c.store.matching(pred) {
		e.mu.Lock()
		runnable := !e.removed && e.fetcher != nil
		e.mu.Unlock()
		if !runnable {
			continue
		}
		g.Go(func() error {
			res, err := c.ensureFresh(e, nil, nil, true, true)
			if errors.Is(err, errEntryRemoved) {
				return nil
			}
			if err != nil || res.run == nil {
				return err
			}
			defer c.release(e, res.run)
			_, err = res.run.wait(gctx)
			return err
		})
	}
	return g.Wait()
}

// Cancel aborts in-flight fetches of matching entries, restoring the status
// each had before the fetch. It returns the number aborted.
func (c *Client) Cancel(pred cache.Predicate) int {
	n := 0
	for _, e := range c.store.matching(pred) {
		if c.abort(e, "cancel") {
			n++
		}
	}
	return n
}

// SetQueryData writes data computed by updater into the entry for parts,
// creating it when absent, and notifies observers. updater runs without locks
// and is called again if the data changed underneath it. In-flight fetches are
// left running and overwrite the value when they settle.
func (c *Client) SetQueryData(parts cache.QueryKey, updater cache.Updater) cache.Entry {
	key := c.store.keyOf(parts)
	for {
		e := c.store.getOrCreate(key, parts, c.cfg.GCTime)
		current, hasData, rev, live := e.readData()
		if !live {
			continue
		}
		next := updater(current, hasData)
		now := c.clock.Now()

		e.mu.Lock()
		if e.removed || e.dataRev != rev {
			e.mu.Unlock()
			continue
		}
		e.setDataLocked(next, true)
		if e.status != cache.StatusLoading {
			e.status = cache.StatusSuccess
			e.err = nil
		}
		e.updatedAt = now
		e.staleAt = addDuration(now, e.staleTime)
		e.invalidated = false
		snap := e.snapshotLocked()
		drain := e.publishLocked()
		e.mu.Unlock()

		if drain {
			c.deliver(e)
		}
		return snap
	}
}

// GetQueryData returns the cached data for parts without fetching.
func (c *Client) GetQueryData(parts cache.QueryKey) (any, bool) {
	e, ok := c.store.load(c.store.keyOf(parts))
	if !ok {
		return nil, false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.removed {
		return nil, false
	}
	return e.data, e.hasData
}

// Peek returns a snapshot of the entry for parts without creating it.
func (c *Client) Peek(parts cache.QueryKey) (cache.Entry, bool) {
	e, ok := c.store.load(c.store.keyOf(parts))
	if !ok {
		return cache.Entry{}, false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.removed {
		return cache.Entry{}, false
	}
	return e.snapshotLocked(), true
}

// Entries returns snapshots of matching entries ordered by key.
func (c *Client) Entries(pred cache.Predicate) []cache.Entry {
	matched := c.store.matching(pred)
	out := make([]cache.Entry, 0, len(matched))
	for _, e := range matched {
		e.mu.Lock()
		if !e.removed {
			out = append(out, e.snapshotLocked())
		}
		e.mu.Unlock()
	}
	return out
}

// Remove evicts the entry for parts, aborting its fetch. Observers stay
// attached to the removed entry and receive no further updates.
func (c *Client) Remove(parts cache.QueryKey) bool {
	e, ok := c.store.load(c.store.keyOf(parts))
	if !ok {
		return false
	}
	return c.evict(e, "remove")
}

// IsFetching returns the number of entries with a fetch in flight.
func (c *Client) IsFetching() int {
	n := 0
	c.store.entries.Range(func(_ cache.Key, e *queryEntry) bool {
		e.mu.Lock()
		if e.status == cache.StatusLoading && !e.removed {
			n++
		}
		e.mu.Unlock()
		return true
	})
	return n
}

// IsMutating returns the number of mutations in progress.
func (c *Client) IsMutating() int {
	return int(c.mutating.Load())
}

// Stats returns a snapshot of the client counters.
func (c *Client) Stats() cache.Stats {
	st := c.stats.snapshot()
	c.store.entries.Range(func(_ cache.Key, e *queryEntry) bool {
		e.mu.Lock()
		if !e.removed {
			st.Entries++
			st.Observers += len(e.observers)
			if e.status == cache.StatusLoading {
				st.Fetching++
			}
		}
		e.mu.Unlock()
		return true
	})
	st.Mutating = c.IsMutating()
	return st
}

// Close stops background work: the sweeper, GC timers, pollers and every
// in-flight fetch. It waits for fetch goroutines to return until ctx is done.
// Entries stay readable after Close.
func (c *Client) Close(ctx context.Context) error {
	c.closeOnce.Do(func() {
		c.life.Lock()
		c.closed.Store(true)
		c.life.Unlock()
		for _, e := range c.store.matching(nil) {
			e.mu.Lock()
			e.stopGCLocked()
			if e.poll != nil {
				e.poll.stop()
				e.poll = nil
			}
			run := e.abortLocked()
			e.mu.Unlock()
			if run != nil {
				c.finishAborted(e, run, "closed")
			}
		}
		c.cancel()
		c.logger.Debug("querycache.closed", nil)
	})

	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return errors.Wrap(ctx.Err(), "waiting for query cache shutdown")
	}
}

// spawn runs f on a goroutine tracked by Close. It returns false once the
// client is closed.
func (c *Client) spawn(f func()) bool {
	c.life.RLock()
	defer c.life.RUnlock()
	if c.closed.Load() {
		return false
	}
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		f()
	}()
	return true
}

type counters struct {
	hits           atomic.Uint64
	dedups         atomic.Uint64
	fetches        atomic.Uint64
	fetchErrors    atomic.Uint64
	retries        atomic.Uint64
	discarded      atomic.Uint64
	aborted        atomic.Uint64
	evictions      atomic.Uint64
	mutations      atomic.Uint64
	mutationErrors atomic.Uint64
	rollbacks      atomic.Uint64
}

func (m *counters) snapshot() cache.Stats {
	return cache.Stats{
		Hits:           m.hits.Load(),
		Deduplicated:   m.dedups.Load(),
		Fetches:        m.fetches.Load(),
		FetchErrors:    m.fetchErrors.Load(),
		Retries:        m.retries.Load(),
		Discarded:      m.discarded.Load(),
		Aborted:        m.aborted.Load(),
		Evictions:      m.evictions.Load(),
		Mutations:      m.mutations.Load(),
		MutationErrors: m.mutationErrors.Load(),
		Rollbacks:      m.rollbacks.Load(),
	}
}
