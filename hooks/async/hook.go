// usage:
//
//	raw := loghooks.New(logger, loghooks.Options{HitEvery: 100})
//	hooks := asynchook.New(raw, 1, 1000) // 1 worker; queue 1000 events
//	defer hooks.Close()
//
//	client, _ := querycache.New(cfg, querycache.WithHooks(hooks))
package asynchook

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/goliatone/go-query-cache/cache"
)

// Hooks forwards events to inner on a fixed pool of workers. Events that do
// not fit in the queue are dropped.
type Hooks struct {
	inner cache.Hooks
	q     chan func()
	wg    sync.WaitGroup
	once  sync.Once

	mu      sync.RWMutex
	closed  bool
	dropped atomic.Uint64
}

var _ cache.Hooks = (*Hooks)(nil)

func New(inner cache.Hooks, workers, qlen int) *Hooks {
	if inner == nil {
		inner = cache.NopHooks{}
	}
	if workers <= 0 {
		workers = 1
	}
	if qlen <= 0 {
		qlen = 1024
	}

	h := &Hooks{inner: inner, q: make(chan func(), qlen)}
	h.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer h.wg.Done()
			for f := range h.q {
				f()
			}
		}()
	}
	return h
}

// Close stops accepting events and waits for queued ones to run.
func (h *Hooks) Close() {
	h.once.Do(func() {
		h.mu.Lock()
		h.closed = true
		close(h.q)
		h.mu.Unlock()
		h.wg.Wait()
	})
}

// Dropped returns how many events were discarded because the queue was full
// or the dispatcher was closed.
func (h *Hooks) Dropped() uint64 { return h.dropped.Load() }

func (h *Hooks) try(f func()) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.closed {
		h.dropped.Add(1)
		return
	}
	select {
	case h.q <- f:
	default:
		h.dropped.Add(1)
	}
}

func (h *Hooks) FetchStarted(k cache.Key, v uint64) { h.try(func() { h.inner.FetchStarted(k, v) }) }
func (h *Hooks) FetchRetry(k cache.Key, attempt int, delay time.Duration, err error) {
	h.try(func() { h.inner.FetchRetry(k, attempt, delay, err) })
}
func (h *Hooks) FetchSucceeded(k cache.Key, attempts int, elapsed time.Duration) {
	h.try(func() { h.inner.FetchSucceeded(k, attempts, elapsed) })
}
func (h *Hooks) FetchFailed(k cache.Key, attempts int, err error) {
	h.try(func() { h.inner.FetchFailed(k, attempts, err) })
}
func (h *Hooks) FetchDiscarded(k cache.Key, v uint64) { h.try(func() { h.inner.FetchDiscarded(k, v) }) }
func (h *Hooks) FetchAborted(k cache.Key, r string)   { h.try(func() { h.inner.FetchAborted(k, r) }) }
func (h *Hooks) CacheHit(k cache.Key)                 { h.try(func() { h.inner.CacheHit(k) }) }
func (h *Hooks) Evicted(k cache.Key, r string)        { h.try(func() { h.inner.Evicted(k, r) }) }
func (h *Hooks) MutationSettled(id string, err error, rolledBack int, elapsed time.Duration) {
	h.try(func() { h.inner.MutationSettled(id, err, rolledBack, elapsed) })
}
func (h *Hooks) ObserverPanic(k cache.Key, recovered any) {
	h.try(func() { h.inner.ObserverPanic(k, recovered) })
}
