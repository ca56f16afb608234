package querycache

import (
	"sort"
	"sync"
	"time"

	"github.com/goliatone/go-query-cache/cache"
	"github.com/puzpuzpuz/xsync/v3"
)

// queryEntry is the mutable state behind a cache key. Every field below mu is
// guarded by it. Lock order is map bucket (store.entries.Compute) before mu;
// never call into the map while holding mu.
type queryEntry struct {
	key   cache.Key
	parts cache.QueryKey

	mu sync.Mutex

	status      cache.Status
	data        any
	hasData     bool
	err         error
	updatedAt   time.Time
	errorAt     time.Time
	staleAt     time.Time
	version     uint64
	failures    int
	invalidated bool
	retainUntil time.Time
	removed     bool

	// dataRev bumps on every change of data; rollback compares against it.
	dataRev uint64

	staleTime time.Duration
	gcTime    time.Duration
	fetcher   cache.FetchFunc
	opts      cache.QueryOptions

	inflight  *fetchRun
	observers []*Subscription
	gcTimer   *time.Timer
	poll      *poller

	pending    []cache.Entry
	delivering bool
}

func (e *queryEntry) snapshotLocked() cache.Entry {
	return cache.Entry{
		Key:           e.key,
		Parts:         e.parts,
		Status:        e.status,
		Data:          e.data,
		HasData:       e.hasData,
		Err:           e.err,
		UpdatedAt:     e.updatedAt,
		ErrorAt:       e.errorAt,
		StaleAt:       e.staleAt,
		FetchVersion:  e.version,
		FailureCount:  e.failures,
		ObserverCount: len(e.observers),
		RetainUntil:   e.retainUntil,
		Invalidated:   e.invalidated,
	}
}

func (e *queryEntry) isStaleLocked(now time.Time) bool {
	if !e.hasData || e.invalidated {
		return true
	}
	return !now.Before(e.staleAt)
}

func (e *queryEntry) setDataLocked(data any, hasData bool) {
	e.data = data
	e.hasData = hasData
	e.dataRev++
}

// readData returns the data and its revision. live is false once e is removed.
func (e *queryEntry) readData() (data any, hasData bool, rev uint64, live bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.data, e.hasData, e.dataRev, !e.removed
}

// publishLocked queues the current state for observers. It returns true when
// the caller must run deliver after releasing mu.
func (e *queryEntry) publishLocked() bool {
	if len(e.observers) == 0 {
		return false
	}
	e.pending = append(e.pending, e.snapshotLocked())
	if e.delivering {
		return false
	}
	e.delivering = true
	return true
}

// abortLocked cancels the in-flight fetch and restores the status it
// replaced. The caller finishes the returned run after releasing mu.
func (e *queryEntry) abortLocked() *fetchRun {
	run := e.inflight
	if run == nil {
		return nil
	}
	e.inflight = nil
	e.status = run.prevStatus
	run.cancel()
	return run
}

func (e *queryEntry) stopGCLocked() {
	if e.gcTimer != nil {
		e.gcTimer.Stop()
		e.gcTimer = nil
	}
}

// store maps canonical keys to entries.
type store struct {
	codec     cache.KeyCodec
	clock     cache.Clock
	staleTime time.Duration
	entries   *xsync.MapOf[cache.Key, *queryEntry]

	// onCreate arms retention for entries that start without observers.
	onCreate func(e *queryEntry)
}

func newStore(codec cache.KeyCodec, clock cache.Clock, staleTime time.Duration) *store {
	return &store{
		codec:     codec,
		clock:     clock,
		staleTime: staleTime,
		entries:   xsync.NewMapOf[cache.Key, *queryEntry](),
	}
}

func (s *store) keyOf(parts cache.QueryKey) cache.Key {
	return s.codec.Canonicalize(parts)
}

// getOrCreate returns the live entry for key, creating an idle one retained
// for gcTime when absent. The returned entry may be removed concurrently;
// callers check removed under mu and retry.
func (s *store) getOrCreate(key cache.Key, parts cache.QueryKey, gcTime time.Duration) *queryEntry {
	created := false
	e, _ := s.entries.LoadOrCompute(key, func() *queryEntry {
		created = true
		return &queryEntry{
			key:         key,
			parts:       append(cache.QueryKey(nil), parts...),
			status:      cache.StatusIdle,
			staleTime:   s.staleTime,
			gcTime:      gcTime,
			retainUntil: addDuration(s.clock.Now(), gcTime),
		}
	})
	if created && s.onCreate != nil {
		s.onCreate(e)
	}
	return e
}

func (s *store) load(key cache.Key) (*queryEntry, bool) {
	return s.entries.Load(key)
}

// removeIf deletes e when it is still the entry stored under its key and
// cond, evaluated under e.mu, holds. The in-flight fetch, if any, is
// returned aborted.
func (s *store) removeIf(e *queryEntry, cond func(e *queryEntry) bool) (removed bool, run *fetchRun) {
	s.entries.Compute(e.key, func(old *queryEntry, loaded bool) (*queryEntry, bool) {
		if !loaded {
			return old, true
		}
		if old != e {
			return old, false
		}
		e.mu.Lock()
		defer e.mu.Unlock()
		if e.removed || !cond(e) {
			return old, false
		}
		e.removed = true
		e.stopGCLocked()
		if e.poll != nil {
			e.poll.stop()
			e.poll = nil
		}
		run = e.abortLocked()
		removed = true
		return old, true
	})
	return removed, run
}

// matching returns the entries whose parts satisfy pred, ordered by key.
func (s *store) matching(pred cache.Predicate) []*queryEntry {
	if pred == nil {
		pred = cache.MatchAll()
	}
	var out []*queryEntry
	s.entries.Range(func(_ cache.Key, e *queryEntry) bool {
		if pred(e.parts) {
			out = append(out, e)
		}
		return true
	})
	sort.Slice(out, func(i, j int) bool { return out[i].key < out[j].key })
	return out
}

func (s *store) size() int {
	return s.entries.Size()
}

// never is the deadline of entries that do not expire. It stays within the
// year range RFC 3339 encoders accept.
var never = time.Date(9999, 12, 31, 23, 59, 59, 0, time.UTC)

func addDuration(t time.Time, d time.Duration) time.Time {
	if d >= cache.Infinity {
		return never
	}
	return t.Add(d)
}
