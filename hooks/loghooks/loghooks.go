package loghooks

import (
	"strconv"
	"sync/atomic"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/goliatone/go-query-cache/cache"
	"github.com/rs/zerolog"
)

type Options struct {
	// Sampling to avoid floods; 0/1 = log all.
	HitEvery     uint64
	StartedEvery uint64
	RetryEvery   uint64
	// Optional key redactor. Defaults to a hex xxhash of the key.
	Redact func(string) string
	// PlainKeys logs keys verbatim and ignores Redact.
	PlainKeys bool
}

// Hooks writes cache events to a zerolog.Logger.
type Hooks struct {
	l    zerolog.Logger
	opts Options

	hitCtr     atomic.Uint64
	startedCtr atomic.Uint64
	retryCtr   atomic.Uint64
}

var _ cache.Hooks = (*Hooks)(nil)

func New(l zerolog.Logger, opts Options) *Hooks {
	return &Hooks{l: l, opts: opts}
}

func (h *Hooks) key(k cache.Key) string {
	switch {
	case h.opts.PlainKeys:
		return k.String()
	case h.opts.Redact != nil:
		return h.opts.Redact(k.String())
	default:
		return strconv.FormatUint(xxhash.Sum64String(k.String()), 16)
	}
}

func sample(n uint64, ctr *atomic.Uint64) bool {
	if n == 0 || n == 1 {
		return true
	}
	return ctr.Add(1)%n == 0
}

func (h *Hooks) FetchStarted(k cache.Key, version uint64) {
	if !sample(h.opts.StartedEvery, &h.startedCtr) {
		return
	}
	h.l.Debug().
		Str("key", h.key(k)).
		Uint64("version", version).
		Msg("querycache.fetch_started")
}

func (h *Hooks) FetchRetry(k cache.Key, attempt int, delay time.Duration, err error) {
	if !sample(h.opts.RetryEvery, &h.retryCtr) {
		return
	}
	h.l.Info().
		Str("key", h.key(k)).
		Int("attempt", attempt).
		Dur("delay", delay).
		Err(err).
		Msg("querycache.fetch_retry")
}

func (h *Hooks) FetchSucceeded(k cache.Key, attempts int, elapsed time.Duration) {
	h.l.Debug().
		Str("key", h.key(k)).
		Int("attempts", attempts).
		Dur("elapsed", elapsed).
		Msg("querycache.fetch_succeeded")
}

func (h *Hooks) FetchFailed(k cache.Key, attempts int, err error) {
	h.l.Warn().
		Str("key", h.key(k)).
		Int("attempts", attempts).
		Err(err).
		Msg("querycache.fetch_failed")
}

func (h *Hooks) FetchDiscarded(k cache.Key, version uint64) {
	h.l.Debug().
		Str("key", h.key(k)).
		Uint64("version", version).
		Msg("querycache.fetch_discarded")
}

func (h *Hooks) FetchAborted(k cache.Key, reason string) {
	h.l.Debug().
		Str("key", h.key(k)).
		Str("reason", reason).
		Msg("querycache.fetch_aborted")
}

func (h *Hooks) CacheHit(k cache.Key) {
	if !sample(h.opts.HitEvery, &h.hitCtr) {
		return
	}
	h.l.Trace().Str("key", h.key(k)).Msg("querycache.cache_hit")
}

func (h *Hooks) Evicted(k cache.Key, reason string) {
	h.l.Debug().
		Str("key", h.key(k)).
		Str("reason", reason).
		Msg("querycache.evicted")
}

func (h *Hooks) MutationSettled(id string, err error, rolledBack int, elapsed time.Duration) {
	e := h.l.Debug()
	if err != nil {
		e = h.l.Warn().Err(err)
	}
	e.Str("mutation_id", id).
		Int("rolled_back", rolledBack).
		Dur("elapsed", elapsed).
		Msg("querycache.mutation_settled")
}

func (h *Hooks) ObserverPanic(k cache.Key, recovered any) {
	h.l.Error().
		Str("key", h.key(k)).
		Interface("panic", recovered).
		Msg("querycache.observer_panic")
}
