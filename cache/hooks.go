package cache

import "time"

// Hooks are lightweight callbacks for high-signal events.
// Implementations MUST be cheap and non-blocking: the client calls them
// while resolving fetches and mutations. Wrap slow sinks with hooks/async.
type Hooks interface {
	// A fetch attempt sequence started for key at version.
	FetchStarted(key Key, version uint64)
	// A failed attempt will be retried after delay.
	FetchRetry(key Key, attempt int, delay time.Duration, err error)
	// The fetch settled as success and was applied.
	FetchSucceeded(key Key, attempts int, elapsed time.Duration)
	// The fetch settled as error after attempts.
	FetchFailed(key Key, attempts int, err error)
	// A completion arrived for a superseded version and was dropped.
	FetchDiscarded(key Key, version uint64)
	// An in-flight fetch was aborted.
	// reason ∈ {"unobserved", "cancel", "evicted", "closed"}
	FetchAborted(key Key, reason string)

	// ensureFresh found fresh data and skipped the fetch.
	CacheHit(key Key)
	// An entry was removed.
	// reason ∈ {"gc", "invalidate", "remove", "closed"}
	Evicted(key Key, reason string)

	// A mutation settled. rolledBack counts entries restored on failure.
	MutationSettled(id string, err error, rolledBack int, elapsed time.Duration)

	// An observer callback panicked; the panic was recovered.
	ObserverPanic(key Key, recovered any)
}

// NopHooks is the default no-op.
type NopHooks struct{}

func (NopHooks) FetchStarted(Key, uint64)                         {}
func (NopHooks) FetchRetry(Key, int, time.Duration, error)        {}
func (NopHooks) FetchSucceeded(Key, int, time.Duration)           {}
func (NopHooks) FetchFailed(Key, int, error)                      {}
func (NopHooks) FetchDiscarded(Key, uint64)                       {}
func (NopHooks) FetchAborted(Key, string)                         {}
func (NopHooks) CacheHit(Key)                                     {}
func (NopHooks) Evicted(Key, string)                              {}
func (NopHooks) MutationSettled(string, error, int, time.Duration) {}
func (NopHooks) ObserverPanic(Key, any)                           {}

var _ Hooks = NopHooks{}

// MultiHooks fans every event out to each of hs in order. Nil entries are skipped.
func MultiHooks(hs ...Hooks) Hooks {
	out := make(multiHooks, 0, len(hs))
	for _, h := range hs {
		if h != nil {
			out = append(out, h)
		}
	}
	return out
}

type multiHooks []Hooks

func (m multiHooks) FetchStarted(k Key, v uint64) {
	for _, h := range m {
		h.FetchStarted(k, v)
	}
}

func (m multiHooks) FetchRetry(k Key, attempt int, delay time.Duration, err error) {
	for _, h := range m {
		h.FetchRetry(k, attempt, delay, err)
	}
}

func (m multiHooks) FetchSucceeded(k Key, attempts int, elapsed time.Duration) {
	for _, h := range m {
		h.FetchSucceeded(k, attempts, elapsed)
	}
}

func (m multiHooks) FetchFailed(k Key, attempts int, err error) {
	for _, h := range m {
		h.FetchFailed(k, attempts, err)
	}
}

func (m multiHooks) FetchDiscarded(k Key, v uint64) {
	for _, h := range m {
		h.FetchDiscarded(k, v)
	}
}

func (m multiHooks) FetchAborted(k Key, reason string) {
	for _, h := range m {
		h.FetchAborted(k, reason)
	}
}

func (m multiHooks) CacheHit(k Key) {
	for _, h := range m {
		h.CacheHit(k)
	}
}

func (m multiHooks) Evicted(k Key, reason string) {
	for _, h := range m {
		h.Evicted(k, reason)
	}
}

func (m multiHooks) MutationSettled(id string, err error, rolledBack int, elapsed time.Duration) {
	for _, h := range m {
		h.MutationSettled(id, err, rolledBack, elapsed)
	}
}

func (m multiHooks) ObserverPanic(k Key, recovered any) {
	for _, h := range m {
		h.ObserverPanic(k, recovered)
	}
}
