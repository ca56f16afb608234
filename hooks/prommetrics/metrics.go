/*
Package prommetrics exports cache events as Prometheus metrics.

# Available Metrics

  - querycache_fetches_started_total: Fetches started (counter)
    Labels: namespace
  - querycache_fetch_results_total: Settled fetches (counter)
    Labels: namespace, result (success, error, discarded, aborted)
  - querycache_fetch_retries_total: Retried attempts (counter)
    Labels: namespace
  - querycache_fetch_duration_seconds: Time from start to success (histogram)
    Labels: namespace
  - querycache_cache_hits_total: Fetches skipped because data was fresh (counter)
    Labels: namespace
  - querycache_evictions_total: Removed entries (counter)
    Labels: namespace, reason
  - querycache_mutations_total: Settled mutations (counter)
    Labels: result (success, error)
  - querycache_mutation_rollbacks_total: Entries restored after failed mutations (counter)
  - querycache_mutation_duration_seconds: Mutation latency (histogram)
  - querycache_observer_panics_total: Recovered observer panics (counter)
    Labels: namespace

The namespace label is the first part of the query key, which keeps label
cardinality bounded by the number of resource kinds.
*/
package prommetrics

import (
	"strconv"
	"strings"
	"time"

	"github.com/goliatone/go-query-cache/cache"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Hooks records cache events on Prometheus collectors.
type Hooks struct {
	namespace func(cache.Key) string

	fetchesStarted   *prometheus.CounterVec
	fetchResults     *prometheus.CounterVec
	fetchRetries     *prometheus.CounterVec
	fetchDuration    *prometheus.HistogramVec
	cacheHits        *prometheus.CounterVec
	evictions        *prometheus.CounterVec
	mutations        *prometheus.CounterVec
	rollbacks        prometheus.Counter
	mutationDuration prometheus.Histogram
	observerPanics   *prometheus.CounterVec
}

var _ cache.Hooks = (*Hooks)(nil)

// Option configures Hooks.
type Option func(*Hooks)

// WithNamespaceFunc overrides how the namespace label is derived from a key.
func WithNamespaceFunc(fn func(cache.Key) string) Option {
	return func(h *Hooks) {
		if fn != nil {
			h.namespace = fn
		}
	}
}

// New registers the collectors on reg. A nil reg uses
// prometheus.DefaultRegisterer.
func New(reg prometheus.Registerer, opts ...Option) *Hooks {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)

	h := &Hooks{
		namespace: Namespace,

		fetchesStarted: f.NewCounterVec(prometheus.CounterOpts{
			Name: "querycache_fetches_started_total",
			Help: "Total number of fetches started",
		}, []string{"namespace"}),

		fetchResults: f.NewCounterVec(prometheus.CounterOpts{
			Name: "querycache_fetch_results_total",
			Help: "Total number of settled fetches by result",
		}, []string{"namespace", "result"}),

		fetchRetries: f.NewCounterVec(prometheus.CounterOpts{
			Name: "querycache_fetch_retries_total",
			Help: "Total number of retried fetch attempts",
		}, []string{"namespace"}),

		fetchDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "querycache_fetch_duration_seconds",
			Help:    "Duration of successful fetches including retries",
			Buckets: []float64{.001, .005, .01, .05, .1, .5, 1, 5, 10},
		}, []string{"namespace"}),

		cacheHits: f.NewCounterVec(prometheus.CounterOpts{
			Name: "querycache_cache_hits_total",
			Help: "Total number of fetches skipped because data was fresh",
		}, []string{"namespace"}),

		evictions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "querycache_evictions_total",
			Help: "Total number of removed entries by reason",
		}, []string{"namespace", "reason"}),

		mutations: f.NewCounterVec(prometheus.CounterOpts{
			Name: "querycache_mutations_total",
			Help: "Total number of settled mutations by result",
		}, []string{"result"}),

		rollbacks: f.NewCounter(prometheus.CounterOpts{
			Name: "querycache_mutation_rollbacks_total",
			Help: "Total number of entries restored after failed mutations",
		}),

		mutationDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "querycache_mutation_duration_seconds",
			Help:    "Duration of mutations",
			Buckets: []float64{.001, .005, .01, .05, .1, .5, 1, 5, 10},
		}),

		observerPanics: f.NewCounterVec(prometheus.CounterOpts{
			Name: "querycache_observer_panics_total",
			Help: "Total number of recovered observer panics",
		}, []string{"namespace"}),
	}

	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Namespace returns the first part of a canonical key, e.g. "user" for
// ["user",1]. Non-string first parts are returned in canonical form.
func Namespace(k cache.Key) string {
	s := strings.TrimPrefix(k.String(), "[")
	s = strings.TrimSuffix(s, "]")
	if s == "" {
		return "_"
	}
	if s[0] == '"' {
		// Strings are JSON quoted; find the closing quote that is not escaped.
		for i := 1; i < len(s); i++ {
			switch s[i] {
			case '\\':
				i++
			case '"':
				if unq, err := strconv.Unquote(s[:i+1]); err == nil {
					return unq
				}
				return s[1:i]
			}
		}
		return s
	}
	if i := strings.IndexByte(s, ','); i >= 0 {
		return s[:i]
	}
	return s
}

func (h *Hooks) FetchStarted(k cache.Key, _ uint64) {
	h.fetchesStarted.WithLabelValues(h.namespace(k)).Inc()
}

func (h *Hooks) FetchRetry(k cache.Key, _ int, _ time.Duration, _ error) {
	h.fetchRetries.WithLabelValues(h.namespace(k)).Inc()
}

func (h *Hooks) FetchSucceeded(k cache.Key, _ int, elapsed time.Duration) {
	ns := h.namespace(k)
	h.fetchResults.WithLabelValues(ns, "success").Inc()
	h.fetchDuration.WithLabelValues(ns).Observe(elapsed.Seconds())
}

func (h *Hooks) FetchFailed(k cache.Key, _ int, _ error) {
	h.fetchResults.WithLabelValues(h.namespace(k), "error").Inc()
}

func (h *Hooks) FetchDiscarded(k cache.Key, _ uint64) {
	h.fetchResults.WithLabelValues(h.namespace(k), "discarded").Inc()
}

func (h *Hooks) FetchAborted(k cache.Key, _ string) {
	h.fetchResults.WithLabelValues(h.namespace(k), "aborted").Inc()
}

func (h *Hooks) CacheHit(k cache.Key) {
	h.cacheHits.WithLabelValues(h.namespace(k)).Inc()
}

func (h *Hooks) Evicted(k cache.Key, reason string) {
	h.evictions.WithLabelValues(h.namespace(k), reason).Inc()
}

func (h *Hooks) MutationSettled(_ string, err error, rolledBack int, elapsed time.Duration) {
	result := "success"
	if err != nil {
		result = "error"
	}
	h.mutations.WithLabelValues(result).Inc()
	h.rollbacks.Add(float64(rolledBack))
	h.mutationDuration.Observe(elapsed.Seconds())
}

func (h *Hooks) ObserverPanic(k cache.Key, _ any) {
	h.observerPanics.WithLabelValues(h.namespace(k)).Inc()
}
