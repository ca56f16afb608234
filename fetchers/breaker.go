package fetchers

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/goliatone/go-query-cache/cache"
	gobreaker "github.com/sony/gobreaker/v2"
)

// BreakerConfig configures NewCircuitBreaker. Zero fields take the defaults
// noted on each field.
type BreakerConfig struct {
	// Name identifies the breaker in state change callbacks.
	Name string

	// MaxRequests is the number of trial requests allowed while half-open. Default: 3.
	MaxRequests uint32

	// Interval resets the failure counts while closed. Default: 1m.
	Interval time.Duration

	// Timeout is how long the breaker stays open before trying again. Default: 30s.
	Timeout time.Duration

	// MinRequests is the sample size needed before the failure ratio can trip
	// the breaker. Default: 10.
	MinRequests uint32

	// FailureRatio trips the breaker once reached. Default: 0.6.
	FailureRatio float64

	// OnStateChange is called on every transition.
	OnStateChange func(name string, from, to gobreaker.State)
}

// NewCircuitBreaker builds a breaker for fetch functions. Aborted attempts and
// errors marked fatal by the fetcher (such as not found) do not count as
// failures of the upstream.
func NewCircuitBreaker(cfg BreakerConfig) *gobreaker.CircuitBreaker[any] {
	if cfg.MaxRequests == 0 {
		cfg.MaxRequests = 3
	}
	if cfg.Interval == 0 {
		cfg.Interval = time.Minute
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.MinRequests == 0 {
		cfg.MinRequests = 10
	}
	if cfg.FailureRatio <= 0 {
		cfg.FailureRatio = 0.6
	}

	return gobreaker.NewCircuitBreaker[any](gobreaker.Settings{
		Name:        cfg.Name,
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < cfg.MinRequests {
				return false
			}
			return float64(counts.TotalFailures)/float64(counts.Requests) >= cfg.FailureRatio
		},
		IsSuccessful: func(err error) bool {
			return err == nil ||
				errors.Is(err, context.Canceled) ||
				errors.Is(err, cache.ErrFatalFetch)
		},
		OnStateChange: cfg.OnStateChange,
	})
}

// WithCircuitBreaker runs attempts through cb. While the breaker is open,
// attempts fail immediately with a fatal error, so the client does not spend
// its retries against an upstream known to be down.
func WithCircuitBreaker(cb *gobreaker.CircuitBreaker[any]) Middleware {
	return func(next cache.FetchFunc) cache.FetchFunc {
		if cb == nil {
			return next
		}
		return func(ctx context.Context, key cache.QueryKey) (any, error) {
			data, err := cb.Execute(func() (any, error) {
				return next(ctx, key)
			})
			if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
				return nil, cache.Fatal(errors.Wrapf(err, "circuit breaker %s", cb.Name()))
			}
			return data, err
		}
	}
}
