// Package fetchers provides composable middleware for cache.FetchFunc:
// timeouts, rate limiting, circuit breaking and a response memo shared
// between clients.
//
//	fetch := fetchers.Chain(loadUser,
//		fetchers.WithTimeout(2*time.Second),
//		fetchers.WithRateLimit(rate.NewLimiter(50, 10)),
//		fetchers.WithCircuitBreaker(fetchers.NewCircuitBreaker(fetchers.BreakerConfig{Name: "users"})),
//	)
//
// Middleware listed first runs outermost.
package fetchers

import "github.com/goliatone/go-query-cache/cache"

// Middleware wraps a fetch function with additional behavior.
type Middleware func(next cache.FetchFunc) cache.FetchFunc

// Chain wraps fetch with mws. The first middleware is the outermost, so
// Chain(f, a, b) calls a, then b, then f. Nil middleware is skipped.
func Chain(fetch cache.FetchFunc, mws ...Middleware) cache.FetchFunc {
	if fetch == nil {
		return nil
	}
	for i := len(mws) - 1; i >= 0; i-- {
		if mws[i] != nil {
			fetch = mws[i](fetch)
		}
	}
	return fetch
}
