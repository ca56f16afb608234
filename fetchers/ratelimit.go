package fetchers

import (
	"context"

	"github.com/cockroachdb/errors"
	"github.com/goliatone/go-query-cache/cache"
	"golang.org/x/time/rate"
)

// WithRateLimit waits for a token from limiter before each attempt. Retries
// consume tokens too. Waiting ends early when the fetch is aborted.
func WithRateLimit(limiter *rate.Limiter) Middleware {
	return func(next cache.FetchFunc) cache.FetchFunc {
		if limiter == nil {
			return next
		}
		return func(ctx context.Context, key cache.QueryKey) (any, error) {
			if err := limiter.Wait(ctx); err != nil {
				if ctx.Err() != nil {
					return nil, ctx.Err()
				}
				// The wait would outlast the context deadline.
				return nil, cache.Transient(errors.Wrap(err, "rate limited"))
			}
			return next(ctx, key)
		}
	}
}
