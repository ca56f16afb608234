package fetchers

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/goliatone/go-query-cache/cache"
)

// WithTimeout bounds every attempt to d. An attempt that runs out of time
// fails with a transient error so the client retries it; cancellation of the
// caller's context is passed through unchanged.
func WithTimeout(d time.Duration) Middleware {
	return func(next cache.FetchFunc) cache.FetchFunc {
		if d <= 0 {
			return next
		}
		return func(ctx context.Context, key cache.QueryKey) (any, error) {
			attemptCtx, cancel := context.WithTimeout(ctx, d)
			defer cancel()

			data, err := next(attemptCtx, key)
			if err != nil && ctx.Err() == nil && errors.Is(attemptCtx.Err(), context.DeadlineExceeded) {
				return nil, cache.Transient(errors.Wrapf(err, "fetch timed out after %s", d))
			}
			return data, err
		}
	}
}
