package cache

import (
	"math/rand/v2"
	"time"
)

// BackoffFunc returns the delay before retry number attempt (0-based).
type BackoffFunc func(attempt int) time.Duration

// ExponentialBackoff returns min(base*2^attempt, max).
func ExponentialBackoff(base, max time.Duration) BackoffFunc {
	return func(attempt int) time.Duration {
		if base <= 0 {
			return 0
		}
		d := base
		for i := 0; i < attempt; i++ {
			if max > 0 && d >= max/2 {
				return max
			}
			if d > Infinity/2 {
				return Infinity
			}
			d *= 2
		}
		if max > 0 && d > max {
			return max
		}
		return d
	}
}

// ConstantBackoff always waits d.
func ConstantBackoff(d time.Duration) BackoffFunc {
	return func(int) time.Duration { return d }
}

// WithJitter spreads each delay of next uniformly within ±fraction of its value.
func WithJitter(next BackoffFunc, fraction float64) BackoffFunc {
	if fraction <= 0 {
		return next
	}
	if fraction > 1 {
		fraction = 1
	}
	return func(attempt int) time.Duration {
		d := next(attempt)
		if d <= 0 {
			return d
		}
		spread := float64(d) * fraction
		return time.Duration(float64(d) - spread + rand.Float64()*2*spread)
	}
}

// Schedule returns the backoff configured by r: Backoff when set, else
// exponential backoff with jitter.
func (r RetryConfig) Schedule() BackoffFunc {
	if r.Backoff != nil {
		return r.Backoff
	}
	return WithJitter(ExponentialBackoff(r.BaseDelay, r.MaxDelay), r.Jitter)
}

// ShouldRetry reports whether another attempt is allowed after failures
// consecutive failed attempts ending with err.
func (r RetryConfig) ShouldRetry(failures int, err error) bool {
	if r.MaxRetries <= 0 || failures > r.MaxRetries {
		return false
	}
	return IsRetryable(err)
}
