package cache

import (
	"math"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
)

// Infinity can be used as StaleTime or GCTime to never expire.
const Infinity time.Duration = math.MaxInt64

// NoRetries disables retries when used as RetryConfig.MaxRetries.
const NoRetries = -1

// Config holds the client-wide defaults. Every zero field is replaced by its
// DefaultConfig value when the client is constructed, so cache.Config{} is a
// valid configuration.
type Config struct {
	// StaleTime is how long fetched data stays fresh. Zero means data is
	// stale immediately after it arrives.
	StaleTime time.Duration `koanf:"stale_time"`

	// GCTime is how long an entry with no observers is retained before it is
	// evicted. Default: 5m. A negative value evicts as soon as the sweep runs.
	GCTime time.Duration `koanf:"gc_time"`

	// GCInterval sets how often the periodic sweep scans for expired entries
	// in addition to the per-entry timers. Default: 1m.
	GCInterval time.Duration `koanf:"gc_interval"`

	// RefetchOnMount is the default mount policy for queries.
	RefetchOnMount MountPolicy `koanf:"refetch_on_mount"`

	// Retry is the default retry policy for fetches.
	Retry RetryConfig `koanf:"retry"`

	// KeepUnobservedFetches lets in-flight fetches complete after the last
	// observer unsubscribes instead of aborting them.
	KeepUnobservedFetches bool `koanf:"keep_unobserved_fetches"`

	// Disabled turns off automatic fetching on subscribe for every query.
	// Explicit Fetch, Refetch and Prefetch calls still run.
	Disabled bool `koanf:"disabled"`
}

// RetryConfig configures how failed fetch attempts are retried.
type RetryConfig struct {
	// MaxRetries is the number of retries after the first attempt.
	// Default: 3. Use NoRetries to disable.
	MaxRetries int `koanf:"max_retries"`

	// BaseDelay is the delay before the first retry. Default: 1s.
	BaseDelay time.Duration `koanf:"base_delay"`

	// MaxDelay caps the exponential backoff. Default: 30s.
	MaxDelay time.Duration `koanf:"max_delay"`

	// Jitter randomizes each delay by up to this fraction (0..1).
	Jitter float64 `koanf:"jitter"`

	// Backoff replaces the exponential schedule when set.
	Backoff BackoffFunc `koanf:"-"`
}

// DefaultConfig returns a Config with sensible defaults for most use cases.
func DefaultConfig() Config {
	return Config{
		StaleTime:      0,
		GCTime:         5 * time.Minute,
		GCInterval:     time.Minute,
		RefetchOnMount: MountIfStale,
		Retry:          DefaultRetryConfig(),
	}
}

// DefaultRetryConfig returns three retries with exponential backoff from 1s up to 30s.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries: 3,
		BaseDelay:  time.Second,
		MaxDelay:   30 * time.Second,
		Jitter:     0.2,
	}
}

// WithDefaults returns a copy of c with every zero field set to its default.
func (c Config) WithDefaults() Config {
	def := DefaultConfig()
	if c.GCTime == 0 {
		c.GCTime = def.GCTime
	}
	if c.GCInterval == 0 {
		c.GCInterval = def.GCInterval
	}
	c.Retry = c.Retry.WithDefaults()
	return c
}

// WithDefaults returns a copy of r with zero fields defaulted. A completely
// zero RetryConfig becomes DefaultRetryConfig, jitter included.
func (r RetryConfig) WithDefaults() RetryConfig {
	def := DefaultRetryConfig()
	if r.MaxRetries == 0 && r.BaseDelay == 0 && r.MaxDelay == 0 && r.Jitter == 0 && r.Backoff == nil {
		return def
	}
	if r.MaxRetries == 0 {
		r.MaxRetries = def.MaxRetries
	}
	if r.BaseDelay == 0 {
		r.BaseDelay = def.BaseDelay
	}
	if r.MaxDelay == 0 {
		r.MaxDelay = def.MaxDelay
	}
	return r
}

// Validate checks whether the configuration values are valid. It returns
// validation.Errors keyed by field name.
func (c Config) Validate() error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.StaleTime, validation.Min(time.Duration(0))),
		validation.Field(&c.GCInterval, validation.Required, validation.Min(time.Millisecond)),
		validation.Field(&c.RefetchOnMount, validation.In(MountIfStale, MountAlways, MountNever)),
		validation.Field(&c.Retry),
	)
}

// Validate implements validation.Validatable.
func (r RetryConfig) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.MaxRetries, validation.Min(NoRetries)),
		validation.Field(&r.BaseDelay, validation.Min(time.Duration(0))),
		validation.Field(&r.MaxDelay, validation.Min(r.BaseDelay)),
		validation.Field(&r.Jitter, validation.Min(0.0), validation.Max(1.0)),
	)
}

// Apply resolves per-query options against the client defaults. The returned
// options have Retry set and no inherited zero values left.
func (c Config) Apply(opts QueryOptions) QueryOptions {
	if opts.StaleTime == 0 {
		opts.StaleTime = c.StaleTime
	}
	if opts.StaleTime < 0 {
		opts.StaleTime = 0
	}
	if opts.GCTime == 0 {
		opts.GCTime = c.GCTime
	}
	if opts.GCTime < 0 {
		opts.GCTime = 0
	}
	if opts.RefetchOnMount == MountIfStale {
		opts.RefetchOnMount = c.RefetchOnMount
	}
	if opts.RefetchInterval < 0 {
		opts.RefetchInterval = 0
	}
	if c.Disabled {
		opts.Disabled = true
	}
	retry := c.Retry
	if opts.Retry != nil {
		retry = opts.Retry.WithDefaults()
	}
	opts.Retry = &retry
	return opts
}
