package fetchers

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/goliatone/go-query-cache/cache"
	"github.com/goliatone/go-query-cache/internal/cacheinfra"
)

// ErrNotFound can be returned, or wrapped, by a fetcher behind Shared to
// report a missing resource. When missing records are stored the absence is
// memoized like a response.
var ErrNotFound = cacheinfra.ErrNotFound

// SharedConfig exposes the response memo options.
type SharedConfig struct {
	Capacity             int                 `koanf:"capacity"`
	NumShards            int                 `koanf:"num_shards"`
	TTL                  time.Duration       `koanf:"ttl"`
	EvictionPercentage   int                 `koanf:"eviction_percentage"`
	EarlyRefresh         *EarlyRefreshConfig `koanf:"early_refresh"`
	MissingRecordStorage bool                `koanf:"missing_record_storage"`
	EvictionInterval     time.Duration       `koanf:"eviction_interval"`
}

// EarlyRefreshConfig mirrors the underlying sturdyc early refresh options.
type EarlyRefreshConfig struct {
	MinAsyncRefreshTime time.Duration `koanf:"min_async_refresh_time"`
	MaxAsyncRefreshTime time.Duration `koanf:"max_async_refresh_time"`
	SyncRefreshTime     time.Duration `koanf:"sync_refresh_time"`
	RetryBaseDelay      time.Duration `koanf:"retry_base_delay"`
}

// DefaultSharedConfig returns a SharedConfig populated with sensible defaults.
func DefaultSharedConfig() SharedConfig {
	return convertFromInternal(cacheinfra.DefaultConfig())
}

// Validate checks whether the configuration values are valid.
func (c SharedConfig) Validate() error {
	return c.toInternal().Validate()
}

// Shared memoizes fetch responses by canonical key across every client that
// uses its middleware. Query clients keep their own entries and observers;
// Shared only saves origin round trips for identical requests within TTL.
type Shared struct {
	memo  *cacheinfra.Memo
	codec cache.KeyCodec
}

// NewShared constructs a response memo from cfg.
func NewShared(cfg SharedConfig) (*Shared, error) {
	memo, err := cacheinfra.NewMemo(cfg.toInternal())
	if err != nil {
		return nil, err
	}
	return &Shared{memo: memo, codec: cache.NewDefaultKeyCodec()}, nil
}

// Middleware returns fetch middleware backed by the memo. A missing record
// fails with a fatal error wrapping ErrNotFound.
func (s *Shared) Middleware() Middleware {
	return func(next cache.FetchFunc) cache.FetchFunc {
		return func(ctx context.Context, key cache.QueryKey) (any, error) {
			data, err := s.memo.GetOrFetch(ctx, string(s.codec.Canonicalize(key)), func(ctx context.Context) (any, error) {
				return next(ctx, key)
			})
			if err != nil && errors.Is(err, ErrNotFound) {
				return nil, cache.Fatal(err)
			}
			return data, err
		}
	}
}

// Forget drops memoized responses matching parts as a key prefix, so the next
// fetch of those keys reaches the origin. Call it alongside
// Client.Invalidate after a write.
func (s *Shared) Forget(parts ...any) int {
	prefix := string(s.codec.Canonicalize(cache.QueryKey(parts)))
	// Strip the closing bracket so ["user"] also covers ["user",1].
	prefix = prefix[:len(prefix)-1]
	exact := 0
	if _, ok := s.memo.Get(prefix + "]"); ok {
		s.memo.Delete(prefix + "]")
		exact = 1
	}
	if len(parts) > 0 {
		prefix += ","
	}
	return exact + s.memo.DeleteByPrefix(prefix)
}

// Len returns the number of memoized responses.
func (s *Shared) Len() int { return s.memo.Len() }

func (c SharedConfig) toInternal() cacheinfra.Config {
	var early *cacheinfra.EarlyRefreshConfig
	if c.EarlyRefresh != nil {
		early = &cacheinfra.EarlyRefreshConfig{
			MinAsyncRefreshTime: c.EarlyRefresh.MinAsyncRefreshTime,
			MaxAsyncRefreshTime: c.EarlyRefresh.MaxAsyncRefreshTime,
			SyncRefreshTime:     c.EarlyRefresh.SyncRefreshTime,
			RetryBaseDelay:      c.EarlyRefresh.RetryBaseDelay,
		}
	}

	return cacheinfra.Config{
		Capacity:             c.Capacity,
		NumShards:            c.NumShards,
		TTL:                  c.TTL,
		EvictionPercentage:   c.EvictionPercentage,
		EarlyRefresh:         early,
		MissingRecordStorage: c.MissingRecordStorage,
		EvictionInterval:     c.EvictionInterval,
	}
}

func convertFromInternal(cfg cacheinfra.Config) SharedConfig {
	var early *EarlyRefreshConfig
	if cfg.EarlyRefresh != nil {
		early = &EarlyRefreshConfig{
			MinAsyncRefreshTime: cfg.EarlyRefresh.MinAsyncRefreshTime,
			MaxAsyncRefreshTime: cfg.EarlyRefresh.MaxAsyncRefreshTime,
			SyncRefreshTime:     cfg.EarlyRefresh.SyncRefreshTime,
			RetryBaseDelay:      cfg.EarlyRefresh.RetryBaseDelay,
		}
	}

	return SharedConfig{
		Capacity:             cfg.Capacity,
		NumShards:            cfg.NumShards,
		TTL:                  cfg.TTL,
		EvictionPercentage:   cfg.EvictionPercentage,
		EarlyRefresh:         early,
		MissingRecordStorage: cfg.MissingRecordStorage,
		EvictionInterval:     cfg.EvictionInterval,
	}
}
