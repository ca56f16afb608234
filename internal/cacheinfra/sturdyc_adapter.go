package cacheinfra

import (
	"context"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/viccon/sturdyc"
)

// ErrNotFound is returned by a memoized fetch, possibly wrapped, when the
// resource does not exist. With MissingRecordStorage the absence itself is
// memoized and later calls fail with ErrNotFound without fetching.
var ErrNotFound = sturdyc.ErrNotFound

// Config sizes and tunes the sturdyc client behind a Memo.
type Config struct {
	// Capacity bounds the number of memoized responses.
	Capacity int `koanf:"capacity"`

	// NumShards splits the memo to reduce lock contention. Default: 256
	NumShards int `koanf:"num_shards"`

	// TTL is how long a memoized response is reused.
	TTL time.Duration `koanf:"ttl"`

	// EvictionPercentage is the share of entries dropped when Capacity is
	// reached, 1 to 100. Default: 10
	EvictionPercentage int `koanf:"eviction_percentage"`

	// EarlyRefresh refreshes hot responses ahead of TTL. Nil disables it.
	EarlyRefresh *EarlyRefreshConfig `koanf:"early_refresh"`

	// MissingRecordStorage memoizes ErrNotFound results, so absent
	// resources are not requested again within TTL.
	MissingRecordStorage bool `koanf:"missing_record_storage"`

	// EvictionInterval is the expiry scan period. Zero keeps the sturdyc default.
	EvictionInterval time.Duration `koanf:"eviction_interval"`
}

// EarlyRefreshConfig maps onto sturdyc.WithEarlyRefreshes.
type EarlyRefreshConfig struct {
	// Background refreshes start at a random point between Min and Max.
	MinAsyncRefreshTime time.Duration `koanf:"min_async_refresh_time"`
	MaxAsyncRefreshTime time.Duration `koanf:"max_async_refresh_time"`

	// Past SyncRefreshTime a read waits for the refresh.
	SyncRefreshTime time.Duration `koanf:"sync_refresh_time"`

	// RetryBaseDelay spaces out retries of failed refreshes.
	RetryBaseDelay time.Duration `koanf:"retry_base_delay"`
}

// DefaultConfig returns the memo settings used when none are configured.
func DefaultConfig() Config {
	return Config{
		Capacity:           10000,
		NumShards:          256,
		TTL:                5 * time.Minute,
		EvictionPercentage: 10,
		EarlyRefresh: &EarlyRefreshConfig{
			MinAsyncRefreshTime: 10 * time.Second,
			MaxAsyncRefreshTime: 20 * time.Second,
			SyncRefreshTime:     30 * time.Second,
			RetryBaseDelay:      100 * time.Millisecond,
		},
		MissingRecordStorage: true,
	}
}

// ToSturdycOptions returns the optional sturdyc settings. The sizing fields
// are constructor arguments and are not included.
func (c Config) ToSturdycOptions() []sturdyc.Option {
	var opts []sturdyc.Option
	if e := c.EarlyRefresh; e != nil {
		opts = append(opts, sturdyc.WithEarlyRefreshes(e.MinAsyncRefreshTime, e.MaxAsyncRefreshTime, e.SyncRefreshTime, e.RetryBaseDelay))
	}
	if c.MissingRecordStorage {
		opts = append(opts, sturdyc.WithMissingRecordStorage())
	}
	if c.EvictionInterval > 0 {
		opts = append(opts, sturdyc.WithEvictionInterval(c.EvictionInterval))
	}
	return opts
}

// Validate reports invalid sizing or refresh windows.
// The returned error is a validation.Errors keyed by field name.
func (c Config) Validate() error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.Capacity, validation.Required, validation.Min(1)),
		validation.Field(&c.NumShards, validation.Required, validation.Min(1)),
		validation.Field(&c.TTL, validation.Required, validation.Min(time.Nanosecond)),
		validation.Field(&c.EvictionPercentage, validation.Required, validation.Min(1), validation.Max(100)),
		validation.Field(&c.EarlyRefresh),
		validation.Field(&c.EvictionInterval, validation.Min(time.Duration(0))),
	)
}

// Validate implements validation.Validatable.
func (e EarlyRefreshConfig) Validate() error {
	nonNegative := validation.Min(time.Duration(0))
	return validation.ValidateStruct(&e,
		validation.Field(&e.MinAsyncRefreshTime, nonNegative),
		validation.Field(&e.MaxAsyncRefreshTime, nonNegative, validation.Min(e.MinAsyncRefreshTime)),
		validation.Field(&e.SyncRefreshTime, nonNegative),
		validation.Field(&e.RetryBaseDelay, nonNegative),
	)
}

// Memo wraps a sturdyc client and memoizes fetch responses by key string.
// Several query clients can share one Memo so that identical requests issued
// within TTL reach the origin once.
type Memo struct {
	client *sturdyc.Client[*memoValue]
	ttl    time.Duration
}

// memoValue boxes a response so nil results and failed fetches pass through
// sturdyc's typed client.
type memoValue struct{ v any }

// NewMemo validates cfg and builds the sturdyc client.
func NewMemo(cfg Config) (*Memo, error) {
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid memo config")
	}

	return &Memo{
		client: sturdyc.New[*memoValue](cfg.Capacity, cfg.NumShards, cfg.TTL, cfg.EvictionPercentage, cfg.ToSturdycOptions()...),
		ttl:    cfg.TTL,
	}, nil
}

// TTL returns how long responses are reused.
func (m *Memo) TTL() time.Duration { return m.ttl }

// GetOrFetch returns the memoized response for key or calls fetch and stores
// its result. Concurrent calls for the same key share one fetch.
func (m *Memo) GetOrFetch(ctx context.Context, key string, fetch func(ctx context.Context) (any, error)) (any, error) {
	if fetch == nil {
		return nil, errors.New("memo fetch function is nil")
	}

	box, err := m.client.GetOrFetch(ctx, key, func(ctx context.Context) (*memoValue, error) {
		v, err := fetch(ctx)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				return nil, sturdyc.ErrNotFound
			}
			return nil, err
		}
		return &memoValue{v: v}, nil
	})
	if errors.Is(err, sturdyc.ErrMissingRecord) || errors.Is(err, sturdyc.ErrNotFound) {
		return nil, errors.Wrapf(ErrNotFound, "memo %s", key)
	}
	if err != nil {
		return nil, err
	}
	return box.unwrap(), nil
}

func (b *memoValue) unwrap() any {
	if b == nil {
		return nil
	}
	return b.v
}

// Get returns the memoized response for key without fetching.
func (m *Memo) Get(key string) (any, bool) {
	box, ok := m.client.Get(key)
	return box.unwrap(), ok
}

// Delete removes a single memoized response.
func (m *Memo) Delete(key string) {
	m.client.Delete(key)
}

// DeleteByPrefix removes all responses whose key starts with prefix and
// returns how many were removed.
func (m *Memo) DeleteByPrefix(prefix string) int {
	n := 0
	for _, key := range m.client.ScanKeys() {
		if strings.HasPrefix(key, prefix) {
			m.client.Delete(key)
			n++
		}
	}
	return n
}

// InvalidateKeys removes multiple memoized responses in one call.
func (m *Memo) InvalidateKeys(keys []string) {
	for _, key := range keys {
		m.client.Delete(key)
	}
}

// Len returns the number of memoized responses.
func (m *Memo) Len() int {
	return len(m.client.ScanKeys())
}
