package cache

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// QueryKey is the structured identity of a query: an ordered list of
// serializable parts, e.g. QueryKey{"user", 1} or QueryKey{"todos", map[string]any{"done": false}}.
type QueryKey []any

// Key is the canonical form of a QueryKey produced by a KeyCodec.
type Key string

// String implements fmt.Stringer.
func (k Key) String() string { return string(k) }

// FetchFunc loads the resource identified by key. The context is the abort
// signal for the attempt: it is cancelled when the fetch is superseded, the
// last observer leaves, the entry is evicted or the client is closed.
type FetchFunc func(ctx context.Context, key QueryKey) (any, error)

// MutationFunc performs a side effect on the remote source.
type MutationFunc func(ctx context.Context, variables any) (any, error)

// Predicate selects query keys for invalidation, cancellation and inspection.
type Predicate func(key QueryKey) bool

// Status is the lifecycle state of a query entry.
type Status int

const (
	StatusIdle Status = iota
	StatusLoading
	StatusSuccess
	StatusError
)

func (s Status) String() string {
	switch s {
	case StatusIdle:
		return "idle"
	case StatusLoading:
		return "loading"
	case StatusSuccess:
		return "success"
	case StatusError:
		return "error"
	default:
		return "unknown"
	}
}

// Entry is an immutable snapshot of a query entry as delivered to observers.
// Data is shared with the cache and must be treated as read-only.
type Entry struct {
	Key   Key
	Parts QueryKey

	Status  Status
	Data    any
	HasData bool
	Err     error

	UpdatedAt time.Time
	ErrorAt   time.Time
	StaleAt   time.Time

	FetchVersion  uint64
	FailureCount  int
	ObserverCount int
	RetainUntil   time.Time
	Invalidated   bool
}

// IsStale reports whether the entry is eligible for a background refetch at now.
func (e Entry) IsStale(now time.Time) bool {
	if !e.HasData || e.Invalidated {
		return true
	}
	return !now.Before(e.StaleAt)
}

// IsFetching reports whether a fetch is in flight for the entry.
func (e Entry) IsFetching() bool { return e.Status == StatusLoading }

// MountPolicy controls what happens when an observer subscribes to an entry
// that already has data.
type MountPolicy int

const (
	// MountIfStale refetches on subscribe only when the entry is stale.
	MountIfStale MountPolicy = iota
	// MountAlways forces a refetch on every subscribe.
	MountAlways
	// MountNever only fetches when the entry has no data yet.
	MountNever
)

func (p MountPolicy) String() string {
	switch p {
	case MountIfStale:
		return "if_stale"
	case MountAlways:
		return "always"
	case MountNever:
		return "never"
	default:
		return fmt.Sprintf("MountPolicy(%d)", int(p))
	}
}

// UnmarshalText parses "if_stale", "always" or "never", so the policy can be
// set from config files and environment variables.
func (p *MountPolicy) UnmarshalText(text []byte) error {
	switch strings.ToLower(strings.TrimSpace(string(text))) {
	case "", "if_stale", "stale":
		*p = MountIfStale
	case "always":
		*p = MountAlways
	case "never":
		*p = MountNever
	default:
		return fmt.Errorf("unknown refetch on mount policy %q", text)
	}
	return nil
}

// QueryOptions tune a single query. Zero values inherit from Config.
type QueryOptions struct {
	// StaleTime is how long fetched data stays fresh. Use Infinity to never go stale.
	StaleTime time.Duration
	// GCTime is how long an unobserved entry is retained before eviction.
	GCTime time.Duration
	// RefetchOnMount decides whether subscribing triggers a fetch.
	RefetchOnMount MountPolicy
	// RefetchInterval polls the query while it has observers. Zero disables polling.
	RefetchInterval time.Duration
	// Disabled suppresses automatic fetching on subscribe.
	Disabled bool
	// Retry overrides Config.Retry for this query.
	Retry *RetryConfig
	// InitialData seeds an entry that has no data yet.
	InitialData any
}

// Enabled reports whether automatic fetching is on.
func (o QueryOptions) Enabled() bool { return !o.Disabled }

// InvalidateOptions tune Invalidate.
type InvalidateOptions struct {
	// Evict removes matching entries instead of marking them stale.
	Evict bool
	// SkipRefetch marks observed entries stale without refetching them.
	SkipRefetch bool
}

// Updater computes new data from the current data of an entry.
type Updater func(current any, ok bool) any

// MutationOptions tune a single mutation.
type MutationOptions struct {
	// RelatedKeys are the queries affected by the mutation.
	RelatedKeys []QueryKey
	// OptimisticUpdate predicts the data of each related key before the
	// mutation function runs. Returning ok=false leaves that key untouched.
	OptimisticUpdate func(key QueryKey, current any, hasData bool, variables any) (next any, ok bool)
	// OnSuccess runs after a successful mutation. When nil, RelatedKeys are invalidated.
	OnSuccess func(ctx context.Context, result any, variables any) error
	// OnError runs after rollback of a failed mutation.
	OnError func(ctx context.Context, err error, variables any)
}
