package fetchers

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/goliatone/go-query-cache/cache"
	"github.com/goliatone/go-query-cache/pkg/testsupport"
)

func testSharedConfig() SharedConfig {
	return SharedConfig{
		Capacity:           100,
		NumShards:          2,
		TTL:                time.Minute,
		EvictionPercentage: 10,
	}
}

func TestDefaultSharedConfig(t *testing.T) {
	cfg := DefaultSharedConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("expected default config to be valid, got %v", err)
	}
	if cfg.EarlyRefresh == nil {
		t.Error("expected EarlyRefresh to be mirrored")
	}

	cfg.TTL = 0
	if err := cfg.Validate(); err == nil || !strings.Contains(err.Error(), "TTL") {
		t.Errorf("expected TTL validation error, got %v", err)
	}
}

func TestShared_MemoizesAcrossFetchers(t *testing.T) {
	shared, err := NewShared(testSharedConfig())
	if err != nil {
		t.Fatalf("failed to create shared memo: %v", err)
	}
	origin := testsupport.Returning("alice")

	a := shared.Middleware()(origin.Func())
	b := shared.Middleware()(origin.Func())

	for _, fetch := range []cache.FetchFunc{a, b} {
		data, err := fetch(context.Background(), cache.QueryKey{"user", 1})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if data != "alice" {
			t.Errorf("expected alice, got %v", data)
		}
	}
	if origin.Calls() != 1 {
		t.Errorf("expected one origin call, got %d", origin.Calls())
	}

	if _, err := a(context.Background(), cache.QueryKey{"user", int64(1)}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if origin.Calls() != 1 {
		t.Errorf("expected equivalent key to hit memo, got %d calls", origin.Calls())
	}
}

func TestShared_Forget(t *testing.T) {
	shared, err := NewShared(testSharedConfig())
	if err != nil {
		t.Fatalf("failed to create shared memo: %v", err)
	}
	fetch := shared.Middleware()(testsupport.Returning("v").Func())
	ctx := context.Background()

	for _, key := range []cache.QueryKey{{"user"}, {"user", 1}, {"user", 2}, {"users"}, {"post", 1}} {
		if _, err := fetch(ctx, key); err != nil {
			t.Fatalf("seed %v: %v", key, err)
		}
	}

	if n := shared.Forget("user"); n != 3 {
		t.Errorf("expected 3 responses forgotten, got %d", n)
	}
	if shared.Len() != 2 {
		t.Errorf("expected users and post to remain, got %d entries", shared.Len())
	}
	if n := shared.Forget(); n != 2 {
		t.Errorf("expected remaining responses forgotten, got %d", n)
	}
}

func TestShared_NotFoundIsFatal(t *testing.T) {
	cfg := testSharedConfig()
	cfg.MissingRecordStorage = true
	shared, err := NewShared(cfg)
	if err != nil {
		t.Fatalf("failed to create shared memo: %v", err)
	}
	origin := testsupport.Failing(errors.Wrap(ErrNotFound, "user 404"))
	fetch := shared.Middleware()(origin.Func())

	for i := 0; i < 2; i++ {
		_, err := fetch(context.Background(), cache.QueryKey{"user", 404})
		if !errors.Is(err, cache.ErrFatalFetch) || !errors.Is(err, ErrNotFound) {
			t.Errorf("expected fatal not found error, got %v", err)
		}
	}
	if origin.Calls() != 1 {
		t.Errorf("expected missing record to be memoized, got %d calls", origin.Calls())
	}
}

func TestShared_PassesFetchResultsThrough(t *testing.T) {
	denied := errors.New("403")

	tests := []struct {
		name      string
		fetch     cache.FetchFunc
		wantData  any
		wantErr   error
		wantFatal bool
	}{
		{
			name:      "fatal error keeps its mark",
			fetch:     func(context.Context, cache.QueryKey) (any, error) { return nil, cache.Fatal(denied) },
			wantErr:   denied,
			wantFatal: true,
		},
		{
			name:    "transient error stays retryable",
			fetch:   func(context.Context, cache.QueryKey) (any, error) { return nil, denied },
			wantErr: denied,
		},
		{
			name:  "nil success",
			fetch: func(context.Context, cache.QueryKey) (any, error) { return nil, nil },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			shared, err := NewShared(testSharedConfig())
			if err != nil {
				t.Fatalf("failed to create shared memo: %v", err)
			}

			data, err := Chain(tt.fetch, shared.Middleware())(context.Background(), cache.QueryKey{"user", 1})
			if data != tt.wantData {
				t.Errorf("expected data %v, got %v", tt.wantData, data)
			}
			if tt.wantErr == nil {
				if err != nil {
					t.Fatalf("expected no error, got %v", err)
				}
				return
			}
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("expected original error in chain, got %v", err)
			}
			if cache.IsRetryable(err) == tt.wantFatal {
				t.Errorf("expected retryable=%t, got %t for %v", !tt.wantFatal, cache.IsRetryable(err), err)
			}
		})
	}
}
