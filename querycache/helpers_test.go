package querycache

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/goliatone/go-query-cache/cache"
	"github.com/goliatone/go-query-cache/pkg/testsupport"
)

const (
	waitFor = 2 * time.Second
	tick    = 2 * time.Millisecond
)

// noRetry keeps failing tests fast.
var noRetry = cache.RetryConfig{MaxRetries: cache.NoRetries}

func newTestClient(t *testing.T, cfg cache.Config, opts ...Option) *Client {
	t.Helper()

	c, err := New(cfg, opts...)
	if err != nil {
		t.Fatalf("failed to create client: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), waitFor)
		defer cancel()
		if err := c.Close(ctx); err != nil {
			t.Errorf("close: %v", err)
		}
	})
	return c
}

func newFakeClockClient(t *testing.T, cfg cache.Config) (*Client, *testsupport.FakeClock) {
	t.Helper()

	clock := testsupport.NewFakeClock(time.Time{})
	return newTestClient(t, cfg, WithClock(clock)), clock
}

// recorder collects observer notifications.
type recorder struct {
	mu      sync.Mutex
	entries []cache.Entry
}

func (r *recorder) record(e cache.Entry) {
	r.mu.Lock()
	r.entries = append(r.entries, e)
	r.mu.Unlock()
}

func (r *recorder) all() []cache.Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]cache.Entry(nil), r.entries...)
}

func (r *recorder) statuses() []cache.Status {
	var out []cache.Status
	for _, e := range r.all() {
		out = append(out, e.Status)
	}
	return out
}

func (r *recorder) count(status cache.Status) int {
	n := 0
	for _, s := range r.statuses() {
		if s == status {
			n++
		}
	}
	return n
}

func waitStatus(t *testing.T, sub *Subscription, status cache.Status) cache.Entry {
	t.Helper()

	eventually(t, func() bool {
		return sub.Current().Status == status
	}, "entry never reached %s", status)
	return sub.Current()
}

func waitStarted(t *testing.T, f *testsupport.FakeFetcher) {
	t.Helper()

	select {
	case <-f.Started():
	case <-time.After(waitFor):
		t.Fatal("fetcher was not called")
	}
}

// eventually polls cond until it holds or waitFor elapses.
func eventually(t *testing.T, cond func() bool, format string, args ...any) {
	t.Helper()

	deadline := time.Now().Add(waitFor)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf(format, args...)
		}
		time.Sleep(tick)
	}
}
