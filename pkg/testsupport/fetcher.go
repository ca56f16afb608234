package testsupport

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/goliatone/go-query-cache/cache"
)

// FakeFetcher is a scriptable cache.FetchFunc that counts calls. Responses
// are consumed in order; once exhausted the last one repeats. When gated,
// every call blocks until Release or until its context is cancelled.
type FakeFetcher struct {
	mu        sync.Mutex
	responses []FakeResponse
	next      int
	gate      chan struct{}
	started   chan struct{}

	calls     atomic.Int64
	cancelled atomic.Int64
}

// FakeResponse is one scripted fetch outcome.
type FakeResponse struct {
	Data  any
	Err   error
	Panic any
}

// NewFakeFetcher returns a fetcher answering with responses in order.
func NewFakeFetcher(responses ...FakeResponse) *FakeFetcher {
	if len(responses) == 0 {
		responses = []FakeResponse{{}}
	}
	return &FakeFetcher{responses: responses, started: make(chan struct{}, 1024)}
}

// Returning is shorthand for a fetcher that always succeeds with data.
func Returning(data any) *FakeFetcher {
	return NewFakeFetcher(FakeResponse{Data: data})
}

// Failing is shorthand for a fetcher that always fails with err.
func Failing(err error) *FakeFetcher {
	return NewFakeFetcher(FakeResponse{Err: err})
}

// Gate makes subsequent calls block until Release.
func (f *FakeFetcher) Gate() *FakeFetcher {
	f.mu.Lock()
	f.gate = make(chan struct{})
	f.mu.Unlock()
	return f
}

// Release unblocks every gated call, current and future.
func (f *FakeFetcher) Release() {
	f.mu.Lock()
	if f.gate != nil {
		close(f.gate)
		f.gate = nil
	}
	f.mu.Unlock()
}

// Calls returns how many times the fetcher was invoked.
func (f *FakeFetcher) Calls() int { return int(f.calls.Load()) }

// Cancelled returns how many gated calls returned because their context was cancelled.
func (f *FakeFetcher) Cancelled() int { return int(f.cancelled.Load()) }

// Started receives once per call, after the call is counted.
func (f *FakeFetcher) Started() <-chan struct{} { return f.started }

// Fetch implements cache.FetchFunc.
func (f *FakeFetcher) Fetch(ctx context.Context, _ cache.QueryKey) (any, error) {
	f.calls.Add(1)

	f.mu.Lock()
	resp := f.responses[f.next]
	if f.next < len(f.responses)-1 {
		f.next++
	}
	gate := f.gate
	f.mu.Unlock()

	select {
	case f.started <- struct{}{}:
	default:
	}

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			f.cancelled.Add(1)
			return nil, ctx.Err()
		}
	}

	if resp.Panic != nil {
		panic(resp.Panic)
	}
	return resp.Data, resp.Err
}

// Func returns Fetch as a cache.FetchFunc.
func (f *FakeFetcher) Func() cache.FetchFunc { return f.Fetch }
