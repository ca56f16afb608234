// Package querycache implements a client-side query cache and synchronization
// engine: it fetches remote resources through caller-supplied functions, caches
// the results by query key, deduplicates concurrent requests, tracks staleness,
// refetches in the background and applies optimistic mutations with rollback.
//
// # Overview
//
// A Client owns a set of entries addressed by canonical keys (see cache.KeyCodec).
// Each entry moves through idle → loading → success | error, repeatedly. Observers
// subscribe with Query and receive every transition of their entry in order:
//
//	client, err := querycache.New(cache.Config{StaleTime: 30 * time.Second})
//	if err != nil {
//		return err
//	}
//	defer client.Close(ctx)
//
//	sub := client.Query(cache.QueryKey{"user", 1}, fetchUser, cache.QueryOptions{}, func(e cache.Entry) {
//		render(e.Status, e.Data, e.Err)
//	})
//	defer sub.Unsubscribe()
//
// # Key Features
//
//   - **Deduplication**: at most one fetch is in flight per key; concurrent callers share it
//   - **Version safety**: every fetch carries a version and stale completions are dropped
//   - **Stale-while-error**: a failed refetch keeps the last good data
//   - **Retries**: exponential backoff with jitter; errors marked cache.Fatal are not retried
//   - **Polling**: RefetchInterval refetches while the entry is observed
//   - **Garbage collection**: unobserved entries are evicted after GCTime
//   - **Optimistic mutations**: related entries are updated up front and rolled back on failure
//   - **Dehydrate/Hydrate**: snapshot cached data with msgpack or CBOR and restore it later
//
// # Concurrency
//
// Entry state is guarded by a per-entry mutex and the key → entry map is an
// xsync.MapOf. Observer callbacks never run under a lock, never overlap for the
// same key and may call back into the client. Fetchers and mutation functions run
// on their own goroutines and receive a context that is cancelled when the fetch
// is aborted: last observer gone, Cancel, eviction or Close.
//
// # Typed Helpers
//
// Observe, Fetch, GetQueryData, SetQueryData and Mutate wrap the untyped API with
// generics. They also decode data restored by Hydrate, which is kept as
// cache.RawData until first typed access.
package querycache
