// Package cache provides the shared vocabulary of the query cache: query keys and
// their canonical encoding, entry snapshots, options, configuration, retry policy,
// error taxonomy and the pluggable collaborators (Logger, Hooks, Clock, Codec).
//
// # Overview
//
// This package has no runtime behaviour of its own. The engine lives in the
// querycache package; adapters live in log/*, hooks/* and codec. Everything here is
// safe to import from any layer without pulling in the engine.
//
//   - QueryKey: structured identity of a query, e.g. QueryKey{"user", 1}
//   - KeyCodec: turns a QueryKey into its canonical Key
//   - Entry: immutable snapshot delivered to observers
//   - Config / QueryOptions: client defaults and per-query overrides
//   - RetryConfig / BackoffFunc: how failed fetches are retried
//
// # Key Canonicalization
//
// Two query keys address the same entry iff their canonical encodings are
// byte-identical. The default codec uses reflection to handle various Go types:
//
//   - Strings: quoted, so "1" and 1 never collide
//   - Numbers: integers of any width and integral floats encode identically
//   - Slices/arrays: recursive serialization of elements; nil equals empty
//   - Maps: keys sorted lexicographically for deterministic output
//   - Structs: exported fields keyed by their json tag name, like a map
//   - encoding.TextMarshaler: the marshaled text, quoted
//   - Functions and channels: %p style pointers, stable only within a process
//
// The result looks like JSON:
//
//	codec := cache.NewDefaultKeyCodec()
//	codec.Canonicalize(cache.QueryKey{"todos", map[string]any{"status": "done", "page": 2}})
//	// ["todos",{"page":2,"status":"done"}]
//
// # Predicates
//
// Invalidate, Cancel, Refetch and Entries select keys with a Predicate. MatchPrefix
// compares leading parts by canonical encoding:
//
//	client.Invalidate(cache.MatchPrefix("todos"), cache.InvalidateOptions{})
//
// # Important Warnings for Key Parts
//
// Key parts should be plain data. Function values and closures produce pointer
// based encodings that differ across processes, which breaks Dehydrate/Hydrate.
// Pointer parts are dereferenced, so mutating the pointee after issuing a query
// changes the key it would canonicalize to.
//
// # Error Handling
//
// Fetch errors are retried unless they are marked with Fatal, are caused by a
// panic, or are a context cancellation:
//
//	if resp.StatusCode == http.StatusNotFound {
//		return nil, cache.Fatal(ErrNotFound)
//	}
//
// Markers are attached with github.com/cockroachdb/errors, so test for them with
// its errors.Is. Terminal failures are stored on the entry as *FetchError and
// failed mutations are returned as *MutationError. Both unwrap to the underlying
// cause.
//
// # See Also
//
// For the engine and the client API, see the querycache package.
package cache
