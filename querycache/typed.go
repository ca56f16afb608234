package querycache

import (
	"context"

	"github.com/cockroachdb/errors"
	"github.com/goliatone/go-query-cache/cache"
)

// Result is an entry snapshot with its data decoded as T.
type Result[T any] struct {
	cache.Entry
	// Value is the decoded data; the zero value when HasData is false.
	Value T
	// DecodeErr is set when Data could not be converted to T.
	DecodeErr error
}

// ResultOf converts an untyped snapshot.
func ResultOf[T any](entry cache.Entry) Result[T] {
	res := Result[T]{Entry: entry}
	if entry.HasData {
		res.Value, res.DecodeErr = cache.As[T](entry.Data)
	}
	return res
}

// FetcherOf adapts a typed fetch function to cache.FetchFunc.
func FetcherOf[T any](fetch func(ctx context.Context, key cache.QueryKey) (T, error)) cache.FetchFunc {
	if fetch == nil {
		return nil
	}
	return func(ctx context.Context, key cache.QueryKey) (any, error) {
		return fetch(ctx, key)
	}
}

// Observe is the typed form of Client.Query.
func Observe[T any](c *Client, parts cache.QueryKey, fetch func(ctx context.Context, key cache.QueryKey) (T, error), opts cache.QueryOptions, onChange func(Result[T])) *Subscription {
	var cb func(cache.Entry)
	if onChange != nil {
		cb = func(entry cache.Entry) { onChange(ResultOf[T](entry)) }
	}
	return c.Query(parts, FetcherOf(fetch), opts, cb)
}

// Fetch is the typed form of Client.Fetch.
func Fetch[T any](ctx context.Context, c *Client, parts cache.QueryKey, fetch func(ctx context.Context, key cache.QueryKey) (T, error), opts cache.QueryOptions) (T, error) {
	data, err := c.Fetch(ctx, parts, FetcherOf(fetch), opts)
	if err != nil {
		var zero T
		return zero, err
	}
	return cache.As[T](data)
}

// GetQueryData is the typed form of Client.GetQueryData. Hydrated data is
// decoded on access.
func GetQueryData[T any](c *Client, parts cache.QueryKey) (T, bool, error) {
	data, ok := c.GetQueryData(parts)
	if !ok {
		var zero T
		return zero, false, nil
	}
	v, err := cache.As[T](data)
	if err != nil {
		return v, false, err
	}
	return v, true, nil
}

// SetQueryData is the typed form of Client.SetQueryData. current is the zero
// value when the entry holds no data or data of another type.
func SetQueryData[T any](c *Client, parts cache.QueryKey, update func(current T, ok bool) T) Result[T] {
	entry := c.SetQueryData(parts, func(current any, ok bool) any {
		var typed T
		if ok {
			v, err := cache.As[T](current)
			ok = err == nil
			typed = v
		}
		return update(typed, ok)
	})
	return ResultOf[T](entry)
}

// TypedMutationOptions is MutationOptions with typed variables and result.
type TypedMutationOptions[V, R any] struct {
	RelatedKeys      []cache.QueryKey
	OptimisticUpdate func(key cache.QueryKey, current any, hasData bool, variables V) (any, bool)
	OnSuccess        func(ctx context.Context, result R, variables V) error
	OnError          func(ctx context.Context, err error, variables V)
}

// Mutate is the typed form of Client.Mutate.
func Mutate[V, R any](ctx context.Context, c *Client, fn func(ctx context.Context, variables V) (R, error), variables V, opts TypedMutationOptions[V, R]) (R, error) {
	untyped := cache.MutationOptions{RelatedKeys: opts.RelatedKeys}
	if opts.OptimisticUpdate != nil {
		untyped.OptimisticUpdate = func(key cache.QueryKey, current any, hasData bool, _ any) (any, bool) {
			return opts.OptimisticUpdate(key, current, hasData, variables)
		}
	}
	if opts.OnSuccess != nil {
		untyped.OnSuccess = func(ctx context.Context, result any, _ any) error {
			r, err := cache.As[R](result)
			if err != nil {
				return errors.Wrap(err, "mutation result")
			}
			return opts.OnSuccess(ctx, r, variables)
		}
	}
	if opts.OnError != nil {
		untyped.OnError = func(ctx context.Context, err error, _ any) {
			opts.OnError(ctx, err, variables)
		}
	}

	result, err := c.Mutate(ctx, func(ctx context.Context, _ any) (any, error) {
		return fn(ctx, variables)
	}, variables, untyped)
	r, decodeErr := cache.As[R](result)
	if err != nil {
		return r, err
	}
	return r, decodeErr
}
