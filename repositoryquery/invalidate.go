package repositoryquery

import (
	"context"

	"github.com/goliatone/go-query-cache/cache"
)

type invalidatesContextKey struct{}

// WithInvalidates attaches extra key prefixes that a write made with ctx
// invalidates once it succeeds, such as queries of a parent resource whose
// aggregates depend on the written record.
func WithInvalidates(ctx context.Context, prefixes ...cache.QueryKey) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	if len(prefixes) == 0 {
		return ctx
	}

	combined := dedupeKeys(append(invalidatesFromContext(ctx), prefixes...))
	if len(combined) == 0 {
		return ctx
	}
	return context.WithValue(ctx, invalidatesContextKey{}, combined)
}

func invalidatesFromContext(ctx context.Context) []cache.QueryKey {
	if ctx == nil {
		return nil
	}
	if keys, ok := ctx.Value(invalidatesContextKey{}).([]cache.QueryKey); ok {
		return append([]cache.QueryKey(nil), keys...)
	}
	return nil
}

// dedupeKeys drops empty and repeated prefixes, compared by canonical form.
func dedupeKeys(keys []cache.QueryKey) []cache.QueryKey {
	seen := make(map[string]struct{}, len(keys))
	out := keys[:0]
	for _, k := range keys {
		if len(k) == 0 {
			continue
		}
		id := ""
		for _, part := range k {
			id += cache.CanonicalPart(part) + "\x00"
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, k)
	}
	return out
}
