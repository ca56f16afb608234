package querycache

import (
	"context"

	"github.com/cockroachdb/errors"
	"github.com/goliatone/go-query-cache/cache"
	"github.com/google/uuid"
)

// snapshot is the pre-mutation state of one related entry.
type snapshot struct {
	entry   *queryEntry
	data    any
	hasData bool
	// rev is the data revision written by the optimistic update.
	rev uint64
}

// Mutate runs fn with variables. When opts.OptimisticUpdate is set, related
// entries are updated before fn runs and rolled back if it fails, unless
// newer data arrived in the meantime. On success OnSuccess runs, or the
// related keys are invalidated when it is nil. Mutations are never retried
// or deduplicated.
func (c *Client) Mutate(ctx context.Context, fn cache.MutationFunc, variables any, opts cache.MutationOptions) (any, error) {
	if fn == nil {
		return nil, errors.New("mutation function is nil")
	}
	if c.closed.Load() {
		return nil, cache.ErrClosed
	}

	id := uuid.NewString()
	started := c.clock.Now()
	c.mutating.Add(1)
	defer c.mutating.Add(-1)
	c.stats.mutations.Add(1)

	snaps := c.applyOptimistic(opts, variables)

	result, err := callMutation(ctx, fn, variables)
	if err == nil {
		var hookErr error
		if opts.OnSuccess != nil {
			hookErr = opts.OnSuccess(ctx, result, variables)
		} else {
			c.invalidateKeys(opts.RelatedKeys)
		}
		elapsed := c.clock.Now().Sub(started)
		c.hooks.MutationSettled(id, nil, 0, elapsed)
		c.logger.Debug("querycache.mutation_succeeded", cache.Fields{"mutation_id": id, "related": len(opts.RelatedKeys)})
		if hookErr != nil {
			return result, errors.Wrapf(hookErr, "mutation %s success handler", id)
		}
		return result, nil
	}

	rolledBack := c.rollback(snaps)
	if opts.OnError != nil {
		opts.OnError(ctx, err, variables)
	}

	c.stats.mutationErrors.Add(1)
	c.stats.rollbacks.Add(uint64(rolledBack))
	elapsed := c.clock.Now().Sub(started)
	c.hooks.MutationSettled(id, err, rolledBack, elapsed)
	c.logger.Warn("querycache.mutation_failed", cache.Fields{
		"mutation_id": id,
		"rolled_back": rolledBack,
		"err":         err.Error(),
	})
	return nil, &cache.MutationError{MutationID: id, RolledBack: rolledBack, Err: err}
}

func callMutation(ctx context.Context, fn cache.MutationFunc, variables any) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			result = nil
			err = cache.PanicError(r)
		}
	}()
	return fn(ctx, variables)
}

// applyOptimistic writes the predicted data of every related key and
// returns what it replaced. Status is left untouched.
func (c *Client) applyOptimistic(opts cache.MutationOptions, variables any) []snapshot {
	if opts.OptimisticUpdate == nil {
		return nil
	}

	var snaps []snapshot
	for _, parts := range opts.RelatedKeys {
		key := c.store.keyOf(parts)
		for {
			e := c.store.getOrCreate(key, parts, c.cfg.GCTime)
			current, hasData, rev, live := e.readData()
			if !live {
				continue
			}
			next, ok := opts.OptimisticUpdate(parts, current, hasData, variables)
			if !ok {
				break
			}

			e.mu.Lock()
			if e.removed || e.dataRev != rev {
				e.mu.Unlock()
				continue
			}
			snap := snapshot{entry: e, data: e.data, hasData: e.hasData}
			e.setDataLocked(next, true)
			snap.rev = e.dataRev
			drain := e.publishLocked()
			e.mu.Unlock()

			snaps = append(snaps, snap)
			if drain {
				c.deliver(e)
			}
			break
		}
	}
	return snaps
}

// rollback restores snapshots whose entry still holds the optimistic value.
func (c *Client) rollback(snaps []snapshot) int {
	n := 0
	for i := len(snaps) - 1; i >= 0; i-- {
		s := snaps[i]
		e := s.entry

		e.mu.Lock()
		if e.removed || e.dataRev != s.rev {
			e.mu.Unlock()
			continue
		}
		e.setDataLocked(s.data, s.hasData)
		drain := e.publishLocked()
		e.mu.Unlock()

		n++
		if drain {
			c.deliver(e)
		}
	}
	return n
}

func (c *Client) invalidateKeys(keys []cache.QueryKey) {
	if len(keys) == 0 {
		return
	}
	preds := make([]cache.Predicate, len(keys))
	for i, k := range keys {
		preds[i] = cache.MatchExact(k...)
	}
	c.Invalidate(cache.MatchAny(preds...), cache.InvalidateOptions{})
}
