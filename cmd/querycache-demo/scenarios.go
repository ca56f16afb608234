package main

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/goliatone/go-query-cache/cache"
	zlog "github.com/goliatone/go-query-cache/log/zerolog"
	"github.com/goliatone/go-query-cache/querycache"
	"github.com/goliatone/go-query-cache/repositoryquery"
)

type scenario struct {
	name  string
	short string
	run   func(ctx context.Context, a *app) error
}

var scenarios = []scenario{
	{"dedup", "Two observers of one key share a single fetch", runDedup},
	{"stale", "Fresh data is served from cache until it goes stale", runStale},
	{"mutate", "Optimistic mutations and rollback on failure", runMutate},
	{"snapshot", "Dehydrate one client and hydrate another", runSnapshot},
	{"users", "Repository reads and writes through the query client", runUsers},
}

func (a *app) fetchUser(ctx context.Context, key cache.QueryKey) (User, error) {
	return a.repo.GetByID(ctx, fmt.Sprint(key[len(key)-1]))
}

func runDedup(ctx context.Context, a *app) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	before := a.repo.Calls()
	key := cache.QueryKey{"user", 1}
	opts := cache.QueryOptions{StaleTime: 5 * time.Second}
	received := make(chan string, 2)

	for _, name := range []string{"first", "second"} {
		var once sync.Once
		sub := querycache.Observe(a.client(), key, a.fetchUser, opts, func(r querycache.Result[User]) {
			if r.Status == cache.StatusSuccess && r.DecodeErr == nil {
				once.Do(func() { received <- name + " observer received " + r.Value.Name })
			}
		})
		defer sub.Unsubscribe()
	}

	for i := 0; i < 2; i++ {
		select {
		case msg := <-received:
			a.printf("%s", msg)
		case <-ctx.Done():
			return errors.Wrap(ctx.Err(), "waiting for observers")
		}
	}
	a.printf("origin calls: %d", a.repo.Calls()-before)
	return nil
}

func runStale(ctx context.Context, a *app) error {
	c := a.client()
	before := a.repo.Calls()

	key := cache.QueryKey{"user", 2}
	for i := 0; i < 2; i++ {
		if _, err := querycache.Fetch(ctx, c, key, a.fetchUser, cache.QueryOptions{StaleTime: time.Minute}); err != nil {
			return err
		}
	}
	a.printf("two reads within stale time, origin calls: %d", a.repo.Calls()-before)

	n := c.Invalidate(cache.MatchExact(key...), cache.InvalidateOptions{})
	if _, err := querycache.Fetch(ctx, c, key, a.fetchUser, cache.QueryOptions{StaleTime: time.Minute}); err != nil {
		return err
	}
	a.printf("invalidated %d entries, read again, origin calls: %d", n, a.repo.Calls()-before)

	short := cache.QueryOptions{StaleTime: 10 * time.Millisecond}
	key = cache.QueryKey{"user", 3}
	if _, err := querycache.Fetch(ctx, c, key, a.fetchUser, short); err != nil {
		return err
	}
	time.Sleep(2 * short.StaleTime)
	u, err := querycache.Fetch(ctx, c, key, a.fetchUser, short)
	if err != nil {
		return err
	}
	a.printf("read %s after stale time elapsed, origin calls: %d", u.Name, a.repo.Calls()-before)
	return nil
}

func runMutate(ctx context.Context, a *app) error {
	c := a.client()
	key := cache.QueryKey{"todos"}
	querycache.SetQueryData(c, key, func([]string, bool) []string { return []string{"write docs"} })

	opts := querycache.TypedMutationOptions[string, string]{
		RelatedKeys: []cache.QueryKey{key},
		OptimisticUpdate: func(_ cache.QueryKey, current any, _ bool, title string) (any, bool) {
			list, _ := current.([]string)
			return append(append([]string(nil), list...), title), true
		},
		OnSuccess: func(context.Context, string, string) error { return nil },
	}

	addTodo := func(fail bool) func(context.Context, string) (string, error) {
		return func(ctx context.Context, title string) (string, error) {
			list, _, _ := querycache.GetQueryData[[]string](c, key)
			a.printf("  while saving %q: %v", title, list)
			if fail {
				return "", errors.New("server rejected todo")
			}
			return title, nil
		}
	}

	if _, err := querycache.Mutate(ctx, c, addTodo(false), "ship release", opts); err != nil {
		return err
	}
	list, _, _ := querycache.GetQueryData[[]string](c, key)
	a.printf("after success: %v", list)

	_, err := querycache.Mutate(ctx, c, addTodo(true), "break build", opts)
	list, _, _ = querycache.GetQueryData[[]string](c, key)
	a.printf("after failure (%v): %v", err, list)
	return nil
}

func runSnapshot(ctx context.Context, a *app) error {
	src := a.client()
	for _, id := range []string{"1", "2", "3"} {
		if _, err := querycache.Fetch(ctx, src, cache.QueryKey{"profile", id}, a.fetchUser, cache.QueryOptions{}); err != nil {
			return err
		}
	}

	b, err := src.Dehydrate(cache.MatchPrefix("profile"))
	if err != nil {
		return err
	}

	dst, err := querycache.New(a.cfg.Cache,
		querycache.WithCodec(a.codec),
		querycache.WithLogger(zlog.ZerologLogger{L: a.log.With().Str("client", "hydrated").Logger()}),
	)
	if err != nil {
		return err
	}
	defer dst.Close(ctx)

	n, err := dst.Hydrate(b)
	if err != nil {
		return err
	}
	a.printf("%s snapshot of %d bytes restored %d entries", a.codec.Name(), len(b), n)

	u, ok, err := querycache.GetQueryData[User](dst, cache.QueryKey{"profile", "2"})
	if err != nil {
		return err
	}
	a.printf("hydrated profile 2 present=%t name=%s", ok, u.Name)
	return nil
}

func runUsers(ctx context.Context, a *app) error {
	opts := []repositoryquery.Option[User]{
		repositoryquery.WithNotFound[User](func(err error) bool { return errors.Is(err, errUserNotFound) }),
		repositoryquery.WithQueryOptions[User](cache.QueryOptions{StaleTime: time.Minute}),
	}
	if shared := a.container.Shared(); shared != nil {
		opts = append(opts, repositoryquery.WithShared[User](shared))
	}
	users := repositoryquery.New[User](a.client(), a.repo, opts...)
	before := a.repo.Calls()
	all := repositoryquery.Scope{Key: "all"}

	for i := 0; i < 2; i++ {
		if _, err := users.GetByID(ctx, "1"); err != nil {
			return err
		}
	}
	page, err := users.List(ctx, all)
	if err != nil {
		return err
	}
	a.printf("GetByID twice and List (%d users), origin calls: %d", page.Total, a.repo.Calls()-before)

	created, err := users.Create(ctx, User{Name: "Ada Lovelace", Email: "ada@example.com"})
	if err != nil {
		return err
	}
	if page, err = users.List(ctx, all); err != nil {
		return err
	}
	a.printf("created %s, list refetched with %d users", created.ID, page.Total)

	a.repo.failing.Store(true)
	_, err = users.Update(ctx, User{ID: "1", Name: "Renamed", Email: "john@example.com"})
	a.repo.failing.Store(false)
	u, getErr := users.GetByID(ctx, "1")
	if getErr != nil {
		return getErr
	}
	a.printf("failed update (%v) rolled back to %s", err, u.Name)

	if err := users.Delete(ctx, created); err != nil {
		return err
	}
	_, err = users.GetByID(ctx, created.ID)
	a.printf("after delete, not found=%t", errors.Is(err, errUserNotFound))
	a.printf("origin calls: %d", a.repo.Calls()-before)
	return nil
}
