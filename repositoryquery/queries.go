package repositoryquery

import (
	"context"
	"fmt"
	"reflect"

	"github.com/cockroachdb/errors"
	repository "github.com/goliatone/go-repository-bun"
	"github.com/goliatone/go-query-cache/cache"
	"github.com/goliatone/go-query-cache/fetchers"
	"github.com/goliatone/go-query-cache/querycache"
)

// Source is the part of a go-repository-bun repository that Queries reads
// and writes through. Any repository.Repository[T] satisfies it.
type Source[T any] interface {
	GetByID(ctx context.Context, id string, criteria ...repository.SelectCriteria) (T, error)
	GetByIdentifier(ctx context.Context, identifier string, criteria ...repository.SelectCriteria) (T, error)
	List(ctx context.Context, criteria ...repository.SelectCriteria) ([]T, int, error)
	Count(ctx context.Context, criteria ...repository.SelectCriteria) (int, error)
	Create(ctx context.Context, record T, criteria ...repository.InsertCriteria) (T, error)
	Update(ctx context.Context, record T, criteria ...repository.UpdateCriteria) (T, error)
	Delete(ctx context.Context, record T) error
}

var _ Source[any] = repository.Repository[any](nil)

// Page is a cached List result.
type Page[T any] struct {
	Records []T `json:"records" msgpack:"records" cbor:"records"`
	Total   int `json:"total" msgpack:"total" cbor:"total"`
}

// Scope identifies a List or Count query. Key is part of the cache key and
// must describe Criteria completely: two scopes with equal keys share one
// cache entry. Criteria are only applied when fetching.
type Scope struct {
	Key      any
	Criteria []repository.SelectCriteria
}

// Queries serves repository reads through a query client and runs writes as
// mutations that keep the cached reads consistent.
//
// Cache keys are [namespace, kind, arg], with kind one of "id",
// "identifier", "list" or "count".
type Queries[T any] struct {
	client    *querycache.Client
	source    Source[T]
	namespace string
	idOf      func(T) (string, error)
	notFound  func(error) bool
	opts      cache.QueryOptions
	mws       []fetchers.Middleware
	shared    *fetchers.Shared
}

// Option configures Queries.
type Option[T any] func(*Queries[T])

// WithNamespace overrides the first key part, which defaults to the snake
// case name of T.
func WithNamespace[T any](ns string) Option[T] {
	return func(q *Queries[T]) { q.namespace = ns }
}

// WithIDFunc sets how the ID of a record is read. By default an ID or Id
// field is used.
func WithIDFunc[T any](fn func(T) (string, error)) Option[T] {
	return func(q *Queries[T]) { q.idOf = fn }
}

// WithNotFound marks errors matched by fn as fatal so missing records are
// not retried.
func WithNotFound[T any](fn func(error) bool) Option[T] {
	return func(q *Queries[T]) { q.notFound = fn }
}

// WithQueryOptions sets the options used for every read.
func WithQueryOptions[T any](opts cache.QueryOptions) Option[T] {
	return func(q *Queries[T]) { q.opts = opts }
}

// WithMiddleware wraps every read fetch with mws, first outermost.
func WithMiddleware[T any](mws ...fetchers.Middleware) Option[T] {
	return func(q *Queries[T]) { q.mws = append(q.mws, mws...) }
}

// WithShared routes reads through the response memo s. Successful writes
// drop the memoized responses of the namespace.
func WithShared[T any](s *fetchers.Shared) Option[T] {
	return func(q *Queries[T]) { q.shared = s }
}

// New wires source to client.
func New[T any](client *querycache.Client, source Source[T], opts ...Option[T]) *Queries[T] {
	q := &Queries[T]{
		client:    client,
		source:    source,
		namespace: namespaceOf[T](),
		idOf:      extractID[T],
	}
	for _, opt := range opts {
		if opt != nil {
			opt(q)
		}
	}
	if q.shared != nil {
		q.mws = append(q.mws, q.shared.Middleware())
	}
	return q
}

// Namespace returns the first part of every key.
func (q *Queries[T]) Namespace() string { return q.namespace }

// ByIDKey returns the cache key of GetByID.
func (q *Queries[T]) ByIDKey(id string) cache.QueryKey {
	return cache.QueryKey{q.namespace, "id", id}
}

// IdentifierKey returns the cache key of GetByIdentifier.
func (q *Queries[T]) IdentifierKey(identifier string) cache.QueryKey {
	return cache.QueryKey{q.namespace, "identifier", identifier}
}

// ListKey returns the cache key of List.
func (q *Queries[T]) ListKey(scope Scope) cache.QueryKey {
	return cache.QueryKey{q.namespace, "list", scope.Key}
}

// CountKey returns the cache key of Count.
func (q *Queries[T]) CountKey(scope Scope) cache.QueryKey {
	return cache.QueryKey{q.namespace, "count", scope.Key}
}

// GetByID returns the record with id. criteria are applied on fetch only.
func (q *Queries[T]) GetByID(ctx context.Context, id string, criteria ...repository.SelectCriteria) (T, error) {
	return read(ctx, q, q.ByIDKey(id), q.byID(id, criteria))
}

// GetByIdentifier returns the record with identifier.
func (q *Queries[T]) GetByIdentifier(ctx context.Context, identifier string, criteria ...repository.SelectCriteria) (T, error) {
	return read(ctx, q, q.IdentifierKey(identifier), q.byIdentifier(identifier, criteria))
}

// List returns the records in scope.
func (q *Queries[T]) List(ctx context.Context, scope Scope) (Page[T], error) {
	return read(ctx, q, q.ListKey(scope), q.list(scope))
}

// Count returns the number of records in scope.
func (q *Queries[T]) Count(ctx context.Context, scope Scope) (int, error) {
	return read(ctx, q, q.CountKey(scope), q.count(scope))
}

// ObserveByID subscribes onChange to the record with id.
func (q *Queries[T]) ObserveByID(id string, onChange func(querycache.Result[T])) *querycache.Subscription {
	return observe(q, q.ByIDKey(id), q.byID(id, nil), onChange)
}

// ObserveList subscribes onChange to the records in scope.
func (q *Queries[T]) ObserveList(scope Scope, onChange func(querycache.Result[Page[T]])) *querycache.Subscription {
	return observe(q, q.ListKey(scope), q.list(scope), onChange)
}

// Create inserts record. On success the created record is cached under its
// ID and every list and count query is invalidated.
func (q *Queries[T]) Create(ctx context.Context, record T, criteria ...repository.InsertCriteria) (T, error) {
	extra := invalidatesFromContext(ctx)
	return querycache.Mutate(ctx, q.client,
		func(ctx context.Context, record T) (T, error) {
			return q.source.Create(ctx, record, criteria...)
		},
		record,
		querycache.TypedMutationOptions[T, T]{
			OnSuccess: func(ctx context.Context, created T, _ T) error {
				q.seed(created)
				q.invalidateCollections(extra)
				return nil
			},
		})
}

// Update writes record. The cached record with the same ID is replaced
// optimistically and restored if the write fails. On success the stored
// result is cached and identifier, list and count queries are invalidated.
func (q *Queries[T]) Update(ctx context.Context, record T, criteria ...repository.UpdateCriteria) (T, error) {
	id, err := q.idOf(record)
	if err != nil {
		var zero T
		return zero, errors.Wrap(err, "update")
	}
	extra := invalidatesFromContext(ctx)

	return querycache.Mutate(ctx, q.client,
		func(ctx context.Context, record T) (T, error) {
			return q.source.Update(ctx, record, criteria...)
		},
		record,
		querycache.TypedMutationOptions[T, T]{
			RelatedKeys: []cache.QueryKey{q.ByIDKey(id)},
			OptimisticUpdate: func(_ cache.QueryKey, _ any, _ bool, record T) (any, bool) {
				return record, true
			},
			OnSuccess: func(ctx context.Context, updated T, _ T) error {
				q.seed(updated)
				q.invalidateCollections(extra, cache.MatchPrefix(q.namespace, "identifier"))
				return nil
			},
		})
}

// Delete removes record. Its cached ID and identifier entries are evicted
// and list and count queries are invalidated.
func (q *Queries[T]) Delete(ctx context.Context, record T) error {
	id, err := q.idOf(record)
	if err != nil {
		return errors.Wrap(err, "delete")
	}
	extra := invalidatesFromContext(ctx)

	_, err = querycache.Mutate(ctx, q.client,
		func(ctx context.Context, record T) (struct{}, error) {
			return struct{}{}, q.source.Delete(ctx, record)
		},
		record,
		querycache.TypedMutationOptions[T, struct{}]{
			OnSuccess: func(context.Context, struct{}, T) error {
				q.forgetShared(extra)
				q.client.Invalidate(cache.MatchAny(
					cache.MatchExact(q.ByIDKey(id)...),
					cache.MatchPrefix(q.namespace, "identifier"),
				), cache.InvalidateOptions{Evict: true})
				q.invalidateCollections(extra)
				return nil
			},
		})
	return err
}

// InvalidateAll marks every query of the namespace stale.
func (q *Queries[T]) InvalidateAll() int {
	if q.shared != nil {
		q.shared.Forget(q.namespace)
	}
	return q.client.Invalidate(cache.MatchPrefix(q.namespace), cache.InvalidateOptions{})
}

func read[T, R any](ctx context.Context, q *Queries[T], key cache.QueryKey, fetch func(context.Context, cache.QueryKey) (R, error)) (R, error) {
	data, err := q.client.Fetch(ctx, key, fetchers.Chain(querycache.FetcherOf(fetch), q.mws...), q.opts)
	if err != nil {
		var zero R
		return zero, err
	}
	return cache.As[R](data)
}

func observe[T, R any](q *Queries[T], key cache.QueryKey, fetch func(context.Context, cache.QueryKey) (R, error), onChange func(querycache.Result[R])) *querycache.Subscription {
	var cb func(cache.Entry)
	if onChange != nil {
		cb = func(entry cache.Entry) { onChange(querycache.ResultOf[R](entry)) }
	}
	return q.client.Query(key, fetchers.Chain(querycache.FetcherOf(fetch), q.mws...), q.opts, cb)
}

func (q *Queries[T]) seed(record T) {
	id, err := q.idOf(record)
	if err != nil {
		return
	}
	querycache.SetQueryData(q.client, q.ByIDKey(id), func(T, bool) T { return record })
}

// forgetShared drops memoized responses of the namespace and extra. It must
// run before any Invalidate, whose refetches would otherwise read the memo.
func (q *Queries[T]) forgetShared(extra []cache.QueryKey) {
	if q.shared == nil {
		return
	}
	q.shared.Forget(q.namespace)
	for _, k := range extra {
		q.shared.Forget(k...)
	}
}

// invalidateCollections forgets shared responses, then invalidates list and
// count queries, the extra prefixes and any further predicates in one pass.
func (q *Queries[T]) invalidateCollections(extra []cache.QueryKey, more ...cache.Predicate) {
	q.forgetShared(extra)
	preds := append([]cache.Predicate{
		cache.MatchPrefix(q.namespace, "list"),
		cache.MatchPrefix(q.namespace, "count"),
	}, more...)
	for _, k := range extra {
		preds = append(preds, cache.MatchPrefix(k...))
	}
	q.client.Invalidate(cache.MatchAny(preds...), cache.InvalidateOptions{})
}

func (q *Queries[T]) byID(id string, criteria []repository.SelectCriteria) func(context.Context, cache.QueryKey) (T, error) {
	return func(ctx context.Context, _ cache.QueryKey) (T, error) {
		record, err := q.source.GetByID(ctx, id, criteria...)
		return record, q.classify(err)
	}
}

func (q *Queries[T]) byIdentifier(identifier string, criteria []repository.SelectCriteria) func(context.Context, cache.QueryKey) (T, error) {
	return func(ctx context.Context, _ cache.QueryKey) (T, error) {
		record, err := q.source.GetByIdentifier(ctx, identifier, criteria...)
		return record, q.classify(err)
	}
}

func (q *Queries[T]) list(scope Scope) func(context.Context, cache.QueryKey) (Page[T], error) {
	return func(ctx context.Context, _ cache.QueryKey) (Page[T], error) {
		records, total, err := q.source.List(ctx, scope.Criteria...)
		return Page[T]{Records: records, Total: total}, q.classify(err)
	}
}

func (q *Queries[T]) count(scope Scope) func(context.Context, cache.QueryKey) (int, error) {
	return func(ctx context.Context, _ cache.QueryKey) (int, error) {
		n, err := q.source.Count(ctx, scope.Criteria...)
		return n, q.classify(err)
	}
}

func (q *Queries[T]) classify(err error) error {
	if err != nil && q.notFound != nil && q.notFound(err) {
		return cache.Fatal(err)
	}
	return err
}

// extractID reads an ID field from a record using reflection.
func extractID[T any](record T) (string, error) {
	v := reflect.ValueOf(record)
	if !v.IsValid() {
		return "", errors.New("record is nil")
	}
	for v.Kind() == reflect.Ptr || v.Kind() == reflect.Interface {
		if v.IsNil() {
			return "", errors.New("record is nil")
		}
		v = v.Elem()
	}
	if v.Kind() != reflect.Struct {
		return "", errors.Newf("cannot read ID of %s", v.Type())
	}

	for _, fieldName := range []string{"ID", "Id"} {
		field := v.FieldByName(fieldName)
		if field.IsValid() && field.CanInterface() {
			return fmt.Sprintf("%v", field.Interface()), nil
		}
	}
	return "", errors.Newf("no ID field found in %s", v.Type())
}
