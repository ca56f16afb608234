package di

import (
	"context"

	"github.com/cockroachdb/errors"
	repository "github.com/goliatone/go-repository-bun"
	"github.com/goliatone/go-query-cache/cache"
	"github.com/goliatone/go-query-cache/fetchers"
	"github.com/goliatone/go-query-cache/internal/config"
	"github.com/goliatone/go-query-cache/querycache"
	"github.com/goliatone/go-query-cache/repositoryquery"
)

// Container provides dependency injection for query cache components.
// It owns a single query client, an optional response memo shared by every
// repository it wires, and the configuration both were built from.
type Container struct {
	client *querycache.Client
	shared *fetchers.Shared
	config cache.Config
}

// Option configures a Container.
type Option func(*options)

type options struct {
	shared     *fetchers.SharedConfig
	clientOpts []querycache.Option
}

// WithShared enables a response memo built from cfg. Repository queries
// created by the container read through it.
func WithShared(cfg fetchers.SharedConfig) Option {
	return func(o *options) { o.shared = &cfg }
}

// WithClientOptions passes runtime collaborators such as loggers, hooks or
// a clock to the query client.
func WithClientOptions(opts ...querycache.Option) Option {
	return func(o *options) { o.clientOpts = append(o.clientOpts, opts...) }
}

// NewContainer creates a new DI container with the provided configuration.
// The configuration is validated by the query client.
func NewContainer(cfg cache.Config, opts ...Option) (*Container, error) {
	o := options{}
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}

	var shared *fetchers.Shared
	if o.shared != nil {
		var err error
		if shared, err = fetchers.NewShared(*o.shared); err != nil {
			return nil, err
		}
	}

	client, err := querycache.New(cfg, o.clientOpts...)
	if err != nil {
		return nil, err
	}

	return &Container{
		client: client,
		shared: shared,
		config: client.Config(),
	}, nil
}

// NewContainerWithDefaults creates a new DI container using default configuration.
func NewContainerWithDefaults(opts ...Option) (*Container, error) {
	return NewContainer(cache.DefaultConfig(), opts...)
}

// NewContainerFromFile loads configuration with config.Load and builds a
// container from it. The shared memo is enabled when the file enables it.
func NewContainerFromFile(path string, opts ...Option) (*Container, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, errors.Wrap(err, "load container config")
	}
	if cfg.Shared.Enabled {
		opts = append([]Option{WithShared(cfg.Shared.Memo)}, opts...)
	}
	return NewContainer(cfg.Cache, opts...)
}

// Client returns the singleton query client.
func (c *Container) Client() *querycache.Client {
	return c.client
}

// Shared returns the response memo, or nil when it is disabled.
func (c *Container) Shared() *fetchers.Shared {
	return c.shared
}

// Config returns the resolved client configuration, defaults applied.
func (c *Container) Config() cache.Config {
	return c.config
}

// Close shuts the query client down.
func (c *Container) Close(ctx context.Context) error {
	return c.client.Close(ctx)
}

// NewQueries wires base to the container's client, reading through the
// shared memo when one is configured.
//
// Since Go methods cannot have type parameters, this is provided as a package-level function.
// Example: NewQueries[User](container, userRepository)
func NewQueries[T any](container *Container, base repository.Repository[T], opts ...repositoryquery.Option[T]) *repositoryquery.Queries[T] {
	if container.shared != nil {
		opts = append([]repositoryquery.Option[T]{repositoryquery.WithShared[T](container.shared)}, opts...)
	}
	return repositoryquery.New[T](container.client, base, opts...)
}
