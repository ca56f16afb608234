package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/goliatone/go-query-cache/cache"
	"github.com/goliatone/go-query-cache/codec"
	asynchook "github.com/goliatone/go-query-cache/hooks/async"
	"github.com/goliatone/go-query-cache/hooks/loghooks"
	"github.com/goliatone/go-query-cache/hooks/prommetrics"
	"github.com/goliatone/go-query-cache/internal/config"
	zlog "github.com/goliatone/go-query-cache/log/zerolog"
	"github.com/goliatone/go-query-cache/pkg/di"
	"github.com/goliatone/go-query-cache/querycache"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

// flagOrEnv returns the flag value when set, then the environment value,
// then defaultValue.
func flagOrEnv(cmd *cobra.Command, flagName, envName, defaultValue string) string {
	if v, _ := cmd.Flags().GetString(flagName); v != "" {
		return v
	}
	if v, ok := os.LookupEnv(envName); ok && v != "" {
		return v
	}
	return defaultValue
}

// app holds everything a scenario needs. Build it with newApp and release
// it with close.
type app struct {
	out       io.Writer
	log       zerolog.Logger
	cfg       *config.Config
	codec     cache.Codec
	container *di.Container
	events    *asynchook.Hooks
	registry  *prometheus.Registry
	repo      *userRepository
}

func newApp(cmd *cobra.Command) (*app, error) {
	cfg, err := config.Load(flagOrEnv(cmd, "config", config.PathEnvVar, ""))
	if err != nil {
		return nil, err
	}
	cfg.Log.Level = flagOrEnv(cmd, "log-level", "QUERYCACHE_LOG_LEVEL", cfg.Log.Level)
	cfg.Log.Format = flagOrEnv(cmd, "log-format", "QUERYCACHE_LOG_FORMAT", cfg.Log.Format)
	cfg.Log.Output = cmd.ErrOrStderr()

	codecName := flagOrEnv(cmd, "codec", "QUERYCACHE_CODEC", "msgpack")
	snapshotCodec, ok := codec.ByName(codecName)
	if !ok {
		return nil, errors.Newf("unknown codec %q", codecName)
	}

	latency, err := time.ParseDuration(flagOrEnv(cmd, "latency", "QUERYCACHE_LATENCY", "50ms"))
	if err != nil {
		return nil, errors.Wrap(err, "invalid latency")
	}

	logger := zlog.NewLogger(cfg.Log)
	registry := prometheus.NewRegistry()
	events := asynchook.New(loghooks.New(logger, loghooks.Options{PlainKeys: true}), 1, 1024)

	opts := []di.Option{di.WithClientOptions(
		querycache.WithLogger(zlog.ZerologLogger{L: logger}),
		querycache.WithHooks(cache.MultiHooks(prommetrics.New(registry), events)),
		querycache.WithCodec(snapshotCodec),
	)}
	if cfg.Shared.Enabled {
		opts = append(opts, di.WithShared(cfg.Shared.Memo))
	}
	container, err := di.NewContainer(cfg.Cache, opts...)
	if err != nil {
		events.Close()
		return nil, err
	}

	return &app{
		out:       cmd.OutOrStdout(),
		log:       logger,
		cfg:       cfg,
		codec:     snapshotCodec,
		container: container,
		events:    events,
		registry:  registry,
		repo:      newUserRepository(latency),
	}, nil
}

func (a *app) client() *querycache.Client { return a.container.Client() }

func (a *app) printf(format string, args ...any) {
	fmt.Fprintf(a.out, format+"\n", args...)
}

func (a *app) close(ctx context.Context) error {
	err := a.container.Close(ctx)
	a.events.Close()
	if n := a.events.Dropped(); n > 0 {
		a.log.Warn().Uint64("dropped", n).Msg("hook events dropped")
	}
	return err
}

func (a *app) printStats() {
	s := a.client().Stats()
	a.printf("stats: entries=%d fetches=%d hits=%d deduplicated=%d retries=%d mutations=%d rollbacks=%d evictions=%d",
		s.Entries, s.Fetches, s.Hits, s.Deduplicated, s.Retries, s.Mutations, s.Rollbacks, s.Evictions)
}

func (a *app) printMetrics() error {
	families, err := a.registry.Gather()
	if err != nil {
		return errors.Wrap(err, "gather metrics")
	}
	for _, mf := range families {
		for _, m := range mf.GetMetric() {
			labels := make([]string, 0, len(m.GetLabel()))
			for _, lp := range m.GetLabel() {
				labels = append(labels, lp.GetName()+"="+lp.GetValue())
			}
			sort.Strings(labels)

			var value float64
			switch {
			case m.GetCounter() != nil:
				value = m.GetCounter().GetValue()
			case m.GetHistogram() != nil:
				value = float64(m.GetHistogram().GetSampleCount())
			case m.GetGauge() != nil:
				value = m.GetGauge().GetValue()
			}
			a.printf("%s{%s} %g", mf.GetName(), strings.Join(labels, ","), value)
		}
	}
	return nil
}
