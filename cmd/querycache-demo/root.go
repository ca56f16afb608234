package main

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "querycache-demo",
		Short:         "Walk through the query cache engine",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runScenarios(cmd, scenarios)
		},
	}

	flags := root.PersistentFlags()
	flags.String("config", "", "YAML config file (env QUERYCACHE_CONFIG)")
	flags.String("log-level", "", "trace, debug, info, warn, error or disabled (env QUERYCACHE_LOG_LEVEL)")
	flags.String("log-format", "", "json or console (env QUERYCACHE_LOG_FORMAT)")
	flags.String("codec", "", "snapshot codec, msgpack or cbor (env QUERYCACHE_CODEC)")
	flags.String("latency", "", "simulated repository latency (env QUERYCACHE_LATENCY, default 50ms)")
	flags.Bool("metrics", false, "print collected Prometheus metrics after the run")

	for _, s := range scenarios {
		s := s
		root.AddCommand(&cobra.Command{
			Use:   s.name,
			Short: s.short,
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return runScenarios(cmd, []scenario{s})
			},
		})
	}
	return root
}

func runScenarios(cmd *cobra.Command, list []scenario) (err error) {
	a, err := newApp(cmd)
	if err != nil {
		return err
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if cerr := a.close(ctx); err == nil {
			err = cerr
		}
	}()

	ctx := cmd.Context()
	for _, s := range list {
		a.printf("== %s", s.name)
		if err := s.run(ctx, a); err != nil {
			return errors.Wrapf(err, "scenario %s", s.name)
		}
	}
	a.printStats()

	if show, _ := cmd.Flags().GetBool("metrics"); show {
		return a.printMetrics()
	}
	return nil
}
