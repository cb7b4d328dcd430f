package main

import (
	"context"
	"fmt"
	"net"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/goliatone/go-stash/pkg/config"
	"github.com/goliatone/go-stash/pkg/host"
)

func newServeCmd(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the background relay hub",
		Long: `Run the background role: open the configured storage, bind every key
declared in the config and serve the relay hub (and /metrics when enabled)
until interrupted.

Examples:
  stash serve --config stash.yaml
  stash serve --relay 127.0.0.1:7420 -v`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, opts)
		},
	}
}

func runServe(ctx context.Context, opts *RootOptions) error {
	cfg, err := opts.loadConfig(config.RoleBackground)
	if err != nil {
		return err
	}
	logger, err := newLogger(cfg, opts.Verbose)
	if err != nil {
		return err
	}
	defer logger.Sync()

	h, err := host.Open(ctx, cfg, host.WithLogger(logger))
	if err != nil {
		return err
	}

	if _, err := h.BindConfigured(ctx); err != nil {
		h.Close()
		return err
	}

	relayLis, err := net.Listen("tcp", cfg.Relay.Listen)
	if err != nil {
		h.Close()
		return fmt.Errorf("listen relay %s: %w", cfg.Relay.Listen, err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return h.Serve(relayLis) })
	if cfg.Metrics.Enabled {
		metricsLis, err := net.Listen("tcp", cfg.Metrics.Listen)
		if err != nil {
			h.Close()
			return fmt.Errorf("listen metrics %s: %w", cfg.Metrics.Listen, err)
		}
		g.Go(func() error { return h.ServeMetrics(metricsLis) })
	}
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down", zap.NamedError("cause", context.Cause(gctx)))
		return h.Close()
	})
	return g.Wait()
}
