// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/jeranaias/kgassist/internal/server"
)

const (
	// shutdownTimeout bounds the graceful drain on SIGINT/SIGTERM.
	shutdownTimeout = 15 * time.Second
	// sweepInterval is how often idle rate-limit buckets are dropped.
	sweepInterval = time.Minute
)

func newServeCmd(g *globalOptions) *cobra.Command {
	var (
		addr      string
		anonymous bool
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the assistant HTTP API",
		Long: `Run the assistant HTTP API.

Endpoints:
  POST /api/ai/query   answer a query
  GET  /api/ai/stats   performance statistics
  GET  /health         liveness
  GET  /metrics        Prometheus metrics

Clients authenticate with the bearer tokens in [[server.tokens]]. With
--anonymous, requests without a token are served as role "user".`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := g.loadConfig()
			if err != nil {
				return err
			}
			if addr != "" {
				cfg.Server.Addr = addr
			}
			logger := g.logger(cmd, cfg)

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			app, err := NewApp(ctx, cfg, logger)
			if err != nil {
				return NewCommandError("serve", "startup", err)
			}
			defer app.Close()

			if !app.Provider.IsConfigured() {
				logger.Warn().Str("base_url", cfg.Provider.BaseURL).Msg("provider has no API key; SEMANTIC and COMPLEX tiers will fail")
			}
			if len(cfg.Server.Tokens) == 0 && !anonymous {
				logger.Warn().Msg("no bearer tokens configured; every query will be rejected")
			}

			if err := app.WatchDictionaries(); err != nil {
				logger.Warn().Err(err).Str("dir", cfg.Routing.DictionaryDir).Msg("dictionary hot reload disabled")
			}

			reporter, closeSinks, err := app.NewReporter(ctx)
			if err != nil {
				return NewCommandError("serve", "snapshots", err)
			}
			defer closeSinks()
			if reporter != nil {
				reporter.Start()
			}

			opts := server.Options{
				Dispatcher: app.Dispatcher,
				Aggregator: app.Aggregator,
				Router:     app.Router,
				Actions:    app.Actions,
				Index:      app.Index,
				Provider:   app.Provider,
				Store:      app.DB,
				Metrics:    app.Metrics,
				Logger:     logger,
			}
			opts.FromConfig(cfg.Server, anonymous, cfg.Timeouts.Request())
			srv, err := server.New(opts)
			if err != nil {
				return NewCommandError("serve", "startup", err)
			}
			go srv.SweepLoop(ctx, sweepInterval)

			errCh := make(chan error, 1)
			go func() { errCh <- srv.Start() }()

			select {
			case err := <-errCh:
				if err != nil && !errors.Is(err, http.ErrServerClosed) {
					return &NetworkError{Endpoint: cfg.Server.Addr, Err: err}
				}
			case <-ctx.Done():
			}

			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				logger.Error().Err(err).Msg("graceful shutdown failed")
			}
			if reporter != nil {
				reporter.Stop(shutdownCtx)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (overrides server.addr)")
	cmd.Flags().BoolVar(&anonymous, "anonymous", false, "serve requests without a bearer token")
	return cmd
}
