// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/jeranaias/kgassist/internal/actions"
	"github.com/jeranaias/kgassist/internal/config"
	"github.com/jeranaias/kgassist/internal/dispatch"
	"github.com/jeranaias/kgassist/internal/provider"
	"github.com/jeranaias/kgassist/internal/router"
	"github.com/jeranaias/kgassist/internal/semantic"
	"github.com/jeranaias/kgassist/internal/storage"
	"github.com/jeranaias/kgassist/internal/telemetry"
	"github.com/jeranaias/kgassist/internal/tools"
)

// =============================================================================
// APPLICATION ASSEMBLY
// =============================================================================

// searchIndex is what the app needs from the semantic index, cached or not.
type searchIndex interface {
	dispatch.SemanticIndex
	router.Reloader
	Stats() semantic.IndexStats
}

// App holds every wired component of the assistant.
type App struct {
	Config     *config.Config
	Logger     zerolog.Logger
	DB         *storage.DB
	Store      *storage.ConversationStore
	Router     *router.Router
	Index      searchIndex
	Actions    *actions.Registry
	Provider   *provider.Client
	Aggregator *telemetry.Aggregator
	Metrics    *telemetry.Metrics
	Dispatcher *dispatch.Dispatcher

	redis   *redis.Client
	watcher *router.DictionaryWatcher
}

// appOptions override collaborators in tests.
type appOptions struct {
	// Registerer receives the Prometheus collectors. Defaults to
	// prometheus.DefaultRegisterer.
	Registerer prometheus.Registerer
	// HTTPClient overrides the provider transport.
	HTTPClient *http.Client
	// Now overrides the action clock.
	Now func() time.Time
}

// NewApp opens the database and wires the dispatcher and its collaborators.
func NewApp(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*App, error) {
	return newApp(ctx, cfg, logger, appOptions{})
}

func newApp(ctx context.Context, cfg *config.Config, logger zerolog.Logger, opts appOptions) (*App, error) {
	if opts.Registerer == nil {
		opts.Registerer = prometheus.DefaultRegisterer
	}
	a := &App{Config: cfg, Logger: logger}

	rt, dict, err := buildRouter(cfg, logger)
	if err != nil {
		return nil, err
	}
	a.Router = rt

	db, err := storage.Open(cfg.Storage.Path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	a.DB = db
	a.Store = storage.NewConversationStore(db)

	a.Aggregator = telemetry.NewAggregator(cfg.Routing.ReferenceBudget)
	if cfg.Telemetry.Metrics {
		a.Metrics = telemetry.NewMetrics(opts.Registerer)
	}

	a.Actions = actions.New(actions.Options{
		Directory: db,
		Stats:     a.Aggregator,
		Now:       opts.Now,
		Logger:    logger,
	})

	var index searchIndex = semantic.NewIndex(dict, logger)
	if cfg.Semantic.RedisAddr != "" {
		a.redis = redis.NewClient(&redis.Options{
			Addr:     cfg.Semantic.RedisAddr,
			Password: cfg.Semantic.RedisPassword,
			DB:       cfg.Semantic.RedisDB,
		})
		pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		if err := a.redis.Ping(pingCtx).Err(); err != nil {
			logger.Warn().Err(err).Str("addr", cfg.Semantic.RedisAddr).Msg("semantic cache unreachable, searches fall through")
		}
		cancel()
		ttl := time.Duration(cfg.Semantic.CacheTTLSecs) * time.Second
		index = semantic.NewCached(index, a.redis, ttl, logger)
	}
	a.Index = index

	a.Provider = provider.New(provider.Options{
		APIKey:            cfg.Provider.APIKey,
		BaseURL:           cfg.Provider.BaseURL,
		Model:             cfg.Provider.Model,
		Temperature:       cfg.Provider.Temperature,
		Timeout:           cfg.Timeouts.Provider(),
		MaxRetries:        cfg.Provider.MaxRetries,
		RequestsPerSecond: cfg.Provider.RequestsPerSecond,
		HTTPClient:        opts.HTTPClient,
		Logger:            logger,
	})

	deps := dispatch.Deps{
		Router:     rt,
		Actions:    a.Actions,
		Index:      a.Index,
		Provider:   a.Provider,
		Store:      a.Store,
		Aggregator: a.Aggregator,
		Metrics:    a.Metrics,
		Logger:     logger,
	}
	if cfg.Routing.StatusReport {
		deps.Status = a.Actions
	}
	if cfg.Tools.Enabled {
		registry := tools.NewRegistry()
		deps.Tools = tools.NewSelector(registry, cfg.Tools.MaxTools)
		deps.ToolRunner = tools.NewRunner(registry, a.Actions.ToolFunc(), cfg.Timeouts.Action())
	}

	a.Dispatcher, err = dispatch.New(dispatchConfig(cfg), deps)
	if err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

// dispatchConfig maps file configuration onto the dispatcher's.
func dispatchConfig(cfg *config.Config) dispatch.Config {
	return dispatch.Config{
		ReferenceBudget: cfg.Routing.ReferenceBudget,
		InvalidPhrases:  cfg.Routing.InvalidPhrases,
		ActionTimeout:   cfg.Timeouts.Action(),
		Semantic: dispatch.SemanticConfig{
			TopK:            cfg.Semantic.TopK,
			DirectThreshold: cfg.Semantic.DirectThreshold,
			LookupOverhead:  cfg.Semantic.LookupOverhead,
			SearchTimeout:   cfg.Timeouts.Semantic(),
			ProviderTimeout: cfg.Timeouts.Provider(),
			ActionTimeout:   cfg.Timeouts.Action(),
		},
		Complex: dispatch.ComplexConfig{
			MaxTools:        cfg.Tools.MaxTools,
			StoreTimeout:    cfg.Timeouts.Store(),
			ProviderTimeout: cfg.Timeouts.Provider(),
		},
		RecordConversation: cfg.Routing.RecordConversations,
	}
}

// buildRouter loads the dictionary directory over the built-in dictionary.
func buildRouter(cfg *config.Config, logger zerolog.Logger) (*router.Router, *router.Dictionary, error) {
	dict, err := router.LoadDictionaryDir(cfg.Routing.DictionaryDir)
	if err != nil {
		return nil, nil, fmt.Errorf("load dictionaries: %w", err)
	}
	opts := router.DefaultOptions()
	if cfg.Routing.ComplexityThreshold > 0 {
		opts.ComplexityThreshold = cfg.Routing.ComplexityThreshold
	}
	opts.SmartMatch = cfg.Routing.SmartMatch
	opts.ResponseActions = cfg.Routing.ResponseActions
	opts.DisableStatusReport = !cfg.Routing.StatusReport
	return router.New(dict, opts, logger), dict, nil
}

// =============================================================================
// DICTIONARY WATCHING
// =============================================================================

// reloadFunc adapts a function to router.Reloader.
type reloadFunc func(d *router.Dictionary)

func (f reloadFunc) Reload(d *router.Dictionary) { f(d) }

// WatchDictionaries reloads the router and the semantic index when the
// dictionary directory changes. It is a no-op without a directory.
func (a *App) WatchDictionaries() error {
	dir := a.Config.Routing.DictionaryDir
	if dir == "" || !a.Config.Routing.Watch {
		return nil
	}
	counted := reloadFunc(func(*router.Dictionary) {
		if a.Metrics != nil {
			a.Metrics.Reloaded()
		}
	})
	w, err := router.NewDictionaryWatcher(dir, a.Router, router.DefaultReloadDebounce, a.Logger, a.Index, counted)
	if err != nil {
		return err
	}
	if err := w.Start(); err != nil {
		w.Close()
		return err
	}
	a.watcher = w
	return nil
}

// =============================================================================
// SNAPSHOTS
// =============================================================================

// NewReporter schedules aggregator snapshots into the log, sqlite and, when
// configured, a Redis stream. It returns nil when snapshots are disabled.
func (a *App) NewReporter(ctx context.Context) (*telemetry.Reporter, func() error, error) {
	tc := a.Config.Telemetry
	if tc.SnapshotSchedule == "" {
		return nil, func() error { return nil }, nil
	}

	snapshots := storage.NewSnapshotStore(a.DB)
	snapshots.Keep = tc.SnapshotKeep
	sinks := []telemetry.SnapshotSink{
		telemetry.LogSink{Logger: a.Logger},
		snapshots,
	}

	closer := func() error { return nil }
	if tc.RedisAddr != "" {
		sink, err := telemetry.NewRedisStreamSink(ctx, tc.RedisAddr, a.Config.Semantic.RedisPassword, a.Config.Semantic.RedisDB, tc.RedisStream)
		if err != nil {
			a.Logger.Warn().Err(err).Str("addr", tc.RedisAddr).Msg("snapshot stream disabled")
		} else {
			sinks = append(sinks, sink)
			closer = sink.Close
		}
	}

	r, err := telemetry.NewReporter(a.Aggregator, tc.SnapshotSchedule, a.Logger, sinks...)
	if err != nil {
		closer()
		return nil, nil, err
	}
	return r, closer, nil
}

// Close releases the watcher, the cache client and the database.
func (a *App) Close() error {
	var errs []error
	if a.watcher != nil {
		errs = append(errs, a.watcher.Close())
	}
	if a.redis != nil {
		errs = append(errs, a.redis.Close())
	}
	if a.DB != nil {
		errs = append(errs, a.DB.Close())
	}
	return errors.Join(errs...)
}
