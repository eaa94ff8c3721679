// Command server runs the runbook query-serving engine: the adapter
// federation, the two-level cache, the query processor, and the HTTP
// surface, wired together from a YAML configuration.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/vitaliisemenov/runbook-engine/internal/cache"
	"github.com/vitaliisemenov/runbook-engine/internal/config"
	"github.com/vitaliisemenov/runbook-engine/internal/health"
	"github.com/vitaliisemenov/runbook-engine/internal/httpapi"
	"github.com/vitaliisemenov/runbook-engine/internal/query"
	"github.com/vitaliisemenov/runbook-engine/internal/realtime"
	"github.com/vitaliisemenov/runbook-engine/internal/registry"
	"github.com/vitaliisemenov/runbook-engine/internal/resilience"
	"github.com/vitaliisemenov/runbook-engine/internal/tools"
	"github.com/vitaliisemenov/runbook-engine/pkg/logger"
)

const (
	exitOK           = 0
	exitConfigError  = 1
	exitRuntimeFatal = 2
)

func main() {
	var configPath string

	root := &cobra.Command{
		Use:           "runbook-engine",
		Short:         "Federated incident-runbook query engine",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to the YAML configuration file")

	root.AddCommand(&cobra.Command{
		Use:   "serve",
		Short: "Start the query-serving engine",
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(configPath)
		},
	})

	root.AddCommand(&cobra.Command{
		Use:   "validate-config",
		Short: "Load and validate the configuration, then exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath, nil)
			if err != nil {
				return err
			}
			fmt.Printf("configuration is valid: %d sources, cache strategy %s\n",
				len(cfg.Sources), cfg.Cache.Strategy)
			return nil
		},
	})

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(exitConfigError)
	}
	os.Exit(exitOK)
}

func serve(configPath string) error {
	cfg, err := config.Load(configPath, nil)
	if err != nil {
		return err
	}

	log := logger.NewLogger(logger.Config{
		Level:      cfg.LogLevelOrDefault(),
		Format:     cfg.Log.Format,
		Output:     cfg.Log.Output,
		Filename:   cfg.Log.Filename,
		MaxSize:    cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAge:     cfg.Log.MaxAgeDays,
		Compress:   cfg.Log.Compress,
	})
	slog.SetDefault(log)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Ambient singletons: one metrics registry, one cache, one event
	// bus, one registry, one tool layer — built here and passed down.
	metrics := health.NewMetrics("runbook_engine")
	cbMetrics := resilience.NewMetrics("runbook_engine")

	cacheManager := cache.NewManager(cacheConfig(cfg), log)
	defer cacheManager.Close()

	bus := realtime.NewEventBus(log, nil)
	if err := bus.Start(ctx); err != nil {
		return fmt.Errorf("starting event bus: %w", err)
	}
	hub := realtime.NewWebSocketHub(log)
	go hub.Run(ctx)
	if err := bus.Subscribe(hub); err != nil {
		log.Warn("failed to subscribe websocket hub", "error", err)
	}
	publisher := realtime.NewEventPublisher(bus, log, nil)

	resolver := config.NewCredentialResolver(ctx, os.Getenv("POD_NAMESPACE"), log)
	reg := registry.New(registry.Config{
		MaxConcurrency: cfg.Server.MaxConcurrent,
		Breaker:        resilience.DefaultConfig(),
		Credentials:    resolver,
	}, log, cbMetrics)

	sources, err := cfg.DomainSources(resolver, log)
	if err != nil {
		return err
	}
	for _, src := range sources {
		if err := reg.Register(ctx, src); err != nil {
			log.Error("failed to register source; continuing without it", "source", src.Name, "error", err)
		}
	}
	defer reg.Shutdown(context.Background())

	// SIGHUP re-reads the config file and diffs the source set into the
	// registry without restarting the process.
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	go func() {
		for range hup {
			log.Info("reloading source configuration")
			next, err := config.Load(configPath, log)
			if err != nil {
				log.Error("config reload failed, keeping current sources", "error", err)
				continue
			}
			nextSources, err := next.DomainSources(resolver, log)
			if err != nil {
				log.Error("config reload failed, keeping current sources", "error", err)
				continue
			}
			if err := reg.Reload(ctx, nextSources); err != nil {
				log.Warn("source reload completed with errors", "error", err)
			}
		}
	}()

	processor := query.NewProcessor(query.DefaultProcessorConfig(), nil, query.OrgContext{}, log)
	toolLayer := tools.New(reg, cacheManager, processor, nil, nil, log)
	toolLayer.Warmup(ctx)

	tracker := health.NewPerformanceTracker(metrics)
	poller := health.NewPoller(reg, cacheManager, toolLayer.Ledger(), bus, metrics,
		time.Duration(cfg.Server.HealthIntervalMS)*time.Millisecond, log)
	poller.Start(ctx)
	defer poller.Stop()

	handler := httpapi.NewRouter(httpapi.RouterConfig{
		Tools:         toolLayer,
		Poller:        poller,
		Tracker:       tracker,
		Hub:           hub,
		Logger:        log,
		MaxConcurrent: cfg.Server.MaxConcurrent,
		EnableSwagger: true,
	})

	srv := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      handler,
		ReadTimeout:  time.Duration(cfg.Server.RequestTimeoutMS) * time.Millisecond,
		WriteTimeout: time.Duration(cfg.Server.RequestTimeoutMS) * time.Millisecond,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("server listening", "addr", srv.Addr)
		if err := publisher.PublishSystemNotification("info", "engine started"); err != nil {
			log.Debug("startup notification not published", "error", err)
		}
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		log.Error("server failed", "error", err)
		os.Exit(exitRuntimeFatal)
	case <-ctx.Done():
	}

	log.Info("shutting down")
	if err := publisher.PublishSystemNotification("info", "engine shutting down"); err != nil {
		log.Debug("shutdown notification not published", "error", err)
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn("http shutdown incomplete", "error", err)
	}
	if err := bus.Stop(shutdownCtx); err != nil {
		log.Warn("event bus shutdown incomplete", "error", err)
	}
	return nil
}

func cacheConfig(cfg *config.Config) cache.Config {
	out := cache.DefaultConfig()
	out.Enabled = cfg.Cache.Enabled
	switch cfg.Cache.Strategy {
	case "redis-only":
		out.Strategy = cache.StrategySlowOnly
	case "hybrid":
		out.Strategy = cache.StrategyHybrid
	default:
		out.Strategy = cache.StrategyFastOnly
	}
	if cfg.Cache.Memory.MaxKeys > 0 {
		out.FastMaxKeys = cfg.Cache.Memory.MaxKeys
	}
	if cfg.Cache.External.Addr != "" {
		out.SlowAddr = cfg.Cache.External.Addr
	}
	out.SlowPassword = cfg.Cache.External.Password
	out.SlowDB = cfg.Cache.External.DB
	if cfg.Cache.External.PoolSize > 0 {
		out.SlowPoolSize = cfg.Cache.External.PoolSize
	}
	if cfg.Cache.External.KeyPrefix != "" {
		out.KeyPrefix = cfg.Cache.External.KeyPrefix
	}

	for tag, ct := range cfg.Cache.ContentTypes {
		contentType := cache.ContentType(tag)
		if !contentType.Valid() {
			continue
		}
		policy := out.Policies[contentType]
		if ct.TTLSeconds > 0 {
			policy.TTL = time.Duration(ct.TTLSeconds) * time.Second
		}
		policy.Warmup = ct.Warmup
		out.Policies[contentType] = policy
	}

	if ttl := cfg.Server.CacheTTLSeconds; ttl > 0 {
		// server.cache_ttl_seconds is the default for tags without an
		// explicit override.
		for tag, policy := range out.Policies {
			if _, overridden := cfg.Cache.ContentTypes[string(tag)]; !overridden {
				policy.TTL = time.Duration(ttl) * time.Second
				out.Policies[tag] = policy
			}
		}
	}
	return out
}
