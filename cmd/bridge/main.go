package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/edvin/wsbridge/internal/api"
	"github.com/edvin/wsbridge/internal/config"
	"github.com/edvin/wsbridge/internal/db"
	"github.com/edvin/wsbridge/internal/ingest"
	"github.com/edvin/wsbridge/internal/logging"
	"github.com/edvin/wsbridge/internal/messaging"
	"github.com/edvin/wsbridge/internal/metrics"
	"github.com/edvin/wsbridge/internal/reconcile"
	"github.com/edvin/wsbridge/internal/registry"
	"github.com/edvin/wsbridge/internal/store"
)

func main() {
	migrateFlag := flag.Bool("migrate", false, "Run database migrations before starting")
	migrateDirFlag := flag.String("migrate-dir", "migrations/bridge", "Migration files directory")
	embeddedNATSFlag := flag.Bool("embedded-nats", false, "Run an in-process NATS server (development)")
	natsAddrFlag := flag.String("nats-addr", "127.0.0.1:4222", "Listen address for the embedded NATS server")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	if err := cfg.Validate(*embeddedNATSFlag); err != nil {
		fmt.Fprintf(os.Stderr, "invalid config: %v\n", err)
		os.Exit(1)
	}

	logger := logging.NewLogger(cfg)

	if *migrateFlag {
		logger.Info().Str("dir", *migrateDirFlag).Msg("running database migrations")
		if err := db.RunMigrations(cfg.DatabaseURL, *migrateDirFlag); err != nil {
			logger.Fatal().Err(err).Msg("migration failed")
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := db.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer pool.Close()
	metrics.RegisterPgxPoolMetrics(pool)

	natsURL := cfg.NATSURL
	if *embeddedNATSFlag {
		ns, err := messaging.StartEmbeddedServer(*natsAddrFlag)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to start embedded nats server")
		}
		defer ns.Shutdown()
		natsURL = ns.ClientURL()
		logger.Info().Str("url", natsURL).Msg("embedded nats server running")
	}
	nc, err := messaging.Connect(natsURL, cfg.ServiceName, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to nats")
	}
	defer nc.Close()

	clusterStore := store.NewClusterStore(pool)
	instanceStore := store.NewInstanceStore(pool)
	metricsStore := store.NewMetricsStore(pool)
	deadLetterStore := store.NewDeadLetterStore(pool)

	reg := registry.New(clusterStore, instanceStore, logger)
	if err := reg.Load(ctx); err != nil {
		logger.Fatal().Err(err).Msg("failed to load cluster registry")
	}
	if cfg.StaticClustersFile != "" {
		if err := registerStaticClusters(ctx, reg, cfg.StaticClustersFile, logger); err != nil {
			logger.Fatal().Err(err).Str("file", cfg.StaticClustersFile).Msg("failed to register static clusters")
		}
	}

	engine := reconcile.New(reg, instanceStore, deadLetterStore, logger, reconcile.Config{
		Lanes:       cfg.ReconcileLanes,
		MaxAttempts: cfg.ApplyMaxAttempts,
		RetryBase:   cfg.RetryBackoffBase,
		RetryCap:    cfg.RetryBackoffCap,
		IOTimeout:   cfg.IOTimeout,
	})
	engine.Start()

	manager := ingest.NewManager(nc, engine, reg, logger, ingest.Config{
		QueueSize:   cfg.IngestQueueSize,
		MaxFailures: cfg.IngestMaxFailures,
		RetryBase:   cfg.RetryBackoffBase,
		RetryCap:    cfg.RetryBackoffCap,
	})

	controller := reconcile.NewController(nc, reg, instanceStore, logger,
		cfg.SweepInterval, cfg.SweepRequestTimeout, cfg.MaxTimeToRunning)

	srv := api.NewServer(logger, pool, reg, instanceStore, metricsStore, deadLetterStore, engine, manager)
	httpServer := &http.Server{
		Addr:         cfg.HTTPListenAddr,
		Handler:      srv,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return manager.Run(ctx) })
	g.Go(func() error { return controller.Run(ctx) })
	g.Go(func() error {
		logger.Info().Str("addr", cfg.HTTPListenAddr).Msg("starting bridge API server")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		logger.Info().Msg("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error().Err(err).Msg("http server shutdown failed")
		}

		// Ingestion stops with ctx; drain in-flight events before closing the
		// stores underneath the engine.
		engine.Stop(cfg.ShutdownTimeout)
		return nil
	})

	if err := g.Wait(); err != nil {
		logger.Fatal().Err(err).Msg("bridge failed")
	}
	logger.Info().Msg("bridge stopped")
}

// registerStaticClusters seeds the registry from a YAML file. Clusters already
// registered under the same name are left untouched.
func registerStaticClusters(ctx context.Context, reg *registry.Registry, path string, logger zerolog.Logger) error {
	clusters, err := registry.StaticClustersFromFile(path)
	if err != nil {
		return err
	}
	for _, cluster := range clusters {
		err := reg.Register(ctx, cluster)
		switch {
		case errors.Is(err, registry.ErrClusterConflict):
			logger.Debug().Str("cluster", cluster.Name).Msg("static cluster already registered")
		case err != nil:
			return err
		default:
			logger.Info().Str("cluster", cluster.Name).Msg("static cluster registered")
		}
	}
	return nil
}
