// package main provides the entry point for the pdvd-rollup microservice,
// wiring storage, the rollup engine, sweeps, the event processor and the API.
package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/ortelius/pdvd-rollup/config"
	"github.com/ortelius/pdvd-rollup/database"
	"github.com/ortelius/pdvd-rollup/events/modules/artifacts"
	gqlschema "github.com/ortelius/pdvd-rollup/graphql"
	"github.com/ortelius/pdvd-rollup/internal/analysis"
	"github.com/ortelius/pdvd-rollup/internal/api"
	"github.com/ortelius/pdvd-rollup/internal/bom"
	"github.com/ortelius/pdvd-rollup/internal/dependency"
	"github.com/ortelius/pdvd-rollup/internal/gather"
	"github.com/ortelius/pdvd-rollup/internal/jobs"
	"github.com/ortelius/pdvd-rollup/internal/kafka"
	"github.com/ortelius/pdvd-rollup/internal/locks"
	"github.com/ortelius/pdvd-rollup/internal/rollup"
	"github.com/ortelius/pdvd-rollup/internal/services"
	"github.com/ortelius/pdvd-rollup/restapi"
	restanalysis "github.com/ortelius/pdvd-rollup/restapi/modules/analysis"
	"go.uber.org/zap"
)

func main() {
	logger := database.InitLogger()
	defer logger.Sync() //nolint:errcheck

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("Failed to load configuration", zap.Error(err))
	}

	db, err := database.InitializeDatabase(ctx, cfg.Arango)
	if err != nil {
		logger.Fatal("Failed to initialize database", zap.Error(err))
	}
	store := database.NewStore(db)

	collector := gather.NewCollector(store, logger, cfg.Rollup.GatherConcurrency)
	analyzer := analysis.NewVulnAnalyzer(store, logger, analysis.Options{OSVRecheck: cfg.Rollup.OSVRecheck})
	engine := rollup.NewEngine(store, store, collector, analyzer, locks.NewKeyedMutex(), logger, rollup.Options{
		MaxParentDepth:    cfg.Rollup.MaxParentDepth,
		TransitiveParents: cfg.Rollup.TransitiveParents,
		SaveRetries:       cfg.Rollup.SaveRetries,
	})
	resolver := dependency.NewResolver(store, logger)

	wrapper := &services.RollupServiceWrapper{
		Index:       store,
		Engine:      engine,
		Logger:      logger,
		Concurrency: cfg.Sweep.Concurrency,
	}

	var notifier bom.ScanNotifier
	var publisher restanalysis.Publisher
	if cfg.Kafka.Enabled() {
		producer := artifacts.NewArtifactProducer(cfg.Kafka.Brokers, cfg.Kafka.Topic, kafka.NewTransport(cfg.Kafka))
		defer producer.Close()
		notifier = producer
		publisher = producer

		if err := kafka.RunEventProcessor(ctx, cfg.Kafka, wrapper, logger); err != nil {
			logger.Warn("Event processor not started", zap.Error(err))
		}
	} else {
		logger.Info("Kafka brokers not configured, event processing disabled")
	}
	coordinator := bom.NewCoordinator(bom.NewContentStore(store), store, logger)
	ingestor := bom.NewIngestor(coordinator, store, notifier, logger)

	for _, job := range []string{jobs.JobRecomputeReleaseMetrics, jobs.JobRescanStaleReleases} {
		if last, err := store.GetLastRun(ctx, job); err == nil && !last.IsZero() {
			logger.Info("Last sweep run", zap.String("job", job), zap.Time("at", last))
		}
	}
	sweepLock := database.NewAdvisoryLock(db, cfg.Sweep.LockTTL)
	logger.Info("Sweep lock owner", zap.String("owner", sweepLock.Owner()))
	scheduler := jobs.NewScheduler(store, engine, sweepLock, cfg.Sweep, logger)
	scheduler.Start(ctx)

	schema, err := gqlschema.CreateSchema(gqlschema.Deps{
		Releases: store,
		Gatherer: collector,
		Engine:   engine,
		Branches: store,
		Resolver: resolver,
	})
	if err != nil {
		logger.Fatal("Failed to create GraphQL schema", zap.Error(err))
	}

	app := api.NewFiberApp(restapi.Services{
		Releases:    store,
		Gatherer:    collector,
		Engine:      engine,
		Branches:    store,
		Resolver:    resolver,
		Ingestor:    ingestor,
		Publisher:   publisher,
		Reevaluator: wrapper,
		Logger:      logger,
	}, schema)

	go func() {
		<-ctx.Done()
		logger.Info("Shutting down")
		if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
			logger.Warn("Server shutdown failed", zap.Error(err))
		}
	}()

	logger.Sugar().Infof("Starting server on port %s", cfg.Port)
	if err := app.Listen(":" + cfg.Port); err != nil {
		logger.Fatal("Failed to start server", zap.Error(err))
	}
}
