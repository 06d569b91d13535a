package main

import (
	"context"
	"log"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/fabrica-inc/ingest-engine/pkg/config"
	"github.com/fabrica-inc/ingest-engine/pkg/contentstore"
	"github.com/fabrica-inc/ingest-engine/pkg/database"
	"github.com/fabrica-inc/ingest-engine/pkg/handlers"
	"github.com/fabrica-inc/ingest-engine/pkg/llm"
	"github.com/fabrica-inc/ingest-engine/pkg/logging"
	"github.com/fabrica-inc/ingest-engine/pkg/middleware"
	"github.com/fabrica-inc/ingest-engine/pkg/ocr"
	"github.com/fabrica-inc/ingest-engine/pkg/repositories"
	"github.com/fabrica-inc/ingest-engine/pkg/retry"
	"github.com/fabrica-inc/ingest-engine/pkg/services"
	"github.com/fabrica-inc/ingest-engine/pkg/services/workqueue"
	"github.com/fabrica-inc/ingest-engine/pkg/similarity"
)

// Version is set at build time via ldflags
var Version = "dev"

func main() {
	cfg, err := config.Load(Version)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger, err := logging.New(cfg.Env)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("configuration loaded",
		zap.String("environment", cfg.Env),
		zap.String("version", cfg.Version),
		zap.String("database", cfg.Database.Database),
		zap.String("ai_provider", cfg.AI.Provider),
		zap.Int("workers", cfg.Pipeline.Workers))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	connStr := cfg.Database.ConnectionString()
	if err := database.RunMigrations(connStr, cfg.Database.MigrationsPath, logger); err != nil {
		logger.Fatal("failed to run migrations", zap.Error(err))
	}

	db, err := database.NewConnection(ctx, &database.Config{
		URL:            connStr,
		MaxConnections: cfg.Database.MaxConnections,
	})
	if err != nil {
		logger.Fatal("failed to connect to database", zap.Error(err))
	}
	defer db.Close()

	store, err := contentstore.NewFileStore(cfg.ContentStore.Root)
	if err != nil {
		logger.Fatal("failed to open content store", zap.Error(err))
	}

	parser, err := ocr.NewClient(&ocr.Config{
		BaseURL:        cfg.OCR.BaseURL,
		RequestTimeout: cfg.OCR.RequestTimeout,
	}, logger)
	if err != nil {
		logger.Fatal("failed to create parsing client", zap.Error(err))
	}

	extractionClient, err := llm.NewExtractionClient(cfg.AI.Provider, &llm.Config{
		Endpoint:       cfg.AI.BaseURL,
		Model:          cfg.AI.Model,
		EmbeddingModel: cfg.AI.EmbeddingModel,
		APIKey:         cfg.AI.APIKey,
		RequestTimeout: cfg.AI.RequestTimeout,
	}, logger)
	if err != nil {
		logger.Fatal("failed to create extraction client", zap.Error(err))
	}
	embeddingClient, err := llm.NewEmbeddingClient(&llm.Config{
		Endpoint:       cfg.AI.BaseURL,
		Model:          cfg.AI.Model,
		EmbeddingModel: cfg.AI.EmbeddingModel,
		APIKey:         cfg.AI.APIKey,
		RequestTimeout: cfg.AI.RequestTimeout,
	}, logger)
	if err != nil {
		logger.Fatal("failed to create embedding client", zap.Error(err))
	}

	// Repositories
	documentRepo := repositories.NewDocumentRepository(db)
	chunkRepo := repositories.NewChunkRepository(db)
	itemRepo := repositories.NewItemRepository(db)
	catalogRepo := repositories.NewCatalogRepository(db)
	eventRepo := repositories.NewEventRepository(db)

	// Services
	classifier, err := services.NewClassifierService(logger)
	if err != nil {
		logger.Fatal("failed to create classifier", zap.Error(err))
	}
	uploadService := services.NewUploadService(documentRepo, eventRepo, store, logger)
	chunker := services.NewChunkerService(chunkRepo, embeddingClient,
		cfg.Pipeline.ChunkMaxChars, cfg.Pipeline.EmbeddingDimensions, logger)
	extractor := services.NewExtractorService(extractionClient, logger)
	resolver := services.NewResolverService(catalogRepo, similarity.NewTrigramScorer(),
		cfg.Pipeline.ResolverHighThreshold, cfg.Pipeline.ResolverLowThreshold, logger)
	validator := services.NewValidatorService(catalogRepo,
		cfg.Pipeline.ClarificationThreshold, cfg.Pipeline.PricePlausibleMultiple,
		cfg.Pipeline.DatePlausibleWindow, logger)
	committer := services.NewCommitterService(itemRepo, cfg.Pipeline.ClarificationThreshold, logger)
	clarifications := services.NewClarificationService(itemRepo, documentRepo, eventRepo,
		cfg.Pipeline.ClarificationThreshold, logger)

	queue := workqueue.New(logger, workqueue.WithStrategy(workqueue.NewBoundedStrategy(cfg.Pipeline.Workers)))
	pipeline := services.NewPipelineService(
		documentRepo, chunkRepo, eventRepo, store, parser,
		classifier, chunker, extractor, resolver, validator, committer,
		queue,
		services.PipelineConfig{
			MaxAttempts: cfg.Pipeline.MaxAttempts,
			Backoff: &retry.Config{
				MaxRetries:   cfg.Pipeline.MaxAttempts,
				InitialDelay: cfg.Pipeline.RetryBaseDelay,
				MaxDelay:     cfg.Pipeline.RetryMaxDelay,
				Multiplier:   cfg.Pipeline.RetryMultiplier,
				JitterFactor: cfg.Pipeline.RetryJitter,
			},
		},
		logger,
	)

	// Pick up documents stranded by a previous run.
	if err := pipeline.Resume(ctx); err != nil {
		logger.Fatal("failed to resume stranded documents", zap.Error(err))
	}
	// Commit clarifying documents whose last flagged item was resolved right
	// before a crash.
	if err := clarifications.Sweep(ctx); err != nil {
		logger.Fatal("failed to sweep clarifying documents", zap.Error(err))
	}

	mux := http.NewServeMux()
	handlers.NewHealthHandler(cfg, logger).RegisterRoutes(mux)
	handlers.NewDocumentsHandler(uploadService, pipeline, documentRepo, itemRepo, eventRepo, logger).RegisterRoutes(mux)
	handlers.NewClarificationsHandler(clarifications, logger).RegisterRoutes(mux)

	server := &http.Server{
		Addr:              net.JoinHostPort(cfg.BindAddr, cfg.Port),
		Handler:           middleware.RequestLogger(logger)(mux),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("starting ingest-engine",
			zap.String("addr", server.Addr),
			zap.String("version", cfg.Version))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server failed", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown failed", zap.Error(err))
	}
	queue.Cancel()
	if err := queue.Wait(shutdownCtx); err != nil {
		logger.Warn("work queue drained with errors", zap.Error(err))
	}

	logger.Info("shutdown complete")
}
