package admin

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/cloo-solutions/docpipe/internal/api/handlers"
	"github.com/cloo-solutions/docpipe/internal/config"
	"github.com/cloo-solutions/docpipe/internal/database"
	"github.com/cloo-solutions/docpipe/internal/domain"
	"github.com/cloo-solutions/docpipe/internal/embedding"
	"github.com/cloo-solutions/docpipe/internal/extract"
	"github.com/cloo-solutions/docpipe/internal/jobs"
	"github.com/cloo-solutions/docpipe/internal/logging"
	"github.com/cloo-solutions/docpipe/internal/repository"
	"github.com/cloo-solutions/docpipe/internal/server"
	"github.com/cloo-solutions/docpipe/internal/service"
	"github.com/cloo-solutions/docpipe/internal/storage"
	"github.com/cloo-solutions/docpipe/internal/telemetry"
	"github.com/cloo-solutions/docpipe/internal/vectorstore"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"
)

const shutdownTimeout = 30 * time.Second

// ServeCmd returns the serve command
func ServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the API server",
		Long:  "Start the docpipe API server and the background processing worker",
		RunE:  runServe,
	}

	cmd.Flags().StringP("port", "p", "", "Port to listen on (overrides DOCPIPE_PORT)")
	cmd.Flags().Bool("no-migrate", false, "Skip automatic database migrations on startup")
	cmd.Flags().String("migrations", database.DefaultMigrationsSource, "Migration source URL")
	cmd.Flags().Bool("no-worker", false, "Do not run the async processing worker in this process")

	return cmd
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if port, _ := cmd.Flags().GetString("port"); port != "" {
		cfg.Port = port
	}

	logger := logging.Setup(cfg.Debug)

	sampleRate := 0.1
	if cfg.Environment == "development" {
		sampleRate = 1.0
	}
	shutdownTelemetry, err := telemetry.Init(telemetry.Config{
		DSN:              cfg.SentryDSN,
		Environment:      cfg.Environment,
		TracesSampleRate: sampleRate,
		Debug:            cfg.Debug,
	}, logger)
	if err != nil {
		logger.Warn("telemetry init failed, continuing without tracing", "error", err)
	} else {
		defer shutdownTelemetry()
	}

	pool, err := database.NewPool(ctx, cfg.DatabaseURL, database.PoolConfig{})
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer pool.Close()
	logger.Info("connected to database")

	if noMigrate, _ := cmd.Flags().GetBool("no-migrate"); !noMigrate {
		source, _ := cmd.Flags().GetString("migrations")
		if err := database.Migrate(cfg.DatabaseURL, source, logger); err != nil {
			return fmt.Errorf("failed to run migrations: %w", err)
		}
	}

	a, err := buildApp(ctx, cfg, pool, logger)
	if err != nil {
		return err
	}
	defer a.close()

	if noWorker, _ := cmd.Flags().GetBool("no-worker"); !noWorker {
		go a.worker.Start(ctx)
		logger.Info("processing worker started",
			"poll_interval", cfg.WorkerPollInterval, "concurrency", cfg.WorkerConcurrency)
		defer a.worker.Stop()
	}

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           a.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("starting server", "port", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
	case <-ctx.Done():
	}
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	logger.Info("server exited")
	return nil
}

// app holds the wired components of a running server.
type app struct {
	router  http.Handler
	worker  *jobs.Worker
	closers []func()
}

func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}

func buildApp(ctx context.Context, cfg *config.Config, pool *pgxpool.Pool, logger *slog.Logger) (*app, error) {
	a := &app{}
	ok := false
	defer func() {
		if !ok {
			a.close()
		}
	}()

	collectionRepo := repository.NewCollectionRepository(pool)
	documentRepo := repository.NewDocumentRepository(pool)
	chunkRepo := repository.NewChunkRepository(pool)
	jobRepo := repository.NewProcessingJobRepository(pool)
	apiKeyRepo := repository.NewAPIKeyRepository(pool)
	providerKeyRepo := repository.NewProviderKeyRepository(pool)

	uuidGen := &service.DefaultUUIDGenerator{}
	authSvc := service.NewAuthService(apiKeyRepo, providerKeyRepo, uuidGen)

	if cfg.HasBootstrapKey() {
		if err := bootstrapAPIKey(ctx, cfg, authSvc, logger); err != nil {
			return nil, fmt.Errorf("failed to bootstrap API key: %w", err)
		}
	}

	blobs, err := openBlobStore(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	vectors, err := openVectorStore(cfg, pool, logger)
	if err != nil {
		return nil, err
	}

	var factoryOpts []embedding.FactoryOption
	if cfg.HasEmbeddingCache() {
		cache, err := embedding.OpenCache(cfg.EmbeddingCacheDir, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to open embedding cache: %w", err)
		}
		a.closers = append(a.closers, func() {
			if err := cache.Close(); err != nil {
				logger.Warn("failed to close embedding cache", "error", err)
			}
		})
		factoryOpts = append(factoryOpts, embedding.WithCache(cache))
	}

	providers, err := embedding.NewFactory(embedding.Options{
		LocalModel:        cfg.LocalEmbeddingModel,
		LocalDimensions:   cfg.LocalEmbeddingDimensions,
		LocalWorkers:      cfg.LocalEmbeddingWorkers,
		OllamaURL:         cfg.OllamaURL,
		RemoteProvider:    cfg.RemoteEmbeddingProvider,
		RemoteModel:       cfg.RemoteEmbeddingModel,
		Timeout:           cfg.RemoteTimeout,
		MaxRetries:        cfg.RemoteMaxRetries,
		RetryBaseDelay:    cfg.RemoteRetryBaseDelay,
		RequestsPerSecond: cfg.RemoteRequestsPerSecond,
	}, embedding.NewKeyResolver(providerKeyRepo, cfg.ProviderKeys()), logger, factoryOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create embedding factory: %w", err)
	}
	a.closers = append(a.closers, providers.Release)

	locks := service.NewSharedDocumentLocks(repository.NewAdvisoryLocker(pool))

	documentSvc := service.NewDocumentService(service.DocumentServiceDeps{
		Collections: collectionRepo,
		Documents:   documentRepo,
		Chunks:      chunkRepo,
		Jobs:        jobRepo,
		Blobs:       blobs,
		Vectors:     vectors,
		Checker:     providers,
		Locks:       locks,
		UUIDGen:     uuidGen,
		Logger:      logger,
	})

	if missing := extract.MissingPDFTools(); len(missing) > 0 {
		logger.Warn("pdf extraction unavailable, install poppler-utils", "missing", missing)
	}

	pipelineSvc := service.NewPipelineService(service.PipelineDeps{
		Documents:   documentRepo,
		Collections: collectionRepo,
		TxRunner:    repository.NewTxRunner(pool),
		Blobs:       blobs,
		Extractor:   extract.NewRegistry(),
		Providers:   providers,
		Vectors:     vectors,
		Locks:       locks,
		UUIDGen:     uuidGen,
		Logger:      logger,
	})

	processor := jobs.NewProcessingWorker(jobRepo, pipelineSvc, cfg.WorkerConcurrency, logger)
	a.worker = jobs.NewWorker(processor, cfg.WorkerPollInterval, logger)

	a.router = server.NewRouter(server.RouterConfig{
		AuthValidator:     authSvc,
		CollectionHandler: handlers.NewCollectionHandler(documentSvc),
		DocumentHandler:   handlers.NewDocumentHandler(documentSvc, pipelineSvc),
		ChunkHandler:      handlers.NewChunkHandler(documentSvc),
		AuthHandler:       handlers.NewAuthHandler(authSvc),
		Logger:            logger,
		AllowedOrigins:    cfg.AllowedOrigins,
		MaxBodyBytes:      cfg.MaxBodyBytes,
	})

	ok = true
	return a, nil
}

func openBlobStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (storage.BlobStore, error) {
	if cfg.HasS3() {
		s3Client, err := storage.NewS3Client(ctx, storage.S3ClientConfig{
			Endpoint:        cfg.S3Endpoint,
			Region:          cfg.S3Region,
			AccessKeyID:     cfg.S3AccessKey,
			SecretAccessKey: cfg.S3SecretKey,
			Bucket:          cfg.S3Bucket,
			UsePathStyle:    true,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create S3 client: %w", err)
		}
		if err := s3Client.EnsureBucket(ctx); err != nil {
			return nil, fmt.Errorf("failed to ensure S3 bucket: %w", err)
		}
		logger.Info("blob store ready", "backend", "s3", "bucket", cfg.S3Bucket)
		return s3Client, nil
	}

	local, err := storage.NewLocalBlobStore(cfg.BlobDir)
	if err != nil {
		return nil, fmt.Errorf("failed to open blob directory: %w", err)
	}
	logger.Info("blob store ready", "backend", "local", "dir", cfg.BlobDir)
	return local, nil
}

func openVectorStore(cfg *config.Config, pool *pgxpool.Pool, logger *slog.Logger) (vectorstore.Store, error) {
	if cfg.VectorStoreBackend == config.VectorBackendPgvector {
		logger.Info("vector store ready", "backend", config.VectorBackendPgvector)
		return vectorstore.NewPgvectorStore(pool), nil
	}

	store, err := vectorstore.NewBoltStore(cfg.VectorStoreDir, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to open vector store: %w", err)
	}
	logger.Info("vector store ready", "backend", config.VectorBackendBolt, "dir", cfg.VectorStoreDir)
	return store, nil
}

// keyBootstrapper is the part of AuthService used to seed the bootstrap key.
type keyBootstrapper interface {
	CreateAPIKeyWithToken(ctx context.Context, identity, name, token string) error
}

func bootstrapAPIKey(ctx context.Context, cfg *config.Config, svc keyBootstrapper, logger *slog.Logger) error {
	if !domain.IsValidAPIToken(cfg.InitAPIKey) {
		return fmt.Errorf("invalid %s_INIT_API_KEY format (expected 'dp_<64 hex chars>')", config.EnvPrefix)
	}

	err := svc.CreateAPIKeyWithToken(ctx, cfg.InitIdentity, "bootstrap", cfg.InitAPIKey)
	switch {
	case errors.Is(err, domain.ErrAPIKeyAlreadyExists):
		logger.Info("bootstrap: API key already exists", "identity", cfg.InitIdentity)
		return nil
	case err != nil:
		return err
	}
	logger.Info("bootstrap: created API key", "identity", cfg.InitIdentity)
	return nil
}

