package app

import (
	"context"
	"database/sql"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"

	"github.com/gradeflow/eval-service/internal/config"
	"github.com/gradeflow/eval-service/internal/delivery/httpd"
	"github.com/gradeflow/eval-service/internal/repository"
	"github.com/gradeflow/eval-service/internal/service"
	"github.com/gradeflow/eval-service/internal/service/archive"
	"github.com/gradeflow/eval-service/internal/service/fingerprint"
	"github.com/gradeflow/eval-service/internal/service/grading"
	"github.com/gradeflow/eval-service/internal/service/normalizer"
	"github.com/gradeflow/eval-service/internal/service/provider"
	"github.com/gradeflow/eval-service/internal/service/similarity"
	"github.com/gradeflow/eval-service/internal/worker"
	"github.com/gradeflow/eval-service/internal/worker/queue"
)

type App struct {
	server     *http.Server
	logger     zerolog.Logger
	config     *config.Config
	db         *sql.DB
	evalWorker worker.EvaluationWorker
	fpRepo     repository.FingerprintRepository
	index      *similarity.Index
	rabbitRepo repository.RabbitMQRepository
}

func New(cfg *config.Config, log zerolog.Logger, db *sql.DB) (*App, error) {
	rabbitRepo, err := repository.NewRabbitMQRepository(cfg.RabbitMQ.URL, log)
	if err != nil {
		return nil, err
	}

	if err := rabbitRepo.SetupTopology(cfg.RabbitMQ); err != nil {
		return nil, err
	}

	publisher := queue.NewRabbitMQPublisher(rabbitRepo.Channel(), log)
	consumer := queue.NewRabbitMQConsumer(
		rabbitRepo.Channel(),
		cfg.RabbitMQ.QueueName,
		cfg.RabbitMQ.ConsumerTag,
		cfg.RabbitMQ.PrefetchCount,
		log,
	)

	subRepo := repository.NewSubmissionRepository(db, log)
	canonicalRepo := repository.NewCanonicalRepository(db, log)
	fpRepo := repository.NewFingerprintRepository(db, log)
	resultRepo := repository.NewResultRepository(db, log)
	jobRepo := repository.NewJobRepository(db, log)
	rubricRepo := repository.NewRubricRepository(db, log)

	registry := normalizer.NewRegistry()
	norm := normalizer.New(registry, log)

	engine := fingerprint.NewEngine(fingerprint.Config{
		KGramSize:    cfg.Pipeline.KGramSize,
		WinnowWindow: cfg.Pipeline.WinnowWindow,
	}, log)

	index := similarity.NewIndex()
	scorer := similarity.NewScorer(index, canonicalRepo, similarity.Config{
		SimilarityThreshold: cfg.Pipeline.SimilarityThreshold,
		PreFilterThreshold:  cfg.Pipeline.PreFilterThreshold,
		ContainmentWeight:   cfg.Pipeline.ContainmentWeight,
		StructuralWeight:    cfg.Pipeline.StructuralWeight,
		MinTokenCount:       cfg.Pipeline.MinTokenCount,
		MinRegionTokens:     cfg.Pipeline.MinRegionTokens,
	}, log)

	adapter := provider.NewAdapter(provider.Config{
		URL:                cfg.Provider.URL,
		APIKey:             cfg.Provider.APIKey,
		Timeout:            cfg.Provider.Timeout,
		RetryCount:         cfg.Provider.RetryCount,
		RetryDelay:         cfg.Provider.RetryDelay,
		RateLimitPerMinute: cfg.Provider.RateLimitPerMinute,
		BreakerFailures:    cfg.Provider.BreakerFailures,
		BreakerCooldown:    cfg.Provider.BreakerCooldown,
	}, log)

	fallback := grading.NewFallbackScorer(log)

	orchestrator := grading.NewOrchestrator(
		norm,
		engine,
		scorer,
		index,
		adapter,
		fallback,
		subRepo,
		canonicalRepo,
		fpRepo,
		rubricRepo,
		resultRepo,
		jobRepo,
		grading.Config{AIEnabled: cfg.Provider.Enabled},
		log,
	)

	workerPool := worker.NewWorkerPool(cfg.Pipeline.MaxWorkers, log)
	evalWorker := worker.NewEvaluationWorker(
		workerPool,
		consumer,
		publisher,
		jobRepo,
		subRepo,
		orchestrator,
		cfg.RabbitMQ,
		cfg.Pipeline,
		log,
	)

	var storage archive.Storage
	if cfg.Storage.Enabled {
		storage, err = archive.NewMinIOStorage(cfg.Storage, log)
		if err != nil {
			return nil, err
		}
	} else {
		storage = archive.NewNoopStorage()
	}

	evalService := service.NewEvaluationService(
		registry,
		subRepo,
		jobRepo,
		resultRepo,
		rubricRepo,
		publisher,
		storage,
		cfg.RabbitMQ,
		log,
	)

	handler := httpd.NewHandler(evalService, log)

	router := chi.NewRouter()

	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(middleware.Logger)
	router.Use(middleware.Recoverer)
	router.Use(middleware.Timeout(60 * time.Second))

	router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CORS.AllowedOrigins,
		AllowedMethods:   cfg.CORS.AllowedMethods,
		AllowedHeaders:   cfg.CORS.AllowedHeaders,
		ExposedHeaders:   cfg.CORS.ExposedHeaders,
		AllowCredentials: cfg.CORS.AllowCredentials,
		MaxAge:           cfg.CORS.MaxAge,
	}))

	handler.RegisterRoutes(router)

	server := &http.Server{
		Addr:         cfg.Server.Address,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	return &App{
		server:     server,
		logger:     log,
		config:     cfg,
		db:         db,
		evalWorker: evalWorker,
		fpRepo:     fpRepo,
		index:      index,
		rabbitRepo: rabbitRepo,
	}, nil
}

func (a *App) Run() error {
	ctx := context.Background()

	if err := a.warmIndex(ctx); err != nil {
		a.logger.Error().Err(err).Msg("Failed to warm fingerprint index")
	}

	if err := a.evalWorker.Start(ctx); err != nil {
		a.logger.Error().Err(err).Msg("Failed to start evaluation worker")
		return err
	}

	a.logger.Info().Msgf("Starting eval service on %s", a.config.Server.Address)
	return a.server.ListenAndServe()
}

// RunWorker runs the queue consumer without the HTTP server, for scaling
// evaluation capacity independently of the API.
func (a *App) RunWorker(ctx context.Context) error {
	if err := a.warmIndex(ctx); err != nil {
		a.logger.Error().Err(err).Msg("Failed to warm fingerprint index")
	}

	if err := a.evalWorker.Start(ctx); err != nil {
		return err
	}

	a.logger.Info().Msg("Standalone evaluation worker running")
	<-ctx.Done()
	return nil
}

// warmIndex rebuilds the in-memory fingerprint corpus from the database so
// similarity scans see prior submissions after a restart.
func (a *App) warmIndex(ctx context.Context) error {
	start := time.Now()

	assignments, err := a.fpRepo.ListAssignmentIDs(ctx)
	if err != nil {
		return err
	}

	total := 0
	for _, assignmentID := range assignments {
		fps, err := a.fpRepo.ListByAssignment(ctx, assignmentID)
		if err != nil {
			return err
		}
		a.index.Load(assignmentID, fps)
		total += len(fps)
	}

	a.logger.Info().
		Int("assignments", len(assignments)).
		Int("fingerprints", total).
		Dur("elapsed", time.Since(start)).
		Msg("Fingerprint index warmed")
	return nil
}

func (a *App) Shutdown(ctx context.Context) error {
	a.logger.Info().Msg("Shutting down eval service...")

	if err := a.evalWorker.Stop(); err != nil {
		a.logger.Error().Err(err).Msg("Failed to stop evaluation worker")
	}

	if a.rabbitRepo != nil {
		if err := a.rabbitRepo.Close(); err != nil {
			a.logger.Error().Err(err).Msg("Failed to close RabbitMQ connection")
		}
	}

	if a.db != nil {
		if err := a.db.Close(); err != nil {
			a.logger.Error().Err(err).Msg("Failed to close database connection")
		}
	}

	if err := a.server.Shutdown(ctx); err != nil {
		a.logger.Error().Err(err).Msg("Failed to shutdown HTTP server")
		return err
	}

	a.logger.Info().Msg("Eval service stopped")
	return nil
}
