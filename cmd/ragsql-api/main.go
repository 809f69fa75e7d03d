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

	"github.com/joho/godotenv"

	"github.com/ragsql/ragsql/internal/api"
	"github.com/ragsql/ragsql/internal/config"
	"github.com/ragsql/ragsql/internal/embedding"
	"github.com/ragsql/ragsql/internal/llm"
	"github.com/ragsql/ragsql/internal/migrations"
	"github.com/ragsql/ragsql/internal/observability"
	"github.com/ragsql/ragsql/internal/pgdb"
	"github.com/ragsql/ragsql/internal/pipeline"
	"github.com/ragsql/ragsql/internal/schema"
	"github.com/ragsql/ragsql/internal/storage"
	s3store "github.com/ragsql/ragsql/internal/storage/s3"
	"github.com/ragsql/ragsql/internal/target"
	duckdbtarget "github.com/ragsql/ragsql/internal/target/duckdb"
	pgtarget "github.com/ragsql/ragsql/internal/target/postgres"
	"github.com/ragsql/ragsql/internal/vectorstore"
	"github.com/ragsql/ragsql/internal/vectorstore/memory"
	pgvectorstore "github.com/ragsql/ragsql/internal/vectorstore/postgres"
)

type targetDeps struct {
	executor     target.Executor
	introspector target.Introspector
	health       func(ctx context.Context) error
	close        func() error
}

func main() {
	_ = godotenv.Load()

	cfg, err := config.LoadFromEnv("ragsql-api")
	if err != nil {
		slog.Error("failed to load config", slog.Any("error", err))
		os.Exit(1)
	}
	logger := observability.NewLogger(cfg, os.Stdout)

	startupCtx, cancelStartup := context.WithTimeout(context.Background(), time.Minute)
	defer cancelStartup()

	store, storeHealth, closeStore, err := openVectorStore(startupCtx, cfg, logger)
	if err != nil {
		logger.Error("failed to open vector store", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() { _ = closeStore() }()

	embedder, err := embedding.New(embedding.Config{
		Provider:      cfg.Embedding.Provider,
		BaseURL:       cfg.Embedding.BaseURL,
		Model:         cfg.Embedding.Model,
		APIKey:        cfg.Embedding.APIKey,
		Dimensions:    cfg.Embedding.Dimensions,
		BatchSize:     cfg.Embedding.BatchSize,
		Concurrency:   cfg.Embedding.Concurrency,
		MaxInputWords: cfg.Embedding.MaxInputWords,
		Timeout:       cfg.Embedding.Timeout,
	})
	if err != nil {
		logger.Error("failed to initialize embedding provider", slog.Any("error", err))
		os.Exit(1)
	}

	generator, err := llm.New(llm.Config{
		Provider:    cfg.LLM.Provider,
		Temperature: cfg.LLM.Temperature,
		MaxTokens:   cfg.LLM.MaxTokens,
		Timeout:     cfg.LLM.Timeout,
		Ollama:      llm.Endpoint{BaseURL: cfg.LLM.Ollama.BaseURL, Model: cfg.LLM.Ollama.Model},
		Groq:        llm.Endpoint(cfg.LLM.Groq),
		HuggingFace: llm.Endpoint(cfg.LLM.HuggingFace),
	})
	if err != nil {
		logger.Error("failed to initialize llm provider", slog.Any("error", err))
		os.Exit(1)
	}
	generator = llm.WithRetry(generator, llm.RetryPolicy{MaxRetries: cfg.LLM.MaxRetries, Delay: cfg.LLM.RetryDelay})

	targets, err := openTarget(startupCtx, cfg, logger)
	if err != nil {
		logger.Error("failed to open target database", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() { _ = targets.close() }()

	documents, documentsHealth, err := openDocuments(startupCtx, cfg)
	if err != nil {
		logger.Error("failed to initialize object store", slog.Any("error", err))
		os.Exit(1)
	}

	metric, err := vectorstore.ParseMetric(cfg.Retrieval.Metric)
	if err != nil {
		logger.Error("invalid retrieval metric", slog.Any("error", err))
		os.Exit(1)
	}
	chunker, err := schema.NewChunker(cfg.Retrieval.Granularity, cfg.Retrieval.MaxColumnsPerChunk, cfg.Embedding.MaxInputWords)
	if err != nil {
		logger.Error("invalid chunk settings", slog.Any("error", err))
		os.Exit(1)
	}

	service, err := pipeline.New(pipeline.Service{
		Chunker:      chunker,
		Embedder:     embedder,
		Store:        store,
		Generator:    generator,
		Executor:     targets.executor,
		Introspector: targets.introspector,
		Documents:    documents,
		Logger:       logger,
		Config: pipeline.Config{
			TopK:    cfg.Retrieval.TopK,
			MaxTopK: cfg.Retrieval.MaxTopK,
			Metric:  metric,
		},
	})
	if err != nil {
		logger.Error("failed to build pipeline", slog.Any("error", err))
		os.Exit(1)
	}

	handler := api.NewHandler(cfg, api.Dependencies{
		Logger:   logger,
		Pipeline: service,
		Readiness: api.CombineReadinessChecks(
			api.NamedCheck("vector_store", storeHealth),
			api.NamedCheck("target", targets.health),
			api.NamedCheck("object_store", documentsHealth),
		),
		DependencyTimeout: 2 * time.Second,
		IntrospectSchema:  cfg.Target.IntrospectSchema,
		MaxBodyBytes:      storage.DefaultMaxDocumentBytes,
	})
	server := &http.Server{
		Addr:         cfg.HTTP.Address,
		Handler:      handler,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
		IdleTimeout:  cfg.HTTP.IdleTimeout,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		logger.Info("starting api server",
			slog.String("addr", cfg.HTTP.Address),
			slog.String("vector_backend", cfg.VectorStore.Backend),
			slog.String("target_driver", cfg.Target.Driver),
			slog.String("llm_provider", generator.Name()),
		)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("api server failed", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	logger.Info("shutting down api server")
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", slog.Any("error", err))
		_ = server.Close()
		os.Exit(1)
	}
}

// openVectorStore applies pending migrations and builds the similarity
// index when the backend is postgres.
func openVectorStore(ctx context.Context, cfg config.Config, logger *slog.Logger) (vectorstore.Store, func(context.Context) error, func() error, error) {
	if cfg.VectorStore.Backend == "memory" {
		logger.Warn("using in-memory vector store; chunks are lost on restart")
		return memory.New(), nil, func() error { return nil }, nil
	}

	db, err := pgdb.Open(ctx, "vector store", cfg.VectorStore.DBPoolConfig)
	if err != nil {
		return nil, nil, nil, err
	}
	applied, err := migrations.NewRunner().Up(ctx, db, 0)
	if err != nil {
		_ = db.Close()
		return nil, nil, nil, fmt.Errorf("apply vector store migrations: %w", err)
	}
	if applied > 0 {
		logger.Info("applied vector store migrations", slog.Int("count", applied))
	}

	store := pgvectorstore.NewStore(db, logger)
	index := store.EnsureIndex(ctx)
	logger.Info("vector index ready", slog.String("index", index))
	return store, store.HealthCheck, db.Close, nil
}

func openTarget(ctx context.Context, cfg config.Config, logger *slog.Logger) (targetDeps, error) {
	opts := target.Options{
		RowLimit:         cfg.Target.RowLimit,
		StatementTimeout: cfg.Target.StatementTimeout,
		QueryTimeout:     cfg.Target.QueryTimeout,
	}

	switch cfg.Target.Driver {
	case "duckdb":
		tables, err := duckdbtarget.ParseParquetTables(cfg.Target.ParquetTables)
		if err != nil {
			return targetDeps{}, err
		}
		engine, err := duckdbtarget.Open(ctx, duckdbtarget.Config{
			Path:          cfg.Target.DuckDBPath,
			ParquetTables: tables,
			Options:       opts,
		}, logger)
		if err != nil {
			return targetDeps{}, err
		}
		return targetDeps{executor: engine, introspector: engine, health: engine.HealthCheck, close: engine.Close}, nil
	default:
		if cfg.Target.DSN == "" {
			logger.Warn("no target database configured; ask requires execute=false and introspection is disabled")
			return targetDeps{close: func() error { return nil }}, nil
		}
		db, err := pgdb.Open(ctx, "target", cfg.Target.DBPoolConfig)
		if err != nil {
			return targetDeps{}, err
		}
		executor, err := pgtarget.NewExecutor(db, opts, logger)
		if err != nil {
			_ = db.Close()
			return targetDeps{}, err
		}
		introspector, err := pgtarget.NewIntrospector(db)
		if err != nil {
			_ = db.Close()
			return targetDeps{}, err
		}
		return targetDeps{executor: executor, introspector: introspector, health: executor.HealthCheck, close: db.Close}, nil
	}
}

func openDocuments(ctx context.Context, cfg config.Config) (storage.DocumentStore, func(context.Context) error, error) {
	if !cfg.ObjectStore.Enabled {
		return nil, nil, nil
	}
	store, err := s3store.Open(ctx, cfg.ObjectStore)
	if err != nil {
		return nil, nil, err
	}
	return store, store.HealthCheck, nil
}
