package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Iriajul/LLM-model/internal/api"
	"github.com/Iriajul/LLM-model/internal/auth"
	"github.com/Iriajul/LLM-model/internal/cache"
	"github.com/Iriajul/LLM-model/internal/config"
	"github.com/Iriajul/LLM-model/internal/executor"
	"github.com/Iriajul/LLM-model/internal/llm"
	"github.com/Iriajul/LLM-model/internal/observability"
	"github.com/Iriajul/LLM-model/internal/pipeline"
	"github.com/Iriajul/LLM-model/internal/schema"
	"github.com/Iriajul/LLM-model/internal/sqlcheck"
)

func main() {
	cfg, err := config.LoadFromEnv("nl2sql-api")
	if err != nil {
		slog.Error("failed to load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg, os.Stdout)

	db, err := schema.Open(context.Background(), schema.DBConfig{
		DSN:             cfg.Database.DSN,
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxIdleTime: cfg.Database.ConnMaxIdleTime,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
	})
	if err != nil {
		logger.Error("failed to open database", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() { _ = db.Close() }()

	introspector := schema.NewPostgresIntrospector(db)
	catalog := schema.NewCatalog(introspector, cfg.Database.Schema, cfg.Database.SchemaStaleAfter, logger)

	healthProbes := map[string]api.HealthProbe{
		"database": introspector.HealthCheck,
	}

	var answerCache cache.Store = cache.Noop{}
	if cfg.Redis.URL != "" {
		redisStore, err := cache.NewRedisStore(cache.RedisConfig{
			URL:       cfg.Redis.URL,
			KeyPrefix: cfg.Redis.KeyPrefix,
			OpTimeout: cfg.Redis.OpTimeout,
			TTL:       cfg.Pipeline.AnswerTTL,
		}, logger)
		if err != nil {
			logger.Error("failed to initialize answer cache", slog.Any("error", err))
			os.Exit(1)
		}
		defer func() { _ = redisStore.Close() }()
		answerCache = redisStore
		healthProbes["redis"] = redisStore.Ping
	}

	generator, err := llm.NewOpenAIClient(llm.OpenAIConfig{
		BaseURL:     cfg.AI.BaseURL,
		APIKey:      cfg.AI.APIKey,
		Model:       cfg.AI.Model,
		Temperature: cfg.AI.Temperature,
		Timeout:     cfg.AI.Timeout,
	})
	if err != nil {
		logger.Error("failed to initialize sql generator", slog.Any("error", err))
		os.Exit(1)
	}

	validator := sqlcheck.New(sqlcheck.DefaultPolicy().WithMaxComplexity(cfg.Validator.MaxComplexity))
	queryExecutor := executor.New(db, executor.Config{
		StatementTimeout: cfg.Pipeline.StatementTimeout,
		RowLimit:         cfg.Pipeline.RowLimit,
	})

	runner, err := pipeline.New(pipeline.Dependencies{
		Schema:    catalog,
		Generator: generator,
		Validator: validator,
		Executor:  queryExecutor,
		Cache:     answerCache,
		Logger:    logger,
	}, pipeline.Config{
		MaxAttempts: cfg.Pipeline.MaxAttempts,
		ConfigEpoch: cfg.Pipeline.ConfigEpoch,
	})
	if err != nil {
		logger.Error("failed to assemble pipeline", slog.Any("error", err))
		os.Exit(1)
	}

	deps := api.Dependencies{
		Logger:   logger,
		Pipeline: runner,
		Catalog:  catalog,
		Readiness: api.CombineReadinessChecks(
			api.CheckDatabaseDSN(cfg),
			api.CheckAIConfig(cfg),
			introspector.HealthCheck,
		),
		HealthProbes:      healthProbes,
		DependencyTimeout: time.Second,
	}
	if cfg.Auth.Required {
		keyValidator, err := auth.NewStaticAPIKeyValidator(cfg.Auth.StaticKeys)
		if err != nil {
			logger.Error("failed to parse static auth keys", slog.Any("error", err))
			os.Exit(1)
		}
		deps.AuthMiddleware = auth.Middleware(logger, keyValidator)
	}

	handler := api.NewHandler(cfg, deps)
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
		logger.Info("starting api server", slog.String("addr", cfg.HTTP.Address))
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
