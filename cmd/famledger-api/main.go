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

	"github.com/famledger/famledger/internal/api"
	"github.com/famledger/famledger/internal/auth"
	"github.com/famledger/famledger/internal/compose"
	"github.com/famledger/famledger/internal/config"
	"github.com/famledger/famledger/internal/gate"
	"github.com/famledger/famledger/internal/gateway"
	"github.com/famledger/famledger/internal/ledger/postgres"
	"github.com/famledger/famledger/internal/nlsql"
	"github.com/famledger/famledger/internal/observability"
	"github.com/famledger/famledger/internal/schema"
)

func main() {
	cfg, err := config.LoadFromEnv("famledger-api")
	if err != nil {
		slog.Error("failed to load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg, os.Stdout)
	ledgerDB, err := postgres.Open(context.Background(), postgres.DBConfig{
		DSN:             cfg.Database.DSN,
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxIdleTime: cfg.Database.ConnMaxIdleTime,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
	})
	if err != nil {
		logger.Error("failed to open ledger db", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() { _ = ledgerDB.Close() }()

	repository := postgres.NewRepository(ledgerDB)
	auditStore := postgres.NewAuditStore(ledgerDB)
	executor := postgres.NewExecutor(ledgerDB, postgres.ExecutorConfig{
		StatementTimeout: cfg.Gateway.StatementTimeout,
		MaxRows:          cfg.Gateway.MaxRows,
	})

	descriptor := schema.Default()
	validator := gate.New(descriptor, gate.Config{
		DefaultLimit: cfg.Gateway.DefaultLimit,
		LimitCeiling: cfg.Gateway.LimitCeiling,
	})

	var synthesizer nlsql.Synthesizer
	var composer *compose.Composer
	if cfg.AI.Enabled {
		openAI, err := nlsql.NewOpenAISynthesizer(nlsql.OpenAIConfig{
			BaseURL:     cfg.AI.BaseURL,
			APIKey:      cfg.AI.APIKey,
			Model:       cfg.AI.Model,
			Temperature: cfg.AI.Temperature,
			Timeout:     cfg.AI.Timeout,
		})
		if err != nil {
			logger.Error("failed to initialize synthesizer", slog.Any("error", err))
			os.Exit(1)
		}
		synthesizer = openAI
		composer = compose.New(openAI)
	} else {
		synthesizer = nlsql.Unavailable{}
		composer = compose.New(nil)
	}

	queryGateway, err := gateway.New(gateway.Config{
		Synthesizer: synthesizer,
		Validator:   validator,
		Executor:    executor,
		Composer:    composer,
		Descriptor:  descriptor,
		Audit:       auditStore,
		Logger:      logger,
	})
	if err != nil {
		logger.Error("failed to build query gateway", slog.Any("error", err))
		os.Exit(1)
	}

	deps := api.Dependencies{
		Logger:     logger,
		Repository: repository,
		Gateway:    queryGateway,
		Descriptor: descriptor,
		Readiness: api.CombineReadinessChecks(
			repository.HealthCheck,
			api.CheckDatabaseDSN(cfg),
		),
		DependencyTimeout: time.Second,
	}
	if cfg.Auth.Required {
		validator, err := auth.NewStaticAPIKeyValidator(cfg.Auth.StaticKeys)
		if err != nil {
			logger.Error("failed to parse static auth keys", slog.Any("error", err))
			os.Exit(1)
		}
		deps.AuthMiddleware = auth.Middleware(logger, validator)
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
