package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/maltedev/landed-cost/internal/api"
	"github.com/maltedev/landed-cost/internal/config"
	"github.com/maltedev/landed-cost/internal/database"
	"github.com/maltedev/landed-cost/internal/events"
	"github.com/maltedev/landed-cost/internal/fx"
	"github.com/maltedev/landed-cost/internal/importcost"
	"github.com/maltedev/landed-cost/internal/ratelimit"
	"github.com/maltedev/landed-cost/internal/tariff"
)

func main() {
	if err := config.LoadDotEnv(getEnv("ENV_FILE", ".env")); err != nil {
		slog.Error("failed to read env file", "error", err)
		os.Exit(1)
	}

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	// Setup logging
	logger := cfg.Logging.NewLogger(os.Stdout)
	slog.SetDefault(logger)

	// Setup context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Database connection
	db, err := database.New(ctx, database.Config{
		Host:     cfg.Database.Host,
		Port:     cfg.Database.Port,
		User:     cfg.Database.User,
		Password: cfg.Database.Password,
		Database: cfg.Database.Name,
		SSLMode:  cfg.Database.SSLMode,
		MaxConns: cfg.Database.MaxConns,
	})
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	if cfg.Database.AutoMigrate {
		if err := db.EnsureSchema(ctx); err != nil {
			logger.Error("failed to ensure schema", "error", err)
			os.Exit(1)
		}
	}

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer redisClient.Close()

	// Test Redis connection
	if err := redisClient.Ping(ctx).Err(); err != nil {
		logger.Error("failed to connect to Redis", "error", err)
		os.Exit(1)
	}

	// Duty rates
	table, err := tariff.LoadTable(cfg.Tariff.TablePath)
	if err != nil {
		logger.Error("failed to load tariff table", "path", cfg.Tariff.TablePath, "error", err)
		os.Exit(1)
	}
	logger.Info("tariff table loaded", "path", cfg.Tariff.TablePath, "codes", table.Len())
	tariffs := tariff.NewCachedSource(table, redisClient, cfg.Tariff.CacheTTL, logger)

	// Exchange rates
	var rates fx.Provider
	if cfg.FX.StaticRate.IsPositive() {
		logger.Info("using static exchange rate", "usd_inr", cfg.FX.StaticRate.String())
		rates = fx.StaticProvider{Value: cfg.FX.StaticRate}
	} else {
		fixer := fx.NewFixerClient(fx.FixerOptions{
			BaseURL: cfg.FX.BaseURL,
			APIKey:  cfg.FX.APIKey,
			Timeout: cfg.FX.Timeout,
			Limiter: ratelimit.NewIntervalLimiter(cfg.FX.MinInterval, time.Minute),
		}, logger)
		rates = fx.NewCachedProvider(fixer, redisClient, cfg.FX.CacheTTL, logger)
	}

	policy, err := cfg.Fallback.FallbackPolicy()
	if err != nil {
		logger.Error("invalid fallback policy", "error", err)
		os.Exit(1)
	}

	// Initialize event publisher with database (for transactional outbox)
	publisher := events.NewPublisher(db, logger)

	service := importcost.NewService(tariffs, rates, publisher, importcost.Config{
		Policy: policy,
		Buffer: cfg.FX.Buffer,
	}, logger)

	// Initialize and start Relay for outbox processing
	relay := database.NewRelay(database.NewOutboxRepository(db), redisClient, logger, database.RelayConfig{
		PollInterval: cfg.Outbox.PollInterval,
		BatchSize:    cfg.Outbox.BatchSize,
		StreamMaxLen: cfg.Outbox.StreamMaxLen,
	})
	go func() {
		if err := relay.Run(ctx); err != nil && err != context.Canceled {
			logger.Error("relay stopped with error", "error", err)
		}
	}()

	handlers := api.NewHandlers(service, database.NewCalculationRepository(db), relay, db, logger)
	router := api.NewRouter(handlers, api.RouterOptions{
		AllowedOrigins: cfg.Server.AllowedOrigins,
		Timeout:        cfg.Server.WriteTimeout,
	})

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	// Graceful shutdown
	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
		<-sigChan

		logger.Info("shutting down server...")
		cancel()

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer shutdownCancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("server shutdown failed", "error", err)
		}
	}()

	logger.Info("server starting", "port", cfg.Server.Port, "fallback_policy", policy.Name)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("server failed", "error", err)
		os.Exit(1)
	}

	logger.Info("server stopped")
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
