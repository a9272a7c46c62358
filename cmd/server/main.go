package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/snake-arena/internal/auth"
	"github.com/snake-arena/internal/config"
	"github.com/snake-arena/internal/handler"
	"github.com/snake-arena/internal/kafka"
	"github.com/snake-arena/internal/memory"
	"github.com/snake-arena/internal/postgres"
	"github.com/snake-arena/internal/redis"
	"github.com/snake-arena/internal/seed"
	"github.com/snake-arena/internal/service"
	"github.com/snake-arena/internal/sqlite"
	"github.com/snake-arena/internal/store"
	"github.com/snake-arena/internal/websocket"
	"github.com/snake-arena/internal/worker"
)

func main() {
	// Parse command line flags
	configPath := flag.String("config", "config.yaml", "Path to configuration file")
	seedDemo := flag.Bool("seed", false, "Load demo users and leaderboard entries on startup")
	flag.Parse()

	// Setup structured logging
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	records, pinger, err := openStore(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to open record store", "backend", cfg.Store.Backend, "error", err)
		os.Exit(1)
	}
	defer records.Close()
	logger.Info("record store ready", "backend", cfg.Store.Backend)

	// Identity provider
	tokens, err := auth.NewTokenService(cfg.Auth.JWTSecret, cfg.Auth.Issuer, cfg.Auth.TokenTTL)
	if err != nil {
		logger.Error("invalid auth configuration", "error", err)
		os.Exit(1)
	}
	passwords := auth.NewPasswordService(cfg.Auth.BcryptCost)

	if *seedDemo {
		if _, err := seed.NewSeeder(records, passwords, logger).Run(ctx); err != nil {
			logger.Error("failed to seed demo data", "error", err)
			os.Exit(1)
		}
	}

	// Initialize services
	liveService := service.NewLiveService(records, records, logger)
	authService := service.NewAuthService(records, tokens, passwords, logger)

	// Initialize WebSocket hub
	wsHub := websocket.NewHub(liveService, cfg.Server.StoreTimeout, logger)
	go wsHub.Run()
	logger.Info("WebSocket hub initialized")

	leaderboardService := service.NewLeaderboardService(
		records,
		records,
		wsHub,
		&cfg.Leaderboard,
		logger,
	)

	// Idle session reaper
	reaper := worker.NewReaper(liveService, &cfg.Live, logger)
	reaper.Start(ctx)

	// Initialize Kafka consumer for game result ingestion
	var kafkaConsumer *kafka.Consumer
	if cfg.Kafka.Enabled {
		logger.Info("initializing Kafka consumer",
			"brokers", cfg.Kafka.Brokers,
			"topic", cfg.Kafka.Topic,
		)
		var err error
		kafkaConsumer, err = kafka.NewConsumer(&cfg.Kafka, leaderboardService, logger)
		if err != nil {
			logger.Warn("failed to create Kafka consumer, continuing without Kafka", "error", err)
		} else {
			if err := kafkaConsumer.Start(); err != nil {
				logger.Warn("failed to start Kafka consumer, continuing without Kafka", "error", err)
				kafkaConsumer = nil
			} else {
				logger.Info("Kafka consumer started successfully")
			}
		}
	}

	httpHandler := handler.NewHandler(handler.Dependencies{
		Auth:         authService,
		Leaderboard:  leaderboardService,
		Live:         liveService,
		Hub:          wsHub,
		Store:        pinger,
		StoreTimeout: cfg.Server.StoreTimeout,
	}, logger)

	// Create HTTP server
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      httpHandler.Router(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// Start server in goroutine
	go func() {
		logger.Info("starting HTTP server", "port", cfg.Server.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("HTTP server error", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server...")

	// Create shutdown context with timeout
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	// Shutdown HTTP server
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("failed to shutdown server", "error", err)
	}

	// Stop Kafka consumer
	if kafkaConsumer != nil {
		if err := kafkaConsumer.Stop(); err != nil {
			logger.Error("failed to stop Kafka consumer", "error", err)
		}
	}

	reaper.Stop()
	wsHub.Stop()

	logger.Info("server stopped")
}

// openStore connects the configured Record Store backend. The returned
// Pinger is nil for backends with nothing to probe.
func openStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (store.Store, handler.Pinger, error) {
	switch cfg.Store.Backend {
	case config.BackendMemory:
		return memory.New(), nil, nil

	case config.BackendSQLite:
		db, err := sqlite.New(cfg.Store.SQLitePath, logger)
		if err != nil {
			return nil, nil, err
		}
		return db, db, nil

	case config.BackendPostgres:
		logger.Info("connecting to PostgreSQL", "host", cfg.Postgres.Host, "database", cfg.Postgres.Database)
		repo, err := postgres.NewRepository(ctx, &cfg.Postgres, logger)
		if err != nil {
			return nil, nil, err
		}
		if err := repo.RunMigrations(ctx); err != nil {
			repo.Close()
			return nil, nil, fmt.Errorf("running migrations: %w", err)
		}
		return repo, repo, nil

	case config.BackendRedis:
		logger.Info("connecting to Redis", "addr", cfg.Redis.Addr)
		st, err := redis.NewStore(ctx, &cfg.Redis, logger)
		if err != nil {
			return nil, nil, err
		}
		return st, st, nil

	default:
		return nil, nil, fmt.Errorf("unknown store backend %q", cfg.Store.Backend)
	}
}
