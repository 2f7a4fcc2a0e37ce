package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"rentradar/internal/api"
	"rentradar/internal/config"
	"rentradar/internal/dedup"
	"rentradar/internal/monitoring"
	"rentradar/internal/storage"
	"rentradar/internal/task"
)

func main() {
	// Initialize structured logger
	logger, _ := zap.NewProduction()
	defer logger.Sync()

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("could not load config", zap.Error(err))
	}

	// Initialize Storage Layer
	pgStore, err := storage.NewPostgresStore(cfg.PostgresURL)
	if err != nil {
		logger.Fatal("failed to connect to postgres", zap.Error(err))
	}
	defer pgStore.Close()
	if err := pgStore.InitSchema(context.Background()); err != nil {
		logger.Fatal("failed to initialize schema", zap.Error(err))
	}

	redisStore := storage.NewRedisStore(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	defer redisStore.Close()

	// Initialize Monitoring
	metrics := monitoring.NewMetrics()

	// Trigger path: enqueue dedup in front of the task queue
	locks := dedup.NewManager(redisStore, cfg.DedupTTL(), logger)
	service := task.NewService(redisStore, locks, logger)

	// Initialize API Server
	server := api.NewServer(cfg, service, pgStore, redisStore, metrics, logger)

	// Graceful Shutdown
	go func() {
		if err := server.Start(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("could not start server", zap.Error(err))
		}
	}()

	logger.Info("api server started", zap.String("port", cfg.ServerPort))

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Fatal("server forced to shutdown", zap.Error(err))
	}

	logger.Info("server exiting")
}
