package main

import (
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"rentradar/internal/config"
	"rentradar/internal/dedup"
	"rentradar/internal/domain"
	"rentradar/internal/scheduler"
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

	redisStore := storage.NewRedisStore(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	defer redisStore.Close()

	locks := dedup.NewManager(redisStore, cfg.DedupTTL(), logger)
	service := task.NewService(redisStore, locks, logger)

	sched := scheduler.New(service, logger)
	if err := sched.Add(cfg.CronListings, domain.TaskCrawlNaver, domain.TaskCrawlZigbang); err != nil {
		logger.Fatal("invalid listings cron spec", zap.Error(err))
	}
	if err := sched.Add(cfg.CronTrades, domain.TaskCrawlRealTrade); err != nil {
		logger.Fatal("invalid trades cron spec", zap.Error(err))
	}

	sched.Start()
	logger.Info("scheduler started",
		zap.String("listings_cron", cfg.CronListings),
		zap.String("trades_cron", cfg.CronTrades))

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down scheduler...")
	<-sched.Stop().Done()
	logger.Info("scheduler exiting")
}
