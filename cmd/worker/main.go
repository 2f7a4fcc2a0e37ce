package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"rentradar/internal/config"
	"rentradar/internal/crawler"
	"rentradar/internal/dedup"
	"rentradar/internal/domain"
	"rentradar/internal/fetch"
	"rentradar/internal/monitoring"
	"rentradar/internal/storage"
	"rentradar/internal/task"
)

const browserUserAgent = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/131.0.0.0 Safari/537.36"

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

	fetchCfg := fetch.Config{
		Timeout:           cfg.RequestTimeout,
		MaxRetries:        cfg.MaxRetries,
		BaseDelay:         cfg.BaseDelay,
		MaxBackoff:        cfg.MaxBackoff,
		JitterFrac:        cfg.JitterFrac,
		PaceInterval:      cfg.PaceInterval,
		CooldownThreshold: cfg.CooldownThreshold,
		CooldownDuration:  cfg.CooldownDuration,
	}

	zigbangClient := fetch.NewClient(domain.SourceZigbang, fetchCfg, map[string]string{
		"User-Agent": browserUserAgent,
		"Referer":    "https://zigbang.com/",
	}, logger, metrics)
	naverClient := fetch.NewClient(domain.SourceNaver, fetchCfg, map[string]string{
		"User-Agent": browserUserAgent,
		"Referer":    "https://new.land.naver.com/articles",
	}, logger, metrics)
	molitClient := fetch.NewClient("molit", fetchCfg, nil, logger, metrics)

	// Initialize Task Executor
	locks := dedup.NewManager(redisStore, cfg.DedupTTL(), logger)
	executor := task.NewExecutor(pgStore, locks, cfg.StaleMatchFilters, logger, metrics)
	executor.Register(domain.TaskCrawlZigbang, crawler.NewZigbang(zigbangClient, cfg.ZigbangBaseURL, cfg.TargetRegionCodes, logger))
	executor.Register(domain.TaskCrawlNaver, crawler.NewNaver(naverClient, cfg.NaverBaseURL, cfg.TargetRegionCodes, logger))
	executor.Register(domain.TaskCrawlRealTrade, crawler.NewPublicAPI(molitClient, crawler.PublicAPIConfig{
		Endpoint:    cfg.PublicDataEndpoint,
		APIKey:      cfg.PublicDataAPIKey,
		Regions:     cfg.TargetRegionCodes,
		FetchMonths: cfg.FetchMonths,
	}, logger))

	worker := task.NewWorker(redisStore, executor, cfg.WorkerPollTimeout, cfg.ResultTTL(), logger)

	// Expose prometheus metrics; each role binary serves its own endpoint.
	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		if err := http.ListenAndServe(":"+cfg.ServerPort, mux); err != nil && err != http.ErrServerClosed {
			logger.Error("metrics listener failed", zap.Error(err))
		}
	}()

	// Graceful Shutdown
	ctx, cancel := context.WithCancel(context.Background())
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-quit
		logger.Info("shutting down worker...")
		cancel()
	}()

	logger.Info("worker started", zap.Duration("poll_timeout", cfg.WorkerPollTimeout))

	if err := worker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Fatal("worker stopped unexpectedly", zap.Error(err))
	}

	logger.Info("worker exiting")
}
