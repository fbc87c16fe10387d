// Package main provides the API server entry point for the subgraph volume service.
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/subgraph-volume/internal/api"
	"github.com/subgraph-volume/internal/chain"
	"github.com/subgraph-volume/internal/config"
	"github.com/subgraph-volume/internal/logging"
	"github.com/subgraph-volume/internal/service"
	"github.com/subgraph-volume/internal/storage"
	"github.com/subgraph-volume/internal/worker"
)

func main() {
	fmt.Println("Subgraph Volume API Server")

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logging.InitGlobalLogger(logging.ParseLogLevel(cfg.Logging.Level), logging.ParseLogFormat(cfg.Logging.Format))
	logger := logging.GetGlobalLogger()
	logger.WithFields(map[string]interface{}{
		"level":  cfg.Logging.Level,
		"format": cfg.Logging.Format,
	}).Info("Structured logging initialized")

	dependencies := make(map[string]api.PingFunc)

	// Redis backs the block and volume caches; the server runs uncached without it
	var (
		blockCache  redis.Cmdable
		volumeCache service.VolumeCacher
	)
	redisCache, err := storage.NewRedisCache(&cfg.Database.Redis)
	if err != nil {
		logger.WithError(err).Warn("Redis unavailable, running without cache")
	} else {
		defer redisCache.Close()
		blockCache = redisCache.Client()
		volumeCache = storage.NewVolumeCache(redisCache, cfg.Cache.VolumeTTL)
		dependencies["redis"] = redisCache.Ping
	}

	// ClickHouse serves the stored history
	var (
		history    service.VolumeHistory
		volumeRepo *storage.VolumeRepository
	)
	clickhouse, err := storage.NewClickHouseDB(&cfg.Database.ClickHouse)
	if err != nil {
		logger.WithError(err).Warn("ClickHouse unavailable, history endpoint disabled")
	} else {
		defer clickhouse.Close()
		volumeRepo = storage.NewVolumeRepository(clickhouse)
		history = volumeRepo
		dependencies["clickhouse"] = clickhouse.Ping
	}

	adapter, err := service.BuildAdapter(cfg, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to build volume adapter")
	}

	dialCtx, dialCancel := context.WithTimeout(context.Background(), 30*time.Second)
	blocks := chain.DialAll(dialCtx, cfg.Chains, blockCache, cfg.Cache.BlockTTL, logger)
	dialCancel()
	defer blocks.Close()

	volumeService := service.NewVolumeService(adapter, blocks.Funcs(), volumeCache, history)

	logger.WithField("chains", adapter.ChainIDs()).Info("Services initialized")

	workerCtx, workerCancel := context.WithCancel(context.Background())
	defer workerCancel()

	var syncWorker *worker.DailySyncWorker
	if cfg.Backfill.SyncEnabled && volumeRepo != nil {
		backfill := service.NewBackfillService(
			adapter,
			blocks.Funcs(),
			volumeRepo,
			storage.NewBackfillRunRepository(clickhouse),
			service.BackfillConfig{
				BatchDays:   cfg.Backfill.BatchDays,
				Concurrency: cfg.Backfill.Concurrency,
			},
			logger,
		)
		syncWorker, err = worker.NewDailySyncWorker(&worker.DailySyncConfig{
			Chains:       adapter.ChainIDs(),
			Backfiller:   backfill,
			Progress:     volumeRepo,
			PollInterval: cfg.Backfill.SyncInterval,
			MaxDays:      cfg.Backfill.SyncMaxDays,
			Logger:       logger,
		})
		if err != nil {
			logger.WithError(err).Fatal("Failed to create daily sync worker")
		}
		if err := syncWorker.Start(workerCtx); err != nil {
			logger.WithError(err).Fatal("Failed to start daily sync worker")
		}
	} else if cfg.Backfill.SyncEnabled {
		logger.Warn("Daily sync requires ClickHouse, worker not started")
	}

	serverConfig := &api.ServerConfig{
		Host:            cfg.Server.Host,
		Port:            cfg.Server.Port,
		ReadTimeout:     15 * time.Second,
		WriteTimeout:    2 * cfg.Subgraph.Timeout,
		IdleTimeout:     60 * time.Second,
		ShutdownTimeout: 10 * time.Second,
		RPS:             cfg.Server.RPS,
	}

	server := api.NewServer(serverConfig, volumeService, dependencies)

	go func() {
		if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Fatal("Server failed to start")
		}
	}()

	logger.WithFields(map[string]interface{}{
		"host": cfg.Server.Host,
		"port": cfg.Server.Port,
	}).Info("Server started successfully")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), serverConfig.ShutdownTimeout)
	defer cancel()

	if syncWorker != nil {
		if err := syncWorker.Stop(ctx); err != nil {
			logger.WithError(err).Warn("Daily sync worker did not stop cleanly")
		}
	}

	if err := server.Shutdown(ctx); err != nil {
		logger.WithError(err).Fatal("Server forced to shutdown")
	}

	logger.Info("Server exited")
}
