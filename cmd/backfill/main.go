// Package main provides the daily volume backfill entry point.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/subgraph-volume/internal/chain"
	"github.com/subgraph-volume/internal/config"
	"github.com/subgraph-volume/internal/logging"
	"github.com/subgraph-volume/internal/service"
	"github.com/subgraph-volume/internal/storage"
	"github.com/subgraph-volume/internal/types"
	"github.com/subgraph-volume/internal/volume"
)

const dayLayout = "2006-01-02"

func main() {
	var (
		chainsFlag = flag.String("chain", "", "Comma separated chains to backfill (default: every configured chain)")
		fromFlag   = flag.String("from", "", "First day YYYY-MM-DD (default: day after the latest complete stored day, or the chain's start)")
		toFlag     = flag.String("to", "", "Last day YYYY-MM-DD (default: yesterday)")
	)
	flag.Parse()

	fmt.Println("Subgraph Volume Backfill")

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logging.InitGlobalLogger(logging.ParseLogLevel(cfg.Logging.Level), logging.ParseLogFormat(cfg.Logging.Format))
	logger := logging.GetGlobalLogger()

	to := time.Now().UTC().Add(-24 * time.Hour)
	if *toFlag != "" {
		to, err = time.Parse(dayLayout, *toFlag)
		if err != nil {
			logger.WithError(err).Fatal("Invalid -to day")
		}
	}
	var from time.Time
	if *fromFlag != "" {
		from, err = time.Parse(dayLayout, *fromFlag)
		if err != nil {
			logger.WithError(err).Fatal("Invalid -from day")
		}
	}

	clickhouse, err := storage.NewClickHouseDB(&cfg.Database.ClickHouse)
	if err != nil {
		logger.WithError(err).Fatal("Failed to connect to ClickHouse")
	}
	defer clickhouse.Close()

	var blockCache redis.Cmdable
	redisCache, err := storage.NewRedisCache(&cfg.Database.Redis)
	if err != nil {
		logger.WithError(err).Warn("Redis unavailable, block lookups will not be cached")
	} else {
		defer redisCache.Close()
		blockCache = redisCache.Client()
	}

	adapter, err := service.BuildAdapter(cfg, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to build volume adapter")
	}

	chains := adapter.ChainIDs()
	if *chainsFlag != "" {
		chains = nil
		for _, name := range strings.Split(*chainsFlag, ",") {
			if id := types.NormalizeChainID(name); id != "" {
				chains = append(chains, id)
			}
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("Shutdown signal received, stopping backfill...")
		cancel()
	}()

	blocks := chain.DialAll(ctx, cfg.Chains, blockCache, cfg.Cache.BlockTTL, logger)
	defer blocks.Close()

	volumeRepo := storage.NewVolumeRepository(clickhouse)
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

	failed := 0
	for _, id := range chains {
		if ctx.Err() != nil {
			break
		}
		chainLog := logger.WithField("chain", id)

		chainFrom := from
		if chainFrom.IsZero() {
			chainFrom, err = resumeDay(ctx, volumeRepo, adapter, id)
			if err != nil {
				chainLog.WithError(err).Error("Cannot determine first day to backfill")
				failed++
				continue
			}
			if chainFrom.After(to) {
				chainLog.Info("Already up to date")
				continue
			}
		}

		run, err := backfill.Run(ctx, service.BackfillRequest{Chain: id, From: chainFrom, To: to})
		if err != nil {
			chainLog.WithError(err).Error("Backfill failed")
			failed++
			continue
		}
		chainLog.WithFields(map[string]interface{}{
			"run_id": run.RunID,
			"days":   run.DaysFetched,
		}).Info("Backfill finished")
	}

	if failed > 0 {
		logger.Fatalf("%d of %d chains failed", failed, len(chains))
	}
}

// resumeDay returns the day after the latest day stored with a daily figure, or
// the chain's start when there is none
func resumeDay(ctx context.Context, repo *storage.VolumeRepository, adapter *volume.Adapter, id types.ChainID) (time.Time, error) {
	latest, ok, err := repo.LatestCompleteDay(ctx, id)
	if err != nil {
		return time.Time{}, err
	}
	if ok {
		return latest.AddDate(0, 0, 1), nil
	}

	ca, err := adapter.Chain(id)
	if err != nil {
		return time.Time{}, err
	}
	start, err := ca.Start(ctx)
	if err != nil {
		return time.Time{}, err
	}
	return time.Unix(start, 0).UTC(), nil
}
