package service

import (
	"github.com/subgraph-volume/internal/config"
	"github.com/subgraph-volume/internal/logging"
	"github.com/subgraph-volume/internal/pricing"
	"github.com/subgraph-volume/internal/subgraph"
	"github.com/subgraph-volume/internal/volume"
)

// BuildAdapter wires the subgraph client and the coin price source described
// by cfg into an adapter over every enabled chain.
func BuildAdapter(cfg *config.Config, logger *logging.Logger) (*volume.Adapter, error) {
	executor := subgraph.NewClient(&subgraph.ClientConfig{
		Timeout:      cfg.Subgraph.Timeout,
		RPS:          cfg.Subgraph.RPS,
		Burst:        cfg.Subgraph.Burst,
		MaxAttempts:  cfg.Subgraph.MaxAttempts,
		InitialDelay: cfg.Subgraph.InitialDelay,
	})
	prices := pricing.NewCoinsClient(cfg.Pricing.BaseURL, cfg.Pricing.Timeout)

	return volume.FromConfig(cfg, volume.Deps{
		Executor: executor,
		Balances: pricing.NewLedgerFactory(prices),
		Logger:   logger,
	})
}
