package volume

import (
	"context"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/subgraph-volume/internal/logging"
	"github.com/subgraph-volume/internal/subgraph"
	"github.com/subgraph-volume/internal/types"
)

// VolumeResolver produces the volume observation for one chain.
// Resolve never fails; undeterminable values are left nil.
type VolumeResolver interface {
	Resolve(ctx context.Context, chain types.ChainID, opts types.FetchOptions) *types.VolumeResult
}

// BasicResolver queries total and daily volume straight from a subgraph
type BasicResolver struct {
	endpoints types.ChainEndpoints
	cfg       QueryConfig
	executor  subgraph.Executor
	logger    *logging.Logger

	totalQuery string
	dailyQuery string
}

var _ VolumeResolver = (*BasicResolver)(nil)

// NewResolver validates cfg and returns a resolver over the given endpoints
func NewResolver(endpoints types.ChainEndpoints, cfg QueryConfig, executor subgraph.Executor, logger *logging.Logger) (*BasicResolver, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}

	r := &BasicResolver{
		endpoints: endpoints,
		cfg:       cfg,
		executor:  executor,
		logger:    logger,
	}
	if cfg.HasTotalVolume {
		r.totalQuery = RenderTotalVolumeQuery(cfg.TotalVolume)
	}
	if cfg.HasDailyVolume {
		if cfg.CustomDailyVolume != "" {
			r.dailyQuery = RenderCustomDailyQuery(cfg.CustomDailyVolume)
		} else {
			r.dailyQuery = RenderDailyVolumeQuery(cfg.DailyVolume)
		}
	}
	return r, nil
}

// Config returns the query configuration
func (r *BasicResolver) Config() QueryConfig {
	return r.cfg
}

// Resolve runs the block lookup and total query on one goroutine and the daily
// query with its fallback on another.
func (r *BasicResolver) Resolve(ctx context.Context, chain types.ChainID, opts types.FetchOptions) *types.VolumeResult {
	endpoint := r.endpoints[chain]
	logger := r.logger.WithFields(map[string]interface{}{
		"chain":    chain,
		"endpoint": endpoint,
	})

	var (
		block Result[uint64]
		total Result[decimal.Decimal]
		daily Result[decimal.Decimal]
	)

	var g errgroup.Group
	g.Go(func() error {
		block = r.resolveBlock(ctx, opts, logger)
		if r.cfg.HasTotalVolume {
			total = r.fetchTotal(ctx, chain, endpoint, block, logger)
		}
		return ctx.Err()
	})
	g.Go(func() error {
		if r.cfg.HasDailyVolume {
			daily = r.fetchDaily(ctx, chain, endpoint, opts.EndTimestamp, logger)
		}
		return ctx.Err()
	})
	if err := g.Wait(); err != nil {
		logger.WithError(err).Warn("Volume resolution interrupted")
	}

	return &types.VolumeResult{
		Timestamp:   opts.EndTimestamp,
		Block:       block.Ptr(),
		TotalVolume: floatPtr(total),
		DailyVolume: floatPtr(daily),
	}
}

func (r *BasicResolver) resolveBlock(ctx context.Context, opts types.FetchOptions, logger *logging.Logger) Result[uint64] {
	resolve := r.cfg.CustomBlock
	if resolve == nil {
		resolve = opts.GetEndBlock
	}
	if resolve == nil {
		logger.Debug("No block resolver available, querying without block")
		return Result[uint64]{}
	}

	block, err := resolve(ctx, opts.EndTimestamp)
	if err != nil {
		logger.WithError(err).WithField("timestamp", opts.EndTimestamp).Warn("Failed to resolve block")
		return Failed[uint64](err)
	}
	return Found(block)
}

func (r *BasicResolver) fetchTotal(ctx context.Context, chain types.ChainID, endpoint string, block Result[uint64], logger *logging.Logger) Result[decimal.Decimal] {
	vars := map[string]interface{}{"block": nil}
	if block.OK {
		vars["block"] = block.Value
	}

	data, err := r.run(ctx, chain, endpoint, "total volume", r.totalQuery, vars, logger)
	if err != nil {
		return Failed[decimal.Decimal](err)
	}

	total := sumField(data, r.cfg.TotalVolume.Entity, r.cfg.TotalVolume.Field)
	if total.Err != nil {
		logger.WithError(total.Err).Warn("Total volume response has unexpected shape")
	}
	return total
}

func (r *BasicResolver) fetchDaily(ctx context.Context, chain types.ChainID, endpoint string, ts int64, logger *logging.Logger) Result[decimal.Decimal] {
	var vars map[string]interface{}
	if r.cfg.CustomDailyVolume == "" {
		vars = map[string]interface{}{"id": DayBucketID(ts)}
	}

	daily := Result[decimal.Decimal]{}
	data, err := r.run(ctx, chain, endpoint, "daily volume", r.dailyQuery, vars, logger)
	if err == nil {
		daily = fieldOf(data, r.cfg.DailyVolume.Entity, r.cfg.DailyVolume.Field)
	}

	// Zero is indistinguishable from a missing record here, both fall back
	if daily.OK && !daily.Value.IsZero() {
		return daily
	}

	return r.fetchDailyRecords(ctx, chain, endpoint, ts, logger)
}

// fetchDailyRecords sums every per-day record dated at the start of the UTC day,
// for subgraphs that shard a day across pools or pairs.
func (r *BasicResolver) fetchDailyRecords(ctx context.Context, chain types.ChainID, endpoint string, ts int64, logger *logging.Logger) Result[decimal.Decimal] {
	query := RenderDailyRecordsQuery(r.cfg.DailyVolume, StartOfDay(ts))

	data, err := r.run(ctx, chain, endpoint, "daily volume via alternative query", query, nil, logger)
	if err != nil {
		return Failed[decimal.Decimal](err)
	}

	daily := sumField(data, Pluralize(r.cfg.DailyVolume.Entity), r.cfg.DailyVolume.Field)
	if daily.Err != nil {
		logger.WithError(daily.Err).Warn("Daily records response has unexpected shape")
	}
	return daily
}

// run executes a query, recovering the partial payload of a failed query when
// the service returned one.
func (r *BasicResolver) run(ctx context.Context, chain types.ChainID, endpoint, what, query string, vars map[string]interface{}, logger *logging.Logger) (subgraph.Data, error) {
	data, err := r.executor.Query(ctx, endpoint, query, vars)
	if err == nil {
		return data, nil
	}

	if partial, ok := subgraph.PartialData(err); ok {
		logger.WithError(err).Debugf("Using partial data for %s", what)
		return partial, nil
	}

	logger.WithQuery(string(chain), endpoint, query).WithError(err).
		Errorf("Failed to get %s on %s %s", what, chain, endpoint)
	return nil, err
}
