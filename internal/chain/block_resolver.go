// Package chain resolves Unix timestamps to historical block numbers.
package chain

import (
	"context"
	"fmt"
	"math/big"

	ethtypes "github.com/ethereum/go-ethereum/core/types"

	apperrors "github.com/subgraph-volume/internal/errors"
	"github.com/subgraph-volume/internal/types"
)

// HeaderReader is the subset of ethclient.Client used for block lookups
type HeaderReader interface {
	HeaderByNumber(ctx context.Context, number *big.Int) (*ethtypes.Header, error)
}

// Resolver maps a timestamp to a block number on one chain
type Resolver interface {
	BlockAt(ctx context.Context, timestamp int64) (uint64, error)
}

// BlockResolver finds blocks by binary search over header timestamps
type BlockResolver struct {
	chain  types.ChainID
	client HeaderReader
	closer func()
}

// NewBlockResolver creates a resolver over an existing header reader
func NewBlockResolver(chain types.ChainID, client HeaderReader) *BlockResolver {
	return &BlockResolver{chain: chain, client: client}
}

// Dial connects to the RPC endpoints of chain and returns a resolver for it.
// rpcURL may list several comma separated endpoints used for failover.
func Dial(ctx context.Context, chain types.ChainID, rpcURL string) (*BlockResolver, error) {
	endpoints := SplitEndpoints(rpcURL)
	if len(endpoints) == 0 {
		return nil, apperrors.NewInvalidParameterError("rpcURL", fmt.Sprintf("no RPC endpoint configured for %s", chain))
	}
	pool, err := NewRPCPool(ctx, endpoints, DefaultCooldown)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s RPC: %w", chain, err)
	}
	r := NewBlockResolver(chain, pool)
	r.closer = pool.Close
	return r, nil
}

// Close releases the RPC connection if the resolver owns one
func (r *BlockResolver) Close() {
	if r.closer != nil {
		r.closer()
	}
}

// Chain returns the chain this resolver serves
func (r *BlockResolver) Chain() types.ChainID {
	return r.chain
}

// BlockAt returns the last block whose timestamp is at or before timestamp.
// Timestamps past the chain head resolve to the head.
func (r *BlockResolver) BlockAt(ctx context.Context, timestamp int64) (uint64, error) {
	head, err := r.client.HeaderByNumber(ctx, nil)
	if err != nil {
		return 0, apperrors.NewBlockResolutionError(r.chain, timestamp, err)
	}

	latest := head.Number.Uint64()
	if timestamp >= int64(head.Time) {
		return latest, nil
	}

	low := uint64(0)
	high := latest

	for low < high {
		mid := low + (high-low+1)/2

		header, err := r.client.HeaderByNumber(ctx, new(big.Int).SetUint64(mid))
		if err != nil {
			return 0, apperrors.NewBlockResolutionError(r.chain, timestamp, err)
		}

		if int64(header.Time) <= timestamp {
			low = mid
		} else {
			high = mid - 1
		}
	}

	return low, nil
}

// Func adapts a Resolver to the capability handed to fetch functions
func Func(r Resolver) types.BlockResolverFunc {
	return r.BlockAt
}
