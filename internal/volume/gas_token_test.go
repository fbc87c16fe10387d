package volume

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/subgraph-volume/internal/logging"
	"github.com/subgraph-volume/internal/pricing"
	"github.com/subgraph-volume/internal/types"
)

// recorder collects the order in which collaborators are invoked
type recorder struct {
	events []string
}

func (r *recorder) record(format string, args ...interface{}) {
	r.events = append(r.events, fmt.Sprintf(format, args...))
}

type stubResolver struct {
	rec    *recorder
	result *types.VolumeResult
}

func (s *stubResolver) Resolve(ctx context.Context, chain types.ChainID, opts types.FetchOptions) *types.VolumeResult {
	s.rec.record("resolve %s %d", chain, opts.EndTimestamp)
	return s.result
}

type stubBalances struct {
	rec      *recorder
	price    decimal.Decimal
	err      error
	amount   decimal.Decimal
	tokenKey string
}

func (b *stubBalances) Add(token string, amount decimal.Decimal, opts ...pricing.AddOption) {
	b.rec.record("add %s %s", token, amount.String())
	b.amount = b.amount.Add(amount)
	b.tokenKey = pricing.TokenKey(types.ChainEthereum, token, opts...)
}

func (b *stubBalances) GetUSDString(ctx context.Context) (string, error) {
	b.rec.record("getUSDString")
	if b.err != nil {
		return "", b.err
	}
	return b.amount.Mul(b.price).StringFixed(0), nil
}

type stubFactory struct {
	rec      *recorder
	balances *stubBalances
}

func (f *stubFactory) New(chain types.ChainID, timestamp int64) pricing.Balances {
	f.rec.record("balances %s %d", chain, timestamp)
	return f.balances
}

func float64Ptr(v float64) *float64 { return &v }
func uint64Ptr(v uint64) *uint64    { return &v }

func TestGasTokenResolver_InvocationOrder(t *testing.T) {
	rec := &recorder{}
	inner := &stubResolver{rec: rec, result: &types.VolumeResult{
		Timestamp:   testTS,
		Block:       uint64Ptr(100),
		TotalVolume: float64Ptr(5e9),
		DailyVolume: float64Ptr(1_000_000),
	}}
	balances := &stubBalances{rec: rec, price: decimal.NewFromInt(2)}
	factory := &stubFactory{rec: rec, balances: balances}

	r := NewGasTokenResolver(inner, "coingecko:ethereum", factory, logging.Nop())
	result := r.Resolve(context.Background(), types.ChainEthereum, testOptions())

	assert.Equal(t, []string{
		"resolve ethereum 1700050000",
		"balances ethereum 1700050000",
		"add coingecko:ethereum 1000000",
		"getUSDString",
	}, rec.events)

	require.NotNil(t, result.DailyVolumeUSD)
	assert.Equal(t, "2000000", *result.DailyVolumeUSD)
	assert.Nil(t, result.DailyVolume)
	assert.Nil(t, result.TotalVolume, "total volume is dropped")
	assert.Equal(t, uint64(100), *result.Block)
	assert.Equal(t, "coingecko:ethereum", balances.tokenKey)
}

func TestGasTokenResolver_RoundsToWholeUnits(t *testing.T) {
	rec := &recorder{}
	inner := &stubResolver{rec: rec, result: &types.VolumeResult{DailyVolume: float64Ptr(12.5)}}
	balances := &stubBalances{rec: rec, price: decimal.NewFromInt(1)}

	r := NewGasTokenResolver(inner, "coingecko:binancecoin", &stubFactory{rec: rec, balances: balances}, logging.Nop())
	r.Resolve(context.Background(), types.ChainBSC, testOptions())

	assert.Equal(t, "13", balances.amount.String())
}

func TestGasTokenResolver_NilDailySkipsPricing(t *testing.T) {
	rec := &recorder{}
	inner := &stubResolver{rec: rec, result: &types.VolumeResult{Timestamp: testTS}}
	factory := &stubFactory{rec: rec, balances: &stubBalances{rec: rec}}

	result := NewGasTokenResolver(inner, "coingecko:ethereum", factory, logging.Nop()).
		Resolve(context.Background(), types.ChainEthereum, testOptions())

	assert.Equal(t, []string{"resolve ethereum 1700050000"}, rec.events)
	assert.Nil(t, result.DailyVolumeUSD)
	assert.Nil(t, result.DailyVolume)
}

func TestGasTokenResolver_PricingFailure(t *testing.T) {
	rec := &recorder{}
	inner := &stubResolver{rec: rec, result: &types.VolumeResult{DailyVolume: float64Ptr(10)}}
	factory := &stubFactory{rec: rec, balances: &stubBalances{rec: rec, err: errors.New("prices unavailable")}}

	result := NewGasTokenResolver(inner, "coingecko:ethereum", factory, logging.Nop()).
		Resolve(context.Background(), types.ChainEthereum, testOptions())

	assert.Nil(t, result.DailyVolumeUSD)
	assert.Nil(t, result.DailyVolume)
	assert.Nil(t, result.TotalVolume)
	assert.Equal(t, testTS, result.Timestamp)
}
