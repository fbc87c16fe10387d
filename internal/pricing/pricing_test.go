package pricing

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/subgraph-volume/internal/errors"
	"github.com/subgraph-volume/internal/logging"
	"github.com/subgraph-volume/internal/types"
)

type stubSource struct {
	prices    map[string]CoinPrice
	err       error
	gotTS     int64
	gotCoins  []string
	callCount int
}

func (s *stubSource) Prices(ctx context.Context, timestamp int64, coins []string) (map[string]CoinPrice, error) {
	s.callCount++
	s.gotTS = timestamp
	s.gotCoins = coins
	return s.prices, s.err
}

func quietContext() context.Context {
	return logging.WithLogger(context.Background(), logging.Nop())
}

func int32Ptr(v int32) *int32 { return &v }

func TestTokenKey(t *testing.T) {
	assert.Equal(t, "coingecko:ethereum", TokenKey(types.ChainBSC, "coingecko:ethereum", SkipChain()))
	assert.Equal(t, "ethereum:0xabc", TokenKey(types.ChainEthereum, "0xABC"))
	assert.Equal(t, "WETH", TokenKey(types.ChainEthereum, "WETH", SkipChain()))
}

func TestLedger_GetUSDString(t *testing.T) {
	source := &stubSource{prices: map[string]CoinPrice{
		"coingecko:ethereum": {Price: decimal.RequireFromString("2000.5")},
		"ethereum:0xusdc":    {Price: decimal.NewFromInt(1), Decimals: int32Ptr(6)},
	}}
	ledger := NewLedger(types.ChainEthereum, 1700000000, source)

	ledger.Add("coingecko:ethereum", decimal.NewFromInt(10), SkipChain())
	ledger.Add("coingecko:ethereum", decimal.NewFromInt(2), SkipChain())
	ledger.Add("0xUSDC", decimal.NewFromInt(3_500_000))

	usd, err := ledger.GetUSDString(quietContext())
	require.NoError(t, err)
	// 12 * 2000.5 + 3.5 = 24009.5, rounded half away from zero
	assert.Equal(t, "24010", usd)
	assert.Equal(t, int64(1700000000), source.gotTS)
	assert.Equal(t, []string{"coingecko:ethereum", "ethereum:0xusdc"}, source.gotCoins)
}

func TestLedger_SkipsUnpricedTokens(t *testing.T) {
	source := &stubSource{prices: map[string]CoinPrice{
		"coingecko:ethereum": {Price: decimal.NewFromInt(100)},
	}}
	ledger := NewLedger(types.ChainEthereum, 1, source)
	ledger.Add("coingecko:ethereum", decimal.NewFromInt(2), SkipChain())
	ledger.Add("coingecko:unknown", decimal.NewFromInt(1000), SkipChain())

	usd, err := ledger.GetUSDString(quietContext())
	require.NoError(t, err)
	assert.Equal(t, "200", usd)
}

func TestLedger_EmptyDoesNotQuery(t *testing.T) {
	source := &stubSource{}
	usd, err := NewLedger(types.ChainEthereum, 1, source).GetUSDString(quietContext())
	require.NoError(t, err)
	assert.Equal(t, "0", usd)
	assert.Equal(t, 0, source.callCount)
}

func TestLedger_SourceFailure(t *testing.T) {
	ledger := NewLedger(types.ChainEthereum, 1, &stubSource{err: errors.New("unavailable")})
	ledger.Add("coingecko:ethereum", decimal.NewFromInt(1), SkipChain())

	_, err := ledger.GetUSDString(quietContext())
	require.Error(t, err)
	assert.True(t, apperrors.IsCategory(err, apperrors.CategoryPricing))
}

func TestLedgerFactory_New(t *testing.T) {
	factory := NewLedgerFactory(&stubSource{})
	b := factory.New(types.ChainFantom, 42)

	ledger, ok := b.(*Ledger)
	require.True(t, ok)
	assert.Equal(t, types.ChainFantom, ledger.chain)
	assert.Equal(t, int64(42), ledger.timestamp)
}

func TestCoinsClient_Prices(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/prices/historical/1700000000/coingecko:ethereum,ethereum:0xusdc", r.URL.Path)
		w.Write([]byte(`{"coins":{
			"coingecko:ethereum":{"price":2011.37,"symbol":"ETH","timestamp":1699999990,"confidence":0.99},
			"ethereum:0xusdc":{"decimals":6,"price":1.0001,"symbol":"USDC","timestamp":1699999990,"confidence":0.99}
		}}`))
	}))
	defer server.Close()

	client := NewCoinsClient(server.URL, 5*time.Second)
	prices, err := client.Prices(quietContext(), 1700000000, []string{"coingecko:ethereum", "ethereum:0xusdc"})
	require.NoError(t, err)

	require.Len(t, prices, 2)
	assert.True(t, decimal.RequireFromString("2011.37").Equal(prices["coingecko:ethereum"].Price))
	assert.Nil(t, prices["coingecko:ethereum"].Decimals)
	require.NotNil(t, prices["ethereum:0xusdc"].Decimals)
	assert.Equal(t, int32(6), *prices["ethereum:0xusdc"].Decimals)
}

func TestCoinsClient_ClientErrorNotRetried(t *testing.T) {
	calls := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer server.Close()

	_, err := NewCoinsClient(server.URL, time.Second).Prices(quietContext(), 1, []string{"coingecko:ethereum"})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
	assert.True(t, apperrors.IsCategory(err, apperrors.CategoryService))
}

func TestCoinPrice_Value(t *testing.T) {
	p := CoinPrice{Price: decimal.NewFromInt(2), Decimals: int32Ptr(18)}
	got := p.Value(decimal.RequireFromString("1500000000000000000"))
	assert.True(t, decimal.NewFromInt(3).Equal(got))
}
