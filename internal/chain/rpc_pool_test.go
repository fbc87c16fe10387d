package chain

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeEndpoint struct {
	fakeChain
	url    string
	closed bool
}

func (f *fakeEndpoint) HeaderByNumber(ctx context.Context, number *big.Int) (*ethtypes.Header, error) {
	return f.fakeChain.HeaderByNumber(ctx, number)
}

func (f *fakeEndpoint) Close() { f.closed = true }

type fakeNetwork struct {
	endpoints map[string]*fakeEndpoint
	refused   map[string]bool
	connected []string
}

func newFakeNetwork(urls ...string) *fakeNetwork {
	n := &fakeNetwork{endpoints: make(map[string]*fakeEndpoint), refused: make(map[string]bool)}
	for _, url := range urls {
		n.endpoints[url] = &fakeEndpoint{fakeChain: fakeChain{head: 1000}, url: url}
	}
	return n
}

func (n *fakeNetwork) connect(ctx context.Context, url string) (headerClient, error) {
	if n.refused[url] {
		return nil, errors.New("connection refused")
	}
	n.connected = append(n.connected, url)
	return n.endpoints[url], nil
}

var errTooManyRequests = errors.New("429 Too Many Requests")

func TestSplitEndpoints(t *testing.T) {
	assert.Equal(t, []string{"https://a", "https://b"}, SplitEndpoints(" https://a , ,https://b"))
	assert.Nil(t, SplitEndpoints(""))
	assert.Nil(t, SplitEndpoints(" , "))
}

func TestNewRPCPool(t *testing.T) {
	t.Run("no endpoints", func(t *testing.T) {
		_, err := newRPCPool(context.Background(), nil, time.Minute, newFakeNetwork().connect)
		require.Error(t, err)
	})

	t.Run("connects primary only", func(t *testing.T) {
		net := newFakeNetwork("https://a", "https://b")
		pool, err := newRPCPool(context.Background(), []string{"https://a", "https://b"}, time.Minute, net.connect)
		require.NoError(t, err)
		assert.Equal(t, []string{"https://a"}, net.connected)
		assert.Equal(t, 0, pool.Current())
	})

	t.Run("primary unreachable", func(t *testing.T) {
		net := newFakeNetwork("https://a")
		net.refused["https://a"] = true
		_, err := newRPCPool(context.Background(), []string{"https://a"}, time.Minute, net.connect)
		require.Error(t, err)
	})
}

func TestRPCPool_FailsOverOnRateLimit(t *testing.T) {
	net := newFakeNetwork("https://a", "https://b")
	net.endpoints["https://a"].err = errTooManyRequests

	pool, err := newRPCPool(context.Background(), []string{"https://a", "https://b"}, time.Minute, net.connect)
	require.NoError(t, err)

	header, err := pool.HeaderByNumber(quietContext(), big.NewInt(7))
	require.NoError(t, err)
	assert.Equal(t, uint64(7), header.Number.Uint64())
	assert.Equal(t, 1, pool.Current())
	assert.Equal(t, []string{"https://a", "https://b"}, net.connected)

	// sticks to the new endpoint
	_, err = pool.HeaderByNumber(quietContext(), big.NewInt(8))
	require.NoError(t, err)
	assert.Equal(t, 1, net.endpoints["https://a"].calls)
	assert.Equal(t, 2, net.endpoints["https://b"].calls)
}

func TestRPCPool_OtherErrorsDoNotFailOver(t *testing.T) {
	net := newFakeNetwork("https://a", "https://b")
	net.endpoints["https://a"].err = errors.New("header not found")

	pool, err := newRPCPool(context.Background(), []string{"https://a", "https://b"}, time.Minute, net.connect)
	require.NoError(t, err)

	_, err = pool.HeaderByNumber(quietContext(), big.NewInt(1))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "header not found")
	assert.Equal(t, 0, pool.Current())
	assert.Equal(t, 0, net.endpoints["https://b"].calls)
}

func TestRPCPool_AllRateLimited(t *testing.T) {
	net := newFakeNetwork("https://a", "https://b")
	net.endpoints["https://a"].err = errTooManyRequests
	net.endpoints["https://b"].err = errors.New("rate limit exceeded")

	pool, err := newRPCPool(context.Background(), []string{"https://a", "https://b"}, time.Minute, net.connect)
	require.NoError(t, err)

	_, err = pool.HeaderByNumber(quietContext(), nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rate limited")
}

func TestRPCPool_CooldownExpires(t *testing.T) {
	net := newFakeNetwork("https://a", "https://b")
	net.endpoints["https://a"].err = errTooManyRequests

	pool, err := newRPCPool(context.Background(), []string{"https://a", "https://b"}, time.Minute, net.connect)
	require.NoError(t, err)
	now := time.Unix(1700000000, 0)
	pool.now = func() time.Time { return now }

	_, err = pool.HeaderByNumber(quietContext(), nil)
	require.NoError(t, err)
	require.Equal(t, 1, pool.Current())

	// a recovers, b starts limiting after the cooldown elapsed
	net.endpoints["https://a"].err = nil
	net.endpoints["https://b"].err = errTooManyRequests
	now = now.Add(2 * time.Minute)

	_, err = pool.HeaderByNumber(quietContext(), nil)
	require.NoError(t, err)
	assert.Equal(t, 0, pool.Current())
}

func TestRPCPool_SkipsUnreachableEndpoint(t *testing.T) {
	net := newFakeNetwork("https://a", "https://b", "https://c")
	net.endpoints["https://a"].err = errTooManyRequests
	net.refused["https://b"] = true

	pool, err := newRPCPool(context.Background(), []string{"https://a", "https://b", "https://c"}, time.Minute, net.connect)
	require.NoError(t, err)

	_, err = pool.HeaderByNumber(quietContext(), nil)
	require.NoError(t, err)
	assert.Equal(t, 2, pool.Current())
}

func TestRPCPool_Close(t *testing.T) {
	net := newFakeNetwork("https://a", "https://b")
	net.endpoints["https://a"].err = errTooManyRequests

	pool, err := newRPCPool(context.Background(), []string{"https://a", "https://b"}, time.Minute, net.connect)
	require.NoError(t, err)
	_, err = pool.HeaderByNumber(quietContext(), nil)
	require.NoError(t, err)

	pool.Close()
	assert.True(t, net.endpoints["https://a"].closed)
	assert.True(t, net.endpoints["https://b"].closed)
}

func TestIsRateLimitError(t *testing.T) {
	assert.False(t, IsRateLimitError(nil))
	assert.True(t, IsRateLimitError(errTooManyRequests))
	assert.True(t, IsRateLimitError(errors.New("Rate limit reached")))
	assert.True(t, IsRateLimitError(errors.New("request throttled")))
	assert.False(t, IsRateLimitError(errors.New("connection reset")))
}
