package chain

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/subgraph-volume/internal/logging"
)

// DefaultCooldown is how long a rate limited endpoint is skipped
const DefaultCooldown = 60 * time.Second

// headerClient is a connected endpoint
type headerClient interface {
	HeaderReader
	Close()
}

type connectFunc func(ctx context.Context, url string) (headerClient, error)

func connectEthclient(ctx context.Context, url string) (headerClient, error) {
	return ethclient.DialContext(ctx, url)
}

// RPCPool is a HeaderReader over several endpoints of one chain.
// It sticks to the current endpoint until it is rate limited, then moves to
// the next endpoint that is not cooling down. Endpoints are connected lazily.
type RPCPool struct {
	mu        sync.Mutex
	endpoints []string
	clients   []headerClient
	current   int
	cooldowns map[int]time.Time
	cooldown  time.Duration
	connect   connectFunc
	now       func() time.Time
}

// SplitEndpoints parses a comma separated endpoint list, dropping blanks
func SplitEndpoints(urls string) []string {
	var endpoints []string
	for _, ep := range strings.Split(urls, ",") {
		if ep = strings.TrimSpace(ep); ep != "" {
			endpoints = append(endpoints, ep)
		}
	}
	return endpoints
}

// NewRPCPool connects to the first endpoint and returns the pool
func NewRPCPool(ctx context.Context, endpoints []string, cooldown time.Duration) (*RPCPool, error) {
	return newRPCPool(ctx, endpoints, cooldown, connectEthclient)
}

func newRPCPool(ctx context.Context, endpoints []string, cooldown time.Duration, connect connectFunc) (*RPCPool, error) {
	if len(endpoints) == 0 {
		return nil, fmt.Errorf("at least one RPC endpoint is required")
	}
	if cooldown <= 0 {
		cooldown = DefaultCooldown
	}

	pool := &RPCPool{
		endpoints: endpoints,
		clients:   make([]headerClient, len(endpoints)),
		cooldowns: make(map[int]time.Time),
		cooldown:  cooldown,
		connect:   connect,
		now:       time.Now,
	}

	client, err := connect(ctx, endpoints[0])
	if err != nil {
		return nil, fmt.Errorf("failed to connect to primary RPC endpoint: %w", err)
	}
	pool.clients[0] = client
	return pool, nil
}

// HeaderByNumber implements HeaderReader, failing over on rate limit errors
func (p *RPCPool) HeaderByNumber(ctx context.Context, number *big.Int) (*ethtypes.Header, error) {
	for attempt := 0; attempt < len(p.endpoints); attempt++ {
		client, index := p.active()

		header, err := client.HeaderByNumber(ctx, number)
		if err == nil || !IsRateLimitError(err) {
			return header, err
		}

		logging.FromContext(ctx).WithError(err).WithField("endpoint_index", index).Warn("RPC endpoint rate limited")
		if switchErr := p.onRateLimited(ctx, index); switchErr != nil {
			return nil, fmt.Errorf("%w: %v", switchErr, err)
		}
	}
	return nil, fmt.Errorf("all %d RPC endpoints are rate limited", len(p.endpoints))
}

func (p *RPCPool) active() (headerClient, int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.clients[p.current], p.current
}

// onRateLimited puts index in cooldown and switches to the next available endpoint
func (p *RPCPool) onRateLimited(ctx context.Context, index int) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.cooldowns[index] = p.now()
	if p.current != index {
		// another caller already moved on
		return nil
	}

	for i := 1; i <= len(p.endpoints); i++ {
		next := (index + i) % len(p.endpoints)

		if since, ok := p.cooldowns[next]; ok {
			if p.now().Sub(since) < p.cooldown {
				continue
			}
			delete(p.cooldowns, next)
		}

		if p.clients[next] == nil {
			client, err := p.connect(ctx, p.endpoints[next])
			if err != nil {
				logging.FromContext(ctx).WithError(err).WithField("endpoint_index", next).Warn("Failed to connect RPC endpoint")
				continue
			}
			p.clients[next] = client
		}

		p.current = next
		return nil
	}

	return fmt.Errorf("all %d RPC endpoints are rate limited", len(p.endpoints))
}

// Current returns the index of the endpoint in use
func (p *RPCPool) Current() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.current
}

// IsRateLimitError reports whether err looks like a provider rate limit
func IsRateLimitError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "429") ||
		strings.Contains(msg, "rate limit") ||
		strings.Contains(msg, "too many requests") ||
		strings.Contains(msg, "throttl")
}

// Close closes every connected endpoint
func (p *RPCPool) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()

	for i, client := range p.clients {
		if client != nil {
			client.Close()
			p.clients[i] = nil
		}
	}
}
