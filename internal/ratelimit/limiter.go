// Package ratelimit paces requests per remote endpoint.
package ratelimit

import (
	"context"
	"sync"

	"golang.org/x/time/rate"
)

// EndpointLimiter keeps one token bucket per endpoint
type EndpointLimiter struct {
	mu       sync.RWMutex
	limiters map[string]*rate.Limiter
	limit    rate.Limit
	burst    int
}

// NewEndpointLimiter creates a limiter allowing rps requests per second per endpoint.
// rps <= 0 disables limiting.
func NewEndpointLimiter(rps float64, burst int) *EndpointLimiter {
	limit := rate.Limit(rps)
	if rps <= 0 {
		limit = rate.Inf
	}
	if burst < 1 {
		burst = 1
	}
	return &EndpointLimiter{
		limiters: make(map[string]*rate.Limiter),
		limit:    limit,
		burst:    burst,
	}
}

func (l *EndpointLimiter) get(endpoint string) *rate.Limiter {
	l.mu.RLock()
	limiter, ok := l.limiters[endpoint]
	l.mu.RUnlock()
	if ok {
		return limiter
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	// Double-check in case another goroutine created it
	if limiter, ok := l.limiters[endpoint]; ok {
		return limiter
	}
	limiter = rate.NewLimiter(l.limit, l.burst)
	l.limiters[endpoint] = limiter
	return limiter
}

// Wait blocks until a request to endpoint may proceed or ctx is done
func (l *EndpointLimiter) Wait(ctx context.Context, endpoint string) error {
	return l.get(endpoint).Wait(ctx)
}

// Allow reports whether a request to key may proceed now without waiting
func (l *EndpointLimiter) Allow(key string) bool {
	return l.get(key).Allow()
}
