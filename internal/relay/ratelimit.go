package relay

import (
	"net"
	"net/http"
	"sync"

	lru "github.com/hashicorp/golang-lru"
	"golang.org/x/time/rate"

	"relaystore/internal/config"
)

// maxTrackedClients bounds the number of per-address limiters kept.
const maxTrackedClients = 10_000

// rateLimiter bounds the request rate of each client address.
type rateLimiter struct {
	mu       sync.Mutex
	limiters *lru.Cache
	limit    rate.Limit
	burst    int
}

func newRateLimiter(cfg *config.RateLimiterConfig) (*rateLimiter, error) {
	limiters, err := lru.New(maxTrackedClients)
	if err != nil {
		return nil, err
	}
	return &rateLimiter{
		limiters: limiters,
		limit:    rate.Limit(cfg.PerSecond),
		burst:    cfg.Burst,
	}, nil
}

// Allow reports whether a request from r's address may proceed now.
func (l *rateLimiter) Allow(r *http.Request) bool {
	addr := clientAddr(r)

	l.mu.Lock()
	var limiter *rate.Limiter
	if v, ok := l.limiters.Get(addr); ok {
		limiter = v.(*rate.Limiter)
	} else {
		limiter = rate.NewLimiter(l.limit, l.burst)
		l.limiters.Add(addr, limiter)
	}
	l.mu.Unlock()

	return limiter.Allow()
}

func clientAddr(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
