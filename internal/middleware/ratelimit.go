package middleware

import (
	"context"
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"

	apperrors "github.com/triviaquiz/triviaquiz/internal/errors"
	"github.com/triviaquiz/triviaquiz/internal/logger"
)

// RateLimiter hands out one token bucket per client key.
type RateLimiter struct {
	interval time.Duration
	burst    int
	idleTTL  time.Duration
	proxies  TrustedProxies

	mu      sync.Mutex
	clients map[string]*client
}

type client struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

type RateLimitOption func(*RateLimiter)

// WithTrustedProxies lets requests relayed by these proxies be keyed on the
// forwarded client address instead of the proxy's.
func WithTrustedProxies(proxies TrustedProxies) RateLimitOption {
	return func(rl *RateLimiter) { rl.proxies = proxies }
}

// NewRateLimiter allows perMinute requests per client per minute, with the
// full minute's allowance available as a burst. Clients are keyed on the
// connection's remote address.
func NewRateLimiter(perMinute int, opts ...RateLimitOption) *RateLimiter {
	if perMinute <= 0 {
		perMinute = 1
	}
	rl := &RateLimiter{
		interval: time.Minute / time.Duration(perMinute),
		burst:    perMinute,
		idleTTL:  10 * time.Minute,
		clients:  make(map[string]*client),
	}
	for _, opt := range opts {
		opt(rl)
	}
	return rl
}

// Allow consumes a token for key.
func (rl *RateLimiter) Allow(key string) bool {
	rl.mu.Lock()
	c, ok := rl.clients[key]
	if !ok {
		c = &client{limiter: rate.NewLimiter(rate.Every(rl.interval), rl.burst)}
		rl.clients[key] = c
	}
	c.lastSeen = time.Now()
	rl.mu.Unlock()

	return c.limiter.Allow()
}

// Run evicts idle clients until ctx is cancelled.
func (rl *RateLimiter) Run(ctx context.Context) {
	ticker := time.NewTicker(rl.idleTTL)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			rl.evictIdle(time.Now())
		}
	}
}

func (rl *RateLimiter) evictIdle(now time.Time) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	for key, c := range rl.clients {
		if now.Sub(c.lastSeen) > rl.idleTTL {
			delete(rl.clients, key)
		}
	}
}

// Middleware rejects requests over the limit with 429 RATE_LIMITED.
func (rl *RateLimiter) Middleware(log *logger.Logger) func(http.Handler) http.Handler {
	log = log.WithComponent("ratelimit")

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip := rl.proxies.ClientIP(r)
			if !rl.Allow(ip) {
				log.Warn(r.Context(), "rate limit exceeded", map[string]interface{}{
					"ip":     ip,
					"method": r.Method,
					"path":   r.URL.Path,
				})
				w.Header().Set("Retry-After", strconv.Itoa(int(rl.interval/time.Second)+1))
				apperrors.WriteError(w, apperrors.GetRequestID(r.Context()), apperrors.RateLimited())
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
