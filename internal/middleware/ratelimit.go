package middleware

import (
	"context"
	"fmt"
	"math"
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/lucidAkhtar/Social-Support-Agentic-AI/internal/config"
)

const maxTrackedClients = 100000

// RateLimiter is per-client-IP token bucket rate limiting middleware.
type RateLimiter struct {
	mu      sync.Mutex
	clients map[string]*client
	limit   rate.Limit
	burst   int
	now     func() time.Time
}

type client struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewRateLimiter creates a limiter allowing rps sustained requests per
// second per client with the given burst.
func NewRateLimiter(rps float64, burst int) *RateLimiter {
	return &RateLimiter{
		clients: make(map[string]*client),
		limit:   rate.Limit(rps),
		burst:   burst,
		now:     time.Now,
	}
}

// NewRateLimiterFromConfig creates a limiter from the rate section.
func NewRateLimiterFromConfig(cfg config.Rate) *RateLimiter {
	return NewRateLimiter(cfg.RequestsPerSecond, cfg.Burst)
}

// Handler returns HTTP middleware that enforces the limit.
func (rl *RateLimiter) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		lim, ok := rl.limiter(clientIP(r))
		if !ok {
			reject(w, time.Second)
			return
		}
		now := rl.now()
		res := lim.ReserveN(now, 1)
		if delay := res.DelayFrom(now); !res.OK() || delay > 0 {
			res.CancelAt(now)
			if delay <= 0 {
				delay = time.Second
			}
			reject(w, delay)
			return
		}
		w.Header().Set("X-RateLimit-Remaining", fmt.Sprintf("%d", int(math.Max(0, lim.TokensAt(now)))))
		next.ServeHTTP(w, r)
	})
}

func reject(w http.ResponseWriter, retryAfter time.Duration) {
	w.Header().Set("Retry-After", fmt.Sprintf("%.0f", math.Ceil(retryAfter.Seconds())))
	w.Header().Set("X-RateLimit-Remaining", "0")
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusTooManyRequests)
	_, _ = w.Write([]byte(`{"error":"rate limit exceeded"}`))
}

// limiter returns the bucket of ip. New clients are refused once the table
// is full.
func (rl *RateLimiter) limiter(ip string) (*rate.Limiter, bool) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	c, ok := rl.clients[ip]
	if !ok {
		if len(rl.clients) >= maxTrackedClients {
			return nil, false
		}
		c = &client{limiter: rate.NewLimiter(rl.limit, rl.burst)}
		rl.clients[ip] = c
	}
	c.lastSeen = rl.now()
	return c.limiter, true
}

// StartCleanup removes clients idle for longer than maxIdle every interval
// until the returned function is called.
func (rl *RateLimiter) StartCleanup(interval, maxIdle time.Duration) func() {
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				rl.cleanup(maxIdle)
			}
		}
	}()
	return cancel
}

func (rl *RateLimiter) cleanup(maxIdle time.Duration) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	cutoff := rl.now().Add(-maxIdle)
	for ip, c := range rl.clients {
		if c.lastSeen.Before(cutoff) {
			delete(rl.clients, ip)
		}
	}
}

// Len returns the number of tracked clients.
func (rl *RateLimiter) Len() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.clients)
}

// clientIP uses RemoteAddr only. Forwarded headers are honoured upstream by
// chi's RealIP when the service runs behind a trusted proxy.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
