package api

import (
	"context"
	"log/slog"
	"math"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"

	werrs "github.com/juchunko/site-worker/internal/errors"
	"github.com/juchunko/site-worker/internal/serverutil"
)

const (
	DefaultChatPerMinute = 10

	// Buckets untouched for this long are forgotten.
	limiterIdle = 10 * time.Minute
)

type clientLimiter struct {
	limiter    *rate.Limiter
	lastAccess time.Time
}

// Limiter gives every client IP its own token bucket.
type Limiter struct {
	mu      sync.Mutex
	clients map[string]*clientLimiter

	limit rate.Limit
	burst int
	now   func() time.Time
}

// NewLimiter allows each client perMinute requests a minute, all of which may be spent at once.
func NewLimiter(perMinute int) *Limiter {
	if perMinute <= 0 {
		perMinute = DefaultChatPerMinute
	}

	return &Limiter{
		clients: make(map[string]*clientLimiter),
		limit:   rate.Limit(float64(perMinute) / 60),
		burst:   perMinute,
		now:     time.Now,
	}
}

// Allow spends a token from key's bucket if there is one.
func (l *Limiter) Allow(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	c, ok := l.clients[key]
	if !ok {
		c = &clientLimiter{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.clients[key] = c
	}
	c.lastAccess = now

	return c.limiter.AllowN(now, 1)
}

// Sweep forgets idle clients and reports how many are left.
func (l *Limiter) Sweep() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	for key, c := range l.clients {
		if now.Sub(c.lastAccess) > limiterIdle {
			delete(l.clients, key)
		}
	}
	return len(l.clients)
}

// Run sweeps periodically until ctx is done.
func (l *Limiter) Run(ctx context.Context) error {
	ticker := time.NewTicker(limiterIdle / 2)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			left := l.Sweep()
			slog.DebugContext(ctx, "swept chat rate limiter", "clients", left)
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Middleware turns away clients that ran out of tokens with a 429.
func (l *Limiter) Middleware(next http.Handler) http.Handler {
	return serverutil.HandlerFuncE(func(w http.ResponseWriter, r *http.Request) error {
		ip := clientIP(r)
		if !l.Allow(ip) {
			slog.WarnContext(r.Context(), "chat rate limit exceeded", "client_ip", ip)

			// Time until one token is back
			retryAfter := max(int(math.Ceil(1/float64(l.limit))), 1)
			w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
			return werrs.E(http.StatusTooManyRequests, werrs.Reason("Too many requests"), "Too many requests. Please try again later.")
		}

		next.ServeHTTP(w, r)
		return nil
	})
}

// clientIP is the remote host. The proxy headers have already been folded into RemoteAddr.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
