package auth

import (
	"net"
	"net/http"
	"sync"

	"golang.org/x/time/rate"

	"github.com/sentinelmesh/core/pkg/api/problem"
)

// RateLimiter enforces a per-actor token bucket. The actor is the
// authenticated wallet address when present, the remote IP otherwise.
type RateLimiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	rps      rate.Limit
	burst    int
}

// NewRateLimiter allows rps sustained requests per actor with the given
// burst.
func NewRateLimiter(rps float64, burst int) *RateLimiter {
	return &RateLimiter{
		limiters: make(map[string]*rate.Limiter),
		rps:      rate.Limit(rps),
		burst:    burst,
	}
}

func (rl *RateLimiter) limiter(actor string) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	l, ok := rl.limiters[actor]
	if !ok {
		l = rate.NewLimiter(rl.rps, rl.burst)
		rl.limiters[actor] = l
	}
	return l
}

// Middleware wraps a handler with the rate limit. Runs after the JWT
// middleware so authenticated actors are limited per wallet, not per IP.
func (rl *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		actor := r.RemoteAddr
		if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
			actor = host
		}
		if claims, ok := ClaimsFrom(r.Context()); ok {
			actor = claims.Subject
		}

		if !rl.limiter(actor).Allow() {
			problem.WriteTooManyRequests(w, 1)
			return
		}
		next.ServeHTTP(w, r)
	})
}
