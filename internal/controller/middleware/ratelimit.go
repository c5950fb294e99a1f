package middleware

import (
	"net/http"
	"sync"
	"time"

	"docflow/internal/auth"

	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

const (
	defaultRPS      = 20
	defaultBurst    = 40
	defaultLimitTTL = 5 * time.Minute
)

// RateLimiter applies a token bucket per authenticated principal.
type RateLimiter struct {
	rps      rate.Limit
	burst    int
	ttl      time.Duration
	now      func() time.Time
	limiters sync.Map // principal ID -> *cachedLimiter
}

type RateLimitOption func(*RateLimiter)

// WithLimit sets the sustained rate and the burst of every bucket.
func WithLimit(rps float64, burst int) RateLimitOption {
	return func(l *RateLimiter) {
		l.rps = rate.Limit(rps)
		l.burst = burst
	}
}

// WithTTL sets how long a bucket lives before it is rebuilt.
func WithTTL(ttl time.Duration) RateLimitOption {
	return func(l *RateLimiter) { l.ttl = ttl }
}

func NewRateLimiter(opts ...RateLimitOption) *RateLimiter {
	l := &RateLimiter{
		rps:   defaultRPS,
		burst: defaultBurst,
		ttl:   defaultLimitTTL,
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Middleware must run after AuthMiddleware.
func (l *RateLimiter) Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p, ok := auth.PrincipalFromContext(r.Context())
			if !ok {
				writeError(w, "Unauthorized", http.StatusUnauthorized)
				return
			}

			if !l.limiter(p.ID).Allow() {
				w.Header().Set("Retry-After", "1")
				writeError(w, "Too Many Requests", http.StatusTooManyRequests)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

type cachedLimiter struct {
	limiter   *rate.Limiter
	expiresAt time.Time
}

func (l *RateLimiter) limiter(id uuid.UUID) *rate.Limiter {
	now := l.now()
	if v, ok := l.limiters.Load(id); ok {
		cached := v.(*cachedLimiter)
		if now.Before(cached.expiresAt) {
			return cached.limiter
		}
	}

	limiter := rate.NewLimiter(l.rps, l.burst)
	l.limiters.Store(id, &cachedLimiter{
		limiter:   limiter,
		expiresAt: now.Add(l.ttl),
	})
	return limiter
}
