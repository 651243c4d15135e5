package middleware

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// SharedLimiter is a limiter whose state is shared between replicas.
// cache.RedisClient satisfies it.
type SharedLimiter interface {
	AllowAction(ctx context.Context, clientKey, action string, rate, burst int) (bool, error)
}

type limiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter limits requests per key, such as a client IP or stream key.
type RateLimiter struct {
	limiters map[string]*limiterEntry
	mu       sync.Mutex
	rps      int
	burst    int
	shared   SharedLimiter
	action   string
}

func NewRateLimiter(rps int) *RateLimiter {
	return &RateLimiter{
		limiters: make(map[string]*limiterEntry),
		rps:      rps,
		burst:    rps * 2,
	}
}

// WithShared moves the bucket for action into shared. On shared-store errors
// the in-process limiter decides.
func (rl *RateLimiter) WithShared(shared SharedLimiter, action string) *RateLimiter {
	rl.shared = shared
	rl.action = action
	return rl
}

func (rl *RateLimiter) getLimiter(key string, now time.Time) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	e, exists := rl.limiters[key]
	if !exists {
		e = &limiterEntry{limiter: rate.NewLimiter(rate.Limit(rl.rps), rl.burst)}
		rl.limiters[key] = e
	}
	e.lastSeen = now
	return e.limiter
}

// Allow reports whether one more request from key is allowed. A nil limiter
// or a zero rate allows everything.
func (rl *RateLimiter) Allow(ctx context.Context, key string) bool {
	if rl == nil || rl.rps <= 0 {
		return true
	}
	if rl.shared != nil {
		ok, err := rl.shared.AllowAction(ctx, key, rl.action, rl.rps, rl.burst)
		if err == nil {
			return ok
		}
		zerolog.Ctx(ctx).Warn().Err(err).Msg("shared rate limiter unavailable")
	}
	return rl.getLimiter(key, time.Now()).Allow()
}

// Prune drops limiters not seen since idle ago.
func (rl *RateLimiter) Prune(idle time.Duration) {
	cutoff := time.Now().Add(-idle)
	rl.mu.Lock()
	defer rl.mu.Unlock()
	for key, e := range rl.limiters {
		if e.lastSeen.Before(cutoff) {
			delete(rl.limiters, key)
		}
	}
}

// Cleanup prunes idle limiters every interval until ctx is done.
func (rl *RateLimiter) Cleanup(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				rl.Prune(interval)
			}
		}
	}()
}

// RateLimitMiddleware limits requests per client IP. A zero rate disables it.
func RateLimitMiddleware(rl *RateLimiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !rl.Allow(c.Request.Context(), c.ClientIP()) {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "Rate limit exceeded"})
			return
		}
		c.Next()
	}
}
