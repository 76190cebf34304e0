package middleware

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/exam-engine/internal/config"
	"github.com/stemsi/exam-engine/internal/response"
)

// RateLimiter caps requests per caller in fixed windows. Counters live in Redis
// so every instance shares them; when Redis is absent or failing, a per-process
// counter is used instead.
type RateLimiter struct {
	rdb    *redis.Client
	limit  int
	window time.Duration
	log    zerolog.Logger

	mu       sync.Mutex
	visitors map[string]*visitor
}

type visitor struct {
	count       int
	windowStart time.Time
}

// NewRateLimiter creates a RateLimiter allowing limit requests per window.
// rdb may be nil.
func NewRateLimiter(rdb *redis.Client, limit int, window time.Duration, log zerolog.Logger) *RateLimiter {
	return &RateLimiter{
		rdb:      rdb,
		limit:    limit,
		window:   window,
		log:      log.With().Str("component", "rate_limiter").Logger(),
		visitors: make(map[string]*visitor),
	}
}

// Middleware returns a Gin middleware that rate-limits by JWT user, falling back to IP.
func (rl *RateLimiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if rl.limit <= 0 {
			c.Next()
			return
		}

		caller := c.ClientIP()
		if claims := GetClaims(c); claims != nil {
			caller = claims.UserID
		}

		if !rl.allow(c, caller) {
			c.Header("Retry-After", rl.window.String())
			response.AbortFail(c, http.StatusTooManyRequests, response.ErrRateLimitExceeded)
			return
		}
		c.Next()
	}
}

func (rl *RateLimiter) allow(c *gin.Context, caller string) bool {
	if rl.rdb != nil {
		key := config.CacheKey.AnswerRateLimitKey(caller)
		n, err := rl.rdb.Incr(c.Request.Context(), key).Result()
		if err == nil {
			if n == 1 {
				rl.rdb.Expire(c.Request.Context(), key, rl.window)
			}
			return n <= int64(rl.limit)
		}
		rl.log.Warn().Err(err).Msg("Redis rate limit unavailable, using local counter")
	}
	return rl.allowLocal(caller, time.Now())
}

func (rl *RateLimiter) allowLocal(caller string, now time.Time) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	v, ok := rl.visitors[caller]
	if !ok || now.Sub(v.windowStart) >= rl.window {
		v = &visitor{windowStart: now}
		rl.visitors[caller] = v
		rl.sweep(now)
	}
	v.count++
	return v.count <= rl.limit
}

// sweep drops expired windows. Callers hold mu.
func (rl *RateLimiter) sweep(now time.Time) {
	for k, v := range rl.visitors {
		if now.Sub(v.windowStart) >= 3*rl.window {
			delete(rl.visitors, k)
		}
	}
}
