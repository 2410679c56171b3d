package middleware

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/peluqueria/booking-engine/internal/kv"
	"github.com/peluqueria/booking-engine/pkg/logger"
)

// RateLimitConfig configures a gin-level sliding window rate limiter
// backed by the C1 KV store, generalising the Redis-sorted-set limiter
// this fleet has always used so it also works against the in-memory
// backend in tests and local dev.
type RateLimitConfig struct {
	Requests int
	Window   time.Duration
	KeyFunc  func(*gin.Context) string
}

// RateLimit builds gin middleware enforcing cfg against store.
func RateLimit(store kv.Store, log logger.Logger, cfg RateLimitConfig) gin.HandlerFunc {
	keyFunc := cfg.KeyFunc
	if keyFunc == nil {
		keyFunc = func(c *gin.Context) string { return c.ClientIP() }
	}

	return func(c *gin.Context) {
		key := fmt.Sprintf("rl:http:%s", keyFunc(c))
		allowed, err := store.SlidingWindowAllow(c.Request.Context(), key, cfg.Requests, cfg.Window)
		if err != nil {
			// Fail open: a KV outage must not take down the whole API.
			log.Error("rate limit check failed, allowing request", "error", err, "key", key)
			c.Next()
			return
		}
		if !allowed {
			log.Warn("rate limit exceeded", "key", key, "path", c.Request.URL.Path)
			c.JSON(http.StatusTooManyRequests, gin.H{
				"error": "rate_limited",
			})
			c.Abort()
			return
		}
		c.Next()
	}
}

// GeneralRateLimit protects the loopback core API by client IP. The
// per-tenant WEBHOOK_PER_PELU limit lives in internal/webhook instead,
// since it keys on the tenant's phone_number_id extracted from the POST
// body, not anything available to gin middleware before the body is read.
func GeneralRateLimit(store kv.Store, log logger.Logger, requestsPerMinute int) gin.HandlerFunc {
	return RateLimit(store, log, RateLimitConfig{Requests: requestsPerMinute, Window: time.Minute})
}
