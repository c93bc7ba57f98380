package webserver

import (
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/stake-plus/stakegate/src/api/data"
	"github.com/stake-plus/stakegate/src/logging"
)

// RateLimiter counts requests per user (or client IP before login). With a
// redis client the count is shared by every API instance; without one it
// falls back to a per-process sliding window.
type RateLimiter struct {
	rdb    *redis.Client
	log    *zap.Logger
	rate   int           // requests per window
	window time.Duration // time window

	mu        sync.Mutex
	requests  map[string][]time.Time
	lastSweep time.Time
}

func NewRateLimiter(rdb *redis.Client, rate int, window time.Duration, log *zap.Logger) *RateLimiter {
	return &RateLimiter{
		rdb:      rdb,
		log:      logging.OrNop(log),
		rate:     rate,
		window:   window,
		requests: make(map[string][]time.Time),
	}
}

// Allow records one request for key and reports whether it fits the limit.
func (rl *RateLimiter) Allow(c *gin.Context, key string) bool {
	if rl.rate <= 0 {
		return true
	}
	if rl.rdb != nil {
		n, err := data.HitRate(c.Request.Context(), rl.rdb, key, rl.window)
		if err == nil {
			return n <= int64(rl.rate)
		}
		rl.log.Warn("redis rate limit unavailable, using local window", zap.Error(err))
	}
	return rl.allowLocal(key, time.Now())
}

func (rl *RateLimiter) allowLocal(key string, now time.Time) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	if now.Sub(rl.lastSweep) >= rl.window {
		rl.cleanup(now)
		rl.lastSweep = now
	}

	valid := rl.requests[key][:0]
	for _, t := range rl.requests[key] {
		if now.Sub(t) < rl.window {
			valid = append(valid, t)
		}
	}
	if len(valid) >= rl.rate {
		rl.requests[key] = valid
		return false
	}
	rl.requests[key] = append(valid, now)
	return true
}

func (rl *RateLimiter) cleanup(now time.Time) {
	for key, times := range rl.requests {
		if len(times) == 0 || now.Sub(times[len(times)-1]) >= rl.window {
			delete(rl.requests, key)
		}
	}
}

func RateLimitMiddleware(limiter *RateLimiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		key := "ip:" + c.ClientIP()
		if uid := userID(c); uid != 0 {
			key = "uid:" + strconv.FormatUint(uid, 10)
		}
		if !limiter.Allow(c, key) {
			c.Header("Retry-After", strconv.Itoa(int(limiter.window.Seconds())))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"err":  fmt.Sprintf("rate limit exceeded: %d requests per %v", limiter.rate, limiter.window),
				"kind": "rate_limited",
			})
			return
		}
		c.Next()
	}
}
