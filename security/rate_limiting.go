package security

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"eventix/monitoring"

	"github.com/pocketbase/pocketbase/core"
	"github.com/redis/go-redis/v9"
)

type RateLimiter struct {
	redis   redis.Cmdable
	monitor *monitoring.Monitor
}

func NewRateLimiter(redisClient redis.Cmdable, monitor *monitoring.Monitor) *RateLimiter {
	return &RateLimiter{redis: redisClient, monitor: monitor}
}

// Allow counts one hit against key in a fixed window and reports whether
// the caller is still within limit. Redis failures let the request through.
func (r *RateLimiter) Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
	count, err := r.redis.Incr(ctx, key).Result()
	if err != nil {
		return true, err
	}
	if count == 1 {
		if err := r.redis.Expire(ctx, key, window).Err(); err != nil {
			return true, err
		}
	}
	return count <= int64(limit), nil
}

// Limit returns route middleware allowing limit requests per window, keyed
// by user for authenticated requests and by client IP otherwise.
func (r *RateLimiter) Limit(scope string, limit int, window time.Duration) func(e *core.RequestEvent) error {
	return func(e *core.RequestEvent) error {
		id := "ip:"
		if e.Auth != nil {
			id = "user:" + e.Auth.Id
		} else {
			id += e.RealIP()
		}
		key := fmt.Sprintf("ratelimit:%s:%s", scope, id)

		ok, err := r.Allow(e.Request.Context(), key, limit, window)
		if err != nil {
			slog.Warn("r.Allow()", "key", key, "error", err)
		}
		if !ok {
			r.monitor.TrackRateLimited(scope)
			return e.JSON(http.StatusTooManyRequests, map[string]string{
				"error": "Rate limit exceeded. Please try again later.",
				"code":  "RATE_LIMITED",
			})
		}
		return e.Next()
	}
}

// AntiBot rejects requests from self-declared crawlers.
func (r *RateLimiter) AntiBot(e *core.RequestEvent) error {
	if isSuspiciousUserAgent(e.Request.Header.Get("User-Agent")) {
		r.monitor.TrackRateLimited("antibot")
		return e.JSON(http.StatusForbidden, map[string]string{
			"error": "Access denied",
			"code":  "ACCESS_DENIED",
		})
	}
	return e.Next()
}

func isSuspiciousUserAgent(ua string) bool {
	ua = strings.ToLower(ua)
	for _, pattern := range []string{"bot", "crawler", "spider", "scraper"} {
		if strings.Contains(ua, pattern) {
			return true
		}
	}
	return false
}
