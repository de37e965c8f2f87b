package middleware

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"signaling-service/pkg/response"

	"github.com/gin-gonic/gin"
)

// RateLimiter counts hits per key inside a sliding window.
type RateLimiter interface {
	CheckRateLimit(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

type RateLimitMiddleware struct {
	limiter RateLimiter
	logger  *slog.Logger
}

func NewRateLimitMiddleware(limiter RateLimiter, logger *slog.Logger) *RateLimitMiddleware {
	return &RateLimitMiddleware{
		limiter: limiter,
		logger:  logger.With("component", "rate-limit"),
	}
}

// RateLimitIP limits requests per client IP and path. When the limiter itself
// fails the request is let through.
func (rm *RateLimitMiddleware) RateLimitIP(requests int, window time.Duration) gin.HandlerFunc {
	return func(c *gin.Context) {
		key := fmt.Sprintf("rate_limit_ip:%s:%s", c.ClientIP(), c.Request.URL.Path)

		allowed, err := rm.limiter.CheckRateLimit(c.Request.Context(), key, requests, window)
		if err != nil {
			rm.logger.Warn("Rate limit check failed, allowing request", "key", key, "error", err)
			c.Next()
			return
		}

		if !allowed {
			response.Abort(c, http.StatusTooManyRequests, response.ErrCodeRateLimit,
				fmt.Sprintf("too many requests, limit %d per %v", requests, window))
			return
		}

		c.Next()
	}
}
