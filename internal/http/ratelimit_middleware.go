package http

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"evalpipe/internal/domain"
)

const (
	ingestRateLimit  = 600
	ingestRateWindow = time.Minute
)

// rateLimitMiddleware throttles per tenant, keyed on the tenant resolved
// by authMiddleware - it must run after authMiddleware in the chain.
func rateLimitMiddleware(limiter domain.RateLimiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		tenantID := tenantFromContext(c)
		decision, err := limiter.Allow(c.Request.Context(), "tenant:"+tenantID, ingestRateLimit, ingestRateWindow)
		if err != nil {
			c.Next()
			return
		}
		c.Header("X-RateLimit-Limit", strconv.Itoa(decision.Limit))
		c.Header("X-RateLimit-Remaining", strconv.Itoa(decision.Remaining))
		if !decision.ResetAt.IsZero() {
			c.Header("X-RateLimit-Reset", strconv.FormatInt(decision.ResetAt.Unix(), 10))
		}
		if !decision.Allowed {
			writeErrorCode(c, http.StatusTooManyRequests, "RATE_LIMITED", "tenant rate limit exceeded")
			return
		}
		c.Next()
	}
}
