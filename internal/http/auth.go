package http

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

const tenantIDKey = "tenant_id"

// authMiddleware enforces API-key auth (when EVAL_API_KEYS is
// non-empty) and requires X-Tenant-Id on every tenant-scoped route.
// Authentication is header-based, the same shape case-service's
// HeaderAuthenticator uses, simplified to a single shared-secret key
// set rather than per-request claims.
func authMiddleware(apiKeys []string, authEnabled bool) gin.HandlerFunc {
	allowed := make(map[string]bool, len(apiKeys))
	for _, k := range apiKeys {
		allowed[k] = true
	}
	return func(c *gin.Context) {
		if authEnabled {
			key := strings.TrimSpace(c.GetHeader("X-API-Key"))
			if key == "" || !allowed[key] {
				writeErrorCode(c, http.StatusUnauthorized, "UNAUTHORIZED", "missing or invalid API key")
				c.Abort()
				return
			}
		}
		tenantID := strings.TrimSpace(c.GetHeader("X-Tenant-Id"))
		if tenantID == "" {
			writeErrorCode(c, http.StatusBadRequest, "MISSING_TENANT", "X-Tenant-Id header required")
			c.Abort()
			return
		}
		c.Set(tenantIDKey, tenantID)
		c.Next()
	}
}

func tenantFromContext(c *gin.Context) string {
	v, _ := c.Get(tenantIDKey)
	tenantID, _ := v.(string)
	return tenantID
}
