// Package security provides response-hardening middleware for the decision
// API and its WebSocket stream.
package security

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// HeadersMiddleware adds security headers to all responses. Decisions are
// per-transaction and must never be served from a cache.
func HeadersMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("X-Content-Type-Options", "nosniff")
		c.Header("X-Frame-Options", "DENY")
		c.Header("Referrer-Policy", "no-referrer")
		c.Header("Content-Security-Policy", "default-src 'none'; connect-src 'self' ws: wss:; frame-ancestors 'none'")
		c.Header("Cache-Control", "no-store")

		c.Next()
	}
}

// CORSMiddleware lets browser dashboards on allowedOrigins read the API and
// open the stream. A "*" entry allows any origin without credentials.
func CORSMiddleware(allowedOrigins []string) gin.HandlerFunc {
	originsMap := make(map[string]bool, len(allowedOrigins))
	for _, o := range allowedOrigins {
		originsMap[strings.TrimRight(o, "/")] = true
	}
	wildcard := originsMap["*"]

	return func(c *gin.Context) {
		origin := c.GetHeader("Origin")

		if origin != "" && (wildcard || originsMap[origin]) {
			c.Header("Access-Control-Allow-Origin", origin)
			c.Header("Vary", "Origin")
			c.Header("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			c.Header("Access-Control-Allow-Headers", "Content-Type, X-Request-ID")
			c.Header("Access-Control-Expose-Headers", "X-Request-ID")
			c.Header("Access-Control-Max-Age", "86400")
			// Wildcard + credentials is rejected by browsers
			if !wildcard {
				c.Header("Access-Control-Allow-Credentials", "true")
			}
		}

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}
