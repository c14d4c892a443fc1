package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"
)

// CacheControl marks API responses as uncacheable. Finished reports never
// change, so they may be cached for an hour.
func CacheControl() gin.HandlerFunc {
	return func(c *gin.Context) {
		path := c.Request.URL.Path

		switch {
		case strings.HasPrefix(path, "/api"):
			c.Header("Cache-Control", "no-cache, no-store, must-revalidate")
			c.Header("Pragma", "no-cache")
			c.Header("Expires", "0")
		case strings.HasPrefix(path, "/reports/"):
			c.Header("Cache-Control", "public, max-age=3600")
		}

		c.Next()
	}
}
