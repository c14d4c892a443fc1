package middleware

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/AnTengye/contractdesk/pkg/metrics"
)

// Metrics records request latency per matched route.
func Metrics(m *metrics.Backend) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		m.ObserveRequest(c.Request.Method, c.FullPath(), c.Writer.Status(), time.Since(start))
	}
}
