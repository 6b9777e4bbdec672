package middleware

import (
	"time"

	"github.com/gin-gonic/gin"
)

// HTTPObserver records one handled request.
type HTTPObserver interface {
	ObserveHTTP(method, route string, status int, duration time.Duration)
}

// Metrics records request counts and latencies per route template.
func Metrics(observer HTTPObserver) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		observer.ObserveHTTP(c.Request.Method, route, c.Writer.Status(), time.Since(start))
	}
}
