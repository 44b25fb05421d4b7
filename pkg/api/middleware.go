package api

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/infermesh/infermesh/pkg/log"
	"github.com/infermesh/infermesh/pkg/metrics"
)

// RequestLogger logs every request with method, path, status, and latency
// through the service's component logger.
func RequestLogger(component string) gin.HandlerFunc {
	logger := log.WithComponent(component)
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		logger.Debug().
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", c.Writer.Status()).
			Dur("latency", time.Since(start)).
			Msg("request")
	}
}

// GatewayMetrics counts gateway requests by route template and status.
func GatewayMetrics() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		metrics.GatewayRequestsTotal.WithLabelValues(route, strconv.Itoa(c.Writer.Status())).Inc()
	}
}

// NewEngine returns a gin engine in release mode with recovery and request
// logging installed, the common base for every service surface.
func NewEngine(component string) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery(), RequestLogger(component))
	return engine
}
