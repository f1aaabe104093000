package middleware

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/pablocopete/IBM/internal/telemetry"
)

// noRouteLabel is the path label of requests that matched no route.
const noRouteLabel = "<no-route>"

// MetricsMiddleware returns a Gin handler that records two Prometheus metrics for every
// request that passes through the router.
//
// Recorded metrics:
//   - http_requests_total{method, path, status}
//   - http_request_duration_seconds{method, path}
//
// The path label is the matched route template (e.g. /api/v1/security/events), never the
// raw URL. Requests that match no route (404/405) are labelled "<no-route>" so probing
// scanners cannot inflate label cardinality.
//
// Register after RequestIDMiddleware and before any middleware that may abort, so that
// 401/429 responses are counted:
//
//	router.Use(gin.Recovery())
//	router.Use(RequestIDMiddleware())
//	router.Use(MetricsMiddleware())
func MetricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		path := c.FullPath()
		if path == "" {
			path = noRouteLabel
		}
		method := c.Request.Method

		telemetry.HTTPRequestsTotal.WithLabelValues(method, path, strconv.Itoa(c.Writer.Status())).Inc()
		telemetry.HTTPRequestDuration.WithLabelValues(method, path).Observe(time.Since(start).Seconds())
	}
}
