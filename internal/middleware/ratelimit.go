// ratelimit.go provides Gin middleware that enforces fixed-window rate limits per endpoint
// and caller identity, returning 429 responses once a preset's budget is spent.
package middleware

import (
	"context"
	"log/slog"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/pablocopete/IBM/internal/apierror"
	"github.com/pablocopete/IBM/internal/monitor"
	"github.com/pablocopete/IBM/internal/ratelimit"
	"github.com/pablocopete/IBM/internal/safego"
	"github.com/pablocopete/IBM/internal/telemetry"
)

// Rate-limit response headers.
const (
	HeaderRateLimitLimit     = "X-RateLimit-Limit"
	HeaderRateLimitRemaining = "X-RateLimit-Remaining"
	HeaderRateLimitReset     = "X-RateLimit-Reset"
	HeaderRetryAfter         = "Retry-After"
)

// RateLimitReporter records refused requests. *monitor.Monitor satisfies it.
type RateLimitReporter interface {
	LogRateLimitExceeded(ctx context.Context, userID, endpoint string) error
}

// RateLimitPolicy binds a named preset to its window.
type RateLimitPolicy struct {
	Preset string
	Config ratelimit.Config
}

// RateLimitMiddleware charges every request against the key
// "<route>:<identity>" and refuses it with 429 once policy.Config.MaxRequests
// requests were admitted in the current window.
//
// Admitted responses carry X-RateLimit-Limit, X-RateLimit-Remaining and
// X-RateLimit-Reset (unix seconds); refused ones additionally carry
// Retry-After. A store failure lets the request through and is logged.
// reporter may be nil.
func RateLimitMiddleware(limiter *ratelimit.Limiter, policy RateLimitPolicy, reporter RateLimitReporter) gin.HandlerFunc {
	return func(c *gin.Context) {
		endpoint := c.FullPath()
		if endpoint == "" {
			endpoint = c.Request.URL.Path
		}
		key := ratelimit.Key(endpoint, Identity(c))

		res, err := limiter.Check(c.Request.Context(), key, policy.Config)
		if err != nil {
			telemetry.RateLimitDecisionsTotal.WithLabelValues(policy.Preset, "error").Inc()
			slog.Warn("rate limit check failed, allowing request",
				"preset", policy.Preset, "endpoint", endpoint, "error", err)
			c.Next()
			return
		}

		c.Header(HeaderRateLimitLimit, strconv.Itoa(res.Limit))
		c.Header(HeaderRateLimitRemaining, strconv.Itoa(res.Remaining))
		c.Header(HeaderRateLimitReset, strconv.FormatInt(res.ResetAt.Unix(), 10))

		if !res.Allowed {
			telemetry.RateLimitDecisionsTotal.WithLabelValues(policy.Preset, "blocked").Inc()
			c.Header(HeaderRetryAfter, strconv.Itoa(res.RetryAfterSeconds))
			if reporter != nil {
				reportRateLimited(reporter, UserID(c), c.ClientIP(), endpoint)
			}
			apierror.Respond(c, apierror.New(apierror.KindRateLimited, apierror.MsgRateLimited, nil))
			return
		}

		telemetry.RateLimitDecisionsTotal.WithLabelValues(policy.Preset, "allowed").Inc()
		c.Next()
	}
}

// reportRateLimited persists the event after the response is written.
func reportRateLimited(reporter RateLimitReporter, userID, ip, endpoint string) {
	safego.Detached("rate-limit-event", 5*time.Second, func(ctx context.Context) {
		ctx = monitor.WithClientIP(ctx, ip)
		if err := reporter.LogRateLimitExceeded(ctx, userID, endpoint); err != nil {
			slog.Error("failed to record rate limit event", "endpoint", endpoint, "error", err)
		}
	})
}
