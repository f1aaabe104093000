// Package middleware provides Gin HTTP middleware for caller identity, request
// signature verification, rate limiting, security headers and access logging.
//
// Middleware ordering matters and is enforced in router.go:
//
//	RequestID → Metrics → Logger → CORS → SecurityHeaders → Identity →
//	Signature → RateLimit → AccessLog → Handler
//
// Security headers run first so they appear on all responses including errors.
// Identity runs before rate limiting so that authenticated callers are counted
// per user rather than per address. Signature verification runs before rate
// limiting so unsigned traffic never consumes a caller's budget.
package middleware

import (
	"github.com/gin-gonic/gin"
	"github.com/pablocopete/IBM/internal/apierror"
	"github.com/pablocopete/IBM/internal/auth"
	"github.com/pablocopete/IBM/internal/monitor"
)

const (
	// UserIDKey holds the authenticated user ID. It is absent for anonymous
	// callers.
	UserIDKey = "user_id"

	// IdentityKey holds the caller identity used for rate limiting: "user:<id>"
	// or "ip:<address>".
	IdentityKey = "identity"
)

// IdentityMiddleware resolves the caller. A request without an Authorization
// header is anonymous and identified by client IP. A request carrying a
// bearer token must present a valid one; anything else is refused with the
// generic invalid-request response.
//
// The user ID and client IP are also attached to the request context through
// monitor.WithUserID and monitor.WithClientIP so security events raised by
// handlers are attributed to the caller.
func IdentityMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		ip := c.ClientIP()
		if ip == "" {
			ip = c.Request.RemoteAddr
		}
		ctx := monitor.WithClientIP(c.Request.Context(), ip)

		header := c.GetHeader("Authorization")
		if header == "" {
			c.Set(IdentityKey, "ip:"+ip)
			c.Request = c.Request.WithContext(ctx)
			c.Next()
			return
		}

		token, ok := auth.BearerToken(header)
		if !ok {
			apierror.Respond(c, apierror.New(apierror.KindInvalidRequest, apierror.MsgInvalidRequest, auth.ErrInvalidToken))
			return
		}
		claims, err := auth.ValidateJWT(token)
		if err != nil {
			apierror.Respond(c, apierror.New(apierror.KindInvalidRequest, apierror.MsgInvalidRequest, err))
			return
		}

		c.Set(UserIDKey, claims.UserID)
		c.Set(IdentityKey, "user:"+claims.UserID)
		c.Request = c.Request.WithContext(monitor.WithUserID(ctx, claims.UserID))
		c.Next()
	}
}

// Identity returns the caller identity stored by IdentityMiddleware, falling
// back to the client IP when the middleware did not run.
func Identity(c *gin.Context) string {
	if id := c.GetString(IdentityKey); id != "" {
		return id
	}
	return "ip:" + c.ClientIP()
}

// UserID returns the authenticated user ID, or "" for anonymous callers.
func UserID(c *gin.Context) string {
	return c.GetString(UserIDKey)
}
