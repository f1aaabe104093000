// accesslog.go provides Gin middleware that records every handled API request in the
// access log and checks the caller for unusual request bursts.
package middleware

import (
	"context"
	"database/sql"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/pablocopete/IBM/internal/db/models"
	"github.com/pablocopete/IBM/internal/safego"
)

// AccessRecorder persists access records and evaluates them. *monitor.Monitor
// satisfies it.
type AccessRecorder interface {
	LogAPIAccess(ctx context.Context, rec *models.APIAccessLog) error
	DetectUnusualActivity(ctx context.Context, userID, endpoint string) (bool, error)
}

// accessLogTimeout bounds the detached persistence of one record.
const accessLogTimeout = 5 * time.Second

// AccessLogMiddleware writes one APIAccessLog row per request after the
// response has been produced. Persistence runs on a detached context so a
// slow database never delays the client. For authenticated callers the
// unusual-activity detector runs after the row is stored so the current
// request is part of the count. OPTIONS preflights are skipped.
func AccessLogMiddleware(recorder AccessRecorder) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		if c.Request.Method == http.MethodOptions {
			return
		}

		endpoint := c.FullPath()
		if endpoint == "" {
			endpoint = c.Request.URL.Path
		}
		userID := UserID(c)
		rec := &models.APIAccessLog{
			UserID:         sql.NullString{String: userID, Valid: userID != ""},
			Endpoint:       endpoint,
			Method:         c.Request.Method,
			IPAddress:      sql.NullString{String: c.ClientIP(), Valid: c.ClientIP() != ""},
			StatusCode:     sql.NullInt32{Int32: int32(c.Writer.Status()), Valid: true},
			ResponseTimeMs: sql.NullInt64{Int64: time.Since(start).Milliseconds(), Valid: true},
			AccessedAt:     start.UTC(),
		}

		safego.Detached("access-log", accessLogTimeout, func(ctx context.Context) {
			if err := recorder.LogAPIAccess(ctx, rec); err != nil {
				return
			}
			if userID == "" {
				return
			}
			if _, err := recorder.DetectUnusualActivity(ctx, userID, endpoint); err != nil {
				slog.Debug("unusual activity check failed", "endpoint", endpoint, "error", err)
			}
		})
	}
}
