// Package security implements the sign-in attempt and security event endpoints.
package security

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/pablocopete/IBM/internal/apierror"
	"github.com/pablocopete/IBM/internal/db/models"
	"github.com/pablocopete/IBM/internal/middleware"
	"github.com/pablocopete/IBM/internal/monitor"
	"github.com/pablocopete/IBM/internal/safego"
	"github.com/pablocopete/IBM/internal/validation"
)

// MsgAccountLocked is returned for sign-in attempts on a locked identity.
const MsgAccountLocked = "Too many failed attempts. Please try again later."

// Monitor is the subset of *monitor.Monitor the handlers use.
type Monitor interface {
	RecordAuthAttempt(ctx context.Context, email string, success bool, ip, userAgent, failureReason string) (bool, error)
	MonitorFailedLogins(ctx context.Context, ip string) (bool, error)
	RecentSecurityEvents(ctx context.Context, limit int, severity models.Severity) ([]*models.SecurityEvent, error)
}

// Handler serves the security endpoints.
type Handler struct {
	monitor Monitor
}

// NewHandler creates a new security handler
func NewHandler(m Monitor) *Handler {
	return &Handler{monitor: m}
}

// @Summary      Record a sign-in attempt
// @Description  Records the outcome of a sign-in. Called by the auth backend with X-Request-Timestamp and X-Request-Signature. Attempts on a locked identity are refused with 429 and not recorded.
// @Tags         Security
// @Accept       json
// @Produce      json
// @Param        body  body  validation.AuthAttemptRequest  true  "Attempt"
// @Success      200  {object}  map[string]interface{}  "recorded: true"
// @Failure      400  {object}  map[string]interface{}
// @Failure      401  {object}  map[string]interface{}
// @Failure      429  {object}  map[string]interface{}
// @Router       /api/v1/auth/attempts [post]
func (h *Handler) RecordAuthAttempt(c *gin.Context) {
	data, err := c.GetRawData()
	if err != nil {
		apierror.Respond(c, apierror.New(apierror.KindValidation, "Invalid request body", err))
		return
	}
	req, err := validation.Validate[validation.AuthAttemptRequest](data)
	if err != nil {
		apierror.Respond(c, err)
		return
	}
	email := validation.NormalizeEmail(req.Email)
	reason := validation.SanitizeString(req.FailureReason, 200)
	ip := c.ClientIP()

	// Store errors are logged by the monitor; the verdict alone decides the response.
	allowed, _ := h.monitor.RecordAuthAttempt(c.Request.Context(), email, req.Success, ip, c.Request.UserAgent(), reason)
	if !allowed {
		apierror.Respond(c, apierror.New(apierror.KindRateLimited, MsgAccountLocked, nil))
		return
	}

	if !req.Success {
		safego.Detached("failed-login-monitor", 5*time.Second, func(ctx context.Context) {
			_, _ = h.monitor.MonitorFailedLogins(monitor.WithClientIP(ctx, ip), ip)
		})
	}

	c.JSON(http.StatusOK, gin.H{"recorded": true})
}

// @Summary      List recent security events
// @Tags         Security
// @Produce      json
// @Param        limit     query  int     false  "Maximum events, 1-500 (default 50)"
// @Param        severity  query  string  false  "low, medium, high or critical"
// @Success      200  {object}  map[string]interface{}  "events, count"
// @Failure      400  {object}  map[string]interface{}
// @Failure      401  {object}  map[string]interface{}
// @Router       /api/v1/security/events [get]
func (h *Handler) ListSecurityEvents(c *gin.Context) {
	if middleware.UserID(c) == "" {
		apierror.Respond(c, apierror.New(apierror.KindInvalidRequest, apierror.MsgInvalidRequest,
			errors.New("security events require an authenticated caller")))
		return
	}

	limit := 0
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			apierror.Respond(c, &validation.FieldError{Field: "limit", Constraint: "type", Message: "must be of type number"})
			return
		}
		limit = n
	}

	severity := models.Severity(c.Query("severity"))
	if severity != "" && !severity.Valid() {
		apierror.Respond(c, &validation.FieldError{Field: "severity", Constraint: "oneof", Message: "must be one of: low medium high critical"})
		return
	}

	events, err := h.monitor.RecentSecurityEvents(c.Request.Context(), limit, severity)
	if err != nil {
		apierror.Respond(c, err)
		return
	}
	if events == nil {
		events = []*models.SecurityEvent{}
	}
	c.JSON(http.StatusOK, gin.H{"events": events, "count": len(events)})
}
