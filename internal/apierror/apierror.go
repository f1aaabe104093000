// Package apierror classifies failures raised by the security layers into the
// small set of kinds clients see, and renders them as JSON responses.
package apierror

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/url"

	"github.com/gin-gonic/gin"

	"github.com/pablocopete/IBM/internal/egress"
	"github.com/pablocopete/IBM/internal/monitor"
	"github.com/pablocopete/IBM/internal/signing"
	"github.com/pablocopete/IBM/internal/validation"
)

// Kind is the client-visible category of a failure.
type Kind int

const (
	KindInternal Kind = iota
	KindValidation
	KindRateLimited
	KindEgressBlocked
	KindInvalidRequest
	KindUpstreamTimeout
	KindUpstream
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindRateLimited:
		return "rate_limited"
	case KindEgressBlocked:
		return "egress_blocked"
	case KindInvalidRequest:
		return "invalid_request"
	case KindUpstreamTimeout:
		return "upstream_timeout"
	case KindUpstream:
		return "upstream"
	}
	return "internal"
}

// Default client messages.
const (
	MsgRateLimited    = "Rate limit exceeded. Please try again later."
	MsgInvalidRequest = "Invalid request"
	MsgUpstream       = "Service temporarily unavailable. Please try again."
	MsgInternal       = "An unexpected error occurred."
)

// Error is a classified failure. Message is safe to show to clients; Err is
// kept for logs and errors.Is/As only.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New creates a classified error.
func New(kind Kind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

// Status maps the kind to an HTTP status code.
func (e *Error) Status() int {
	switch e.Kind {
	case KindValidation:
		return http.StatusBadRequest
	case KindInvalidRequest:
		return http.StatusUnauthorized
	case KindEgressBlocked:
		return http.StatusForbidden
	case KindRateLimited:
		return http.StatusTooManyRequests
	case KindUpstreamTimeout:
		return http.StatusGatewayTimeout
	case KindUpstream:
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

// Retryable reports whether repeating the same request may succeed.
func (e *Error) Retryable() bool {
	switch e.Kind {
	case KindRateLimited, KindUpstreamTimeout, KindUpstream:
		return true
	}
	return false
}

// Severity is "warning" for transient failures, "error" for internal ones and
// "info" for client faults.
func (e *Error) Severity() string {
	if e.Retryable() {
		return "warning"
	}
	if e.Kind == KindInternal {
		return "error"
	}
	return "info"
}

// From classifies err. An *Error anywhere in the chain wins; otherwise the
// sentinel and typed errors of the security packages are recognized and
// everything else becomes KindInternal.
func From(err error) *Error {
	if err == nil {
		return nil
	}

	var ae *Error
	if errors.As(err, &ae) {
		return ae
	}

	var (
		blocked *egress.BlockedError
		timeout *egress.TimeoutError
		field   *validation.FieldError
		batch   *validation.BatchError
		tooMany *validation.TooManyItemsError
	)
	switch {
	case errors.As(err, &blocked):
		return New(KindEgressBlocked, blocked.Error(), err)
	case errors.As(err, &timeout):
		return New(KindUpstreamTimeout, timeout.Error(), err)
	case errors.Is(err, egress.ErrUpstreamTimeout):
		return New(KindUpstreamTimeout, "Request timeout", err)
	case errors.Is(err, egress.ErrUpstream):
		return New(KindUpstream, MsgUpstream, err)
	case errors.As(err, &batch):
		return New(KindValidation, batch.Error(), err)
	case errors.As(err, &tooMany):
		return New(KindValidation, tooMany.Error(), err)
	case errors.As(err, &field):
		return New(KindValidation, field.Error(), err)
	case errors.Is(err, validation.ErrMalformedJSON):
		return New(KindValidation, "Invalid JSON body", err)
	case errors.Is(err, signing.ErrInvalidRequest):
		// Signature and timestamp failures share one message so callers
		// cannot tell which check failed.
		return New(KindInvalidRequest, MsgInvalidRequest, err)
	}
	return New(KindInternal, MsgInternal, err)
}

// Respond aborts the gin context with the classified error as JSON:
// {"error": message, "retryable": bool}.
func Respond(c *gin.Context, err error) {
	ae := From(err)
	if ae == nil {
		ae = New(KindInternal, MsgInternal, nil)
	}

	attrs := []any{
		"kind", ae.Kind.String(),
		"status", ae.Status(),
		"path", c.FullPath(),
	}
	if ae.Err != nil {
		attrs = append(attrs, causeAttrs(ae.Err)...)
	}
	if c.Request != nil {
		if q := c.Request.URL.Query(); len(q) > 0 {
			query := make(map[string]any, len(q))
			for k, v := range q {
				query[k] = v[0]
			}
			attrs = append(attrs, "query", monitor.SanitizeForLogging(query))
		}
	}
	switch ae.Severity() {
	case "error":
		slog.Error("request failed", attrs...)
	case "warning":
		slog.Warn("request failed", attrs...)
	default:
		slog.Info("request rejected", attrs...)
	}

	c.AbortWithStatusJSON(ae.Status(), gin.H{
		"error":     ae.Message,
		"retryable": ae.Retryable(),
	})
}

// causeAttrs describes err for logs. Upstream failures are reduced to a class
// and the upstream host: request URLs and response bodies are never logged.
func causeAttrs(err error) []any {
	var (
		host    string
		blocked *egress.BlockedError
		urlErr  *url.Error
	)
	switch {
	case errors.As(err, &blocked):
		host = blocked.Host
	case errors.As(err, &urlErr):
		if u, perr := url.Parse(urlErr.URL); perr == nil {
			host = u.Hostname()
		}
	}

	upstream := host != "" ||
		errors.Is(err, egress.ErrBlocked) ||
		errors.Is(err, egress.ErrUpstreamTimeout) ||
		errors.Is(err, egress.ErrUpstream)
	if !upstream {
		return []any{"error", err}
	}

	attrs := []any{"cause", upstreamCause(err)}
	if host != "" {
		attrs = append(attrs, "upstream_host", host)
	}
	return attrs
}

func upstreamCause(err error) string {
	switch {
	case errors.Is(err, egress.ErrBlocked):
		return "egress_blocked"
	case errors.Is(err, egress.ErrUpstreamTimeout), errors.Is(err, context.DeadlineExceeded):
		return "upstream_timeout"
	case errors.Is(err, egress.ErrUpstream):
		return "upstream_error"
	}
	return "upstream_transport"
}
