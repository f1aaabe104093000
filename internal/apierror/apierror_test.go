package apierror

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/pablocopete/IBM/internal/egress"
	"github.com/pablocopete/IBM/internal/signing"
	"github.com/pablocopete/IBM/internal/validation"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func TestFrom_Classification(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		kind      Kind
		status    int
		retryable bool
		severity  string
		message   string
	}{
		{
			name:     "field error",
			err:      &validation.FieldError{Field: "companyDomain", Constraint: "domain", Message: "must be a valid domain"},
			kind:     KindValidation,
			status:   http.StatusBadRequest,
			severity: "info",
			message:  "companyDomain: must be a valid domain",
		},
		{
			name:     "too many items",
			err:      &validation.TooManyItemsError{Max: 100},
			kind:     KindValidation,
			status:   http.StatusBadRequest,
			severity: "info",
			message:  "Too many items. Maximum allowed: 100",
		},
		{
			name:     "malformed json",
			err:      fmt.Errorf("%w: unexpected EOF", validation.ErrMalformedJSON),
			kind:     KindValidation,
			status:   http.StatusBadRequest,
			severity: "info",
			message:  "Invalid JSON body",
		},
		{
			name:     "signature",
			err:      fmt.Errorf("%w: %w", signing.ErrInvalidRequest, signing.ErrSignatureInvalid),
			kind:     KindInvalidRequest,
			status:   http.StatusUnauthorized,
			severity: "info",
			message:  "Invalid request",
		},
		{
			name:     "egress blocked",
			err:      &egress.BlockedError{Host: "evil.com", Reason: egress.ReasonNotWhitelisted},
			kind:     KindEgressBlocked,
			status:   http.StatusForbidden,
			severity: "info",
			message:  "Blocked external request: Domain not in approved API whitelist",
		},
		{
			name:      "timeout",
			err:       &egress.TimeoutError{Timeout: 10 * time.Second},
			kind:      KindUpstreamTimeout,
			status:    http.StatusGatewayTimeout,
			retryable: true,
			severity:  "warning",
			message:   "Request timeout after 10000ms",
		},
		{
			name:      "upstream",
			err:       fmt.Errorf("%w: %w", egress.ErrUpstream, errors.New("connection reset")),
			kind:      KindUpstream,
			status:    http.StatusBadGateway,
			retryable: true,
			severity:  "warning",
			message:   MsgUpstream,
		},
		{
			name:      "explicit rate limited",
			err:       New(KindRateLimited, MsgRateLimited, nil),
			kind:      KindRateLimited,
			status:    http.StatusTooManyRequests,
			retryable: true,
			severity:  "warning",
			message:   MsgRateLimited,
		},
		{
			name:     "unknown",
			err:      errors.New("db: password=hunter2 rejected"),
			kind:     KindInternal,
			status:   http.StatusInternalServerError,
			severity: "error",
			message:  MsgInternal,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ae := From(tt.err)
			if ae.Kind != tt.kind {
				t.Errorf("Kind = %v, want %v", ae.Kind, tt.kind)
			}
			if ae.Status() != tt.status {
				t.Errorf("Status() = %d, want %d", ae.Status(), tt.status)
			}
			if ae.Retryable() != tt.retryable {
				t.Errorf("Retryable() = %v, want %v", ae.Retryable(), tt.retryable)
			}
			if ae.Severity() != tt.severity {
				t.Errorf("Severity() = %q, want %q", ae.Severity(), tt.severity)
			}
			if ae.Message != tt.message {
				t.Errorf("Message = %q, want %q", ae.Message, tt.message)
			}
		})
	}
}

func TestFrom_Nil(t *testing.T) {
	if From(nil) != nil {
		t.Error("From(nil) should be nil")
	}
}

func TestFrom_WrappedAPIErrorWins(t *testing.T) {
	inner := New(KindUpstream, "Payment required", nil)
	got := From(fmt.Errorf("calling gateway: %w", inner))
	if got != inner {
		t.Errorf("From() = %v, want the wrapped *Error", got)
	}
}

func TestError_Unwrap(t *testing.T) {
	base := errors.New("boom")
	e := New(KindInternal, "failed", base)
	if !errors.Is(e, base) {
		t.Error("errors.Is should find the wrapped error")
	}
	if e.Error() != "failed: boom" {
		t.Errorf("Error() = %q", e.Error())
	}
}

func TestRespond(t *testing.T) {
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodGet, "/x?token=abc", nil)

	Respond(c, errors.New("secret connection string leaked"))

	if w.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", w.Code)
	}
	if !c.IsAborted() {
		t.Error("context should be aborted")
	}
	var body map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if body["error"] != MsgInternal {
		t.Errorf("error = %v, want %q", body["error"], MsgInternal)
	}
	if body["retryable"] != false {
		t.Errorf("retryable = %v, want false", body["retryable"])
	}
	if len(body) != 2 {
		t.Errorf("body has %d keys, want 2: %v", len(body), body)
	}
}

func TestRespond_Retryable(t *testing.T) {
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodPost, "/api/v1/research-company", nil)

	Respond(c, &egress.TimeoutError{Timeout: 50 * time.Millisecond})

	if w.Code != http.StatusGatewayTimeout {
		t.Fatalf("status = %d, want 504", w.Code)
	}
	var body struct {
		Error     string `json:"error"`
		Retryable bool   `json:"retryable"`
	}
	_ = json.Unmarshal(w.Body.Bytes(), &body)
	if body.Error != "Request timeout after 50ms" || !body.Retryable {
		t.Errorf("body = %+v", body)
	}
}

// captureLogs routes the default slog logger into a buffer for one test.
func captureLogs(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	prev := slog.Default()
	slog.SetDefault(slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})))
	t.Cleanup(func() { slog.SetDefault(prev) })
	return &buf
}

func TestRespond_UpstreamCauseLoggedWithoutURLOrBody(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantHost string
		wantLog  string
		leaks    []string
	}{
		{
			name: "gateway status with body snippet",
			err: New(KindUpstream, MsgUpstream,
				fmt.Errorf("%w: AI gateway status %d: %s", egress.ErrUpstream, 500, `{"detail":"key sk-live-123 rejected"}`)),
			wantLog: `"cause":"upstream_error"`,
			leaks:   []string{"sk-live-123", "detail"},
		},
		{
			name: "transport failure",
			err: fmt.Errorf("%w: %w", egress.ErrUpstream, &url.Error{
				Op:  "Post",
				URL: "https://gateway.example.com/v1/chat/completions?api_key=sk-secret",
				Err: errors.New("connection reset by peer"),
			}),
			wantHost: "gateway.example.com",
			wantLog:  `"cause":"upstream_error"`,
			leaks:    []string{"/v1/chat/completions", "sk-secret", "api_key"},
		},
		{
			name:     "blocked",
			err:      &egress.BlockedError{Host: "evil.example.net", Reason: "Domain not in whitelist"},
			wantHost: "evil.example.net",
			wantLog:  `"cause":"egress_blocked"`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf := captureLogs(t)
			w := httptest.NewRecorder()
			c, _ := gin.CreateTestContext(w)
			c.Request = httptest.NewRequest(http.MethodPost, "/api/v1/research-company", nil)

			Respond(c, tt.err)

			logged := buf.String()
			if !strings.Contains(logged, tt.wantLog) {
				t.Errorf("log = %s, want it to contain %s", logged, tt.wantLog)
			}
			if tt.wantHost != "" && !strings.Contains(logged, `"upstream_host":"`+tt.wantHost+`"`) {
				t.Errorf("log = %s, want upstream_host %s", logged, tt.wantHost)
			}
			for _, leak := range tt.leaks {
				if strings.Contains(logged, leak) {
					t.Errorf("log contains %q: %s", leak, logged)
				}
			}
		})
	}
}

func TestRespond_InternalCauseLogged(t *testing.T) {
	buf := captureLogs(t)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodGet, "/x", nil)

	Respond(c, errors.New("failed to build sales prompt"))

	if !strings.Contains(buf.String(), "failed to build sales prompt") {
		t.Errorf("log = %s, want the internal cause", buf.String())
	}
}
