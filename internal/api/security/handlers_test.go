package security

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/pablocopete/IBM/internal/db/models"
	"github.com/pablocopete/IBM/internal/middleware"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type recordedAttempt struct {
	email, ip, userAgent, reason string
	success                      bool
}

// fakeMonitor records calls; monitored receives the IPs passed to
// MonitorFailedLogins, which runs asynchronously.
type fakeMonitor struct {
	mu        sync.Mutex
	locked    bool
	recordErr error
	attempts  []recordedAttempt
	monitored chan string

	events    []*models.SecurityEvent
	eventsErr error
	limit     int
	severity  models.Severity
}

func newFakeMonitor() *fakeMonitor {
	return &fakeMonitor{monitored: make(chan string, 4)}
}

func (f *fakeMonitor) RecordAuthAttempt(_ context.Context, email string, success bool, ip, userAgent, failureReason string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.locked {
		return false, nil
	}
	f.attempts = append(f.attempts, recordedAttempt{email: email, ip: ip, userAgent: userAgent, reason: failureReason, success: success})
	return true, f.recordErr
}

func (f *fakeMonitor) MonitorFailedLogins(_ context.Context, ip string) (bool, error) {
	f.monitored <- ip
	return false, nil
}

func (f *fakeMonitor) RecentSecurityEvents(_ context.Context, limit int, severity models.Severity) ([]*models.SecurityEvent, error) {
	f.limit = limit
	f.severity = severity
	return f.events, f.eventsErr
}

func newSecurityRouter(m Monitor, userID string) *gin.Engine {
	h := NewHandler(m)
	r := gin.New()
	r.Use(func(c *gin.Context) {
		if userID != "" {
			c.Set(middleware.UserIDKey, userID)
		}
		c.Next()
	})
	r.POST("/api/v1/auth/attempts", h.RecordAuthAttempt)
	r.GET("/api/v1/security/events", h.ListSecurityEvents)
	return r
}

func postAttempt(r http.Handler, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/attempts", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "test-agent/1.0")
	req.RemoteAddr = "198.51.100.20:5000"
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

// ---------------------------------------------------------------------------
// RecordAuthAttempt
// ---------------------------------------------------------------------------

func TestRecordAuthAttempt_Success(t *testing.T) {
	m := newFakeMonitor()
	w := postAttempt(newSecurityRouter(m, ""), `{"email":"Ann@Acme.com","success":true}`)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 (%s)", w.Code, w.Body.String())
	}
	if len(m.attempts) != 1 {
		t.Fatalf("recorded %d attempts, want 1", len(m.attempts))
	}
	got := m.attempts[0]
	if got.email != "ann@acme.com" || !got.success || got.ip != "198.51.100.20" || got.userAgent != "test-agent/1.0" {
		t.Errorf("attempt = %+v", got)
	}

	select {
	case ip := <-m.monitored:
		t.Errorf("MonitorFailedLogins(%q) called for a successful attempt", ip)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestRecordAuthAttempt_FailureRunsDetector(t *testing.T) {
	m := newFakeMonitor()
	w := postAttempt(newSecurityRouter(m, ""), `{"email":"ann@acme.com","success":false,"failureReason":"<b>bad password</b>"}`)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if m.attempts[0].reason != "bbad password/b" {
		t.Errorf("reason = %q, want sanitized", m.attempts[0].reason)
	}

	select {
	case ip := <-m.monitored:
		if ip != "198.51.100.20" {
			t.Errorf("MonitorFailedLogins ip = %q", ip)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for MonitorFailedLogins")
	}
}

func TestRecordAuthAttempt_Locked(t *testing.T) {
	m := newFakeMonitor()
	m.locked = true
	w := postAttempt(newSecurityRouter(m, ""), `{"email":"ann@acme.com","success":false}`)

	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429", w.Code)
	}
	var body map[string]any
	_ = json.Unmarshal(w.Body.Bytes(), &body)
	if body["error"] != MsgAccountLocked {
		t.Errorf("error = %v, want %q", body["error"], MsgAccountLocked)
	}

	select {
	case <-m.monitored:
		t.Error("detector must not run for a refused attempt")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestRecordAuthAttempt_StoreErrorStillAnswers(t *testing.T) {
	m := newFakeMonitor()
	m.recordErr = errors.New("db down")
	w := postAttempt(newSecurityRouter(m, ""), `{"email":"ann@acme.com","success":true}`)

	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", w.Code)
	}
}

func TestRecordAuthAttempt_InvalidBody(t *testing.T) {
	tests := map[string]string{
		"bad email":      `{"email":"ann","success":true}`,
		"missing email":  `{"success":false}`,
		"success string": `{"email":"ann@acme.com","success":"yes"}`,
		"malformed":      `{`,
	}
	for name, body := range tests {
		t.Run(name, func(t *testing.T) {
			m := newFakeMonitor()
			w := postAttempt(newSecurityRouter(m, ""), body)
			if w.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want 400", w.Code)
			}
			if len(m.attempts) != 0 {
				t.Error("invalid attempt must not be recorded")
			}
		})
	}
}

// ---------------------------------------------------------------------------
// ListSecurityEvents
// ---------------------------------------------------------------------------

func getEvents(r http.Handler, target string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, target, nil))
	return w
}

func TestListSecurityEvents_RequiresUser(t *testing.T) {
	w := getEvents(newSecurityRouter(newFakeMonitor(), ""), "/api/v1/security/events")
	if w.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", w.Code)
	}
}

func TestListSecurityEvents_PassesFilters(t *testing.T) {
	m := newFakeMonitor()
	m.events = []*models.SecurityEvent{
		{ID: "e1", EventType: models.EventFailedLogin, Severity: models.SeverityHigh, Description: "x"},
	}
	w := getEvents(newSecurityRouter(m, "user-1"), "/api/v1/security/events?limit=10&severity=high")

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 (%s)", w.Code, w.Body.String())
	}
	if m.limit != 10 || m.severity != models.SeverityHigh {
		t.Errorf("monitor got limit=%d severity=%q", m.limit, m.severity)
	}

	var body struct {
		Events []models.SecurityEvent `json:"events"`
		Count  int                    `json:"count"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if body.Count != 1 || len(body.Events) != 1 || body.Events[0].ID != "e1" {
		t.Errorf("body = %+v", body)
	}
}

func TestListSecurityEvents_EmptyIsArray(t *testing.T) {
	w := getEvents(newSecurityRouter(newFakeMonitor(), "user-1"), "/api/v1/security/events")

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if !strings.Contains(w.Body.String(), `"events":[]`) {
		t.Errorf("body = %s, want an empty events array", w.Body.String())
	}
}

func TestListSecurityEvents_BadQuery(t *testing.T) {
	for _, target := range []string{
		"/api/v1/security/events?limit=ten",
		"/api/v1/security/events?severity=urgent",
	} {
		w := getEvents(newSecurityRouter(newFakeMonitor(), "user-1"), target)
		if w.Code != http.StatusBadRequest {
			t.Errorf("%s: status = %d, want 400", target, w.Code)
		}
	}
}

func TestListSecurityEvents_StoreError(t *testing.T) {
	m := newFakeMonitor()
	m.eventsErr = errors.New("db down")
	w := getEvents(newSecurityRouter(m, "user-1"), "/api/v1/security/events")

	if w.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", w.Code)
	}
	if strings.Contains(w.Body.String(), "db down") {
		t.Error("internal error detail leaked into the response")
	}
}
