package middleware

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/pablocopete/IBM/internal/signing"
	"github.com/pablocopete/IBM/internal/telemetry"
)

const testSigningSecret = "signing-secret-for-middleware-tests"

var signingNow = time.UnixMilli(1767225600000) // 2026-01-01T00:00:00Z

// newSignedRouter returns an engine whose POST /signed handler echoes the body
// it receives after verification.
func newSignedRouter() *gin.Engine {
	r := gin.New()
	r.Use(signatureMiddleware(testSigningSecret, func() time.Time { return signingNow }))
	r.POST("/signed", func(c *gin.Context) {
		body, _ := io.ReadAll(c.Request.Body)
		c.Data(http.StatusOK, "application/json", body)
	})
	return r
}

func signedRequest(t *testing.T, body string, ts int64, sig string) *http.Request {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/signed", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if ts != 0 {
		req.Header.Set(TimestampHeader, strconv.FormatInt(ts, 10))
	}
	if sig != "" {
		req.Header.Set(SignatureHeader, sig)
	}
	return req
}

func sign(t *testing.T, payload any, ts int64) string {
	t.Helper()
	sig, err := signing.Sign(payload, ts, testSigningSecret)
	if err != nil {
		t.Fatalf("Sign() error: %v", err)
	}
	return sig
}

func assertInvalidRequest(t *testing.T, w *httptest.ResponseRecorder) {
	t.Helper()
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", w.Code)
	}
	var body map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("response is not JSON: %v", err)
	}
	if body["error"] != "Invalid request" {
		t.Errorf("error = %v, want %q", body["error"], "Invalid request")
	}
	if body["retryable"] != false {
		t.Errorf("retryable = %v, want false", body["retryable"])
	}
}

// ---------------------------------------------------------------------------
// SignatureMiddleware
// ---------------------------------------------------------------------------

func TestSignatureMiddleware_ValidRequestPassesAndBodyIsRestored(t *testing.T) {
	body := `{"companyName":"Acme","companyDomain":"acme.com","meta":{"n":3,"tags":["a","b"]}}`
	var payload any
	if err := json.Unmarshal([]byte(body), &payload); err != nil {
		t.Fatal(err)
	}
	ts := signingNow.UnixMilli()

	w := httptest.NewRecorder()
	newSignedRouter().ServeHTTP(w, signedRequest(t, body, ts, sign(t, payload, ts)))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 (body %s)", w.Code, w.Body.String())
	}
	if w.Body.String() != body {
		t.Errorf("handler saw body %q, want %q", w.Body.String(), body)
	}
}

func TestSignatureMiddleware_KeyOrderDoesNotMatter(t *testing.T) {
	ts := signingNow.UnixMilli()
	sig := sign(t, map[string]any{"a": 1, "b": 2}, ts)

	w := httptest.NewRecorder()
	newSignedRouter().ServeHTTP(w, signedRequest(t, `{"b":2,"a":1}`, ts, sig))

	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", w.Code)
	}
}

func TestSignatureMiddleware_EmptyBodySignsNull(t *testing.T) {
	ts := signingNow.UnixMilli()
	sig := sign(t, nil, ts)

	w := httptest.NewRecorder()
	newSignedRouter().ServeHTTP(w, signedRequest(t, "", ts, sig))

	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", w.Code)
	}
}

func TestSignatureMiddleware_Rejections(t *testing.T) {
	body := `{"companyName":"Acme"}`
	payload := map[string]any{"companyName": "Acme"}
	ts := signingNow.UnixMilli()
	good := sign(t, payload, ts)

	tests := []struct {
		name   string
		req    func() *http.Request
		reason string
	}{
		{
			name:   "missing headers",
			req:    func() *http.Request { return signedRequest(t, body, 0, "") },
			reason: "missing_headers",
		},
		{
			name:   "missing signature",
			req:    func() *http.Request { return signedRequest(t, body, ts, "") },
			reason: "missing_headers",
		},
		{
			name: "non numeric timestamp",
			req: func() *http.Request {
				r := signedRequest(t, body, 0, good)
				r.Header.Set(TimestampHeader, "yesterday")
				return r
			},
			reason: "malformed_timestamp",
		},
		{
			name:   "stale timestamp",
			req:    func() *http.Request { return signedRequest(t, body, ts-int64(6*time.Minute/time.Millisecond), good) },
			reason: "expired",
		},
		{
			name: "future timestamp",
			req: func() *http.Request {
				future := ts + int64(5*time.Minute/time.Millisecond)
				return signedRequest(t, body, future, sign(t, payload, future))
			},
			reason: "expired",
		},
		{
			name:   "tampered body",
			req:    func() *http.Request { return signedRequest(t, `{"companyName":"Evil"}`, ts, good) },
			reason: "mismatch",
		},
		{
			name:   "signature over other timestamp",
			req:    func() *http.Request { return signedRequest(t, body, ts+1, good) },
			reason: "mismatch",
		},
		{
			name:   "malformed JSON",
			req:    func() *http.Request { return signedRequest(t, `{"companyName":`, ts, good) },
			reason: "malformed_body",
		},
		{
			name:   "trailing value after signed object",
			req:    func() *http.Request { return signedRequest(t, body+`{"companyName":"Evil"}`, ts, good) },
			reason: "malformed_body",
		},
		{
			name:   "uppercase signature",
			req:    func() *http.Request { return signedRequest(t, body, ts, strings.ToUpper(good)) },
			reason: "mismatch",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			labels := prometheus.Labels{"reason": tt.reason}
			before := counterValue(telemetry.SignatureFailuresTotal, labels)

			w := httptest.NewRecorder()
			newSignedRouter().ServeHTTP(w, tt.req())

			assertInvalidRequest(t, w)
			if got := counterValue(telemetry.SignatureFailuresTotal, labels) - before; got != 1 {
				t.Errorf("signature_failures_total{reason=%q} delta = %.0f, want 1", tt.reason, got)
			}
		})
	}
}

func TestSignatureMiddleware_RejectsOversizedBody(t *testing.T) {
	ts := signingNow.UnixMilli()
	big := `{"x":"` + strings.Repeat("a", MaxSignedBodyBytes) + `"}`

	w := httptest.NewRecorder()
	newSignedRouter().ServeHTTP(w, signedRequest(t, big, ts, strings.Repeat("0", 64)))

	assertInvalidRequest(t, w)
}

func TestSignatureMiddleware_UsesWallClock(t *testing.T) {
	r := gin.New()
	r.Use(SignatureMiddleware(testSigningSecret))
	r.POST("/signed", func(c *gin.Context) { c.Status(http.StatusNoContent) })

	ts := time.Now().UnixMilli()
	w := httptest.NewRecorder()
	r.ServeHTTP(w, signedRequest(t, `{"k":"v"}`, ts, sign(t, map[string]any{"k": "v"}, ts)))

	if w.Code != http.StatusNoContent {
		t.Errorf("status = %d, want 204", w.Code)
	}
}
