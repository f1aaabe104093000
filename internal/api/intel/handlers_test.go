package intel

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/pablocopete/IBM/internal/apierror"
	"github.com/pablocopete/IBM/internal/egress"
	"github.com/pablocopete/IBM/internal/validation"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// fakeAnalyzer records the normalized requests it receives.
type fakeAnalyzer struct {
	err       error
	company   validation.CompanyResearchRequest
	attendees []validation.AttendeeInput
	sales     validation.SalesIntelligenceRequest
	calls     int
}

func (f *fakeAnalyzer) ResearchCompany(_ context.Context, req validation.CompanyResearchRequest) (*validation.CompanyResearchResponse, error) {
	f.calls++
	f.company = req
	if f.err != nil {
		return nil, f.err
	}
	return &validation.CompanyResearchResponse{
		CompanyName:   req.CompanyName,
		CompanyDomain: req.CompanyDomain,
		Profile:       &validation.CompanyProfile{Industry: "Software"},
	}, nil
}

func (f *fakeAnalyzer) AnalyzeAttendees(_ context.Context, attendees []validation.AttendeeInput) (*validation.AttendeeResponse, error) {
	f.calls++
	f.attendees = attendees
	if f.err != nil {
		return nil, f.err
	}
	out := &validation.AttendeeResponse{}
	for _, a := range attendees {
		out.Attendees = append(out.Attendees, validation.AttendeeIntel{Name: a.Name, Email: a.Email})
	}
	return out, nil
}

func (f *fakeAnalyzer) GenerateSalesIntelligence(_ context.Context, req validation.SalesIntelligenceRequest) (*validation.SalesIntelligenceResponse, error) {
	f.calls++
	f.sales = req
	if f.err != nil {
		return nil, f.err
	}
	return &validation.SalesIntelligenceResponse{
		Attendee:    validation.SalesAttendee{Name: req.Attendee.Name, Email: req.Attendee.Email},
		Company:     "Acme",
		GeneratedAt: "2026-01-01T00:00:00.000Z",
	}, nil
}

func newIntelRouter(a Analyzer) *gin.Engine {
	h := NewHandler(a)
	r := gin.New()
	r.POST("/api/v1/research-company", h.ResearchCompany)
	r.POST("/api/v1/analyze-attendees", h.AnalyzeAttendees)
	r.POST("/api/v1/sales-intelligence", h.GenerateSalesIntelligence)
	return r
}

func post(r http.Handler, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("response is not JSON: %v (%s)", err, w.Body.String())
	}
	return body
}

// ---------------------------------------------------------------------------
// ResearchCompany
// ---------------------------------------------------------------------------

func TestResearchCompany_NormalizesRequest(t *testing.T) {
	fa := &fakeAnalyzer{}
	w := post(newIntelRouter(fa), "/api/v1/research-company",
		`{"companyName":"  <b>Acme</b> ","companyDomain":"Acme.COM"}`)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 (%s)", w.Code, w.Body.String())
	}
	if fa.company.CompanyName != "bAcme/b" {
		t.Errorf("CompanyName = %q, want sanitized", fa.company.CompanyName)
	}
	if fa.company.CompanyDomain != "acme.com" {
		t.Errorf("CompanyDomain = %q, want lowercased", fa.company.CompanyDomain)
	}
	if got := decodeBody(t, w)["companyDomain"]; got != "acme.com" {
		t.Errorf("response companyDomain = %v", got)
	}
}

func TestResearchCompany_RejectsInvalidInput(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{"empty body", ``, "Invalid JSON body"},
		{"malformed", `{"companyName":`, "Invalid JSON body"},
		{"missing name", `{"companyDomain":"acme.com"}`, "companyName: is required"},
		{"bad domain", `{"companyName":"Acme","companyDomain":"not a domain"}`, "companyDomain: must be a valid domain"},
		{"name too long", `{"companyName":"` + strings.Repeat("a", 201) + `","companyDomain":"acme.com"}`, "companyName: must be at most 200 characters"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fa := &fakeAnalyzer{}
			w := post(newIntelRouter(fa), "/api/v1/research-company", tt.body)

			if w.Code != http.StatusBadRequest {
				t.Fatalf("status = %d, want 400", w.Code)
			}
			body := decodeBody(t, w)
			if body["error"] != tt.want {
				t.Errorf("error = %v, want %q", body["error"], tt.want)
			}
			if body["retryable"] != false {
				t.Errorf("retryable = %v, want false", body["retryable"])
			}
			if fa.calls != 0 {
				t.Error("analyzer must not be called for an invalid request")
			}
		})
	}
}

func TestResearchCompany_MapsAnalyzerErrors(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		status    int
		retryable bool
	}{
		{"rate limited upstream", apierror.New(apierror.KindRateLimited, apierror.MsgRateLimited, nil), http.StatusTooManyRequests, true},
		{"blocked", &egress.BlockedError{Reason: egress.ReasonNotWhitelisted}, http.StatusForbidden, false},
		{"timeout", &egress.TimeoutError{}, http.StatusGatewayTimeout, true},
		{"upstream", egress.ErrUpstream, http.StatusBadGateway, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := post(newIntelRouter(&fakeAnalyzer{err: tt.err}), "/api/v1/research-company",
				`{"companyName":"Acme","companyDomain":"acme.com"}`)

			if w.Code != tt.status {
				t.Errorf("status = %d, want %d", w.Code, tt.status)
			}
			if got := decodeBody(t, w)["retryable"]; got != tt.retryable {
				t.Errorf("retryable = %v, want %v", got, tt.retryable)
			}
		})
	}
}

// ---------------------------------------------------------------------------
// AnalyzeAttendees
// ---------------------------------------------------------------------------

func TestAnalyzeAttendees_NormalizesEachAttendee(t *testing.T) {
	fa := &fakeAnalyzer{}
	w := post(newIntelRouter(fa), "/api/v1/analyze-attendees",
		`{"attendees":[{"name":" Ann ","email":"Ann@Acme.com"},{"name":"Bob","email":"bob@globex.io"}]}`)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 (%s)", w.Code, w.Body.String())
	}
	if len(fa.attendees) != 2 {
		t.Fatalf("analyzer got %d attendees, want 2", len(fa.attendees))
	}
	if fa.attendees[0].Name != "Ann" || fa.attendees[0].Email != "ann@acme.com" {
		t.Errorf("attendee[0] = %+v, want normalized", fa.attendees[0])
	}
}

func TestAnalyzeAttendees_BatchErrors(t *testing.T) {
	var many strings.Builder
	many.WriteString(`{"attendees":[`)
	for i := 0; i <= validation.MaxAttendeesPerBatch; i++ {
		if i > 0 {
			many.WriteByte(',')
		}
		many.WriteString(`{"name":"x","email":"x@acme.com"}`)
	}
	many.WriteString(`]}`)

	tests := []struct {
		name string
		body string
		want string
	}{
		{"too many", many.String(), "Too many items. Maximum allowed: 100"},
		{"bad item", `{"attendees":[{"name":"Ann","email":"ann@acme.com"},{"name":"Bob","email":"nope"}]}`,
			"Validation error at item 1: email: must be a valid email address"},
		{"empty list", `{"attendees":[]}`, "attendees: must contain at least 1 items"},
		{"missing list", `{}`, "attendees: is required"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fa := &fakeAnalyzer{}
			w := post(newIntelRouter(fa), "/api/v1/analyze-attendees", tt.body)

			if w.Code != http.StatusBadRequest {
				t.Fatalf("status = %d, want 400", w.Code)
			}
			if got := decodeBody(t, w)["error"]; got != tt.want {
				t.Errorf("error = %v, want %q", got, tt.want)
			}
			if fa.calls != 0 {
				t.Error("analyzer must not be called for an invalid batch")
			}
		})
	}
}

// ---------------------------------------------------------------------------
// GenerateSalesIntelligence
// ---------------------------------------------------------------------------

func TestGenerateSalesIntelligence_PassesNormalizedAttendee(t *testing.T) {
	fa := &fakeAnalyzer{}
	w := post(newIntelRouter(fa), "/api/v1/sales-intelligence", `{
		"meeting": {"startTime": "2026-05-05T10:00:00Z"},
		"attendee": {"name": "Ann", "email": "ANN@acme.com", "jobTitle": "<i>CTO</i>"},
		"companyResearch": {"companyName": "Acme"}
	}`)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 (%s)", w.Code, w.Body.String())
	}
	if fa.sales.Attendee.Email != "ann@acme.com" {
		t.Errorf("Email = %q, want lowercased", fa.sales.Attendee.Email)
	}
	if fa.sales.Attendee.JobTitle != "iCTO/i" {
		t.Errorf("JobTitle = %q, want sanitized", fa.sales.Attendee.JobTitle)
	}
}

func TestGenerateSalesIntelligence_RequiresMeetingAndAttendee(t *testing.T) {
	tests := map[string]string{
		"no meeting":     `{"attendee":{"name":"Ann","email":"ann@acme.com"}}`,
		"bad email":      `{"meeting":{},"attendee":{"name":"Ann","email":"ann"}}`,
		"missing name":   `{"meeting":{},"attendee":{"email":"ann@acme.com"}}`,
		"attendee array": `{"meeting":{},"attendee":[]}`,
	}
	for name, body := range tests {
		t.Run(name, func(t *testing.T) {
			fa := &fakeAnalyzer{}
			w := post(newIntelRouter(fa), "/api/v1/sales-intelligence", body)

			if w.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want 400 (%s)", w.Code, w.Body.String())
			}
			if fa.calls != 0 {
				t.Error("analyzer must not be called")
			}
		})
	}
}
