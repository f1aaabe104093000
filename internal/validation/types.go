// types.go defines the inbound request payloads and the typed AI responses
// that cross the service boundary.
package validation

import (
	"encoding/json"
	"fmt"
)

// Field limits shared by request types.
const (
	MaxCompanyNameLength  = 200
	MaxAttendeeNameLength = 100
	MaxEmailLength        = 255
	MaxJobTitleLength     = 200
	MaxAttendeesPerBatch  = 100
)

// ---------------------------------------------------------------------------
// Requests
// ---------------------------------------------------------------------------

// CompanyResearchRequest is the body of POST /api/v1/research-company.
type CompanyResearchRequest struct {
	CompanyName   string `json:"companyName" validate:"required,max=200"`
	CompanyDomain string `json:"companyDomain" validate:"required,domain"`
}

// Normalize sanitizes the name and lowercases the domain.
func (r *CompanyResearchRequest) Normalize() {
	r.CompanyName = SanitizeString(r.CompanyName, MaxCompanyNameLength)
	r.CompanyDomain = NormalizeDomain(r.CompanyDomain)
}

// AttendeeInput identifies one meeting attendee.
type AttendeeInput struct {
	Name     string `json:"name" validate:"required,max=100"`
	Email    string `json:"email" validate:"required,email,max=255"`
	JobTitle string `json:"jobTitle,omitempty" validate:"max=200"`
}

// Normalize sanitizes the free-text fields and lowercases the email.
func (a *AttendeeInput) Normalize() {
	a.Name = SanitizeString(a.Name, MaxAttendeeNameLength)
	a.Email = NormalizeEmail(a.Email)
	if a.JobTitle != "" {
		a.JobTitle = SanitizeString(a.JobTitle, MaxJobTitleLength)
	}
}

// AnalyzeAttendeesRequest is the body of POST /api/v1/analyze-attendees. Items
// are kept raw so ValidateBatch can report the failing index.
type AnalyzeAttendeesRequest struct {
	Attendees []json.RawMessage `json:"attendees" validate:"required,min=1"`
}

// SalesIntelligenceRequest is the body of POST /api/v1/sales-intelligence.
type SalesIntelligenceRequest struct {
	Meeting         json.RawMessage `json:"meeting" validate:"required"`
	Attendee        AttendeeInput   `json:"attendee"`
	CompanyResearch json.RawMessage `json:"companyResearch,omitempty"`
}

// AuthAttemptRequest is the body of POST /api/v1/auth/attempts.
type AuthAttemptRequest struct {
	Email         string `json:"email" validate:"required,email,max=255"`
	Success       bool   `json:"success"`
	FailureReason string `json:"failureReason,omitempty" validate:"max=200"`
}

// ---------------------------------------------------------------------------
// AI responses
// ---------------------------------------------------------------------------

// ResponseKind names one variant of AIResponse.
type ResponseKind string

const (
	KindAttendees         ResponseKind = "attendees"
	KindCompanyResearch   ResponseKind = "company_research"
	KindSalesIntelligence ResponseKind = "sales_intelligence"
)

// AIResponse is the closed set of structured payloads the AI gateway can
// return. Callers switch on the concrete type.
type AIResponse interface {
	Kind() ResponseKind
	aiResponse()
}

// AttendeeIntel is one enriched attendee.
type AttendeeIntel struct {
	Name                   string   `json:"name" validate:"required"`
	Email                  string   `json:"email" validate:"required,email"`
	EmailDomain            string   `json:"emailDomain,omitempty"`
	JobTitle               string   `json:"jobTitle,omitempty"`
	Role                   string   `json:"role,omitempty"`
	YearsAtCompany         string   `json:"yearsAtCompany,omitempty"`
	ProfessionalBackground string   `json:"professionalBackground,omitempty"`
	RecentActivities       []string `json:"recentActivities,omitempty"`
	CompanyName            string   `json:"companyName,omitempty"`
	CompanyIndustry        string   `json:"companyIndustry,omitempty"`
	LinkedInURL            string   `json:"linkedInUrl,omitempty" validate:"omitempty,https_url"`
	Confidence             string   `json:"confidence,omitempty" validate:"omitempty,oneof=high medium low"`
	Error                  string   `json:"error,omitempty"`
}

// AttendeeResponse is returned by attendee analysis.
type AttendeeResponse struct {
	Attendees []AttendeeIntel `json:"attendees" validate:"required,dive"`
}

// CompanyProfile summarizes a researched company.
type CompanyProfile struct {
	Industry      string   `json:"industry" validate:"required"`
	Size          string   `json:"size,omitempty"`
	Headcount     string   `json:"headcount,omitempty"`
	Sector        string   `json:"sector,omitempty"`
	Founded       string   `json:"founded,omitempty"`
	Headquarters  string   `json:"headquarters,omitempty"`
	Products      []string `json:"products,omitempty"`
	BusinessModel string   `json:"businessModel,omitempty"`
}

// NewsItem is a recent headline about a company.
type NewsItem struct {
	Headline string `json:"headline" validate:"required"`
	Date     string `json:"date,omitempty"`
	Summary  string `json:"summary,omitempty"`
	Source   string `json:"source,omitempty"`
}

// CompanyResearchResponse is returned by company research.
type CompanyResearchResponse struct {
	CompanyName       string          `json:"companyName" validate:"required"`
	CompanyDomain     string          `json:"companyDomain" validate:"required"`
	Profile           *CompanyProfile `json:"profile,omitempty"`
	Financial         json.RawMessage `json:"financial,omitempty"`
	RecentNews        []NewsItem      `json:"recentNews,omitempty" validate:"omitempty,dive"`
	PainPoints        json.RawMessage `json:"painPoints,omitempty"`
	StrategicInsights json.RawMessage `json:"strategicInsights,omitempty"`
	Confidence        string          `json:"confidence,omitempty" validate:"omitempty,oneof=high medium low"`
	LastUpdated       string          `json:"lastUpdated,omitempty"`
	ResearchedAt      string          `json:"researchedAt,omitempty"`
}

// SalesAttendee is the attendee a sales brief was generated for.
type SalesAttendee struct {
	Name  string `json:"name" validate:"required"`
	Title string `json:"title,omitempty"`
	Email string `json:"email" validate:"required,email"`
}

// CompanySnapshot is the short company overview of a sales brief.
type CompanySnapshot struct {
	Industry   string `json:"industry" validate:"required"`
	Size       string `json:"size" validate:"required"`
	Stage      string `json:"stage" validate:"required,oneof=Startup Growth Enterprise Mature"`
	RecentNews string `json:"recentNews,omitempty"`
}

// FinancialHealth rates a company's finances.
type FinancialHealth struct {
	Status        string `json:"status" validate:"required,oneof=Healthy Growing Stable Concerning"`
	LatestFunding string `json:"latestFunding,omitempty"`
	Revenue       string `json:"revenue,omitempty"`
	Indicators    string `json:"indicators,omitempty"`
}

// RecommendedApproach is the pitch plan of a sales brief.
type RecommendedApproach struct {
	KeyPainPoints          []string `json:"keyPainPoints" validate:"required"`
	WhatToPitch            []string `json:"whatToPitch" validate:"required"`
	ValueProposition       string   `json:"valueProposition" validate:"required"`
	BudgetExpectation      string   `json:"budgetExpectation,omitempty"`
	DecisionMakerInfluence string   `json:"decisionMakerInfluence,omitempty" validate:"omitempty,oneof=High Medium Low"`
}

// SalesIntelligenceResponse is returned by sales intelligence generation.
type SalesIntelligenceResponse struct {
	Meeting             json.RawMessage      `json:"meeting,omitempty"`
	Attendee            SalesAttendee        `json:"attendee"`
	Company             string               `json:"company" validate:"required"`
	CompanySnapshot     *CompanySnapshot     `json:"companySnapshot,omitempty"`
	FinancialHealth     *FinancialHealth     `json:"financialHealth,omitempty"`
	RecommendedApproach *RecommendedApproach `json:"recommendedApproach,omitempty"`
	TalkingPoints       []string             `json:"talkingPoints,omitempty"`
	GeneratedAt         string               `json:"generatedAt" validate:"required"`
}

func (AttendeeResponse) Kind() ResponseKind          { return KindAttendees }
func (CompanyResearchResponse) Kind() ResponseKind   { return KindCompanyResearch }
func (SalesIntelligenceResponse) Kind() ResponseKind { return KindSalesIntelligence }

func (AttendeeResponse) aiResponse()          {}
func (CompanyResearchResponse) aiResponse()   {}
func (SalesIntelligenceResponse) aiResponse() {}

// DecodeAIResponse validates data as the variant named by kind.
func DecodeAIResponse(kind ResponseKind, data []byte) (AIResponse, error) {
	switch kind {
	case KindAttendees:
		return decodeAs[AttendeeResponse](data)
	case KindCompanyResearch:
		return decodeAs[CompanyResearchResponse](data)
	case KindSalesIntelligence:
		return decodeAs[SalesIntelligenceResponse](data)
	}
	return nil, fmt.Errorf("unknown AI response kind %q", kind)
}

func decodeAs[T AIResponse](data []byte) (AIResponse, error) {
	v, err := Validate[T](data)
	if err != nil {
		return nil, fmt.Errorf("Invalid API response: %w", err)
	}
	return v, nil
}
