package aigateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/pablocopete/IBM/internal/apierror"
	"github.com/pablocopete/IBM/internal/egress"
	"github.com/pablocopete/IBM/internal/validation"
)

// DefaultAttendeeConcurrency bounds the attendee lookups in flight per request.
const DefaultAttendeeConcurrency = 5

// MsgAttendeeFailed marks an attendee the model returned no analysis for.
const MsgAttendeeFailed = "Failed to analyze attendee"

// Completer performs one forced tool-call completion. *Client implements it.
type Completer interface {
	CallTool(ctx context.Context, prompt Prompt, tool Tool) (json.RawMessage, error)
}

// Service turns validated requests into typed AI responses.
type Service struct {
	completer   Completer
	now         func() time.Time
	concurrency int

	attendeeTool Tool
	companyTool  Tool
	salesTool    Tool
}

// ServiceOption configures a Service.
type ServiceOption func(*Service)

// WithClock overrides the timestamp source for researchedAt and generatedAt.
func WithClock(now func() time.Time) ServiceOption {
	return func(s *Service) { s.now = now }
}

// WithAttendeeConcurrency sets how many attendees are analyzed at once.
func WithAttendeeConcurrency(n int) ServiceOption {
	return func(s *Service) {
		if n > 0 {
			s.concurrency = n
		}
	}
}

// NewService returns a Service backed by completer.
func NewService(completer Completer, opts ...ServiceOption) *Service {
	s := &Service{
		completer:    completer,
		now:          time.Now,
		concurrency:  DefaultAttendeeConcurrency,
		attendeeTool: mustLoadTool(ToolAttendeeIntelligence),
		companyTool:  mustLoadTool(ToolCompanyResearch),
		salesTool:    mustLoadTool(ToolSalesIntelligence),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) timestamp() string {
	return s.now().UTC().Format("2006-01-02T15:04:05.000Z07:00")
}

// ResearchCompany researches a normalized company request.
func (s *Service) ResearchCompany(ctx context.Context, req validation.CompanyResearchRequest) (*validation.CompanyResearchResponse, error) {
	slog.Info("researching company", "company", req.CompanyName, "domain", req.CompanyDomain)

	args, err := s.completer.CallTool(ctx, companyResearchPrompt(req.CompanyName, req.CompanyDomain), s.companyTool)
	if err != nil {
		return nil, upstreamError(err, "No research data returned")
	}

	merged, err := mergeObject(args, map[string]any{
		"companyName":   req.CompanyName,
		"companyDomain": req.CompanyDomain,
		"researchedAt":  s.timestamp(),
	})
	if err != nil {
		return nil, err
	}

	out, err := decode[validation.CompanyResearchResponse](validation.KindCompanyResearch, merged)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// AnalyzeAttendees researches every attendee concurrently. An attendee the
// model returns no analysis for is reported with an error entry; any other
// failure fails the whole request.
func (s *Service) AnalyzeAttendees(ctx context.Context, attendees []validation.AttendeeInput) (*validation.AttendeeResponse, error) {
	results := make([]validation.AttendeeIntel, len(attendees))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)
	for i, a := range attendees {
		g.Go(func() error {
			intel, err := s.analyzeAttendee(gctx, a)
			if err != nil {
				return err
			}
			results[i] = intel
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	return &validation.AttendeeResponse{Attendees: results}, nil
}

func (s *Service) analyzeAttendee(ctx context.Context, a validation.AttendeeInput) (validation.AttendeeIntel, error) {
	emailDomain := a.Email
	if i := strings.LastIndexByte(emailDomain, '@'); i >= 0 {
		emailDomain = emailDomain[i+1:]
	}
	companyGuess, _, _ := strings.Cut(emailDomain, ".")

	args, err := s.completer.CallTool(ctx, attendeePrompt(a.Name, a.Email, emailDomain, companyGuess), s.attendeeTool)
	if errors.Is(err, ErrNoToolCall) {
		slog.Warn("no attendee analysis returned", "domain", emailDomain)
		return validation.AttendeeIntel{
			Name:        a.Name,
			Email:       a.Email,
			EmailDomain: emailDomain,
			Error:       MsgAttendeeFailed,
		}, nil
	}
	if err != nil {
		return validation.AttendeeIntel{}, upstreamError(err, "")
	}

	merged, err := mergeObject(args, map[string]any{
		"name":        a.Name,
		"email":       a.Email,
		"emailDomain": emailDomain,
	})
	if err != nil {
		return validation.AttendeeIntel{}, err
	}

	intel, err := validation.Validate[validation.AttendeeIntel](merged)
	if err != nil {
		return validation.AttendeeIntel{}, invalidResponse(err)
	}
	return intel, nil
}

// GenerateSalesIntelligence prepares a sales brief for a normalized request.
// The request must carry company research naming the company.
func (s *Service) GenerateSalesIntelligence(ctx context.Context, req validation.SalesIntelligenceRequest) (*validation.SalesIntelligenceResponse, error) {
	var meeting meetingSummary
	if !isObject(req.Meeting) || json.Unmarshal(req.Meeting, &meeting) != nil {
		return nil, &validation.FieldError{Field: "meeting", Constraint: "type", Message: "must be of type object"}
	}

	var company map[string]any
	if len(req.CompanyResearch) > 0 {
		if !isObject(req.CompanyResearch) || json.Unmarshal(req.CompanyResearch, &company) != nil {
			return nil, &validation.FieldError{Field: "companyResearch", Constraint: "type", Message: "must be of type object"}
		}
	}
	companyName, _ := company["companyName"].(string)
	companyName = validation.SanitizeString(companyName, validation.MaxCompanyNameLength)
	if companyName == "" {
		return nil, &validation.FieldError{Field: "companyResearch.companyName", Constraint: "required", Message: "is required"}
	}
	company["companyName"] = companyName

	attendee := map[string]any{
		"name":  req.Attendee.Name,
		"email": req.Attendee.Email,
	}
	if req.Attendee.JobTitle != "" {
		attendee["jobTitle"] = req.Attendee.JobTitle
	}

	prompt, err := salesIntelligencePrompt(meeting, attendee, company, req.Attendee.Name, req.Attendee.JobTitle, companyName)
	if err != nil {
		return nil, fmt.Errorf("failed to build sales prompt: %w", err)
	}

	slog.Info("generating sales intelligence", "company", companyName)
	args, err := s.completer.CallTool(ctx, prompt, s.salesTool)
	if err != nil {
		return nil, upstreamError(err, "No sales intelligence generated")
	}

	merged, err := mergeObject(args, map[string]any{
		"meeting": req.Meeting,
		"attendee": validation.SalesAttendee{
			Name:  req.Attendee.Name,
			Title: req.Attendee.JobTitle,
			Email: req.Attendee.Email,
		},
		"company":     companyName,
		"generatedAt": s.timestamp(),
	})
	if err != nil {
		return nil, err
	}

	out, err := decode[validation.SalesIntelligenceResponse](validation.KindSalesIntelligence, merged)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// mergeObject overlays fixed onto the JSON object args. Keys in fixed win.
func mergeObject(args json.RawMessage, fixed map[string]any) ([]byte, error) {
	obj := map[string]json.RawMessage{}
	if err := json.Unmarshal(args, &obj); err != nil || obj == nil {
		return nil, apierror.New(apierror.KindUpstream, apierror.MsgUpstream,
			fmt.Errorf("%w: tool arguments are not a JSON object", egress.ErrUpstream))
	}
	for k, v := range fixed {
		raw, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("failed to encode %q: %w", k, err)
		}
		obj[k] = raw
	}
	return json.Marshal(obj)
}

func isObject(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) > 0 && trimmed[0] == '{'
}

func decode[T validation.AIResponse](kind validation.ResponseKind, data []byte) (T, error) {
	var zero T
	resp, err := validation.DecodeAIResponse(kind, data)
	if err != nil {
		return zero, invalidResponse(err)
	}
	out, ok := resp.(T)
	if !ok {
		return zero, fmt.Errorf("unexpected AI response type %T", resp)
	}
	return out, nil
}

// invalidResponse reports a model answer that failed validation as an
// upstream fault.
func invalidResponse(err error) error {
	slog.Warn("AI response failed validation", "error", err)
	return apierror.New(apierror.KindUpstream, apierror.MsgUpstream, err)
}

func upstreamError(err error, noToolCallMsg string) error {
	if errors.Is(err, ErrNotConfigured) {
		return apierror.New(apierror.KindInternal, apierror.MsgInternal, err)
	}
	if errors.Is(err, ErrNoToolCall) {
		if noToolCallMsg == "" {
			noToolCallMsg = apierror.MsgUpstream
		}
		return apierror.New(apierror.KindUpstream, noToolCallMsg, err)
	}
	return err
}
