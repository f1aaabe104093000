// Package intel implements the AI-backed meeting preparation endpoints:
// company research, attendee analysis and sales intelligence briefs.
package intel

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/pablocopete/IBM/internal/apierror"
	"github.com/pablocopete/IBM/internal/validation"
)

// Analyzer produces the typed AI responses. *aigateway.Service implements it.
type Analyzer interface {
	ResearchCompany(ctx context.Context, req validation.CompanyResearchRequest) (*validation.CompanyResearchResponse, error)
	AnalyzeAttendees(ctx context.Context, attendees []validation.AttendeeInput) (*validation.AttendeeResponse, error)
	GenerateSalesIntelligence(ctx context.Context, req validation.SalesIntelligenceRequest) (*validation.SalesIntelligenceResponse, error)
}

// Handler serves the intel endpoints.
type Handler struct {
	analyzer Analyzer
}

// NewHandler creates a new intel handler
func NewHandler(analyzer Analyzer) *Handler {
	return &Handler{analyzer: analyzer}
}

// readBody decodes and validates the request body as T.
func readBody[T any](c *gin.Context) (T, bool) {
	var zero T
	data, err := c.GetRawData()
	if err != nil {
		apierror.Respond(c, apierror.New(apierror.KindValidation, "Invalid request body", err))
		return zero, false
	}
	v, err := validation.Validate[T](data)
	if err != nil {
		apierror.Respond(c, err)
		return zero, false
	}
	return v, true
}

// @Summary      Research a company
// @Tags         Intel
// @Accept       json
// @Produce      json
// @Param        body  body  validation.CompanyResearchRequest  true  "Company to research"
// @Success      200  {object}  validation.CompanyResearchResponse
// @Failure      400  {object}  map[string]interface{}
// @Failure      401  {object}  map[string]interface{}
// @Failure      429  {object}  map[string]interface{}
// @Router       /api/v1/research-company [post]
func (h *Handler) ResearchCompany(c *gin.Context) {
	req, ok := readBody[validation.CompanyResearchRequest](c)
	if !ok {
		return
	}
	req.Normalize()

	resp, err := h.analyzer.ResearchCompany(c.Request.Context(), req)
	if err != nil {
		apierror.Respond(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// @Summary      Analyze meeting attendees
// @Tags         Intel
// @Accept       json
// @Produce      json
// @Param        body  body  validation.AnalyzeAttendeesRequest  true  "Attendees, at most 100"
// @Success      200  {object}  validation.AttendeeResponse
// @Failure      400  {object}  map[string]interface{}
// @Router       /api/v1/analyze-attendees [post]
func (h *Handler) AnalyzeAttendees(c *gin.Context) {
	req, ok := readBody[validation.AnalyzeAttendeesRequest](c)
	if !ok {
		return
	}

	attendees, err := validation.ValidateBatch[validation.AttendeeInput](req.Attendees, validation.MaxAttendeesPerBatch)
	if err != nil {
		apierror.Respond(c, err)
		return
	}
	for i := range attendees {
		attendees[i].Normalize()
	}

	resp, err := h.analyzer.AnalyzeAttendees(c.Request.Context(), attendees)
	if err != nil {
		apierror.Respond(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// @Summary      Generate a sales intelligence brief
// @Tags         Intel
// @Accept       json
// @Produce      json
// @Param        body  body  validation.SalesIntelligenceRequest  true  "Meeting, attendee and company research"
// @Success      200  {object}  validation.SalesIntelligenceResponse
// @Failure      400  {object}  map[string]interface{}
// @Router       /api/v1/sales-intelligence [post]
func (h *Handler) GenerateSalesIntelligence(c *gin.Context) {
	req, ok := readBody[validation.SalesIntelligenceRequest](c)
	if !ok {
		return
	}
	req.Attendee.Normalize()

	resp, err := h.analyzer.GenerateSalesIntelligence(c.Request.Context(), req)
	if err != nil {
		apierror.Respond(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}
