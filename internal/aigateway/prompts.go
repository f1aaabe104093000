package aigateway

import (
	"encoding/json"
	"fmt"
	"strings"
)

const companyResearchSystem = `You are a business intelligence analyst who researches companies from public sources.

For the company you are given, report:
1. Company profile: size, headcount, industry, sector, founding year, headquarters, products and business model.
2. Financial intelligence: revenue, funding rounds and investors, stock symbol and market cap, growth indicators, acquisitions and partnerships.
3. Recent news from the last six months.
4. Pain points: industry challenges, technology gaps, scaling issues and competitive pressures.
5. Strategic insights: competitors, market position, opportunities and risks.

Use current public information only. State your confidence and mark estimates as such.`

const attendeeSystem = `You are a research assistant who gathers professional background on meeting attendees and their companies.

Report the attendee's job title and role, approximate years at the company, a short professional background, recent professional activity and the company's name and industry.

Be factual and concise. Say so when information is not available.`

const salesIntelligenceSystem = `You are a sales strategist who prepares briefs for upcoming client meetings.

From the meeting, attendee and company research you are given, produce:
1. Company snapshot: industry, size, growth stage and notable news.
2. Financial health: budget availability and financial position.
3. Recommended approach: pain points to address, what to pitch, the value proposition, a budget expectation and the attendee's influence on the decision.
4. Talking points the sales rep can open with.

Match the product tier to the company size and tie every recommendation to a concrete pain point.`

func companyResearchPrompt(name, domain string) Prompt {
	return Prompt{
		System: companyResearchSystem,
		User: fmt.Sprintf(`Research this company:
Company Name: %s
Website: %s

Cover the company profile, financial data, recent news, pain points and strategic insights.`, name, domain),
	}
}

func attendeePrompt(name, email, emailDomain, companyGuess string) Prompt {
	return Prompt{
		System: attendeeSystem,
		User: fmt.Sprintf(`Research this person:
Name: %s
Email: %s
Company Domain: %s
Likely Company: %s

Look up their professional profile and company, then return a structured analysis.`, name, email, emailDomain, companyGuess),
	}
}

type meetingSummary struct {
	StartTime any `json:"startTime"`
	Duration  any `json:"duration"`
}

func salesIntelligencePrompt(meeting meetingSummary, attendee, company any, attendeeName, jobTitle, companyName string) (Prompt, error) {
	attendeeJSON, err := json.MarshalIndent(attendee, "", "  ")
	if err != nil {
		return Prompt{}, err
	}
	companyJSON, err := json.MarshalIndent(company, "", "  ")
	if err != nil {
		return Prompt{}, err
	}
	if jobTitle == "" {
		jobTitle = "N/A"
	}

	var b strings.Builder
	b.WriteString("Prepare a sales brief for this upcoming meeting:\n\n")
	b.WriteString("MEETING DETAILS:\n")
	fmt.Fprintf(&b, "- Time: %v\n", orNA(meeting.StartTime))
	fmt.Fprintf(&b, "- Duration: %v\n", orNA(meeting.Duration))
	fmt.Fprintf(&b, "- Attendee: %s, %s\n", attendeeName, jobTitle)
	fmt.Fprintf(&b, "- Company: %s\n\n", companyName)
	b.WriteString("ATTENDEE INFORMATION:\n")
	b.Write(attendeeJSON)
	b.WriteString("\n\nCOMPANY RESEARCH:\n")
	b.Write(companyJSON)
	b.WriteString("\n\nRecommend what to sell and how to approach this client.")

	return Prompt{System: salesIntelligenceSystem, User: b.String()}, nil
}

func orNA(v any) any {
	if v == nil {
		return "N/A"
	}
	return v
}
