package aigateway

import (
	"embed"
	"encoding/json"
	"fmt"
)

//go:embed tools/*.json
var toolFS embed.FS

// Tool names, one per file under tools/.
const (
	ToolAttendeeIntelligence = "attendee_intelligence"
	ToolCompanyResearch      = "company_research"
	ToolSalesIntelligence    = "sales_intelligence"
)

// LoadTool returns the embedded tool definition called name.
func LoadTool(name string) (Tool, error) {
	data, err := toolFS.ReadFile("tools/" + name + ".json")
	if err != nil {
		return Tool{}, fmt.Errorf("unknown tool %q: %w", name, err)
	}
	var t Tool
	if err := json.Unmarshal(data, &t); err != nil {
		return Tool{}, fmt.Errorf("invalid tool definition %q: %w", name, err)
	}
	return t, nil
}

func mustLoadTool(name string) Tool {
	t, err := LoadTool(name)
	if err != nil {
		panic(err)
	}
	return t
}
