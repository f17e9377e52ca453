package tools

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/moolen/sleuth/internal/analysis"
	"github.com/moolen/sleuth/internal/api"
	"github.com/moolen/sleuth/internal/incident"
	"github.com/moolen/sleuth/internal/report"
)

// Analyzer runs one incident analysis.
type Analyzer interface {
	Analyze(ctx context.Context, req analysis.Request) (*incident.AnalysisResult, error)
}

// AnalyzeIncidentTool implements the analyze_incident MCP tool
type AnalyzeIncidentTool struct {
	analyzer Analyzer
}

// NewAnalyzeIncidentTool creates a new analyze_incident tool
func NewAnalyzeIncidentTool(analyzer Analyzer) *AnalyzeIncidentTool {
	return &AnalyzeIncidentTool{
		analyzer: analyzer,
	}
}

// AnalyzeIncidentInput represents the input for analyze_incident tool
type AnalyzeIncidentInput struct {
	Description string                 `json:"description,omitempty"`
	Fields      []incident.DetailField `json:"fields,omitempty"`
	Threshold   *float64               `json:"threshold,omitempty"`
	MaxSimilar  *int                   `json:"max_similar,omitempty"`
	Format      string                 `json:"format,omitempty"` // json (default) or markdown
}

// Execute runs the analyze_incident tool. Markdown output is returned as a
// plain string.
func (t *AnalyzeIncidentTool) Execute(ctx context.Context, input json.RawMessage) (interface{}, error) {
	var params AnalyzeIncidentInput
	if err := json.Unmarshal(input, &params); err != nil {
		return nil, fmt.Errorf("invalid input: %w", err)
	}

	format := report.FormatJSON
	if params.Format != "" {
		f, err := report.ParseFormat(params.Format)
		if err != nil {
			return nil, err
		}
		if f != report.FormatJSON && f != report.FormatMarkdown {
			return nil, fmt.Errorf("format must be json or markdown, got %q", params.Format)
		}
		format = f
	}

	req, err := api.AnalyzeRequest{
		Description: params.Description,
		Fields:      params.Fields,
		Threshold:   params.Threshold,
		MaxSimilar:  params.MaxSimilar,
	}.ToRequest()
	if err != nil {
		return nil, err
	}

	result, err := t.analyzer.Analyze(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("analysis failed: %w", err)
	}
	if format == report.FormatMarkdown {
		return report.Markdown(result), nil
	}
	return result, nil
}
