package api

import (
	"strings"
	"unicode/utf8"

	"github.com/moolen/sleuth/internal/analysis"
	"github.com/moolen/sleuth/internal/incident"
)

// MaxDescriptionLength bounds the incident text accepted by the API, in runes.
const MaxDescriptionLength = 20000

// AnalyzeRequest is the body of POST /v1/incidents/analyze. Either
// Description or Fields must be set; Description wins when both are.
type AnalyzeRequest struct {
	Description string                 `json:"description,omitempty"`
	Fields      []incident.DetailField `json:"fields,omitempty"`
	Threshold   *float64               `json:"threshold,omitempty"`
	MaxSimilar  *int                   `json:"max_similar,omitempty"`
}

// ToRequest validates r and converts it into an analysis request.
func (r AnalyzeRequest) ToRequest() (analysis.Request, error) {
	desc := strings.TrimSpace(r.Description)
	if desc == "" {
		desc = incident.DescriptionFromFields(r.Fields)
	}
	if desc == "" {
		return analysis.Request{}, NewInvalidRequestError("description or fields is required")
	}
	if n := utf8.RuneCountInString(desc); n > MaxDescriptionLength {
		return analysis.Request{}, NewInvalidRequestError("description is too long (%d characters, max %d)", n, MaxDescriptionLength)
	}
	if r.Threshold != nil && (*r.Threshold < 0 || *r.Threshold > 100) {
		return analysis.Request{}, NewInvalidRequestError("threshold must be within [0,100], got %v", *r.Threshold)
	}
	if r.MaxSimilar != nil && *r.MaxSimilar < 0 {
		return analysis.Request{}, NewInvalidRequestError("max_similar must not be negative, got %d", *r.MaxSimilar)
	}
	return analysis.Request{
		Description: desc,
		Threshold:   r.Threshold,
		MaxSimilar:  r.MaxSimilar,
	}, nil
}

// LoadRequest is the JSON body of POST /v1/corpus/load.
type LoadRequest struct {
	Path  string `json:"path"`
	Reset bool   `json:"reset,omitempty"`
}

// Validate checks the load request.
func (r LoadRequest) Validate() error {
	if strings.TrimSpace(r.Path) == "" {
		return NewInvalidRequestError("path is required")
	}
	return nil
}
