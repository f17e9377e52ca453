// Package incident defines the records that flow through the analysis pipeline.
package incident

import (
	"strings"
	"time"
)

// Historical is one resolved incident stored in the corpus.
type Historical struct {
	ID             string `json:"incident_id" yaml:"incident_id"`
	Description    string `json:"description" yaml:"description"`
	ActionsTaken   string `json:"actions_taken" yaml:"actions_taken"`
	Participants   string `json:"participants" yaml:"participants"`
	AdditionalInfo string `json:"additional_info,omitempty" yaml:"additional_info,omitempty"`
}

// Metadata returns the flat string map persisted next to the vector.
func (h Historical) Metadata() map[string]string {
	m := map[string]string{
		"incident_id":   h.ID,
		"description":   h.Description,
		"actions_taken": h.ActionsTaken,
		"participants":  h.Participants,
	}
	if h.AdditionalInfo != "" {
		m["additional_info"] = h.AdditionalInfo
	}
	return m
}

// FromMetadata is the inverse of Metadata.
func FromMetadata(m map[string]string) Historical {
	return Historical{
		ID:             m["incident_id"],
		Description:    m["description"],
		ActionsTaken:   m["actions_taken"],
		Participants:   m["participants"],
		AdditionalInfo: m["additional_info"],
	}
}

// Candidate is a historical incident returned by nearest-neighbour retrieval.
// Rank is the zero-based position in the retrieval result.
type Candidate struct {
	Incident Historical `json:"incident"`
	Rank     int        `json:"rank"`
	Distance float64    `json:"distance"`
}

// Judgment is the model's opinion about one candidate.
type Judgment struct {
	// CaseRef is the raw ID value the model answered with: a case number
	// ("2", "Case 2") or an incident id.
	CaseRef  string  `json:"case"`
	Score    float64 `json:"score"`
	Patterns string  `json:"patterns"`
	Solution string  `json:"solution"`
}

// SimilarIncident is a historical incident that passed the similarity threshold.
type SimilarIncident struct {
	IncidentID         string  `json:"incident_id" yaml:"incident_id"`
	Description        string  `json:"description" yaml:"description"`
	ActionsTaken       string  `json:"actions_taken" yaml:"actions_taken"`
	Participants       string  `json:"participants" yaml:"participants"`
	SimilarityScore    float64 `json:"similarity_score" yaml:"similarity_score"`
	MatchedPatterns    string  `json:"matched_patterns,omitempty" yaml:"matched_patterns,omitempty"`
	ApplicableSolution string  `json:"applicable_solution,omitempty" yaml:"applicable_solution,omitempty"`
}

// Empty reports whether the record carries nothing: every metadata field is
// blank and the score is zero.
func (s SimilarIncident) Empty() bool {
	return s.SimilarityScore == 0 &&
		strings.TrimSpace(s.IncidentID) == "" &&
		strings.TrimSpace(s.Description) == "" &&
		strings.TrimSpace(s.ActionsTaken) == "" &&
		strings.TrimSpace(s.Participants) == ""
}

// Current is the incident under analysis together with its root cause.
type Current struct {
	Description string    `json:"description" yaml:"description"`
	Analysis    RootCause `json:"analysis" yaml:"analysis"`
}

// AnalysisResult is returned by a single analysis call.
type AnalysisResult struct {
	RequestID        string            `json:"request_id" yaml:"request_id"`
	AnalyzedAt       time.Time         `json:"analyzed_at" yaml:"analyzed_at"`
	CurrentIncident  Current           `json:"current_incident" yaml:"current_incident"`
	SimilarIncidents []SimilarIncident `json:"similar_incidents" yaml:"similar_incidents"`
}

// DetailField is one labelled piece of an incident report.
type DetailField struct {
	Key   string `json:"key" yaml:"key"`
	Value string `json:"value" yaml:"value"`
}

// DescriptionFromFields joins fields as "key: value" pairs separated by a
// single space, skipping fields with a blank value.
func DescriptionFromFields(fields []DetailField) string {
	parts := make([]string, 0, len(fields))
	for _, f := range fields {
		key := strings.TrimSpace(f.Key)
		value := strings.TrimSpace(f.Value)
		if value == "" {
			continue
		}
		if key == "" {
			parts = append(parts, value)
			continue
		}
		parts = append(parts, key+": "+value)
	}
	return strings.Join(parts, " ")
}
