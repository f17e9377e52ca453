// Package tui provides an interactive terminal front end for incident
// analysis using Bubble Tea.
package tui

import "github.com/moolen/sleuth/internal/incident"

type state int

const (
	stateInput state = iota
	stateAnalyzing
	stateDone
)

// analysisDoneMsg carries the outcome of a submitted description.
type analysisDoneMsg struct {
	result *incident.AnalysisResult
	err    error
}
