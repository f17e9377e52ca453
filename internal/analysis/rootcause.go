package analysis

import (
	"context"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/moolen/sleuth/internal/incident"
	"github.com/moolen/sleuth/internal/llm"
	"github.com/moolen/sleuth/internal/logging"
)

// RootCauseTemperature keeps the breakdown close to deterministic.
const RootCauseTemperature = 0.1

const (
	keyCategory   = "CATEGORY"
	keyRootCause  = "ROOT_CAUSE"
	keyImpact     = "IMPACT"
	keyComponent  = "COMPONENT"
	keySolution   = "SOLUTION"
	keyPrevention = "PREVENTION"
)

var rootCauseKeys = []string{keyCategory, keyRootCause, keyImpact, keyComponent, keySolution, keyPrevention}

const rootCausePromptTemplate = `Analyze this IT incident with technical precision:

Incident Description: %s

Required Analysis Format:
1. Category: [MUST be exactly one of: Software, Hardware, Network, Security]
2. Root Cause: [Technical root cause analysis]
3. Impact Level: [Critical/High/Medium/Low]
4. Component: [Specific affected system/component]
5. Solution: [Technical resolution steps]
6. Prevention: [Technical preventive measures]

Use these Category Definitions:
Software: Application, database, OS, code-related issues
Hardware: Physical components, servers, storage, physical infrastructure
Network: Connectivity, routing, DNS, bandwidth, network protocols
Security: Access control, vulnerabilities, breaches, security policies

Provide analysis in this exact format:
CATEGORY: [exact category]
ROOT_CAUSE: [detailed technical cause]
IMPACT: [level]
COMPONENT: [specific system]
SOLUTION: [detailed steps]
PREVENTION: [specific measures]`

// RootCausePrompt renders the root-cause prompt for description.
func RootCausePrompt(description string) string {
	return fmt.Sprintf(rootCausePromptTemplate, description)
}

// ParseError is returned when model output contains none of the expected keys.
type ParseError struct {
	Kind    string
	Snippet string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("failed to parse %s response: no recognised fields in %q", e.Kind, e.Snippet)
}

// ParseRootCause reads KEY: value lines. A line starting with one of the six
// keys opens that field; other non-blank lines continue the open field and
// are joined with single spaces. Unknown or missing categories become
// Unknown.
func ParseRootCause(text string) (incident.RootCause, error) {
	fields := make(map[string]string, len(rootCauseKeys))
	var (
		openKey string
		parts   []string
	)
	flush := func() {
		if openKey != "" {
			fields[openKey] = strings.Join(parts, " ")
		}
	}

	for _, line := range strings.Split(strings.TrimSpace(text), "\n") {
		line = strings.TrimRight(line, " \t\r")
		if strings.TrimSpace(line) == "" {
			continue
		}
		if key, value, ok := splitKey(line, rootCauseKeys); ok {
			flush()
			openKey = key
			parts = []string{value}
			continue
		}
		if openKey != "" {
			parts = append(parts, strings.TrimSpace(line))
		}
	}
	flush()

	if len(fields) == 0 {
		return incident.RootCause{}, &ParseError{Kind: "root_cause", Snippet: logging.Snippet(text, 80)}
	}

	return incident.RootCause{
		Category:   incident.NormalizeCategory(fields[keyCategory]),
		RootCause:  fields[keyRootCause],
		Impact:     fields[keyImpact],
		Component:  fields[keyComponent],
		Solution:   fields[keySolution],
		Prevention: fields[keyPrevention],
	}, nil
}

// splitKey matches "KEY:" at the very start of line.
func splitKey(line string, keys []string) (key, value string, ok bool) {
	for _, k := range keys {
		if strings.HasPrefix(line, k+":") {
			return k, strings.TrimSpace(line[len(k)+1:]), true
		}
	}
	return "", "", false
}

// Analyzer produces a root-cause breakdown with one completion call.
type Analyzer struct {
	completer llm.Completer
	metrics   *Metrics
	logger    *logging.Logger
	tracer    trace.Tracer
}

// NewAnalyzer creates an Analyzer. metrics may be nil.
func NewAnalyzer(completer llm.Completer, metrics *Metrics) *Analyzer {
	return &Analyzer{
		completer: completer,
		metrics:   metrics,
		logger:    logging.GetLogger("analysis.rootcause"),
		tracer:    otel.Tracer("sleuth/analysis"),
	}
}

// Analyze never fails: completion and parse errors are logged and the
// failure sentinel is returned.
func (a *Analyzer) Analyze(ctx context.Context, description string) incident.RootCause {
	ctx, span := a.tracer.Start(ctx, "analysis.root_cause", trace.WithAttributes(
		attribute.String("llm.provider", a.completer.Name()),
		attribute.String("llm.model", a.completer.Model()),
	))
	defer span.End()

	logger := a.logger.WithContext(ctx)
	logger.Debug("Root cause input: %s", description)

	text, err := a.completer.Complete(ctx, llm.UserPrompt(RootCausePrompt(description), RootCauseTemperature))
	if err == nil {
		var rc incident.RootCause
		if rc, err = ParseRootCause(text); err == nil {
			span.SetAttributes(attribute.String("incident.category", string(rc.Category)))
			return rc
		}
		a.fallback("parse")
	} else {
		a.fallback("completion")
	}

	logger.ErrorWithFields("Error in root cause analysis",
		logging.Field("incident", logging.Snippet(description, 80)),
		logging.Field("error", err),
	)
	span.RecordError(err)
	span.SetStatus(codes.Error, "root cause analysis failed")
	return incident.FailedRootCause()
}

func (a *Analyzer) fallback(reason string) {
	if a.metrics != nil {
		a.metrics.RootCauseFallbacks.WithLabelValues(reason).Inc()
	}
}
