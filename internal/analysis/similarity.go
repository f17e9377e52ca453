package analysis

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/moolen/sleuth/internal/incident"
	"github.com/moolen/sleuth/internal/llm"
	"github.com/moolen/sleuth/internal/logging"
)

const (
	// SimilarityTemperature is slightly above the root-cause temperature.
	SimilarityTemperature = 0.2

	// MaxJudgments caps the judge output after ranking.
	MaxJudgments = 3
)

const (
	keyID                 = "ID:"
	keySimilarity         = "SIMILARITY:"
	keyMatch              = "MATCH:"
	keyApplicableSolution = "APPLICABLE_SOLUTION:"
)

const similarityPromptTemplate = `Compare this incident with historical cases:

Current Incident: %s

Historical Cases:
%s

Compare these technical aspects:
- Root cause patterns
- Affected components
- Technical symptoms
- Resolution approaches
- System dependencies

For each case, provide analysis in this exact format:
ID: [case number]
SIMILARITY: [0-100]
MATCH: [specific technical similarities]
APPLICABLE_SOLUTION: [resolution steps]`

// SimilarityPrompt renders the judge prompt. Cases are numbered from 1 in
// the given order and tagged with their incident id. The model is asked to
// answer with the case number.
func SimilarityPrompt(current string, candidates []incident.Candidate) string {
	var b strings.Builder
	for i, c := range candidates {
		if i > 0 {
			b.WriteByte('\n')
		}
		fmt.Fprintf(&b, "Case %d [id=%s]: %s", i+1, c.Incident.ID, c.Incident.Description)
	}
	return fmt.Sprintf(similarityPromptTemplate, current, b.String())
}

type judgmentRecord struct {
	judgment    incident.Judgment
	hasCase     bool
	hasScore    bool
	hasPatterns bool
	hasSolution bool
}

func (r judgmentRecord) complete() bool {
	return r.hasCase && r.hasScore && r.hasPatterns && r.hasSolution
}

// parseJudgmentRecords returns every record opened by an ID line, complete
// or not. An ID line with no value still opens a record.
func parseJudgmentRecords(text string) []judgmentRecord {
	var (
		records []judgmentRecord
		current *judgmentRecord
	)
	flush := func() {
		if current != nil && current.hasCase {
			records = append(records, *current)
		}
	}

	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		switch {
		case strings.HasPrefix(line, keyID):
			flush()
			current = &judgmentRecord{
				judgment: incident.Judgment{CaseRef: strings.TrimSpace(line[len(keyID):])},
				hasCase:  true,
			}
		case current == nil:
			// Lines before the first ID belong to no record.
		case strings.HasPrefix(line, keySimilarity):
			current.judgment.Score = parseScore(line[len(keySimilarity):])
			current.hasScore = true
		case strings.HasPrefix(line, keyMatch):
			current.judgment.Patterns = strings.TrimSpace(line[len(keyMatch):])
			current.hasPatterns = true
		case strings.HasPrefix(line, keyApplicableSolution):
			current.judgment.Solution = strings.TrimSpace(line[len(keyApplicableSolution):])
			current.hasSolution = true
		}
	}
	flush()
	return records
}

// parseScore clamps to [0,100]; anything unparseable scores 0.
func parseScore(raw string) float64 {
	score, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil || math.IsNaN(score) {
		return 0
	}
	return math.Min(math.Max(score, 0), 100)
}

// ParseJudgments extracts ID/SIMILARITY/MATCH/APPLICABLE_SOLUTION records in
// the order they appear. Records missing any of the four fields are dropped.
func ParseJudgments(text string) []incident.Judgment {
	var out []incident.Judgment
	for _, r := range parseJudgmentRecords(text) {
		if r.complete() {
			out = append(out, r.judgment)
		}
	}
	return out
}

// RankJudgments orders judgments by descending score, keeps the first
// judgment per case and returns at most MaxJudgments.
func RankJudgments(judgments []incident.Judgment) []incident.Judgment {
	sorted := make([]incident.Judgment, len(judgments))
	copy(sorted, judgments)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Score > sorted[j].Score })

	seen := make(map[string]struct{}, len(sorted))
	out := make([]incident.Judgment, 0, MaxJudgments)
	for _, j := range sorted {
		if _, dup := seen[j.CaseRef]; dup {
			continue
		}
		seen[j.CaseRef] = struct{}{}
		out = append(out, j)
		if len(out) == MaxJudgments {
			break
		}
	}
	return out
}

// Judge scores retrieved candidates against the current incident with one
// completion call.
type Judge struct {
	completer llm.Completer
	metrics   *Metrics
	logger    *logging.Logger
	tracer    trace.Tracer
}

// NewJudge creates a Judge. metrics may be nil.
func NewJudge(completer llm.Completer, metrics *Metrics) *Judge {
	return &Judge{
		completer: completer,
		metrics:   metrics,
		logger:    logging.GetLogger("analysis.similarity"),
		tracer:    otel.Tracer("sleuth/analysis"),
	}
}

// Compare returns ranked judgments. A failed completion is logged and
// yields no judgments.
func (j *Judge) Compare(ctx context.Context, current string, candidates []incident.Candidate) []incident.Judgment {
	if len(candidates) == 0 {
		return nil
	}
	ctx, span := j.tracer.Start(ctx, "analysis.similarity", trace.WithAttributes(
		attribute.Int("analysis.candidates", len(candidates)),
		attribute.String("llm.provider", j.completer.Name()),
		attribute.String("llm.model", j.completer.Model()),
	))
	defer span.End()

	logger := j.logger.WithContext(ctx)

	text, err := j.completer.Complete(ctx, llm.UserPrompt(SimilarityPrompt(current, candidates), SimilarityTemperature))
	if err != nil {
		logger.ErrorWithFields("Error in similarity analysis",
			logging.Field("incident", logging.Snippet(current, 80)),
			logging.Field("error", err),
		)
		span.RecordError(err)
		span.SetStatus(codes.Error, "completion failed")
		return nil
	}

	records := parseJudgmentRecords(text)
	var valid []incident.Judgment
	for _, r := range records {
		if r.complete() {
			valid = append(valid, r.judgment)
		}
	}
	dropped := len(records) - len(valid)
	if j.metrics != nil {
		j.metrics.JudgmentsParsed.Add(float64(len(valid)))
		j.metrics.JudgmentsDropped.Add(float64(dropped))
	}
	if len(valid) == 0 {
		logger.Warn("Similarity response contained no complete judgments: %s", logging.Snippet(text, 80))
	} else if dropped > 0 {
		logger.Debug("Dropped %d incomplete judgments", dropped)
	}

	ranked := RankJudgments(valid)
	span.SetAttributes(attribute.Int("analysis.judgments", len(ranked)))
	return ranked
}
