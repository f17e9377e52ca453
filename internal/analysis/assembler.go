package analysis

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/moolen/sleuth/internal/incident"
	"github.com/moolen/sleuth/internal/logging"
	"github.com/moolen/sleuth/internal/retrieval"
)

// JoinMode selects how judgments are attached to candidates.
type JoinMode string

const (
	// JoinByID resolves each judgment's case reference to a candidate and
	// falls back to JoinPositional when any reference is unresolved.
	JoinByID JoinMode = "by-id"
	// JoinPositional attaches judgment i to candidate i.
	JoinPositional JoinMode = "positional"
)

// Defaults for Options.
const (
	DefaultThreshold  = 50
	DefaultMaxSimilar = 2
	DefaultCandidates = 5
)

// ErrInvalidRequest is wrapped by every request validation error.
var ErrInvalidRequest = errors.New("invalid analysis request")

// Options is the analysis policy.
type Options struct {
	Threshold  float64
	MaxSimilar int
	Candidates int
	JoinMode   JoinMode
}

// DefaultOptions returns threshold 50, two results out of five candidates,
// joined by id.
func DefaultOptions() Options {
	return Options{
		Threshold:  DefaultThreshold,
		MaxSimilar: DefaultMaxSimilar,
		Candidates: DefaultCandidates,
		JoinMode:   JoinByID,
	}
}

// Validate checks ranges and the join mode.
func (o Options) Validate() error {
	if o.Threshold < 0 || o.Threshold > 100 {
		return fmt.Errorf("%w: threshold must be within [0,100], got %v", ErrInvalidRequest, o.Threshold)
	}
	if o.MaxSimilar < 0 {
		return fmt.Errorf("%w: max_similar must not be negative, got %d", ErrInvalidRequest, o.MaxSimilar)
	}
	if o.Candidates < 1 {
		return fmt.Errorf("%w: candidates must be positive, got %d", ErrInvalidRequest, o.Candidates)
	}
	switch o.JoinMode {
	case JoinByID, JoinPositional:
	default:
		return fmt.Errorf("%w: unknown join mode %q", ErrInvalidRequest, o.JoinMode)
	}
	return nil
}

// Request is one analysis call. Nil fields take the assembler's current
// policy.
type Request struct {
	Description string
	Threshold   *float64
	MaxSimilar  *int
}

// Assembler runs the full pipeline and applies the result policy.
type Assembler struct {
	analyzer  *Analyzer
	retriever retrieval.Retriever
	judge     *Judge
	metrics   *Metrics
	logger    *logging.Logger
	tracer    trace.Tracer
	now       func() time.Time

	mu   sync.RWMutex
	opts Options
}

// NewAssembler creates an Assembler. metrics may be nil.
func NewAssembler(analyzer *Analyzer, retriever retrieval.Retriever, judge *Judge, opts Options, metrics *Metrics) (*Assembler, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	return &Assembler{
		analyzer:  analyzer,
		retriever: retriever,
		judge:     judge,
		metrics:   metrics,
		logger:    logging.GetLogger("analysis"),
		tracer:    otel.Tracer("sleuth/analysis"),
		now:       time.Now,
		opts:      opts,
	}, nil
}

// Options returns the current policy.
func (a *Assembler) Options() Options {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.opts
}

// SetOptions replaces the policy for subsequent calls.
func (a *Assembler) SetOptions(opts Options) error {
	if err := opts.Validate(); err != nil {
		return err
	}
	a.mu.Lock()
	a.opts = opts
	a.mu.Unlock()
	a.logger.Info("Analysis policy updated: threshold=%v max_similar=%d candidates=%d join=%s",
		opts.Threshold, opts.MaxSimilar, opts.Candidates, opts.JoinMode)
	return nil
}

func (a *Assembler) resolve(req Request) (Options, error) {
	opts := a.Options()
	if strings.TrimSpace(req.Description) == "" {
		return opts, fmt.Errorf("%w: description is empty", ErrInvalidRequest)
	}
	if req.Threshold != nil {
		opts.Threshold = *req.Threshold
	}
	if req.MaxSimilar != nil {
		opts.MaxSimilar = *req.MaxSimilar
	}
	return opts, opts.Validate()
}

// AnalyzeIncident runs root-cause analysis concurrently with retrieval and
// judging, then joins, filters, sorts and truncates the similar incidents.
// Analyzer and judge failures degrade; retrieval failures are returned.
func (a *Assembler) AnalyzeIncident(ctx context.Context, req Request) (*incident.AnalysisResult, error) {
	opts, err := a.resolve(req)
	if err != nil {
		return nil, err
	}

	requestID := uuid.NewString()
	ctx, span := a.tracer.Start(ctx, "analysis.analyze_incident", trace.WithAttributes(
		attribute.String("analysis.request_id", requestID),
		attribute.Float64("analysis.threshold", opts.Threshold),
		attribute.Int("analysis.max_similar", opts.MaxSimilar),
		attribute.String("analysis.join_mode", string(opts.JoinMode)),
	))
	defer span.End()

	logger := a.logger.WithContext(ctx).WithField("request_id", requestID)
	logger.Info("Analyzing incident: %s", logging.Snippet(req.Description, 80))
	start := time.Now()

	var (
		rootCause  incident.RootCause
		candidates []incident.Candidate
		judgments  []incident.Judgment
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		// The root-cause branch never fails the group.
		rootCause = a.analyzer.Analyze(gctx, req.Description)
		return nil
	})
	g.Go(func() error {
		var err error
		candidates, err = a.retriever.Query(gctx, req.Description, opts.Candidates)
		if err != nil {
			return fmt.Errorf("failed to retrieve candidates: %w", err)
		}
		if len(candidates) > 0 {
			judgments = a.judge.Compare(gctx, req.Description, candidates)
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		logger.ErrorWithFields("Error analyzing incident",
			logging.Field("incident", logging.Snippet(req.Description, 80)),
			logging.Field("error", err),
		)
		span.RecordError(err)
		span.SetStatus(codes.Error, "analysis failed")
		a.observe("error", start, 0)
		return nil, err
	}

	pairs, mode := joinJudgments(candidates, judgments, opts.JoinMode)
	similar := selectSimilar(pairs, opts.Threshold, opts.MaxSimilar)

	span.SetAttributes(
		attribute.Int("analysis.candidates", len(candidates)),
		attribute.Int("analysis.judgments", len(judgments)),
		attribute.Int("analysis.similar", len(similar)),
		attribute.String("analysis.join_used", string(mode)),
	)
	if opts.JoinMode == JoinByID && mode == JoinPositional && len(judgments) > 0 {
		logger.Warn("Judgment ids did not resolve to candidates, joined by position")
	}
	logger.InfoWithFields("Incident analyzed",
		logging.Field("category", string(rootCause.Category)),
		logging.Field("candidates", len(candidates)),
		logging.Field("judgments", len(judgments)),
		logging.Field("similar", len(similar)),
		logging.Field("duration", time.Since(start).Round(time.Millisecond).String()),
	)
	a.observe("ok", start, len(similar))

	return &incident.AnalysisResult{
		RequestID:  requestID,
		AnalyzedAt: a.now().UTC(),
		CurrentIncident: incident.Current{
			Description: req.Description,
			Analysis:    rootCause,
		},
		SimilarIncidents: similar,
	}, nil
}

func (a *Assembler) observe(outcome string, start time.Time, similar int) {
	if a.metrics == nil {
		return
	}
	a.metrics.AnalysesTotal.WithLabelValues(outcome).Inc()
	a.metrics.Duration.Observe(time.Since(start).Seconds())
	if outcome == "ok" {
		a.metrics.SimilarReturned.Observe(float64(similar))
	}
}

// scoredCandidate is a candidate together with the judgment attached to it.
type scoredCandidate struct {
	candidate incident.Candidate
	judgment  incident.Judgment
}

var caseRefPattern = regexp.MustCompile(`^(?i:case\s*)?#?\s*(\d+)$`)

// resolveCaseRef maps a judgment's ID value to a candidate index. A number,
// with or without a "Case" or "#" prefix, is always a 1-based case number,
// so numeric incident ids never shadow case numbers. Anything else is
// matched against the incident ids shown in the prompt as [id=...].
func resolveCaseRef(ref string, candidates []incident.Candidate) (int, bool) {
	ref = strings.Trim(strings.TrimSpace(ref), "[]")
	if m := caseRefPattern.FindStringSubmatch(ref); m != nil {
		n, err := strconv.Atoi(m[1])
		if err != nil || n < 1 || n > len(candidates) {
			return -1, false
		}
		return n - 1, true
	}
	ref = strings.TrimSpace(strings.TrimPrefix(ref, "id="))
	for i, c := range candidates {
		if c.Incident.ID != "" && ref == c.Incident.ID {
			return i, true
		}
	}
	return -1, false
}

// joinJudgments pairs candidates with judgments and reports the mode that
// was actually used.
func joinJudgments(candidates []incident.Candidate, judgments []incident.Judgment, mode JoinMode) ([]scoredCandidate, JoinMode) {
	if mode == JoinByID {
		if pairs, ok := joinByID(candidates, judgments); ok {
			return pairs, JoinByID
		}
	}
	return joinPositional(candidates, judgments), JoinPositional
}

func joinByID(candidates []incident.Candidate, judgments []incident.Judgment) ([]scoredCandidate, bool) {
	assigned := make(map[int]bool, len(judgments))
	pairs := make([]scoredCandidate, 0, len(judgments))
	for _, j := range judgments {
		idx, ok := resolveCaseRef(j.CaseRef, candidates)
		if !ok {
			return nil, false
		}
		// Judgments arrive ranked, so the first one per candidate wins.
		if assigned[idx] {
			continue
		}
		assigned[idx] = true
		pairs = append(pairs, scoredCandidate{candidate: candidates[idx], judgment: j})
	}
	return pairs, true
}

// joinPositional attaches judgment i to candidate i. Candidates beyond the
// last judgment are skipped.
func joinPositional(candidates []incident.Candidate, judgments []incident.Judgment) []scoredCandidate {
	pairs := make([]scoredCandidate, 0, len(judgments))
	for i, c := range candidates {
		if i >= len(judgments) {
			break
		}
		pairs = append(pairs, scoredCandidate{candidate: c, judgment: judgments[i]})
	}
	return pairs
}

// selectSimilar applies the threshold, drops records without metadata,
// sorts by descending score and truncates to maxSimilar.
func selectSimilar(pairs []scoredCandidate, threshold float64, maxSimilar int) []incident.SimilarIncident {
	out := make([]incident.SimilarIncident, 0, len(pairs))
	for _, p := range pairs {
		if p.judgment.Score < threshold {
			continue
		}
		h := p.candidate.Incident
		s := incident.SimilarIncident{
			IncidentID:         h.ID,
			Description:        strings.TrimSpace(h.Description),
			ActionsTaken:       strings.TrimSpace(h.ActionsTaken),
			Participants:       strings.TrimSpace(h.Participants),
			SimilarityScore:    p.judgment.Score,
			MatchedPatterns:    p.judgment.Patterns,
			ApplicableSolution: p.judgment.Solution,
		}
		if s.Empty() {
			continue
		}
		out = append(out, s)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].SimilarityScore > out[j].SimilarityScore })
	if len(out) > maxSimilar {
		out = out[:maxSimilar]
	}
	return out
}
