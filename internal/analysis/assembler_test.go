package analysis

import (
	"context"
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/moolen/sleuth/internal/corpus"
	"github.com/moolen/sleuth/internal/embedding"
	"github.com/moolen/sleuth/internal/incident"
	"github.com/moolen/sleuth/internal/llm"
	"github.com/moolen/sleuth/internal/retrieval"
	"github.com/moolen/sleuth/internal/store/memory"
)

const (
	rootCauseMatch  = "Analyze this IT incident"
	similarityMatch = "Compare this incident with historical cases"
)

const wellFormedRootCause = `CATEGORY: Hardware
ROOT_CAUSE: Disk exhausted
IMPACT: High
COMPONENT: server X
SOLUTION: Free space
PREVENTION: Monitoring`

type staticRetriever struct {
	candidates []incident.Candidate
	err        error
}

func (s staticRetriever) Query(ctx context.Context, text string, k int) ([]incident.Candidate, error) {
	if s.err != nil {
		return nil, s.err
	}
	if len(s.candidates) > k {
		return s.candidates[:k], nil
	}
	return s.candidates, nil
}

func newAssembler(t *testing.T, retriever retrieval.Retriever, opts Options, rules ...llm.MockRule) *Assembler {
	t.Helper()
	completer := llm.NewMockCompleter(rules...)
	a, err := NewAssembler(NewAnalyzer(completer, nil), retriever, NewJudge(completer, nil), opts, nil)
	require.NoError(t, err)
	return a
}

func ptr[T any](v T) *T { return &v }

func ids(similar []incident.SimilarIncident) []string {
	out := make([]string, len(similar))
	for i, s := range similar {
		out[i] = s.IncidentID
	}
	return out
}

func TestAnalyzeIncident_SingleRecordCorpus(t *testing.T) {
	ctx := context.Background()
	emb := embedding.NewHashing(64)
	coll := memory.New()
	_, err := corpus.NewStore(coll, emb).Load(ctx, "inline", []incident.Historical{
		{ID: "INC1", Description: "disk full on server X", ActionsTaken: "rotated logs", Participants: "ops"},
	}, nil)
	require.NoError(t, err)
	idx, err := retrieval.NewIndex(coll, emb)
	require.NoError(t, err)

	a := newAssembler(t, idx, DefaultOptions(),
		llm.MockRule{Match: rootCauseMatch, Response: wellFormedRootCause},
		llm.MockRule{Match: similarityMatch, Response: "ID: 1\nSIMILARITY: 97\nMATCH: identical\nAPPLICABLE_SOLUTION: rotate logs"},
	)

	res, err := a.AnalyzeIncident(ctx, Request{
		Description: "disk full on server X",
		Threshold:   ptr(0.0),
		MaxSimilar:  ptr(1),
	})
	require.NoError(t, err)
	require.Len(t, res.SimilarIncidents, 1)
	got := res.SimilarIncidents[0]
	assert.Equal(t, "INC1", got.IncidentID)
	assert.Equal(t, "rotated logs", got.ActionsTaken)
	assert.InDelta(t, 97, got.SimilarityScore, 0)
	assert.Equal(t, "identical", got.MatchedPatterns)
	assert.Equal(t, "rotate logs", got.ApplicableSolution)
	assert.Equal(t, incident.CategoryHardware, res.CurrentIncident.Analysis.Category)
	assert.NotEmpty(t, res.RequestID)
	assert.False(t, res.AnalyzedAt.IsZero())
}

func TestAnalyzeIncident_EmptyCorpus(t *testing.T) {
	idx, err := retrieval.NewIndex(memory.New(), embedding.NewHashing(16))
	require.NoError(t, err)
	completer := llm.NewMockCompleter(llm.MockRule{Match: rootCauseMatch, Response: wellFormedRootCause})
	a, err := NewAssembler(NewAnalyzer(completer, nil), idx, NewJudge(completer, nil), DefaultOptions(), nil)
	require.NoError(t, err)

	res, err := a.AnalyzeIncident(context.Background(), Request{Description: "anything"})
	require.NoError(t, err)
	assert.NotNil(t, res.SimilarIncidents)
	assert.Empty(t, res.SimilarIncidents)
	assert.Equal(t, incident.CategoryHardware, res.CurrentIncident.Analysis.Category)
	assert.Len(t, completer.Requests(), 1, "judge is not called without candidates")
}

func TestAnalyzeIncident_RootCauseFailureDegrades(t *testing.T) {
	a := newAssembler(t, staticRetriever{candidates: candidates("INC1", "INC2")}, DefaultOptions(),
		llm.MockRule{Match: rootCauseMatch, Error: "context deadline exceeded"},
		llm.MockRule{Match: similarityMatch, Response: "ID: 1\nSIMILARITY: 80\nMATCH: m\nAPPLICABLE_SOLUTION: s"},
	)

	res, err := a.AnalyzeIncident(context.Background(), Request{Description: "disk full"})
	require.NoError(t, err)

	rc := res.CurrentIncident.Analysis
	assert.Equal(t, incident.CategoryError, rc.Category)
	assert.Equal(t, "Analysis failed", rc.RootCause)
	assert.Equal(t, "Unknown", rc.Impact)
	assert.Equal(t, "Unknown", rc.Component)
	assert.Equal(t, "Analysis failed", rc.Solution)
	assert.Equal(t, "Analysis failed", rc.Prevention)
	assert.Equal(t, []string{"INC1"}, ids(res.SimilarIncidents))
}

func TestAnalyzeIncident_InvalidCategory(t *testing.T) {
	a := newAssembler(t, staticRetriever{}, DefaultOptions(),
		llm.MockRule{Match: rootCauseMatch, Response: "CATEGORY: Databases\nROOT_CAUSE: index bloat"},
	)
	res, err := a.AnalyzeIncident(context.Background(), Request{Description: "slow queries"})
	require.NoError(t, err)
	assert.Equal(t, incident.CategoryUnknown, res.CurrentIncident.Analysis.Category)
}

func TestAnalyzeIncident_FewerJudgmentsThanCandidates(t *testing.T) {
	// Judgments without usable ids force the positional join: only the first
	// two candidates can be scored.
	judge := `ID: first
SIMILARITY: 90
MATCH: m
APPLICABLE_SOLUTION: s
ID: second
SIMILARITY: 70
MATCH: m
APPLICABLE_SOLUTION: s`
	a := newAssembler(t, staticRetriever{candidates: candidates("A", "B", "C", "D", "E")},
		Options{Threshold: 0, MaxSimilar: 5, Candidates: 5, JoinMode: JoinByID},
		llm.MockRule{Match: rootCauseMatch, Response: wellFormedRootCause},
		llm.MockRule{Match: similarityMatch, Response: judge},
	)

	res, err := a.AnalyzeIncident(context.Background(), Request{Description: "disk full"})
	require.NoError(t, err)
	assert.Equal(t, []string{"A", "B"}, ids(res.SimilarIncidents))
	assert.InDelta(t, 90, res.SimilarIncidents[0].SimilarityScore, 0)
	assert.InDelta(t, 70, res.SimilarIncidents[1].SimilarityScore, 0)
}

func TestAnalyzeIncident_EmptyIDKeepsPositionalAlignment(t *testing.T) {
	judge := `ID:
SIMILARITY: 90
MATCH: m
APPLICABLE_SOLUTION: s
ID: 2
SIMILARITY: 70
MATCH: m
APPLICABLE_SOLUTION: s`
	a := newAssembler(t, staticRetriever{candidates: candidates("A", "B", "C")},
		Options{Threshold: 0, MaxSimilar: 5, Candidates: 5, JoinMode: JoinByID},
		llm.MockRule{Match: rootCauseMatch, Response: wellFormedRootCause},
		llm.MockRule{Match: similarityMatch, Response: judge},
	)

	res, err := a.AnalyzeIncident(context.Background(), Request{Description: "disk full"})
	require.NoError(t, err)
	assert.Equal(t, []string{"A", "B"}, ids(res.SimilarIncidents))
	assert.InDelta(t, 90, res.SimilarIncidents[0].SimilarityScore, 0)
}

func TestAnalyzeIncident_JoinModes(t *testing.T) {
	// The model answers out of order: case 3 first, then case 1.
	judge := `ID: 3
SIMILARITY: 90
MATCH: same failing disk model
APPLICABLE_SOLUTION: replace disk
ID: 1
SIMILARITY: 20
MATCH: only the host matches
APPLICABLE_SOLUTION: none`

	tests := []struct {
		name      string
		mode      JoinMode
		wantIDs   []string
		wantScore float64
	}{
		{name: "by id attaches scores to the named case", mode: JoinByID, wantIDs: []string{"INC3"}, wantScore: 90},
		{name: "positional attaches scores by order", mode: JoinPositional, wantIDs: []string{"INC1"}, wantScore: 90},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := newAssembler(t, staticRetriever{candidates: candidates("INC1", "INC2", "INC3")},
				Options{Threshold: 50, MaxSimilar: 2, Candidates: 5, JoinMode: tt.mode},
				llm.MockRule{Match: rootCauseMatch, Response: wellFormedRootCause},
				llm.MockRule{Match: similarityMatch, Response: judge},
			)
			res, err := a.AnalyzeIncident(context.Background(), Request{Description: "disk failure"})
			require.NoError(t, err)
			assert.Equal(t, tt.wantIDs, ids(res.SimilarIncidents))
			assert.InDelta(t, tt.wantScore, res.SimilarIncidents[0].SimilarityScore, 0)
		})
	}
}

func TestAnalyzeIncident_NumericIDsJoinByCaseNumber(t *testing.T) {
	// Retrieval order differs from id order: Case 1 is incident "3".
	judge := `ID: 1
SIMILARITY: 90
MATCH: same failing disk model
APPLICABLE_SOLUTION: replace disk
ID: 2
SIMILARITY: 10
MATCH: m
APPLICABLE_SOLUTION: s
ID: 3
SIMILARITY: 5
MATCH: m
APPLICABLE_SOLUTION: s`

	a := newAssembler(t, staticRetriever{candidates: candidates("3", "1", "2")},
		DefaultOptions(),
		llm.MockRule{Match: rootCauseMatch, Response: wellFormedRootCause},
		llm.MockRule{Match: similarityMatch, Response: judge},
	)
	res, err := a.AnalyzeIncident(context.Background(), Request{Description: "disk failure"})
	require.NoError(t, err)
	require.Len(t, res.SimilarIncidents, 1)
	assert.Equal(t, "3", res.SimilarIncidents[0].IncidentID)
	assert.InDelta(t, 90, res.SimilarIncidents[0].SimilarityScore, 0)
}

func TestAnalyzeIncident_ThresholdAndLimit(t *testing.T) {
	judge := `ID: INC1
SIMILARITY: 55
MATCH: m
APPLICABLE_SOLUTION: s
ID: INC2
SIMILARITY: 49.9
MATCH: m
APPLICABLE_SOLUTION: s
ID: INC3
SIMILARITY: 88
MATCH: m
APPLICABLE_SOLUTION: s`

	tests := []struct {
		name       string
		threshold  *float64
		maxSimilar *int
		want       []string
	}{
		{name: "defaults", want: []string{"INC3", "INC1"}},
		{name: "single result", maxSimilar: ptr(1), want: []string{"INC3"}},
		{name: "high threshold", threshold: ptr(90.0), want: []string{}},
		{name: "threshold is inclusive", threshold: ptr(55.0), maxSimilar: ptr(5), want: []string{"INC3", "INC1"}},
		{name: "zero threshold", threshold: ptr(0.0), maxSimilar: ptr(5), want: []string{"INC3", "INC1", "INC2"}},
		{name: "zero results", maxSimilar: ptr(0), want: []string{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := newAssembler(t, staticRetriever{candidates: candidates("INC1", "INC2", "INC3", "INC4")}, DefaultOptions(),
				llm.MockRule{Match: rootCauseMatch, Response: wellFormedRootCause},
				llm.MockRule{Match: similarityMatch, Response: judge},
			)
			res, err := a.AnalyzeIncident(context.Background(), Request{
				Description: "disk full",
				Threshold:   tt.threshold,
				MaxSimilar:  tt.maxSimilar,
			})
			require.NoError(t, err)
			assert.Equal(t, tt.want, ids(res.SimilarIncidents))

			threshold := float64(DefaultThreshold)
			if tt.threshold != nil {
				threshold = *tt.threshold
			}
			for _, s := range res.SimilarIncidents {
				assert.GreaterOrEqual(t, s.SimilarityScore, threshold)
			}
		})
	}
}

func TestAnalyzeIncident_DropsEmptyRecords(t *testing.T) {
	cands := []incident.Candidate{
		{Incident: incident.Historical{}},
		{Incident: incident.Historical{ID: "INC2", Description: "vpn down"}},
		{Incident: incident.Historical{}},
	}
	judge := "ID: 1\nSIMILARITY: 0\nMATCH: m\nAPPLICABLE_SOLUTION: s\n" +
		"ID: 2\nSIMILARITY: 60\nMATCH: m\nAPPLICABLE_SOLUTION: s\n" +
		"ID: 3\nSIMILARITY: 40\nMATCH: m\nAPPLICABLE_SOLUTION: s"
	a := newAssembler(t, staticRetriever{candidates: cands},
		Options{Threshold: 0, MaxSimilar: 5, Candidates: 5, JoinMode: JoinByID},
		llm.MockRule{Match: rootCauseMatch, Response: wellFormedRootCause},
		llm.MockRule{Match: similarityMatch, Response: judge},
	)
	res, err := a.AnalyzeIncident(context.Background(), Request{Description: "vpn down"})
	require.NoError(t, err)

	// Blank metadata with a non-zero score is kept; blank with score 0 is not.
	require.Len(t, res.SimilarIncidents, 2)
	assert.Equal(t, "INC2", res.SimilarIncidents[0].IncidentID)
	assert.Empty(t, res.SimilarIncidents[1].IncidentID)
	assert.InDelta(t, 40, res.SimilarIncidents[1].SimilarityScore, 0)
}

func TestAnalyzeIncident_JudgeFailureYieldsNoMatches(t *testing.T) {
	a := newAssembler(t, staticRetriever{candidates: candidates("INC1")}, DefaultOptions(),
		llm.MockRule{Match: rootCauseMatch, Response: wellFormedRootCause},
		llm.MockRule{Match: similarityMatch, Error: "503 service unavailable"},
	)
	res, err := a.AnalyzeIncident(context.Background(), Request{Description: "disk full"})
	require.NoError(t, err)
	assert.Empty(t, res.SimilarIncidents)
}

func TestAnalyzeIncident_RetrievalErrorPropagates(t *testing.T) {
	metrics := NewMetrics(prometheus.NewRegistry())
	completer := llm.NewMockCompleter(llm.MockRule{Match: rootCauseMatch, Response: wellFormedRootCause})
	a, err := NewAssembler(NewAnalyzer(completer, metrics),
		staticRetriever{err: errors.New("connection refused")},
		NewJudge(completer, metrics), DefaultOptions(), metrics)
	require.NoError(t, err)

	_, err = a.AnalyzeIncident(context.Background(), Request{Description: "disk full"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection refused")
	assert.InDelta(t, 1, testutil.ToFloat64(metrics.AnalysesTotal.WithLabelValues("error")), 0)
}

func TestAnalyzeIncident_InvalidRequest(t *testing.T) {
	a := newAssembler(t, staticRetriever{}, DefaultOptions())
	tests := []struct {
		name string
		req  Request
	}{
		{name: "empty description", req: Request{Description: "  "}},
		{name: "threshold above range", req: Request{Description: "x", Threshold: ptr(101.0)}},
		{name: "negative threshold", req: Request{Description: "x", Threshold: ptr(-1.0)}},
		{name: "negative max", req: Request{Description: "x", MaxSimilar: ptr(-1)}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := a.AnalyzeIncident(context.Background(), tt.req)
			assert.ErrorIs(t, err, ErrInvalidRequest)
		})
	}
}

func TestAssembler_SetOptions(t *testing.T) {
	a := newAssembler(t, staticRetriever{}, DefaultOptions())
	require.NoError(t, a.SetOptions(Options{Threshold: 70, MaxSimilar: 3, Candidates: 8, JoinMode: JoinPositional}))
	assert.Equal(t, 8, a.Options().Candidates)

	err := a.SetOptions(Options{Threshold: 50, MaxSimilar: 2, Candidates: 5, JoinMode: "fuzzy"})
	assert.ErrorIs(t, err, ErrInvalidRequest)
	assert.Equal(t, JoinPositional, a.Options().JoinMode, "rejected options are not applied")
}

func TestResolveCaseRef(t *testing.T) {
	cands := candidates("INC1", "42", "INC3")
	tests := []struct {
		ref  string
		want int
		ok   bool
	}{
		{ref: "INC3", want: 2, ok: true},
		{ref: "1", want: 0, ok: true},
		{ref: "Case 3", want: 2, ok: true},
		{ref: "case 1", want: 0, ok: true},
		{ref: "#2", want: 1, ok: true},
		{ref: "[INC1]", want: 0, ok: true},
		{ref: "42", want: -1, ok: false},
		{ref: "id=42", want: 1, ok: true},
		{ref: "[id=INC3]", want: 2, ok: true},
		{ref: "4", want: -1, ok: false},
		{ref: "0", want: -1, ok: false},
		{ref: "INC9", want: -1, ok: false},
	}
	for _, tt := range tests {
		t.Run(tt.ref, func(t *testing.T) {
			got, ok := resolveCaseRef(tt.ref, cands)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}
