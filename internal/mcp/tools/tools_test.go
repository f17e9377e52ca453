package tools

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/moolen/sleuth/internal/analysis"
	"github.com/moolen/sleuth/internal/incident"
	"github.com/moolen/sleuth/internal/retrieval"
)

type stubAnalyzer struct {
	got analysis.Request
	err error
}

func (s *stubAnalyzer) Analyze(_ context.Context, req analysis.Request) (*incident.AnalysisResult, error) {
	s.got = req
	if s.err != nil {
		return nil, s.err
	}
	return &incident.AnalysisResult{
		RequestID: "req-7",
		CurrentIncident: incident.Current{
			Description: req.Description,
			Analysis:    incident.RootCause{Category: incident.CategorySoftware, RootCause: "bad deploy"},
		},
		SimilarIncidents: []incident.SimilarIncident{{IncidentID: "INC3", SimilarityScore: 75}},
	}, nil
}

func TestAnalyzeIncidentTool(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		wantDesc string
		wantText bool
		wantErr  bool
	}{
		{name: "description", input: `{"description":"checkout 502s","threshold":40}`, wantDesc: "checkout 502s"},
		{name: "fields", input: `{"fields":[{"key":"Summary","value":"checkout 502s"},{"key":"Service","value":"payments"}]}`, wantDesc: "Summary: checkout 502s Service: payments"},
		{name: "markdown", input: `{"description":"checkout 502s","format":"markdown"}`, wantDesc: "checkout 502s", wantText: true},
		{name: "bad format", input: `{"description":"x","format":"yaml"}`, wantErr: true},
		{name: "empty", input: `{}`, wantErr: true},
		{name: "not json", input: `[`, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			stub := &stubAnalyzer{}
			out, err := NewAnalyzeIncidentTool(stub).Execute(context.Background(), json.RawMessage(tt.input))
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantDesc, stub.got.Description)

			if tt.wantText {
				text, ok := out.(string)
				require.True(t, ok)
				assert.Contains(t, text, "INC3")
				return
			}
			res, ok := out.(*incident.AnalysisResult)
			require.True(t, ok)
			assert.Equal(t, "req-7", res.RequestID)
		})
	}
}

func TestAnalyzeIncidentToolFailure(t *testing.T) {
	_, err := NewAnalyzeIncidentTool(&stubAnalyzer{err: errors.New("store down")}).
		Execute(context.Background(), json.RawMessage(`{"description":"x"}`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "store down")
}

type stubCounter struct {
	n   int
	err error
}

func (s stubCounter) Count(context.Context) (int, error) { return s.n, s.err }

type stubCache struct{ stats retrieval.CacheStats }

func (s stubCache) CacheStats() (retrieval.CacheStats, bool) { return s.stats, true }

func TestCorpusStatsTool(t *testing.T) {
	out, err := NewCorpusStatsTool(stubCounter{n: 12}, stubCache{stats: retrieval.CacheStats{Items: 3, Hits: 4}}, "memory", "incidents").
		Execute(context.Background(), nil)
	require.NoError(t, err)

	stats := out.(CorpusStatsOutput)
	assert.Equal(t, 12, stats.Count)
	assert.True(t, stats.Loaded)
	assert.Equal(t, "memory", stats.Backend)
	require.NotNil(t, stats.Cache)
	assert.Equal(t, uint64(4), stats.Cache.Hits)

	out, err = NewCorpusStatsTool(stubCounter{}, nil, "falkordb", "incidents").Execute(context.Background(), nil)
	require.NoError(t, err)
	assert.False(t, out.(CorpusStatsOutput).Loaded)
	assert.Nil(t, out.(CorpusStatsOutput).Cache)

	_, err = NewCorpusStatsTool(stubCounter{err: errors.New("timeout")}, nil, "pgvector", "incidents").Execute(context.Background(), nil)
	assert.Error(t, err)
}
