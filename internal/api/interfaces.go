package api

import (
	"context"

	"github.com/moolen/sleuth/internal/analysis"
	"github.com/moolen/sleuth/internal/corpus"
	"github.com/moolen/sleuth/internal/incident"
)

// IncidentAnalyzer runs one incident analysis.
type IncidentAnalyzer interface {
	Analyze(ctx context.Context, req analysis.Request) (*incident.AnalysisResult, error)
}

// CorpusManager loads, counts and resets the historical corpus.
type CorpusManager interface {
	LoadFile(ctx context.Context, path string, progress corpus.ProgressCallback) (*corpus.LoadReport, error)
	Load(ctx context.Context, source string, incidents []incident.Historical, progress corpus.ProgressCallback) (*corpus.LoadReport, error)
	Count(ctx context.Context) (int, error)
	Reset(ctx context.Context) error
}
