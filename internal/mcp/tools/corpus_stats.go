package tools

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/moolen/sleuth/internal/retrieval"
)

// Counter reports the number of records in the corpus.
type Counter interface {
	Count(ctx context.Context) (int, error)
}

// CacheReporter exposes query embedding cache statistics.
type CacheReporter interface {
	CacheStats() (retrieval.CacheStats, bool)
}

// CorpusStatsTool implements the corpus_stats MCP tool
type CorpusStatsTool struct {
	counter    Counter
	cache      CacheReporter
	backend    string
	collection string
}

// NewCorpusStatsTool creates a new corpus_stats tool. cache may be nil.
func NewCorpusStatsTool(counter Counter, cache CacheReporter, backend, collection string) *CorpusStatsTool {
	return &CorpusStatsTool{
		counter:    counter,
		cache:      cache,
		backend:    backend,
		collection: collection,
	}
}

// CorpusStatsOutput represents the output of corpus_stats tool
type CorpusStatsOutput struct {
	Backend    string                `json:"backend"`
	Collection string                `json:"collection"`
	Count      int                   `json:"count"`
	Loaded     bool                  `json:"loaded"`
	Cache      *retrieval.CacheStats `json:"query_cache,omitempty"`
}

// Execute runs the corpus_stats tool
func (t *CorpusStatsTool) Execute(ctx context.Context, _ json.RawMessage) (interface{}, error) {
	n, err := t.counter.Count(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to count corpus: %w", err)
	}
	out := CorpusStatsOutput{
		Backend:    t.backend,
		Collection: t.collection,
		Count:      n,
		Loaded:     n > 0,
	}
	if t.cache != nil {
		if stats, ok := t.cache.CacheStats(); ok {
			out.Cache = &stats
		}
	}
	return out, nil
}
