// Package retrieval finds the historical incidents nearest to a new
// incident description.
package retrieval

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/moolen/sleuth/internal/embedding"
	"github.com/moolen/sleuth/internal/incident"
	"github.com/moolen/sleuth/internal/logging"
	"github.com/moolen/sleuth/internal/store"
)

// DefaultK is the number of candidates returned when k <= 0.
const DefaultK = 5

// Retriever is the query side of the corpus.
type Retriever interface {
	Query(ctx context.Context, text string, k int) ([]incident.Candidate, error)
}

// Index answers nearest-neighbour queries against a vector collection.
type Index struct {
	collection store.Collection
	embedder   embedding.Embedder
	cache      *vectorCache
	logger     *logging.Logger
	tracer     trace.Tracer
}

// Option configures an Index.
type Option func(*Index) error

// WithCache enables the query embedding cache.
func WithCache(cfg CacheConfig) Option {
	return func(idx *Index) error {
		if cfg.Size <= 0 {
			return nil
		}
		c, err := newVectorCache(cfg, idx.logger)
		if err != nil {
			return err
		}
		idx.cache = c
		return nil
	}
}

// NewIndex creates an Index. The embedder must be the one the collection
// was loaded with.
func NewIndex(collection store.Collection, embedder embedding.Embedder, opts ...Option) (*Index, error) {
	idx := &Index{
		collection: collection,
		embedder:   embedder,
		logger:     logging.GetLogger("retrieval"),
		tracer:     otel.Tracer("sleuth/retrieval"),
	}
	for _, opt := range opts {
		if err := opt(idx); err != nil {
			return nil, err
		}
	}
	return idx, nil
}

// Query returns up to k historical incidents ordered by ascending distance
// to text. An empty collection yields an empty slice.
func (idx *Index) Query(ctx context.Context, text string, k int) ([]incident.Candidate, error) {
	if k <= 0 {
		k = DefaultK
	}
	ctx, span := idx.tracer.Start(ctx, "retrieval.query", trace.WithAttributes(
		attribute.Int("retrieval.k", k),
		attribute.String("retrieval.collection", idx.collection.Name()),
	))
	defer span.End()

	vector, err := idx.embed(ctx, text)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "embedding failed")
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}

	hits, err := idx.collection.Query(ctx, vector, k)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "query failed")
		return nil, fmt.Errorf("failed to query %s: %w", idx.collection.Name(), err)
	}

	candidates := make([]incident.Candidate, 0, len(hits))
	for i, hit := range hits {
		h := incident.FromMetadata(hit.Metadata)
		if h.ID == "" {
			h.ID = hit.ID
		}
		if h.Description == "" {
			h.Description = hit.Document
		}
		candidates = append(candidates, incident.Candidate{
			Incident: h,
			Rank:     i,
			Distance: hit.Distance,
		})
	}
	span.SetAttributes(attribute.Int("retrieval.hits", len(candidates)))
	idx.logger.DebugWithFields("Retrieved similar incidents",
		logging.Field("k", k),
		logging.Field("hits", len(candidates)),
		logging.Field("query", logging.Snippet(text, 60)),
	)
	return candidates, nil
}

func (idx *Index) embed(ctx context.Context, text string) ([]float32, error) {
	var key string
	if idx.cache != nil {
		key = cacheKey(idx.embedder.Name(), text)
		if v, ok := idx.cache.get(key); ok {
			return v, nil
		}
	}
	vectors, err := idx.embedder.Embed(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(vectors) != 1 {
		return nil, fmt.Errorf("embedder returned %d vectors for 1 text", len(vectors))
	}
	if idx.cache != nil {
		idx.cache.put(key, vectors[0])
	}
	return vectors[0], nil
}

// CacheStats reports query embedding cache statistics. ok is false when the
// cache is disabled.
func (idx *Index) CacheStats() (CacheStats, bool) {
	if idx.cache == nil {
		return CacheStats{}, false
	}
	return idx.cache.stats(), true
}

// ClearCache drops all cached query embeddings.
func (idx *Index) ClearCache() {
	if idx.cache != nil {
		idx.cache.clear()
	}
}
