// Package corpus owns the collection of historical incidents: bulk loading,
// counting and resetting.
package corpus

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/moolen/sleuth/internal/embedding"
	"github.com/moolen/sleuth/internal/incident"
	"github.com/moolen/sleuth/internal/logging"
	"github.com/moolen/sleuth/internal/store"
)

// DefaultBatchSize is the number of incidents embedded and written per batch.
const DefaultBatchSize = 100

// ProgressCallback is called after each batch is written.
type ProgressCallback func(inserted, total int)

// LoadReport summarises a Load call.
type LoadReport struct {
	Source   string        `json:"source"`
	Rows     int           `json:"rows"`
	Inserted int           `json:"inserted"`
	Batches  int           `json:"batches"`
	Skipped  bool          `json:"skipped"`
	Existing int           `json:"existing"`
	Duration time.Duration `json:"duration"`
}

// Store loads historical incidents into a vector collection.
type Store struct {
	collection store.Collection
	embedder   embedding.Embedder
	batchSize  int
	metrics    *Metrics
	logger     *logging.Logger
	tracer     trace.Tracer
}

// Option configures a Store.
type Option func(*Store)

// WithBatchSize overrides DefaultBatchSize.
func WithBatchSize(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.batchSize = n
		}
	}
}

// WithMetrics enables Prometheus metrics.
func WithMetrics(m *Metrics) Option {
	return func(s *Store) {
		s.metrics = m
	}
}

// NewStore creates a corpus store over collection, embedding documents with
// embedder.
func NewStore(collection store.Collection, embedder embedding.Embedder, opts ...Option) *Store {
	s := &Store{
		collection: collection,
		embedder:   embedder,
		batchSize:  DefaultBatchSize,
		logger:     logging.GetLogger("corpus"),
		tracer:     otel.Tracer("sleuth/corpus"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Collection returns the underlying vector collection.
func (s *Store) Collection() store.Collection {
	return s.collection
}

// Embedder returns the embedder used for documents.
func (s *Store) Embedder() embedding.Embedder {
	return s.embedder
}

// LoadFile reads path and loads it. See Load. A populated collection is
// detected before the file is opened, so a skipped load never touches path.
func (s *Store) LoadFile(ctx context.Context, path string, progress ProgressCallback) (*LoadReport, error) {
	existing, err := s.collection.Count(ctx)
	if err != nil {
		s.observeLoad("error")
		return nil, fmt.Errorf("failed to count corpus: %w", err)
	}
	if existing > 0 {
		return s.Load(ctx, path, nil, progress)
	}

	incidents, err := ReadFile(path)
	if err != nil {
		s.logger.Error("Error loading historical incidents from %s: %v", path, err)
		s.observeLoad("error")
		return nil, err
	}
	return s.Load(ctx, path, incidents, progress)
}

// Load inserts incidents in batches, in order. When the collection already
// holds records the call is a no-op and the report is marked Skipped; use
// Reset first to reload. A failed batch aborts the load and leaves the
// batches written so far in place.
func (s *Store) Load(ctx context.Context, source string, incidents []incident.Historical, progress ProgressCallback) (*LoadReport, error) {
	ctx, span := s.tracer.Start(ctx, "corpus.load", trace.WithAttributes(
		attribute.String("corpus.source", source),
		attribute.Int("corpus.rows", len(incidents)),
	))
	defer span.End()

	start := time.Now()
	report := &LoadReport{Source: source, Rows: len(incidents)}

	existing, err := s.collection.Count(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "count failed")
		s.observeLoad("error")
		return nil, fmt.Errorf("failed to count corpus: %w", err)
	}
	if existing > 0 {
		s.logger.Info("Found %d existing incidents in %s, skipping load", existing, s.collection.Name())
		report.Skipped = true
		report.Existing = existing
		report.Duration = time.Since(start)
		s.setRecords(existing)
		s.observeLoad("skipped")
		return report, nil
	}

	s.logger.Info("Loading %d historical incidents into %s", len(incidents), s.collection.Name())

	for begin := 0; begin < len(incidents); begin += s.batchSize {
		end := begin + s.batchSize
		if end > len(incidents) {
			end = len(incidents)
		}
		if err := s.writeBatch(ctx, incidents[begin:end]); err != nil {
			s.logger.ErrorWithFields("Error loading historical incidents",
				logging.Field("source", source),
				logging.Field("batch", report.Batches+1),
				logging.Field("inserted", report.Inserted),
				logging.Field("error", err),
			)
			span.RecordError(err)
			span.SetStatus(codes.Error, "batch failed")
			s.observeLoad("error")
			return nil, fmt.Errorf("failed to load batch starting at row %d: %w", begin+1, err)
		}
		report.Batches++
		report.Inserted = end
		if s.metrics != nil {
			s.metrics.BatchesTotal.Inc()
		}
		if progress != nil {
			progress(report.Inserted, len(incidents))
		}
		s.logger.Debug("Wrote batch %d (%d/%d)", report.Batches, report.Inserted, len(incidents))
	}

	report.Duration = time.Since(start)
	s.setRecords(report.Inserted)
	s.observeLoad("loaded")
	s.logger.Info("Successfully loaded %d incidents in %s", report.Inserted, report.Duration.Round(time.Millisecond))
	return report, nil
}

func (s *Store) writeBatch(ctx context.Context, batch []incident.Historical) error {
	docs := make([]string, len(batch))
	for i, h := range batch {
		docs[i] = h.Description
	}
	vectors, err := s.embedder.Embed(ctx, docs)
	if err != nil {
		return fmt.Errorf("failed to embed batch: %w", err)
	}
	if len(vectors) != len(batch) {
		return fmt.Errorf("embedder returned %d vectors for %d documents", len(vectors), len(batch))
	}

	records := make([]store.Record, len(batch))
	for i, h := range batch {
		records[i] = store.Record{
			ID:       h.ID,
			Document: h.Description,
			Metadata: h.Metadata(),
			Vector:   vectors[i],
		}
	}
	return s.collection.Add(ctx, records)
}

// Count returns the number of stored incidents.
func (s *Store) Count(ctx context.Context) (int, error) {
	n, err := s.collection.Count(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to count corpus: %w", err)
	}
	s.setRecords(n)
	return n, nil
}

// Reset deletes every incident and recreates an empty collection. Failures
// are logged and returned; the store stays usable.
func (s *Store) Reset(ctx context.Context) error {
	if err := s.collection.Reset(ctx); err != nil {
		s.logger.Error("Error resetting corpus: %v", err)
		return fmt.Errorf("failed to reset corpus: %w", err)
	}
	s.setRecords(0)
	s.logger.Info("Reinitialized %s collection", s.collection.Name())
	return nil
}

// Purge removes all backend state, including files on disk, and
// reinitialises an empty collection.
func (s *Store) Purge(ctx context.Context) error {
	if err := s.collection.Purge(ctx); err != nil {
		s.logger.Error("Error deleting corpus data: %v", err)
		return fmt.Errorf("failed to purge corpus: %w", err)
	}
	s.setRecords(0)
	s.logger.Info("Deleted all %s corpus data", s.collection.Name())
	return nil
}

func (s *Store) setRecords(n int) {
	if s.metrics != nil {
		s.metrics.Records.Set(float64(n))
	}
}

func (s *Store) observeLoad(outcome string) {
	if s.metrics != nil {
		s.metrics.LoadsTotal.WithLabelValues(outcome).Inc()
	}
}
