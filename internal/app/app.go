// Package app wires configuration into the analysis pipeline: the language
// model, the embedder, the vector store, the corpus and the assembler.
package app

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/moolen/sleuth/internal/analysis"
	"github.com/moolen/sleuth/internal/config"
	"github.com/moolen/sleuth/internal/corpus"
	"github.com/moolen/sleuth/internal/embedding"
	"github.com/moolen/sleuth/internal/incident"
	"github.com/moolen/sleuth/internal/llm"
	"github.com/moolen/sleuth/internal/logging"
	"github.com/moolen/sleuth/internal/retrieval"
	"github.com/moolen/sleuth/internal/store"
	"github.com/moolen/sleuth/internal/store/falkordb"
	"github.com/moolen/sleuth/internal/store/memory"
	"github.com/moolen/sleuth/internal/store/pgvector"
)

// App is the assembled pipeline. It owns the store connection.
type App struct {
	Config     *config.Config
	Completer  llm.Completer
	Embedder   embedding.Embedder
	Collection store.Collection
	Corpus     *corpus.Store
	Index      *retrieval.Index
	Assembler  *analysis.Assembler
	Registry   *prometheus.Registry

	// timeout is the analysis timeout in nanoseconds; it follows policy reloads.
	timeout atomic.Int64
	logger  *logging.Logger
}

type options struct {
	completer  llm.Completer
	embedder   embedding.Embedder
	collection store.Collection
	registry   *prometheus.Registry
}

// Option overrides a component that would otherwise be built from config.
type Option func(*options)

// WithCompleter uses c instead of the configured LLM provider.
func WithCompleter(c llm.Completer) Option {
	return func(o *options) { o.completer = c }
}

// WithEmbedder uses e instead of the configured embedding provider.
func WithEmbedder(e embedding.Embedder) Option {
	return func(o *options) { o.embedder = e }
}

// WithCollection uses c instead of opening the configured backend.
func WithCollection(c store.Collection) Option {
	return func(o *options) { o.collection = c }
}

// WithRegistry registers metrics with reg instead of a fresh registry.
func WithRegistry(reg *prometheus.Registry) Option {
	return func(o *options) { o.registry = reg }
}

// New builds the pipeline from cfg. The returned App must be closed.
func New(ctx context.Context, cfg *config.Config, opts ...Option) (*App, error) {
	o := &options{}
	for _, opt := range opts {
		opt(o)
	}
	logger := logging.GetLogger("app")

	reg := o.registry
	if reg == nil {
		reg = prometheus.NewRegistry()
		reg.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}

	completer := o.completer
	if completer == nil {
		var err error
		completer, err = llm.New(ctx, LLMConfig(cfg.LLM))
		if err != nil {
			return nil, fmt.Errorf("failed to create llm client: %w", err)
		}
	}

	embedder := o.embedder
	if embedder == nil {
		var err error
		embedder, err = embedding.New(ctx, EmbeddingConfig(cfg.Embedding))
		if err != nil {
			return nil, fmt.Errorf("failed to create embedder: %w", err)
		}
	}

	collection := o.collection
	if collection == nil {
		var err error
		collection, err = OpenCollection(ctx, cfg.Store, embedder.Dimension())
		if err != nil {
			return nil, err
		}
	}

	corpusStore := corpus.NewStore(collection, embedder,
		corpus.WithBatchSize(cfg.Corpus.BatchSize),
		corpus.WithMetrics(corpus.NewMetrics(reg, collection.Name())),
	)

	index, err := retrieval.NewIndex(collection, embedder, retrieval.WithCache(retrieval.CacheConfig{
		Size: cfg.Embedding.CacheSize,
		TTL:  cfg.Embedding.CacheTTL,
	}))
	if err != nil {
		_ = collection.Close()
		return nil, fmt.Errorf("failed to create retrieval index: %w", err)
	}

	metrics := analysis.NewMetrics(reg)
	assembler, err := analysis.NewAssembler(
		analysis.NewAnalyzer(completer, metrics),
		index,
		analysis.NewJudge(completer, metrics),
		Policy(cfg.Analysis),
		metrics,
	)
	if err != nil {
		_ = collection.Close()
		return nil, fmt.Errorf("invalid analysis policy: %w", err)
	}

	logger.Info("Pipeline ready: llm=%s/%s embedder=%s store=%s",
		completer.Name(), completer.Model(), embedder.Name(), collection.Name())

	a := &App{
		Config:     cfg,
		Completer:  completer,
		Embedder:   embedder,
		Collection: collection,
		Corpus:     corpusStore,
		Index:      index,
		Assembler:  assembler,
		Registry:   reg,
		logger:     logger,
	}
	a.timeout.Store(int64(cfg.Analysis.Timeout))
	return a, nil
}

// OpenCollection opens the configured vector store backend.
func OpenCollection(ctx context.Context, cfg config.StoreConfig, dimension int) (store.Collection, error) {
	switch cfg.Backend {
	case config.BackendMemory, "":
		if cfg.Memory.Path == "" {
			return memory.New(), nil
		}
		c, err := memory.Open(cfg.Memory.Path)
		if err != nil {
			return nil, fmt.Errorf("failed to open memory store: %w", err)
		}
		return c, nil

	case config.BackendFalkorDB:
		fcfg := falkordb.DefaultConfig()
		fcfg.Addr = cfg.FalkorDB.Addr
		fcfg.Password = cfg.FalkorDB.Password
		fcfg.GraphName = cfg.Collection
		fcfg.Dimension = dimension
		if cfg.FalkorDB.PoolSize > 0 {
			fcfg.PoolSize = cfg.FalkorDB.PoolSize
		}
		c := falkordb.New(fcfg)
		if err := c.Connect(ctx); err != nil {
			return nil, fmt.Errorf("failed to connect to falkordb: %w", err)
		}
		return c, nil

	case config.BackendPGVector:
		c, err := pgvector.Open(ctx, pgvector.Config{
			DSN:       cfg.PGVector.DSN,
			Table:     cfg.Collection,
			Dimension: dimension,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to open pgvector store: %w", err)
		}
		return c, nil

	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.Backend)
	}
}

// LLMConfig converts the llm config section, resolving the API key.
func LLMConfig(c config.LLMConfig) llm.Config {
	return llm.Config{
		Provider:     c.Provider,
		Model:        c.Model,
		BaseURL:      c.BaseURL,
		APIKey:       c.APIKey(),
		MaxTokens:    c.MaxTokens,
		Timeout:      c.Timeout,
		ScenarioPath: c.MockScenario,
	}
}

// EmbeddingConfig converts the embedding config section, resolving the API key.
func EmbeddingConfig(c config.EmbeddingConfig) embedding.Config {
	return embedding.Config{
		Provider:  c.Provider,
		Model:     c.Model,
		BaseURL:   c.BaseURL,
		APIKey:    c.APIKey(),
		Dimension: c.Dimension,
		BatchSize: c.BatchSize,
		Timeout:   c.Timeout,
	}
}

// Policy converts the analysis config section.
func Policy(c config.AnalysisConfig) analysis.Options {
	return analysis.Options{
		Threshold:  c.Threshold,
		MaxSimilar: c.MaxSimilar,
		Candidates: c.Candidates,
		JoinMode:   analysis.JoinMode(c.JoinMode),
	}
}

// ApplyPolicy is a config.PolicyCallback that updates the assembler.
func (a *App) ApplyPolicy(c config.AnalysisConfig) error {
	if err := a.Assembler.SetOptions(Policy(c)); err != nil {
		return err
	}
	a.timeout.Store(int64(c.Timeout))
	return nil
}

// Analyze runs one analysis bounded by analysis.timeout.
func (a *App) Analyze(ctx context.Context, req analysis.Request) (*incident.AnalysisResult, error) {
	if timeout := time.Duration(a.timeout.Load()); timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	return a.Assembler.AnalyzeIncident(ctx, req)
}

// EnsureCorpus loads path unless the corpus already holds incidents.
func (a *App) EnsureCorpus(ctx context.Context, path string, progress corpus.ProgressCallback) (*corpus.LoadReport, error) {
	if path == "" {
		return nil, errors.New("no corpus source given")
	}
	start := time.Now()
	report, err := a.Corpus.LoadFile(ctx, path, progress)
	if err != nil {
		return nil, err
	}
	a.logger.Debug("Corpus check for %s took %s", path, time.Since(start).Round(time.Millisecond))
	return report, nil
}

// Close releases the store connection.
func (a *App) Close() error {
	return a.Collection.Close()
}
