package embedding

import (
	"context"
	"fmt"

	"google.golang.org/genai"

	"github.com/moolen/sleuth/internal/llm"
)

const defaultGeminiEmbeddingModel = "gemini-embedding-001"

// Gemini embeds text with the Gemini embedding API.
type Gemini struct {
	client *genai.Client
	config Config
}

// NewGemini creates a Gemini embedder.
func NewGemini(ctx context.Context, cfg Config) (*Gemini, error) {
	if cfg.Model == "" {
		cfg.Model = defaultGeminiEmbeddingModel
	}
	if cfg.Dimension <= 0 {
		cfg.Dimension = 768
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultConfig().BatchSize
	}
	client, err := llm.NewGenAIClient(ctx, cfg.APIKey, cfg.BaseURL)
	if err != nil {
		return nil, err
	}
	return &Gemini{client: client, config: cfg}, nil
}

// Embed implements Embedder.
func (g *Gemini) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, 0, len(texts))
	for _, b := range batches(len(texts), g.config.BatchSize) {
		contents := make([]*genai.Content, 0, b[1]-b[0])
		for _, text := range texts[b[0]:b[1]] {
			contents = append(contents, genai.NewContentFromText(text, genai.RoleUser))
		}
		res, err := g.client.Models.EmbedContent(ctx, g.config.Model, contents, &genai.EmbedContentConfig{
			TaskType:             "SEMANTIC_SIMILARITY",
			OutputDimensionality: genai.Ptr(int32(g.config.Dimension)),
		})
		if err != nil {
			return nil, fmt.Errorf("gemini embedding call failed: %w", err)
		}
		if len(res.Embeddings) != len(contents) {
			return nil, fmt.Errorf("embedding count mismatch: sent %d, got %d", len(contents), len(res.Embeddings))
		}
		for _, e := range res.Embeddings {
			out = append(out, Normalize(Fit(e.Values, g.config.Dimension)))
		}
	}
	return out, nil
}

// Dimension implements Embedder.
func (g *Gemini) Dimension() int {
	return g.config.Dimension
}

// Name implements Embedder.
func (g *Gemini) Name() string {
	return ProviderGemini
}
