// Package embedding turns incident text into vectors for nearest-neighbour search.
package embedding

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"
)

// Embedder converts texts to vectors. Implementations return one vector per
// input, in input order, each of length Dimension().
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	Dimension() int
	Name() string
}

const (
	ProviderHashing = "hashing"
	ProviderOpenAI  = "openai"
	ProviderGemini  = "gemini"
)

// Config selects and configures an embedder.
type Config struct {
	Provider  string
	Model     string
	BaseURL   string
	APIKey    string
	Dimension int
	// BatchSize caps the number of texts sent per remote request.
	BatchSize int
	Timeout   time.Duration
}

// DefaultConfig uses the local hashing embedder, which needs no network.
func DefaultConfig() Config {
	return Config{
		Provider:  ProviderHashing,
		Dimension: 384,
		BatchSize: 10,
		Timeout:   30 * time.Second,
	}
}

// New constructs the Embedder named by cfg.Provider.
func New(ctx context.Context, cfg Config) (Embedder, error) {
	switch strings.ToLower(cfg.Provider) {
	case "", ProviderHashing:
		return NewHashing(cfg.Dimension), nil
	case ProviderOpenAI:
		return NewOpenAI(cfg)
	case ProviderGemini:
		return NewGemini(ctx, cfg)
	default:
		return nil, fmt.Errorf("unknown embedding provider %q", cfg.Provider)
	}
}

// Normalize scales v to unit length in place and returns it. Zero vectors are
// returned unchanged.
func Normalize(v []float32) []float32 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	if sum == 0 {
		return v
	}
	norm := float32(math.Sqrt(sum))
	for i := range v {
		v[i] /= norm
	}
	return v
}

// Fit pads or truncates v to dim. A non-positive dim returns v unchanged.
func Fit(v []float32, dim int) []float32 {
	if dim <= 0 || len(v) == dim {
		return v
	}
	if len(v) > dim {
		return v[:dim]
	}
	out := make([]float32, dim)
	copy(out, v)
	return out
}

// CosineSimilarity returns the cosine of the angle between a and b, or 0 when
// either is a zero vector or the lengths differ.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

func batches(n, size int) [][2]int {
	if size <= 0 {
		size = n
	}
	var out [][2]int
	for start := 0; start < n; start += size {
		end := start + size
		if end > n {
			end = n
		}
		out = append(out, [2]int{start, end})
	}
	return out
}
