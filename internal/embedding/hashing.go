package embedding

import (
	"context"
	"hash/fnv"
	"strings"
	"unicode"
)

// Hashing is a deterministic feature-hashing embedder over lower-cased word
// unigrams and bigrams. Identical texts map to identical vectors and texts
// sharing vocabulary land close together, which is enough for offline use and
// for tests.
type Hashing struct {
	dim int
}

// NewHashing creates a hashing embedder. Non-positive dimensions use 384.
func NewHashing(dim int) *Hashing {
	if dim <= 0 {
		dim = DefaultConfig().Dimension
	}
	return &Hashing{dim: dim}
}

// Embed implements Embedder.
func (h *Hashing) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		out[i] = h.vector(text)
	}
	return out, nil
}

func (h *Hashing) vector(text string) []float32 {
	v := make([]float32, h.dim)
	tokens := tokenize(text)
	for i, tok := range tokens {
		h.add(v, tok, 1)
		if i > 0 {
			h.add(v, tokens[i-1]+" "+tok, 0.5)
		}
	}
	return Normalize(v)
}

func (h *Hashing) add(v []float32, feature string, weight float32) {
	hasher := fnv.New64a()
	_, _ = hasher.Write([]byte(feature))
	sum := hasher.Sum64()
	idx := int(sum % uint64(h.dim))
	if sum&(1<<63) != 0 {
		weight = -weight
	}
	v[idx] += weight
}

func tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

// Dimension implements Embedder.
func (h *Hashing) Dimension() int {
	return h.dim
}

// Name implements Embedder.
func (h *Hashing) Name() string {
	return ProviderHashing
}
