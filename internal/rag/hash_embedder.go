package rag

import (
	"context"
	"hash/fnv"
	"math"
	"strings"
	"unicode"
)

const defaultHashDimensions = 256

// hashEmbedder maps words into a fixed number of buckets. It needs no network
// and is used with the mock model so an index can be built and searched
// offline. Similarity only reflects shared words.
type hashEmbedder struct {
	dims int
}

// NewHashEmbedder returns an offline embedder with dims buckets (256 when
// dims is not positive).
func NewHashEmbedder(dims int) Embedder {
	if dims <= 0 {
		dims = defaultHashDimensions
	}
	return &hashEmbedder{dims: dims}
}

func (h *hashEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	vec := make([]float32, h.dims)
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	for _, word := range words {
		hasher := fnv.New32a()
		_, _ = hasher.Write([]byte(word))
		vec[hasher.Sum32()%uint32(h.dims)]++
	}

	var norm float64
	for _, v := range vec {
		norm += float64(v * v)
	}
	if norm == 0 {
		// chromem rejects zero vectors; spread empty text evenly.
		for i := range vec {
			vec[i] = float32(1 / math.Sqrt(float64(h.dims)))
		}
		return vec, nil
	}
	scale := float32(1 / math.Sqrt(norm))
	for i := range vec {
		vec[i] *= scale
	}
	return vec, nil
}

func (h *hashEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		vec, err := h.Embed(ctx, text)
		if err != nil {
			return nil, err
		}
		out[i] = vec
	}
	return out, nil
}
