package embedding

import (
	"context"
	"hash/fnv"
	"math"
	"strings"
	"unicode"
)

// HashProvider embeds text by hashing words and character trigrams into a
// fixed number of signed buckets. It needs no model files and is fully
// deterministic, which makes it useful offline and in tests.
type HashProvider struct {
	dim int
}

// NewHashProvider returns a hashing provider of the given width.
func NewHashProvider(dim int) *HashProvider {
	if dim <= 0 {
		dim = DefaultDimension
	}
	return &HashProvider{dim: dim}
}

// Dimension returns the vector width.
func (h *HashProvider) Dimension() int { return h.dim }

// Embed returns one L2-normalized vector per text. Empty text maps to the zero vector.
func (h *HashProvider) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		out[i] = h.embedOne(text)
	}
	return out, nil
}

func (h *HashProvider) embedOne(text string) []float32 {
	acc := make([]float64, h.dim)
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	for _, w := range words {
		h.add(acc, "w:"+w, 1)
		runes := []rune("#" + w + "#")
		for j := 0; j+3 <= len(runes); j++ {
			h.add(acc, "c:"+string(runes[j:j+3]), 0.5)
		}
	}

	norm := 0.0
	for _, v := range acc {
		norm += v * v
	}
	vec := make([]float32, h.dim)
	if norm == 0 {
		return vec
	}
	norm = math.Sqrt(norm)
	for j, v := range acc {
		vec[j] = float32(v / norm)
	}
	return vec
}

func (h *HashProvider) add(acc []float64, feature string, weight float64) {
	f := fnv.New32a()
	f.Write([]byte(feature))
	sum := f.Sum32()
	if sum&(1<<31) != 0 {
		weight = -weight
	}
	acc[int(sum&0x7fffffff)%h.dim] += weight
}
