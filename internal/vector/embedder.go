package vector

import (
	"context"
	"hash/fnv"
	"math"
	"strings"
	"unicode"
)

// Embedder turns text into a fixed-dimension vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// HashingEmbedder is the default embedder: deterministic bag-of-words
// feature hashing. Tokens are FNV-hashed into a fixed number of dimensions
// with a sign bit, and the result is L2-normalized. It needs no external
// model runtime, which keeps the critical write path self-contained; a
// model-backed Embedder can be swapped in via the Store constructor.
type HashingEmbedder struct {
	dims int
}

// DefaultDims is the default embedding width.
const DefaultDims = 256

// NewHashingEmbedder creates a hashing embedder. dims <= 0 uses DefaultDims.
func NewHashingEmbedder(dims int) *HashingEmbedder {
	if dims <= 0 {
		dims = DefaultDims
	}
	return &HashingEmbedder{dims: dims}
}

// Embed hashes the text's tokens into a normalized vector. Identical text
// always yields an identical vector.
func (h *HashingEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	vec := make([]float32, h.dims)
	for _, token := range tokenize(text) {
		f := fnv.New64a()
		f.Write([]byte(token))
		sum := f.Sum64()
		idx := int(sum % uint64(h.dims))
		if sum&(1<<63) != 0 {
			vec[idx]--
		} else {
			vec[idx]++
		}
	}

	var normSq float64
	for _, v := range vec {
		normSq += float64(v) * float64(v)
	}
	if normSq == 0 {
		return vec, nil
	}
	norm := float32(math.Sqrt(normSq))
	for i := range vec {
		vec[i] /= norm
	}
	return vec, nil
}

// tokenize lowercases and splits on non-letter/digit runes.
func tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}
