// Package embed implements the deterministic embedding encoder. Tokens are
// bucketed into a fixed-dimension vector by sha256 feature hashing and the
// result is L2-normalized. The same text always yields the bit-identical
// vector: no randomness, no external model call.
package embed

import (
	"crypto/sha256"
	"encoding/binary"
	"math"
	"strings"
)

// DefaultDim is the embedding dimensionality used for items, users, roles,
// phases and query vectors.
const DefaultDim = 64

// Encoder produces fixed-dimension feature-hash embeddings.
type Encoder struct {
	dim int
}

func NewEncoder(dim int) *Encoder {
	if dim <= 0 {
		dim = DefaultDim
	}
	return &Encoder{dim: dim}
}

func (e *Encoder) Dim() int {
	return e.dim
}

func tokenize(text string) []string {
	fields := strings.Fields(strings.ToLower(text))
	tokens := make([]string, 0, len(fields))
	for _, f := range fields {
		if f != "" {
			tokens = append(tokens, f)
		}
	}
	return tokens
}

// bucket maps a token onto a vector index via the first 8 bytes of its sha256.
func (e *Encoder) bucket(token string) int {
	sum := sha256.Sum256([]byte(token))
	return int(binary.BigEndian.Uint64(sum[:8]) % uint64(e.dim))
}

// Encode maps text to an L2-normalized vector. Empty or whitespace-only text
// yields the zero vector.
func (e *Encoder) Encode(text string) []float32 {
	vec := make([]float32, e.dim)
	tokens := tokenize(text)
	if len(tokens) == 0 {
		return vec
	}
	for _, token := range tokens {
		vec[e.bucket(token)] += 1.0
	}
	return Normalize(vec)
}

// Normalize returns the L2-normalized copy of vec. The zero vector is
// returned unchanged.
func Normalize(vec []float32) []float32 {
	var sum float64
	for _, v := range vec {
		sum += float64(v) * float64(v)
	}
	if sum == 0 {
		return vec
	}
	norm := math.Sqrt(sum)
	out := make([]float32, len(vec))
	for i, v := range vec {
		out[i] = float32(float64(v) / norm)
	}
	return out
}

// Cosine computes the cosine similarity of two vectors. Vectors of unequal
// length or zero magnitude score 0.
func Cosine(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

// Blend sums the given vectors element-wise and normalizes the result. Nil
// and zero-length inputs are skipped; blending nothing yields a zero vector.
func Blend(dim int, vectors ...[]float32) []float32 {
	out := make([]float32, dim)
	for _, vec := range vectors {
		if len(vec) != dim {
			continue
		}
		for i, v := range vec {
			out[i] += v
		}
	}
	return Normalize(out)
}
