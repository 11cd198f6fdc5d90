// Package mock provides a deterministic test double for the embedding
// client. Identical text always produces the identical vector, and tests can
// pin exact vectors per text to control similarity scores.
package mock

import (
	"context"
	"hash/fnv"
	"math"
	"sync"
)

type Embedder struct {
	dimension int

	mu      sync.Mutex
	pinned  map[string][]float32
	calls   int
	failErr error
}

func NewEmbedder(dimension int) *Embedder {
	return &Embedder{
		dimension: dimension,
		pinned:    make(map[string][]float32),
	}
}

// Pin fixes the vector returned for a given text. The vector is padded with
// zeros (or truncated) to the embedder's dimension and normalized.
func (m *Embedder) Pin(text string, vec []float32) {
	m.mu.Lock()
	defer m.mu.Unlock()

	padded := make([]float32, m.dimension)
	copy(padded, vec)
	m.pinned[text] = normalize(padded)
}

// Fail makes every subsequent call return err; Fail(nil) restores normal
// behavior.
func (m *Embedder) Fail(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failErr = err
}

func (m *Embedder) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

func (m *Embedder) Dimension() int {
	return m.dimension
}

func (m *Embedder) EmbedText(ctx context.Context, text string) ([]float32, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.calls++
	if m.failErr != nil {
		return nil, m.failErr
	}

	if vec, ok := m.pinned[text]; ok {
		return vec, nil
	}
	return deterministicVector(text, m.dimension), nil
}

func (m *Embedder) EmbedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	vectors := make([][]float32, len(texts))
	for i, text := range texts {
		vec, err := m.EmbedText(ctx, text)
		if err != nil {
			return nil, err
		}
		vectors[i] = vec
	}
	return vectors, nil
}

// deterministicVector seeds an LCG with the FNV hash of the text, so the
// same text always maps to the same unit vector.
func deterministicVector(text string, dim int) []float32 {
	h := fnv.New32a()
	h.Write([]byte(text))
	seed := h.Sum32()

	vec := make([]float32, dim)
	for i := 0; i < dim; i++ {
		seed = seed*1664525 + 1013904223
		vec[i] = float32(seed%1000)/1000.0 - 0.5
	}

	return normalize(vec)
}

func normalize(vec []float32) []float32 {
	var sumSquares float64
	for _, v := range vec {
		sumSquares += float64(v) * float64(v)
	}
	if sumSquares == 0 {
		return vec
	}

	norm := float32(1.0 / math.Sqrt(sumSquares))
	for i := range vec {
		vec[i] *= norm
	}
	return vec
}
