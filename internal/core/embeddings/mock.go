package embeddings

import (
	"context"
	"hash/fnv"
)

// MockClient produces deterministic pseudo-vectors from input text. The same
// text always maps to the same vector.
type MockClient struct {
	Dims int
	Fail bool
}

func (m *MockClient) Model() string   { return "mock-embedding" }
func (m *MockClient) Dimensions() int { return m.Dims }
func (m *MockClient) Available() bool { return true }

func (m *MockClient) EmbedBatch(_ context.Context, texts []string) (*BatchResult, error) {
	if m.Fail {
		return nil, ErrDisabled
	}

	vectors := make([][]float32, len(texts))
	for i, text := range texts {
		vectors[i] = pseudoVector(text, m.Dims)
	}

	return &BatchResult{
		Provider:    "mock",
		Model:       m.Model(),
		Vectors:     vectors,
		InputTokens: len(texts),
	}, nil
}

func pseudoVector(text string, dims int) []float32 {
	v := make([]float32, dims)
	h := fnv.New64a()
	_, _ = h.Write([]byte(text))
	seed := h.Sum64()

	for i := range v {
		seed = seed*6364136223846793005 + 1442695040888963407
		v[i] = float32(int64(seed>>33))/float32(1<<30) - 1
	}

	return v
}
