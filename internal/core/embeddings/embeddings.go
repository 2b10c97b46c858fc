// Package embeddings turns content item text into fixed-dimension vectors.
package embeddings

import (
	"context"
	"errors"
	"fmt"
	"math"

	openai "github.com/sashabaranov/go-openai"
	"golang.org/x/time/rate"

	"github.com/lensfeed/lensfeed/internal/core/llm"
)

// ErrDisabled is returned when no API key is configured.
var ErrDisabled = errors.New("embeddings disabled: no API key configured")

// BatchResult carries one vector per input plus accounting for the batch.
type BatchResult struct {
	Provider            string
	Model               string
	Vectors             [][]float32
	InputTokens         int
	CostEstimateCredits float64
}

// Client embeds batches of texts. Implementations must return exactly one
// vector per input, each with Dimensions entries.
type Client interface {
	EmbedBatch(ctx context.Context, texts []string) (*BatchResult, error)
	Model() string
	Dimensions() int
	Available() bool
}

// OpenAIClient implements Client against the OpenAI embeddings API.
type OpenAIClient struct {
	client  *openai.Client
	limiter *rate.Limiter
	model   string
	dims    int
}

func NewOpenAIClient(apiKey, model string, dims, rps int) *OpenAIClient {
	if rps <= 0 {
		rps = 1
	}

	c := &OpenAIClient{
		limiter: rate.NewLimiter(rate.Limit(rps), rps),
		model:   model,
		dims:    dims,
	}

	if apiKey != "" {
		c.client = openai.NewClient(apiKey)
	}

	return c
}

func (c *OpenAIClient) Model() string   { return c.model }
func (c *OpenAIClient) Dimensions() int { return c.dims }
func (c *OpenAIClient) Available() bool { return c.client != nil }

func (c *OpenAIClient) EmbedBatch(ctx context.Context, texts []string) (*BatchResult, error) {
	if c.client == nil {
		return nil, ErrDisabled
	}

	if len(texts) == 0 {
		return &BatchResult{Provider: "openai", Model: c.model}, nil
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter: %w", err)
	}

	resp, err := c.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Model: openai.EmbeddingModel(c.model),
		Input: texts,
	})
	if err != nil {
		return nil, fmt.Errorf("creating embeddings: %w", err)
	}

	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("embedding count mismatch: got %d vectors for %d inputs", len(resp.Data), len(texts))
	}

	vectors := make([][]float32, len(resp.Data))
	for i, d := range resp.Data {
		if err := ValidateVector(d.Embedding, c.dims); err != nil {
			return nil, fmt.Errorf("vector %d: %w", i, err)
		}

		vectors[i] = d.Embedding
	}

	return &BatchResult{
		Provider:            "openai",
		Model:               c.model,
		Vectors:             vectors,
		InputTokens:         resp.Usage.PromptTokens,
		CostEstimateCredits: llm.EstimateEmbeddingCredits(c.model, resp.Usage.PromptTokens),
	}, nil
}

// ValidateVector checks dimension and that every entry is finite.
func ValidateVector(v []float32, dims int) error {
	if len(v) != dims {
		return fmt.Errorf("dimension mismatch: got %d, want %d", len(v), dims)
	}

	for i, x := range v {
		f := float64(x)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return fmt.Errorf("non-finite entry at %d", i)
		}
	}

	return nil
}

// CosineSimilarity computes the cosine similarity of two equal-length
// vectors; zero when either has zero norm.
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
