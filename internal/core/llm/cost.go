package llm

import "strings"

// Credit rates per 1M tokens. One credit corresponds to the smallest
// accounting unit of the underlying paid API; rates are approximate and
// updated as pricing changes.
const (
	creditsGPT4OPromptPer1M     = 250.0
	creditsGPT4OCompletionPer1M = 1000.0

	creditsGPT4OMiniPromptPer1M     = 15.0
	creditsGPT4OMiniCompletionPer1M = 60.0

	creditsEmbeddingSmallPer1M = 2.0
	creditsEmbeddingLargePer1M = 13.0

	tokensPerMillion = 1_000_000.0
)

// EstimateCredits returns the estimated credit cost of a chat completion.
func EstimateCredits(model string, promptTokens, completionTokens int) float64 {
	promptRate, completionRate := chatRates(strings.ToLower(model))

	return float64(promptTokens)*promptRate/tokensPerMillion +
		float64(completionTokens)*completionRate/tokensPerMillion
}

// EstimateEmbeddingCredits returns the estimated credit cost of an embedding
// request. Embeddings bill input tokens only.
func EstimateEmbeddingCredits(model string, inputTokens int) float64 {
	rate := creditsEmbeddingSmallPer1M
	if strings.Contains(strings.ToLower(model), "large") {
		rate = creditsEmbeddingLargePer1M
	}

	return float64(inputTokens) * rate / tokensPerMillion
}

func chatRates(model string) (promptRate, completionRate float64) {
	switch {
	case strings.Contains(model, "mini") || strings.Contains(model, "nano"):
		return creditsGPT4OMiniPromptPer1M, creditsGPT4OMiniCompletionPer1M
	default:
		return creditsGPT4OPromptPer1M, creditsGPT4OCompletionPer1M
	}
}
