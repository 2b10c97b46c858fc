// Package llm routes triage and enrichment calls to tier-appropriate models
// and accounts for every paid call.
package llm

import (
	"github.com/lensfeed/lensfeed/internal/core/domain"
	"github.com/lensfeed/lensfeed/internal/platform/config"
)

const (
	providerOpenAI = "openai"

	endpointChatCompletions = "/v1/chat/completions"
	endpointEmbeddings      = "/v1/embeddings"
)

// ModelChoice is the resolved target for one purpose at one tier.
type ModelChoice struct {
	Provider string
	Model    string
	Endpoint string
}

// Router maps (purpose, tier) to a provider and model. The table is filled
// from config so deployments can override individual cells.
type Router struct {
	triage map[domain.Tier]string
	enrich map[domain.Tier]string
	embed  string
}

func NewRouter(cfg *config.Config) *Router {
	return &Router{
		triage: map[domain.Tier]string{
			domain.TierLow:    cfg.TriageModelLow,
			domain.TierNormal: cfg.TriageModelNormal,
			domain.TierHigh:   cfg.TriageModelHigh,
		},
		enrich: map[domain.Tier]string{
			domain.TierLow:    cfg.EnrichModelLow,
			domain.TierNormal: cfg.EnrichModelNormal,
			domain.TierHigh:   cfg.EnrichModelHigh,
		},
		embed: cfg.EmbeddingModel,
	}
}

// ChooseModel resolves the model for a purpose at a tier. Catch-up pack
// purposes reuse the triage table: selection runs a tier below, tiering runs
// at the requested tier.
func (r *Router) ChooseModel(purpose string, tier domain.Tier) ModelChoice {
	switch purpose {
	case domain.PurposeEmbed:
		return ModelChoice{Provider: providerOpenAI, Model: r.embed, Endpoint: endpointEmbeddings}
	case domain.PurposeEnrich:
		return ModelChoice{Provider: providerOpenAI, Model: r.enrich[tier], Endpoint: endpointChatCompletions}
	case domain.PurposeCatchupPackSelect:
		return ModelChoice{Provider: providerOpenAI, Model: r.triage[lowerTier(tier)], Endpoint: endpointChatCompletions}
	default: // triage, catchup_pack_tier
		return ModelChoice{Provider: providerOpenAI, Model: r.triage[tier], Endpoint: endpointChatCompletions}
	}
}

func lowerTier(tier domain.Tier) domain.Tier {
	switch tier {
	case domain.TierHigh:
		return domain.TierNormal
	default:
		return domain.TierLow
	}
}

// CallCap is a per-run counting cap on paid calls. Zero max means no cap.
type CallCap struct {
	max  int
	used int
}

func NewCallCap(max int) *CallCap {
	return &CallCap{max: max}
}

// Allow consumes one slot and reports whether the call may proceed.
func (c *CallCap) Allow() bool {
	if c.max > 0 && c.used >= c.max {
		return false
	}

	c.used++

	return true
}

// Used returns the number of consumed slots.
func (c *CallCap) Used() int {
	return c.used
}
