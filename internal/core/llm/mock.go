package llm

import (
	"context"
	"hash/fnv"

	"github.com/lensfeed/lensfeed/internal/core/domain"
)

// MockClient returns deterministic triage scores derived from the title.
// Used in tests and when running without an API key in local mode.
type MockClient struct{}

func (MockClient) Available() bool { return true }

func (MockClient) Triage(_ context.Context, choice ModelChoice, input TriageInput) (*TriageResult, error) {
	h := fnv.New32a()
	_, _ = h.Write([]byte(input.Title))

	return &TriageResult{
		Accounting: Accounting{Provider: "mock", Model: choice.Model, Endpoint: choice.Endpoint},
		Output: domain.TriageOutput{
			SchemaVersion: schemaVersion,
			PromptID:      triagePromptID,
			Provider:      "mock",
			Model:         choice.Model,
			AIScore:       int(h.Sum32() % 101),
			Reason:        "mock",
			IsRelevant:    true,
			OneLiner:      input.Title,
		},
	}, nil
}

func (MockClient) Enrich(_ context.Context, choice ModelChoice, input EnrichInput) (*EnrichResult, error) {
	return &EnrichResult{
		Accounting: Accounting{Provider: "mock", Model: choice.Model, Endpoint: choice.Endpoint},
		Summary:    map[string]any{"summary": input.Title, "prompt_id": enrichPromptID},
	}, nil
}
